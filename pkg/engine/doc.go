// Package engine orchestrates one create-message call: it translates the
// Claude Messages request, calls the Chat Completions provider, and writes
// either the translated message or the relayed event stream.
//
// For streaming calls the engine runs the relay and a disconnect watcher
// side by side. When the client goes away the watcher aborts the upstream
// call through Provider.Cancel, so no work continues for a reader that no
// longer exists.
package engine
