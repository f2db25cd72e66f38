package api

// ValidateRequest checks the structural invariants of a MessagesRequest.
// Only an empty message list is rejected; every other shape is accepted and
// degraded gracefully during translation (unknown blocks are dropped, not
// refused).
func ValidateRequest(req *MessagesRequest) *APIError {
	if req == nil || len(req.Messages) == 0 {
		return NewInvalidRequestError("messages: at least one message is required")
	}
	return nil
}
