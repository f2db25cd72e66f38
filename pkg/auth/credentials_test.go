package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
)

func TestExtractClientKey(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"x-api-key", map[string]string{"x-api-key": "k1"}, "k1"},
		{"bearer", map[string]string{"Authorization": "Bearer k2"}, "k2"},
		{"x-api-key preferred", map[string]string{"x-api-key": "k1", "Authorization": "Bearer k2"}, "k1"},
		{"basic ignored", map[string]string{"Authorization": "Basic abc"}, ""},
		{"none", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/v1/messages", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ExtractClientKey(r); got != tt.want {
				t.Errorf("ExtractClientKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSelectUpstreamKey(t *testing.T) {
	tests := []struct {
		client, configured string
		want               string
		wantErr            bool
	}{
		{"sk-client", "sk-server", "sk-client", false},
		{"sk-client", "", "sk-client", false},
		{"dummy", "sk-server", "sk-server", false},
		{"", "azure-key", "azure-key", false},
		{"dummy", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		got, err := SelectUpstreamKey(tt.client, tt.configured)
		if tt.wantErr {
			if !errors.Is(err, ErrNoUpstreamKey) {
				t.Errorf("SelectUpstreamKey(%q, %q) error = %v, want ErrNoUpstreamKey", tt.client, tt.configured, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("SelectUpstreamKey(%q, %q) = %q, %v; want %q", tt.client, tt.configured, got, err, tt.want)
		}
	}
}
