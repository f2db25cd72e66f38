package translate

import (
	"testing"

	"github.com/rhuss/claudebridge/pkg/api"
)

func TestEstimateTokens(t *testing.T) {
	sys := api.BlockContent(api.TextBlock{Text: "abcd"}, api.TextBlock{Text: "efgh"})

	tests := []struct {
		name string
		req  *api.MessagesRequest
		want int
	}{
		{
			name: "minimum one",
			req:  &api.MessagesRequest{Messages: []api.Message{{Role: api.RoleUser, Content: api.TextContent("hi")}}},
			want: 1,
		},
		{
			name: "string content",
			req:  &api.MessagesRequest{Messages: []api.Message{{Role: api.RoleUser, Content: api.TextContent("abcdefghijkl")}}},
			want: 3,
		},
		{
			name: "system blocks and text blocks",
			req: &api.MessagesRequest{
				System: &sys,
				Messages: []api.Message{{Role: api.RoleUser, Content: api.BlockContent(
					api.TextBlock{Text: "12345678"},
					api.ImageBlock{Source: api.ImageSource{Type: "base64", MediaType: "image/png", Data: "ignored-ignored"}},
				)}},
			},
			want: 4,
		},
		{
			name: "counts characters not bytes",
			req:  &api.MessagesRequest{Messages: []api.Message{{Role: api.RoleUser, Content: api.TextContent("ééééééééé")}}},
			want: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(tt.req); got != tt.want {
				t.Errorf("EstimateTokens() = %d, want %d", got, tt.want)
			}
		})
	}
}
