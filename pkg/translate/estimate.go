package translate

import (
	"unicode/utf8"

	"github.com/rhuss/claudebridge/pkg/api"
)

// charsPerToken is the divisor of the token estimate.
const charsPerToken = 4

// EstimateTokens returns a rough input-token count for req: the number of
// characters in the system prompt and message text divided by four, never
// less than one. It is an estimate, not a tokenizer.
func EstimateTokens(req *api.MessagesRequest) int {
	chars := 0
	if req.System != nil {
		chars += contentChars(*req.System)
	}
	for _, m := range req.Messages {
		chars += contentChars(m.Content)
	}
	return max(1, chars/charsPerToken)
}

func contentChars(c api.MessageContent) int {
	if c.IsText() {
		return utf8.RuneCountInString(c.Text)
	}
	n := 0
	for _, b := range c.Blocks {
		switch b := b.(type) {
		case api.TextBlock:
			n += utf8.RuneCountInString(b.Text)
		case api.ThinkingBlock:
			n += utf8.RuneCountInString(b.Thinking)
		}
	}
	return n
}
