package api

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	messageIDPrefix = "msg_"
	toolUseIDPrefix = "toolu_"
)

// NewMessageID generates a new message ID with the "msg_" prefix
// followed by 24 cryptographically random alphanumeric characters.
func NewMessageID() string {
	return messageIDPrefix + randomAlphanumeric(idLength)
}

// NewToolUseID generates a new tool use ID with the "toolu_" prefix
// followed by 24 cryptographically random alphanumeric characters.
func NewToolUseID() string {
	return toolUseIDPrefix + randomAlphanumeric(idLength)
}

// IsToolUseID reports whether id carries the "toolu_" prefix.
func IsToolUseID(id string) bool {
	return strings.HasPrefix(id, toolUseIDPrefix)
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
