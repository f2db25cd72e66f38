package openaicompat

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rhuss/claudebridge/pkg/classify"
)

// MapHTTPError converts an HTTP response with a non-2xx status code into a
// classified error. It attempts to parse the response body as a
// ChatErrorResponse to extract a descriptive message.
func MapHTTPError(resp *http.Response) *classify.Error {
	return classify.FromStatus(resp.StatusCode, ExtractErrorMessage(resp.Body))
}

// MapNetworkError classifies a transport-level failure (connection refused,
// timeout, DNS resolution failure).
func MapNetworkError(err error) *classify.Error {
	return classify.New(err)
}

// ExtractErrorMessage tries to parse the response body as a ChatErrorResponse
// and returns the error message if found. A short plain-text body is
// returned as-is.
func ExtractErrorMessage(body io.Reader) string {
	if body == nil {
		return ""
	}

	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}

	var errResp ChatErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil {
		if errResp.Error.Message != "" {
			return errResp.Error.Message
		}
		return ""
	}

	text := strings.TrimSpace(string(data))
	if len(text) > 512 || strings.HasPrefix(text, "<") {
		return ""
	}
	return text
}
