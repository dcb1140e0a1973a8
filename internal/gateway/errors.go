package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// parseUpstreamError extracts a human-readable message from the inference
// service's error body, which may be a JSON envelope or plain text.
func parseUpstreamError(status int, raw []byte) error {
	body := strings.TrimSpace(string(raw))

	var env struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &env); err == nil {
		if msg := strings.TrimSpace(env.Error); msg != "" {
			return fmt.Errorf("inference service rejected request: status=%d message=%s", status, msg)
		}
		if msg := strings.TrimSpace(env.Message); msg != "" {
			return fmt.Errorf("inference service rejected request: status=%d message=%s", status, msg)
		}
	}
	if body != "" {
		if len(body) > 512 {
			body = body[:512]
		}
		return fmt.Errorf("inference service rejected request: status=%d body=%s", status, body)
	}
	return fmt.Errorf("inference service rejected request: status=%d %s", status, http.StatusText(status))
}
