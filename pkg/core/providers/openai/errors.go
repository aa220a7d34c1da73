package openai

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/meetline-ai/meetline/pkg/core"
)

// openaiError is the error envelope OpenAI returns.
type openaiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Param   string `json:"param,omitempty"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

// parseError converts an OpenAI error response into the shared taxonomy.
func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var apiErr openaiError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Error.Message == "" {
		return &core.Error{
			Type:    core.ErrProvider,
			Message: fmt.Sprintf("openai: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	var errType core.ErrorType
	switch apiErr.Error.Type {
	case "invalid_request_error":
		errType = core.ErrInvalidRequest
	case "authentication_error":
		errType = core.ErrAuthentication
	case "not_found_error":
		errType = core.ErrNotFound
	case "rate_limit_error", "insufficient_quota":
		errType = core.ErrRateLimit
	case "server_error", "api_error":
		errType = core.ErrAPI
	case "overloaded_error", "service_unavailable":
		errType = core.ErrOverloaded
	default:
		errType = core.ErrProvider
	}

	// The status code wins when it is unambiguous.
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		errType = core.ErrRateLimit
	case http.StatusServiceUnavailable:
		errType = core.ErrOverloaded
	case http.StatusUnauthorized, http.StatusForbidden:
		errType = core.ErrAuthentication
	}

	return &core.Error{
		Type:    errType,
		Message: "openai: " + apiErr.Error.Message,
		Param:   apiErr.Error.Param,
		Code:    apiErr.Error.Code,
	}
}
