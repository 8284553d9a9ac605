package api

import (
	"encoding/json"
	"net/http"
	"strings"
)

// TimeoutMessage is the envelope message of a call that exceeded the
// configured timeout.
const TimeoutMessage = "Request timed out"

// Envelope is the uniform result of every call.
//
// Success and OK are always equal and true exactly for 2xx statuses.
// Status is 0 when no HTTP response was received; Response then holds
// {"message", "errorDetails"} and Err the *TransportError.
type Envelope struct {
	Success  bool        `json:"success"`
	OK       bool        `json:"ok"`
	Response any         `json:"response"`
	Status   int         `json:"status"`
	Header   http.Header `json:"-"`
	Err      error       `json:"-"`
}

// IsTimeout reports whether the envelope is a timeout failure.
func (e *Envelope) IsTimeout() bool {
	te, ok := e.Err.(*TransportError)
	return ok && te.Timeout
}

// Message returns the "message" field of an object response, if any.
func (e *Envelope) Message() string {
	if m, ok := e.Response.(map[string]any); ok {
		if s, ok := m["message"].(string); ok {
			return s
		}
	}
	return ""
}

func normalize(status int, header http.Header, body []byte) *Envelope {
	ok := status >= 200 && status <= 299
	return &Envelope{
		Success:  ok,
		OK:       ok,
		Status:   status,
		Header:   header,
		Response: parseBody(status, header.Get("Content-Type"), body),
	}
}

// parseBody decodes JSON and text bodies. Anything else, and anything that
// fails to decode, becomes nil.
func parseBody(status int, contentType string, body []byte) any {
	if status == http.StatusNoContent || len(body) == 0 {
		return nil
	}
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "application/json"):
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return nil
		}
		liftErrorMessage(v)
		return v
	case strings.Contains(ct, "text/"):
		return string(body)
	}
	return nil
}

// liftErrorMessage copies error.message to message when the body has no
// top-level message.
func liftErrorMessage(v any) {
	obj, ok := v.(map[string]any)
	if !ok {
		return
	}
	if _, has := obj["message"]; has {
		return
	}
	inner, ok := obj["error"].(map[string]any)
	if !ok {
		return
	}
	if msg, ok := inner["message"]; ok {
		obj["message"] = msg
	}
}
