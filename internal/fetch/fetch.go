package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Outcome classifies a single page fetch
type Outcome int

const (
	// Success is a 2xx response without an error descriptor
	Success Outcome = iota
	// Retryable covers transport errors, throttling, server errors and error descriptors
	Retryable
	// Fatal covers requests the vendor rejected outright
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Response is the raw result of one vendor call
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Func performs exactly one vendor call. Implementations never retry.
type Func func(ctx context.Context) (*Response, error)

// ErrorDescriptor is the vendor error object embedded in a response body
type ErrorDescriptor struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (d ErrorDescriptor) String() string {
	if d.Message == "" {
		return d.Code
	}
	return d.Code + ": " + d.Message
}

// ErrorDescriptor extracts the top-level "error" object from a JSON body.
// It returns nil when the body is not JSON or carries no error.
func (r *Response) ErrorDescriptor() *ErrorDescriptor {
	if r == nil || len(r.Body) == 0 {
		return nil
	}
	body := bytes.TrimSpace(r.Body)
	if len(body) == 0 || body[0] != '{' {
		return nil
	}

	var envelope struct {
		Error *ErrorDescriptor `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}
	if envelope.Error == nil || (envelope.Error.Code == "" && envelope.Error.Message == "") {
		return nil
	}
	return envelope.Error
}

// Classify maps a response or transport error to an Outcome
func Classify(resp *Response, err error) Outcome {
	if err != nil || resp == nil {
		return Retryable
	}

	switch code := resp.StatusCode; {
	case code == http.StatusBadRequest,
		code == http.StatusUnauthorized,
		code == http.StatusForbidden,
		code == http.StatusNotFound:
		return Fatal
	case code == http.StatusRequestTimeout,
		code == http.StatusTooManyRequests,
		code >= http.StatusInternalServerError:
		return Retryable
	case code >= 200 && code < 300:
		if resp.ErrorDescriptor() != nil {
			return Retryable
		}
		return Success
	default:
		return Fatal
	}
}

// Describe renders a short reason for a failed fetch, used in logs and errors
func Describe(resp *Response, err error) string {
	if err != nil {
		return err.Error()
	}
	if resp == nil {
		return "no response"
	}
	if d := resp.ErrorDescriptor(); d != nil {
		return fmt.Sprintf("status %d: %s", resp.StatusCode, d)
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}
