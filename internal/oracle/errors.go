package oracle

import "fmt"

// Error reasons.
const (
	// ReasonTransport covers network failures, timeouts, throttling, and
	// non-OK HTTP statuses.
	ReasonTransport = "transport"
	// ReasonInvalidResponse covers payloads that arrived but do not satisfy
	// the classification schema. Never retryable: the model already answered.
	ReasonInvalidResponse = "invalid_response"
)

// Error is a typed classification failure. Retryable marks transient
// transport conditions; schema violations are permanent for the attempt.
type Error struct {
	Reason    string
	Raw       string // offending payload, when one exists
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oracle: %s: %v", e.Reason, e.Err)
	}
	return "oracle: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }
