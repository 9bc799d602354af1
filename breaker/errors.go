package breaker

import (
	"errors"
	"fmt"
	"time"
)

// OpenError signals that the breaker refused to call the tool. It is an
// expected, recoverable condition: callers should back off for RetryAfter
// and try again, not treat it as a hard failure.
type OpenError struct {
	ToolID     string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for tool %s, retry after %.1fs",
		e.ToolID, e.RetryAfter.Seconds())
}

// IsOpen reports whether err indicates an open circuit, unwrapping as
// needed.
func IsOpen(err error) bool {
	var oe *OpenError
	return errors.As(err, &oe)
}
