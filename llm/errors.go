package llm

import (
	"fmt"
	"strconv"
	"time"
)

// ErrUpstream wraps a transport or protocol failure talking to the chat
// completions endpoint: non-2xx status, a request that could not be built,
// or a decode failure. A stream that ends without a stop reason is not an
// error; streamSSE reports it as StopNormal, or StopToolCalls when tool calls
// arrived.
type ErrUpstream struct {
	Provider   string
	Status     int // 0 if not an HTTP-status failure
	Body       string
	RetryAfter time.Duration
	Message    string
}

func (e *ErrUpstream) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: http %d: %s", e.Provider, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ParseRetryAfter parses an HTTP Retry-After header, which upstream APIs
// send as either an integer seconds count or an HTTP-date. Returns 0 if the
// header is empty or unparseable.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
