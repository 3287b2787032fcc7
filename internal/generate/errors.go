package generate

import "fmt"

// StatusError means the endpoint answered with a non-2xx status.
type StatusError struct {
	Code   int
	Reason string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP Error: %d - %s", e.Code, e.Reason)
}

// ConnectionError means no response was received (DNS, refused, TLS, deadline).
type ConnectionError struct {
	Reason string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("URL Error: %s", e.Reason)
}
