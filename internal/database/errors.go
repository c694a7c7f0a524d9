package database

import "fmt"

// ConnectionError reports an unreachable, unparseable or rejected database
// connection. The session stays in its previous state when one is returned.
type ConnectionError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("connection error: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("connection error (%s): %s: %v", e.Kind, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
