package schema

import "fmt"

// IntrospectionError reports a failed catalog read. A previously cached
// model is never touched when one is returned.
type IntrospectionError struct {
	Kind string
	Op   string
	Err  error
}

func (e *IntrospectionError) Error() string {
	return fmt.Sprintf("introspection error (%s): %s: %v", e.Kind, e.Op, e.Err)
}

func (e *IntrospectionError) Unwrap() error {
	return e.Err
}
