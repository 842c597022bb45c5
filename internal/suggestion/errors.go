package suggestion

import "fmt"

// MalformedResponseError is returned when no JSON object can be recovered
// from a model reply.
type MalformedResponseError struct {
	Raw string
}

func (e *MalformedResponseError) Error() string {
	return "model response contains no JSON object"
}

// ValidationError is returned when a JSON object was found but a field is
// missing, has the wrong type, or holds a value outside its domain.
type ValidationError struct {
	Field  string
	Reason string
	Raw    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
