package assembly

import "fmt"

// AssemblyKind distinguishes the ways a continuation run can fail to yield a payload.
type AssemblyKind string

const (
	// KindMalformed means the final concatenated text did not parse as JSON.
	KindMalformed AssemblyKind = "malformed"
	// KindIncomplete means the service never signalled completion within the round cap.
	KindIncomplete AssemblyKind = "incomplete"
)

// AssemblyError reports that a continuation run finished without a usable payload.
type AssemblyError struct {
	Kind   AssemblyKind
	Rounds int
	Err    error
}

func (e *AssemblyError) Error() string {
	if e == nil {
		return ""
	}
	if e.Kind == KindIncomplete {
		return fmt.Sprintf("assembly: incomplete after %d rounds", e.Rounds)
	}
	if e.Err == nil {
		return fmt.Sprintf("assembly: %s payload after %d rounds", e.Kind, e.Rounds)
	}
	return fmt.Sprintf("assembly: %s payload after %d rounds: %v", e.Kind, e.Rounds, e.Err)
}

func (e *AssemblyError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ServiceError wraps a completion service failure. It is never retried.
type ServiceError struct {
	Round int
	Err   error
}

func (e *ServiceError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("assembly: completion call failed in round %d: %v", e.Round, e.Err)
}

func (e *ServiceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ShapeError reports an assembled element that is not a JSON object.
type ShapeError struct {
	Index int
	Found string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("assembly: element %d is %s, not an object", e.Index, e.Found)
}
