package resolver

import (
	"fmt"
	"strings"
)

// UnsatisfiableError is returned when no version of a HARD dependency
// satisfies the accumulated constraint.
type UnsatisfiableError struct {
	Component   string
	Constraints string
}

func (e *UnsatisfiableError) Error() string {
	return fmt.Sprintf("UNSATISFIABLE(%s, %s)", e.Component, e.Constraints)
}

// CycleError is returned when the DFS revisits an in-progress node
// through a HARD edge.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("CYCLE(%s)", strings.Join(e.Path, " -> "))
}
