package pipeline

import "fmt"

// Routine is the closed set of processing routines.
type Routine int

const (
	RoutineBare Routine = iota
	RoutineClassification
	RoutineHeralding
	RoutineCustomized
)

// Routines lists every declared routine.
var Routines = []Routine{RoutineBare, RoutineClassification, RoutineHeralding, RoutineCustomized}

func (r Routine) String() string {
	switch r {
	case RoutineBare:
		return "bare"
	case RoutineClassification:
		return "classification"
	case RoutineHeralding:
		return "heralding"
	case RoutineCustomized:
		return "customized"
	default:
		return fmt.Sprintf("Routine(%d)", int(r))
	}
}

// ParseRoutine is the inverse of Routine.String.
func ParseRoutine(s string) (Routine, error) {
	for _, r := range Routines {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown routine %q", s)
}

// Flags are the configuration switches that select a routine.
type Flags struct {
	Customized     bool
	Heralding      bool
	Classification bool
}

// SelectRoutine applies the fixed priority customized > heralding >
// classification > bare.
func SelectRoutine(f Flags) Routine {
	switch {
	case f.Customized:
		return RoutineCustomized
	case f.Heralding:
		return RoutineHeralding
	case f.Classification:
		return RoutineClassification
	default:
		return RoutineBare
	}
}
