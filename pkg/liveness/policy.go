package liveness

import "fmt"

// Policy decides whether the actions seen so far prove liveness.
// configured lists the actions the manager's detectors can report.
type Policy interface {
	Satisfied(seen, configured []Action) bool
	String() string
}

type anyOf struct{}

// AnyOf passes as soon as any single action has been seen.
func AnyOf() Policy { return anyOf{} }

func (anyOf) Satisfied(seen, _ []Action) bool { return len(seen) > 0 }
func (anyOf) String() string                  { return "any" }

type allOf struct{}

// AllOf passes once every configured action has been seen.
func AllOf() Policy { return allOf{} }

func (allOf) Satisfied(seen, configured []Action) bool {
	if len(configured) == 0 {
		return false
	}
	for _, a := range configured {
		if !contains(seen, a) {
			return false
		}
	}
	return true
}

func (allOf) String() string { return "all" }

type atLeast struct{ n int }

// AtLeast passes once n distinct actions have been seen.
func AtLeast(n int) Policy {
	if n < 1 {
		n = 1
	}
	return atLeast{n: n}
}

func (p atLeast) Satisfied(seen, _ []Action) bool { return len(seen) >= p.n }
func (p atLeast) String() string                  { return fmt.Sprintf("at_least(%d)", p.n) }

// ParsePolicy maps a configuration name to a Policy.
func ParsePolicy(name string, n int) (Policy, error) {
	switch name {
	case "", "any":
		return AnyOf(), nil
	case "all":
		return AllOf(), nil
	case "at_least":
		return AtLeast(n), nil
	}
	return nil, fmt.Errorf("unknown liveness policy %q", name)
}

func contains(actions []Action, a Action) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}
