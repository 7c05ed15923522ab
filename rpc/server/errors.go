package server

import "fmt"

// AlreadyRegisteredError is returned when a servant is added for an identity and facet that is taken
type AlreadyRegisteredError struct {
	ID    string
	Facet string
}

func (e *AlreadyRegisteredError) Error() string {
	if e.Facet == "" {
		return fmt.Sprintf("servant %q is already registered", e.ID)
	}
	return fmt.Sprintf("servant %q with facet %q is already registered", e.ID, e.Facet)
}

// NotRegisteredError is returned when removing a servant that is not registered
type NotRegisteredError struct {
	ID    string
	Facet string
}

func (e *NotRegisteredError) Error() string {
	if e.Facet == "" {
		return fmt.Sprintf("servant %q is not registered", e.ID)
	}
	return fmt.Sprintf("servant %q with facet %q is not registered", e.ID, e.Facet)
}
