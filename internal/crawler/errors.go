package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrCompanyNotFound is returned when a job references a missing company.
	ErrCompanyNotFound = errors.New("company not found")
	// ErrJobNotFound is returned when updating a job that does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrLeaseLost is returned when a job update names an owner that no longer holds the lease.
	ErrLeaseLost = errors.New("job lease lost")
)

// NavigationError is a failed page load. Err is the browser's own error;
// classifiers inspect it instead of the formatted message, which carries the URL.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}
