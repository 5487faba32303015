// Package fault defines the error kinds that abort an experiment session.
//
// Callers wrap a kind with context, e.g.
//
//	fmt.Errorf("%w: factor %q has no levels", fault.ErrConfig, name)
//
// and test for it with errors.Is. None of the kinds is recoverable at the
// trial level: every one of them stops data collection.
package fault

import "errors"

var (
	// ErrConfig marks a malformed design or missing/invalid configuration.
	ErrConfig = errors.New("config error")

	// ErrParse marks a malformed external trial table.
	ErrParse = errors.New("parse error")

	// ErrLookup marks a reference to a stimulus key or factor that does not exist.
	ErrLookup = errors.New("lookup error")

	// ErrDevice marks a required collaborator that is missing or failed.
	ErrDevice = errors.New("device error")
)

// Kind returns the kind sentinel wrapped by err, or nil if err carries none.
func Kind(err error) error {
	for _, k := range []error{ErrConfig, ErrParse, ErrLookup, ErrDevice} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
