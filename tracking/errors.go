package tracking

import (
	"errors"
	"fmt"
)

// ErrLookupInconsistency is matched by every *LookupError. It means an
// event referenced a user or channel the registry never saw, which only
// happens when messages were lost or reordered upstream.
var ErrLookupInconsistency = errors.New("tracking: lookup inconsistency")

// ErrNotAvailable is returned by handlers called before the network became
// available.
var ErrNotAvailable = errors.New("tracking: network not available")

type LookupError struct {
	Op      string
	Nick    string
	Channel string
}

func (e *LookupError) Error() string {
	switch {
	case e.Nick != "" && e.Channel != "":
		return fmt.Sprintf("tracking: %s: unknown user %q or channel %q", e.Op, e.Nick, e.Channel)
	case e.Channel != "":
		return fmt.Sprintf("tracking: %s: unknown channel %q", e.Op, e.Channel)
	default:
		return fmt.Sprintf("tracking: %s: unknown user %q", e.Op, e.Nick)
	}
}

func (e *LookupError) Is(target error) bool {
	return target == ErrLookupInconsistency
}
