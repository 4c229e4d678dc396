package replay

import (
	"errors"
	"fmt"
)

// ErrMalformedReplay is returned for any payload that cannot be turned into a Timeline
var ErrMalformedReplay = errors.New("malformed replay")

// MalformedReplayError describes why a payload was rejected.
// Index is the offending raw turn, or -1 when the error is not tied to a turn
// (a bad payload envelope, or a delta rejected before the decoder placed it).
type MalformedReplayError struct {
	Index  int
	Reason string
	Err    error
}

// NewMalformedError builds a MalformedReplayError for the turn at index
func NewMalformedError(index int, reason string, err error) *MalformedReplayError {
	return &MalformedReplayError{Index: index, Reason: reason, Err: err}
}

func (e *MalformedReplayError) Error() string {
	msg := ErrMalformedReplay.Error()
	if e.Index >= 0 {
		msg = fmt.Sprintf("%s: turn %d", msg, e.Index)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is makes errors.Is(err, ErrMalformedReplay) hold for every MalformedReplayError
func (e *MalformedReplayError) Is(target error) bool {
	return target == ErrMalformedReplay
}

func (e *MalformedReplayError) Unwrap() error {
	return e.Err
}

func malformed(index int, format string, args ...any) error {
	return NewMalformedError(index, fmt.Sprintf(format, args...), nil)
}

// atIndex pins an untied MalformedReplayError to the raw turn at index
func atIndex(err error, index int) error {
	var mre *MalformedReplayError
	if errors.As(err, &mre) && mre.Index < 0 {
		pinned := *mre
		pinned.Index = index
		return &pinned
	}
	return err
}
