package download

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a Task.
type Status int

const (
	Pending Status = iota
	InFlight
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case InFlight:
		return "in_flight"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ErrInvalidTransition is returned for any move the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid task transition")

// Task is one attachment of one page.
type Task struct {
	Row   int
	Index int
	URL   string
	Name  string
	// Dest is the final path; the transfer writes Dest+".part" first.
	Dest string
	// Referer is sent with the request; some portals refuse hotlinked files.
	Referer string
	Attempt int
	Status  Status
}

// transition moves the task along Pending -> InFlight -> Succeeded|Failed,
// with Failed -> InFlight for a retry. A retry increments Attempt.
func (t *Task) transition(to Status) error {
	ok := false
	switch {
	case t.Status == Pending && to == InFlight:
		ok = true
	case t.Status == InFlight && (to == Succeeded || to == Failed):
		ok = true
	case t.Status == Failed && to == InFlight:
		ok = true
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	if to == InFlight {
		t.Attempt++
	}
	t.Status = to
	return nil
}
