package battle

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
)

// Lifecycle events.
const (
	eventStart    = "start"
	eventFinish   = "finish"
	eventRollback = "rollback"
	eventReset    = "reset"
)

var lifecycle = []fsm.EventDesc{
	{Name: eventStart, Src: []string{string(StatusPrepared)}, Dst: string(StatusActive)},
	{Name: eventFinish, Src: []string{string(StatusActive)}, Dst: string(StatusCompleted)},
	{Name: eventRollback, Src: []string{string(StatusActive), string(StatusCompleted)}, Dst: string(StatusActive)},
	{Name: eventReset, Src: []string{string(StatusPrepared), string(StatusActive), string(StatusCompleted)}, Dst: string(StatusPrepared)},
}

// transition validates that event may fire from current and returns the
// resulting status. Events that leave the status unchanged, such as a reset
// of a prepared scene, succeed.
//
// Postcondition: Returns an InvalidState error when event is not allowed from current.
func transition(ctx context.Context, current Status, event string) (Status, error) {
	m := fsm.NewFSM(string(current), lifecycle, nil)
	if err := m.Event(ctx, event); err != nil {
		var noop fsm.NoTransitionError
		if errors.As(err, &noop) {
			return current, nil
		}
		return current, Wrap(KindInvalidState, fmt.Sprintf("cannot %s a %s battle", event, current), err)
	}
	return Status(m.Current()), nil
}

