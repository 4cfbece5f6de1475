package hotpatch

import (
	"errors"
	"fmt"
	"time"
)

// TimeoutError reports a marker that did not arrive within its phase
// deadline.
type TimeoutError struct {
	Phase  State
	Want   string
	Waited time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Phase == StateWaitPatch {
		return fmt.Sprintf("timeout waiting for hotpatch confirmation %s after %s", e.Want, e.Waited)
	}
	return fmt.Sprintf("timeout waiting for ready marker %s after %s", e.Want, e.Waited)
}

// ExitError reports the dev server terminating before the expected
// marker was observed. Stream names the output whose closure revealed
// the exit; Status is the real exit code (-1 when killed by signal).
type ExitError struct {
	Stream StreamTag
	Status int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("dev server exited early (%s) with status %d", e.Stream, e.Status)
}

// ErrChannelLost reports both output streams ending without a
// conclusive process-exit status.
var ErrChannelLost = errors.New("dev server output closed without a conclusive exit status")
