package hotpatch

import (
	"bufio"
	"io"
	"sync"
)

// StreamTag identifies which output stream produced an event.
type StreamTag int

const (
	StreamStdout StreamTag = iota
	StreamStderr
)

func (t StreamTag) String() string {
	if t == StreamStderr {
		return "stderr"
	}
	return "stdout"
}

// EventKind distinguishes a line of output from the end of a stream.
type EventKind int

const (
	EventLine EventKind = iota
	EventClosed
)

// StreamEvent is one observation from a reader goroutine. Events from a
// single stream arrive in that stream's line order; no ordering holds
// across the two streams.
type StreamEvent struct {
	Kind EventKind
	Tag  StreamTag
	Line string
}

// maxLineBytes bounds a single scanned output line. Lines beyond this
// abort the scan; the reader then drains the pipe so the process reaper
// is never blocked on a stalled write.
const maxLineBytes = 1024 * 1024

// startReaders launches exactly one reader goroutine per output stream.
// Each pushes Line events followed by a final Closed event into the
// returned channel; the channel itself closes once both readers finish,
// which is how the control loop learns that no more output can arrive.
func startReaders(h Handle) <-chan StreamEvent {
	events := make(chan StreamEvent, 64)

	var wg sync.WaitGroup
	wg.Add(2)
	go readStream(h.Stdout(), StreamStdout, events, &wg)
	go readStream(h.Stderr(), StreamStderr, events, &wg)
	go func() {
		wg.Wait()
		close(events)
	}()

	return events
}

func readStream(r io.Reader, tag StreamTag, events chan<- StreamEvent, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		events <- StreamEvent{Kind: EventLine, Tag: tag, Line: scanner.Text()}
	}
	if scanner.Err() != nil {
		// Keep the pipe flowing so the process reaper can finish.
		_, _ = io.Copy(io.Discard, r)
	}
	events <- StreamEvent{Kind: EventClosed, Tag: tag}
}
