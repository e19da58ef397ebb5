package capture

import (
	"sync/atomic"

	"github.com/vcamlab/camswitch/internal/media"
)

// Tap is a single-slot frame subscription. Delivery is latest-wins: when a
// consumer lags, the stale frame is replaced rather than queued, so a slow
// reader always sees the freshest frame and never stalls the capture loop.
type Tap struct {
	ch      chan media.Frame
	dropped atomic.Uint64
}

func newTap() *Tap {
	return &Tap{ch: make(chan media.Frame, 1)}
}

// Frames returns the channel frames are delivered on.
func (t *Tap) Frames() <-chan media.Frame {
	return t.ch
}

// Dropped returns how many frames were replaced before being read.
func (t *Tap) Dropped() uint64 {
	return t.dropped.Load()
}

// deliver replaces any unread frame with the new one. Never blocks.
func (t *Tap) deliver(frame media.Frame) {
	select {
	case t.ch <- frame:
		return
	default:
	}

	select {
	case <-t.ch:
		t.dropped.Add(1)
	default:
	}
	select {
	case t.ch <- frame:
	default:
		t.dropped.Add(1)
	}
}
