package session

import (
	"sync"
	"time"
)

// Clock driver periods.
const (
	// DefaultFrameInterval paces transcript reveal during normal playback,
	// close to a display refresh.
	DefaultFrameInterval = 16 * time.Millisecond

	// DefaultMutedInterval paces transcript reveal while the speaker is muted.
	DefaultMutedInterval = 150 * time.Millisecond
)

// clockDriver periodically calls back into the session until stopped. The
// session keeps exactly one running driver and swaps it when the speaker is
// muted or unmuted.
type clockDriver struct {
	muted bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// startDriver runs tick every period on its own goroutine. tick receives the
// driver so it can ignore calls from a driver that has since been replaced.
func startDriver(period time.Duration, muted bool, tick func(*clockDriver)) *clockDriver {
	d := &clockDriver{muted: muted, stopCh: make(chan struct{})}
	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-d.stopCh:
				return
			case <-t.C:
				tick(d)
			}
		}
	}()
	return d
}

// stop ends the driver without waiting for an in-flight tick. It is
// idempotent and safe to call with the session lock held.
func (d *clockDriver) stop() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() { close(d.stopCh) })
}
