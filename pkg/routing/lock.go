package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/logx"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/metrics"
)

// Lock serializes routing per device. Waiters for the same device are served
// in arrival order; different devices never contend.
type Lock struct {
	devices  map[string]*deviceLock
	recorder metrics.Recorder
	mu       sync.Mutex
}

type deviceLock struct {
	token chan struct{}
	refs  int
}

// NewLock returns an empty per-device lock table.
func NewLock(recorder metrics.Recorder) *Lock {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Lock{devices: make(map[string]*deviceLock), recorder: recorder}
}

// Guard is a held device lock. Release is idempotent.
type Guard struct {
	lock     *Lock
	dl       *deviceLock
	once     sync.Once
	DeviceID string
}

// Acquire blocks until deviceID's lock is free or ctx is done.
func (l *Lock) Acquire(ctx context.Context, deviceID string) (*Guard, error) {
	start := time.Now()

	l.mu.Lock()
	dl, ok := l.devices[deviceID]
	if !ok {
		dl = &deviceLock{token: make(chan struct{}, 1)}
		l.devices[deviceID] = dl
	}
	dl.refs++
	l.mu.Unlock()

	select {
	case dl.token <- struct{}{}:
		wait := time.Since(start)
		l.recorder.ObserveLockWait(wait)
		logx.Debug(ctx, "routing", "lock acquired after %s", wait)
		return &Guard{lock: l, dl: dl, DeviceID: deviceID}, nil
	case <-ctx.Done():
		l.unref(deviceID, dl)
		return nil, fmt.Errorf("acquire routing lock for device %s: %w", deviceID, ctx.Err())
	}
}

// Release frees the lock.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		<-g.dl.token
		g.lock.unref(g.DeviceID, g.dl)
	})
}

func (l *Lock) unref(deviceID string, dl *deviceLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dl.refs--
	if dl.refs == 0 && l.devices[deviceID] == dl {
		delete(l.devices, deviceID)
	}
}

// Held reports whether deviceID's lock is currently held.
func (l *Lock) Held(deviceID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	dl, ok := l.devices[deviceID]
	return ok && len(dl.token) == 1
}
