// Copyright (c) 2024 The Libxs Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux

package libxs

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jianjin/libxs/internal/netpoll"
	"github.com/jianjin/libxs/internal/queue"
	errorx "github.com/jianjin/libxs/pkg/errors"
	"github.com/jianjin/libxs/pkg/logging"
)

// Reactor is a per-thread event loop multiplexing fd readiness notifications
// and one-shot timers for the pollable objects registered with it.
//
// The registration methods (AddFD, RmFD, the poll-mask setters and the timer
// methods) must be called on the reactor's own thread; use Trigger to get
// there from anywhere else. Load, Trigger, Stop and Close are safe from any
// thread.
type Reactor struct {
	idx          int
	poller       *netpoll.Poller
	evbuf        *netpoll.EventList
	timers       timerSet
	load         int32
	stopping     int32
	wg           sync.WaitGroup
	lockOSThread bool
}

// NewReactor instantiates a reactor. The event loop does not run until Start
// is called.
func NewReactor(lockOSThread bool) (*Reactor, error) {
	poller, err := netpoll.OpenPoller()
	if err != nil {
		return nil, err
	}
	return &Reactor{
		poller:       poller,
		evbuf:        netpoll.NewEventList(),
		lockOSThread: lockOSThread,
	}, nil
}

// Start spawns the worker thread running the event loop.
func (r *Reactor) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop requests termination of the event loop and returns without waiting
// for it.
func (r *Reactor) Stop() {
	if atomic.CompareAndSwapInt32(&r.stopping, 0, 1) {
		err := r.poller.Trigger(func(interface{}) error { return errorx.ErrReactorShutdown }, nil)
		if err != nil && err != errorx.ErrPollerClosed {
			logging.Errorf("libxs: failed to wake reactor %d for shutdown: %v", r.idx, err)
		}
	}
}

// Close stops the reactor, joins the worker thread and releases the poller.
// It must not be called while any registered sink is still alive.
func (r *Reactor) Close() error {
	r.Stop()
	r.wg.Wait()
	return r.poller.Close()
}

// Load reports the number of fds currently registered with the reactor. The
// containing context reads it to assign new connections to the least-loaded
// reactor.
func (r *Reactor) Load() int32 {
	return atomic.LoadInt32(&r.load)
}

// Trigger schedules fn onto the reactor thread, waking the poller when it is
// blocked in a wait. Safe to call from any thread.
func (r *Reactor) Trigger(fn queue.TaskFunc, arg interface{}) error {
	return r.poller.Trigger(fn, arg)
}

func (r *Reactor) run() {
	defer r.wg.Done()
	if r.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	for atomic.LoadInt32(&r.stopping) == 0 {
		// Execute any due timers; a zero next-delay means no timers are
		// pending and the wait may block indefinitely.
		timeout := r.timers.execute(time.Now())

		switch err := r.poller.Wait(timeout, r.evbuf); err {
		case nil:
		case errorx.ErrReactorShutdown:
			return
		default:
			logging.Warnf("libxs: reactor %d event loop error: %v", r.idx, err)
		}
	}
}

// AddFD registers fd with the reactor's poller on behalf of sink. The new
// entry carries an empty interest mask.
func (r *Reactor) AddFD(fd int, sink netpoll.EventHandler) *netpoll.PollEntry {
	handle, err := r.poller.AddFD(fd, sink)
	if err != nil {
		logging.Fatalf("libxs: failed to register fd %d with reactor %d: %v", fd, r.idx, err)
	}
	atomic.AddInt32(&r.load, 1)
	return handle
}

// RmFD unregisters the handle. The poll entry stays alive, stamped retired,
// until the end of the current dispatch batch.
func (r *Reactor) RmFD(handle *netpoll.PollEntry) {
	fd := handle.FD()
	if err := r.poller.RmFD(handle); err != nil {
		logging.Fatalf("libxs: failed to unregister fd %d from reactor %d: %v", fd, r.idx, err)
	}
	atomic.AddInt32(&r.load, -1)
}

// SetPollIn arms readable interest for the handle.
func (r *Reactor) SetPollIn(handle *netpoll.PollEntry) {
	if err := r.poller.SetPollIn(handle); err != nil {
		logging.Fatalf("libxs: failed to arm pollin on fd %d: %v", handle.FD(), err)
	}
}

// ResetPollIn disarms readable interest for the handle.
func (r *Reactor) ResetPollIn(handle *netpoll.PollEntry) {
	if err := r.poller.ResetPollIn(handle); err != nil {
		logging.Fatalf("libxs: failed to disarm pollin on fd %d: %v", handle.FD(), err)
	}
}

// SetPollOut arms writable interest for the handle.
func (r *Reactor) SetPollOut(handle *netpoll.PollEntry) {
	if err := r.poller.SetPollOut(handle); err != nil {
		logging.Fatalf("libxs: failed to arm pollout on fd %d: %v", handle.FD(), err)
	}
}

// ResetPollOut disarms writable interest for the handle.
func (r *Reactor) ResetPollOut(handle *netpoll.PollEntry) {
	if err := r.poller.ResetPollOut(handle); err != nil {
		logging.Fatalf("libxs: failed to disarm pollout on fd %d: %v", handle.FD(), err)
	}
}

// AddTimer registers a one-shot timer firing after interval, identified by
// (id, handler).
func (r *Reactor) AddTimer(interval time.Duration, id int, handler TimerHandler) {
	r.timers.add(time.Now().Add(interval), id, handler)
}

// CancelTimer removes the timer identified by (id, handler).
func (r *Reactor) CancelTimer(id int, handler TimerHandler) {
	r.timers.cancel(id, handler)
}
