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

package libxs

import (
	"sort"
	"time"
)

// TimerHandler is the sink notified on the reactor thread when a one-shot
// timer expires.
type TimerHandler interface {
	OnTimer(id int)
}

type timerEntry struct {
	deadline time.Time
	id       int
	handler  TimerHandler
}

// timerSet keeps one-shot timers ordered by deadline. Entries with equal
// deadlines fire in insertion order.
type timerSet struct {
	entries []timerEntry
}

func (ts *timerSet) add(deadline time.Time, id int, handler TimerHandler) {
	i := sort.Search(len(ts.entries), func(i int) bool {
		return ts.entries[i].deadline.After(deadline)
	})
	ts.entries = append(ts.entries, timerEntry{})
	copy(ts.entries[i+1:], ts.entries[i:])
	ts.entries[i] = timerEntry{deadline: deadline, id: id, handler: handler}
}

// cancel removes the timer identified by (id, handler). Cancelling a timer
// that already fired or never existed is a no-op.
func (ts *timerSet) cancel(id int, handler TimerHandler) {
	for i := range ts.entries {
		if ts.entries[i].id == id && ts.entries[i].handler == handler {
			ts.entries = append(ts.entries[:i], ts.entries[i+1:]...)
			return
		}
	}
}

// execute fires every timer due at now, in deadline order, and returns the
// delay until the next pending timer, or zero when none remain. Each entry is
// popped before its callback runs so that the handler may add or cancel
// timers from within OnTimer.
func (ts *timerSet) execute(now time.Time) time.Duration {
	for len(ts.entries) > 0 && !ts.entries[0].deadline.After(now) {
		entry := ts.entries[0]
		ts.entries = ts.entries[1:]
		entry.handler.OnTimer(entry.id)
	}
	if len(ts.entries) == 0 {
		return 0
	}
	return ts.entries[0].deadline.Sub(now)
}
