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
	"time"

	"github.com/jianjin/libxs/internal/netpoll"
)

// ioObject is the base behavior of any object that wants fd or timer events
// from a reactor. plug binds the object to a reactor thread, unplug unbinds
// it; between the two, every callback is delivered on that thread and never
// concurrently with itself. The registration proxies below may only be used
// while plugged.
type ioObject struct {
	reactor *Reactor
}

func (o *ioObject) plug(r *Reactor) {
	o.reactor = r
}

func (o *ioObject) unplug() {
	o.reactor = nil
}

func (o *ioObject) addFD(fd int, sink netpoll.EventHandler) *netpoll.PollEntry {
	return o.reactor.AddFD(fd, sink)
}

func (o *ioObject) rmFD(handle *netpoll.PollEntry) {
	o.reactor.RmFD(handle)
}

func (o *ioObject) setPollIn(handle *netpoll.PollEntry) {
	o.reactor.SetPollIn(handle)
}

func (o *ioObject) resetPollIn(handle *netpoll.PollEntry) {
	o.reactor.ResetPollIn(handle)
}

func (o *ioObject) setPollOut(handle *netpoll.PollEntry) {
	o.reactor.SetPollOut(handle)
}

func (o *ioObject) resetPollOut(handle *netpoll.PollEntry) {
	o.reactor.ResetPollOut(handle)
}

func (o *ioObject) addTimer(interval time.Duration, id int, handler TimerHandler) {
	o.reactor.AddTimer(interval, id, handler)
}

func (o *ioObject) cancelTimer(id int, handler TimerHandler) {
	o.reactor.CancelTimer(id, handler)
}
