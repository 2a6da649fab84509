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

package netpoll

import "golang.org/x/sys/unix"

const (
	// InitPollEventsCap represents the initial capacity of a poller's event buffer.
	InitPollEventsCap = 128
	// MaxPollEventsCap is the maximum limitation of events that the poller can
	// process at once.
	MaxPollEventsCap = 1024
)

// EventList is the buffer a single wait-dispatch pass fills with ready events.
type EventList struct {
	events []unix.EpollEvent
}

// NewEventList instantiates an EventList with the initial capacity.
func NewEventList() *EventList {
	return &EventList{make([]unix.EpollEvent, InitPollEventsCap)}
}

func (el *EventList) increase() {
	if size := len(el.events) << 1; size <= MaxPollEventsCap {
		el.events = make([]unix.EpollEvent, size)
	}
}
