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

// Package netpoll implements the readiness backend of a reactor: registration
// of file descriptors with epoll, interest-mask updates and one wait-dispatch
// pass per call, with deferred destruction of entries removed in mid-dispatch.
package netpoll

// RetiredFD is the sentinel stamped into a poll entry when its file
// descriptor is unregistered. A dispatch step finding this value knows the
// entry died earlier in the same batch and must not touch it again.
const RetiredFD = -1

// EventHandler is the sink notified about fd readiness. Both callbacks are
// invoked on the poller's thread only. Socket errors and hang-ups are
// reported through OnReadable so that the sink's read path observes
// end-of-stream uniformly.
type EventHandler interface {
	OnReadable(fd int)
	OnWritable(fd int)
}

// PollEntry represents one registered file descriptor. Its identity, not the
// fd number, is the handle returned to callers: removing and re-adding the
// same fd yields a distinct entry.
type PollEntry struct {
	fd      int
	token   int32 // index into the poller's entry table, carried in the epoll event data
	events  uint32
	handler EventHandler
}

// FD returns the registered file descriptor, or RetiredFD once the entry has
// been removed from its poller.
func (pe *PollEntry) FD() int {
	return pe.fd
}
