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

import (
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/jianjin/libxs/internal/queue"
	"github.com/jianjin/libxs/pkg/errors"
)

const (
	readEvents  = unix.EPOLLIN | unix.EPOLLPRI
	writeEvents = unix.EPOLLOUT
	errEvents   = unix.EPOLLERR | unix.EPOLLHUP
)

// Poller monitors file descriptors with epoll. All methods except Trigger
// must be called from the thread running Wait.
type Poller struct {
	fd        int    // epoll fd
	wfd       int    // eventfd used to interrupt a blocking wait
	wfdBuf    []byte // wfd buffer to read packet
	wfdToken  int32
	entries   []*PollEntry // token-indexed registration table
	freeList  []int32
	retired   []*PollEntry // entries awaiting release at the end of the batch
	taskQueue *queue.TaskQueue
	closed    bool
}

// OpenPoller instantiates a poller.
func OpenPoller() (poller *Poller, err error) {
	poller = new(Poller)
	if poller.fd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		poller = nil
		err = os.NewSyscallError("epoll_create1", err)
		return
	}
	if poller.wfd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC); err != nil {
		_ = unix.Close(poller.fd)
		poller = nil
		err = os.NewSyscallError("eventfd", err)
		return
	}
	poller.wfdBuf = make([]byte, 8)
	poller.taskQueue = queue.NewTaskQueue()

	// The wake channel occupies the first token so that dispatch can tell it
	// apart from registered entries.
	poller.wfdToken = poller.allocToken(&PollEntry{fd: poller.wfd})
	ev := &unix.EpollEvent{Fd: poller.wfdToken, Events: readEvents}
	if e := unix.EpollCtl(poller.fd, unix.EPOLL_CTL_ADD, poller.wfd, ev); e != nil {
		_ = poller.Close()
		poller = nil
		err = os.NewSyscallError("epoll_ctl add", e)
		return
	}
	return
}

// Close closes the poller and releases any entries still retired.
func (p *Poller) Close() error {
	if p.closed {
		return errors.ErrPollerClosed
	}
	p.closed = true
	p.releaseRetired()
	if err := os.NewSyscallError("close", unix.Close(p.fd)); err != nil {
		return err
	}
	return os.NewSyscallError("close", unix.Close(p.wfd))
}

// Make the endianness of bytes compatible with more linux OSs under different
// processor-architectures, according to
// http://man7.org/linux/man-pages/man2/eventfd.2.html.
var (
	u uint64 = 1
	b        = (*(*[8]byte)(unsafe.Pointer(&u)))[:]
)

// Trigger enqueues a task for execution on the poller thread, waking the
// poller up if the queue was empty. It is safe to call from any thread.
func (p *Poller) Trigger(fn queue.TaskFunc, arg interface{}) (err error) {
	if p.closed {
		return errors.ErrPollerClosed
	}
	task := queue.GetTask()
	task.Run, task.Arg = fn, arg
	if p.taskQueue.Enqueue(task) == 1 {
		for {
			_, err = unix.Write(p.wfd, b)
			if err == unix.EAGAIN {
				err = nil
				break
			}
			if err != unix.EINTR {
				break
			}
		}
	}
	return os.NewSyscallError("write", err)
}

// AddFD registers fd with an empty interest mask and returns its poll entry.
func (p *Poller) AddFD(fd int, handler EventHandler) (*PollEntry, error) {
	pe := &PollEntry{fd: fd, handler: handler}
	pe.token = p.allocToken(pe)
	ev := &unix.EpollEvent{Fd: pe.token}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.entries[pe.token] = nil
		p.freeList = append(p.freeList, pe.token)
		return nil, os.NewSyscallError("epoll_ctl add", err)
	}
	return pe, nil
}

// RmFD unregisters the entry's fd with the OS and stamps the entry as
// retired. The entry itself is released only after the current dispatch batch
// has been fully processed, so that stale events queued by the kernel for the
// same batch are harmless.
func (p *Poller) RmFD(pe *PollEntry) error {
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, pe.fd, nil); err != nil {
		return os.NewSyscallError("epoll_ctl del", err)
	}
	pe.fd = RetiredFD
	p.retired = append(p.retired, pe)
	return nil
}

// SetPollIn arms readable interest for the entry.
func (p *Poller) SetPollIn(pe *PollEntry) error {
	return p.modify(pe, pe.events|readEvents)
}

// ResetPollIn disarms readable interest for the entry.
func (p *Poller) ResetPollIn(pe *PollEntry) error {
	return p.modify(pe, pe.events&^uint32(readEvents))
}

// SetPollOut arms writable interest for the entry.
func (p *Poller) SetPollOut(pe *PollEntry) error {
	return p.modify(pe, pe.events|writeEvents)
}

// ResetPollOut disarms writable interest for the entry.
func (p *Poller) ResetPollOut(pe *PollEntry) error {
	return p.modify(pe, pe.events&^uint32(writeEvents))
}

func (p *Poller) modify(pe *PollEntry, events uint32) error {
	ev := &unix.EpollEvent{Fd: pe.token, Events: events}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, pe.fd, ev); err != nil {
		return os.NewSyscallError("epoll_ctl mod", err)
	}
	pe.events = events
	return nil
}

// Wait blocks until at least one registered fd becomes ready or the timeout
// expires, then dispatches the whole batch. A timeout of zero blocks
// indefinitely. Writable is dispatched before readable for each event record
// and errors and hang-ups are reported through OnReadable; after every nested
// callback the entry is re-checked for retirement before it is used again.
// Wait returns the first error produced by a triggered task, if any.
func (p *Poller) Wait(timeout time.Duration, evbuf *EventList) error {
	msec := -1
	if timeout > 0 {
		msec = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}

	n, err := unix.EpollWait(p.fd, evbuf.events, msec)
	if err != nil && err != unix.EINTR {
		return os.NewSyscallError("epoll_wait", err)
	}

	var wakenUp bool
	for i := 0; i < n; i++ {
		ev := &evbuf.events[i]
		if ev.Fd == p.wfdToken {
			wakenUp = true
			_, _ = unix.Read(p.wfd, p.wfdBuf)
			continue
		}

		pe := p.entries[ev.Fd]
		if pe == nil || pe.fd == RetiredFD {
			continue
		}
		if ev.Events&errEvents != 0 {
			pe.handler.OnReadable(pe.fd)
		}
		if pe.fd == RetiredFD {
			continue
		}
		if ev.Events&writeEvents != 0 {
			pe.handler.OnWritable(pe.fd)
		}
		if pe.fd == RetiredFD {
			continue
		}
		if ev.Events&readEvents != 0 {
			pe.handler.OnReadable(pe.fd)
		}
	}

	var taskErr error
	if wakenUp {
		taskErr = p.runTasks()
	}

	p.releaseRetired()

	if n == len(evbuf.events) {
		evbuf.increase()
	}
	return taskErr
}

func (p *Poller) runTasks() (err error) {
	for task := p.taskQueue.Dequeue(); task != nil; task = p.taskQueue.Dequeue() {
		if e := task.Run(task.Arg); e != nil && err == nil {
			err = e
		}
		queue.PutTask(task)
	}
	return
}

func (p *Poller) releaseRetired() {
	for _, pe := range p.retired {
		p.entries[pe.token] = nil
		p.freeList = append(p.freeList, pe.token)
		pe.handler = nil
	}
	p.retired = p.retired[:0]
}

func (p *Poller) allocToken(pe *PollEntry) int32 {
	if n := len(p.freeList); n > 0 {
		token := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		p.entries[token] = pe
		return token
	}
	p.entries = append(p.entries, pe)
	return int32(len(p.entries) - 1)
}
