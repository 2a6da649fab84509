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
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/jianjin/libxs/internal/netpoll"
	"github.com/jianjin/libxs/internal/socket"
	errorx "github.com/jianjin/libxs/pkg/errors"
	"github.com/jianjin/libxs/pkg/logging"
)

// AcceptFunc receives the descriptor of an accepted connection, already in
// non-blocking mode, and the peer's address. It runs on the listener's
// reactor thread, which makes it the right place to build a stream engine
// and plug it.
type AcceptFunc func(fd int, remoteAddr net.Addr)

// Listener is a pollable accepting TCP connections on a reactor thread.
type Listener struct {
	ioObject

	fd     int
	addr   net.Addr
	handle *netpoll.PollEntry
	accept AcceptFunc
}

// NewListener creates a non-blocking listening socket bound to addr.
// proto must be one of tcp, tcp4 and tcp6.
func NewListener(proto, addr string, accept AcceptFunc) (*Listener, error) {
	if accept == nil {
		return nil, errorx.ErrNilRunnable
	}
	fd, netAddr, err := socket.TCPListenSocket(proto, addr)
	if err != nil {
		return nil, err
	}
	return &Listener{fd: fd, addr: netAddr, accept: accept}, nil
}

// Addr returns the listen address.
func (l *Listener) Addr() net.Addr {
	return l.addr
}

// Plug registers the listener with a reactor and arms readable interest. It
// must run on the reactor thread.
func (l *Listener) Plug(r *Reactor) {
	l.ioObject.plug(r)
	l.handle = l.addFD(l.fd, l)
	l.setPollIn(l.handle)
}

// Unplug cancels the fd subscription. It must run on the reactor thread.
func (l *Listener) Unplug() {
	l.rmFD(l.handle)
	l.handle = nil
	l.ioObject.unplug()
}

// OnReadable implements netpoll.EventHandler; it drains the accept queue.
func (l *Listener) OnReadable(_ int) {
	for {
		nfd, sa, err := socket.Accept(l.fd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				return
			}
			// The connection died between being queued and being accepted.
			if err == unix.ECONNABORTED {
				continue
			}
			logging.Errorf("libxs: accept on fd %d: %v", l.fd, err)
			return
		}
		l.accept(nfd, socket.SockaddrToTCPAddr(sa))
	}
}

// OnWritable implements netpoll.EventHandler; a listener never arms writable
// interest.
func (l *Listener) OnWritable(_ int) {}

// Close releases the listening socket. The listener must be unplugged first.
func (l *Listener) Close() error {
	if l.reactor != nil {
		logging.Fatalf("libxs: closing a listener that is still plugged")
	}
	if l.fd == netpoll.RetiredFD {
		return nil
	}
	err := os.NewSyscallError("close", unix.Close(l.fd))
	l.fd = netpoll.RetiredFD
	return err
}

// Dial opens a TCP connection to addr on the group's worker pool and invokes
// cb with the connected descriptor or the dial error. cb runs on a pool
// thread; plugging an engine built around the descriptor must be bounced onto
// a reactor with Trigger.
func (g *Group) Dial(network, addr string, cb func(fd int, err error)) error {
	if cb == nil {
		return errorx.ErrNilRunnable
	}
	return g.Submit(func() {
		cb(dial(network, addr))
	})
}

func dial(network, addr string) (int, error) {
	c, err := net.Dial(network, addr)
	if err != nil {
		return -1, err
	}
	defer c.Close()

	sc, ok := c.(syscall.Conn)
	if !ok {
		return -1, errorx.ErrUnsupportedProtocol
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}

	var dupFD int
	var dupErr error
	if err = rc.Control(func(fd uintptr) {
		dupFD, dupErr = unix.Dup(int(fd))
	}); err != nil {
		return -1, err
	}
	if dupErr != nil {
		return -1, os.NewSyscallError("dup", dupErr)
	}
	return dupFD, nil
}
