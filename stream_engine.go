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
	"bytes"
	"os"

	"golang.org/x/sys/unix"

	"github.com/jianjin/libxs/internal/netpoll"
	"github.com/jianjin/libxs/internal/socket"
	errorx "github.com/jianjin/libxs/pkg/errors"
	"github.com/jianjin/libxs/pkg/logging"
)

// StreamEngine drives one connected stream socket on behalf of a session. It
// shuttles bytes between the socket and a codec pair with non-blocking I/O,
// after a short symmetric greeting exchange with the remote peer.
//
// Plug, Unplug, Terminate, ActivateIn and ActivateOut must run on the
// reactor's thread; use Reactor.Trigger to get there. Once plugged, the
// engine's callbacks all arrive on that thread, serialized.
type StreamEngine struct {
	ioObject

	fd int

	// in is the unprocessed window into the decoder's buffer.
	in      []byte
	decoder Decoder

	// out is the unwritten window into the encoder's memory.
	out     []byte
	encoder Encoder

	session Session
	// leftoverSession keeps a callback that unplugged the engine able to
	// finish its flush after the engine has logically disowned its session.
	leftoverSession Session

	options Options
	plugged bool
	handle  *netpoll.PollEntry

	outHeader      [GreetingSize]byte
	desiredHeader  [GreetingSize]byte
	inHeader       [GreetingSize]byte
	headerPos      int
	headerReceived bool
	headerSent     bool
}

// NewStreamEngine takes ownership of the connected socket fd, puts it into
// non-blocking mode and applies the kernel buffer sizes the options request.
func NewStreamEngine(fd int, decoder Decoder, encoder Encoder, opts ...Option) (*StreamEngine, error) {
	options := loadOptions(opts...)
	e := &StreamEngine{
		fd:      fd,
		decoder: decoder,
		encoder: encoder,
		options: *options,
	}

	if options.LegacyProtocol {
		e.headerReceived, e.headerSent = true, true
	} else {
		e.outHeader = makeGreeting(options.SPPattern, options.SPVersion, options.SPRole)
		e.desiredHeader = makeGreeting(options.SPPattern, options.SPVersion, options.SPComplement)
	}

	if err := socket.SetNonblock(fd); err != nil {
		return nil, err
	}
	if options.SndBuf > 0 {
		if err := socket.SetSendBuffer(fd, options.SndBuf); err != nil {
			return nil, err
		}
	}
	if options.RcvBuf > 0 {
		if err := socket.SetRecvBuffer(fd, options.RcvBuf); err != nil {
			return nil, err
		}
	}
	// No SIGPIPE handling is needed here: the Go runtime only forwards
	// SIGPIPE raised on stdout/stderr, writes to sockets surface as EPIPE.
	return e, nil
}

// Close releases the socket. The engine must be unplugged first.
func (e *StreamEngine) Close() error {
	if e.plugged {
		logging.Fatalf("libxs: closing an engine that is still plugged")
	}
	if e.fd == netpoll.RetiredFD {
		return nil
	}
	err := unix.Close(e.fd)
	e.fd = netpoll.RetiredFD
	if err != nil && err != unix.ECONNRESET {
		return os.NewSyscallError("close", err)
	}
	return nil
}

// Plug connects the engine to its session and registers the socket with the
// reactor, arming both readable and writable interest. Data the kernel has
// already buffered is flushed through the decoder right away.
func (e *StreamEngine) Plug(r *Reactor, session Session) {
	if e.plugged {
		logging.Fatalf("libxs: engine on fd %d is already plugged", e.fd)
	}
	e.plugged = true
	e.leftoverSession = nil

	// Connect to the session object.
	if e.session != nil || session == nil {
		logging.Fatalf("libxs: engine on fd %d plugged with an invalid session", e.fd)
	}
	e.encoder.SetSession(session)
	e.decoder.SetSession(session)
	e.session = session

	// Connect to the reactor.
	e.ioObject.plug(r)
	e.handle = e.addFD(e.fd, e)
	e.setPollIn(e.handle)
	e.setPollOut(e.handle)

	// Flush all the data that may have been already received downstream.
	e.OnReadable(e.fd)
}

// Unplug cancels the fd subscription and disconnects the codecs, parking the
// session in leftoverSession so an in-flight callback can still flush.
func (e *StreamEngine) Unplug() {
	if !e.plugged {
		logging.Fatalf("libxs: unplugging an engine that is not plugged")
	}
	e.plugged = false

	e.rmFD(e.handle)
	e.handle = nil
	e.ioObject.unplug()

	e.encoder.SetSession(nil)
	e.decoder.SetSession(nil)
	e.leftoverSession = e.session
	e.session = nil
}

// Terminate unplugs the engine and destroys it.
func (e *StreamEngine) Terminate() {
	e.Unplug()
	if err := e.Close(); err != nil {
		logging.Errorf("libxs: closing terminated engine: %v", err)
	}
}

// OnReadable implements netpoll.EventHandler.
func (e *StreamEngine) OnReadable(_ int) {
	disconnection := false

	// If we have not yet received the full protocol greeting...
	if !e.headerReceived {
		n, err := e.read(e.inHeader[e.headerPos:])
		if err != nil {
			e.fault()
			return
		}
		e.headerPos += n

		// A wrong byte fails the handshake as soon as it arrives.
		if !bytes.Equal(e.inHeader[:e.headerPos], e.desiredHeader[:e.headerPos]) {
			e.fault()
			return
		}

		// If we did not get the whole greeting yet, poll for more.
		if e.headerPos < GreetingSize {
			return
		}

		// Done with the greeting; proceed to read data.
		e.headerReceived = true
	}

	// If there's no data to process in the buffer, retrieve the decoder's
	// buffer and read as much as possible. The buffer can be arbitrarily
	// large, but the kernel's receive buffer bounds a single read anyway.
	if len(e.in) == 0 {
		buf := e.decoder.GetBuffer()
		n, err := e.read(buf)
		if err != nil {
			// Deferred: bytes already buffered must still reach the
			// decoder before the failure is reported.
			disconnection = true
			n = 0
		}
		e.in = buf[:n]
	}

	// Push the data to the decoder.
	processed, err := e.decoder.ProcessBuffer(e.in)
	if err != nil {
		disconnection = true
	} else {
		if processed < len(e.in) {
			// The session's queue is full; stop polling for input until
			// ActivateIn re-arms it.
			if e.plugged {
				e.resetPollIn(e.handle)
			}
		}
		e.in = e.in[processed:]
	}

	// Flush all messages the decoder may have produced. If a callback has
	// unplugged the engine, flush the transient session.
	if !e.plugged {
		if e.leftoverSession == nil {
			logging.Fatalf("libxs: unplugged engine on fd %d has no leftover session", e.fd)
		}
		e.leftoverSession.Flush()
	} else {
		e.session.Flush()
	}

	if e.session != nil && disconnection {
		e.fault()
	}
}

// OnWritable implements netpoll.EventHandler.
func (e *StreamEngine) OnWritable(_ int) {
	moreData := true

	// If the protocol greeting was not yet sent, it must go out in one
	// write: a freshly connected socket always has room for the few greeting
	// bytes, so a short write means the peer is already gone.
	if !e.headerSent {
		n, err := e.write(e.outHeader[:])
		if err != nil || n != GreetingSize {
			e.fault()
			return
		}
		e.headerSent = true
	}

	// If the write buffer is empty, fetch new data from the encoder.
	if len(e.out) == 0 {
		var data []byte
		data, moreData = e.encoder.GetData()

		// If a callback has unplugged the engine, flush the transient
		// session and give up.
		if !e.plugged {
			if e.leftoverSession == nil {
				logging.Fatalf("libxs: unplugged engine on fd %d has no leftover session", e.fd)
			}
			e.leftoverSession.Flush()
			return
		}

		// If there is no data to send, stop polling for output.
		if len(data) == 0 {
			e.resetPollOut(e.handle)
			return
		}
		e.out = data
	}

	n, err := e.write(e.out)
	if err != nil {
		e.fault()
		return
	}
	e.out = e.out[n:]

	// If the encoder reports that it has nothing further to offer, stop
	// polling for output immediately.
	if !moreData && len(e.out) == 0 {
		e.resetPollOut(e.handle)
	}
}

// ActivateOut arms writable interest and speculatively writes right away: at
// the moment the session produced a message the socket is probably writable,
// so the poll round-trip can usually be skipped, which helps request/reply
// latency.
func (e *StreamEngine) ActivateOut() {
	e.setPollOut(e.handle)
	e.OnWritable(e.fd)
}

// ActivateIn arms readable interest and speculatively reads right away.
func (e *StreamEngine) ActivateIn() {
	e.setPollIn(e.handle)
	e.OnReadable(e.fd)
}

// fault handles an unrecoverable transport failure: it detaches the session,
// unplugs from the reactor and destroys the engine.
func (e *StreamEngine) fault() {
	if e.session == nil {
		logging.Fatalf("libxs: engine on fd %d failed with no session attached", e.fd)
	}
	e.session.Detach()
	e.Unplug()
	if err := e.Close(); err != nil {
		logging.Errorf("libxs: closing failed engine: %v", err)
	}
}

// read performs one non-blocking read, classifying errnos: transient
// conditions surface as zero bytes, peer failures as ErrPeerGone and anything
// else as an implementation bug.
func (e *StreamEngine) read(p []byte) (int, error) {
	n, err := unix.Read(e.fd, p)
	if err != nil {
		// A speculative read may find nothing to read, and SIGSTOP from a
		// debugger shows up as EINTR.
		if err == unix.EAGAIN || err == unix.EINTR {
			return 0, nil
		}
		if err == unix.ECONNRESET || err == unix.ECONNREFUSED || err == unix.EPIPE || err == unix.ETIMEDOUT ||
			err == unix.EHOSTUNREACH || err == unix.ENOTCONN {
			return 0, errorx.ErrPeerGone
		}
		logging.Fatalf("libxs: recv on fd %d: %v", e.fd, err)
	}

	// Orderly shutdown by the peer.
	if n == 0 {
		return 0, errorx.ErrPeerGone
	}
	return n, nil
}

// write performs one non-blocking write with the same errno classification as
// read. A zero count with a nil error means the socket would block.
func (e *StreamEngine) write(p []byte) (int, error) {
	n, err := unix.Write(e.fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return 0, nil
		}
		if err == unix.ECONNRESET || err == unix.ECONNREFUSED || err == unix.EPIPE || err == unix.ETIMEDOUT ||
			err == unix.EHOSTUNREACH || err == unix.ENOTCONN {
			return 0, errorx.ErrPeerGone
		}
		logging.Fatalf("libxs: send on fd %d: %v", e.fd, err)
	}
	return n, nil
}
