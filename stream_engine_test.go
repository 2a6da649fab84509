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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	errorx "github.com/jianjin/libxs/pkg/errors"
)

var (
	greetingInitiator = []byte{0x01, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}
	greetingResponder = []byte{0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00}
)

func newTestReactor(t *testing.T) *Reactor {
	t.Helper()
	r, err := NewReactor(false)
	require.NoError(t, err)
	r.Start()
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func runOnReactor(t *testing.T, r *Reactor, fn func()) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, r.Trigger(func(interface{}) error {
		defer close(done)
		fn()
		return nil
	}, nil))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reactor task timed out")
	}
}

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

// peerRecv reads exactly n bytes from the non-blocking peer socket.
func peerRecv(t *testing.T, fd, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	deadline := time.Now().Add(time.Second)
	got := 0
	for got < n {
		m, err := unix.Read(fd, buf[got:])
		if err == unix.EAGAIN || err == unix.EINTR {
			if time.Now().After(deadline) {
				t.Fatalf("timed out with %d of %d bytes", got, n)
			}
			time.Sleep(time.Millisecond)
			continue
		}
		require.NoError(t, err)
		if m == 0 {
			t.Fatalf("peer closed with %d of %d bytes", got, n)
		}
		got += m
	}
	return buf
}

func peerSend(t *testing.T, fd int, b []byte) {
	t.Helper()
	for len(b) > 0 {
		n, err := unix.Write(fd, b)
		if err == unix.EAGAIN || err == unix.EINTR {
			time.Sleep(time.Millisecond)
			continue
		}
		require.NoError(t, err)
		b = b[n:]
	}
}

func assertNoData(t *testing.T, fd int) {
	t.Helper()
	time.Sleep(20 * time.Millisecond)
	_, err := unix.Read(fd, make([]byte, 1))
	assert.Equal(t, unix.EAGAIN, err)
}

func plugEngine(t *testing.T, r *Reactor, fd int, sess Session, opts ...Option) *StreamEngine {
	t.Helper()
	options := loadOptions(opts...)
	e, err := NewStreamEngine(fd, NewFrameDecoder(options.MaxMsgSize), NewFrameEncoder(), opts...)
	require.NoError(t, err)
	runOnReactor(t, r, func() { e.Plug(r, sess) })
	return e
}

func plugInitiator(t *testing.T, r *Reactor, fd int, sess Session, opts ...Option) *StreamEngine {
	t.Helper()
	opts = append([]Option{WithSPHeader(1, 0, RoleInitiator, RoleResponder)}, opts...)
	return plugEngine(t, r, fd, sess, opts...)
}

// shake drives the peer half of a clean greeting exchange.
func shake(t *testing.T, peer int) {
	t.Helper()
	assert.Equal(t, greetingInitiator, peerRecv(t, peer, GreetingSize))
	peerSend(t, peer, greetingResponder)
}

func TestEngineCleanHandshake(t *testing.T) {
	r := newTestReactor(t)
	local, peer := socketpair(t)
	sess := &mockSession{}
	e := plugInitiator(t, r, local, sess)

	shake(t, peer)

	// The first application bytes reach the decoder only after the greeting
	// matched.
	peerSend(t, peer, frame("hello"))
	require.Eventually(t, func() bool { return sess.inboxLen() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "hello", string(sess.received()[0]))
	assert.Zero(t, sess.detachCount())

	runOnReactor(t, r, e.Terminate)
	assert.EqualValues(t, 0, r.Load())
}

func TestEngineGreetingMismatch(t *testing.T) {
	r := newTestReactor(t)
	local, peer := socketpair(t)
	sess := &mockSession{}
	plugInitiator(t, r, local, sess)

	// Same role on both sides: the engine must detach exactly once and die.
	peerSend(t, peer, greetingInitiator)

	require.Eventually(t, func() bool { return sess.detachCount() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return r.Load() == 0 }, time.Second, time.Millisecond)

	// Drain our own greeting, then observe the engine's close.
	assert.Equal(t, greetingInitiator, peerRecv(t, peer, GreetingSize))
	require.Eventually(t, func() bool {
		n, err := unix.Read(peer, make([]byte, 1))
		return n == 0 && err == nil
	}, time.Second, time.Millisecond)
	assert.Zero(t, sess.inboxLen())
}

func TestEngineGreetingMismatchFirstByte(t *testing.T) {
	r := newTestReactor(t)
	local, peer := socketpair(t)
	sess := &mockSession{}
	plugInitiator(t, r, local, sess)

	// One wrong byte is enough; the engine must not wait for the rest.
	peerSend(t, peer, []byte{0xff})

	require.Eventually(t, func() bool { return sess.detachCount() == 1 }, time.Second, time.Millisecond)
	assert.EqualValues(t, 0, r.Load())
}

func TestEngineGreetingByteByByte(t *testing.T) {
	r := newTestReactor(t)
	local, peer := socketpair(t)
	sess := &mockSession{}
	e := plugInitiator(t, r, local, sess)

	assert.Equal(t, greetingInitiator, peerRecv(t, peer, GreetingSize))
	for _, c := range greetingResponder {
		peerSend(t, peer, []byte{c})
		time.Sleep(2 * time.Millisecond)
	}

	peerSend(t, peer, frame("trickle"))
	require.Eventually(t, func() bool { return sess.inboxLen() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "trickle", string(sess.received()[0]))

	runOnReactor(t, r, e.Terminate)
}

func TestEngineBackpressure(t *testing.T) {
	r := newTestReactor(t)
	local, peer := socketpair(t)
	sess := &mockSession{capacity: 1}
	e := plugInitiator(t, r, local, sess)

	shake(t, peer)

	wire := append(append(frame("one"), frame("two")...), frame("three")...)
	peerSend(t, peer, wire)

	// The session refuses the second message; the engine stops polling for
	// input even though bytes are pending at the socket.
	require.Eventually(t, func() bool { return sess.inboxLen() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, sess.inboxLen())

	// Draining the session and re-activating input resumes the stream.
	atomic.StoreInt32(&sess.capacity, 0)
	runOnReactor(t, r, e.ActivateIn)
	require.Eventually(t, func() bool { return sess.inboxLen() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, [][]byte{[]byte("one"), []byte("two"), []byte("three")}, sess.received())

	runOnReactor(t, r, e.Terminate)
}

func TestEngineSpeculativeWrite(t *testing.T) {
	r := newTestReactor(t)
	local, peer := socketpair(t)
	sess := &mockSession{}
	e := plugInitiator(t, r, local, sess)

	shake(t, peer)

	// With no writable interest armed, activating output drains the message
	// in one speculative write.
	sess.send([]byte("pingpong"))
	runOnReactor(t, r, e.ActivateOut)
	assert.Equal(t, frame("pingpong"), peerRecv(t, peer, len(frame("pingpong"))))

	// Re-activating with nothing to send is a no-op beyond re-arming and
	// immediately clearing writable interest.
	runOnReactor(t, r, e.ActivateOut)
	runOnReactor(t, r, e.ActivateOut)
	assertNoData(t, peer)

	runOnReactor(t, r, e.Terminate)
}

func TestEnginePeerCloseMidStream(t *testing.T) {
	r := newTestReactor(t)
	local, peer := socketpair(t)
	sess := &mockSession{}
	plugInitiator(t, r, local, sess)

	shake(t, peer)

	// The peer sends one last message and goes away; the buffered bytes must
	// reach the session before the engine reports the failure.
	peerSend(t, peer, frame("last"))
	require.NoError(t, unix.Close(peer))

	require.Eventually(t, func() bool { return sess.detachCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, [][]byte{[]byte("last")}, sess.received())
	assert.Positive(t, atomic.LoadInt32(&sess.flushes))
	assert.EqualValues(t, 0, r.Load())
}

func TestEngineLegacyProtocol(t *testing.T) {
	r := newTestReactor(t)
	local, peer := socketpair(t)
	sess := &mockSession{}
	e := plugEngine(t, r, local, sess, WithLegacyProtocol(true))

	// No greeting in either direction.
	peerSend(t, peer, frame("nohello"))
	require.Eventually(t, func() bool { return sess.inboxLen() == 1 }, time.Second, time.Millisecond)

	sess.send([]byte("back"))
	runOnReactor(t, r, e.ActivateOut)
	assert.Equal(t, frame("back"), peerRecv(t, peer, len(frame("back"))))

	runOnReactor(t, r, e.Terminate)
}

func TestEngineMaxMsgSizeViolation(t *testing.T) {
	r := newTestReactor(t)
	local, peer := socketpair(t)
	sess := &mockSession{}
	plugInitiator(t, r, local, sess, WithMaxMsgSize(4))

	shake(t, peer)

	// A framing violation is treated as a lost peer.
	peerSend(t, peer, frame("oversized"))
	require.Eventually(t, func() bool { return sess.detachCount() == 1 }, time.Second, time.Millisecond)
	assert.Zero(t, sess.inboxLen())
	assert.EqualValues(t, 0, r.Load())
}

func TestEngineTerminateRoundTrip(t *testing.T) {
	r := newTestReactor(t)
	local, _ := socketpair(t)
	sess := &mockSession{}

	require.EqualValues(t, 0, r.Load())
	e := plugEngine(t, r, local, sess, WithLegacyProtocol(true))
	assert.EqualValues(t, 1, r.Load())

	runOnReactor(t, r, e.Terminate)
	assert.EqualValues(t, 0, r.Load())
	assert.Zero(t, sess.detachCount(), "terminate must not detach the session")
}

func TestEngineUnplugDuringFlush(t *testing.T) {
	r := newTestReactor(t)
	local, peer := socketpair(t)

	var armed int32
	sess := &mockSession{}
	var e *StreamEngine
	sess.onFlush = func() {
		if atomic.CompareAndSwapInt32(&armed, 1, 2) {
			e.Terminate()
		}
	}
	e = plugInitiator(t, r, local, sess)

	shake(t, peer)
	// Let the greeting-completion flush pass before arming the hook.
	require.Eventually(t, func() bool { return atomic.LoadInt32(&sess.flushes) >= 1 }, time.Second, time.Millisecond)
	atomic.StoreInt32(&armed, 1)

	// The flush callback tears the engine down mid-readable; the engine must
	// survive the rest of the callback frame.
	peerSend(t, peer, frame("bye"))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&armed) == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return r.Load() == 0 }, time.Second, time.Millisecond)
	assert.Zero(t, sess.detachCount())
}

func TestEngineUnplugDuringGetData(t *testing.T) {
	r := newTestReactor(t)
	local, peer := socketpair(t)

	var armed int32
	sess := &mockSession{}
	var e *StreamEngine
	sess.onPull = func() {
		if atomic.CompareAndSwapInt32(&armed, 1, 2) {
			e.Terminate()
		}
	}
	e = plugInitiator(t, r, local, sess)

	shake(t, peer)
	atomic.StoreInt32(&armed, 1)

	flushesBefore := atomic.LoadInt32(&sess.flushes)
	runOnReactor(t, r, e.ActivateOut)

	// The engine unplugged while fetching data; it must flush the leftover
	// session and bail out.
	assert.EqualValues(t, 2, atomic.LoadInt32(&armed))
	assert.Greater(t, atomic.LoadInt32(&sess.flushes), flushesBefore)
	assert.EqualValues(t, 0, r.Load())
	assert.Zero(t, sess.detachCount())
}

func TestEngineErrnoClassification(t *testing.T) {
	local, peer := socketpair(t)
	e, err := NewStreamEngine(local, NewFrameDecoder(-1), NewFrameEncoder(), WithLegacyProtocol(true))
	require.NoError(t, err)

	// Nothing to read: a transient non-event.
	n, err := e.read(make([]byte, 8))
	assert.Zero(t, n)
	assert.NoError(t, err)

	require.NoError(t, unix.Close(peer))

	// Orderly shutdown by the peer reads as peer failure.
	_, err = e.read(make([]byte, 8))
	assert.ErrorIs(t, err, errorx.ErrPeerGone)

	// Writing into a closed peer raises EPIPE, also peer failure.
	_, err = e.write([]byte("x"))
	assert.ErrorIs(t, err, errorx.ErrPeerGone)

	require.NoError(t, e.Close())
	assert.NoError(t, e.Close(), "closing twice is harmless")
}

func TestEngineSocketOptions(t *testing.T) {
	local, _ := socketpair(t)
	e, err := NewStreamEngine(local, NewFrameDecoder(-1), NewFrameEncoder(),
		WithLegacyProtocol(true), WithSndBuf(64<<10), WithRcvBuf(64<<10))
	require.NoError(t, err)

	sndbuf, err := unix.GetsockoptInt(local, unix.SOL_SOCKET, unix.SO_SNDBUF)
	require.NoError(t, err)
	// The kernel doubles the requested value for bookkeeping.
	assert.GreaterOrEqual(t, sndbuf, 64<<10)

	require.NoError(t, e.Close())
}
