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
	"encoding/binary"

	errorx "github.com/jianjin/libxs/pkg/errors"
	"github.com/jianjin/libxs/pkg/logging"
	"github.com/jianjin/libxs/pkg/pool/bytebuffer"
)

const (
	// inBatchSize is the size of the scratch region a decoder hands to its
	// engine for one non-blocking read.
	inBatchSize = 8192

	// outBatchSize is the wire-byte budget after which an encoder stops
	// pulling further messages in one GetData call.
	outBatchSize = 8192

	// frameHeaderSize is the length prefix of the reference framing.
	frameHeaderSize = 2

	// maxFramePayload is the largest payload expressible by the 16-bit
	// length prefix.
	maxFramePayload = 1<<16 - 1
)

// Decoder turns the byte stream read from the socket back into messages and
// feeds them to the session. Implementations are driven from the reactor
// thread only.
type Decoder interface {
	// GetBuffer hands the engine a scratch region to read into. The bytes
	// the engine reads there are subsequently offered to ProcessBuffer.
	GetBuffer() []byte

	// ProcessBuffer consumes bytes previously read into the buffer and
	// returns how many of them it took. Consuming fewer bytes than offered
	// signals that the session's queue is full; the engine then stops
	// polling for input until the session drains. A non-nil error signals a
	// framing violation, which the engine treats as a lost peer.
	ProcessBuffer(p []byte) (int, error)

	// SetSession plumbs decoded messages to s. A nil session disconnects it.
	SetSession(s Session)
}

// Encoder flattens outbound messages into wire bytes for the engine to write.
// Implementations are driven from the reactor thread only.
type Encoder interface {
	// GetData returns the next chunk of wire bytes, pointing into memory the
	// encoder keeps valid until the next call, and a hint whether more data
	// may follow without the session producing anything new.
	GetData() (p []byte, more bool)

	// SetSession connects the encoder to the session it drains. A nil
	// session disconnects it.
	SetSession(s Session)
}

// FrameDecoder is the reference Decoder: messages are framed by a 16-bit
// little-endian length prefix. It requires a MessageSession.
type FrameDecoder struct {
	buf        []byte
	session    MessageSession
	maxMsgSize int64

	hdr    [frameHeaderSize]byte
	hdrGot int
	need   int
	msg    *bytebuffer.ByteBuffer
	ready  bool
}

// NewFrameDecoder instantiates a FrameDecoder. A negative maxMsgSize lifts
// the inbound size limit.
func NewFrameDecoder(maxMsgSize int64) *FrameDecoder {
	return &FrameDecoder{buf: make([]byte, inBatchSize), maxMsgSize: maxMsgSize}
}

// GetBuffer implements Decoder.
func (d *FrameDecoder) GetBuffer() []byte {
	return d.buf
}

// SetSession implements Decoder.
func (d *FrameDecoder) SetSession(s Session) {
	if s == nil {
		d.session = nil
		return
	}
	ms, ok := s.(MessageSession)
	if !ok {
		logging.Fatalf("libxs: frame decoder requires a MessageSession")
	}
	d.session = ms
}

// ProcessBuffer implements Decoder. A message held back by a full session is
// retried on the next call, so backpressure never drops a frame.
func (d *FrameDecoder) ProcessBuffer(p []byte) (int, error) {
	consumed := 0
	for {
		if d.ready {
			if d.session == nil || !d.session.PushMessage(d.msg.Bytes()) {
				return consumed, nil
			}
			bytebuffer.Put(d.msg)
			d.msg = nil
			d.ready = false
			d.hdrGot = 0
		}

		if consumed == len(p) {
			return consumed, nil
		}

		if d.hdrGot < frameHeaderSize {
			n := copy(d.hdr[d.hdrGot:], p[consumed:])
			d.hdrGot += n
			consumed += n
			if d.hdrGot < frameHeaderSize {
				continue
			}
			size := int(binary.LittleEndian.Uint16(d.hdr[:]))
			if d.maxMsgSize >= 0 && int64(size) > d.maxMsgSize {
				return consumed, errorx.ErrMsgTooLarge
			}
			d.need = size
			d.msg = bytebuffer.Get()
			if d.need == 0 {
				d.ready = true
			}
			continue
		}

		n := len(p) - consumed
		if n > d.need {
			n = d.need
		}
		_, _ = d.msg.Write(p[consumed : consumed+n])
		consumed += n
		d.need -= n
		if d.need == 0 {
			d.ready = true
		}
	}
}

// FrameEncoder is the reference Encoder, the mirror of FrameDecoder. It
// requires a MessageSession.
type FrameEncoder struct {
	session MessageSession
	stage   *bytebuffer.ByteBuffer
}

// NewFrameEncoder instantiates a FrameEncoder.
func NewFrameEncoder() *FrameEncoder {
	return &FrameEncoder{stage: bytebuffer.Get()}
}

// SetSession implements Encoder.
func (e *FrameEncoder) SetSession(s Session) {
	if s == nil {
		e.session = nil
		return
	}
	ms, ok := s.(MessageSession)
	if !ok {
		logging.Fatalf("libxs: frame encoder requires a MessageSession")
	}
	e.session = ms
}

// GetData implements Encoder. It batches pending messages until the batch
// reaches outBatchSize wire bytes; messages are never split, so the last one
// may carry the batch past that size. The staged memory stays valid until the
// next call.
func (e *FrameEncoder) GetData() ([]byte, bool) {
	e.stage.Reset()
	for e.session != nil && e.stage.Len() < outBatchSize {
		msg, ok := e.session.PullMessage()
		if !ok {
			break
		}
		if len(msg) > maxFramePayload {
			logging.Fatalf("libxs: outbound message of %d bytes does not fit the frame header", len(msg))
		}
		var hdr [frameHeaderSize]byte
		binary.LittleEndian.PutUint16(hdr[:], uint16(len(msg)))
		_, _ = e.stage.Write(hdr[:])
		_, _ = e.stage.Write(msg)
	}
	if e.stage.Len() == 0 {
		return nil, false
	}
	// Stopping on the batch budget hints that the session probably has more.
	return e.stage.B, e.stage.Len() >= outBatchSize
}
