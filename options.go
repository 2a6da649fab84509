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

// Option is a function that modifies the engine options.
type Option func(opts *Options)

func loadOptions(options ...Option) *Options {
	opts := &Options{MaxMsgSize: -1}
	for _, option := range options {
		option(opts)
	}
	return opts
}

// Options are the immutable per-engine settings, fixed at construction.
type Options struct {
	// SndBuf sets SO_SNDBUF on the socket when positive.
	SndBuf int

	// RcvBuf sets SO_RCVBUF on the socket when positive.
	RcvBuf int

	// LegacyProtocol skips the protocol greeting entirely, for peers that
	// predate it.
	LegacyProtocol bool

	// SPPattern identifies the messaging pattern carried in the greeting.
	SPPattern uint16

	// SPVersion is the protocol version carried in the greeting.
	SPVersion uint16

	// SPRole is the role this peer announces in its greeting.
	SPRole uint16

	// SPComplement is the role expected from the remote peer.
	SPComplement uint16

	// MaxMsgSize bounds the size of inbound messages; negative means
	// unlimited.
	MaxMsgSize int64
}

// WithOptions sets up all the options at once.
func WithOptions(options Options) Option {
	return func(opts *Options) {
		*opts = options
	}
}

// WithSndBuf sets up SO_SNDBUF for the engine's socket.
func WithSndBuf(sndBuf int) Option {
	return func(opts *Options) {
		opts.SndBuf = sndBuf
	}
}

// WithRcvBuf sets up SO_RCVBUF for the engine's socket.
func WithRcvBuf(rcvBuf int) Option {
	return func(opts *Options) {
		opts.RcvBuf = rcvBuf
	}
}

// WithLegacyProtocol disables the greeting exchange.
func WithLegacyProtocol(legacy bool) Option {
	return func(opts *Options) {
		opts.LegacyProtocol = legacy
	}
}

// WithSPHeader sets up the greeting fields: the messaging pattern, the
// protocol version, the announced role and the role expected from the peer.
func WithSPHeader(pattern, version, role, complement uint16) Option {
	return func(opts *Options) {
		opts.SPPattern = pattern
		opts.SPVersion = version
		opts.SPRole = role
		opts.SPComplement = complement
	}
}

// WithMaxMsgSize bounds the size of inbound messages.
func WithMaxMsgSize(maxMsgSize int64) Option {
	return func(opts *Options) {
		opts.MaxMsgSize = maxMsgSize
	}
}
