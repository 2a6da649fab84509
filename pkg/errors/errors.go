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

// Package errors defines common errors for libxs.
package errors

import "errors"

var (
	// ErrPeerGone occurs when the remote peer closed or reset the connection.
	ErrPeerGone = errors.New("libxs: peer closed the connection")
	// ErrGreetingMismatch occurs when the protocol greeting received from the
	// peer differs from the expected one.
	ErrGreetingMismatch = errors.New("libxs: protocol greeting mismatch")
	// ErrMsgTooLarge occurs when an inbound message exceeds the maximum
	// message size configured for the connection.
	ErrMsgTooLarge = errors.New("libxs: message exceeds the maximum message size")
	// ErrReactorShutdown occurs when a reactor is going to be shut down.
	ErrReactorShutdown = errors.New("libxs: reactor is going to be shutdown")
	// ErrPollerClosed occurs when operating on a poller that has been closed.
	ErrPollerClosed = errors.New("libxs: poller has been closed")
	// ErrUnsupportedProtocol occurs when trying to use a network that is not supported.
	ErrUnsupportedProtocol = errors.New("libxs: only tcp/tcp4/tcp6 are supported")
	// ErrInvalidNetworkAddress occurs when the network address is invalid.
	ErrInvalidNetworkAddress = errors.New("libxs: invalid network address")
	// ErrNilRunnable occurs when trying to submit a nil task.
	ErrNilRunnable = errors.New("libxs: nil runnable is not allowed")
)
