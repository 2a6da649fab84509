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

// Session is the upstream collaborator of a stream engine. It owns message
// semantics, queueing and reconnection; the engine only tells it to drain and,
// on unrecoverable transport failure, to let go.
//
// Both methods are invoked on the engine's reactor thread and must not block.
type Session interface {
	// Flush drains any messages the decoder has produced. It is idempotent
	// and may call back into the engine via ActivateOut.
	Flush()

	// Detach disowns the engine. The engine calls it exactly once, right
	// before destroying itself; the session is then free to attempt a
	// reconnect. The session never observes raw transport errors, only the
	// transition from attached to detached.
	Detach()
}

// MessageSession is the widened session contract required by the frame codec:
// a session able to exchange whole messages with the codec pair.
type MessageSession interface {
	Session

	// PushMessage hands a decoded inbound message to the session. The slice
	// is only valid for the duration of the call. It returns false when the
	// session cannot accept more; the decoder then stops consuming until the
	// session drains and re-enters the engine via ActivateIn.
	PushMessage(msg []byte) bool

	// PullMessage yields the next outbound message, or false when the
	// session has nothing to send.
	PullMessage() ([]byte, bool)
}
