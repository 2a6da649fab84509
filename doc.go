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

/*
Package libxs is the I/O core of a scalable message-transport library. It
moves framed messages between a peer socket and an in-process session object
while sharing one operating-system thread across many connections.

Two tightly-coupled subsystems make up the core:

  - The reactor, a per-thread event loop that multiplexes readiness
    notifications for an arbitrary number of file descriptors, executes
    one-shot timers and dispatches lifecycle events to registered pollable
    objects.

  - The stream engine, a connection-oriented byte-stream driver running on top
    of the reactor. It owns one non-blocking stream socket, performs a short
    symmetric protocol handshake and shuttles bytes between the socket and a
    codec pair, coordinating flow control with an upstream session.

Message semantics, framing beyond the reference frame codec, reconnection and
transport selection are the business of the session and the surrounding
context, reached only through the narrow Session, Decoder and Encoder
interfaces.
*/
package libxs
