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

import "encoding/binary"

// GreetingSize is the length of the protocol greeting exchanged once per
// connection before the first message byte. Both peers must use the exact
// same length; any mismatch is a handshake failure.
const GreetingSize = 8

// Roles carried in the greeting. Each side expects the complement of its own
// role from the peer.
const (
	RoleInitiator uint16 = 1
	RoleResponder uint16 = 2
)

// makeGreeting builds the fixed-length protocol greeting: pattern, version
// and role as 16-bit little-endian fields, the remainder reserved as zero.
func makeGreeting(pattern, version, role uint16) (g [GreetingSize]byte) {
	binary.LittleEndian.PutUint16(g[0:2], pattern)
	binary.LittleEndian.PutUint16(g[2:4], version)
	binary.LittleEndian.PutUint16(g[4:6], role)
	return
}
