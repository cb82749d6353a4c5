// Copyright 2023 Cloudflare, Inc.
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

package protocol

import (
	"bytes"
	"encoding/binary"
)

const (
	roughtimeFrame = "ROUGHTIM"

	// frameOverhead is the magic plus the 4-byte message length.
	frameOverhead = len(roughtimeFrame) + 4

	// RequestSize is the exact number of framed bytes in a request.
	// Requests pad with ZZZZ to reach it; the server drops anything else.
	RequestSize = 1024
)

// encodeFramed prepends the datagram framing to a message.
func encodeFramed(msg []byte) []byte {
	framedMsg := make([]byte, 0, frameOverhead+len(msg))
	framedMsg = append(framedMsg, roughtimeFrame...)
	framedMsg = binary.LittleEndian.AppendUint32(framedMsg, uint32(len(msg)))
	framedMsg = append(framedMsg, msg...)
	return framedMsg
}

// decodeFramed strips and checks the datagram framing, returning the
// message bytes.
func decodeFramed(datagram []byte) ([]byte, error) {
	if len(datagram) < len(roughtimeFrame) || !bytes.Equal(datagram[:len(roughtimeFrame)], []byte(roughtimeFrame)) {
		return nil, errType(ErrorBadMagic, "")
	}
	datagram = datagram[len(roughtimeFrame):]

	if len(datagram) < 4 {
		return nil, errType(ErrorBadLength, "datagram too short to carry the message length")
	}
	msgLen := binary.LittleEndian.Uint32(datagram[:4])
	datagram = datagram[4:]

	if uint64(len(datagram)) != uint64(msgLen) {
		return nil, errType(ErrorBadLength, "message has unexpected length")
	}

	return datagram, nil
}
