// Copyright 2016 The Roughtime Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License. */

package protocol

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"io"
	"sort"
)

// NonceSize is the length of the NONC tag value.
const NonceSize = 32

const (
	// TYPE tag values distinguishing the two message directions.
	typeRequest  = 0
	typeResponse = 1
)

func encodeType(t uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], t)
	return b[:]
}

// Request is a parsed client request.
type Request struct {
	// Raw is the complete framed datagram as received. The Merkle leaf is
	// computed over these exact bytes.
	Raw []byte

	// Nonce is the request nonce, echoed in the response.
	Nonce [NonceSize]byte

	// Versions is the strictly ascending list of versions the client
	// offered.
	Versions []Version

	// srv is the SRV commitment, nil when the client sent none.
	srv []byte
}

// CreateRequest creates a Roughtime request given an entropy source and the
// contents of a previous reply for chaining. If this request is the first of
// a chain, prevReply can be empty and the nonce is drawn directly from rand;
// otherwise the nonce is derived from prevReply and a fresh blind. It
// returns the nonce (needed to verify the reply), the blind (needed to prove
// correct chaining to an external party) and the request itself, framed to
// exactly RequestSize bytes.
func CreateRequest(versions []Version, rand io.Reader, prevReply []byte, rootPublicKey ed25519.PublicKey) (nonce, blind [NonceSize]byte, request []byte, err error) {
	if len(versions) == 0 {
		versions = DefaultVersions
	}
	versions = append([]Version(nil), versions...)
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	for i := 1; i < len(versions); i++ {
		if versions[i-1] == versions[i] {
			return nonce, blind, nil, errType(ErrorUnsortedTags, "duplicate version in preference")
		}
	}

	if len(prevReply) == 0 {
		if _, err := io.ReadFull(rand, nonce[:]); err != nil {
			return nonce, blind, nil, err
		}
	} else {
		if _, err := io.ReadFull(rand, blind[:]); err != nil {
			return nonce, blind, nil, err
		}
		nonce = ChainNonce(prevReply, blind)
	}

	// Construct the packet.
	packet := make(map[uint32][]byte)
	valuesLen := 0
	numTags := 0

	// NONC
	packet[tagNONC] = nonce[:]
	valuesLen += NonceSize
	numTags++

	// VER
	encodedVers := encodeVersions(versions)
	packet[tagVER] = encodedVers
	valuesLen += len(encodedVers)
	numTags++

	// TYPE
	packet[tagTYPE] = encodeType(typeRequest)
	valuesLen += 4
	numTags++

	// SRV
	if rootPublicKey != nil {
		srv := SrvCommitment(rootPublicKey)
		packet[tagSRV] = srv[:]
		valuesLen += len(srv)
		numTags++
	}

	// ZZZZ pads the framed datagram to exactly RequestSize bytes.
	padding := make([]byte, RequestSize-frameOverhead-messageOverhead(numTags+1)-valuesLen)
	packet[tagZZZZ] = padding

	msg, err := Encode(packet)
	if err != nil {
		return nonce, blind, nil, err
	}

	return nonce, blind, encodeFramed(msg), nil
}

// ParseRequest validates a framed request datagram and extracts the values
// required to produce a response.
func ParseRequest(datagram []byte) (*Request, error) {
	if len(datagram) != RequestSize {
		return nil, errType(ErrorSizeNot1024, "")
	}

	msg, err := decodeFramed(datagram)
	if err != nil {
		return nil, err
	}

	packet, err := Decode(msg)
	if err != nil {
		return nil, err
	}

	for tag := range packet {
		if !requestTags[tag] {
			return nil, errType(ErrorUnknownMandatoryTag, tagString(tag))
		}
	}

	msgType, err := getUint32(packet, tagTYPE)
	if err != nil {
		return nil, err
	}
	if msgType != typeRequest {
		return nil, errType(ErrorWrongType, "request TYPE is not 0")
	}

	if _, ok := packet[tagZZZZ]; !ok {
		return nil, errType(ErrorMissingTag, "ZZZZ")
	}

	nonceBytes, err := getFixedLength(packet, tagNONC, NonceSize)
	if err != nil {
		return nil, err
	}

	verBytes, err := getValue(packet, tagVER)
	if err != nil {
		return nil, err
	}
	versions, err := decodeVersions(verBytes, true)
	if err != nil {
		return nil, err
	}

	var srv []byte
	if srvBytes, ok := packet[tagSRV]; ok {
		if len(srvBytes) != 32 {
			return nil, errType(ErrorBadFixedSize, "SRV")
		}
		srv = append([]byte(nil), srvBytes...)
	}

	req := &Request{
		Raw:      append([]byte(nil), datagram...),
		Versions: versions,
		srv:      srv,
	}
	copy(req.Nonce[:], nonceBytes)
	return req, nil
}

// SrvMatches reports whether this request is willing to be answered by the
// server holding the given commitment. Requests without an SRV tag accept
// any server.
func (req *Request) SrvMatches(commitment [32]byte) bool {
	if req.srv == nil {
		return true
	}
	return bytes.Equal(req.srv, commitment[:])
}

// HasSrv reports whether the client pinned a server identity.
func (req *Request) HasSrv() bool {
	return req.srv != nil
}
