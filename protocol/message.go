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

// Package protocol implements the core of the Roughtime protocol: the
// tag/length/value message codec, datagram framing, request and response
// construction, and authenticated response validation.
package protocol

import (
	"encoding/binary"
	"sort"
	"strings"
)

const (
	// MaxTags caps the number of tag/value pairs a single message may
	// carry, bounding allocations and ordering checks while decoding.
	MaxTags = 1024

	// maxNestingDepth bounds how deeply submessages may nest. The deepest
	// legal chain is response -> CERT -> DELE.
	maxNestingDepth = 3
)

// tagsSlice is the type of an array of tags. It provides utility functions so
// that they can be sorted.
type tagsSlice []uint32

func (t tagsSlice) Len() int           { return len(t) }
func (t tagsSlice) Less(i, j int) bool { return t[i] < t[j] }
func (t tagsSlice) Swap(i, j int)      { t[i], t[j] = t[j], t[i] }

// tagString renders a tag for error messages.
func tagString(tag uint32) string {
	b := []byte{byte(tag), byte(tag >> 8), byte(tag >> 16), byte(tag >> 24)}
	return strings.TrimRight(string(b), "\x00\xff")
}

// messageOverhead returns the number of bytes Encode needs for the header of
// a message with the given number of tags.
func messageOverhead(numTags int) int {
	return 4 * 2 * numTags
}

// Encode converts a map of tags to bytestrings into an encoded message.
// Every value's length must be a multiple of four and the total must fit in
// a uint32.
func Encode(msg map[uint32][]byte) ([]byte, error) {
	if len(msg) == 0 {
		return make([]byte, 4), nil
	}

	if len(msg) > MaxTags {
		return nil, errType(ErrorTooManyTags, "")
	}

	var payloadSum uint64
	for tag, payload := range msg {
		if len(payload)%4 != 0 {
			return nil, errType(ErrorBadOffset, "length of "+tagString(tag)+" is not a multiple of four")
		}
		payloadSum += uint64(len(payload))
	}
	if payloadSum >= 1<<32 {
		return nil, errType(ErrorUnderflowValues, "payloads too large")
	}

	tags := tagsSlice(make([]uint32, 0, len(msg)))
	for tag := range msg {
		tags = append(tags, tag)
	}
	sort.Sort(tags)

	numTags := uint64(len(tags))

	encoded := make([]byte, 4*(1+numTags-1+numTags)+payloadSum)
	binary.LittleEndian.PutUint32(encoded, uint32(len(tags)))
	offsets := encoded[4:]
	tagBytes := encoded[4*(1+(numTags-1)):]
	payloads := encoded[4*(1+(numTags-1)+numTags):]

	currentOffset := uint32(0)

	for i, tag := range tags {
		payload := msg[tag]
		if i > 0 {
			binary.LittleEndian.PutUint32(offsets, currentOffset)
			offsets = offsets[4:]
		}

		binary.LittleEndian.PutUint32(tagBytes, tag)
		tagBytes = tagBytes[4:]

		if len(payload) > 0 {
			copy(payloads, payload)
			payloads = payloads[len(payload):]
			currentOffset += uint32(len(payload))
		}
	}

	return encoded, nil
}

// Decode parses the output of Encode back into a map of tags to bytestrings.
// The decoder is strict: any input it accepts re-encodes to the identical
// bytes, so there is exactly one wire form for any set of tag/value pairs.
func Decode(bytes []byte) (map[uint32][]byte, error) {
	if len(bytes) < 4 {
		return nil, errType(ErrorShortHeader, "message too short to be valid")
	}
	if len(bytes)%4 != 0 {
		return nil, errType(ErrorUnderflowValues, "message is not a multiple of four bytes")
	}

	numTags := uint64(binary.LittleEndian.Uint32(bytes))

	if numTags == 0 {
		if len(bytes) != 4 {
			return nil, errType(ErrorUnderflowValues, "empty message with trailing bytes")
		}
		return make(map[uint32][]byte), nil
	}

	if numTags > MaxTags {
		return nil, errType(ErrorTooManyTags, "")
	}

	minLen := 4 * (1 + (numTags - 1) + numTags)

	if uint64(len(bytes)) < minLen {
		return nil, errType(ErrorShortHeader, "message too short for declared tag count")
	}

	offsets := bytes[4:]
	tags := bytes[4*(1+numTags-1):]
	payloads := bytes[minLen:]

	payloadLength := uint32(len(payloads))

	currentOffset := uint32(0)
	var lastTag uint32
	ret := make(map[uint32][]byte, numTags)

	for i := uint64(0); i < numTags; i++ {
		tag := binary.LittleEndian.Uint32(tags)
		tags = tags[4:]

		if i > 0 && lastTag >= tag {
			return nil, errType(ErrorUnsortedTags, tagString(tag))
		}

		var nextOffset uint32
		if i < numTags-1 {
			nextOffset = binary.LittleEndian.Uint32(offsets)
			offsets = offsets[4:]
		} else {
			nextOffset = payloadLength
		}

		if nextOffset%4 != 0 {
			return nil, errType(ErrorBadOffset, "offset is not a multiple of four")
		}

		if nextOffset < currentOffset {
			return nil, errType(ErrorBadOffset, "offsets decrease")
		}

		if nextOffset > payloadLength {
			return nil, errType(ErrorBadOffset, "offset exceeds values section")
		}

		length := nextOffset - currentOffset
		if uint32(len(payloads)) < length {
			return nil, errType(ErrorUnderflowValues, "message truncated")
		}

		payload := payloads[:length]
		payloads = payloads[length:]

		if expected, ok := fixedSizes[tag]; ok && len(payload) != expected {
			return nil, errType(ErrorBadFixedSize, tagString(tag))
		}
		switch tag {
		case tagPATH:
			if len(payload)%32 != 0 || len(payload) > 32*32 {
				return nil, errType(ErrorBadFixedSize, "PATH")
			}
		case tagVER, tagVERS:
			if len(payload)%4 != 0 {
				return nil, errType(ErrorBadFixedSize, tagString(tag))
			}
		}

		ret[tag] = payload
		currentOffset = nextOffset
		lastTag = tag
	}

	return ret, nil
}

func getValue(msg map[uint32][]byte, tag uint32) (value []byte, err error) {
	value, ok := msg[tag]
	if !ok {
		return nil, errType(ErrorMissingTag, tagString(tag))
	}
	return value, nil
}

func getFixedLength(msg map[uint32][]byte, tag uint32, length int) (value []byte, err error) {
	value, err = getValue(msg, tag)
	if err != nil {
		return nil, err
	}
	if len(value) != length {
		return nil, errType(ErrorBadFixedSize, tagString(tag))
	}
	return value, nil
}

func getUint32(msg map[uint32][]byte, tag uint32) (result uint32, err error) {
	valueBytes, err := getFixedLength(msg, tag, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(valueBytes), nil
}

func getUint64(msg map[uint32][]byte, tag uint32) (result uint64, err error) {
	valueBytes, err := getFixedLength(msg, tag, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(valueBytes), nil
}

func getSubmessage(msg map[uint32][]byte, tag uint32, depth int) (result map[uint32][]byte, err error) {
	if depth >= maxNestingDepth {
		return nil, errType(ErrorBadNesting, tagString(tag)+" nested too deeply")
	}

	valueBytes, err := getValue(msg, tag)
	if err != nil {
		return nil, err
	}

	result, err = Decode(valueBytes)
	if err != nil {
		return nil, errType(ErrorBadNesting, "failed to parse "+tagString(tag)+": "+err.Error())
	}

	return result, nil
}
