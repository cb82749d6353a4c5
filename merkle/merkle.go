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

// Package merkle builds the aggregation tree a Roughtime server signs: a
// binary tree over whole request datagrams, hashed with SHA-512 truncated
// to 32 bytes under the 0x00 leaf and 0x01 node domain separators.
package merkle

import (
	"bytes"

	"github.com/stoneclock/roughtime/sha512trunc"
)

const (
	// HashSize is the size of a tree node.
	HashSize = sha512trunc.Size

	// MaxPathHashes caps the length of an inclusion proof.
	MaxPathHashes = 32
)

var (
	leafTweak = []byte{0x00}
	nodeTweak = []byte{0x01}
)

// LeafHash hashes a full framed request datagram to form a leaf.
func LeafHash(datagram []byte) [HashSize]byte {
	return sha512trunc.Sum(leafTweak, datagram)
}

// nodeHash hashes two child nodes to produce an interior node.
func nodeHash(left, right []byte) [HashSize]byte {
	return sha512trunc.Sum(nodeTweak, left, right)
}

// Tree is a Merkle tree over request datagrams. Each element of levels is a
// layer in the tree, with the leaves first. When a layer has an odd number
// of nodes the last node is carried up to the next layer unchanged.
type Tree struct {
	levels [][][HashSize]byte
}

// New builds the tree for one or more request datagrams, in admission
// order.
func New(datagrams [][]byte) *Tree {
	if len(datagrams) == 0 {
		panic("merkle: New passed empty slice")
	}

	leaves := make([][HashSize]byte, len(datagrams))
	for i, datagram := range datagrams {
		leaves[i] = LeafHash(datagram)
	}

	t := &Tree{levels: [][][HashSize]byte{leaves}}

	for width := len(leaves); width > 1; width = (width + 1) / 2 {
		last := t.levels[len(t.levels)-1]
		level := make([][HashSize]byte, (width+1)/2)
		for j := 0; j < width/2; j++ {
			level[j] = nodeHash(last[2*j][:], last[2*j+1][:])
		}
		if width%2 == 1 {
			// Odd layer: the last node has no sibling and is carried up.
			level[width/2] = last[width-1]
		}
		t.levels = append(t.levels, level)
	}

	return t
}

// Root returns the root of the tree. For a single leaf the root is the leaf
// hash itself.
func (t *Tree) Root() [HashSize]byte {
	return t.levels[len(t.levels)-1][0]
}

// Proof returns the inclusion proof for the leaf at the given admission
// index: the concatenated sibling hashes from leaf to root and the
// directional index whose low bits steer the verification walk. For leaves
// with a sibling at every layer the directional index equals the admission
// index; a leaf carried up through an odd layer contributes no path element
// there, so the corresponding bit is dropped.
func (t *Tree) Proof(index int) (path []byte, indx uint32) {
	shift := 0
	for level := 0; level < len(t.levels)-1; level++ {
		nodes := t.levels[level]
		sibling := index ^ 1
		if sibling < len(nodes) {
			path = append(path, nodes[sibling][:]...)
			indx |= uint32(index&1) << shift
			shift++
		}
		index /= 2
	}
	return path, indx
}

// VerifyInclusion replays an inclusion proof: it recomputes the leaf from
// the preserved request datagram, walks the path using the bits of indx to
// choose sides, and compares the result to root.
func VerifyInclusion(datagram, path []byte, indx uint32, root []byte) bool {
	if len(path)%HashSize != 0 || len(path) > MaxPathHashes*HashSize {
		return false
	}

	hash := LeafHash(datagram)
	for len(path) > 0 {
		if indx&1 == 1 {
			hash = nodeHash(path[:HashSize], hash[:])
		} else {
			hash = nodeHash(hash[:], path[:HashSize])
		}
		indx >>= 1
		path = path[HashSize:]
	}

	return bytes.Equal(hash[:], root)
}
