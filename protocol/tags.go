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

// makeTag converts a four character string into a Roughtime tag value.
func makeTag(tag string) uint32 {
	if len(tag) != 4 {
		panic("makeTag: len(tag) != 4: " + tag)
	}

	return uint32(tag[0]) | uint32(tag[1])<<8 | uint32(tag[2])<<16 | uint32(tag[3])<<24
}

var (
	// Various tags used in the Roughtime protocol. Tag ordering within a
	// message is by the little-endian uint32 view of the four ASCII bytes.
	tagCERQ = makeTag("CERQ")
	tagCERT = makeTag("CERT")
	tagDELE = makeTag("DELE")
	tagINDX = makeTag("INDX")
	tagMAXT = makeTag("MAXT")
	tagMIDP = makeTag("MIDP")
	tagMINT = makeTag("MINT")
	tagNONC = makeTag("NONC")
	tagPATH = makeTag("PATH")
	tagPUBK = makeTag("PUBK")
	tagRADI = makeTag("RADI")
	tagROOT = makeTag("ROOT")
	tagSIG  = makeTag("SIG\x00")
	tagSIGQ = makeTag("SIGQ")
	tagSREP = makeTag("SREP")
	tagSRV  = makeTag("SRV\x00")
	tagTYPE = makeTag("TYPE")
	tagVER  = makeTag("VER\x00")
	tagVERS = makeTag("VERS")
	tagZZZZ = makeTag("ZZZZ")
)

// fixedSizes lists tags whose values have exactly one legal length.
var fixedSizes = map[uint32]int{
	tagNONC: NonceSize,
	tagSRV:  32,
	tagTYPE: 4,
	tagSIG:  64,
	tagPUBK: 32,
	tagROOT: 32,
	tagMIDP: 8,
	tagMINT: 8,
	tagMAXT: 8,
	tagRADI: 4,
	tagINDX: 4,
}

// requestTags is the set of tags a server accepts in a request. Anything
// else in a request is unknown to this implementation and the request is
// rejected rather than partially interpreted.
var requestTags = map[uint32]bool{
	tagVER:  true,
	tagNONC: true,
	tagTYPE: true,
	tagSRV:  true,
	tagZZZZ: true,
}

// responseTags is the set of tags a client accepts in a response.
var responseTags = map[uint32]bool{
	tagSIG:  true,
	tagNONC: true,
	tagTYPE: true,
	tagPATH: true,
	tagSREP: true,
	tagCERT: true,
	tagCERQ: true,
	tagINDX: true,
}
