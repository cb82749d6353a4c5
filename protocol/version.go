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
	"encoding/binary"
	"fmt"
)

// Version indicates the version of the Roughtime protocol in use.
type Version uint32

const (
	// VersionRFC is version 1 of the IETF Roughtime protocol.
	VersionRFC Version = 0x00000001

	// VersionDraft11 is draft-ietf-ntp-roughtime-11. Drafts carry the
	// 0x80000000 bit during the standardization window.
	VersionDraft11 Version = 0x8000000b
)

// DefaultVersions is the version set advertised when a caller expresses no
// preference.
var DefaultVersions = []Version{VersionRFC}

func (ver Version) String() string {
	switch ver {
	case VersionRFC:
		return "IETF-Roughtime v1"
	case VersionDraft11:
		return "draft-ietf-ntp-roughtime-11"
	default:
		return fmt.Sprintf("%d", uint32(ver))
	}
}

// encodeVersions serializes a version list as consecutive little-endian
// 32-bit values.
func encodeVersions(vers []Version) []byte {
	encoded := make([]byte, 0, len(vers)*4)
	for _, ver := range vers {
		encoded = binary.LittleEndian.AppendUint32(encoded, uint32(ver))
	}
	return encoded
}

// decodeVersions parses a version list. If ascending is set, the list must
// be strictly ascending, as required of the VER tag in requests.
func decodeVersions(encoded []byte, ascending bool) ([]Version, error) {
	if len(encoded) == 0 || len(encoded)%4 != 0 {
		return nil, errType(ErrorBadFixedSize, "malformed version list")
	}

	vers := make([]Version, 0, len(encoded)/4)
	for len(encoded) > 0 {
		ver := Version(binary.LittleEndian.Uint32(encoded[:4]))
		if ascending && len(vers) > 0 && vers[len(vers)-1] >= ver {
			return nil, errType(ErrorUnsortedTags, "version list not strictly ascending")
		}
		vers = append(vers, ver)
		encoded = encoded[4:]
	}
	return vers, nil
}

// ResponseVersion selects the version used to respond to a client that
// offered the given set: the highest element of the intersection with the
// server's supported set.
func ResponseVersion(offered, supported []Version) (Version, bool) {
	var best Version
	found := false
	for _, ver := range offered {
		for _, sup := range supported {
			if ver == sup && (!found || ver > best) {
				best = ver
				found = true
			}
		}
	}
	return best, found
}

func containsVersion(vers []Version, ver Version) bool {
	for i := range vers {
		if vers[i] == ver {
			return true
		}
	}
	return false
}
