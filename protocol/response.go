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
	"crypto/ed25519"
	"encoding/binary"

	"github.com/stoneclock/roughtime/merkle"
)

// signedSrep is one SREP and its signature, shared by every response in a
// batch that negotiated the same version.
type signedSrep struct {
	srepBytes []byte
	sig       []byte
}

func makeSrep(ver Version, midpoint uint64, radius uint32, supported []Version, root [merkle.HashSize]byte, cert *Certificate) (*signedSrep, error) {
	var midpointBytes [8]byte
	binary.LittleEndian.PutUint64(midpointBytes[:], midpoint)
	var radiusBytes [4]byte
	binary.LittleEndian.PutUint32(radiusBytes[:], radius)

	srep := map[uint32][]byte{
		tagVER:  encodeVersions([]Version{ver}),
		tagRADI: radiusBytes[:],
		tagMIDP: midpointBytes[:],
		tagVERS: encodeVersions(supported),
		tagROOT: root[:],
	}

	srepBytes, err := Encode(srep)
	if err != nil {
		return nil, err
	}

	return &signedSrep{
		srepBytes: srepBytes,
		sig:       cert.SignResponse(srepBytes),
	}, nil
}

// CreateReplies responds to a batch of admitted requests with a single
// Merkle tree and one response signature per negotiated version (one, for
// any batch whose clients agree). It returns one framed response per
// request, in batch order. Leaf order is admission order and INDX reflects
// it.
//
// It is the caller's responsibility to have admitted only requests that
// share at least one version with the supported set.
func CreateReplies(requests []*Request, midpoint uint64, radius uint32, supported []Version, cert *Certificate) ([][]byte, error) {
	if len(requests) == 0 {
		return nil, nil
	}
	if radius < 1 {
		return nil, errType(ErrorWrongType, "RADI must be at least 1")
	}

	datagrams := make([][]byte, len(requests))
	for i, req := range requests {
		datagrams[i] = req.Raw
	}
	tree := merkle.New(datagrams)
	root := tree.Root()

	sreps := make(map[Version]*signedSrep)

	reply := map[uint32][]byte{
		tagTYPE: encodeType(typeResponse),
		tagCERT: cert.Bytes(),
	}

	replies := make([][]byte, 0, len(requests))

	for i, req := range requests {
		ver, ok := ResponseVersion(req.Versions, supported)
		if !ok {
			return nil, errType(ErrorNoCommonVersion, "")
		}

		srep := sreps[ver]
		if srep == nil {
			var err error
			if srep, err = makeSrep(ver, midpoint, radius, supported, root, cert); err != nil {
				return nil, err
			}
			sreps[ver] = srep
		}

		path, indx := tree.Proof(i)
		var indexBytes [4]byte
		binary.LittleEndian.PutUint32(indexBytes[:], indx)

		reply[tagSIG] = srep.sig
		reply[tagSREP] = srep.srepBytes
		reply[tagNONC] = req.Nonce[:]
		reply[tagPATH] = path
		reply[tagINDX] = indexBytes[:]

		replyBytes, err := Encode(reply)
		if err != nil {
			return nil, err
		}

		framed := encodeFramed(replyBytes)
		if len(framed) > len(req.Raw) {
			return nil, errType(ErrorResponseLargerThanRequest, "")
		}

		replies = append(replies, framed)
	}

	return replies, nil
}

// ValidatedTime is the outcome of a successful response validation.
type ValidatedTime struct {
	// Midpoint is the server's reported time in Unix seconds.
	Midpoint uint64

	// Radius is the server's accuracy radius in seconds.
	Radius uint32

	// Version is the version the server chose for this response.
	Version Version

	// ServerVersions is the authenticated full set of versions the server
	// claims to support, kept for downgrade audits.
	ServerVersions []Version
}

// VerifyReply parses the Roughtime reply in replyBytes, authenticates it
// using rootPublicKey and verifies that it covers the request in
// requestBytes: the nonce must echo, the delegation and response signatures
// must verify, the midpoint must lie in the delegation window, the leaf
// recomputed from requestBytes must prove into the signed root, and the
// negotiated version must be one the request offered and one the server
// claims to support.
func VerifyReply(replyBytes, requestBytes []byte, rootPublicKey ed25519.PublicKey) (*ValidatedTime, error) {
	req, err := ParseRequest(requestBytes)
	if err != nil {
		return nil, err
	}

	msg, err := decodeFramed(replyBytes)
	if err != nil {
		return nil, err
	}

	reply, err := Decode(msg)
	if err != nil {
		return nil, err
	}

	for tag := range reply {
		if !responseTags[tag] {
			return nil, errType(ErrorUnknownMandatoryTag, tagString(tag))
		}
	}

	if typeBytes, ok := reply[tagTYPE]; ok {
		if len(typeBytes) != 4 || binary.LittleEndian.Uint32(typeBytes) != typeResponse {
			return nil, errType(ErrorWrongType, "response TYPE is not 1")
		}
	}

	nonce, err := getFixedLength(reply, tagNONC, NonceSize)
	if err != nil {
		return nil, err
	}
	if [NonceSize]byte(nonce) != req.Nonce {
		return nil, errType(ErrorNonceMismatch, "")
	}

	cert, err := getSubmessage(reply, tagCERT, 1)
	if err != nil {
		return nil, err
	}

	certSig, err := getFixedLength(cert, tagSIG, ed25519.SignatureSize)
	if err != nil {
		return nil, err
	}

	delegationBytes, err := getValue(cert, tagDELE)
	if err != nil {
		return nil, err
	}

	toVerify := append([]byte(certificateContext), delegationBytes...)
	if !ed25519.Verify(rootPublicKey, toVerify, certSig) {
		return nil, errType(ErrorBadSignature, "delegation signature")
	}

	delegation, err := getSubmessage(cert, tagDELE, 2)
	if err != nil {
		return nil, err
	}

	minTime, err := getUint64(delegation, tagMINT)
	if err != nil {
		return nil, err
	}

	maxTime, err := getUint64(delegation, tagMAXT)
	if err != nil {
		return nil, err
	}

	delegatedPublicKey, err := getFixedLength(delegation, tagPUBK, ed25519.PublicKeySize)
	if err != nil {
		return nil, err
	}

	responseSig, err := getFixedLength(reply, tagSIG, ed25519.SignatureSize)
	if err != nil {
		return nil, err
	}

	srepBytes, err := getValue(reply, tagSREP)
	if err != nil {
		return nil, err
	}

	toVerify = append([]byte(signedResponseContext), srepBytes...)
	if !ed25519.Verify(ed25519.PublicKey(delegatedPublicKey), toVerify, responseSig) {
		return nil, errType(ErrorBadSignature, "response signature")
	}

	srep, err := getSubmessage(reply, tagSREP, 1)
	if err != nil {
		return nil, err
	}

	verBytes, err := getFixedLength(srep, tagVER, 4)
	if err != nil {
		return nil, err
	}
	srepVer := Version(binary.LittleEndian.Uint32(verBytes))

	radius, err := getUint32(srep, tagRADI)
	if err != nil {
		return nil, err
	}
	if radius < 1 {
		return nil, errType(ErrorWrongType, "RADI must be at least 1")
	}

	midpoint, err := getUint64(srep, tagMIDP)
	if err != nil {
		return nil, err
	}

	versBytes, err := getValue(srep, tagVERS)
	if err != nil {
		return nil, err
	}
	serverVersions, err := decodeVersions(versBytes, false)
	if err != nil {
		return nil, err
	}

	root, err := getFixedLength(srep, tagROOT, merkle.HashSize)
	if err != nil {
		return nil, err
	}

	if maxTime < minTime {
		return nil, errType(ErrorMidpOutOfDeleWindow, "invalid delegation range")
	}

	if midpoint < minTime || maxTime < midpoint {
		return nil, errType(ErrorMidpOutOfDeleWindow, "")
	}

	index, err := getUint32(reply, tagINDX)
	if err != nil {
		return nil, err
	}

	path, err := getValue(reply, tagPATH)
	if err != nil {
		return nil, err
	}
	if len(path)%merkle.HashSize != 0 || len(path) > merkle.MaxPathHashes*merkle.HashSize {
		return nil, errType(ErrorBadFixedSize, "PATH")
	}

	if !merkle.VerifyInclusion(requestBytes, path, index, root) {
		return nil, errType(ErrorRootMismatch, "")
	}

	if !containsVersion(req.Versions, srepVer) {
		return nil, errType(ErrorVersionDowngrade, "server chose a version the request did not offer")
	}

	if !containsVersion(serverVersions, srepVer) {
		return nil, errType(ErrorVersionDowngrade, "negotiated version missing from VERS")
	}

	return &ValidatedTime{
		Midpoint:       midpoint,
		Radius:         radius,
		Version:        srepVer,
		ServerVersions: serverVersions,
	}, nil
}
