package quorum

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
)

// batchHashDomain separates batch commitments from every other SHA-256
// use. Changing the payload layout means minting a new domain string.
const batchHashDomain = "1024_LEDGER_BATCH_V1"

// ComputeBatchHash commits to a batch payload:
//
//	SHA-256(domain || programID || batchID_le || payload)
//
// Binding the program identity and batch id into the digest stops a
// payload approved for one batch (or one deployment) from being replayed
// against another.
func ComputeBatchHash(programID string, batchID uint64, payload []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(batchHashDomain))
	h.Write([]byte(programID))

	var idBuf [8]byte
	binary.LittleEndian.PutUint64(idBuf[:], batchID)
	h.Write(idBuf[:])

	h.Write(payload)

	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest
}

// EqualHash compares two commitments in constant time.
func EqualHash(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
