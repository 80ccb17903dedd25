package snapshot

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	json "github.com/goccy/go-json"
)

// Verifier fingerprints snapshot content. Fingerprints detect corruption and
// accidental or casual tampering; they are not signatures and anyone able to
// rewrite a payload can also rewrite its fingerprint.
type Verifier interface {
	Checksum(s *Snapshot) (string, error)
	Verify(expected string, s *Snapshot) (bool, error)
}

// SHA256Verifier hashes a canonical JSON rendering of the collections and
// their counts. Map keys are sorted by the encoder and records keep the order
// they were read in, so equal content always yields an equal fingerprint.
type SHA256Verifier struct{}

// NewVerifier returns the default verifier.
func NewVerifier() *SHA256Verifier {
	return &SHA256Verifier{}
}

// canonicalContent excludes every metadata field, the checksum slot included.
type canonicalContent struct {
	Collections  map[string][]Record `json:"entity_collections"`
	RecordCounts map[string]int      `json:"record_counts"`
}

// Checksum returns the hex SHA-256 of the snapshot content.
func (v *SHA256Verifier) Checksum(s *Snapshot) (string, error) {
	if s == nil {
		return "", fmt.Errorf("snapshot is nil")
	}

	data, err := json.Marshal(canonicalContent{
		Collections:  s.Collections,
		RecordCounts: s.RecordCounts,
	})
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize snapshot content: %w", err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the fingerprint and compares it with expected.
func (v *SHA256Verifier) Verify(expected string, s *Snapshot) (bool, error) {
	actual, err := v.Checksum(s)
	if err != nil {
		return false, err
	}
	return equalHex(expected, actual), nil
}

// Seal computes and stores the snapshot's checksum.
func Seal(v Verifier, s *Snapshot) error {
	s.Checksum = ""
	sum, err := v.Checksum(s)
	if err != nil {
		return err
	}
	s.Checksum = sum
	return nil
}

// PayloadDigest is the hex SHA-256 of encoded payload bytes. Unlike the
// content checksum it covers every byte, metadata and framing included.
func PayloadDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func equalHex(a, b string) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
