// Package checksum computes and verifies content digests used to detect
// tampering or lost data in offline batches.
package checksum

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
)

type Algorithm string

const (
	SHA256     Algorithm = "sha256"
	BLAKE2b256 Algorithm = "blake2b-256"
)

// Parse maps a config value to an Algorithm. Empty selects SHA-256.
func Parse(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "", SHA256:
		return SHA256, nil
	case BLAKE2b256, "blake2b":
		return BLAKE2b256, nil
	}
	return "", fmt.Errorf("unsupported checksum algorithm %q", s)
}

func (a Algorithm) newHash() hash.Hash {
	if a == BLAKE2b256 {
		h, _ := blake2b.New256(nil) // nil key never errors
		return h
	}
	return sha256.New()
}

// Sum returns the lowercase hex digest of data.
func (a Algorithm) Sum(data []byte) string {
	h := a.newHash()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SumJSON digests the encoding/json form of v. Struct fields encode in
// declaration order and map keys sorted, so equal values digest equally.
func (a Algorithm) SumJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("checksum: encode: %w", err)
	}
	return a.Sum(b), nil
}

// Verify recomputes the digest of data and compares it with expected,
// ignoring case and an optional "<algorithm>:" prefix.
func (a Algorithm) Verify(data []byte, expected string) error {
	got := a.Sum(data)
	want := strings.ToLower(strings.TrimSpace(expected))
	want = strings.TrimPrefix(want, string(a)+":")
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return &errs.Error{
			Code:  errs.CodeChecksumMismatch,
			Op:    "checksum.verify",
			Field: "checksum",
			Msg:   fmt.Sprintf("expected %s, computed %s", expected, got),
		}
	}
	return nil
}

// VerifyJSON is Verify over the encoding/json form of v.
func (a Algorithm) VerifyJSON(v any, expected string) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("checksum: encode: %w", err)
	}
	return a.Verify(b, expected)
}
