package journal

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// redactedSize is the digest length of a redacted value, in bytes.
const redactedSize = 16

// Redactor replaces phone numbers, URIs and names with a keyed BLAKE2b digest, so
// entries of the same caller still correlate without exposing who it was. A nil
// *Redactor leaves values unchanged.
type Redactor struct {
	key []byte
}

// NewRedactor returns a redactor keyed with key, or nil when key is empty.
func NewRedactor(key string) (*Redactor, error) {
	if key == "" {
		return nil, nil
	}
	if len(key) > blake2b.Size {
		return nil, fmt.Errorf("redaction key must be at most %d bytes, got %d", blake2b.Size, len(key))
	}
	return &Redactor{key: []byte(key)}, nil
}

// Redact returns the digest of v as "h:<hex>". Empty values stay empty.
func (r *Redactor) Redact(v string) string {
	if r == nil || v == "" {
		return v
	}
	h, err := blake2b.New(redactedSize, r.key)
	if err != nil {
		// The key length was checked in NewRedactor.
		panic(err)
	}
	h.Write([]byte(v))
	return "h:" + hex.EncodeToString(h.Sum(nil))
}
