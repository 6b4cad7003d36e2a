package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed hashes.
// Version suffix enables future algorithm migration.
const (
	DomainDeclarations = "depflow/declarations/v1"
	DomainPayload      = "depflow/payload/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DeclarationsHash fingerprints a dependency set. Two sets with the same
// declarations in the same order hash identically.
func DeclarationsHash(decls []Declaration) (string, error) {
	canonical, err := MarshalCanonical(decls)
	if err != nil {
		return "", fmt.Errorf("DeclarationsHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDeclarations, canonical), nil
}

// PayloadHash fingerprints the data of an outbound call. The audit log uses
// it to group identical calls.
func PayloadHash(fnIndex int, data []any, eventData any) (string, error) {
	obj := map[string]any{
		"fn_index":   fnIndex,
		"data":       data,
		"event_data": eventData,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("PayloadHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainPayload, canonical), nil
}

// MustPayloadHash is like PayloadHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustPayloadHash(fnIndex int, data []any, eventData any) string {
	h, err := PayloadHash(fnIndex, data, eventData)
	if err != nil {
		panic(err)
	}
	return h
}
