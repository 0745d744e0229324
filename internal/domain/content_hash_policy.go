package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHashPolicy computes a stable hash over raw file bytes. It ensures
// idempotency: uploading the same file twice resolves to one document.
type ContentHashPolicy interface {
	Compute(content []byte) string
}

type contentHashPolicy struct{}

// NewContentHashPolicy creates the default SHA-256 policy.
func NewContentHashPolicy() ContentHashPolicy {
	return &contentHashPolicy{}
}

func (p *contentHashPolicy) Compute(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}
