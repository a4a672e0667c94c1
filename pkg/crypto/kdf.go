package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveSubkey expands a master secret into a purpose-bound key with HKDF-SHA256. Distinct
// purposes yield independent keys from the same master secret.
func DeriveSubkey(master []byte, purpose string, length int) ([]byte, error) {
	if len(master) < 16 {
		return nil, fmt.Errorf("hkdf: master secret must be at least 16 bytes (got %d)", len(master))
	}
	if purpose == "" {
		return nil, fmt.Errorf("hkdf: purpose is required")
	}
	switch length {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("hkdf: key length must be 16, 24, or 32 bytes (got %d)", length)
	}

	reader := hkdf.New(sha256.New, master, nil, []byte(purpose))
	key := make([]byte, length)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("hkdf: expand: %w", err)
	}
	return key, nil
}
