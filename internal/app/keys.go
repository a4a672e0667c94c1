package app

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// MinContactKeyBytes is the shortest contact master key accepted at start-up.
const MinContactKeyBytes = 32

// DecodeKey decodes a key from hex or base64 encoding to raw bytes.
// Hex is tried first because generated keys are hex encoded; input that is neither is used as-is.
func DecodeKey(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, fmt.Errorf("key value is empty")
	}

	if len(v)%2 == 0 {
		if decoded, err := hex.DecodeString(v); err == nil {
			return decoded, nil
		}
	}

	if decoded, err := base64.StdEncoding.DecodeString(v); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.RawStdEncoding.DecodeString(v); err == nil {
		return decoded, nil
	}

	return []byte(v), nil
}

// ContactMasterKey decodes the configured contact key and enforces its minimum length.
func ContactMasterKey(value string) ([]byte, error) {
	key, err := DecodeKey(value)
	if err != nil {
		return nil, fmt.Errorf("privacy.contact_key: %w", err)
	}
	if len(key) < MinContactKeyBytes {
		return nil, fmt.Errorf("privacy.contact_key: must decode to at least %d bytes (got %d)", MinContactKeyBytes, len(key))
	}
	return key, nil
}
