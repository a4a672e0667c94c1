package app

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeKeyHex(t *testing.T) {
	hexKey := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	decoded, err := DecodeKey(hexKey)
	require.NoError(t, err)

	expected, err := hex.DecodeString(hexKey)
	require.NoError(t, err)
	require.Equal(t, expected, decoded)
}

func TestDecodeKeyBase64(t *testing.T) {
	rawKey := make([]byte, 32)
	for i := range rawKey {
		rawKey[i] = byte(i)
	}

	decoded, err := DecodeKey(base64.StdEncoding.EncodeToString(rawKey))
	require.NoError(t, err)
	require.Equal(t, rawKey, decoded)

	decoded, err = DecodeKey(base64.RawStdEncoding.EncodeToString(rawKey[:31]))
	require.NoError(t, err)
	require.Equal(t, rawKey[:31], decoded)
}

func TestDecodeKeyRawBytes(t *testing.T) {
	rawKey := "this-is-a-raw-32-byte-key!!!"
	decoded, err := DecodeKey(rawKey)
	require.NoError(t, err)
	require.Equal(t, rawKey, string(decoded))

	_, err = DecodeKey("  ")
	require.Error(t, err)
}

func TestContactMasterKeyEnforcesLength(t *testing.T) {
	key, err := ContactMasterKey("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	require.Len(t, key, 32)

	_, err = ContactMasterKey("0123456789abcdef")
	require.ErrorContains(t, err, "at least 32 bytes")

	_, err = ContactMasterKey("")
	require.ErrorContains(t, err, "privacy.contact_key")
}
