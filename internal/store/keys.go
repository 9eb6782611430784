package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// documentKeySize is the SQLCipher key size in bytes (256 bits).
const documentKeySize = 32

// DeriveDocumentKey derives the SQLCipher key for a document database from
// the master key using HKDF-SHA256. The scope string provides domain
// separation so one master key can protect multiple databases.
func DeriveDocumentKey(masterKeyHex, scope string) (string, error) {
	masterKey, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return "", fmt.Errorf("master key is not valid hex: %w", err)
	}
	if len(masterKey) != documentKeySize {
		return "", fmt.Errorf("master key must be %d bytes, got %d", documentKeySize, len(masterKey))
	}

	info := "docdb:" + scope + ":v1"
	reader := hkdf.New(sha256.New, masterKey, nil, []byte(info))

	key := make([]byte, documentKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		// HKDF cannot fail to produce 32 bytes for valid inputs.
		panic(fmt.Sprintf("HKDF failed: %v", err))
	}
	return hex.EncodeToString(key), nil
}
