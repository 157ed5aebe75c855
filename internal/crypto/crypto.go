// Package crypto derives per-partition database keys from the master key.
//
// Each storage partition (one user's subtree) gets its own SQLCipher key,
// derived with HKDF-SHA256 so no key material is stored next to the data.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the size of the master key and of every derived key (256 bits).
const KeySize = 32

// ParseMasterKey decodes the hex MASTER_KEY value.
func ParseMasterKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("master key is not hex: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// DeriveKey derives the database key for a partition using HKDF-SHA256.
// info = "partition:" + partition + ":v" + version, so bumping the version
// rotates every key without touching the master key.
func DeriveKey(masterKey []byte, partition string, version int) []byte {
	info := fmt.Sprintf("partition:%s:v%d", partition, version)
	reader := hkdf.New(sha256.New, masterKey, nil, []byte(info))

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		// HKDF-SHA256 can emit up to 8160 bytes; 32 never fails.
		panic(fmt.Sprintf("HKDF failed: %v", err))
	}
	return key
}
