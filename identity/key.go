package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // address format is fixed to RIPEMD-160

	"github.com/ineyio/quotarelay"
)

// ParsePrivateKey decodes a hex string (optionally 0x-prefixed) into a
// secp256k1 private key.
func ParsePrivateKey(hexKey string) (*secp256k1.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	hexKey = strings.TrimPrefix(hexKey, "0X")

	keyBytes, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("identity: invalid private key hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("identity: private key must be 32 bytes, got %d", len(keyBytes))
	}

	privKey := secp256k1.PrivKeyFromBytes(keyBytes)
	if privKey.Key.IsZero() {
		return nil, fmt.Errorf("identity: private key is zero")
	}
	return privKey, nil
}

// AccountOf derives the account for a public key:
// compressed pubkey -> SHA256 -> RIPEMD160 -> bech32(prefix).
func AccountOf(pub *secp256k1.PublicKey, prefix string) (quotarelay.Account, error) {
	sha := sha256.Sum256(pub.SerializeCompressed())

	h := ripemd160.New()
	h.Write(sha[:])

	addr, err := encodeBech32(prefix, h.Sum(nil))
	if err != nil {
		return "", fmt.Errorf("identity: derive account: %w", err)
	}
	return quotarelay.Account(addr), nil
}
