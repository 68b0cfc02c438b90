package utils

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// DecodeSignature accepts hex (optionally 0x-prefixed) or base64 (standard
// or URL alphabet, padded or not).
func DecodeSignature(sig string) ([]byte, error) {
	sig = strings.TrimSpace(sig)
	if sig == "" {
		return nil, fmt.Errorf("signature is empty")
	}

	trimmed := strings.TrimPrefix(strings.TrimPrefix(sig, "0x"), "0X")
	if len(trimmed)%2 == 0 && isHexString(trimmed) {
		return hex.DecodeString(trimmed)
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(sig); err == nil {
			return b, nil
		}
	}

	return nil, fmt.Errorf("signature is neither hex nor base64")
}

// RecoverAddressFromSignature recovers the Ethereum address from a 65-byte
// [R || S || V] signature over hash.
func RecoverAddressFromSignature(hash []byte, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(signature))
	}

	sig := make([]byte, len(signature))
	copy(sig, signature)

	// Adjust recovery ID for Ethereum
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}

// PrivateKeyFromHex creates a private key from hex string
func PrivateKeyFromHex(hexKey string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
}

// AddressFromPrivateKey derives the Ethereum address from a private key
func AddressFromPrivateKey(privateKey *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(privateKey.PublicKey)
}

// SignHash signs a hash with the given private key
func SignHash(hash []byte, privateKey *ecdsa.PrivateKey) (string, error) {
	signature, err := crypto.Sign(hash, privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign hash: %w", err)
	}

	// personal_sign convention: V in {27, 28}
	signature[64] += 27

	return hexutil.Encode(signature), nil
}

// ValidateAddress checks if a string is a valid Ethereum address
func ValidateAddress(address string) bool {
	return common.IsHexAddress(address)
}

// SignPersonalMessage signs message with the Ethereum personal_sign prefix.
func SignPersonalMessage(message []byte, privateKey *ecdsa.PrivateKey) (string, error) {
	return SignHash(accounts.TextHash(message), privateKey)
}

// RecoverPersonalMessageSigner returns the address that produced a
// personal_sign signature over message.
func RecoverPersonalMessageSigner(message []byte, signature []byte) (common.Address, error) {
	return RecoverAddressFromSignature(accounts.TextHash(message), signature)
}

