package signing

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/vitwit/a402/types"
	"github.com/vitwit/a402/utils"
)

// Ed25519Verifier checks signatures against a published issuer public key.
type Ed25519Verifier struct {
	PublicKey ed25519.PublicKey
}

func NewEd25519Verifier(pubKeyBytes []byte) (*Ed25519Verifier, error) {
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: %d", len(pubKeyBytes))
	}
	return &Ed25519Verifier{PublicKey: ed25519.PublicKey(pubKeyBytes)}, nil
}

// ParseEd25519PublicKey decodes a hex or base64 public key.
func ParseEd25519PublicKey(s string) ([]byte, error) {
	b, err := utils.DecodeSignature(s)
	if err != nil {
		return nil, fmt.Errorf("ed25519 public key: %w", err)
	}
	return b, nil
}

func (v *Ed25519Verifier) Verify(r *types.Receipt) bool {
	msg, ok := Canonical(r)
	if !ok {
		return false
	}

	sig, err := utils.DecodeSignature(r.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}

	return ed25519.Verify(v.PublicKey, msg, sig)
}

// SignEd25519 returns the hex ed25519 signature of a receipt.
func SignEd25519(r *types.Receipt, priv ed25519.PrivateKey) (string, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("invalid private key size: %d", len(priv))
	}

	msg, ok := Canonical(r)
	if !ok {
		return "", fmt.Errorf("receipt has no canonical encoding")
	}
	return hex.EncodeToString(ed25519.Sign(priv, msg)), nil
}
