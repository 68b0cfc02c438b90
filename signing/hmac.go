package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/vitwit/a402/types"
	"github.com/vitwit/a402/utils"
)

// HMACVerifier checks HMAC-SHA256 signatures made with a shared facilitator secret.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret []byte) (*HMACVerifier, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("hmac secret cannot be empty")
	}
	return &HMACVerifier{secret: append([]byte(nil), secret...)}, nil
}

func (v *HMACVerifier) Verify(r *types.Receipt) bool {
	msg, ok := Canonical(r)
	if !ok {
		return false
	}

	sig, err := utils.DecodeSignature(r.Signature)
	if err != nil {
		return false
	}

	return hmac.Equal(sig, macOf(v.secret, msg))
}

// SignHMAC returns the hex HMAC-SHA256 signature of a receipt.
func SignHMAC(r *types.Receipt, secret []byte) (string, error) {
	msg, ok := Canonical(r)
	if !ok {
		return "", fmt.Errorf("receipt has no canonical encoding")
	}
	return hex.EncodeToString(macOf(secret, msg)), nil
}

func macOf(secret, msg []byte) []byte {
	m := hmac.New(sha256.New, secret)
	m.Write(msg)
	return m.Sum(nil)
}
