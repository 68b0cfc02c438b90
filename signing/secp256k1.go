package signing

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/a402/types"
	"github.com/vitwit/a402/utils"
)

// Secp256k1Verifier checks Ethereum personal_sign signatures over the
// canonical receipt bytes against a set of issuer addresses.
type Secp256k1Verifier struct {
	issuers map[common.Address]struct{}
}

func NewSecp256k1Verifier(addresses ...string) (*Secp256k1Verifier, error) {
	if len(addresses) == 0 {
		return nil, fmt.Errorf("at least one issuer address is required")
	}

	issuers := make(map[common.Address]struct{}, len(addresses))
	for _, a := range addresses {
		if !utils.ValidateAddress(a) {
			return nil, fmt.Errorf("invalid issuer address %q", a)
		}
		issuers[common.HexToAddress(a)] = struct{}{}
	}

	return &Secp256k1Verifier{issuers: issuers}, nil
}

func (v *Secp256k1Verifier) Verify(r *types.Receipt) bool {
	msg, ok := Canonical(r)
	if !ok {
		return false
	}

	sig, err := utils.DecodeSignature(r.Signature)
	if err != nil {
		return false
	}

	signer, err := utils.RecoverPersonalMessageSigner(msg, sig)
	if err != nil {
		return false
	}

	_, ok = v.issuers[signer]
	return ok
}

// SignSecp256k1 returns a 0x-prefixed personal_sign signature of a receipt.
func SignSecp256k1(r *types.Receipt, key *ecdsa.PrivateKey) (string, error) {
	msg, ok := Canonical(r)
	if !ok {
		return "", fmt.Errorf("receipt has no canonical encoding")
	}
	return utils.SignPersonalMessage(msg, key)
}
