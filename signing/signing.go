// Package signing validates facilitator signatures over receipts.
//
// Every scheme signs the same canonical byte string: the receipt fields id,
// requestNonce, payer, merchant, amount, asset, chain, txHash and issuedAt
// joined with '\n', issuedAt rendered as decimal Unix seconds.
package signing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vitwit/a402/types"
)

// Scheme names a signature algorithm.
type Scheme string

const (
	SchemeHMAC      Scheme = "hmac-sha256"
	SchemeSecp256k1 Scheme = "secp256k1"
	SchemeEd25519   Scheme = "ed25519"
)

// Separator joins canonical fields.
const Separator = "\n"

// Verifier reports whether a receipt carries a valid facilitator signature.
// Implementations never panic and never return errors for malformed input.
type Verifier interface {
	Verify(r *types.Receipt) bool
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(r *types.Receipt) bool

func (f VerifierFunc) Verify(r *types.Receipt) bool {
	return f(r)
}

// Canonical returns the signed byte string for a receipt. It reports false
// when a field contains the separator, since such a receipt has no
// unambiguous encoding.
func Canonical(r *types.Receipt) ([]byte, bool) {
	if r == nil {
		return nil, false
	}

	fields := []string{
		r.ID,
		r.RequestNonce,
		r.Payer,
		r.Merchant,
		r.Amount,
		r.Asset,
		r.Chain,
		r.TxHash,
		strconv.FormatInt(r.IssuedAt, 10),
	}

	for _, f := range fields {
		if strings.Contains(f, Separator) {
			return nil, false
		}
	}

	return []byte(strings.Join(fields, Separator)), true
}

// KeySet accepts a receipt if any member accepts it. Used for key rotation.
type KeySet []Verifier

func (k KeySet) Verify(r *types.Receipt) bool {
	for _, v := range k {
		if v != nil && v.Verify(r) {
			return true
		}
	}
	return false
}

// NewVerifier builds a verifier for scheme from textual key material. For
// HMAC each key is a shared secret; for secp256k1 an issuer address; for
// ed25519 a hex or base64 public key. More than one key yields a KeySet.
func NewVerifier(scheme Scheme, keys []string) (Verifier, error) {
	if len(keys) == 0 {
		return nil, &types.A402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("no issuer key material configured for scheme %q", scheme),
		}
	}

	set := make(KeySet, 0, len(keys))
	for i, key := range keys {
		var (
			v   Verifier
			err error
		)

		switch scheme {
		case SchemeHMAC:
			v, err = NewHMACVerifier([]byte(key))
		case SchemeSecp256k1:
			v, err = NewSecp256k1Verifier(key)
		case SchemeEd25519:
			var pub []byte
			pub, err = ParseEd25519PublicKey(key)
			if err == nil {
				v, err = NewEd25519Verifier(pub)
			}
		default:
			err = fmt.Errorf("unknown signature scheme %q", scheme)
		}

		if err != nil {
			return nil, &types.A402Error{
				Code:    types.ErrConfigError,
				Message: fmt.Sprintf("signing key %d", i),
				Err:     err,
			}
		}
		set = append(set, v)
	}

	if len(set) == 1 {
		return set[0], nil
	}
	return set, nil
}
