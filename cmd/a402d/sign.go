package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vitwit/a402/signing"
	"github.com/vitwit/a402/types"
	"github.com/vitwit/a402/utils"
)

func newSignCmd() *cobra.Command {
	var scheme, key, receiptFile string

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a receipt as an issuer would",
		Long: `Sign a receipt with issuer key material and print the receipt with its
signature filled in. Useful for testing a deployment end to end.

KEYS:
  hmac-sha256  the shared secret
  secp256k1    hex private key
  ed25519      hex 32-byte seed or 64-byte private key

EXAMPLES:
  a402d sign --scheme hmac-sha256 --key "$A402_SECRET" --receipt receipt.json
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(receiptFile)
			if err != nil {
				return fmt.Errorf("reading receipt: %w", err)
			}

			var r types.Receipt
			if err := json.Unmarshal(data, &r); err != nil {
				return fmt.Errorf("parsing receipt: %w", err)
			}

			sig, err := signReceipt(signing.Scheme(scheme), key, &r)
			if err != nil {
				return err
			}
			r.Signature = sig
			return printJSON(&r)
		},
	}

	cmd.Flags().StringVar(&scheme, "scheme", string(signing.SchemeHMAC), "signature scheme")
	cmd.Flags().StringVar(&key, "key", "", "issuer key (required)")
	cmd.Flags().StringVar(&receiptFile, "receipt", "", "receipt JSON file (required)")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("receipt")

	return cmd
}

func signReceipt(scheme signing.Scheme, key string, r *types.Receipt) (string, error) {
	switch scheme {
	case signing.SchemeHMAC:
		return signing.SignHMAC(r, []byte(key))

	case signing.SchemeSecp256k1:
		priv, err := utils.PrivateKeyFromHex(key)
		if err != nil {
			return "", err
		}
		return signing.SignSecp256k1(r, priv)

	case signing.SchemeEd25519:
		raw, err := hex.DecodeString(strings.TrimPrefix(key, "0x"))
		if err != nil {
			return "", fmt.Errorf("invalid ed25519 key: %w", err)
		}
		switch len(raw) {
		case ed25519.SeedSize:
			return signing.SignEd25519(r, ed25519.NewKeyFromSeed(raw))
		case ed25519.PrivateKeySize:
			return signing.SignEd25519(r, ed25519.PrivateKey(raw))
		default:
			return "", fmt.Errorf("invalid ed25519 key length %d", len(raw))
		}
	}

	return "", fmt.Errorf("unknown signature scheme %q", scheme)
}
