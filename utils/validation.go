package utils

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/vitwit/a402/types"
)

var (
	hexPattern    = regexp.MustCompile("^[0-9a-fA-F]+$")
	base58Pattern = regexp.MustCompile("^[1-9A-HJ-NP-Za-km-z]+$")
)

// ValidateAmount checks if an amount string is a valid decimal
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	return &dec, nil
}

// AmountsEqual compares two decimal strings numerically. Either failing to
// parse counts as a mismatch.
func AmountsEqual(a, b string) bool {
	da, err := ValidateAmount(a)
	if err != nil {
		return false
	}
	db, err := ValidateAmount(b)
	if err != nil {
		return false
	}
	return da.Equal(*db)
}

// MinimumUnit is the smallest representable amount for an asset with the
// given number of decimals.
func MinimumUnit(decimals int) decimal.Decimal {
	return decimal.New(1, -int32(decimals))
}

// WithinMinimumUnit reports whether |a-b| is strictly less than one minimum
// unit of the asset.
func WithinMinimumUnit(a, b decimal.Decimal, decimals int) bool {
	return a.Sub(b).Abs().LessThan(MinimumUnit(decimals))
}

// ValidateTransactionHash checks that a transaction identifier is well formed
// for the network's chain family.
func ValidateTransactionHash(hash string, network types.Network) error {
	if hash == "" {
		return fmt.Errorf("transaction hash cannot be empty")
	}

	switch network.Family() {
	case types.ChainEVM:
		// 0x + 64 hex
		if !strings.HasPrefix(hash, "0x") {
			return fmt.Errorf("EVM transaction hash must start with 0x")
		}
		if len(hash) != 66 {
			return fmt.Errorf("EVM transaction hash must be 66 characters long")
		}
		if !isHexString(hash[2:]) {
			return fmt.Errorf("EVM transaction hash must be valid hex")
		}

	case types.ChainSui:
		// Sui digests are base58 encoded 32-byte hashes
		if !isBase58String(hash) {
			return fmt.Errorf("Sui transaction digest must be valid base58")
		}
		raw, err := base58.Decode(hash)
		if err != nil {
			return fmt.Errorf("Sui transaction digest must be valid base58: %w", err)
		}
		if len(raw) != 32 {
			return fmt.Errorf("Sui transaction digest must decode to 32 bytes, got %d", len(raw))
		}

	case types.ChainSolana:
		if !isBase58String(hash) {
			return fmt.Errorf("Solana transaction signature must be valid base58")
		}
		if _, err := solana.SignatureFromBase58(hash); err != nil {
			return fmt.Errorf("Solana transaction signature is invalid: %w", err)
		}

	default:
		return fmt.Errorf("unsupported network for transaction hash validation: %s", network)
	}

	return nil
}

// ValidateAddressForNetwork validates addresses for different networks
func ValidateAddressForNetwork(address string, network types.Network) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	switch network.Family() {
	case types.ChainEVM:
		if !common.IsHexAddress(address) {
			return fmt.Errorf("EVM address must be 0x followed by 40 hex characters")
		}

	case types.ChainSui:
		if !strings.HasPrefix(address, "0x") {
			return fmt.Errorf("Sui address must start with 0x")
		}
		if len(address) < 3 || len(address) > 66 {
			return fmt.Errorf("Sui address has invalid length")
		}
		if !isHexString(address[2:]) {
			return fmt.Errorf("Sui address must be valid hex")
		}

	case types.ChainSolana:
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			return fmt.Errorf("Solana address is invalid: %w", err)
		}

	default:
		return fmt.Errorf("unsupported network for address validation: %s", network)
	}

	return nil
}

// SameAddress compares two addresses the way the network does: hex
// addresses on EVM and Sui are case-insensitive and Sui short forms are
// zero-padded, everything else must match exactly.
func SameAddress(network types.Network, a, b string) bool {
	if a == b {
		return true
	}

	switch network.Family() {
	case types.ChainEVM:
		if common.IsHexAddress(a) && common.IsHexAddress(b) {
			return common.HexToAddress(a) == common.HexToAddress(b)
		}
		return strings.EqualFold(a, b)
	case types.ChainSui:
		return canonicalSuiAddress(a) == canonicalSuiAddress(b)
	default:
		return false
	}
}

func canonicalSuiAddress(addr string) string {
	hex := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X"))
	if hex == "" || len(hex) > 64 || !isHexString(hex) {
		return strings.ToLower(addr)
	}
	return "0x" + strings.Repeat("0", 64-len(hex)) + hex
}

// ValidateNetwork checks if a network is supported
func ValidateNetwork(network string) error {
	for _, supported := range types.KnownNetworks() {
		if types.Network(network) == supported {
			return nil
		}
	}

	return fmt.Errorf("unsupported network: %s", network)
}

// AtomicToUnits converts an integer amount of atomic units (wei, lamports,
// MIST) into asset units.
func AtomicToUnits(amount *big.Int, decimals int) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

// AtomicStringToUnits is AtomicToUnits for a base-10 string, as returned by
// JSON-RPC APIs that encode u64/u128 values as strings.
func AtomicStringToUnits(amount string, decimals int) (decimal.Decimal, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
	if !ok {
		return decimal.Zero, fmt.Errorf("invalid integer amount %q", amount)
	}
	return AtomicToUnits(n, decimals), nil
}

func isHexString(s string) bool {
	return hexPattern.MatchString(s)
}

func isBase58String(s string) bool {
	return base58Pattern.MatchString(s)
}
