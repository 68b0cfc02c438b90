package types

import "strings"

// Network represents supported blockchain networks
type Network string

const (
	// Sui Networks
	NetworkSuiMainnet Network = "sui-mainnet"
	NetworkSuiTestnet Network = "sui-testnet" // testnet
	NetworkSuiDevnet  Network = "sui-devnet"  // testnet

	// EVM Networks
	NetworkPolygon     Network = "polygon"
	NetworkPolygonAmoy Network = "polygon-amoy" // testnet
	NetworkBaseSepolia Network = "base-sepolia" // testnet
	NetworkBase        Network = "base"

	// Solana Networks
	NetworkSolanaMainnet Network = "solana-mainnet"
	NetworkSolanaDevnet  Network = "solana-devnet" // testnet
)

// ChainFamily classifies a network into a blockchain family.
type ChainFamily string

const (
	ChainSui     ChainFamily = "sui"
	ChainEVM     ChainFamily = "evm"
	ChainSolana  ChainFamily = "solana"
	ChainUnknown ChainFamily = ""
)

// Helper functions for network classification
func (n Network) IsSui() bool {
	return n == NetworkSuiMainnet || n == NetworkSuiTestnet || n == NetworkSuiDevnet
}

func (n Network) IsEVM() bool {
	return n == NetworkPolygon || n == NetworkPolygonAmoy || n == NetworkBaseSepolia || n == NetworkBase
}

func (n Network) IsSolana() bool {
	return n == NetworkSolanaMainnet || n == NetworkSolanaDevnet
}

func (n Network) IsTestnet() bool {
	return n == NetworkSuiTestnet || n == NetworkSuiDevnet || n == NetworkPolygonAmoy ||
		n == NetworkBaseSepolia || n == NetworkSolanaDevnet
}

// Family returns the chain family of a known network, or ChainUnknown.
func (n Network) Family() ChainFamily {
	switch {
	case n.IsSui():
		return ChainSui
	case n.IsEVM():
		return ChainEVM
	case n.IsSolana():
		return ChainSolana
	default:
		return ChainUnknown
	}
}

func (n Network) String() string {
	return string(n)
}

// KnownNetworks lists every network the module can classify.
func KnownNetworks() []Network {
	return []Network{
		NetworkSuiMainnet, NetworkSuiTestnet, NetworkSuiDevnet,
		NetworkPolygon, NetworkPolygonAmoy, NetworkBase, NetworkBaseSepolia,
		NetworkSolanaMainnet, NetworkSolanaDevnet,
	}
}

// AssetInfo describes how an asset symbol is represented on one network.
type AssetInfo struct {
	Symbol   string `json:"symbol" yaml:"symbol" toml:"symbol" validate:"required"`
	Decimals int    `json:"decimals" yaml:"decimals" toml:"decimals" validate:"gte=0,lte=36"`

	// Sui coin type (e.g. "0x...::usdc::USDC"), Solana mint or EVM token
	// contract. Empty means the chain's native asset.
	Address string `json:"address,omitempty" yaml:"address" toml:"address"`
}

// IsNative reports whether the asset is the network's native coin.
func (a AssetInfo) IsNative() bool {
	return a.Address == ""
}

// AssetKey normalizes an asset symbol for lookups.
func AssetKey(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// DefaultAssets returns the built-in asset table for a network. Operators
// override or extend it through configuration.
func DefaultAssets(n Network) map[string]AssetInfo {
	switch n {
	case NetworkSuiMainnet:
		return map[string]AssetInfo{
			"SUI":  {Symbol: "SUI", Decimals: 9, Address: "0x2::sui::SUI"},
			"USDC": {Symbol: "USDC", Decimals: 6, Address: "0xdba34672e30cb065b1f93e3ab55318768fd6fef66c15942c9f7cb846e2f900e7::usdc::USDC"},
		}
	case NetworkSuiTestnet:
		return map[string]AssetInfo{
			"SUI":  {Symbol: "SUI", Decimals: 9, Address: "0x2::sui::SUI"},
			"USDC": {Symbol: "USDC", Decimals: 6, Address: "0xa1ec7fc00a6f40db9693ad1415d0c193ad3906494428cf252621037bd7117e29::usdc::USDC"},
		}
	case NetworkSuiDevnet:
		return map[string]AssetInfo{
			"SUI": {Symbol: "SUI", Decimals: 9, Address: "0x2::sui::SUI"},
		}
	case NetworkBase:
		return map[string]AssetInfo{
			"ETH":  {Symbol: "ETH", Decimals: 18},
			"USDC": {Symbol: "USDC", Decimals: 6, Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"},
		}
	case NetworkBaseSepolia:
		return map[string]AssetInfo{
			"ETH":  {Symbol: "ETH", Decimals: 18},
			"USDC": {Symbol: "USDC", Decimals: 6, Address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e"},
		}
	case NetworkPolygon:
		return map[string]AssetInfo{
			"POL":  {Symbol: "POL", Decimals: 18},
			"USDC": {Symbol: "USDC", Decimals: 6, Address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"},
		}
	case NetworkPolygonAmoy:
		return map[string]AssetInfo{
			"POL":  {Symbol: "POL", Decimals: 18},
			"USDC": {Symbol: "USDC", Decimals: 6, Address: "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582"},
		}
	case NetworkSolanaMainnet:
		return map[string]AssetInfo{
			"SOL":  {Symbol: "SOL", Decimals: 9},
			"USDC": {Symbol: "USDC", Decimals: 6, Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"},
		}
	case NetworkSolanaDevnet:
		return map[string]AssetInfo{
			"SOL":  {Symbol: "SOL", Decimals: 9},
			"USDC": {Symbol: "USDC", Decimals: 6, Address: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"},
		}
	default:
		return map[string]AssetInfo{}
	}
}
