package types

// ClientConfig holds the settings for one network's ledger client.
type ClientConfig struct {
	RPCUrl string `json:"rpcUrl" yaml:"rpc_url" toml:"rpc_url" validate:"required,url"`

	// Assets extends or overrides the built-in asset table, keyed by symbol.
	Assets map[string]AssetInfo `json:"assets,omitempty" yaml:"assets" toml:"assets"`

	// EVM only: blocks a receipt must be buried under before it counts.
	MinConfirmations uint64 `json:"minConfirmations,omitempty" yaml:"min_confirmations" toml:"min_confirmations"`
}
