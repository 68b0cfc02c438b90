package clients

import (
	"context"

	"github.com/vitwit/a402/types"
)

// LedgerClient looks up a settled transaction on one network. Confirm never
// returns a Go error: every failure is described by the confirmation's
// ErrorKind so callers can decide whether to retry.
type LedgerClient interface {
	Confirm(ctx context.Context, req types.ConfirmRequest) *types.LedgerConfirmation
	Asset(symbol string) (types.AssetInfo, bool)
	GetNetwork() types.Network
	Close()
}

// Assets is a network's asset table keyed by normalized symbol.
type Assets map[string]types.AssetInfo

// NewAssets merges overrides into the network defaults.
func NewAssets(network types.Network, overrides map[string]types.AssetInfo) Assets {
	a := Assets{}
	for k, v := range types.DefaultAssets(network) {
		a[types.AssetKey(k)] = v
	}
	for k, v := range overrides {
		if v.Symbol == "" {
			v.Symbol = k
		}
		a[types.AssetKey(k)] = v
	}
	return a
}

// Lookup finds an asset by symbol, case-insensitively.
func (a Assets) Lookup(symbol string) (types.AssetInfo, bool) {
	info, ok := a[types.AssetKey(symbol)]
	return info, ok
}

