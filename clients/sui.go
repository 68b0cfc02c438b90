package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/vitwit/a402/types"
	"github.com/vitwit/a402/utils"
)

var _ LedgerClient = (*SuiClient)(nil)

// SuiClient confirms transactions through the Sui JSON-RPC API.
type SuiClient struct {
	network types.Network
	rpcURL  string
	client  *rpc.Client
	assets  Assets
}

func NewSuiClient(ctx context.Context, network types.Network, rpcURL string, assets Assets) (*SuiClient, error) {
	if !network.IsSui() {
		return nil, &types.A402Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("network %s is not a Sui network", network),
		}
	}

	client, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Sui RPC: %w", err)
	}

	return &SuiClient{
		network: network,
		rpcURL:  rpcURL,
		client:  client,
		assets:  assets,
	}, nil
}

type suiTransactionBlock struct {
	Digest      string `json:"digest"`
	Transaction *struct {
		Data struct {
			Sender string `json:"sender"`
		} `json:"data"`
	} `json:"transaction"`
	Effects *struct {
		Status struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"status"`
	} `json:"effects"`
	BalanceChanges []suiBalanceChange `json:"balanceChanges"`
}

type suiBalanceChange struct {
	Owner    json.RawMessage `json:"owner"`
	CoinType string          `json:"coinType"`
	Amount   string          `json:"amount"`
}

// address returns the owning account, or "" for object-owned and shared coins.
func (b suiBalanceChange) address() string {
	var owner struct {
		AddressOwner string `json:"AddressOwner"`
	}
	if err := json.Unmarshal(b.Owner, &owner); err != nil {
		return ""
	}
	return owner.AddressOwner
}

var suiBlockOptions = map[string]bool{
	"showInput":          true,
	"showEffects":        true,
	"showBalanceChanges": true,
}

// Confirm implements LedgerClient.
func (c *SuiClient) Confirm(ctx context.Context, req types.ConfirmRequest) *types.LedgerConfirmation {
	asset, ok := c.assets.Lookup(req.Asset)
	if !ok {
		return unsupportedAsset(req.Asset, c.network)
	}

	if err := utils.ValidateTransactionHash(req.TxHash, c.network); err != nil {
		return malformed("%s: %v", MsgMalformedHash, err)
	}

	var block *suiTransactionBlock
	err := c.client.CallContext(ctx, &block, "sui_getTransactionBlock", req.TxHash, suiBlockOptions)
	if err != nil {
		if isSuiNotFound(err) {
			return notFound("%s: %s", MsgTxNotFound, req.TxHash)
		}
		return rpcFailure(err)
	}
	if block == nil {
		return notFound("%s: %s", MsgTxNotFound, req.TxHash)
	}
	if block.Effects == nil {
		return rpcFailure(fmt.Errorf("response for %s carries no effects", req.TxHash))
	}

	conf := &types.LedgerConfirmation{Found: true}
	if block.Transaction != nil {
		conf.Sender = block.Transaction.Data.Sender
	}

	if block.Effects.Status.Status != "success" {
		conf.ErrorKind = types.LedgerErrFailedOnChain
		conf.Error = fmt.Sprintf("%s: %s", MsgFailedOnChain, block.Effects.Status.Error)
		return conf
	}
	conf.Settled = true

	d := &deltas{network: c.network}
	coinType := canonicalCoinType(asset.Address)
	if asset.IsNative() {
		coinType = canonicalCoinType("0x2::sui::SUI")
	}

	for _, bc := range block.BalanceChanges {
		if canonicalCoinType(bc.CoinType) != coinType {
			continue
		}
		owner := bc.address()
		if owner == "" {
			continue
		}
		amount, err := utils.AtomicStringToUnits(bc.Amount, asset.Decimals)
		if err != nil {
			return rpcFailure(fmt.Errorf("balance change for %s: %w", owner, err))
		}
		d.add(owner, amount)
	}

	credited, ok := d.credit(req.ExpectedRecipient, conf.Sender)
	if !ok {
		conf.Error = fmt.Sprintf("%s: %s", MsgNoMatchingTransfer, asset.Symbol)
		return conf
	}

	conf.Recipient = credited.owner
	conf.AmountTransferred = credited.amount
	return conf
}

func isSuiNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Could not find the referenced transaction") ||
		strings.Contains(msg, "not found")
}

// canonicalCoinType zero-pads the package address of a Move type so short
// and long forms compare equal.
func canonicalCoinType(t string) string {
	parts := strings.SplitN(t, "::", 2)
	if len(parts) != 2 {
		return strings.ToLower(t)
	}

	addr := strings.ToLower(strings.TrimPrefix(parts[0], "0x"))
	if len(addr) < 64 {
		addr = strings.Repeat("0", 64-len(addr)) + addr
	}
	return "0x" + addr + "::" + parts[1]
}

// Asset implements LedgerClient.
func (c *SuiClient) Asset(symbol string) (types.AssetInfo, bool) {
	return c.assets.Lookup(symbol)
}

// GetNetwork implements LedgerClient.
func (c *SuiClient) GetNetwork() types.Network {
	return c.network
}

// Close implements LedgerClient.
func (c *SuiClient) Close() {
	c.client.Close()
}
