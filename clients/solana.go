package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/vitwit/a402/types"
	"github.com/vitwit/a402/utils"
)

// SolanaClient confirms SOL and SPL token transfers.
type SolanaClient struct {
	network    types.Network
	rpcURL     string
	client     *rpc.Client
	assets     Assets
	commitment rpc.CommitmentType
}

var _ LedgerClient = (*SolanaClient)(nil)

func NewSolanaClient(network types.Network, rpcURL string, assets Assets) (*SolanaClient, error) {
	if !network.IsSolana() {
		return nil, &types.A402Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("network %s is not a Solana network", network),
		}
	}

	return &SolanaClient{
		network:    network,
		rpcURL:     rpcURL,
		client:     rpc.New(rpcURL),
		assets:     assets,
		commitment: rpc.CommitmentFinalized,
	}, nil
}

// Confirm implements LedgerClient.
func (c *SolanaClient) Confirm(ctx context.Context, req types.ConfirmRequest) *types.LedgerConfirmation {
	asset, ok := c.assets.Lookup(req.Asset)
	if !ok {
		return unsupportedAsset(req.Asset, c.network)
	}

	if err := utils.ValidateTransactionHash(req.TxHash, c.network); err != nil {
		return malformed("%s: %v", MsgMalformedHash, err)
	}
	sig, err := solana.SignatureFromBase58(req.TxHash)
	if err != nil {
		return malformed("%s: %v", MsgMalformedHash, err)
	}

	maxVersion := uint64(0)
	out, err := c.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     c.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return notFound("%s: %s", MsgTxNotFound, req.TxHash)
		}
		return rpcFailure(err)
	}
	if out == nil || out.Transaction == nil || out.Meta == nil {
		return notFound("%s: %s", MsgTxNotFound, req.TxHash)
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return rpcFailure(fmt.Errorf("decode transaction: %w", err))
	}

	keys := accountKeys(tx, out.Meta)
	conf := &types.LedgerConfirmation{Found: true}
	if len(keys) > 0 {
		conf.Sender = keys[0].String()
	}

	if out.Meta.Err != nil {
		conf.ErrorKind = types.LedgerErrFailedOnChain
		conf.Error = fmt.Sprintf("%s: %v", MsgFailedOnChain, out.Meta.Err)
		return conf
	}
	conf.Settled = true

	var d *deltas
	if asset.IsNative() {
		d = c.lamportDeltas(keys, out.Meta, asset.Decimals)
	} else {
		d, err = c.tokenDeltas(keys, out.Meta, asset)
		if err != nil {
			return rpcFailure(err)
		}
	}

	credited, ok := d.credit(req.ExpectedRecipient, conf.Sender)
	if !ok {
		conf.Error = fmt.Sprintf("%s: %s", MsgNoMatchingTransfer, asset.Symbol)
		return conf
	}
	if debited, ok := d.debit(req.ExpectedSender); ok {
		conf.Sender = debited.owner
	}

	conf.Recipient = credited.owner
	conf.AmountTransferred = credited.amount
	return conf
}

// accountKeys lists static keys followed by keys loaded from lookup tables,
// the order balance arrays are indexed in.
func accountKeys(tx *solana.Transaction, meta *rpc.TransactionMeta) solana.PublicKeySlice {
	keys := append(solana.PublicKeySlice{}, tx.Message.AccountKeys...)
	keys = append(keys, meta.LoadedAddresses.Writable...)
	keys = append(keys, meta.LoadedAddresses.ReadOnly...)
	return keys
}

func (c *SolanaClient) lamportDeltas(keys solana.PublicKeySlice, meta *rpc.TransactionMeta, decimals int) *deltas {
	d := &deltas{network: c.network}

	for i, key := range keys {
		if i >= len(meta.PreBalances) || i >= len(meta.PostBalances) {
			break
		}
		change := decimal.NewFromInt(int64(meta.PostBalances[i])).Sub(decimal.NewFromInt(int64(meta.PreBalances[i])))
		// fee payer
		if i == 0 {
			change = change.Add(decimal.NewFromInt(int64(meta.Fee)))
		}
		if change.IsZero() {
			continue
		}
		d.add(key.String(), change.Shift(int32(-decimals)))
	}
	return d
}

func (c *SolanaClient) tokenDeltas(keys solana.PublicKeySlice, meta *rpc.TransactionMeta, asset types.AssetInfo) (*deltas, error) {
	mint, err := solana.PublicKeyFromBase58(asset.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid mint %q for %s: %w", asset.Address, asset.Symbol, err)
	}

	d := &deltas{network: c.network}
	apply := func(balances []rpc.TokenBalance, sign int64) error {
		for _, b := range balances {
			if !b.Mint.Equals(mint) || b.UiTokenAmount == nil {
				continue
			}

			owner := tokenOwner(b, keys)
			if owner == "" {
				continue
			}

			amount, err := utils.AtomicStringToUnits(b.UiTokenAmount.Amount, asset.Decimals)
			if err != nil {
				return fmt.Errorf("token balance for %s: %w", owner, err)
			}
			d.add(owner, amount.Mul(decimal.NewFromInt(sign)))
		}
		return nil
	}

	if err := apply(meta.PreTokenBalances, -1); err != nil {
		return nil, err
	}
	if err := apply(meta.PostTokenBalances, 1); err != nil {
		return nil, err
	}
	return d, nil
}

// tokenOwner prefers the wallet owning the token account and falls back to
// the token account itself.
func tokenOwner(b rpc.TokenBalance, keys solana.PublicKeySlice) string {
	if b.Owner != nil && !b.Owner.IsZero() {
		return b.Owner.String()
	}
	if int(b.AccountIndex) < len(keys) {
		return keys[b.AccountIndex].String()
	}
	return ""
}

// Asset implements LedgerClient.
func (c *SolanaClient) Asset(symbol string) (types.AssetInfo, bool) {
	return c.assets.Lookup(symbol)
}

// GetNetwork implements LedgerClient.
func (c *SolanaClient) GetNetwork() types.Network {
	return c.network
}

// Close implements LedgerClient.
func (c *SolanaClient) Close() {
	_ = c.client.Close()
}
