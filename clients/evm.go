package clients

import (
	"context"
	"errors"
	"fmt"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/vitwit/a402/types"
	"github.com/vitwit/a402/utils"
)

var _ LedgerClient = (*EVMClient)(nil)

// EVMClient confirms native and ERC-20 transfers on EVM networks.
type EVMClient struct {
	rpcURL           string
	network          types.Network
	client           *ethclient.Client
	assets           Assets
	minConfirmations uint64
}

func NewEVMClient(ctx context.Context, network types.Network, rpcURL string, assets Assets, minConfirmations uint64) (*EVMClient, error) {
	if !network.IsEVM() {
		return nil, &types.A402Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("network %s is not an EVM network", network),
		}
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum RPC: %w", err)
	}

	return &EVMClient{
		network:          network,
		rpcURL:           rpcURL,
		client:           client,
		assets:           assets,
		minConfirmations: minConfirmations,
	}, nil
}

// Confirm implements LedgerClient.
func (e *EVMClient) Confirm(ctx context.Context, req types.ConfirmRequest) *types.LedgerConfirmation {
	asset, ok := e.assets.Lookup(req.Asset)
	if !ok {
		return unsupportedAsset(req.Asset, e.network)
	}

	if err := utils.ValidateTransactionHash(req.TxHash, e.network); err != nil {
		return malformed("%s: %v", MsgMalformedHash, err)
	}
	hash := common.HexToHash(req.TxHash)

	receipt, err := e.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return notFound("%s: %s", MsgTxNotFound, req.TxHash)
		}
		return rpcFailure(err)
	}

	if e.minConfirmations > 0 && receipt.BlockNumber != nil {
		head, err := e.client.BlockNumber(ctx)
		if err != nil {
			return rpcFailure(err)
		}

		block := receipt.BlockNumber.Uint64()
		var confirmations uint64
		if head >= block {
			confirmations = head - block + 1
		}
		if confirmations < e.minConfirmations {
			conf := notFound("%s: %d of %d", MsgPendingConfirmations, confirmations, e.minConfirmations)
			conf.Found = true
			conf.Confirmations = confirmations
			return conf
		}
	}

	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return types.LedgerFailure(types.LedgerErrFailedOnChain, "%s: %s", MsgFailedOnChain, req.TxHash)
	}

	if asset.IsNative() {
		return e.confirmNative(ctx, receipt, asset)
	}
	return e.confirmToken(receipt, asset, req)
}

func (e *EVMClient) confirmToken(receipt *ethtypes.Receipt, asset types.AssetInfo, req types.ConfirmRequest) *types.LedgerConfirmation {
	token := common.HexToAddress(asset.Address)
	conf := &types.LedgerConfirmation{Found: true, Settled: true}

	var transfers []*erc20Transfer
	d := &deltas{network: e.network}

	for _, log := range receipt.Logs {
		transfer, ok := decodeTransferLog(log, token)
		if !ok {
			continue
		}
		transfers = append(transfers, transfer)

		amount := utils.AtomicToUnits(transfer.Value, asset.Decimals)
		d.add(transfer.To.Hex(), amount)
		d.add(transfer.From.Hex(), amount.Neg())
	}

	credited, ok := d.credit(req.ExpectedRecipient, "")
	if !ok {
		conf.Error = fmt.Sprintf("%s: %s", MsgNoMatchingTransfer, asset.Symbol)
		return conf
	}

	// the sender is whoever paid the credited owner, not any party in the tx
	payers := &deltas{network: e.network}
	for _, transfer := range transfers {
		if utils.SameAddress(e.network, transfer.To.Hex(), credited.owner) {
			payers.add(transfer.From.Hex(), utils.AtomicToUnits(transfer.Value, asset.Decimals))
		}
	}
	if payer, ok := payers.credit(req.ExpectedSender, credited.owner); ok {
		conf.Sender = payer.owner
	}

	conf.Recipient = credited.owner
	conf.AmountTransferred = credited.amount
	return conf
}

func (e *EVMClient) confirmNative(ctx context.Context, receipt *ethtypes.Receipt, asset types.AssetInfo) *types.LedgerConfirmation {
	tx, _, err := e.client.TransactionByHash(ctx, receipt.TxHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return notFound("%s: %s", MsgTxNotFound, receipt.TxHash.Hex())
		}
		return rpcFailure(err)
	}

	conf := &types.LedgerConfirmation{Found: true, Settled: true}

	from, err := e.client.TransactionSender(ctx, tx, receipt.BlockHash, receipt.TransactionIndex)
	if err == nil {
		conf.Sender = from.Hex()
	}

	if tx.To() == nil || tx.Value() == nil || tx.Value().Sign() == 0 {
		conf.Error = fmt.Sprintf("%s: %s", MsgNoMatchingTransfer, asset.Symbol)
		return conf
	}

	conf.Recipient = tx.To().Hex()
	conf.AmountTransferred = utils.AtomicToUnits(tx.Value(), asset.Decimals)
	return conf
}

// Asset implements LedgerClient.
func (e *EVMClient) Asset(symbol string) (types.AssetInfo, bool) {
	return e.assets.Lookup(symbol)
}

// GetNetwork implements LedgerClient.
func (e *EVMClient) GetNetwork() types.Network {
	return e.network
}

// Close implements LedgerClient.
func (e *EVMClient) Close() {
	e.client.Close()
}
