package clients

import (
	"context"
	"errors"

	"github.com/vitwit/a402/types"
)

const (
	// -----------------------------
	// LOOKUP
	// -----------------------------
	MsgTxNotFound     = "transaction not found on chain"
	MsgMalformedHash  = "malformed transaction hash"
	MsgRPCFailure     = "ledger RPC failure"
	MsgLookupTimedOut = "ledger lookup timed out"

	// -----------------------------
	// RESULT
	// -----------------------------
	MsgFailedOnChain        = "transaction failed on chain"
	MsgUnsupportedAsset     = "asset not configured for network"
	MsgNoMatchingTransfer   = "no transfer of the asset found in transaction"
	MsgPendingConfirmations = "transaction has not reached the required confirmations"
)

func notFound(format string, args ...any) *types.LedgerConfirmation {
	return types.LedgerFailure(types.LedgerErrNotFound, format, args...)
}

func malformed(format string, args ...any) *types.LedgerConfirmation {
	return types.LedgerFailure(types.LedgerErrMalformed, format, args...)
}

func unsupportedAsset(symbol string, network types.Network) *types.LedgerConfirmation {
	return types.LedgerFailure(types.LedgerErrUnsupported, "%s: %s on %s", MsgUnsupportedAsset, symbol, network)
}

// rpcFailure classifies a transport error. Deadline expiry is reported
// separately so operators can tell slow nodes from broken ones.
func rpcFailure(err error) *types.LedgerConfirmation {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.LedgerFailure(types.LedgerErrRPC, "%s: %v", MsgLookupTimedOut, err)
	}
	return types.LedgerFailure(types.LedgerErrRPC, "%s: %v", MsgRPCFailure, err)
}
