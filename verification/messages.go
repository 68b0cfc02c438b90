package verification

const (
	// -----------------------------
	// CHECK FAILURES
	// -----------------------------
	MsgAmountMismatch    = "amount mismatch"
	MsgAssetMismatch     = "asset mismatch"
	MsgChainMismatch     = "chain mismatch"
	MsgRecipientMismatch = "recipient mismatch"
	MsgNonceMismatch     = "request nonce does not match challenge nonce"
	MsgMissingNonce      = "challenge carries no nonce"
	MsgNonceConsumed     = "nonce already consumed"
	MsgChallengeExpired  = "challenge expired"
	MsgInvalidSignature  = "invalid receipt signature"
	MsgLedgerUnconfirmed = "ledger confirmation failed"
	MsgMalformedTxHash   = "malformed transaction hash"

	// -----------------------------
	// WARNINGS
	// -----------------------------
	WarnIssuedAtDefaulted = "receipt carried no issuedAt; verification time was used"
	WarnLedgerSkipped     = "on-chain confirmation skipped: no ledger client for chain"
)

// check labels used in metrics
const (
	checkAmount    = "amountMatch"
	checkChain     = "chainMatch"
	checkNonce     = "nonceValid"
	checkSignature = "signatureValid"
	checkLedger    = "ledgerConfirmed"
)
