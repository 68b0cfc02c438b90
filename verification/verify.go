package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/vitwit/a402/confirmation"
	"github.com/vitwit/a402/logger"
	"github.com/vitwit/a402/metrics"
	"github.com/vitwit/a402/nonce"
	"github.com/vitwit/a402/signing"
	"github.com/vitwit/a402/types"
	"github.com/vitwit/a402/utils"
)

// DefaultNonceTimeout bounds a single nonce ledger call.
const DefaultNonceTimeout = 5 * time.Second

// Verifier checks a receipt against the challenge it answers.
type Verifier interface {
	Verify(ctx context.Context, challenge types.Challenge, raw map[string]any) (*types.VerificationResult, error)
}

var _ Verifier = (*Engine)(nil)

// Engine runs every check for a receipt and reports all of them. It holds
// no per-request state and is safe for concurrent use.
type Engine struct {
	signatures   signing.Verifier
	nonces       nonce.Ledger
	confirmer    confirmation.Confirmer
	nonceTimeout time.Duration

	logger  logger.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

type Option func(*Engine)

// WithConfirmer enables on-chain confirmation. Without it every result
// reports the ledger as skipped.
func WithConfirmer(c confirmation.Confirmer) Option {
	return func(e *Engine) {
		e.confirmer = c
	}
}

func WithNonceTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.nonceTimeout = d
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.logger = logger.OrNoop(l)
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) {
		e.metrics = metrics.OrNoop(r)
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates a verification engine. Issuer key material and a nonce
// ledger are mandatory.
func NewEngine(signatures signing.Verifier, nonces nonce.Ledger, opts ...Option) (*Engine, error) {
	if signatures == nil {
		return nil, &types.A402Error{Code: types.ErrConfigError, Message: "no signature verifier configured"}
	}
	if nonces == nil {
		return nil, &types.A402Error{Code: types.ErrConfigError, Message: "no nonce ledger configured"}
	}

	e := &Engine{
		signatures:   signatures,
		nonces:       nonces,
		nonceTimeout: DefaultNonceTimeout,
		logger:       logger.NoopLogger{},
		metrics:      metrics.NoopRecorder{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// nonceOutcome and ledgerOutcome carry each concurrent step's verdict.
type nonceOutcome struct {
	ok     bool
	reason string
}

type ledgerOutcome struct {
	ok      bool
	status  types.LedgerStatus
	reason  string
	warning string
}

// Verify normalizes raw and checks it against challenge. The returned error
// is reserved for an unavailable nonce ledger and caller cancellation; every
// problem with the receipt itself is reported in the result.
//
// The nonce is consumed by the first receipt that names it, whether or not
// the remaining checks pass, and stays consumed if ctx is cancelled.
func (e *Engine) Verify(ctx context.Context, challenge types.Challenge, raw map[string]any) (*types.VerificationResult, error) {
	start := e.now()
	network := types.Network(challenge.Chain)

	receipt, err := utils.NormalizeReceiptAt(raw, start)
	if err != nil {
		result := &types.VerificationResult{
			Valid:  false,
			Errors: []string{err.Error()},
			Ledger: types.LedgerUnconfirmedStatus,
		}
		e.record(network, result, start)
		return result, nil
	}

	result := &types.VerificationResult{Receipt: receipt}
	if receipt.IssuedAtDefaulted {
		result.Warnings = append(result.Warnings, WarnIssuedAtDefaulted)
	}

	var (
		nonceRes  nonceOutcome
		ledgerRes ledgerOutcome
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		nonceRes, err = e.consumeNonce(ctx, challenge, receipt)
		return err
	})
	g.Go(func() error {
		var err error
		ledgerRes, err = e.confirmLedger(gctx, challenge, receipt)
		return err
	})

	amountOK, amountReason := amountMatches(challenge, receipt)
	chainOK, chainReason := chainMatches(challenge, receipt)
	signatureOK := e.signatures.Verify(receipt)

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		e.logger.Error("verification aborted", map[string]any{
			"nonce": challenge.Nonce,
			"chain": challenge.Chain,
			"error": err,
		})
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result.Checks = types.Checks{
		AmountMatch:     amountOK,
		ChainMatch:      chainOK,
		NonceValid:      nonceRes.ok,
		SignatureValid:  signatureOK,
		LedgerConfirmed: ledgerRes.ok,
	}
	result.Ledger = ledgerRes.status
	if ledgerRes.warning != "" {
		result.Warnings = append(result.Warnings, ledgerRes.warning)
	}

	if !amountOK {
		result.Errors = append(result.Errors, amountReason)
	}
	if !chainOK {
		result.Errors = append(result.Errors, chainReason)
	}
	if !nonceRes.ok {
		result.Errors = append(result.Errors, nonceRes.reason)
	}
	if !signatureOK {
		result.Errors = append(result.Errors, MsgInvalidSignature)
	}
	if ledgerRes.status != types.LedgerSkippedStatus && !ledgerRes.ok {
		result.Errors = append(result.Errors, ledgerRes.reason)
	}

	result.Valid = amountOK && chainOK && nonceRes.ok && signatureOK &&
		(ledgerRes.status == types.LedgerSkippedStatus || ledgerRes.ok)
	if result.Errors == nil {
		result.Errors = []string{}
	}

	e.record(network, result, start)
	return result, nil
}

// amountMatches compares the amount and the asset it is denominated in.
func amountMatches(challenge types.Challenge, receipt *types.Receipt) (bool, string) {
	if types.AssetKey(receipt.Asset) != types.AssetKey(challenge.Asset) {
		return false, fmt.Sprintf("%s: receipt %q, challenge %q", MsgAssetMismatch, receipt.Asset, challenge.Asset)
	}
	if !utils.AmountsEqual(receipt.Amount, challenge.Amount) {
		return false, fmt.Sprintf("%s: receipt %q, challenge %q", MsgAmountMismatch, receipt.Amount, challenge.Amount)
	}
	return true, ""
}

func chainMatches(challenge types.Challenge, receipt *types.Receipt) (bool, string) {
	if receipt.Chain != challenge.Chain {
		return false, fmt.Sprintf("%s: receipt %q, challenge %q", MsgChainMismatch, receipt.Chain, challenge.Chain)
	}
	if !utils.SameAddress(types.Network(challenge.Chain), receipt.Merchant, challenge.Recipient) {
		return false, fmt.Sprintf("%s: receipt %q, challenge %q", MsgRecipientMismatch, receipt.Merchant, challenge.Recipient)
	}
	return true, ""
}

// consumeNonce spends the challenge nonce. It runs detached from the
// caller's cancellation so an abandoned request still spends it. A
// challenge without a nonce never consumes anything.
func (e *Engine) consumeNonce(ctx context.Context, challenge types.Challenge, receipt *types.Receipt) (nonceOutcome, error) {
	if challenge.Nonce == "" {
		return nonceOutcome{reason: MsgMissingNonce}, nil
	}
	if receipt.RequestNonce != challenge.Nonce {
		return nonceOutcome{reason: MsgNonceMismatch}, nil
	}

	consumeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.nonceTimeout)
	defer cancel()

	outcome, err := e.nonces.TryConsume(consumeCtx, challenge.Nonce, challenge.ExpiryTime())
	if err != nil {
		return nonceOutcome{}, &types.A402Error{
			Code:    types.ErrNonceStoreUnavailable,
			Message: "nonce ledger unavailable",
			Err:     err,
		}
	}

	switch outcome {
	case types.ConsumeAccepted:
		return nonceOutcome{ok: true}, nil
	case types.ConsumeAlreadyConsumed:
		e.metrics.IncCounter(metrics.NonceReplay, map[string]string{"network": challenge.Chain})
		return nonceOutcome{reason: MsgNonceConsumed}, nil
	case types.ConsumeExpired:
		return nonceOutcome{reason: MsgChallengeExpired}, nil
	default:
		return nonceOutcome{reason: fmt.Sprintf("unexpected nonce outcome %s", outcome)}, nil
	}
}

// confirmLedger checks the transaction on the chain the challenge names.
// A hash that cannot exist on that chain fails without a lookup.
func (e *Engine) confirmLedger(ctx context.Context, challenge types.Challenge, receipt *types.Receipt) (ledgerOutcome, error) {
	network := types.Network(challenge.Chain)

	if network.Family() != types.ChainUnknown {
		if err := utils.ValidateTransactionHash(receipt.TxHash, network); err != nil {
			return ledgerOutcome{
				status: types.LedgerUnconfirmedStatus,
				reason: fmt.Sprintf("%s: %v", MsgMalformedTxHash, err),
			}, nil
		}
	}

	if e.confirmer == nil || !e.confirmer.IsNetworkSupported(network) {
		return ledgerOutcome{
			status:  types.LedgerSkippedStatus,
			warning: fmt.Sprintf("%s %s", WarnLedgerSkipped, challenge.Chain),
		}, nil
	}

	conf, err := e.confirmer.Confirm(ctx, types.ConfirmRequest{
		Chain:             network,
		TxHash:            receipt.TxHash,
		Asset:             challenge.Asset,
		ExpectedSender:    receipt.Payer,
		ExpectedRecipient: challenge.Recipient,
		ExpectedAmount:    challenge.Amount,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ledgerOutcome{}, err
		}
		return ledgerOutcome{
			status: types.LedgerUnconfirmedStatus,
			reason: fmt.Sprintf("%s: %v", MsgLedgerUnconfirmed, err),
		}, nil
	}

	decimals := 0
	if asset, ok := e.confirmer.Asset(network, challenge.Asset); ok {
		decimals = asset.Decimals
	}

	if reason := settlementMismatch(network, conf, challenge, receipt, decimals); reason != "" {
		return ledgerOutcome{
			status: types.LedgerUnconfirmedStatus,
			reason: fmt.Sprintf("%s: %s", MsgLedgerUnconfirmed, reason),
		}, nil
	}
	return ledgerOutcome{ok: true, status: types.LedgerConfirmedStatus}, nil
}

// settlementMismatch returns why conf does not prove the payment, or "".
func settlementMismatch(
	network types.Network,
	conf *types.LedgerConfirmation,
	challenge types.Challenge,
	receipt *types.Receipt,
	decimals int,
) string {
	switch {
	case conf == nil:
		return "no confirmation"
	case !conf.Found:
		return conf.Error
	case !conf.Settled:
		if conf.Error != "" {
			return conf.Error
		}
		return "transaction not settled"
	case conf.Error != "":
		return conf.Error
	}

	expected, err := decimal.NewFromString(challenge.Amount)
	if err != nil {
		return fmt.Sprintf("challenge amount %q is not a decimal", challenge.Amount)
	}
	if !utils.WithinMinimumUnit(conf.AmountTransferred, expected, decimals) {
		return fmt.Sprintf("transferred %s %s, expected %s", conf.AmountTransferred.String(), challenge.Asset, challenge.Amount)
	}

	if !utils.SameAddress(network, conf.Recipient, challenge.Recipient) {
		return fmt.Sprintf("funds went to %s, expected %s", conf.Recipient, challenge.Recipient)
	}

	if conf.Sender != "" && !utils.SameAddress(network, conf.Sender, receipt.Payer) {
		return fmt.Sprintf("funds came from %s, receipt names %s", conf.Sender, receipt.Payer)
	}

	return ""
}

func (e *Engine) record(network types.Network, result *types.VerificationResult, start time.Time) {
	labels := map[string]string{"network": network.String()}
	e.metrics.ObserveLatency(metrics.VerifyLatency, e.now().Sub(start), labels)

	if result.Valid {
		e.metrics.IncCounter(metrics.VerifyValid, labels)
	} else {
		e.metrics.IncCounter(metrics.VerifyInvalid, labels)
		for check, ok := range map[string]bool{
			checkAmount:    result.Checks.AmountMatch,
			checkChain:     result.Checks.ChainMatch,
			checkNonce:     result.Checks.NonceValid,
			checkSignature: result.Checks.SignatureValid,
		} {
			if !ok {
				e.metrics.IncCounter(metrics.CheckFailed, map[string]string{"network": network.String(), "check": check})
			}
		}
		if result.Ledger == types.LedgerUnconfirmedStatus {
			e.metrics.IncCounter(metrics.CheckFailed, map[string]string{"network": network.String(), "check": checkLedger})
		}
	}

	fields := map[string]any{
		"chain":  network.String(),
		"valid":  result.Valid,
		"ledger": string(result.Ledger),
	}
	if result.Receipt != nil {
		fields["nonce"] = result.Receipt.RequestNonce
		fields["tx_hash"] = result.Receipt.TxHash
	}
	if len(result.Errors) > 0 {
		fields["errors"] = result.Errors
	}
	e.logger.Info("receipt verified", fields)
}

// Request pairs a challenge with a raw receipt for BatchVerify.
type Request struct {
	Challenge types.Challenge
	Receipt   map[string]any
}

// BatchVerify verifies requests concurrently, at most limit at a time
// (limit <= 0 means unbounded). Results keep the order of requests; an entry
// is nil only when its verification returned an error, and the first such
// error is returned.
func (e *Engine) BatchVerify(ctx context.Context, requests []Request, limit int) ([]*types.VerificationResult, error) {
	results := make([]*types.VerificationResult, len(requests))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			result, err := e.Verify(ctx, req.Challenge, req.Receipt)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}

	return results, g.Wait()
}
