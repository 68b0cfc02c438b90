package verification

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/a402/clients"
	"github.com/vitwit/a402/nonce"
	"github.com/vitwit/a402/signing"
	"github.com/vitwit/a402/types"
)

var (
	testSecret = []byte("facilitator-secret")
	testDigest = base58.Encode(bytes.Repeat([]byte{0xee}, 32))
)

// fakeConfirmer reports a fixed confirmation for every lookup.
type fakeConfirmer struct {
	conf     *types.LedgerConfirmation
	networks map[types.Network]bool
	block    bool
	calls    atomic.Int32
}

func (f *fakeConfirmer) Confirm(ctx context.Context, _ types.ConfirmRequest) (*types.LedgerConfirmation, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	c := *f.conf
	return &c, nil
}

func (f *fakeConfirmer) Asset(network types.Network, symbol string) (types.AssetInfo, bool) {
	return clients.NewAssets(network, nil).Lookup(symbol)
}

func (f *fakeConfirmer) IsNetworkSupported(network types.Network) bool {
	return f.networks[network]
}

func settledConfirmer(amount string) *fakeConfirmer {
	return &fakeConfirmer{
		conf: &types.LedgerConfirmation{
			Found:             true,
			Settled:           true,
			Sender:            "0xBBB",
			Recipient:         "0xAAA",
			AmountTransferred: decimal.RequireFromString(amount),
		},
		networks: map[types.Network]bool{types.NetworkSuiTestnet: true},
	}
}

type failingLedger struct{}

func (failingLedger) Peek(context.Context, string) (*types.NonceRecord, error) {
	return nil, errors.New("connection refused")
}

func (failingLedger) TryConsume(context.Context, string, *time.Time) (types.ConsumeOutcome, error) {
	return 0, errors.New("connection refused")
}

func exampleChallenge(nonceValue string) types.Challenge {
	expiry := time.Now().Add(300 * time.Second).Unix()
	return types.Challenge{
		Amount:    "0.50",
		Asset:     "USDC",
		Chain:     "sui-testnet",
		Recipient: "0xAAA",
		Nonce:     nonceValue,
		Expiry:    &expiry,
	}
}

func exampleReceipt(nonceValue string) types.Receipt {
	return types.Receipt{
		ID:           "r-" + nonceValue,
		RequestNonce: nonceValue,
		Payer:        "0xBBB",
		Merchant:     "0xAAA",
		Amount:       "0.50",
		Asset:        "USDC",
		Chain:        "sui-testnet",
		TxHash:       testDigest,
		IssuedAt:     time.Now().Unix(),
	}
}

// rawReceipt signs r and renders it the way a facilitator would send it.
func rawReceipt(t *testing.T, r types.Receipt) map[string]any {
	t.Helper()

	sig, err := signing.SignHMAC(&r, testSecret)
	require.NoError(t, err)
	r.Signature = sig
	return receiptMap(r)
}

func receiptMap(r types.Receipt) map[string]any {
	return map[string]any{
		"id":            r.ID,
		"request_nonce": r.RequestNonce,
		"payer":         r.Payer,
		"merchant":      r.Merchant,
		"amount":        r.Amount,
		"asset":         r.Asset,
		"chain":         r.Chain,
		"tx_hash":       r.TxHash,
		"signature":     r.Signature,
		"issuedAt":      r.IssuedAt,
	}
}

func newTestEngine(t *testing.T, ledger nonce.Ledger, opts ...Option) *Engine {
	t.Helper()

	v, err := signing.NewHMACVerifier(testSecret)
	require.NoError(t, err)
	if ledger == nil {
		ledger = nonce.NewMemoryLedger()
	}
	e, err := NewEngine(v, ledger, opts...)
	require.NoError(t, err)
	return e
}

func allChecks() types.Checks {
	return types.Checks{
		AmountMatch:     true,
		ChainMatch:      true,
		NonceValid:      true,
		SignatureValid:  true,
		LedgerConfirmed: true,
	}
}

func TestVerify_ExampleScenario(t *testing.T) {
	require.Len(t, testDigest, 44)

	e := newTestEngine(t, nil, WithConfirmer(settledConfirmer("0.50")))

	result, err := e.Verify(context.Background(), exampleChallenge("n1"), rawReceipt(t, exampleReceipt("n1")))
	require.NoError(t, err)

	assert.True(t, result.Valid)
	assert.Equal(t, allChecks(), result.Checks)
	assert.Equal(t, []string{}, result.Errors)
	assert.Equal(t, types.LedgerConfirmedStatus, result.Ledger)
	assert.Empty(t, result.Warnings)
}

func TestVerify_ReplayIsRejected(t *testing.T) {
	e := newTestEngine(t, nil, WithConfirmer(settledConfirmer("0.50")))
	raw := rawReceipt(t, exampleReceipt("n1"))

	first, err := e.Verify(context.Background(), exampleChallenge("n1"), raw)
	require.NoError(t, err)
	assert.True(t, first.Valid)

	second, err := e.Verify(context.Background(), exampleChallenge("n1"), raw)
	require.NoError(t, err)
	assert.False(t, second.Valid)
	assert.False(t, second.Checks.NonceValid)
	assert.Equal(t, []string{MsgNonceConsumed}, second.Errors)
}

func TestVerify_AmountTolerance(t *testing.T) {
	e := newTestEngine(t, nil)

	r := exampleReceipt("n1")
	r.Amount = "0.500"
	result, err := e.Verify(context.Background(), exampleChallenge("n1"), rawReceipt(t, r))
	require.NoError(t, err)
	assert.True(t, result.Checks.AmountMatch)
	assert.True(t, result.Valid)

	r = exampleReceipt("n2")
	r.Amount = "0.51"
	result, err = e.Verify(context.Background(), exampleChallenge("n2"), rawReceipt(t, r))
	require.NoError(t, err)
	assert.False(t, result.Checks.AmountMatch)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], MsgAmountMismatch)
}

func TestVerify_UnparseableAmountIsMismatch(t *testing.T) {
	e := newTestEngine(t, nil)

	r := exampleReceipt("n1")
	r.Amount = "half a dollar"
	result, err := e.Verify(context.Background(), exampleChallenge("n1"), rawReceipt(t, r))
	require.NoError(t, err)
	assert.False(t, result.Checks.AmountMatch)
	assert.True(t, result.Checks.SignatureValid)
}

func TestVerify_TamperedSignature(t *testing.T) {
	e := newTestEngine(t, nil, WithConfirmer(settledConfirmer("0.50")))

	for i := 0; i < 32; i++ {
		n := fmt.Sprintf("tamper-%d", i)
		raw := rawReceipt(t, exampleReceipt(n))

		sig, err := hex.DecodeString(raw["signature"].(string))
		require.NoError(t, err)
		sig[i] ^= 0x01
		raw["signature"] = hex.EncodeToString(sig)

		result, err := e.Verify(context.Background(), exampleChallenge(n), raw)
		require.NoError(t, err)

		expected := allChecks()
		expected.SignatureValid = false
		assert.Equal(t, expected, result.Checks, "byte %d", i)
		assert.False(t, result.Valid)
		assert.Equal(t, []string{MsgInvalidSignature}, result.Errors)
	}
}

func TestVerify_WrongRecipient(t *testing.T) {
	e := newTestEngine(t, nil)

	r := exampleReceipt("n1")
	r.Merchant = "0xCCC"
	result, err := e.Verify(context.Background(), exampleChallenge("n1"), rawReceipt(t, r))
	require.NoError(t, err)

	assert.False(t, result.Checks.ChainMatch)
	assert.True(t, result.Checks.AmountMatch)
	assert.True(t, result.Checks.NonceValid)
	assert.True(t, result.Checks.SignatureValid)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], MsgRecipientMismatch)
}

func TestVerify_WrongChain(t *testing.T) {
	e := newTestEngine(t, nil)

	r := exampleReceipt("n1")
	r.Chain = "sui-mainnet"
	result, err := e.Verify(context.Background(), exampleChallenge("n1"), rawReceipt(t, r))
	require.NoError(t, err)

	assert.False(t, result.Checks.ChainMatch)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], MsgChainMismatch)
}

func TestVerify_WrongAsset(t *testing.T) {
	e := newTestEngine(t, nil)

	r := exampleReceipt("n1")
	r.Asset = "SOL"
	result, err := e.Verify(context.Background(), exampleChallenge("n1"), rawReceipt(t, r))
	require.NoError(t, err)

	assert.False(t, result.Checks.AmountMatch)
	assert.True(t, result.Checks.ChainMatch)
	assert.True(t, result.Checks.SignatureValid)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], MsgAssetMismatch)
}

func TestVerify_AssetComparisonIgnoresCase(t *testing.T) {
	e := newTestEngine(t, nil)

	r := exampleReceipt("n1")
	r.Asset = "usdc"
	result, err := e.Verify(context.Background(), exampleChallenge("n1"), rawReceipt(t, r))
	require.NoError(t, err)
	assert.True(t, result.Checks.AmountMatch)
	assert.True(t, result.Valid)
}

func TestVerify_ChallengeWithoutNonce(t *testing.T) {
	ledger := nonce.NewMemoryLedger()
	e := newTestEngine(t, ledger)

	result, err := e.Verify(context.Background(), exampleChallenge(""), rawReceipt(t, exampleReceipt("")))
	require.NoError(t, err)

	assert.False(t, result.Checks.NonceValid)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{MsgMissingNonce}, result.Errors)
	assert.Zero(t, ledger.Len())
}

func TestVerify_ExpiredChallenge(t *testing.T) {
	ledger := nonce.NewMemoryLedger()
	e := newTestEngine(t, ledger)

	expired := exampleChallenge("n1")
	past := time.Now().Add(-10 * time.Second).Unix()
	expired.Expiry = &past

	result, err := e.Verify(context.Background(), expired, rawReceipt(t, exampleReceipt("n1")))
	require.NoError(t, err)
	assert.False(t, result.Checks.NonceValid)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{MsgChallengeExpired}, result.Errors)

	rec, err := ledger.Peek(context.Background(), "n1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	reissued, err := e.Verify(context.Background(), exampleChallenge("n2"), rawReceipt(t, exampleReceipt("n2")))
	require.NoError(t, err)
	assert.True(t, reissued.Valid)
}

func TestVerify_NonceSpentEvenWhenOtherChecksFail(t *testing.T) {
	ledger := nonce.NewMemoryLedger()
	e := newTestEngine(t, ledger)

	forged := receiptMap(exampleReceipt("n1"))
	forged["signature"] = "deadbeef"
	result, err := e.Verify(context.Background(), exampleChallenge("n1"), forged)
	require.NoError(t, err)
	assert.True(t, result.Checks.NonceValid)
	assert.False(t, result.Checks.SignatureValid)
	assert.False(t, result.Valid)

	genuine, err := e.Verify(context.Background(), exampleChallenge("n1"), rawReceipt(t, exampleReceipt("n1")))
	require.NoError(t, err)
	assert.True(t, genuine.Checks.SignatureValid)
	assert.False(t, genuine.Checks.NonceValid)
	assert.False(t, genuine.Valid)
}

func TestVerify_ForeignNonceIsNotConsumed(t *testing.T) {
	ledger := nonce.NewMemoryLedger()
	e := newTestEngine(t, ledger)

	result, err := e.Verify(context.Background(), exampleChallenge("n1"), rawReceipt(t, exampleReceipt("other")))
	require.NoError(t, err)
	assert.False(t, result.Checks.NonceValid)
	assert.Equal(t, []string{MsgNonceMismatch}, result.Errors)
	assert.Zero(t, ledger.Len())
}

func TestVerify_NormalizationFailureReturnsEarly(t *testing.T) {
	ledger := nonce.NewMemoryLedger()
	e := newTestEngine(t, ledger)

	result, err := e.Verify(context.Background(), exampleChallenge("n1"), map[string]any{
		"requestNonce": "n1",
		"amount":       "0.50",
	})
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.Equal(t, types.Checks{}, result.Checks)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "payer, merchant, txHash")
	assert.Zero(t, ledger.Len())
}

func TestVerify_SkippedLedgerIsExplicit(t *testing.T) {
	e := newTestEngine(t, nil)

	result, err := e.Verify(context.Background(), exampleChallenge("n1"), rawReceipt(t, exampleReceipt("n1")))
	require.NoError(t, err)

	assert.True(t, result.Valid)
	assert.Equal(t, types.LedgerSkippedStatus, result.Ledger)
	assert.False(t, result.Checks.LedgerConfirmed)
	assert.Equal(t, []string{}, result.Errors)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], WarnLedgerSkipped)
}

func TestVerify_MalformedHashFailsWithoutLookup(t *testing.T) {
	confirmer := settledConfirmer("0.50")

	for name, e := range map[string]*Engine{
		"with client":    newTestEngine(t, nil, WithConfirmer(confirmer)),
		"without client": newTestEngine(t, nil),
	} {
		t.Run(name, func(t *testing.T) {
			r := exampleReceipt("n1")
			r.TxHash = "0x1234"
			result, err := e.Verify(context.Background(), exampleChallenge("n1"), rawReceipt(t, r))
			require.NoError(t, err)

			assert.False(t, result.Valid)
			assert.False(t, result.Checks.LedgerConfirmed)
			assert.Equal(t, types.LedgerUnconfirmedStatus, result.Ledger)
			require.Len(t, result.Errors, 1)
			assert.Contains(t, result.Errors[0], MsgMalformedTxHash)
		})
	}
	assert.Zero(t, confirmer.calls.Load())
}

func TestVerify_LedgerAmountWithinMinimumUnit(t *testing.T) {
	cases := map[string]bool{
		"0.50":      true,
		"0.5000004": true,
		"0.499999":  false,
		"0.49":      false,
	}

	for amount, ok := range cases {
		t.Run(amount, func(t *testing.T) {
			e := newTestEngine(t, nil, WithConfirmer(settledConfirmer(amount)))

			result, err := e.Verify(context.Background(), exampleChallenge("n1"), rawReceipt(t, exampleReceipt("n1")))
			require.NoError(t, err)
			assert.Equal(t, ok, result.Checks.LedgerConfirmed)
			assert.Equal(t, ok, result.Valid)
		})
	}
}

func TestVerify_LedgerRejections(t *testing.T) {
	cases := map[string]func(c *types.LedgerConfirmation){
		"not found": func(c *types.LedgerConfirmation) {
			*c = *types.LedgerFailure(types.LedgerErrNotFound, "could not confirm after 3 attempts: transaction not found on chain")
		},
		"failed on chain": func(c *types.LedgerConfirmation) {
			c.Settled = false
			c.ErrorKind = types.LedgerErrFailedOnChain
			c.Error = "transaction failed on chain"
		},
		"wrong recipient": func(c *types.LedgerConfirmation) { c.Recipient = "0xCCC" },
		"wrong sender":    func(c *types.LedgerConfirmation) { c.Sender = "0xDDD" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			confirmer := settledConfirmer("0.50")
			mutate(confirmer.conf)
			e := newTestEngine(t, nil, WithConfirmer(confirmer))

			result, err := e.Verify(context.Background(), exampleChallenge("n1"), rawReceipt(t, exampleReceipt("n1")))
			require.NoError(t, err)

			assert.False(t, result.Valid)
			assert.False(t, result.Checks.LedgerConfirmed)
			assert.True(t, result.Checks.NonceValid)
			assert.Equal(t, types.LedgerUnconfirmedStatus, result.Ledger)
			require.Len(t, result.Errors, 1)
			assert.Contains(t, result.Errors[0], MsgLedgerUnconfirmed)
		})
	}
}

func TestVerify_EmptyLedgerSenderIsAccepted(t *testing.T) {
	confirmer := settledConfirmer("0.50")
	confirmer.conf.Sender = ""
	e := newTestEngine(t, nil, WithConfirmer(confirmer))

	result, err := e.Verify(context.Background(), exampleChallenge("n1"), rawReceipt(t, exampleReceipt("n1")))
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestVerify_ErrorsFollowCheckOrder(t *testing.T) {
	e := newTestEngine(t, nil)

	r := exampleReceipt("wrong")
	r.Amount = "1"
	r.Merchant = "0xCCC"
	raw := receiptMap(r)
	raw["signature"] = "00"

	result, err := e.Verify(context.Background(), exampleChallenge("n1"), raw)
	require.NoError(t, err)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], MsgAmountMismatch)
	assert.Contains(t, result.Errors[1], MsgRecipientMismatch)
	assert.Equal(t, MsgNonceMismatch, result.Errors[2])
	assert.Equal(t, MsgInvalidSignature, result.Errors[3])
}

func TestVerify_CancellationKeepsNonceSpent(t *testing.T) {
	ledger := nonce.NewMemoryLedger()
	confirmer := settledConfirmer("0.50")
	confirmer.block = true
	e := newTestEngine(t, ledger, WithConfirmer(confirmer))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result, err := e.Verify(ctx, exampleChallenge("n1"), rawReceipt(t, exampleReceipt("n1")))
	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	rec, err := ledger.Peek(context.Background(), "n1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "n1", rec.Nonce)
}

func TestVerify_NonceStoreUnavailable(t *testing.T) {
	e := newTestEngine(t, failingLedger{})

	result, err := e.Verify(context.Background(), exampleChallenge("n1"), rawReceipt(t, exampleReceipt("n1")))
	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrNonceStoreUnavailable))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestVerify_ConcurrentDuplicatesHaveOneWinner(t *testing.T) {
	e := newTestEngine(t, nil, WithConfirmer(settledConfirmer("0.50")))
	raw := rawReceipt(t, exampleReceipt("n1"))
	challenge := exampleChallenge("n1")

	const workers = 16
	var (
		wg    sync.WaitGroup
		valid atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := e.Verify(context.Background(), challenge, raw)
			if err == nil && result.Valid {
				valid.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), valid.Load())
}

func TestVerify_DefaultedIssuedAtIsFlagged(t *testing.T) {
	e := newTestEngine(t, nil)

	r := exampleReceipt("n1")
	r.IssuedAt = 0
	raw := receiptMap(r)
	delete(raw, "issuedAt")

	result, err := e.Verify(context.Background(), exampleChallenge("n1"), raw)
	require.NoError(t, err)
	assert.Contains(t, result.Warnings, WarnIssuedAtDefaulted)
	assert.True(t, result.Receipt.IssuedAtDefaulted)
}

func TestBatchVerify_KeepsOrder(t *testing.T) {
	e := newTestEngine(t, nil)

	var requests []Request
	for i := 0; i < 10; i++ {
		n := fmt.Sprintf("batch-%d", i)
		r := exampleReceipt(n)
		if i%2 == 1 {
			r.Amount = "9"
		}
		requests = append(requests, Request{Challenge: exampleChallenge(n), Receipt: rawReceipt(t, r)})
	}

	results, err := e.BatchVerify(context.Background(), requests, 3)
	require.NoError(t, err)
	require.Len(t, results, 10)
	for i, result := range results {
		assert.Equal(t, fmt.Sprintf("batch-%d", i), result.Receipt.RequestNonce)
		assert.Equal(t, i%2 == 0, result.Valid, "request %d", i)
	}
}

func TestNewEngine_RequiresKeysAndLedger(t *testing.T) {
	_, err := NewEngine(nil, nonce.NewMemoryLedger())
	assert.True(t, types.IsCode(err, types.ErrConfigError))

	v, err := signing.NewHMACVerifier(testSecret)
	require.NoError(t, err)
	_, err = NewEngine(v, nil)
	assert.True(t, types.IsCode(err, types.ErrConfigError))
}
