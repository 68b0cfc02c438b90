package a402

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/a402/clients"
	"github.com/vitwit/a402/signing"
	"github.com/vitwit/a402/types"
	"github.com/vitwit/a402/verification"
)

var secret = []byte("facilitator-secret")

func newTestA402(t *testing.T, opts ...Option) *A402 {
	t.Helper()

	v, err := signing.NewHMACVerifier(secret)
	require.NoError(t, err)
	x, err := New(v, opts...)
	require.NoError(t, err)
	t.Cleanup(x.Close)
	return x
}

func signedReceipt(t *testing.T, c *types.Challenge) map[string]any {
	t.Helper()

	r := types.Receipt{
		ID:           "r1",
		RequestNonce: c.Nonce,
		Payer:        "0xBBB",
		Merchant:     c.Recipient,
		Amount:       c.Amount,
		Asset:        c.Asset,
		Chain:        c.Chain,
		TxHash:       base58.Encode(bytes.Repeat([]byte{0xee}, 32)),
		IssuedAt:     time.Now().Unix(),
	}
	sig, err := signing.SignHMAC(&r, secret)
	require.NoError(t, err)

	return map[string]any{
		"receipt": map[string]any{
			"id":           r.ID,
			"requestNonce": r.RequestNonce,
			"payer":        r.Payer,
			"merchant":     r.Merchant,
			"amount":       r.Amount,
			"asset":        r.Asset,
			"chain":        r.Chain,
			"txHash":       r.TxHash,
			"signature":    sig,
			"issuedAt":     r.IssuedAt,
		},
	}
}

func template() types.Challenge {
	return types.Challenge{Amount: "0.50", Asset: "USDC", Chain: "sui-testnet", Recipient: "0xAAA"}
}

func TestIssueThenVerifyStored(t *testing.T) {
	x := newTestA402(t)
	ctx := context.Background()

	c, err := x.IssueChallenge(ctx, template())
	require.NoError(t, err)
	require.NotEmpty(t, c.Nonce)
	require.NotNil(t, c.Expiry)

	result, err := x.VerifyStored(ctx, signedReceipt(t, c))
	require.NoError(t, err)
	assert.True(t, result.Valid, result.Errors)
	assert.Equal(t, types.LedgerSkippedStatus, result.Ledger)

	replay, err := x.VerifyStored(ctx, signedReceipt(t, c))
	require.NoError(t, err)
	assert.False(t, replay.Valid)
	assert.False(t, replay.Checks.NonceValid)
}

func TestVerifyStored_UnknownChallenge(t *testing.T) {
	x := newTestA402(t)

	c := template()
	c.Nonce = "never-issued"
	_, err := x.VerifyStored(context.Background(), signedReceipt(t, &c))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrChallengeNotFound))
}

func TestVerifyStored_MalformedReceiptIsAResult(t *testing.T) {
	x := newTestA402(t)

	result, err := x.VerifyStored(context.Background(), map[string]any{"amount": "1"})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Len(t, result.Errors, 1)
}

func TestBatchVerify(t *testing.T) {
	x := newTestA402(t, WithBatchLimit(2))
	ctx := context.Background()

	_, err := x.BatchVerify(ctx, nil)
	assert.True(t, types.IsCode(err, types.ErrInvalidReceipt))

	var requests []verification.Request
	for i := 0; i < 4; i++ {
		c, err := x.IssueChallenge(ctx, template())
		require.NoError(t, err)
		requests = append(requests, verification.Request{Challenge: *c, Receipt: signedReceipt(t, c)})
	}

	results, err := x.BatchVerify(ctx, requests)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for _, r := range results {
		assert.True(t, r.Valid)
	}
}

func TestAddNetwork(t *testing.T) {
	x := newTestA402(t)
	ctx := context.Background()

	require.NoError(t, x.AddNetwork(ctx, types.NetworkSuiTestnet, types.ClientConfig{RPCUrl: "http://127.0.0.1:9000"}))
	assert.True(t, x.IsNetworkSupported(types.NetworkSuiTestnet))
	assert.Equal(t, []types.Network{types.NetworkSuiTestnet}, x.Supported())

	err := x.AddNetwork(ctx, types.NetworkSuiTestnet, types.ClientConfig{RPCUrl: "http://127.0.0.1:9000"})
	assert.True(t, types.IsCode(err, types.ErrConfigError))

	err = x.AddNetwork(ctx, types.Network("cosmoshub-4"), types.ClientConfig{RPCUrl: "http://127.0.0.1:26657"})
	assert.True(t, types.IsCode(err, types.ErrUnsupportedNetwork))
}

func TestNew_DuplicateLedgerClients(t *testing.T) {
	a, err := clients.NewSolanaClient(types.NetworkSolanaDevnet, "http://127.0.0.1:8899", nil)
	require.NoError(t, err)
	b, err := clients.NewSolanaClient(types.NetworkSolanaDevnet, "http://127.0.0.1:8899", nil)
	require.NoError(t, err)

	v, err := signing.NewHMACVerifier(secret)
	require.NoError(t, err)

	_, err = New(v, WithLedgerClient(a), WithLedgerClient(b))
	assert.True(t, types.IsCode(err, types.ErrConfigError))

	_, err = New(nil)
	assert.True(t, types.IsCode(err, types.ErrConfigError))
}

func TestGetVersion(t *testing.T) {
	v := GetVersion()
	assert.Equal(t, Version, v["library_version"])
	assert.Contains(t, v["supported_networks"], "sui-mainnet")
}
