// Package a402 verifies payment receipts against the challenges a merchant
// issued, across Sui, EVM and Solana networks.
package a402

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vitwit/a402/challenge"
	"github.com/vitwit/a402/clients"
	"github.com/vitwit/a402/confirmation"
	"github.com/vitwit/a402/logger"
	"github.com/vitwit/a402/metrics"
	"github.com/vitwit/a402/nonce"
	"github.com/vitwit/a402/signing"
	"github.com/vitwit/a402/types"
	"github.com/vitwit/a402/utils"
	"github.com/vitwit/a402/verification"
)

// DefaultBatchLimit caps concurrent verifications in BatchVerify.
const DefaultBatchLimit = 16

// A402 is the main struct that provides all a402 functionality
type A402 struct {
	engine        *verification.Engine
	confirmations *confirmation.Service
	issuer        *challenge.Issuer

	nonces     nonce.Ledger
	challenges challenge.Store

	logger       logger.Logger
	metrics      metrics.Recorder
	timeout      time.Duration
	nonceTimeout time.Duration
	retryCount   int
	retryDelay   time.Duration
	challengeTTL time.Duration
	batchLimit   int
	ledgers      []clients.LedgerClient
}

// New creates an A402 instance. Issuer key material is mandatory. Without
// WithNonceLedger nonces are kept in memory and do not survive a restart.
func New(signatures signing.Verifier, opts ...Option) (*A402, error) {
	x := &A402{
		logger:       logger.NoopLogger{},
		metrics:      metrics.NoopRecorder{},
		timeout:      confirmation.DefaultTimeout,
		nonceTimeout: verification.DefaultNonceTimeout,
		retryCount:   confirmation.DefaultRetryCount,
		retryDelay:   confirmation.DefaultRetryDelay,
		challengeTTL: challenge.DefaultTTL,
		batchLimit:   DefaultBatchLimit,
	}
	for _, opt := range opts {
		opt(x)
	}

	if x.nonces == nil {
		x.logger.Warn("no nonce ledger configured, using in-memory ledger", nil)
		x.nonces = nonce.NewMemoryLedger(nonce.WithLogger(x.logger))
	}
	if x.challenges == nil {
		x.challenges = challenge.NewMemoryStore()
	}

	x.confirmations = confirmation.NewService(x.timeout,
		confirmation.WithRetry(x.retryCount, x.retryDelay),
		confirmation.WithLogger(x.logger),
		confirmation.WithMetrics(x.metrics),
	)
	for _, c := range x.ledgers {
		if err := x.confirmations.AddClient(c); err != nil {
			return nil, err
		}
	}

	engine, err := verification.NewEngine(signatures, x.nonces,
		verification.WithConfirmer(x.confirmations),
		verification.WithNonceTimeout(x.nonceTimeout),
		verification.WithLogger(x.logger),
		verification.WithMetrics(x.metrics),
	)
	if err != nil {
		return nil, err
	}
	x.engine = engine
	x.issuer = challenge.NewIssuer(x.challenges, x.challengeTTL)

	return x, nil
}

// AddNetwork adds support for a specific network by creating the appropriate client
func (x *A402) AddNetwork(ctx context.Context, network types.Network, config types.ClientConfig) error {
	assets := clients.NewAssets(network, config.Assets)

	var (
		client clients.LedgerClient
		err    error
	)
	switch {
	case network.IsSui():
		client, err = clients.NewSuiClient(ctx, network, config.RPCUrl, assets)
	case network.IsEVM():
		client, err = clients.NewEVMClient(ctx, network, config.RPCUrl, assets, config.MinConfirmations)
	case network.IsSolana():
		client, err = clients.NewSolanaClient(network, config.RPCUrl, assets)
	default:
		return &types.A402Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("unsupported network: %s", network),
		}
	}
	if err != nil {
		return fmt.Errorf("failed to create ledger client for %s: %w", network, err)
	}

	if err := x.confirmations.AddClient(client); err != nil {
		client.Close()
		return err
	}

	x.logger.Info("ledger client added", map[string]any{
		"network": network.String(),
		"assets":  len(assets),
	})
	return nil
}

// AddLedgerClient registers an already constructed ledger client.
func (x *A402) AddLedgerClient(client clients.LedgerClient) error {
	return x.confirmations.AddClient(client)
}

// Verify checks a raw receipt against challenge.
func (x *A402) Verify(
	ctx context.Context,
	c types.Challenge,
	receipt map[string]any,
) (*types.VerificationResult, error) {
	return x.engine.Verify(ctx, c, receipt)
}

// VerifyStored checks a raw receipt against the stored challenge its
// request nonce names. An unknown nonce yields CHALLENGE_NOT_FOUND.
func (x *A402) VerifyStored(ctx context.Context, receipt map[string]any) (*types.VerificationResult, error) {
	r, err := utils.NormalizeReceipt(receipt)
	if err != nil {
		// reported as a failed verification
		return x.engine.Verify(ctx, types.Challenge{}, receipt)
	}

	c, err := x.Challenge(ctx, r.RequestNonce)
	if err != nil {
		return nil, err
	}
	return x.engine.Verify(ctx, *c, receipt)
}

// BatchVerify verifies multiple receipts concurrently
func (x *A402) BatchVerify(
	ctx context.Context,
	requests []verification.Request,
) ([]*types.VerificationResult, error) {
	if len(requests) == 0 {
		return nil, &types.A402Error{
			Code:    types.ErrInvalidReceipt,
			Message: "no receipts to verify",
		}
	}

	return x.engine.BatchVerify(ctx, requests, x.batchLimit)
}

// IssueChallenge completes, validates and stores a new challenge.
func (x *A402) IssueChallenge(ctx context.Context, tmpl types.Challenge) (*types.Challenge, error) {
	c, err := x.issuer.Issue(ctx, tmpl)
	if err != nil {
		return nil, err
	}

	x.logger.Debug("challenge issued", map[string]any{
		"nonce": c.Nonce,
		"chain": c.Chain,
	})
	return c, nil
}

// Challenge returns a previously issued challenge.
func (x *A402) Challenge(ctx context.Context, nonceValue string) (*types.Challenge, error) {
	c, err := x.challenges.Get(ctx, nonceValue)
	if errors.Is(err, challenge.ErrNotFound) {
		return nil, &types.A402Error{
			Code:    types.ErrChallengeNotFound,
			Message: fmt.Sprintf("no challenge issued for nonce %q", nonceValue),
		}
	}
	return c, err
}

// Nonces exposes the nonce ledger, e.g. for pruning.
func (x *A402) Nonces() nonce.Ledger {
	return x.nonces
}

// Supported returns the networks with a configured ledger client.
func (x *A402) Supported() []types.Network {
	return x.confirmations.GetSupportedNetworks()
}

// IsNetworkSupported checks if a network is supported
func (x *A402) IsNetworkSupported(network types.Network) bool {
	return x.confirmations.IsNetworkSupported(network)
}

// Close closes all client connections
func (x *A402) Close() {
	x.confirmations.Close()
}

// Version information
const (
	Version         = "1.0.0"
	ProtocolVersion = types.ProtocolVersion
)

// GetVersion returns version information
func GetVersion() map[string]interface{} {
	networks := make([]string, 0, len(types.KnownNetworks()))
	for _, n := range types.KnownNetworks() {
		networks = append(networks, n.String())
	}

	return map[string]interface{}{
		"library_version":    Version,
		"protocol_version":   ProtocolVersion,
		"supported_networks": networks,
		"signature_schemes": []string{
			string(signing.SchemeHMAC),
			string(signing.SchemeSecp256k1),
			string(signing.SchemeEd25519),
		},
	}
}
