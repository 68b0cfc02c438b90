package confirmation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vitwit/a402/clients"
	"github.com/vitwit/a402/logger"
	"github.com/vitwit/a402/metrics"
	"github.com/vitwit/a402/types"
)

const (
	DefaultTimeout    = 8 * time.Second
	DefaultRetryCount = 2
	DefaultRetryDelay = time.Second
)

// Confirmer looks up a transaction on the network named by the request.
type Confirmer interface {
	Confirm(ctx context.Context, req types.ConfirmRequest) (*types.LedgerConfirmation, error)
	Asset(network types.Network, symbol string) (types.AssetInfo, bool)
	IsNetworkSupported(network types.Network) bool
}

var _ Confirmer = (*Service)(nil)

// Service manages ledger clients across multiple networks
type Service struct {
	mu      sync.RWMutex
	clients map[types.Network]clients.LedgerClient

	timeout    time.Duration
	retryCount int
	retryDelay time.Duration

	logger  logger.Logger
	metrics metrics.Recorder
}

type Option func(*Service)

func WithRetry(count int, delay time.Duration) Option {
	return func(s *Service) {
		if count >= 0 {
			s.retryCount = count
		}
		if delay >= 0 {
			s.retryDelay = delay
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		s.logger = logger.OrNoop(l)
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *Service) {
		s.metrics = metrics.OrNoop(r)
	}
}

// NewService creates a confirmation service. A non-positive timeout selects
// DefaultTimeout.
func NewService(timeout time.Duration, opts ...Option) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	s := &Service{
		clients:    make(map[types.Network]clients.LedgerClient),
		timeout:    timeout,
		retryCount: DefaultRetryCount,
		retryDelay: DefaultRetryDelay,
		logger:     logger.NoopLogger{},
		metrics:    metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddClient registers the client for its network. Registering a second
// client for the same network is a configuration error.
func (s *Service) AddClient(client clients.LedgerClient) error {
	network := client.GetNetwork()
	if network.Family() == types.ChainUnknown {
		return &types.A402Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("unsupported network: %s", network),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[network]; exists {
		return &types.A402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("ledger client for %s already registered", network),
		}
	}

	s.clients[network] = client
	return nil
}

func (s *Service) client(network types.Network) (clients.LedgerClient, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[network]
	return c, ok
}

// Confirm looks the transaction up, retrying lookups that may still
// succeed. It returns an error only when no client serves the network or
// ctx is done; every ledger outcome is reported in the confirmation.
func (s *Service) Confirm(ctx context.Context, req types.ConfirmRequest) (*types.LedgerConfirmation, error) {
	client, ok := s.client(req.Chain)
	if !ok {
		return nil, &types.A402Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("no ledger client configured for network %s", req.Chain),
		}
	}

	labels := map[string]string{"network": req.Chain.String()}

	for attempt := 1; ; attempt++ {
		conf := s.lookup(ctx, client, req, labels)
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !conf.ErrorKind.Retryable() {
			return conf, nil
		}
		if attempt > s.retryCount {
			conf.Error = fmt.Sprintf("could not confirm after %d attempts: %s", attempt, conf.Error)
			return conf, nil
		}

		s.logger.Debug("retrying ledger lookup", map[string]any{
			"network": req.Chain.String(),
			"tx_hash": req.TxHash,
			"attempt": attempt,
			"reason":  conf.Error,
		})
		s.metrics.IncCounter(metrics.LedgerRetry, labels)

		timer := time.NewTimer(s.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Service) lookup(
	ctx context.Context,
	client clients.LedgerClient,
	req types.ConfirmRequest,
	labels map[string]string,
) *types.LedgerConfirmation {
	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	conf := client.Confirm(lookupCtx, req)
	s.metrics.ObserveLatency(metrics.LedgerConfirmLatency, time.Since(start), labels)

	if conf == nil {
		return types.LedgerFailure(types.LedgerErrRPC, "%s: empty response", clients.MsgRPCFailure)
	}
	return conf
}

// Asset resolves an asset symbol through the network's client.
func (s *Service) Asset(network types.Network, symbol string) (types.AssetInfo, bool) {
	client, ok := s.client(network)
	if !ok {
		return types.AssetInfo{}, false
	}
	return client.Asset(symbol)
}

// Close closes all client connections
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, client := range s.clients {
		client.Close()
	}
}

// GetSupportedNetworks returns all networks that have configured clients
func (s *Service) GetSupportedNetworks() []types.Network {
	s.mu.RLock()
	defer s.mu.RUnlock()

	networks := make([]types.Network, 0, len(s.clients))
	for network := range s.clients {
		networks = append(networks, network)
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i] < networks[j] })
	return networks
}

// IsNetworkSupported checks if a network has a ledger client
func (s *Service) IsNetworkSupported(network types.Network) bool {
	_, ok := s.client(network)
	return ok
}
