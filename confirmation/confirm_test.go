package confirmation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/a402/clients"
	"github.com/vitwit/a402/types"
)

type scriptedClient struct {
	network types.Network

	mu      sync.Mutex
	replies []*types.LedgerConfirmation
	calls   int
	closed  bool
	block   bool
}

func (c *scriptedClient) Confirm(ctx context.Context, _ types.ConfirmRequest) *types.LedgerConfirmation {
	c.mu.Lock()
	i := c.calls
	c.calls++
	block := c.block
	c.mu.Unlock()

	if block {
		<-ctx.Done()
		return types.LedgerFailure(types.LedgerErrRPC, "%v", ctx.Err())
	}
	if i >= len(c.replies) {
		return c.replies[len(c.replies)-1]
	}
	return c.replies[i]
}

func (c *scriptedClient) Asset(symbol string) (types.AssetInfo, bool) {
	return clients.NewAssets(c.network, nil).Lookup(symbol)
}

func (c *scriptedClient) GetNetwork() types.Network { return c.network }

func (c *scriptedClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type countingRecorder struct {
	mu       sync.Mutex
	counters map[string]int
}

func (r *countingRecorder) IncCounter(name string, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counters == nil {
		r.counters = map[string]int{}
	}
	r.counters[name]++
}

func (r *countingRecorder) ObserveLatency(string, time.Duration, map[string]string) {}

func settled() *types.LedgerConfirmation {
	return &types.LedgerConfirmation{
		Found:             true,
		Settled:           true,
		Sender:            "0xbbb",
		Recipient:         "0xaaa",
		AmountTransferred: decimal.RequireFromString("0.5"),
	}
}

func request() types.ConfirmRequest {
	return types.ConfirmRequest{Chain: types.NetworkSuiTestnet, TxHash: "digest", Asset: "USDC"}
}

func newService(t *testing.T, client *scriptedClient, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithRetry(2, time.Millisecond)}, opts...)
	s := NewService(time.Second, opts...)
	require.NoError(t, s.AddClient(client))
	return s
}

func TestConfirm_RetriesNotFoundUntilSettled(t *testing.T) {
	client := &scriptedClient{
		network: types.NetworkSuiTestnet,
		replies: []*types.LedgerConfirmation{
			types.LedgerFailure(types.LedgerErrNotFound, "pending"),
			settled(),
		},
	}
	rec := &countingRecorder{}
	s := newService(t, client, WithMetrics(rec))

	conf, err := s.Confirm(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, conf.Settled)
	assert.Equal(t, 2, client.callCount())
	assert.Equal(t, 1, rec.counters["ledger_retry"])
}

func TestConfirm_ExhaustedRetriesSayCouldNotConfirm(t *testing.T) {
	client := &scriptedClient{
		network: types.NetworkSuiTestnet,
		replies: []*types.LedgerConfirmation{types.LedgerFailure(types.LedgerErrRPC, "connection refused")},
	}
	s := newService(t, client)

	conf, err := s.Confirm(context.Background(), request())
	require.NoError(t, err)
	assert.False(t, conf.Found)
	assert.Equal(t, 3, client.callCount())
	assert.Contains(t, conf.Error, "could not confirm after 3 attempts")
	assert.Contains(t, conf.Error, "connection refused")
}

func TestConfirm_PermanentFailuresAreNotRetried(t *testing.T) {
	for _, kind := range []types.LedgerErrorKind{
		types.LedgerErrMalformed,
		types.LedgerErrFailedOnChain,
		types.LedgerErrUnsupported,
	} {
		t.Run(string(kind), func(t *testing.T) {
			client := &scriptedClient{
				network: types.NetworkSuiTestnet,
				replies: []*types.LedgerConfirmation{types.LedgerFailure(kind, "permanent")},
			}
			s := newService(t, client)

			conf, err := s.Confirm(context.Background(), request())
			require.NoError(t, err)
			assert.Equal(t, kind, conf.ErrorKind)
			assert.Equal(t, "permanent", conf.Error)
			assert.Equal(t, 1, client.callCount())
		})
	}
}

func TestConfirm_UnknownNetwork(t *testing.T) {
	s := NewService(0)

	_, err := s.Confirm(context.Background(), request())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrUnsupportedNetwork))
}

func TestConfirm_CallerCancellation(t *testing.T) {
	client := &scriptedClient{network: types.NetworkSuiTestnet, block: true}
	s := newService(t, client)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Confirm(ctx, request())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfirm_LookupTimeoutIsRetryable(t *testing.T) {
	client := &scriptedClient{network: types.NetworkSuiTestnet, block: true}
	s := NewService(5*time.Millisecond, WithRetry(1, time.Millisecond))
	require.NoError(t, s.AddClient(client))

	conf, err := s.Confirm(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, types.LedgerErrRPC, conf.ErrorKind)
	assert.Equal(t, 2, client.callCount())
}

func TestAddClient_DuplicateIsConfigError(t *testing.T) {
	s := NewService(0)
	require.NoError(t, s.AddClient(&scriptedClient{network: types.NetworkBase}))

	err := s.AddClient(&scriptedClient{network: types.NetworkBase})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrConfigError))

	err = s.AddClient(&scriptedClient{network: types.Network("dogechain")})
	assert.True(t, types.IsCode(err, types.ErrUnsupportedNetwork))
}

func TestService_NetworksAssetsAndClose(t *testing.T) {
	sui := &scriptedClient{network: types.NetworkSuiTestnet}
	base := &scriptedClient{network: types.NetworkBase}
	s := NewService(0)
	require.NoError(t, s.AddClient(sui))
	require.NoError(t, s.AddClient(base))

	assert.Equal(t, []types.Network{types.NetworkBase, types.NetworkSuiTestnet}, s.GetSupportedNetworks())
	assert.True(t, s.IsNetworkSupported(types.NetworkBase))
	assert.False(t, s.IsNetworkSupported(types.NetworkPolygon))

	usdc, ok := s.Asset(types.NetworkBase, "usdc")
	require.True(t, ok)
	assert.Equal(t, 6, usdc.Decimals)
	_, ok = s.Asset(types.NetworkPolygon, "USDC")
	assert.False(t, ok)

	s.Close()
	assert.True(t, sui.closed)
	assert.True(t, base.closed)
}
