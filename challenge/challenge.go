// Package challenge issues payment challenges and remembers them so a
// receipt can later be matched to the challenge its nonce names.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitwit/a402/storage"
	"github.com/vitwit/a402/types"
	"github.com/vitwit/a402/utils"
)

// DefaultTTL is the lifetime given to challenges issued without an expiry.
const DefaultTTL = 5 * time.Minute

var (
	ErrNotFound = storage.ErrNotFound
	ErrExists   = errors.New("challenge nonce already issued")
)

// Store persists issued challenges keyed by nonce.
type Store interface {
	Put(ctx context.Context, c *types.Challenge) error
	Get(ctx context.Context, nonce string) (*types.Challenge, error)
}

// Issuer fills in nonce and expiry, validates and stores new challenges.
type Issuer struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

func NewIssuer(store Store, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{store: store, ttl: ttl, now: time.Now}
}

// Issue completes tmpl into a fresh challenge. An empty nonce is replaced by
// a random UUID and a nil expiry by now plus the issuer TTL.
func (i *Issuer) Issue(ctx context.Context, tmpl types.Challenge) (*types.Challenge, error) {
	c := tmpl
	now := i.now()

	if c.Nonce == "" {
		c.Nonce = uuid.NewString()
	}

	if c.Expiry == nil {
		exp := now.Add(i.ttl).Unix()
		c.Expiry = &exp
	}

	if err := utils.ValidateChallenge(&c); err != nil {
		return nil, err
	}

	if err := c.ValidateForIssue(now); err != nil {
		return nil, &types.A402Error{Code: types.ErrInvalidChallenge, Message: err.Error()}
	}

	// chains outside the built-in table carry free-form addresses
	if utils.ValidateNetwork(c.Chain) == nil {
		if err := utils.ValidateAddressForNetwork(c.Recipient, types.Network(c.Chain)); err != nil {
			return nil, &types.A402Error{
				Code:    types.ErrInvalidChallenge,
				Message: fmt.Sprintf("invalid recipient: %v", err),
			}
		}
	}

	if err := i.store.Put(ctx, &c); err != nil {
		if errors.Is(err, ErrExists) {
			return nil, &types.A402Error{
				Code:    types.ErrChallengeExists,
				Message: fmt.Sprintf("nonce %q was already issued", c.Nonce),
				Err:     err,
			}
		}
		return nil, err
	}
	return &c, nil
}

// MemoryStore keeps challenges in process memory.
type MemoryStore struct {
	mu         sync.RWMutex
	challenges map[string]types.Challenge
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{challenges: make(map[string]types.Challenge)}
}

func (m *MemoryStore) Put(_ context.Context, c *types.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.challenges[c.Nonce]; ok {
		return ErrExists
	}
	m.challenges[c.Nonce] = *c
	return nil
}

func (m *MemoryStore) Get(_ context.Context, nonce string) (*types.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.challenges[nonce]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}
