// Package token owns the broker access-token lifecycle: cached retrieval,
// single-flight generation, and reactive invalidation after auth failures.
package token

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// CredentialExchanger performs the outbound credential-exchange call that
// turns an API key/secret pair into an access token.
type CredentialExchanger interface {
	ExchangeCredentials(ctx context.Context) (string, error)
}

// generation tracks one in-flight credential exchange. Followers wait on
// done and then read token/err; both are written exactly once before done
// is closed.
type generation struct {
	done  chan struct{}
	token string
	err   error
}

// Manager caches the broker access token and guarantees at most one
// credential-exchange call per generation cycle regardless of concurrent
// demand.
type Manager struct {
	cache     TokenCache
	exchanger CredentialExchanger
	logger    *zap.Logger

	mu      sync.Mutex
	pending *generation
}

// NewManager creates a token manager over the given cache and exchanger.
func NewManager(cache TokenCache, exchanger CredentialExchanger, logger *zap.Logger) *Manager {
	return &Manager{
		cache:     cache,
		exchanger: exchanger,
		logger:    logger,
	}
}

// GetToken returns the cached token if present, otherwise generates one.
// If a generation is already in flight the caller waits for it instead of
// issuing a duplicate exchange. Generation failure clears the cache and is
// delivered to every waiter.
func (m *Manager) GetToken(ctx context.Context) (string, error) {
	m.mu.Lock()

	if g := m.pending; g != nil {
		m.mu.Unlock()
		return m.await(ctx, g)
	}

	cached, err := m.cache.Get(ctx)
	if err != nil {
		m.mu.Unlock()
		return "", fmt.Errorf("failed to read token cache: %w", err)
	}
	if cached != "" {
		m.mu.Unlock()
		return cached, nil
	}

	g := &generation{done: make(chan struct{})}
	m.pending = g
	m.mu.Unlock()

	m.generate(ctx, g)
	return g.token, g.err
}

// InvalidateToken unconditionally clears the cached token. The next
// GetToken call regenerates.
func (m *Manager) InvalidateToken(ctx context.Context) error {
	if err := m.cache.Delete(ctx); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}
	m.logger.Info("Access token invalidated")
	return nil
}

// generate runs the single credential exchange for this cycle and publishes
// the outcome to every waiter.
func (m *Manager) generate(ctx context.Context, g *generation) {
	m.logger.Info("Generating new broker access token")

	tok, err := m.exchanger.ExchangeCredentials(ctx)
	if err != nil {
		// Clear the slot so the next caller retries from scratch.
		if delErr := m.cache.Delete(ctx); delErr != nil {
			m.logger.Warn("Failed to clear token cache after generation failure", zap.Error(delErr))
		}
		g.err = fmt.Errorf("failed to generate access token: %w", err)
	} else if setErr := m.cache.Set(ctx, tok); setErr != nil {
		g.err = fmt.Errorf("failed to cache access token: %w", setErr)
	} else {
		g.token = tok
	}

	m.mu.Lock()
	m.pending = nil
	m.mu.Unlock()
	close(g.done)

	if g.err != nil {
		m.logger.Error("Token generation failed", zap.Error(g.err))
	} else {
		m.logger.Info("Access token generated")
	}
}

func (m *Manager) await(ctx context.Context, g *generation) (string, error) {
	select {
	case <-g.done:
		return g.token, g.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
