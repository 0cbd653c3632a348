package trader

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"leveraged/internal/core"
	"leveraged/internal/trading/leveraged"
	"leveraged/pkg/concurrency"
	apperrors "leveraged/pkg/errors"
)

// Quote is the market view handed to one trader on an idle tick
type Quote struct {
	Ticker   leveraged.Ticker
	Assets   float64
	Currency float64
}

// Registry holds the running traders by id
type Registry struct {
	mu      sync.RWMutex
	traders map[string]*Trader
	pool    *concurrency.WorkerPool
	logger  core.ILogger
}

func NewRegistry(pool *concurrency.WorkerPool, logger core.ILogger) *Registry {
	return &Registry{
		traders: make(map[string]*Trader),
		pool:    pool,
		logger:  logger.WithField("component", "trader_registry"),
	}
}

func (r *Registry) Add(t *Trader) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.traders[t.ID()]; ok {
		return fmt.Errorf("%w: %s", apperrors.ErrDuplicateTrader, t.ID())
	}
	r.traders[t.ID()] = t
	r.logger.Info("Trader added", "trader", t.ID())
	return nil
}

func (r *Registry) Get(id string) (*Trader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.traders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrTraderNotFound, id)
	}
	return t, nil
}

// Remove closes the trader and forgets it
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	t, ok := r.traders[id]
	delete(r.traders, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrTraderNotFound, id)
	}
	t.Close()
	r.logger.Info("Trader removed", "trader", id)
	return nil
}

// List returns the traders ordered by id
func (r *Registry) List() []*Trader {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Trader, 0, len(r.traders))
	for _, t := range r.traders {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// IdleAll ticks every trader that has a quote on the worker pool. Traders
// without a quote are skipped.
func (r *Registry) IdleAll(ctx context.Context, quotes map[string]Quote) error {
	var tasks []func(ctx context.Context) error
	for _, t := range r.List() {
		q, ok := quotes[t.ID()]
		if !ok {
			continue
		}
		t := t
		tasks = append(tasks, func(ctx context.Context) error {
			return t.OnIdle(ctx, q.Ticker, q.Assets, q.Currency)
		})
	}
	if len(tasks) == 0 {
		return nil
	}
	return r.pool.Run(ctx, tasks)
}

// Status returns the operator view of all traders
func (r *Registry) Status() map[string]interface{} {
	out := make(map[string]interface{})
	for _, t := range r.List() {
		out[t.ID()] = t.Status()
	}
	return out
}

// Close closes every trader
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.traders {
		t.Close()
		delete(r.traders, id)
	}
}
