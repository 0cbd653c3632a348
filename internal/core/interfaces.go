// Package core defines the core interfaces shared across the leveraged strategy system
package core

import (
	"context"
)

// StateSnapshot is a persisted strategy snapshot as produced by the engine's export
type StateSnapshot struct {
	ID        string `json:"id"`
	Data      []byte `json:"data"`
	UpdatedAt int64  `json:"updated_at"`
}

// IStateStore defines the interface for strategy snapshot persistence
type IStateStore interface {
	SaveState(ctx context.Context, snapshot *StateSnapshot) error
	LoadState(ctx context.Context, id string) (*StateSnapshot, error)
	ListStates(ctx context.Context) ([]string, error)
}

// IBalanceAdjuster scales a shared account balance down to one trader's share.
// It is consulted only when a strategy (re)initializes.
type IBalanceAdjuster interface {
	AdjBalance(balance float64) float64
}

// IHealthMonitor defines the interface for health monitoring
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
