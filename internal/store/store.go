// Package store persists StrategyConfig records.
package store

import (
	"context"
	"errors"

	"strategy_runtime/internal/models"
)

var ErrNotFound = errors.New("strategy config not found")

// StrategyStore: Save assigns RecordID, Update is keyed by RecordID and Get
// looks up by the runtime strategy id.
type StrategyStore interface {
	SaveStrategyConfig(ctx context.Context, cfg models.StrategyConfig) (models.StrategyConfig, error)
	UpdateStrategyConfig(ctx context.Context, cfg models.StrategyConfig) error
	GetStrategyConfig(ctx context.Context, strategyID string) (models.StrategyConfig, error)
	ListStrategyConfigs(ctx context.Context, userID string) ([]models.StrategyConfig, error)
}
