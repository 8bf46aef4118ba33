package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"strategy_runtime/internal/models"
)

type Memory struct {
	mu      sync.RWMutex
	nextID  int64
	records map[int64]models.StrategyConfig
	now     func() time.Time
}

var _ StrategyStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{records: make(map[int64]models.StrategyConfig), now: time.Now}
}

func (m *Memory) SaveStrategyConfig(_ context.Context, cfg models.StrategyConfig) (models.StrategyConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	now := m.now().UTC()
	cfg.RecordID = m.nextID
	cfg.CreatedAt, cfg.UpdatedAt = now, now
	m.records[cfg.RecordID] = cfg
	return cfg, nil
}

func (m *Memory) UpdateStrategyConfig(_ context.Context, cfg models.StrategyConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.records[cfg.RecordID]
	if !ok {
		return fmt.Errorf("record %d: %w", cfg.RecordID, ErrNotFound)
	}
	cfg.CreatedAt = old.CreatedAt
	cfg.UpdatedAt = m.now().UTC()
	m.records[cfg.RecordID] = cfg
	return nil
}

func (m *Memory) GetStrategyConfig(_ context.Context, strategyID string) (models.StrategyConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.ID != "" && r.ID == strategyID {
			return r, nil
		}
	}
	return models.StrategyConfig{}, fmt.Errorf("strategy %s: %w", strategyID, ErrNotFound)
}

func (m *Memory) ListStrategyConfigs(_ context.Context, userID string) ([]models.StrategyConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.StrategyConfig
	for _, r := range m.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })
	return out, nil
}
