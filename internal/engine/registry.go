package engine

import (
	"context"
	"fmt"
	"sync"

	"strategy_runtime/pkg/logger"

	"golang.org/x/sync/singleflight"
)

// Resolver loads a tenant's connector configuration.
type Resolver func(ctx context.Context, tenantID string) (TenantConfig, error)

// Registry holds at most one UserEngine per tenant.
type Registry struct {
	resolve   Resolver
	newEngine func(TenantConfig) *UserEngine

	mu      sync.RWMutex
	engines map[string]*UserEngine

	// creation per tenant is collapsed into one call
	group singleflight.Group
}

func NewRegistry(resolve Resolver, newEngine func(TenantConfig) *UserEngine) *Registry {
	return &Registry{
		resolve:   resolve,
		newEngine: newEngine,
		engines:   make(map[string]*UserEngine),
	}
}

func (r *Registry) Get(tenantID string) (*UserEngine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[tenantID]
	return e, ok
}

// GetOrStart returns the tenant's engine, resolving and starting it once.
func (r *Registry) GetOrStart(ctx context.Context, tenantID string) (*UserEngine, error) {
	if e, ok := r.Get(tenantID); ok {
		return e, nil
	}

	// the flight is shared, so one caller giving up must not fail the others
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do(tenantID, func() (interface{}, error) {
		// a previous flight may have finished between Get and Do
		if e, ok := r.Get(tenantID); ok {
			return e, nil
		}

		tenant, err := r.resolve(flightCtx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve tenant %s: %w", tenantID, err)
		}
		if tenant.UserID == "" {
			tenant.UserID = tenantID
		}

		e := r.newEngine(tenant)
		if err := e.Start(flightCtx); err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.engines[tenantID] = e
		r.mu.Unlock()
		logger.Info("engine for %s registered", tenantID)
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*UserEngine), nil
}

func (r *Registry) Engines() []*UserEngine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*UserEngine, 0, len(r.engines))
	for _, e := range r.engines {
		out = append(out, e)
	}
	return out
}

// Stop stops and drops every engine.
func (r *Registry) Stop(ctx context.Context) {
	r.mu.Lock()
	engines := r.engines
	r.engines = make(map[string]*UserEngine)
	r.mu.Unlock()

	for _, e := range engines {
		e.Stop(ctx)
	}
}
