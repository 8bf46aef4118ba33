package service

import (
	"context"
	"errors"
	"io"
	"net/http"

	"strategy_runtime/internal/manager"
	"strategy_runtime/internal/models"
	"strategy_runtime/internal/store"
	"strategy_runtime/pkg/logger"

	"github.com/bytedance/sonic"
)

const maxBody = 1 << 20

// Strategies is the part of the strategy manager the API drives.
type Strategies interface {
	CreateAndStart(ctx context.Context, job models.StrategyJobSpec) (models.StrategyConfig, error)
	Stop(ctx context.Context, strategyID string) (models.StrategyConfig, error)
	Get(ctx context.Context, strategyID string) (models.StrategyConfig, error)
	List(ctx context.Context, userID string) ([]models.StrategyConfig, error)
}

type API struct {
	strategies Strategies
}

func NewAPI(strategies Strategies) *API {
	return &API{strategies: strategies}
}

func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /strategies", a.create)
	mux.HandleFunc("GET /strategies/{id}", a.get)
	mux.HandleFunc("DELETE /strategies/{id}", a.stop)
	mux.HandleFunc("GET /users/{user_id}/strategies", a.list)
}

type errorResponse struct {
	Error    string                 `json:"error"`
	Strategy *models.StrategyConfig `json:"strategy,omitempty"`
}

func (a *API) create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var job models.StrategyJobSpec
	if err := sonic.Unmarshal(body, &job); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed job: " + err.Error()})
		return
	}

	cfg, err := a.strategies.CreateAndStart(r.Context(), job)
	if err != nil {
		a.fail(w, cfg, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (a *API) get(w http.ResponseWriter, r *http.Request) {
	cfg, err := a.strategies.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, models.StrategyConfig{}, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (a *API) stop(w http.ResponseWriter, r *http.Request) {
	cfg, err := a.strategies.Stop(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, cfg, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (a *API) list(w http.ResponseWriter, r *http.Request) {
	cfgs, err := a.strategies.List(r.Context(), r.PathValue("user_id"))
	if err != nil {
		a.fail(w, models.StrategyConfig{}, err)
		return
	}
	if cfgs == nil {
		cfgs = []models.StrategyConfig{}
	}
	writeJSON(w, http.StatusOK, cfgs)
}

func (a *API) fail(w http.ResponseWriter, cfg models.StrategyConfig, err error) {
	resp := errorResponse{Error: err.Error()}
	switch {
	case errors.Is(err, models.ErrInvalidJob), errors.Is(err, manager.ErrUnsupportedStrategy):
		writeJSON(w, http.StatusBadRequest, resp)
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, resp)
	case errors.Is(err, manager.ErrStaleRecord):
		// the strategy did change state; the caller needs its id
		resp.Strategy = &cfg
		writeJSON(w, http.StatusInternalServerError, resp)
	default:
		logger.Error("strategy api: %v", err)
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
