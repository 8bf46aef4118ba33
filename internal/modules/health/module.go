package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"strategy_runtime/internal/engine"
	"strategy_runtime/internal/manager"
	"strategy_runtime/internal/modules/config"
	"strategy_runtime/internal/modules/health/service"
	marketdata "strategy_runtime/internal/modules/market_data/service"
	"strategy_runtime/pkg/logger"

	"github.com/bytedance/sonic"
	"go.uber.org/fx"
)

// Feed is what /healthz reports about market data.
type Feed interface {
	Running() bool
	LastCandle() time.Time
	Published() int64
}

// Engines is what /healthz reports about tenants.
type Engines interface {
	Engines() []*engine.UserEngine
}

type healthz struct {
	Ready        bool  `json:"ready"`
	WSConnected  bool  `json:"wsConnected"`
	WSConnects   int64 `json:"wsConnects"`
	UptimeSec    int64 `json:"uptimeSec"`
	FeedRunning  bool  `json:"feedRunning"`
	LastCandle   int64 `json:"lastCandleUnix"`
	Published    int64 `json:"published"`
	Engines      int   `json:"engines"`
	ActiveStrats int   `json:"activeStrategies"`
}

func NewMux(state *service.State, feed Feed, engines Engines, api *service.API) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !state.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := healthz{
			Ready:       state.Ready(),
			WSConnected: state.WSConnected(),
			WSConnects:  state.Connects(),
			UptimeSec:   int64(state.Uptime().Seconds()),
			FeedRunning: feed.Running(),
			Published:   feed.Published(),
		}
		if t := feed.LastCandle(); !t.IsZero() {
			resp.LastCandle = t.Unix()
		}
		for _, e := range engines.Engines() {
			resp.Engines++
			resp.ActiveStrats += e.ActiveStrategies()
		}
		data, err := sonic.Marshal(resp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	})

	api.Register(mux)
	return mux
}

func RunHTTP(lc fx.Lifecycle, cfg *config.Config, mux *http.ServeMux) {
	addr := cfg.HTTPAddr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			logger.Info("http listening on %s", addr)
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// MarkReady flips readiness once every earlier OnStart hook has run, so it
// must be invoked after the bus and market data modules.
func MarkReady(lc fx.Lifecycle, state *service.State) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			state.SetReady(true)
			return nil
		},
		OnStop: func(context.Context) error {
			state.SetReady(false)
			return nil
		},
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			func(svc *marketdata.MarketDataService) Feed { return svc },
			func(reg *engine.Registry) Engines { return reg },
			func(m *manager.StrategyManager) service.Strategies { return m },
			service.NewAPI,
			NewMux,
		),
		fx.Invoke(RunHTTP),
	)
}
