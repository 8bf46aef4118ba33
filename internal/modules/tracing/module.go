package tracing

import (
	"strategy_runtime/internal/modules/config"
	"strategy_runtime/pkg/tracing"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("tracing",
		fx.Provide(
			func(lc fx.Lifecycle, cfg *config.Config) (opentracing.Tracer, error) {
				tracer, closer, err := tracing.InitTracer(tracing.Config{
					Enabled: cfg.Tracing.Enabled,
					Host:    cfg.Tracing.Host,
					Port:    cfg.Tracing.Port,
					Service: cfg.Service.Name,
				})
				if err != nil {
					return nil, err
				}
				lc.Append(fx.StopHook(closer))
				return tracer, nil
			},
		),
		// the tracer is global; invoking forces it before any span is started
		fx.Invoke(func(opentracing.Tracer) {}),
	)
}
