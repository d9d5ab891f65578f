package batch

import (
	"context"
	"os"
	"strings"
	"time"

	"go.uber.org/fx"
)

var Module = fx.Module("batch",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(runWorker),
)

// ProvideConfig reads the orchestrator tunables from the environment.
func ProvideConfig() Config {
	cfg := DefaultConfig()
	if v := strings.TrimSpace(os.Getenv("BATCH_RUN_INTERVAL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RunInterval = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("BATCH_LAYER_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.LayerTimeout = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("BATCH_ENABLED_LAYERS")); v != "" {
		for _, layer := range strings.Split(v, ",") {
			if layer = strings.TrimSpace(layer); layer != "" {
				cfg.EnabledLayers = append(cfg.EnabledLayers, layer)
			}
		}
	}
	return cfg
}

func runWorker(lc fx.Lifecycle, orch *Orchestrator) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go orch.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
