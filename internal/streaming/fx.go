package streaming

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/cdrflow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("streaming",
	fx.Provide(ProvideRedis),
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(runIngester),
)

func ProvideRedis(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

func ProvideConfig(cfg config.Config) Config {
	out := DefaultConfig()
	out.Stream = cfg.StreamName
	out.Group = cfg.StreamGroup
	return out
}

func runIngester(lc fx.Lifecycle, ing *Ingester, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go func() {
				if err := ing.Run(ctx); err != nil && ctx.Err() == nil {
					log.Error("ingester stopped", zap.Error(err))
				}
			}()

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
