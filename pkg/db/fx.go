package db

import (
	"context"
	"time"

	"github.com/smallbiznis/cdrflow/internal/config"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormprometheus "gorm.io/plugin/prometheus"
)

// Open connects to the configured database, retrying per the policy
// before surfacing a fatal error.
func Open(cfg config.Config, log *zap.Logger, policy RetryPolicy) (*gorm.DB, error) {
	dialector, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}

	var conn *gorm.DB
	err = policy.Do(context.Background(), func(attempt int) error {
		var openErr error
		conn, openErr = gorm.Open(dialector, &gorm.Config{
			TranslateError: true,
		})
		if openErr != nil {
			log.Error("database connection failed",
				zap.Int("attempt", attempt),
				zap.String("database", cfg.DBName),
				zap.Error(openErr),
			)
		}
		return openErr
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Use(otelgorm.NewPlugin(otelgorm.WithDBName(cfg.DBName))); err != nil {
		return nil, err
	}
	if err := conn.Use(gormprometheus.New(gormprometheus.Config{
		DBName:          cfg.DBName,
		RefreshInterval: 15,
	})); err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConn)
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConn)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.DBConnMaxLifetime) * time.Second)

	return conn, nil
}

func provide(cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	return Open(cfg, log, DefaultRetryPolicy())
}

var Module = fx.Module("db",
	fx.Provide(provide),
)
