package rates

import (
	"context"

	"github.com/smallbiznis/cdrflow/internal/config"
	"github.com/smallbiznis/cdrflow/internal/pricing"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Provider averages observed rates per pair. When a pair has no
// observations yet the configured fallback is used, so cost derivation
// never stalls on an empty feed.
type Provider struct {
	db       *gorm.DB
	log      *zap.Logger
	fallback pricing.Rates
}

func NewProvider(db *gorm.DB, log *zap.Logger, cfg config.AggregationConfig) *Provider {
	return &Provider{
		db:  db,
		log: log.Named("rates"),
		fallback: pricing.Rates{
			WAKMRV: cfg.Rates.FallbackWAKMRV,
			MRVZAR: cfg.Rates.FallbackMRVZAR,
		},
	}
}

// Average returns the mean observed rate per pair. Pairs without
// observations take the fallback value.
func (p *Provider) Average(ctx context.Context, tx *gorm.DB) (pricing.Rates, error) {
	if tx == nil {
		tx = p.db
	}

	type pairAvg struct {
		PairName string  `gorm:"column:pair_name"`
		AvgRate  float64 `gorm:"column:avg_rate"`
	}
	var avgs []pairAvg
	err := tx.WithContext(ctx).Model(&ExchangeRate{}).
		Select("pair_name, AVG(rate) AS avg_rate").
		Where("pair_name IN ?", []string{PairWAKMRV, PairMRVZAR}).
		Group("pair_name").
		Find(&avgs).Error
	if err != nil {
		return pricing.Rates{}, err
	}

	out := p.fallback
	for _, a := range avgs {
		switch a.PairName {
		case PairWAKMRV:
			out.WAKMRV = a.AvgRate
		case PairMRVZAR:
			out.MRVZAR = a.AvgRate
		}
	}
	if out == p.fallback && len(avgs) == 0 {
		p.log.Debug("no rate observations, using fallback",
			zap.Float64("wakmrv", out.WAKMRV),
			zap.Float64("mrvzar", out.MRVZAR))
	}
	return out, nil
}
