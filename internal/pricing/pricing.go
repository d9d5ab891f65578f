// Package pricing implements the cost model: pure functions mapping raw
// usage measures to cost in the base currency (ZAR) and a converted
// secondary currency (WAK), with no I/O and no hidden state.
package pricing

import (
	"math"

	"github.com/smallbiznis/cdrflow/internal/config"
)

const bytesPerGB = float64(1 << 30)

// Model fixes the base-currency prices. Values come from configuration
// and are immutable for the life of the process.
type Model struct {
	DataPricePerGB      float64
	VoicePricePerMinute float64
}

func NewModel(cfg config.AggregationConfig) Model {
	return Model{
		DataPricePerGB:      cfg.Pricing.DataPricePerGB,
		VoicePricePerMinute: cfg.Pricing.VoicePricePerMinute,
	}
}

// DataCost returns the ZAR cost of the given byte volume.
// data_cost(bytes) = bytes / 2^30 * price_per_gb.
func (m Model) DataCost(bytes int64) float64 {
	if bytes <= 0 {
		return 0
	}
	return float64(bytes) / bytesPerGB * m.DataPricePerGB
}

// VoiceCost returns the ZAR cost of the given call duration.
// voice_cost(seconds) = seconds / 60 * price_per_minute.
func (m Model) VoiceCost(seconds int64) float64 {
	if seconds <= 0 {
		return 0
	}
	return float64(seconds) / 60 * m.VoicePricePerMinute
}

// Rates carries the two conversion stages. WAKMRV is MRV per WAK and
// MRVZAR is ZAR per MRV, so one WAK equals WAKMRV*MRVZAR ZAR.
type Rates struct {
	WAKMRV float64
	MRVZAR float64
}

// Factor returns the ZAR→WAK multiplier. A non-positive rate yields a
// zero factor so a bad upstream feed cannot produce infinite cost.
func (r Rates) Factor() float64 {
	if r.WAKMRV <= 0 || r.MRVZAR <= 0 {
		return 0
	}
	return 1 / (r.WAKMRV * r.MRVZAR)
}

// ConvertMinorUnits converts a ZAR cost into the integer WAK minor unit
// by the given rate factor, rounding half-up (ties away from zero). The
// rounding mode is fixed: financial rounding is observable and both
// pipelines must agree on it.
func ConvertMinorUnits(costZAR float64, factor float64) int64 {
	return roundHalfUp(costZAR * factor)
}

func roundHalfUp(v float64) int64 {
	if v >= 0 {
		return int64(math.Floor(v + 0.5))
	}
	return int64(math.Ceil(v - 0.5))
}
