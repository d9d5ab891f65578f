// Package rates reads observed currency pairs and reduces them to the
// average conversion rates used by cost derivation.
package rates

import "time"

// Currency pair names on the exchange_rates feed.
const (
	PairWAKMRV = "WAKMRV"
	PairMRVZAR = "MRVZAR"
)

// ExchangeRate is one observed quote for a currency pair. Appended by
// the streaming ingest path, read-only here. A pair quotes at most once
// per instant; the unique key lets redelivered ticks insert as no-ops
// instead of skewing the average.
type ExchangeRate struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	PairName   string    `gorm:"column:pair_name;type:varchar(10);not null;uniqueIndex:idx_exchange_rates_quote,priority:1"`
	Rate       float64   `gorm:"column:rate;not null"`
	RecordedAt time.Time `gorm:"column:recorded_at;not null;uniqueIndex:idx_exchange_rates_quote,priority:2"`
}

func (ExchangeRate) TableName() string { return "exchange_rates" }
