package streaming

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/cdrflow/internal/bucketing"
	"github.com/smallbiznis/cdrflow/internal/clock"
	obsmetrics "github.com/smallbiznis/cdrflow/internal/observability/metrics"
	"github.com/smallbiznis/cdrflow/internal/rates"
	"github.com/smallbiznis/cdrflow/internal/rollup"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrInvalidConfig = errors.New("streaming: invalid ingester configuration")

type Params struct {
	fx.In

	DB     *gorm.DB
	Redis  *redis.Client
	Log    *zap.Logger
	Clock  clock.Clock
	Config Config `optional:"true"`
}

// Ingester consumes the usage stream with a consumer group and applies
// size/time-bounded batches to the daily rollup. Delivery is
// at-least-once: messages are acked only after their batch commits.
// Each flush records the applied entry ids in the same transaction, so
// a redelivered message is dropped, and folds the day's persisted
// counters back in before upserting, so every write carries the full
// total for its key no matter how events were split across batches.
type Ingester struct {
	db     *gorm.DB
	rdb    *redis.Client
	log    *zap.Logger
	clock  clock.Clock
	cfg    Config
	writer *rollup.Writer
}

type pendingMessage struct {
	id    string
	event Event
}

func New(p Params) (*Ingester, error) {
	if p.DB == nil || p.Redis == nil || p.Log == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	if cfg.Consumer == "" {
		cfg.Consumer = "ingest-" + uuid.NewString()
	}
	return &Ingester{
		db:     p.DB,
		rdb:    p.Redis,
		log:    p.Log.Named("streaming").With(zap.String("component", "ingester")),
		clock:  p.Clock,
		cfg:    cfg,
		writer: rollup.NewWriter(),
	}, nil
}

// Run consumes until ctx is cancelled. The buffered batch is flushed
// when it reaches BatchSize or when FlushInterval elapses, whichever
// comes first; a final flush runs on shutdown so buffered messages are
// not redelivered needlessly.
func (i *Ingester) Run(ctx context.Context) error {
	if err := i.ensureGroup(ctx); err != nil {
		return err
	}

	var batch []pendingMessage
	deadline := i.clock.Now().Add(i.cfg.FlushInterval)

	for {
		if ctx.Err() != nil {
			return i.flushAndAck(context.Background(), batch)
		}

		entries, err := i.read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return i.flushAndAck(context.Background(), batch)
			}
			if !errors.Is(err, redis.Nil) {
				i.log.Warn("stream read failed", zap.Error(err))
			}
		}

		for _, entry := range entries {
			ev, err := Decode(entry.Values)
			if err != nil {
				skip, ok := AsSkip(err)
				if !ok {
					return err
				}
				// Malformed payloads are acked and dropped: redelivery
				// cannot repair them.
				obsmetrics.Pipeline().IncIngestSkipped(skip.Reason)
				obsmetrics.Pipeline().IncIngestMessage("skipped")
				i.log.Warn("skipping malformed message",
					zap.String("message_id", entry.ID),
					zap.String("reason", skip.Reason),
					zap.String("field", skip.Field),
				)
				i.ack(ctx, entry.ID)
				continue
			}
			batch = append(batch, pendingMessage{id: entry.ID, event: ev})
		}

		if len(batch) >= i.cfg.BatchSize || (len(batch) > 0 && !i.clock.Now().Before(deadline)) {
			if err := i.flushAndAck(ctx, batch); err != nil {
				i.log.Error("batch flush failed", zap.Error(err))
			} else {
				batch = nil
			}
			deadline = i.clock.Now().Add(i.cfg.FlushInterval)
		}
	}
}

func (i *Ingester) ensureGroup(ctx context.Context) error {
	err := i.rdb.XGroupCreateMkStream(ctx, i.cfg.Stream, i.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (i *Ingester) read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := i.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    i.cfg.Group,
		Consumer: i.cfg.Consumer,
		Streams:  []string{i.cfg.Stream, ">"},
		Count:    int64(i.cfg.BatchSize),
		Block:    i.cfg.BlockTimeout,
	}).Result()
	if err != nil {
		return nil, err
	}
	var entries []redis.XMessage
	for _, s := range streams {
		entries = append(entries, s.Messages...)
	}
	return entries, nil
}

func (i *Ingester) flushAndAck(ctx context.Context, batch []pendingMessage) error {
	if len(batch) == 0 {
		return nil
	}

	if err := i.Flush(ctx, batch); err != nil {
		return err
	}

	for _, m := range batch {
		i.ack(ctx, m.id)
		obsmetrics.Pipeline().IncIngestMessage("ok")
	}
	return nil
}

// Retention for applied entry ids. Redelivery windows are seconds, not
// days; anything older only bloats the dedup table.
const entryRetention = 7 * 24 * time.Hour

// Flush applies one batch in a single transaction: applied entry ids
// are recorded for idempotence, the surviving usage events are folded
// together with the day's already persisted counters, and forex ticks
// are appended. An empty batch is a no-op.
func (i *Ingester) Flush(ctx context.Context, batch []pendingMessage) error {
	if len(batch) == 0 {
		return nil
	}
	start := time.Now()
	now := i.clock.Now()

	err := i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acc := bucketing.NewAccumulator(bucketing.IntervalDaily, i.log)
		var ticks []rates.ExchangeRate

		folded := 0
		for _, m := range batch {
			if m.id != "" {
				res := tx.WithContext(ctx).
					Clauses(clause.OnConflict{DoNothing: true}).
					Create(&IngestedEntry{EntryID: m.id, IngestedAt: now})
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected == 0 {
					// Already applied by a committed flush; redelivery.
					continue
				}
			}
			folded++

			switch m.event.Kind {
			case KindVoice:
				acc.AddVoice(bucketing.VoiceEvent{
					MSISDN:      m.event.SubscriberID,
					RecordedAt:  m.event.Timestamp,
					CallType:    m.event.CallType,
					DurationSec: m.event.DurationSec,
				})
			case KindData:
				acc.AddData(bucketing.DataEvent{
					MSISDN:     m.event.SubscriberID,
					RecordedAt: m.event.Timestamp,
					MediaType:  m.event.MediaType,
					UpBytes:    m.event.UpBytes,
					DownBytes:  m.event.DownBytes,
				})
			case KindForexTick:
				ticks = append(ticks, rates.ExchangeRate{
					PairName:   m.event.PairName,
					Rate:       m.event.Rate(),
					RecordedAt: m.event.Timestamp,
				})
			}
		}

		if acc.Len() > 0 {
			if err := i.mergePersistedCounters(ctx, tx, acc); err != nil {
				return err
			}
			if err := i.writer.UpsertBuckets(ctx, tx, bucketing.IntervalDaily, acc.Buckets()); err != nil {
				return err
			}
			obsmetrics.Pipeline().AddRowsWritten("usage_daily", acc.Len())
		}
		if len(ticks) > 0 {
			err := tx.WithContext(ctx).
				Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "pair_name"}, {Name: "recorded_at"}},
					DoNothing: true,
				}).
				Create(&ticks).Error
			if err != nil {
				return err
			}
		}
		if folded == 0 {
			return nil
		}
		return tx.WithContext(ctx).
			Where("ingested_at < ?", now.Add(-entryRetention)).
			Delete(&IngestedEntry{}).Error
	})
	if err != nil {
		return err
	}

	obsmetrics.Pipeline().ObserveFlushDuration(time.Since(start))
	i.log.Debug("batch flushed", zap.Int("messages", len(batch)))
	return nil
}

// mergePersistedCounters folds the already committed daily rows for the
// accumulator's keys back into it. The upsert replaces counter values,
// so a write built from one batch alone would erase what earlier
// batches contributed to the same (day, msisdn).
func (i *Ingester) mergePersistedCounters(ctx context.Context, tx *gorm.DB, acc *bucketing.Accumulator) error {
	byDay := make(map[time.Time][]string)
	for _, b := range acc.Buckets() {
		byDay[b.IntervalStart] = append(byDay[b.IntervalStart], b.MSISDN)
	}
	for day, msisdns := range byDay {
		var existing []bucketing.UsageBucket
		err := tx.WithContext(ctx).
			Table(bucketing.IntervalDaily.Table()).
			Where("interval_start = ? AND msisdn IN ?", day, msisdns).
			Find(&existing).Error
		if err != nil {
			return err
		}
		for _, row := range existing {
			acc.Merge(row)
		}
	}
	return nil
}

func (i *Ingester) ack(ctx context.Context, id string) {
	if err := i.rdb.XAck(ctx, i.cfg.Stream, i.cfg.Group, id).Err(); err != nil {
		i.log.Warn("ack failed", zap.String("message_id", id), zap.Error(err))
	}
}
