// Package batch drives full aggregation passes: fetch unprocessed raw
// events bounded by each layer's watermark, fold them, write rollups and
// advance the watermark in one transaction.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cdrflow/internal/balance"
	"github.com/smallbiznis/cdrflow/internal/bucketing"
	"github.com/smallbiznis/cdrflow/internal/clock"
	"github.com/smallbiznis/cdrflow/internal/config"
	obsmetrics "github.com/smallbiznis/cdrflow/internal/observability/metrics"
	"github.com/smallbiznis/cdrflow/internal/pricing"
	"github.com/smallbiznis/cdrflow/internal/rates"
	"github.com/smallbiznis/cdrflow/internal/rollup"
	"github.com/smallbiznis/cdrflow/internal/sessionizing"
	"github.com/smallbiznis/cdrflow/internal/watermark"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Layer names as persisted in processing_state.
const (
	LayerUsage15Min    = "usage_15min"
	LayerUsage30Min    = "usage_30min"
	LayerUsage1Hr      = "usage_1hr"
	LayerTowerSessions = "tower_sessions"
	LayerBalance       = "balance"
)

var ErrInvalidConfig = errors.New("batch: invalid orchestrator configuration")

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	GenID  *snowflake.Node
	AggCfg config.AggregationConfig
	Rates  *rates.Provider
	Config Config `optional:"true"`
}

// Orchestrator runs the batch layers. Layers are independent jobs in one
// scheduler loop; each pass is a single transaction so a mid-pass
// failure leaves both the rollups and the watermark untouched.
type Orchestrator struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         Config
	genID       *snowflake.Node
	clock       clock.Clock
	writer      *rollup.Writer
	tracker     *watermark.Tracker
	sessionizer *sessionizing.Sessionizer
	rates       *rates.Provider
	loader      *balance.Loader
	builder     *balance.Builder
}

func New(p Params) (*Orchestrator, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.GenID == nil || p.Rates == nil {
		return nil, ErrInvalidConfig
	}
	return &Orchestrator{
		db:          p.DB,
		log:         p.Log.Named("batch").With(zap.String("component", "batch")),
		cfg:         p.Config.withDefaults(),
		genID:       p.GenID,
		clock:       p.Clock,
		writer:      rollup.NewWriter(),
		tracker:     watermark.NewTracker(p.DB),
		sessionizer: sessionizing.New(p.AggCfg.Sessions.GapThreshold),
		rates:       p.Rates,
		loader:      balance.NewLoader(p.DB),
		builder:     balance.NewBuilder(pricing.NewModel(p.AggCfg)),
	}, nil
}

func (o *Orchestrator) runLayer(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := o.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := o.log.With(zap.String("layer", name))
	pipeMetrics := obsmetrics.Pipeline()
	pipeMetrics.IncLayerRun(name)

	err := fn(ctx)
	pipeMetrics.ObserveLayerDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	pipeMetrics.IncLayerError(name, err)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		pipeMetrics.IncLayerTimeout(name)
		log.Warn("layer pass timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	case errors.Is(err, context.Canceled):
		// Operator-initiated shutdown, not a timeout: the pass rolled
		// back cleanly and the next run re-covers the same window.
		log.Info("layer pass interrupted by shutdown", zap.Error(err))
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes one full pass over all enabled layers. The balance
// layer runs last: its costs depend on the usage windows committed
// earlier in the same pass.
func (o *Orchestrator) RunOnce(parent context.Context) error {
	var err error

	layers := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{LayerUsage15Min, o.isLayerEnabled(LayerUsage15Min), func(ctx context.Context) error {
			return o.runLayer(ctx, LayerUsage15Min, o.cfg.LayerTimeout, func(ctx context.Context) error {
				return o.UsageLayerPass(ctx, bucketing.Interval15Min, LayerUsage15Min)
			})
		}},
		{LayerUsage30Min, o.isLayerEnabled(LayerUsage30Min), func(ctx context.Context) error {
			return o.runLayer(ctx, LayerUsage30Min, o.cfg.LayerTimeout, func(ctx context.Context) error {
				return o.UsageLayerPass(ctx, bucketing.Interval30Min, LayerUsage30Min)
			})
		}},
		{LayerUsage1Hr, o.isLayerEnabled(LayerUsage1Hr), func(ctx context.Context) error {
			return o.runLayer(ctx, LayerUsage1Hr, o.cfg.LayerTimeout, func(ctx context.Context) error {
				return o.UsageLayerPass(ctx, bucketing.Interval1Hr, LayerUsage1Hr)
			})
		}},
		{LayerTowerSessions, o.isLayerEnabled(LayerTowerSessions), func(ctx context.Context) error {
			return o.runLayer(ctx, LayerTowerSessions, o.cfg.LayerTimeout, o.TowerSessionsPass)
		}},
		{LayerBalance, o.isLayerEnabled(LayerBalance), func(ctx context.Context) error {
			return o.runLayer(ctx, LayerBalance, o.cfg.LayerTimeout, o.BalancePass)
		}},
	}

	for _, layer := range layers {
		if layer.Enabled {
			err = errors.Join(err, layer.Run(parent))
		}
	}

	return err
}

// RunForever runs passes on the configured interval until ctx is
// cancelled.
func (o *Orchestrator) RunForever(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := o.clock.Now().Add(o.cfg.RunInterval)
	pipeMetrics := obsmetrics.Pipeline()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			pipeMetrics.ObserveRunLoopLag(runLag)
		}
		if err := o.RunOnce(ctx); err != nil {
			o.log.Warn("batch run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(o.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) isLayerEnabled(name string) bool {
	if len(o.cfg.EnabledLayers) == 0 {
		return true
	}
	for _, enabled := range o.cfg.EnabledLayers {
		if strings.EqualFold(enabled, name) {
			return true
		}
	}
	return false
}

// UsageLayerPass folds raw voice and data events newer than the layer's
// watermark into one granularity's rollup table. Fetch, fold, write and
// watermark advance all share one transaction.
func (o *Orchestrator) UsageLayerPass(ctx context.Context, interval bucketing.Interval, layer string) error {
	now := o.clock.Now()
	written := 0

	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wm, err := o.tracker.Lease(ctx, tx, layer, now)
		if err != nil {
			return err
		}

		voice, data, maxTS, err := o.fetchUsageEvents(ctx, tx, interval, wm, now)
		if err != nil {
			return err
		}
		if len(voice) == 0 && len(data) == 0 {
			return o.tracker.Touch(ctx, tx, layer, now)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		acc := bucketing.NewAccumulator(interval, o.log)
		for _, e := range voice {
			acc.AddVoice(e)
		}
		for _, e := range data {
			acc.AddData(e)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rows := acc.Buckets()
		if err := o.writer.UpsertBuckets(ctx, tx, interval, rows); err != nil {
			return err
		}
		written = len(rows)

		// Advance to the highest event timestamp actually folded, not to
		// now: rows landing between maxTS and now are picked up next run.
		return o.tracker.Advance(ctx, tx, layer, maxTS, now)
	})
	if err != nil {
		return err
	}

	obsmetrics.Pipeline().AddRowsWritten(layer, written)
	o.log.Debug("usage layer pass complete",
		zap.String("layer", layer),
		zap.Int("rows", written),
	)
	return nil
}

func (o *Orchestrator) fetchUsageEvents(ctx context.Context, tx *gorm.DB, interval bucketing.Interval, wm *time.Time, now time.Time) ([]bucketing.VoiceEvent, []bucketing.DataEvent, time.Time, error) {
	// The fetch restarts at the watermark's bucket boundary, not at the
	// watermark itself: a bucket straddling two runs must be recomputed
	// from all of its events, or the replace-style upsert would overwrite
	// the earlier run's counts with a partial total.
	bounded := func(q *gorm.DB) *gorm.DB {
		if wm != nil {
			q = q.Where("recorded_at >= ?", interval.Align(*wm))
		}
		return q.Where("recorded_at <= ?", now).Order("recorded_at, msisdn")
	}

	var voice []bucketing.VoiceEvent
	if err := bounded(tx.WithContext(ctx).Model(&bucketing.VoiceEvent{})).Find(&voice).Error; err != nil {
		return nil, nil, time.Time{}, err
	}
	var data []bucketing.DataEvent
	if err := bounded(tx.WithContext(ctx).Model(&bucketing.DataEvent{})).Find(&data).Error; err != nil {
		return nil, nil, time.Time{}, err
	}

	var maxTS time.Time
	for _, e := range voice {
		if e.RecordedAt.After(maxTS) {
			maxTS = e.RecordedAt
		}
	}
	for _, e := range data {
		if e.RecordedAt.After(maxTS) {
			maxTS = e.RecordedAt
		}
	}
	return voice, data, maxTS, nil
}

// TowerSessionsPass rebuilds the tower_sessions view from the full event
// history. Sessions are derived state and are never patched in place: a
// late event can split or merge sessions, so the only safe update is a
// whole rebuild.
func (o *Orchestrator) TowerSessionsPass(ctx context.Context) error {
	now := o.clock.Now()
	written := 0

	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := o.tracker.Lease(ctx, tx, LayerTowerSessions, now); err != nil {
			return err
		}

		var events []sessionizing.TowerEvent
		err := tx.WithContext(ctx).
			Where("recorded_at <= ?", now).
			Order("msisdn, recorded_at").
			Find(&events).Error
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		bySubscriber := make(map[string][]sessionizing.TowerEvent)
		for _, e := range events {
			bySubscriber[e.MSISDN] = append(bySubscriber[e.MSISDN], e)
		}
		msisdns := make([]string, 0, len(bySubscriber))
		for m := range bySubscriber {
			msisdns = append(msisdns, m)
		}
		sort.Strings(msisdns)

		var sessions []sessionizing.TowerSession
		var maxTS time.Time
		for _, m := range msisdns {
			for _, s := range o.sessionizer.Sessionize(bySubscriber[m]) {
				s.ID = o.genID.Generate()
				s.CreatedAt = now
				sessions = append(sessions, s)
				if s.SessionEnd.After(maxTS) {
					maxTS = s.SessionEnd
				}
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := o.writer.Rebuild(ctx, tx, &sessionizing.TowerSession{}, sessions); err != nil {
			return err
		}
		written = len(sessions)

		if maxTS.IsZero() {
			return o.tracker.Touch(ctx, tx, LayerTowerSessions, now)
		}
		return o.tracker.Advance(ctx, tx, LayerTowerSessions, maxTS, now)
	})
	if err != nil {
		return err
	}

	obsmetrics.Pipeline().AddRowsWritten(LayerTowerSessions, written)
	o.log.Debug("tower sessions rebuilt", zap.Int("sessions", written))
	return nil
}

// BalancePass rebuilds the flattened balance profiles: CRM identity
// joined with accumulated usage cost under the current average rates.
// It runs after the usage layers so costs reflect the windows committed
// in the same pass.
func (o *Orchestrator) BalancePass(ctx context.Context) error {
	now := o.clock.Now()
	written := 0

	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := o.tracker.Lease(ctx, tx, LayerBalance, now); err != nil {
			return err
		}

		records, err := o.loader.FetchCRM(ctx, tx)
		if err != nil {
			return err
		}
		totals, err := o.loader.FetchUsageTotals(ctx, tx)
		if err != nil {
			return err
		}
		avg, err := o.rates.Average(ctx, tx)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		profiles := o.builder.BuildProfiles(records, totals, avg, now)
		if err := o.writer.Rebuild(ctx, tx, &balance.BalanceProfile{}, profiles); err != nil {
			return err
		}
		written = len(profiles)

		return o.tracker.Touch(ctx, tx, LayerBalance, now)
	})
	if err != nil {
		return err
	}

	obsmetrics.Pipeline().AddRowsWritten(LayerBalance, written)
	o.log.Debug("balance profiles rebuilt", zap.Int("profiles", written))
	return nil
}
