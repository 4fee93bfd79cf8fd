package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/lzyats/airship-go/pkg/airship"
	"github.com/lzyats/airship-go/pkg/breaker"
	"github.com/lzyats/airship-go/pkg/event"
	"github.com/lzyats/airship-go/pkg/metrics"
	"github.com/lzyats/airship-go/pkg/producer"
	"github.com/lzyats/airship-go/pkg/reports"
	redisstore "github.com/lzyats/airship-go/pkg/store/redis"
	"github.com/lzyats/airship-go/pkg/store/storeiface"
)

const (
	breakerKey = "airship"
	// fillBlock bounds how long a partial batch waits for more ids.
	fillBlock  = time.Second
	errBackoff = 500 * time.Millisecond
)

// Fetcher is the subset of *reports.PerPush the collector calls.
type Fetcher interface {
	GetBatch(ctx context.Context, pushIDs []string) ([]reports.PushDetail, error)
	GetWithPrecision(ctx context.Context, pushID string, precision reports.Precision) (*reports.Series, error)
}

type Publisher interface {
	Publish(ctx context.Context, evt *event.ReportEvent) error
	Close() error
}

// Deps are the collaborators of a Worker. Publisher and Breaker are optional.
type Deps struct {
	Store     storeiface.ReportStore
	Fetcher   Fetcher
	Publisher Publisher
	Breaker   *breaker.Breaker
	Logger    *zap.Logger
}

// Worker drains push ids from the store queue, fetches their per-push
// reports in batches and stores a snapshot of each.
type Worker struct {
	col       airship.CollectorSettings
	precision reports.Precision
	deps      Deps
	log       *zap.Logger
	closers   []func() error
}

// NewWorker wires the worker from settings: Redis is required, RocketMQ and
// the breaker are enabled by their Y/N flags.
func NewWorker(st airship.Settings, log *zap.Logger) (*Worker, error) {
	st = st.WithDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	if st.Redis.Enabled != "Y" {
		return nil, fmt.Errorf("collector: redis must be enabled: %w", airship.ErrNotConfigured)
	}
	conn, err := airship.New(st.Airship, airship.WithLogger(log))
	if err != nil {
		return nil, err
	}
	store, err := redisstore.New(st.Redis, st.Collector)
	if err != nil {
		return nil, err
	}
	deps := Deps{
		Store:   store,
		Fetcher: reports.NewPerPush(conn),
		Logger:  log,
	}
	if st.RocketMQ.Enabled == "Y" {
		pub, err := producer.NewRocketMQ(st.RocketMQ)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		deps.Publisher = pub
	}
	if st.Breaker.Enabled == "Y" {
		deps.Breaker = breaker.New(breaker.Options{
			Threshold: st.Breaker.Threshold,
			Window:    st.Breaker.Window,
			OpenFor:   st.Breaker.OpenFor,
		})
	}

	w, err := NewWorkerWithDeps(st.Collector, deps)
	if err != nil {
		if deps.Publisher != nil {
			_ = deps.Publisher.Close()
		}
		_ = store.Close()
		return nil, err
	}
	w.closers = append(w.closers, store.Close)
	return w, nil
}

func NewWorkerWithDeps(col airship.CollectorSettings, deps Deps) (*Worker, error) {
	if deps.Store == nil || deps.Fetcher == nil {
		return nil, fmt.Errorf("collector: store and fetcher are required: %w", airship.ErrNotConfigured)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if col.BatchSize <= 0 || col.BatchSize > airship.MaxBatchSize {
		col.BatchSize = airship.MaxBatchSize
	}
	var p reports.Precision
	if col.SeriesPrecision != "" {
		var err error
		if p, err = reports.ParsePrecision(col.SeriesPrecision); err != nil {
			return nil, err
		}
	}
	w := &Worker{col: col, precision: p, deps: deps, log: deps.Logger}
	if deps.Publisher != nil {
		w.closers = append(w.closers, deps.Publisher.Close)
	}
	return w, nil
}

func (w *Worker) Close() {
	for _, c := range w.closers {
		_ = c()
	}
	w.closers = nil
}

func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("collector started",
		zap.Int("batch_size", w.col.BatchSize),
		zap.String("series_precision", w.precision.String()),
		zap.Bool("publish", w.deps.Publisher != nil),
		zap.Bool("breaker", w.deps.Breaker != nil),
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if w.deps.Breaker != nil {
			if wait := w.deps.Breaker.RetryAfter(breakerKey); wait > 0 {
				w.log.Info("breaker open, pausing collector", zap.Duration("wait", wait))
				if err := sleep(ctx, wait); err != nil {
					return err
				}
				continue
			}
		}

		batch, err := w.nextBatch(ctx)
		if len(batch) > 0 {
			// Process even when the fill was cut short; those ids are already off the queue.
			_ = w.Process(ctx, batch)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn("queue pop failed", zap.Error(err))
			if err := sleep(ctx, errBackoff); err != nil {
				return err
			}
		}
	}
}

// nextBatch blocks for the first id, then keeps filling until BatchSize or
// the queue runs dry. Duplicate and empty ids are dropped.
func (w *Worker) nextBatch(ctx context.Context) ([]string, error) {
	block := w.col.PopBlock
	seen := make(map[string]struct{}, w.col.BatchSize)
	batch := make([]string, 0, w.col.BatchSize)

	for len(batch) < w.col.BatchSize {
		id, err := w.deps.Store.Pop(ctx, block)
		if err != nil {
			return batch, err
		}
		if id == "" {
			if block == fillBlock || len(batch) > 0 {
				break
			}
			return batch, nil
		}
		block = fillBlock
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		batch = append(batch, id)
	}
	return batch, nil
}

// Process collects one batch. Ids the service does not know are dropped;
// transient failures, including snapshot writes, push ids back onto the queue.
func (w *Worker) Process(ctx context.Context, ids []string) error {
	details, err := w.deps.Fetcher.GetBatch(ctx, ids)
	if err != nil {
		return w.fail(ctx, ids, err)
	}
	w.succeed()

	found := make(map[string]struct{}, len(details))
	var (
		firstErr error
		unsaved  []string
		saveErr  error
	)
	for i := range details {
		d := &details[i]
		stored, err := w.save(ctx, event.KindDetail, d.AppKey, d.PushID, "", rawOf(d.Raw, d))
		if !stored {
			unsaved = append(unsaved, d.PushID)
			saveErr = err
			continue
		}
		found[d.PushID] = struct{}{}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if len(unsaved) > 0 {
		firstErr = w.fail(ctx, unsaved, saveErr)
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok && !slices.Contains(unsaved, id) {
			metrics.Dropped.Inc()
			w.log.Debug("push id not in batch response", zap.String("push_id", id))
		}
	}

	if w.precision == "" {
		return firstErr
	}
	pending := make([]string, 0, len(found))
	for _, id := range ids {
		if _, ok := found[id]; ok {
			pending = append(pending, id)
		}
	}
	for i, id := range pending {
		if w.deps.Breaker != nil && w.deps.Breaker.RetryAfter(breakerKey) > 0 {
			rest := pending[i:]
			w.log.Info("breaker open, deferring series", zap.Int("items", len(rest)))
			if err := w.requeue(ctx, rest); err != nil && firstErr == nil {
				firstErr = err
			}
			return firstErr
		}
		s, err := w.deps.Fetcher.GetWithPrecision(ctx, id, w.precision)
		if err != nil {
			if ferr := w.fail(ctx, []string{id}, err); firstErr == nil {
				firstErr = ferr
			}
			continue
		}
		w.succeed()
		stored, err := w.save(ctx, event.KindSeries, s.AppKey, id, w.precision.String(), rawOf(s.Raw, s))
		if !stored {
			err = w.fail(ctx, []string{id}, err)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// save writes the snapshot and publishes it. stored is false when the
// snapshot write itself failed; a publish failure keeps the snapshot.
func (w *Worker) save(ctx context.Context, kind, appKey, pushID, precision string, payload []byte) (stored bool, err error) {
	if kind == event.KindSeries {
		err = w.deps.Store.SaveSeries(ctx, pushID, precision, payload, w.col.SnapshotTTL)
	} else {
		err = w.deps.Store.SaveDetail(ctx, pushID, payload, w.col.SnapshotTTL)
	}
	if err != nil {
		w.log.Warn("snapshot store failed", zap.String("kind", kind), zap.String("push_id", pushID), zap.Error(err))
		return false, err
	}
	metrics.Collected.Inc()

	if w.deps.Publisher == nil {
		return true, nil
	}
	evt := &event.ReportEvent{
		Kind:      kind,
		AppKey:    appKey,
		PushID:    pushID,
		Precision: precision,
		Payload:   payload,
	}
	if err := w.deps.Publisher.Publish(ctx, evt); err != nil {
		metrics.CollectFail.Inc()
		w.log.Warn("report publish failed", zap.String("kind", kind), zap.String("push_id", pushID), zap.Error(err))
		return true, err
	}
	metrics.Published.Inc()
	return true, nil
}

func (w *Worker) fail(ctx context.Context, ids []string, err error) error {
	if errors.Is(err, airship.ErrValidation) || errors.Is(err, airship.ErrNotFound) {
		metrics.Dropped.Add(float64(len(ids)))
		w.log.Info("dropping push ids", zap.Strings("push_ids", ids), zap.Error(err))
		return err
	}

	metrics.CollectFail.Inc()
	opened := false
	if w.deps.Breaker != nil && w.deps.Breaker.Failure(breakerKey) {
		opened = true
		metrics.BreakerOpen.Inc()
	}
	w.log.Warn("collect failed, requeueing",
		zap.Int("items", len(ids)),
		zap.Bool("breaker_opened", opened),
		zap.Error(err),
	)
	if rerr := w.requeue(ctx, ids); rerr != nil {
		return errors.Join(err, rerr)
	}
	return err
}

func (w *Worker) requeue(ctx context.Context, ids []string) error {
	// The caller's ctx may already be done; requeue must still land.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.deps.Store.Requeue(rctx, ids...); err != nil {
		w.log.Error("requeue failed, push ids lost", zap.Strings("push_ids", ids), zap.Error(err))
		return err
	}
	metrics.Requeued.Add(float64(len(ids)))
	return nil
}

func (w *Worker) succeed() {
	if w.deps.Breaker != nil {
		w.deps.Breaker.Success(breakerKey)
	}
}

func rawOf(raw json.RawMessage, v any) []byte {
	if len(raw) > 0 {
		return raw
	}
	b, _ := json.Marshal(v)
	return b
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
