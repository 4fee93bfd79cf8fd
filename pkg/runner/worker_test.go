package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lzyats/airship-go/pkg/airship"
	"github.com/lzyats/airship-go/pkg/breaker"
	"github.com/lzyats/airship-go/pkg/event"
	"github.com/lzyats/airship-go/pkg/reports"
	redisstore "github.com/lzyats/airship-go/pkg/store/redis"
)

type memStore struct {
	mu       sync.Mutex
	queue    []string
	requeued []string
	details  map[string][]byte
	series   map[string][]byte
}

func newMemStore(ids ...string) *memStore {
	return &memStore{queue: ids, details: map[string][]byte{}, series: map[string][]byte{}}
}

func (m *memStore) Enqueue(_ context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, ids...)
	return nil
}

func (m *memStore) Requeue(_ context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requeued = append(m.requeued, ids...)
	return nil
}

func (m *memStore) Pop(ctx context.Context, block time.Duration) (string, error) {
	m.mu.Lock()
	if len(m.queue) > 0 {
		id := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		return id, nil
	}
	m.mu.Unlock()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return "", nil
	}
}

func (m *memStore) SaveDetail(_ context.Context, id string, b []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.details[id] = b
	return nil
}

func (m *memStore) GetDetail(_ context.Context, id string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.details[id]
	return b, ok, nil
}

func (m *memStore) SaveSeries(_ context.Context, id, p string, b []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[id+":"+p] = b
	return nil
}

func (m *memStore) GetSeries(_ context.Context, id, p string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.series[id+":"+p]
	return b, ok, nil
}

func (m *memStore) detailCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.details)
}

type fakeFetcher struct {
	mu         sync.Mutex
	batches    [][]string
	known      map[string]bool
	batchErr   error
	seriesErr  error
	seriesSeen []string
}

func (f *fakeFetcher) GetBatch(_ context.Context, ids []string) ([]reports.PushDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]string(nil), ids...))
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	var out []reports.PushDetail
	for _, id := range ids {
		if f.known != nil && !f.known[id] {
			continue
		}
		var d reports.PushDetail
		if err := json.Unmarshal([]byte(fmt.Sprintf(`{"app_key":"k","push_id":%q,"sends":3}`, id)), &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeFetcher) GetWithPrecision(_ context.Context, id string, p reports.Precision) (*reports.Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seriesSeen = append(f.seriesSeen, id)
	if f.seriesErr != nil {
		return nil, f.seriesErr
	}
	var s reports.Series
	if err := json.Unmarshal([]byte(fmt.Sprintf(`{"app_key":"k","push_id":%q,"precision":%q,"counts":[]}`, id, p)), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []event.ReportEvent
	err    error
	closed bool
}

func (p *fakePublisher) Publish(_ context.Context, evt *event.ReportEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, *evt)
	return nil
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

func TestProcess_StoresAndPublishesDetails(t *testing.T) {
	store := newMemStore()
	fetcher := &fakeFetcher{known: map[string]bool{"a": true, "b": true}}
	pub := &fakePublisher{}
	w, err := NewWorkerWithDeps(airship.CollectorSettings{}, Deps{Store: store, Fetcher: fetcher, Publisher: pub})
	require.NoError(t, err)

	require.NoError(t, w.Process(context.Background(), []string{"a", "b", "gone"}))

	require.Len(t, fetcher.batches, 1)
	assert.Equal(t, []string{"a", "b", "gone"}, fetcher.batches[0])
	assert.JSONEq(t, `{"app_key":"k","push_id":"a","sends":3}`, string(store.details["a"]))
	assert.Contains(t, store.details, "b")
	assert.NotContains(t, store.details, "gone")
	assert.Empty(t, store.requeued)

	require.Len(t, pub.events, 2)
	assert.Equal(t, event.KindDetail, pub.events[0].Kind)
	assert.Equal(t, "a", pub.events[0].PushID)
	assert.Equal(t, "k", pub.events[0].AppKey)
	assert.JSONEq(t, string(store.details["a"]), string(pub.events[0].Payload))

	w.Close()
	assert.True(t, pub.closed)
}

func TestProcess_CollectsSeriesForFoundIDs(t *testing.T) {
	store := newMemStore()
	fetcher := &fakeFetcher{known: map[string]bool{"a": true}}
	w, err := NewWorkerWithDeps(airship.CollectorSettings{SeriesPrecision: "HOURLY"}, Deps{Store: store, Fetcher: fetcher})
	require.NoError(t, err)

	require.NoError(t, w.Process(context.Background(), []string{"a", "missing"}))
	assert.Equal(t, []string{"a"}, fetcher.seriesSeen)
	assert.Contains(t, store.series, "a:HOURLY")
}

func TestProcess_TransientFailureRequeuesAndOpensBreaker(t *testing.T) {
	store := newMemStore()
	boom := &airship.Error{Kind: airship.ErrRemote, Status: http.StatusServiceUnavailable}
	fetcher := &fakeFetcher{batchErr: boom}
	brk := breaker.New(breaker.Options{Threshold: 2, Window: time.Minute, OpenFor: time.Minute})
	w, err := NewWorkerWithDeps(airship.CollectorSettings{}, Deps{Store: store, Fetcher: fetcher, Breaker: brk})
	require.NoError(t, err)

	err = w.Process(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, airship.ErrRemote)
	assert.Equal(t, []string{"a", "b"}, store.requeued)
	assert.True(t, brk.Allow(breakerKey))

	_ = w.Process(context.Background(), []string{"c"})
	assert.False(t, brk.Allow(breakerKey))
	assert.Equal(t, []string{"a", "b", "c"}, store.requeued)
}

func TestProcess_NotFoundIsDropped(t *testing.T) {
	store := newMemStore()
	fetcher := &fakeFetcher{batchErr: &airship.Error{Kind: airship.ErrNotFound, Status: http.StatusNotFound}}
	w, err := NewWorkerWithDeps(airship.CollectorSettings{}, Deps{Store: store, Fetcher: fetcher})
	require.NoError(t, err)

	assert.ErrorIs(t, w.Process(context.Background(), []string{"a"}), airship.ErrNotFound)
	assert.Empty(t, store.requeued)
}

func TestProcess_PublishFailureKeepsSnapshot(t *testing.T) {
	store := newMemStore()
	pub := &fakePublisher{err: errors.New("broker down")}
	w, err := NewWorkerWithDeps(airship.CollectorSettings{}, Deps{Store: store, Fetcher: &fakeFetcher{}, Publisher: pub})
	require.NoError(t, err)

	assert.Error(t, w.Process(context.Background(), []string{"a"}))
	assert.Contains(t, store.details, "a")
	assert.Empty(t, store.requeued)
}

type brokenStore struct {
	*memStore
	err error
}

func (b *brokenStore) SaveDetail(context.Context, string, []byte, time.Duration) error {
	return b.err
}

func (b *brokenStore) SaveSeries(context.Context, string, string, []byte, time.Duration) error {
	return b.err
}

func TestProcess_SnapshotWriteFailureRequeues(t *testing.T) {
	mem := newMemStore()
	store := &brokenStore{memStore: mem, err: errors.New("redis: connection reset")}
	pub := &fakePublisher{}
	w, err := NewWorkerWithDeps(airship.CollectorSettings{}, Deps{Store: store, Fetcher: &fakeFetcher{}, Publisher: pub})
	require.NoError(t, err)

	err = w.Process(context.Background(), []string{"a", "b"})
	assert.EqualError(t, err, "redis: connection reset")
	assert.Equal(t, []string{"a", "b"}, mem.requeued)
	assert.Empty(t, mem.details)
	assert.Empty(t, pub.events)
}

func TestProcess_SeriesWriteFailureRequeues(t *testing.T) {
	mem := newMemStore()
	store := &seriesBrokenStore{memStore: mem}
	fetcher := &fakeFetcher{}
	w, err := NewWorkerWithDeps(airship.CollectorSettings{SeriesPrecision: "DAILY"}, Deps{Store: store, Fetcher: fetcher})
	require.NoError(t, err)

	assert.Error(t, w.Process(context.Background(), []string{"a"}))
	assert.Contains(t, mem.details, "a")
	assert.Equal(t, []string{"a"}, mem.requeued)
}

type seriesBrokenStore struct{ *memStore }

func (seriesBrokenStore) SaveSeries(context.Context, string, string, []byte, time.Duration) error {
	return errors.New("redis: i/o timeout")
}

func TestProcess_OpenBreakerStopsSeriesCalls(t *testing.T) {
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%02d", i)
	}
	store := newMemStore()
	fetcher := &fakeFetcher{seriesErr: &airship.Error{Kind: airship.ErrRemote, Status: http.StatusServiceUnavailable}}
	brk := breaker.New(breaker.Options{Threshold: 3, Window: time.Minute, OpenFor: time.Minute})
	w, err := NewWorkerWithDeps(airship.CollectorSettings{SeriesPrecision: "HOURLY"}, Deps{Store: store, Fetcher: fetcher, Breaker: brk})
	require.NoError(t, err)

	assert.ErrorIs(t, w.Process(context.Background(), ids), airship.ErrRemote)

	assert.Len(t, fetcher.seriesSeen, 3)
	assert.False(t, brk.Allow(breakerKey))
	assert.ElementsMatch(t, ids, store.requeued)
	assert.Len(t, store.details, 20)
}

func TestNextBatch_DedupesAndCaps(t *testing.T) {
	store := newMemStore("a", "a", "b", "c", "d")
	w, err := NewWorkerWithDeps(airship.CollectorSettings{BatchSize: 3}, Deps{Store: store, Fetcher: &fakeFetcher{}})
	require.NoError(t, err)

	batch, err := w.nextBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, batch)

	batch, err = w.nextBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, batch)

	batch, err = w.nextBatch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestNewWorkerWithDeps_Validation(t *testing.T) {
	_, err := NewWorkerWithDeps(airship.CollectorSettings{}, Deps{})
	assert.ErrorIs(t, err, airship.ErrNotConfigured)

	_, err = NewWorkerWithDeps(airship.CollectorSettings{SeriesPrecision: "WEEKLY"}, Deps{Store: newMemStore(), Fetcher: &fakeFetcher{}})
	assert.ErrorIs(t, err, airship.ErrValidation)

	w, err := NewWorkerWithDeps(airship.CollectorSettings{BatchSize: 1000}, Deps{Store: newMemStore(), Fetcher: &fakeFetcher{}})
	require.NoError(t, err)
	assert.Equal(t, airship.MaxBatchSize, w.col.BatchSize)
}

func TestNewWorker_RequiresRedis(t *testing.T) {
	_, err := NewWorker(airship.Settings{Airship: airship.APISettings{AppKey: "k", MasterSecret: "s"}}, nil)
	assert.ErrorIs(t, err, airship.ErrNotConfigured)
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := newMemStore("a", "b")
	w, err := NewWorkerWithDeps(airship.CollectorSettings{PopBlock: 5 * time.Millisecond}, Deps{Store: store, Fetcher: &fakeFetcher{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return store.detailCount() == 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestRun_EndToEndWithRedisAndAPI(t *testing.T) {
	var mu sync.Mutex
	var requested [][]string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PushIDs []string `json:"push_ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		requested = append(requested, req.PushIDs)
		mu.Unlock()

		out := make([]map[string]any, 0, len(req.PushIDs))
		for _, id := range req.PushIDs {
			out = append(out, map[string]any{"app_key": "k", "push_id": id, "sends": 10})
		}
		b, _ := json.Marshal(out)
		_, _ = io.WriteString(w, string(b))
	}))
	defer api.Close()

	mr := miniredis.RunT(t)
	col := airship.CollectorSettings{QueueKey: "q", KeyPrefix: "snap", SnapshotTTL: time.Hour, PopBlock: 100 * time.Millisecond}
	store := redisstore.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), col)
	defer store.Close()

	conn, err := airship.New(airship.APISettings{AppKey: "k", MasterSecret: "s", BaseURL: api.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, store.Enqueue(ctx, "p1", "p2", "p3"))

	w, err := NewWorkerWithDeps(col, Deps{Store: store, Fetcher: reports.NewPerPush(conn)})
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return mr.Exists("snap:detail:p3") }, 10*time.Second, 20*time.Millisecond)
	cancel()
	<-done

	b, ok, err := store.GetDetail(context.Background(), "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"app_key":"k","push_id":"p1","sends":10}`, string(b))

	mu.Lock()
	defer mu.Unlock()
	total := 0
	for _, ids := range requested {
		assert.LessOrEqual(t, len(ids), airship.MaxBatchSize)
		total += len(ids)
	}
	assert.Equal(t, 3, total)
}
