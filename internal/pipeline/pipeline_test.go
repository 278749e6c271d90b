package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
	"github.com/couchcryptid/incident-enrichment-service/internal/observability"
	"github.com/couchcryptid/incident-enrichment-service/internal/pipeline"
)

// --- mocks ---

type mockExtractor struct {
	batches [][]domain.RawEvent
	errs    []error
	index   atomic.Int64
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawEvent, error) {
	i := int(m.index.Add(1) - 1)
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i >= len(m.batches) {
		// block until context cancelled to simulate waiting for messages
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.batches[i], nil
}

type mockTransformer struct {
	failKeys map[string]bool
	delay    func(key string) time.Duration
}

func (m *mockTransformer) Transform(_ context.Context, raw domain.RawEvent) (domain.IncidentCard, error) {
	key := string(raw.Key)
	if m.delay != nil {
		time.Sleep(m.delay(key))
	}
	if m.failKeys[key] {
		return domain.IncidentCard{}, errors.New("bad data")
	}
	return domain.IncidentCard{IncidentID: key}, nil
}

type mockLoader struct {
	mu       sync.Mutex
	loaded   []domain.IncidentCard
	failures int
	calls    int
}

func (m *mockLoader) LoadBatch(_ context.Context, cards []domain.IncidentCard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failures > 0 {
		m.failures--
		return errors.New("broker unavailable")
	}
	m.loaded = append(m.loaded, cards...)
	return nil
}

func (m *mockLoader) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.loaded))
	for i, c := range m.loaded {
		out[i] = c.IncidentID
	}
	return out
}

type commitLog struct {
	mu      sync.Mutex
	offsets []int64
}

func (c *commitLog) fn(offset int64) func(context.Context) error {
	return func(context.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.offsets = append(c.offsets, offset)
		return nil
	}
}

func (c *commitLog) committed() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.offsets...)
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func rawEvent(key string, offset int64) domain.RawEvent {
	return domain.RawEvent{
		Key:    []byte(key),
		Value:  []byte(fmt.Sprintf(`{"id":%q}`, key)),
		Topic:  "raw-hazard-reports",
		Offset: offset,
	}
}

func runFor(t *testing.T, p *pipeline.Pipeline, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	ext := &mockExtractor{batches: [][]domain.RawEvent{{rawEvent("evt-1", 1)}}}
	ldr := &mockLoader{}

	p := pipeline.New(ext, &mockTransformer{}, ldr, testLogger(), newTestMetrics(), 10, 2)
	runFor(t, p, 300*time.Millisecond)

	assert.Equal(t, []string{"evt-1"}, ldr.ids())
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ext := &mockExtractor{} // no events, will block
	ldr := &mockLoader{}

	p := pipeline.New(ext, &mockTransformer{}, ldr, testLogger(), newTestMetrics(), 10, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.loaded)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_TransformErrorSkipsAndCommits(t *testing.T) {
	commits := &commitLog{}
	bad := rawEvent("evt-2", 7)
	bad.Commit = commits.fn(7)

	ext := &mockExtractor{batches: [][]domain.RawEvent{{bad}}}
	tfm := &mockTransformer{failKeys: map[string]bool{"evt-2": true}}
	ldr := &mockLoader{}
	metrics := newTestMetrics()

	p := pipeline.New(ext, tfm, ldr, testLogger(), metrics, 10, 2)
	runFor(t, p, 300*time.Millisecond)

	assert.Empty(t, ldr.loaded)
	assert.Equal(t, 0, ldr.calls)
	assert.Equal(t, []int64{7}, commits.committed())
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_CommitsAfterLoad(t *testing.T) {
	commits := &commitLog{}
	batch := []domain.RawEvent{rawEvent("a", 1), rawEvent("b", 2)}
	for i := range batch {
		batch[i].Commit = commits.fn(batch[i].Offset)
	}

	ext := &mockExtractor{batches: [][]domain.RawEvent{batch}}
	ldr := &mockLoader{}

	p := pipeline.New(ext, &mockTransformer{}, ldr, testLogger(), newTestMetrics(), 10, 2)
	runFor(t, p, 300*time.Millisecond)

	assert.Equal(t, []int64{1, 2}, commits.committed())
}

func TestPipeline_Run_PreservesOrderUnderConcurrency(t *testing.T) {
	keys := []string{"k0", "k1", "k2", "k3", "k4", "k5"}
	batch := make([]domain.RawEvent, len(keys))
	for i, k := range keys {
		batch[i] = rawEvent(k, int64(i))
	}
	// Earlier messages finish last.
	tfm := &mockTransformer{delay: func(key string) time.Duration {
		return time.Duration(len(keys)-int(key[1]-'0')) * 5 * time.Millisecond
	}}
	ldr := &mockLoader{}

	p := pipeline.New(&mockExtractor{batches: [][]domain.RawEvent{batch}}, tfm, ldr, testLogger(), newTestMetrics(), 10, 4)
	runFor(t, p, 500*time.Millisecond)

	if diff := cmp.Diff(keys, ldr.ids()); diff != "" {
		t.Fatalf("loaded order mismatch (-want +got):\n%s", diff)
	}
}

func TestPipeline_Run_LoadFailureRetriesWithoutCommit(t *testing.T) {
	commits := &commitLog{}
	first := rawEvent("a", 1)
	first.Commit = commits.fn(1)

	// The failed batch is redelivered by the extractor, as an uncommitted
	// Kafka message would be.
	ext := &mockExtractor{batches: [][]domain.RawEvent{{first}, {first}}}
	ldr := &mockLoader{failures: 1}

	p := pipeline.New(ext, &mockTransformer{}, ldr, testLogger(), newTestMetrics(), 10, 1)
	runFor(t, p, time.Second)

	assert.Equal(t, 2, ldr.calls)
	assert.Equal(t, []string{"a"}, ldr.ids())
	assert.Equal(t, []int64{1}, commits.committed())
}

func TestPipeline_Run_ExtractErrorBacksOff(t *testing.T) {
	ext := &mockExtractor{
		errs:    []error{errors.New("broker down")},
		batches: [][]domain.RawEvent{nil, {rawEvent("after", 1)}},
	}
	ldr := &mockLoader{}

	p := pipeline.New(ext, &mockTransformer{}, ldr, testLogger(), newTestMetrics(), 10, 1)
	runFor(t, p, time.Second)

	assert.Equal(t, []string{"after"}, ldr.ids())
}

func TestPipeline_Run_PartialBatch(t *testing.T) {
	commits := &commitLog{}
	batch := []domain.RawEvent{rawEvent("ok-1", 1), rawEvent("bad", 2), rawEvent("ok-2", 3)}
	for i := range batch {
		batch[i].Commit = commits.fn(batch[i].Offset)
	}
	tfm := &mockTransformer{failKeys: map[string]bool{"bad": true}}
	ldr := &mockLoader{}

	p := pipeline.New(&mockExtractor{batches: [][]domain.RawEvent{batch}}, tfm, ldr, testLogger(), newTestMetrics(), 10, 3)
	runFor(t, p, 300*time.Millisecond)

	assert.Equal(t, []string{"ok-1", "ok-2"}, ldr.ids())
	assert.ElementsMatch(t, []int64{1, 2, 3}, commits.committed())
}
