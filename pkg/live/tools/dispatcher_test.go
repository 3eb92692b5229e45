package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/vango-go/vai-memoir/pkg/core"
	"github.com/vango-go/vai-memoir/pkg/handoff"
	"github.com/vango-go/vai-memoir/pkg/live/clock"
	"github.com/vango-go/vai-memoir/pkg/memory"
	"github.com/vango-go/vai-memoir/pkg/memory/memstore"
)

type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) ReportStoreError(_ string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

type observed struct {
	tool, outcome string
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []observed
}

func (o *recordingObserver) ObserveToolCall(tool, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, observed{tool, outcome})
}

type failingStore struct{}

func (failingStore) Create(context.Context, memory.Record) (memory.Record, error) {
	return memory.Record{}, errors.New("disk full")
}

func (failingStore) Get(context.Context, string, string) (memory.Record, error) {
	return memory.Record{}, errors.New("disk full")
}

func (failingStore) Search(context.Context, string, memory.Query) ([]memory.Record, error) {
	return nil, errors.New("disk full")
}

type fixture struct {
	d        *Dispatcher
	store    *memstore.Store
	clock    *clock.Fake
	reporter *recordingReporter
	observer *recordingObserver
	handoffs chan handoff.Event
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		clock:    clock.NewFake(time.Unix(1_700_000_000, 0)),
		reporter: &recordingReporter{},
		observer: &recordingObserver{},
		handoffs: make(chan handoff.Event, 4),
	}
	opts := Options{
		Store:    f.store,
		UserID:   "u1",
		Reporter: f.reporter,
		Handoff: handoff.PublisherFunc(func(_ context.Context, ev handoff.Event) error {
			f.handoffs <- ev
			return nil
		}),
		Clock:    f.clock,
		Observer: f.observer,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.d = New(opts)
	return f
}

func (f *fixture) call(name string, params map[string]any) string {
	return f.d.Dispatch(context.Background(), Request{ID: "call-1", Name: name, Parameters: params})
}

func TestSave_ConfirmsAndHandsOffAfterDelay(t *testing.T) {
	f := newFixture(t, nil)

	out := f.call(ToolSaveMemory, map[string]any{"title": "Porto", "content": "We moved.", "memory_date": "March 2019"})
	assert.Equal(t, `Memory "Porto" saved successfully.`, out)
	require.Equal(t, 1, f.store.Len())

	f.clock.Advance(1999 * time.Millisecond)
	assert.Empty(t, f.handoffs)

	f.clock.Advance(time.Millisecond)
	require.Len(t, f.handoffs, 1)
	ev := <-f.handoffs
	assert.Equal(t, "Porto", ev.Title)
	assert.Equal(t, "u1", ev.UserID)
	assert.NotEmpty(t, ev.MemoryID)

	recs, err := f.store.Search(context.Background(), "u1", memory.Query{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ev.MemoryID, recs[0].ID)
	require.NotNil(t, recs[0].OccurredOn)
	assert.Equal(t, "2019-03-01", recs[0].OccurredOn.String())
}

func TestSave_BlankTitleDoesNotWrite(t *testing.T) {
	for _, title := range []string{"", "   "} {
		f := newFixture(t, nil)
		out := f.call(ToolSaveMemory, map[string]any{"title": title, "content": "c"})
		assert.Equal(t, "Cannot save memory: a title is required.", out)
		assert.Equal(t, 0, f.store.Len())
		assert.Equal(t, 0, f.clock.Pending())
	}
}

func TestRetrieve_MostRecentFive(t *testing.T) {
	f := newFixture(t, nil)
	for i := 1; i <= 7; i++ {
		_, err := f.store.Create(context.Background(), memory.Record{UserID: "u1", Title: fmt.Sprintf("m%d", i), Content: "c", CreatedAt: time.Unix(int64(i), 0)})
		require.NoError(t, err)
	}

	out := f.call(ToolRetrieveMemory, map[string]any{"query": ""})
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "Found 5 memories:", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "1. m7 (id: "))
	assert.True(t, strings.HasSuffix(lines[1], ", no date)"))
	assert.True(t, strings.HasPrefix(lines[5], "5. m3 (id: "))
}

func TestRetrieve_NoMatches(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.store.Create(context.Background(), memory.Record{UserID: "u1", Title: "Porto", Content: "c"})
	require.NoError(t, err)

	assert.Equal(t, `No memories found matching "xyznotfound".`, f.call(ToolRetrieveMemory, map[string]any{"query": "xyznotfound"}))
	assert.Equal(t, "No memories found.", newFixture(t, nil).call(ToolRetrieveMemory, nil))
}

func TestDetails(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	loc := "Porto"
	rec, err := f.store.Create(ctx, memory.Record{
		UserID: "u1", Title: "Move", Content: "We moved.", Tags: []string{"family", "move"},
		OccurredOn: NormalizeDate("1998-07-01"), Location: &loc,
	})
	require.NoError(t, err)
	other, err := f.store.Create(ctx, memory.Record{UserID: "u2", Title: "Secret", Content: "x"})
	require.NoError(t, err)

	assert.Equal(t,
		"Title: Move\nDate: 1998-07-01\nLocation: Porto\nTags: family, move\nContent: We moved.",
		f.call(ToolGetMemoryDetails, map[string]any{"memory_id": rec.ID}))
	assert.Equal(t, fmt.Sprintf("No memory found with id %q.", other.ID),
		f.call(ToolGetMemoryDetails, map[string]any{"memory_id": other.ID}))
}

func TestStoreErrorsGoToReporter(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Store = failingStore{} })

	for _, tc := range []struct {
		tool   string
		params map[string]any
	}{
		{ToolSaveMemory, map[string]any{"title": "t", "content": "c"}},
		{ToolRetrieveMemory, nil},
		{ToolGetMemoryDetails, map[string]any{"memory_id": "m1"}},
	} {
		assert.Equal(t, msgStoreFailure, f.call(tc.tool, tc.params))
	}
	require.Len(t, f.reporter.errs, 3)
	for _, err := range f.reporter.errs {
		assert.True(t, core.IsType(err, core.ErrStore))
		assert.NotContains(t, msgStoreFailure, "disk full")
	}
	assert.Equal(t, 0, f.clock.Pending())
}

func TestUnknownTool(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, `Unknown tool "launch".`, f.call("launch", nil))
	assert.Equal(t, []observed{{"launch", OutcomeUnknownTool}}, f.observer.calls)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Rate = rate.Every(time.Second)
		o.Burst = 2
	})
	assert.NotEqual(t, msgRateLimited, f.call(ToolRetrieveMemory, nil))
	assert.NotEqual(t, msgRateLimited, f.call(ToolRetrieveMemory, nil))
	assert.Equal(t, msgRateLimited, f.call(ToolRetrieveMemory, nil))

	f.clock.Advance(time.Second)
	assert.NotEqual(t, msgRateLimited, f.call(ToolRetrieveMemory, nil))
}

func TestConcurrentCalls(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Burst = 100 })
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f.call(ToolSaveMemory, map[string]any{"title": fmt.Sprintf("m%d", i), "content": "c"})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, f.store.Len())
}
