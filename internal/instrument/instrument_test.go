package instrument

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rocket-nested/internal/config"
	"rocket-nested/internal/store"
)

type memorySink struct {
	mu     sync.Mutex
	events []Event
}

func (m *memorySink) Enqueue(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(context.Background(), config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "events"})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Bootstrap(context.Background()))
	return s
}

func TestSpans_ShareTraceAndChainParents(t *testing.T) {
	sink := &memorySink{}
	inst := NewInstrumenter(sink)

	ctx, root := inst.StartSpan(context.Background(), "engine", "writer", "nested_write")
	_, child := inst.StartSpan(ctx, "engine", "rules", "rules.evaluate")
	child.SetEntity("office", "")
	child.SetStatus("ok")
	child.End()
	inst.EmitBusinessEvent(ctx, "create", "region", "7", nil)
	root.End()
	root.End()

	require.Len(t, sink.events, 3)
	childEv, biz, rootEv := sink.events[0], sink.events[1], sink.events[2]

	assert.NotEmpty(t, rootEv.TraceID)
	assert.Equal(t, rootEv.TraceID, childEv.TraceID)
	assert.Equal(t, rootEv.TraceID, biz.TraceID)
	assert.Nil(t, rootEv.ParentSpanID)
	require.NotNil(t, childEv.ParentSpanID)
	assert.Equal(t, rootEv.SpanID, *childEv.ParentSpanID)
	assert.Equal(t, "office", *childEv.Entity)
	assert.Nil(t, childEv.RecordID)
	assert.Equal(t, "business", biz.Source)
	assert.Equal(t, "7", *biz.RecordID)
	assert.NotNil(t, rootEv.DurationMs)
}

func TestGetInstrumenter_DefaultsToNoop(t *testing.T) {
	inst := GetInstrumenter(context.Background())
	_, span := inst.StartSpan(context.Background(), "engine", "writer", "noop")
	span.SetMetadata("k", "v")
	span.End()
	assert.Empty(t, GetTraceID(context.Background()))
}

func TestEventBuffer_FlushWritesBatch(t *testing.T) {
	s := newTestStore(t)
	buf := NewEventBuffer(s.DB, s.Dialect, 100, 60_000)
	t.Cleanup(buf.Stop)

	inst := NewInstrumenter(buf)
	ctx := WithTraceID(context.Background(), "trace-1")
	ctx, span := inst.StartSpan(ctx, "engine", "writer", "nested_write")
	span.SetMetadata("create_all", true)
	span.End()
	inst.EmitBusinessEvent(ctx, "create", "region", "1", nil)
	assert.Equal(t, 2, buf.Len())

	buf.Flush()
	assert.Zero(t, buf.Len())

	rows, err := store.QueryRows(context.Background(), s.DB,
		"SELECT trace_id, action, parent_span_id, metadata FROM _events ORDER BY id")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "trace-1", rows[0]["trace_id"])
	assert.Equal(t, "nested_write", rows[0]["action"])
	assert.Nil(t, rows[0]["parent_span_id"])
	assert.JSONEq(t, `{"create_all":true}`, rows[0]["metadata"].(string))
	assert.Equal(t, "create", rows[1]["action"])
	assert.NotNil(t, rows[1]["parent_span_id"])
}

func TestCleanupOldEvents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	old := time.Now().UTC().AddDate(0, 0, -30).Format(time.RFC3339Nano)
	_, err := store.Exec(ctx, s.DB,
		"INSERT INTO _events (trace_id, span_id, source, component, action, created_at) VALUES ('t', 'a', 'engine', 'writer', 'old', ?1)", old)
	require.NoError(t, err)
	_, err = store.Exec(ctx, s.DB,
		"INSERT INTO _events (trace_id, span_id, source, component, action) VALUES ('t', 'b', 'engine', 'writer', 'new')")
	require.NoError(t, err)

	CleanupOldEvents(ctx, s.DB, s.Dialect, 7)

	rows, err := store.QueryRows(ctx, s.DB, "SELECT action FROM _events")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "new", rows[0]["action"])
}

func TestMiddleware_PropagatesTraceID(t *testing.T) {
	s := newTestStore(t)
	buf := NewEventBuffer(s.DB, s.Dialect, 100, 60_000)
	t.Cleanup(buf.Stop)

	app := fiber.New()
	app.Use(Middleware(buf))
	var seen string
	app.Get("/ping", func(c *fiber.Ctx) error {
		seen = GetTraceID(c.UserContext())
		return c.SendString("pong")
	})

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("X-Trace-ID", "abc")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, "abc", resp.Header.Get("X-Trace-ID"))
	assert.Equal(t, "abc", seen)
	assert.Equal(t, 1, buf.Len())

	resp, err = app.Test(httptest.NewRequest("GET", "/ping", nil), -1)
	require.NoError(t, err)
	assert.Len(t, resp.Header.Get("X-Trace-ID"), 36)
}
