package logging

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMiddlewareRequestID(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/nodes/a", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "req-1", seen)
	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
}

func TestWithContextCarriesRequestID(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	UseLogger(zap.New(core))
	t.Cleanup(InitDefault)

	ctx := WithRequestID(t.Context(), "abc")
	WithContext(ctx).Info("hello")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "hello", entry.Message)
	assert.Equal(t, "abc", entry.ContextMap()["request_id"])
	assert.Equal(t, "", GetRequestID(t.Context()))
}

func TestInitFallsBackToInfo(t *testing.T) {
	t.Cleanup(InitDefault)
	require.NoError(t, Init(Config{Level: "bogus", Format: "console", OutputPath: "stderr"}))
	assert.True(t, L().Core().Enabled(zap.InfoLevel))
	assert.False(t, L().Core().Enabled(zap.DebugLevel))

	SetLevel("debug")
	assert.True(t, L().Core().Enabled(zap.DebugLevel))
}

func TestMiddlewareRequestFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	UseLogger(zap.New(core))
	t.Cleanup(InitDefault)

	actor := func(r *http.Request) []zap.Field {
		return []zap.Field{zap.String("actor", r.Header.Get("X-Actor"))}
	}
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WithContext(r.Context()).Info("inside")
		w.WriteHeader(http.StatusBadGateway)
	}), actor)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/copy", nil)
	req.Header.Set("X-Actor", "alice")
	h.ServeHTTP(httptest.NewRecorder(), req)

	inside := logs.FilterMessage("inside").All()
	require.Len(t, inside, 1)
	assert.Equal(t, "alice", inside[0].ContextMap()["actor"])
	assert.NotEmpty(t, inside[0].ContextMap()["request_id"])

	done := logs.FilterMessage("request completed").All()
	require.Len(t, done, 1)
	assert.Equal(t, zap.WarnLevel, done[0].Level)
	assert.Equal(t, "alice", done[0].ContextMap()["actor"])
}

func TestProviderScope(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	UseLogger(zap.New(core))
	t.Cleanup(InitDefault)

	s := ForProvider("objectstore", "acme", zap.String("bucket", "b1"))
	s.Failed("read", "a/b.txt", assert.AnError)
	s.Changed("file created", "a/b.txt", zap.Int64("size", 3))

	all := logs.All()
	require.Len(t, all, 2)
	fields := all[0].ContextMap()
	assert.Equal(t, "storage operation failed", all[0].Message)
	assert.Equal(t, "objectstore", fields["backend"])
	assert.Equal(t, "acme", fields["client"])
	assert.Equal(t, "b1", fields["bucket"])
	assert.Equal(t, "read", fields["op"])
	assert.Equal(t, "a/b.txt", fields["path"])
	assert.Equal(t, int64(3), all[1].ContextMap()["size"])

	// The scope's own field slice is never shared with callers.
	a := s.Fields(zap.String("x", "1"))
	b := s.Fields(zap.String("x", "2"))
	assert.NotEqual(t, a[len(a)-1], b[len(b)-1])
}
