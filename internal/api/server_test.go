// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/vodgate/internal/access"
	"github.com/ManuGH/vodgate/internal/clock"
	"github.com/ManuGH/vodgate/internal/domain/media"
	"github.com/ManuGH/vodgate/internal/infra/ffmpeg"
	"github.com/ManuGH/vodgate/internal/library"
	"github.com/ManuGH/vodgate/internal/stats"
	"github.com/ManuGH/vodgate/internal/store"
	"github.com/ManuGH/vodgate/internal/stream"
	"github.com/ManuGH/vodgate/internal/transcode"
)

var epoch = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

type stubProber struct{}

func (stubProber) Probe(context.Context, string) (ffmpeg.ProbeResult, error) {
	return ffmpeg.ProbeResult{DurationSeconds: 30, Resolution: "1280x720", Format: "mov,mp4,m4a,3gp,3g2,mj2"}, nil
}

type stubThumbnailer struct{}

func (stubThumbnailer) Extract(_ context.Context, _, output string) error {
	return os.WriteFile(output, []byte("\xff\xd8\xff jpeg"), 0o644)
}

// stubScheduler records enqueues; ids in busy defer OnIdle callbacks.
type stubScheduler struct {
	mu       sync.Mutex
	enqueued []int64
	busy     map[int64][]func()
}

func (s *stubScheduler) Enqueue(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueued = append(s.enqueued, id)
	return true
}

func (s *stubScheduler) OnIdle(id int64, fn func()) bool {
	s.mu.Lock()
	if _, ok := s.busy[id]; ok {
		s.busy[id] = append(s.busy[id], fn)
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()
	fn()
	return false
}

func (s *stubScheduler) release(id int64) {
	s.mu.Lock()
	fns := s.busy[id]
	delete(s.busy, id)
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type stubReprocessor struct{ err error }

func (s stubReprocessor) Reprocess(context.Context, int64) error { return s.err }

type harness struct {
	t      *testing.T
	store  *store.MemoryStore
	layout media.Layout
	clock  *clock.Mock
	sched  *stubScheduler
	srv    *Server
}

type harnessOption func(*Config, *Deps)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	clk := clock.NewMock(epoch)
	s := store.NewMemoryStore(clk)
	layout := media.NewLayout(t.TempDir())
	require.NoError(t, layout.EnsureDirs())
	sched := &stubScheduler{busy: map[int64][]func(){}}

	cfg := Config{
		RequireStreamToken: true,
		MaxUploadBytes:     1 << 20,
		Version:            "test",
		Logger:             zerolog.Nop(),
	}
	deps := Deps{
		Library: library.NewService(library.Config{
			Store:          s,
			Layout:         layout,
			Prober:         stubProber{},
			Thumbnailer:    stubThumbnailer{},
			Scheduler:      sched,
			Clock:          clk,
			Logger:         zerolog.Nop(),
			MaxUploadBytes: 1 << 20,
		}),
		Reprocess: stubReprocessor{},
		Tokens:    access.NewGate(access.Config{Tokens: s, Videos: s, Stats: s, Clock: clk, Logger: zerolog.Nop()}),
		Streams:   stream.NewResolver(s, layout),
		Reports:   stats.NewService(s, s, clk),
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}
	return &harness{t: t, store: s, layout: layout, clock: clk, sched: sched, srv: New(cfg, deps)}
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *harness) get(path string) *httptest.ResponseRecorder {
	return h.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (h *harness) postJSON(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return h.do(req)
}

func (h *harness) upload(fields map[string]string, filename string, content []byte) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(h.t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(h.t, err)
		_, err = fw.Write(content)
		require.NoError(h.t, err)
	}
	require.NoError(h.t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return h.do(req)
}

var movie = []byte("\x00\x00\x00\x18ftypmp42 fake movie payload")

func (h *harness) uploadVideo(title string) store.Video {
	h.t.Helper()
	rec := h.upload(map[string]string{"title": title, "ownerId": "7", "tags": "demo, intro"}, title+".mp4", movie)
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	var v store.Video
	require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

// process marks v processed and writes a 720p rendition.
func (h *harness) process(v store.Video) {
	h.t.Helper()
	ctx := context.Background()
	require.NoError(h.t, h.store.AdvanceState(ctx, v.ID, store.StateReady, store.StateTranscoding))
	require.NoError(h.t, h.store.AdvanceState(ctx, v.ID, store.StateTranscoding, store.StateProcessed))
	require.NoError(h.t, os.MkdirAll(h.layout.RenditionDir(v.Filename), 0o755))
	require.NoError(h.t, os.WriteFile(h.layout.ManifestPath(v.Filename, "720p"), []byte("#EXTM3U\n#EXT-X-ENDLIST\n"), 0o644))
	require.NoError(h.t, os.WriteFile(h.layout.RenditionDir(v.Filename)+"/720p_000.ts", []byte("segment"), 0o644))
}

func (h *harness) issueToken(videoID int64) string {
	h.t.Helper()
	rec := h.postJSON(fmt.Sprintf("/api/v1/access-tokens/video/%d", videoID), `{"userId": 7}`)
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	var tok store.Token
	require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &tok))
	return tok.Token
}

func problemCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	code, _ := body["code"].(string)
	return code
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	rec := h.get("/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","version":"test"}`, rec.Body.String())
}

func TestUnknownRouteIsProblem(t *testing.T) {
	h := newHarness(t)
	rec := h.get("/api/v1/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", problemCode(t, rec))
}

func TestUploadCreatesVideo(t *testing.T) {
	h := newHarness(t)
	v := h.uploadVideo("intro")

	assert.Equal(t, "intro", v.Title)
	assert.Equal(t, int64(7), v.OwnerID)
	assert.Equal(t, []string{"demo", "intro"}, v.Tags)
	assert.Equal(t, store.StateReady, v.State)
	assert.False(t, v.IsProcessed)
	require.NotNil(t, v.Duration)
	assert.Equal(t, int64(30), *v.Duration)
	assert.Equal(t, []int64{v.ID}, h.sched.enqueued)

	rec := h.get(fmt.Sprintf("/api/v1/videos/%d", v.ID))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.get("/api/v1/videos")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []store.Video
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestUploadValidation(t *testing.T) {
	h := newHarness(t)

	rec := h.upload(map[string]string{"title": "x", "ownerId": "7"}, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", problemCode(t, rec))

	rec = h.upload(map[string]string{"ownerId": "7"}, "a.mp4", movie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.upload(map[string]string{"title": "x", "ownerId": "seven"}, "a.mp4", movie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.upload(map[string]string{"title": "x", "ownerId": "7"}, "big.mp4", bytes.Repeat([]byte("a"), 1<<20+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", problemCode(t, rec))
}

func TestGetVideoErrors(t *testing.T) {
	h := newHarness(t)

	rec := h.get("/api/v1/videos/abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.get("/api/v1/videos/999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "VIDEO_NOT_FOUND", problemCode(t, rec))
}

func TestUpdateAndSearch(t *testing.T) {
	h := newHarness(t)
	v := h.uploadVideo("intro")
	h.uploadVideo("outro")

	req := httptest.NewRequest(http.MethodPatch, fmt.Sprintf("/api/v1/videos/%d", v.ID), strings.NewReader(`{"title":"Welcome","tags":["onboarding"]}`))
	rec := h.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated store.Video
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "Welcome", updated.Title)
	assert.Equal(t, []string{"onboarding"}, updated.Tags)

	req = httptest.NewRequest(http.MethodPatch, fmt.Sprintf("/api/v1/videos/%d", v.ID), strings.NewReader(`{"bogus":1}`))
	assert.Equal(t, http.StatusBadRequest, h.do(req).Code)

	rec = h.get("/api/v1/videos/search?q=welc")
	require.Equal(t, http.StatusOK, rec.Code)
	var found []store.Video
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &found))
	require.Len(t, found, 1)
	assert.Equal(t, v.ID, found[0].ID)

	rec = h.get("/api/v1/videos/search?tags=intro")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &found))
	require.Len(t, found, 1)
	assert.Equal(t, "outro", found[0].Title)
}

func TestStreamTokenFlow(t *testing.T) {
	h := newHarness(t)
	v := h.uploadVideo("intro")
	other := h.uploadVideo("outro")
	streamURL := func(quality, token string) string {
		u := fmt.Sprintf("/api/v1/videos/%d/stream/%s", v.ID, quality)
		if token != "" {
			u += "?token=" + token
		}
		return u
	}

	tok := h.issueToken(v.ID)
	rec := h.get(streamURL("720p", tok))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "VIDEO_NOT_PROCESSED", problemCode(t, rec))

	h.process(v)

	rec = h.get(streamURL("720p", ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_INVALID", problemCode(t, rec))

	rec = h.get(streamURL("1080p", tok))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "QUALITY_UNAVAILABLE", problemCode(t, rec))

	rec = h.get(streamURL("720p", h.issueToken(other.ID)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "TOKEN_SCOPE", problemCode(t, rec))

	rec = h.get("/api/v1/access-tokens/validate/" + tok)
	require.Equal(t, http.StatusOK, rec.Code, "an unavailable quality must not spend the token")

	rec = h.get(streamURL("720p", tok))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/vnd.apple.mpegurl", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "#EXTM3U")

	rec = h.get(streamURL("720p", tok))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_USED", problemCode(t, rec))

	rec = h.get(streamURL("720p_000.ts", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp2t", rec.Header().Get("Content-Type"))

	rec = h.get(streamURL("720p_999.ts", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SEGMENT_NOT_FOUND", problemCode(t, rec))

	rec = h.get(fmt.Sprintf("/api/v1/stats/video/%d", v.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	var st store.VideoStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, int64(1), st.ViewsCount)
}

func TestStreamWithoutTokenRequirement(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) { c.RequireStreamToken = false })
	v := h.uploadVideo("intro")
	h.process(v)

	rec := h.get(fmt.Sprintf("/api/v1/videos/%d/stream/720p", v.ID))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenEndpoints(t *testing.T) {
	h := newHarness(t)
	v := h.uploadVideo("intro")

	rec := h.postJSON("/api/v1/access-tokens", `{"videoId": 999}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.postJSON("/api/v1/access-tokens", `{"expiresInMinutes": 0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.postJSON("/api/v1/access-tokens/playlist/3", `{"expiresInMinutes": 5}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var pl store.Token
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pl))
	require.NotNil(t, pl.PlaylistID)
	assert.Equal(t, int64(3), *pl.PlaylistID)
	assert.Nil(t, pl.VideoID)
	assert.True(t, epoch.Add(5*time.Minute).Equal(pl.ExpiresAt), pl.ExpiresAt)

	tok := h.issueToken(v.ID)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/access-tokens/use/"+tok, nil)
	req.Header.Set("User-Agent", "player/1.0")
	rec = h.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var used store.Token
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &used))
	assert.True(t, used.Used)

	rec = h.get("/api/v1/access-tokens/use/" + tok)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = h.get("/api/v1/access-tokens/validate/unknown")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.get(fmt.Sprintf("/api/v1/access-tokens/logs?videoId=%d", v.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []store.AccessLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "player/1.0", logs[0].UserAgent)
	assert.Equal(t, "192.0.2.1", logs[0].IPAddress)

	rec = h.get("/api/v1/access-tokens/logs?userId=x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h.clock.Advance(10 * time.Minute)
	rec = h.get("/api/v1/access-tokens/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var counts store.TokenCounts
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &counts))
	assert.Equal(t, store.TokenCounts{Total: 2, Used: 1, Expired: 1, Active: 0}, counts)
}

func TestStatsEndpoints(t *testing.T) {
	h := newHarness(t)
	a := h.uploadVideo("a")
	b := h.uploadVideo("b")
	for _, id := range []int64{a.ID, b.ID, b.ID} {
		rec := h.get("/api/v1/access-tokens/use/" + h.issueToken(id))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := h.get("/api/v1/stats/total-views")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"totalViews":3}`, rec.Body.String())

	rec = h.get("/api/v1/stats/top-videos?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var top []store.VideoViews
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &top))
	require.Len(t, top, 1)
	assert.Equal(t, b.ID, top[0].VideoID)
	assert.Equal(t, int64(2), top[0].Views)

	rec = h.get("/api/v1/stats/top-videos?limit=many")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.get("/api/v1/stats/period?startDate=2025-06-01&endDate=2025-06-01")
	require.Equal(t, http.StatusOK, rec.Code)
	var period []store.VideoViews
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &period))
	assert.Len(t, period, 2)

	rec = h.get("/api/v1/stats/period?startDate=2025-06-02&endDate=2025-06-01")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.get("/api/v1/stats/overall")
	require.Equal(t, http.StatusOK, rec.Code)
	var overall stats.Overall
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &overall))
	assert.Equal(t, int64(2), overall.TotalVideos)
	assert.Equal(t, int64(3), overall.TotalViews)
	assert.InDelta(t, 1.5, overall.AverageViews, 0.001)
}

func TestDeleteVideo(t *testing.T) {
	h := newHarness(t)
	v := h.uploadVideo("intro")
	busy := h.uploadVideo("busy")
	h.sched.busy[busy.ID] = nil

	req := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/v1/videos/%d", v.ID), nil)
	rec := h.do(req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusNotFound, h.get(fmt.Sprintf("/api/v1/videos/%d", v.ID)).Code)

	req = httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/v1/videos/%d", busy.ID), nil)
	rec = h.do(req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"id":%d,"deferred":true}`, busy.ID), rec.Body.String())
	assert.Equal(t, http.StatusOK, h.get(fmt.Sprintf("/api/v1/videos/%d", busy.ID)).Code)

	h.sched.release(busy.ID)
	assert.Equal(t, http.StatusNotFound, h.get(fmt.Sprintf("/api/v1/videos/%d", busy.ID)).Code)
}

func TestReprocessStatusMapping(t *testing.T) {
	cases := map[error]int{
		nil:                             http.StatusAccepted,
		transcode.ErrAlreadyTranscoding: http.StatusConflict,
		transcode.ErrQueueFull:          http.StatusServiceUnavailable,
		store.ErrNotFound:               http.StatusNotFound,
	}
	for err, want := range cases {
		h := newHarness(t, func(_ *Config, d *Deps) { d.Reprocess = stubReprocessor{err: err} })
		rec := h.do(httptest.NewRequest(http.MethodPost, "/api/v1/videos/1/reprocess", nil))
		assert.Equal(t, want, rec.Code, "%v", err)
	}
}

func TestThumbnail(t *testing.T) {
	h := newHarness(t)
	v := h.uploadVideo("intro")

	rec := h.get(fmt.Sprintf("/api/v1/videos/%d/thumbnail", v.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.NotEmpty(t, body)
}

func TestIssueRateLimited(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) { c.RateLimitRPM = 2 })
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusCreated, h.postJSON("/api/v1/access-tokens", `{}`).Code)
	}
	rec := h.postJSON("/api/v1/access-tokens", `{}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", problemCode(t, rec))

	assert.Equal(t, http.StatusOK, h.get("/api/v1/access-tokens/stats").Code)
}
