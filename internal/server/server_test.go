package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanbriolat/post-archiver"
	"github.com/alanbriolat/post-archiver/internal/store"
	"github.com/alanbriolat/post-archiver/pipeline"
)

type fakeProcessor struct {
	posts  []post_archiver.RawPost
	ctxErr error
	result post_archiver.ProcessingResult
	err    error
}

func (p *fakeProcessor) Process(ctx context.Context, post *post_archiver.RawPost, _ ...pipeline.ProcessOption) (post_archiver.ProcessingResult, error) {
	p.posts = append(p.posts, *post)
	p.ctxErr = ctx.Err()
	if err := post.Validate(); err != nil {
		return post_archiver.ProcessingResult{}, err
	}
	return p.result, p.err
}

func newTestServer(t *testing.T, processor Processor, config Config) *Server {
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(config, processor, s)
}

func do(s *Server, method string, target string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestSavePost(t *testing.T) {
	assert := assert_.New(t)
	processor := &fakeProcessor{result: post_archiver.ProcessingResult{
		Success:     true,
		DocumentID:  "doc-1",
		DocumentURL: "https://docs.example.com/doc-1",
		Counts:      post_archiver.Counts{VideosProcessed: 1, ImagesProcessed: 2, URLsResolved: 3},
	}}
	s := newTestServer(t, processor, Config{})

	rec := do(s, http.MethodPost, "/save-post", `{"author":"Ada","text":"hello","urls":["https://lnkd.in/x"],"videos":[{"url":"https://v.example.com/1"}]}`)
	assert.Equal(http.StatusOK, rec.Code)
	assert.Equal("*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(map[string]any{
		"success": true,
		"data": map[string]any{
			"success":     true,
			"documentId":  "doc-1",
			"documentUrl": "https://docs.example.com/doc-1",
			"counts":      map[string]any{"videosProcessed": 1.0, "imagesProcessed": 2.0, "urlsResolved": 3.0},
		},
	}, decode(t, rec))
	require.Len(t, processor.posts, 1)
	assert.Equal("Ada", processor.posts[0].Author)
	assert.Equal([]string{"https://lnkd.in/x"}, processor.posts[0].URLs)
	assert.Equal("https://v.example.com/1", processor.posts[0].Videos[0].URL)
}

func TestSavePostOutlivesClient(t *testing.T) {
	assert := assert_.New(t)
	processor := &fakeProcessor{result: post_archiver.ProcessingResult{Success: true, DocumentID: "doc-1"}}
	s := newTestServer(t, processor, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/save-post", strings.NewReader(`{"author":"Ada","text":"hello"}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Len(t, processor.posts, 1)
	assert.NoError(processor.ctxErr)
	assert.Equal(http.StatusOK, rec.Code)
}

func TestSavePostErrors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"invalid json", `{"text":`, nil, http.StatusBadRequest, CodeInvalidJSON},
		{"trailing data", `{"text":"a"} {}`, nil, http.StatusBadRequest, CodeInvalidJSON},
		{"validation", `{"text":""}`, nil, http.StatusBadRequest, CodeValidation},
		{"unauthorized", `{"text":"a"}`, &post_archiver.SinkError{Sink: "notion", Op: "create page", Kind: post_archiver.SinkUnauthorized, Status: 401, Err: errors.New("bad token")}, http.StatusBadGateway, CodeSinkAuth},
		{"rejected", `{"text":"a"}`, &post_archiver.SinkError{Sink: "notion", Op: "create page", Kind: post_archiver.SinkInvalid, Status: 400, Err: errors.New("bad property")}, http.StatusBadGateway, CodeSinkInvalid},
		{"failed", `{"text":"a"}`, &post_archiver.SinkError{Sink: "notion", Op: "create page", Kind: post_archiver.SinkFailed, Err: errors.New("timeout")}, http.StatusInternalServerError, CodeSinkFailed},
		{"other", `{"text":"a"}`, errors.New("disk full"), http.StatusInternalServerError, CodeInternal},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert_.New(t)
			s := newTestServer(t, &fakeProcessor{err: tc.err}, Config{})
			rec := do(s, http.MethodPost, "/save-post", tc.body)
			assert.Equal(tc.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(tc.code, body["code"])
			assert.Equal(http.StatusText(tc.status), body["error"])
			assert.NotEmpty(body["message"])
			assert.NotContains(body, "success")
		})
	}
}

func TestBodyLimit(t *testing.T) {
	assert := assert_.New(t)
	processor := &fakeProcessor{}
	s := newTestServer(t, processor, Config{MaxBodyBytes: 32})

	rec := do(s, http.MethodPost, "/save-post", `{"text":"`+strings.Repeat("a", 100)+`"}`)
	assert.Equal(http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(CodeTooLarge, decode(t, rec)["code"])
	assert.Empty(processor.posts)
}

func TestHealth(t *testing.T) {
	assert := assert_.New(t)
	s := newTestServer(t, &fakeProcessor{}, Config{Version: "1.2.3"})
	rec := do(s, http.MethodGet, "/health", "")
	assert.Equal(http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal("ok", body["status"])
	assert.Equal("1.2.3", body["version"])

	// Routes are method-specific
	rec = do(s, http.MethodPost, "/health", "")
	assert.Equal(http.StatusMethodNotAllowed, rec.Code)
	rec = do(s, http.MethodGet, "/save-post", "")
	assert.Equal(http.StatusMethodNotAllowed, rec.Code)
}

func TestPreflight(t *testing.T) {
	assert := assert_.New(t)
	s := newTestServer(t, &fakeProcessor{}, Config{AllowedOrigin: "chrome-extension://abc"})
	rec := do(s, http.MethodOptions, "/save-post", "")
	assert.Equal(http.StatusNoContent, rec.Code)
	assert.Equal("chrome-extension://abc", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestInvestigations(t *testing.T) {
	assert := assert_.New(t)
	s := newTestServer(t, &fakeProcessor{}, Config{})

	rec := do(s, http.MethodGet, "/investigation/comments", "")
	assert.Equal(http.StatusOK, rec.Code)
	assert.Equal([]any{}, decode(t, rec)["data"])

	rec = do(s, http.MethodPost, "/investigation/comments", `{"comments":[{"text":"first"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode(t, rec)["data"].(map[string]any)["id"].(string)
	assert.NotEmpty(id)

	rec = do(s, http.MethodPost, "/investigation/comments", `not json`)
	assert.Equal(http.StatusBadRequest, rec.Code)

	rec = do(s, http.MethodGet, "/investigation/comments", "")
	items := decode(t, rec)["data"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(id, item["id"])
	assert.Equal(map[string]any{"comments": []any{map[string]any{"text": "first"}}}, item["payload"])
}
