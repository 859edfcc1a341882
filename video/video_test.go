package video

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanbriolat/post-archiver"
	"github.com/alanbriolat/post-archiver/async"
	"github.com/alanbriolat/post-archiver/download"
)

var fastRetry = async.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

type fakeProber struct {
	calls atomic.Int32
	probe Probe
	err   error
}

func (p *fakeProber) Probe(_ context.Context, path string) (Probe, error) {
	p.calls.Add(1)
	if _, err := os.Stat(path); err != nil {
		return Probe{}, err
	}
	return p.probe, p.err
}

type fakeTranscoder struct {
	calls atomic.Int32
	err   error
}

func (t *fakeTranscoder) Transcode(_ context.Context, in string, out string, preset Preset) error {
	t.calls.Add(1)
	if t.err != nil {
		// Leave a partial output behind, like a crashed ffmpeg
		_ = os.WriteFile(out, []byte("partial"), 0644)
		return t.err
	}
	return os.WriteFile(out, []byte("small:"+preset.Name), 0644)
}

type fakeSource struct {
	url   string
	opens atomic.Int32
	open  func(attempt int32) (*Stream, error)
}

func (s *fakeSource) URL() string {
	return s.url
}

func (s *fakeSource) Open(context.Context) (*Stream, error) {
	return s.open(s.opens.Add(1))
}

func fakeProvider(source *fakeSource) Provider {
	return Provider{Name: "fake", Match: func(s string) (Source, error) {
		if s != source.url {
			return nil, errors.New("not mine")
		}
		return source, nil
	}}
}

func newWorkspace(t *testing.T) *download.Workspace {
	ws, err := download.NewWorkspace(download.WithTempDir(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func workspaceFiles(t *testing.T, ws *download.Workspace) []string {
	entries, err := os.ReadDir(ws.Dir())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

var mp4Probe = Probe{
	FormatNames: []string{"mov", "mp4", "m4a"},
	Duration:    12 * time.Second,
	Width:       1280,
	Height:      720,
	HasVideo:    true,
}

func TestRegistry(t *testing.T) {
	assert := assert_.New(t)
	registry, err := NewRegistry(HTTPProvider(NewHTTPClient("", 0)), YouTubeProvider(nil))
	require.NoError(t, err)
	assert.Equal([]string{"youtube", "http"}, registry.List())

	match, err := registry.Match("https://youtu.be/dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal("youtube", match.ProviderName)
	assert.Equal("https://www.youtube.com/watch?v=dQw4w9WgXcQ", match.Source.URL())

	match, err = registry.Match("https://dms.licdn.com/playlist/vid/abc")
	require.NoError(t, err)
	assert.Equal("http", match.ProviderName)

	_, err = registry.Match("ftp://example.com/a.mp4")
	assert.ErrorIs(err, ErrNoMatch)
	assert.Contains(err.Error(), "[youtube]")
	assert.Contains(err.Error(), "[http]")

	assert.ErrorIs(registry.Add(YouTubeProvider(nil)), ErrDuplicateProvider)
	assert.ErrorIs(registry.Add(Provider{Name: "nameless"}), ErrInvalidProvider)

	_, err = (&Registry{}).Match("https://example.com")
	assert.ErrorIs(err, ErrNoMatch)
}

func TestExtractVideoID(t *testing.T) {
	for _, tc := range []struct {
		in string
		id string
	}{
		{"https://www.youtube.com/watch?v=abc123", "abc123"},
		{"https://m.youtube.com/watch?v=abc123&t=10", "abc123"},
		{"https://youtube.com/shorts/abc123", "abc123"},
		{"https://www.youtube.com/embed/abc123?autoplay=1", "abc123"},
		{"https://www.youtube.com/v/abc123", "abc123"},
		{"https://youtu.be/abc123", "abc123"},
		{"https://www.youtube.com/watch", ""},
		{"https://www.youtube.com/channel/xyz", ""},
		{"https://vimeo.com/123", ""},
	} {
		t.Run(tc.in, func(t *testing.T) {
			u, err := url.Parse(tc.in)
			require.NoError(t, err)
			id, err := extractVideoID(u)
			if tc.id == "" {
				assert_.Error(t, err)
			} else {
				assert_.NoError(t, err)
				assert_.Equal(t, tc.id, id)
			}
		})
	}
	assert_.Equal(t, "webm", extFromMimeType(`video/webm; codecs="vp8, vorbis"`))
	assert_.Equal(t, "mp4", extFromMimeType(""))
}

func TestParseProbe(t *testing.T) {
	assert := assert_.New(t)
	probe, err := ParseProbe([]byte(`{
		"streams": [
			{"codec_type": "audio"},
			{"codec_type": "video", "width": 1920, "height": 1080},
			{"codec_type": "video", "width": 320, "height": 240}
		],
		"format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "61.500000", "bit_rate": "2048000"}
	}`))
	require.NoError(t, err)
	assert.Equal([]string{"mov", "mp4", "m4a", "3gp", "3g2", "mj2"}, probe.FormatNames)
	assert.Equal(61500*time.Millisecond, probe.Duration)
	assert.EqualValues(2048000, probe.Bitrate)
	assert.True(probe.HasVideo)
	assert.Equal(1920, probe.Width)
	assert.Equal(1080, probe.Height)

	probe, err = ParseProbe([]byte(`{"streams": [{"codec_type": "audio"}], "format": {"format_name": "mp3"}}`))
	require.NoError(t, err)
	assert.False(probe.HasVideo)

	_, err = ParseProbe([]byte("not json"))
	assert.Error(err)
}

func TestPresets(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal(Preset{Name: "high", VideoBitrate: "2500k", AudioBitrate: "192k", MaxWidth: 1920, MaxHeight: 1080}, PresetFor("HIGH"))
	assert.Equal("1000k", PresetFor("medium").VideoBitrate)
	assert.Equal(854, PresetFor("low").MaxWidth)
	assert.Equal("medium", PresetFor("bogus").Name)
}

func TestAcquireOverHTTP(t *testing.T) {
	assert := assert_.New(t)
	var userAgent atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer server.Close()

	registry, err := NewRegistry(HTTPProvider(NewHTTPClient("test-agent/1.0", time.Second)))
	require.NoError(t, err)
	prober := &fakeProber{probe: mp4Probe}
	transcoder := &fakeTranscoder{}
	a := NewAcquirer(Config{MaxSize: 100, AcceptedFormats: []string{"mp4", ".webm"}, Retry: fastRetry}, registry, prober, transcoder)
	ws := newWorkspace(t)

	result := a.Acquire(context.Background(), ws, post_archiver.RawVideo{URL: server.URL + "/playlist/vid/123"})
	require.True(t, result.IsOk(), "%v", result.Error)
	v := result.Value
	assert.Equal(server.URL+"/playlist/vid/123", v.SourceURL)
	assert.Equal(server.URL+"/playlist/vid/123", result.SourceURL)
	assert.EqualValues(10, v.Size)
	assert.Equal("mp4", v.Format)
	assert.Equal("1280x720", v.Resolution())
	assert.Equal(12*time.Second, v.Duration)
	assert.False(v.Transcoded)
	assert.FileExists(v.LocalPath)
	assert.Equal("test-agent/1.0", userAgent.Load())
	assert.EqualValues(0, transcoder.calls.Load())
}

func TestAcquireTranscodes(t *testing.T) {
	for _, tc := range []struct {
		name    string
		maxSize int64
		formats []string
	}{
		{"too large", 4, []string{"mov", "mp4"}},
		{"unaccepted format", 100, []string{"avi"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert_.New(t)
			source := &fakeSource{url: "https://cdn.example.com/v", open: func(int32) (*Stream, error) {
				return &Stream{Body: io.NopCloser(strings.NewReader("0123456789")), Size: 10, Ext: "avi"}, nil
			}}
			registry, err := NewRegistry(fakeProvider(source))
			require.NoError(t, err)
			probe := mp4Probe
			probe.FormatNames = tc.formats
			transcoder := &fakeTranscoder{}
			a := NewAcquirer(Config{MaxSize: tc.maxSize, AcceptedFormats: []string{"mp4"}, Compression: "low", Retry: fastRetry},
				registry, &fakeProber{probe: probe}, transcoder)
			ws := newWorkspace(t)

			result := a.Acquire(context.Background(), ws, post_archiver.RawVideo{URL: source.url})
			require.True(t, result.IsOk(), "%v", result.Error)
			assert.True(result.Value.Transcoded)
			assert.Equal("mp4", result.Value.Format)
			assert.EqualValues(len("small:low"), result.Value.Size)
			assert.EqualValues(1, transcoder.calls.Load())
			// Only the transcoded file remains
			assert.Equal([]string{result.Value.Filename}, workspaceFiles(t, ws))
		})
	}
}

func TestAcquireRetriesDownload(t *testing.T) {
	assert := assert_.New(t)
	source := &fakeSource{url: "https://cdn.example.com/flaky.mp4", open: func(attempt int32) (*Stream, error) {
		if attempt < 3 {
			return nil, errors.New("connection reset by peer")
		}
		return &Stream{Body: io.NopCloser(strings.NewReader("ok")), Size: -1, Ext: "mp4"}, nil
	}}
	registry, err := NewRegistry(fakeProvider(source))
	require.NoError(t, err)
	a := NewAcquirer(Config{AcceptedFormats: []string{"mp4"}, Retry: fastRetry}, registry, &fakeProber{probe: mp4Probe}, &fakeTranscoder{})

	result := a.Acquire(context.Background(), newWorkspace(t), post_archiver.RawVideo{URL: source.url})
	assert.True(result.IsOk())
	assert.EqualValues(3, source.opens.Load())
}

func TestAcquireDownloadKeepsFailing(t *testing.T) {
	assert := assert_.New(t)
	// Nothing is listening once the server is closed
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()
	var opens atomic.Int32
	inner := HTTPProvider(NewHTTPClient("", time.Second))
	counting := Provider{Name: "counting", Match: func(s string) (Source, error) {
		source, err := inner.Match(s)
		if err != nil {
			return nil, err
		}
		return &fakeSource{url: s, open: func(int32) (*Stream, error) {
			opens.Add(1)
			return source.Open(context.Background())
		}}, nil
	}}
	registry, err := NewRegistry(counting)
	require.NoError(t, err)
	prober := &fakeProber{probe: mp4Probe}
	a := NewAcquirer(Config{AcceptedFormats: []string{"mp4"}, Retry: fastRetry}, registry, prober, &fakeTranscoder{})
	ws := newWorkspace(t)

	result := a.Acquire(context.Background(), ws, post_archiver.RawVideo{URL: server.URL + "/v.mp4"})
	assert.True(result.IsErr())
	assert.Equal(server.URL+"/v.mp4", result.SourceURL)
	assert.Contains(result.Error.Error(), "gave up after 3 attempts")
	assert.EqualValues(3, opens.Load())
	assert.EqualValues(0, prober.calls.Load())
	assert.Empty(workspaceFiles(t, ws))
}

func TestAcquireNoVideoStream(t *testing.T) {
	assert := assert_.New(t)
	source := &fakeSource{url: "https://cdn.example.com/audio.mp4", open: func(int32) (*Stream, error) {
		return &Stream{Body: io.NopCloser(strings.NewReader("audio")), Size: 5, Ext: "mp4"}, nil
	}}
	registry, err := NewRegistry(fakeProvider(source))
	require.NoError(t, err)
	prober := &fakeProber{probe: Probe{FormatNames: []string{"mp4"}}}
	a := NewAcquirer(Config{AcceptedFormats: []string{"mp4"}, Retry: fastRetry}, registry, prober, &fakeTranscoder{})
	ws := newWorkspace(t)

	result := a.Acquire(context.Background(), ws, post_archiver.RawVideo{URL: source.url})
	assert.ErrorIs(result.Error, post_archiver.ErrNoVideoStream)
	assert.EqualValues(1, source.opens.Load())
	assert.EqualValues(1, prober.calls.Load())
	assert.Empty(workspaceFiles(t, ws))
}

func TestAcquireTranscodeFailureCleansUp(t *testing.T) {
	assert := assert_.New(t)
	source := &fakeSource{url: "https://cdn.example.com/big.mov", open: func(int32) (*Stream, error) {
		return &Stream{Body: io.NopCloser(strings.NewReader("0123456789")), Size: 10, Ext: "mov"}, nil
	}}
	registry, err := NewRegistry(fakeProvider(source))
	require.NoError(t, err)
	transcoder := &fakeTranscoder{err: errors.New("encoder exploded")}
	a := NewAcquirer(Config{MaxSize: 1, AcceptedFormats: []string{"mp4"}, Retry: fastRetry}, registry, &fakeProber{probe: mp4Probe}, transcoder)
	ws := newWorkspace(t)

	result := a.Acquire(context.Background(), ws, post_archiver.RawVideo{URL: source.url})
	assert.True(result.IsErr())
	assert.Contains(result.Error.Error(), "encoder exploded")
	// Transcoding is never retried
	assert.EqualValues(1, transcoder.calls.Load())
	assert.EqualValues(1, source.opens.Load())
	assert.Empty(workspaceFiles(t, ws))
}

func TestAcquireUnmatched(t *testing.T) {
	registry, err := NewRegistry(HTTPProvider(NewHTTPClient("", 0)))
	require.NoError(t, err)
	a := NewAcquirer(Config{}, registry, &fakeProber{}, &fakeTranscoder{})
	result := a.Acquire(context.Background(), newWorkspace(t), post_archiver.RawVideo{URL: "blob:https://www.linkedin.com/abc"})
	assert_.ErrorIs(t, result.Error, ErrNoMatch)
}
