package post_archiver

import (
	"errors"
	"strings"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func TestRawPostValidate(t *testing.T) {
	for _, tc := range []struct {
		name  string
		post  RawPost
		field string
	}{
		{"text only", RawPost{Text: "hello"}, ""},
		{"video only", RawPost{Videos: []RawVideo{{URL: "https://cdn.example.com/v.mp4"}}}, ""},
		{"with source link", RawPost{Text: "hello", URL: "https://www.linkedin.com/posts/abc"}, ""},
		{"empty", RawPost{}, "text"},
		{"whitespace text", RawPost{Text: " \n\t "}, "text"},
		{"images are not enough", RawPost{Images: []RawImage{{URL: "https://example.com/a.png"}}}, "text"},
		{"relative link", RawPost{Text: "hello", URL: "/posts/abc"}, "url"},
		{"ftp link", RawPost{Text: "hello", URL: "ftp://example.com/x"}, "url"},
		{"garbage link", RawPost{Text: "hello", URL: "http://%zz"}, "url"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert_.New(t)
			err := tc.post.Validate()
			if tc.field == "" {
				assert.NoError(err)
				return
			}
			var validationErr *ValidationError
			if assert.True(errors.As(err, &validationErr)) {
				assert.Equal(tc.field, validationErr.Field)
			}
		})
	}
}

func TestRawPostTitle(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal("Ada: Hello world", (&RawPost{Author: "Ada", Text: "Hello\n\n world"}).Title())
	assert.Equal("Video post", (&RawPost{}).Title())
	long := (&RawPost{Text: strings.Repeat("x", 300)}).Title()
	assert.Equal(100, len([]rune(long)))
	assert.True(strings.HasSuffix(long, "..."))
}

func TestRawImageIsInline(t *testing.T) {
	assert := assert_.New(t)
	assert.True(RawImage{URL: "data:image/png;base64,AAAA"}.IsInline())
	assert.False(RawImage{URL: "https://media.licdn.com/a.jpg"}.IsInline())
}

func TestSinkError(t *testing.T) {
	assert := assert_.New(t)
	err := error(&SinkError{Sink: "notion", Op: "create page", Kind: SinkKindForStatus(401), Status: 401, Err: errors.New("bad token")})
	assert.True(IsSinkKind(err, SinkUnauthorized))
	assert.False(IsSinkKind(err, SinkInvalid))
	assert.Equal("notion create page: unauthorized (HTTP 401): bad token", err.Error())
	assert.Equal(SinkInvalid, SinkKindForStatus(400))
	assert.Equal(SinkFailed, SinkKindForStatus(502))
}

func TestRawPostLinks(t *testing.T) {
	assert := assert_.New(t)
	post := RawPost{
		Text: "Check out https://lnkd.in/abc123, and (https://example.com/a). Again: https://lnkd.in/abc123",
		URLs: []string{"https://example.org/first", "mailto:someone@example.com", "https://lnkd.in/abc123"},
	}
	assert.Equal([]string{
		"https://example.org/first",
		"https://lnkd.in/abc123",
		"https://example.com/a",
	}, post.Links())
	assert.Empty((&RawPost{Text: "no links here"}).Links())
}
