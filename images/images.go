// Package images fetches the images of a post and archives them to storage.
package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alanbriolat/post-archiver"
	"github.com/alanbriolat/post-archiver/util"
)

const DefaultMaxSize = 20 << 20

var (
	ErrInvalidDataURI = errors.New("invalid data URI")
	ErrImageTooLarge  = errors.New("image too large")
)

type Config struct {
	Timeout      time.Duration
	UserAgent    string
	// MaxSize limits downloaded images, DefaultMaxSize if unset.
	MaxSize      int64
	NameTemplate *post_archiver.NameTemplate
}

type Acquirer struct {
	client  *resty.Client
	storage post_archiver.Storage
	names   *post_archiver.NameTemplate
	maxSize int64
}

func NewAcquirer(config Config, storage post_archiver.Storage) *Acquirer {
	client := resty.New()
	if config.Timeout > 0 {
		client.SetTimeout(config.Timeout)
	}
	if config.UserAgent != "" {
		client.SetHeader("User-Agent", config.UserAgent)
	}
	names := config.NameTemplate
	if names == nil {
		names = post_archiver.MustNameTemplate("image", post_archiver.DefaultImageNameTemplate)
	}
	maxSize := config.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Acquirer{client: client, storage: storage, names: names, maxSize: maxSize}
}

// Acquire archives the image at position index of post. Without configured storage the image is kept as a plain link,
// which is not a failure. Any other problem gives a failed AcquiredImage.
func (a *Acquirer) Acquire(ctx context.Context, post *post_archiver.RawPost, index int, ref post_archiver.RawImage) post_archiver.AcquiredImage {
	log := post_archiver.Logger(ctx).With(zap.Int("image", index))
	if a.storage == nil || !a.storage.IsConfigured() {
		log.Debug("Storage not configured, keeping original image link")
		return post_archiver.ImageOk(index, ref, post_archiver.Image{})
	}
	stored, err := a.acquire(ctx, post, index, ref)
	if err != nil {
		log.Warn("Failed to acquire image", zap.String("url", truncate(ref.URL, 100)), zap.Error(err))
		return post_archiver.ImageFailed(index, ref, err)
	}
	log.Info("Stored image", zap.String("path", stored.Path))
	return post_archiver.ImageOk(index, ref, post_archiver.Image{StoredPath: stored.Path, ShareURL: stored.Link})
}

func (a *Acquirer) acquire(ctx context.Context, post *post_archiver.RawPost, index int, ref post_archiver.RawImage) (post_archiver.StoredFile, error) {
	var data []byte
	var ext string
	var err error
	if ref.IsInline() {
		var contentType string
		if data, contentType, err = DecodeDataURI(ref.URL); err != nil {
			return post_archiver.StoredFile{}, err
		}
		ext = util.ExtFromContentType(contentType, "png")
	} else {
		if data, ext, err = a.fetch(ctx, ref.URL); err != nil {
			return post_archiver.StoredFile{}, err
		}
	}
	filename, err := a.names.Execute(post_archiver.NewNameArgs(post, index, uuid.NewString()[:8], ext))
	if err != nil {
		return post_archiver.StoredFile{}, fmt.Errorf("failed to name image: %w", err)
	}
	return a.storage.Save(ctx, bytes.NewReader(data), filename)
}

func (a *Acquirer) fetch(ctx context.Context, link string) ([]byte, string, error) {
	if !post_archiver.IsHTTPURL(link) {
		return nil, "", fmt.Errorf("not an http(s) link: %s", truncate(link, 100))
	}
	resp, err := a.client.R().SetContext(ctx).SetDoNotParseResponse(true).Get(link)
	if err != nil {
		return nil, "", fmt.Errorf("image download failed: %w", err)
	}
	defer resp.RawBody().Close()
	if resp.IsError() {
		return nil, "", fmt.Errorf("image download failed: HTTP %s", resp.Status())
	}
	data, err := io.ReadAll(io.LimitReader(resp.RawBody(), a.maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("image download failed: %w", err)
	}
	if int64(len(data)) > a.maxSize {
		return nil, "", fmt.Errorf("%w: more than %d bytes", ErrImageTooLarge, a.maxSize)
	}
	if len(data) == 0 {
		return nil, "", errors.New("image download was empty")
	}
	ext := util.ExtFromContentType(resp.Header().Get("Content-Type"), "")
	if ext == "" {
		ext = util.ExtFromURLString(link, "jpg")
	}
	return data, ext, nil
}

// DecodeDataURI decodes a "data:[<mediatype>][;base64],<data>" link, returning the bytes and media type.
func DecodeDataURI(s string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, "", ErrInvalidDataURI
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", ErrInvalidDataURI
	}
	isBase64 := false
	if h, found := strings.CutSuffix(header, ";base64"); found {
		header, isBase64 = h, true
	}
	contentType := header
	if contentType == "" {
		contentType = "text/plain"
	}
	var data []byte
	var err error
	if isBase64 {
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		}
	} else {
		var unescaped string
		unescaped, err = url.PathUnescape(payload)
		data = []byte(unescaped)
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrInvalidDataURI, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty", ErrInvalidDataURI)
	}
	return data, contentType, nil
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
