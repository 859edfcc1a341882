// Package dropbox is the storage sink: media files are uploaded into a folder and shared by link.
package dropbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/alanbriolat/post-archiver"
	"github.com/alanbriolat/post-archiver/internal/sync"
)

const sinkName = "dropbox"

type Config struct {
	AppKey       string
	AppSecret    string
	RefreshToken string
	AccessToken  string
	Folder       string
	APIURL       string
	ContentURL   string
	TokenURL     string
	Timeout      time.Duration
}

type Client struct {
	api          *resty.Client
	content      *resty.Client
	auth         *resty.Client
	tokenURL     string
	appKey       string
	appSecret    string
	refreshToken string
	folder       string
	token        *sync.Value[string]
}

var _ post_archiver.Storage = (*Client)(nil)

type apiError struct {
	ErrorSummary string `json:"error_summary"`
}

type fileMetadata struct {
	PathDisplay string `json:"path_display"`
}

type sharedLink struct {
	URL string `json:"url"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func New(config Config) *Client {
	newClient := func(baseURL string) *resty.Client {
		client := resty.New()
		if baseURL != "" {
			client.SetBaseURL(baseURL)
		}
		if config.Timeout > 0 {
			client.SetTimeout(config.Timeout)
		}
		return client
	}
	folder := "/" + strings.Trim(config.Folder, "/")
	return &Client{
		api:          newClient(config.APIURL),
		content:      newClient(config.ContentURL),
		auth:         newClient(""),
		tokenURL:     config.TokenURL,
		appKey:       config.AppKey,
		appSecret:    config.AppSecret,
		refreshToken: config.RefreshToken,
		folder:       folder,
		token:        sync.NewValue(config.AccessToken),
	}
}

func (c *Client) IsConfigured() bool {
	return c.token.Get() != "" || c.canRefresh()
}

func (c *Client) canRefresh() bool {
	return c.refreshToken != "" && c.appKey != ""
}

// Refresh exchanges the refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context) error {
	if !c.canRefresh() {
		return &post_archiver.SinkError{Sink: sinkName, Op: "refresh token", Kind: post_archiver.SinkUnauthorized, Err: errors.New("no refresh token")}
	}
	var result tokenResponse
	resp, err := c.auth.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": c.refreshToken,
			"client_id":     c.appKey,
			"client_secret": c.appSecret,
		}).
		SetResult(&result).
		Post(c.tokenURL)
	if err := checkResponse("refresh token", resp, err); err != nil {
		return err
	}
	if result.AccessToken == "" {
		return &post_archiver.SinkError{Sink: sinkName, Op: "refresh token", Kind: post_archiver.SinkFailed, Err: errors.New("empty access token")}
	}
	c.token.Set(result.AccessToken)
	post_archiver.Logger(ctx).Debug("Refreshed storage access token", zap.Duration("expires_in", time.Duration(result.ExpiresIn)*time.Second))
	return nil
}

// Save uploads content into the configured folder and returns a shared link to it. An expired token is refreshed once
// and the upload repeated.
func (c *Client) Save(ctx context.Context, content io.ReadSeeker, filename string) (post_archiver.StoredFile, error) {
	if !c.IsConfigured() {
		return post_archiver.StoredFile{}, post_archiver.ErrStorageNotConfigured
	}
	if c.token.Get() == "" {
		if err := c.Refresh(ctx); err != nil {
			return post_archiver.StoredFile{}, err
		}
	}
	stored, err := c.save(ctx, content, filename)
	if post_archiver.IsSinkKind(err, post_archiver.SinkUnauthorized) && c.canRefresh() {
		post_archiver.Logger(ctx).Info("Storage token rejected, refreshing", zap.Error(err))
		if err := c.Refresh(ctx); err != nil {
			return post_archiver.StoredFile{}, err
		}
		if _, err := content.Seek(0, io.SeekStart); err != nil {
			return post_archiver.StoredFile{}, fmt.Errorf("failed to rewind %v: %w", filename, err)
		}
		stored, err = c.save(ctx, content, filename)
	}
	return stored, err
}

func (c *Client) save(ctx context.Context, content io.Reader, filename string) (post_archiver.StoredFile, error) {
	token := c.token.Get()
	metadata, err := c.upload(ctx, token, content, path.Join(c.folder, filename))
	if err != nil {
		return post_archiver.StoredFile{}, err
	}
	link, err := c.share(ctx, token, metadata.PathDisplay)
	if err != nil {
		return post_archiver.StoredFile{}, err
	}
	return post_archiver.StoredFile{Path: metadata.PathDisplay, Link: RawLink(link)}, nil
}

func (c *Client) upload(ctx context.Context, token string, content io.Reader, target string) (fileMetadata, error) {
	arg, err := json.Marshal(map[string]any{
		"path":       target,
		"mode":       "add",
		"autorename": true,
		"mute":       true,
	})
	if err != nil {
		return fileMetadata{}, err
	}
	var metadata fileMetadata
	resp, err := c.content.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Dropbox-API-Arg", string(asciiJSON(arg))).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(content).
		SetResult(&metadata).
		ForceContentType("application/json").
		Post("/files/upload")
	if err := checkResponse("upload", resp, err); err != nil {
		return fileMetadata{}, err
	}
	if metadata.PathDisplay == "" {
		metadata.PathDisplay = target
	}
	return metadata, nil
}

// share creates a public link to target, or finds the existing one.
func (c *Client) share(ctx context.Context, token string, target string) (string, error) {
	var link sharedLink
	resp, err := c.api.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(map[string]any{
			"path":     target,
			"settings": map[string]any{"requested_visibility": "public"},
		}).
		SetResult(&link).
		Post("/sharing/create_shared_link_with_settings")
	err = checkResponse("share", resp, err)
	if err == nil {
		return link.URL, nil
	}
	if !strings.Contains(err.Error(), "shared_link_already_exists") {
		return "", err
	}

	var existing struct {
		Links []sharedLink `json:"links"`
	}
	resp, err = c.api.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(map[string]any{"path": target, "direct_only": true}).
		SetResult(&existing).
		Post("/sharing/list_shared_links")
	if err := checkResponse("list shared links", resp, err); err != nil {
		return "", err
	}
	if len(existing.Links) == 0 {
		return "", &post_archiver.SinkError{Sink: sinkName, Op: "list shared links", Kind: post_archiver.SinkFailed, Err: errors.New("no shared link")}
	}
	return existing.Links[0].URL, nil
}

// asciiJSON escapes non-ASCII characters, which are not allowed in the API argument header.
func asciiJSON(data []byte) []byte {
	var b strings.Builder
	for _, r := range string(data) {
		switch {
		case r < utf8.RuneSelf:
			b.WriteRune(r)
		case r > 0xffff:
			r1, r2 := utf16.EncodeRune(r)
			fmt.Fprintf(&b, "\\u%04x\\u%04x", r1, r2)
		default:
			fmt.Fprintf(&b, "\\u%04x", r)
		}
	}
	return []byte(b.String())
}

func checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return &post_archiver.SinkError{Sink: sinkName, Op: op, Kind: post_archiver.SinkFailed, Err: err}
	}
	if !resp.IsError() {
		return nil
	}
	message := strings.TrimSpace(string(resp.Body()))
	var apiErr apiError
	if json.Unmarshal(resp.Body(), &apiErr) == nil && apiErr.ErrorSummary != "" {
		message = apiErr.ErrorSummary
	}
	if message == "" {
		message = resp.Status()
	}
	return &post_archiver.SinkError{
		Sink:   sinkName,
		Op:     op,
		Kind:   post_archiver.SinkKindForStatus(resp.StatusCode()),
		Status: resp.StatusCode(),
		Err:    errors.New(message),
	}
}

// RawLink turns a shared link into one that serves the file itself rather than a preview page.
func RawLink(link string) string {
	switch {
	case strings.Contains(link, "dl=0"):
		return strings.Replace(link, "dl=0", "raw=1", 1)
	case link == "" || strings.Contains(link, "raw=1"):
		return link
	case strings.Contains(link, "?"):
		return link + "&raw=1"
	default:
		return link + "?raw=1"
	}
}
