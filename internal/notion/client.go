// Package notion is the destination document sink: each post becomes a page in a Notion database.
package notion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/alanbriolat/post-archiver"
)

const sinkName = "notion"

// The API accepts at most this many children per request.
const maxChildren = 100

type Config struct {
	Token      string
	DatabaseID string
	APIURL     string
	Version    string
	Timeout    time.Duration
}

type Client struct {
	client     *resty.Client
	databaseID string
}

var _ post_archiver.DocumentSink = (*Client)(nil)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type page struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func New(config Config) *Client {
	client := resty.New()
	client.SetBaseURL(config.APIURL)
	client.SetAuthToken(config.Token)
	client.SetHeader("Notion-Version", config.Version)
	client.SetHeader("Content-Type", "application/json")
	if config.Timeout > 0 {
		client.SetTimeout(config.Timeout)
	}
	return &Client{client: client, databaseID: config.DatabaseID}
}

// CreateDocument creates the page with as many blocks as one request allows, then appends the rest. Only the first
// request can fail the call.
func (c *Client) CreateDocument(ctx context.Context, doc post_archiver.Document) (post_archiver.CreatedDocument, error) {
	blocks := documentBlocks(doc)
	first := blocks
	if len(first) > maxChildren {
		first = first[:maxChildren]
	}
	body := map[string]any{
		"parent":     map[string]any{"database_id": c.databaseID},
		"properties": properties(doc),
		"children":   first,
	}
	var created page
	if err := c.do(ctx, "create page", resty.MethodPost, "/pages", body, &created); err != nil {
		return post_archiver.CreatedDocument{}, err
	}
	// The page exists now, so a failure here must not look like a failed creation
	if err := c.appendBlocks(ctx, "append blocks", created.ID, blocks[len(first):]); err != nil {
		post_archiver.Logger(ctx).Warn("Failed to append remaining blocks", zap.String("page", created.ID), zap.Error(err))
	}
	return post_archiver.CreatedDocument{ID: created.ID, URL: created.URL}, nil
}

// AttachImages appends an images section to an existing page.
func (c *Client) AttachImages(ctx context.Context, documentID string, images []post_archiver.AcquiredImage, sourceURL string) error {
	if len(images) == 0 {
		return nil
	}
	return c.appendBlocks(ctx, "attach images", documentID, imageBlocks(images, sourceURL))
}

func (c *Client) appendBlocks(ctx context.Context, op string, id string, blocks []block) error {
	for len(blocks) > 0 {
		n := min(len(blocks), maxChildren)
		body := map[string]any{"children": blocks[:n]}
		if err := c.do(ctx, op, resty.MethodPatch, "/blocks/"+id+"/children", body, nil); err != nil {
			return err
		}
		blocks = blocks[n:]
	}
	return nil
}

func (c *Client) do(ctx context.Context, op string, method string, path string, body any, result any) error {
	req := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetError(&apiError{})
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return &post_archiver.SinkError{Sink: sinkName, Op: op, Kind: post_archiver.SinkFailed, Err: err}
	}
	if resp.IsError() {
		return &post_archiver.SinkError{
			Sink:   sinkName,
			Op:     op,
			Kind:   post_archiver.SinkKindForStatus(resp.StatusCode()),
			Status: resp.StatusCode(),
			Err:    responseError(resp),
		}
	}
	return nil
}

func responseError(resp *resty.Response) error {
	if apiErr, ok := resp.Error().(*apiError); ok && apiErr.Message != "" {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	var apiErr apiError
	if err := json.Unmarshal(resp.Body(), &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	return errors.New(resp.Status())
}

func properties(doc post_archiver.Document) map[string]any {
	props := map[string]any{
		"Name": map[string]any{"title": richText(doc.Title, "")},
	}
	if doc.Author != "" {
		props["Author"] = map[string]any{"rich_text": richText(doc.Author, doc.AuthorURL)}
	}
	if doc.SourceURL != "" {
		props["URL"] = map[string]any{"url": doc.SourceURL}
	}
	if t, err := time.Parse(time.RFC3339, doc.Timestamp); err == nil {
		props["Date"] = map[string]any{"date": map[string]any{"start": t.Format(time.RFC3339)}}
	}
	return props
}
