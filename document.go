package post_archiver

import "context"

// Document is everything that goes into the destination document when it is created. Images are attached separately
// afterwards.
type Document struct {
	Title     string
	Author    string
	AuthorURL string
	SourceURL string
	Timestamp string
	Text      string
	Links     []ResolvedURL
	// Videos includes failures, which are rendered as placeholders.
	Videos []AcquiredVideo
	// DebugLog is only set when the diagnostic block is enabled.
	DebugLog []DebugEntry
}

// CreatedDocument identifies a document in the destination service.
type CreatedDocument struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// DocumentSink is the destination document service. Errors should be *SinkError.
type DocumentSink interface {
	CreateDocument(ctx context.Context, doc Document) (CreatedDocument, error)
	AttachImages(ctx context.Context, documentID string, images []AcquiredImage, sourceURL string) error
}
