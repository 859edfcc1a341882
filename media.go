package post_archiver

import (
	"fmt"
	"time"

	"github.com/alanbriolat/post-archiver/generic"
)

// Method records which resolution strategy produced a ResolvedURL.
type Method string

const (
	MethodNone         Method = ""
	MethodUnshortenIt  Method = "unshorten.it"
	MethodHeadRedirect Method = "head-redirect"
	MethodHTTPRedirect Method = "http-redirect"
	MethodHTMLScan     Method = "html-scan"
	MethodUnresolved   Method = "unresolved"
)

// ResolvedURL is the outcome of resolving one link. Resolved is never empty: it falls back to Original.
type ResolvedURL struct {
	Original     string `json:"original"`
	Resolved     string `json:"resolved"`
	WasShortened bool   `json:"wasShortened"`
	Method       Method `json:"method,omitempty"`
	Error        string `json:"error,omitempty"`
	Note         string `json:"note,omitempty"`
}

// Changed returns true if resolution actually produced a different link.
func (r ResolvedURL) Changed() bool {
	return r.Resolved != r.Original
}

// Video is a successfully acquired video. LocalPath is a request-scoped temporary file, and is cleared once the file
// has been handed to storage and deleted.
type Video struct {
	LocalPath  string        `json:"-"`
	Filename   string        `json:"filename"`
	Size       int64         `json:"size"`
	Duration   time.Duration `json:"duration"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	Format     string        `json:"format"`
	Transcoded bool          `json:"transcoded"`
	SourceURL  string        `json:"sourceUrl"`
	StoredPath string        `json:"storedPath,omitempty"`
	ShareURL   string        `json:"shareUrl,omitempty"`
}

// Resolution formats the video dimensions as WxH.
func (v Video) Resolution() string {
	if v.Width == 0 || v.Height == 0 {
		return "unknown"
	}
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

// AcquiredVideo is the tagged outcome of acquiring one video: either a Video or the error that prevented it.
type AcquiredVideo struct {
	SourceURL string
	generic.Result[Video]
}

func VideoOk(v Video) AcquiredVideo {
	return AcquiredVideo{SourceURL: v.SourceURL, Result: generic.Ok(v)}
}

func VideoFailed(sourceURL string, err error) AcquiredVideo {
	return AcquiredVideo{SourceURL: sourceURL, Result: generic.Err[Video](err)}
}

// Image is a successfully acquired image. StoredPath and ShareURL are empty if storage was skipped.
type Image struct {
	StoredPath string `json:"storedPath,omitempty"`
	ShareURL   string `json:"shareUrl,omitempty"`
}

// AcquiredImage is the tagged outcome of acquiring one image. Index is the image's position in the original post,
// which acquisition order does not preserve.
type AcquiredImage struct {
	Index int
	URL   string
	Alt   string
	generic.Result[Image]
}

func ImageOk(index int, raw RawImage, img Image) AcquiredImage {
	return AcquiredImage{Index: index, URL: raw.URL, Alt: raw.Alt, Result: generic.Ok(img)}
}

func ImageFailed(index int, raw RawImage, err error) AcquiredImage {
	return AcquiredImage{Index: index, URL: raw.URL, Alt: raw.Alt, Result: generic.Err[Image](err)}
}

// Link is the best link to show for the image: the stored copy if there is one, otherwise the original.
func (i AcquiredImage) Link() string {
	if i.IsOk() && i.Value.ShareURL != "" {
		return i.Value.ShareURL
	}
	return i.URL
}

type Counts struct {
	VideosProcessed int `json:"videosProcessed"`
	ImagesProcessed int `json:"imagesProcessed"`
	URLsResolved    int `json:"urlsResolved"`
}

// ProcessingResult is everything a caller learns about a processed post; per-item failure detail only goes to the
// logs and the document itself.
type ProcessingResult struct {
	Success     bool   `json:"success"`
	DocumentID  string `json:"documentId"`
	DocumentURL string `json:"documentUrl"`
	Counts      Counts `json:"counts"`
}
