package video

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/kkdai/youtube/v2"
)

type youtubeSource struct {
	client  *youtube.Client
	videoID string
}

func (s *youtubeSource) URL() string {
	return fmt.Sprintf("https://www.youtube.com/watch?v=%s", s.videoID)
}

func (s *youtubeSource) String() string {
	return s.URL()
}

func (s *youtubeSource) Open(ctx context.Context) (*Stream, error) {
	details, err := s.client.GetVideoContext(ctx, s.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to get video info: %w", err)
	}
	formats := details.Formats.WithAudioChannels()
	if len(formats) == 0 {
		return nil, errors.New("no formats with audio")
	}
	format := &formats[0]
	body, size, err := s.client.GetStreamContext(ctx, details, format)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}
	return &Stream{Body: body, Size: size, Ext: extFromMimeType(format.MimeType)}, nil
}

// extFromMimeType turns e.g. `video/mp4; codecs="avc1.42001E, mp4a.40.2"` into "mp4".
func extFromMimeType(mimeType string) string {
	mediaType := strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	parts := strings.SplitN(mediaType, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "mp4"
	}
	return parts[1]
}

// YouTubeProvider matches YouTube video links.
func YouTubeProvider(client *youtube.Client) Provider {
	if client == nil {
		client = &youtube.Client{}
	}
	return Provider{
		Name: "youtube",
		Match: func(s string) (Source, error) {
			parsedURL, err := url.Parse(s)
			if err != nil {
				return nil, err
			}
			videoID, err := extractVideoID(parsedURL)
			if err != nil {
				return nil, err
			}
			return &youtubeSource{client: client, videoID: videoID}, nil
		},
	}
}

// Extract video ID from YouTube URL.
//
// Allowed URL formats:
//
//	http(s?)://(www|m).youtube.com/(watch|details)?v={VIDEO_ID}
//	http(s?)://(www|m).youtube.com/(v|shorts|embed)/{VIDEO_ID}
//	http(s?)://youtu.be/{VIDEO_ID}
func extractVideoID(u *url.URL) (string, error) {
	var id string
	switch u.Hostname() {
	case "youtube.com", "www.youtube.com", "m.youtube.com":
		if u.Path == "/watch" || u.Path == "/details" {
			if !u.Query().Has("v") {
				return "", errors.New("missing ?v= query parameter")
			}
			id = u.Query().Get("v")
		} else {
			for _, prefix := range []string{"/v/", "/shorts/", "/embed/"} {
				if strings.HasPrefix(u.Path, prefix) {
					id = strings.SplitN(strings.TrimPrefix(u.Path, prefix), "/", 2)[0]
				}
			}
		}
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	default:
		return "", errors.New("unrecognised hostname")
	}
	if id == "" {
		return "", errors.New("could not extract video ID")
	}
	return id, nil
}
