package notion

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alanbriolat/post-archiver"
)

// The API rejects longer rich text items, and longer rich text arrays.
const (
	maxTextLength    = 2000
	maxRichTextItems = 100
)

type block = map[string]any

func richText(content string, link string) []any {
	var items []any
	for _, chunk := range chunks(content, maxTextLength) {
		text := map[string]any{"content": chunk}
		if link != "" {
			text["link"] = map[string]any{"url": link}
		}
		items = append(items, map[string]any{"type": "text", "text": text})
		if len(items) == maxRichTextItems {
			break
		}
	}
	return items
}

func textBlock(kind string, content string, link string) block {
	return block{
		"object": "block",
		"type":   kind,
		kind:     map[string]any{"rich_text": richText(content, link)},
	}
}

func paragraph(content string) block {
	return textBlock("paragraph", content, "")
}

func heading(content string) block {
	return textBlock("heading_2", content, "")
}

func callout(content string, link string, emoji string) block {
	b := textBlock("callout", content, link)
	b["callout"].(map[string]any)["icon"] = map[string]any{"type": "emoji", "emoji": emoji}
	return b
}

func externalImage(link string, caption string) block {
	image := map[string]any{
		"type":     "external",
		"external": map[string]any{"url": link},
	}
	if caption != "" {
		image["caption"] = richText(caption, "")
	}
	return block{"object": "block", "type": "image", "image": image}
}

// chunks splits s into pieces of at most n runes, preferring to break at newlines.
func chunks(s string, n int) []string {
	var out []string
	runes := []rune(s)
	for len(runes) > n {
		cut := n
		for i := n - 1; i > n/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 || len(out) == 0 {
		out = append(out, string(runes))
	}
	return out
}

// documentBlocks renders the body of a new page.
func documentBlocks(doc post_archiver.Document) []block {
	var blocks []block
	for _, para := range strings.Split(strings.TrimSpace(doc.Text), "\n\n") {
		if para = strings.TrimSpace(para); para != "" {
			blocks = append(blocks, paragraph(para))
		}
	}

	if len(doc.Links) > 0 {
		blocks = append(blocks, heading("Links"))
		for _, link := range doc.Links {
			label := link.Resolved
			if link.Changed() {
				label = fmt.Sprintf("%s (from %s)", link.Resolved, link.Original)
			} else if link.Method == post_archiver.MethodUnresolved {
				label = fmt.Sprintf("%s (not resolved: %s)", link.Original, link.Note)
			}
			blocks = append(blocks, textBlock("bulleted_list_item", label, link.Resolved))
		}
	}

	if len(doc.Videos) > 0 {
		blocks = append(blocks, heading("Videos"))
		for i, v := range doc.Videos {
			v.Match(func(video post_archiver.Video) {
				link := video.ShareURL
				if link == "" {
					link = video.SourceURL
				}
				label := fmt.Sprintf("Video %d: %s (%s, %s, %s)",
					i+1, video.Filename, formatBytes(video.Size), video.Duration.Round(time.Second), video.Resolution())
				if video.StoredPath != "" {
					label += " stored at " + video.StoredPath
				}
				blocks = append(blocks, callout(label, link, "🎬"))
			}, func(err error) {
				blocks = append(blocks, callout(fmt.Sprintf("Video %d could not be archived: %v", i+1, err), v.SourceURL, "⚠️"))
			})
		}
	}

	if len(doc.DebugLog) > 0 {
		var lines []string
		for _, entry := range doc.DebugLog {
			line, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			lines = append(lines, string(line))
		}
		code := block{
			"object": "block",
			"type":   "code",
			"code": map[string]any{
				"language":  "json",
				"rich_text": richText(strings.Join(lines, "\n"), ""),
			},
		}
		toggle := textBlock("toggle", "Debug log", "")
		toggle["toggle"].(map[string]any)["children"] = []any{code}
		blocks = append(blocks, toggle)
	}
	return blocks
}

// imageBlocks renders images in their original order, with a placeholder for each one that failed.
func imageBlocks(images []post_archiver.AcquiredImage, sourceURL string) []block {
	sorted := make([]post_archiver.AcquiredImage, len(images))
	copy(sorted, images)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Index < sorted[j].Index
	})
	blocks := []block{heading("Images")}
	for _, img := range sorted {
		link := img.Link()
		inline := strings.HasPrefix(link, "data:")
		if img.IsErr() || inline {
			label := fmt.Sprintf("Image %d was inline and has not been stored", img.Index+1)
			if img.IsErr() {
				label = fmt.Sprintf("Image %d could not be archived: %v", img.Index+1, img.Error)
			}
			if inline {
				link = ""
			}
			blocks = append(blocks, callout(label, link, "🖼️"))
			continue
		}
		blocks = append(blocks, externalImage(link, img.Alt))
	}
	if sourceURL != "" {
		blocks = append(blocks, textBlock("paragraph", "Source: "+sourceURL, sourceURL))
	}
	return blocks
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
