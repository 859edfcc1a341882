package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Probe is the container and stream metadata of a video file.
type Probe struct {
	// FormatNames are the container formats the file is compatible with, e.g. "mov", "mp4", "m4a".
	FormatNames []string
	Duration    time.Duration
	Width       int
	Height      int
	Bitrate     int64
	HasVideo    bool
}

type Prober interface {
	Probe(ctx context.Context, path string) (Probe, error)
}

type Transcoder interface {
	Transcode(ctx context.Context, in string, out string, preset Preset) error
}

// Preset is one compression level.
type Preset struct {
	Name         string
	VideoBitrate string
	AudioBitrate string
	MaxWidth     int
	MaxHeight    int
}

var Presets = map[string]Preset{
	"high":   {Name: "high", VideoBitrate: "2500k", AudioBitrate: "192k", MaxWidth: 1920, MaxHeight: 1080},
	"medium": {Name: "medium", VideoBitrate: "1000k", AudioBitrate: "128k", MaxWidth: 1280, MaxHeight: 720},
	"low":    {Name: "low", VideoBitrate: "500k", AudioBitrate: "96k", MaxWidth: 854, MaxHeight: 480},
}

// PresetFor looks up a preset by name, falling back to "medium".
func PresetFor(name string) Preset {
	if p, ok := Presets[strings.ToLower(name)]; ok {
		return p
	}
	return Presets["medium"]
}

// FFmpeg probes with ffprobe and transcodes with ffmpeg.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
}

func (f *FFmpeg) Probe(ctx context.Context, path string) (Probe, error) {
	out, err := run(ctx, f.FFprobePath, "-v", "error", "-print_format", "json", "-show_format", "-show_streams", path)
	if err != nil {
		return Probe{}, fmt.Errorf("ffprobe failed: %w", err)
	}
	return ParseProbe(out)
}

func (f *FFmpeg) Transcode(ctx context.Context, in string, out string, preset Preset) error {
	scale := fmt.Sprintf(
		"scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease,scale=trunc(iw/2)*2:trunc(ih/2)*2",
		preset.MaxWidth, preset.MaxHeight,
	)
	_, err := run(ctx, f.FFmpegPath,
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", in,
		"-c:v", "libx264", "-preset", "medium", "-b:v", preset.VideoBitrate,
		"-vf", scale,
		"-c:a", "aac", "-b:a", preset.AudioBitrate,
		"-movflags", "+faststart",
		out,
	)
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %w", err)
	}
	return nil
}

func run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
}

// ParseProbe reads the JSON written by ffprobe -print_format json -show_format -show_streams.
func ParseProbe(data []byte) (Probe, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Probe{}, fmt.Errorf("invalid ffprobe output: %w", err)
	}
	var p Probe
	for _, name := range strings.Split(out.Format.FormatName, ",") {
		if name = strings.TrimSpace(name); name != "" {
			p.FormatNames = append(p.FormatNames, name)
		}
	}
	if seconds, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
		p.Duration = time.Duration(seconds * float64(time.Second))
	}
	p.Bitrate, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)
	for _, s := range out.Streams {
		if s.CodecType == "video" && !p.HasVideo {
			p.HasVideo = true
			p.Width, p.Height = s.Width, s.Height
		}
	}
	return p, nil
}
