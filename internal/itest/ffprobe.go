//go:build integration

package itest

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

type mediaInfo struct {
	Duration float64
	HasVideo bool
	HasAudio bool
	Width    int
	Height   int
}

func inspectMedia(path string) (mediaInfo, error) {
	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-show_entries", "format=duration:stream=codec_type,width,height",
		"-of", "json",
		path,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return mediaInfo{}, fmt.Errorf("ffprobe: %w\n%s", err, string(b))
	}
	var raw struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
		Streams []struct {
			CodecType string `json:"codec_type"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return mediaInfo{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	var res mediaInfo
	if res.Duration, err = strconv.ParseFloat(raw.Format.Duration, 64); err != nil {
		return mediaInfo{}, fmt.Errorf("parse duration %q: %w", raw.Format.Duration, err)
	}
	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			res.HasVideo = true
			res.Width, res.Height = s.Width, s.Height
		case "audio":
			res.HasAudio = true
		}
	}
	return res, nil
}
