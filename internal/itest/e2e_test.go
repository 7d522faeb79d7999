//go:build integration

package itest

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/forPelevin/autoshort/internal/pipeline"
)

// makeFixtures renders a 20s source video (speech, 6s of silence, speech)
// and a 3s music track into dir.
func makeFixtures(t *testing.T, dir string) (video, musicDir string) {
	t.Helper()
	wav := filepath.Join(dir, "speech.wav")
	text := "Here is the key idea. Step one: do this. Step two: measure results. This is important."
	if b, err := exec.Command("espeak-ng", "-w", wav, text).CombinedOutput(); err != nil {
		t.Fatalf("espeak-ng failed: %v\n%s", err, string(b))
	}

	video = filepath.Join(dir, "input.mp4")
	ff := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi", "-i", "color=c=black:s=720x1280:d=20",
		"-i", wav,
		"-f", "lavfi", "-i", "anullsrc=r=16000:cl=mono:d=6",
		"-i", wav,
		"-filter_complex", "[1:a][2:a][3:a]concat=n=3:v=0:a=1[a]",
		"-map", "0:v", "-map", "[a]",
		"-t", "20",
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-c:a", "aac",
		video,
	)
	if b, err := ff.CombinedOutput(); err != nil {
		t.Fatalf("ffmpeg fixture failed: %v\n%s", err, string(b))
	}

	musicDir = filepath.Join(dir, "music")
	if err := os.MkdirAll(musicDir, 0o755); err != nil {
		t.Fatalf("mkdir music: %v", err)
	}
	music := exec.Command("ffmpeg", "-y",
		"-f", "lavfi", "-i", "sine=frequency=220:duration=3",
		"-ac", "2", "-ar", "44100",
		filepath.Join(musicDir, "loop.wav"),
	)
	if b, err := music.CombinedOutput(); err != nil {
		t.Fatalf("ffmpeg music fixture failed: %v\n%s", err, string(b))
	}
	return video, musicDir
}

func TestE2E(t *testing.T) {
	if os.Getenv("OPENROUTER_API_KEY") == "" {
		t.Fatalf("OPENROUTER_API_KEY is required for itest")
	}

	tmp := t.TempDir()
	video, musicDir := makeFixtures(t, tmp)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	onFailure := "abort"
	if os.Getenv("ELEVENLABS_API_KEY") == "" {
		onFailure = "continue"
	}
	p, err := pipeline.New(pipeline.Config{
		OutDir:             filepath.Join(tmp, "out"),
		CacheDir:           filepath.Join(tmp, "cache"),
		MusicDir:           musicDir,
		EffectsDir:         filepath.Join(tmp, "sfx"),
		NarrationOnFailure: onFailure,
		FFmpegPath:         "ffmpeg",
		FFprobePath:        "ffprobe",
		OpenRouterAPIKey:   os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:    os.Getenv("OPENROUTER_MODEL"),
		OpenRouterBaseURL:  os.Getenv("OPENROUTER_BASE_URL"),
		ElevenLabsAPIKey:   os.Getenv("ELEVENLABS_API_KEY"),
		Log:                zerolog.New(zerolog.NewTestWriter(t)),
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	res := p.AssembleShort(ctx, video, "Three quick tips for measuring your progress")
	if !res.OK {
		t.Fatalf("assemble failed at %s: %s", res.Stage, res.Message)
	}
	info, err := inspectMedia(res.OutputPath)
	if err != nil {
		t.Fatalf("inspect output: %v", err)
	}
	if info.Duration <= 0 {
		t.Fatalf("unexpected output duration %.2fs", info.Duration)
	}
	if !info.HasVideo || !info.HasAudio {
		t.Fatalf("expected video and audio streams, got %+v", info)
	}
	if info.Width != 720 || info.Height != 1280 {
		t.Fatalf("expected source frame size to be kept, got %dx%d", info.Width, info.Height)
	}
	if _, err := os.Stat(res.OutputPath + ".partial"); !os.IsNotExist(err) {
		t.Fatalf("partial output left behind: %v", err)
	}
}
