package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/forPelevin/autoshort/internal/types"
)

const DefaultFPS = 24

type Adapter struct {
	ffmpeg  string
	ffprobe string
	fps     int
}

func New(ffmpegPath, ffprobePath string) *Adapter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Adapter{ffmpeg: ffmpegPath, ffprobe: ffprobePath, fps: DefaultFPS}
}

// ExtractAudio writes the source soundtrack as 16 kHz mono WAV.
func (a *Adapter) ExtractAudio(ctx context.Context, inVideo, outWav string) error {
	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-y",
		"-i", inVideo,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		outWav,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg extract audio: %w\n%s", err, tail(b))
	}
	return nil
}

func (a *Adapter) Encode(ctx context.Context, job types.EncodeJob) error {
	args, err := BuildEncodeArgs(job, a.fps)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, a.ffmpeg, args...)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg encode: %w\n%s", err, tail(b))
	}
	return nil
}

// BuildEncodeArgs renders the ffmpeg command line for a timeline: every clip
// is cut from the source (possibly from several ranges), frozen on its last
// frame up to the clip duration, and the clips are concatenated in order.
// The mixed audio replaces the source soundtrack.
func BuildEncodeArgs(job types.EncodeJob, fps int) ([]string, error) {
	if len(job.Clips) == 0 {
		return nil, errors.New("encode: no clips")
	}
	if fps <= 0 {
		fps = DefaultFPS
	}

	var (
		graph []string
		total time.Duration
		names = make([]string, 0, len(job.Clips))
	)
	for i, c := range job.Clips {
		if len(c.Sources) == 0 {
			return nil, fmt.Errorf("encode: clip %d has no footage", c.Index)
		}
		name := fmt.Sprintf("c%d", i)
		pad := c.Duration() - c.FootageDuration()

		parts := make([]string, len(c.Sources))
		for j, s := range c.Sources {
			parts[j] = fmt.Sprintf("[0:v]trim=start=%s:end=%s,setpts=PTS-STARTPTS", fmtSeconds(s.Start), fmtSeconds(s.End))
		}
		var chain string
		if len(parts) == 1 {
			chain = parts[0]
		} else {
			var inputs strings.Builder
			for j := range parts {
				label := fmt.Sprintf("%ss%d", name, j)
				graph = append(graph, parts[j]+"["+label+"]")
				inputs.WriteString("[" + label + "]")
			}
			chain = fmt.Sprintf("%sconcat=n=%d:v=1:a=0", inputs.String(), len(parts))
		}
		if pad > 0 {
			chain += ",tpad=stop_mode=clone:stop_duration=" + fmtSeconds(pad)
		}
		graph = append(graph, chain+"["+name+"]")
		names = append(names, "["+name+"]")
		total += c.Duration()
	}

	last := strings.Join(names, "") + fmt.Sprintf("concat=n=%d:v=1:a=0", len(names))
	if job.Subtitles != "" {
		last += ",subtitles=" + escapeFilterPath(job.Subtitles)
	}
	graph = append(graph, last+"[v]")

	args := []string{"-y", "-i", job.Video}
	if job.Audio != "" {
		args = append(args, "-i", job.Audio)
	}
	args = append(args,
		"-filter_complex", strings.Join(graph, ";"),
		"-map", "[v]",
	)
	if job.Audio != "" {
		args = append(args, "-map", "1:a", "-c:a", "aac", "-b:a", "192k")
	}
	args = append(args,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "18",
		"-r", strconv.Itoa(fps),
		"-pix_fmt", "yuv420p",
		"-t", fmtSeconds(total),
		"-movflags", "+faststart",
		"-f", "mp4",
		job.Out,
	)
	return args, nil
}

// ProbeDuration reports the container duration of path.
func (a *Adapter) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	out, err := exec.CommandContext(ctx, a.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	).CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w\n%s", path, err, tail(out))
	}
	return parseProbeDuration(out)
}

func parseProbeDuration(out []byte) (time.Duration, error) {
	var info struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &info); err != nil {
		return 0, fmt.Errorf("decode ffprobe output: %w", err)
	}
	sec, err := strconv.ParseFloat(info.Format.Duration, 64)
	if err != nil || sec < 0 || math.IsInf(sec, 0) || math.IsNaN(sec) {
		return 0, fmt.Errorf("no usable duration in ffprobe output %q", info.Format.Duration)
	}
	return time.Duration(math.Round(sec * float64(time.Second))), nil
}

func fmtSeconds(d time.Duration) string {
	sec := float64(d) / float64(time.Second)
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

// escapeFilterPath escapes a path for use as a filtergraph option value.
func escapeFilterPath(p string) string {
	r := strings.NewReplacer(
		`\`, `\\\\`,
		`:`, `\\:`,
		`'`, `\\\'`,
		`,`, `\,`,
		`;`, `\;`,
		`[`, `\[`,
		`]`, `\]`,
	)
	return r.Replace(p)
}

// tail keeps the end of ffmpeg's output, where the actual error is.
func tail(b []byte) string {
	const limit = 2000
	if len(b) > limit {
		b = b[len(b)-limit:]
	}
	return string(b)
}
