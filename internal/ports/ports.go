package ports

import (
	"context"
	"time"

	"github.com/forPelevin/autoshort/internal/audio"
	"github.com/forPelevin/autoshort/internal/types"
)

// MediaTool decodes the source and encodes the final short. ProbeDuration is
// used to check the encoded output against the timeline.
type MediaTool interface {
	ExtractAudio(ctx context.Context, inVideo, outWav string) error
	ProbeDuration(ctx context.Context, path string) (time.Duration, error)
	Encode(ctx context.Context, job types.EncodeJob) error
}

// ScriptWriter turns a content brief into a raw annotated script.
type ScriptWriter interface {
	WriteScript(ctx context.Context, brief string) (string, error)
}

// Narrator synthesizes speech for text and writes it to outPath.
type Narrator interface {
	Narrate(ctx context.Context, text, outPath string) error
}

type WaveformReader interface {
	ReadWaveform(path string) (types.Waveform, error)
}

type AudioMixer interface {
	Mix(ctx context.Context, spec audio.MixSpec, outPath string) error
}

type MusicLibrary interface {
	Pick(r audio.Picker) (string, error)
}
