package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/forPelevin/autoshort/internal/audio"
	"github.com/forPelevin/autoshort/internal/domain/script"
	"github.com/forPelevin/autoshort/internal/domain/silence"
	"github.com/forPelevin/autoshort/internal/domain/subtitles"
	"github.com/forPelevin/autoshort/internal/domain/timeline"
	"github.com/forPelevin/autoshort/internal/ports"
	"github.com/forPelevin/autoshort/internal/types"
)

// Rand drives caption durations and music selection.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

type Deps struct {
	Media    ports.MediaTool
	Script   ports.ScriptWriter
	Narrator ports.Narrator
	Waveform ports.WaveformReader
	Mixer    ports.AudioMixer
	Music    ports.MusicLibrary
	Effects  timeline.EffectResolver
	Rand     Rand
	Log      zerolog.Logger
}

type Usecase struct{ d Deps }

func New(d Deps) Usecase { return Usecase{d: d} }

type NarrationPolicy string

const (
	NarrationAbort    NarrationPolicy = "abort"
	NarrationContinue NarrationPolicy = "continue"
)

type Timeouts struct {
	Script    time.Duration
	Narration time.Duration
	// Encode also bounds audio extraction from the source video.
	Encode time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Script:    90 * time.Second,
		Narration: 2 * time.Minute,
		Encode:    30 * time.Minute,
	}
}

type Input struct {
	Video   string
	Brief   string
	WorkDir string
	// Out is where the encoder writes the final video.
	Out string

	Silence   silence.Options
	Window    time.Duration
	Timeouts  Timeouts
	Narration NarrationPolicy
}

type Result struct {
	Script   string
	Segments []types.ScriptSegment
	Timeline types.Timeline
	Warnings []string
}

// Run executes one assembly: script, narration, footage analysis, timeline,
// captions, audio mix and encode. Any stage failure aborts the run with a
// *types.StageError.
func (u Usecase) Run(ctx context.Context, in Input) (Result, error) {
	if u.d.Rand == nil {
		return Result{}, errors.New("usecase: random source is required")
	}
	if in.Timeouts == (Timeouts{}) {
		in.Timeouts = DefaultTimeouts()
	}
	log := u.d.Log
	var res Result

	// script
	raw, err := withTimeout(ctx, in.Timeouts.Script, func(ctx context.Context) (string, error) {
		return u.d.Script.WriteScript(ctx, in.Brief)
	})
	if err != nil {
		return res, types.NewStageError(types.StageScript, types.ErrScriptGenerationFailed, err)
	}
	res.Script = raw
	res.Segments = script.ParseWithReport(raw, func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		log.Warn().Str("stage", string(types.StageScript)).Msg(msg)
		res.Warnings = append(res.Warnings, msg)
	})
	if len(res.Segments) == 0 {
		return res, types.NewStageError(types.StageScript, types.ErrScriptGenerationFailed, errors.New("script has no usable lines"))
	}
	log.Info().Int("segments", len(res.Segments)).Msg("script parsed")

	// narration
	narration := filepath.Join(in.WorkDir, "narration.mp3")
	_, err = withTimeout(ctx, in.Timeouts.Narration, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, u.d.Narrator.Narrate(ctx, script.Text(res.Segments), narration)
	})
	if err != nil {
		if in.Narration != NarrationContinue {
			return res, types.NewStageError(types.StageNarration, types.ErrNarrationFailed, err)
		}
		w := fmt.Errorf("%w: %v", types.ErrNarrationFailed, err)
		log.Warn().Err(w).Msg("continuing without narration")
		res.Warnings = append(res.Warnings, w.Error())
		narration = ""
	}

	// footage
	wav := filepath.Join(in.WorkDir, "source.wav")
	_, err = withTimeout(ctx, in.Timeouts.Encode, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, u.d.Media.ExtractAudio(ctx, in.Video, wav)
	})
	if err != nil {
		return res, types.NewStageError(types.StageDecode, types.ErrDecodeFailed, err)
	}
	wave, err := u.d.Waveform.ReadWaveform(wav)
	if err != nil {
		return res, types.NewStageError(types.StageDecode, types.ErrDecodeFailed, err)
	}
	spans := silence.Detect(wave, in.Silence)
	log.Info().Int("spans", len(spans)).Dur("source", wave.Duration()).Msg("non-silent spans detected")

	// timeline
	asm := timeline.Assembler{Window: in.Window, Rand: u.d.Rand, Effects: u.d.Effects, Log: log}
	tl, err := asm.Assemble(spans, res.Segments)
	if err != nil {
		return res, types.NewStageError(types.StageTimeline, types.ErrNoUsableFootage, err)
	}
	if len(tl.Clips) == 0 {
		return res, types.NewStageError(types.StageTimeline, types.ErrNoUsableFootage,
			fmt.Errorf("%s of speech is shorter than one clip window", totalSpan(spans)))
	}
	for _, w := range tl.Warnings {
		res.Warnings = append(res.Warnings, w.Error())
	}

	tl.Music, err = u.d.Music.Pick(u.d.Rand)
	if err != nil {
		return res, types.NewStageError(types.StageMix, types.ErrMixFailed, err)
	}
	tl.Narration = narration
	res.Timeline = tl
	log.Info().Int("clips", len(tl.Clips)).Dur("duration", tl.Duration()).Str("music", tl.Music).Msg("timeline assembled")

	// captions
	captions := filepath.Join(in.WorkDir, "captions.ass")
	if err := os.WriteFile(captions, []byte(subtitles.RenderCaptionsASS(tl)), 0o644); err != nil {
		return res, types.NewStageError(types.StageEncode, types.ErrEncodeFailed, err)
	}

	// audio
	mixed := filepath.Join(in.WorkDir, "mix.wav")
	if err := u.d.Mixer.Mix(ctx, MixSpec(tl), mixed); err != nil {
		return res, types.NewStageError(types.StageMix, types.ErrMixFailed, err)
	}

	// encode
	_, err = withTimeout(ctx, in.Timeouts.Encode, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, u.d.Media.Encode(ctx, types.EncodeJob{
			Video:     in.Video,
			Audio:     mixed,
			Subtitles: captions,
			Clips:     tl.Clips,
			Out:       in.Out,
		})
	})
	if err != nil {
		return res, types.NewStageError(types.StageEncode, types.ErrEncodeFailed, err)
	}

	got, err := withTimeout(ctx, in.Timeouts.Encode, func(ctx context.Context) (time.Duration, error) {
		return u.d.Media.ProbeDuration(ctx, in.Out)
	})
	if err != nil {
		return res, types.NewStageError(types.StageEncode, types.ErrEncodeFailed, fmt.Errorf("read output duration: %w", err))
	}
	if want := tl.Duration(); (got - want).Abs() > OutputSlack {
		return res, types.NewStageError(types.StageEncode, types.ErrEncodeFailed,
			fmt.Errorf("output lasts %s, timeline is %s", got, want))
	}
	log.Info().Dur("duration", got).Msg("output verified")
	return res, nil
}

// OutputSlack is how far the encoded duration may drift from the timeline:
// one frame at 24 fps plus one AAC frame of encoder padding.
const OutputSlack = 42*time.Millisecond + 24*time.Millisecond

// MixSpec lays the timeline's clips out on the output audio track.
func MixSpec(tl types.Timeline) audio.MixSpec {
	offsets := tl.Offsets()
	spec := audio.MixSpec{
		Total:     tl.Duration(),
		Music:     tl.Music,
		Narration: tl.Narration,
		Clips:     make([]audio.ClipAudio, len(tl.Clips)),
	}
	for i, c := range tl.Clips {
		spec.Clips[i] = audio.ClipAudio{Offset: offsets[i], Duration: c.Duration()}
		if c.Effect != nil {
			spec.Clips[i].Effect = c.Effect.AssetPath
		}
	}
	return spec
}

func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	v, err := fn(ctx)
	if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		err = fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return v, err
}

func totalSpan(spans []types.AudioSpan) time.Duration {
	var d time.Duration
	for _, s := range spans {
		d += s.Duration()
	}
	return d
}
