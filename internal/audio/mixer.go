package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/wav"
	"github.com/rs/zerolog"
)

const (
	DefaultSampleRate  beep.SampleRate = 44100
	DefaultMusicVolume                 = 0.3
)

// ClipAudio places one clip on the output timeline. Effect is an optional
// audio file that replaces the mixed track for the clip's span.
type ClipAudio struct {
	Offset   time.Duration
	Duration time.Duration
	Effect   string
}

type MixSpec struct {
	Total     time.Duration
	Music     string
	Narration string
	Clips     []ClipAudio
}

type Mixer struct {
	SampleRate  beep.SampleRate
	MusicVolume float64
	Log         zerolog.Logger
}

func NewMixer(log zerolog.Logger) *Mixer {
	return &Mixer{SampleRate: DefaultSampleRate, MusicVolume: DefaultMusicVolume, Log: log}
}

func (m *Mixer) format() beep.Format {
	rate := m.SampleRate
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	return beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2}
}

// Mix renders the audio track of a timeline to a WAV file at outPath:
// attenuated music looped or cut to Total, narration layered on top, and
// effect audio replacing the track wherever a clip carries one.
func (m *Mixer) Mix(ctx context.Context, plan MixSpec, outPath string) (err error) {
	format := m.format()
	n := format.SampleRate.N(plan.Total)
	if n <= 0 {
		return fmt.Errorf("mix: total duration %s is empty", plan.Total)
	}
	volume := m.MusicVolume
	if volume <= 0 {
		volume = DefaultMusicVolume
	}

	music, err := LoadBuffer(plan.Music, format.SampleRate)
	if err != nil {
		return fmt.Errorf("load music: %w", err)
	}
	bed, err := Bed(music.Streamer(0, music.Len()), n, volume)
	if err != nil {
		return fmt.Errorf("music %s: %w", plan.Music, err)
	}

	tracks := []beep.Streamer{bed}
	if plan.Narration != "" {
		voice, err := LoadBuffer(plan.Narration, format.SampleRate)
		if err != nil {
			return fmt.Errorf("load narration: %w", err)
		}
		tracks = append(tracks, Fit(voice.Streamer(0, voice.Len()), n))
		m.Log.Debug().Dur("narration", format.SampleRate.D(voice.Len())).Dur("total", plan.Total).Msg("narration layered")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	base := beep.NewBuffer(format)
	base.Append(beep.Take(n, beep.Mix(tracks...)))

	var segs []Segment
	for i, c := range plan.Clips {
		if c.Effect == "" {
			continue
		}
		fx, err := LoadBuffer(c.Effect, format.SampleRate)
		if err != nil {
			m.Log.Warn().Err(err).Int("clip", i).Str("effect", c.Effect).Msg("effect audio unreadable, keeping mixed track")
			continue
		}
		segs = append(segs, Segment{
			From:   format.SampleRate.N(c.Offset),
			To:     format.SampleRate.N(c.Offset + c.Duration),
			Source: fx.Streamer(0, fx.Len()),
		})
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(outPath)
		}
	}()
	if err := wav.Encode(f, Splice(base, segs), format); err != nil {
		return fmt.Errorf("encode mix: %w", err)
	}
	m.Log.Info().Str("path", outPath).Dur("duration", plan.Total).Int("effects", len(segs)).Msg("audio mixed")
	return nil
}

// Bed attenuates music to volume and loops or truncates it to exactly n samples.
func Bed(music beep.StreamSeeker, n int, volume float64) (beep.Streamer, error) {
	if music.Len() == 0 {
		return nil, errors.New("music has no samples")
	}
	if err := music.Seek(0); err != nil {
		return nil, err
	}
	gain := &effects.Gain{Streamer: beep.Loop(-1, music), Gain: volume - 1}
	return beep.Take(n, gain), nil
}

// Fit trims s to n samples or pads it with silence up to n.
func Fit(s beep.Streamer, n int) beep.Streamer {
	return beep.Take(n, beep.Seq(s, beep.Silence(-1)))
}

// Segment replaces samples [From, To) of a track with Source.
type Segment struct {
	From, To int
	Source   beep.Streamer
}

// Splice streams base with every segment's span replaced by its source,
// trimmed or silence-padded to the span length. Overlapping segments are
// clipped so that earlier ones win.
func Splice(base *beep.Buffer, segs []Segment) beep.Streamer {
	total := base.Len()
	sorted := append([]Segment(nil), segs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].From < sorted[j].From })

	var parts []beep.Streamer
	at := 0
	for _, sg := range sorted {
		from := max(sg.From, at)
		to := min(sg.To, total)
		if from >= to {
			continue
		}
		if from > at {
			parts = append(parts, base.Streamer(at, from))
		}
		parts = append(parts, Fit(sg.Source, to-from))
		at = to
	}
	if at < total {
		parts = append(parts, base.Streamer(at, total))
	}
	return beep.Seq(parts...)
}
