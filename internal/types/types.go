package types

import "time"

// Waveform is decoded mono audio with samples in [-1, 1].
type Waveform struct {
	SampleRate int
	Samples    []float64
}

func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return SampleOffset(len(w.Samples), w.SampleRate)
}

// SampleOffset converts a sample index to a time offset without float rounding.
func SampleOffset(n, sampleRate int) time.Duration {
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}

// AudioSpan is a non-silent region of the source recording.
type AudioSpan struct {
	Start time.Duration
	End   time.Duration
}

func (s AudioSpan) Duration() time.Duration { return s.End - s.Start }

// ScriptSegment is one caption/narration unit parsed from a script line.
// Durations are seconds as written in the script annotations.
type ScriptSegment struct {
	Text        string
	MinDuration float64
	MaxDuration float64
	Cues        []string
}

type EffectAssignment struct {
	Keyword   string
	AssetPath string
}

// SourceRange is a range of the source video.
type SourceRange struct {
	Start time.Duration
	End   time.Duration
}

type Clip struct {
	Index           int
	Sources         []SourceRange
	Caption         string
	CaptionDuration time.Duration
	Effect          *EffectAssignment
}

func (c Clip) FootageDuration() time.Duration {
	var d time.Duration
	for _, s := range c.Sources {
		d += s.End - s.Start
	}
	return d
}

// Duration is the length of the composed clip: footage and caption are layered,
// so the longer one wins.
func (c Clip) Duration() time.Duration {
	f := c.FootageDuration()
	if c.CaptionDuration > f {
		return c.CaptionDuration
	}
	return f
}

// Timeline is the ordered clip sequence of one run plus its audio references.
type Timeline struct {
	Clips     []Clip
	Music     string
	Narration string

	// Warnings carries recoverable conditions (ErrFootageExhausted,
	// ErrEffectAssetMissing, ...) observed while building the timeline.
	Warnings []error
}

func (t Timeline) Duration() time.Duration {
	var d time.Duration
	for _, c := range t.Clips {
		d += c.Duration()
	}
	return d
}

// Offsets returns the start of each clip on the output timeline.
func (t Timeline) Offsets() []time.Duration {
	out := make([]time.Duration, len(t.Clips))
	var at time.Duration
	for i, c := range t.Clips {
		out[i] = at
		at += c.Duration()
	}
	return out
}

// EncodeJob is everything the encoder needs to render a timeline.
type EncodeJob struct {
	Video     string
	Audio     string
	Subtitles string
	Clips     []Clip
	Out       string
}
