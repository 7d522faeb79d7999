package silence

import (
	"math"
	"time"

	"github.com/forPelevin/autoshort/internal/types"
)

const (
	DefaultMinSilenceLen = 500 * time.Millisecond
	DefaultThreshold     = -40.0
	DefaultWindow        = 10 * time.Millisecond
)

// Options controls silence detection. Threshold is in dBFS.
type Options struct {
	MinSilenceLen time.Duration
	Threshold     float64
	Window        time.Duration
}

func DefaultOptions() Options {
	return Options{
		MinSilenceLen: DefaultMinSilenceLen,
		Threshold:     DefaultThreshold,
		Window:        DefaultWindow,
	}
}

func (o Options) withDefaults() Options {
	if o.MinSilenceLen <= 0 {
		o.MinSilenceLen = DefaultMinSilenceLen
	}
	if o.Threshold == 0 {
		o.Threshold = DefaultThreshold
	}
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	return o
}

type frame struct {
	start, end int // sample indices, end exclusive
	loud       bool
}

// Detect returns the non-silent spans of w in order.
//
// Audio is measured in consecutive windows; a run of quiet windows counts as
// silence only when it lasts at least MinSilenceLen. Each remaining region is
// trimmed to its first and last loud window.
func Detect(w types.Waveform, opts Options) []types.AudioSpan {
	if w.SampleRate <= 0 || len(w.Samples) == 0 {
		return nil
	}
	opts = opts.withDefaults()

	frames := measure(w, opts)

	var out []types.AudioSpan
	regionStart := -1 // index of the first loud frame in the open region
	lastLoud := -1
	quietRun := 0 // samples of consecutive quiet frames

	minSilence := int(int64(opts.MinSilenceLen) * int64(w.SampleRate) / int64(time.Second))
	if minSilence < 1 {
		minSilence = 1
	}

	flush := func() {
		if regionStart < 0 {
			return
		}
		out = append(out, types.AudioSpan{
			Start: types.SampleOffset(frames[regionStart].start, w.SampleRate),
			End:   types.SampleOffset(frames[lastLoud].end, w.SampleRate),
		})
		regionStart, lastLoud = -1, -1
	}

	for i, f := range frames {
		if f.loud {
			if regionStart < 0 {
				regionStart = i
			}
			lastLoud = i
			quietRun = 0
			continue
		}
		quietRun += f.end - f.start
		if quietRun >= minSilence {
			flush()
		}
	}
	flush()
	return out
}

func measure(w types.Waveform, opts Options) []frame {
	size := int(int64(opts.Window) * int64(w.SampleRate) / int64(time.Second))
	if size < 1 {
		size = 1
	}
	out := make([]frame, 0, len(w.Samples)/size+1)
	for start := 0; start < len(w.Samples); start += size {
		end := start + size
		if end > len(w.Samples) {
			end = len(w.Samples)
		}
		out = append(out, frame{
			start: start,
			end:   end,
			loud:  DBFS(w.Samples[start:end]) >= opts.Threshold,
		})
	}
	return out
}

// DBFS returns the RMS level of samples relative to full scale.
// Digital silence yields -Inf.
func DBFS(samples []float64) float64 {
	if len(samples) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms)
}
