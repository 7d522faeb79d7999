package timeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/forPelevin/autoshort/internal/types"
)

const DefaultWindow = 5 * time.Second

// Rand is the random source used for caption durations. *rand.Rand from
// math/rand/v2 satisfies it.
type Rand interface {
	Float64() float64
}

type EffectResolver interface {
	Resolve(text string) (*types.EffectAssignment, error)
}

type Assembler struct {
	// Window is the amount of footage each script segment draws from the
	// concatenated non-silent spans.
	Window  time.Duration
	Rand    Rand
	Effects EffectResolver
	Log     zerolog.Logger
}

// Assemble zips script segments with fixed-width windows of the non-silent
// footage. Clip i always uses window i, so clip order is script order.
//
// When there is not enough footage for every segment, the script is
// truncated and an ErrFootageExhausted warning is attached to the timeline.
func (a Assembler) Assemble(spans []types.AudioSpan, segs []types.ScriptSegment) (types.Timeline, error) {
	window := a.Window
	if window <= 0 {
		window = DefaultWindow
	}
	if a.Rand == nil {
		return types.Timeline{}, errors.New("timeline: random source is required")
	}

	var footage time.Duration
	for _, s := range spans {
		if s.End > s.Start {
			footage += s.End - s.Start
		}
	}
	if footage <= 0 {
		return types.Timeline{}, types.ErrNoUsableFootage
	}

	available := int(footage / window)
	n := len(segs)
	var tl types.Timeline
	if n > available {
		n = available
		w := fmt.Errorf("%w: %d segments requested, footage (%s) covers %d windows of %s",
			types.ErrFootageExhausted, len(segs), footage, available, window)
		tl.Warnings = append(tl.Warnings, w)
		a.Log.Warn().Err(w).Msg("truncating script to available footage")
	}

	tl.Clips = make([]types.Clip, 0, n)
	for i := 0; i < n; i++ {
		seg := segs[i]
		clip := types.Clip{
			Index:           i,
			Sources:         slice(spans, time.Duration(i)*window, time.Duration(i+1)*window),
			Caption:         seg.Text,
			CaptionDuration: a.sampleDuration(seg),
		}

		fx, err := a.resolveEffect(seg)
		if err != nil {
			tl.Warnings = append(tl.Warnings, fmt.Errorf("clip %d: %w", i, err))
			a.Log.Warn().Err(err).Int("clip", i).Msg("dropping sound effect")
		}
		clip.Effect = fx

		tl.Clips = append(tl.Clips, clip)
	}
	return tl, nil
}

func (a Assembler) sampleDuration(seg types.ScriptSegment) time.Duration {
	lo, hi := seg.MinDuration, seg.MaxDuration
	if hi < lo {
		lo, hi = hi, lo
	}
	sec := lo + a.Rand.Float64()*(hi-lo)
	return time.Duration(sec * float64(time.Second))
}

func (a Assembler) resolveEffect(seg types.ScriptSegment) (*types.EffectAssignment, error) {
	if a.Effects == nil {
		return nil, nil
	}
	text := seg.Text
	for _, c := range seg.Cues {
		text += " " + c
	}
	return a.Effects.Resolve(text)
}

// slice maps the range [from, to) of the concatenated spans back to ranges of
// the source recording. A window may straddle several spans.
func slice(spans []types.AudioSpan, from, to time.Duration) []types.SourceRange {
	var out []types.SourceRange
	var at time.Duration // start of the current span on the concatenated axis
	for _, s := range spans {
		d := s.End - s.Start
		if d <= 0 {
			continue
		}
		spanFrom, spanTo := at, at+d
		at = spanTo
		if spanTo <= from {
			continue
		}
		if spanFrom >= to {
			break
		}
		lo := max(from, spanFrom)
		hi := min(to, spanTo)
		out = append(out, types.SourceRange{
			Start: s.Start + (lo - spanFrom),
			End:   s.Start + (hi - spanFrom),
		})
	}
	return out
}
