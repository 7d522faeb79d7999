package timeline

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forPelevin/autoshort/internal/types"
)

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

type fakeEffects map[string]string

func (f fakeEffects) Resolve(text string) (*types.EffectAssignment, error) {
	if asset, ok := f[text]; ok {
		if asset == "" {
			return nil, types.ErrEffectAssetMissing
		}
		return &types.EffectAssignment{Keyword: text, AssetPath: asset}, nil
	}
	return nil, nil
}

func span(from, to float64) types.AudioSpan {
	return types.AudioSpan{Start: sec(from), End: sec(to)}
}

func sec(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }

func segs(texts ...string) []types.ScriptSegment {
	out := make([]types.ScriptSegment, 0, len(texts))
	for _, t := range texts {
		out = append(out, types.ScriptSegment{Text: t, MinDuration: 5, MaxDuration: 8})
	}
	return out
}

func newAssembler(r Rand) Assembler {
	return Assembler{Window: DefaultWindow, Rand: r, Log: zerolog.Nop()}
}

func TestAssemble_NoFootage(t *testing.T) {
	_, err := newAssembler(fixedRand(0)).Assemble(nil, segs("a"))
	assert.ErrorIs(t, err, types.ErrNoUsableFootage)

	_, err = newAssembler(fixedRand(0)).Assemble([]types.AudioSpan{span(3, 3)}, segs("a"))
	assert.ErrorIs(t, err, types.ErrNoUsableFootage)
}

func TestAssemble_RequiresRand(t *testing.T) {
	_, err := Assembler{}.Assemble([]types.AudioSpan{span(0, 10)}, segs("a"))
	assert.Error(t, err)
}

func TestAssemble_LengthIsMinOfSegmentsAndWindows(t *testing.T) {
	tests := []struct {
		name      string
		spans     []types.AudioSpan
		segments  int
		wantClips int
		exhausted bool
	}{
		{"plenty of footage", []types.AudioSpan{span(0, 60)}, 3, 3, false},
		{"exact fit", []types.AudioSpan{span(0, 15)}, 3, 3, false},
		{"short footage", []types.AudioSpan{span(0, 12)}, 3, 2, true},
		{"split spans sum", []types.AudioSpan{span(0, 7), span(10, 13)}, 3, 2, true},
		{"less than one window", []types.AudioSpan{span(0, 4)}, 2, 0, true},
		{"no segments", []types.AudioSpan{span(0, 30)}, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			texts := make([]string, tt.segments)
			for i := range texts {
				texts[i] = "line"
			}
			tl, err := newAssembler(fixedRand(0.5)).Assemble(tt.spans, segs(texts...))
			require.NoError(t, err)
			assert.Len(t, tl.Clips, tt.wantClips)

			var exhausted bool
			for _, w := range tl.Warnings {
				if errors.Is(w, types.ErrFootageExhausted) {
					exhausted = true
				}
			}
			assert.Equal(t, tt.exhausted, exhausted)
		})
	}
}

func TestAssemble_WindowsStraddleSpans(t *testing.T) {
	spans := []types.AudioSpan{span(0, 10), span(20, 35)}
	tl, err := newAssembler(fixedRand(0)).Assemble(spans, segs("a", "b", "c", "d"))
	require.NoError(t, err)
	require.Len(t, tl.Clips, 4)

	assert.Equal(t, []types.SourceRange{{Start: 0, End: sec(5)}}, tl.Clips[0].Sources)
	assert.Equal(t, []types.SourceRange{{Start: sec(5), End: sec(10)}}, tl.Clips[1].Sources)
	assert.Equal(t, []types.SourceRange{{Start: sec(20), End: sec(25)}}, tl.Clips[2].Sources)
	assert.Equal(t, []types.SourceRange{{Start: sec(25), End: sec(30)}}, tl.Clips[3].Sources)

	spans = []types.AudioSpan{span(0, 3), span(10, 14)}
	tl, err = newAssembler(fixedRand(0)).Assemble(spans, segs("a"))
	require.NoError(t, err)
	require.Len(t, tl.Clips, 1)
	assert.Equal(t, []types.SourceRange{
		{Start: 0, End: sec(3)},
		{Start: sec(10), End: sec(12)},
	}, tl.Clips[0].Sources)
	assert.Equal(t, DefaultWindow, tl.Clips[0].FootageDuration())
}

func TestAssemble_OrderFollowsScript(t *testing.T) {
	spans := []types.AudioSpan{span(0, 30)}
	tl, err := newAssembler(fixedRand(0)).Assemble(spans, segs("third", "first", "second"))
	require.NoError(t, err)
	got := make([]string, 0, len(tl.Clips))
	for i, c := range tl.Clips {
		assert.Equal(t, i, c.Index)
		got = append(got, c.Caption)
	}
	assert.Equal(t, []string{"third", "first", "second"}, got)
}

func TestAssemble_CaptionDurationSampling(t *testing.T) {
	spans := []types.AudioSpan{span(0, 30)}
	seg := []types.ScriptSegment{{Text: "x", MinDuration: 2, MaxDuration: 6}}

	tl, err := newAssembler(fixedRand(0)).Assemble(spans, seg)
	require.NoError(t, err)
	assert.Equal(t, sec(2), tl.Clips[0].CaptionDuration)

	tl, err = newAssembler(fixedRand(0.5)).Assemble(spans, seg)
	require.NoError(t, err)
	assert.Equal(t, sec(4), tl.Clips[0].CaptionDuration)

	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 100; i++ {
		tl, err = newAssembler(r).Assemble(spans, seg)
		require.NoError(t, err)
		d := tl.Clips[0].CaptionDuration
		require.GreaterOrEqual(t, d, sec(2))
		require.LessOrEqual(t, d, sec(6))
	}
}

func TestAssemble_Effects(t *testing.T) {
	a := newAssembler(fixedRand(0))
	a.Effects = fakeEffects{"boom": "sfx/explosion.wav", "broken": ""}

	tl, err := a.Assemble([]types.AudioSpan{span(0, 30)}, segs("boom", "quiet", "broken"))
	require.NoError(t, err)
	require.Len(t, tl.Clips, 3)

	require.NotNil(t, tl.Clips[0].Effect)
	assert.Equal(t, "sfx/explosion.wav", tl.Clips[0].Effect.AssetPath)
	assert.Nil(t, tl.Clips[1].Effect)
	assert.Nil(t, tl.Clips[2].Effect, "missing asset degrades to no effect")

	require.Len(t, tl.Warnings, 1)
	assert.ErrorIs(t, tl.Warnings[0], types.ErrEffectAssetMissing)
}

func TestAssemble_CuesParticipateInEffectMatch(t *testing.T) {
	a := newAssembler(fixedRand(0))
	var seen string
	a.Effects = resolverFunc(func(text string) (*types.EffectAssignment, error) {
		seen = text
		return nil, nil
	})
	_, err := a.Assemble([]types.AudioSpan{span(0, 10)}, []types.ScriptSegment{{Text: "hi", Cues: []string{"SFX: whoosh"}, MinDuration: 1, MaxDuration: 1}})
	require.NoError(t, err)
	assert.Equal(t, "hi SFX: whoosh", seen)
}

type resolverFunc func(string) (*types.EffectAssignment, error)

func (f resolverFunc) Resolve(text string) (*types.EffectAssignment, error) { return f(text) }

func TestSlice_Bounds(t *testing.T) {
	spans := []types.AudioSpan{span(1, 2), span(4, 6)}
	assert.Empty(t, slice(spans, sec(5), sec(6)))
	assert.Equal(t, []types.SourceRange{{Start: sec(4.5), End: sec(6)}}, slice(spans, sec(1.5), sec(10)))
}
