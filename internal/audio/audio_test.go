package audio

import (
	"context"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forPelevin/autoshort/internal/domain/silence"
)

func stereo(rate beep.SampleRate) beep.Format {
	return beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2}
}

// generated returns a buffer of n samples where sample i has value fn(i).
func generated(rate beep.SampleRate, n int, fn func(i int) float64) *beep.Buffer {
	buf := beep.NewBuffer(stereo(rate))
	i := 0
	buf.Append(beep.Take(n, beep.StreamerFunc(func(s [][2]float64) (int, bool) {
		for k := range s {
			v := fn(i)
			s[k] = [2]float64{v, v}
			i++
		}
		return len(s), true
	})))
	return buf
}

func drain(s beep.Streamer) [][2]float64 {
	var out [][2]float64
	tmp := make([][2]float64, 512)
	for {
		n, ok := s.Stream(tmp)
		out = append(out, tmp[:n]...)
		if !ok {
			return out
		}
	}
}

func writeWav(t *testing.T, path string, rate beep.SampleRate, channels int, dur time.Duration, value float64) {
	t.Helper()
	writePCM(t, path, beep.Format{SampleRate: rate, NumChannels: channels, Precision: 2}, rate.N(dur), func(int) float64 { return value })
}

// writePCM encodes n samples of fn as a WAV file in the given format.
func writePCM(t *testing.T, path string, format beep.Format, n int, fn func(i int) float64) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	i := 0
	src := beep.Take(n, beep.StreamerFunc(func(s [][2]float64) (int, bool) {
		for k := range s {
			v := fn(i)
			s[k] = [2]float64{v, v}
			i++
		}
		return len(s), true
	}))
	require.NoError(t, wav.Encode(f, src, format))
}

func readPCM(t *testing.T, path string) ([][2]float64, beep.Format) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	s, format, err := decodeWAV(f)
	require.NoError(t, err)
	return drain(s), format
}

func TestBed_LoopsShortMusic(t *testing.T) {
	const rate = beep.SampleRate(100)
	music := generated(rate, rate.N(3*time.Second), func(i int) float64 { return float64(i) / 300 })

	bed, err := Bed(music.Streamer(0, music.Len()), rate.N(10*time.Second), 0.3)
	require.NoError(t, err)
	out := drain(bed)

	// 3+3+3+1 seconds
	require.Len(t, out, 1000)
	for k, smp := range out {
		want := 0.3 * float64(k%300) / 300
		require.InDelta(t, want, smp[0], 1e-4, "sample %d", k)
	}
}

func TestBed_TruncatesLongMusic(t *testing.T) {
	const rate = beep.SampleRate(100)
	music := generated(rate, rate.N(20*time.Second), func(i int) float64 { return float64(i) / 2000 })

	bed, err := Bed(music.Streamer(0, music.Len()), rate.N(10*time.Second), 0.3)
	require.NoError(t, err)
	out := drain(bed)

	require.Len(t, out, 1000)
	assert.InDelta(t, 0.3*999/2000, out[999][0], 1e-4)
}

func TestBed_EmptyMusic(t *testing.T) {
	music := beep.NewBuffer(stereo(100))
	_, err := Bed(music.Streamer(0, 0), 10, 0.3)
	assert.Error(t, err)
}

func TestSplice_ReplacesClipSpans(t *testing.T) {
	const rate = beep.SampleRate(100)
	base := generated(rate, 100, func(int) float64 { return 1 })
	fx := generated(rate, 5, func(int) float64 { return 0.5 })
	long := generated(rate, 50, func(int) float64 { return -1 })

	out := drain(Splice(base, []Segment{
		{From: 60, To: 70, Source: long.Streamer(0, long.Len())},
		{From: 20, To: 40, Source: fx.Streamer(0, fx.Len())},
		{From: 65, To: 80, Source: fx.Streamer(0, fx.Len())}, // overlaps the earlier segment
	}))

	require.Len(t, out, 100)
	for k, smp := range out {
		var want float64
		switch {
		case k >= 20 && k < 25:
			want = 0.5
		case k >= 25 && k < 40:
			want = 0 // effect shorter than clip: padded with silence
		case k >= 60 && k < 70:
			want = -1 // longer effect is cut at the clip end
		case k >= 70 && k < 75:
			want = 0.5
		case k >= 75 && k < 80:
			want = 0
		default:
			want = 1
		}
		require.InDelta(t, want, smp[0], 1e-4, "sample %d", k)
	}
}

func TestFit(t *testing.T) {
	const rate = beep.SampleRate(100)
	s := generated(rate, 3, func(int) float64 { return 1 })
	assert.Len(t, drain(Fit(s.Streamer(0, 3), 10)), 10)
	assert.Len(t, drain(Fit(s.Streamer(0, 3), 2)), 2)
}

func TestMixer_Mix(t *testing.T) {
	dir := t.TempDir()
	const rate = beep.SampleRate(8000)
	music := filepath.Join(dir, "music.wav")
	voice := filepath.Join(dir, "voice.wav")
	fx := filepath.Join(dir, "boom.wav")
	writeWav(t, music, rate, 2, 3*time.Second, 0.5)
	writeWav(t, voice, rate, 1, 2*time.Second, 0.2)
	writeWav(t, fx, rate, 2, time.Second, -0.5)

	m := &Mixer{SampleRate: rate, MusicVolume: 0.3, Log: zerolog.Nop()}
	out := filepath.Join(dir, "mix.wav")
	err := m.Mix(context.Background(), MixSpec{
		Total:     10 * time.Second,
		Music:     music,
		Narration: voice,
		Clips: []ClipAudio{
			{Offset: 0, Duration: 5 * time.Second},
			{Offset: 5 * time.Second, Duration: 5 * time.Second, Effect: fx},
		},
	}, out)
	require.NoError(t, err)

	samples, format := readPCM(t, out)
	assert.Equal(t, rate, format.SampleRate)
	require.Len(t, samples, rate.N(10*time.Second))

	at := func(d time.Duration) float64 { return samples[rate.N(d)][0] }
	assert.InDelta(t, 0.15+0.2, at(time.Second), 1e-3, "music bed plus narration")
	assert.InDelta(t, 0.15, at(3500*time.Millisecond), 1e-3, "music bed after narration ends")
	assert.InDelta(t, -0.5, at(5500*time.Millisecond), 1e-3, "effect replaces the track")
	assert.InDelta(t, 0, at(7*time.Second), 1e-3, "effect padded with silence")
}

func TestMixer_UnreadableEffectKeepsTrack(t *testing.T) {
	dir := t.TempDir()
	const rate = beep.SampleRate(8000)
	music := filepath.Join(dir, "music.wav")
	writeWav(t, music, rate, 2, time.Second, 0.5)

	m := &Mixer{SampleRate: rate, MusicVolume: 0.3, Log: zerolog.Nop()}
	out := filepath.Join(dir, "mix.wav")
	err := m.Mix(context.Background(), MixSpec{
		Total: 2 * time.Second,
		Music: music,
		Clips: []ClipAudio{{Duration: 2 * time.Second, Effect: filepath.Join(dir, "missing.wav")}},
	}, out)
	require.NoError(t, err)
	_, err = os.Stat(out)
	require.NoError(t, err)
}

func TestMixer_Errors(t *testing.T) {
	dir := t.TempDir()
	m := NewMixer(zerolog.Nop())

	err := m.Mix(context.Background(), MixSpec{Total: 0, Music: "x.wav"}, filepath.Join(dir, "a.wav"))
	assert.Error(t, err)

	err = m.Mix(context.Background(), MixSpec{Total: time.Second, Music: filepath.Join(dir, "nope.wav")}, filepath.Join(dir, "b.wav"))
	assert.Error(t, err)

	_, err = LoadBuffer(filepath.Join(dir, "track.ogg"), DefaultSampleRate)
	assert.Error(t, err)
}

func TestWaveReader_ReadWaveform(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audio.wav")
	writeWav(t, path, 1000, 1, 1500*time.Millisecond, 0.25)

	w, err := WaveReader{}.ReadWaveform(path)
	require.NoError(t, err)
	assert.Equal(t, 1000, w.SampleRate)
	require.Len(t, w.Samples, 1500)
	assert.InDelta(t, 0.25, w.Samples[700], 1e-3)
	assert.Equal(t, 1500*time.Millisecond, w.Duration())
}

func TestDecodeWAV_FullScale(t *testing.T) {
	tests := []struct {
		name      string
		precision int
		channels  int
		value     float64
		delta     float64
	}{
		{"8-bit mono", 1, 1, 0.25, 1.0 / 128},
		{"16-bit mono", 2, 1, 0.25, 1e-4},
		{"16-bit stereo negative", 2, 2, -0.5, 1e-4},
		{"24-bit mono", 3, 1, 0.25, 1e-4},
		{"24-bit stereo negative", 3, 2, -0.5, 1e-4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "pcm.wav")
			format := beep.Format{SampleRate: 8000, NumChannels: tt.channels, Precision: tt.precision}
			writePCM(t, path, format, 800, func(int) float64 { return tt.value })

			samples, got := readPCM(t, path)
			assert.Equal(t, tt.precision, got.Precision)
			require.Len(t, samples, 800)
			assert.InDelta(t, tt.value, samples[400][0], tt.delta)
			assert.InDelta(t, tt.value, samples[400][1], tt.delta)
		})
	}
}

// tone returns a 400 Hz sine whose RMS level is db dBFS. At 16 kHz every
// 10ms detection window holds exactly four periods.
func tone(db float64) func(i int) float64 {
	amp := math.Sqrt2 * math.Pow(10, db/20)
	return func(i int) float64 { return amp * math.Sin(2*math.Pi*400*float64(i)/16000) }
}

func TestWaveReader_LevelsMatchSilenceThreshold(t *testing.T) {
	format := beep.Format{SampleRate: 16000, NumChannels: 1, Precision: 2}
	dir := t.TempDir()

	quiet := filepath.Join(dir, "quiet-speech.wav")
	writePCM(t, quiet, format, 3*16000, tone(-37))
	w, err := WaveReader{}.ReadWaveform(quiet)
	require.NoError(t, err)
	assert.InDelta(t, -37, silence.DBFS(w.Samples), 0.05)

	spans := silence.Detect(w, silence.DefaultOptions())
	require.Len(t, spans, 1, "audio above the -40 dBFS threshold must be kept")
	assert.Equal(t, time.Duration(0), spans[0].Start)
	assert.Equal(t, 3*time.Second, spans[0].End)

	hum := filepath.Join(dir, "hum.wav")
	writePCM(t, hum, format, 3*16000, tone(-43))
	w, err = WaveReader{}.ReadWaveform(hum)
	require.NoError(t, err)
	assert.InDelta(t, -43, silence.DBFS(w.Samples), 0.05)
	assert.Empty(t, silence.Detect(w, silence.DefaultOptions()))
}

func TestMixer_MusicLevelFrom24BitAsset(t *testing.T) {
	dir := t.TempDir()
	const rate = beep.SampleRate(8000)
	music := filepath.Join(dir, "music.wav")
	writePCM(t, music, beep.Format{SampleRate: rate, NumChannels: 2, Precision: 3}, rate.N(time.Second), func(int) float64 { return 0.8 })

	m := &Mixer{SampleRate: rate, MusicVolume: 0.3, Log: zerolog.Nop()}
	out := filepath.Join(dir, "mix.wav")
	require.NoError(t, m.Mix(context.Background(), MixSpec{Total: 2 * time.Second, Music: music}, out))

	samples, _ := readPCM(t, out)
	require.Len(t, samples, rate.N(2*time.Second))
	assert.InDelta(t, 0.3*0.8, samples[rate.N(500*time.Millisecond)][0], 1e-3)
	assert.InDelta(t, 0.3*0.8, samples[rate.N(1500*time.Millisecond)][1], 1e-3, "looped music keeps its level")
}

func TestLibrary_Pick(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.mp3", "a.wav", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.mp3"), 0o755))

	lib := Library{Dir: dir}
	tracks, err := lib.Tracks()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.wav"), filepath.Join(dir, "b.mp3")}, tracks)

	got, err := lib.Pick(rand.New(rand.NewPCG(3, 4)))
	require.NoError(t, err)
	assert.Contains(t, tracks, got)

	_, err = Library{Dir: t.TempDir()}.Pick(rand.New(rand.NewPCG(1, 1)))
	assert.ErrorIs(t, err, ErrNoMusic)
}
