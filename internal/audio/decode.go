package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/wav"

	"github.com/forPelevin/autoshort/internal/types"
)

var ErrUnsupportedFormat = errors.New("unsupported audio format")

// WaveReader decodes WAV files into mono waveforms for silence detection.
type WaveReader struct{}

// ReadWaveform decodes a WAV file, averaging channels to mono.
func (WaveReader) ReadWaveform(path string) (types.Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Waveform{}, err
	}
	defer f.Close()

	s, format, err := decodeWAV(f)
	if err != nil {
		return types.Waveform{}, fmt.Errorf("decode wav %s: %w", path, err)
	}
	defer s.Close()

	out := types.Waveform{SampleRate: int(format.SampleRate)}
	if n := s.Len(); n > 0 {
		out.Samples = make([]float64, 0, n)
	}
	buf := make([][2]float64, 4096)
	for {
		n, ok := s.Stream(buf)
		for _, smp := range buf[:n] {
			if format.NumChannels == 1 {
				out.Samples = append(out.Samples, smp[0])
				continue
			}
			out.Samples = append(out.Samples, (smp[0]+smp[1])/2)
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return types.Waveform{}, fmt.Errorf("read wav %s: %w", path, err)
	}
	return out, nil
}

// LoadBuffer decodes a WAV or MP3 file fully into memory at the given sample
// rate. The file is closed before returning.
func LoadBuffer(path string, rate beep.SampleRate) (*beep.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		s      beep.StreamSeekCloser
		format beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		s, format, err = decodeWAV(f)
	case ".mp3":
		s, format, err = mp3.Decode(f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	defer s.Close()

	var src beep.Streamer = s
	if format.SampleRate != rate {
		src = beep.Resample(4, format.SampleRate, rate, s)
	}
	buf := beep.NewBuffer(beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2})
	buf.Append(src)
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return buf, nil
}

// decodeWAV wraps wav.Decode so signed PCM comes back at full scale.
// beep v1.4.1 divides 16-bit samples by 2^16-1 and 24-bit samples by 2^24-1,
// leaving every sample 6 dB below its true level; 8-bit is unaffected.
func decodeWAV(r io.Reader) (beep.StreamSeekCloser, beep.Format, error) {
	s, format, err := wav.Decode(r)
	if err != nil {
		return nil, format, err
	}
	if g := pcmGain(format.Precision); g != 1 {
		s = &scaled{StreamSeekCloser: s, gain: g}
	}
	return s, format, nil
}

func pcmGain(precision int) float64 {
	switch precision {
	case 2:
		return (1<<16 - 1) / float64(1<<15)
	case 3:
		return (1<<24 - 1) / float64(1<<23)
	}
	return 1
}

type scaled struct {
	beep.StreamSeekCloser
	gain float64
}

func (s *scaled) Stream(samples [][2]float64) (int, bool) {
	n, ok := s.StreamSeekCloser.Stream(samples)
	for i := range samples[:n] {
		samples[i][0] *= s.gain
		samples[i][1] *= s.gain
	}
	return n, ok
}
