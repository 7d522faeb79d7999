package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/forPelevin/autoshort/internal/audio"
	"github.com/forPelevin/autoshort/internal/domain/effects"
	"github.com/forPelevin/autoshort/internal/domain/silence"
	"github.com/forPelevin/autoshort/internal/ports"
	"github.com/forPelevin/autoshort/internal/ports/adapters/elevenlabs"
	"github.com/forPelevin/autoshort/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/autoshort/internal/ports/adapters/openrouter"
	"github.com/forPelevin/autoshort/internal/types"
	"github.com/forPelevin/autoshort/internal/usecase"
)

type Config struct {
	OutDir string
	// CacheDir holds per-run work directories. If empty, defaults to ".cache".
	CacheDir   string
	MusicDir   string
	EffectsDir string
	Effects    effects.Table

	Window      time.Duration
	Silence     silence.Options
	Timeouts    usecase.Timeouts
	MusicVolume float64

	// NarrationOnFailure is "abort" (default) or "continue".
	NarrationOnFailure string
	// Seed makes runs reproducible when non-zero.
	Seed uint64

	FFmpegPath  string
	FFprobePath string

	OpenRouterAPIKey       string
	OpenRouterModel        string
	OpenRouterBaseURL      string
	OpenRouterAllowedHosts []string

	ElevenLabsAPIKey       string
	ElevenLabsVoiceID      string
	ElevenLabsModel        string
	ElevenLabsBaseURL      string
	ElevenLabsAllowedHosts []string

	Log zerolog.Logger
}

func (c Config) narrationPolicy() usecase.NarrationPolicy {
	if c.NarrationOnFailure == "" {
		return usecase.NarrationAbort
	}
	return usecase.NarrationPolicy(strings.ToLower(c.NarrationOnFailure))
}

func (c Config) Validate() error {
	switch c.narrationPolicy() {
	case usecase.NarrationAbort, usecase.NarrationContinue:
	default:
		return fmt.Errorf("narration on_failure must be abort or continue, got %q", c.NarrationOnFailure)
	}
	if c.MusicDir == "" {
		return errors.New("music dir is required")
	}
	if st, err := os.Stat(c.MusicDir); err != nil {
		return fmt.Errorf("stat music dir: %w", err)
	} else if !st.IsDir() {
		return fmt.Errorf("music dir %s is not a directory", c.MusicDir)
	}
	if c.Window < 0 {
		return errors.New("clip window must be >= 0")
	}
	if c.Silence.Threshold > 0 {
		return errors.New("silence threshold must be <= 0 dBFS")
	}
	if c.MusicVolume < 0 || c.MusicVolume > 1 {
		return errors.New("music volume must be within [0, 1]")
	}
	if c.OpenRouterAPIKey == "" {
		return errors.New("OPENROUTER_API_KEY is required")
	}
	if c.ElevenLabsAPIKey == "" && c.narrationPolicy() == usecase.NarrationAbort {
		return errors.New("ELEVENLABS_API_KEY is required unless narration on_failure is continue")
	}
	if err := openrouter.ValidateBaseURL(c.OpenRouterBaseURL, c.OpenRouterAllowedHosts); err != nil {
		return err
	}
	return elevenlabs.Endpoint.Validate(c.ElevenLabsBaseURL, c.ElevenLabsAllowedHosts)
}

// Result is the tagged outcome of one AssembleShort call.
type Result struct {
	OK         bool
	OutputPath string
	Script     string
	Warnings   []string
	// Stage and Message describe a failure.
	Stage   types.Stage
	Message string
}

type runner interface {
	Run(ctx context.Context, in usecase.Input) (usecase.Result, error)
}

type Pipeline struct {
	cfg     Config
	log     zerolog.Logger
	newDeps func() usecase.Deps
	run     func(d usecase.Deps) runner
	now     func() time.Time
}

// New validates cfg and wires the adapters. Missing effect assets are logged
// and degrade to clips without effects.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Effects == nil {
		cfg.Effects = effects.DefaultTable
	}
	log := cfg.Log

	resolver, problems := effects.LoadDir(cfg.EffectsDir, cfg.Effects)
	for _, p := range problems {
		log.Warn().Err(p).Msg("sound effect unavailable")
	}

	media := ffmpeg.New(cfg.FFmpegPath, cfg.FFprobePath)
	writer := openrouter.New(cfg.OpenRouterAPIKey, cfg.OpenRouterModel, cfg.OpenRouterBaseURL, cfg.Effects.Keywords())
	narrator := elevenlabs.New(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID, cfg.ElevenLabsModel, cfg.ElevenLabsBaseURL, log)
	mixer := audio.NewMixer(log)
	if cfg.MusicVolume > 0 {
		mixer.MusicVolume = cfg.MusicVolume
	}

	p := &Pipeline{cfg: cfg, log: log, now: time.Now}
	p.newDeps = func() usecase.Deps {
		// *rand.Rand is not safe for concurrent use: one per run.
		src := rand.NewPCG(cfg.Seed, cfg.Seed)
		if cfg.Seed == 0 {
			src = rand.NewPCG(rand.Uint64(), rand.Uint64())
		}
		return usecase.Deps{
			Media:    media,
			Script:   writer,
			Narrator: narrator,
			Waveform: audio.WaveReader{},
			Mixer:    mixer,
			Music:    audio.Library{Dir: cfg.MusicDir},
			Effects:  resolver,
			Rand:     rand.New(src),
			Log:      log,
		}
	}
	p.run = func(d usecase.Deps) runner { return usecase.New(d) }
	return p, nil
}

// AssembleShort produces one short from a source video and a content
// description. It never panics; failures are reported in the Result.
func (p *Pipeline) AssembleShort(ctx context.Context, inputVideo, description string) (res Result) {
	runID := uuid.NewString()
	log := p.log.With().Str("run", runID).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("run panicked")
			res = Result{Message: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	if strings.TrimSpace(description) == "" {
		return Result{Message: "content description is empty"}
	}
	if _, err := os.Stat(inputVideo); err != nil {
		return Result{Message: fmt.Sprintf("stat input: %v", err)}
	}

	base := p.cfg.CacheDir
	if base == "" {
		base = ".cache"
	}
	workDir := filepath.Join(base, "runs", runID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return Result{Message: fmt.Sprintf("prepare workspace: %v", err)}
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn().Err(err).Str("dir", workDir).Msg("cleanup failed")
		}
	}()

	outDir := p.cfg.OutDir
	if outDir == "" {
		outDir = "out"
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Result{Message: fmt.Sprintf("prepare output dir: %v", err)}
	}
	final := buildOutputPath(outDir, inputVideo, p.now(), runID)
	partial := final + ".partial"
	log.Info().Str("input", inputVideo).Str("work", workDir).Msg("assembling short")

	deps := p.newDeps()
	deps.Log = log
	ucRes, err := p.run(deps).Run(ctx, usecase.Input{
		Video:     inputVideo,
		Brief:     description,
		WorkDir:   workDir,
		Out:       partial,
		Silence:   p.cfg.Silence,
		Window:    p.cfg.Window,
		Timeouts:  p.cfg.Timeouts,
		Narration: p.cfg.narrationPolicy(),
	})
	res = Result{Script: ucRes.Script, Warnings: ucRes.Warnings}
	if err != nil {
		_ = os.Remove(partial)
		var se *types.StageError
		if errors.As(err, &se) {
			res.Stage = se.Stage
		}
		res.Message = err.Error()
		log.Error().Err(err).Str("stage", string(res.Stage)).Msg("run failed")
		return res
	}
	if err := os.Rename(partial, final); err != nil {
		_ = os.Remove(partial)
		res.Stage = types.StageEncode
		res.Message = fmt.Sprintf("finalize output: %v", err)
		return res
	}
	res.OK = true
	res.OutputPath = final
	log.Info().Str("output", final).Int("warnings", len(res.Warnings)).Msg("short ready")
	return res
}

// buildOutputPath names the final video after its input, the UTC time and the
// run id so concurrent runs never collide.
func buildOutputPath(outRoot, inputVideo string, now time.Time, runID string) string {
	name := strings.TrimSuffix(filepath.Base(inputVideo), filepath.Ext(inputVideo))
	name = normalizePathSegment(name)
	if name == "" {
		name = "input"
	}
	ts := now.UTC().Format("20060102-150405Z")
	suffix := strings.ReplaceAll(runID, "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return filepath.Join(outRoot, fmt.Sprintf("short-%s-%s-%s.mp4", name, ts, suffix))
}

func normalizePathSegment(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// ensure adapters implement ports
var (
	_ ports.MediaTool      = (*ffmpeg.Adapter)(nil)
	_ ports.ScriptWriter   = (*openrouter.Adapter)(nil)
	_ ports.Narrator       = (*elevenlabs.Adapter)(nil)
	_ ports.WaveformReader = audio.WaveReader{}
	_ ports.AudioMixer     = (*audio.Mixer)(nil)
	_ ports.MusicLibrary   = audio.Library{}
)
