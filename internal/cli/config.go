package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/forPelevin/autoshort/internal/audio"
	"github.com/forPelevin/autoshort/internal/domain/effects"
	"github.com/forPelevin/autoshort/internal/domain/silence"
	"github.com/forPelevin/autoshort/internal/domain/timeline"
	"github.com/forPelevin/autoshort/internal/pipeline"
	"github.com/forPelevin/autoshort/internal/usecase"
)

// newViper returns a config registry layered as flags > env > config file >
// defaults. Provider credentials keep their conventional env names; every
// other key is also reachable as AUTOSHORT_<KEY> with dots as underscores.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("autoshort")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	timeouts := usecase.DefaultTimeouts()
	v.SetDefault("out_dir", "out")
	v.SetDefault("cache_dir", ".cache")
	v.SetDefault("music_dir", "assets/music")
	v.SetDefault("effects_dir", "assets/sfx")
	v.SetDefault("window", timeline.DefaultWindow)
	v.SetDefault("music_volume", audio.DefaultMusicVolume)
	v.SetDefault("silence.min_silence", silence.DefaultMinSilenceLen)
	v.SetDefault("silence.threshold", silence.DefaultThreshold)
	v.SetDefault("timeouts.script", timeouts.Script)
	v.SetDefault("timeouts.narration", timeouts.Narration)
	v.SetDefault("timeouts.encode", timeouts.Encode)
	v.SetDefault("narration.on_failure", string(usecase.NarrationAbort))
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("ffprobe_path", "ffprobe")
	v.SetDefault("openrouter.base_url", "https://openrouter.ai")
	v.SetDefault("server.addr", ":8080")

	for key, env := range map[string]string{
		"openrouter.api_key":       "OPENROUTER_API_KEY",
		"openrouter.model":         "OPENROUTER_MODEL",
		"openrouter.base_url":      "OPENROUTER_BASE_URL",
		"openrouter.allowed_hosts": "OPENROUTER_ALLOWED_HOSTS",
		"elevenlabs.api_key":       "ELEVENLABS_API_KEY",
		"elevenlabs.voice_id":      "ELEVENLABS_VOICE_ID",
		"elevenlabs.model":         "ELEVENLABS_MODEL",
		"elevenlabs.base_url":      "ELEVENLABS_BASE_URL",
		"elevenlabs.allowed_hosts": "ELEVENLABS_ALLOWED_HOSTS",
	} {
		_ = v.BindEnv(key, env)
	}
	return v
}

func readConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func pipelineConfig(v *viper.Viper) (pipeline.Config, error) {
	var table effects.Table
	if v.IsSet("effects") {
		if err := v.UnmarshalKey("effects", &table); err != nil {
			return pipeline.Config{}, fmt.Errorf("effects table: %w", err)
		}
	}
	return pipeline.Config{
		OutDir:     v.GetString("out_dir"),
		CacheDir:   v.GetString("cache_dir"),
		MusicDir:   v.GetString("music_dir"),
		EffectsDir: v.GetString("effects_dir"),
		Effects:    table,

		Window: v.GetDuration("window"),
		Silence: silence.Options{
			MinSilenceLen: v.GetDuration("silence.min_silence"),
			Threshold:     v.GetFloat64("silence.threshold"),
		},
		Timeouts: usecase.Timeouts{
			Script:    v.GetDuration("timeouts.script"),
			Narration: v.GetDuration("timeouts.narration"),
			Encode:    v.GetDuration("timeouts.encode"),
		},
		MusicVolume:        v.GetFloat64("music_volume"),
		NarrationOnFailure: v.GetString("narration.on_failure"),
		Seed:               v.GetUint64("seed"),

		FFmpegPath:  v.GetString("ffmpeg_path"),
		FFprobePath: v.GetString("ffprobe_path"),

		OpenRouterAPIKey:       v.GetString("openrouter.api_key"),
		OpenRouterModel:        v.GetString("openrouter.model"),
		OpenRouterBaseURL:      v.GetString("openrouter.base_url"),
		OpenRouterAllowedHosts: stringList(v, "openrouter.allowed_hosts"),

		ElevenLabsAPIKey:       v.GetString("elevenlabs.api_key"),
		ElevenLabsVoiceID:      v.GetString("elevenlabs.voice_id"),
		ElevenLabsModel:        v.GetString("elevenlabs.model"),
		ElevenLabsBaseURL:      v.GetString("elevenlabs.base_url"),
		ElevenLabsAllowedHosts: stringList(v, "elevenlabs.allowed_hosts"),
	}, nil
}

// stringList reads a list written either as a YAML sequence or as a
// comma separated env value.
func stringList(v *viper.Viper, key string) []string {
	if s, ok := v.Get(key).(string); ok {
		var out []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return v.GetStringSlice(key)
}
