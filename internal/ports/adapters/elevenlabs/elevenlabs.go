package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/forPelevin/autoshort/internal/ports/adapters/endpoint"
)

const (
	DefaultBaseURL = "https://api.elevenlabs.io"
	// DefaultVoiceID is the "Bella" preset voice.
	DefaultVoiceID = "EXAVITQu4vr4xnSDxMaL"
	DefaultModel   = "eleven_multilingual_v2"

	outputFormat = "mp3_44100_128"
	maxTries     = 4
)

var Endpoint = endpoint.Policy{
	Var:          "ELEVENLABS_BASE_URL",
	HostsVar:     "ELEVENLABS_ALLOWED_HOSTS",
	Default:      DefaultBaseURL,
	DefaultHosts: []string{"api.elevenlabs.io", "api.us.elevenlabs.io"},
}

type Adapter struct {
	key     string
	voice   string
	model   string
	baseURL string
	client  *http.Client
	log     zerolog.Logger

	// newBackOff is swapped in tests.
	newBackOff func() backoff.BackOff
}

func New(apiKey, voiceID, model, baseURL string, log zerolog.Logger) *Adapter {
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}
	if model == "" {
		model = DefaultModel
	}
	baseURL = Endpoint.Normalize(baseURL)
	return &Adapter{
		key:     apiKey,
		voice:   voiceID,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 2 * time.Minute},
		log:     log,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

// Narrate synthesizes text and writes the MP3 response to outPath.
// Rate limiting and server errors are retried with exponential backoff.
func (a *Adapter) Narrate(ctx context.Context, text, outPath string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("elevenlabs: empty narration text")
	}
	body, err := json.Marshal(map[string]string{"text": text, "model_id": a.model})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", a.baseURL, url.PathEscape(a.voice), outputFormat)

	attempt := 0
	audio, err := backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		b, err := a.synthesize(ctx, endpoint, body)
		if err != nil {
			a.log.Debug().Err(err).Int("attempt", attempt).Msg("elevenlabs request failed")
		}
		return b, err
	}, backoff.WithBackOff(a.newBackOff()), backoff.WithMaxTries(maxTries))
	if err != nil {
		return err
	}
	if len(audio) == 0 {
		return errors.New("elevenlabs: empty audio response")
	}
	if err := os.WriteFile(outPath, audio, 0o644); err != nil {
		return fmt.Errorf("write narration: %w", err)
	}
	a.log.Debug().Str("path", outPath).Int("bytes", len(audio)).Int("attempts", attempt).Msg("narration synthesized")
	return nil
}

func (a *Adapter) synthesize(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("xi-api-key", a.key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("elevenlabs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rb, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("elevenlabs status %d: %s", resp.StatusCode, redact(strings.TrimSpace(string(rb)), a.key))
		if retryable(resp.StatusCode) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs read body: %w", err)
	}
	return b, nil
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func redact(s, key string) string {
	if key == "" {
		return s
	}
	return strings.ReplaceAll(s, key, "[REDACTED]")
}
