// Package neural is the networked synthesis backend: it posts text to a
// neural TTS service and materializes the response as an audio asset on disk.
// The service is untrusted; every response is size-validated before being
// declared a success.
package neural

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ityeti/herald/internal/synth"
)

// DefaultTimeout bounds a single synthesis call. A call that exceeds it is a
// failure, same path as an empty asset; it is never left to hang.
const DefaultTimeout = 30 * time.Second

// Backend synthesizes through an HTTP neural TTS service.
type Backend struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	workDir string
	logger  *log.Logger

	mu      sync.Mutex
	voice   string
	rateWPM int
}

// Option configures a Backend.
type Option func(*Backend)

// WithTimeout overrides the per-call synthesis deadline.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) { b.timeout = d }
}

// WithHTTPClient overrides the HTTP client. Tests point this at httptest
// servers.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.client = c }
}

// WithWorkDir overrides where assets are written.
func WithWorkDir(dir string) Option {
	return func(b *Backend) { b.workDir = dir }
}

// New creates a backend for the given service URL and voice.
func New(baseURL, voice string, rateWPM int, opts ...Option) (*Backend, error) {
	workDir := filepath.Join(os.TempDir(), "herald-assets")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("asset dir: %w", err)
	}
	b := &Backend{
		baseURL: baseURL,
		voice:   voice,
		rateWPM: rateWPM,
		timeout: DefaultTimeout,
		client:  &http.Client{},
		workDir: workDir,
		logger:  log.WithPrefix("neural"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Backend) Name() string { return "neural" }

func (b *Backend) Voice() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.voice
}

// SetVoice changes the voice used for subsequent requests.
func (b *Backend) SetVoice(voice string) {
	b.mu.Lock()
	b.voice = voice
	b.mu.Unlock()
}

// SetRate changes the words-per-minute used for subsequent requests.
func (b *Backend) SetRate(wpm int) {
	b.mu.Lock()
	b.rateWPM = wpm
	b.mu.Unlock()
}

type synthesisRequest struct {
	Text    string `json:"text"`
	Voice   string `json:"voice"`
	RateWPM int    `json:"rate_wpm"`
	Format  string `json:"format"`
}

// Synthesize posts one line to the service and writes the audio to a temp
// file. The returned asset is already size-validated. Cancelling ctx aborts
// the request and removes any partial file; the caller sees ErrCancelled.
func (b *Backend) Synthesize(ctx context.Context, text string) (*synth.Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	b.mu.Lock()
	voice, rate := b.voice, b.rateWPM
	b.mu.Unlock()
	payload, err := json.Marshal(synthesisRequest{
		Text:    text,
		Voice:   voice,
		RateWPM: rate,
		Format:  "mp3",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", synth.ErrNetwork, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/synthesize", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", synth.ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, classifyCtx(ctxErr)
		}
		return nil, fmt.Errorf("%w: %v", synth.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: service returned %d: %s", synth.ErrNetwork, resp.StatusCode, bytes.TrimSpace(body))
	}

	f, err := os.CreateTemp(b.workDir, "line-*.mp3")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", synth.ErrNetwork, err)
	}
	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(f.Name())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, classifyCtx(ctxErr)
		}
		return nil, fmt.Errorf("%w: read body: %v", synth.ErrNetwork, copyErr)
	}

	// The dominant observed failure mode is a 200 with an empty body.
	// NewAsset enforces the size contract and removes the file on failure.
	asset, err := synth.NewAsset(f.Name(), b.Name())
	if err != nil {
		return nil, err
	}

	b.logger.Debug("synthesized line",
		"chars", len(text), "bytes", n, "took", time.Since(start).Round(time.Millisecond))
	return asset, nil
}

// classifyCtx maps context termination onto the failure taxonomy: caller
// cancellation is expected supersession, a deadline is a service failure.
func classifyCtx(err error) error {
	if err == context.DeadlineExceeded {
		return fmt.Errorf("%w: synthesis timed out", synth.ErrNetwork)
	}
	return fmt.Errorf("%w: %v", synth.ErrCancelled, err)
}
