// Package httpscore provides a scoring.Provider that talks to an HTTP scoring
// service.
//
// Endpoints (relative to the base URL):
//
//   - POST /api/score with {"session_id", "audio" (base64), "mime_type",
//     "summary"} returning {"pitch", "stability", "score", "message"}; a
//     non-empty "error" field marks a service-side diagnosis failure.
//   - POST /api/score/pitch with {"freq"} returning {"score", "message"}.
//
// Any non-2xx response or network failure is reported as a
// *scoring.TransportError.
package httpscore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/vocascan/pkg/pitch"
	"github.com/MrWong99/vocascan/pkg/provider/scoring"
)

// Compile-time interface assertion.
var _ scoring.Provider = (*Provider)(nil)

const (
	defaultTimeout = 30 * time.Second
	scoreEndpoint  = "/api/score"
	pitchEndpoint  = "/api/score/pitch"

	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 512
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithAPIKey sets a bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		p.apiKey = key
	}
}

// Provider implements scoring.Provider over HTTP.
type Provider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Provider for the service at baseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("httpscore: parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("httpscore: base URL scheme must be http or https, got %q", u.Scheme)
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- wire types ----

type scoreRequest struct {
	SessionID string        `json:"session_id,omitempty"`
	Audio     []byte        `json:"audio"`
	MIMEType  string        `json:"mime_type,omitempty"`
	Summary   pitch.Summary `json:"summary"`
}

type scoreResponse struct {
	Pitch     float64 `json:"pitch"`
	Stability float64 `json:"stability"`
	Score     float64 `json:"score"`
	Message   string  `json:"message"`
	Error     string  `json:"error"`
}

type pitchRequest struct {
	Freq float64 `json:"freq"`
}

type pitchResponse struct {
	Score   float64 `json:"score"`
	Message string  `json:"message"`
}

// Score implements scoring.Provider.
func (p *Provider) Score(ctx context.Context, req scoring.Request) (scoring.Diagnosis, error) {
	body := scoreRequest{
		SessionID: req.SessionID,
		Audio:     req.Audio,
		MIMEType:  req.MIMEType,
		Summary:   req.Summary,
	}
	var resp scoreResponse
	if err := p.post(ctx, "score", scoreEndpoint, body, &resp); err != nil {
		return scoring.Diagnosis{}, err
	}
	if resp.Error != "" {
		return scoring.Failure(resp.Error), nil
	}
	return scoring.Success(resp.Pitch, resp.Stability, resp.Score, resp.Message), nil
}

// ScorePitch implements scoring.Provider.
func (p *Provider) ScorePitch(ctx context.Context, hz float64) (scoring.PitchResult, error) {
	var resp pitchResponse
	if err := p.post(ctx, "score pitch", pitchEndpoint, pitchRequest{Freq: hz}, &resp); err != nil {
		return scoring.PitchResult{}, err
	}
	return scoring.PitchResult{Score: resp.Score, Message: resp.Message}, nil
}

// post sends in as JSON to path and decodes a 2xx response into out.
func (p *Provider) post(ctx context.Context, op, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("httpscore: %s: marshal request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("httpscore: %s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &scoring.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &scoring.TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty response body")
		}
		return &scoring.TransportError{Op: op, StatusCode: 0, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
