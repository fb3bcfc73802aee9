// Package remote provides a frequency.Provider that streams PCM to a remote
// pitch-estimation server over a WebSocket and receives estimates as JSON.
//
// Wire protocol:
//
//   - The client connects to the configured URL with sample_rate and channels
//     query parameters and, when an API key is set, an Authorization: Bearer
//     header.
//   - Upstream: binary messages carrying raw signed 16-bit little-endian PCM.
//   - Downstream: text messages of the form
//     {"type":"pitch","frequency":440.1,"confidence":0.93,"t":1234}
//     where a null or zero frequency means "unvoiced", or
//     {"type":"error","message":"..."} for provider-side failures.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/MrWong99/vocascan/pkg/audio"
	"github.com/MrWong99/vocascan/pkg/provider/frequency"
	"github.com/coder/websocket"
)

const (
	audioBuffer = 64
	readLimit   = 1 << 16
)

// Option is a functional option for configuring the remote Provider.
type Option func(*Provider)

// WithAPIKey sets the bearer token sent on connect.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		p.apiKey = key
	}
}

// WithMinConfidence treats estimates whose reported confidence is below c as
// unvoiced. Defaults to 0 (accept everything the server reports as voiced).
func WithMinConfidence(c float64) Option {
	return func(p *Provider) {
		p.minConfidence = c
	}
}

// WithHTTPClient sets the HTTP client used for the WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements frequency.Provider against a remote estimation server.
type Provider struct {
	endpoint      string
	apiKey        string
	minConfidence float64
	httpClient    *http.Client
}

// New creates a new remote Provider for the ws:// or wss:// endpoint.
func New(endpoint string, opts ...Option) (*Provider, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("remote: parse endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("remote: endpoint scheme must be ws or wss, got %q", u.Scheme)
	}
	p := &Provider{endpoint: endpoint}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Open dials the estimation server and starts a session.
func (p *Provider) Open(ctx context.Context, f audio.Format) (frequency.Session, error) {
	wsURL, err := p.buildURL(f)
	if err != nil {
		return nil, fmt.Errorf("remote: build URL: %w", err)
	}

	headers := http.Header{}
	if p.apiKey != "" {
		headers.Set("Authorization", "Bearer "+p.apiKey)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
		HTTPClient: p.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("remote: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	// The session outlives the Open context.
	sctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		conn:          conn,
		minConfidence: p.minConfidence,
		audio:         make(chan []byte, audioBuffer),
		estimates:     make(chan estimate, 1),
		done:          make(chan struct{}),
		cancel:        cancel,
	}
	sess.wg.Add(2)
	go sess.readLoop(sctx)
	go sess.writeLoop(sctx)
	return sess, nil
}

func (p *Provider) buildURL(f audio.Format) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(f.SampleRate))
	q.Set("channels", strconv.Itoa(f.Channels))
	q.Set("encoding", "s16le")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// message is a downstream server message.
type message struct {
	Type       string   `json:"type"`
	Frequency  *float64 `json:"frequency"`
	Confidence *float64 `json:"confidence"`
	T          int64    `json:"t"`
	Message    string   `json:"message"`
}

// estimate is one parsed server message: either a frequency or an error.
type estimate struct {
	hz  float64
	err error
}

// session is a live remote estimation stream. It implements frequency.Session.
type session struct {
	conn          *websocket.Conn
	minConfidence float64

	audio     chan []byte
	estimates chan estimate // latest wins

	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu      sync.Mutex
	readErr error
}

// SendAudio queues a PCM chunk for delivery. When the upstream buffer is full
// the chunk is dropped; estimation works on the freshest audio.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return frequency.ErrSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
	default:
		slog.Debug("remote: audio buffer full, dropping chunk", "bytes", len(chunk))
	}
	return nil
}

// Poll returns the next estimate received from the server.
func (s *session) Poll(ctx context.Context) (float64, error) {
	select {
	case e := <-s.estimates:
		return e.hz, e.err
	case <-ctx.Done():
		return frequency.Absent, ctx.Err()
	case <-s.done:
		s.mu.Lock()
		err := s.readErr
		s.mu.Unlock()
		if err != nil {
			return frequency.Absent, fmt.Errorf("%w: %w", frequency.ErrSessionClosed, err)
		}
		return frequency.Absent, frequency.ErrSessionClosed
	}
}

// Close terminates the session. It is safe to call more than once.
func (s *session) Close() error {
	s.once.Do(func() {
		s.shutdown(nil)
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// shutdown marks the session as done, recording the first read failure.
func (s *session) shutdown(readErr error) {
	s.mu.Lock()
	select {
	case <-s.done:
	default:
		s.readErr = readErr
		close(s.done)
		s.cancel()
	}
	s.mu.Unlock()
}

func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("remote: read failed", "err", err)
				s.shutdown(err)
			}
			return
		}
		e, ok := s.parse(msg)
		if !ok {
			continue
		}
		s.publish(e)
	}
}

// publish replaces any unconsumed estimate with e.
func (s *session) publish(e estimate) {
	for {
		select {
		case s.estimates <- e:
			return
		default:
		}
		select {
		case <-s.estimates:
		default:
		}
	}
}

// parse converts a raw server message into an estimate. Unknown message
// types are ignored.
func (s *session) parse(data []byte) (estimate, bool) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		slog.Debug("remote: malformed message", "err", err)
		return estimate{}, false
	}
	switch m.Type {
	case "pitch", "":
		if m.Frequency == nil || frequency.IsAbsent(*m.Frequency) {
			return estimate{hz: frequency.Absent}, true
		}
		if m.Confidence != nil && *m.Confidence < s.minConfidence {
			return estimate{hz: frequency.Absent}, true
		}
		return estimate{hz: *m.Frequency}, true
	case "error":
		msg := m.Message
		if msg == "" {
			msg = "unspecified provider error"
		}
		return estimate{err: errors.New("remote: " + msg)}, true
	default:
		return estimate{}, false
	}
}

// Compile-time interface assertion.
var _ frequency.Provider = (*Provider)(nil)
