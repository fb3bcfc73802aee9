package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/vocascan/pkg/audio"
	"github.com/MrWong99/vocascan/pkg/provider/frequency"
	"github.com/coder/websocket"
)

// ---- test server ----

type serverScript struct {
	// replies are written, in order, after each binary message received.
	replies []string
	// closeAfter closes the socket once all replies were sent.
	closeAfter bool
}

func newServer(t *testing.T, script serverScript, seen chan<- *http.Request) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			seen <- r
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		for _, reply := range script.replies {
			typ, _, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ != websocket.MessageBinary {
				return
			}
			if err := c.Write(ctx, websocket.MessageText, []byte(reply)); err != nil {
				return
			}
		}
		if script.closeAfter {
			c.Close(websocket.StatusGoingAway, "done")
			return
		}
		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

var mono16k = audio.Format{SampleRate: 16000, Channels: 1}

func pollOnce(t *testing.T, s frequency.Session) (float64, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.SendAudio(make([]byte, 320)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	return s.Poll(ctx)
}

// ---- tests ----

func TestNew_RejectsNonWebSocketScheme(t *testing.T) {
	t.Parallel()
	if _, err := New("http://localhost:1234"); err == nil {
		t.Error("expected error for http scheme")
	}
	if _, err := New("ws://localhost:1234/pitch"); err != nil {
		t.Errorf("ws scheme: %v", err)
	}
}

func TestBuildURL(t *testing.T) {
	t.Parallel()
	p, err := New("ws://host/pitch?model=crepe")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	raw, err := p.buildURL(audio.Format{SampleRate: 48000, Channels: 2})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(raw)
	q := u.Query()
	for key, want := range map[string]string{
		"model":       "crepe",
		"sample_rate": "48000",
		"channels":    "2",
		"encoding":    "s16le",
	} {
		if got := q.Get(key); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

func TestParse(t *testing.T) {
	t.Parallel()
	s := &session{minConfidence: 0.5}
	tests := []struct {
		name    string
		raw     string
		wantOK  bool
		wantHz  float64
		wantErr bool
	}{
		{"voiced", `{"type":"pitch","frequency":440.5,"confidence":0.9}`, true, 440.5, false},
		{"untyped voiced", `{"frequency":220}`, true, 220, false},
		{"null frequency", `{"type":"pitch","frequency":null}`, true, 0, false},
		{"zero frequency", `{"type":"pitch","frequency":0}`, true, 0, false},
		{"low confidence", `{"type":"pitch","frequency":440,"confidence":0.2}`, true, 0, false},
		{"error", `{"type":"error","message":"model not loaded"}`, true, 0, true},
		{"unknown type", `{"type":"hello"}`, false, 0, false},
		{"malformed", `{not json`, false, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := s.parse([]byte(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if e.hz != tt.wantHz {
				t.Errorf("hz = %v, want %v", e.hz, tt.wantHz)
			}
			if (e.err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", e.err, tt.wantErr)
			}
		})
	}
}

func TestSession_RoundTrip(t *testing.T) {
	t.Parallel()

	seen := make(chan *http.Request, 1)
	srv := newServer(t, serverScript{replies: []string{
		`{"type":"pitch","frequency":440,"confidence":0.95,"t":20}`,
		`{"type":"pitch","frequency":null,"t":40}`,
		`{"type":"error","message":"overloaded"}`,
	}}, seen)

	p, err := New(wsURL(srv), WithAPIKey("secret"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sess, err := p.Open(context.Background(), mono16k)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	r := <-seen
	if got := r.Header.Get("Authorization"); got != "Bearer secret" {
		t.Errorf("Authorization = %q", got)
	}
	if got := r.URL.Query().Get("sample_rate"); got != "16000" {
		t.Errorf("sample_rate = %q", got)
	}

	if hz, err := pollOnce(t, sess); err != nil || hz != 440 {
		t.Fatalf("poll 1 = %v, %v; want 440", hz, err)
	}
	if hz, err := pollOnce(t, sess); err != nil || !frequency.IsAbsent(hz) {
		t.Fatalf("poll 2 = %v, %v; want absent", hz, err)
	}
	if _, err := pollOnce(t, sess); err == nil || !strings.Contains(err.Error(), "overloaded") {
		t.Fatalf("poll 3 err = %v, want provider error", err)
	}
}

func TestSession_ServerCloseEndsSession(t *testing.T) {
	t.Parallel()

	srv := newServer(t, serverScript{closeAfter: true}, nil)
	p, _ := New(wsURL(srv))
	sess, err := p.Open(context.Background(), mono16k)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = sess.Poll(ctx)
	if !errors.Is(err, frequency.ErrSessionClosed) {
		t.Fatalf("Poll err = %v, want ErrSessionClosed", err)
	}
}

func TestSession_PollHonoursContext(t *testing.T) {
	t.Parallel()

	srv := newServer(t, serverScript{}, nil)
	p, _ := New(wsURL(srv))
	sess, err := p.Open(context.Background(), mono16k)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := sess.Poll(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Poll err = %v, want deadline exceeded", err)
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	srv := newServer(t, serverScript{}, nil)
	p, _ := New(wsURL(srv))
	sess, err := p.Open(context.Background(), mono16k)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := sess.SendAudio([]byte{0, 0}); !errors.Is(err, frequency.ErrSessionClosed) {
		t.Errorf("SendAudio after Close = %v, want ErrSessionClosed", err)
	}
}

func TestOpen_DialFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	p, _ := New(wsURL(srv))
	if _, err := p.Open(context.Background(), mono16k); err == nil {
		t.Fatal("expected dial error")
	}
}
