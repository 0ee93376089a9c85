package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/visage/pkg/audio"
	"github.com/MrWong99/visage/pkg/face"
	"github.com/MrWong99/visage/pkg/provider/inference"
	"github.com/MrWong99/visage/pkg/provider/inference/mock"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

// sessionPool hands out a fresh echo session per stream and remembers them.
type sessionPool struct {
	mu       sync.Mutex
	sessions []*mock.Session
	err      error
}

func (p *sessionPool) factory(context.Context) (inference.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	s := echoSession()
	p.sessions = append(p.sessions, s)
	return s, nil
}

func (p *sessionPool) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func startStreamServer(t *testing.T, pool *sessionPool, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	cfg.InsecureSkipVerify = true
	s := newTestServer(t, echoSession(), cfg, WithSessionFactory(pool.factory))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv, path), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func sendChunk(t *testing.T, conn *websocket.Conn, samples []float32) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, audio.EncodeFloat32LE(samples)); err != nil {
		t.Fatalf("write chunk: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) face.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("message type = %v, want text", typ)
	}
	var f face.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal frame %s: %v", data, err)
	}
	return f
}

func TestStream_FramePerChunk(t *testing.T) {
	t.Parallel()

	pool := &sessionPool{}
	_, srv := startStreamServer(t, pool, Config{})
	conn := dial(t, srv, "/stream")

	sendChunk(t, conn, constant(audio.HopSize, 0.4))
	if f := readFrame(t, conn); f.Jaw != 0 {
		t.Errorf("first frame jaw = %v, want 0 before a window is complete", f.Jaw)
	}

	sendChunk(t, conn, constant(audio.HopSize, 0.4))
	if f := readFrame(t, conn); f.Jaw != 0.4 {
		t.Errorf("jaw = %v, want 0.4", f.Jaw)
	}

	// Second window: 0.3*0.4 + 0.7*1 = 0.82.
	sendChunk(t, conn, constant(audio.HopSize, 1))
	f := readFrame(t, conn)
	if d := f.Jaw - 0.82; d > 1e-5 || d < -1e-5 {
		t.Errorf("smoothed jaw = %v, want 0.82", f.Jaw)
	}

	if pool.count() != 1 {
		t.Errorf("sessions created = %d, want 1 per stream", pool.count())
	}
}

func TestStream_ConnectionsAreIndependent(t *testing.T) {
	t.Parallel()

	pool := &sessionPool{}
	_, srv := startStreamServer(t, pool, Config{})
	a := dial(t, srv, "/stream")
	b := dial(t, srv, "/api/stream")

	sendChunk(t, a, constant(audio.WindowLength, 0.2))
	sendChunk(t, b, constant(audio.WindowLength, 0.9))

	if f := readFrame(t, a); f.Jaw != 0.2 {
		t.Errorf("stream a jaw = %v, want 0.2", f.Jaw)
	}
	if f := readFrame(t, b); f.Jaw != 0.9 {
		t.Errorf("stream b jaw = %v, want 0.9", f.Jaw)
	}
	if pool.count() != 2 {
		t.Errorf("sessions created = %d, want 2", pool.count())
	}
}

func TestStream_TextMessageClosesStream(t *testing.T) {
	t.Parallel()

	_, srv := startStreamServer(t, &sessionPool{}, Config{})
	conn := dial(t, srv, "/stream")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, _, err := conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusUnsupportedData {
		t.Errorf("close status = %v, want %v (err: %v)", got, websocket.StatusUnsupportedData, err)
	}
}

func TestStream_InferenceErrorKeepsStreamOpen(t *testing.T) {
	t.Parallel()

	var calls int
	s := newTestServer(t, echoSession(), Config{InsecureSkipVerify: true}, WithSessionFactory(func(context.Context) (inference.Session, error) {
		sess := echoSession()
		echo := sess.RunFunc
		sess.RunFunc = func(feeds map[string]inference.Tensor) (map[string]inference.Tensor, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("transient")
			}
			return echo(feeds)
		}
		return sess, nil
	}))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	conn := dial(t, srv, "/stream")

	sendChunk(t, conn, constant(audio.WindowLength, 0.5))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil || !strings.Contains(body.Error, "transient") {
		t.Fatalf("first reply = %s, want an error mentioning the engine failure", data)
	}

	sendChunk(t, conn, constant(audio.WindowLength, 0.5))
	if f := readFrame(t, conn); f.Jaw != 0.5 {
		t.Errorf("jaw after recovery = %v, want 0.5", f.Jaw)
	}
}

func TestStream_Rejections(t *testing.T) {
	t.Parallel()

	t.Run("no session factory", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(newTestServer(t, echoSession(), Config{}).Handler())
		t.Cleanup(srv.Close)

		_, resp, err := websocket.Dial(context.Background(), wsURL(srv, "/stream"), nil)
		if err == nil {
			t.Fatal("dial succeeded, want rejection")
		}
		if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("response = %v, want 503", resp)
		}
	})

	t.Run("session load fails", func(t *testing.T) {
		t.Parallel()
		_, srv := startStreamServer(t, &sessionPool{err: errors.New("out of memory")}, Config{})

		_, resp, err := websocket.Dial(context.Background(), wsURL(srv, "/stream"), nil)
		if err == nil {
			t.Fatal("dial succeeded, want rejection")
		}
		if resp == nil || resp.StatusCode != http.StatusInternalServerError {
			t.Errorf("response = %v, want 500", resp)
		}
	})

	t.Run("stream limit", func(t *testing.T) {
		t.Parallel()
		s, srv := startStreamServer(t, &sessionPool{}, Config{MaxStreams: 1})
		conn := dial(t, srv, "/stream")

		// Wait until the first stream holds its slot.
		sendChunk(t, conn, constant(1, 0))
		readFrame(t, conn)
		if s.Streams().Count() != 1 {
			t.Fatalf("open streams = %d, want 1", s.Streams().Count())
		}

		_, resp, err := websocket.Dial(context.Background(), wsURL(srv, "/stream"), nil)
		if err == nil {
			t.Fatal("second dial succeeded, want rejection")
		}
		if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("response = %v, want 503", resp)
		}
	})
}
