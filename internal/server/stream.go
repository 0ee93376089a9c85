package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/visage/internal/observe"
	"github.com/MrWong99/visage/pkg/audio"
	"github.com/MrWong99/visage/pkg/face"
)

// handleStream upgrades to a WebSocket and runs a private pipeline for the
// connection. Every binary message is a float32 LE chunk and is answered by
// one text message holding the Frame JSON, or {"error": ...} when the window
// failed. Text messages close the stream with 1003.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.newSession == nil || !s.ready.Load() {
		writeError(w, r, face.ErrNotBound)
		return
	}

	info, err := s.streams.Open(r.RemoteAddr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer s.streams.Close(info.ID)

	log := observe.Logger(r.Context(), "stream_id", info.ID)

	sess, err := s.newSession(r.Context())
	if err != nil {
		log.Error("stream session load failed", "err", err)
		writeError(w, r, err)
		return
	}

	opts := []face.Option{face.WithSmoothing(s.Smoothing()), face.WithLogger(log)}
	if s.metrics != nil {
		opts = append(opts, face.WithRecorder(s.metrics))
	}
	p := face.New(opts...)
	p.Bind(sess)
	defer func() {
		if err := p.Dispose(); err != nil {
			log.Warn("stream session close failed", "err", err)
		}
	}()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: s.cfg.InsecureSkipVerify,
	})
	if err != nil {
		log.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.cfg.MaxBodyBytes)

	ctx := r.Context()
	if s.metrics != nil {
		s.metrics.StreamOpened(ctx)
		defer s.metrics.StreamClosed(ctx)
	}
	log.Info("stream opened", "remote", info.RemoteAddr, "open_streams", s.streams.Count())

	chunks := s.serveStream(ctx, conn, p, log)
	log.Info("stream closed", "chunks", chunks)
}

// serveStream runs the read/answer loop until the client disconnects or
// sends something that is not audio. It returns the number of chunks
// answered with a frame.
func (s *Server) serveStream(ctx context.Context, conn *websocket.Conn, p *face.Pipeline, log *slog.Logger) int {
	var frames int
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				log.Debug("stream closed by client")
			default:
				log.Debug("stream read ended", "err", err)
			}
			return frames
		}
		if typ != websocket.MessageBinary {
			conn.Close(websocket.StatusUnsupportedData, "binary float32 audio expected")
			return frames
		}
		samples, err := audio.DecodeFloat32LE(data)
		if err != nil {
			conn.Close(websocket.StatusUnsupportedData, "chunk length must be a multiple of 4 bytes")
			return frames
		}

		if a := s.Smoothing(); a != p.Smoothing() {
			p.SetSmoothing(a)
		}

		frame, err := p.ProcessChunk(ctx, samples)
		if err != nil {
			_, msg := statusFor(err)
			if werr := wsjson.Write(ctx, conn, errorBody{Error: msg}); werr != nil {
				return frames
			}
			if errors.Is(err, face.ErrNotBound) {
				conn.Close(websocket.StatusInternalError, "model not loaded")
				return frames
			}
			continue
		}
		if err := wsjson.Write(ctx, conn, frame); err != nil {
			log.Debug("stream write failed", "err", err)
			return frames
		}
		frames++
	}
}
