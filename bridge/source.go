package bridge

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/gorilla/websocket"

	"github.com/vandry/ruuvi-bridge/errors"
	"github.com/vandry/ruuvi-bridge/pkg/retry"
)

// Source opens the raw byte stream to ingest. Open is called again after
// every stream failure, following the fixed backoff.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// TTYSource locates the bridge device and opens its device node.
type TTYSource struct {
	Locator Locator
	Logger  *slog.Logger
}

var _ Source = (*TTYSource)(nil)

// Open discovers the device and opens it for reading.
func (s *TTYSource) Open(_ context.Context) (io.ReadCloser, error) {
	path, err := s.Locator.Locate()
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapTransient(err, "TTYSource", "Open", "open device node")
	}

	if s.Logger != nil {
		s.Logger.Info("Using bridge device", "path", path)
	}
	return f, nil
}

// WebSocketSource dials a WebSocket relay of the bridge byte stream and
// presents the concatenated message payloads as one reader.
type WebSocketSource struct {
	URL    string
	Logger *slog.Logger

	// Retry applies to the dial only; stream failures after a successful
	// dial fall back to the ingestion loop's fixed backoff.
	Retry retry.Config

	dialer *websocket.Dialer
}

var _ Source = (*WebSocketSource)(nil)

// Open dials the relay, retrying transient dial failures.
func (s *WebSocketSource) Open(ctx context.Context) (io.ReadCloser, error) {
	dialer := s.dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	cfg := s.Retry
	if cfg.MaxAttempts == 0 {
		cfg = retry.Quick()
	}

	conn, err := retry.DoWithResult(ctx, cfg, func() (*websocket.Conn, error) {
		conn, _, err := dialer.DialContext(ctx, s.URL, nil)
		return conn, err
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "WebSocketSource", "Open", "dial relay")
	}

	if s.Logger != nil {
		s.Logger.Info("Connected to bridge relay", "url", s.URL)
	}
	return &wsStream{conn: conn}, nil
}

// wsStream adapts a WebSocket connection to io.ReadCloser, treating the
// payload bytes of successive messages as one continuous stream.
type wsStream struct {
	conn *websocket.Conn
	r    io.Reader
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.r == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				return 0, err
			}
			s.r = r
		}

		n, err := s.r.Read(p)
		if err == io.EOF {
			// Message exhausted; move on to the next one.
			s.r = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
