// Package wsfeed runs a broker's websocket connection as a
// repository.Subscription: one read loop decoding frames into ticks, one
// ping loop, and a bounded output channel.
package wsfeed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"TickVault/internal/domain/models"
	drepo "TickVault/internal/domain/repository"
	applogger "TickVault/pkg/logger"
)

// Decoder turns one websocket frame into zero or more ticks. Returning an
// error drops the frame; the connection stays up.
type Decoder func(messageType int, data []byte) ([]models.Tick, error)

type Config struct {
	QueueSize    int
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// Feed is a live websocket subscription.
type Feed struct {
	conn   *websocket.Conn
	decode Decoder
	cfg    Config
	l      *applogger.Logger

	ticks   chan models.Tick
	done    chan struct{}
	writeMu sync.Mutex

	closeOnce sync.Once
	closing   atomic.Bool
	errMu     sync.Mutex
	err       error

	dropped   atomic.Int64
	malformed atomic.Int64
}

var _ drepo.Subscription = (*Feed)(nil)

// Dial opens the websocket. The handshake is bound to ctx; the connection
// itself outlives it.
func Dial(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 15 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}

// Start takes ownership of conn and begins reading.
func Start(conn *websocket.Conn, decode Decoder, cfg Config, l *applogger.Logger) *Feed {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	f := &Feed{
		conn:   conn,
		decode: decode,
		cfg:    cfg,
		l:      l,
		ticks:  make(chan models.Tick, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go f.readLoop()
	if cfg.PingInterval > 0 {
		go f.pingLoop()
	}
	return f
}

func (f *Feed) Ticks() <-chan models.Tick { return f.ticks }

// Err reports why the feed ended. It is nil while running and after Close.
func (f *Feed) Err() error {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	return f.err
}

// Dropped counts ticks discarded because the consumer fell behind.
func (f *Feed) Dropped() int64 { return f.dropped.Load() }

func (f *Feed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		f.closing.Store(true)
		f.writeMu.Lock()
		_ = f.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		f.writeMu.Unlock()
		err = f.conn.Close()
	})
	<-f.done
	return err
}

// WriteJSON sends a control message such as a subscribe request.
func (f *Feed) WriteJSON(v interface{}) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_ = f.conn.SetWriteDeadline(time.Now().Add(f.cfg.WriteTimeout))
	return f.conn.WriteJSON(v)
}

func (f *Feed) readLoop() {
	defer close(f.done)
	defer close(f.ticks)
	for {
		mt, data, err := f.conn.ReadMessage()
		if err != nil {
			if !f.closing.Load() {
				f.setErr(classify(err))
			}
			return
		}
		ticks, err := f.decode(mt, data)
		if err != nil {
			if f.malformed.Add(1)%1000 == 1 {
				f.l.Warn("dropping undecodable frame", applogger.Int("bytes", len(data)), applogger.Error(err))
			}
			continue
		}
		for _, t := range ticks {
			select {
			case f.ticks <- t:
			default:
				if f.dropped.Add(1)%1000 == 1 {
					f.l.Warn("tick queue full, dropping", applogger.Int64("dropped_total", f.dropped.Load()))
				}
			}
		}
	}
}

func (f *Feed) pingLoop() {
	t := time.NewTicker(f.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-f.done:
			return
		case <-t.C:
			f.writeMu.Lock()
			err := f.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(f.cfg.WriteTimeout))
			f.writeMu.Unlock()
			if err != nil && !f.closing.Load() {
				f.l.Debug("ping failed", applogger.Error(err))
			}
		}
	}
}

func (f *Feed) setErr(err error) {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	if f.err == nil {
		f.err = err
	}
}

// classify keeps the close code in the message ("1006 ...") so callers
// can tell an abnormal close from a protocol error by text.
func classify(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return fmt.Errorf("websocket closed: %d %s: %w", ce.Code, ce.Text, err)
	}
	return fmt.Errorf("websocket read: %w", err)
}
