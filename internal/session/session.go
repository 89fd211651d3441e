// Package session owns one logical websocket connection to the authority:
// named-event send/receive, acknowledgement callbacks and automatic
// reconnection. Handlers are dispatched from a single goroutine in
// authority-send order; across a reconnect no cross-connection ordering is
// guaranteed, so everything downstream must tolerate replay.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tdnguyen-dev/numberhunt/internal/protocol"
)

var (
	ErrClosed       = errors.New("session closed")
	ErrAckTimeout   = errors.New("acknowledgement timed out")
	ErrDisconnected = errors.New("connection lost before acknowledgement")
	ErrSendBuffer   = errors.New("send buffer full")
)

// Handler receives the raw payload of one named event.
type Handler func(data json.RawMessage)

// AckFunc receives the acknowledgement payload, or an error if the ack timed
// out or the connection dropped first. Exactly one of the two is set.
type AckFunc func(data json.RawMessage, err error)

type Options struct {
	Logger      *zap.Logger
	Clock       clockwork.Clock
	AckTimeout  time.Duration
	DialTimeout time.Duration
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

type pendingAck struct {
	fn    AckFunc
	timer clockwork.Timer
}

type Session struct {
	url         string
	log         *zap.Logger
	clock       clockwork.Clock
	ackTimeout  time.Duration
	dialTimeout time.Duration
	minBackoff  time.Duration
	maxBackoff  time.Duration

	mu       sync.Mutex
	handlers map[string]Handler
	pending  map[uint64]*pendingAck
	seq      uint64
	closed   bool

	out    chan protocol.Envelope
	cancel context.CancelFunc
	done   chan struct{}
}

func New(url string, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 5 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 15 * time.Second
	}
	return &Session{
		url:         url,
		log:         opts.Logger,
		clock:       opts.Clock,
		ackTimeout:  opts.AckTimeout,
		dialTimeout: opts.DialTimeout,
		minBackoff:  opts.MinBackoff,
		maxBackoff:  opts.MaxBackoff,
		handlers:    make(map[string]Handler),
		pending:     make(map[uint64]*pendingAck),
		out:         make(chan protocol.Envelope, 64),
		done:        make(chan struct{}),
	}
}

// On registers the handler for a named event, replacing any previous one.
// The synthetic protocol.EventConnect fires on every (re)connection, not
// just the first.
func (s *Session) On(event string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = h
}

func (s *Session) Off(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, event)
}

// Emit queues a named event. When ack is non-nil the callback fires exactly
// once: with the reply payload, or with ErrAckTimeout/ErrDisconnected so
// callers never block indefinitely on a lost connection.
func (s *Session) Emit(event string, payload any, ack AckFunc) error {
	env, err := protocol.Marshal(event, payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if ack != nil {
		s.seq++
		seq := s.seq
		env.Seq = seq
		s.pending[seq] = &pendingAck{
			fn: ack,
			timer: s.clock.AfterFunc(s.ackTimeout, func() {
				s.expire(seq)
			}),
		}
	}
	s.mu.Unlock()

	select {
	case s.out <- env:
		return nil
	default:
		if env.Seq != 0 {
			if p := s.take(env.Seq); p != nil {
				p.timer.Stop()
			}
		}
		return ErrSendBuffer
	}
}

// Connect starts the connection manager. It returns immediately; the
// synthetic connect event announces each established connection.
func (s *Session) Connect(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(ctx)
}

// Close tears the session down. Pending acks fail with ErrClosed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.failPending(ErrClosed)
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	backoff := s.minBackoff
	for {
		dctx, cancel := context.WithTimeout(ctx, s.dialTimeout)
		conn, _, err := websocket.Dial(dctx, s.url, nil)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("dial failed",
				zap.String("url", s.url),
				zap.Duration("retry_in", backoff),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-s.clock.After(backoff):
			}
			backoff *= 2
			if backoff > s.maxBackoff {
				backoff = s.maxBackoff
			}
			continue
		}
		backoff = s.minBackoff
		s.log.Info("connected", zap.String("url", s.url))

		writeCtx, writeCancel := context.WithCancel(ctx)
		go s.writeLoop(writeCtx, conn)

		// Dependent components treat this as "connection (re)established".
		s.dispatch(protocol.EventConnect, nil)

		s.readLoop(ctx, conn)
		writeCancel()
		_ = conn.Close(websocket.StatusNormalClosure, "bye")

		// In-flight acks from the dead connection will never arrive.
		s.failPending(ErrDisconnected)

		if ctx.Err() != nil {
			return
		}
		s.log.Warn("connection lost, reconnecting")
	}
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Warn("bad frame", zap.Error(err))
			continue
		}
		if env.Ack != 0 {
			s.resolve(env.Ack, env.Data)
			continue
		}
		if env.Event != "" {
			s.dispatch(env.Event, env.Data)
		}
	}
}

func (s *Session) writeLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-s.out:
			data, err := json.Marshal(env)
			if err != nil {
				s.log.Warn("encode frame", zap.Error(err))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err = conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Session) dispatch(event string, data json.RawMessage) {
	s.mu.Lock()
	h := s.handlers[event]
	s.mu.Unlock()
	if h != nil {
		h(data)
	}
}

func (s *Session) take(seq uint64) *pendingAck {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending[seq]
	delete(s.pending, seq)
	return p
}

func (s *Session) resolve(seq uint64, data json.RawMessage) {
	if p := s.take(seq); p != nil {
		p.timer.Stop()
		p.fn(data, nil)
	}
}

func (s *Session) expire(seq uint64) {
	if p := s.take(seq); p != nil {
		p.fn(nil, ErrAckTimeout)
	}
}

func (s *Session) failPending(err error) {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[uint64]*pendingAck)
	s.mu.Unlock()
	for _, p := range pending {
		p.timer.Stop()
		p.fn(nil, err)
	}
}
