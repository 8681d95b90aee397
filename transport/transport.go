package transport

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/badgeteam/badgefs"
	"github.com/badgeteam/badgefs/config"
	"github.com/badgeteam/badgefs/internal/util"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
)

// Transport multiplexes request/response exchanges and unsolicited console
// output over one byte stream. It is the process's single session to the
// device: no reconnect is attempted after a stream error, and every
// operation observed after failure reports the stored fatal error.
//
// Responses are routed to callers by message ID. An abandoned (timed out)
// request leaves no pending entry, so a late reply is discarded by the
// read loop while the decoder's magic-marker scan realigns framing; the
// next exchange starts clean.
type Transport struct {
	cfg    *config.Config
	logger util.Logger
	stream io.ReadWriteCloser

	writeMu sync.Mutex // serializes raw frame writes (requests + keepalives)
	lastID  atomic.Uint32

	pending *xsync.Map[uint32, chan Frame]

	console chan []byte

	userClosed atomic.Bool
	closeOnce  sync.Once
	done       chan struct{}
	failure    error // valid once done is closed
}

// New wraps an open device byte stream and starts the read loop. The
// caller keeps ownership of nothing: Close tears the stream down.
func New(stream io.ReadWriteCloser, cfg *config.Config) *Transport {
	t := &Transport{
		cfg:     cfg,
		stream:  stream,
		pending: xsync.NewMap[uint32, chan Frame](),
		console: make(chan []byte, cfg.ConsoleBacklog),
		done:    make(chan struct{}),
	}
	t.logger = util.GetLogger("transport").With().
		Str("session", uuid.NewString()).Logger()

	go t.readLoop()
	t.logger.Debug().Msg("Session opened")
	return t
}

// Roundtrip sends one request and blocks for its response, the configured
// timeout, or session failure, whichever comes first. Timeouts are never
// retried here: the device does not guarantee idempotence, so replaying is
// the caller's decision.
func (t *Transport) Roundtrip(op uint16, payload []byte) (Frame, error) {
	select {
	case <-t.done:
		return Frame{}, t.failure
	default:
	}

	id := t.lastID.Add(1)
	ch := make(chan Frame, 1)
	t.pending.Store(id, ch)
	defer t.pending.Delete(id)

	t.logger.Trace().Uint16("op", op).Uint32("msgID", id).
		Int("len", len(payload)).Msg("Request")
	if err := t.writeFrame(Frame{Op: op, MsgID: id, Payload: payload}); err != nil {
		return Frame{}, err
	}

	timer := time.NewTimer(t.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case f := <-ch:
		t.logger.Trace().Uint16("op", f.Op).Uint32("msgID", f.MsgID).
			Int("len", len(f.Payload)).Msg("Response")
		return f, nil
	case <-timer.C:
		t.logger.Warn().Uint16("op", op).Uint32("msgID", id).Msg("Request timed out")
		return Frame{}, fmt.Errorf("op %d: %w", op, badgefs.ErrTimeout)
	case <-t.done:
		return Frame{}, t.failure
	}
}

// Notify sends a frame with message ID 0 and expects no reply. Used for
// the keepalive and for console input nudges where the device's status
// reply (if any) is uninteresting.
func (t *Transport) Notify(op uint16, payload []byte) error {
	select {
	case <-t.done:
		return t.failure
	default:
	}
	return t.writeFrame(Frame{Op: op, MsgID: 0, Payload: payload})
}

// Console returns the channel carrying unsolicited console output chunks.
// When the backlog fills, the oldest chunk is dropped.
func (t *Transport) Console() <-chan []byte {
	return t.console
}

// Done is closed when the session has failed or been closed; Err reports
// why.
func (t *Transport) Done() <-chan struct{} { return t.done }

func (t *Transport) Err() error {
	select {
	case <-t.done:
		return t.failure
	default:
		return nil
	}
}

// Close shuts the session down. Blocked Roundtrip callers fail with
// ErrUnmounted.
func (t *Transport) Close() error {
	t.userClosed.Store(true)
	err := t.stream.Close()
	t.fail(nil)
	return err
}

func (t *Transport) writeFrame(f Frame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	buf := appendFrame(make([]byte, 0, headerLen+len(f.Payload)), f)
	for len(buf) > 0 {
		n, err := t.stream.Write(buf)
		if err != nil {
			t.logger.Error().Err(err).Msg("Stream write failed")
			t.fail(err)
			return t.failure
		}
		buf = buf[n:]
	}
	return nil
}

func (t *Transport) readLoop() {
	// Dispatch happens only on this goroutine, so closing the console
	// channel here cannot race a send; it signals EOF to console readers.
	defer close(t.console)

	var dec decoder
	buf := make([]byte, 4096)
	for {
		n, err := t.stream.Read(buf)
		if n > 0 {
			dec.feed(buf[:n])
			for {
				f, ok := dec.next()
				if !ok {
					break
				}
				t.dispatch(f)
			}
			if dropped := dec.takeDropped(); dropped > 0 {
				t.logger.Warn().Int("bytes", dropped).Msg("Dropped garbage while realigning frames")
			}
		}
		if err != nil {
			t.fail(err)
			return
		}
	}
}

func (t *Transport) dispatch(f Frame) {
	if f.MsgID != 0 {
		if ch, ok := t.pending.LoadAndDelete(f.MsgID); ok {
			ch <- f
			return
		}
		// Reply to an abandoned request; discard.
		t.logger.Debug().Uint16("op", f.Op).Uint32("msgID", f.MsgID).
			Msg("Discarding reply with no pending request")
		return
	}

	if f.Op == OpLog {
		select {
		case t.console <- f.Payload:
		default:
			select {
			case <-t.console:
			default:
			}
			select {
			case t.console <- f.Payload:
			default:
			}
		}
		return
	}

	t.logger.Debug().Uint16("op", f.Op).Int("len", len(f.Payload)).
		Msg("Unhandled unsolicited frame")
}

func (t *Transport) fail(cause error) {
	t.closeOnce.Do(func() {
		switch {
		case t.userClosed.Load():
			t.failure = badgefs.ErrUnmounted
		case cause != nil:
			t.failure = fmt.Errorf("%w: %v", badgefs.ErrDisconnected, cause)
		default:
			t.failure = badgefs.ErrDisconnected
		}
		close(t.done)
		if !t.userClosed.Load() {
			t.logger.Error().Err(t.failure).Msg("Session failed")
		}
	})
}
