package trace

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

// defaultBatchSize is the sender's default batching threshold.
const defaultBatchSize = 64

// wireConn is the minimal surface Sender needs from its transport. Real
// use dials a net.Conn; tests substitute anything that writes bytes
// somewhere they can read them back (net.Pipe, an in-memory buffer).
type wireConn interface {
	io.Writer
	io.Closer
}

// Sender is a batched length-prefixed writer over a local stream socket.
// It is safe for concurrent use: multiple vCPU-thread goroutines may call
// Submit at once.
type Sender struct {
	mu            sync.Mutex
	conn          wireConn
	batchSize     int
	buf           []byte
	pendingEvents int
	enc           *frameEncoder
	dead          bool
	loggedErr     bool
	log           *slog.Logger
}

// SetupSender dials socketPath and returns a Sender batching by count,
// batchSize events per flush (0 selects the default of 64).
func SetupSender(socketPath string, batchSize int, log *slog.Logger) (*Sender, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("trace: connect sender socket %q: %w", socketPath, err)
	}
	s := newSender(conn, batchSize, log)
	widenSendBuffer(conn, s.batchSize)
	return s, nil
}

func newSender(conn wireConn, batchSize int, log *slog.Logger) *Sender {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sender{
		conn:      conn,
		batchSize: batchSize,
		enc:       newFrameEncoder(),
		log:       log,
	}
}

// widenSendBuffer raises SO_SNDBUF to comfortably hold one full batch so a
// Submit call is unlikely to block the calling vCPU thread on a short
// kernel buffer. Failure is not fatal, since it only affects throughput,
// so it is silently ignored.
func widenSendBuffer(conn net.Conn, batchSize int) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return
	}
	wanted := batchSize * 256
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, wanted)
	})
}

// Submit serializes one event and appends it to the internal buffer,
// flushing when batchSize events have accumulated. A Sender that has
// latched dead (after a prior write failure) silently drops the event,
// logging once.
func (s *Sender) Submit(ev *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dead {
		return
	}

	s.buf = append(s.buf, encodeEvent(ev, s.enc)...)
	s.pendingEvents++
	if s.pendingEvents >= s.batchSize {
		s.flushLocked()
	}
}

func (s *Sender) flushLocked() {
	if len(s.buf) == 0 {
		return
	}
	if _, err := s.conn.Write(s.buf); err != nil {
		s.latchDeadLocked(err)
		return
	}
	s.buf = s.buf[:0]
	s.pendingEvents = 0
}

func (s *Sender) latchDeadLocked(err error) {
	s.dead = true
	if !s.loggedErr {
		s.loggedErr = true
		s.log.Warn("trace: sender socket write failed, dropping further events", "error", err)
	}
}

// Teardown flushes any residual buffered events, sends a single
// terminator frame, and closes the socket.
func (s *Sender) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dead {
		s.flushLocked()
		if _, err := s.conn.Write(terminatorFrame()); err != nil {
			s.latchDeadLocked(err)
		}
	}
	_ = s.conn.Close()
}
