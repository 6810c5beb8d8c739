package socketapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/i474232898/querycache/internal/metrics"
	"github.com/i474232898/querycache/internal/query"
)

const (
	socketMode   = 0o660
	probeTimeout = 500 * time.Millisecond
)

var (
	// ErrDaemonRunning means another daemon answers on the socket path.
	ErrDaemonRunning = errors.New("another daemon is listening on the socket")
	// ErrNotSocket means the socket path exists and is not a socket.
	ErrNotSocket = errors.New("path exists and is not a socket")
)

// BindError reports that the socket path could not be acquired.
type BindError struct {
	Path string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Path, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Listen binds a unix socket at path. A stale socket left by a dead
// process is removed; a live daemon or a non-socket file is a BindError.
func Listen(path string) (net.Listener, error) {
	fi, err := os.Lstat(path)
	switch {
	case err == nil:
		if fi.Mode()&fs.ModeSocket == 0 {
			return nil, &BindError{Path: path, Err: ErrNotSocket}
		}
		conn, dialErr := net.DialTimeout("unix", path, probeTimeout)
		if dialErr == nil {
			conn.Close()
			return nil, &BindError{Path: path, Err: ErrDaemonRunning}
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, &BindError{Path: path, Err: fmt.Errorf("remove stale socket: %w", err)}
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, &BindError{Path: path, Err: err}
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, &BindError{Path: path, Err: err}
	}
	if err := os.Chmod(path, socketMode); err != nil {
		ln.Close()
		return nil, &BindError{Path: path, Err: fmt.Errorf("chmod: %w", err)}
	}
	return ln, nil
}

// Cache is the read side of the cache store.
type Cache interface {
	Get(key string) (query.CachedEntry, error)
}

// Tracker registers queries for periodic refresh.
type Tracker interface {
	Track(q query.Query) bool
}

// Options configures a Server.
type Options struct {
	// Interval is the refresh interval used to judge staleness.
	Interval        time.Duration
	RequestTimeout  time.Duration
	MaxRequestBytes int
	ShutdownGrace   time.Duration
	// AutoTrack registers unknown queries with the Tracker.
	AutoTrack bool
}

// Server answers cache lookups over a unix socket. It never fetches
// upstream; a miss is reported as not yet available.
type Server struct {
	cache   Cache
	tracker Tracker
	opts    Options
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a Server. tracker may be nil.
func NewServer(cache Cache, tracker Tracker, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Second
	}
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = 4096
	}
	return &Server{
		cache:   cache,
		tracker: tracker,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections on ln until ctx is cancelled, then closes ln,
// gives in-flight connections ShutdownGrace to finish and force-closes the
// rest.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var acceptErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("Accept timed out", zap.Error(err))
				continue
			}
			acceptErr = fmt.Errorf("accept: %w", err)
			break
		}

		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			s.handle(conn)
		}()
	}

	ln.Close()
	s.drain()
	return acceptErr
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// drain waits for in-flight connections, force-closing them after the
// grace period.
func (s *Server) drain() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(s.opts.ShutdownGrace):
	}

	s.mu.Lock()
	n := len(s.conns)
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	if n > 0 {
		s.logger.Warn("Force-closed connections after shutdown grace", zap.Int("connections", n))
	}
	<-done
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	log := s.logger.With(zap.String("conn_id", uuid.NewString()))
	_ = conn.SetDeadline(time.Now().Add(s.opts.RequestTimeout))

	resp, outcome := s.respond(conn, log)
	metrics.Requests.WithLabelValues(outcome).Inc()

	_ = conn.SetWriteDeadline(time.Now().Add(s.opts.RequestTimeout))
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		log.Debug("Failed to write response", zap.Error(err))
	}
}

func (s *Server) respond(conn net.Conn, log *zap.Logger) (Response, string) {
	frame, err := readFrame(conn, s.opts.MaxRequestBytes)
	if err == nil {
		var req Request
		req, err = decodeRequest(frame)
		if err == nil {
			return s.lookup(req.toQuery(), log)
		}
	}

	log.Warn("Malformed request", zap.Error(err))
	return failResponse(err.Error()), metrics.OutcomeMalformed
}

func (s *Server) lookup(q query.Query, log *zap.Logger) (Response, string) {
	entry, err := s.cache.Get(q.CacheKey())
	if err != nil {
		if s.opts.AutoTrack && s.tracker != nil && !q.IsDefault() {
			s.tracker.Track(q)
		}
		log.Debug("Cache miss", zap.String("query", q.String()), zap.Error(err))
		return failResponse(ReasonNotAvailable), metrics.OutcomeNotAvailable
	}

	log.Debug("Served cached value",
		zap.String("query", q.String()),
		zap.String("source", entry.Source))
	return okResponse(entry, s.now(), s.opts.Interval), metrics.OutcomeOK
}

// readFrame reads one newline-terminated frame of at most max bytes. A
// peer that closes its write side without a newline ends the frame too.
func readFrame(r io.Reader, max int) ([]byte, error) {
	br := bufio.NewReader(io.LimitReader(r, int64(max)+1))
	line, err := br.ReadBytes('\n')
	switch {
	case err == nil:
		line = line[:len(line)-1]
	case errors.Is(err, io.EOF):
	default:
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, fmt.Errorf("%w: timed out waiting for request", ErrMalformedRequest)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if len(line) > max {
		return nil, fmt.Errorf("%w: request exceeds %d bytes", ErrMalformedRequest, max)
	}
	return line, nil
}
