package rpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/sumi-social/sumid/core"
)

// maxLineBytes bounds a single request line. Requests are small control
// messages; anything past this is a misbehaving client.
const maxLineBytes = 1 << 20

// Listener serves the dispatcher over a unix domain socket. Requests are
// newline framed and handled sequentially per connection; connections run
// concurrently.
type Listener struct {
	socketPath string
	dispatcher *Dispatcher
	logger     core.Logger

	mu       sync.Mutex
	listener net.Listener
	closing  bool
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

func NewListener(socketPath string, dispatcher *Dispatcher, logger core.Logger) (*Listener, error) {
	if socketPath == "" {
		return nil, fmt.Errorf("rpc: listener requires a socket path")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("rpc: listener requires a dispatcher")
	}
	return &Listener{
		socketPath: socketPath,
		dispatcher: dispatcher,
		logger:     glog.Ensure(logger),
		conns:      map[net.Conn]struct{}{},
	}, nil
}

// Serve binds the socket and accepts connections until Close. A stale socket
// file from a previous run is removed before binding.
func (l *Listener) Serve(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.socketPath), 0o700); err != nil {
		return fmt.Errorf("rpc: socket directory: %w", err)
	}
	if err := removeStaleSocket(l.socketPath); err != nil {
		return err
	}

	listener, err := net.Listen("unix", l.socketPath)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", l.socketPath, err)
	}
	if err := os.Chmod(l.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("rpc: socket permissions: %w", err)
	}

	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		listener.Close()
		return nil
	}
	l.listener = listener
	l.mu.Unlock()

	l.logger.Info("listening", "socket", l.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if l.isClosing() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("rpc: accept: %w", err)
		}
		l.track(conn)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.serveConn(ctx, conn)
		}()
	}
}

// Close stops accepting, closes open connections, and removes the socket
// file.
func (l *Listener) Close() error {
	l.mu.Lock()
	l.closing = true
	listener := l.listener
	open := make([]net.Conn, 0, len(l.conns))
	for conn := range l.conns {
		open = append(open, conn)
	}
	l.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	for _, conn := range open {
		conn.Close()
	}
	l.wg.Wait()
	if removeErr := os.Remove(l.socketPath); removeErr != nil && !os.IsNotExist(removeErr) && err == nil {
		err = removeErr
	}
	return err
}

func (l *Listener) serveConn(ctx context.Context, conn net.Conn) {
	defer func() {
		conn.Close()
		l.untrack(conn)
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		response := l.dispatcher.HandleLine(ctx, line)
		if _, err := writer.Write(response); err != nil {
			return
		}
		if err := writer.WriteByte('\n'); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil && !l.isClosing() && !errors.Is(err, net.ErrClosed) {
		l.logger.Error("connection read failed", "error", err)
	}
}

func (l *Listener) track(conn net.Conn) {
	l.mu.Lock()
	l.conns[conn] = struct{}{}
	l.mu.Unlock()
}

func (l *Listener) untrack(conn net.Conn) {
	l.mu.Lock()
	delete(l.conns, conn)
	l.mu.Unlock()
}

func (l *Listener) isClosing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closing
}

// removeStaleSocket unlinks a leftover socket file. A regular file at the
// socket path is someone else's data and is left alone.
func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("rpc: inspect socket path: %w", err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("rpc: %s exists and is not a socket", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("rpc: remove stale socket: %w", err)
	}
	return nil
}
