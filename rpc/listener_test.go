package rpc

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

func startListener(t *testing.T) (*Listener, string) {
	t.Helper()
	daemon := newTestDaemon(t, nil)
	socketPath := filepath.Join(t.TempDir(), "sumid.sock")

	listener, err := NewListener(socketPath, daemon.dispatcher, glog.Nop())
	if err != nil {
		t.Fatalf("listener: %v", err)
	}
	go func() {
		if serveErr := listener.Serve(context.Background()); serveErr != nil {
			t.Errorf("serve: %v", serveErr)
		}
	}()
	waitForSocket(t, socketPath)
	return listener, socketPath
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("socket %s never appeared", path)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestListenerServesNewlineFramedRequests(t *testing.T) {
	listener, socketPath := startListener(t)
	defer listener.Close()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	reader := bufio.NewReader(conn)

	for i := 0; i < 3; i++ {
		if _, err := conn.Write([]byte(`{"jsonrpc":"2.0","method":"status","id":1}` + "\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
		line, err := reader.ReadBytes('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		decoded := decodeLine(t, line)
		result, ok := decoded["result"].(map[string]any)
		if !ok || result["version"] != "0.1.0" {
			t.Fatalf("unexpected response %s", line)
		}
	}
}

func TestListenerHandlesConcurrentConnections(t *testing.T) {
	listener, socketPath := startListener(t)
	defer listener.Close()

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			conn, err := net.Dial("unix", socketPath)
			if err != nil {
				done <- err
				return
			}
			defer conn.Close()
			if _, err := conn.Write([]byte(`{"jsonrpc":"2.0","method":"account.list","id":2}` + "\n")); err != nil {
				done <- err
				return
			}
			_, err = bufio.NewReader(conn).ReadBytes('\n')
			done <- err
		}()
	}
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("connection %d: %v", i, err)
		}
	}
}

func TestListenerReportsParseErrorsPerLine(t *testing.T) {
	listener, socketPath := startListener(t)
	defer listener.Close()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	reader := bufio.NewReader(conn)

	if _, err := conn.Write([]byte("not json at all\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if code := errorCode(t, decodeLine(t, line)); code != -32700 {
		t.Fatalf("expected a parse error, got %d", code)
	}

	// the connection survives a bad line
	if _, err := conn.Write([]byte(`{"jsonrpc":"2.0","method":"status","id":3}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := reader.ReadBytes('\n'); err != nil {
		t.Fatalf("read after parse error: %v", err)
	}
}

func TestListenerCloseRemovesSocket(t *testing.T) {
	listener, socketPath := startListener(t)
	if err := listener.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Fatalf("socket file must be removed on shutdown, stat err=%v", err)
	}
}

func TestListenerRefusesNonSocketPath(t *testing.T) {
	daemon := newTestDaemon(t, nil)
	path := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(path, []byte("data"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	listener, err := NewListener(path, daemon.dispatcher, glog.Nop())
	if err != nil {
		t.Fatalf("listener: %v", err)
	}
	if err := listener.Serve(context.Background()); err == nil {
		t.Fatalf("expected a refusal for a non-socket path")
	}
}
