package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T, s *Server) (cancel context.CancelFunc, done <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for strings.HasSuffix(s.Addr(), ":0") {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("server did not start listening")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cancel, errCh
}

func TestServer_ServesAndShutsDownLIFO(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	s := New(handler, 0, time.Second, time.Second, 2*time.Second, discardLogger())

	var mu sync.Mutex
	var order []string
	record := func(name string) ShutdownFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	s.OnShutdown("store", record("store"))
	s.OnShutdown("tracker", record("tracker"))
	s.OnShutdown("scheduler", record("scheduler"))

	cancel, done := startServer(t, s)

	_, port, _ := net.SplitHostPort(s.Addr())
	resp, err := http.Get("http://127.0.0.1:" + port + "/")
	if err != nil {
		cancel()
		t.Fatalf("GET failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Errorf("body = %q, want ok", body)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}

	want := []string{"scheduler", "tracker", "store"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("shutdown order = %v, want %v", order, want)
	}
}

func TestServer_BackgroundServicesStopOnShutdown(t *testing.T) {
	t.Parallel()

	s := New(http.NotFoundHandler(), 0, time.Second, time.Second, 2*time.Second, discardLogger())

	started := make(chan struct{})
	stopped := make(chan struct{})
	s.Go("worker", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	})
	s.Go("failing", func(ctx context.Context) error {
		return errors.New("boom")
	})

	cancel, done := startServer(t, s)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("background service did not start")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}

	select {
	case <-stopped:
	default:
		t.Fatal("background service still running after Run returned")
	}
}

func TestServer_ShutdownErrorsAreReturned(t *testing.T) {
	t.Parallel()

	s := New(http.NotFoundHandler(), 0, time.Second, time.Second, time.Second, discardLogger())
	failure := errors.New("flush failed")
	s.OnShutdown("tracker", func(ctx context.Context) error { return failure })

	var ran bool
	s.OnShutdown("scheduler", func(ctx context.Context) error {
		ran = true
		return nil
	})

	cancel, done := startServer(t, s)
	cancel()

	err := <-done
	if !errors.Is(err, failure) {
		t.Fatalf("Run error = %v, want %v", err, failure)
	}
	if !ran {
		t.Error("later components must still shut down after an earlier failure")
	}
}

func TestServer_ListenError(t *testing.T) {
	t.Parallel()

	s := New(http.NotFoundHandler(), -1, time.Second, time.Second, time.Second, discardLogger())
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected listen error for invalid port")
	}
}
