package session_test

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"taeu.kr/sessionkeeper/internal/platform/database"
	"taeu.kr/sessionkeeper/internal/session"
	"taeu.kr/sessionkeeper/internal/storage"
)

var tokenSeq atomic.Int64

// accessToken builds an unsigned compact token expiring at exp.
func accessToken(exp time.Time) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(
		fmt.Sprintf(`{"exp":%d,"jti":"%d"}`, exp.Unix(), tokenSeq.Add(1)),
	))
	return header + "." + payload + ".sig"
}

func freshToken() string   { return accessToken(time.Now().Add(time.Hour)) }
func expiredToken() string { return accessToken(time.Now().Add(-time.Hour)) }

// openDurable opens a durable store on the sqlite file at path.
func openDurable(t *testing.T, path string) *storage.SQLStore {
	t.Helper()

	db, err := database.NewDB(path, 5*time.Second)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewSQLStore(db)
}

func durablePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "session.db")
}

type testInstance struct {
	manager  *session.Manager
	durable  *storage.SQLStore
	renewer  *fakeRenewer
	registry *prometheus.Registry
}

// newInstance starts one application instance on the durable file at path.
func newInstance(t *testing.T, path string, renewer *fakeRenewer) *testInstance {
	t.Helper()

	durable := openDurable(t, path)
	registry := prometheus.NewRegistry()
	manager, err := session.NewManager(context.Background(), session.Options{
		Durable: durable,
		Watcher: storage.NewWatcher(durable, session.BroadcastKey, storage.WatcherOptions{
			Path:         path,
			PollInterval: 50 * time.Millisecond,
		}),
		Renewer: renewer,
		Metrics: session.NewMetrics(registry),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return &testInstance{manager: manager, durable: durable, renewer: renewer, registry: registry}
}

// fakeRenewer answers renewals from a script. When gate is set every call
// blocks until the gate is closed.
type fakeRenewer struct {
	mu      sync.Mutex
	calls   int
	seen    []session.Pair
	result  session.Pair
	err     error
	gate    chan struct{}
	entered chan struct{}
}

func newFakeRenewer(result session.Pair, err error) *fakeRenewer {
	return &fakeRenewer{result: result, err: err, entered: make(chan struct{}, 64)}
}

func (f *fakeRenewer) blocking() *fakeRenewer {
	f.gate = make(chan struct{})
	return f
}

func (f *fakeRenewer) release() { close(f.gate) }

func (f *fakeRenewer) Renew(ctx context.Context, _ session.Principal, current session.Pair) (session.Pair, error) {
	f.mu.Lock()
	f.calls++
	f.seen = append(f.seen, current)
	gate := f.gate
	result, err := f.result, f.err
	f.mu.Unlock()

	select {
	case f.entered <- struct{}{}:
	default:
	}
	if gate != nil {
		<-gate
	}
	return result, err
}

func (f *fakeRenewer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeRenewer) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-f.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("renewer was not called")
	}
}

// counterValue reads one counter series from reg.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := 0
			for _, pair := range metric.GetLabel() {
				if labels[pair.GetName()] == pair.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
