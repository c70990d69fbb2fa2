package registration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/NERVsystems/lkmap/pkg/core"
)

type fakeRegistry struct {
	mu      sync.Mutex
	entries map[string]Entry
	status  int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{entries: make(map[string]Entry), status: http.StatusOK}
}

func (f *fakeRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status != http.StatusOK {
		w.WriteHeader(f.status)
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/register":
		var e Entry
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.entries[e.Name] = e
		json.NewEncoder(w).Encode(Lease{Status: "registered", Name: e.Name, TTLSeconds: 90})
	case r.Method == http.MethodDelete:
		delete(f.entries, r.URL.Path[len("/api/register/"):])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeRegistry) has(name string) (Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[name]
	return e, ok
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegisterAndDeregister(t *testing.T) {
	reg := newFakeRegistry()
	ts := httptest.NewServer(reg)
	defer ts.Close()

	c := NewClient(Config{
		RegistryURL: ts.URL + "/",
		ServiceName: "lkmap",
		ServiceURL:  "http://localhost:7082",
		Tools:       []string{"list_categories"},
	}, quietLogger())

	lease, err := c.Register(context.Background())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if lease.Name != "lkmap" || lease.TTLSeconds != 90 {
		t.Errorf("unexpected lease %+v", lease)
	}
	if !c.IsRegistered() {
		t.Error("client should report registered")
	}
	e, ok := reg.has("lkmap")
	if !ok {
		t.Fatal("registry has no entry")
	}
	if e.Type != "mcp" || len(e.Tools) != 1 {
		t.Errorf("unexpected entry %+v", e)
	}

	if err := c.Deregister(context.Background()); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	if _, ok := reg.has("lkmap"); ok {
		t.Error("entry still present after deregistration")
	}
	if c.IsRegistered() {
		t.Error("client should report deregistered")
	}
}

func TestRegisterFailure(t *testing.T) {
	reg := newFakeRegistry()
	reg.status = http.StatusServiceUnavailable
	ts := httptest.NewServer(reg)
	defer ts.Close()

	c := NewClient(Config{RegistryURL: ts.URL, ServiceName: "lkmap"}, quietLogger())
	_, err := c.Register(context.Background())
	if !core.HasCode(err, core.ErrServiceUnavailable) {
		t.Errorf("expected SERVICE_UNAVAILABLE, got %v", err)
	}
	if c.IsRegistered() {
		t.Error("client should not report registered")
	}
}

func TestStartStop(t *testing.T) {
	reg := newFakeRegistry()
	ts := httptest.NewServer(reg)
	defer ts.Close()

	c := NewClient(Config{
		RegistryURL:       ts.URL,
		ServiceName:       "lkmap",
		HeartbeatInterval: 10 * time.Millisecond,
	}, quietLogger())
	c.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for !c.IsRegistered() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !c.IsRegistered() {
		t.Fatal("client never registered")
	}

	c.Stop()
	if _, ok := reg.has("lkmap"); ok {
		t.Error("Stop should deregister")
	}
}

func TestStartWithoutRegistry(t *testing.T) {
	c := NewClient(Config{ServiceName: "lkmap"}, quietLogger())
	c.Start(context.Background())
	c.Stop()
	if c.IsRegistered() {
		t.Error("client without registry should never register")
	}
}
