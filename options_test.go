package workpump

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew_Defaults(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if p.PollInterval() != 5*time.Second {
		t.Errorf("PollInterval() = %v, want %v", p.PollInterval(), 5*time.Second)
	}
	if p.BatchSize() != 50 {
		t.Errorf("BatchSize() = %v, want %v", p.BatchSize(), 50)
	}
	if p.Workers() != 4 {
		t.Errorf("Workers() = %v, want %v", p.Workers(), 4)
	}
	if p.Port() != 8080 {
		t.Errorf("Port() = %v, want %v", p.Port(), 8080)
	}
	rp := p.RetryPolicy()
	if rp.Attempts != 3 || rp.InitialDelay != 500*time.Millisecond {
		t.Errorf("RetryPolicy() = %+v, want 3 attempts with 500ms initial delay", rp)
	}
	if p.QueueDepth() != 0 || p.InFlight() != 0 {
		t.Errorf("QueueDepth() = %d, InFlight() = %d before Start, want 0", p.QueueDepth(), p.InFlight())
	}
}

func TestWithStore(t *testing.T) {
	st := NewMemoryStore()
	it, err := st.Insert(context.Background(), "seeded")
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	p, err := New(WithStore(st))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got, err := p.Get(context.Background(), it.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Payload != "seeded" {
		t.Errorf("Get().Payload = %q, want %q", got.Payload, "seeded")
	}
}

func TestWithStore_Nil(t *testing.T) {
	_, err := New(WithStore(nil))
	if err == nil || !strings.Contains(err.Error(), "store cannot be nil") {
		t.Errorf("New() error = %v, want error containing 'store cannot be nil'", err)
	}
}

func TestWithProcessor_Nil(t *testing.T) {
	_, err := New(WithProcessor(nil))
	if err == nil || !strings.Contains(err.Error(), "processor cannot be nil") {
		t.Errorf("New() error = %v, want error containing 'processor cannot be nil'", err)
	}
}

func TestWithPollInterval(t *testing.T) {
	p, err := New(WithPollInterval(250 * time.Millisecond))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.PollInterval() != 250*time.Millisecond {
		t.Errorf("PollInterval() = %v, want %v", p.PollInterval(), 250*time.Millisecond)
	}
}

func TestPositiveOptions_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
		want string
	}{
		{"zero poll interval", WithPollInterval(0), "poll interval must be positive"},
		{"negative poll interval", WithPollInterval(-time.Second), "poll interval must be positive"},
		{"zero batch size", WithBatchSize(0), "batch size must be positive"},
		{"negative workers", WithWorkers(-1), "workers must be positive"},
		{"zero workers", WithWorkers(0), "workers must be positive"},
		{"zero warmup interval", WithWarmupInterval(0), "warmup interval must be positive"},
		{"zero insert rate", WithInsertRateLimit(0, 1), "insert rate must be positive"},
		{"zero insert burst", WithInsertRateLimit(1, 0), "insert burst must be at least 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opt)
			if err == nil {
				t.Fatalf("New() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("New() error = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestWithInsertRateLimit(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if r, b := p.InsertRateLimit(); r != 0 || b != 0 {
		t.Errorf("default InsertRateLimit() = (%v, %d), want unlimited", r, b)
	}

	p, err = New(WithInsertRateLimit(20, 5))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if r, b := p.InsertRateLimit(); r != 20 || b != 5 {
		t.Errorf("InsertRateLimit() = (%v, %d), want (20, 5)", r, b)
	}
}

func TestWithBatchSizeAndWorkers(t *testing.T) {
	p, err := New(WithBatchSize(7), WithWorkers(2))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.BatchSize() != 7 {
		t.Errorf("BatchSize() = %v, want 7", p.BatchSize())
	}
	if p.Workers() != 2 {
		t.Errorf("Workers() = %v, want 2", p.Workers())
	}
}

func TestWithRetryPolicy(t *testing.T) {
	policy := RetryPolicy{Attempts: 5, InitialDelay: time.Second, MaxDelay: 10 * time.Second}
	p, err := New(WithRetryPolicy(policy))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.RetryPolicy() != policy {
		t.Errorf("RetryPolicy() = %+v, want %+v", p.RetryPolicy(), policy)
	}
}

func TestWithRetryPolicy_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		policy RetryPolicy
	}{
		{"zero attempts", RetryPolicy{Attempts: 0, InitialDelay: time.Second}},
		{"negative delay", RetryPolicy{Attempts: 3, InitialDelay: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(WithRetryPolicy(tt.policy)); err == nil {
				t.Errorf("New() expected error for %+v, got nil", tt.policy)
			}
		})
	}
}

func TestWithPort_Invalid(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"zero port", 0},
		{"negative port", -1},
		{"port too high", 65536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(WithPort(tt.port))
			if err == nil {
				t.Errorf("New() expected error for port %d, got nil", tt.port)
			}
			if err != nil && !strings.Contains(err.Error(), "port must be between 1 and 65535") {
				t.Errorf("New() error = %v, want error containing 'port must be between 1 and 65535'", err)
			}
		})
	}
}

func TestWithPort_ValidEdgeCases(t *testing.T) {
	for _, port := range []int{1, 65535} {
		p, err := New(WithPort(port))
		if err != nil {
			t.Errorf("New(WithPort(%d)) error = %v", port, err)
			continue
		}
		if p.Port() != port {
			t.Errorf("Port() = %v, want %v", p.Port(), port)
		}
	}
}

func TestWithoutHTTP(t *testing.T) {
	p, err := New(WithoutHTTP())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.serveHTTP {
		t.Error("serveHTTP = true after WithoutHTTP, want false")
	}
}

func TestWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := New(WithRegistry(reg))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.Registry() != reg {
		t.Error("Registry() did not return the configured registry")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "workpump_queue_depth" {
			found = true
		}
	}
	if !found {
		t.Error("workpump_queue_depth not registered")
	}
}

func TestWithRegistry_SharedRegistryRejectsSecondPipeline(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(WithRegistry(reg)); err != nil {
		t.Fatalf("New() error = %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("second pipeline on the same registry should panic on duplicate registration")
		}
	}()
	_, _ = New(WithRegistry(reg))
}

func TestWithRegistry_Nil(t *testing.T) {
	_, err := New(WithRegistry(nil))
	if err == nil || !strings.Contains(err.Error(), "registry cannot be nil") {
		t.Errorf("New() error = %v, want error containing 'registry cannot be nil'", err)
	}
}

func TestWithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	p, err := New(WithLogger(logger))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.logger != logger {
		t.Error("logger not applied")
	}
}

func TestWithLogger_Nil(t *testing.T) {
	_, err := New(WithLogger(nil))
	if err == nil {
		t.Error("New() expected error for nil logger, got nil")
	}
	if err != nil && !strings.Contains(err.Error(), "logger cannot be nil") {
		t.Errorf("New() error = %v, want error containing 'logger cannot be nil'", err)
	}
}

func TestWithLogger_DefaultsToSlogDefault(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.logger != slog.Default() {
		t.Error("logger should default to slog.Default()")
	}
}

func TestWithTitle(t *testing.T) {
	p, err := New(WithTitle("Billing Jobs"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.title != "Billing Jobs" {
		t.Errorf("title = %q, want %q", p.title, "Billing Jobs")
	}
}

func TestNew_FirstInvalidOptionWins(t *testing.T) {
	_, err := New(WithWorkers(0), WithLogger(nil))
	if err == nil {
		t.Fatal("New() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "workers") {
		t.Errorf("New() error = %v, want the workers error", err)
	}
	if errors.Is(err, ErrRunning) {
		t.Error("option errors must not wrap ErrRunning")
	}
}
