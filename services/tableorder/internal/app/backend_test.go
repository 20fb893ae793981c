package app

import (
	"context"
	"errors"
	"testing"

	"github.com/aquamarinepk/aqm"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/auth"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/memory"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/orders"
)

type recorder struct {
	name     string
	calls    *[]string
	startErr error
}

func (r recorder) Start(context.Context) error {
	*r.calls = append(*r.calls, "start "+r.name)
	return r.startErr
}

func (r recorder) Stop(context.Context) error {
	*r.calls = append(*r.calls, "stop "+r.name)
	return nil
}

func TestOpenBackendDefaults(t *testing.T) {
	b, err := OpenBackend(aqm.NewConfig(), nil)
	if err != nil {
		t.Fatalf("OpenBackend() error = %v", err)
	}

	mem, ok := b.Store.(*memory.Store)
	if !ok {
		t.Fatalf("Store is %T, want *memory.Store", b.Store)
	}
	if b.Feed != mem {
		t.Errorf("Feed is %T, want the memory store", b.Feed)
	}
	if _, ok := b.Locker.(*orders.KeyedMutex); !ok {
		t.Errorf("Locker is %T, want *orders.KeyedMutex", b.Locker)
	}
	svc, ok := b.Auth.(*auth.Service)
	if !ok {
		t.Fatalf("Auth is %T, want *auth.Service", b.Auth)
	}
	if svc.Revocations() == nil {
		t.Error("auth service has no revocation list")
	}

	ctx := context.Background()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := b.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestBackendLifecycleOrder(t *testing.T) {
	tests := []struct {
		name      string
		failAt    int
		wantCalls []string
		wantErr   bool
	}{
		{
			name:      "allStart",
			failAt:    -1,
			wantCalls: []string{"start a", "start b", "hook start", "stop hook", "stop b", "stop a"},
		},
		{
			name:      "failureStopsStarted",
			failAt:    1,
			wantCalls: []string{"start a", "start b", "stop a"},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []string
			a := recorder{name: "a", calls: &calls}
			b := recorder{name: "b", calls: &calls}
			if tt.failAt == 1 {
				b.startErr = errors.New("boom")
			}
			hook := aqm.LifecycleHooks{
				OnStart: func(context.Context) error { calls = append(calls, "hook start"); return nil },
				OnStop:  func(context.Context) error { calls = append(calls, "stop hook"); return nil },
			}
			be := &Backend{lifecycles: []interface{}{a, b, hook}}

			ctx := context.Background()
			err := be.Start(ctx)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Start() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				_ = be.Stop(ctx)
			}

			if len(calls) != len(tt.wantCalls) {
				t.Fatalf("calls = %v, want %v", calls, tt.wantCalls)
			}
			for i := range calls {
				if calls[i] != tt.wantCalls[i] {
					t.Errorf("calls[%d] = %q, want %q", i, calls[i], tt.wantCalls[i])
				}
			}
		})
	}
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(nil, nil, nil); err == nil {
		t.Error("New() accepted a nil config")
	}
}

func TestRunBeforeInitialize(t *testing.T) {
	a, err := New(aqm.NewConfig(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Run(context.Background()); err == nil {
		t.Error("Run() before Initialize() returned nil")
	}
}
