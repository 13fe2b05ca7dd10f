package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeRegisterClient struct {
	calls int64
	block chan struct{}
	err   error
}

func (f *fakeRegisterClient) RegisterBuiltinPlayer(ctx context.Context, playerID, name string) error {
	atomic.AddInt64(&f.calls, 1)
	if f.block != nil {
		<-f.block
	}
	return f.err
}

func TestEnsureRegistersOnce(t *testing.T) {
	client := &fakeRegisterClient{}
	r := &Registrar{Client: client, PlayerID: "masgo_own", PlayerName: "This Device"}

	for i := 0; i < 3; i++ {
		if err := r.Ensure(context.Background()); err != nil {
			t.Fatalf("Ensure() err = %v, want nil", err)
		}
	}

	if got := atomic.LoadInt64(&client.calls); got != 1 {
		t.Fatalf("RegisterBuiltinPlayer calls = %d, want 1", got)
	}
	if r.State() != RegRegistered {
		t.Fatalf("State() = %v, want RegRegistered", r.State())
	}
}

func TestEnsureConcurrentCallersShareOneAttempt(t *testing.T) {
	client := &fakeRegisterClient{block: make(chan struct{})}
	r := &Registrar{Client: client, PlayerID: "masgo_own", PlayerName: "This Device"}

	var wg sync.WaitGroup
	errs := make([]error, 5)

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs[n] = r.Ensure(context.Background())
		}(i)
	}

	close(client.block)
	wg.Wait()

	for n, err := range errs {
		if err != nil {
			t.Fatalf("Ensure() caller %d err = %v, want nil", n, err)
		}
	}
	if got := atomic.LoadInt64(&client.calls); got != 1 {
		t.Fatalf("RegisterBuiltinPlayer calls = %d, want 1", got)
	}
}

func TestEnsureFailureSticksUntilReset(t *testing.T) {
	client := &fakeRegisterClient{err: errors.New("server rejected")}
	r := &Registrar{Client: client, PlayerID: "masgo_own", PlayerName: "This Device"}

	if err := r.Ensure(context.Background()); err == nil {
		t.Fatalf("Ensure() err = nil, want registration error")
	}
	if r.State() != RegFailed {
		t.Fatalf("State() = %v, want RegFailed", r.State())
	}

	// Failure is remembered without a second server call.
	if err := r.Ensure(context.Background()); err == nil {
		t.Fatalf("Ensure() err = nil, want cached failure")
	}
	if got := atomic.LoadInt64(&client.calls); got != 1 {
		t.Fatalf("RegisterBuiltinPlayer calls = %d, want 1", got)
	}

	client.err = nil
	r.Reset()

	if err := r.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure() after Reset err = %v, want nil", err)
	}
	if r.State() != RegRegistered {
		t.Fatalf("State() = %v, want RegRegistered", r.State())
	}
}
