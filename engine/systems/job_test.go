package systems

import (
	"errors"
	"testing"
	"time"
)

func TestNewJobSystemRejectsBadSizes(t *testing.T) {
	if _, err := NewJobSystem(0, 1); !errors.Is(err, ErrNoWorkers) {
		t.Errorf("expected ErrNoWorkers, got %v", err)
	}
	if _, err := NewJobSystem(1, -1); !errors.Is(err, ErrNegativeChannelSize) {
		t.Errorf("expected ErrNegativeChannelSize, got %v", err)
	}
}

// waitUpdate calls Update until want jobs have finished.
func waitUpdate(t *testing.T, js *JobSystem, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	got := 0
	for got < want {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d jobs finished", got, want)
		}
		got += js.Update()
		time.Sleep(time.Millisecond)
	}
}

func TestCallbacksRunOnUpdate(t *testing.T) {
	js, err := NewJobSystem(2, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer js.Shutdown()

	var completed []any
	var failed []error
	boom := errors.New("boom")

	js.Submit(JobTask{
		Name:       "ok",
		OnStart:    func() (any, error) { return 42, nil },
		OnComplete: func(r any) { completed = append(completed, r) },
		OnFailure:  func(err error) { failed = append(failed, err) },
	})
	js.Submit(JobTask{
		Name:       "fails",
		OnStart:    func() (any, error) { return nil, boom },
		OnComplete: func(r any) { completed = append(completed, r) },
		OnFailure:  func(err error) { failed = append(failed, err) },
	})

	waitUpdate(t, js, 2)
	if len(completed) != 1 || completed[0] != 42 {
		t.Errorf("completed = %v, want [42]", completed)
	}
	if len(failed) != 1 || !errors.Is(failed[0], boom) {
		t.Errorf("failed = %v, want [boom]", failed)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	js, err := NewJobSystem(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := js.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if err := js.Shutdown(); err != nil {
		t.Fatal(err)
	}
}
