package worker

import (
	"context"
	"testing"
	"time"
)

type fakeSweepable struct {
	removed int64
	calls   int
}

func (f *fakeSweepable) Sweep(ctx context.Context) (int64, error) {
	f.calls++
	return f.removed, nil
}

type fakeSubs struct {
	calls int
}

func (f *fakeSubs) SweepExpired(ctx context.Context) (int64, error) {
	f.calls++
	return 2, nil
}

func TestSweepOnceCoversAllTargets(t *testing.T) {
	images := &fakeSweepable{removed: 3}
	keywords := &fakeSweepable{}
	subs := &fakeSubs{}

	s := NewSweeper(time.Hour, subs)
	s.AddCache("images", images)
	s.AddCache("keywords", keywords)

	s.sweepOnce(context.Background())

	if images.calls != 1 || keywords.calls != 1 {
		t.Errorf("expected each cache swept once, got %d and %d", images.calls, keywords.calls)
	}
	if subs.calls != 1 {
		t.Errorf("expected subscription sweep once, got %d", subs.calls)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := NewSweeper(10*time.Millisecond, &fakeSubs{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
