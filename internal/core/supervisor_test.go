package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"notibridge/pkg/logx"
)

func TestSupervisorCancelOnError(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(context.Background(), WithLogger(logx.Nop()), WithCancelOnError(true))

	boom := errors.New("boom")
	sup.Go("failing", func(context.Context) error { return boom })
	sup.Go("blocked", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Wait(ctx); !errors.Is(err, boom) {
		t.Fatalf("Wait = %v, want %v", err, boom)
	}
}

func TestSupervisorRecoversPanic(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(context.Background(), WithLogger(logx.Nop()), WithCancelOnError(true))
	sup.Go("panicking", func(context.Context) error { panic("oops") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sup.Wait(ctx)
	if err == nil {
		t.Fatal("expected panic to surface as error")
	}
}

func TestSupervisorStopIdle(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(context.Background(), WithLogger(logx.Nop()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sup.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
