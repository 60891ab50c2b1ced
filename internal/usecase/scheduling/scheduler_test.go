package scheduling

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"chatsim/internal/infra/logger"
)

func TestSchedulerRunsTask(t *testing.T) {
	var runs atomic.Int32
	s := New(time.Second, logger.Discard())
	s.RegisterAction(ActionSessionReap, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	if err := s.AddTask(Task{Name: "reap", Schedule: "20ms", Action: ActionSessionReap}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	s.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("task ran %d times, want >= 2", runs.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.Stop()

	after := runs.Load()
	time.Sleep(60 * time.Millisecond)
	if runs.Load() != after {
		t.Error("task kept running after Stop")
	}
}

func TestSchedulerFailingTaskKeepsRunning(t *testing.T) {
	var runs atomic.Int32
	s := New(time.Second, logger.Discard())
	s.RegisterAction(ActionDropReport, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	})
	if err := s.AddTask(Task{Name: "drops", Schedule: "20ms", Action: ActionDropReport}); err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("failing task ran %d times, want >= 2", runs.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSchedulerUnknownAction(t *testing.T) {
	s := New(0, logger.Discard())
	if err := s.AddTask(Task{Name: "x", Schedule: "1m", Action: "nope"}); err == nil {
		t.Error("expected error for unregistered action")
	}
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	s := New(0, logger.Discard())
	s.Stop()
	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
	s.Stop()
}

func TestParseSchedule(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in      string
		next    time.Time
		wantErr bool
	}{
		{in: "10m", next: now.Add(10 * time.Minute)},
		{in: "*/5 * * * *", next: now.Add(5 * time.Minute)},
		{in: "@hourly", next: now.Add(time.Hour)},
		{in: "", wantErr: true},
		{in: "-1m", wantErr: true},
		{in: "whenever", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			sched, err := ParseSchedule(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseSchedule(%q) succeeded", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSchedule(%q): %v", tt.in, err)
			}
			if got := sched.Next(now); !got.Equal(tt.next) {
				t.Errorf("Next = %v, want %v", got, tt.next)
			}
		})
	}
}
