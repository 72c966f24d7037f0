package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleRunsPeriodically(t *testing.T) {
	s := New()
	defer s.Close()

	var runs atomic.Int32
	task := s.Schedule("tick", func(context.Context) error {
		runs.Add(1)
		return nil
	}, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, "tick", task.Name())
	task.Close()

	n := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, runs.Load())
	assert.Eventually(t, func() bool { return s.Len() == 0 }, 5*time.Second, time.Millisecond)
}

func TestSignalRunsImmediately(t *testing.T) {
	s := New()
	defer s.Close()

	ran := make(chan struct{}, 1)
	task := s.Schedule("manual", func(context.Context) error {
		ran <- struct{}{}
		return nil
	}, 0)

	task.Signal()
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("signal did not trigger a run")
	}
	task.Close()
	task.Close()
}

func TestFailingTaskKeepsRunning(t *testing.T) {
	s := New()
	defer s.Close()

	var runs atomic.Int32
	s.Schedule("failing", func(context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	}, time.Millisecond)

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 5*time.Second, time.Millisecond)
}

func TestSchedulerCloseStopsTasks(t *testing.T) {
	s := New()
	task := s.Schedule("a", func(ctx context.Context) error { return nil }, time.Millisecond)
	s.Close()

	select {
	case <-task.Done():
	default:
		t.Fatal("task still running after scheduler close")
	}
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "90s", want: 90 * time.Second},
		{in: "@every 5m", want: 5 * time.Minute},
		{in: "@hourly", want: time.Hour},
		{in: "@daily", want: 24 * time.Hour},
		{in: "0s", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseInterval(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
