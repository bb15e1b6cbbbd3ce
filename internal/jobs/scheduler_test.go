package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeRefresher) RefreshSellerStats(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("refresh without deadline")
	}
	return 3, f.err
}

type recordingObserver struct {
	mu   sync.Mutex
	runs []bool
}

func (r *recordingObserver) JobRun(job string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job == SellerStatsJob {
		r.runs = append(r.runs, success)
	}
}

func TestRefreshSellerStatsReportsOutcome(t *testing.T) {
	refresher := &fakeRefresher{}
	obs := &recordingObserver{}
	s := NewScheduler(refresher, zaptest.NewLogger(t), obs)

	require.NoError(t, s.RefreshSellerStats(context.Background()))

	refresher.err = errors.New("db down")
	assert.Error(t, s.RefreshSellerStats(context.Background()))

	assert.Equal(t, 2, refresher.calls)
	assert.Equal(t, []bool{true, false}, obs.runs)
}

func TestScheduleSellerStats(t *testing.T) {
	s := NewScheduler(&fakeRefresher{}, zaptest.NewLogger(t), nil)

	require.NoError(t, s.ScheduleSellerStats(""))
	assert.Equal(t, 0, s.Entries())

	require.NoError(t, s.ScheduleSellerStats("*/15 * * * *"))
	assert.Equal(t, 1, s.Entries())

	assert.Error(t, s.ScheduleSellerStats("every now and then"))
}

func TestSchedulerStop(t *testing.T) {
	s := NewScheduler(&fakeRefresher{}, zaptest.NewLogger(t), nil)
	require.NoError(t, s.ScheduleSellerStats("@every 1h"))
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.NoError(t, ctx.Err())
}

func TestScheduleRunsJob(t *testing.T) {
	obs := &recordingObserver{}
	s := NewScheduler(&fakeRefresher{}, zaptest.NewLogger(t), obs)

	ran := make(chan struct{}, 1)
	require.NoError(t, s.Schedule("ping", "@every 1s", func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}))
	s.Start()
	defer s.Stop(context.Background())

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
}
