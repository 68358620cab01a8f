package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlobArchiver struct {
	snapshotCutoffs []time.Time
	eventCutoffs    []time.Time
	snapshotErr     error
}

func (f *fakeBlobArchiver) ArchiveSnapshots(_ context.Context, before time.Time) (int64, error) {
	if f.snapshotErr != nil {
		return 0, f.snapshotErr
	}
	f.snapshotCutoffs = append(f.snapshotCutoffs, before)
	return 42, nil
}

func (f *fakeBlobArchiver) ArchiveEvents(_ context.Context, before time.Time) (int64, error) {
	f.eventCutoffs = append(f.eventCutoffs, before)
	return 7, nil
}

func TestArchiverRunUsesRetentionCutoff(t *testing.T) {
	fake := &fakeBlobArchiver{}
	a := NewArchiver(fake, 90, time.Hour, slog.Default())
	fixed := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	require.NoError(t, a.Run(context.Background()))

	want := fixed.Add(-90 * 24 * time.Hour)
	require.Len(t, fake.snapshotCutoffs, 1)
	require.Len(t, fake.eventCutoffs, 1)
	assert.Equal(t, want, fake.snapshotCutoffs[0])
	assert.Equal(t, want, fake.eventCutoffs[0])
}

func TestArchiverRunStopsOnSnapshotError(t *testing.T) {
	fake := &fakeBlobArchiver{snapshotErr: errors.New("s3 unavailable")}
	a := NewArchiver(fake, 30, time.Hour, slog.Default())

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive snapshots")
	// Events are not touched when the snapshot pass fails.
	assert.Empty(t, fake.eventCutoffs)
}

func TestArchiverRunPeriodicStopsOnCancel(t *testing.T) {
	fake := &fakeBlobArchiver{}
	a := NewArchiver(fake, 30, 50*time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunPeriodic(ctx) }()

	// Let at least one tick fire, then cancel.
	time.Sleep(120 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("archiver did not stop on cancel")
	}
	assert.NotEmpty(t, fake.snapshotCutoffs)
}
