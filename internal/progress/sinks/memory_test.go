package sinks

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Rosersn/rose-vanblog/internal/progress"
)

func TestMemorySinkBoundedRing(t *testing.T) {
	t.Parallel()

	sink := NewMemorySink(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := sink.Consume(ctx, progress.Event{
			TS:    time.Now(),
			Stage: progress.StagePathDone,
			Path:  "/post/" + strconv.Itoa(i),
		})
		require.NoError(t, err)
	}

	got := sink.Snapshot()
	require.Len(t, got, 3)
	require.Equal(t, "/post/2", got[0].Path)
	require.Equal(t, "/post/4", got[2].Path)
}

func TestMemorySinkSnapshotIsCopy(t *testing.T) {
	t.Parallel()

	sink := NewMemorySink(0)
	require.NoError(t, sink.Consume(context.Background(), progress.Event{
		TS:    time.Now(),
		Stage: progress.StageCycleStart,
	}))

	got := sink.Snapshot()
	got[0].Reason = "mutated"
	require.Empty(t, sink.Snapshot()[0].Reason)
}
