package activitylog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	j.Record(ctx, "enc-1", "pair-1", "video-encoder", ActionRegistered, "")
	j.Record(ctx, "enc-1", "pair-1", "video-encoder", ActionConfigured, "h264 640x480")
	j.Record(ctx, "enc-1", "pair-1", "video-encoder", ActionClosed, "")

	events, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, ActionClosed, events[0].Action, "Recent returns newest first")
}

func TestRecent_DefaultsLimitWhenNonPositive(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	j.Record(ctx, "enc-1", "", "video-encoder", ActionRegistered, "")

	events, err := j.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestForInstance_FiltersAndOrdersAscending(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	j.Record(ctx, "enc-1", "", "video-encoder", ActionRegistered, "")
	j.Record(ctx, "dec-1", "", "video-decoder", ActionRegistered, "")
	j.Record(ctx, "enc-1", "", "video-encoder", ActionReclaimed, "")

	events, err := j.ForInstance(ctx, "enc-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ActionRegistered, events[0].Action)
	assert.Equal(t, ActionReclaimed, events[1].Action)
}

func TestRecord_NeverReturnsErrorToCaller(t *testing.T) {
	j := openTestJournal(t)
	// Record has no error return; this test only documents that contract
	// by calling it with an empty instance ID, which gorm happily persists.
	j.Record(context.Background(), "", "", "", ActionRegistered, "")

	events, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
