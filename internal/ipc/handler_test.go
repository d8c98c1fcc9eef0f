package ipc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDaemonHandlerStatusReportsStateAndOnline(t *testing.T) {
	h := DaemonHandler{
		State:    func() string { return "recording" },
		IsOnline: func() bool { return true },
		Version:  "1.2.3",
	}

	resp := h.Handle(context.Background(), Request{Command: CommandStatus})
	require.True(t, resp.OK)
	require.Equal(t, "recording", resp.State)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, data["online"])
	require.Equal(t, "1.2.3", data["version"])
}

func TestDaemonHandlerQueueReturnsStatsPendingAndRecent(t *testing.T) {
	var gotPendingLimit, gotRecentLimit int
	h := DaemonHandler{
		Stats: func() (any, error) { return map[string]int{"pending": 2}, nil },
		Pending: func(limit int) (any, error) {
			gotPendingLimit = limit
			return []string{"item-a"}, nil
		},
		Recent: func(limit int) (any, error) {
			gotRecentLimit = limit
			return []string{"item-a", "item-b"}, nil
		},
	}

	resp := h.Handle(context.Background(), Request{Command: CommandQueue})
	require.True(t, resp.OK)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	require.NotNil(t, data["stats"])
	require.Equal(t, []string{"item-a"}, data["pending"])
	require.Equal(t, []string{"item-a", "item-b"}, data["recent"])
	require.Equal(t, 10, gotPendingLimit)
	require.Equal(t, 20, gotRecentLimit)
}

func TestDaemonHandlerQueueLimitOverridesBothViews(t *testing.T) {
	var gotPendingLimit, gotRecentLimit int
	h := DaemonHandler{
		Stats:   func() (any, error) { return map[string]int{}, nil },
		Pending: func(limit int) (any, error) { gotPendingLimit = limit; return nil, nil },
		Recent:  func(limit int) (any, error) { gotRecentLimit = limit; return nil, nil },
	}

	h.Handle(context.Background(), Request{Command: CommandQueue, Limit: 5})
	require.Equal(t, 5, gotPendingLimit)
	require.Equal(t, 5, gotRecentLimit)
}

func TestDaemonHandlerQueueReturnsErrorFromStats(t *testing.T) {
	h := DaemonHandler{Stats: func() (any, error) { return nil, errors.New("db closed") }}
	resp := h.Handle(context.Background(), Request{Command: CommandQueue})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "db closed")
}

func TestDaemonHandlerQueueWithoutStatsIsUnavailable(t *testing.T) {
	h := DaemonHandler{}
	resp := h.Handle(context.Background(), Request{Command: CommandQueue})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "unavailable")
}

func TestDaemonHandlerRetryRequiresItemID(t *testing.T) {
	called := false
	h := DaemonHandler{Retry: func(ctx context.Context, id string) error { called = true; return nil }}

	resp := h.Handle(context.Background(), Request{Command: CommandRetry})
	require.False(t, resp.OK)
	require.False(t, called)

	resp2 := h.Handle(context.Background(), Request{Command: CommandRetry, ItemID: "abc"})
	require.True(t, resp2.OK)
	require.True(t, called)
}

func TestDaemonHandlerCleanupDefaultsDays(t *testing.T) {
	var gotDays int
	h := DaemonHandler{Cleanup: func(days int) (int64, error) {
		gotDays = days
		return 5, nil
	}}

	resp := h.Handle(context.Background(), Request{Command: CommandCleanup})
	require.True(t, resp.OK)
	require.Equal(t, 30, gotDays)
	require.EqualValues(t, 5, resp.Data)
}

func TestDaemonHandlerCleanupUsesProvidedDays(t *testing.T) {
	var gotDays int
	h := DaemonHandler{Cleanup: func(days int) (int64, error) {
		gotDays = days
		return 0, nil
	}}

	h.Handle(context.Background(), Request{Command: CommandCleanup, Days: 7})
	require.Equal(t, 7, gotDays)
}

func TestDaemonHandlerUnknownCommand(t *testing.T) {
	h := DaemonHandler{}
	resp := h.Handle(context.Background(), Request{Command: "bogus"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "unknown command")
}
