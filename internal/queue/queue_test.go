package queue

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{MaxRetries: 3, BaseRetryDelaySeconds: 1, MaxRetryDelaySeconds: 60}
}

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	q, err := Open(path, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestAddThenNextPendingReturnsFIFO(t *testing.T) {
	q := openTestQueue(t)

	first, err := q.Add(Record{Text: "one", FilePath: "/tmp/a.wav", TranscriptTimestamp: time.Now()})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = q.Add(Record{Text: "two", FilePath: "/tmp/b.wav", TranscriptTimestamp: time.Now()})
	require.NoError(t, err)

	item, ok, err := q.NextPending()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first.ID, item.ID)
	require.Equal(t, StatusPending, item.Status)
	require.Zero(t, item.Attempts)
}

func TestMarkSendingRejectsNonPendingItem(t *testing.T) {
	q := openTestQueue(t)
	item, err := q.Add(Record{Text: "x", FilePath: "/tmp/a.wav", TranscriptTimestamp: time.Now()})
	require.NoError(t, err)

	require.NoError(t, q.MarkSending(item.ID))
	err = q.MarkSending(item.ID)
	require.Error(t, err)
}

func TestMarkSentTransitionsToTerminalState(t *testing.T) {
	q := openTestQueue(t)
	item, err := q.Add(Record{Text: "x", FilePath: "/tmp/a.wav", TranscriptTimestamp: time.Now()})
	require.NoError(t, err)
	require.NoError(t, q.MarkSending(item.ID))
	require.NoError(t, q.MarkSent(item.ID, `{"ok":true}`))

	got, ok, err := q.Get(item.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusSent, got.Status)
	require.NotNil(t, got.SentAt)
	require.Equal(t, `{"ok":true}`, got.Response)
}

func TestMarkFailedReschedulesUntilMaxRetries(t *testing.T) {
	q := openTestQueue(t)
	item, err := q.Add(Record{Text: "x", FilePath: "/tmp/a.wav", TranscriptTimestamp: time.Now()})
	require.NoError(t, err)

	for i := 0; i < testConfig().MaxRetries; i++ {
		require.NoError(t, q.MarkSending(item.ID))
		require.NoError(t, q.MarkFailed(item.ID, "boom"))

		got, ok, err := q.Get(item.ID)
		require.NoError(t, err)
		require.True(t, ok)

		if i == testConfig().MaxRetries-1 {
			require.Equal(t, StatusFailedPermanent, got.Status)
		} else {
			require.Equal(t, StatusPending, got.Status)
			require.NotNil(t, got.NextRetry)
		}
	}
}

func TestRetryableExcludesNotYetEligible(t *testing.T) {
	q := openTestQueue(t)
	item, err := q.Add(Record{Text: "x", FilePath: "/tmp/a.wav", TranscriptTimestamp: time.Now()})
	require.NoError(t, err)

	require.NoError(t, q.MarkSending(item.ID))
	require.NoError(t, q.MarkFailed(item.ID, "boom"))

	items, err := q.Retryable()
	require.NoError(t, err)
	require.Empty(t, items, "next_retry is in the future, should not yet be eligible")
}

func TestMarkPermanentFailureSetsTerminalStateDirectly(t *testing.T) {
	q := openTestQueue(t)
	item, err := q.Add(Record{Text: "x", FilePath: "/tmp/a.wav", TranscriptTimestamp: time.Now()})
	require.NoError(t, err)
	require.NoError(t, q.MarkSending(item.ID))
	require.NoError(t, q.MarkPermanentFailure(item.ID, "400 bad request"))

	got, ok, err := q.Get(item.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusFailedPermanent, got.Status)
	require.Equal(t, "400 bad request", got.LastError)
}

func TestResetAttemptsReturnsItemToPending(t *testing.T) {
	q := openTestQueue(t)
	item, err := q.Add(Record{Text: "x", FilePath: "/tmp/a.wav", TranscriptTimestamp: time.Now()})
	require.NoError(t, err)
	require.NoError(t, q.MarkSending(item.ID))
	require.NoError(t, q.MarkFailed(item.ID, "boom"))
	require.NoError(t, q.ResetAttempts(item.ID))

	got, ok, err := q.Get(item.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusPending, got.Status)
	require.Zero(t, got.Attempts)
	require.Empty(t, got.LastError)
	require.Nil(t, got.NextRetry)
}

func TestGetStatsCountsPerStatus(t *testing.T) {
	q := openTestQueue(t)
	a, err := q.Add(Record{Text: "a", FilePath: "/tmp/a.wav", TranscriptTimestamp: time.Now()})
	require.NoError(t, err)
	b, err := q.Add(Record{Text: "b", FilePath: "/tmp/b.wav", TranscriptTimestamp: time.Now()})
	require.NoError(t, err)

	require.NoError(t, q.MarkSending(a.ID))
	require.NoError(t, q.MarkSent(a.ID, "{}"))

	stats, err := q.GetStats()
	require.NoError(t, err)
	require.Equal(t, 1, stats.Sent)
	require.Equal(t, 1, stats.Pending)
	_ = b
}

func TestCleanupDeletesOldSentItemsOnly(t *testing.T) {
	q := openTestQueue(t)
	item, err := q.Add(Record{Text: "x", FilePath: "/tmp/a.wav", TranscriptTimestamp: time.Now()})
	require.NoError(t, err)
	require.NoError(t, q.MarkSending(item.ID))
	require.NoError(t, q.MarkSent(item.ID, "{}"))

	_, err = q.db.Exec(`UPDATE queue_items SET sent_at = ? WHERE id = ?`, formatTime(time.Now().AddDate(0, 0, -10)), item.ID)
	require.NoError(t, err)

	n, err := q.Cleanup(7)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, ok, err := q.Get(item.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOpenRecoversOrphanedSendingItemsToPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	q, err := Open(path, testConfig())
	require.NoError(t, err)
	item, err := q.Add(Record{Text: "x", FilePath: "/tmp/a.wav", TranscriptTimestamp: time.Now()})
	require.NoError(t, err)
	require.NoError(t, q.MarkSending(item.ID))
	require.NoError(t, q.Close())

	reopened, err := Open(path, testConfig())
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Get(item.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusPending, got.Status)
}

func TestBackoffDelayFormula(t *testing.T) {
	require.Equal(t, time.Second, BackoffDelay(1, 1, 300))
	require.Equal(t, 2*time.Second, BackoffDelay(2, 1, 300))
	require.Equal(t, 4*time.Second, BackoffDelay(3, 1, 300))
	require.Equal(t, 300*time.Second, BackoffDelay(20, 1, 300))
}

func TestPendingReturnsOnlyPendingItemsOldestFirstUpToLimit(t *testing.T) {
	q := openTestQueue(t)

	first, err := q.Add(Record{Text: "one", FilePath: "/tmp/a.wav", TranscriptTimestamp: time.Now()})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := q.Add(Record{Text: "two", FilePath: "/tmp/b.wav", TranscriptTimestamp: time.Now()})
	require.NoError(t, err)

	require.NoError(t, q.MarkSending(second.ID))
	require.NoError(t, q.MarkSent(second.ID, "ok"))

	items, err := q.Pending(10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, first.ID, items[0].ID)

	limited, err := q.Pending(0)
	require.NoError(t, err)
	require.Empty(t, limited)
}

func TestListReturnsAllStatusesNewestFirstUpToLimit(t *testing.T) {
	q := openTestQueue(t)

	first, err := q.Add(Record{Text: "one", FilePath: "/tmp/a.wav", TranscriptTimestamp: time.Now()})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := q.Add(Record{Text: "two", FilePath: "/tmp/b.wav", TranscriptTimestamp: time.Now()})
	require.NoError(t, err)
	require.NoError(t, q.MarkSending(second.ID))
	require.NoError(t, q.MarkSent(second.ID, "ok"))

	items, err := q.List(20)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, second.ID, items[0].ID, "most recently created item comes first")
	require.Equal(t, first.ID, items[1].ID)

	limited, err := q.List(1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}
