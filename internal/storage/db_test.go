package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock hands out strictly increasing times, one second apart
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func createTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetClock(newTestClock().Now)
	return db
}

func newMessage(channelID string, id int64, text string, views, forwards int64) *IndexedMessage {
	date := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Minute)
	return &IndexedMessage{
		ChannelID: channelID,
		MessageID: id,
		Text:      text,
		Date:      &date,
		Views:     views,
		Forwards:  forwards,
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		db, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		require.NoError(t, db.Close())
	}

	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestUpsert_CreatesThenUpdates(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	first, created, err := db.Upsert(ctx, newMessage("S1", 7, "Hello   World", 10, 1))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "hello world", first.NormalizedText)
	assert.True(t, first.IndexedAt.Equal(first.LastUpdatedAt))
	assert.False(t, first.WasUpdated())
	assert.Equal(t, MediaNone, first.MediaKind)

	second, created, err := db.Upsert(ctx, newMessage("S1", 7, "Hello again", 20, 3))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.IndexedAt.Equal(first.IndexedAt), "indexed_at must not move")
	assert.True(t, second.LastUpdatedAt.After(first.LastUpdatedAt))
	assert.True(t, second.WasUpdated())

	count, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := db.Get(ctx, "S1", 7)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Hello again", got.Text)
	assert.Equal(t, "hello again", got.NormalizedText)
	assert.Equal(t, int64(20), got.Views)
	assert.Equal(t, int64(3), got.Forwards)
	assert.True(t, got.IndexedAt.Equal(first.IndexedAt))
	assert.True(t, got.LastUpdatedAt.Equal(second.LastUpdatedAt))
}

func TestUpsert_SameKeyDifferentChannels(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	_, created, err := db.Upsert(ctx, newMessage("S1", 1, "one", 0, 0))
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = db.Upsert(ctx, newMessage("S2", 1, "one", 0, 0))
	require.NoError(t, err)
	assert.True(t, created)

	count, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestUpsert_EmptyTextKeepsContent(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	_, _, err := db.Upsert(ctx, newMessage("S1", 1, "Original text", 5, 0))
	require.NoError(t, err)

	updated, created, err := db.Upsert(ctx, newMessage("S1", 1, "   ", 9, 2))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Original text", updated.Text)
	assert.Equal(t, "original text", updated.NormalizedText)

	got, err := db.Get(ctx, "S1", 1)
	require.NoError(t, err)
	assert.Equal(t, "Original text", got.Text)
	assert.Equal(t, "original text", got.NormalizedText)
	assert.Equal(t, int64(9), got.Views)
	assert.Equal(t, int64(2), got.Forwards)
}

func TestUpsert_EmptyTextNeverCreates(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	_, _, err := db.Upsert(ctx, newMessage("S1", 1, "", 5, 0))
	assert.ErrorIs(t, err, ErrEmptyText)

	got, err := db.Get(ctx, "S1", 1)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsert_StalledClockStillAdvances(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()
	fixed := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time { return fixed })

	first, _, err := db.Upsert(ctx, newMessage("S1", 1, "text", 0, 0))
	require.NoError(t, err)
	second, _, err := db.Upsert(ctx, newMessage("S1", 1, "text", 0, 0))
	require.NoError(t, err)

	assert.True(t, second.LastUpdatedAt.After(first.IndexedAt))
	assert.True(t, second.IndexedAt.Equal(fixed))
}

func TestUpsert_ConcurrentSameKey(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		creates int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, created, err := db.Upsert(ctx, newMessage("S1", 42, fmt.Sprintf("text %d", i), int64(i), 0))
			assert.NoError(t, err)
			if created {
				mu.Lock()
				creates++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, creates)
	count, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestScan_FiltersByTextAndChannel(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	for _, m := range []*IndexedMessage{
		newMessage("S1", 1, "Go channels are great", 1, 0),
		newMessage("S1", 2, "Rust ownership", 1, 0),
		newMessage("S2", 1, "Channels in GO", 1, 0),
		newMessage("S3", 1, "100% go_lang", 1, 0),
	} {
		_, _, err := db.Upsert(ctx, m)
		require.NoError(t, err)
	}

	all, err := db.Scan(ctx, ScanFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	hits, err := db.Scan(ctx, ScanFilter{Contains: "channels"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "S1", hits[0].ChannelID, "storage order")
	assert.Equal(t, "S2", hits[1].ChannelID)

	hits, err = db.Scan(ctx, ScanFilter{Contains: "channels", ChannelIDs: []string{"S2", "S3"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "S2", hits[0].ChannelID)

	// LIKE metacharacters are matched literally
	hits, err = db.Scan(ctx, ScanFilter{Contains: "100% go_"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "S3", hits[0].ChannelID)

	hits, err = db.Scan(ctx, ScanFilter{Contains: "o_l"})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestScan_ReadsDuringOpenWrite(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	_, _, err := db.Upsert(ctx, newMessage("S1", 1, "hello", 0, 0))
	require.NoError(t, err)

	// a writer holding the write lock must not block readers
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		hits, err := db.Scan(ctx, ScanFilter{Contains: "hello"})
		assert.NoError(t, err)
		assert.Len(t, hits, 1)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scan blocked behind writer")
	}
}

func TestChannelStats(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	empty, err := db.ChannelStats(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalMessages)
	assert.Nil(t, empty.LatestMessage)

	_, _, err = db.Upsert(ctx, newMessage("S1", 1, "a", 10, 1))
	require.NoError(t, err)
	_, _, err = db.Upsert(ctx, newMessage("S1", 5, "b", 20, 2))
	require.NoError(t, err)
	_, _, err = db.Upsert(ctx, newMessage("S2", 1, "c", 100, 0))
	require.NoError(t, err)

	stats, err := db.ChannelStats(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalMessages)
	assert.Equal(t, int64(30), stats.TotalViews)
	assert.Equal(t, int64(3), stats.TotalForwards)
	require.NotNil(t, stats.LatestMessage)
	assert.True(t, stats.LatestMessage.Equal(*newMessage("S1", 5, "", 0, 0).Date))
	assert.NotNil(t, stats.LastIndexedAt)
}

func TestChannels_Registry(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	low, created, err := db.AddChannel(ctx, &Channel{ChannelID: "golang_news", Title: "Go News", Rating: 1})
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, low.IsActive)

	_, _, err = db.AddChannel(ctx, &Channel{ChannelID: "rustlang", Rating: 5})
	require.NoError(t, err)

	again, created, err := db.AddChannel(ctx, &Channel{ChannelID: "golang_news", Title: "Other"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Go News", again.Title)

	active, err := db.ListActiveChannels(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "rustlang", active[0].ChannelID, "highest rating first")
	assert.Equal(t, "Channel rustlang", active[0].Title)

	found, err := db.SetChannelActive(ctx, "rustlang", false)
	require.NoError(t, err)
	assert.True(t, found)

	active, err = db.ListActiveChannels(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "golang_news", active[0].ChannelID)

	all, err := db.ListChannels(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	found, err = db.SetChannelActive(ctx, "missing", true)
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = db.AddChannel(ctx, &Channel{ChannelID: "  "})
	assert.Error(t, err)
}
