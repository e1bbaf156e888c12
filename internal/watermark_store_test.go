package internal

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermarkStore_RoundTrip(t *testing.T) {
	store, err := OpenWatermarkStore(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "100")
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2024, 6, 1, 12, 0, 0, 123456789, time.FixedZone("CST", 8*3600))
	require.NoError(t, store.Set(ctx, "100", at))

	got, ok, err := store.Get(ctx, "100")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, wallClock(at), got, "the wall clock survives, the zone is dropped")
	assert.Equal(t, "2024-06-01 12:00:00", got.Format(displayDateTimeLayout))

	later := at.Add(time.Hour)
	require.NoError(t, store.Set(ctx, "100", later))
	require.NoError(t, store.Set(ctx, "200", at))

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, wallClock(later), all["100"], "set overwrites")

	require.NoError(t, store.Delete(ctx, "100"))
	_, ok, err = store.Get(ctx, "100")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWatermarkStore_PersistsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "watermarks.db")
	ctx := context.Background()
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	store, err := OpenWatermarkStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "100", at))
	require.NoError(t, store.Close())

	reopened, err := OpenWatermarkStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Get(ctx, "100")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(at))
}

func TestWatermarkStore_ReadsLegacyRFC3339(t *testing.T) {
	store, err := OpenWatermarkStore(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	_, err = store.db.ExecContext(ctx,
		`INSERT INTO sync_watermarks (form_id, synced_at, updated_at) VALUES ('100', '2024-01-02T03:04:05Z', '')`)
	require.NoError(t, err)

	got, ok, err := store.Get(ctx, "100")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), got)
}

// A pass on a host west of UTC must bind the same wall clock the source reported.
func TestWatermarkStore_NonUTCWatermarkBindsSourceWallClock(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	store, err := OpenWatermarkStore(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	at := time.Date(2026, 10, 19, 10, 0, 0, 0, ny)
	require.NoError(t, store.Set(ctx, "100", at))
	since, ok, err := store.Get(ctx, "100")
	require.NoError(t, err)
	require.True(t, ok)

	br, mock := newTestReader(t)
	cols := []string{"id", "modify_date"}
	expectExists(mock, "t_100")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "t_100" LIMIT 0`)).WillReturnRows(pgxmock.NewRows(cols))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "t_100" WHERE "modify_date" > $1::timestamp ORDER BY "id" LIMIT 10`)).
		WithArgs(wallClockArg("2026-10-19 10:00:00")).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(int64(1), time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC)))

	batches, err := collectBatches(t, br, ReadRequest{
		Table: "t_100", BatchSize: 10, PrimaryKey: "id", WatermarkColumn: "modify_date", Since: &since,
	})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
