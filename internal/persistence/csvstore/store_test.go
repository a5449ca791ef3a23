package csvstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"example.com/upkeep/internal/domain"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	logger, _ := test.NewNullLogger()
	return New(dir, time.UTC, logger), dir
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestStoreRoundTrip(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	records := []domain.ActivityRecord{
		{Name: "water plants", FrequencyDays: 3, ExtraIntervalHours: 0, LastCompletedAt: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)},
		{Name: "call, mum", FrequencyDays: 7, ExtraIntervalHours: 12, LastCompletedAt: time.Date(2024, 2, 28, 18, 0, 5, 0, time.UTC)},
	}
	require.NoError(t, store.Save(ctx, "home", records))

	raw, err := os.ReadFile(filepath.Join(dir, "home.csv"))
	require.NoError(t, err)
	want := "activity,frequency,extra_interval,last_datetime\n" +
		"water plants,3,0,2024-03-01_09:30:00\n" +
		"\"call, mum\",7,12,2024-02-28_18:00:05\n"
	require.Equal(t, want, string(raw))

	got, err := store.Load(ctx, "home")
	require.NoError(t, err)
	if diff := cmp.Diff(records, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreLoadMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	logger, hook := test.NewNullLogger()
	store := New(dir, time.UTC, logger)

	got, err := store.Load(context.Background(), "music")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, logrus.WarnLevel, entry.Level)
}

func TestStoreLoadAcceptsReorderedColumnsAndFloatCounts(t *testing.T) {
	store, dir := newTestStore(t)
	writeFile(t, dir, "yard.csv", "last_datetime,activity,extra_interval,frequency\n2024-01-05_08:00:00,mow,6.0,14.0\n")

	got, err := store.Load(context.Background(), "yard")
	require.NoError(t, err)
	want := []domain.ActivityRecord{{
		Name:               "mow",
		FrequencyDays:      14,
		ExtraIntervalHours: 6,
		LastCompletedAt:    time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC),
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected records (-want +got):\n%s", diff)
	}
}

func TestStoreLoadStripsByteOrderMark(t *testing.T) {
	store, dir := newTestStore(t)
	writeFile(t, dir, "home.csv", "\ufeffactivity,frequency,extra_interval,last_datetime\nmop,2,0,2024-01-05_08:00:00\n")

	got, err := store.Load(context.Background(), "home")
	require.NoError(t, err)
	want := []domain.ActivityRecord{{
		Name:            "mop",
		FrequencyDays:   2,
		LastCompletedAt: time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC),
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected records (-want +got):\n%s", diff)
	}
}

func TestStoreLoadRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "zero bytes", body: ""},
		{name: "missing column", body: "activity,frequency,last_datetime\nmow,1,2024-01-05_08:00:00\n"},
		{name: "bad timestamp", body: "activity,frequency,extra_interval,last_datetime\nmow,1,0,2024-01-05 08:00:00\n"},
		{name: "fractional frequency", body: "activity,frequency,extra_interval,last_datetime\nmow,1.5,0,2024-01-05_08:00:00\n"},
		{name: "negative interval", body: "activity,frequency,extra_interval,last_datetime\nmow,1,-2,2024-01-05_08:00:00\n"},
		{name: "short row", body: "activity,frequency,extra_interval,last_datetime\nmow,1\n"},
		{name: "duplicate names", body: "activity,frequency,extra_interval,last_datetime\nmow,1,0,2024-01-05_08:00:00\nmow,2,0,2024-01-06_08:00:00\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, dir := newTestStore(t)
			writeFile(t, dir, "yard.csv", tt.body)

			_, err := store.Load(context.Background(), "yard")
			require.ErrorIs(t, err, domain.ErrStorageUnavailable)
		})
	}
}

func TestStoreSaveCreatesDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "csv_files")
	logger, _ := test.NewNullLogger()
	store := New(root, time.UTC, logger)

	err := store.Save(context.Background(), "social", []domain.ActivityRecord{
		{Name: "text friend", FrequencyDays: 1, LastCompletedAt: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(root, "social.csv"))
}

func TestStoreSaveEmptySectionWritesHeader(t *testing.T) {
	store, dir := newTestStore(t)

	require.NoError(t, store.Save(context.Background(), "home", nil))

	raw, err := os.ReadFile(filepath.Join(dir, "home.csv"))
	require.NoError(t, err)
	require.Equal(t, "activity,frequency,extra_interval,last_datetime\n", string(raw))

	got, err := store.Load(context.Background(), "home")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestStoreRespectsCancelledContext(t *testing.T) {
	store, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Load(ctx, "home")
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, store.Save(ctx, "home", nil), context.Canceled)
}

func TestParseWholeNumber(t *testing.T) {
	for raw, want := range map[string]int{"0": 0, " 3 ": 3, "7.0": 7, "-1": -1} {
		got, err := parseWholeNumber(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}
	for _, raw := range []string{"", "x", "2.5", "NaN", "1e20"} {
		_, err := parseWholeNumber(raw)
		require.Error(t, err, raw)
	}
}
