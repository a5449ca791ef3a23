package aztables

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"example.com/upkeep/internal/domain"
)

// fakeTable keeps entities in memory keyed by partition then row key.
type fakeTable struct {
	rows    map[string]map[string][]byte
	batches [][]aztables.TransactionAction
	listErr error
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: map[string]map[string][]byte{}}
}

func (f *fakeTable) listPartition(_ context.Context, partition string) ([][]byte, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	keys := make([]string, 0, len(f.rows[partition]))
	for k := range f.rows[partition] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		out = append(out, f.rows[partition][k])
	}
	return out, nil
}

func (f *fakeTable) submit(_ context.Context, actions []aztables.TransactionAction) error {
	if len(actions) > maxBatch {
		return fmt.Errorf("batch of %d exceeds limit", len(actions))
	}
	f.batches = append(f.batches, actions)
	for _, a := range actions {
		var ent aztables.Entity
		if err := sonic.ConfigStd.Unmarshal(a.Entity, &ent); err != nil {
			return err
		}
		part := f.rows[ent.PartitionKey]
		if part == nil {
			part = map[string][]byte{}
			f.rows[ent.PartitionKey] = part
		}
		switch a.ActionType {
		case aztables.TransactionTypeInsertReplace:
			part[ent.RowKey] = a.Entity
		case aztables.TransactionTypeDelete:
			delete(part, ent.RowKey)
		default:
			return fmt.Errorf("unexpected action %s", a.ActionType)
		}
	}
	return nil
}

func newTestStore(t *testing.T) (*Store, *fakeTable) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	fake := newFakeTable()
	return newStore(fake, time.UTC, logger), fake
}

func TestStoreRoundTripPreservesOrder(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	records := []domain.ActivityRecord{
		{Name: "zebra feeding", FrequencyDays: 1, LastCompletedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
		{Name: "a/b #1?", FrequencyDays: 2, ExtraIntervalHours: 4, LastCompletedAt: time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)},
		{Name: "mow", FrequencyDays: 14, LastCompletedAt: time.Date(2024, 2, 20, 18, 30, 0, 0, time.UTC)},
	}
	require.NoError(t, store.Save(ctx, "home", records))

	for key := range fake.rows["home"] {
		require.NotContains(t, key, "/")
		require.NotContains(t, key, "#")
		require.NotContains(t, key, "?")
	}

	got, err := store.Load(ctx, "home")
	require.NoError(t, err)
	if diff := cmp.Diff(records, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreSaveDeletesRemovedRows(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()
	when := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx, "home", []domain.ActivityRecord{
		{Name: "dust", FrequencyDays: 7, LastCompletedAt: when},
		{Name: "vacuum", FrequencyDays: 3, LastCompletedAt: when},
	}))
	require.NoError(t, store.Save(ctx, "home", []domain.ActivityRecord{
		{Name: "vacuum", FrequencyDays: 3, LastCompletedAt: when.Add(time.Hour)},
	}))

	require.Len(t, fake.rows["home"], 1)
	got, err := store.Load(ctx, "home")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "vacuum", got[0].Name)
	require.True(t, got[0].LastCompletedAt.Equal(when.Add(time.Hour)))
}

func TestStoreSaveSplitsLargeSections(t *testing.T) {
	store, fake := newTestStore(t)
	when := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	records := make([]domain.ActivityRecord, 0, 250)
	for i := range 250 {
		records = append(records, domain.ActivityRecord{Name: fmt.Sprintf("task-%03d", i), FrequencyDays: 1, LastCompletedAt: when})
	}
	require.NoError(t, store.Save(context.Background(), "personal", records))
	require.Len(t, fake.batches, 3)

	got, err := store.Load(context.Background(), "personal")
	require.NoError(t, err)
	require.Len(t, got, 250)
	require.Equal(t, "task-000", got[0].Name)
	require.Equal(t, "task-249", got[249].Name)
}

func TestStoreLoadEmptyPartition(t *testing.T) {
	store, _ := newTestStore(t)

	got, err := store.Load(context.Background(), "social")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestStoreLoadMissingTableIsEmpty(t *testing.T) {
	store, fake := newTestStore(t)
	fake.listErr = &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: "TableNotFound"}

	got, err := store.Load(context.Background(), "social")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestStoreLoadFailures(t *testing.T) {
	t.Run("service error", func(t *testing.T) {
		store, fake := newTestStore(t)
		fake.listErr = errors.New("connection reset")

		_, err := store.Load(context.Background(), "home")
		require.ErrorIs(t, err, domain.ErrStorageUnavailable)
	})

	t.Run("bad timestamp", func(t *testing.T) {
		store, fake := newTestStore(t)
		body, err := sonic.ConfigStd.Marshal(activityEntity{
			Entity:       aztables.Entity{PartitionKey: "home", RowKey: "mop"},
			Activity:     "mop",
			Frequency:    1,
			LastDatetime: "yesterday",
		})
		require.NoError(t, err)
		fake.rows["home"] = map[string][]byte{"mop": body}

		_, err = store.Load(context.Background(), "home")
		require.ErrorIs(t, err, domain.ErrStorageUnavailable)
	})
}

func TestStoreSaveRejectsInvalidRecords(t *testing.T) {
	store, fake := newTestStore(t)

	err := store.Save(context.Background(), "home", []domain.ActivityRecord{{Name: "", FrequencyDays: 1, LastCompletedAt: time.Now()}})
	require.Error(t, err)
	require.Empty(t, fake.batches)
}
