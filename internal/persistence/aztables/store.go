// Package aztables stores sections in an Azure Storage table, one partition per section.
package aztables

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus"

	"example.com/upkeep/internal/domain"
)

// maxBatch is the entity group transaction limit.
const maxBatch = 100

type activityEntity struct {
	aztables.Entity
	Activity      string `json:"Activity"`
	Frequency     int    `json:"Frequency"`
	ExtraInterval int    `json:"ExtraInterval"`
	LastDatetime  string `json:"LastDatetime"`
	Ordinal       int    `json:"Ordinal"`
}

// table is the subset of *aztables.Client the store needs.
type table interface {
	listPartition(ctx context.Context, partition string) ([][]byte, error)
	submit(ctx context.Context, actions []aztables.TransactionAction) error
}

// Store implements domain.SectionStore over an Azure table.
type Store struct {
	table    table
	location *time.Location
	logger   logrus.FieldLogger
}

// New connects to the named table using a storage connection string.
func New(connStr, tableName string, loc *time.Location, logger logrus.FieldLogger) (*Store, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return newStore(&clientTable{client: svc.NewClient(tableName)}, loc, logger), nil
}

func newStore(t table, loc *time.Location, logger logrus.FieldLogger) *Store {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{table: t, location: loc, logger: logger}
}

// EnsureTable creates the table when it does not exist yet.
func (s *Store) EnsureTable(ctx context.Context) error {
	ct, ok := s.table.(*clientTable)
	if !ok {
		return nil
	}
	if _, err := ct.client.CreateTable(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
			return err
		}
	}
	return nil
}

// Load returns the section's records in insertion order.
func (s *Store) Load(ctx context.Context, section string) ([]domain.ActivityRecord, error) {
	raw, err := s.table.listPartition(ctx, section)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			s.logger.WithField("section", section).Warn("activities table not found")
			return []domain.ActivityRecord{}, nil
		}
		return nil, fmt.Errorf("%w: list section %s: %w", domain.ErrStorageUnavailable, section, err)
	}

	entities := make([]activityEntity, 0, len(raw))
	for _, data := range raw {
		var ent activityEntity
		if err := sonic.ConfigStd.Unmarshal(data, &ent); err != nil {
			return nil, fmt.Errorf("%w: decode section %s: %w", domain.ErrStorageUnavailable, section, err)
		}
		entities = append(entities, ent)
	}
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Ordinal != entities[j].Ordinal {
			return entities[i].Ordinal < entities[j].Ordinal
		}
		return entities[i].RowKey < entities[j].RowKey
	})

	records := make([]domain.ActivityRecord, 0, len(entities))
	for _, ent := range entities {
		rec, err := s.fromEntity(ent)
		if err != nil {
			return nil, fmt.Errorf("%w: section %s: %w", domain.ErrStorageUnavailable, section, err)
		}
		records = append(records, rec)
	}
	if err := domain.ValidateSection(records); err != nil {
		return nil, fmt.Errorf("%w: section %s: %w", domain.ErrStorageUnavailable, section, err)
	}
	s.logger.WithFields(logrus.Fields{"section": section, "activities": len(records)}).Debug("loaded section partition")
	return records, nil
}

// Save upserts every record and deletes rows no longer present. Each batch of
// up to maxBatch actions is applied atomically.
func (s *Store) Save(ctx context.Context, section string, records []domain.ActivityRecord) error {
	if err := domain.ValidateSection(records); err != nil {
		return fmt.Errorf("refusing to save section %s: %w", section, err)
	}

	existing, err := s.table.listPartition(ctx, section)
	if err != nil {
		return fmt.Errorf("%w: list section %s: %w", domain.ErrStorageUnavailable, section, err)
	}

	actions, err := s.saveActions(section, records, existing)
	if err != nil {
		return fmt.Errorf("%w: encode section %s: %w", domain.ErrStorageUnavailable, section, err)
	}

	for start := 0; start < len(actions); start += maxBatch {
		end := min(start+maxBatch, len(actions))
		if err := s.table.submit(ctx, actions[start:end]); err != nil {
			return fmt.Errorf("%w: write section %s: %w", domain.ErrStorageUnavailable, section, err)
		}
	}
	s.logger.WithFields(logrus.Fields{"section": section, "activities": len(records), "actions": len(actions)}).Debug("saved section partition")
	return nil
}

func (s *Store) saveActions(section string, records []domain.ActivityRecord, existing [][]byte) ([]aztables.TransactionAction, error) {
	keep := make(map[string]struct{}, len(records))
	actions := make([]aztables.TransactionAction, 0, len(records))
	for i, rec := range records {
		ent := toEntity(section, i, rec)
		keep[ent.RowKey] = struct{}{}
		body, err := sonic.ConfigStd.Marshal(ent)
		if err != nil {
			return nil, err
		}
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeInsertReplace, Entity: body})
	}

	for _, data := range existing {
		var ent aztables.Entity
		if err := sonic.ConfigStd.Unmarshal(data, &ent); err != nil {
			return nil, err
		}
		if _, ok := keep[ent.RowKey]; ok {
			continue
		}
		body, err := sonic.ConfigStd.Marshal(aztables.Entity{PartitionKey: section, RowKey: ent.RowKey})
		if err != nil {
			return nil, err
		}
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeDelete, Entity: body})
	}
	return actions, nil
}

// rowKey escapes the characters Table Storage forbids in keys (/ \ # ?).
func rowKey(name string) string {
	return url.PathEscape(name)
}

func toEntity(section string, ordinal int, rec domain.ActivityRecord) activityEntity {
	return activityEntity{
		Entity:        aztables.Entity{PartitionKey: section, RowKey: rowKey(rec.Name)},
		Activity:      rec.Name,
		Frequency:     rec.FrequencyDays,
		ExtraInterval: rec.ExtraIntervalHours,
		LastDatetime:  rec.LastCompletedAt.Format(domain.StorageLayout),
		Ordinal:       ordinal,
	}
}

func (s *Store) fromEntity(ent activityEntity) (domain.ActivityRecord, error) {
	last, err := time.ParseInLocation(domain.StorageLayout, ent.LastDatetime, s.location)
	if err != nil {
		return domain.ActivityRecord{}, fmt.Errorf("row %s: %w", ent.RowKey, err)
	}
	return domain.ActivityRecord{
		Name:               ent.Activity,
		FrequencyDays:      ent.Frequency,
		ExtraIntervalHours: ent.ExtraInterval,
		LastCompletedAt:    last,
	}, nil
}

type clientTable struct {
	client *aztables.Client
}

func (c *clientTable) listPartition(ctx context.Context, partition string) ([][]byte, error) {
	filter := "PartitionKey eq '" + strings.ReplaceAll(partition, "'", "''") + "'"
	pager := c.client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var out [][]byte
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, resp.Entities...)
	}
	return out, nil
}

func (c *clientTable) submit(ctx context.Context, actions []aztables.TransactionAction) error {
	_, err := c.client.SubmitTransaction(ctx, actions, nil)
	return err
}
