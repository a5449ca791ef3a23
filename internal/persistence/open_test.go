package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"example.com/upkeep/internal/config"
	"example.com/upkeep/internal/domain"
	"example.com/upkeep/internal/persistence/csvstore"
)

func TestOpenCSV(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()

	backend, err := Open(context.Background(), cfg, time.UTC, logger)
	require.NoError(t, err)
	defer backend.Close()

	require.IsType(t, &csvstore.Store{}, backend.Store)
	require.IsType(t, &csvstore.FileLocker{}, backend.Locker)

	svc := domain.NewService(backend.Store, cfg.Sections, domain.WithLocker(backend.Locker), domain.WithLocation(time.UTC))
	_, err = svc.Complete(context.Background(), domain.CompleteInput{Section: "home", Activity: "mop floors"})
	require.NoError(t, err)

	views, err := svc.Section(context.Background(), "home", svc.Now())
	require.NoError(t, err)
	require.Len(t, views, 1)
}

func TestOpenUnknownDriver(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := config.Defaults()
	cfg.StorageDriver = "mongo"

	_, err := Open(context.Background(), cfg, time.UTC, logger)
	require.Error(t, err)
}
