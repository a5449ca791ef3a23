// Package csvstore persists each section as a {section}.csv file under a root directory.
package csvstore

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"github.com/sirupsen/logrus"

	"example.com/upkeep/internal/domain"
)

// Column names, in the order they are written.
const (
	colActivity      = "activity"
	colFrequency     = "frequency"
	colExtraInterval = "extra_interval"
	colLastDatetime  = "last_datetime"
)

var header = []string{colActivity, colFrequency, colExtraInterval, colLastDatetime}

const dirPerms = 0o755

// Store implements domain.SectionStore over CSV files.
type Store struct {
	root     string
	location *time.Location
	logger   logrus.FieldLogger
}

// New constructs a Store rooted at dir. Timestamps are read in loc.
func New(dir string, loc *time.Location, logger logrus.FieldLogger) *Store {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{root: dir, location: loc, logger: logger}
}

// Path returns the file backing section.
func (s *Store) Path(section string) string {
	return filepath.Join(s.root, section+".csv")
}

// Load reads every record of section. A missing file yields an empty collection.
func (s *Store) Load(ctx context.Context, section string) ([]domain.ActivityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.Path(section)
	s.logger.WithField("path", path).Debug("loading section file")

	f, err := os.Open(path) //nolint:gosec // section names are validated against configuration
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.WithField("path", path).Warn("section file not found")
			return []domain.ActivityRecord{}, nil
		}
		return nil, fmt.Errorf("%w: open %s: %w", domain.ErrStorageUnavailable, path, err)
	}
	defer f.Close()

	records, err := s.decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrStorageUnavailable, path, err)
	}
	s.logger.WithFields(logrus.Fields{"path": path, "activities": len(records)}).Debug("loaded section file")
	return records, nil
}

// Save atomically replaces the section file with records.
func (s *Store) Save(ctx context.Context, section string, records []domain.ActivityRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := domain.ValidateSection(records); err != nil {
		return fmt.Errorf("refusing to save section %s: %w", section, err)
	}

	var buf bytes.Buffer
	if err := encode(&buf, records); err != nil {
		return fmt.Errorf("%w: encode %s: %w", domain.ErrStorageUnavailable, section, err)
	}

	if err := os.MkdirAll(s.root, dirPerms); err != nil {
		return fmt.Errorf("%w: create %s: %w", domain.ErrStorageUnavailable, s.root, err)
	}
	path := s.Path(section)
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("%w: write %s: %w", domain.ErrStorageUnavailable, path, err)
	}
	s.logger.WithFields(logrus.Fields{"path": path, "activities": len(records)}).Debug("saved section file")
	return nil
}

func encode(w io.Writer, records []domain.ActivityRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			rec.Name,
			strconv.Itoa(rec.FrequencyDays),
			strconv.Itoa(rec.ExtraIntervalHours),
			rec.LastCompletedAt.Format(domain.StorageLayout),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (s *Store) decode(r io.Reader) ([]domain.ActivityRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 0

	head, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty file, header missing")
		}
		return nil, err
	}
	cols, err := columnIndex(head)
	if err != nil {
		return nil, err
	}

	records := []domain.ActivityRecord{}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)

		rec, err := s.parseRow(row, cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}

	if err := domain.ValidateSection(records); err != nil {
		return nil, err
	}
	return records, nil
}

type columns struct {
	activity, frequency, extraInterval, lastDatetime int
}

func columnIndex(head []string) (columns, error) {
	pos := make(map[string]int, len(head))
	for i, name := range head {
		pos[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	var cols columns
	for _, c := range []struct {
		name string
		dst  *int
	}{
		{colActivity, &cols.activity},
		{colFrequency, &cols.frequency},
		{colExtraInterval, &cols.extraInterval},
		{colLastDatetime, &cols.lastDatetime},
	} {
		i, ok := pos[c.name]
		if !ok {
			return columns{}, fmt.Errorf("missing column %q", c.name)
		}
		*c.dst = i
	}
	return cols, nil
}

func (s *Store) parseRow(row []string, cols columns) (domain.ActivityRecord, error) {
	freq, err := parseWholeNumber(row[cols.frequency])
	if err != nil {
		return domain.ActivityRecord{}, fmt.Errorf("%s: %w", colFrequency, err)
	}
	extra, err := parseWholeNumber(row[cols.extraInterval])
	if err != nil {
		return domain.ActivityRecord{}, fmt.Errorf("%s: %w", colExtraInterval, err)
	}
	last, err := time.ParseInLocation(domain.StorageLayout, strings.TrimSpace(row[cols.lastDatetime]), s.location)
	if err != nil {
		return domain.ActivityRecord{}, fmt.Errorf("%s: %w", colLastDatetime, err)
	}
	return domain.ActivityRecord{
		Name:               row[cols.activity],
		FrequencyDays:      freq,
		ExtraIntervalHours: extra,
		LastCompletedAt:    last,
	}, nil
}

// parseWholeNumber accepts "3" as well as the "3.0" form spreadsheet tools emit.
func parseWholeNumber(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, fmt.Errorf("not a whole number: %q", raw)
	}
	return int(f), nil
}
