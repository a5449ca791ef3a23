// Package domain defines activity tracking: freshness computation and completion handling.
package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"example.com/upkeep/internal/observability"
)

const (
	defaultFrequencyDays = 1
	defaultLockTimeout   = 5 * time.Second
	tracerName           = "example.com/upkeep/internal/domain"
)

// SectionStore persists the full record collection of one section.
//
// Load returns an empty collection when the section has never been saved and
// an error wrapping ErrStorageUnavailable when stored state cannot be read.
// Save replaces the section's state entirely.
type SectionStore interface {
	Load(ctx context.Context, section string) ([]ActivityRecord, error)
	Save(ctx context.Context, section string, records []ActivityRecord) error
}

// CompletionEvent describes a stored completion.
type CompletionEvent struct {
	Section     string
	Activity    string
	CompletedAt time.Time
	Created     bool
}

// CompletionPublisher announces stored completions to other systems.
type CompletionPublisher interface {
	Publish(ctx context.Context, event CompletionEvent) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, CompletionEvent) error { return nil }

// Clock returns the current time.
type Clock func() time.Time

// Option configures optional Service collaborators.
type Option func(*Service)

// WithLocker overrides the per-section lock implementation.
func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithPublisher sets where completion events are sent.
func WithPublisher(p CompletionPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLocation sets the zone that naive timestamps are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.location = loc }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) { s.logger = l }
}

// WithLockTimeout bounds how long a completion waits for its section.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Service) { s.lockTimeout = d }
}

// Service answers freshness queries and records completions.
type Service struct {
	store       SectionStore
	sections    []string
	known       map[string]struct{}
	locker      Locker
	publisher   CompletionPublisher
	clock       Clock
	location    *time.Location
	lockTimeout time.Duration
	logger      logrus.FieldLogger
	tracer      trace.Tracer
}

// NewService constructs a Service over store for the given ordered section list.
func NewService(store SectionStore, sections []string, opts ...Option) *Service {
	s := &Service{
		store:       store,
		sections:    append([]string(nil), sections...),
		known:       make(map[string]struct{}, len(sections)),
		locker:      NewMutexLocker(),
		publisher:   noopPublisher{},
		clock:       time.Now,
		location:    time.Local,
		lockTimeout: defaultLockTimeout,
		logger:      logrus.StandardLogger(),
		tracer:      otel.Tracer(tracerName),
	}
	for _, name := range s.sections {
		s.known[name] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sections returns the configured section order.
func (s *Service) Sections() []string {
	return append([]string(nil), s.sections...)
}

// Now returns the current time truncated to seconds in the service location.
func (s *Service) Now() time.Time {
	return s.clock().In(s.location).Truncate(time.Second)
}

// ActivityView is the computed status of one record.
type ActivityView struct {
	Name             string
	Section          string
	Progress         float64
	RemainingMinutes int
	TotalMinutes     int
	Color            RGB
	Due              bool
}

// Text renders the remaining and total minutes as "remaining/total".
func (v ActivityView) Text() string {
	return fmt.Sprintf("%d/%d", v.RemainingMinutes, v.TotalMinutes)
}

// BuildViews computes a view per record in store order.
func BuildViews(section string, records []ActivityRecord, now time.Time) []ActivityView {
	views := make([]ActivityView, 0, len(records))
	for _, rec := range records {
		p := ComputeProgress(rec, now)
		views = append(views, ActivityView{
			Name:             rec.Name,
			Section:          section,
			Progress:         p.Fraction,
			RemainingMinutes: p.RemainingMinutes,
			TotalMinutes:     p.TotalMinutes,
			Color:            ColorFor(p.Fraction),
			Due:              p.Due,
		})
	}
	return views
}

// Section returns the status of every activity in one section.
func (s *Service) Section(ctx context.Context, section string, now time.Time) ([]ActivityView, error) {
	ctx, span := s.tracer.Start(ctx, "domain.Section", trace.WithAttributes(attribute.String("upkeep.section", section)))
	defer span.End()

	views, err := s.section(ctx, section, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("upkeep.activities", len(views)))
	return views, nil
}

func (s *Service) section(ctx context.Context, section string, now time.Time) ([]ActivityView, error) {
	if err := s.checkSection(section); err != nil {
		return nil, err
	}

	records, err := s.load(ctx, section)
	if err != nil {
		return nil, err
	}

	views := BuildViews(section, records, now)
	due := 0
	for _, v := range views {
		if v.Due {
			due++
		}
	}
	observability.RecordDue(section, due)
	s.logger.WithFields(logrus.Fields{"section": section, "activities": len(views), "due": due}).Debug("section status computed")
	return views, nil
}

// All concatenates the status of every configured section in configured order.
// Sections without stored state contribute nothing.
func (s *Service) All(ctx context.Context, now time.Time) ([]ActivityView, error) {
	ctx, span := s.tracer.Start(ctx, "domain.All")
	defer span.End()

	all := make([]ActivityView, 0)
	for _, section := range s.sections {
		views, err := s.section(ctx, section, now)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		all = append(all, views...)
	}
	span.SetAttributes(attribute.Int("upkeep.activities", len(all)))
	return all, nil
}

// CompleteInput identifies the activity being marked done.
type CompleteInput struct {
	Section  string
	Activity string
	// RequestedAt is the caller-supplied completion time in RequestLayout, if any.
	RequestedAt *string
}

// CompleteResult reports what was stored.
type CompleteResult struct {
	CompletedAt time.Time
	Created     bool
	// FellBack is set when a supplied timestamp was rejected in favour of the clock.
	FellBack bool
}

// Timestamp renders CompletedAt in RequestLayout.
func (r CompleteResult) Timestamp() string {
	return FormatRequestTimestamp(r.CompletedAt)
}

// Complete resets the named activity's clock, creating the activity if the section lacks it.
func (s *Service) Complete(ctx context.Context, input CompleteInput) (CompleteResult, error) {
	ctx, span := s.tracer.Start(ctx, "domain.Complete", trace.WithAttributes(
		attribute.String("upkeep.section", input.Section),
		attribute.String("upkeep.activity", input.Activity),
	))
	defer span.End()

	result, err := s.complete(ctx, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return CompleteResult{}, err
	}
	span.SetAttributes(attribute.Bool("upkeep.created", result.Created), attribute.Bool("upkeep.fell_back", result.FellBack))
	return result, nil
}

func (s *Service) complete(ctx context.Context, input CompleteInput) (CompleteResult, error) {
	if err := s.checkSection(input.Section); err != nil {
		return CompleteResult{}, err
	}
	if strings.TrimSpace(input.Activity) == "" {
		return CompleteResult{}, ErrInvalidActivity
	}

	logger := s.logger.WithFields(logrus.Fields{"section": input.Section, "activity": input.Activity})
	completedAt, fellBack := s.resolveTimestamp(input.RequestedAt, logger)

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	unlock, err := s.locker.Lock(lockCtx, input.Section)
	cancel()
	if err != nil {
		return CompleteResult{}, err
	}
	defer unlock()

	records, err := s.load(ctx, input.Section)
	if err != nil {
		return CompleteResult{}, err
	}

	created := false
	if i := indexOf(records, input.Activity); i >= 0 {
		records[i].LastCompletedAt = completedAt
		logger.WithField("completed_at", completedAt).Debug("updated existing activity")
	} else {
		records = append(records, ActivityRecord{
			Name:               input.Activity,
			FrequencyDays:      defaultFrequencyDays,
			ExtraIntervalHours: 0,
			LastCompletedAt:    completedAt,
		})
		created = true
		logger.WithField("completed_at", completedAt).Debug("added new activity")
	}

	if err := s.store.Save(ctx, input.Section, records); err != nil {
		observability.RecordStorageError(input.Section, "save")
		logger.WithError(err).Error("saving section failed")
		return CompleteResult{}, err
	}
	observability.RecordCompletion(input.Section, created, completedAt)

	event := CompletionEvent{Section: input.Section, Activity: input.Activity, CompletedAt: completedAt, Created: created}
	if err := s.publisher.Publish(ctx, event); err != nil {
		observability.RecordEventFailed()
		logger.WithError(err).Warn("publishing completion event failed")
	}

	return CompleteResult{CompletedAt: completedAt, Created: created, FellBack: fellBack}, nil
}

// resolveTimestamp picks the completion time. An unparseable request falls back
// to the clock; the caller is never told.
func (s *Service) resolveTimestamp(requested *string, logger logrus.FieldLogger) (time.Time, bool) {
	if requested == nil {
		now := s.Now()
		logger.WithField("completed_at", now).Warn("no completion time provided, using current time")
		return now, false
	}

	parsed := ParseRequestedTimestamp(*requested, s.location)
	if !parsed.OK() {
		now := s.Now()
		logger.WithError(parsed.Err).WithField("completed_at", now).Warn("invalid completion time, using current time")
		return now, true
	}
	return parsed.Time, false
}

func (s *Service) load(ctx context.Context, section string) ([]ActivityRecord, error) {
	start := time.Now()
	records, err := s.store.Load(ctx, section)
	observability.ObserveLoad(section, time.Since(start))
	if err != nil {
		observability.RecordStorageError(section, "load")
		s.logger.WithError(err).WithField("section", section).Error("loading section failed")
		return nil, err
	}
	return records, nil
}

func (s *Service) checkSection(section string) error {
	if _, ok := s.known[section]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSection, section)
	}
	return nil
}
