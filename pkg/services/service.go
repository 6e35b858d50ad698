package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/worktemplate/pkg/cache"
	"github.com/dukex/worktemplate/pkg/eventbus"
	"github.com/dukex/worktemplate/pkg/events"
	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/otelhelper"
	"github.com/dukex/worktemplate/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/dukex/worktemplate/pkg/services"

// Option configures a service.
type Option func(*core)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *core) {
		c.now = now
	}
}

// WithPublisher publishes lifecycle events after each successful commit.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(c *core) {
		c.publisher = publisher
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *core) {
		c.logger = logger
	}
}

// WithSnapshotCache serves published snapshots from cache before hitting persistence.
func WithSnapshotCache(snapshots cache.SnapshotCache) Option {
	return func(c *core) {
		c.snapshots = snapshots
	}
}

// core holds what every service shares.
type core struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
	snapshots   cache.SnapshotCache
	validate    *validator.Validate
}

func newCore(p persistence.Persistence, module string, opts []Option) *core {
	c := &core{
		persistence: p,
		logger:      slog.Default(),
		tracer:      otel.Tracer(tracerName),
		now:         time.Now,
		snapshots:   cache.Noop{},
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With("module", module)

	return c
}

func (c *core) clock() time.Time {
	return c.now().UTC()
}

// outbox collects events inside a unit of work; they leave only after commit.
type outbox struct {
	entries []outboxEntry
}

type outboxEntry struct {
	key   string
	event eventbus.Event
}

func (o *outbox) add(key string, event eventbus.Event) {
	o.entries = append(o.entries, outboxEntry{key: key, event: event})
}

// run executes fn in one unit of work and publishes collected events once it commits.
// A failed publish is logged; the commit stands.
func (c *core) run(ctx context.Context, fn func(ctx context.Context, tx persistence.Tx, out *outbox) error) error {
	out := &outbox{}

	err := c.persistence.Transact(ctx, func(ctx context.Context, tx persistence.Tx) error {
		out.entries = out.entries[:0]

		return fn(ctx, tx, out)
	})
	if err != nil {
		return err
	}

	c.flush(ctx, out)

	return nil
}

// read executes fn in a read-only view.
func (c *core) read(ctx context.Context, fn func(ctx context.Context, tx persistence.Tx) error) error {
	return c.persistence.View(ctx, fn)
}

func (c *core) flush(ctx context.Context, out *outbox) {
	if c.publisher == nil {
		return
	}

	for _, entry := range out.entries {
		if err := c.publisher.Publish(ctx, entry.key, entry.event); err != nil {
			c.logger.ErrorContext(ctx, "failed to publish event",
				"event_type", entry.event.GetType(),
				"key", entry.key,
				"error", err)
		}
	}
}

func (c *core) baseEvent(eventType events.EventType, tenantID string) events.BaseEvent {
	base := events.NewBaseEvent(eventType, tenantID)
	base.Timestamp = c.clock()

	return base
}

// span starts a span and returns a finisher that records err on it.
// nolint:spancheck // the returned func ends the span
func (c *core) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, name, attrs...)

	return ctx, func(errp *error) {
		otelhelper.End(span, errp, ErrorCode)
	}
}

// check runs struct validation and reports failures as sentinel.
func (c *core) check(op string, req any, sentinel error) error {
	err := c.validate.Struct(req)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		first := validationErrors[0]

		return newError(op, sentinel, "%s failed on the %q rule", first.Field(), first.Tag())
	}

	return newError(op, sentinel, "%v", err)
}

// publishedSnapshot returns the frozen content of a published version.
func (c *core) publishedSnapshot(ctx context.Context, versionID string) (*models.VersionSnapshot, error) {
	cached, err := c.snapshots.Get(ctx, versionID)
	if err != nil {
		c.logger.WarnContext(ctx, "snapshot cache read failed", "version_id", versionID, "error", err)
	}

	if cached != nil {
		return cached, nil
	}

	var snapshot *models.VersionSnapshot

	err = c.read(ctx, func(ctx context.Context, tx persistence.Tx) error {
		version, err := tx.Versions().GetByID(ctx, versionID)
		if err != nil {
			return err
		}

		if !version.IsPublished() || version.ContentSnapshot == nil {
			return newError("GetPublishedSnapshot", ErrVersionNotPublished, "version %s", versionID)
		}

		snapshot = version.ContentSnapshot

		return nil
	})
	if err != nil {
		return nil, err
	}

	c.cacheSnapshot(ctx, snapshot)

	return snapshot, nil
}

func (c *core) cacheSnapshot(ctx context.Context, snapshot *models.VersionSnapshot) {
	if err := c.snapshots.Set(ctx, snapshot); err != nil {
		c.logger.WarnContext(ctx, "snapshot cache write failed", "version_id", snapshot.VersionID, "error", err)
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}

// translate maps storage conflicts onto the service taxonomy.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrTemplateCodeExists), errors.Is(err, persistence.ErrDeliverableCodeExists):
		return fmt.Errorf("%w: %w", ErrDuplicateCode, err)
	case errors.Is(err, persistence.ErrVersionExists), errors.Is(err, persistence.ErrDeliverableVersionExists):
		return fmt.Errorf("%w: %w", ErrDuplicateVersion, err)
	case errors.Is(err, persistence.ErrStepKeyExists):
		return fmt.Errorf("%w: %w", ErrDuplicateStepKey, err)
	case errors.Is(err, persistence.ErrFieldKeyExists):
		return fmt.Errorf("%w: %w", ErrDuplicateFieldKey, err)
	case errors.Is(err, persistence.ErrStaleStepStatus):
		return fmt.Errorf("%w: %w", ErrPreconditionFailed, err)
	case errors.Is(err, persistence.ErrApprovalPending):
		return fmt.Errorf("%w: %w", ErrDuplicateRequest, err)
	case errors.Is(err, persistence.ErrStaleApprovalDecision):
		return fmt.Errorf("%w: %w", ErrAlreadyDecided, err)
	default:
		return err
	}
}

func stringPointer(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}

func timePointer(t time.Time) *time.Time {
	return &t
}
