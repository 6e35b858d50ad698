// Package postgresql provides the PostgreSQL persistence implementation for templates, instances and deliverables.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/worktemplate/pkg/persistence"
	"github.com/dukex/worktemplate/pkg/persistence/sqlbase"
	"github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPersistence creates a new PostgreSQL persistence layer and brings the schema up to date.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, Migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{db: database, logger: logger}, nil
}

// Transact runs fn in a read-committed transaction. Row locks taken through
// the ForUpdate and ForShare readers are held until fn returns.
func (p *Persistence) Transact(ctx context.Context, fn func(ctx context.Context, tx persistence.Tx) error) error {
	return sqlbase.WithTx(ctx, p.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(tx *sql.Tx) error {
		return fn(ctx, &transaction{tx: tx, logger: p.logger})
	})
}

// View runs fn in a read-only transaction.
func (p *Persistence) View(ctx context.Context, fn func(ctx context.Context, tx persistence.Tx) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelReadCommitted, ReadOnly: true}

	return sqlbase.WithTx(ctx, p.db, opts, func(tx *sql.Tx) error {
		return fn(ctx, persistence.ReadOnly(&transaction{tx: tx, logger: p.logger}))
	})
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

type transaction struct {
	tx     *sql.Tx
	logger *slog.Logger
}

func (t *transaction) Templates() persistence.TemplateRepository {
	return &templateRepository{tx: t.tx}
}

func (t *transaction) Versions() persistence.VersionRepository {
	return &versionRepository{tx: t.tx, logger: t.logger}
}

func (t *transaction) Instances() persistence.InstanceRepository {
	return &instanceRepository{tx: t.tx, logger: t.logger}
}

func (t *transaction) FieldValues() persistence.FieldValueRepository {
	return &fieldValueRepository{tx: t.tx, logger: t.logger}
}

func (t *transaction) Approvals() persistence.ApprovalRepository {
	return &approvalRepository{tx: t.tx, logger: t.logger}
}

func (t *transaction) Deliverables() persistence.DeliverableRepository {
	return &deliverableRepository{tx: t.tx, logger: t.logger}
}

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// uniqueConstraints maps unique constraint names onto persistence conflicts.
var uniqueConstraints = map[string]error{
	"work_templates_tenant_code_key":                         persistence.ErrTemplateCodeExists,
	"work_template_versions_template_version_key":            persistence.ErrVersionExists,
	"work_template_steps_version_step_key_key":               persistence.ErrStepKeyExists,
	"work_template_fields_step_field_key_key":                persistence.ErrFieldKeyExists,
	"approvals_one_pending_idx":                              persistence.ErrApprovalPending,
	"deliverable_templates_tenant_code_key":                  persistence.ErrDeliverableCodeExists,
	"deliverable_template_versions_deliverable_version_key": persistence.ErrDeliverableVersionExists,
}

// mapError converts driver errors into persistence errors for the entity involved.
func mapError(op, entity, id string, err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		if sentinel, ok := uniqueConstraints[pqErr.Constraint]; ok {
			return persistence.NewEntityError(op, entity, id, sentinel)
		}
	}

	return fmt.Errorf("%s %s %s: %w", op, entity, id, err)
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation
}

// notFound converts sql.ErrNoRows into the given sentinel.
func notFound(op, entity, id string, err, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.NewEntityError(op, entity, id, sentinel)
	}

	return mapError(op, entity, id, err)
}

// expectRow reports sentinel when an UPDATE or DELETE touched nothing.
func expectRow(result sql.Result, op, entity, id string, sentinel error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewEntityError(op, entity, id, sentinel)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}

	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func stringPointer(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}

	return &s.String
}

func timePointer(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	utc := t.Time.UTC()

	return &utc
}

func intPointer(i sql.NullInt64) *int {
	if !i.Valid {
		return nil
	}

	v := int(i.Int64)

	return &v
}

// jsonValue encodes v for a JSONB column; nil pointers, maps and slices become SQL NULL.
func jsonValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json column: %w", err)
	}

	if string(data) == "null" {
		return nil, nil
	}

	return data, nil
}

// decodeJSON decodes a JSONB column into target, leaving it untouched on NULL.
func decodeJSON(data []byte, target any) error {
	if len(data) == 0 {
		return nil
	}

	err := json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}

	return nil
}
