package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/persistence"
)

type instanceRepository struct {
	tx     *sql.Tx
	logger *slog.Logger
}

const instanceColumns = `
	id
  , tenant_id
  , project_id
  , template_id
  , version_id
  , status
  , created_by
  , created_at
  , updated_at
  , started_at
  , completed_at
  , cancelled_at
  , cancelled_by`

const instanceStepColumns = `
	id
  , instance_id
  , step_key
  , name
  , step_type
  , step_order
  , depends_on
  , assignee_rule
  , assignee
  , sla_hours
  , snapshot_fields
  , status
  , deadline
  , started_at
  , started_by
  , completed_at
  , completed_by
  , skipped_at
  , skipped_by
  , overdue_notified_at
  , created_at
  , updated_at`

// Create inserts the instance and all of its steps.
func (r *instanceRepository) Create(ctx context.Context, instance *models.WorkInstance) error {
	query := `
		INSERT INTO work_instances (
			id, tenant_id, project_id, template_id, version_id, status, created_by,
			created_at, updated_at, started_at, completed_at, cancelled_at, cancelled_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.tx.ExecContext(ctx, query,
		instance.ID,
		instance.TenantID,
		instance.ProjectID,
		instance.TemplateID,
		instance.VersionID,
		instance.Status,
		nullString(instance.CreatedBy),
		instance.CreatedAt.UTC(),
		instance.UpdatedAt.UTC(),
		nullTime(instance.StartedAt),
		nullTime(instance.CompletedAt),
		nullTime(instance.CancelledAt),
		nullString(instance.CancelledBy),
	)
	if err != nil {
		return mapError("Create", "instance", instance.ID, err)
	}

	for _, step := range instance.Steps {
		err := r.insertStep(ctx, step)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *instanceRepository) insertStep(ctx context.Context, step *models.WorkInstanceStep) error {
	dependsOn, err := jsonValue(dependencies(step.DependsOn))
	if err != nil {
		return err
	}

	fields := step.SnapshotFields
	if fields == nil {
		fields = []*models.WorkTemplateField{}
	}

	snapshot, err := jsonValue(fields)
	if err != nil {
		return err
	}

	query := "INSERT INTO work_instance_steps (" + instanceStepColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`

	_, err = r.tx.ExecContext(ctx, query,
		step.ID,
		step.InstanceID,
		step.StepKey,
		step.Name,
		step.Type,
		step.StepOrder,
		dependsOn,
		step.AssigneeRule,
		nullString(step.Assignee),
		nullInt(step.SLAHours),
		snapshot,
		step.Status,
		nullTime(step.Deadline),
		nullTime(step.StartedAt),
		nullString(step.StartedBy),
		nullTime(step.CompletedAt),
		nullString(step.CompletedBy),
		nullTime(step.SkippedAt),
		nullString(step.SkippedBy),
		nullTime(step.OverdueNotifiedAt),
		step.CreatedAt.UTC(),
		step.UpdatedAt.UTC(),
	)

	return mapError("Create", "instance_step", step.ID, err)
}

func (r *instanceRepository) GetByID(ctx context.Context, id string) (*models.WorkInstance, error) {
	return r.get(ctx, "GetByID", id, "")
}

func (r *instanceRepository) GetForUpdate(ctx context.Context, id string) (*models.WorkInstance, error) {
	return r.get(ctx, "GetForUpdate", id, " FOR UPDATE")
}

func (r *instanceRepository) get(ctx context.Context, op, id, lock string) (*models.WorkInstance, error) {
	row := r.tx.QueryRowContext(ctx, "SELECT"+instanceColumns+" FROM work_instances WHERE id = $1"+lock, id)

	instance, err := scanInstance(row)
	if err != nil {
		return nil, notFound(op, "instance", id, err, persistence.ErrInstanceNotFound)
	}

	return instance, nil
}

func (r *instanceRepository) List(ctx context.Context, opts persistence.ListInstancesOptions) ([]*models.WorkInstance, error) {
	var (
		conditions []string
		args       []any
	)

	filter := func(column string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if opts.TenantID != "" {
		filter("tenant_id", opts.TenantID)
	}

	if opts.ProjectID != "" {
		filter("project_id", opts.ProjectID)
	}

	if opts.VersionID != "" {
		filter("version_id", opts.VersionID)
	}

	if opts.Status != nil {
		filter("status", *opts.Status)
	}

	query := "SELECT" + instanceColumns + " FROM work_instances"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY created_at, id" + pageClause(opts.Limit, opts.Offset, &args)

	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	instances := make([]*models.WorkInstance, 0)

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}

func (r *instanceRepository) Update(ctx context.Context, instance *models.WorkInstance) error {
	query := `
		UPDATE work_instances
		SET status = $2, updated_at = $3, started_at = $4, completed_at = $5, cancelled_at = $6, cancelled_by = $7
		WHERE id = $1
	`

	result, err := r.tx.ExecContext(ctx, query,
		instance.ID,
		instance.Status,
		instance.UpdatedAt.UTC(),
		nullTime(instance.StartedAt),
		nullTime(instance.CompletedAt),
		nullTime(instance.CancelledAt),
		nullString(instance.CancelledBy),
	)
	if err != nil {
		return mapError("Update", "instance", instance.ID, err)
	}

	return expectRow(result, "Update", "instance", instance.ID, persistence.ErrInstanceNotFound)
}

func (r *instanceRepository) Delete(ctx context.Context, id string) error {
	result, err := r.tx.ExecContext(ctx, "DELETE FROM work_instances WHERE id = $1", id)
	if err != nil {
		return mapError("Delete", "instance", id, err)
	}

	return expectRow(result, "Delete", "instance", id, persistence.ErrInstanceNotFound)
}

func (r *instanceRepository) CountByVersion(ctx context.Context, versionID string) (int, error) {
	var count int

	err := r.tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM work_instances WHERE version_id = $1", versionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count instances: %w", err)
	}

	return count, nil
}

func (r *instanceRepository) ListSteps(ctx context.Context, instanceID string) ([]*models.WorkInstanceStep, error) {
	return r.querySteps(ctx,
		"SELECT"+instanceStepColumns+" FROM work_instance_steps WHERE instance_id = $1 ORDER BY step_order, step_key",
		instanceID)
}

func (r *instanceRepository) GetStep(ctx context.Context, stepID string) (*models.WorkInstanceStep, error) {
	return r.getStep(ctx, "GetStep", stepID, "")
}

func (r *instanceRepository) GetStepForUpdate(ctx context.Context, stepID string) (*models.WorkInstanceStep, error) {
	return r.getStep(ctx, "GetStepForUpdate", stepID, " FOR UPDATE")
}

func (r *instanceRepository) GetStepForShare(ctx context.Context, stepID string) (*models.WorkInstanceStep, error) {
	return r.getStep(ctx, "GetStepForShare", stepID, " FOR SHARE")
}

func (r *instanceRepository) getStep(ctx context.Context, op, stepID, lock string) (*models.WorkInstanceStep, error) {
	row := r.tx.QueryRowContext(ctx, "SELECT"+instanceStepColumns+" FROM work_instance_steps WHERE id = $1"+lock, stepID)

	step, err := scanInstanceStep(row)
	if err != nil {
		return nil, notFound(op, "instance_step", stepID, err, persistence.ErrInstanceStepNotFound)
	}

	return step, nil
}

// CompareAndSwapStep writes the runtime columns of the step guarded by its stored status.
// Definition columns are immutable after instantiation and are never rewritten.
func (r *instanceRepository) CompareAndSwapStep(ctx context.Context, step *models.WorkInstanceStep, expected models.StepStatus) error {
	query := `
		UPDATE work_instance_steps
		SET status = $3,
			assignee = $4,
			deadline = $5,
			started_at = $6,
			started_by = $7,
			completed_at = $8,
			completed_by = $9,
			skipped_at = $10,
			skipped_by = $11,
			overdue_notified_at = $12,
			updated_at = $13
		WHERE id = $1 AND status = $2
	`

	result, err := r.tx.ExecContext(ctx, query,
		step.ID,
		expected,
		step.Status,
		nullString(step.Assignee),
		nullTime(step.Deadline),
		nullTime(step.StartedAt),
		nullString(step.StartedBy),
		nullTime(step.CompletedAt),
		nullString(step.CompletedBy),
		nullTime(step.SkippedAt),
		nullString(step.SkippedBy),
		nullTime(step.OverdueNotifiedAt),
		step.UpdatedAt.UTC(),
	)
	if err != nil {
		return mapError("CompareAndSwapStep", "instance_step", step.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected > 0 {
		return nil
	}

	return r.staleOrMissing(ctx, "CompareAndSwapStep", step.ID)
}

// staleOrMissing explains a conditional step update that matched no row.
func (r *instanceRepository) staleOrMissing(ctx context.Context, op, stepID string) error {
	var exists bool

	err := r.tx.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM work_instance_steps WHERE id = $1)", stepID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check instance step: %w", err)
	}

	if !exists {
		return persistence.NewEntityError(op, "instance_step", stepID, persistence.ErrInstanceStepNotFound)
	}

	return persistence.NewEntityError(op, "instance_step", stepID, persistence.ErrStaleStepStatus)
}

// ListOverdueSteps returns open steps past their deadline, not yet notified, of instances still running.
// The returned rows stay locked until the unit of work ends; rows locked by a
// concurrent transition are skipped and picked up by a later sweep.
func (r *instanceRepository) ListOverdueSteps(ctx context.Context, now time.Time, limit int) ([]*models.WorkInstanceStep, error) {
	query := "SELECT" + instanceStepColumns + `
		FROM work_instance_steps
		WHERE deadline < $1
		  AND overdue_notified_at IS NULL
		  AND status NOT IN ('completed', 'skipped')
		  AND EXISTS (
			SELECT 1 FROM work_instances i
			WHERE i.id = instance_id AND i.status NOT IN ('completed', 'cancelled')
		  )
		ORDER BY deadline, id`

	args := []any{now.UTC()}
	query += pageClause(limit, 0, &args)
	query += " FOR UPDATE OF work_instance_steps SKIP LOCKED"

	return r.querySteps(ctx, query, args...)
}

// MarkOverdueNotified records the notification only while the step is still
// open and not yet notified; otherwise it returns ErrStaleStepStatus.
func (r *instanceRepository) MarkOverdueNotified(ctx context.Context, stepID string, at time.Time) error {
	result, err := r.tx.ExecContext(ctx, `
		UPDATE work_instance_steps SET overdue_notified_at = $2
		WHERE id = $1
		  AND overdue_notified_at IS NULL
		  AND status NOT IN ('completed', 'skipped')`, stepID, at.UTC())
	if err != nil {
		return mapError("MarkOverdueNotified", "instance_step", stepID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected > 0 {
		return nil
	}

	return r.staleOrMissing(ctx, "MarkOverdueNotified", stepID)
}

func (r *instanceRepository) querySteps(ctx context.Context, query string, args ...any) ([]*models.WorkInstanceStep, error) {
	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instance steps: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	steps := make([]*models.WorkInstanceStep, 0)

	for rows.Next() {
		step, err := scanInstanceStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance step: %w", err)
		}

		steps = append(steps, step)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating instance steps: %w", err)
	}

	return steps, nil
}

func scanInstance(row scanner) (*models.WorkInstance, error) {
	var (
		instance                            models.WorkInstance
		createdBy, cancelledBy              sql.NullString
		startedAt, completedAt, cancelledAt sql.NullTime
	)

	err := row.Scan(
		&instance.ID,
		&instance.TenantID,
		&instance.ProjectID,
		&instance.TemplateID,
		&instance.VersionID,
		&instance.Status,
		&createdBy,
		&instance.CreatedAt,
		&instance.UpdatedAt,
		&startedAt,
		&completedAt,
		&cancelledAt,
		&cancelledBy,
	)
	if err != nil {
		return nil, err
	}

	instance.CreatedBy = stringPointer(createdBy)
	instance.CreatedAt = instance.CreatedAt.UTC()
	instance.UpdatedAt = instance.UpdatedAt.UTC()
	instance.StartedAt = timePointer(startedAt)
	instance.CompletedAt = timePointer(completedAt)
	instance.CancelledAt = timePointer(cancelledAt)
	instance.CancelledBy = stringPointer(cancelledBy)

	return &instance, nil
}

func scanInstanceStep(row scanner) (*models.WorkInstanceStep, error) {
	var (
		step                             models.WorkInstanceStep
		dependsOn, snapshot              []byte
		assignee, startedBy              sql.NullString
		completedBy, skippedBy           sql.NullString
		slaHours                         sql.NullInt64
		deadline, startedAt, completedAt sql.NullTime
		skippedAt, overdueNotifiedAt     sql.NullTime
	)

	err := row.Scan(
		&step.ID,
		&step.InstanceID,
		&step.StepKey,
		&step.Name,
		&step.Type,
		&step.StepOrder,
		&dependsOn,
		&step.AssigneeRule,
		&assignee,
		&slaHours,
		&snapshot,
		&step.Status,
		&deadline,
		&startedAt,
		&startedBy,
		&completedAt,
		&completedBy,
		&skippedAt,
		&skippedBy,
		&overdueNotifiedAt,
		&step.CreatedAt,
		&step.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	step.DependsOn = []string{}
	step.SnapshotFields = []*models.WorkTemplateField{}

	err = errors.Join(decodeJSON(dependsOn, &step.DependsOn), decodeJSON(snapshot, &step.SnapshotFields))
	if err != nil {
		return nil, err
	}

	step.Assignee = stringPointer(assignee)
	step.SLAHours = intPointer(slaHours)
	step.Deadline = timePointer(deadline)
	step.StartedAt = timePointer(startedAt)
	step.StartedBy = stringPointer(startedBy)
	step.CompletedAt = timePointer(completedAt)
	step.CompletedBy = stringPointer(completedBy)
	step.SkippedAt = timePointer(skippedAt)
	step.SkippedBy = stringPointer(skippedBy)
	step.OverdueNotifiedAt = timePointer(overdueNotifiedAt)
	step.CreatedAt = step.CreatedAt.UTC()
	step.UpdatedAt = step.UpdatedAt.UTC()

	return &step, nil
}
