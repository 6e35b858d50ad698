package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/persistence"
)

type fieldValueRepository struct {
	tx     *sql.Tx
	logger *slog.Logger
}

const fieldValueColumns = `
	id
  , instance_step_id
  , field_key
  , value_type
  , value_string
  , value_number
  , value_date
  , value_datetime
  , value_json
  , updated_by
  , created_at
  , updated_at`

// Upsert keeps the id and created_at of an existing row and reflects them back onto value.
func (r *fieldValueRepository) Upsert(ctx context.Context, value *models.WorkInstanceFieldValue) error {
	query := "INSERT INTO work_instance_field_values (" + fieldValueColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (instance_step_id, field_key) DO UPDATE SET
			value_type = EXCLUDED.value_type,
			value_string = EXCLUDED.value_string,
			value_number = EXCLUDED.value_number,
			value_date = EXCLUDED.value_date,
			value_datetime = EXCLUDED.value_datetime,
			value_json = EXCLUDED.value_json,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	var number sql.NullFloat64
	if value.Value.Number != nil {
		number = sql.NullFloat64{Float64: *value.Value.Number, Valid: true}
	}

	var raw any
	if len(value.Value.JSON) > 0 {
		raw = []byte(value.Value.JSON)
	}

	err := r.tx.QueryRowContext(ctx, query,
		value.ID,
		value.InstanceStepID,
		value.FieldKey,
		value.Value.Type,
		nullString(value.Value.String),
		number,
		nullTime(value.Value.Date),
		nullTime(value.Value.DateTime),
		raw,
		nullString(value.UpdatedBy),
		value.CreatedAt.UTC(),
		value.UpdatedAt.UTC(),
	).Scan(&value.ID, &value.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return persistence.NewEntityError("Upsert", "instance_step", value.InstanceStepID, persistence.ErrInstanceStepNotFound)
		}

		return mapError("Upsert", "field_value", value.FieldKey, err)
	}

	value.CreatedAt = value.CreatedAt.UTC()

	return nil
}

func (r *fieldValueRepository) Get(ctx context.Context, instanceStepID, fieldKey string) (*models.WorkInstanceFieldValue, error) {
	row := r.tx.QueryRowContext(ctx,
		"SELECT"+fieldValueColumns+" FROM work_instance_field_values WHERE instance_step_id = $1 AND field_key = $2",
		instanceStepID, fieldKey)

	value, err := scanFieldValue(row)
	if err != nil {
		return nil, notFound("Get", "field_value", fieldKey, err, persistence.ErrFieldValueNotFound)
	}

	return value, nil
}

func (r *fieldValueRepository) ListByStep(ctx context.Context, instanceStepID string) ([]*models.WorkInstanceFieldValue, error) {
	rows, err := r.tx.QueryContext(ctx,
		"SELECT"+fieldValueColumns+" FROM work_instance_field_values WHERE instance_step_id = $1 ORDER BY field_key",
		instanceStepID)
	if err != nil {
		return nil, fmt.Errorf("failed to query field values: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	values := make([]*models.WorkInstanceFieldValue, 0)

	for rows.Next() {
		value, err := scanFieldValue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan field value: %w", err)
		}

		values = append(values, value)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating field values: %w", err)
	}

	return values, nil
}

func scanFieldValue(row scanner) (*models.WorkInstanceFieldValue, error) {
	var (
		value          models.WorkInstanceFieldValue
		str, updatedBy sql.NullString
		number         sql.NullFloat64
		date, datetime sql.NullTime
		raw            []byte
	)

	err := row.Scan(
		&value.ID,
		&value.InstanceStepID,
		&value.FieldKey,
		&value.Value.Type,
		&str,
		&number,
		&date,
		&datetime,
		&raw,
		&updatedBy,
		&value.CreatedAt,
		&value.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	value.Value.String = stringPointer(str)

	if number.Valid {
		value.Value.Number = &number.Float64
	}

	if date.Valid {
		value.Value.Date = models.DateValue(date.Time).Date
	}

	value.Value.DateTime = timePointer(datetime)

	if len(raw) > 0 {
		value.Value.JSON = raw
	}

	value.UpdatedBy = stringPointer(updatedBy)
	value.CreatedAt = value.CreatedAt.UTC()
	value.UpdatedAt = value.UpdatedAt.UTC()

	return &value, nil
}

type approvalRepository struct {
	tx     *sql.Tx
	logger *slog.Logger
}

const approvalColumns = `
	id
  , instance_step_id
  , decision
  , requested_by
  , requested_at
  , approver_id
  , decided_at
  , comment`

func (r *approvalRepository) Create(ctx context.Context, approval *models.Approval) error {
	query := `
		INSERT INTO approvals (id, instance_step_id, decision, requested_by, requested_at, approver_id, decided_at, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.tx.ExecContext(ctx, query,
		approval.ID,
		approval.InstanceStepID,
		approval.Decision,
		nullString(approval.RequestedBy),
		approval.RequestedAt.UTC(),
		nullString(approval.ApproverID),
		nullTime(approval.DecidedAt),
		approval.Comment,
	)
	if isForeignKeyViolation(err) {
		return persistence.NewEntityError("Create", "instance_step", approval.InstanceStepID, persistence.ErrInstanceStepNotFound)
	}

	return mapError("Create", "approval", approval.ID, err)
}

func (r *approvalRepository) GetByID(ctx context.Context, id string) (*models.Approval, error) {
	row := r.tx.QueryRowContext(ctx, "SELECT"+approvalColumns+" FROM approvals WHERE id = $1", id)

	approval, err := scanApproval(row)
	if err != nil {
		return nil, notFound("GetByID", "approval", id, err, persistence.ErrApprovalNotFound)
	}

	return approval, nil
}

// Latest orders by insertion sequence since request timestamps may tie.
func (r *approvalRepository) Latest(ctx context.Context, instanceStepID string) (*models.Approval, error) {
	row := r.tx.QueryRowContext(ctx,
		"SELECT"+approvalColumns+" FROM approvals WHERE instance_step_id = $1 ORDER BY seq DESC LIMIT 1",
		instanceStepID)

	approval, err := scanApproval(row)
	if err != nil {
		return nil, notFound("Latest", "approval", instanceStepID, err, persistence.ErrApprovalNotFound)
	}

	return approval, nil
}

func (r *approvalRepository) ListByStep(ctx context.Context, instanceStepID string) ([]*models.Approval, error) {
	rows, err := r.tx.QueryContext(ctx,
		"SELECT"+approvalColumns+" FROM approvals WHERE instance_step_id = $1 ORDER BY seq",
		instanceStepID)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	approvals := make([]*models.Approval, 0)

	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}

		approvals = append(approvals, approval)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating approvals: %w", err)
	}

	return approvals, nil
}

func (r *approvalRepository) Decide(ctx context.Context, approval *models.Approval) error {
	query := `
		UPDATE approvals
		SET decision = $2, approver_id = $3, decided_at = $4, comment = $5
		WHERE id = $1 AND decision = 'pending'
	`

	result, err := r.tx.ExecContext(ctx, query,
		approval.ID,
		approval.Decision,
		nullString(approval.ApproverID),
		nullTime(approval.DecidedAt),
		approval.Comment,
	)
	if err != nil {
		return mapError("Decide", "approval", approval.ID, err)
	}

	err = expectRow(result, "Decide", "approval", approval.ID, persistence.ErrStaleApprovalDecision)
	if err == nil {
		return nil
	}

	var exists bool

	existsErr := r.tx.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM approvals WHERE id = $1)", approval.ID).Scan(&exists)
	if existsErr != nil {
		return fmt.Errorf("failed to check approval: %w", existsErr)
	}

	if !exists {
		return persistence.NewEntityError("Decide", "approval", approval.ID, persistence.ErrApprovalNotFound)
	}

	return err
}

func scanApproval(row scanner) (*models.Approval, error) {
	var (
		result                  models.Approval
		requestedBy, approverID sql.NullString
		decidedAt               sql.NullTime
	)

	err := row.Scan(
		&result.ID,
		&result.InstanceStepID,
		&result.Decision,
		&requestedBy,
		&result.RequestedAt,
		&approverID,
		&decidedAt,
		&result.Comment,
	)
	if err != nil {
		return nil, err
	}

	result.RequestedBy = stringPointer(requestedBy)
	result.RequestedAt = result.RequestedAt.UTC()
	result.ApproverID = stringPointer(approverID)
	result.DecidedAt = timePointer(decidedAt)

	return &result, nil
}
