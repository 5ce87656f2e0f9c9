package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/jobs/internal/core/domain"
)

// FailedActionRepo implements storage.FailedActionRepository using PostgreSQL.
type FailedActionRepo struct {
	db *DB
}

// NewFailedActionRepo creates a new PostgreSQL failed action repository.
func NewFailedActionRepo(db *DB) *FailedActionRepo {
	return &FailedActionRepo{db: db}
}

type failedActionRow struct {
	ID         string     `db:"id"`
	Type       string     `db:"action_type"`
	SubjectID  string     `db:"subject_id"`
	ErrorMsg   string     `db:"error_msg"`
	ErrorStack string     `db:"error_stack"`
	RetryCount int        `db:"retry_count"`
	Resolved   bool       `db:"resolved"`
	ResolvedAt *time.Time `db:"resolved_at"`
	ResolvedBy string     `db:"resolved_by"`
	Metadata   []byte     `db:"metadata"`
	CreatedAt  time.Time  `db:"created_at"`
}

func (r failedActionRow) toDomain() *domain.FailedAction {
	fa := &domain.FailedAction{
		ID:         r.ID,
		Type:       domain.FailedActionType(r.Type),
		SubjectID:  r.SubjectID,
		Error:      r.ErrorMsg,
		ErrorStack: r.ErrorStack,
		RetryCount: r.RetryCount,
		Resolved:   r.Resolved,
		ResolvedAt: r.ResolvedAt,
		ResolvedBy: r.ResolvedBy,
		CreatedAt:  r.CreatedAt,
	}
	if len(r.Metadata) > 0 {
		_ = json.Unmarshal(r.Metadata, &fa.Metadata)
	}
	return fa
}

// Add appends a failed action.
func (r *FailedActionRepo) Add(ctx context.Context, fa *domain.FailedAction) error {
	if fa.ID == "" {
		fa.ID = uuid.New().String()
	}

	var metadata []byte
	if len(fa.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(fa.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
	}

	query := `
		INSERT INTO failed_actions
			(id, action_type, subject_id, error_msg, error_stack, retry_count, resolved, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, NOW())
	`
	_, err := r.db.ExecContext(
		ctx,
		query,
		fa.ID,
		string(fa.Type),
		fa.SubjectID,
		fa.Error,
		fa.ErrorStack,
		fa.RetryCount,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to add failed action: %w", err)
	}
	return nil
}

// Resolve marks a failed action as resolved. Already-resolved rows are left
// untouched so the resolved_at/resolved_by of the first resolution survive.
func (r *FailedActionRepo) Resolve(ctx context.Context, id, resolvedBy string) error {
	query := `
		UPDATE failed_actions
		SET resolved = TRUE, resolved_at = NOW(), resolved_by = $2
		WHERE id = $1 AND resolved = FALSE
	`
	_, err := r.db.ExecContext(ctx, query, id, resolvedBy)
	if err != nil {
		return fmt.Errorf("failed to resolve failed action: %w", err)
	}
	return nil
}

// ListUnresolved returns unresolved failed actions, oldest first.
func (r *FailedActionRepo) ListUnresolved(ctx context.Context, limit int) ([]*domain.FailedAction, error) {
	query := `
		SELECT id, action_type, subject_id, error_msg, error_stack, retry_count,
		       resolved, resolved_at, resolved_by, metadata, created_at
		FROM failed_actions
		WHERE resolved = FALSE
		ORDER BY created_at ASC
		LIMIT $1
	`

	var rows []failedActionRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list failed actions: %w", err)
	}

	actions := make([]*domain.FailedAction, 0, len(rows))
	for _, row := range rows {
		actions = append(actions, row.toDomain())
	}
	return actions, nil
}

// CountUnresolved returns the unresolved backlog size.
func (r *FailedActionRepo) CountUnresolved(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM failed_actions WHERE resolved = FALSE`)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed actions: %w", err)
	}
	return count, nil
}
