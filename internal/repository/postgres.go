package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/iamade/litinkapp-sub002/internal/domain"
	_ "github.com/lib/pq"
)

const taskColumns = `id, kind, tier, payload, status, retry_count, max_retries,
	       last_attempted_at, result_url, error_message, attempts, created_at, updated_at`

// PostgresTaskRepository persists tasks in the generation_tasks table.
type PostgresTaskRepository struct {
	db *sql.DB
}

func NewPostgresTaskRepository(db *sql.DB) *PostgresTaskRepository {
	return &PostgresTaskRepository{db: db}
}

// OpenPostgres opens and pings a Postgres connection pool.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return db, nil
}

func (r *PostgresTaskRepository) Create(ctx context.Context, task *domain.GenerationTask) error {
	attempts, err := marshalAttempts(task.Attempts)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO generation_tasks
			(id, kind, tier, payload, status, retry_count, max_retries, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		task.ID,
		string(task.Kind),
		string(task.Tier),
		[]byte(task.Payload),
		string(task.Status),
		task.RetryCount,
		task.MaxRetries,
		attempts,
		task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	return nil
}

func (r *PostgresTaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.GenerationTask, error) {
	query := `SELECT ` + taskColumns + ` FROM generation_tasks WHERE id = $1`

	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}

	return task, nil
}

func (r *PostgresTaskRepository) Claim(ctx context.Context, id uuid.UUID) (*domain.GenerationTask, error) {
	query := `
		UPDATE generation_tasks
		SET status = $2, last_attempted_at = now(), updated_at = now()
		WHERE id = $1 AND status = $3
		RETURNING ` + taskColumns

	task, err := scanTask(r.db.QueryRowContext(ctx, query, id,
		string(domain.TaskStatusInProgress), string(domain.TaskStatusPending)))
	if err == sql.ErrNoRows {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, domain.ErrTaskAlreadyClaimed
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}

	return task, nil
}

func (r *PostgresTaskRepository) MarkCompleted(ctx context.Context, id uuid.UUID, resultURL string, attempts []domain.AttemptRecord) error {
	raw, err := marshalAttempts(attempts)
	if err != nil {
		return err
	}

	query := `
		UPDATE generation_tasks
		SET status = $2, result_url = $3, error_message = '', attempts = $4, updated_at = now()
		WHERE id = $1 AND status = $5
	`

	return r.transition(ctx, query, id,
		string(domain.TaskStatusCompleted), resultURL, raw, string(domain.TaskStatusInProgress))
}

func (r *PostgresTaskRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string, attempts []domain.AttemptRecord) error {
	raw, err := marshalAttempts(attempts)
	if err != nil {
		return err
	}

	query := `
		UPDATE generation_tasks
		SET status = $2, error_message = $3, attempts = $4, updated_at = now()
		WHERE id = $1 AND status = $5
	`

	return r.transition(ctx, query, id,
		string(domain.TaskStatusFailed), errorMessage, raw, string(domain.TaskStatusInProgress))
}

func (r *PostgresTaskRepository) ScheduleRetry(ctx context.Context, id uuid.UUID, retryCount int, errorMessage string, attempts []domain.AttemptRecord) error {
	raw, err := marshalAttempts(attempts)
	if err != nil {
		return err
	}

	query := `
		UPDATE generation_tasks
		SET status = $2, retry_count = $3, error_message = $4, attempts = $5, updated_at = now()
		WHERE id = $1 AND status = $6
	`

	return r.transition(ctx, query, id,
		string(domain.TaskStatusPending), retryCount, errorMessage, raw, string(domain.TaskStatusInProgress))
}

func (r *PostgresTaskRepository) ListByStatus(ctx context.Context, status domain.TaskStatus, minAge time.Duration) ([]*domain.GenerationTask, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM generation_tasks
		WHERE status = $1 AND updated_at <= now() - ($2 * interval '1 second')
		ORDER BY updated_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, string(status), int(minAge.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("query tasks by status: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.GenerationTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

func (r *PostgresTaskRepository) transition(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrTaskAlreadyClaimed
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*domain.GenerationTask, error) {
	var task domain.GenerationTask
	var kind, tier, status string
	var payload, attempts []byte
	var lastAttemptedAt sql.NullTime
	var resultURL, errorMessage sql.NullString

	err := row.Scan(
		&task.ID,
		&kind,
		&tier,
		&payload,
		&status,
		&task.RetryCount,
		&task.MaxRetries,
		&lastAttemptedAt,
		&resultURL,
		&errorMessage,
		&attempts,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Kind = domain.ServiceKind(kind)
	task.Tier = domain.Tier(tier)
	task.Status = domain.TaskStatus(status)
	task.Payload = json.RawMessage(payload)
	if lastAttemptedAt.Valid {
		t := lastAttemptedAt.Time
		task.LastAttemptedAt = &t
	}
	task.ResultURL = resultURL.String
	task.ErrorMessage = errorMessage.String

	if len(attempts) > 0 {
		if err := json.Unmarshal(attempts, &task.Attempts); err != nil {
			return nil, fmt.Errorf("unmarshal attempts: %w", err)
		}
	}

	return &task, nil
}

func marshalAttempts(attempts []domain.AttemptRecord) ([]byte, error) {
	if attempts == nil {
		attempts = []domain.AttemptRecord{}
	}
	raw, err := json.Marshal(attempts)
	if err != nil {
		return nil, fmt.Errorf("marshal attempts: %w", err)
	}
	return raw, nil
}
