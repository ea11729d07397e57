package workflow

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/opscart/k8s-rightsizer/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore persists workflows in PostgreSQL so the confirmation wait
// survives process restarts.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the database, applies the schema and returns a
// ready store.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema, err := migrationsFS.ReadFile("migrations/001_workflow_schema.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, wf *models.Workflow) error {
	recJSON, err := recommendationJSON(wf)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflows (
			id, state,
			cluster_name, location, namespace, workload_kind, workload_name, container,
			recommendation, actor, failure_kind, detail,
			created_at, updated_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = s.db.ExecContext(ctx, query,
		wf.ID, string(wf.State),
		wf.Ref.Cluster, wf.Ref.Location, wf.Ref.Namespace, string(wf.Ref.Kind), wf.Ref.Name, wf.Ref.Container,
		recJSON, wf.Actor, string(wf.FailureKind), wf.Detail,
		wf.CreatedAt, wf.UpdatedAt, nullTime(wf.ExpiresAt),
	)
	return err
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT id, state,
			cluster_name, location, namespace, workload_kind, workload_name, container,
			recommendation, actor, failure_kind, detail,
			created_at, updated_at, expires_at
		FROM workflows
		WHERE id = $1
	`
	wf, err := scanWorkflow(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", models.ErrWorkflowNotFound, id)
	}
	return wf, err
}

// Update implements Store.
func (s *PostgresStore) Update(ctx context.Context, wf *models.Workflow) error {
	recJSON, err := recommendationJSON(wf)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflows
		SET state = $1, recommendation = $2, actor = $3,
			failure_kind = $4, detail = $5, updated_at = $6, expires_at = $7
		WHERE id = $8
	`
	result, err := s.db.ExecContext(ctx, query,
		string(wf.State), recJSON, wf.Actor,
		string(wf.FailureKind), wf.Detail, wf.UpdatedAt, nullTime(wf.ExpiresAt),
		wf.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", models.ErrWorkflowNotFound, wf.ID)
	}
	return nil
}

// ListAwaitingExpired implements Store.
func (s *PostgresStore) ListAwaitingExpired(ctx context.Context, now time.Time) ([]*models.Workflow, error) {
	query := `
		SELECT id, state,
			cluster_name, location, namespace, workload_kind, workload_name, container,
			recommendation, actor, failure_kind, detail,
			created_at, updated_at, expires_at
		FROM workflows
		WHERE state = $1 AND expires_at IS NOT NULL AND expires_at < $2
	`
	rows, err := s.db.QueryContext(ctx, query, string(models.StateAwaitingConfirmation), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var wf models.Workflow
	var state, kind string
	var location, actor, failureKind, detail sql.NullString
	var recJSON []byte
	var expiresAt sql.NullTime

	err := row.Scan(
		&wf.ID, &state,
		&wf.Ref.Cluster, &location, &wf.Ref.Namespace, &kind, &wf.Ref.Name, &wf.Ref.Container,
		&recJSON, &actor, &failureKind, &detail,
		&wf.CreatedAt, &wf.UpdatedAt, &expiresAt,
	)
	if err != nil {
		return nil, err
	}

	wf.State = models.WorkflowState(state)
	wf.Ref.Kind = models.WorkloadKind(kind)
	wf.Ref.Location = location.String
	wf.Actor = actor.String
	wf.FailureKind = models.ErrorKind(failureKind.String)
	wf.Detail = detail.String
	if expiresAt.Valid {
		wf.ExpiresAt = expiresAt.Time
	}

	if len(recJSON) > 0 {
		var rec models.Recommendation
		if err := json.Unmarshal(recJSON, &rec); err != nil {
			return nil, fmt.Errorf("decoding recommendation for workflow %s: %w", wf.ID, err)
		}
		wf.Recommendation = &rec
	}
	return &wf, nil
}

func recommendationJSON(wf *models.Workflow) ([]byte, error) {
	if wf.Recommendation == nil {
		return nil, nil
	}
	data, err := json.Marshal(wf.Recommendation)
	if err != nil {
		return nil, fmt.Errorf("encoding recommendation for workflow %s: %w", wf.ID, err)
	}
	return data, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
