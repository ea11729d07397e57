package audit

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/opscart/k8s-rightsizer/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRecorder persists audit records to PostgreSQL.
type PostgresRecorder struct {
	db *sql.DB
}

// NewPostgresRecorder opens the database, applies the schema and returns a
// ready recorder.
func NewPostgresRecorder(dsn string) (*PostgresRecorder, error) {
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

	schema, err := migrationsFS.ReadFile("migrations/001_audit_schema.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}

	return &PostgresRecorder{db: db}, nil
}

// Record implements Recorder.
func (r *PostgresRecorder) Record(ctx context.Context, rec *models.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	query := `
		INSERT INTO audit_records (
			id, workflow_id, outcome,
			cluster_name, location, namespace, workload_kind, workload_name, container,
			before_cpu_millis, before_memory_bytes,
			before_cpu_limit_millis, before_memory_limit_bytes,
			after_cpu_millis, after_memory_bytes,
			after_cpu_limit_millis, after_memory_limit_bytes,
			actor, detail, ticket_ref, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`

	var beforeCPULimit, beforeMemLimit sql.NullInt64
	if rec.Before.Limit != nil {
		beforeCPULimit = sql.NullInt64{Int64: rec.Before.Limit.CPUMillis, Valid: true}
		beforeMemLimit = sql.NullInt64{Int64: rec.Before.Limit.MemoryBytes, Valid: true}
	}

	var afterCPU, afterMem, afterCPULimit, afterMemLimit sql.NullInt64
	if rec.After != nil {
		afterCPU = sql.NullInt64{Int64: rec.After.Request.CPUMillis, Valid: true}
		afterMem = sql.NullInt64{Int64: rec.After.Request.MemoryBytes, Valid: true}
		if rec.After.Limit != nil {
			afterCPULimit = sql.NullInt64{Int64: rec.After.Limit.CPUMillis, Valid: true}
			afterMemLimit = sql.NullInt64{Int64: rec.After.Limit.MemoryBytes, Valid: true}
		}
	}

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.WorkflowID, string(rec.Outcome),
		rec.Ref.Cluster, rec.Ref.Location, rec.Ref.Namespace, string(rec.Ref.Kind), rec.Ref.Name, rec.Ref.Container,
		rec.Before.Request.CPUMillis, rec.Before.Request.MemoryBytes,
		beforeCPULimit, beforeMemLimit,
		afterCPU, afterMem,
		afterCPULimit, afterMemLimit,
		rec.Actor, rec.Detail, rec.TicketRef, rec.Timestamp,
	)
	return err
}

// List returns the most recent audit records for a workload.
func (r *PostgresRecorder) List(ctx context.Context, namespace, name string, limit int) ([]*models.AuditRecord, error) {
	query := `
		SELECT id, workflow_id, outcome,
			cluster_name, location, namespace, workload_kind, workload_name, container,
			before_cpu_millis, before_memory_bytes,
			before_cpu_limit_millis, before_memory_limit_bytes,
			after_cpu_millis, after_memory_bytes,
			after_cpu_limit_millis, after_memory_limit_bytes,
			actor, detail, ticket_ref, recorded_at
		FROM audit_records
		WHERE namespace = $1 AND workload_name = $2
		ORDER BY recorded_at DESC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, namespace, name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.AuditRecord
	for rows.Next() {
		var rec models.AuditRecord
		var outcome, kind string
		var location, actor, detail, ticketRef sql.NullString
		var beforeCPULimit, beforeMemLimit sql.NullInt64
		var afterCPU, afterMem, afterCPULimit, afterMemLimit sql.NullInt64

		err := rows.Scan(
			&rec.ID, &rec.WorkflowID, &outcome,
			&rec.Ref.Cluster, &location, &rec.Ref.Namespace, &kind, &rec.Ref.Name, &rec.Ref.Container,
			&rec.Before.Request.CPUMillis, &rec.Before.Request.MemoryBytes,
			&beforeCPULimit, &beforeMemLimit,
			&afterCPU, &afterMem,
			&afterCPULimit, &afterMemLimit,
			&actor, &detail, &ticketRef, &rec.Timestamp,
		)
		if err != nil {
			return nil, err
		}

		rec.Outcome = models.WorkflowState(outcome)
		rec.Ref.Kind = models.WorkloadKind(kind)
		rec.Ref.Location = location.String
		rec.Actor = actor.String
		rec.Detail = detail.String
		rec.TicketRef = ticketRef.String

		if beforeCPULimit.Valid {
			rec.Before.Limit = &models.Resources{
				CPUMillis:   beforeCPULimit.Int64,
				MemoryBytes: beforeMemLimit.Int64,
			}
		}
		if afterCPU.Valid {
			after := models.ResourceSpec{
				Request: models.Resources{CPUMillis: afterCPU.Int64, MemoryBytes: afterMem.Int64},
			}
			if afterCPULimit.Valid {
				after.Limit = &models.Resources{
					CPUMillis:   afterCPULimit.Int64,
					MemoryBytes: afterMemLimit.Int64,
				}
			}
			rec.After = &after
		}

		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Ping checks database connectivity.
func (r *PostgresRecorder) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *PostgresRecorder) Close() error {
	return r.db.Close()
}
