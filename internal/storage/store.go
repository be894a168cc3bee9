// Package storage persists workflow records and embedded knowledge chunks.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Divas-Gupta30/workflow-builder/internal/apperr"
)

const (
	DefaultChatLogLimit      = 50
	DefaultExecutionLogLimit = 100
)

// WorkflowStore persists saved workflow definitions.
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	ListWorkflows(ctx context.Context) ([]Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
}

// DocumentStore persists knowledge upload metadata.
type DocumentStore interface {
	SaveDocument(ctx context.Context, doc *Document) error
	ListDocuments(ctx context.Context, collection string) ([]Document, error)
}

// AuditStore persists chat and execution records.
type AuditStore interface {
	SaveChatLog(ctx context.Context, log *ChatLog) error
	ListChatLogs(ctx context.Context, workflowUUID string, limit int) ([]ChatLog, error)
	SaveExecutionLog(ctx context.Context, log *ExecutionLog) error
	ListExecutionLogs(ctx context.Context, f ExecutionFilter, limit int) ([]ExecutionLog, error)
}

// Store is the full records persistence surface.
type Store interface {
	WorkflowStore
	DocumentStore
	AuditStore
	Migrate(ctx context.Context) error
	Close() error
}

// dialect captures the differences between the SQL backends.
type dialect struct {
	name       string
	dollarArgs bool
	boolArg    func(bool) any
	migrations []migration
}

// sqlStore implements Store over database/sql. Queries are written with ?
// placeholders and rebound for the dialect.
type sqlStore struct {
	db  *sql.DB
	d   dialect
	now func() time.Time
}

func (s *sqlStore) DB() *sql.DB { return s.db }

func (s *sqlStore) Close() error { return s.db.Close() }

func (s *sqlStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db, s.d)
}

func (s *sqlStore) rebind(q string) string {
	if !s.d.dollarArgs {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(q), args...)
}

func (s *sqlStore) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(q), args...)
}

func (s *sqlStore) stamp(t *time.Time) {
	if t.IsZero() {
		*t = s.now().UTC()
	}
}

// --- Workflows ---

func (s *sqlStore) SaveWorkflow(ctx context.Context, wf *Workflow) error {
	if wf.UUID == "" {
		wf.UUID = uuid.NewString()
	}
	s.stamp(&wf.CreatedAt)
	wf.UpdatedAt = wf.CreatedAt
	_, err := s.exec(ctx,
		`INSERT INTO workflows (uuid, name, description, nodes, edges, user_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.UUID, wf.Name, wf.Description, jsonText(wf.Nodes), jsonText(wf.Edges),
		nullStr(wf.UserID), wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		return storeError("save workflow", err)
	}
	return nil
}

func (s *sqlStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	wf := &Workflow{}
	var nodes, edges []byte
	var userID sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT uuid, name, description, nodes, edges, user_id, created_at, updated_at
		 FROM workflows WHERE uuid = ?`), id,
	).Scan(&wf.UUID, &wf.Name, &wf.Description, &nodes, &edges, &userID, &wf.CreatedAt, &wf.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, storeError("get workflow", err)
	}
	wf.Nodes, wf.Edges, wf.UserID = nodes, edges, userID.String
	return wf, nil
}

func (s *sqlStore) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	rows, err := s.query(ctx,
		`SELECT uuid, name, description, user_id, created_at, updated_at
		 FROM workflows ORDER BY updated_at DESC`)
	if err != nil {
		return nil, storeError("list workflows", err)
	}
	defer rows.Close()
	out := []Workflow{}
	for rows.Next() {
		var wf Workflow
		var userID sql.NullString
		if err := rows.Scan(&wf.UUID, &wf.Name, &wf.Description, &userID, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, storeError("scan workflow", err)
		}
		wf.UserID = userID.String
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *sqlStore) UpdateWorkflow(ctx context.Context, wf *Workflow) error {
	wf.UpdatedAt = s.now().UTC()
	res, err := s.exec(ctx,
		`UPDATE workflows SET name = ?, description = ?, nodes = ?, edges = ?, updated_at = ?
		 WHERE uuid = ?`,
		wf.Name, wf.Description, jsonText(wf.Nodes), jsonText(wf.Edges), wf.UpdatedAt, wf.UUID,
	)
	if err != nil {
		return storeError("update workflow", err)
	}
	return checkRowsAffected(res, "workflow", wf.UUID)
}

func (s *sqlStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM workflows WHERE uuid = ?`, id)
	if err != nil {
		return storeError("delete workflow", err)
	}
	return checkRowsAffected(res, "workflow", id)
}

// --- Documents ---

func (s *sqlStore) SaveDocument(ctx context.Context, doc *Document) error {
	if doc.UUID == "" {
		doc.UUID = uuid.NewString()
	}
	if doc.EmbeddingModel == "" {
		doc.EmbeddingModel = "default"
	}
	s.stamp(&doc.CreatedAt)
	_, err := s.exec(ctx,
		`INSERT INTO documents (uuid, filename, file_size, collection_name, chunk_count, embedding_model, user_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.UUID, doc.Filename, doc.FileSize, doc.CollectionName, doc.ChunkCount,
		doc.EmbeddingModel, nullStr(doc.UserID), doc.CreatedAt,
	)
	if err != nil {
		return storeError("save document", err)
	}
	return nil
}

func (s *sqlStore) ListDocuments(ctx context.Context, collection string) ([]Document, error) {
	q := `SELECT uuid, filename, file_size, collection_name, chunk_count, embedding_model, user_id, created_at FROM documents`
	var args []any
	if collection != "" {
		q += ` WHERE collection_name = ?`
		args = append(args, collection)
	}
	q += ` ORDER BY created_at DESC`
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, storeError("list documents", err)
	}
	defer rows.Close()
	out := []Document{}
	for rows.Next() {
		var d Document
		var userID sql.NullString
		if err := rows.Scan(&d.UUID, &d.Filename, &d.FileSize, &d.CollectionName, &d.ChunkCount, &d.EmbeddingModel, &userID, &d.CreatedAt); err != nil {
			return nil, storeError("scan document", err)
		}
		d.UserID = userID.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- Audit ---

func (s *sqlStore) SaveChatLog(ctx context.Context, l *ChatLog) error {
	if l.UUID == "" {
		l.UUID = uuid.NewString()
	}
	s.stamp(&l.CreatedAt)
	_, err := s.exec(ctx,
		`INSERT INTO chat_logs (uuid, workflow_uuid, message, response, provider, context_used, web_used, user_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.UUID, nullStr(l.WorkflowUUID), l.Message, nullStr(l.Response), nullStr(l.Provider),
		l.ContextUsed, s.d.boolArg(l.WebUsed), nullStr(l.UserID), l.CreatedAt,
	)
	if err != nil {
		return storeError("save chat log", err)
	}
	return nil
}

func (s *sqlStore) ListChatLogs(ctx context.Context, workflowUUID string, limit int) ([]ChatLog, error) {
	if limit <= 0 || limit > DefaultChatLogLimit {
		limit = DefaultChatLogLimit
	}
	q := `SELECT uuid, workflow_uuid, message, response, provider, context_used, web_used, user_id, created_at FROM chat_logs`
	var args []any
	if workflowUUID != "" {
		q += ` WHERE workflow_uuid = ?`
		args = append(args, workflowUUID)
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, storeError("list chat logs", err)
	}
	defer rows.Close()
	out := []ChatLog{}
	for rows.Next() {
		var l ChatLog
		var wf, resp, provider, userID sql.NullString
		if err := rows.Scan(&l.UUID, &wf, &l.Message, &resp, &provider, &l.ContextUsed, &l.WebUsed, &userID, &l.CreatedAt); err != nil {
			return nil, storeError("scan chat log", err)
		}
		l.WorkflowUUID, l.Response, l.Provider, l.UserID = wf.String, resp.String, provider.String, userID.String
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *sqlStore) SaveExecutionLog(ctx context.Context, l *ExecutionLog) error {
	if l.UUID == "" {
		l.UUID = uuid.NewString()
	}
	s.stamp(&l.CreatedAt)
	_, err := s.exec(ctx,
		`INSERT INTO execution_logs (uuid, workflow_uuid, user_id, status, message, response, provider,
		 execution_time_ms, error_message, context_used, web_used, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.UUID, nullStr(l.WorkflowUUID), nullStr(l.UserID), l.Status, l.Message, nullStr(l.Response),
		nullStr(l.Provider), l.ExecutionTimeMs, nullStr(l.ErrorMessage), l.ContextUsed,
		s.d.boolArg(l.WebUsed), l.CreatedAt,
	)
	if err != nil {
		return storeError("save execution log", err)
	}
	return nil
}

func (s *sqlStore) ListExecutionLogs(ctx context.Context, f ExecutionFilter, limit int) ([]ExecutionLog, error) {
	if limit <= 0 || limit > DefaultExecutionLogLimit {
		limit = DefaultExecutionLogLimit
	}
	var where []string
	var args []any
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.WorkflowUUID != "" {
		where = append(where, "workflow_uuid = ?")
		args = append(args, f.WorkflowUUID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	q := `SELECT uuid, workflow_uuid, user_id, status, message, response, provider, execution_time_ms,
	      error_message, context_used, web_used, created_at FROM execution_logs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, storeError("list execution logs", err)
	}
	defer rows.Close()
	out := []ExecutionLog{}
	for rows.Next() {
		var l ExecutionLog
		var wf, userID, resp, provider, errMsg sql.NullString
		if err := rows.Scan(&l.UUID, &wf, &userID, &l.Status, &l.Message, &resp, &provider,
			&l.ExecutionTimeMs, &errMsg, &l.ContextUsed, &l.WebUsed, &l.CreatedAt); err != nil {
			return nil, storeError("scan execution log", err)
		}
		l.WorkflowUUID, l.UserID, l.Response, l.Provider, l.ErrorMessage =
			wf.String, userID.String, resp.String, provider.String, errMsg.String
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- helpers ---

func storeNotFound(resource, id string) *apperr.Error {
	return apperr.Newf(apperr.CodeNotFound, "%s %q not found", resource, id)
}

func storeError(op string, err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return apperr.New(apperr.CodeStoreError, op).WithCause(err)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeError("rows affected", err)
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func jsonText(raw []byte) string {
	if len(raw) == 0 {
		return "[]"
	}
	return string(raw)
}

func plainBool(b bool) any { return b }

func intBool(b bool) any {
	if b {
		return 1
	}
	return 0
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*LibSQLStore)(nil)
)
