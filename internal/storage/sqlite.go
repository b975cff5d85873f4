package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/reglens/reglens/internal/model"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS sections (
		tenant_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		section_path TEXT NOT NULL,
		doc_name TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (tenant_id, document_id, section_path)
	);

	CREATE TABLE IF NOT EXISTS citations (
		tenant_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		section_path TEXT NOT NULL,
		standard TEXT NOT NULL,
		standard_norm TEXT NOT NULL,
		version TEXT NOT NULL DEFAULT '',
		clause TEXT NOT NULL DEFAULT '',
		annex TEXT NOT NULL DEFAULT '',
		context TEXT NOT NULL DEFAULT '',
		line_number INTEGER NOT NULL DEFAULT 0,
		confidence REAL NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_citations_section ON citations(tenant_id, document_id, section_path);
	CREATE INDEX IF NOT EXISTS idx_citations_standard ON citations(tenant_id, standard_norm);

	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		impacts TEXT NOT NULL,
		summary TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_tenant ON runs(tenant_id, created_at);
`

// SQLiteStore persists everything in a single SQLite file. Run timestamps
// are stored as unix nanoseconds so listing order never depends on string
// formatting.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) UpsertSection(ctx context.Context, sec model.Section) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sections (tenant_id, document_id, section_path, doc_name, body)
		VALUES (?, ?, ?, ?, ?)
	`, sec.TenantID, sec.DocumentID, sec.SectionPath, sec.DocName, sec.Text)
	if err != nil {
		return fmt.Errorf("upserting section: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSection(ctx context.Context, id model.SectionID) (model.Section, error) {
	var sec model.Section
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, document_id, section_path, doc_name, body
		FROM sections
		WHERE tenant_id = ? AND document_id = ? AND section_path = ?
	`, id.TenantID, id.DocumentID, id.SectionPath).
		Scan(&sec.TenantID, &sec.DocumentID, &sec.SectionPath, &sec.DocName, &sec.Text)
	if err == sql.ErrNoRows {
		return model.Section{}, ErrSectionNotFound
	}
	if err != nil {
		return model.Section{}, fmt.Errorf("querying section: %w", err)
	}
	return sec, nil
}

func (s *SQLiteStore) ListSections(ctx context.Context, tenantID string) ([]model.Section, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, document_id, section_path, doc_name, body
		FROM sections
		WHERE tenant_id = ?
		ORDER BY document_id, section_path
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying sections: %w", err)
	}
	defer rows.Close()

	var out []model.Section
	for rows.Next() {
		var sec model.Section
		if err := rows.Scan(&sec.TenantID, &sec.DocumentID, &sec.SectionPath, &sec.DocName, &sec.Text); err != nil {
			return nil, err
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ReplaceReferences(ctx context.Context, id model.SectionID, refs []model.RegulatoryReference) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM citations
		WHERE tenant_id = ? AND document_id = ? AND section_path = ?
	`, id.TenantID, id.DocumentID, id.SectionPath)
	if err != nil {
		return fmt.Errorf("clearing section citations: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO citations (tenant_id, document_id, section_path, standard, standard_norm,
			version, clause, annex, context, line_number, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing citations insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range refs {
		_, err = stmt.ExecContext(ctx, r.TenantID, r.DocumentID, r.SectionPath,
			r.Standard, model.NormalizeStandard(r.Standard),
			r.Version, r.Clause, r.Annex, r.Context, r.LineNumber, r.Confidence)
		if err != nil {
			return fmt.Errorf("inserting citation: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListReferencesByStandard(ctx context.Context, tenantID, standard string) ([]model.RegulatoryReference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, document_id, section_path, standard, version, clause, annex,
			context, line_number, confidence
		FROM citations
		WHERE tenant_id = ? AND standard_norm = ?
		ORDER BY document_id, section_path, line_number, clause
	`, tenantID, model.NormalizeStandard(standard))
	if err != nil {
		return nil, fmt.Errorf("querying citations by standard: %w", err)
	}
	defer rows.Close()

	return scanReferences(rows)
}

func (s *SQLiteStore) DeleteReferencesByDocument(ctx context.Context, tenantID, documentID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM citations WHERE tenant_id = ? AND document_id = ?
	`, tenantID, documentID)
	if err != nil {
		return 0, fmt.Errorf("deleting document citations: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run *model.AnalysisRun) error {
	impacts, err := json.Marshal(run.Impacts)
	if err != nil {
		return fmt.Errorf("encoding impacts: %w", err)
	}
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE run_id = ?`, run.RunID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking run id: %w", err)
	}
	if exists > 0 {
		return ErrDuplicateRun
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, tenant_id, created_at, impacts, summary)
		VALUES (?, ?, ?, ?, ?)
	`, run.RunID, run.TenantID, run.CreatedAt.UnixNano(), string(impacts), string(summary))
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.AnalysisRun, error) {
	var (
		run       model.AnalysisRun
		createdNS int64
		impacts   string
		summary   string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, tenant_id, created_at, impacts, summary
		FROM runs
		WHERE run_id = ?
	`, runID).Scan(&run.RunID, &run.TenantID, &createdNS, &impacts, &summary)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}

	run.CreatedAt = time.Unix(0, createdNS).UTC()
	if err := json.Unmarshal([]byte(impacts), &run.Impacts); err != nil {
		return nil, fmt.Errorf("decoding impacts: %w", err)
	}
	if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
		return nil, fmt.Errorf("decoding summary: %w", err)
	}
	return &run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, tenantID string) ([]model.RunListing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, tenant_id, created_at, summary
		FROM runs
		WHERE tenant_id = ?
		ORDER BY created_at DESC, run_id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []model.RunListing
	for rows.Next() {
		var (
			l         model.RunListing
			createdNS int64
			summary   string
		)
		if err := rows.Scan(&l.RunID, &l.TenantID, &createdNS, &summary); err != nil {
			return nil, err
		}
		l.CreatedAt = time.Unix(0, createdNS).UTC()
		if err := json.Unmarshal([]byte(summary), &l.Summary); err != nil {
			return nil, fmt.Errorf("decoding summary: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanReferences(rows *sql.Rows) ([]model.RegulatoryReference, error) {
	var refs []model.RegulatoryReference
	for rows.Next() {
		var r model.RegulatoryReference
		err := rows.Scan(&r.TenantID, &r.DocumentID, &r.SectionPath, &r.Standard,
			&r.Version, &r.Clause, &r.Annex, &r.Context, &r.LineNumber, &r.Confidence)
		if err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}
