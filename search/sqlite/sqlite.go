// Package sqlite implements a persistent knowledge store backed by SQLite.
// Cases are kept in a single table with a flattened search_text column;
// retrieval is keyword LIKE matching with an issue-type filter. Good for a
// single node deployment; larger installs should front a dedicated search
// service behind the same interface.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voclabs/supportflow/core"
)

// Store is a SQLite-backed core.CaseSearcher.
type Store struct {
	db *sql.DB
}

var _ core.CaseSearcher = (*Store)(nil)

// Open creates or opens the knowledge database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS cases (
		id TEXT PRIMARY KEY,
		issue_type TEXT NOT NULL,
		issue_name TEXT,
		case_type TEXT,
		case_name TEXT NOT NULL,
		description TEXT,
		symptoms_json TEXT,
		keywords_json TEXT,
		questions_json TEXT,
		solution_steps_json TEXT,
		escalation_triggers_json TEXT,
		search_text TEXT NOT NULL,
		hit_count INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cases_issue_type ON cases(issue_type);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Upsert inserts or replaces a case. The search_text column is rebuilt from
// the descriptive fields unless the case carries its own.
func (s *Store) Upsert(ctx context.Context, c core.Case) error {
	searchText := c.SearchText
	if searchText == "" {
		parts := []string{c.CaseName, c.Description}
		parts = append(parts, c.Symptoms...)
		parts = append(parts, c.Keywords...)
		searchText = strings.Join(parts, " ")
	}

	symptoms, err := marshalList(c.Symptoms)
	if err != nil {
		return err
	}
	keywords, err := marshalList(c.Keywords)
	if err != nil {
		return err
	}
	questions, err := marshalList(c.QuestionsToAsk)
	if err != nil {
		return err
	}
	steps, err := marshalList(c.SolutionSteps)
	if err != nil {
		return err
	}
	triggers, err := marshalList(c.EscalationTriggers)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO cases (
			id, issue_type, issue_name, case_type, case_name, description,
			symptoms_json, keywords_json, questions_json,
			solution_steps_json, escalation_triggers_json,
			search_text, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			issue_type = excluded.issue_type,
			issue_name = excluded.issue_name,
			case_type = excluded.case_type,
			case_name = excluded.case_name,
			description = excluded.description,
			symptoms_json = excluded.symptoms_json,
			keywords_json = excluded.keywords_json,
			questions_json = excluded.questions_json,
			solution_steps_json = excluded.solution_steps_json,
			escalation_triggers_json = excluded.escalation_triggers_json,
			search_text = excluded.search_text,
			updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		c.ID, c.IssueType, c.IssueName, c.CaseType, c.CaseName, c.Description,
		symptoms, keywords, questions, steps, triggers,
		strings.ToLower(searchText), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert case %s: %w", c.ID, err)
	}
	return nil
}

// Load bulk-inserts cases, typically at startup from a seed file.
func (s *Store) Load(ctx context.Context, cases []core.Case) error {
	for _, c := range cases {
		if err := s.Upsert(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// Search implements core.CaseSearcher. Each query term matched against the
// search_text column contributes to the score; rows matching no term are
// dropped.
func (s *Store) Search(ctx context.Context, query string, topK int, issueType string) ([]core.ScoredCase, error) {
	if topK <= 0 {
		topK = 5
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(terms)+1)
	sb.WriteString(`
		SELECT id, issue_type, issue_name, case_type, case_name, description,
		       symptoms_json, keywords_json, questions_json,
		       solution_steps_json, escalation_triggers_json, search_text
		FROM cases WHERE (`)
	for i, t := range terms {
		if i > 0 {
			sb.WriteString(" OR ")
		}
		sb.WriteString("search_text LIKE ?")
		args = append(args, "%"+t+"%")
	}
	sb.WriteString(")")
	if issueType != "" {
		sb.WriteString(" AND issue_type = ?")
		args = append(args, issueType)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search cases: %w", err)
	}
	defer rows.Close()

	var scored []core.ScoredCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		score := scoreTerms(c.SearchText, terms)
		if score <= 0 {
			continue
		}
		scored = append(scored, core.ScoredCase{Case: c, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search cases: %w", err)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// RecordHit implements core.CaseSearcher.
func (s *Store) RecordHit(ctx context.Context, caseID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cases SET hit_count = hit_count + 1 WHERE id = ?`, caseID)
	if err != nil {
		return fmt.Errorf("record hit for %s: %w", caseID, err)
	}
	return nil
}

// HitCount returns the retrieval counter for a case id.
func (s *Store) HitCount(ctx context.Context, caseID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT hit_count FROM cases WHERE id = ?`, caseID).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("hit count for %s: %w", caseID, err)
	}
	return n, nil
}

func scanCase(rows *sql.Rows) (core.Case, error) {
	var c core.Case
	var symptoms, keywords, questions, steps, triggers sql.NullString
	var issueName, caseType, description sql.NullString
	err := rows.Scan(
		&c.ID, &c.IssueType, &issueName, &caseType, &c.CaseName, &description,
		&symptoms, &keywords, &questions, &steps, &triggers, &c.SearchText,
	)
	if err != nil {
		return core.Case{}, fmt.Errorf("scan case: %w", err)
	}
	c.IssueName = issueName.String
	c.CaseType = caseType.String
	c.Description = description.String
	if c.Symptoms, err = unmarshalList(symptoms); err != nil {
		return core.Case{}, err
	}
	if c.Keywords, err = unmarshalList(keywords); err != nil {
		return core.Case{}, err
	}
	if c.QuestionsToAsk, err = unmarshalList(questions); err != nil {
		return core.Case{}, err
	}
	if c.SolutionSteps, err = unmarshalList(steps); err != nil {
		return core.Case{}, err
	}
	if c.EscalationTriggers, err = unmarshalList(triggers); err != nil {
		return core.Case{}, err
	}
	return c, nil
}

func scoreTerms(searchText string, terms []string) float64 {
	var score float64
	for _, t := range terms {
		if strings.Contains(searchText, t) {
			score++
		}
	}
	return score / float64(len(terms))
}

func marshalList(items []string) (string, error) {
	if len(items) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshal list: %w", err)
	}
	return string(b), nil
}

func unmarshalList(col sql.NullString) ([]string, error) {
	if !col.Valid || col.String == "" || col.String == "[]" {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal([]byte(col.String), &items); err != nil {
		return nil, fmt.Errorf("unmarshal list: %w", err)
	}
	return items, nil
}
