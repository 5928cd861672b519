// Package runstore persists extraction runs in SQLite: one row per run plus
// the canonicalized ingredient rows, so the history command can answer what
// was extracted from where and through which fallbacks.
package runstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tillskottskollen/extractor/models"
)

const DefaultDBName = "extractor.db"

type Store struct {
	*sql.DB
	path string
}

// Open opens or creates the run database at path. ":memory:" gives an
// ephemeral store for tests.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultDBName
	}
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run database: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &Store{DB: sqlDB, path: path}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) initSchema() error {
	_, err := s.Exec(schema)
	return err
}

// SaveResult stores one extraction result and its ingredients atomically.
func (s *Store) SaveResult(res *models.ExtractionResult) (int64, error) {
	if res == nil {
		return 0, fmt.Errorf("nil result")
	}
	fallbacks, err := json.Marshal(res.FallbacksUsed)
	if err != nil {
		return 0, fmt.Errorf("encode fallbacks: %w", err)
	}
	missing, err := json.Marshal(res.MissingFields)
	if err != nil {
		return 0, fmt.Errorf("encode missing fields: %w", err)
	}

	tx, err := s.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec := res.Record
	if rec == nil {
		rec = &models.SupplementRecord{}
	}
	insert, err := tx.Exec(`
		INSERT INTO runs (
			correlation_id, url, source, success, completeness, fallbacks, missing_fields,
			name, price_sek, total_servings, serving_size, product_type, confidence
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.CorrelationID, res.URL, string(res.Source), res.Success, res.Completeness,
		string(fallbacks), string(missing), rec.Name, rec.PriceSEK, rec.TotalServings,
		rec.ServingSize, rec.ProductType, rec.Confidence,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	runID, err := insert.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("run id: %w", err)
	}

	for _, ing := range rec.ActiveIngredients {
		_, err := tx.Exec(`
			INSERT INTO run_ingredients (
				run_id, key, display_name, dosage_mg, unit,
				is_primary, is_included, sources
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, ing.Key, ing.DisplayName, ing.DosageMg, ing.Unit,
			ing.Primary, ing.Included, strings.Join(ing.Sources, ","),
		)
		if err != nil {
			return 0, fmt.Errorf("insert ingredient %s: %w", ing.DisplayName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return runID, nil
}

// RunSummary is one row of the run history.
type RunSummary struct {
	RunID         int64
	CorrelationID string
	URL           string
	Source        string
	Success       bool
	Completeness  int
	Name          string
	PriceSEK      float64
	Fallbacks     []string
	MissingFields []models.Field
	CreatedAt     time.Time
}

// Recent returns the latest runs, newest first.
func (s *Store) Recent(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.Query(`
		SELECT run_id, correlation_id, url, source, success, completeness,
		       name, price_sek, fallbacks, missing_fields, created_at
		FROM runs ORDER BY created_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var fallbacks, missing string
		if err := rows.Scan(&r.RunID, &r.CorrelationID, &r.URL, &r.Source, &r.Success,
			&r.Completeness, &r.Name, &r.PriceSEK, &fallbacks, &missing, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if fallbacks != "" {
			if err := json.Unmarshal([]byte(fallbacks), &r.Fallbacks); err != nil {
				return nil, fmt.Errorf("decode fallbacks: %w", err)
			}
		}
		if missing != "" {
			if err := json.Unmarshal([]byte(missing), &r.MissingFields); err != nil {
				return nil, fmt.Errorf("decode missing fields: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ingredients returns the stored ingredient rows of one run.
func (s *Store) Ingredients(runID int64) ([]models.Ingredient, error) {
	rows, err := s.Query(`
		SELECT key, display_name, dosage_mg, unit, is_primary, is_included, sources
		FROM run_ingredients WHERE run_id = ? ORDER BY dosage_mg DESC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query ingredients: %w", err)
	}
	defer rows.Close()

	var out []models.Ingredient
	for rows.Next() {
		var ing models.Ingredient
		var sources string
		if err := rows.Scan(&ing.Key, &ing.DisplayName, &ing.DosageMg, &ing.Unit,
			&ing.Primary, &ing.Included, &sources); err != nil {
			return nil, fmt.Errorf("scan ingredient: %w", err)
		}
		if sources != "" {
			ing.Sources = strings.Split(sources, ",")
		}
		out = append(out, ing)
	}
	return out, rows.Err()
}
