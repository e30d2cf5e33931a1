package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shortguard/shortguard/internal/model"
)

const resultColumns = `status, threat_score, classifier_id, timestamp, latency_ms, success, error, details`

// AddClassification appends a result to the URL's classification history.
// History is append-only: failed results are recorded here but never touch
// the urls row; only SetSafetyStatus applies a verdict.
func (s *Store) AddClassification(ctx context.Context, shortCode string, r model.ClassificationResult) error {
	var details any
	if r.Details != nil {
		data, err := json.Marshal(r.Details)
		if err != nil {
			return fmt.Errorf("encoding result details: %w", err)
		}
		details = string(data)
	}
	var latency any
	if r.LatencyMS != nil {
		latency = *r.LatencyMS
	}
	var errText any
	if r.Error != "" {
		errText = r.Error
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO classification_results
			(url_short_code, status, threat_score, classifier_id, timestamp, latency_ms, success, error, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		shortCode, string(r.Status), r.ThreatScore, r.ClassifierID,
		r.Timestamp.UnixNano(), latency, boolToInt(r.Success), errText, details,
	)
	if err != nil {
		return fmt.Errorf("inserting classification result for %s: %w", shortCode, err)
	}
	return nil
}

// ClassificationHistory returns all results for a short code, newest first.
func (s *Store) ClassificationHistory(ctx context.Context, shortCode string) ([]model.ClassificationResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+resultColumns+` FROM classification_results
		WHERE url_short_code = ? ORDER BY timestamp DESC`, shortCode)
	if err != nil {
		return nil, fmt.Errorf("selecting classification history for %s: %w", shortCode, err)
	}
	defer rows.Close()

	var out []model.ClassificationResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// LatestClassification returns the newest result for a short code, or
// ErrURLNotFound when history is empty.
func (s *Store) LatestClassification(ctx context.Context, shortCode string) (*model.ClassificationResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+resultColumns+` FROM classification_results
		WHERE url_short_code = ? ORDER BY timestamp DESC LIMIT 1`, shortCode)
	r, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, ErrURLNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting latest classification for %s: %w", shortCode, err)
	}
	return r, nil
}

func scanResult(r rowScanner) (*model.ClassificationResult, error) {
	var (
		out     model.ClassificationResult
		status  string
		ts      int64
		latency sql.NullFloat64
		success int
		errText sql.NullString
		details sql.NullString
	)
	err := r.Scan(&status, &out.ThreatScore, &out.ClassifierID, &ts, &latency, &success, &errText, &details)
	if err != nil {
		return nil, err
	}
	parsed, err := model.ParseSafetyStatus(status)
	if err != nil {
		return nil, err
	}
	out.Status = parsed
	out.Timestamp = time.Unix(0, ts).UTC()
	if latency.Valid {
		out.LatencyMS = &latency.Float64
	}
	out.Success = success != 0
	if errText.Valid {
		out.Error = errText.String
	}
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &out.Details); err != nil {
			return nil, fmt.Errorf("decoding result details: %w", err)
		}
	}
	return &out, nil
}
