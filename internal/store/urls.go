package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shortguard/shortguard/internal/logging"
	"github.com/shortguard/shortguard/internal/model"
)

const urlColumns = `short_code, long_url, owner_id, created_at, is_active,
	safety_status, threat_score, classifier_id, last_scanned_at`

// StatusQuery selects non-pending URLs for staleness-driven reclassification.
type StatusQuery struct {
	Status model.SafetyStatus

	// Limit bounds the page size. Required, must be positive.
	Limit int

	// ScannedBefore / ScannedAfter filter on last_scanned_at when set.
	ScannedBefore *time.Time
	ScannedAfter  *time.Time

	// StartAfter is a short-code cursor; rows at or before it are skipped.
	StartAfter string

	// SortOrder is "asc" (default) or "desc", applied to last_scanned_at
	// with short_code as tiebreaker.
	SortOrder string
}

// AddURL inserts a new URL row. A zero SafetyStatus defaults to pending:
// newly created URLs always start there unless the synchronous fast tier
// already produced a verdict.
func (s *Store) AddURL(ctx context.Context, u model.Url) (*model.Url, error) {
	if u.SafetyStatus == "" {
		u.SafetyStatus = model.SafetyPending
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO urls (short_code, long_url, owner_id, created_at, is_active,
			safety_status, threat_score, classifier_id, last_scanned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ShortCode, u.LongURL, u.OwnerID, u.CreatedAt.UnixNano(), boolToInt(u.IsActive),
		string(u.SafetyStatus), nullFloat(u.ThreatScore), nullString(u.ClassifierID), nullTime(u.LastScannedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "PRIMARY KEY") {
			return nil, fmt.Errorf("%w: %s", ErrCodeExists, u.ShortCode)
		}
		return nil, fmt.Errorf("inserting url %s: %w", u.ShortCode, err)
	}
	return s.GetByCode(ctx, u.ShortCode)
}

// GetByCode fetches a URL by its short code.
func (s *Store) GetByCode(ctx context.Context, shortCode string) (*model.Url, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+urlColumns+` FROM urls WHERE short_code = ?`, shortCode)
	u, err := scanURL(row)
	if err == sql.ErrNoRows {
		return nil, ErrURLNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting url %s: %w", shortCode, err)
	}
	return u, nil
}

// SetSafetyStatus moves a URL out of pending (or between settled states) and
// records the applied verdict. Moving TO pending is rejected; that direction
// exists only through ResetSafetyStatus. The write is a single atomic UPDATE
// so concurrent workers targeting the same code resolve last-writer-wins
// without corrupting the row.
func (s *Store) SetSafetyStatus(ctx context.Context, shortCode string, status model.SafetyStatus, threatScore float64, classifierID string) (*model.Url, error) {
	if status == model.SafetyPending {
		return nil, ErrPendingTarget
	}
	if _, err := model.ParseSafetyStatus(string(status)); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE urls
		SET safety_status = ?, threat_score = ?, classifier_id = ?, last_scanned_at = ?
		WHERE short_code = ?`,
		string(status), threatScore, classifierID, time.Now().UTC().UnixNano(), shortCode,
	)
	if err != nil {
		return nil, fmt.Errorf("updating safety status for %s: %w", shortCode, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrURLNotFound
	}

	s.logger.Info("safety status applied",
		logging.Field{Key: "short_code", Value: shortCode},
		logging.Field{Key: "status", Value: string(status)},
		logging.Field{Key: "threat_score", Value: threatScore},
		logging.Field{Key: "classifier_id", Value: classifierID},
	)
	return s.GetByCode(ctx, shortCode)
}

// ResetSafetyStatus returns a URL to pending and clears every scan field, so
// the batch path will pick it up again.
func (s *Store) ResetSafetyStatus(ctx context.Context, shortCode string) (*model.Url, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE urls
		SET safety_status = ?, threat_score = NULL, classifier_id = NULL, last_scanned_at = NULL
		WHERE short_code = ?`,
		string(model.SafetyPending), shortCode,
	)
	if err != nil {
		return nil, fmt.Errorf("resetting safety status for %s: %w", shortCode, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrURLNotFound
	}
	return s.GetByCode(ctx, shortCode)
}

// Enable marks the URL servable. Idempotent.
func (s *Store) Enable(ctx context.Context, shortCode string) (*model.Url, error) {
	return s.setActive(ctx, shortCode, true)
}

// Disable marks the URL not servable. Idempotent: disabling an already
// disabled URL is a no-op success.
func (s *Store) Disable(ctx context.Context, shortCode string) (*model.Url, error) {
	return s.setActive(ctx, shortCode, false)
}

func (s *Store) setActive(ctx context.Context, shortCode string, active bool) (*model.Url, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE urls SET is_active = ? WHERE short_code = ?`, boolToInt(active), shortCode)
	if err != nil {
		return nil, fmt.Errorf("toggling url %s: %w", shortCode, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrURLNotFound
	}
	return s.GetByCode(ctx, shortCode)
}

// GetPendingURLs pages through pending URLs ordered ascending by short_code.
// startAfter is an exclusive cursor; the short_code ordering is total, so
// pages never repeat or skip rows even across ties in other columns.
func (s *Store) GetPendingURLs(ctx context.Context, limit int, startAfter string) ([]model.Url, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+urlColumns+` FROM urls
		WHERE safety_status = ? AND short_code > ?
		ORDER BY short_code ASC LIMIT ?`,
		string(model.SafetyPending), startAfter, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting pending urls: %w", err)
	}
	defer rows.Close()
	return collectURLs(rows)
}

// GetBySafetyStatus fetches settled URLs, optionally filtered by scan-time
// window, for staleness-driven reclassification. Pending is rejected here;
// its pagination contract is different.
func (s *Store) GetBySafetyStatus(ctx context.Context, q StatusQuery) ([]model.Url, error) {
	if q.Status == model.SafetyPending {
		return nil, ErrPendingQuery
	}
	if _, err := model.ParseSafetyStatus(string(q.Status)); err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", q.Limit)
	}

	query := `SELECT ` + urlColumns + ` FROM urls WHERE safety_status = ?`
	args := []any{string(q.Status)}

	if q.ScannedBefore != nil {
		query += ` AND last_scanned_at < ?`
		args = append(args, q.ScannedBefore.UnixNano())
	}
	if q.ScannedAfter != nil {
		query += ` AND last_scanned_at > ?`
		args = append(args, q.ScannedAfter.UnixNano())
	}
	if q.StartAfter != "" {
		query += ` AND short_code > ?`
		args = append(args, q.StartAfter)
	}

	order := "ASC"
	if q.SortOrder == "desc" {
		order = "DESC"
	}
	query += ` ORDER BY last_scanned_at ` + order + `, short_code ASC LIMIT ?`
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting urls by status: %w", err)
	}
	defer rows.Close()
	return collectURLs(rows)
}

// CountBySafetyStatus counts rows in one safety state. The batch path uses
// it to size reclassification samples.
func (s *Store) CountBySafetyStatus(ctx context.Context, status model.SafetyStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM urls WHERE safety_status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting urls by status: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanURL(r rowScanner) (*model.Url, error) {
	var (
		u           model.Url
		createdAt   int64
		isActive    int
		status      string
		threatScore sql.NullFloat64
		classifier  sql.NullString
		lastScanned sql.NullInt64
	)
	err := r.Scan(&u.ShortCode, &u.LongURL, &u.OwnerID, &createdAt, &isActive,
		&status, &threatScore, &classifier, &lastScanned)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = time.Unix(0, createdAt).UTC()
	u.IsActive = isActive != 0
	parsed, err := model.ParseSafetyStatus(status)
	if err != nil {
		return nil, err
	}
	u.SafetyStatus = parsed
	if threatScore.Valid {
		u.ThreatScore = &threatScore.Float64
	}
	if classifier.Valid {
		u.ClassifierID = &classifier.String
	}
	if lastScanned.Valid {
		t := time.Unix(0, lastScanned.Int64).UTC()
		u.LastScannedAt = &t
	}
	return &u, nil
}

func collectURLs(rows *sql.Rows) ([]model.Url, error) {
	var out []model.Url
	for rows.Next() {
		u, err := scanURL(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
