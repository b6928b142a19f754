package sqlite

import (
	"database/sql"
	"strings"
	"time"

	"github.com/kardex-io/kardex/internal/interfaces"
)

// Null conversion helpers. Timestamps round-trip through Unix seconds.

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	f := n.Float64
	return &f
}

func nullUnix(p *time.Time) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: p.UTC().Unix(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0).UTC()
	return &t
}

func unixToTime(unix int64) time.Time {
	return time.Unix(unix, 0).UTC()
}

// mapConstraintErr converts unique-index rejections into the shared sentinel
// so callers can branch with errors.Is. modernc.org/sqlite surfaces
// constraint failures in the error text.
func mapConstraintErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return interfaces.ErrDuplicate
	}
	return err
}
