package db

import (
	"context"
	"database/sql"

	"optiroute/internal/domain"
)

// QueryRower is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func HasTable(ctx context.Context, q QueryRower, table string) bool {
	var name sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		  AND table_name = ?
		LIMIT 1
	`, table).Scan(&name)
	if err != nil {
		return false
	}
	return name.Valid && name.String != ""
}

// NullFloat maps an optional float onto a nullable column value.
func NullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func NullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func NullID(v *domain.ID) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func FloatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func IntPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func IDPtr(v sql.NullInt64) *domain.ID {
	if !v.Valid {
		return nil
	}
	id := domain.ID(v.Int64)
	return &id
}
