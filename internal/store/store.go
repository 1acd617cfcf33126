// Package store persists the synchronized clinic data model in
// PostgreSQL. All writes are upserts on the natural unique key
// (user_id, external_id, pms_type) so a replayed sync run is
// idempotent, and bulk writes are chunked to bound transaction size.
package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// DefaultBatchSize caps how many rows one bulk statement carries.
const DefaultBatchSize = 200

// Store wraps the relational database.
type Store struct {
	db        *sql.DB
	batchSize int
}

// New creates a store. batchSize <= 0 falls back to DefaultBatchSize.
func New(db *sql.DB, batchSize int) *Store {
	if db == nil {
		panic("store: db required")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Store{db: db, batchSize: batchSize}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// placeholders renders "($1,$2),($3,$4)" groups for a multi-row
// VALUES clause.
func placeholders(rows, cols int) string {
	var b strings.Builder
	arg := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(",")
		}
		b.WriteString("(")
		for c := 0; c < cols; c++ {
			if c > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "$%d", arg)
			arg++
		}
		b.WriteString(")")
	}
	return b.String()
}
