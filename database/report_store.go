// database/report_store.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/gewnthar/playsync/ingest"
	"github.com/gewnthar/playsync/models"
	"github.com/gewnthar/playsync/utils"
)

// maxPlaceholders is MySQL's limit of bound parameters per statement.
const maxPlaceholders = 65535

// ReportStore bulk-loads transformed rows into the destination tables.
//
// Writes use INSERT IGNORE: rows colliding with a table's natural key are
// discarded by the database. Repeated or overlapping syncs therefore never
// duplicate data, and the returned count is rows attempted, not rows stored.
type ReportStore struct {
	db        *sql.DB
	chunkSize int
	logger    *zap.Logger
}

func NewReportStore(db *sql.DB, chunkSize int, logger *zap.Logger) *ReportStore {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	return &ReportStore{db: db, chunkSize: chunkSize, logger: logger.With(zap.String("component", "report_store"))}
}

// InsertIgnore writes rows into table in one transaction and returns how many
// rows were sent. Rows without a tenant, or without a value for a natural-key
// column that has no safe default, are dropped and logged.
func (s *ReportStore) InsertIgnore(ctx context.Context, table string, rows []models.DestinationRow) (int, error) {
	schema, ok := models.Lookup(table)
	if !ok {
		return 0, &ingest.BulkInsertError{Table: table, Rows: len(rows), Err: fmt.Errorf("unknown table")}
	}
	values := s.prepareRows(schema, rows)
	if len(values) == 0 {
		return 0, nil
	}

	cols := schema.Columns()
	perStmt := s.chunkSize
	if limit := maxPlaceholders / len(cols); perStmt > limit {
		perStmt = limit
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &ingest.BulkInsertError{Table: table, Rows: len(values), Err: fmt.Errorf("begin transaction: %w", err)}
	}
	defer tx.Rollback()

	for start := 0; start < len(values); start += perStmt {
		end := start + perStmt
		if end > len(values) {
			end = len(values)
		}
		chunk := values[start:end]
		args := make([]any, 0, len(chunk)*len(cols))
		for _, v := range chunk {
			args = append(args, v...)
		}
		if _, err := tx.ExecContext(ctx, insertIgnoreSQL(table, cols, len(chunk)), args...); err != nil {
			return 0, &ingest.BulkInsertError{Table: table, Rows: len(values), Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, &ingest.BulkInsertError{Table: table, Rows: len(values), Err: fmt.Errorf("commit: %w", err)}
	}
	return len(values), nil
}

// prepareRows lays each row out in schema column order, keeping only
// declared columns and filling non-nullable gaps with the field's zero.
func (s *ReportStore) prepareRows(schema *models.TableSchema, rows []models.DestinationRow) [][]any {
	out := make([][]any, 0, len(rows))
rowLoop:
	for _, row := range rows {
		if !hasTenant(row[models.ColTenantID]) {
			s.logger.Warn("dropping row without tenant id", zap.String("table", schema.Name),
				zap.Any("source_file", row[models.ColSourceFile]))
			continue
		}
		vals := make([]any, len(schema.Fields))
		for i, f := range schema.Fields {
			v := row[f.Name]
			if v == nil && !f.Nullable {
				v = f.Zero()
			}
			if v == nil && schema.IsKey(f.Name) {
				s.logger.Debug("dropping row without natural key value", zap.String("table", schema.Name),
					zap.String("column", f.Name), zap.Any("source_file", row[models.ColSourceFile]))
				continue rowLoop
			}
			if str, ok := v.(string); ok {
				v = truncateToColumn(schema, f, str)
			}
			vals[i] = v
		}
		out = append(out, vals)
	}
	return out
}

// truncateToColumn cuts text values to the column's character width.
func truncateToColumn(schema *models.TableSchema, f models.Field, v string) string {
	width := TextWidth(schema, f)
	if width <= 0 {
		return v
	}
	return utils.TruncateRunes(v, width)
}

func hasTenant(v any) bool {
	switch id := v.(type) {
	case int64:
		return id > 0
	case int:
		return id > 0
	default:
		return false
	}
}

func insertIgnoreSQL(table string, cols []string, rows int) string {
	group := "(" + strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",") + ")"
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT IGNORE INTO %s (%s) VALUES ", table, strings.Join(cols, ", "))
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(group)
	}
	return b.String()
}
