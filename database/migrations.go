// database/migrations.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/gewnthar/playsync/models"
)

var metaTables = []string{
	`CREATE TABLE IF NOT EXISTS data_sources (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		bucket_uri VARCHAR(512) NOT NULL,
		sync_status VARCHAR(16) NOT NULL DEFAULT 'pending',
		last_sync_at DATETIME NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY uq_data_sources_tenant_bucket (tenant_id, bucket_uri(191))
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS data_source_sync_history (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		data_source_id BIGINT NOT NULL,
		run_id CHAR(36) NOT NULL,
		status VARCHAR(16) NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME NULL,
		log_message TEXT NULL,
		records_processed BIGINT NOT NULL DEFAULT 0,
		files_processed INT NOT NULL DEFAULT 0,
		files_skipped INT NOT NULL DEFAULT 0,
		files_errored INT NOT NULL DEFAULT 0,
		KEY idx_sync_history_source (data_source_id, started_at),
		UNIQUE KEY uq_sync_history_run (run_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS file_tracking (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		file_path VARCHAR(1024) NOT NULL,
		file_path_hash CHAR(64) CHARACTER SET ascii NOT NULL,
		file_hash CHAR(64) NULL,
		report_type VARCHAR(64) NULL,
		target_table VARCHAR(128) NULL,
		first_processed DATETIME NULL,
		last_processed DATETIME NULL,
		last_attempt_at DATETIME NULL,
		last_status VARCHAR(16) NULL,
		last_error TEXT NULL,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE KEY uq_file_tracking_tenant_path (tenant_id, file_path_hash)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// InnoDB index limits for utf8mb4 tables.
const (
	maxIndexBytes   = 3072
	bytesPerChar    = 4
	varcharLenBytes = 2
	maxKeyTextChars = 255
	textColumnChars = 512
)

// fixedKeyBytes is the index footprint of a non-text column.
func fixedKeyBytes(f models.Field) int {
	switch f.Type {
	case models.FieldInt:
		return 8
	case models.FieldDecimal:
		return 10
	case models.FieldDate:
		return 3
	case models.FieldDateTime:
		return 5
	case models.FieldBool:
		return 1
	default:
		return 0
	}
}

// keyTextChars sizes the text columns of t's natural key so the whole key
// fits one InnoDB index.
func keyTextChars(t *models.TableSchema) int {
	fixed, texts := 0, 0
	for _, name := range t.NaturalKey {
		f, ok := t.Field(name)
		if !ok {
			continue
		}
		if f.Type == models.FieldText || f.Type == models.FieldLongText {
			texts++
			continue
		}
		fixed += fixedKeyBytes(f)
	}
	if texts == 0 {
		return maxKeyTextChars
	}
	chars := ((maxIndexBytes-fixed)/texts - varcharLenBytes) / bytesPerChar
	if chars > maxKeyTextChars {
		chars = maxKeyTextChars
	}
	return chars
}

// naturalKeyBytes is the worst-case index size of t's natural key.
func naturalKeyBytes(t *models.TableSchema) int {
	width := keyTextChars(t)
	total := 0
	for _, name := range t.NaturalKey {
		f, ok := t.Field(name)
		if !ok {
			continue
		}
		if f.Type == models.FieldText || f.Type == models.FieldLongText {
			total += width*bytesPerChar + varcharLenBytes
			continue
		}
		total += fixedKeyBytes(f)
	}
	return total
}

// TextWidth is the character capacity of a text column of t, or 0 when the
// column is unbounded for practical purposes (TEXT).
func TextWidth(t *models.TableSchema, f models.Field) int {
	switch {
	case f.Type == models.FieldText && t.IsKey(f.Name):
		return keyTextChars(t)
	case f.Type == models.FieldText:
		return textColumnChars
	default:
		return 0
	}
}

func columnType(t *models.TableSchema, f models.Field) string {
	switch f.Type {
	case models.FieldLongText:
		return "TEXT"
	case models.FieldInt:
		return "BIGINT"
	case models.FieldDecimal:
		return "DECIMAL(20,6)"
	case models.FieldDate:
		return "DATE"
	case models.FieldDateTime:
		return "DATETIME"
	case models.FieldBool:
		return "BOOLEAN"
	default:
		return fmt.Sprintf("VARCHAR(%d)", TextWidth(t, f))
	}
}

// CreateTableSQL renders the DDL of a destination table, including the
// natural-key unique constraint the loader relies on.
func CreateTableSQL(t *models.TableSchema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n\tid BIGINT AUTO_INCREMENT PRIMARY KEY", t.Name)
	for _, f := range t.Fields {
		fmt.Fprintf(&b, ",\n\t%s %s", f.Name, columnType(t, f))
		if f.Nullable {
			b.WriteString(" NULL")
			continue
		}
		b.WriteString(" NOT NULL")
		switch f.Type {
		case models.FieldText:
			b.WriteString(" DEFAULT ''")
		case models.FieldInt, models.FieldDecimal:
			b.WriteString(" DEFAULT 0")
		case models.FieldBool:
			b.WriteString(" DEFAULT FALSE")
		}
	}
	if len(t.NaturalKey) > 0 {
		fmt.Fprintf(&b, ",\n\tUNIQUE KEY uq_%s_natural (%s)", t.Name, strings.Join(t.NaturalKey, ", "))
	}
	fmt.Fprintf(&b, ",\n\tKEY idx_%s_tenant_date (%s, %s)", t.Name, models.ColTenantID, models.ColReportDate)
	b.WriteString("\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4")
	return b.String()
}

// Migrate creates the bookkeeping tables and every registered destination table.
func Migrate(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	for _, stmt := range metaTables {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create meta table: %w", err)
		}
	}

	names := make([]string, 0, len(models.Tables))
	for name := range models.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if n := naturalKeyBytes(models.Tables[name]); n > maxIndexBytes {
			return fmt.Errorf("natural key of %s needs %d bytes, over the %d byte index limit", name, n, maxIndexBytes)
		}
		if _, err := db.ExecContext(ctx, CreateTableSQL(models.Tables[name])); err != nil {
			return fmt.Errorf("failed to create table %s: %w", name, err)
		}
	}
	logger.Info("migrations applied", zap.Int("meta_tables", len(metaTables)), zap.Int("report_tables", len(names)))
	return nil
}
