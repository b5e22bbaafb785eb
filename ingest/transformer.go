// ingest/transformer.go
package ingest

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gewnthar/playsync/models"
	"github.com/gewnthar/playsync/utils"
)

// dimensionValueKey is the key used by "dimension:value" columns.
const dimensionValueKey = "value"

// managedColumns are always set by the transformer, never taken from a file.
var managedColumns = map[string]bool{
	models.ColTenantID:      true,
	models.ColDataSourceID:  true,
	models.ColSourceFile:    true,
	models.ColImportedAt:    true,
	models.ColAppPackage:    true,
	models.ColReportDate:    true,
	models.ColDimensionType: true,
}

// Transformer maps raw CSV rows onto a destination table schema.
type Transformer struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewTransformer(logger *zap.Logger) *Transformer {
	return &Transformer{
		logger: logger.With(zap.String("component", "transformer")),
		now:    time.Now,
	}
}

// Transform builds the destination row for one CSV row. Columns the table
// does not declare are dropped. It returns nil when desc names no known table.
func (t *Transformer) Transform(row models.Row, desc models.FileDescriptor) models.DestinationRow {
	schema, ok := models.Lookup(desc.Table)
	if !ok {
		t.logger.Error("no schema for table", zap.String("table", desc.Table))
		return nil
	}

	out := make(models.DestinationRow, len(row)+8)
	var rawDate string

	for name, raw := range row {
		col, keep := t.columnFor(name, desc, schema)
		if !keep {
			continue
		}
		if col == "date" {
			rawDate = raw
		}
		field, ok := schema.Field(col)
		if !ok || managedColumns[col] {
			continue
		}
		v, err := Coerce(field, raw)
		if err != nil {
			t.logger.Debug("field coercion failed, using default",
				zap.String("file", desc.OriginalPath), zap.Error(err))
		}
		out[col] = v
	}

	t.inject(out, desc, schema)
	out[models.ColReportDate] = reportDate(out, rawDate, desc.ReportPeriod)
	return out
}

// columnFor resolves the destination column of a raw header, applying the
// dimension merge. keep is false for dimension-tagged columns of another
// dimension and for merged values the table has no column for.
func (t *Transformer) columnFor(name string, desc models.FileDescriptor, schema *models.TableSchema) (string, bool) {
	col := utils.SanitizeColumnName(name)

	if dim, key, tagged := strings.Cut(col, ":"); tagged {
		if desc.Dimension == "" || dim != desc.Dimension {
			return "", false
		}
		col = key
		if col == dimensionValueKey {
			col = schema.DimensionTarget(desc.Dimension)
			return col, col != ""
		}
		return col, true
	}

	if schema.DimensionPair && desc.Dimension != "" && col == desc.Dimension {
		return models.ColDimensionValue, true
	}
	return col, true
}

func (t *Transformer) inject(out models.DestinationRow, desc models.FileDescriptor, schema *models.TableSchema) {
	out[models.ColTenantID] = desc.TenantID
	if desc.DataSourceID > 0 {
		out[models.ColDataSourceID] = desc.DataSourceID
	} else {
		out[models.ColDataSourceID] = nil
	}
	out[models.ColSourceFile] = desc.OriginalPath
	out[models.ColImportedAt] = t.now().UTC()
	if desc.AppPackage != "" {
		out[models.ColAppPackage] = desc.AppPackage
	} else {
		out[models.ColAppPackage] = nil
	}

	if desc.AppPackage != "" && schema.Has("package_name") && isBlank(out["package_name"]) {
		out["package_name"] = desc.AppPackage
	}
	if desc.SubscriptionID != "" && schema.Has(models.ColSubscriptionID) && isBlank(out[models.ColSubscriptionID]) {
		out[models.ColSubscriptionID] = desc.SubscriptionID
	}
	if schema.DimensionPair && desc.Dimension != "" {
		out[models.ColDimensionType] = desc.Dimension
	}
}

// reportDate prefers the row's own date column and falls back to the first
// day of the file's report period.
func reportDate(out models.DestinationRow, rawDate, period string) any {
	if d, ok := out["date"].(time.Time); ok {
		return d
	}
	if s := strings.TrimSpace(rawDate); s != "" {
		if d, err := ParseDate(s); err == nil {
			return d.Truncate(24 * time.Hour)
		}
	}
	if d, ok := models.FirstOfMonth(period); ok {
		return d
	}
	return nil
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}
