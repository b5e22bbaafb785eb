// models/tables.go
package models

import "time"

// FieldType is the semantic type a raw CSV string is coerced to.
type FieldType int

const (
	FieldText FieldType = iota
	FieldLongText
	FieldInt
	FieldDecimal
	FieldDate
	FieldDateTime
	FieldBool
)

func (t FieldType) String() string {
	switch t {
	case FieldLongText:
		return "longtext"
	case FieldInt:
		return "int"
	case FieldDecimal:
		return "decimal"
	case FieldDate:
		return "date"
	case FieldDateTime:
		return "datetime"
	case FieldBool:
		return "bool"
	default:
		return "text"
	}
}

type Field struct {
	Name     string
	Type     FieldType
	Nullable bool
}

// Zero is the value stored when a non-nullable field has no usable input.
// Dates have no safe zero and return nil.
func (f Field) Zero() any {
	switch f.Type {
	case FieldInt:
		return int64(0)
	case FieldDecimal:
		return float64(0)
	case FieldBool:
		return false
	case FieldText, FieldLongText:
		return ""
	default:
		return nil
	}
}

// TableSchema is the static description of one destination table. The
// transformer and the bulk loader both consult it; nothing is discovered
// from the database at runtime.
type TableSchema struct {
	Name       string
	Fields     []Field
	NaturalKey []string
	// DimensionPair tables keep the breakdown in dimension_type/dimension_value
	// instead of one column per dimension.
	DimensionPair bool

	index map[string]int
}

func (t *TableSchema) Field(name string) (Field, bool) {
	i, ok := t.index[name]
	if !ok {
		return Field{}, false
	}
	return t.Fields[i], true
}

func (t *TableSchema) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

func (t *TableSchema) Columns() []string {
	cols := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		cols[i] = f.Name
	}
	return cols
}

func (t *TableSchema) IsKey(name string) bool {
	for _, k := range t.NaturalKey {
		if k == name {
			return true
		}
	}
	return false
}

// DimensionTarget names the column a merged "dim:value" column lands in.
func (t *TableSchema) DimensionTarget(dim string) string {
	if t.DimensionPair {
		return ColDimensionValue
	}
	if t.Has(dim) {
		return dim
	}
	return ""
}

// Provenance columns present on every destination table.
const (
	ColTenantID       = "tenant_id"
	ColDataSourceID   = "data_source_id"
	ColSourceFile     = "source_file"
	ColImportedAt     = "imported_at"
	ColAppPackage     = "app_package"
	ColReportDate     = "report_date"
	ColSubscriptionID = "subscription_id"
	ColDimensionType  = "dimension_type"
	ColDimensionValue = "dimension_value"
)

var provenance = []Field{
	{Name: ColTenantID, Type: FieldInt},
	{Name: ColDataSourceID, Type: FieldInt, Nullable: true},
	{Name: ColSourceFile, Type: FieldText, Nullable: true},
	{Name: ColImportedAt, Type: FieldDateTime, Nullable: true},
	{Name: ColAppPackage, Type: FieldText, Nullable: true},
	{Name: ColReportDate, Type: FieldDate, Nullable: true},
}

func newTable(name string, key []string, fields ...Field) *TableSchema {
	t := &TableSchema{Name: name, NaturalKey: key, index: make(map[string]int)}
	for _, f := range append(append([]Field{}, provenance...), fields...) {
		if _, dup := t.index[f.Name]; dup {
			continue
		}
		t.index[f.Name] = len(t.Fields)
		t.Fields = append(t.Fields, f)
	}
	for _, k := range key {
		if i, ok := t.index[k]; ok {
			t.Fields[i].Nullable = false
		}
	}
	return t
}

func text(name string) Field     { return Field{Name: name, Type: FieldText, Nullable: true} }
func longText(name string) Field { return Field{Name: name, Type: FieldLongText, Nullable: true} }
func count(name string) Field    { return Field{Name: name, Type: FieldInt} }
func optInt(name string) Field   { return Field{Name: name, Type: FieldInt, Nullable: true} }
func decimal(name string) Field  { return Field{Name: name, Type: FieldDecimal, Nullable: true} }
func amount(name string) Field   { return Field{Name: name, Type: FieldDecimal} }
func date(name string) Field     { return Field{Name: name, Type: FieldDate, Nullable: true} }
func stamp(name string) Field    { return Field{Name: name, Type: FieldDateTime, Nullable: true} }
func flag(name string) Field     { return Field{Name: name, Type: FieldBool, Nullable: true} }

func withPair(t *TableSchema) *TableSchema {
	t.DimensionPair = true
	return t
}

// Destination table names.
const (
	TableReviews                         = "google_play_reviews"
	TableSales                           = "google_play_sales"
	TableEarnings                        = "google_play_earnings"
	TableInvoice                         = "google_play_invoice"
	TablePlayBalanceKRW                  = "google_play_krw"
	TableInstallsOverview                = "google_play_installs_overview"
	TableInstallsDimensioned             = "google_play_installs_dimensioned"
	TableCrashesOverview                 = "google_play_crashes_overview"
	TableCrashesDimensioned              = "google_play_crashes_dimensioned"
	TableRatingsOverview                 = "google_play_ratings_overview"
	TableRatingsDimensioned              = "google_play_ratings_dimensioned"
	TableSubscriptionsOverview           = "google_play_subscriptions_overview"
	TableSubscriptionsDimensioned        = "google_play_subscriptions_dimensioned"
	TableStorePerformanceOverview        = "google_play_store_performance_overview"
	TableStorePerformanceDimensioned     = "google_play_store_performance_dimensioned"
	TableSubscriptionCancellationReasons = "google_play_subscription_cancellation_reasons"
	TablePromotionalContent              = "google_play_promotional_content"
)

var dimensionColumns = []Field{
	text("country"), text("device"), text("app_version"), text("carrier"),
	text("language"), text("os_version"), text("android_os_version"),
}

func dimensionKey(base ...string) []string {
	key := append([]string{}, base...)
	for _, f := range dimensionColumns {
		key = append(key, f.Name)
	}
	return key
}

var installMetrics = []Field{
	count("current_device_installs"), count("daily_device_installs"),
	count("daily_device_uninstalls"), count("daily_device_upgrades"),
	count("current_user_installs"), count("total_user_installs"),
	count("daily_user_installs"), count("daily_user_uninstalls"),
	count("active_device_installs"), count("install_events"),
	count("update_events"), count("uninstall_events"),
}

func concat(groups ...[]Field) []Field {
	var out []Field
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

var statsBase = []Field{text("package_name"), date("date")}

// Tables is the registry of every destination table, built once at startup.
var Tables = map[string]*TableSchema{}

func register(t *TableSchema) { Tables[t.Name] = t }

// Lookup returns the schema for a destination table.
func Lookup(name string) (*TableSchema, bool) {
	t, ok := Tables[name]
	return t, ok
}

func init() {
	register(newTable(TableReviews,
		[]string{ColTenantID, "package_name", "review_submit_millis_since_epoch"},
		text("package_name"), text("app_version_code"), text("app_version_name"),
		text("reviewer_language"), text("device"),
		stamp("review_submit_date_and_time"), count("review_submit_millis_since_epoch"),
		stamp("review_last_update_date_and_time"), optInt("review_last_update_millis_since_epoch"),
		count("star_rating"), text("review_title"), longText("review_text"),
		stamp("developer_reply_date_and_time"), optInt("developer_reply_millis_since_epoch"),
		longText("developer_reply_text"), text("review_link"),
	))

	register(newTable(TableSales,
		[]string{ColTenantID, "order_number", "order_charged_timestamp"},
		text("order_number"), date("order_charged_date"), count("order_charged_timestamp"),
		text("financial_status"), text("device_model"), text("product_title"),
		text("product_id"), text("product_type"), text("sku_id"), text("currency_of_sale"),
		amount("item_price"), decimal("taxes_collected"), amount("charged_amount"),
		text("city_of_buyer"), text("state_of_buyer"), text("postal_code_of_buyer"),
		text("country_of_buyer"), text("base_plan_id"), text("offer_id"), text("group_id"),
		flag("first_usd_1m_eligible"), text("promotion_id"), decimal("coupon_value"),
		decimal("discount_rate"), text("featured_product_id"), text("price_experiment_id"),
	))

	register(newTable(TableEarnings,
		[]string{ColTenantID, "description", "transaction_date", "transaction_time", "transaction_type", "sku_id"},
		text("description"), date("transaction_date"), text("transaction_time"),
		text("tax_type"), text("transaction_type"), text("refund_type"), text("product_title"),
		text("product_id"), text("product_type"), text("sku_id"), text("hardware"),
		text("buyer_country"), text("buyer_state"), text("buyer_postal_code"),
		text("buyer_currency"), amount("amount_buyer_currency"), decimal("currency_conversion_rate"),
		text("merchant_currency"), amount("amount_merchant_currency"), text("base_plan_id"),
		text("offer_id"), text("group_id"), flag("first_usd_1m_eligible"),
		decimal("service_fee_percent"), text("fee_description"), text("promotion_id"),
	))

	register(newTable(TableInvoice,
		[]string{ColTenantID, "invoice_id", "external_transaction_id"},
		text("invoice_id"), text("program"), text("external_transaction_id"),
		date("transaction_date"), text("transaction_time"), optInt("transaction_timestamp"),
		text("transaction_type"), text("sku_type"), text("package_id"), text("sale_country"),
		decimal("item_price"), text("sale_currency"), decimal("amount_due_sale_currency"),
		decimal("exchange_rate"), text("billing_currency"), decimal("amount_due_billing_currency"),
		text("tax_type"), decimal("tax_amount"), decimal("service_fee_percent"),
		decimal("service_fee_amount"), text("fee_description"),
	))

	register(newTable(TablePlayBalanceKRW,
		[]string{ColTenantID, "order_number", "billing_timestamp"},
		text("order_number"), date("billing_date"), text("financial_status"),
		amount("amount"), text("currency"), count("billing_timestamp"), text("transaction_id"),
	))

	register(newTable(TableInstallsOverview,
		[]string{ColTenantID, "package_name", ColReportDate},
		concat(statsBase, installMetrics)...))
	register(newTable(TableInstallsDimensioned,
		dimensionKey(ColTenantID, "package_name", ColReportDate),
		concat(statsBase, dimensionColumns, installMetrics)...))

	crashMetrics := []Field{count("daily_crashes"), count("daily_anrs")}
	register(newTable(TableCrashesOverview,
		[]string{ColTenantID, "package_name", ColReportDate},
		concat(statsBase, crashMetrics)...))
	register(newTable(TableCrashesDimensioned,
		dimensionKey(ColTenantID, "package_name", ColReportDate),
		concat(statsBase, dimensionColumns, crashMetrics,
			[]Field{decimal("crash_rate"), decimal("anr_rate")})...))

	ratingMetrics := []Field{decimal("daily_average_rating"), decimal("total_average_rating")}
	register(newTable(TableRatingsOverview,
		[]string{ColTenantID, "package_name", ColReportDate},
		concat(statsBase, ratingMetrics)...))
	register(newTable(TableRatingsDimensioned,
		dimensionKey(ColTenantID, "package_name", ColReportDate),
		concat(statsBase, dimensionColumns, ratingMetrics)...))

	subMetrics := []Field{
		count("new_subscriptions"), count("cancelled_subscriptions"), count("active_subscriptions"),
	}
	register(newTable(TableSubscriptionsOverview,
		[]string{ColTenantID, "package_name", ColReportDate, ColSubscriptionID, "product_id", "country"},
		concat(statsBase, []Field{text(ColSubscriptionID), text("product_id"), text("country")}, subMetrics)...))
	register(withPair(newTable(TableSubscriptionsDimensioned,
		[]string{ColTenantID, "package_name", ColReportDate, ColSubscriptionID, ColDimensionType, ColDimensionValue},
		concat(statsBase, []Field{text(ColSubscriptionID), text("product_id"),
			text(ColDimensionType), text(ColDimensionValue)}, subMetrics)...)))

	storeMetrics := []Field{
		count("store_listing_visitors"), count("store_listing_acquisitions"),
		decimal("store_listing_conversion_rate"),
	}
	register(newTable(TableStorePerformanceOverview,
		[]string{ColTenantID, "package_name", ColReportDate},
		concat(statsBase, storeMetrics)...))
	register(withPair(newTable(TableStorePerformanceDimensioned,
		[]string{ColTenantID, "package_name", ColReportDate, ColDimensionType, ColDimensionValue},
		concat(statsBase, []Field{text(ColDimensionType), text(ColDimensionValue)}, storeMetrics)...)))

	register(newTable(TableSubscriptionCancellationReasons,
		[]string{ColTenantID, "package_name", ColSubscriptionID, "cancellation_date", "country",
			"cancellation_reason", "cancellation_sub_reason"},
		date("cancellation_date"), text("package_name"), text(ColSubscriptionID), text("sku_id"),
		text("country"), text("cancellation_reason"), longText("cancellation_reason_text"),
		text("cancellation_sub_reason"), count("cancellation_count"),
	))

	register(newTable(TablePromotionalContent,
		[]string{ColTenantID, "promotional_content_id", ColReportDate, "country", "outcome"},
		text("promotional_content_id"), text("promotional_content_name"), text("package_name"),
		date("date"), text("country"), text("outcome"), count("daily_converters"),
		decimal("daily_conversion_rate"), decimal("rolling_28d_converters"),
		decimal("rolling_28d_viewers"), decimal("rolling_28d_conversion_rate"),
	))
}

// FirstOfMonth parses a YYYYMM period token.
func FirstOfMonth(period string) (time.Time, bool) {
	t, err := time.Parse("200601", period)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
