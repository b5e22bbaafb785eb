package ingest

import (
	"errors"
	"testing"

	"github.com/gewnthar/playsync/models"
)

func TestClassifyRoutes(t *testing.T) {
	router := NewRouter(DefaultRules())

	tests := []struct {
		name   string
		path   string
		table  string
		dim    string
		pkg    string
		period string
		subid  string
		kind   models.FileKind
	}{
		{
			name:   "installs overview",
			path:   "stats/installs/installs_com.example.app_202401_overview.csv",
			table:  models.TableInstallsOverview,
			pkg:    "com.example.app",
			period: "202401",
			kind:   models.KindCSV,
		},
		{
			name:   "installs without suffix",
			path:   "stats/installs/installs_com.example.app_202401.csv",
			table:  models.TableInstallsOverview,
			pkg:    "com.example.app",
			period: "202401",
			kind:   models.KindCSV,
		},
		{
			name:   "installs country",
			path:   "stats/installs/installs_com.example.app_202401_country.csv",
			table:  models.TableInstallsDimensioned,
			dim:    "country",
			pkg:    "com.example.app",
			period: "202401",
			kind:   models.KindCSV,
		},
		{
			name:   "crashes android os version",
			path:   "stats/crashes/crashes_com.example.app_202312_android_os_version.csv",
			table:  models.TableCrashesDimensioned,
			dim:    "android_os_version",
			pkg:    "com.example.app",
			period: "202312",
			kind:   models.KindCSV,
		},
		{
			name:   "ratings v2",
			path:   "stats/ratings_v2/ratings_v2_com.example.app_202401_device.csv",
			table:  models.TableRatingsDimensioned,
			dim:    "device",
			pkg:    "com.example.app",
			period: "202401",
			kind:   models.KindCSV,
		},
		{
			name:   "subscriptions with sub id keeps case",
			path:   "financial-stats/subscriptions/subscriptions_com.example.app_Premium-Monthly_202401_country.csv",
			table:  models.TableSubscriptionsDimensioned,
			dim:    "country",
			pkg:    "com.example.app",
			period: "202401",
			subid:  "Premium-Monthly",
			kind:   models.KindCSV,
		},
		{
			name:   "store performance traffic source",
			path:   "stats/store_performance/store_performance_com.example.app_202401_traffic_source.csv",
			table:  models.TableStorePerformanceDimensioned,
			dim:    "traffic_source",
			pkg:    "com.example.app",
			period: "202401",
			kind:   models.KindCSV,
		},
		{
			name:   "reviews",
			path:   "reviews/reviews_com.example.app_202401.csv",
			table:  models.TableReviews,
			pkg:    "com.example.app",
			period: "202401",
			kind:   models.KindCSV,
		},
		{
			name:   "sales zip",
			path:   "sales/salesreport_202401.zip",
			table:  models.TableSales,
			period: "202401",
			kind:   models.KindZip,
		},
		{
			name:   "upper case path",
			path:   "EARNINGS/Earnings_202402.ZIP",
			table:  models.TableEarnings,
			period: "202402",
			kind:   models.KindZip,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			desc, err := router.Classify(tc.path)
			if err != nil {
				t.Fatalf("Classify(%q): %v", tc.path, err)
			}
			if desc.Table != tc.table {
				t.Errorf("table = %q, want %q", desc.Table, tc.table)
			}
			if desc.Dimension != tc.dim {
				t.Errorf("dimension = %q, want %q", desc.Dimension, tc.dim)
			}
			if desc.AppPackage != tc.pkg {
				t.Errorf("package = %q, want %q", desc.AppPackage, tc.pkg)
			}
			if desc.ReportPeriod != tc.period {
				t.Errorf("period = %q, want %q", desc.ReportPeriod, tc.period)
			}
			if desc.SubscriptionID != tc.subid {
				t.Errorf("subscription id = %q, want %q", desc.SubscriptionID, tc.subid)
			}
			if desc.Kind != tc.kind {
				t.Errorf("kind = %q, want %q", desc.Kind, tc.kind)
			}
			if desc.OriginalPath != tc.path {
				t.Errorf("original path = %q, want %q", desc.OriginalPath, tc.path)
			}
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	router := NewRouter(DefaultRules())
	path := "stats/installs/installs_com.example.app_202401_country.csv"

	first, err := router.Classify(path)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := router.Classify(path)
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if again != first {
			t.Fatalf("run %d: got %+v, want %+v", i, again, first)
		}
	}
}

func TestClassifyUnknownSuffixIsMiss(t *testing.T) {
	router := NewRouter(DefaultRules())

	_, err := router.Classify("stats/installs/installs_com.example.app_202401_weather.csv")
	var miss *ClassificationMiss
	if !errors.As(err, &miss) {
		t.Fatalf("expected *ClassificationMiss, got %v", err)
	}
	if miss.Reason == "" {
		t.Error("miss should carry a reason")
	}
}

func TestClassifyRejectsDimensionOutsideFamily(t *testing.T) {
	router := NewRouter(DefaultRules())

	for _, p := range []string{
		"stats/installs/installs_com.example.app_202401_traffic_source.csv",
		"stats/crashes/crashes_com.example.app_202401_search_term.csv",
		"stats/crashes/crashes_com.example.app_202401_country.csv",
		"financial-stats/subscriptions/subscriptions_com.example.app_gold_202401_device.csv",
	} {
		var miss *ClassificationMiss
		if _, err := router.Classify(p); !errors.As(err, &miss) {
			t.Errorf("Classify(%q) err = %v, want *ClassificationMiss", p, err)
		}
	}

	desc, err := router.Classify("stats/store_performance/store_performance_com.example.app_202401_search_term.csv")
	if err != nil || desc.Table != models.TableStorePerformanceDimensioned || desc.Dimension != "search_term" {
		t.Errorf("store performance search_term = %+v, %v", desc, err)
	}
}

// Every accepted suffix must land in a column, or rows of a dimensioned file
// would collapse onto one natural key.
func TestRuleDimensionsHaveTargetColumn(t *testing.T) {
	for _, rule := range DefaultRules() {
		if !rule.paired() {
			continue
		}
		schema, ok := models.Lookup(rule.Dimensioned)
		if !ok {
			t.Fatalf("%s: no schema for %s", rule.ReportType, rule.Dimensioned)
		}
		for dim := range rule.Dimensions {
			target := schema.DimensionTarget(dim)
			if target == "" {
				t.Errorf("%s: dimension %q has no column in %s", rule.ReportType, dim, schema.Name)
				continue
			}
			if !schema.IsKey(target) {
				t.Errorf("%s: dimension column %q is not part of the natural key of %s", rule.ReportType, target, schema.Name)
			}
		}
	}
}

func TestResolveTable(t *testing.T) {
	pair := Rule{ReportType: "x", Overview: "ov", Dimensioned: "dim", Dimensions: dimensionSet("country")}
	single := Rule{ReportType: "y", Table: "one"}

	tests := []struct {
		rule    Rule
		suffix  string
		table   string
		dim     string
		wantErr bool
	}{
		{pair, "", "ov", "", false},
		{pair, "overview", "ov", "", false},
		{pair, "country", "dim", "country", false},
		{pair, "galaxy", "", "", true},
		{pair, "device", "", "", true},
		{single, "country", "one", "", false},
	}
	for _, tc := range tests {
		table, dim, err := ResolveTable(tc.rule, tc.suffix)
		if (err != nil) != tc.wantErr {
			t.Errorf("ResolveTable(%s, %q) err = %v, wantErr %v", tc.rule.ReportType, tc.suffix, err, tc.wantErr)
			continue
		}
		if table != tc.table || dim != tc.dim {
			t.Errorf("ResolveTable(%s, %q) = (%q, %q), want (%q, %q)",
				tc.rule.ReportType, tc.suffix, table, dim, tc.table, tc.dim)
		}
	}
}

func TestSkipReasons(t *testing.T) {
	router := NewRouter(DefaultRules())

	tests := []struct {
		path string
		want string
	}{
		{".DS_Store", ReasonHiddenFile},
		{"stats/.hidden/installs.csv", ReasonHiddenFile},
		{"report_test_backup.csv", ReasonTestOrBackup},
		{"archive.bak", ReasonUnsupportedExtension},
		{"tmp/installs.csv", ReasonUnsupportedDirectory},
		{"randomfile.xyz", ReasonNotRecognized},
		{"", ReasonEmptyPath},
	}
	for _, tc := range tests {
		if got := SkipReason(tc.path); got != tc.want {
			t.Errorf("SkipReason(%q) = %q, want %q", tc.path, got, tc.want)
		}
		if tc.path == "" {
			continue
		}
		_, err := router.Classify(tc.path)
		var miss *ClassificationMiss
		if !errors.As(err, &miss) || miss.Reason != tc.want {
			t.Errorf("Classify(%q) err = %v, want miss with %q", tc.path, err, tc.want)
		}
	}
}
