// ingest/router.go
package ingest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gewnthar/playsync/models"
)

// Report types.
const (
	ReportReviews                  = "reviews"
	ReportSales                    = "sales"
	ReportEarnings                 = "earnings"
	ReportInvoice                  = "invoice_billing"
	ReportPlayBalanceKRW           = "play_balance_krw"
	ReportInstalls                 = "installs"
	ReportCrashes                  = "crashes"
	ReportRatings                  = "ratings"
	ReportRatingsV2                = "ratings_v2"
	ReportSubscriptions            = "subscriptions"
	ReportStorePerformance         = "store_performance"
	ReportSubscriptionCancellation = "subscription_cancellation_reasons"
	ReportPromotionalContent       = "promotional_content"
)

// overviewSuffix selects the overview table of a paired rule.
const overviewSuffix = "overview"

// Dimension suffixes of the paired report families. Each family only
// accepts the breakdowns its dimensioned table can store.
var (
	installDimensions = dimensionSet("country", "device", "app_version", "carrier", "language", "os_version")
	crashDimensions   = dimensionSet("app_version", "device", "os_version", "android_os_version")
	ratingDimensions  = dimensionSet("country", "device", "app_version", "carrier", "language", "os_version", "android_os_version")
	subDimensions     = dimensionSet("country")
	storeDimensions   = dimensionSet("country", "traffic_source", "search_term")
)

func dimensionSet(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// Rule routes paths matching Pattern. A rule has either a single Table or an
// Overview/Dimensioned pair chosen by the captured "dim" suffix.
type Rule struct {
	ReportType   string
	Pattern      *regexp.Regexp
	Kind         models.FileKind
	Table        string
	Overview     string
	Dimensioned  string
	Dimensions   map[string]bool // suffixes routed to Dimensioned
	InnerPattern string
}

func (r Rule) paired() bool { return r.Table == "" }

const (
	pkgGroup    = `(?P<pkg>[\w.]+?)`
	periodGroup = `(?P<period>\d{6})`
	subidGroup  = `(?P<subid>[\w.-]+?)`
	dimGroup    = `(?:_(?P<dim>[a-z][a-z0-9_]*))?`
)

func statsPattern(dir, prefix string) *regexp.Regexp {
	return regexp.MustCompile(`^` + dir + `/` + prefix + `_` + pkgGroup + `_` + periodGroup + dimGroup + `\.csv$`)
}

// DefaultRules is the Play Console export layout, most specific first.
func DefaultRules() []Rule {
	return []Rule{
		{
			ReportType: ReportReviews,
			Pattern:    regexp.MustCompile(`^reviews/reviews_` + pkgGroup + `_` + periodGroup + `\.csv$`),
			Kind:       models.KindCSV,
			Table:      models.TableReviews,
		},
		{
			ReportType:   ReportSales,
			Pattern:      regexp.MustCompile(`^sales/salesreport_` + periodGroup + `\.zip$`),
			Kind:         models.KindZip,
			Table:        models.TableSales,
			InnerPattern: `^salesreport_\d{6}\.csv$`,
		},
		{
			ReportType:   ReportEarnings,
			Pattern:      regexp.MustCompile(`^earnings/earnings_` + periodGroup + `\.zip$`),
			Kind:         models.KindZip,
			Table:        models.TableEarnings,
			InnerPattern: `^earnings_\d{6}\.csv$`,
		},
		{
			ReportType:   ReportInvoice,
			Pattern:      regexp.MustCompile(`^invoice_billing_reports/invoice_billing_report_` + periodGroup + `\.zip$`),
			Kind:         models.KindZip,
			Table:        models.TableInvoice,
			InnerPattern: `^invoice_billing_report_\d{6}\.csv$`,
		},
		{
			ReportType:   ReportPlayBalanceKRW,
			Pattern:      regexp.MustCompile(`^play_balance_krw/play_balance_krw_` + periodGroup + `\.zip$`),
			Kind:         models.KindZip,
			Table:        models.TablePlayBalanceKRW,
			InnerPattern: `^play_balance_krw_\d{6}\.csv$`,
		},
		{
			ReportType:  ReportInstalls,
			Pattern:     statsPattern("stats/installs", "installs"),
			Kind:        models.KindCSV,
			Overview:    models.TableInstallsOverview,
			Dimensioned: models.TableInstallsDimensioned,
			Dimensions:  installDimensions,
		},
		{
			ReportType:  ReportCrashes,
			Pattern:     statsPattern("stats/crashes", "crashes"),
			Kind:        models.KindCSV,
			Overview:    models.TableCrashesOverview,
			Dimensioned: models.TableCrashesDimensioned,
			Dimensions:  crashDimensions,
		},
		{
			ReportType:  ReportRatings,
			Pattern:     statsPattern("stats/ratings", "ratings"),
			Kind:        models.KindCSV,
			Overview:    models.TableRatingsOverview,
			Dimensioned: models.TableRatingsDimensioned,
			Dimensions:  ratingDimensions,
		},
		{
			ReportType:  ReportRatingsV2,
			Pattern:     statsPattern("stats/ratings_v2", "ratings_v2"),
			Kind:        models.KindCSV,
			Overview:    models.TableRatingsOverview,
			Dimensioned: models.TableRatingsDimensioned,
			Dimensions:  ratingDimensions,
		},
		{
			ReportType: ReportSubscriptions,
			Pattern: regexp.MustCompile(`^financial-stats/subscriptions/subscriptions_` +
				pkgGroup + `_` + subidGroup + `_` + periodGroup + dimGroup + `\.csv$`),
			Kind:        models.KindCSV,
			Overview:    models.TableSubscriptionsOverview,
			Dimensioned: models.TableSubscriptionsDimensioned,
			Dimensions:  subDimensions,
		},
		{
			ReportType:  ReportStorePerformance,
			Pattern:     statsPattern("stats/store_performance", "store_performance"),
			Kind:        models.KindCSV,
			Overview:    models.TableStorePerformanceOverview,
			Dimensioned: models.TableStorePerformanceDimensioned,
			Dimensions:  storeDimensions,
		},
		{
			ReportType: ReportSubscriptionCancellation,
			Pattern: regexp.MustCompile(`^financial-stats/subscription_cancellation_reasons/subscription_cancellation_reasons_` +
				pkgGroup + `_` + subidGroup + `_` + periodGroup + `\.csv$`),
			Kind:  models.KindCSV,
			Table: models.TableSubscriptionCancellationReasons,
		},
		{
			ReportType: ReportPromotionalContent,
			Pattern:    regexp.MustCompile(`^promotional_content/promotional_content_` + pkgGroup + `_` + periodGroup + `\.csv$`),
			Kind:       models.KindCSV,
			Table:      models.TablePromotionalContent,
		},
	}
}

// ResolveTable picks the destination table for a matched rule. The returned
// dimension is empty for overview and single-table routes.
func ResolveTable(rule Rule, suffix string) (table, dimension string, err error) {
	if !rule.paired() {
		return rule.Table, "", nil
	}
	switch {
	case suffix == "" || suffix == overviewSuffix:
		return rule.Overview, "", nil
	case rule.Dimensions[suffix]:
		return rule.Dimensioned, suffix, nil
	default:
		return "", "", fmt.Errorf("unknown dimension suffix %q for %s", suffix, rule.ReportType)
	}
}

// Router classifies bucket paths against an ordered rule list.
type Router struct {
	rules []Rule
}

func NewRouter(rules []Rule) *Router {
	return &Router{rules: rules}
}

// Classify matches p against the rules in order and stops at the first match.
// Unroutable paths return a *ClassificationMiss carrying the skip reason.
func (r *Router) Classify(p string) (models.FileDescriptor, error) {
	lower := strings.ToLower(p)
	for _, rule := range r.rules {
		idx := rule.Pattern.FindStringSubmatchIndex(lower)
		if idx == nil {
			continue
		}
		tokens := captureTokens(rule.Pattern, idx, p, lower)

		table, dim, err := ResolveTable(rule, tokens["dim"])
		if err != nil {
			return models.FileDescriptor{}, &ClassificationMiss{Path: p, Reason: err.Error()}
		}
		return models.FileDescriptor{
			OriginalPath:   p,
			Kind:           rule.Kind,
			ReportType:     rule.ReportType,
			Table:          table,
			Dimension:      dim,
			AppPackage:     tokens["pkg"],
			ReportPeriod:   tokens["period"],
			SubscriptionID: tokens["subid"],
			InnerPattern:   rule.InnerPattern,
		}, nil
	}
	return models.FileDescriptor{}, &ClassificationMiss{Path: p, Reason: SkipReason(p)}
}

// captureTokens reads named groups. Values come from the original path when
// lower-casing kept byte offsets stable, so identifiers keep their case.
func captureTokens(re *regexp.Regexp, idx []int, original, lower string) map[string]string {
	src := lower
	if len(original) == len(lower) {
		src = original
	}
	tokens := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if name == "" || idx[2*i] < 0 {
			continue
		}
		tokens[name] = src[idx[2*i]:idx[2*i+1]]
	}
	if dim, ok := tokens["dim"]; ok {
		tokens["dim"] = strings.ToLower(dim)
	}
	return tokens
}
