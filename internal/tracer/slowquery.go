package tracer

import (
	"regexp"
	"strings"
	"time"
)

// Severity classifies how slow a db operation was (spec §4.2
// "Slow-query classification"). Ordered so severity comparisons use
// plain integer comparison (spec §8 property 8: monotonicity).
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "CRITICAL"
	case SeverityHigh:
		return "HIGH"
	case SeverityMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// Issue is an independent diagnostic flag that may co-occur with any
// severity (spec §4.2).
type Issue string

const (
	IssueMissingIndex    Issue = "MISSING_INDEX"
	IssueSuboptimalIndex Issue = "SUBOPTIMAL_INDEX"
	IssueCollectionScan  Issue = "COLLECTION_SCAN"
	IssueComplexQuery    Issue = "COMPLEX_QUERY"
	IssueRegexQuery      Issue = "REGEX_QUERY"
	IssueComplexOperator Issue = "COMPLEX_OPERATOR"
)

// SlowQueryAnalysis is the result of classifying one db operation
// whose duration met slowQueryThreshold.
type SlowQueryAnalysis struct {
	Collection      string        `json:"collection"`
	Operation       string        `json:"operation"`
	Duration        time.Duration `json:"durationMs"`
	Severity        string        `json:"severity"`
	Issues          []Issue       `json:"issues,omitempty"`
	Recommendations []string      `json:"recommendations,omitempty"`
}

var regexTypePattern = regexp.MustCompile(`^\(\?`)

// ClassifySeverity assigns exactly one severity bucket by duration
// (spec §4.2, §8 property 8).
func ClassifySeverity(d time.Duration) Severity {
	switch {
	case d >= time.Second:
		return SeverityCritical
	case d >= 500*time.Millisecond:
		return SeverityHigh
	case d >= 200*time.Millisecond:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// AnalyzeSlowQuery builds a SlowQueryAnalysis for a db operation,
// independently raising every issue flag that applies and joining
// per-flag recommendations (spec §4.2 "Slow-query classification").
// selector is the raw (pre-normalization) selector so structural
// checks (empty, key count, regex values) see real shapes.
func AnalyzeSlowQuery(collection, operation string, duration time.Duration, selector interface{}) *SlowQueryAnalysis {
	sev := ClassifySeverity(duration)

	var issues []Issue
	if duration > 500*time.Millisecond {
		issues = append(issues, IssueMissingIndex)
	}
	if duration >= 200*time.Millisecond && duration <= 500*time.Millisecond {
		issues = append(issues, IssueSuboptimalIndex)
	}
	if isEmptySelector(selector) {
		issues = append(issues, IssueCollectionScan)
	}
	if selectorKeyCount(selector) > 2 {
		issues = append(issues, IssueComplexQuery)
	}
	if containsRegex(selector, 0) {
		issues = append(issues, IssueRegexQuery)
	}
	if hasComplexOperator(selector) {
		issues = append(issues, IssueComplexOperator)
	}

	recs := make([]string, 0, len(issues))
	for _, issue := range issues {
		recs = append(recs, recommendationFor(issue))
	}

	return &SlowQueryAnalysis{
		Collection:      collection,
		Operation:       operation,
		Duration:        duration,
		Severity:        sev.String(),
		Issues:          issues,
		Recommendations: recs,
	}
}

func recommendationFor(issue Issue) string {
	switch issue {
	case IssueMissingIndex:
		return "add an index covering this query's selector fields"
	case IssueSuboptimalIndex:
		return "review the existing index for selectivity on this selector"
	case IssueCollectionScan:
		return "avoid querying with an empty selector on a large collection"
	case IssueComplexQuery:
		return "simplify the selector or split it into narrower queries"
	case IssueRegexQuery:
		return "anchor or index the field used in this regex match"
	case IssueComplexOperator:
		return "avoid $where/$expr; express the condition with indexable operators"
	default:
		return ""
	}
}

func isEmptySelector(selector interface{}) bool {
	if selector == nil {
		return true
	}
	m, ok := selector.(map[string]interface{})
	return ok && len(m) == 0
}

func selectorKeyCount(selector interface{}) int {
	m, ok := selector.(map[string]interface{})
	if !ok {
		return 0
	}
	return len(m)
}

func containsRegex(v interface{}, depth int) bool {
	if depth > 3 {
		return false
	}
	switch t := v.(type) {
	case *regexp.Regexp:
		return true
	case string:
		return regexTypePattern.MatchString(t)
	case map[string]interface{}:
		for k, val := range t {
			if strings.EqualFold(k, "$regex") {
				return true
			}
			if containsRegex(val, depth+1) {
				return true
			}
		}
	case []interface{}:
		for _, item := range t {
			if containsRegex(item, depth+1) {
				return true
			}
		}
	}
	return false
}

func hasComplexOperator(selector interface{}) bool {
	m, ok := selector.(map[string]interface{})
	if !ok {
		return false
	}
	_, hasWhere := m["$where"]
	_, hasExpr := m["$expr"]
	return hasWhere || hasExpr
}
