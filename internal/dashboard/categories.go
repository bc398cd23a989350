package dashboard

import "strings"

// Categories is the fixed vocabulary of PII tags the aggregation counts.
// Scanner agents may emit anything into the detected field; only these five
// participate in the category breakdown.
var Categories = []string{"aadhaar", "pan", "email", "phone", "credit_card"}

// MatchesCategory reports whether detected carries the given category tag.
// The match is a case-insensitive substring test. That is deliberately
// loose: "pan" also matches "company_pan" and "japan", which keeps the
// counting consistent with the category filter applied at query time.
func MatchesCategory(detected, category string) bool {
	return strings.Contains(strings.ToLower(detected), strings.ToLower(category))
}
