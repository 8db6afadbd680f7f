package extract

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/paisatrail/paisatrail/pkg/api"
)

// amountPattern pairs a currency-marker name with the regex that captures the
// numeric literal next to it.
type amountPattern struct {
	name string
	re   *regexp.Regexp
}

// amountPatterns are tried strictly in order; the first match wins and later
// matches are never reconciled against it.
var amountPatterns = []amountPattern{
	{"rs", regexp.MustCompile(`(?i)\brs\.?\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)},
	{"inr", regexp.MustCompile(`(?i)\binr\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)},
	{"rupees", regexp.MustCompile(`(?i)\brupees?\s+([0-9][0-9,]*(?:\.[0-9]+)?)`)},
	{"amount", regexp.MustCompile(`(?i)\bamount\s*(?:of)?\s*:?\s*(?:rs\.?|inr)?\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)},
	{"paying", regexp.MustCompile(`(?i)\bpaying\s*(?:rs\.?|inr)?\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)},
	{"paid", regexp.MustCompile(`(?i)\bpaid\s*(?:rs\.?|inr)?\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)},
	{"value", regexp.MustCompile(`(?i)\bvalue\s*(?:of)?\s*:?\s*(?:rs\.?|inr)?\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)},
	{"worth", regexp.MustCompile(`(?i)\bworth\s*(?:rs\.?|inr)?\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)},
}

// extractAmount returns the amount captured by the first matching pattern.
// The first regex that matches settles the question: its value is used even
// when a later pattern would also match, and even when it parses to zero.
func extractAmount(text string) float64 {
	for _, p := range amountPatterns {
		m := p.re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		return parseAmount(m[1])
	}
	return 0
}

// parseAmount strips grouping commas and parses the remainder as a decimal.
func parseAmount(raw string) float64 {
	raw = strings.ReplaceAll(raw, ",", "")
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return amount
}

var (
	debitRe  = regexp.MustCompile(`(?i)\b(?:debited|paid|sent|deducted|withdrawn|payment|debit)\b`)
	creditRe = regexp.MustCompile(`(?i)\b(?:credited|received|deposited|credit|deposit|payment received)\b`)

	// actionRe is the union of both vocabularies, used by the balance-only check.
	actionRe = regexp.MustCompile(`(?i)\b(?:debited|paid|sent|deducted|withdrawn|payment|debit|credited|received|deposited|credit|deposit)\b`)

	subjectCreditRe = regexp.MustCompile(`(?i)\bcredit(?:ed)?\b`)
)

// strongCreditPhrases rescue messages the primary vocabularies missed.
var strongCreditPhrases = []string{
	"credited to your account",
	"has been credited",
	"successfully credited",
}

// classifyKind labels the transaction. The debit vocabulary is checked before
// the credit vocabulary; the second-chance credit check runs only when the
// primary pass yields unknown.
func classifyKind(text, subject string) api.Kind {
	if debitRe.MatchString(text) {
		return api.KindDebit
	}
	if creditRe.MatchString(text) {
		return api.KindCredit
	}
	lower := strings.ToLower(text)
	for _, phrase := range strongCreditPhrases {
		if strings.Contains(lower, phrase) {
			return api.KindCredit
		}
	}
	if subjectCreditRe.MatchString(subject) {
		return api.KindCredit
	}
	return api.KindUnknown
}

// namePattern pairs a recognizer name with its capturing regex.
type namePattern struct {
	name string
	re   *regexp.Regexp
}

// namePatterns are tried in order; the first capture that survives trimming,
// the 2-character minimum, and the generic-word screen wins.
var namePatterns = []namePattern{
	{"salutation", regexp.MustCompile(`(?i)\bdear\s+([A-Za-z][A-Za-z .'&-]{1,40})`)},
	{"preposition", regexp.MustCompile(`\b(?i:to|from)\s+([A-Z][A-Za-z0-9 .&@'_-]{2,60}?)\s+(?i:on|at|for)\b`)},
	{"account-ref", regexp.MustCompile(`(?i)\b(?:a/c|account)\s*(?:no\.?)?\s*[Xx*]*\d*\s+(?:to|towards)\s+([^\n,.]{3,60})`)},
	{"upi-handle", regexp.MustCompile(`\b([A-Za-z0-9._-]{2,}@[A-Za-z][A-Za-z0-9]+)\b`)},
}

// genericTokens are words that cannot by themselves be a counterparty.
// A candidate made up entirely of these is passed over.
var genericTokens = map[string]bool{
	"customer":   true,
	"user":       true,
	"sir":        true,
	"madam":      true,
	"cardmember": true,
	"member":     true,
	"valued":     true,
	"dear":       true,
	"account":    true,
	"accounts":   true,
	"bank":       true,
	"hdfc":       true,
	"icici":      true,
	"axis":       true,
	"sbi":        true,
	"kotak":      true,
}

func isGenericName(s string) bool {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return true
	}
	for _, f := range fields {
		if !genericTokens[strings.Trim(f, ".,")] {
			return false
		}
	}
	return true
}

// findName runs the ordered name patterns and returns the first qualifying
// capture, or "" when none qualifies.
func findName(text string) string {
	for _, p := range namePatterns {
		m := p.re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		got := strings.TrimSpace(m[1])
		if len(got) <= 2 || isGenericName(got) {
			continue
		}
		return got
	}
	return ""
}

// HDFC-specific and last-ditch fallbacks, tried in order when the primary
// patterns produce nothing.
var (
	vpaRe           = regexp.MustCompile(`(?i)\bto\s+vpa\s+([^\s,]{3,60})`)
	hdfcDebitRe     = regexp.MustCompile(`(?i)has been debited from (?:your )?account\s*[Xx*\d]*\s*to\s+([^\n.]{3,60})`)
	debitNameDateRe = regexp.MustCompile(`([A-Z][A-Z0-9 .&]{2,40}?)\s+on\s+\d{2}-\d{2}-\d{2,4}\b`)
	upiSubjectRe    = regexp.MustCompile(`(?i)\bupi\b[^A-Za-z0-9]*(?:txn)?[^A-Za-z0-9]*(?:to|from)?\s*:?\s*([A-Za-z0-9 ._@-]{3,40})`)
)

// findFallbackName exhausts the fallback chain; the final answer is the
// UnknownMerchant placeholder.
func findFallbackName(text, subject string, kind api.Kind) string {
	if m := vpaRe.FindStringSubmatch(text); len(m) > 1 {
		if got := strings.TrimSpace(m[1]); len(got) > 2 {
			return got
		}
	}
	if m := hdfcDebitRe.FindStringSubmatch(text); len(m) > 1 {
		if got := strings.TrimSpace(m[1]); len(got) > 2 && !isGenericName(got) {
			return got
		}
	}
	if kind == api.KindDebit {
		if m := debitNameDateRe.FindStringSubmatch(text); len(m) > 1 {
			if got := strings.TrimSpace(m[1]); len(got) > 2 && !isGenericName(got) {
				return got
			}
		}
	}
	if m := upiSubjectRe.FindStringSubmatch(subject); len(m) > 1 {
		if got := strings.TrimSpace(m[1]); len(got) > 2 && !isGenericName(got) {
			return got
		}
	}
	if got := longestSubjectWord(subject); got != "" {
		return got
	}
	return api.UnknownMerchant
}

// longestSubjectWord returns the longest all-alphabetic word in the subject
// longer than 3 characters; ties keep the earliest word.
func longestSubjectWord(subject string) string {
	words := strings.FieldsFunc(subject, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	best := ""
	for _, w := range words {
		if len(w) > 3 && len(w) > len(best) && !isGenericName(w) {
			best = w
		}
	}
	return best
}

// rejectMarkers is the shared exclusion vocabulary: automated-mail
// boilerplate, OTP and verification mail, and authentication notices. The
// uppercase "OTP" acronym is matched case-sensitively as a substring, which
// is what makes "any subject containing OTP" reject unconditionally.
var rejectMarkers = []string{
	"one time password",
	"one-time password",
	"verification code",
	"verify your",
	"authentication code",
	"do not share",
	"auto-generated",
	"auto generated",
	"automated message",
	"system generated",
}

// Eligible reports whether a message is worth extracting from. It rejects
// OTP/verification/boilerplate mail and balance-only notices that mention no
// credit/debit action. The syncer calls it before extraction and Extract
// calls it again internally, so both stages share one vocabulary.
func Eligible(subject, body string) bool {
	text := subject + "\n" + body
	if strings.Contains(text, "OTP") {
		return false
	}
	lower := strings.ToLower(text)
	for _, marker := range rejectMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	if strings.Contains(lower, "balance") && !actionRe.MatchString(text) {
		return false
	}
	return true
}
