package extract

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/paisatrail/paisatrail/pkg/api"
)

//go:embed corrections.json
var correctionsJSON []byte

// defaultCorrections is the built-in merchant correction table. The file is
// compiled in, so a parse failure is a programmer error.
var defaultCorrections = mustParseCorrections(correctionsJSON)

func mustParseCorrections(raw []byte) map[string]string {
	corrections, err := parseCorrections(raw)
	if err != nil {
		panic(fmt.Sprintf("extract: embedded corrections.json: %v", err))
	}
	return corrections
}

func parseCorrections(raw []byte) (map[string]string, error) {
	var corrections map[string]string
	if err := json.Unmarshal(raw, &corrections); err != nil {
		return nil, err
	}
	return corrections, nil
}

// LoadCorrections reads a merchant correction table from a JSON file mapping
// raw name fragments to canonical names. It replaces the built-in table when
// configured.
func LoadCorrections(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading corrections file: %w", err)
	}
	corrections, err := parseCorrections(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing corrections file %s: %w", path, err)
	}
	return corrections, nil
}

// correction is a fragment-to-canonical-name rule, matched case-insensitively
// as a substring of the cleaned candidate.
type correction struct {
	fragment  string
	canonical string
}

// sortCorrections orders rules longest fragment first so the most specific
// rule wins, with a lexical tie-break to keep the pass deterministic.
func sortCorrections(table map[string]string) []correction {
	rules := make([]correction, 0, len(table))
	for fragment, canonical := range table {
		rules = append(rules, correction{
			fragment:  strings.ToUpper(fragment),
			canonical: canonical,
		})
	}
	sort.Slice(rules, func(i, j int) bool {
		if len(rules[i].fragment) != len(rules[j].fragment) {
			return len(rules[i].fragment) > len(rules[j].fragment)
		}
		return rules[i].fragment < rules[j].fragment
	})
	return rules
}

var (
	// upiHandleRe reduces handles like merchant@okhdfcbank to the local part.
	upiHandleRe = regexp.MustCompile(`\b([A-Za-z0-9._-]+)@[A-Za-z][A-Za-z0-9.-]*`)

	// capsRunRe finds runs of consecutive ALL-CAPS words, the usual shape of
	// a merchant name inside bank boilerplate.
	capsRunRe = regexp.MustCompile(`[A-Z][A-Z0-9&.]*(?:\s+[A-Z][A-Z0-9&.]*)*`)
)

// noisePhrases are stripped from candidate names before anything else is
// decided. VPA and UPI markers, bank suffixes, and alert boilerplate all leak
// into the capture groups.
var noisePhrases = []string{
	"VPA",
	"UPI/",
	"UPI:",
	"A/c",
	"Info:",
	"-HDFC Bank",
	"HDFC Bank",
	"ICICI Bank",
	"Axis Bank",
	"Kotak Mahindra Bank",
	"State Bank of India",
	"your account",
	"payment from",
	"is successful",
	"not you?",
	"Ref No",
	"txn",
}

var noiseRes = compileNoise(noisePhrases)

// compileNoise anchors each phrase on word boundaries where it starts or
// ends with a word character, so "VPA" cannot eat the middle of a real name.
func compileNoise(phrases []string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, len(phrases))
	for _, p := range phrases {
		pattern := regexp.QuoteMeta(p)
		if isWordRune(rune(p[0])) {
			pattern = `\b` + pattern
		}
		if isWordRune(rune(p[len(p)-1])) {
			pattern += `\b`
		}
		res = append(res, regexp.MustCompile(`(?i)`+pattern))
	}
	return res
}

func isWordRune(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// clean normalizes a raw captured name: UPI handles are reduced to their
// local part, noise words are stripped, the longest ALL-CAPS run of 4+
// characters replaces the whole string when present, and the correction
// table maps known raw fragments to canonical merchant names. Anything that
// comes out empty, equal to "account", or shorter than 3 characters becomes
// the UnknownMerchant placeholder.
func (e *Extractor) clean(name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return api.UnknownMerchant
	}
	n = upiHandleRe.ReplaceAllString(n, "$1")
	for _, re := range noiseRes {
		n = re.ReplaceAllString(n, " ")
	}
	n = strings.Join(strings.Fields(n), " ")
	if caps := longestCapsRun(n); len(caps) >= 4 {
		n = caps
	}
	upper := strings.ToUpper(n)
	for _, rule := range e.corrections {
		if strings.Contains(upper, rule.fragment) {
			n = rule.canonical
			break
		}
	}
	n = strings.TrimSpace(n)
	if n == "" || strings.EqualFold(n, "account") || len(n) < 3 {
		return api.UnknownMerchant
	}
	return n
}

// longestCapsRun returns the longest run of consecutive ALL-CAPS words in s;
// ties keep the earliest run.
func longestCapsRun(s string) string {
	best := ""
	for _, run := range capsRunRe.FindAllString(s, -1) {
		if len(run) > len(best) {
			best = run
		}
	}
	return best
}
