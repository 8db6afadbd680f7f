package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"
)

var (
	intralineSpaceRe = regexp.MustCompile(`[^\S\n]+`)
	blankRunRe       = regexp.MustCompile(`\n{3,}`)

	// Zero-width and other invisible characters that banks love to sprinkle
	// through templated mail; they break word-boundary matching if kept.
	invisibleRe = regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{2060}-\x{2064}\x{206A}-\x{206F}]+`)
)

// HTMLToText reduces an HTML mail body to plain text suitable for pattern
// matching: scripts and styles dropped, block elements separated by
// newlines, whitespace collapsed.
func HTMLToText(html string) (string, error) {
	if html == "" {
		return "", nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, head, meta, link").Remove()
	doc.Find("p, div, br, h1, h2, h3, h4, h5, h6, li, tr").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})
	return NormalizeText(doc.Text()), nil
}

// NormalizeText canonicalizes text pulled from a mail body: NFKC folding so
// full-width digits and ligatures compare equal to their ASCII forms,
// invisible characters removed, non-breaking spaces turned into plain ones,
// lines trimmed, and runs of blank lines squeezed to one.
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = invisibleRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = intralineSpaceRe.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	clean := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			clean = append(clean, line)
		}
	}
	s = strings.Join(clean, "\n")
	return strings.TrimSpace(blankRunRe.ReplaceAllString(s, "\n\n"))
}
