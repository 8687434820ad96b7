package articles

import (
	"regexp"
	"strings"
	"time"
)

// DateLayout renders timestamps as year, month, day, hour and minute
const DateLayout = "2006年1月2日 15:04"

// ExcerptLength is the number of runes shown in list views
const ExcerptLength = 150

var markdownRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?m)^#+\s+(.*)`), "$1"},
	{regexp.MustCompile(`!\[(.*?)\]\(.*?\)`), "$1"},
	{regexp.MustCompile(`\[(.*?)\]\(.*?\)`), "$1"},
	{regexp.MustCompile(`\*\*(.*?)\*\*`), "$1"},
	{regexp.MustCompile(`\*(.*?)\*`), "$1"},
	{regexp.MustCompile("`{1,3}(.*?)`{1,3}"), "$1"},
	{regexp.MustCompile(`~~(.*?)~~`), "$1"},
	{regexp.MustCompile(`(?m)^>\s+(.*)`), "$1"},
	{regexp.MustCompile(`\s+`), " "},
}

// StripMarkdown reduces markdown to plain text on a single line
func StripMarkdown(markdown string) string {
	s := markdown
	for _, rule := range markdownRules {
		s = rule.re.ReplaceAllString(s, rule.repl)
	}
	return strings.TrimSpace(s)
}

// Excerpt returns the first n runes of the plain text, with "..." appended
// when truncated
func Excerpt(markdown string, n int) string {
	plain := []rune(StripMarkdown(markdown))
	if n <= 0 || len(plain) <= n {
		return string(plain)
	}
	return string(plain[:n]) + "..."
}

// FormatDate renders t in its own location
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
