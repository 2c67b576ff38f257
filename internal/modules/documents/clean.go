package documents

import (
	"regexp"
	"strings"
)

var (
	scriptRe     = regexp.MustCompile(`(?is)<script.*?</script>`)
	styleRe      = regexp.MustCompile(`(?is)<style.*?</style>`)
	tagRe        = regexp.MustCompile(`(?s)<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s+`)

	// Inline XBRL / XML holding blocks in filings. Kept verbatim through
	// cleaning: tag stripping would destroy the structured facts the parser
	// lifts from them.
	xbrlRe = regexp.MustCompile(`(?is)<(?:ix|xbrli?):[^>]+>.*?</(?:ix|xbrli?):[^>]+>`)
)

// entities is the fixed decode set. Sources occasionally double-encode, so
// &amp; is decoded last.
var entities = []struct{ from, to string }{
	{"&nbsp;", " "},
	{"&quot;", `"`},
	{"&#34;", `"`},
	{"&apos;", "'"},
	{"&#39;", "'"},
	{"&rsquo;", "'"},
	{"&lsquo;", "'"},
	{"&rdquo;", `"`},
	{"&ldquo;", `"`},
	{"&ndash;", "-"},
	{"&mdash;", "-"},
	{"&lt;", "<"},
	{"&gt;", ">"},
	{"&amp;", "&"},
}

// CleanText extracts readable text from raw HTML or plain-text bytes:
// script and style blocks go first, then remaining tags, then the fixed
// entity set, then whitespace collapses to single spaces. Inline XBRL
// blocks are lifted out before stripping and re-appended untouched after
// the cleaned prose.
func CleanText(raw string) string {
	blocks := xbrlRe.FindAllString(raw, -1)
	text := xbrlRe.ReplaceAllString(raw, " ")

	text = scriptRe.ReplaceAllString(text, " ")
	text = styleRe.ReplaceAllString(text, " ")
	text = tagRe.ReplaceAllString(text, " ")
	for _, e := range entities {
		text = strings.ReplaceAll(text, e.from, e.to)
	}
	text = strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))

	if len(blocks) > 0 {
		text = text + "\n" + strings.Join(blocks, "\n")
	}
	return text
}
