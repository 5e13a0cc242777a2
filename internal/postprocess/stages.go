package postprocess

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"pushtalk/internal/domain"
)

type phraseRule struct {
	re          *regexp.Regexp
	replacement string
}

func phrase(words string) string {
	return `\b` + strings.ReplaceAll(regexp.QuoteMeta(words), " ", `\s+`) + `\b`
}

// Longer phrases first so "exclamation mark" wins over shorter overlaps.
var voiceCommandRules = []phraseRule{
	{re: regexp.MustCompile(`(?i)[ \t]*` + phrase("new paragraph") + `[ \t]*`), replacement: "\n\n"},
	{re: regexp.MustCompile(`(?i)[ \t]*` + phrase("new line") + `[ \t]*`), replacement: "\n"},
	{re: regexp.MustCompile(`(?i)\s*` + phrase("exclamation mark")), replacement: "!"},
	{re: regexp.MustCompile(`(?i)\s*` + phrase("exclamation point")), replacement: "!"},
	{re: regexp.MustCompile(`(?i)\s*` + phrase("question mark")), replacement: "?"},
	{re: regexp.MustCompile(`(?i)\s*` + phrase("full stop")), replacement: "."},
	{re: regexp.MustCompile(`(?i)\s*` + phrase("period")), replacement: "."},
	{re: regexp.MustCompile(`(?i)\s*` + phrase("semicolon")), replacement: ";"},
	{re: regexp.MustCompile(`(?i)\s*` + phrase("colon")), replacement: ":"},
	{re: regexp.MustCompile(`(?i)\s*` + phrase("comma")), replacement: ","},
}

func (p *Pipeline) voiceCommands(text string, _ domain.ProcessContext) string {
	if !p.commands {
		return text
	}
	for _, rule := range voiceCommandRules {
		text = rule.re.ReplaceAllLiteralString(text, rule.replacement)
	}
	return text
}

// "err" and a bare "ah" are words, so only their drawn-out forms count.
var fillerPattern = regexp.MustCompile(`(?i)\b(?:u+m+|u+h+m*|e+r+m+|e+r|e{2,}r+|a+h{2,}|a{2,}h+|h+m+|m+h*m+)\b,?`)

func (p *Pipeline) trimFillers(text string, _ domain.ProcessContext) string {
	return fillerPattern.ReplaceAllStringFunc(text, func(match string) string {
		if isAcronym(strings.TrimSuffix(match, ",")) {
			return match
		}
		return " "
	})
}

// isAcronym reports whether word is all capitals, like ER or UM.
func isAcronym(word string) bool {
	if utf8.RuneCountInString(word) < 2 {
		return false
	}
	for _, r := range word {
		if unicode.IsLower(r) {
			return false
		}
	}
	return true
}

var (
	horizontalSpace   = regexp.MustCompile(`[ \t\f\v]+`)
	spaceAroundBreak  = regexp.MustCompile(` *\n *`)
	extraBreaks       = regexp.MustCompile(`\n{3,}`)
	spaceBeforePunct  = regexp.MustCompile(` +([,.;:!?)\]}])`)
	spaceAfterOpening = regexp.MustCompile(`([(\[{]) +`)
	repeatedCommas    = regexp.MustCompile(`,+`)
	commaBeforeStop   = regexp.MustCompile(`,\s*([.!?;:])`)
	missingSpace      = regexp.MustCompile(`([,;!?])(\pL)`)
	leadingJunk       = regexp.MustCompile(`\A[\s,;]+`)
)

func (p *Pipeline) normalizeSpacing(text string, _ domain.ProcessContext) string {
	return untilStable(text, spacingPass)
}

func spacingPass(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = horizontalSpace.ReplaceAllString(text, " ")
	text = spaceAroundBreak.ReplaceAllString(text, "\n")
	text = extraBreaks.ReplaceAllString(text, "\n\n")
	text = spaceBeforePunct.ReplaceAllString(text, "$1")
	text = spaceAfterOpening.ReplaceAllString(text, "$1")
	text = repeatedCommas.ReplaceAllString(text, ",")
	text = commaBeforeStop.ReplaceAllString(text, "$1")
	text = missingSpace.ReplaceAllString(text, "$1 $2")
	text = leadingJunk.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

var (
	sentenceStart = regexp.MustCompile(`(?:\A|[.!?]\s+|\n)[\s"'(\[]*(\pL[\pL\pN'’-]*)`)
	pronounI      = regexp.MustCompile(`(\A|[\s"'(\[])i([\s'’,!?;:)\]]|\z)`)
)

func (p *Pipeline) sentenceCase(text string, _ domain.ProcessContext) string {
	return p.casing(text, true)
}

// casing capitalizes sentence starts. With leading false the first word of
// the text is left alone, for fragments spliced into a sentence later.
// Tokens that are already mixed case (iPhone, macOS) are kept verbatim.
func (p *Pipeline) casing(text string, leading bool) string {
	matches := sentenceStart.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 && !p.english {
		return text
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[2], m[3]
		if !leading && m[0] == 0 && start == leadingOffset(text) {
			continue
		}
		token := text[start:end]
		first, size := utf8.DecodeRuneInString(token)
		if !unicode.IsLower(first) || hasUpper(token[size:]) {
			continue
		}
		b.WriteString(text[last:start])
		b.WriteString(p.upper.String(string(first)))
		last = start + size
	}
	b.WriteString(text[last:])
	out := b.String()

	if p.english {
		out = untilStable(out, func(s string) string {
			return pronounI.ReplaceAllString(s, "${1}I${2}")
		})
	}
	return out
}

func leadingOffset(text string) int {
	return len(text) - len(strings.TrimLeft(text, " \t\n\"'(["))
}

func hasUpper(s string) bool {
	for _, r := range s {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}
