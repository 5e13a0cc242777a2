package postprocess

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"pushtalk/internal/domain"
)

// Tone is the register a profile writes in.
type Tone string

const (
	ToneNeutral Tone = "neutral"
	ToneFormal  Tone = "formal"
	ToneCasual  Tone = "casual"
)

// Domain is a formatting preset.
type Domain string

const (
	DomainNone   Domain = "none"
	DomainEmail  Domain = "email"
	DomainNotes  Domain = "notes"
	DomainCoding Domain = "coding"
)

// Profile is the style applied for one application.
type Profile struct {
	Tone   Tone   `yaml:"tone" json:"tone"`
	Domain Domain `yaml:"domain" json:"domain"`
}

// Profiles maps frontmost application identifiers to styles.
type Profiles struct {
	Default Profile            `yaml:"default" json:"default"`
	Apps    map[string]Profile `yaml:"apps" json:"apps"`
}

// For returns the profile for appID, falling back to the default.
func (p Profiles) For(appID string) Profile {
	appID = strings.ToLower(strings.TrimSpace(appID))
	if appID != "" {
		for key, profile := range p.Apps {
			if strings.ToLower(key) == appID {
				return profile
			}
		}
	}
	return p.Default
}

var contractions = []struct {
	from *regexp.Regexp
	to   string
}{
	{regexp.MustCompile(`(?i)\bcan't\b`), "cannot"},
	{regexp.MustCompile(`(?i)\bwon't\b`), "will not"},
	{regexp.MustCompile(`(?i)\bshan't\b`), "shall not"},
	{regexp.MustCompile(`(?i)\b(\w+)n't\b`), "$1 not"},
	{regexp.MustCompile(`(?i)\bI'm\b`), "I am"},
	{regexp.MustCompile(`(?i)\b(you|we|they)'re\b`), "$1 are"},
	{regexp.MustCompile(`(?i)\b(it|that|there|what)'s\b`), "$1 is"},
	{regexp.MustCompile(`(?i)\b(I|you|we|they)'ve\b`), "$1 have"},
	{regexp.MustCompile(`(?i)\b(I|you|we|they|he|she|it)'ll\b`), "$1 will"},
	{regexp.MustCompile(`(?i)\blet's\b`), "let us"},
}

var terminalPunct = regexp.MustCompile(`[.!?:;)\]}"']\z`)

func (p *Pipeline) applyProfile(text string, pctx domain.ProcessContext) string {
	if text == "" {
		return text
	}
	profile := p.profiles.For(pctx.AppID)

	switch profile.Tone {
	case ToneFormal:
		for _, c := range contractions {
			text = c.from.ReplaceAllStringFunc(text, func(match string) string {
				return matchCase(match, c.from.ReplaceAllString(match, c.to))
			})
		}
		text = ensureTerminal(text)
	case ToneCasual:
		if strings.HasSuffix(text, ".") && !strings.HasSuffix(text, "..") {
			text = strings.TrimSuffix(text, ".")
		}
	}

	switch profile.Domain {
	case DomainEmail:
		text = ensureTerminal(text)
	case DomainNotes:
		lines := strings.Split(text, "\n")
		for i, line := range lines {
			if strings.HasSuffix(line, ".") && !strings.HasSuffix(line, "..") {
				lines[i] = strings.TrimSuffix(line, ".")
			}
		}
		text = strings.Join(lines, "\n")
	}
	return text
}

func ensureTerminal(text string) string {
	if terminalPunct.MatchString(text) {
		return text
	}
	return text + "."
}

// matchCase capitalizes replacement when the original started upper case.
func matchCase(original, replacement string) string {
	first, _ := utf8.DecodeRuneInString(original)
	if !unicode.IsUpper(first) {
		return replacement
	}
	r, size := utf8.DecodeRuneInString(replacement)
	return string(unicode.ToUpper(r)) + replacement[size:]
}

type symbolRule struct {
	re     *regexp.Regexp
	symbol string
}

// symbol builds a rule that swallows the whitespace on the sides the
// symbol binds to.
func symbol(words, sym string, joinLeft, joinRight bool) symbolRule {
	pattern := phrase(words)
	if joinLeft {
		pattern = `\s*` + pattern
	}
	if joinRight {
		pattern += `\s*`
	}
	return symbolRule{re: regexp.MustCompile(`(?i)` + pattern), symbol: sym}
}

var developerRules = []symbolRule{
	symbol("open paren", "(", true, true),
	symbol("close paren", ")", true, false),
	symbol("open bracket", "[", true, true),
	symbol("close bracket", "]", true, false),
	symbol("open brace", "{", false, true),
	symbol("close brace", "}", false, false),
	symbol("double colon", "::", true, true),
	symbol("fat arrow", "=>", false, false),
	symbol("arrow", "->", false, false),
	symbol("double equals", "==", false, false),
	symbol("not equals", "!=", false, false),
	symbol("equals", "=", false, false),
	symbol("underscore", "_", true, true),
	symbol("dash dash", "--", false, true),
	symbol("dot", ".", true, true),
	symbol("slash", "/", true, true),
	symbol("backtick", "`", false, false),
	symbol("hash", "#", false, true),
}

func (p *Pipeline) developerTransform(text string, pctx domain.ProcessContext) string {
	if !p.devMode && p.profiles.For(pctx.AppID).Domain != DomainCoding {
		return text
	}
	for _, rule := range developerRules {
		text = rule.re.ReplaceAllLiteralString(text, rule.symbol)
	}
	return strings.TrimSpace(horizontalSpace.ReplaceAllString(text, " "))
}
