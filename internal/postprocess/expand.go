package postprocess

import (
	"regexp"
	"sort"
	"strings"

	"pushtalk/internal/domain"
)

func (p *Pipeline) substitute(text string, pctx domain.ProcessContext) string {
	if p.dict.Len() == 0 {
		return text
	}
	out, err := p.dict.Apply(text)
	if err != nil {
		p.log.Warn().Err(err).Str("event", "postprocess.dictionary_failed").Msg("dictionary left text unchanged")
		return text
	}
	if out == text {
		return text
	}
	// Replacements may introduce fillers, punctuation or sentence breaks,
	// and cleaning those up may expose another dictionary match.
	return untilStable(out, func(s string) string {
		s = p.casing(untilStable(p.trimFillers(s, pctx), spacingPass), true)
		next, err := p.dict.Apply(s)
		if err != nil {
			return s
		}
		return next
	})
}

// Snippet expands a spoken trigger phrase into a stored block of text.
type Snippet struct {
	Trigger string `yaml:"trigger"`
	Body    string `yaml:"body"`
}

type compiledSnippet struct {
	trigger string
	re      *regexp.Regexp
	body    string
}

func triggerPattern(trigger string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + strings.ReplaceAll(regexp.QuoteMeta(trigger), " ", `\s+`) + `\b`)
}

// compileSnippets normalizes bodies and drops snippets whose body would
// re-trigger expansion.
func (p *Pipeline) compileSnippets(snippets []Snippet) []compiledSnippet {
	compiled := make([]compiledSnippet, 0, len(snippets))
	for _, s := range snippets {
		trigger := strings.Join(strings.Fields(s.Trigger), " ")
		if trigger == "" || !isWordPhrase(trigger) || strings.TrimSpace(s.Body) == "" {
			p.log.Warn().Str("event", "postprocess.snippet_invalid").Str("trigger", s.Trigger).Msg("skipping snippet with empty or non-word trigger")
			continue
		}
		compiled = append(compiled, compiledSnippet{
			trigger: trigger,
			re:      triggerPattern(trigger),
			body:    p.normalize(s.Body, false),
		})
	}

	valid := make([]compiledSnippet, 0, len(compiled))
	for _, candidate := range compiled {
		clashes := false
		for _, other := range compiled {
			if other.re.MatchString(candidate.body) {
				p.log.Warn().
					Str("event", "postprocess.snippet_recursive").
					Str("trigger", candidate.trigger).
					Str("contains", other.trigger).
					Msg("skipping snippet whose body contains a trigger")
				clashes = true
				break
			}
		}
		if !clashes {
			valid = append(valid, candidate)
		}
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return len(valid[i].trigger) > len(valid[j].trigger)
	})
	return valid
}

func isWordPhrase(trigger string) bool {
	first, last := trigger[0], trigger[len(trigger)-1]
	return isASCIIWord(first) && isASCIIWord(last)
}

func isASCIIWord(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func (p *Pipeline) expandSnippets(text string, _ domain.ProcessContext) string {
	if len(p.snippets) == 0 {
		return text
	}
	out := text
	for _, s := range p.snippets {
		body := s.body
		out = s.re.ReplaceAllStringFunc(out, func(string) string { return body })
	}
	if out == text {
		return text
	}
	return p.casing(untilStable(out, spacingPass), true)
}
