// Package postprocess turns a raw final transcript into the text that gets
// injected. Stages run in a fixed order; each one is total and returns its
// input unchanged when it has nothing to do.
package postprocess

import (
	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"pushtalk/internal/domain"
	pushlog "pushtalk/internal/log"
	"pushtalk/internal/rules"
)

// Config selects which stages do work.
type Config struct {
	Enabled       bool
	VoiceCommands bool
	DeveloperMode bool
	Language      string
	Dictionary    *rules.Engine
	Snippets      []Snippet
	Profiles      Profiles
	Logger        *zerolog.Logger
}

type stage struct {
	name  string
	apply func(text string, pctx domain.ProcessContext) string
}

// Pipeline is safe for concurrent use; it holds no per-call state.
type Pipeline struct {
	enabled bool
	stages  []stage
	log     zerolog.Logger

	lang     language.Tag
	upper    cases.Caser
	english  bool
	dict     *rules.Engine
	snippets []compiledSnippet
	profiles Profiles
	devMode  bool
	commands bool
}

func NewPipeline(cfg Config) *Pipeline {
	logger := pushlog.WithComponent("postprocess")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	tag := language.English
	if cfg.Language != "" {
		if parsed, err := language.Parse(cfg.Language); err == nil {
			tag = parsed
		} else {
			logger.Warn().Err(err).Str("event", "postprocess.language_invalid").Str("language", cfg.Language).Msg("falling back to English casing")
		}
	}
	base, _ := tag.Base()
	english, _ := language.English.Base()

	p := &Pipeline{
		enabled:  cfg.Enabled,
		log:      logger,
		lang:     tag,
		upper:    cases.Upper(tag),
		english:  base == english,
		dict:     cfg.Dictionary,
		profiles: cfg.Profiles,
		devMode:  cfg.DeveloperMode,
		commands: cfg.VoiceCommands,
	}
	p.snippets = p.compileSnippets(cfg.Snippets)
	p.stages = []stage{
		{name: "voice_commands", apply: p.voiceCommands},
		{name: "fillers", apply: p.trimFillers},
		{name: "spacing", apply: p.normalizeSpacing},
		{name: "sentence_casing", apply: p.sentenceCase},
		{name: "dictionary", apply: p.substitute},
		{name: "snippets", apply: p.expandSnippets},
		{name: "style_profile", apply: p.applyProfile},
		{name: "developer", apply: p.developerTransform},
	}
	return p
}

// Process implements ports.Processor. Partial results and a disabled
// pipeline pass through untouched.
func (p *Pipeline) Process(text string, pctx domain.ProcessContext) string {
	if !p.enabled || !pctx.IsFinal {
		return text
	}
	for _, s := range p.stages {
		text = p.run(s, text, pctx)
	}
	return text
}

// Stages lists stage names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, 0, len(p.stages))
	for _, s := range p.stages {
		names = append(names, s.name)
	}
	return names
}

func (p *Pipeline) run(s stage, text string, pctx domain.ProcessContext) (out string) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("event", "postprocess.stage_panic").Str("stage", s.name).Interface("panic", r).Msg("stage failed, passing text through")
			out = text
		}
	}()
	return s.apply(text, pctx)
}

// normalize runs the fillers, spacing, casing and dictionary stages. Snippet
// bodies go through it once at load time so expansion output is already a
// fixed point of those stages.
func (p *Pipeline) normalize(text string, leading bool) string {
	pctx := domain.ProcessContext{IsFinal: true}
	text = p.trimFillers(text, pctx)
	text = p.normalizeSpacing(text, pctx)
	text = p.casing(text, leading)
	return p.substitute(text, pctx)
}

// untilStable reapplies f until the text stops changing.
func untilStable(text string, f func(string) string) string {
	for i := 0; i < 8; i++ {
		next := f(text)
		if next == text {
			return next
		}
		text = next
	}
	return text
}
