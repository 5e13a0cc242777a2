package postprocess

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"pushtalk/internal/rules"
)

// Library is the user-editable text library: dictionary pairs, snippets
// and per-application style profiles.
type Library struct {
	Dictionary []rules.Entry `yaml:"dictionary"`
	Snippets   []Snippet     `yaml:"snippets"`
	Profiles   Profiles      `yaml:"profiles"`
}

// LoadLibrary reads a YAML library. A missing file yields an empty library.
func LoadLibrary(path string) (Library, error) {
	lib := Library{Profiles: Profiles{Default: Profile{Tone: ToneNeutral, Domain: DomainNone}}}
	if strings.TrimSpace(path) == "" {
		return lib, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return lib, nil
	}
	if err != nil {
		return Library{}, fmt.Errorf("read library %q: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&lib); err != nil && !errors.Is(err, io.EOF) {
		return Library{}, fmt.Errorf("parse library %q: %w", path, err)
	}
	if err := lib.Validate(); err != nil {
		return Library{}, fmt.Errorf("invalid library %q: %w", path, err)
	}
	return lib, nil
}

// Validate rejects unknown tones and domains.
func (l Library) Validate() error {
	check := func(where string, p Profile) error {
		switch p.Tone {
		case "", ToneNeutral, ToneFormal, ToneCasual:
		default:
			return fmt.Errorf("%s: unknown tone %q", where, p.Tone)
		}
		switch p.Domain {
		case "", DomainNone, DomainEmail, DomainNotes, DomainCoding:
		default:
			return fmt.Errorf("%s: unknown domain %q", where, p.Domain)
		}
		return nil
	}
	if err := check("profiles.default", l.Profiles.Default); err != nil {
		return err
	}
	for app, p := range l.Profiles.Apps {
		if err := check("profiles.apps."+app, p); err != nil {
			return err
		}
	}
	for i, entry := range l.Dictionary {
		if strings.TrimSpace(entry.From) == "" {
			return fmt.Errorf("dictionary[%d]: empty source", i)
		}
	}
	return nil
}
