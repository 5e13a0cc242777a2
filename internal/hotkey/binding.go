// Package hotkey detects press-and-hold of a configured key from Linux
// input devices.
package hotkey

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Linux input event codes for the keys a binding may name.
var keyCodes = map[string]uint16{}

var namedKeys = []struct {
	name string
	code uint16
}{
	{"esc", 1}, {"tab", 15}, {"enter", 28}, {"space", 57}, {"capslock", 58},
	{"scrolllock", 70}, {"insert", 110}, {"pause", 119}, {"f11", 87}, {"f12", 88},
	{"left_ctrl", 29}, {"right_ctrl", 97}, {"left_shift", 42}, {"right_shift", 54},
	{"left_alt", 56}, {"right_alt", 100}, {"left_meta", 125}, {"right_meta", 126},
}

// modifier groups accept either side of the keyboard.
var modifierGroups = map[string][]uint16{
	"ctrl":  {29, 97},
	"shift": {42, 54},
	"alt":   {56, 100},
	"meta":  {125, 126},
}

var modifierAliases = map[string]string{}

func init() {
	for _, k := range namedKeys {
		keyCodes[k.name] = k.code
	}
	for i, c := range "1234567890" {
		keyCodes[string(c)] = uint16(2 + i)
	}
	rows := []struct {
		letters string
		first   uint16
	}{{"qwertyuiop", 16}, {"asdfghjkl", 30}, {"zxcvbnm", 44}}
	for _, row := range rows {
		for i, c := range row.letters {
			keyCodes[string(c)] = row.first + uint16(i)
		}
	}
	for n := 1; n <= 10; n++ {
		keyCodes["f"+strconv.Itoa(n)] = uint16(58 + n)
	}

	for group, aliases := range map[string][]string{
		"ctrl":  {"ctrl", "control"},
		"shift": {"shift"},
		"alt":   {"alt", "option"},
		"meta":  {"meta", "super", "win", "cmd"},
	} {
		for _, alias := range aliases {
			modifierAliases[alias] = group
		}
	}
}

// Binding is a parsed trigger: a key plus modifier groups that must be
// held with it. Keys lists the codes that count as the key itself; a bare
// "alt" accepts either side.
type Binding struct {
	Spec      string
	Keys      []uint16
	Modifiers [][]uint16
}

// ModifierAlone reports whether the trigger is a modifier key pressed on
// its own, such as right_alt.
func (b Binding) ModifierAlone() bool {
	if len(b.Modifiers) > 0 || len(b.Keys) == 0 {
		return false
	}
	for _, key := range b.Keys {
		if !isModifier(key) {
			return false
		}
	}
	return true
}

// involves reports whether code is part of the trigger.
func (b Binding) involves(code uint16) bool {
	if contains(b.Keys, code) {
		return true
	}
	for _, group := range b.Modifiers {
		if contains(group, code) {
			return true
		}
	}
	return false
}

func isModifier(code uint16) bool {
	for _, group := range modifierGroups {
		if contains(group, code) {
			return true
		}
	}
	return false
}

func contains(codes []uint16, code uint16) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// ParseBinding parses specs such as "right_alt", "ctrl+shift+space" or
// "f9". Names are case-insensitive.
func ParseBinding(spec string) (Binding, error) {
	spec = strings.ToLower(strings.TrimSpace(spec))
	if spec == "" {
		return Binding{}, fmt.Errorf("empty hotkey binding")
	}
	parts := strings.Split(spec, "+")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	b := Binding{Spec: spec}
	keyToken := parts[len(parts)-1]
	if key, ok := keyCodes[keyToken]; ok {
		b.Keys = []uint16{key}
	} else if group, ok := modifierAliases[keyToken]; ok && len(parts) == 1 {
		b.Keys = modifierGroups[group]
	} else {
		return Binding{}, fmt.Errorf("unknown key %q in hotkey %q", keyToken, spec)
	}

	seen := map[string]bool{}
	for _, token := range parts[:len(parts)-1] {
		group, ok := modifierAliases[token]
		if !ok {
			return Binding{}, fmt.Errorf("unknown modifier %q in hotkey %q", token, spec)
		}
		if seen[group] {
			continue
		}
		seen[group] = true
		b.Modifiers = append(b.Modifiers, modifierGroups[group])
	}
	sort.Slice(b.Modifiers, func(i, j int) bool { return b.Modifiers[i][0] < b.Modifiers[j][0] })
	return b, nil
}
