// Package validation implements the Validation & Conflict Layer (spec
// §4.5): the citation integrity gate, the vocabulary/tone guard, and the
// conflict-list hash used for cross-job deduplication. Evidence binding
// itself stays inlined in the pipeline's Critic node, since it needs no
// external collaborator.
package validation

import (
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// vocabFile is the on-disk shape of the forbidden-vocabulary YAML asset,
// matching the original's two accepted list formats: a list of
// {word, alternative} objects, or a bare list of words with no alternative.
type vocabFile struct {
	ForbiddenWords []vocabEntry `yaml:"forbidden_words"`
}

type vocabEntry struct {
	Word        string `yaml:"word"`
	Alternative string `yaml:"alternative"`
}

// UnmarshalYAML accepts either a bare string (just the word, no
// alternative) or a mapping with word/alternative, mirroring the Python
// original's "isinstance(item, dict) / isinstance(item, str)" branch.
func (e *vocabEntry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		e.Word = strings.ToLower(strings.TrimSpace(value.Value))
		return nil
	}

	var raw struct {
		Word        string   `yaml:"word"`
		Alternative yaml.Node `yaml:"alternative"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	e.Word = strings.ToLower(strings.TrimSpace(raw.Word))

	switch raw.Alternative.Kind {
	case yaml.SequenceNode:
		var alts []string
		if err := raw.Alternative.Decode(&alts); err == nil {
			e.Alternative = strings.Join(alts, " or ")
		}
	case yaml.ScalarNode:
		e.Alternative = strings.TrimSpace(raw.Alternative.Value)
	}
	return nil
}

var wordPattern = func(word string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
}

// VocabGuard is the deterministic forbidden-word guard and rewriter.
type VocabGuard struct {
	forbidden    []string // sorted, lowercase
	alternatives map[string]string
	patterns     map[string]*regexp.Regexp
}

// LoadVocabGuard loads the forbidden-vocabulary YAML asset at path. A
// missing file is not an error -- it yields an empty guard, per the spec's
// "best-effort; missing file = empty set" contract, matching the original's
// own "file not found -> warn, use empty vocabulary" behavior. The returned
// guard is always usable; a non-nil error means the asset was present but
// unreadable or malformed, worth logging, not worth failing startup over.
func LoadVocabGuard(path string) (*VocabGuard, error) {
	g := &VocabGuard{alternatives: map[string]string{}, patterns: map[string]*regexp.Regexp{}}
	if path == "" {
		return g, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return g, nil
	}
	if err != nil {
		return g, err
	}

	var parsed vocabFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return g, err
	}

	seen := map[string]bool{}
	for _, entry := range parsed.ForbiddenWords {
		if entry.Word == "" || seen[entry.Word] {
			continue
		}
		seen[entry.Word] = true
		g.forbidden = append(g.forbidden, entry.Word)
		g.alternatives[entry.Word] = entry.Alternative
		g.patterns[entry.Word] = wordPattern(entry.Word)
	}
	sort.Strings(g.forbidden)
	return g, nil
}

// ForbiddenWords returns the sorted list of loaded forbidden words.
func (g *VocabGuard) ForbiddenWords() []string {
	return append([]string(nil), g.forbidden...)
}

// Alternatives returns a copy of the word->alternative mapping.
func (g *VocabGuard) Alternatives() map[string]string {
	out := make(map[string]string, len(g.alternatives))
	for k, v := range g.alternatives {
		out[k] = v
	}
	return out
}

// ScanForbidden implements pipeline.Validator: it returns every forbidden
// word (word-boundary-anchored, case-insensitive per spec §4.4 step 6) found
// in text, in the guard's sorted order.
func (g *VocabGuard) ScanForbidden(text string) []string {
	var hits []string
	for _, word := range g.forbidden {
		if g.patterns[word].MatchString(text) {
			hits = append(hits, word)
		}
	}
	return hits
}

// Rewrite implements pipeline.Validator's tone guard: a deterministic
// rewriter replacing every forbidden word with its mapped alternative, or
// leaving it untouched when no alternative was configured.
func (g *VocabGuard) Rewrite(text string) string {
	out := text
	for _, word := range g.forbidden {
		alt := g.alternatives[word]
		if alt == "" {
			continue
		}
		out = g.patterns[word].ReplaceAllString(out, alt)
	}
	return out
}

// ApplyConstraints implements pipeline.Validator: it appends a negative-
// constraint block listing forbidden words and their alternatives, the same
// shape the original's apply_constraints built. An empty guard returns the
// prompt unchanged.
func (g *VocabGuard) ApplyConstraints(prompt string) string {
	if len(g.forbidden) == 0 {
		return prompt
	}

	quoted := make([]string, len(g.forbidden))
	for i, word := range g.forbidden {
		quoted[i] = `"` + word + `"`
	}

	lines := make([]string, 0, len(g.forbidden))
	for _, word := range g.forbidden {
		if alt := g.alternatives[word]; alt != "" {
			lines = append(lines, `"`+word+`" -> "`+alt+`"`)
		} else {
			lines = append(lines, `"`+word+`" -> (use an appropriate alternative)`)
		}
	}

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\n---\nNEGATIVE CONSTRAINT:\nDo not use the following words: [")
	b.WriteString(strings.Join(quoted, ", "))
	b.WriteString("]\n\nUse these alternatives instead:\n  ")
	b.WriteString(strings.Join(lines, "\n  "))
	b.WriteString("\n\nIf any of these words appear in your response, replace them with the suggested alternative or an appropriate synonym that preserves the manuscript's tone.\n---\n")
	return b.String()
}
