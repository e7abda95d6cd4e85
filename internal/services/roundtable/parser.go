// Package roundtable splits a round-table reply into per-persona segments.
//
// Speaker markers look like "🕯️ Eudora:" or "Li Ming：", optionally wrapped
// in markdown emphasis, and may appear anywhere in the reply, including right
// after a sentence on the same line. Parsing is best effort: a reply without
// markers becomes a single anonymous segment.
package roundtable

import (
	"regexp"
	"strings"

	"github.com/private-symposium-go/internal/models"
	"github.com/private-symposium-go/internal/persona"
)

const variationSelector = "\uFE0F"

// Parser recognizes the speaker markers of a persona registry
type Parser struct {
	personas *persona.Registry
	marker   *regexp.Regexp
}

// NewParser builds the marker pattern from the registry's names and glyphs
func NewParser(personas *persona.Registry) *Parser {
	var glyphs, names []string
	for _, p := range personas.All() {
		glyph := strings.ReplaceAll(p.Glyph, variationSelector, "")
		if glyph != "" {
			glyphs = append(glyphs, regexp.QuoteMeta(glyph)+`\x{FE0F}?`)
		}
		words := strings.Fields(p.Name)
		for i := range words {
			words[i] = regexp.QuoteMeta(words[i])
		}
		names = append(names, strings.Join(words, `[ \t]*`))
	}

	known := `(?i:` + strings.Join(names, "|") + `)`

	// group 1: a known or capitalized name after a glyph; group 2: a known
	// name without one, starting at a word boundary
	pattern := `(?:[>#*_-][ \t]*)*(?:(?:` + strings.Join(glyphs, "|") + `)[ \t]*(` + known +
		`|\p{Lu}[\p{L}\p{M}]*(?:[ \t]\p{Lu}[\p{L}\p{M}]*)?)|\b(` + known + `))[ \t*_]*[:：][ \t*_]*`

	return &Parser{
		personas: personas,
		marker:   regexp.MustCompile(pattern),
	}
}

// Parse returns the segments of text in order. Segments whose speaker is
// not a known persona are dropped, as are empty ones. Text before the first
// marker is kept as an anonymous segment, and when nothing survives the whole
// reply becomes one.
func (p *Parser) Parse(text string) []models.Segment {
	matches := p.marker.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []models.Segment{{Text: text}}
	}

	var segments []models.Segment
	if preamble := strings.TrimSpace(text[:matches[0][0]]); preamble != "" {
		segments = append(segments, models.Segment{Text: preamble})
	}

	for i, m := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		body := strings.TrimSpace(text[m[1]:end])
		if body == "" {
			continue
		}

		var name string
		switch {
		case m[2] >= 0:
			name = text[m[2]:m[3]]
		case m[4] >= 0:
			name = text[m[4]:m[5]]
		}
		speaker, ok := p.personas.ByName(name)
		if !ok {
			continue
		}

		id := speaker.ID
		segments = append(segments, models.Segment{PersonaID: &id, Text: body})
	}

	if len(segments) == 0 {
		return []models.Segment{{Text: text}}
	}
	return segments
}
