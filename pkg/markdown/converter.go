package markdown

import (
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

var (
	tagPattern     = regexp.MustCompile(`</?([a-zA-Z][a-zA-Z0-9]*)(?:\s[^>]*)?>`)
	headingPattern = regexp.MustCompile(`<(/?)h[1-6](?:\s[^>]*)?>`)
	blankLines     = regexp.MustCompile(`\n{3,}`)
	supportedTags  = map[string]bool{
		"p": true, "br": true, "strong": true, "em": true, "del": true,
		"code": true, "pre": true, "blockquote": true,
		"ul": true, "ol": true, "li": true, "a": true, "hr": true,
	}
	rendererFlags = blackfriday.SkipHTML | blackfriday.Safelink |
		blackfriday.NofollowLinks | blackfriday.NoreferrerLinks | blackfriday.HrefTargetBlank
)

// ToHTML converts a persona reply written in markdown to HTML that is safe
// to insert into the chat page. Raw HTML in the input is dropped.
func ToHTML(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}

	renderer := blackfriday.NewHTMLRenderer(blackfriday.HTMLRendererParameters{
		Flags: rendererFlags,
	})
	html := string(blackfriday.Run([]byte(markdown),
		blackfriday.WithExtensions(blackfriday.CommonExtensions),
		blackfriday.WithRenderer(renderer),
	))

	return cleanHTML(html)
}

// cleanHTML keeps only the tags the chat page styles
func cleanHTML(html string) string {
	// Headings render as bold paragraphs inside a chat bubble
	html = headingPattern.ReplaceAllStringFunc(html, func(match string) string {
		if strings.HasPrefix(match, "</") {
			return "</strong></p>"
		}
		return "<p><strong>"
	})

	html = tagPattern.ReplaceAllStringFunc(html, func(match string) string {
		tag := tagPattern.FindStringSubmatch(match)
		if len(tag) > 1 && supportedTags[strings.ToLower(tag[1])] {
			return match
		}
		return ""
	})

	html = blankLines.ReplaceAllString(html, "\n\n")

	return strings.TrimSpace(html)
}
