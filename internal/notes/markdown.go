// Package notes renders the free-text notes attached to shopping items.
package notes

import (
	"html/template"
	"strings"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
)

var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("pre", "code")
	p.AllowAttrs("class").OnElements("code", "pre")
	p.RequireNoFollowOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

// Render converts markdown notes to sanitized HTML. Blank input renders
// as empty.
func Render(md string) template.HTML {
	if strings.TrimSpace(md) == "" {
		return ""
	}

	// Configure the markdown parser with common extensions
	extensions := parser.CommonExtensions | parser.NoEmptyLineBeforeBlock
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse([]byte(md))

	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{
		Flags: mdhtml.CommonFlags | mdhtml.HrefTargetBlank,
	})
	rendered := markdown.Render(doc, renderer)

	// Sanitize HTML to prevent XSS attacks
	return template.HTML(policy.SanitizeBytes(rendered))
}
