package notes

import (
	"bytes"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// markdownRenderer converts note Markdown into sanitized HTML.
type markdownRenderer struct {
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
}

func newMarkdownRenderer() *markdownRenderer {
	return &markdownRenderer{
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy:   bluemonday.UGCPolicy(),
	}
}

func (r *markdownRenderer) Render(source string) (string, error) {
	var buffer bytes.Buffer
	if err := r.markdown.Convert([]byte(source), &buffer); err != nil {
		return "", err
	}
	return string(r.policy.SanitizeBytes(buffer.Bytes())), nil
}
