package responder

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	DefaultPersona     = "a wise zen master"
	DefaultForm        = "zen koan"
	DefaultPromptChars = 275
)

// Handle segments may contain hyphens, as in @koan-bot.bsky.social.
var mentionTokenRegex = regexp.MustCompile(`@[A-Za-z0-9_-]+(?:\.[A-Za-z0-9_-]+)*`)

// StripMentions removes @handle tokens and collapses the leftover whitespace.
func StripMentions(text string) string {
	stripped := mentionTokenRegex.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(stripped), " ")
}

// PromptBuilder wraps post text in the rewrite instruction.
type PromptBuilder struct {
	Persona  string
	Form     string
	MaxChars int
}

// Build returns the prompt for text. Zero fields take the package defaults.
func (b PromptBuilder) Build(text string) string {
	persona, form, maxChars := b.Persona, b.Form, b.MaxChars
	if persona == "" {
		persona = DefaultPersona
	}
	if form == "" {
		form = DefaultForm
	}
	if maxChars <= 0 {
		maxChars = DefaultPromptChars
	}
	return fmt.Sprintf(
		"As %s, carefully craft a %s based on the following text, using no more than %d characters. "+
			"Stay on topic and avoid generating any off-topic or inappropriate content:\n\n\"%s\"",
		persona, form, maxChars, StripMentions(text),
	)
}
