// Package richtext finds links, mentions and hashtags in post text and turns
// them into facets with UTF-8 byte offsets.
package richtext

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind of a detected span.
type Kind int

const (
	KindLink Kind = iota
	KindMention
	KindTag
)

func (k Kind) String() string {
	switch k {
	case KindLink:
		return "link"
	case KindMention:
		return "mention"
	case KindTag:
		return "tag"
	default:
		return "unknown"
	}
}

// Span is a detected annotation over text[Start:End]. Value is the URL, the
// handle without "@", or the tag without "#".
type Span struct {
	Start int
	End   int
	Kind  Kind
	Value string
}

const maxTagRunes = 64

var (
	linkRegex    = regexp.MustCompile(`https?://[^\s<>\[\]()'"]+[^\s<>\[\]()'",.:;!?]`)
	mentionRegex = regexp.MustCompile(`(?:^|[\s(])(@((?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?))`)
	tagRegex     = regexp.MustCompile(`(?:^|\s)([#＃]([^\s#＃]+))`)
)

// Detect returns every link, mention and tag span in text ordered by offset.
func Detect(text string) []Span {
	var spans []Span
	for _, m := range linkRegex.FindAllStringIndex(text, -1) {
		spans = append(spans, Span{Start: m[0], End: m[1], Kind: KindLink, Value: text[m[0]:m[1]]})
	}
	for _, m := range mentionRegex.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[2], m[3]
		if overlaps(spans, start, end) {
			continue
		}
		spans = append(spans, Span{Start: start, End: end, Kind: KindMention, Value: strings.ToLower(text[m[4]:m[5]])})
	}
	for _, m := range tagRegex.FindAllStringSubmatchIndex(text, -1) {
		start := m[2]
		tag := strings.TrimRightFunc(text[m[4]:m[5]], unicode.IsPunct)
		if !validTag(tag) {
			continue
		}
		end := m[4] + len(tag)
		if overlaps(spans, start, end) {
			continue
		}
		spans = append(spans, Span{Start: start, End: end, Kind: KindTag, Value: tag})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	return spans
}

func validTag(tag string) bool {
	if tag == "" || utf8.RuneCountInString(tag) > maxTagRunes {
		return false
	}
	return strings.IndexFunc(tag, func(r rune) bool { return !unicode.IsDigit(r) }) >= 0
}

func overlaps(spans []Span, start, end int) bool {
	for _, s := range spans {
		if start < s.End && s.Start < end {
			return true
		}
	}
	return false
}
