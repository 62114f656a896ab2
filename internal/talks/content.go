package talks

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Content error reasons.
const (
	ReasonEmptyBody = "empty_body"
	ReasonBadMarkup = "bad_markup"
)

// ContentError reports a document whose markup could not be reduced to
// usable text. Recoverable per document; never fatal to a run.
type ContentError struct {
	Reason string
	Err    error
}

func (e *ContentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("content: %s: %v", e.Reason, e.Err)
	}
	return "content: " + e.Reason
}

func (e *ContentError) Unwrap() error { return e.Err }

// Content is the extracted plain text of a talk plus the speaker name from
// the document's author marker, when present.
type Content struct {
	Text        string
	SpeakerName string // from <p class="author-name">; may be empty
}

// ExtractContent parses an HTML talk document, strips markup, script and
// style, and collapses whitespace. The speaker name, when a marker element
// exists, overrides any filename-derived speaker downstream.
func ExtractContent(raw []byte) (Content, error) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return Content{}, &ContentError{Reason: ReasonBadMarkup, Err: err}
	}

	speaker := findSpeaker(doc)

	var tc textCollector
	tc.walk(doc)
	text := tc.result()
	if text == "" {
		return Content{}, &ContentError{Reason: ReasonEmptyBody}
	}

	return Content{Text: text, SpeakerName: speaker}, nil
}

// findSpeaker locates the first <p class="author-name"> element and returns
// its cleaned text, or "" when absent.
func findSpeaker(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "p" && hasClass(n, "author-name") {
		var tc textCollector
		tc.walk(n)
		return CleanSpeakerName(tc.result())
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if s := findSpeaker(c); s != "" {
			return s
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

// textCollector gathers the text of an HTML subtree as block-level lines.
// Whitespace inside a block (including source newlines) collapses to single
// spaces; block element boundaries become line breaks.
type textCollector struct {
	blocks []string
	cur    strings.Builder
}

func (tc *textCollector) walk(n *html.Node) {
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return
	}
	if n.Type == html.TextNode {
		tc.cur.WriteString(n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		tc.walk(c)
	}
	if n.Type == html.ElementNode && isBlockElement(n.Data) {
		tc.flush()
	}
}

func (tc *textCollector) flush() {
	line := strings.Join(strings.Fields(tc.cur.String()), " ")
	tc.cur.Reset()
	if line != "" {
		tc.blocks = append(tc.blocks, line)
	}
}

func (tc *textCollector) result() string {
	tc.flush()
	return strings.Join(tc.blocks, "\n")
}

func isBlockElement(tag string) bool {
	switch tag {
	case "p", "div", "br", "li", "h1", "h2", "h3", "h4", "h5", "h6", "section", "article", "header", "footer", "blockquote", "tr":
		return true
	}
	return false
}

// speakerPrefixes are honorific lead-ins stripped from the author marker.
// Order matters: longer, more specific prefixes first.
var speakerPrefixes = []string{
	"By President ",
	"By Elder ",
	"By Sister ",
	"By ",
}

// CleanSpeakerName normalizes the raw text of an author marker: strips
// non-breaking-space artifacts, collapses whitespace, and removes a single
// honorific prefix.
func CleanSpeakerName(raw string) string {
	name := strings.ReplaceAll(raw, "\u00a0", " ")
	name = strings.ReplaceAll(name, "\u00c2", "")
	name = strings.Join(strings.Fields(name), " ")

	for _, prefix := range speakerPrefixes {
		if strings.HasPrefix(name, prefix) {
			name = strings.TrimSpace(name[len(prefix):])
			break
		}
	}
	return name
}
