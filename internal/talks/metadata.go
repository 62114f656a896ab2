package talks

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Metadata error reasons.
const (
	ReasonUnparseableFilename = "unparseable_filename"
)

// MetadataError reports a filename that does not match any known convention.
type MetadataError struct {
	Filename string
	Reason   string
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("metadata: %s: %s", e.Reason, e.Filename)
}

// TalkMetadata is the identity derived from a talk's filename. The bare
// filename (basename) is the natural key used for resume reconciliation.
type TalkMetadata struct {
	Filename       string
	Year           int
	Month          int
	SessionID      string // "YYYY-MM", groups talks by conference period
	TalkIdentifier string
	SpeakerName    string // from the filename; may be empty
}

// Two filename conventions have been used over the corpus's history:
//
//	compact:    2021-04-faith-in-christ_jane-doe.html
//	structured: 2021_04_General_Conference_faith-in-christ_jane-doe.html
//
// Both start with a 4-digit year and a 1-2 digit month; anything else
// fails closed with ReasonUnparseableFilename.
var (
	compactPattern = regexp.MustCompile(`^(\d{4})-(\d{1,2})-([^._]+?)(?:_([A-Za-z0-9-]+))?\.[A-Za-z0-9]+$`)
	structuredHead = regexp.MustCompile(`^(\d{4})_(\d{1,2})$`)

	// Speaker tokens are first-last name pairs ("jane-doe"). Multi-hyphen
	// segments are talk slugs, not speakers.
	speakerToken = regexp.MustCompile(`^[a-z]+-[a-z]+$`)

	// Delimiter-sparse compact identifiers like "14johnson" carry a speaker
	// token glued onto a numeric prefix.
	gluedSpeaker = regexp.MustCompile(`^\d+([a-z]+)$`)
)

// ParseFilename extracts TalkMetadata from a talk filename (any leading
// directories are ignored). It recognizes the compact and structured
// conventions above; unknown shapes return a *MetadataError rather than a
// best-effort guess.
func ParseFilename(filename string) (TalkMetadata, error) {
	base := filepath.Base(filename)

	if m := compactPattern.FindStringSubmatch(base); m != nil {
		return buildMetadata(base, m[1], m[2], m[3], m[4])
	}
	if md, ok := parseStructured(base); ok {
		return md, nil
	}
	return TalkMetadata{}, &MetadataError{Filename: base, Reason: ReasonUnparseableFilename}
}

// parseStructured handles the underscore-delimited convention. The conference
// name may itself contain underscores, so the identifier is everything between
// the month and the optional trailing speaker token.
func parseStructured(base string) (TalkMetadata, bool) {
	ext := filepath.Ext(base)
	if ext == "" || ext == base {
		return TalkMetadata{}, false
	}
	stem := strings.TrimSuffix(base, ext)

	parts := strings.Split(stem, "_")
	if len(parts) < 3 {
		return TalkMetadata{}, false
	}
	if !structuredHead.MatchString(parts[0] + "_" + parts[1]) {
		return TalkMetadata{}, false
	}

	rest := parts[2:]
	speaker := ""
	// Strip a trailing speaker token only when a conference name and slug
	// remain in front of it. The token shape is a heuristic: a trailing
	// talk slug that happens to look like "first-last" is taken as the
	// speaker, since the two are indistinguishable from the filename alone.
	if len(rest) >= 3 && speakerToken.MatchString(rest[len(rest)-1]) {
		speaker = rest[len(rest)-1]
		rest = rest[:len(rest)-1]
	}

	md, err := buildMetadata(base, parts[0], parts[1], strings.Join(rest, "_"), speaker)
	if err != nil {
		return TalkMetadata{}, false
	}
	return md, true
}

func buildMetadata(base, yearStr, monthStr, identifier, speaker string) (TalkMetadata, error) {
	year, _ := strconv.Atoi(yearStr)
	month, _ := strconv.Atoi(monthStr)
	if month < 1 || month > 12 {
		return TalkMetadata{}, &MetadataError{Filename: base, Reason: ReasonUnparseableFilename}
	}

	name := speakerFromToken(speaker)
	// Compact form without a delimiter: "2025-04-14johnson.html" keeps the
	// whole remainder as the identifier but still surfaces the glued token.
	if name == "" {
		if g := gluedSpeaker.FindStringSubmatch(identifier); g != nil {
			name = speakerFromToken(g[1])
		}
	}

	return TalkMetadata{
		Filename:       base,
		Year:           year,
		Month:          month,
		SessionID:      fmt.Sprintf("%04d-%02d", year, month),
		TalkIdentifier: identifier,
		SpeakerName:    name,
	}, nil
}

// speakerFromToken turns a filename speaker token ("jane-doe") into a
// display name ("Jane Doe").
func speakerFromToken(token string) string {
	if token == "" {
		return ""
	}
	parts := strings.Split(token, "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
