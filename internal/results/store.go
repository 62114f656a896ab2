package results

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// csvHeader is the column order of the results file. Existing files are
// appended to without rewriting earlier rows.
var csvHeader = []string{
	"filename",
	"year",
	"month",
	"conference_session_id",
	"talk_identifier",
	"speaker_name",
	"text_preview",
	"score",
	"explanation",
	"key_phrases",
	"model_used",
}

const previewLength = 200

// Record is one classified talk as persisted to the results file.
type Record struct {
	Filename       string
	Year           int
	Month          int
	SessionID      string
	TalkIdentifier string
	SpeakerName    string
	TextPreview    string
	Score          int
	Explanation    string
	KeyPhrases     []string
	ModelUsed      string
}

func (r Record) row() []string {
	return []string{
		r.Filename,
		strconv.Itoa(r.Year),
		strconv.Itoa(r.Month),
		r.SessionID,
		r.TalkIdentifier,
		r.SpeakerName,
		r.TextPreview,
		strconv.Itoa(r.Score),
		r.Explanation,
		keyPhrasesColumn(r.KeyPhrases),
		r.ModelUsed,
	}
}

// keyPhrasesColumn JSON-encodes phrases so a phrase containing a comma
// survives the round-trip.
func keyPhrasesColumn(phrases []string) string {
	if len(phrases) == 0 {
		return ""
	}
	b, err := json.Marshal(phrases)
	if err != nil {
		return ""
	}
	return string(b)
}

// Preview returns the leading portion of text used as the stored preview.
func Preview(text string) string {
	if len(text) <= previewLength {
		return text
	}
	cut := previewLength
	for cut > 0 && text[cut]&0xC0 == 0x80 {
		cut--
	}
	return text[:cut]
}

// Store persists classification records to a CSV file, append-only.
// Persistence failures are fatal to a run: continuing would silently lose
// completed work.
type Store struct {
	Path string
}

// NewStore creates a Store for path. The file is created lazily on the
// first append.
func NewStore(path string) *Store {
	return &Store{Path: path}
}

// LoadProcessedKeys reads the results file and returns the set of filenames
// already classified. A missing file means a fresh run and yields an empty
// set; a present but unreadable or malformed file is an error.
func (s *Store) LoadProcessedKeys() (map[string]bool, error) {
	records, err := s.ReadAll()
	if err != nil {
		return nil, err
	}
	keys := make(map[string]bool, len(records))
	for _, r := range records {
		keys[r.Filename] = true
	}
	return keys, nil
}

// ReadAll parses every record in the results file. A missing file yields an
// empty slice.
func (s *Store) ReadAll() ([]Record, error) {
	f, err := os.Open(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening results file %s: %w", s.Path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing results file %s: %w", s.Path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	records := make([]Record, 0, len(rows)-1)
	for i, row := range rows[1:] { // skip header
		r, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("results file %s row %d: %w", s.Path, i+2, err)
		}
		records = append(records, r)
	}
	return records, nil
}

// AppendBatch writes records to the end of the results file, creating it
// with a header when absent or empty. The file handle is opened, flushed,
// and closed within the call so every flush is durable on return.
func (s *Store) AppendBatch(records []Record) error {
	if len(records) == 0 {
		return nil
	}

	f, err := os.OpenFile(s.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening results file %s: %w", s.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat results file %s: %w", s.Path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			return fmt.Errorf("writing results header: %w", err)
		}
	}
	for _, r := range records {
		if err := w.Write(r.row()); err != nil {
			return fmt.Errorf("writing result for %s: %w", r.Filename, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing results file %s: %w", s.Path, err)
	}
	return f.Close()
}

func parseRow(row []string) (Record, error) {
	if len(row) != len(csvHeader) {
		return Record{}, fmt.Errorf("got %d columns, want %d", len(row), len(csvHeader))
	}
	year, err := strconv.Atoi(row[1])
	if err != nil {
		return Record{}, fmt.Errorf("bad year %q", row[1])
	}
	month, err := strconv.Atoi(row[2])
	if err != nil {
		return Record{}, fmt.Errorf("bad month %q", row[2])
	}
	score, err := strconv.Atoi(row[7])
	if err != nil {
		return Record{}, fmt.Errorf("bad score %q", row[7])
	}

	var phrases []string
	switch {
	case row[9] == "":
	case strings.HasPrefix(row[9], "["):
		if err := json.Unmarshal([]byte(row[9]), &phrases); err != nil {
			return Record{}, fmt.Errorf("bad key_phrases %q", row[9])
		}
	default:
		// Files written before phrases were JSON-encoded.
		phrases = strings.Split(row[9], ", ")
	}

	return Record{
		Filename:       row[0],
		Year:           year,
		Month:          month,
		SessionID:      row[3],
		TalkIdentifier: row[4],
		SpeakerName:    row[5],
		TextPreview:    row[6],
		Score:          score,
		Explanation:    row[8],
		KeyPhrases:     phrases,
		ModelUsed:      row[10],
	}, nil
}
