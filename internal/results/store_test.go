package results

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func sampleRecord(filename string, score int) Record {
	return Record{
		Filename:       filename,
		Year:           2021,
		Month:          4,
		SessionID:      "2021-04",
		TalkIdentifier: strings.TrimSuffix(filename, ".html"),
		SpeakerName:    "John Smith",
		TextPreview:    "We are saved by grace",
		Score:          score,
		Explanation:    "Grace emphasized.",
		KeyPhrases:     []string{"saved by grace", "after all"},
		ModelUsed:      "gpt-4o-mini",
	}
}

func TestStore_AppendAndRead(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "results.csv"))

	if err := store.AppendBatch([]Record{sampleRecord("a.html", -2)}); err != nil {
		t.Fatalf("AppendBatch failed: %v", err)
	}
	if err := store.AppendBatch([]Record{sampleRecord("b.html", 1), sampleRecord("c.html", 0)}); err != nil {
		t.Fatalf("second AppendBatch failed: %v", err)
	}

	records, err := store.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0].Filename != "a.html" || records[0].Score != -2 {
		t.Errorf("first record = %+v", records[0])
	}
	if len(records[0].KeyPhrases) != 2 || records[0].KeyPhrases[1] != "after all" {
		t.Errorf("KeyPhrases = %v", records[0].KeyPhrases)
	}

	// Header must appear exactly once.
	raw, err := os.ReadFile(store.Path)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(raw), "conference_session_id"); n != 1 {
		t.Errorf("header written %d times, want 1", n)
	}
}

func TestStore_LoadProcessedKeys(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "results.csv"))

	keys, err := store.LoadProcessedKeys()
	if err != nil {
		t.Fatalf("LoadProcessedKeys on missing file failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("missing file yielded %d keys", len(keys))
	}

	if err := store.AppendBatch([]Record{sampleRecord("a.html", 1), sampleRecord("b.html", 2)}); err != nil {
		t.Fatal(err)
	}
	keys, err = store.LoadProcessedKeys()
	if err != nil {
		t.Fatalf("LoadProcessedKeys failed: %v", err)
	}
	if !keys["a.html"] || !keys["b.html"] || len(keys) != 2 {
		t.Errorf("keys = %v", keys)
	}
}

func TestStore_FieldsWithCommasAndNewlines(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "results.csv"))
	r := sampleRecord("a.html", 3)
	r.Explanation = "Works, obedience, and effort.\nStrongly stated."
	r.TextPreview = `He said "come, follow me"`

	if err := store.AppendBatch([]Record{r}); err != nil {
		t.Fatal(err)
	}
	records, err := store.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if records[0].Explanation != r.Explanation {
		t.Errorf("Explanation = %q, want %q", records[0].Explanation, r.Explanation)
	}
	if records[0].TextPreview != r.TextPreview {
		t.Errorf("TextPreview = %q, want %q", records[0].TextPreview, r.TextPreview)
	}
}

func TestStore_KeyPhraseWithCommaRoundTrips(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "results.csv"))
	r := sampleRecord("a.html", -1)
	r.KeyPhrases = []string{"grace, not works", "come unto Him"}

	if err := store.AppendBatch([]Record{r}); err != nil {
		t.Fatal(err)
	}
	records, err := store.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(records[0].KeyPhrases) != 2 {
		t.Fatalf("KeyPhrases = %v, want 2 phrases", records[0].KeyPhrases)
	}
	if records[0].KeyPhrases[0] != "grace, not works" {
		t.Errorf("first phrase = %q", records[0].KeyPhrases[0])
	}
}

func TestStore_ReadsCommaJoinedPhrases(t *testing.T) {
	// Files written before phrases were JSON-encoded use a ", " join.
	path := filepath.Join(t.TempDir(), "results.csv")
	rows := "filename,year,month,conference_session_id,talk_identifier,speaker_name," +
		"text_preview,score,explanation,key_phrases,model_used\n" +
		"a.html,2021,4,2021-04,a,John Smith,preview,1,ok,\"saved by grace, after all\",m\n"
	if err := os.WriteFile(path, []byte(rows), 0o644); err != nil {
		t.Fatal(err)
	}

	records, err := NewStore(path).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	want := []string{"saved by grace", "after all"}
	if len(records[0].KeyPhrases) != 2 || records[0].KeyPhrases[0] != want[0] || records[0].KeyPhrases[1] != want[1] {
		t.Errorf("KeyPhrases = %v, want %v", records[0].KeyPhrases, want)
	}
}

func TestStore_MalformedFileIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	if err := os.WriteFile(path, []byte("filename,year\nonly-two,cols\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(path).ReadAll(); err == nil {
		t.Fatal("ReadAll on malformed file succeeded, want error")
	}
}

func TestPreview(t *testing.T) {
	short := "brief"
	if got := Preview(short); got != short {
		t.Errorf("Preview(%q) = %q", short, got)
	}

	long := strings.Repeat("é", 150) // 300 bytes
	got := Preview(long)
	if len(got) > 200 {
		t.Errorf("preview length = %d", len(got))
	}
	if !strings.HasSuffix(got, "é") {
		t.Error("preview split a rune")
	}
}

func TestStore_AppendEmptyBatch(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "results.csv"))
	if err := store.AppendBatch(nil); err != nil {
		t.Fatalf("AppendBatch(nil) failed: %v", err)
	}
	if _, err := os.Stat(store.Path); !os.IsNotExist(err) {
		t.Error("empty batch created the file")
	}
}
