package batch

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/talmage/graceworks/internal/results"
)

func resultJSON(customID, content string) string {
	return fmt.Sprintf(`{"custom_id":%q,"response":{"status_code":200,"body":{"choices":[{"message":{"content":%q}}]}}}`, customID, content)
}

func TestMerge(t *testing.T) {
	talksDir := t.TempDir()
	writeTalk(t, talksDir, "2021-04-grace.html", "Saved by grace.")
	writeTalk(t, talksDir, "2021-04-works.html", "Keep the commandments.")
	writeTalk(t, talksDir, "2021-04-done.html", "Already recorded.")

	store := results.NewStore(filepath.Join(t.TempDir(), "results.csv"))
	if err := store.AppendBatch([]results.Record{{
		Filename: "2021-04-done.html", Year: 2021, Month: 4,
		SessionID: "2021-04", TalkIdentifier: "done", Score: 1, ModelUsed: "m",
	}}); err != nil {
		t.Fatal(err)
	}

	output := resultJSON("2021-04-grace.html", `{"score": -2, "explanation": "Grace.", "key_phrases": ["grace"]}`) + "\n" +
		resultJSON("2021-04-works.html", `{"score": 2}`) + "\n" +
		resultJSON("2021-04-done.html", `{"score": 0}`) + "\n" + // already recorded
		resultJSON("2021-04-grace.html", `{"score": -2}`) + "\n" + // duplicate line
		`{"custom_id":"2021-04-err.html","error":{"message":"rate limited"}}` + "\n" + // provider error
		resultJSON("2021-04-missing.html", `{"score": 1}`) + "\n" + // talk file gone
		resultJSON("2021-04-bad.html", "") + "\n"

	merger := &Merger{TalksDir: talksDir, Store: store, Model: "gpt-4o-mini"}
	summary, err := merger.Merge([]byte(output))
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if summary.Merged != 2 {
		t.Errorf("Merged = %d, want 2", summary.Merged)
	}
	if summary.Duplicates != 2 {
		t.Errorf("Duplicates = %d, want 2 (recorded + repeated line)", summary.Duplicates)
	}
	if summary.Failed != 1 {
		t.Errorf("Failed = %d, want 1", summary.Failed)
	}
	if summary.Invalid != 2 {
		t.Errorf("Invalid = %d, want 2 (missing talk + empty content)", summary.Invalid)
	}

	records, err := store.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}

	byName := map[string]results.Record{}
	for _, r := range records {
		byName[r.Filename] = r
	}
	if got := byName["2021-04-done.html"].Score; got != 1 {
		t.Errorf("merge overwrote existing record: score = %d", got)
	}
	if got := byName["2021-04-grace.html"]; got.Score != -2 || got.SpeakerName != "John Smith" {
		t.Errorf("merged record = %+v", got)
	}
	if byName["2021-04-grace.html"].TextPreview == "" {
		t.Error("merged record missing text preview")
	}
}

func TestMerge_InvalidScoreRejected(t *testing.T) {
	talksDir := t.TempDir()
	writeTalk(t, talksDir, "2021-04-a.html", "Text.")

	store := results.NewStore(filepath.Join(t.TempDir(), "results.csv"))
	merger := &Merger{TalksDir: talksDir, Store: store, Model: "m"}

	output := resultJSON("2021-04-a.html", `{"score": 7}`) + "\n"
	summary, err := merger.Merge([]byte(output))
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if summary.Invalid != 1 || summary.Merged != 0 {
		t.Errorf("summary = %+v", summary)
	}

	keys, err := store.LoadProcessedKeys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Error("out-of-range score was persisted")
	}
}
