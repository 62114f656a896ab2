package talks

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleTalk = `<html>
<head><title>Divine Grace</title><style>p { color: red; }</style></head>
<body>
  <script>console.log("tracking");</script>
  <p class="author-name">By Elder John Smith</p>
  <p>We   are saved by grace,
  after all we can do.</p>
  <div>Works follow faith.</div>
</body>
</html>`

func TestExtractContent_TextAndSpeaker(t *testing.T) {
	content, err := ExtractContent([]byte(sampleTalk))
	if err != nil {
		t.Fatalf("ExtractContent failed: %v", err)
	}
	if content.SpeakerName != "John Smith" {
		t.Errorf("SpeakerName = %q, want John Smith", content.SpeakerName)
	}
	if strings.Contains(content.Text, "console.log") {
		t.Error("script content leaked into text")
	}
	if strings.Contains(content.Text, "color: red") {
		t.Error("style content leaked into text")
	}
	if strings.Contains(content.Text, "  ") {
		t.Error("whitespace not collapsed")
	}
	if !strings.Contains(content.Text, "We are saved by grace, after all we can do.") {
		t.Errorf("body text missing or mangled: %q", content.Text)
	}
	if !strings.Contains(content.Text, "Works follow faith.") {
		t.Errorf("div text missing: %q", content.Text)
	}
}

func TestExtractContent_NoSpeakerMarker(t *testing.T) {
	content, err := ExtractContent([]byte(`<html><body><p>Just text.</p></body></html>`))
	if err != nil {
		t.Fatalf("ExtractContent failed: %v", err)
	}
	if content.SpeakerName != "" {
		t.Errorf("SpeakerName = %q, want empty", content.SpeakerName)
	}
}

func TestExtractContent_EmptyBody(t *testing.T) {
	cases := []string{
		``,
		`<html><body></body></html>`,
		`<html><body><script>var x = 1;</script></body></html>`,
	}
	for _, doc := range cases {
		_, err := ExtractContent([]byte(doc))
		if err == nil {
			t.Errorf("ExtractContent(%q) succeeded, want empty_body", doc)
			continue
		}
		var cerr *ContentError
		if !errors.As(err, &cerr) || cerr.Reason != ReasonEmptyBody {
			t.Errorf("ExtractContent(%q) error = %v, want empty_body", doc, err)
		}
	}
}

func TestCleanSpeakerName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"By Elder John Smith", "John Smith"},
		{"By Sister Mary Jones", "Mary Jones"},
		{"By President Henry Lee", "Henry Lee"},
		{"By Anonymous", "Anonymous"},
		{"Jane Doe", "Jane Doe"},
		{"  Spread   Out  ", "Spread Out"},
		{"Plain Name", "Plain Name"},
	}
	for _, tc := range cases {
		if got := CleanSpeakerName(tc.in); got != tc.want {
			t.Errorf("CleanSpeakerName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"2021-04-a.html", "2021-04-b.html", ".hidden.html", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("Discover returned %d files, want 2: %v", len(files), files)
	}
	if filepath.Base(files[0]) != "2021-04-a.html" || filepath.Base(files[1]) != "2021-04-b.html" {
		t.Errorf("unexpected files: %v", files)
	}
}

func TestDiscover_MissingDir(t *testing.T) {
	if _, err := Discover(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("Discover on missing directory succeeded, want error")
	}
}
