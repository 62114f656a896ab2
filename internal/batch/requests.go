package batch

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/talmage/graceworks/internal/oracle"
	"github.com/talmage/graceworks/internal/talks"
)

// Request is one line of a batch input file in the provider's JSONL format.
// The custom ID is the talk's filename so results merge back by natural key.
type Request struct {
	CustomID string      `json:"custom_id"`
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Body     requestBody `json:"body"`
}

type requestBody struct {
	Model          string           `json:"model"`
	Messages       []oracle.Message `json:"messages"`
	Temperature    float64          `json:"temperature"`
	ResponseFormat responseFormat   `json:"response_format"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// Generator builds batch requests from unprocessed talks.
type Generator struct {
	Model            string
	MaxContentTokens int
	Logger           *slog.Logger
}

// BuildRequests walks dir and produces one request per unprocessed,
// extractable talk. Unusable documents are logged and skipped, matching the
// live pipeline's per-document isolation.
func (g *Generator) BuildRequests(dir string, processed map[string]bool) ([]Request, error) {
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}

	files, err := talks.Discover(dir)
	if err != nil {
		return nil, err
	}

	var requests []Request
	for _, path := range files {
		name := filepath.Base(path)
		if processed[name] {
			continue
		}

		md, err := talks.ParseFilename(path)
		if err != nil {
			logger.Warn("skipping talk", "file", name, "error", err)
			continue
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping talk", "file", name, "error", err)
			continue
		}
		content, err := talks.ExtractContent(raw)
		if err != nil {
			logger.Warn("skipping talk", "file", name, "error", err)
			continue
		}

		speaker := content.SpeakerName
		if speaker == "" {
			speaker = md.SpeakerName
		}

		text := oracle.Truncate(content.Text, g.MaxContentTokens)
		requests = append(requests, Request{
			CustomID: name,
			Method:   "POST",
			URL:      "/v1/chat/completions",
			Body: requestBody{
				Model:          g.Model,
				Messages:       oracle.BuildPrompt(md, speaker, text),
				Temperature:    0.3,
				ResponseFormat: responseFormat{Type: "json_object"},
			},
		})
	}
	return requests, nil
}

// WriteJSONL serializes requests one JSON object per line.
func WriteJSONL(w io.Writer, requests []Request) error {
	enc := json.NewEncoder(w)
	for _, req := range requests {
		if err := enc.Encode(req); err != nil {
			return fmt.Errorf("encoding request %s: %w", req.CustomID, err)
		}
	}
	return nil
}
