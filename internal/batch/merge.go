package batch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/talmage/graceworks/internal/oracle"
	"github.com/talmage/graceworks/internal/results"
	"github.com/talmage/graceworks/internal/talks"
)

// ResultStore is the slice of the results layer that merging needs.
type ResultStore interface {
	LoadProcessedKeys() (map[string]bool, error)
	AppendBatch(records []results.Record) error
}

// MergeSummary reports what a merge did with each result line.
type MergeSummary struct {
	Merged     int
	Duplicates int
	Failed     int // provider-side errors
	Invalid    int // responses rejected by schema validation
}

// resultLine is one line of a batch output file.
type resultLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int `json:"status_code"`
		Body       struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		} `json:"body"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Merger folds batch output files into the results store. Talks already
// recorded keep their existing row; batch results never overwrite.
type Merger struct {
	TalksDir string
	Store    ResultStore
	Model    string
	Logger   *slog.Logger
}

// Merge parses a batch output file and appends a record per valid,
// previously unrecorded result. Bad lines are counted and skipped, never
// fatal; the talks they belong to stay pending.
func (m *Merger) Merge(data []byte) (MergeSummary, error) {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}

	processed, err := m.Store.LoadProcessedKeys()
	if err != nil {
		return MergeSummary{}, err
	}

	var summary MergeSummary
	var records []results.Record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var result resultLine
		if err := json.Unmarshal(line, &result); err != nil {
			summary.Invalid++
			logger.Warn("unparseable result line", "error", err)
			continue
		}
		if result.CustomID == "" {
			summary.Invalid++
			logger.Warn("result line missing custom_id")
			continue
		}
		if processed[result.CustomID] {
			summary.Duplicates++
			continue
		}
		if result.Error != nil || result.Response == nil || result.Response.StatusCode != 200 {
			summary.Failed++
			msg := ""
			if result.Error != nil {
				msg = result.Error.Message
			}
			logger.Warn("batch request failed", "file", result.CustomID, "error", msg)
			continue
		}
		if len(result.Response.Body.Choices) == 0 {
			summary.Invalid++
			logger.Warn("batch response has no choices", "file", result.CustomID)
			continue
		}

		record, ok := m.buildRecord(result.CustomID, result.Response.Body.Choices[0].Message.Content, logger)
		if !ok {
			summary.Invalid++
			continue
		}
		records = append(records, record)
		processed[result.CustomID] = true
		summary.Merged++
	}
	if err := scanner.Err(); err != nil {
		return summary, err
	}

	if err := m.Store.AppendBatch(records); err != nil {
		return summary, err
	}
	return summary, nil
}

func (m *Merger) buildRecord(name, content string, logger *slog.Logger) (results.Record, bool) {
	path := filepath.Join(m.TalksDir, name)
	md, err := talks.ParseFilename(path)
	if err != nil {
		logger.Warn("result for unparseable filename", "file", name, "error", err)
		return results.Record{}, false
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("result for unreadable talk", "file", name, "error", err)
		return results.Record{}, false
	}
	extracted, err := talks.ExtractContent(raw)
	if err != nil {
		logger.Warn("result for unextractable talk", "file", name, "error", err)
		return results.Record{}, false
	}

	classification, err := oracle.ParseClassification(content, m.Model)
	if err != nil {
		logger.Warn("invalid batch response", "file", name, "error", err)
		return results.Record{}, false
	}

	speaker := extracted.SpeakerName
	if speaker == "" {
		speaker = md.SpeakerName
	}
	return results.Record{
		Filename:       md.Filename,
		Year:           md.Year,
		Month:          md.Month,
		SessionID:      md.SessionID,
		TalkIdentifier: md.TalkIdentifier,
		SpeakerName:    speaker,
		TextPreview:    results.Preview(extracted.Text),
		Score:          classification.Score,
		Explanation:    classification.Explanation,
		KeyPhrases:     classification.KeyPhrases,
		ModelUsed:      classification.ModelUsed,
	}, true
}
