package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/talmage/graceworks/internal/talks"
)

// Classification bounds.
const (
	MinScore = -3
	MaxScore = 3
)

const truncationMarker = "\n[content truncated]"

// Classification is a validated model verdict for one talk.
type Classification struct {
	Score       int
	Explanation string
	KeyPhrases  []string
	ModelUsed   string
}

// ChatCompleter abstracts the completions client so tests can substitute a
// mock.
type ChatCompleter interface {
	Chat(ctx context.Context, model string, messages []Message) (string, error)
}

// Classifier turns talk text into a validated Classification via a chat
// model.
type Classifier struct {
	client           ChatCompleter
	model            string
	maxContentTokens int
}

// NewClassifier creates a Classifier. maxContentTokens <= 0 disables
// truncation.
func NewClassifier(client ChatCompleter, model string, maxContentTokens int) *Classifier {
	return &Classifier{
		client:           client,
		model:            model,
		maxContentTokens: maxContentTokens,
	}
}

// Model returns the configured model identifier.
func (c *Classifier) Model() string { return c.model }

// Classify scores one talk. The text is deterministically truncated to the
// token budget before prompting so repeated runs produce identical requests.
func (c *Classifier) Classify(ctx context.Context, md talks.TalkMetadata, speaker, text string) (Classification, error) {
	truncated := Truncate(text, c.maxContentTokens)
	raw, err := c.client.Chat(ctx, c.model, BuildPrompt(md, speaker, truncated))
	if err != nil {
		return Classification{}, err
	}
	return ParseClassification(raw, c.model)
}

// ParseClassification validates a raw model response against the
// classification schema. The score must be a JSON integer within bounds;
// anything else is an invalid_response error carrying the offending payload.
func ParseClassification(raw, model string) (Classification, error) {
	var payload struct {
		Score       json.Number     `json:"score"`
		Explanation string          `json:"explanation"`
		KeyPhrases  json.RawMessage `json:"key_phrases"`
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return Classification{}, &Error{Reason: ReasonInvalidResponse, Raw: raw, Err: fmt.Errorf("decoding classification: %w", err)}
	}

	if payload.Score == "" {
		return Classification{}, &Error{Reason: ReasonInvalidResponse, Raw: raw, Err: fmt.Errorf("missing score")}
	}
	score, err := strconv.ParseInt(payload.Score.String(), 10, 64)
	if err != nil {
		return Classification{}, &Error{Reason: ReasonInvalidResponse, Raw: raw, Err: fmt.Errorf("score %q is not an integer", payload.Score)}
	}
	if score < MinScore || score > MaxScore {
		return Classification{}, &Error{Reason: ReasonInvalidResponse, Raw: raw, Err: fmt.Errorf("score %d out of range [%d, %d]", score, MinScore, MaxScore)}
	}

	phrases, err := parseKeyPhrases(payload.KeyPhrases)
	if err != nil {
		return Classification{}, &Error{Reason: ReasonInvalidResponse, Raw: raw, Err: err}
	}

	return Classification{
		Score:       int(score),
		Explanation: payload.Explanation,
		KeyPhrases:  phrases,
		ModelUsed:   model,
	}, nil
}

// parseKeyPhrases accepts either a string array or, as models sometimes
// produce, a single string.
func parseKeyPhrases(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil, nil
		}
		return []string{single}, nil
	}
	return nil, fmt.Errorf("key_phrases is neither array nor string")
}

// EstimateTokens approximates the token count of text. Roughly four
// characters per token for English prose.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// Truncate cuts text to roughly maxTokens, preferring a word boundary near
// the limit and appending a marker. maxTokens <= 0 means no limit. The cut
// is a pure function of its inputs.
func Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	budget := maxTokens * 4
	if len(text) <= budget {
		return text
	}

	cut := budget
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if idx := strings.LastIndexAny(text[:cut], " \n"); idx > budget/2 {
		cut = idx
	}
	return strings.TrimRight(text[:cut], " \n") + truncationMarker
}
