package oracle

import (
	"fmt"
	"strings"

	"github.com/talmage/graceworks/internal/talks"
)

const systemPrompt = `You are an expert at analyzing religious talks and sermons. You evaluate the theological emphasis of a text on a seven-point scale from salvation by divine grace to salvation by personal works. You always respond with a single JSON object and nothing else.`

const rubric = `Score the talk on this scale:
-3: Salvation entirely through divine grace; human effort plays no role.
-2: Grace is overwhelmingly emphasized; works barely mentioned.
-1: Grace is emphasized more than works.
 0: Grace and works are balanced, or the talk does not address the question.
+1: Works are emphasized more than grace.
+2: Works are overwhelmingly emphasized; grace barely mentioned.
+3: Salvation entirely through personal works, obedience, and effort.

Respond with a JSON object with these fields:
  "score": integer between -3 and 3
  "explanation": one or two sentences justifying the score
  "key_phrases": up to five short quotes from the talk supporting the score`

// BuildPrompt assembles the chat messages for classifying one talk. The
// speaker argument is the resolved name; it may be empty when neither the
// document nor its filename carried one.
func BuildPrompt(md talks.TalkMetadata, speaker, text string) []Message {
	var b strings.Builder
	b.WriteString(rubric)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Conference session: %s\n", md.SessionID)
	fmt.Fprintf(&b, "Talk: %s\n", md.TalkIdentifier)
	if speaker != "" {
		fmt.Fprintf(&b, "Speaker: %s\n", speaker)
	}
	b.WriteString("\nTalk text:\n")
	b.WriteString(text)

	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}
}
