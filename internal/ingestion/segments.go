package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/noemagraph/retrieval-core/internal/apperr"
	"github.com/noemagraph/retrieval-core/internal/llm"
)

// Segment is one ordered unit of a lecture/video transcript (§4.11 step 4):
// links to the concepts it covers and any analogies the source draws.
type Segment struct {
	Index           int      `json:"index"`
	Title           string   `json:"title"`
	Text            string   `json:"text"`
	CoveredConcepts []string `json:"covered_concepts"`
	Analogies       []string `json:"analogies"`
}

type segmentationResponse struct {
	Segments []Segment `json:"segments"`
}

var segmentObjectRE = regexp.MustCompile(`\{[^{}]*"index"[^{}]*\}`)

// Segmentation implements the optional second LLM pass from §4.11 step 4:
// orders the source into segments, each with covered_concepts and
// analogies. It is tolerant to truncated JSON: it salvages a balanced
// object first, then regex-recovers individual well-formed segment
// objects before giving up on the pass entirely. Callers should treat a
// failed segmentation pass as "skip segments for this run", never as a
// reason to fail the whole ingestion (segmentation is optional).
func Segmentation(ctx context.Context, router *llm.Router, lectureTitle, domain, text string, knownConcepts []string) ([]Segment, error) {
	prompt := fmt.Sprintf(
		"Lecture: %q\nDomain: %s\nKnown concepts: %v\n\nSegment this transcript into ordered sections. Respond with JSON: {\"segments\":[{\"index\",\"title\",\"text\",\"covered_concepts\",\"analogies\"}]}.\n\nTranscript:\n%s",
		lectureTitle, domain, knownConcepts, text,
	)
	msg, err := router.Completion(ctx, llm.TaskExtract, []llm.Message{
		{Role: "system", Content: "You segment lecture transcripts into ordered sections for a knowledge graph. Output only the requested JSON object."},
		{Role: "user", Content: prompt},
	}, llm.CompletionOptions{})
	if err != nil {
		return nil, err
	}

	var parsed segmentationResponse
	if err := json.Unmarshal([]byte(msg.Content), &parsed); err == nil {
		return parsed.Segments, nil
	}

	if salvaged := SalvageJSONObject(msg.Content); salvaged != "" {
		if err := json.Unmarshal([]byte(salvaged), &parsed); err == nil {
			return parsed.Segments, nil
		}
	}

	matches := segmentObjectRE.FindAllString(msg.Content, -1)
	var recovered []Segment
	for _, m := range matches {
		var seg Segment
		if json.Unmarshal([]byte(m), &seg) == nil {
			recovered = append(recovered, seg)
		}
	}
	if len(recovered) > 0 {
		return recovered, nil
	}
	return nil, apperr.NewInvalidInput("segmentation: unparseable LLM response", nil)
}
