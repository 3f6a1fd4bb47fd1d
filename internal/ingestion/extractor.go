package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/noemagraph/retrieval-core/internal/apperr"
	"github.com/noemagraph/retrieval-core/internal/llm"
)

// ExtractedNode is one concept surfaced by LLM concept extraction (§4.11
// step 2).
type ExtractedNode struct {
	Name        string   `json:"name"`
	Domain      string   `json:"domain"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Aliases     []string `json:"aliases"`
}

// ExtractedLink is one proposed relationship surfaced by LLM concept
// extraction.
type ExtractedLink struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Predicate  string  `json:"predicate"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// ConceptExtractionResult is the `{nodes[], links[], structure?}` shape
// from §4.11 step 2.
type ConceptExtractionResult struct {
	Nodes     []ExtractedNode `json:"nodes"`
	Links     []ExtractedLink `json:"links"`
	Structure json.RawMessage `json:"structure,omitempty"`
}

// minLinkConfidence is the drop threshold from §4.11 step 2: "LLM-proposed
// links with confidence < 0.5 are dropped."
const minLinkConfidence = 0.5

// ExtractConcepts implements §4.11 step 2's single LLM call plus JSON
// salvage. On invalid JSON it attempts to recover balanced {...}
// substrings before giving up; on irrecoverable failure it returns
// InvalidInput so the caller can fail just this pass, not the whole run.
func ExtractConcepts(ctx context.Context, router *llm.Router, domain, text string) (ConceptExtractionResult, error) {
	prompt := buildConceptExtractionPrompt(domain, text)
	msg, err := router.Completion(ctx, llm.TaskExtract, []llm.Message{
		{Role: "system", Content: conceptExtractionSystemPrompt},
		{Role: "user", Content: prompt},
	}, llm.CompletionOptions{})
	if err != nil {
		return ConceptExtractionResult{}, err // already apperr-wrapped ExternalProviderFailure
	}

	result, err := parseConceptExtraction(msg.Content)
	if err != nil {
		return ConceptExtractionResult{}, apperr.NewInvalidInput("concept extraction: unparseable LLM response", err)
	}

	filtered := result.Links[:0]
	for _, l := range result.Links {
		if l.Confidence >= minLinkConfidence {
			filtered = append(filtered, l)
		}
	}
	result.Links = filtered
	return result, nil
}

const conceptExtractionSystemPrompt = `You extract concepts and relationships from source text for a knowledge graph. Respond with a single JSON object: {"nodes":[{"name","domain","type","description","tags","aliases"}],"links":[{"source","target","predicate","confidence","rationale"}]}. Use concept names as source/target. No prose outside the JSON object.`

func buildConceptExtractionPrompt(domain, text string) string {
	return fmt.Sprintf("Domain: %s\n\nText:\n%s", domain, text)
}

func parseConceptExtraction(raw string) (ConceptExtractionResult, error) {
	var result ConceptExtractionResult
	if err := json.Unmarshal([]byte(raw), &result); err == nil {
		return result, nil
	}
	salvaged := SalvageJSONObject(raw)
	if salvaged == "" {
		return ConceptExtractionResult{}, fmt.Errorf("no salvageable JSON object in response")
	}
	if err := json.Unmarshal([]byte(salvaged), &result); err != nil {
		return ConceptExtractionResult{}, fmt.Errorf("salvaged JSON still invalid: %w", err)
	}
	return result, nil
}

// SalvageJSONObject scans s for the first balanced {...} substring,
// tolerating quoted braces, and returns it (or "" if none is found). This
// is the salvage strategy named in §4.11 step 2 and reused by the
// segmentation pass (§4.11 step 4) for truncated JSON recovery.
func SalvageJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// ClaimExtraction is the parsed per-chunk claim extraction result, keyed
// to the chunk it came from so the worker pool's results can be sorted by
// chunk index before write (§4.11 step 3).
type ClaimExtraction struct {
	ChunkIndex int
	Claims     []ExtractedClaim
}

// ExtractedClaim is one claim surfaced from a chunk, before embedding.
type ExtractedClaim struct {
	Text             string   `json:"text"`
	Confidence       float64  `json:"confidence"`
	SourceSpan       string   `json:"source_span"`
	MentionedConcepts []string `json:"mentioned_concepts"`
}

type claimExtractionResponse struct {
	Claims []ExtractedClaim `json:"claims"`
}

var claimsArrayRE = regexp.MustCompile(`\{[^{}]*"text"[^{}]*\}`)

// ExtractClaims implements the per-chunk half of §4.11 step 3: calls the
// LLM to extract claims from chunkText mentioning any of knownConcepts.
// Embedding is not computed here: RunIngestion embeds each claim later, one
// at a time, in its serial write-back after the worker pool has finished.
func ExtractClaims(ctx context.Context, router *llm.Router, chunkText string, knownConcepts []string) ([]ExtractedClaim, error) {
	prompt := fmt.Sprintf(
		"Known concepts: %s\n\nExtract atomic, source-cited claims from this text that mention one or more known concepts. Respond with JSON: {\"claims\":[{\"text\",\"confidence\",\"source_span\",\"mentioned_concepts\"}]}.\n\nText:\n%s",
		strings.Join(knownConcepts, ", "), chunkText,
	)
	msg, err := router.Completion(ctx, llm.TaskExtract, []llm.Message{
		{Role: "system", Content: "You extract verifiable claims from text for a knowledge graph. Output only the requested JSON object."},
		{Role: "user", Content: prompt},
	}, llm.CompletionOptions{})
	if err != nil {
		return nil, err
	}

	var parsed claimExtractionResponse
	if err := json.Unmarshal([]byte(msg.Content), &parsed); err == nil {
		return parsed.Claims, nil
	}

	salvaged := SalvageJSONObject(msg.Content)
	if salvaged != "" {
		if err := json.Unmarshal([]byte(salvaged), &parsed); err == nil {
			return parsed.Claims, nil
		}
	}

	// Last resort: regex-recover individual claim objects so a malformed
	// trailing claim doesn't sink the whole chunk's extraction.
	matches := claimsArrayRE.FindAllString(msg.Content, -1)
	var recovered []ExtractedClaim
	for _, m := range matches {
		var c ExtractedClaim
		if json.Unmarshal([]byte(m), &c) == nil {
			recovered = append(recovered, c)
		}
	}
	if len(recovered) > 0 {
		return recovered, nil
	}
	return nil, apperr.NewInvalidInput("claim extraction: unparseable LLM response", nil)
}
