package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sematica-ai/memory-engine/internal/observability"
	"github.com/sematica-ai/memory-engine/internal/storage"
)

const decomposePrompt = `Decompose the following text into insights. Each insight should express a meaningful concept, relationship, or principle that is specific and actionable.

Rules:
- Keep related context together (e.g., "X causes Y in context Z" is ONE insight, not three)
- Skip generic definitions that lack specificity (e.g., "X is a type of Y" where both are obvious)
- Prefer insights that explain WHY or HOW over what things ARE
- Aim for 1-5 insights per input, not exhaustive enumeration

Text: %s

Return a JSON array of strings, each being one insight. If the text contains no meaningful insights, return an empty array [].
Return ONLY valid JSON, no explanation.`

const classifyPrompt = `Classify this insight into exactly one semantic frame and rewrite it in a clear, specific form.

Insight: %s

Frames and templates:
- causal: "{condition} causes {effect}" or "{condition} causes {effect} because {mechanism}"
- constraint: "{action} requires {precondition}"
- pattern: "When {situation}, prefer {approach} over {alternative} because {reason}"
- equivalence: "{A} is equivalent to {B} in context {C}"
- taxonomy: "{specific} is a type of {general} with property {distinguishing_property}"
- procedure: "To achieve {goal}, do: {step1}, then {step2}, ..."

Rewriting rules:
- Preserve technical terms exactly (variable names, library names, error codes)
- Make implicit causality explicit (add "because" if reasoning is implied)
- Include context if mentioned in original (e.g., "in production", "during initialization")
- Keep normalized text under 200 characters by removing filler words

Return JSON: {"frame": "<frame>", "normalized": "<rewritten text>", "entities": ["<entity1>", ...], "problems": ["<problem1>", ...], "resolutions": ["<resolution1>", ...], "contexts": ["<context1>", ...]}

Rules for extraction:
- entities: technical things mentioned (tools, libraries, protocols, concepts, code constructs)
- problems: issues, bugs, failures, or pain points described (empty array if none)
- resolutions: fixes, solutions, or workarounds described (empty array if none)
- contexts: situational qualifiers like "production", "CI pipeline", "React 18+" (empty array if none)

Return ONLY valid JSON, no explanation.`

const (
	decomposeMaxTokens = 1024
	classifyMaxTokens  = 512
)

// Classification is the structured result of classifying one atom.
type Classification struct {
	Frame       string   `json:"frame"`
	Normalized  string   `json:"normalized"`
	Entities    []string `json:"entities"`
	Problems    []string `json:"problems"`
	Resolutions []string `json:"resolutions"`
	Contexts    []string `json:"contexts"`
}

// Normalizer turns free text into scored, frame-classified insights.
type Normalizer struct {
	llm    Client
	logger *observability.Logger
}

// NewNormalizer creates a normalizer over the given LLM client.
func NewNormalizer(llm Client, logger *observability.Logger) *Normalizer {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &Normalizer{llm: llm, logger: logger.WithComponent("normalize")}
}

var (
	fenceOpen  = regexp.MustCompile("^```(?:json)?\\s*\n?")
	fenceClose = regexp.MustCompile("\n?```\\s*$")
)

// stripFences removes a surrounding markdown code fence, which some
// models emit despite the prompt asking for bare JSON.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = fenceOpen.ReplaceAllString(text, "")
		text = fenceClose.ReplaceAllString(text, "")
	}
	return text
}

// Decompose splits text into atomic insight statements. Blank input
// yields nil without an LLM call.
func (n *Normalizer) Decompose(ctx context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	raw, err := n.llm.Complete(ctx, fmt.Sprintf(decomposePrompt, text), decomposeMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("decompose: %w", err)
	}

	var atoms []string
	if err := json.Unmarshal([]byte(stripFences(raw)), &atoms); err != nil {
		return nil, fmt.Errorf("decompose: parse response: %w", err)
	}
	return atoms, nil
}

// Classify assigns one atom its frame, normalized form, and extracted
// subjects.
func (n *Normalizer) Classify(ctx context.Context, text string) (*Classification, error) {
	raw, err := n.llm.Complete(ctx, fmt.Sprintf(classifyPrompt, text), classifyMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	var c Classification
	if err := json.Unmarshal([]byte(stripFences(raw)), &c); err != nil {
		return nil, fmt.Errorf("classify: parse response: %w", err)
	}
	if _, err := storage.ParseFrame(c.Frame); err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	return &c, nil
}

// Normalize decomposes text and classifies every atom concurrently,
// preserving decomposition order in the returned insights. Domains and
// source are caller-supplied provenance; confidence is computed locally.
func (n *Normalizer) Normalize(ctx context.Context, text, source string, domains []string) ([]*storage.Insight, error) {
	atoms, err := n.Decompose(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(atoms) == 0 {
		return nil, nil
	}

	classifications := make([]*Classification, len(atoms))
	g, gctx := errgroup.WithContext(ctx)
	for i, atom := range atoms {
		i, atom := i, atom
		g.Go(func() error {
			c, err := n.Classify(gctx, atom)
			if err != nil {
				return fmt.Errorf("atom %d: %w", i, err)
			}
			classifications[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	insights := make([]*storage.Insight, len(atoms))
	for i, atom := range atoms {
		c := classifications[i]
		insight := &storage.Insight{
			Text:           atom,
			NormalizedText: c.Normalized,
			Frame:          storage.Frame(c.Frame),
			Domains:        domains,
			Entities:       c.Entities,
			Problems:       c.Problems,
			Resolutions:    c.Resolutions,
			Contexts:       c.Contexts,
			Source:         source,
		}
		insight.Confidence = ComputeConfidence(insight)
		insights[i] = insight
	}

	n.logger.Debug().
		Int("atoms", len(atoms)).
		Int("insights", len(insights)).
		Msg("Normalized text")
	return insights, nil
}
