// Package ai holds the Gemini collaborators: the column-mapping suggester
// used during import setup and the category classifier used as the last
// categorization pass. Both are best-effort; callers degrade when they fail.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/mapping"
)

const DefaultModel = "gemini-2.0-flash"

// Gemini talks to the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

func NewGemini(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("missing Gemini API key")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Gemini{client: client, model: model, logger: logger}, nil
}

// Suggest asks the model to map statement headers onto the import fields.
// The caller re-validates the result against the actual headers.
func (g *Gemini) Suggest(ctx context.Context, headers []string, sampleRows [][]string) (*mapping.ColumnMapping, error) {
	var sample strings.Builder
	for _, row := range sampleRows {
		sample.WriteString(strings.Join(row, " | "))
		sample.WriteString("\n")
	}

	prompt := "You map bank statement columns for a transaction importer.\n\n" +
		"Columns of the statement:\n" + strings.Join(headers, " | ") + "\n\n" +
		"Sample rows:\n" + sample.String() + "\n" +
		"Output STRICT JSON only (no comments, no extra text) with these fields,\n" +
		"each holding an exact column name from the list above or omitted when absent:\n" +
		"- \"date\": the transaction date column (required)\n" +
		"- \"amount\": the amount column (required)\n" +
		"- \"description\": the description/memo column (required)\n" +
		"- \"merchant\": merchant/payee column\n" +
		"- \"transaction_type\": debit/credit indicator column\n" +
		"- \"starting_balance\": opening balance column\n" +
		"- \"ending_balance\": closing/running balance column\n" +
		"- \"is_amount_signed\": boolean, true when the amount column carries its own sign\n\n" +
		"Return ONLY valid raw JSON. Do NOT wrap the response in code fences.\n" +
		"Output must begin with \"{\" and end with \"}\".\n"

	raw, _, err := g.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var m mapping.ColumnMapping
	if err := json.Unmarshal([]byte(extractJSON(raw, "{", "}")), &m); err != nil {
		return nil, fmt.Errorf("failed to decode mapping suggestion: %w", err)
	}
	return &m, nil
}

// Classify assigns each description one of the given category names. The
// returned map is keyed by input index; descriptions the model could not
// place are absent. Also returns the tokens spent.
func (g *Gemini) Classify(ctx context.Context, descriptions []string, categories []string) (map[int]string, int, error) {
	if len(descriptions) == 0 || len(categories) == 0 {
		return nil, 0, nil
	}

	var list strings.Builder
	for i, d := range descriptions {
		fmt.Fprintf(&list, "%d: %s\n", i, d)
	}

	prompt := "You categorize bank transaction descriptions.\n\n" +
		"Allowed categories:\n" + strings.Join(categories, ", ") + "\n\n" +
		"Transactions (index: description):\n" + list.String() + "\n" +
		"Output STRICT JSON only: an object mapping each index (as a string) to\n" +
		"one allowed category name. Omit indexes you cannot categorize.\n" +
		"Return ONLY valid raw JSON. Do NOT wrap the response in code fences.\n" +
		"Output must begin with \"{\" and end with \"}\".\n"

	raw, tokens, err := g.generate(ctx, prompt)
	if err != nil {
		return nil, tokens, err
	}

	var byIndex map[string]string
	if err := json.Unmarshal([]byte(extractJSON(raw, "{", "}")), &byIndex); err != nil {
		return nil, tokens, fmt.Errorf("failed to decode classification: %w", err)
	}

	out := make(map[int]string, len(byIndex))
	for key, name := range byIndex {
		var idx int
		if _, err := fmt.Sscanf(key, "%d", &idx); err != nil {
			continue
		}
		if idx < 0 || idx >= len(descriptions) {
			continue
		}
		out[idx] = name
	}
	return out, tokens, nil
}

func (g *Gemini) generate(ctx context.Context, prompt string) (string, int, error) {
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt}},
	}}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", 0, fmt.Errorf("generate content: %w", err)
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	text := resp.Text()
	if text == "" {
		return "", tokens, errors.New("empty response from model")
	}
	return text, tokens, nil
}

// extractJSON strips Markdown fences and surrounding prose the model may
// emit despite instructions, keeping the outermost open..close span.
func extractJSON(raw, open, closing string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, open); start != -1 {
		if end := strings.LastIndex(s, closing); end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
