package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// DefaultMatchLimit bounds MatchModels when the caller passes no limit.
const DefaultMatchLimit = 10

//nolint:gochecknoglobals // read-only word list
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true, "with": true,
	"you": true, "can": true, "please": true, "also": true, "from": true, "are": true,
	"was": true, "but": true, "not": true, "have": true, "has": true, "into": true,
	"its": true, "our": true, "about": true, "just": true, "what": true, "when": true,
}

// MatchModels returns the device's mental models relevant to text, best
// first. Confidence is the share of the message's significant terms that
// appear in the model's indexed text.
func (s *Store) MatchModels(ctx context.Context, deviceID, text string, limit int) ([]Match, error) {
	terms := significantTerms(text)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultMatchLimit
	}

	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT slug, body FROM models_fts
		WHERE models_fts MATCH ? AND device_id = ?
		ORDER BY rank LIMIT ?`,
		strings.Join(quoted, " OR "), deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("match models: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []Match
	for rows.Next() {
		var slug, body string
		if err := rows.Scan(&slug, &body); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		present := make(map[string]bool)
		for _, t := range significantTerms(body) {
			present[t] = true
		}
		hits := 0
		for _, t := range terms {
			if present[t] {
				hits++
			}
		}
		matches = append(matches, Match{ModelSlug: slug, Confidence: float64(hits) / float64(len(terms))})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Confidence > matches[j].Confidence })
	return matches, nil
}

// refreshIndex rebuilds the FTS row for slug from the model, its agents'
// prompts, and their relayed requests.
func refreshIndex(ctx context.Context, tx *sql.Tx, slug string) error {
	var deviceID, name, description string
	err := tx.QueryRowContext(ctx, `SELECT device_id, name, description FROM mental_models WHERE slug = ?`, slug).
		Scan(&deviceID, &name, &description)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrModelNotFound, slug)
	}
	if err != nil {
		return fmt.Errorf("index model %s: %w", slug, err)
	}

	parts := []string{name, description}
	texts, err := collectStrings(ctx, tx, `
		SELECT prompt FROM agents WHERE model_slug = ?
		UNION ALL
		SELECT r.request FROM agent_requests r JOIN agents a ON a.agent_id = r.agent_id WHERE a.model_slug = ?`,
		slug, slug)
	if err != nil {
		return fmt.Errorf("index model %s: %w", slug, err)
	}
	parts = append(parts, texts...)

	if _, err := tx.ExecContext(ctx, `DELETE FROM models_fts WHERE slug = ?`, slug); err != nil {
		return fmt.Errorf("index model %s: %w", slug, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO models_fts (slug, device_id, body) VALUES (?, ?, ?)`,
		slug, deviceID, strings.Join(parts, "\n")); err != nil {
		return fmt.Errorf("index model %s: %w", slug, err)
	}
	return nil
}

func collectStrings(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// significantTerms lowercases text and returns its distinct words of three or
// more characters, minus common filler, in first-seen order.
func significantTerms(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(words))
	var out []string
	for _, w := range words {
		if len([]rune(w)) < 3 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
