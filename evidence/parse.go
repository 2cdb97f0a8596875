package evidence

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	pqerrors "github.com/sweetpotato0/policyqa/errors"
)

var (
	scoreLabelRe  = regexp.MustCompile(`[sS]core[:is\s]+([0-9]+)`)
	scoreParenRe  = regexp.MustCompile(`\(([0-9])\w*/`)
	scoreSlashRe  = regexp.MustCompile(`([0-9]+)\w*/`)
	trailingNumRe = regexp.MustCompile(`([0-9]+)`)

	// Matches "Wiggins et al. (2022)" style citations and any
	// parenthetical containing both a letter and a four-digit year.
	citationRe = regexp.MustCompile(`\b[\w\-]+\set\sal\.\s\([0-9]{4}\)|\((?:[^\)]*?[a-zA-Z][^\)]*?[0-9]{4}[^\)]*?)\)`)

	quotedStringRe = regexp.MustCompile(`"(?:[^"\\]|\\.)*"`)
)

// ExtractScore recovers a relevance score from free text when the model
// did not return one as structured output. "N/A" markers score 0,
// "7/10" patterns are read directly, and values over 10 are assumed to
// be out of 100 and divided down.
func ExtractScore(text string) int {
	lines := strings.Split(text, "\n")
	lastLine := lines[len(lines)-1]
	if strings.Contains(lastLine, "N/A") || strings.Contains(lastLine, "n/a") || strings.Contains(lastLine, "NA") {
		return 0
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "not applicable") || strings.Contains(lower, "not relevant") {
		return 0
	}

	m := scoreLabelRe.FindStringSubmatch(text)
	if m == nil {
		m = scoreParenRe.FindStringSubmatch(text)
	}
	if m == nil {
		m = scoreSlashRe.FindStringSubmatch(text)
	}
	if m != nil {
		return normalizeScore(m[1])
	}

	lastFew := text
	if len(lastFew) > 15 {
		lastFew = lastFew[len(lastFew)-15:]
	}
	if nums := trailingNumRe.FindAllString(lastFew, -1); len(nums) > 0 {
		return normalizeScore(nums[len(nums)-1])
	}
	if len(text) < 100 {
		return 1
	}
	return 5
}

func normalizeScore(raw string) int {
	s, err := strconv.Atoi(raw)
	if err != nil {
		return 5
	}
	if s > 10 {
		s /= 10
	}
	return s
}

// StripCitations removes inline citation-like substrings so the
// answering model does not end up citing a citation.
func StripCitations(text string) string {
	return citationRe.ReplaceAllString(text, "")
}

// ParseLooseObject reads a JSON object out of model output, tolerating
// surrounding prose and markdown fences.
func ParseLooseObject(text string) (map[string]any, error) {
	raw, err := parseLoose(text, "{", "}")
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: decode JSON object from %q: %v", pqerrors.ErrParse, text, err)
	}
	return out, nil
}

// ParseLooseList reads a JSON array out of model output, with the same
// tolerance as ParseLooseObject.
func ParseLooseList(text string) ([]any, error) {
	raw, err := parseLoose(text, "[", "]")
	if err != nil {
		return nil, err
	}
	var out []any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: decode JSON list from %q: %v", pqerrors.ErrParse, text, err)
	}
	return out, nil
}

func parseLoose(text, lbrace, rbrace string) (string, error) {
	ptext := strings.TrimSpace(text)
	if i := strings.LastIndex(ptext, "```json"); i >= 0 {
		ptext = ptext[i+len("```json"):]
	}
	if i := strings.Index(ptext, "```"); i >= 0 {
		ptext = ptext[:i]
	}
	start := strings.Index(ptext, lbrace)
	end := strings.LastIndex(ptext, rbrace)
	if start < 0 || end < start {
		return "", fmt.Errorf("%w: no %s...%s found in %q", pqerrors.ErrParse, lbrace, rbrace, text)
	}
	ptext = ptext[start : end+1]

	// Escape literal newlines inside string values; models emit them
	// freely and encoding/json rejects them.
	ptext = quotedStringRe.ReplaceAllStringFunc(ptext, func(s string) string {
		return strings.ReplaceAll(s, "\n", `\n`)
	})
	return ptext, nil
}
