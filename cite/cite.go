// Package cite rewrites the model's inline citation keys into machine
// readable tags and resolves them against the evidence they cite.
package cite

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sweetpotato0/policyqa/evidence"
	"github.com/sweetpotato0/policyqa/prompt"
)

// ErrMalformed reports an answer that leaked raw reasoning or cites
// evidence outside of tagged spans. Callers typically retry the answer
// once with a corrective instruction before falling back.
var ErrMalformed = errors.New("malformed answer")

// Reference resolves one tagged citation back to its source.
type Reference struct {
	ID       string `json:"id"`
	Filepath string `json:"filepath,omitempty"`
	Citation string `json:"citation"`
	Pages    []int  `json:"pages,omitempty"`
	Quote    string `json:"quote,omitempty"`
}

// Result is a normalized answer ready for presentation.
type Result struct {
	Question   string      `json:"question"`
	Text       string      `json:"text"`
	References []Reference `json:"references"`
}

var (
	quoteKeyRe = regexp.MustCompile(`(quote\d+)(, )?`)
	periodRe   = regexp.MustCompile(`\.\s*?(<cite>.*?</cite>)`)
	periodsRe  = regexp.MustCompile(`\.+`)
)

// Normalize converts inline citation keys in the answer into
// <cite><doc>...</doc></cite> tags and builds the reference list.
// Citation keys naming evidence that was never gathered are dropped.
// The answer text is returned tagged even on ErrMalformed so callers
// can inspect what leaked.
func Normalize(question, answer string, summaries []*evidence.Summary) (*Result, error) {
	text := strings.ReplaceAll(strings.TrimSpace(answer), prompt.ExampleCitation, "")

	bib := buildBibliography(text, summaries)
	docnames := make(map[string]bool, len(bib.order))
	validNames := make(map[string]bool, len(bib.order))
	for _, name := range bib.order {
		docnames[bib.entries[name].Chunk.Doc.Docname] = true
		validNames[name] = true
	}

	var refKeys []string
	if len(docnames) > 0 {
		alternation := docnameAlternation(docnames)
		groupRe := regexp.MustCompile(fmt.Sprintf(
			`\((%[1]s) pages \d+-\d+,?( quote\d+(, quote\d+)*)?((,|;) (%[1]s) pages \d+-\d+,?( quote\d+((,|;) quote\d+)*)?)*\)`,
			alternation))
		singleRe := regexp.MustCompile(fmt.Sprintf(
			`((%s) pages \d+-\d+),?( quote\d+((,|;) quote\d+)*)?((,|;) )?`, alternation))

		text = groupRe.ReplaceAllStringFunc(text, func(group string) string {
			inner := strings.TrimSuffix(strings.TrimPrefix(group, "("), ")")
			tagged := replaceCitations(inner, singleRe, validNames, &refKeys)
			return "<cite>" + tagged + "</cite>"
		})
	}

	text = periodRe.ReplaceAllString(text, "$1.")
	text = periodsRe.ReplaceAllString(text, ".")

	result := &Result{
		Question:   question,
		Text:       text,
		References: buildReferences(refKeys, bib.entries),
	}
	if err := validate(text, summaries); err != nil {
		return result, err
	}
	return result, nil
}

type bibliography struct {
	order   []string
	entries map[string]*evidence.Summary
}

// buildBibliography collects the summaries actually cited in the text,
// ordered by first appearance. Whole-key matching keeps Callahan2019
// from matching inside Callahan2019a.
func buildBibliography(text string, summaries []*evidence.Summary) *bibliography {
	type hit struct {
		name string
		pos  int
	}
	var hits []hit
	for _, s := range summaries {
		if pos := namePos(s.Name(), text); pos >= 0 {
			hits = append(hits, hit{name: s.Name(), pos: pos})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	bib := &bibliography{entries: make(map[string]*evidence.Summary, len(hits))}
	for _, h := range hits {
		if _, seen := bib.entries[h.name]; seen {
			continue
		}
		bib.order = append(bib.order, h.name)
		for _, s := range summaries {
			if s.Name() == h.name {
				bib.entries[h.name] = s
				break
			}
		}
	}
	return bib
}

func namePos(name, text string) int {
	re, err := regexp.Compile(`\b(` + regexp.QuoteMeta(strings.TrimSpace(name)) + `)\b`)
	if err != nil {
		return -1
	}
	if loc := re.FindStringIndex(text); loc != nil {
		return loc[0]
	}
	return -1
}

// docnameAlternation builds the regex alternation over cited docnames,
// longest first so shared prefixes resolve to the longer key.
func docnameAlternation(docnames map[string]bool) string {
	names := make([]string, 0, len(docnames))
	for name := range docnames {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	for i, name := range names {
		names[i] = regexp.QuoteMeta(name)
	}
	return strings.Join(names, "|")
}

// replaceCitations rewrites each "Name pages S-E[ quoteN...]" unit in a
// citation group into <doc> tags, recording reference keys in order.
// Units naming unknown evidence are dropped.
func replaceCitations(inner string, singleRe *regexp.Regexp, validNames map[string]bool, refKeys *[]string) string {
	return singleRe.ReplaceAllStringFunc(inner, func(unit string) string {
		m := singleRe.FindStringSubmatch(unit)
		name := strings.TrimSpace(m[1])
		quotes := m[3]
		if !validNames[name] {
			return ""
		}
		if quotes != "" {
			return quoteKeyRe.ReplaceAllStringFunc(quotes, func(q string) string {
				key := quoteKeyRe.FindStringSubmatch(q)[1]
				*refKeys = append(*refKeys, name+" "+key)
				return "<doc>" + name + " " + key + "</doc>"
			})
		}
		*refKeys = append(*refKeys, name)
		return "<doc>" + name + "</doc>"
	})
}

// buildReferences resolves the recorded keys against the bibliography.
// A quote index beyond the summary's points yields a reference without
// a quote rather than an error.
func buildReferences(refKeys []string, entries map[string]*evidence.Summary) []Reference {
	refs := make([]Reference, 0, len(refKeys))
	for _, key := range refKeys {
		name, quoteKey, hasQuote := strings.Cut(key, " quote")
		s, ok := entries[name]
		if !ok {
			continue
		}
		chunk := s.Chunk.WithPages()
		ref := Reference{
			ID:       key,
			Filepath: chunk.Doc.Filepath,
			Citation: chunk.Doc.Citation,
			Pages:    chunk.Pages,
		}
		if hasQuote {
			if n, err := strconv.Atoi(quoteKey); err == nil && n >= 1 && n <= len(s.Points) {
				ref.Quote = s.Points[n-1].Quote
			}
		}
		refs = append(refs, ref)
	}
	return refs
}

// validate rejects answers that leak reasoning markers or mention any
// gathered docname outside of tagged spans. Every summary's docname
// counts, cited or not, so a bare source mention is caught even when no
// citation group made it into the bibliography.
func validate(text string, summaries []*evidence.Summary) error {
	if strings.Contains(text, "Thought:") {
		return fmt.Errorf("%w: reasoning leaked into answer", ErrMalformed)
	}
	stripped := stripCiteSpans(text)
	checked := make(map[string]bool, len(summaries))
	for _, s := range summaries {
		docname := s.Chunk.Doc.Docname
		if checked[docname] {
			continue
		}
		checked[docname] = true
		if namePos(docname, stripped) >= 0 {
			return fmt.Errorf("%w: citation key %s outside cite tags", ErrMalformed, docname)
		}
	}
	return nil
}

var citeSpanRe = regexp.MustCompile(`<cite>.*?</cite>`)

func stripCiteSpans(text string) string {
	return citeSpanRe.ReplaceAllString(text, "")
}

// Bibliography renders the numbered reference list for a normalized
// answer, in citation order.
func Bibliography(refs []Reference) string {
	var b strings.Builder
	seen := make(map[string]bool, len(refs))
	n := 0
	for _, r := range refs {
		name, _, _ := strings.Cut(r.ID, " quote")
		if seen[name] {
			continue
		}
		seen[name] = true
		n++
		fmt.Fprintf(&b, "%d. (%s): %s\n", n, name, r.Citation)
	}
	return strings.TrimSuffix(b.String(), "\n")
}
