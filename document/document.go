package document

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/google/uuid"
)

// namespaceCitation seeds dockey derivation so re-ingesting the same
// citation always maps to the same document.
var namespaceCitation = uuid.MustParse("8e3562f1-3c0c-5f68-ab7e-85dfcba8a7c0")

// Document identifies one source document in the corpus.
type Document struct {
	// Dockey is a stable, content-derived identifier used for dedup
	// across ingestion runs.
	Dockey string `json:"dockey"`
	// Docname is the short human-readable key (e.g. author+year) used
	// in citations. It may be prefixed per session to avoid collisions.
	Docname  string `json:"docname"`
	Citation string `json:"citation"`
	Filepath string `json:"filepath,omitempty"`

	Embedding []float32 `json:"embedding,omitempty"`
}

// Chunk is a contiguous slice of a document with its own embedding and
// page locator. Chunks are immutable once created.
type Chunk struct {
	ID string `json:"id"`
	// Name is the citation key: docname plus a page span, unique within
	// a document (e.g. "Wiggins2022 pages 3-4").
	Name string    `json:"name"`
	Doc  *Document `json:"doc"`
	Text string    `json:"text"`

	Embedding []float32 `json:"embedding,omitempty"`
	Pages     []int     `json:"pages,omitempty"`
}

// Point is a quote/point pair extracted during summarization. Quote is
// an exact substring of the chunk text supporting the claim in Point.
type Point struct {
	Quote string `json:"quote"`
	Point string `json:"point"`
}

// DeriveDockey derives the stable document key from a citation string.
func DeriveDockey(citation string) string {
	return uuid.NewSHA1(namespaceCitation, []byte(citation)).String()
}

var (
	docnameAuthorRe = regexp.MustCompile(`[A-Z][a-z]+`)
	docnameYearRe   = regexp.MustCompile(`\d{4}`)
	pageRangeRe     = regexp.MustCompile(` pages (\d+)-(\d+)$`)
)

// DeriveDocname builds a short human key from a citation, taking the
// first capitalized word as the author and the first four-digit run as
// the year. Returns an error when no author-like word exists.
func DeriveDocname(citation string) (string, error) {
	author := docnameAuthorRe.FindString(citation)
	if author == "" {
		return "", fmt.Errorf("could not derive docname from citation %q", citation)
	}
	return author + docnameYearRe.FindString(citation), nil
}

// NewChunk builds a chunk for the given page span, naming it
// "<docname> pages <start>-<end>".
func NewChunk(doc *Document, text string, start, end int) *Chunk {
	name := fmt.Sprintf("%s pages %d-%d", doc.Docname, start, end)
	pages := make([]int, 0, end-start+1)
	for p := start; p <= end; p++ {
		pages = append(pages, p)
	}
	return &Chunk{
		ID:    uuid.NewSHA1(namespaceCitation, []byte(doc.Dockey+"/"+name)).String(),
		Name:  name,
		Doc:   doc,
		Text:  text,
		Pages: pages,
	}
}

// PageRange parses the page span out of the chunk name.
func (c *Chunk) PageRange() (start, end int, ok bool) {
	m := pageRangeRe.FindStringSubmatch(c.Name)
	if m == nil {
		return 0, 0, false
	}
	start, _ = strconv.Atoi(m[1])
	end, _ = strconv.Atoi(m[2])
	return start, end, true
}

// WithPages returns a copy of the chunk with Pages populated from its
// name when missing.
func (c *Chunk) WithPages() *Chunk {
	if len(c.Pages) > 0 {
		return c
	}
	start, end, ok := c.PageRange()
	if !ok {
		return c
	}
	cp := *c
	cp.Pages = make([]int, 0, end-start+1)
	for p := start; p <= end; p++ {
		cp.Pages = append(cp.Pages, p)
	}
	return &cp
}
