// Package reader ingests source documents: parsing HTML or plain text,
// paginating, and chunking into page-addressed pieces ready for
// embedding.
package reader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sweetpotato0/policyqa/document"
	pqerrors "github.com/sweetpotato0/policyqa/errors"
	"github.com/sweetpotato0/policyqa/llm"
	"github.com/sweetpotato0/policyqa/pkg/logging"
	"github.com/sweetpotato0/policyqa/store"
)

const (
	// DefaultChunkChars is the target chunk size in characters.
	DefaultChunkChars = 3000

	// DefaultOverlap is the character overlap between adjacent chunks.
	DefaultOverlap = 100

	// DefaultPageChars sizes the pseudo-pages synthesized for formats
	// that have no native page structure.
	DefaultPageChars = 3000

	// Strings with lower character entropy than this are probably not
	// prose.
	textEntropyThreshold = 2.5
)

// Page is one page of parsed document text, 1-indexed.
type Page struct {
	Number int
	Text   string
}

// Reader parses and chunks documents.
type Reader struct {
	chunkChars int
	overlap    int
	pageChars  int
	skipCheck  bool
	logger     *slog.Logger
}

// Option configures a Reader.
type Option func(*Reader)

// WithChunkChars sets the chunk size.
func WithChunkChars(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.chunkChars = n
		}
	}
}

// WithOverlap sets the overlap between adjacent chunks.
func WithOverlap(n int) Option {
	return func(r *Reader) {
		if n >= 0 {
			r.overlap = n
		}
	}
}

// WithPageChars sets the pseudo-page size for unpaged formats.
func WithPageChars(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.pageChars = n
		}
	}
}

// WithValidityCheck toggles the looks-like-text entropy check.
func WithValidityCheck(enable bool) Option {
	return func(r *Reader) { r.skipCheck = !enable }
}

// New creates a reader with default chunking parameters.
func New(opts ...Option) *Reader {
	r := &Reader{
		chunkChars: DefaultChunkChars,
		overlap:    DefaultOverlap,
		pageChars:  DefaultPageChars,
		logger:     logging.WithComponent("reader"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReadFile parses a document from disk and chunks it. HTML files are
// stripped to text; everything else is treated as plain text. The
// returned chunks carry no embeddings yet.
func (r *Reader) ReadFile(path, citation string) (*document.Document, []*document.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read document: %w", err)
	}
	defer f.Close()

	var text string
	if strings.EqualFold(filepath.Ext(path), ".html") {
		text, err = ParseHTML(f)
	} else {
		var raw []byte
		raw, err = io.ReadAll(f)
		text = normalizeWhitespace(string(raw))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if text == "" {
		return nil, nil, fmt.Errorf("%w: document %s is empty", pqerrors.ErrInvalidInput, path)
	}
	if !r.skipCheck && !maybeIsText(text) {
		return nil, nil, fmt.Errorf("%w: %s does not look like a text document", pqerrors.ErrInvalidInput, path)
	}

	doc, err := NewDocument(citation, path)
	if err != nil {
		return nil, nil, err
	}
	chunks := r.ChunkPages(doc, SplitPages(text, r.pageChars))
	r.logger.Info("document read", "path", path, "docname", doc.Docname, "chunks", len(chunks))
	return doc, chunks, nil
}

// ChunkPages merges consecutive pages and slices them into overlapping
// chunks named by the page span they cover.
func (r *Reader) ChunkPages(doc *document.Document, pages []Page) []*document.Chunk {
	var chunks []*document.Chunk
	var split string
	var spanned []int

	for _, page := range pages {
		split += page.Text
		spanned = append(spanned, page.Number)
		for len(split) > r.chunkChars {
			chunks = append(chunks, document.NewChunk(
				doc, split[:r.chunkChars], spanned[0], spanned[len(spanned)-1]))
			split = split[r.chunkChars-r.overlap:]
			spanned = []int{page.Number}
		}
	}
	if len(split) > r.overlap || len(chunks) == 0 {
		if len(spanned) == 0 {
			spanned = []int{1}
		}
		end := min(len(split), r.chunkChars)
		chunks = append(chunks, document.NewChunk(
			doc, split[:end], spanned[0], spanned[len(spanned)-1]))
	}
	return chunks
}

// NewDocument builds document identity from a citation string.
func NewDocument(citation, path string) (*document.Document, error) {
	docname, err := document.DeriveDocname(citation)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pqerrors.ErrInvalidInput, err)
	}
	return &document.Document{
		Dockey:   document.DeriveDockey(citation),
		Docname:  docname,
		Citation: citation,
		Filepath: path,
	}, nil
}

// Ingest embeds the chunks and adds them to the vector store.
func Ingest(ctx context.Context, s store.VectorStore, embedder llm.Embedder, chunks []*document.Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedder returned %d embeddings for %d chunks", len(embeddings), len(chunks))
	}
	for i, c := range chunks {
		c.Embedding = embeddings[i]
	}
	return s.Add(ctx, chunks...)
}

// ParseHTML extracts readable text from an HTML document, dropping
// script and style content.
func ParseHTML(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("%w: parse HTML: %v", pqerrors.ErrParse, err)
	}
	doc.Find("script, style, noscript").Remove()
	text := doc.Find("body").Text()
	if strings.TrimSpace(text) == "" {
		text = doc.Text()
	}
	return normalizeWhitespace(text), nil
}

// SplitPages paginates flat text into fixed-size pseudo-pages so chunk
// names stay page-addressed for formats without native pages.
func SplitPages(text string, pageChars int) []Page {
	if pageChars <= 0 {
		pageChars = DefaultPageChars
	}
	var pages []Page
	for i := 0; len(text) > 0; i++ {
		end := min(len(text), pageChars)
		pages = append(pages, Page{Number: i + 1, Text: text[:end]})
		text = text[end:]
	}
	return pages
}

var whitespaceRe = regexp.MustCompile(`[\s\x00]+`)

func normalizeWhitespace(text string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// maybeIsText estimates whether s is prose by its character entropy.
func maybeIsText(s string) bool {
	if s == "" {
		return false
	}
	counts := make(map[rune]int)
	for _, c := range s {
		counts[c]++
	}
	entropy := 0.0
	total := float64(len([]rune(s)))
	for _, n := range counts {
		p := float64(n) / total
		entropy += -p * math.Log2(p)
	}
	return entropy > textEntropyThreshold
}
