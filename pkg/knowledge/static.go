package knowledge

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode"
)

//go:embed defaults/*.md
var defaultFS embed.FS

// StaticSource scores keyword overlap against a fixed set of documents. It
// stands in for a real index in tests and offline runs.
type StaticSource struct {
	docs         []Document
	minRelevance float64
}

type StaticOption func(*StaticSource)

// WithMinRelevance sets the score a document needs to be returned.
func WithMinRelevance(min float64) StaticOption {
	return func(s *StaticSource) {
		s.minRelevance = min
	}
}

func NewStaticSource(docs []Document, opts ...StaticOption) *StaticSource {
	s := &StaticSource{
		docs:         docs,
		minRelevance: 0.1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultDocuments returns the built-in store knowledge base.
func DefaultDocuments() []Document {
	docs, err := loadFS(defaultFS, "defaults")
	if err != nil {
		panic(fmt.Sprintf("knowledge: embedded defaults: %v", err))
	}
	return docs
}

// LoadDir reads every .md file under dir. Each file is split into one
// document per second-level heading.
func LoadDir(dir string) ([]Document, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("knowledge dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("knowledge dir %s is not a directory", dir)
	}
	return loadFS(os.DirFS(dir), ".")
}

func loadFS(fsys fs.FS, root string) ([]Document, error) {
	var docs []Document
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if path.Ext(p) != ".md" {
			return nil
		}
		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		rel := strings.TrimPrefix(p, root+"/")
		docs = append(docs, splitSections(filepath.ToSlash(rel), string(content))...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func splitSections(source, content string) []Document {
	category := InferCategory(path.Base(source))
	var docs []Document
	var title string
	var body strings.Builder
	hasText := false

	flush := func() {
		text := strings.TrimSpace(body.String())
		body.Reset()
		if !hasText {
			return
		}
		hasText = false
		docs = append(docs, Document{
			ID:       fmt.Sprintf("%s#%d", source, len(docs)),
			Title:    title,
			Content:  text,
			Category: category,
			Source:   source,
		})
	}

	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "## ") {
			flush()
			title = strings.TrimSpace(strings.TrimPrefix(line, "## "))
			body.WriteString(line)
			body.WriteString("\n")
			continue
		}
		if strings.HasPrefix(line, "# ") && title == "" {
			title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
		} else if strings.TrimSpace(line) != "" {
			hasText = true
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()
	return docs
}

func (s *StaticSource) Len() int {
	return len(s.docs)
}

// Query returns the rc.TopK most relevant documents in rc.Category.
func (s *StaticSource) Query(ctx context.Context, text string, rc RouteContext) ([]Document, error) {
	keywords := extractKeywords(strings.ToLower(text))

	var results []Document
	for _, doc := range s.docs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if rc.Category != "" && doc.Category != rc.Category {
			continue
		}
		relevance := calculateRelevance(strings.ToLower(doc.Title+"\n"+doc.Content), keywords)
		if relevance < s.minRelevance || relevance == 0 {
			continue
		}
		doc.Score = relevance
		results = append(results, doc)
	}

	sortByScore(results)
	if len(results) > rc.limit() {
		results = results[:rc.limit()]
	}
	return results, nil
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"what": true, "how": true, "where": true, "when": true, "why": true,
	"to": true, "of": true, "in": true, "for": true, "on": true,
	"and": true, "or": true, "but": true, "with": true, "can": true,
	"you": true, "your": true, "my": true, "me": true, "do": true, "does": true,
}

// extractKeywords splits a query into searchable keywords. Runs of Han
// characters have no word separators, so they contribute overlapping bigrams.
func extractKeywords(query string) []string {
	seen := make(map[string]bool)
	var keywords []string
	add := func(k string) {
		if k != "" && !seen[k] {
			seen[k] = true
			keywords = append(keywords, k)
		}
	}

	fields := strings.FieldsFunc(query, func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '_' && r != '-')
	})
	for _, w := range fields {
		var latin strings.Builder
		var han []rune
		flushHan := func() {
			if len(han) == 1 {
				add(string(han))
			}
			for i := 0; i+1 < len(han); i++ {
				add(string(han[i : i+2]))
			}
			han = han[:0]
		}
		for _, r := range w {
			if unicode.Is(unicode.Han, r) {
				han = append(han, r)
				continue
			}
			flushHan()
			latin.WriteRune(r)
		}
		flushHan()
		if l := latin.String(); len(l) > 2 && !stopWords[l] {
			add(l)
		}
	}
	return keywords
}

// calculateRelevance is the fraction of keywords present in content.
func calculateRelevance(content string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}

	matches := 0
	for _, kw := range keywords {
		if strings.Contains(content, kw) {
			matches++
		}
	}

	return float64(matches) / float64(len(keywords))
}
