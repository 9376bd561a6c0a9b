// Package knowledge provides the retrieval collaborators knowledge routes
// consult before synthesizing an answer.
package knowledge

import (
	"context"
	"sort"
	"strings"
)

// Document categories inferred from knowledge file names.
const (
	CategoryProduct    = "product"
	CategoryAfterSales = "after_sales"
	CategoryDelivery   = "delivery"
	CategoryPromotion  = "promotion"
	CategoryOther      = "other"
)

// Document is a retrieved passage together with its relevance to the query.
type Document struct {
	ID       string  `json:"id"`
	Title    string  `json:"title,omitempty"`
	Content  string  `json:"content"`
	Category string  `json:"category"`
	Source   string  `json:"source"`
	Score    float64 `json:"score"`
}

// RouteContext narrows a query to what the calling route cares about.
type RouteContext struct {
	Route    string
	Category string // Empty matches every category
	TopK     int
}

func (rc RouteContext) limit() int {
	if rc.TopK <= 0 {
		return 3
	}
	return rc.TopK
}

// Retriever returns documents ordered by descending relevance.
type Retriever interface {
	Query(ctx context.Context, text string, rc RouteContext) ([]Document, error)
}

var categoryHints = []struct {
	hint     string
	category string
}{
	{"product", CategoryProduct},
	{"catalog", CategoryProduct},
	{"after_sales", CategoryAfterSales},
	{"aftersales", CategoryAfterSales},
	{"policy", CategoryAfterSales},
	{"delivery", CategoryDelivery},
	{"shipping", CategoryDelivery},
	{"promotion", CategoryPromotion},
	{"discount", CategoryPromotion},
}

// InferCategory maps a knowledge file name to its document category.
func InferCategory(filename string) string {
	lower := strings.ToLower(filename)
	for _, h := range categoryHints {
		if strings.Contains(lower, h.hint) {
			return h.category
		}
	}
	return CategoryOther
}

func sortByScore(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Score > docs[j].Score
	})
}
