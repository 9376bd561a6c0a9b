package knowledge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Payload keys written alongside every point.
const (
	payloadTitle    = "title"
	payloadContent  = "content"
	payloadCategory = "category"
	payloadSource   = "source"
	payloadDocID    = "doc_id"
)

var pointNamespace = uuid.MustParse("5b4f3b1e-8f0c-4c59-9a53-7a7f7a0e2d11")

// QdrantConfig holds configuration for connecting to Qdrant.
type QdrantConfig struct {
	URL        string // e.g. "http://localhost:6333"
	APIKey     string
	Collection string
}

// QdrantRetriever runs dense queries against an externally managed Qdrant
// collection, filtered by the route's category.
type QdrantRetriever struct {
	client     *qdrant.Client
	collection string
	embedder   Embedder
	logger     *slog.Logger
}

// parseQdrantURL extracts host, gRPC port and TLS flag from a Qdrant URL.
// The REST port 6333 is mapped to the gRPC port 6334.
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("knowledge: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()
	port = 6334

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("knowledge: invalid port in qdrant URL: %q", portStr)
		}
		if p != 6333 {
			port = p
		}
	}
	return host, port, useTLS, nil
}

func NewQdrantRetriever(cfg QdrantConfig, embedder Embedder, logger *slog.Logger) (*QdrantRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("knowledge: qdrant retriever needs an embedder")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("knowledge: qdrant collection is required")
	}
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: connect to qdrant at %s:%d: %w", host, port, err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &QdrantRetriever{
		client:     client,
		collection: cfg.Collection,
		embedder:   embedder,
		logger:     logger,
	}, nil
}

func (q *QdrantRetriever) Close() error {
	return q.client.Close()
}

// categoryFilter restricts a query to one category. It returns nil when the
// route accepts every category.
func categoryFilter(category string) *qdrant.Filter {
	if category == "" {
		return nil
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(payloadCategory, category)},
	}
}

func (q *QdrantRetriever) Query(ctx context.Context, text string, rc RouteContext) ([]Document, error) {
	vectors, err := q.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("knowledge: embedder returned %d vectors", len(vectors))
	}

	limit := uint64(rc.limit())
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vectors[0]),
		Filter:         categoryFilter(rc.Category),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: qdrant query: %w", err)
	}

	docs := make([]Document, 0, len(scored))
	for _, sp := range scored {
		docs = append(docs, documentFromPayload(sp.GetPayload(), float64(sp.GetScore())))
	}
	sortByScore(docs)
	return docs, nil
}

func documentFromPayload(payload map[string]*qdrant.Value, score float64) Document {
	str := func(key string) string {
		if v, ok := payload[key]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	return Document{
		ID:       str(payloadDocID),
		Title:    str(payloadTitle),
		Content:  str(payloadContent),
		Category: str(payloadCategory),
		Source:   str(payloadSource),
		Score:    score,
	}
}

// EnsureCollection creates the collection with a keyword index on category
// if it doesn't already exist.
func (q *QdrantRetriever) EnsureCollection(ctx context.Context, dims uint64) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("knowledge: check collection exists: %w", err)
	}
	if !exists {
		if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     dims,
				Distance: qdrant.Distance_Cosine,
			}),
		}); err != nil {
			return fmt.Errorf("knowledge: create collection %q: %w", q.collection, err)
		}
		q.logger.Info("qdrant: created collection", "collection", q.collection, "dims", dims)
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.collection,
		FieldName:      payloadCategory,
		FieldType:      &keywordType,
	}); err != nil {
		return fmt.Errorf("knowledge: ensure index on %q: %w", payloadCategory, err)
	}
	return nil
}

// Index embeds docs and upserts them. Point ids derive from document ids, so
// re-indexing the same files replaces their points.
func (q *QdrantRetriever) Index(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Title + "\n" + d.Content
	}
	vectors, err := q.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if err := q.EnsureCollection(ctx, uint64(len(vectors[0]))); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, d := range docs {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(d.ID)),
			Vectors: qdrant.NewVectorsDense(vectors[i]),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadDocID:    d.ID,
				payloadTitle:    d.Title,
				payloadContent:  d.Content,
				payloadCategory: d.Category,
				payloadSource:   d.Source,
			}),
		}
	}

	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	}); err != nil {
		return fmt.Errorf("knowledge: qdrant upsert %d points: %w", len(points), err)
	}
	q.logger.Info("qdrant: indexed documents", "collection", q.collection, "count", len(points))
	return nil
}

func pointID(docID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(docID)).String()
}
