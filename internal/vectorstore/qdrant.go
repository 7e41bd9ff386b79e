package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// qdrantNamespace deterministically maps an opaque decision id (an 8-hex
// string, not itself a UUID) to a Qdrant-compatible point UUID. Qdrant only
// accepts UUID or unsigned-integer point ids, so the original id is also
// written into the payload under "id" and used as the source of truth on
// read.
var qdrantNamespace = uuid.MustParse("6f6e8b2e-6b0a-4a8e-9d8b-6a1d9a8b6f6e")

func pointUUID(id string) uuid.UUID {
	return uuid.NewSHA1(qdrantNamespace, []byte(id))
}

// QdrantConfig holds configuration for connecting to Qdrant.
type QdrantConfig struct {
	URL        string // e.g. "https://xyz.cloud.qdrant.io:6333" or "http://localhost:6333"
	APIKey     string
	Collection string
	Dims       uint64
}

// QdrantStore implements Store backed by Qdrant.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dims       uint64
	logger     *slog.Logger

	healthMu  sync.Mutex
	lastCheck time.Time
	lastErr   error
}

// parseQdrantURL extracts host, port, and TLS flag from a Qdrant URL.
// Accepts forms like "https://host:6333", "http://host:6333", or "host:6334".
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("vectorstore: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("vectorstore: invalid port in qdrant URL: %q", portStr)
		}
		// If the user specified the REST port (6333), use the gRPC port (6334).
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}

	return host, port, useTLS, nil
}

// NewQdrantStore creates a new QdrantStore and connects to the server via gRPC.
func NewQdrantStore(cfg QdrantConfig, logger *slog.Logger) (*QdrantStore, error) {
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
		return nil, fmt.Errorf("vectorstore: connect to qdrant at %s:%d: %w", host, port, err)
	}

	return &QdrantStore{
		client:     client,
		collection: cfg.Collection,
		dims:       cfg.Dims,
		logger:     logger,
	}, nil
}

// Initialize creates the collection if it doesn't already exist, with HNSW
// parameters tuned for cosine similarity, plus payload field indexes for
// the fields the retrieval filter taxonomy queries most often.
func (q *QdrantStore) Initialize(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("vectorstore: check collection exists: %w", err)
	}
	if exists {
		q.logger.Info("qdrant: collection already exists", "collection", q.collection)
		return nil
	}

	m := uint64(16)
	efConstruct := uint64(128)

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.dims,
			Distance: qdrant.Distance_Cosine,
			HnswConfig: &qdrant.HnswConfigDiff{
				M:           &m,
				EfConstruct: &efConstruct,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: create collection %q: %w", q.collection, err)
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	for _, field := range []string{"category", "stakes", "status", "project"} {
		if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      &keywordType,
		}); err != nil {
			return fmt.Errorf("vectorstore: create index on %q: %w", field, err)
		}
	}

	floatType := qdrant.FieldType_FieldTypeFloat
	for _, field := range []string{"confidence", "date_unix"} {
		if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      &floatType,
		}); err != nil {
			return fmt.Errorf("vectorstore: create index on %q: %w", field, err)
		}
	}

	q.logger.Info("qdrant: created collection with payload indexes", "collection", q.collection, "dims", q.dims)
	return nil
}

// Query embeds no text itself; it expects an already-computed embedding,
// translates where into Qdrant filter conditions, over-fetches, and applies
// the complete where with Matches to the returned points.
func (q *QdrantStore) Query(ctx context.Context, embedding []float32, n int, where Filter) ([]Match, error) {
	must := translateFilter(where)

	fetchLimit := uint64(n) * 4 //nolint:gosec // n is bounded by caller (max 500)
	if fetchLimit < 50 {
		fetchLimit = 50
	}
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(embedding),
		Filter:         &qdrant.Filter{Must: must},
		Limit:          &fetchLimit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: qdrant query: %w", err)
	}

	results := make([]Match, 0, len(scored))
	for _, sp := range scored {
		metadata := payloadToMap(sp.Payload)
		id, _ := metadata["id"].(string)
		if id == "" {
			continue
		}
		if where != nil && !Matches(metadata, where) {
			continue
		}
		results = append(results, Match{
			ID:       id,
			Score:    float64(1 - sp.Score), // Qdrant cosine Query returns similarity; convert to ascending distance.
			Metadata: metadata,
		})
		if n > 0 && len(results) >= n {
			break
		}
	}
	return results, nil
}

// translateFilter converts the shared Filter language's exact string matches,
// plain value lists, and $gte/$lte ranges into Qdrant conditions that narrow
// the candidate set server-side. Other operators ($in, $nin, $ne, $contains)
// and the $and/$or combinators are not translated; Query evaluates them with
// Matches on the returned points.
func translateFilter(where Filter) []*qdrant.Condition {
	var must []*qdrant.Condition
	for field, cond := range where {
		switch field {
		case "$and", "$or":
			continue // combinators are evaluated by Query's Matches post-filter.
		}
		switch v := cond.(type) {
		case string:
			must = append(must, qdrant.NewMatch(field, v))
		case []any:
			keywords := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					keywords = append(keywords, s)
				}
			}
			if len(keywords) > 0 {
				must = append(must, qdrant.NewMatchKeywords(field, keywords...))
			}
		case map[string]any:
			r := &qdrant.Range{}
			has := false
			if g, ok := v["$gte"]; ok {
				if f, ok := toF64(g); ok {
					r.Gte = &f
					has = true
				}
			}
			if l, ok := v["$lte"]; ok {
				if f, ok := toF64(l); ok {
					r.Lte = &f
					has = true
				}
			}
			if has {
				must = append(must, qdrant.NewRange(field, r))
			}
		}
	}
	return must
}

func toF64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = valueToGo(v)
	}
	return out
}

// valueToGo unwraps a Qdrant payload Value into a plain Go value.
func valueToGo(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch {
	case v.GetStringValue() != "":
		return v.GetStringValue()
	case v.GetIntegerValue() != 0:
		return v.GetIntegerValue()
	case v.GetDoubleValue() != 0:
		return v.GetDoubleValue()
	case v.GetListValue() != nil:
		items := v.GetListValue().GetValues()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = valueToGo(item)
		}
		return out
	default:
		return v.GetBoolValue()
	}
}

// Upsert inserts or updates a single point. The caller's id is written into
// the payload under "id" since Qdrant point ids must be UUID or integer.
func (q *QdrantStore) Upsert(ctx context.Context, id string, embedding []float32, metadata map[string]any) error {
	withID := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		withID[k] = v
	}
	withID["id"] = id

	pt := &qdrant.PointStruct{
		Id:      qdrant.NewID(pointUUID(id).String()),
		Vectors: qdrant.NewVectorsDense(embedding),
		Payload: qdrant.NewValueMap(withID),
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         []*qdrant.PointStruct{pt},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: qdrant upsert %q: %w", id, err)
	}
	return nil
}

// Delete removes points by id.
func (q *QdrantStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewID(pointUUID(id).String())
	}

	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: qdrant delete %d points: %w", len(ids), err)
	}
	return nil
}

// Count returns the number of points in the collection.
func (q *QdrantStore) Count(ctx context.Context) (int, error) {
	exact := true
	res, err := q.client.Count(ctx, &qdrant.CountPoints{CollectionName: q.collection, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("vectorstore: qdrant count: %w", err)
	}
	return int(res), nil
}

// Reset drops and recreates the collection.
func (q *QdrantStore) Reset(ctx context.Context) error {
	if err := q.client.DeleteCollection(ctx, q.collection); err != nil {
		return fmt.Errorf("vectorstore: qdrant delete collection: %w", err)
	}
	return q.Initialize(ctx)
}

// CollectionID returns the configured collection name.
func (q *QdrantStore) CollectionID() string { return q.collection }

// Healthy returns nil if Qdrant is reachable. Results are cached for 5
// seconds to avoid hammering the health endpoint on every search request.
func (q *QdrantStore) Healthy(ctx context.Context) error {
	q.healthMu.Lock()
	defer q.healthMu.Unlock()

	if time.Since(q.lastCheck) < 5*time.Second {
		return q.lastErr
	}

	_, err := q.client.HealthCheck(ctx)
	q.lastCheck = time.Now()
	if err != nil {
		q.lastErr = fmt.Errorf("vectorstore: qdrant unhealthy: %w", err)
	} else {
		q.lastErr = nil
	}
	return q.lastErr
}

// Close shuts down the Qdrant gRPC connection.
func (q *QdrantStore) Close() error {
	return q.client.Close()
}
