package vectordb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// QdrantConfig holds connection settings for a Qdrant server.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// QdrantIndex implements Index on a Qdrant collection over gRPC. Similarity
// thresholding and the tag pre-filter run server side.
//
// A replace upserts the new points before deleting the document's other
// points, so a concurrent search sees the old or the new chunks of a
// document, never none of them.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string

	// mu serialises writers; searches do not take it.
	mu    sync.Mutex
	ready bool
}

// NewQdrantIndex connects to Qdrant and verifies the server is healthy.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	if _, err := client.HealthCheck(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("qdrant health check: %w", err)
	}
	name := cfg.Collection
	if name == "" {
		name = defaultCollection
	}
	return &QdrantIndex{client: client, collection: name}, nil
}

// ensureCollection creates the collection on first write, sized from the
// first vector seen.
func (s *QdrantIndex) ensureCollection(ctx context.Context, dims int) error {
	if s.ready {
		return nil
	}
	exists, err := s.collectionExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dims),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("create collection %s: %w", s.collection, err)
		}
	}
	s.ready = true
	return nil
}

func (s *QdrantIndex) collectionExists(ctx context.Context) (bool, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("check collection %s: %w", s.collection, err)
	}
	return info != nil, nil
}

func (s *QdrantIndex) ReplaceDocument(ctx context.Context, documentID string, chunks []Chunk) error {
	ctx, span := tracer.Start(ctx, "QdrantIndex.ReplaceDocument")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", documentID), attribute.Int("chunks", len(chunks)))

	points := make([]*qdrant.PointStruct, len(chunks))
	ids := make([]*qdrant.PointId, len(chunks))
	for i, c := range chunks {
		if c.DocumentID != documentID {
			return fmt.Errorf("chunk %s belongs to %s, not %s", c.ID, c.DocumentID, documentID)
		}
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", c.ID)
		}
		ids[i] = qdrant.NewIDUUID(c.ID)
		points[i] = &qdrant.PointStruct{
			Id:      ids[i],
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: chunkToPayload(c),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(points) == 0 {
		return s.deleteLocked(ctx, documentID)
	}
	if err := s.ensureCollection(ctx, len(chunks[0].Embedding)); err != nil {
		return err
	}

	fresh, err := s.newPointIDs(ctx, ids)
	if err != nil {
		return err
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		// Drop whatever part of the new set landed; the old points are intact.
		if len(fresh) > 0 {
			_ = s.deleteWhere(ctx, &qdrant.Filter{Must: []*qdrant.Condition{hasIDCondition(fresh)}})
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert chunks of %s: %w", documentID, err)
	}

	if err := s.deleteWhere(ctx, staleFilter(documentID, ids)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("delete superseded chunks of %s: %w", documentID, err)
	}
	return nil
}

// newPointIDs returns the ids not yet stored in the collection.
func (s *QdrantIndex) newPointIDs(ctx context.Context, ids []*qdrant.PointId) ([]*qdrant.PointId, error) {
	existing, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            ids,
	})
	if err != nil {
		return nil, fmt.Errorf("look up points: %w", err)
	}
	stored := make(map[string]bool, len(existing))
	for _, p := range existing {
		stored[p.GetId().GetUuid()] = true
	}
	var fresh []*qdrant.PointId
	for _, id := range ids {
		if !stored[id.GetUuid()] {
			fresh = append(fresh, id)
		}
	}
	return fresh, nil
}

// staleFilter matches the points of documentID other than keep.
func staleFilter(documentID string, keep []*qdrant.PointId) *qdrant.Filter {
	return &qdrant.Filter{
		Must:    []*qdrant.Condition{keywordCondition(keyDocumentID, documentID)},
		MustNot: []*qdrant.Condition{hasIDCondition(keep)},
	}
}

func hasIDCondition(ids []*qdrant.PointId) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_HasId{HasId: &qdrant.HasIdCondition{HasId: ids}},
	}
}

func (s *QdrantIndex) DeleteDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(ctx, documentID)
}

func (s *QdrantIndex) deleteLocked(ctx context.Context, documentID string) error {
	exists, err := s.collectionExists(ctx)
	if err != nil || !exists {
		return err
	}
	err = s.deleteWhere(ctx, &qdrant.Filter{Must: []*qdrant.Condition{keywordCondition(keyDocumentID, documentID)}})
	if err != nil {
		return fmt.Errorf("delete chunks of %s: %w", documentID, err)
	}
	return nil
}

func (s *QdrantIndex) deleteWhere(ctx context.Context, filter *qdrant.Filter) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
		},
	})
	return err
}

func (s *QdrantIndex) Search(ctx context.Context, q Query) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Search")
	defer span.End()

	if err := q.validate(); err != nil {
		return nil, err
	}
	exists, err := s.collectionExists(ctx)
	if err != nil || !exists {
		return nil, err
	}

	// Qdrant cuts at Limit arbitrarily among equal scores; widen until the
	// whole tie group at the topK-th score is in hand.
	var points []*qdrant.ScoredPoint
	for limit := q.TopK; ; limit *= 2 {
		points, err = s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.collection,
			Query:          qdrant.NewQuery(q.Embedding...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			ScoreThreshold: qdrant.PtrOf(q.Threshold),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         buildFilter(q),
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("qdrant query: %w", err)
		}
		sims := make([]float32, len(points))
		for i, p := range points {
			sims[i] = p.GetScore()
		}
		if coversTies(sims, limit, q.TopK) {
			break
		}
	}

	results := make([]Result, 0, len(points))
	for _, p := range points {
		c := payloadToChunk(p.GetPayload())
		c.ID = p.GetId().GetUuid()
		results = append(results, Result{Chunk: c, Similarity: p.GetScore()})
	}

	// Qdrant already filtered and ordered; rank settles equal scores.
	results = rank(results, q.Threshold, q.TopK)
	span.SetAttributes(attribute.Int("results_count", len(results)))
	return results, nil
}

func (s *QdrantIndex) Count(ctx context.Context) (int, error) {
	exists, err := s.collectionExists(ctx)
	if err != nil || !exists {
		return 0, err
	}
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	return int(n), nil
}

func (s *QdrantIndex) Close() error {
	return s.client.Close()
}

// buildFilter restricts a query to one embedding model and, when tags are
// given, to points whose tags array contains any of them.
func buildFilter(q Query) *qdrant.Filter {
	var must []*qdrant.Condition
	if q.Model != "" {
		must = append(must, keywordCondition(keyModel, q.Model))
	}
	if tags := NormalizeTags(q.Tags); len(tags) > 0 {
		must = append(must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: keyTags,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keywords{
							Keywords: &qdrant.RepeatedStrings{Strings: tags},
						},
					},
				},
			},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func intValue(n int64) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: n}}
}

func chunkToPayload(c Chunk) map[string]*qdrant.Value {
	tags := NormalizeTags(c.Tags)
	tagValues := make([]*qdrant.Value, len(tags))
	for i, t := range tags {
		tagValues[i] = stringValue(t)
	}
	return map[string]*qdrant.Value{
		keyDocumentID: stringValue(c.DocumentID),
		"text":        stringValue(c.Text),
		keyOrdinal:    intValue(int64(c.Ordinal)),
		keySpanStart:  intValue(int64(c.SpanStart)),
		keySpanEnd:    intValue(int64(c.SpanEnd)),
		keyModel:      stringValue(c.EmbeddingModel),
		keyTitle:      stringValue(c.Title),
		keyAuthor:     stringValue(c.Author),
		keyTags:       {Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: tagValues}}},
		keyIndexedAt:  intValue(c.IndexedAt.UnixNano()),
	}
}

func payloadToChunk(p map[string]*qdrant.Value) Chunk {
	var tags []string
	for _, v := range p[keyTags].GetListValue().GetValues() {
		tags = append(tags, v.GetStringValue())
	}
	return Chunk{
		DocumentID:     p[keyDocumentID].GetStringValue(),
		Text:           p["text"].GetStringValue(),
		Ordinal:        int(p[keyOrdinal].GetIntegerValue()),
		SpanStart:      int(p[keySpanStart].GetIntegerValue()),
		SpanEnd:        int(p[keySpanEnd].GetIntegerValue()),
		EmbeddingModel: p[keyModel].GetStringValue(),
		Title:          p[keyTitle].GetStringValue(),
		Author:         p[keyAuthor].GetStringValue(),
		Tags:           tags,
		IndexedAt:      time.Unix(0, p[keyIndexedAt].GetIntegerValue()),
	}
}
