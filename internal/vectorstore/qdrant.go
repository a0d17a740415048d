package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

type qdrantStore struct {
	client    *qdrant.Client
	dimension int
	metric    string // cosine|l2|euclidean|ip|dot|manhattan
}

// NewQdrant creates a Qdrant-backed Store.
// Note: The Go client uses Qdrant's gRPC API, which runs on port 6334 by
// default. Optionally, an API key can be provided as a query parameter:
// "http://localhost:6334?api_key=your_api_key".
func NewQdrant(dsn string, dimension int, metric string) (Store, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("qdrant requires dimensions > 0")
	}
	parsedURL, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse Qdrant DSN: %w", err)
	}
	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsedURL.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in Qdrant DSN: %w", err)
	}
	config := &qdrant.Config{
		Host: host,
		Port: portNum,
	}
	if parsedURL.Scheme == "https" {
		config.UseTLS = true
	}
	if apiKey := parsedURL.Query().Get("api_key"); apiKey != "" {
		config.APIKey = apiKey
	}
	client, err := qdrant.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("create Qdrant client: %w", err)
	}
	return &qdrantStore{
		client:    client,
		dimension: dimension,
		metric:    strings.ToLower(strings.TrimSpace(metric)),
	}, nil
}

func (q *qdrantStore) CreateCollection(ctx context.Context, name string) error {
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	var distance qdrant.Distance
	switch q.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	case "manhattan":
		distance = qdrant.Distance_Manhattan
	default: // cosine
		distance = qdrant.Distance_Cosine
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: distance,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

func (q *qdrantStore) DeleteCollection(ctx context.Context, name string) error {
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if !exists {
		return nil
	}
	if err := q.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return nil
}

func (q *qdrantStore) InsertPoints(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		qpoints = append(qpoints, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID.String()),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(flattenPayload(p.Payload)),
		})
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qpoints,
	})
	return err
}

func (q *qdrantStore) Search(ctx context.Context, collection string, params SearchParams) ([]SearchResult, error) {
	limit := uint64(params.Limit)
	if limit == 0 {
		limit = 10
	}
	vec := make([]float32, len(params.Vector))
	copy(vec, params.Vector)
	query := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         toQdrantFilter(params.Filter),
		WithPayload:    qdrant.NewWithPayload(params.WithPayload),
		WithVectors:    qdrant.NewWithVectors(params.WithVector),
	}
	if params.ScoreThreshold != nil {
		threshold := *params.ScoreThreshold
		query.ScoreThreshold = &threshold
	}
	hits, err := q.client.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		id, err := uuid.Parse(hit.Id.GetUuid())
		if err != nil {
			continue
		}
		r := SearchResult{ID: id, Score: hit.Score}
		if params.WithPayload && hit.Payload != nil {
			payload := unflattenPayload(hit.Payload)
			r.Payload = &payload
		}
		if params.WithVector {
			r.Vector = hit.Vectors.GetVector().GetData()
		}
		results = append(results, r)
	}
	return results, nil
}

func (q *qdrantStore) DeletePoints(ctx context.Context, collection string, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id.String()))
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	return err
}

func (q *qdrantStore) GetPoint(ctx context.Context, collection string, id uuid.UUID) (*Point, error) {
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(id.String())},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}
	retrieved := points[0]
	p := &Point{
		ID:      id,
		Vector:  retrieved.Vectors.GetVector().GetData(),
		Payload: unflattenPayload(retrieved.Payload),
	}
	return p, nil
}

func (q *qdrantStore) Close() error {
	return q.client.Close()
}

// flattenPayload lays the fixed payload fields and metadata keys side by side
// the way they are persisted.
func flattenPayload(p Payload) map[string]any {
	out := make(map[string]any, len(p.Metadata)+5)
	for k, v := range p.Metadata {
		out[k] = v
	}
	out["text"] = p.Text
	out["level"] = string(p.Tier)
	out["timestamp"] = p.Timestamp
	out["agent_id"] = p.AgentID
	if p.SessionID != "" {
		out["session_id"] = p.SessionID
	}
	return out
}

func unflattenPayload(values map[string]*qdrant.Value) Payload {
	p := Payload{Metadata: make(map[string]any)}
	for k, v := range values {
		switch k {
		case "text":
			p.Text = v.GetStringValue()
		case "level":
			p.Tier = Tier(v.GetStringValue())
		case "timestamp":
			p.Timestamp = v.GetIntegerValue()
		case "agent_id":
			p.AgentID = v.GetStringValue()
		case "session_id":
			p.SessionID = v.GetStringValue()
		default:
			p.Metadata[k] = qdrantValueToAny(v)
		}
	}
	return p
}

func qdrantValueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, qdrantValueToAny(item))
		}
		return out
	case *qdrant.Value_StructValue:
		fields := kind.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for k, item := range fields {
			out[k] = qdrantValueToAny(item)
		}
		return out
	default:
		return nil
	}
}

func toQdrantFilter(f *Filter) *qdrant.Filter {
	if f == nil {
		return nil
	}
	out := &qdrant.Filter{
		Must:    toQdrantConditions(f.Must),
		Should:  toQdrantConditions(f.Should),
		MustNot: toQdrantConditions(f.MustNot),
	}
	return out
}

func toQdrantConditions(conds []Condition) []*qdrant.Condition {
	if len(conds) == 0 {
		return nil
	}
	out := make([]*qdrant.Condition, 0, len(conds))
	for _, c := range conds {
		if qc := toQdrantCondition(c); qc != nil {
			out = append(out, qc)
		}
	}
	return out
}

func toQdrantCondition(c Condition) *qdrant.Condition {
	switch {
	case c.Match != nil:
		switch v := c.Match.Value.(type) {
		case string:
			return qdrant.NewMatch(c.Match.Key, v)
		case bool:
			return qdrant.NewMatchBool(c.Match.Key, v)
		case int:
			return qdrant.NewMatchInt(c.Match.Key, int64(v))
		case int64:
			return qdrant.NewMatchInt(c.Match.Key, v)
		default:
			return qdrant.NewMatch(c.Match.Key, fmt.Sprintf("%v", v))
		}
	case c.Range != nil:
		return qdrant.NewRange(c.Range.Key, &qdrant.Range{
			Gte: c.Range.Gte,
			Lte: c.Range.Lte,
		})
	case len(c.HasID) > 0:
		ids := make([]*qdrant.PointId, 0, len(c.HasID))
		for _, id := range c.HasID {
			ids = append(ids, qdrant.NewIDUUID(id.String()))
		}
		return qdrant.NewHasID(ids...)
	default:
		return nil
	}
}
