package store

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
)

// scrollPageSize is how many IDs one scroll request returns.
const scrollPageSize = 1000

// vectorDB implements VectorIndex on Qdrant over gRPC.
type vectorDB struct {
	client     *qdrant.Client
	collection string
}

// OpenVectors builds the Qdrant client for cfg. The gRPC channel dials
// lazily, so this does not require a reachable server.
func OpenVectors(cfg config.QdrantConfig) (VectorIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}
	return &vectorDB{client: client, collection: cfg.Collection}, nil
}

func (v *vectorDB) EnsureCollection(ctx context.Context, dimensions uint64) error {
	exists, err := v.client.CollectionExists(ctx, v.collection)
	if err != nil {
		return fmt.Errorf("check collection %q: %w", v.collection, err)
	}
	if exists {
		return nil
	}
	err = v.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dimensions,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %q: %w", v.collection, err)
	}
	return nil
}

func (v *vectorDB) Upsert(ctx context.Context, points []VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		structs[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(normalizePayload(p.Payload)),
		}
	}
	_, err := v.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: v.collection,
		Points:         structs,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

func (v *vectorDB) Query(ctx context.Context, vector []float32, topK uint64, withPayload bool) ([]VectorMatch, error) {
	points, err := v.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: v.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(topK),
		WithPayload:    qdrant.NewWithPayload(withPayload),
	})
	if err != nil {
		return nil, fmt.Errorf("query top %d: %w", topK, err)
	}
	matches := make([]VectorMatch, 0, len(points))
	for _, pt := range points {
		matches = append(matches, VectorMatch{
			ID:      pt.GetId().GetNum(),
			Score:   pt.GetScore(),
			Payload: payloadToMap(pt.GetPayload()),
		})
	}
	return matches, nil
}

func (v *vectorDB) Count(ctx context.Context) (uint64, error) {
	n, err := v.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: v.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	return n, nil
}

func (v *vectorDB) Fetch(ctx context.Context, ids []uint64) ([]VectorMatch, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDNum(id)
	}
	points, err := v.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: v.collection,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %d points: %w", len(ids), err)
	}
	matches := make([]VectorMatch, 0, len(points))
	for _, pt := range points {
		matches = append(matches, VectorMatch{
			ID:      pt.GetId().GetNum(),
			Payload: payloadToMap(pt.GetPayload()),
		})
	}
	return matches, nil
}

func (v *vectorDB) ListIDs(ctx context.Context) ([]uint64, error) {
	var all []uint64
	var offset *qdrant.PointId
	for {
		resp, err := v.client.GetPointsClient().Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: v.collection,
			Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(false),
			WithVectors:    qdrant.NewWithVectors(false),
		})
		if err != nil {
			return nil, fmt.Errorf("scroll points: %w", err)
		}
		for _, pt := range resp.GetResult() {
			all = append(all, pt.GetId().GetNum())
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			return all, nil
		}
	}
}

func (v *vectorDB) Delete(ctx context.Context, ids ...uint64) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDNum(id)
	}
	_, err := v.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: v.collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("delete %d points: %w", len(ids), err)
	}
	return nil
}

func (v *vectorDB) DeleteAll(ctx context.Context) error {
	_, err := v.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: v.collection,
		Points:         qdrant.NewPointsSelectorFilter(&qdrant.Filter{}),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("delete all points: %w", err)
	}
	return nil
}

func (v *vectorDB) Ping(ctx context.Context) error {
	if _, err := v.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant ping: %w", err)
	}
	return nil
}

func (v *vectorDB) Close() error {
	return v.client.Close()
}

// normalizePayload widens typed string slices to []any so the qdrant
// value mapper accepts them.
func normalizePayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if ss, ok := v.([]string); ok {
			list := make([]any, len(ss))
			for i, s := range ss {
				list[i] = s
			}
			out[k] = list
			continue
		}
		out[k] = v
	}
	return out
}

// payloadToMap flattens a Qdrant payload into plain Go values.
func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, val := range payload {
		out[k] = valueToAny(val)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
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
		list := make([]any, 0, len(items))
		for _, item := range items {
			list = append(list, valueToAny(item))
		}
		return list
	case *qdrant.Value_StructValue:
		fields := kind.StructValue.GetFields()
		nested := make(map[string]any, len(fields))
		for k, f := range fields {
			nested[k] = valueToAny(f)
		}
		return nested
	default:
		return nil
	}
}

// PayloadString reads payload[key] as a string, or "" when absent or of
// another type.
func PayloadString(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

// PayloadStrings reads payload[key] as a string list. A scalar string
// is returned as a one-element list.
func PayloadStrings(payload map[string]any, key string) []string {
	switch v := payload[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}
