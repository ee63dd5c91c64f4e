// Package qdrant implements the similarity store on a Qdrant collection
// over gRPC. Upsert mode maps keys to deterministic UUIDv5 point ids, so
// re-ingesting a key overwrites its point natively.
package qdrant

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/scorelab/noveltyd/internal/store"
)

// Store implements store.Store using Qdrant.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	qdrant      pb.QdrantClient
	collection  string
	mode        store.Mode
	dimension   int
}

// Open connects to Qdrant and creates the collection (cosine distance,
// configured dimension) if it does not exist yet.
func Open(ctx context.Context, host string, port int, collection string, mode store.Mode, dimension int) (*Store, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}

	s := &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		qdrant:      pb.NewQdrantClient(conn),
		collection:  collection,
		mode:        mode,
		dimension:   dimension,
	}
	if err := s.ensureCollection(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	resp, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("qdrant list collections: %w", err)
	}
	for _, c := range resp.Collections {
		if c.Name == s.collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(s.dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection: %w", err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, key, content string, vec []float32) (int64, error) {
	if s.mode != store.ModeUpsert {
		return 0, store.ErrAppendOnly
	}
	// UUIDv5 of the key: writing the same key again replaces the point.
	return s.write(ctx, uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)), key, content, vec)
}

func (s *Store) Insert(ctx context.Context, key, content string, vec []float32) (int64, error) {
	return s.write(ctx, uuid.New(), key, content, vec)
}

func (s *Store) write(ctx context.Context, id uuid.UUID, key, content string, vec []float32) (int64, error) {
	if err := store.CheckDimension(vec, s.dimension); err != nil {
		return 0, err
	}

	point := &pb.PointStruct{
		Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}},
		Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vec}}},
		Payload: map[string]*pb.Value{
			"key":     {Kind: &pb.Value_StringValue{StringValue: key}},
			"content": {Kind: &pb.Value_StringValue{StringValue: content}},
		},
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Points:         []*pb.PointStruct{point},
		Wait:           &wait,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant upsert: %w", err)
	}
	return pointID(id), nil
}

// pointID derives a stable positive int64 identifier from the point UUID.
// Qdrant has no serial row ids; callers that need the durable identifier
// get this projection of the UUID instead.
func pointID(id uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(id[:8]) >> 1)
}

func (s *Store) Nearest(ctx context.Context, vec []float32, excludeKey string, limit int) ([]store.Neighbor, error) {
	if err := store.CheckDimension(vec, s.dimension); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}

	req := &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vec,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if excludeKey != "" {
		req.Filter = &pb.Filter{
			MustNot: []*pb.Condition{{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key:   "key",
						Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: excludeKey}},
					},
				},
			}},
		}
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	out := make([]store.Neighbor, 0, len(resp.Result))
	for _, pt := range resp.Result {
		key := ""
		if v, ok := pt.Payload["key"]; ok {
			key = v.GetStringValue()
		}
		out = append(out, store.Neighbor{
			Key:        key,
			Similarity: store.RoundSimilarity(float64(pt.Score)),
		})
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: s.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	return int64(resp.Result.Count), nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.qdrant.HealthCheck(ctx, &pb.HealthCheckRequest{})
	return err
}

func (s *Store) Close() error { return s.conn.Close() }
