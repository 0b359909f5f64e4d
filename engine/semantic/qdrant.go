package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/promtior/sitechat/engine/domain"
)

// upsertBatch bounds the points sent per Upsert call.
const upsertBatch = 256

// pointsAPI is the subset of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	UpdateAliases(ctx context.Context, in *pb.ChangeAliases, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	ListAliases(ctx context.Context, in *pb.ListAliasesRequest, opts ...grpc.CallOption) (*pb.ListAliasesResponse, error)
}

// QdrantStore keeps each rebuild in its own versioned collection
// ("<name>__<unix nanos>") and serves queries through an alias named after
// the logical collection. Replace fills the new version completely, then
// repoints the alias in a single UpdateAliases call and drops old versions.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	name        string
	now         func() time.Time
	logger      *slog.Logger
}

// NewQdrant connects to Qdrant at the given gRPC address.
func NewQdrant(addr, name string, logger *slog.Logger) (*QdrantStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	s := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), name)
	s.conn = conn
	if logger != nil {
		s.logger = logger
	}
	return s, nil
}

// NewWithClients builds a store over existing clients. Close is a no-op.
func NewWithClients(points pointsAPI, collections collectionsAPI, name string) *QdrantStore {
	return &QdrantStore{
		points:      points,
		collections: collections,
		name:        name,
		now:         time.Now,
		logger:      slog.Default(),
	}
}

// Close closes the underlying gRPC connection.
func (q *QdrantStore) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

func (q *QdrantStore) versionPrefix() string { return q.name + "__" }

func (q *QdrantStore) Replace(ctx context.Context, entries []domain.IndexEntry) error {
	version := fmt.Sprintf("%s%d", q.versionPrefix(), q.now().UnixNano())

	existing, err := q.listCollections(ctx)
	if err != nil {
		return err
	}
	aliased, err := q.aliasTarget(ctx)
	if err != nil {
		return err
	}

	var actions []*pb.AliasOperations
	if aliased != "" {
		actions = append(actions, &pb.AliasOperations{
			Action: &pb.AliasOperations_DeleteAlias{DeleteAlias: &pb.DeleteAlias{AliasName: q.name}},
		})
	}

	if len(entries) > 0 {
		if err := q.createCollection(ctx, version, len(entries[0].Embedding)); err != nil {
			return err
		}
		if err := q.upsert(ctx, version, entries); err != nil {
			q.drop(ctx, version)
			return err
		}
		actions = append(actions, &pb.AliasOperations{
			Action: &pb.AliasOperations_CreateAlias{CreateAlias: &pb.CreateAlias{
				CollectionName: version,
				AliasName:      q.name,
			}},
		})
	}

	// A plain collection holding the alias name predates versioning and
	// would block the alias.
	if existing[q.name] {
		q.drop(ctx, q.name)
	}

	if len(actions) > 0 {
		if _, err := q.collections.UpdateAliases(ctx, &pb.ChangeAliases{Actions: actions}); err != nil {
			if len(entries) > 0 {
				q.drop(ctx, version)
			}
			return fmt.Errorf("semantic: swap alias %s: %w", q.name, err)
		}
	}

	for name := range existing {
		if strings.HasPrefix(name, q.versionPrefix()) && name != version {
			q.drop(ctx, name)
		}
	}
	return nil
}

func (q *QdrantStore) Search(ctx context.Context, embedding []float32, k int) ([]domain.SearchHit, error) {
	if k <= 0 {
		return nil, nil
	}
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.name,
		Vector:         embedding,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("semantic: search %s: %w", q.name, err)
	}

	items := make([]ranked, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		payload := r.GetPayload()
		items[i] = ranked{
			hit: domain.SearchHit{
				Text:   payload["text"].GetStringValue(),
				Source: payload["source"].GetStringValue(),
				Score:  r.GetScore(),
			},
			ordinal: int(payload["ordinal"].GetIntegerValue()),
		}
	}
	return topK(items, k), nil
}

func (q *QdrantStore) listCollections(ctx context.Context) (map[string]bool, error) {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return nil, fmt.Errorf("semantic: list collections: %w", err)
	}
	out := make(map[string]bool, len(list.GetCollections()))
	for _, c := range list.GetCollections() {
		out[c.GetName()] = true
	}
	return out, nil
}

func (q *QdrantStore) aliasTarget(ctx context.Context) (string, error) {
	resp, err := q.collections.ListAliases(ctx, &pb.ListAliasesRequest{})
	if err != nil {
		return "", fmt.Errorf("semantic: list aliases: %w", err)
	}
	for _, a := range resp.GetAliases() {
		if a.GetAliasName() == q.name {
			return a.GetCollectionName(), nil
		}
	}
	return "", nil
}

func (q *QdrantStore) createCollection(ctx context.Context, name string, dims int) error {
	_, err := q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", name, err)
	}
	return nil
}

func (q *QdrantStore) upsert(ctx context.Context, collection string, entries []domain.IndexEntry) error {
	wait := true
	for start := 0; start < len(entries); start += upsertBatch {
		end := min(start+upsertBatch, len(entries))
		points := make([]*pb.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			e := entries[i]
			id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s#%d", e.Source, i))).String()
			points = append(points, &pb.PointStruct{
				Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: e.Embedding}},
				},
				Payload: map[string]*pb.Value{
					"text":    {Kind: &pb.Value_StringValue{StringValue: e.Text}},
					"source":  {Kind: &pb.Value_StringValue{StringValue: e.Source}},
					"ordinal": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(i)}},
				},
			})
		}
		_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: collection,
			Wait:           &wait,
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("semantic: upsert %d points into %s: %w", len(points), collection, err)
		}
	}
	return nil
}

// drop deletes a collection, logging instead of failing.
func (q *QdrantStore) drop(ctx context.Context, name string) {
	if _, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name}); err != nil {
		q.logger.Warn("semantic: drop collection", "collection", name, "err", err)
	}
}
