// Package milvusvector implements pgbackend.VectorStore against a
// Milvus cluster, the HNSW-capable vector engine backing large-scale
// retrieval. Collections are created lazily per scope, one per
// tenant+scope pair, with an HNSW index over a float vector field.
package milvusvector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/llmspell-go/kernel/internal/storage"
)

const (
	fieldID       = "id"
	fieldVector   = "embedding"
	fieldMetadata = "metadata"

	indexHNSW = "hnsw_idx"
)

// Store is a pgbackend.VectorStore backed by a Milvus collection per
// scope. Dimension is fixed per collection at creation time, matching
// Milvus's schema-bound vector fields.
type Store struct {
	cli      client.Client
	dim      int
	metric   entity.MetricType
	efSearch int
}

// New connects to a Milvus instance at addr. dim must be one of
// domain.SupportedVectorDimensions; it is fixed for every collection
// this Store creates.
func New(ctx context.Context, addr string, dim int) (*Store, error) {
	cli, err := client.NewGrpcClient(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("milvusvector: connect: %w", err)
	}
	return &Store{cli: cli, dim: dim, metric: entity.COSINE, efSearch: 64}, nil
}

func (s *Store) SupportedDimensions() []int { return []int{s.dim} }
func (s *Store) SupportsHNSW() bool         { return true }

func (s *Store) ensureCollection(ctx context.Context, collection string) error {
	ok, err := s.cli.HasCollection(ctx, collection)
	if err != nil {
		return fmt.Errorf("milvusvector: has collection: %w", err)
	}
	if ok {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: collection,
		Fields: []*entity.Field{
			{Name: fieldID, DataType: entity.FieldTypeVarChar, PrimaryKey: true, TypeParams: map[string]string{"max_length": "128"}},
			{Name: fieldVector, DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{"dim": fmt.Sprintf("%d", s.dim)}},
			{Name: fieldMetadata, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "65535"}},
		},
	}
	if err := s.cli.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("milvusvector: create collection: %w", err)
	}

	idx, err := entity.NewIndexHNSW(s.metric, 16, 200)
	if err != nil {
		return fmt.Errorf("milvusvector: build hnsw index params: %w", err)
	}
	if err := s.cli.CreateIndex(ctx, collection, fieldVector, idx, false); err != nil {
		return fmt.Errorf("milvusvector: create index: %w", err)
	}
	if err := s.cli.LoadCollection(ctx, collection, false); err != nil {
		return fmt.Errorf("milvusvector: load collection: %w", err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, collection, id string, vec []float32, metadata map[string]any) error {
	if len(vec) != s.dim {
		return storage.Fatal(fmt.Errorf("milvusvector: expected dimension %d, got %d", s.dim, len(vec)))
	}
	if err := s.ensureCollection(ctx, collection); err != nil {
		return err
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("milvusvector: marshal metadata: %w", err)
	}

	idCol := entity.NewColumnVarChar(fieldID, []string{id})
	vecCol := entity.NewColumnFloatVector(fieldVector, s.dim, [][]float32{vec})
	metaCol := entity.NewColumnVarChar(fieldMetadata, []string{string(metaJSON)})

	if _, err := s.cli.Upsert(ctx, collection, "", idCol, vecCol, metaCol); err != nil {
		return storage.Transient(fmt.Errorf("milvusvector: upsert: %w", err))
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	expr := fmt.Sprintf("%s in [%q]", fieldID, id)
	if err := s.cli.Delete(ctx, collection, "", expr); err != nil {
		return storage.Transient(fmt.Errorf("milvusvector: delete: %w", err))
	}
	return nil
}

func (s *Store) Search(ctx context.Context, collection string, query []float32, k int, threshold float32) ([]storage.VectorResult, error) {
	if len(query) != s.dim {
		return nil, storage.Fatal(fmt.Errorf("milvusvector: expected dimension %d, got %d", s.dim, len(query)))
	}

	ok, err := s.cli.HasCollection(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("milvusvector: has collection: %w", err)
	}
	if !ok {
		return nil, nil
	}

	sp, err := entity.NewIndexHNSWSearchParam(s.efSearch)
	if err != nil {
		return nil, fmt.Errorf("milvusvector: build search params: %w", err)
	}

	results, err := s.cli.Search(ctx, collection, nil, "", []string{fieldMetadata}, []entity.Vector{
		entity.FloatVector(query),
	}, fieldVector, s.metric, k, sp)
	if err != nil {
		return nil, storage.Transient(fmt.Errorf("milvusvector: search: %w", err))
	}

	var out []storage.VectorResult
	for _, r := range results {
		metaCol, _ := r.Fields.GetColumn(fieldMetadata).(*entity.ColumnVarChar)
		for i := 0; i < r.ResultCount; i++ {
			score := r.Scores[i]
			if score < threshold {
				continue
			}
			var meta map[string]any
			if metaCol != nil {
				_ = json.Unmarshal([]byte(metaCol.Data()[i]), &meta)
			}
			id, _ := r.IDs.GetAsString(i)
			out = append(out, storage.VectorResult{ID: id, Score: score, Metadata: meta})
		}
	}
	return out, nil
}

// Close releases the underlying gRPC connection.
func (s *Store) Close() error { return s.cli.Close() }
