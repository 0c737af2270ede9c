package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// BackendQdrant labels qdrant metrics.
const BackendQdrant = "qdrant"

// payloadChunkID holds the original string ID; Qdrant point IDs must be
// UUIDs or integers.
const payloadChunkID = "chunk_id"

// pointNamespace derives point UUIDs from chunk IDs.
var pointNamespace = uuid.MustParse("6f0b6c6e-8c1d-4a7e-9d8f-3c2b1a0e5d4f")

// QdrantConfig configures a QdrantIndex.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Default: "localhost"
	Host string

	// Port is the gRPC port (not the 6333 REST port). Default: 6334
	Port int

	UseTLS bool
	APIKey string

	// Collection defaults to "knowledge"; it is created on first use.
	Collection string

	// Dimensions is the vector size used when creating the collection.
	Dimensions int

	// MaxMessageSize caps gRPC messages. Default: 50MB
	MaxMessageSize int

	// RequestTimeout bounds each call. Default: 30s
	RequestTimeout time.Duration

	// RetryAttempts bounds retries of transient gRPC failures. Default: 3
	RetryAttempts uint
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "knowledge"
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
}

// Validate validates the configuration.
func (c *QdrantConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d (must be 1-65535)", ErrInvalidConfig, c.Port)
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("%w: dimensions must be positive", ErrInvalidConfig)
	}
	return nil
}

// QdrantIndex implements Index on a Qdrant collection.
type QdrantIndex struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger
}

// NewQdrantIndex connects to Qdrant, checks health and ensures the
// collection exists.
func NewQdrantIndex(ctx context.Context, config QdrantConfig, logger *zap.Logger) (*QdrantIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	qcfg := &qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		APIKey: config.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	}
	if !config.UseTLS {
		qcfg.GrpcOptions = append(qcfg.GrpcOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}
	idx := &QdrantIndex{client: client, config: config, logger: logger}

	if err := idx.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant index initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection),
	)
	return idx, nil
}

func (s *QdrantIndex) ensureCollection(ctx context.Context) error {
	return s.retry(ctx, func(ctx context.Context) error {
		if _, err := s.client.HealthCheck(ctx); err != nil {
			return fmt.Errorf("health check: %w", err)
		}
		exists, err := s.client.CollectionExists(ctx, s.config.Collection)
		if err != nil {
			return fmt.Errorf("checking collection: %w", err)
		}
		if exists {
			return nil
		}
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.config.Dimensions),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		return err
	})
}

// Insert implements Index.
func (s *QdrantIndex) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records, s.config.Dimensions); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		points[i] = toPoint(r)
	}

	return s.retry(ctx, func(ctx context.Context) error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
}

// QueryNearest implements Index.
func (s *QdrantIndex) QueryNearest(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if err := validateQuery(vector, k, s.config.Dimensions); err != nil {
		return nil, err
	}

	var scored []*qdrant.ScoredPoint
	err := s.retry(ctx, func(ctx context.Context) error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		scored = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	matches := make([]Match, len(scored))
	for i, p := range scored {
		matches[i] = fromScoredPoint(p)
	}
	return matches, nil
}

// DeleteByIDs implements Index. Qdrant ignores unknown point IDs.
func (s *QdrantIndex) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(PointID(id))
	}

	return s.retry(ctx, func(ctx context.Context) error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.Collection,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: pointIDs},
				},
			},
		})
		return err
	})
}

// Close implements Index.
func (s *QdrantIndex) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// retry runs op with exponential backoff while it fails with a transient
// gRPC status. Each attempt gets its own RequestTimeout.
func (s *QdrantIndex) retry(ctx context.Context, op func(ctx context.Context) error) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()

		err := op(callCtx)
		if err == nil {
			if attempt > 1 {
				s.logger.Info("qdrant operation recovered after retries", zap.Int("attempts", attempt))
			}
			return struct{}{}, nil
		}
		if !isTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		s.logger.Debug("retrying qdrant operation after transient error",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(s.config.RetryAttempts+1),
	)
	if err != nil {
		return fmt.Errorf("qdrant: %w", err)
	}
	return nil
}

// isTransient reports whether a gRPC failure is worth retrying.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// PointID maps a chunk ID to its deterministic Qdrant point UUID.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

func toPoint(r Record) *qdrant.PointStruct {
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(PointID(r.ID)),
		Vectors: qdrant.NewVectors(r.Embedding...),
		Payload: map[string]*qdrant.Value{
			payloadChunkID:    stringValue(r.ID),
			metaTitle:         stringValue(r.Metadata.Title),
			metaChunkIndex:    {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(r.Metadata.ChunkIndex)}},
			"content":         stringValue(r.Metadata.Content),
			metaContextPrefix: stringValue(r.Metadata.ContextPrefix),
		},
	}
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func fromScoredPoint(p *qdrant.ScoredPoint) Match {
	payload := p.GetPayload()
	id := payload[payloadChunkID].GetStringValue()
	if id == "" {
		id = p.GetId().GetUuid()
	}
	return Match{
		ID:    id,
		Score: p.GetScore(),
		Metadata: Metadata{
			Title:         payload[metaTitle].GetStringValue(),
			ChunkIndex:    int(payload[metaChunkIndex].GetIntegerValue()),
			Content:       payload["content"].GetStringValue(),
			ContextPrefix: payload[metaContextPrefix].GetStringValue(),
		},
	}
}
