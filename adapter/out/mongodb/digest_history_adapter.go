package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"digest_server/core/domain"
	"digest_server/core/port/out"
)

// =============================================================================
// MongoDB Run History Adapter
// =============================================================================

const (
	collectionRuns = "digest_runs"

	// Item payloads above this size are gzip compressed.
	itemCompressionThreshold = 512 // bytes

	// Audit copies expire after this long; the TTL index enforces it.
	defaultRetention = 90 * 24 * time.Hour
)

// HistoryAdapter implements out.RunHistoryStore using MongoDB.
type HistoryAdapter struct {
	collection *mongo.Collection
	retention  time.Duration
}

// NewHistoryAdapter creates a new MongoDB run history adapter.
func NewHistoryAdapter(db *mongo.Database) *HistoryAdapter {
	return &HistoryAdapter{
		collection: db.Collection(collectionRuns),
		retention:  defaultRetention,
	}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *HistoryAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "run_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "identity", Value: 1},
				{Key: "tick_time", Value: -1},
			},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0), // TTL index
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// =============================================================================
// Document Model
// =============================================================================

// runDocument represents the MongoDB document structure. Items are stored as
// a JSON blob so the domain shape can evolve without schema migrations.
type runDocument struct {
	RunID    int64     `bson:"run_id"`
	Identity string    `bson:"identity"`
	Email    string    `bson:"email"`
	TickTime time.Time `bson:"tick_time"`

	Items           []byte `bson:"items,omitempty"`
	ItemsCompressed bool   `bson:"items_compressed"`
	OriginalSize    int64  `bson:"original_size"`

	TotalProcessed int `bson:"total_processed"`
	RepliesDrafted int `bson:"replies_drafted"`
	ActionOnly     int `bson:"action_only"`
	FailedItems    int `bson:"failed_items"`

	Succeeded bool   `bson:"succeeded"`
	Error     string `bson:"error,omitempty"`

	StartedAt   time.Time `bson:"started_at"`
	CompletedAt time.Time `bson:"completed_at"`
	ExpiresAt   time.Time `bson:"expires_at"`
}

// =============================================================================
// Operations
// =============================================================================

// Save upserts the audit copy of one run, keyed by run_id so scheduler
// retries overwrite instead of duplicating.
func (a *HistoryAdapter) Save(ctx context.Context, run *domain.DigestRun) error {
	doc, err := a.toDocument(run)
	if err != nil {
		return fmt.Errorf("failed to convert run to document: %w", err)
	}

	opts := options.Replace().SetUpsert(true)
	filter := bson.M{"run_id": run.ID}

	if _, err := a.collection.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// ListByUser returns runs for a user, newest first.
func (a *HistoryAdapter) ListByUser(ctx context.Context, identity uuid.UUID, limit, offset int) ([]*domain.DigestRun, error) {
	filter := bson.M{"identity": identity.String()}

	findOpts := options.Find().SetSort(bson.D{{Key: "tick_time", Value: -1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	if offset > 0 {
		findOpts.SetSkip(int64(offset))
	}

	cursor, err := a.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer cursor.Close(ctx)

	var runs []*domain.DigestRun
	for cursor.Next(ctx) {
		var doc runDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode run: %w", err)
		}

		run, err := a.toDomain(&doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, cursor.Err()
}

// LatestByUser returns the most recent run, or nil when the user has none.
func (a *HistoryAdapter) LatestByUser(ctx context.Context, identity uuid.UUID) (*domain.DigestRun, error) {
	filter := bson.M{"identity": identity.String()}
	findOpts := options.FindOne().SetSort(bson.D{{Key: "tick_time", Value: -1}})

	var doc runDocument
	err := a.collection.FindOne(ctx, filter, findOpts).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}

	return a.toDomain(&doc)
}

// =============================================================================
// Conversion Helpers
// =============================================================================

func (a *HistoryAdapter) toDocument(run *domain.DigestRun) (*runDocument, error) {
	doc := &runDocument{
		RunID:          run.ID,
		Identity:       run.Identity.String(),
		Email:          run.Email,
		TickTime:       run.TickTime,
		TotalProcessed: run.TotalProcessed,
		RepliesDrafted: run.RepliesDrafted,
		ActionOnly:     run.ActionOnly,
		FailedItems:    run.FailedItems,
		Succeeded:      run.Succeeded,
		Error:          run.Error,
		StartedAt:      run.StartedAt,
		CompletedAt:    run.CompletedAt,
		ExpiresAt:      time.Now().Add(a.retention),
	}

	if len(run.Items) > 0 {
		itemBytes, err := json.Marshal(run.Items)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal items: %w", err)
		}
		doc.OriginalSize = int64(len(itemBytes))

		if doc.OriginalSize > itemCompressionThreshold {
			compressed, err := compressItems(itemBytes)
			if err != nil {
				return nil, fmt.Errorf("failed to compress items: %w", err)
			}
			itemBytes = compressed
			doc.ItemsCompressed = true
		}
		doc.Items = itemBytes
	}

	return doc, nil
}

func (a *HistoryAdapter) toDomain(doc *runDocument) (*domain.DigestRun, error) {
	identity, err := uuid.Parse(doc.Identity)
	if err != nil {
		return nil, fmt.Errorf("failed to parse identity: %w", err)
	}

	run := &domain.DigestRun{
		ID:             doc.RunID,
		Identity:       identity,
		Email:          doc.Email,
		TickTime:       doc.TickTime,
		TotalProcessed: doc.TotalProcessed,
		RepliesDrafted: doc.RepliesDrafted,
		ActionOnly:     doc.ActionOnly,
		FailedItems:    doc.FailedItems,
		Succeeded:      doc.Succeeded,
		Error:          doc.Error,
		StartedAt:      doc.StartedAt,
		CompletedAt:    doc.CompletedAt,
	}

	if len(doc.Items) > 0 {
		itemBytes := doc.Items
		if doc.ItemsCompressed {
			decompressed, err := decompressItems(itemBytes)
			if err != nil {
				return nil, fmt.Errorf("failed to decompress items: %w", err)
			}
			itemBytes = decompressed
		}
		if err := json.Unmarshal(itemBytes, &run.Items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal items: %w", err)
		}
	}

	return run, nil
}

// =============================================================================
// Compression Helpers
// =============================================================================

func compressItems(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)

	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompressItems(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

// =============================================================================
// Interface Compliance
// =============================================================================

var _ out.RunHistoryStore = (*HistoryAdapter)(nil)
