// Package mongo implements store.VectorStore on MongoDB. Chunks and
// their embeddings live in a single collection; similarity ranking runs
// in process over the filtered candidate set.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sweetpotato0/policyqa/document"
	"github.com/sweetpotato0/policyqa/llm"
	"github.com/sweetpotato0/policyqa/store"
)

// Config holds MongoDB connection configuration.
type Config struct {
	URI        string
	Database   string
	Collection string
}

// DefaultConfig returns default MongoDB configuration.
func DefaultConfig() *Config {
	return &Config{
		URI:        "mongodb://localhost:27017",
		Database:   "policyqa",
		Collection: "chunks",
	}
}

// Store implements store.VectorStore using MongoDB.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// mongoChunk is the internal representation for MongoDB.
type mongoChunk struct {
	ID        string    `bson:"_id"`
	Dockey    string    `bson:"dockey"`
	Docname   string    `bson:"docname"`
	Citation  string    `bson:"citation"`
	Filepath  string    `bson:"filepath,omitempty"`
	Name      string    `bson:"name"`
	Text      string    `bson:"text"`
	Embedding []float32 `bson:"embedding"`
	CreatedAt time.Time `bson:"created_at"`
}

// New creates a MongoDB-backed vector store.
func New(config *Config) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &Store{
		client:     client,
		collection: client.Database(config.Database).Collection(config.Collection),
	}
	if err := s.createIndexes(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	indexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "dockey", Value: 1}},
	}
	_, err := s.collection.Indexes().CreateOne(ctx, indexModel)
	return err
}

// Add implements store.VectorStore.
func (s *Store) Add(ctx context.Context, chunks ...*document.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(chunks))
	now := time.Now()
	for _, c := range chunks {
		if c == nil || c.ID == "" || c.Doc == nil {
			return fmt.Errorf("chunk must have an id and a document")
		}
		doc := mongoChunk{
			ID:        c.ID,
			Dockey:    c.Doc.Dockey,
			Docname:   c.Doc.Docname,
			Citation:  c.Doc.Citation,
			Filepath:  c.Doc.Filepath,
			Name:      c.Name,
			Text:      c.Text,
			Embedding: c.Embedding,
			CreatedAt: now,
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": c.ID}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	if _, err := s.collection.BulkWrite(ctx, models); err != nil {
		return fmt.Errorf("failed to write chunks: %w", err)
	}
	return nil
}

// SimilaritySearch implements store.VectorStore. Candidates matching
// the filter are fetched and ranked by cosine similarity in process.
func (s *Store) SimilaritySearch(ctx context.Context, query string, k int, embedder llm.Embedder, filter *store.Filter) ([]*document.Chunk, []float64, error) {
	if k <= 0 {
		return nil, nil, nil
	}
	candidates, err := s.BulkFetch(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	if len(candidates) == 0 {
		return nil, nil, nil
	}

	vectors, err := embedder.EmbedDocuments(ctx, []string{query})
	if err != nil {
		return nil, nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil, fmt.Errorf("embedder returned no vector for query")
	}
	return store.RankBySimilarity(candidates, vectors[0], k)
}

// BulkFetch implements store.VectorStore.
func (s *Store) BulkFetch(ctx context.Context, filter *store.Filter) ([]*document.Chunk, error) {
	query := bson.M{}
	if filter != nil && len(filter.Dockeys) > 0 {
		query["dockey"] = bson.M{"$in": filter.Dockeys}
	}

	cursor, err := s.collection.Find(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chunks: %w", err)
	}
	defer cursor.Close(ctx)

	var chunks []*document.Chunk
	for cursor.Next(ctx) {
		var mc mongoChunk
		if err := cursor.Decode(&mc); err != nil {
			return nil, fmt.Errorf("failed to decode chunk: %w", err)
		}
		chunk := &document.Chunk{
			ID:   mc.ID,
			Name: mc.Name,
			Text: mc.Text,
			Doc: &document.Document{
				Dockey:   mc.Dockey,
				Docname:  mc.Docname,
				Citation: mc.Citation,
				Filepath: mc.Filepath,
			},
			Embedding: mc.Embedding,
		}
		chunks = append(chunks, chunk.WithPages())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}
	return chunks, nil
}

// Clear implements store.VectorStore.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.collection.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	return nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
