package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/insanmiy/banward/model"
)

// MongoDBStore is a networked document-database implementation of
// PunishmentStore. Records observe the same field set and invariants as the
// SQL backends; only the persistence shape differs.
type MongoDBStore struct {
	client      *mongo.Client
	database    *mongo.Database
	punishments *mongo.Collection
	identities  *mongo.Collection
}

// MongoDBStoreConfig holds configuration for MongoDBStore.
type MongoDBStoreConfig struct {
	URI      string // MongoDB connection URI (e.g. "mongodb://localhost:27017")
	Database string // Database name (default: "banward")
}

// DefaultMongoDBStoreConfig returns default configuration.
func DefaultMongoDBStoreConfig() MongoDBStoreConfig {
	return MongoDBStoreConfig{
		URI:      "mongodb://localhost:27017",
		Database: "banward",
	}
}

// NewMongoDBStore creates a new MongoDB punishment store and verifies the
// connection.
func NewMongoDBStore(ctx context.Context, config MongoDBStoreConfig) (*MongoDBStore, error) {
	if config.URI == "" {
		config.URI = "mongodb://localhost:27017"
	}
	if config.Database == "" {
		config.Database = "banward"
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("%w: connect to MongoDB: %v", ErrStorageFailure, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("%w: ping MongoDB: %v", ErrStorageFailure, err)
	}

	database := client.Database(config.Database)
	store := &MongoDBStore{
		client:      client,
		database:    database,
		punishments: database.Collection("punishments"),
		identities:  database.Collection("identities"),
	}

	if err := store.initIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

// initIndexes creates the necessary indexes.
func (s *MongoDBStore) initIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "subject_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "ip_address", Value: 1}}},
		{Keys: bson.D{{Key: "active", Value: 1}}},
	}
	if _, err := s.punishments.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("%w: create punishment indexes: %v", ErrStorageFailure, err)
	}

	_, err := s.identities.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "subject_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("%w: create identity index: %v", ErrStorageFailure, err)
	}
	return nil
}

// punishmentDocument mirrors model.Punishment with string keys for Mongo.
type punishmentDocument struct {
	SubjectID   string `bson:"subject_id"`
	SubjectName string `bson:"subject_name"`
	IPAddress   string `bson:"ip_address"`
	Kind        string `bson:"kind"`
	Reason      string `bson:"reason"`
	Operator    string `bson:"operator"`
	CreatedAt   int64  `bson:"created_at"`
	ExpiresAt   int64  `bson:"expires_at"`
	Active      bool   `bson:"active"`
}

type identityDocument struct {
	Name        string `bson:"_id"` // lowercase name
	DisplayName string `bson:"display_name"`
	SubjectID   string `bson:"subject_id"`
}

func toDocument(p *model.Punishment) punishmentDocument {
	return punishmentDocument{
		SubjectID:   p.SubjectID.String(),
		SubjectName: p.SubjectName,
		IPAddress:   p.IPAddress,
		Kind:        string(p.Kind),
		Reason:      p.Reason,
		Operator:    p.Operator,
		CreatedAt:   p.CreatedAt,
		ExpiresAt:   p.ExpiresAt,
		Active:      p.Active,
	}
}

func fromDocument(doc punishmentDocument) (*model.Punishment, error) {
	id, err := uuid.Parse(doc.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("%w: parse subject id %q: %v", ErrStorageFailure, doc.SubjectID, err)
	}
	return &model.Punishment{
		SubjectID:   id,
		SubjectName: doc.SubjectName,
		IPAddress:   doc.IPAddress,
		Kind:        model.Kind(doc.Kind),
		Reason:      doc.Reason,
		Operator:    doc.Operator,
		CreatedAt:   doc.CreatedAt,
		ExpiresAt:   doc.ExpiresAt,
		Active:      doc.Active,
	}, nil
}

// Save inserts a new punishment record.
func (s *MongoDBStore) Save(ctx context.Context, p *model.Punishment) error {
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	if _, err := s.punishments.InsertOne(ctx, toDocument(p)); err != nil {
		return fmt.Errorf("%w: save punishment: %v", ErrStorageFailure, err)
	}
	return nil
}

// MarkInactive flips active=false for the identified record.
func (s *MongoDBStore) MarkInactive(ctx context.Context, subjectID uuid.UUID, createdAt int64) error {
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	_, err := s.punishments.UpdateOne(ctx,
		bson.M{"subject_id": subjectID.String(), "created_at": createdAt, "active": true},
		bson.M{"$set": bson.M{"active": false}})
	if err != nil {
		return fmt.Errorf("%w: mark punishment inactive: %v", ErrStorageFailure, err)
	}
	return nil
}

// QueryActive returns records for the subject with a stored active flag.
func (s *MongoDBStore) QueryActive(ctx context.Context, subjectID uuid.UUID) ([]*model.Punishment, error) {
	return s.queryPunishments(ctx, bson.M{"subject_id": subjectID.String(), "active": true})
}

// QueryHistory returns all records for the subject, newest first.
func (s *MongoDBStore) QueryHistory(ctx context.Context, subjectID uuid.UUID) ([]*model.Punishment, error) {
	return s.queryPunishments(ctx, bson.M{"subject_id": subjectID.String()})
}

// QueryByIP returns all records bearing the given IP address.
func (s *MongoDBStore) QueryByIP(ctx context.Context, ip string) ([]*model.Punishment, error) {
	if ip == "" {
		return nil, nil
	}
	return s.queryPunishments(ctx, bson.M{"ip_address": ip})
}

// ListActive returns every stored-active record across all subjects.
func (s *MongoDBStore) ListActive(ctx context.Context) ([]*model.Punishment, error) {
	return s.queryPunishments(ctx, bson.M{"active": true})
}

// queryPunishments runs a filter query sorted newest first.
func (s *MongoDBStore) queryPunishments(ctx context.Context, filter bson.M) ([]*model.Punishment, error) {
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	cursor, err := s.punishments.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("%w: query punishments: %v", ErrStorageFailure, err)
	}
	defer cursor.Close(ctx)

	var out []*model.Punishment
	for cursor.Next(ctx) {
		var doc punishmentDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: decode punishment: %v", ErrStorageFailure, err)
		}
		p, err := fromDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate punishments: %v", ErrStorageFailure, err)
	}
	return out, nil
}

// ResolveIdentity looks up a subject ID by display name.
func (s *MongoDBStore) ResolveIdentity(ctx context.Context, name string) (uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	var doc identityDocument
	err := s.identities.FindOne(ctx, bson.M{"_id": strings.ToLower(name)}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: resolve identity: %v", ErrStorageFailure, err)
	}

	id, err := uuid.Parse(doc.SubjectID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: parse subject id %q: %v", ErrStorageFailure, doc.SubjectID, err)
	}
	return id, nil
}

// LookupName returns the last known display name for a subject ID.
func (s *MongoDBStore) LookupName(ctx context.Context, subjectID uuid.UUID) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	var doc identityDocument
	err := s.identities.FindOne(ctx, bson.M{"subject_id": subjectID.String()}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: lookup name: %v", ErrStorageFailure, err)
	}
	return doc.DisplayName, nil
}

// CacheIdentity records a name to subject ID association, last write wins.
func (s *MongoDBStore) CacheIdentity(ctx context.Context, name string, subjectID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	doc := identityDocument{
		Name:        strings.ToLower(name),
		DisplayName: name,
		SubjectID:   subjectID.String(),
	}
	_, err := s.identities.ReplaceOne(ctx, bson.M{"_id": doc.Name}, doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("%w: cache identity: %v", ErrStorageFailure, err)
	}
	return nil
}

// ListKnownNames returns every display name in the identity cache.
func (s *MongoDBStore) ListKnownNames(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	cursor, err := s.identities.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("%w: list known names: %v", ErrStorageFailure, err)
	}
	defer cursor.Close(ctx)

	var names []string
	for cursor.Next(ctx) {
		var doc identityDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: decode identity: %v", ErrStorageFailure, err)
		}
		names = append(names, doc.DisplayName)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate identities: %v", ErrStorageFailure, err)
	}
	return names, nil
}

// ClearAll wipes all punishments and cached identities.
func (s *MongoDBStore) ClearAll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	if _, err := s.punishments.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("%w: clear punishments: %v", ErrStorageFailure, err)
	}
	if _, err := s.identities.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("%w: clear identities: %v", ErrStorageFailure, err)
	}
	return nil
}

// Close closes the MongoDB connection.
func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ensure MongoDBStore implements PunishmentStore
var _ PunishmentStore = (*MongoDBStore)(nil)
