package credstore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/marmos91/sessionfleet/internal/logger"
)

// authDoc mirrors the "auth" collection schema from §6: one document per
// (sessionId, fileName), storing base64 AES-GCM ciphertext.
type authDoc struct {
	SessionID string `bson:"sessionId"`
	FileName  string `bson:"fileName"`
	Data      string `bson:"data"`
}

// MongoBacking persists credential records to a MongoDB collection.
type MongoBacking struct {
	coll *mongo.Collection
}

// NewMongoBacking opens a client against uri and ensures the compound
// unique index on (sessionId, fileName) from §6 exists.
func NewMongoBacking(ctx context.Context, uri, database string) (*MongoBacking, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("credstore: connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("credstore: pinging mongo: %w", err)
	}

	coll := client.Database(database).Collection("auth")
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "sessionId", Value: 1}, {Key: "fileName", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("credstore: creating auth index: %w", err)
	}

	return &MongoBacking{coll: coll}, nil
}

func (m *MongoBacking) Get(ctx context.Context, sessionID, fileName string) ([]byte, bool, error) {
	var doc authDoc
	err := m.coll.FindOne(ctx, bson.M{"sessionId": sessionID, "fileName": fileName}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("credstore: get %s/%s: %w", sessionID, fileName, err)
	}
	return []byte(doc.Data), true, nil
}

func (m *MongoBacking) Set(ctx context.Context, sessionID, fileName string, data []byte) error {
	filter := bson.M{"sessionId": sessionID, "fileName": fileName}
	update := bson.M{"$set": bson.M{"data": string(data)}}
	opts := options.Update().SetUpsert(true)
	if _, err := m.coll.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("credstore: set %s/%s: %w", sessionID, fileName, err)
	}
	return nil
}

func (m *MongoBacking) Delete(ctx context.Context, sessionID, fileName string) error {
	_, err := m.coll.DeleteOne(ctx, bson.M{"sessionId": sessionID, "fileName": fileName})
	if err != nil {
		return fmt.Errorf("credstore: delete %s/%s: %w", sessionID, fileName, err)
	}
	return nil
}

func (m *MongoBacking) DeleteAllExceptRoot(ctx context.Context, sessionID string) error {
	filter := bson.M{"sessionId": sessionID, "fileName": bson.M{"$ne": RootFileName}}
	res, err := m.coll.DeleteMany(ctx, filter)
	if err != nil {
		return fmt.Errorf("credstore: delete subkeys for %s: %w", sessionID, err)
	}
	logger.Debug("cleared subkey records", logger.KeySessionID, sessionID, "removed", res.DeletedCount)
	return nil
}

func (m *MongoBacking) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := m.coll.DeleteMany(ctx, bson.M{"sessionId": sessionID})
	if err != nil {
		return fmt.Errorf("credstore: delete session %s: %w", sessionID, err)
	}
	return nil
}

func (m *MongoBacking) Ping(ctx context.Context) error {
	return m.coll.Database().Client().Ping(ctx, nil)
}
