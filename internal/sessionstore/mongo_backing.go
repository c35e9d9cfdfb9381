package sessionstore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/marmos91/sessionfleet/internal/model"
)

// MongoBacking is SessionStore's "A" backing, the documented `sessions`
// collection from §6.
type MongoBacking struct {
	coll *mongo.Collection
}

// NewMongoBacking opens a client against uri and ensures the indices §6
// documents: unique sessionId, non-unique (source, isConnected), phoneNumber,
// and updatedAt descending.
func NewMongoBacking(ctx context.Context, uri, database string) (*MongoBacking, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("sessionstore: connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("sessionstore: pinging mongo: %w", err)
	}

	coll := client.Database(database).Collection("sessions")
	indices := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "sessionId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "source", Value: 1}, {Key: "isConnected", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "phoneNumber", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "updatedAt", Value: -1}},
		},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indices); err != nil {
		return nil, fmt.Errorf("sessionstore: creating sessions indices: %w", err)
	}

	return &MongoBacking{coll: coll}, nil
}

func (m *MongoBacking) Get(ctx context.Context, sessionID string) (*model.Session, bool, error) {
	return m.findOne(ctx, bson.M{"sessionId": sessionID})
}

func (m *MongoBacking) GetByPhone(ctx context.Context, phone string) (*model.Session, bool, error) {
	return m.findOne(ctx, bson.M{"phoneNumber": phone})
}

func (m *MongoBacking) findOne(ctx context.Context, filter bson.M) (*model.Session, bool, error) {
	var s model.Session
	err := m.coll.FindOne(ctx, filter).Decode(&s)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sessionstore: mongo find: %w", err)
	}
	return &s, true, nil
}

func (m *MongoBacking) Upsert(ctx context.Context, s model.Session) error {
	filter := bson.M{"sessionId": s.SessionID}
	update := bson.M{"$set": s}
	opts := options.Update().SetUpsert(true)
	if _, err := m.coll.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("sessionstore: mongo upsert %s: %w", s.SessionID, err)
	}
	return nil
}

func (m *MongoBacking) Delete(ctx context.Context, sessionID string) error {
	if _, err := m.coll.DeleteOne(ctx, bson.M{"sessionId": sessionID}); err != nil {
		return fmt.Errorf("sessionstore: mongo delete %s: %w", sessionID, err)
	}
	return nil
}

func (m *MongoBacking) List(ctx context.Context) ([]model.Session, error) {
	return m.find(ctx, bson.M{}, nil)
}

func (m *MongoBacking) ListActive(ctx context.Context) ([]model.Session, error) {
	filter := bson.M{"connectionStatus": bson.M{"$in": []model.ConnectionStatus{
		model.StatusConnected, model.StatusConnecting,
	}}}
	sort := bson.D{{Key: "updatedAt", Value: -1}}
	return m.find(ctx, filter, sort)
}

func (m *MongoBacking) find(ctx context.Context, filter bson.M, sort bson.D) ([]model.Session, error) {
	opts := options.Find()
	if sort != nil {
		opts.SetSort(sort)
	}
	cur, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: mongo list: %w", err)
	}
	defer cur.Close(ctx)

	var sessions []model.Session
	if err := cur.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("sessionstore: mongo list decode: %w", err)
	}
	return sessions, nil
}

func (m *MongoBacking) ListUndetectedWeb(ctx context.Context) ([]model.Session, error) {
	filter := bson.M{"source": model.SourceWeb, "detected": false, "isConnected": true}
	return m.find(ctx, filter, nil)
}

func (m *MongoBacking) ClaimDetected(ctx context.Context, sessionID string) (bool, error) {
	filter := bson.M{"sessionId": sessionID, "detected": false}
	update := bson.M{"$set": bson.M{"detected": true}}
	res, err := m.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("sessionstore: mongo claim detected %s: %w", sessionID, err)
	}
	return res.ModifiedCount == 1, nil
}

func (m *MongoBacking) Ping(ctx context.Context) error {
	return m.coll.Database().Client().Ping(ctx, nil)
}
