package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// OpenMongo connects to MongoDB and verifies the primary is reachable.
func OpenMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// MongoStore keeps one document per request in a single collection. Ledger
// changes are update pipelines on that document, so each is atomic.
type MongoStore struct {
	collection *mongo.Collection
	now        func() time.Time
}

type mongoRequest struct {
	ID      primitive.ObjectID `bson:"_id"`
	Request `bson:",inline"`
}

func (d mongoRequest) request() Request {
	item := d.Request
	item.ID = d.ID.Hex()
	item.Comments = item.Comments.normalize()
	item.Timestamp = item.Timestamp.UTC()
	item.LastActivity = item.LastActivity.UTC()
	return item
}

func NewMongoStore(collection *mongo.Collection) *MongoStore {
	return &MongoStore{collection: collection, now: time.Now}
}

// EnsureIndexes creates the activity index used by GetAll.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "lastActivity", Value: -1}, {Key: "timestamp", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create activity index: %w", err)
	}
	return nil
}

// BSON dates keep milliseconds.
func (s *MongoStore) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// bumpActivity moves lastActivity to the current time, or one millisecond past
// its stored value when the clock has not advanced.
func (s *MongoStore) bumpActivity() bson.D {
	return bson.D{{Key: "$max", Value: bson.A{
		s.clock(),
		bson.D{{Key: "$add", Value: bson.A{"$lastActivity", 1}}},
	}}}
}

func objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(strings.TrimSpace(id))
	if err != nil {
		return primitive.NilObjectID, ErrNotFound
	}
	return oid, nil
}

func (s *MongoStore) Create(ctx context.Context, draft Draft) (Request, error) {
	if err := validateDraft(draft); err != nil {
		return Request{}, err
	}
	now := s.clock()
	doc := mongoRequest{
		ID: primitive.NewObjectID(),
		Request: Request{
			GameName:      draft.GameName,
			LatestVersion: draft.LatestVersion,
			Details:       draft.Details,
			IconURL:       draft.IconURL,
			CreatedBy:     creatorOrDefault(draft.CreatedBy),
			Comments:      Ledger{},
			Timestamp:     now,
			LastActivity:  now,
		},
	}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return Request{}, fmt.Errorf("insert request: %w", err)
	}
	return doc.request(), nil
}

func (s *MongoStore) GetAll(ctx context.Context) ([]Request, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "lastActivity", Value: -1},
		{Key: "timestamp", Value: -1},
		{Key: "_id", Value: 1},
	})
	cursor, err := s.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	var docs []mongoRequest
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	items := make([]Request, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.request())
	}
	return items, nil
}

func (s *MongoStore) GetByID(ctx context.Context, id string) (Request, error) {
	oid, err := objectID(id)
	if err != nil {
		return Request{}, err
	}
	var doc mongoRequest
	err = s.collection.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Request{}, ErrNotFound
	}
	if err != nil {
		return Request{}, fmt.Errorf("get request: %w", err)
	}
	return doc.request(), nil
}

// UpdateMetadata sets only the patched fields. Values go through $literal so
// user text starting with "$" is never read as a field path.
func (s *MongoStore) UpdateMetadata(ctx context.Context, id string, patch Patch) error {
	if err := validatePatch(patch); err != nil {
		return err
	}
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	set := bson.D{}
	for _, field := range []struct {
		key   string
		value *string
	}{
		{"gameName", patch.GameName},
		{"latestVersion", patch.LatestVersion},
		{"details", patch.Details},
		{"iconUrl", patch.IconURL},
	} {
		if field.value != nil {
			set = append(set, bson.E{Key: field.key, Value: bson.D{{Key: "$literal", Value: *field.value}}})
		}
	}
	set = append(set, bson.E{Key: "lastActivity", Value: s.bumpActivity()})
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: set}},
		{{Key: "$set", Value: bson.D{{Key: "timestamp", Value: "$lastActivity"}}}},
	}
	result, err := s.collection.UpdateOne(ctx, bson.D{{Key: "_id", Value: oid}}, pipeline)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	result, err := s.collection.DeleteOne(ctx, bson.D{{Key: "_id", Value: oid}})
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) AppendComment(ctx context.Context, id string, comment Comment) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	comment.Timestamp = comment.Timestamp.UTC()
	pipeline := mongo.Pipeline{{{Key: "$set", Value: bson.D{
		{Key: "comments", Value: bson.D{{Key: "$concatArrays", Value: bson.A{
			bson.D{{Key: "$ifNull", Value: bson.A{"$comments", bson.A{}}}},
			bson.A{bson.D{{Key: "$literal", Value: comment}}},
		}}}},
		{Key: "lastActivity", Value: s.bumpActivity()},
	}}}}
	result, err := s.collection.UpdateOne(ctx, bson.D{{Key: "_id", Value: oid}}, pipeline)
	if err != nil {
		return fmt.Errorf("append comment: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveCommentAt rebuilds the array from every position except index. The
// filter requires comments.<index> to exist, so the bound and the removal are
// evaluated against the same document version.
func (s *MongoStore) RemoveCommentAt(ctx context.Context, id string, index int) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	if index < 0 {
		return fmt.Errorf("%w: index %d", ErrOutOfRange, index)
	}
	filter := bson.D{
		{Key: "_id", Value: oid},
		{Key: fmt.Sprintf("comments.%d", index), Value: bson.D{{Key: "$exists", Value: true}}},
	}
	result, err := s.collection.UpdateOne(ctx, filter, removeAtPipeline(index, s.bumpActivity()))
	if err != nil {
		return fmt.Errorf("remove comment: %w", err)
	}
	if result.MatchedCount > 0 {
		return nil
	}

	count, err := s.collection.CountDocuments(ctx, bson.D{{Key: "_id", Value: oid}})
	if err != nil {
		return fmt.Errorf("count requests: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return fmt.Errorf("%w: index %d", ErrOutOfRange, index)
}

func removeAtPipeline(index int, bump bson.D) mongo.Pipeline {
	positions := bson.D{{Key: "$filter", Value: bson.D{
		{Key: "input", Value: bson.D{{Key: "$range", Value: bson.A{0, bson.D{{Key: "$size", Value: "$comments"}}}}}},
		{Key: "as", Value: "i"},
		{Key: "cond", Value: bson.D{{Key: "$ne", Value: bson.A{"$$i", index}}}},
	}}}
	return mongo.Pipeline{{{Key: "$set", Value: bson.D{
		{Key: "comments", Value: bson.D{{Key: "$map", Value: bson.D{
			{Key: "input", Value: positions},
			{Key: "as", Value: "i"},
			{Key: "in", Value: bson.D{{Key: "$arrayElemAt", Value: bson.A{"$comments", "$$i"}}}},
		}}}},
		{Key: "lastActivity", Value: bump},
	}}}}
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.collection.Database().Client().Ping(ctx, nil)
}
