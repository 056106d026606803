// Package mongostore implements the session store on a MongoDB collection.
//
// Each session is one document in the configured collection (default
// "sessions") using the field names discordId, username, discriminator,
// startTime, endTime, isFinished, subject and timeSpent. Document ids are
// ObjectIDs exposed as hex strings; a string that is not a valid ObjectID is
// treated as an id that matches nothing.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tools.zach/dev/tallybot/internal/worklog"
)

// ///////////////////////////////////////////////
// Options
// ///////////////////////////////////////////////

// DefaultCollection is the collection used when Options.Collection is empty.
const DefaultCollection = "sessions"

// Options configures the connection.
type Options struct {
	// URI is the MongoDB connection string.
	URI string
	// Database holds the sessions collection.
	Database string
	// Collection defaults to [DefaultCollection].
	Collection string
	// Timeout bounds connecting and each operation issued by the driver.
	Timeout time.Duration
}

// ///////////////////////////////////////////////
// Document Mapping
// ///////////////////////////////////////////////

// sessionDoc is the stored shape of a [worklog.Session]. Optional fields
// use omitempty so unset values are never written.
type sessionDoc struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	DiscordID     string             `bson:"discordId"`
	Username      string             `bson:"username"`
	Discriminator string             `bson:"discriminator"`
	StartTime     time.Time          `bson:"startTime"`
	EndTime       *time.Time         `bson:"endTime,omitempty"`
	IsFinished    bool               `bson:"isFinished"`
	Subject       string             `bson:"subject,omitempty"`
	TimeSpent     *int64             `bson:"timeSpent,omitempty"`
}

func toDoc(s worklog.Session) sessionDoc {
	return sessionDoc{
		DiscordID:     s.DiscordID,
		Username:      s.Username,
		Discriminator: s.Discriminator,
		StartTime:     s.StartTime.UTC(),
		EndTime:       s.EndTime,
		IsFinished:    s.IsFinished,
		Subject:       s.Subject,
		TimeSpent:     s.TimeSpent,
	}
}

func (d sessionDoc) session() *worklog.Session {
	return &worklog.Session{
		ID:            d.ID.Hex(),
		DiscordID:     d.DiscordID,
		Username:      d.Username,
		Discriminator: d.Discriminator,
		StartTime:     d.StartTime,
		EndTime:       d.EndTime,
		IsFinished:    d.IsFinished,
		Subject:       d.Subject,
		TimeSpent:     d.TimeSpent,
	}
}

// ///////////////////////////////////////////////
// Filters
// ///////////////////////////////////////////////

func openFilter(discordID, discriminator string) bson.D {
	return bson.D{
		{Key: "discordId", Value: discordID},
		{Key: "discriminator", Value: discriminator},
		{Key: "isFinished", Value: false},
	}
}

func userFilter(discordID string) bson.D {
	return bson.D{{Key: "discordId", Value: discordID}}
}

func endedFilter(discordID string) bson.D {
	return bson.D{
		{Key: "discordId", Value: discordID},
		{Key: "endTime", Value: bson.D{{Key: "$exists", Value: true}}},
	}
}

func finishUpdate(endTime time.Time, timeSpentMS int64) bson.D {
	return bson.D{{Key: "$set", Value: bson.D{
		{Key: "endTime", Value: endTime.UTC()},
		{Key: "isFinished", Value: true},
		{Key: "timeSpent", Value: timeSpentMS},
	}}}
}

func endTimeUpdate(endTime time.Time, timeSpentMS int64) bson.D {
	return bson.D{{Key: "$set", Value: bson.D{
		{Key: "endTime", Value: endTime.UTC()},
		{Key: "timeSpent", Value: timeSpentMS},
	}}}
}

// ///////////////////////////////////////////////
// Store
// ///////////////////////////////////////////////

// Store is a [worklog.Store] backed by a MongoDB collection.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ worklog.Store = (*Store)(nil)

// Open connects to MongoDB and verifies the connection with a ping.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.URI == "" {
		return nil, errors.New("mongo: connection URI is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongo: database name is required")
	}
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}

	clientOpts := options.Client().ApplyURI(opts.URI)
	if opts.Timeout > 0 {
		clientOpts.SetTimeout(opts.Timeout).SetConnectTimeout(opts.Timeout)
	}
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	slog.Debug("connected to mongo", "database", opts.Database, "collection", opts.Collection)
	return &Store{
		client: client,
		coll:   client.Database(opts.Database).Collection(opts.Collection),
	}, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes backing the open-session and
// latest-session queries. Existing indexes are left as they are.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "discordId", Value: 1}, {Key: "discriminator", Value: 1}, {Key: "isFinished", Value: 1}}},
		{Keys: bson.D{{Key: "discordId", Value: 1}, {Key: "endTime", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

// Insert adds s as a new document.
func (s *Store) Insert(ctx context.Context, sess worklog.Session) (*worklog.Session, error) {
	doc := toDoc(sess)
	res, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, err
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return nil, fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	doc.ID = oid
	return doc.session(), nil
}

// FindOpen returns one unfinished session for the user.
func (s *Store) FindOpen(ctx context.Context, discordID, discriminator string) (*worklog.Session, error) {
	return s.findOne(ctx, openFilter(discordID, discriminator), nil)
}

// MarkFinished closes the session with the given id.
func (s *Store) MarkFinished(ctx context.Context, id string, endTime time.Time, timeSpentMS int64) error {
	return s.updateByID(ctx, id, finishUpdate(endTime, timeSpentMS))
}

// ListByUser returns every session owned by discordID.
func (s *Store) ListByUser(ctx context.Context, discordID string) ([]worklog.Session, error) {
	cur, err := s.coll.Find(ctx, userFilter(discordID))
	if err != nil {
		return nil, err
	}
	var docs []sessionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]worklog.Session, 0, len(docs))
	for _, d := range docs {
		out = append(out, *d.session())
	}
	return out, nil
}

// LatestEnded returns the user's session with the greatest endTime.
func (s *Store) LatestEnded(ctx context.Context, discordID string) (*worklog.Session, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "endTime", Value: -1}})
	return s.findOne(ctx, endedFilter(discordID), opts)
}

// Get returns the session with the given id.
func (s *Store) Get(ctx context.Context, id string) (*worklog.Session, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	return s.findOne(ctx, bson.D{{Key: "_id", Value: oid}}, nil)
}

// Delete removes the session with the given id.
func (s *Store) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil
	}
	_, err = s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: oid}})
	return err
}

// UpdateEndTime sets endTime and timeSpent on the session with the given id.
func (s *Store) UpdateEndTime(ctx context.Context, id string, endTime time.Time, timeSpentMS int64) error {
	return s.updateByID(ctx, id, endTimeUpdate(endTime, timeSpentMS))
}

func (s *Store) findOne(ctx context.Context, filter bson.D, opts *options.FindOneOptions) (*worklog.Session, error) {
	var doc sessionDoc
	var res *mongo.SingleResult
	if opts != nil {
		res = s.coll.FindOne(ctx, filter, opts)
	} else {
		res = s.coll.FindOne(ctx, filter)
	}
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return doc.session(), nil
}

func (s *Store) updateByID(ctx context.Context, id string, update bson.D) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return worklog.ErrSessionNotFound
	}
	res, err := s.coll.UpdateByID(ctx, oid, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return worklog.ErrSessionNotFound
	}
	return nil
}
