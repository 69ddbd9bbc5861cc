package pricer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/maxbolgarin/contem"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/gorder"
	"github.com/maxbolgarin/logze"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const accountsCollectionName = "accounts"

// DatabaseConfig contains database configuration for creating a MongoDB client.
//
// You can use environment variables to fill it:
// PRICER_DB_ADDRESS - MongoDB address
// PRICER_DB_NAME - database name
// PRICER_DB_USERNAME - MongoDB username
// PRICER_DB_PASSWORD - MongoDB password
type DatabaseConfig struct {
	// Address is the MongoDB address in ip:port format.
	Address string `yaml:"address" env:"PRICER_DB_ADDRESS"`
	// DBName is the name of the MongoDB database.
	DBName string `yaml:"db_name" env:"PRICER_DB_NAME"`
	// Username is the MongoDB username.
	Username string `yaml:"username" env:"PRICER_DB_USERNAME"`
	// Password is the MongoDB password.
	Password string `yaml:"password" env:"PRICER_DB_PASSWORD"`
}

// Validate validates database configuration.
func (cfg DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&cfg,
		validation.Field(&cfg.Address, validation.Required),
		validation.Field(&cfg.DBName, validation.Required),
		validation.Field(&cfg.Username, validation.Required.When(len(cfg.Password) > 0)),
		validation.Field(&cfg.Password, validation.Required.When(len(cfg.Username) > 0)),
	)
}

// MongoDB is a MongoDB client that hands out collections.
type MongoDB struct {
	database *mongo.Database
	client   *mongo.Client
}

// NewMongo creates a new MongoDB client and registers its disconnect in the
// application lifecycle.
func NewMongo(ctx contem.Context, cfg DatabaseConfig) (*MongoDB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("mongodb://%s/%s", cfg.Address, cfg.DBName)
	opts := options.Client().ApplyURI(dsn)
	if len(cfg.Username) > 0 && len(cfg.Password) > 0 {
		opts.SetAuth(options.Credential{
			AuthMechanism: "SCRAM-SHA-256",
			AuthSource:    cfg.DBName,
			Username:      cfg.Username,
			Password:      cfg.Password,
		})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	ctx.Add(client.Disconnect)

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, err
	}

	return &MongoDB{
		database: client.Database(cfg.DBName),
		client:   client,
	}, nil
}

// Collection returns a collection handle by name.
func (m *MongoDB) Collection(name string) *Collection {
	return &Collection{
		coll: m.database.Collection(name),
		name: name,
	}
}

// Collection handles interactions with a MongoDB collection.
type Collection struct {
	coll *mongo.Collection
	name string
}

// CreateUniqueIndex creates a unique index with the given field names.
func (m *Collection) CreateUniqueIndex(ctx context.Context, fieldNames ...string) error {
	keys := make(bson.D, 0, len(fieldNames))
	for _, field := range fieldNames {
		keys = append(keys, bson.E{Key: field, Value: 1})
	}
	indexModel := mongo.IndexModel{
		Keys:    keys,
		Options: options.Index().SetUnique(true).SetName(m.name + "_unique_index"),
	}
	if _, err := m.coll.Indexes().CreateOne(ctx, indexModel); err != nil {
		return err
	}
	return nil
}

// FindOne finds a single document matching the filter.
func (m *Collection) FindOne(ctx context.Context, dest any, filter Filter) error {
	result := m.coll.FindOne(ctx, bson.M(filter))
	err := result.Err()

	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case err != nil:
		return err
	}

	if err := result.Decode(dest); err != nil {
		return errm.Wrap(err, "decode")
	}
	return nil
}

// FindMany finds documents matching the filter. A zero limit means no limit.
func (m *Collection) FindMany(ctx context.Context, dest any, filter Filter, limit int64) error {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cur, err := m.coll.Find(ctx, bson.M(filter), opts)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case err != nil:
		return err
	}
	defer cur.Close(ctx)

	if err := cur.All(ctx, dest); err != nil {
		return err
	}
	return cur.Err()
}

// FindAll finds all documents in the collection.
func (m *Collection) FindAll(ctx context.Context, dest any) error {
	return m.FindMany(ctx, dest, Filter{}, 0)
}

// Count counts documents matching the filter.
func (m *Collection) Count(ctx context.Context, filter Filter) (int64, error) {
	count, err := m.coll.CountDocuments(ctx, bson.M(filter))
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Insert inserts a document into the collection.
func (m *Collection) Insert(ctx context.Context, record any) error {
	_, err := m.coll.InsertOne(ctx, record)
	switch {
	case isDuplicateErr(err):
		return ErrDuplicate
	case err != nil:
		return err
	}
	return nil
}

// Replace replaces a document matching the filter with upsert semantics:
// update if it exists, insert otherwise.
func (m *Collection) Replace(ctx context.Context, record any, filter Filter) error {
	upsert := true
	_, err := m.coll.ReplaceOne(ctx, bson.M(filter), record, &options.ReplaceOptions{
		Upsert: &upsert,
	})
	return err
}

// Delete deletes a document matching the filter.
func (m *Collection) Delete(ctx context.Context, filter Filter) error {
	_, err := m.coll.DeleteOne(ctx, bson.M(filter))
	return err
}

// Filter is a map containing query operators to filter documents.
type Filter map[string]any

func isDuplicateErr(err error) bool {
	var e mongo.WriteException
	if errors.As(err, &e) {
		for _, we := range e.WriteErrors {
			if we.Code == 11000 {
				return true
			}
		}
	}
	return false
}

// AccountStorage is the persistent store of account rows, keyed by chat id.
type AccountStorage struct {
	coll *Collection
}

// NewAccountStorage creates the accounts collection handle and ensures the
// unique index on chat id.
func NewAccountStorage(ctx context.Context, db *MongoDB) (*AccountStorage, error) {
	coll := db.Collection(accountsCollectionName)
	if err := coll.CreateUniqueIndex(ctx, "id"); err != nil {
		return nil, errm.Wrap(err, "create accounts index")
	}
	return &AccountStorage{coll: coll}, nil
}

// GetAccount loads one account row. The second return is false when the row
// does not exist.
func (s *AccountStorage) GetAccount(ctx context.Context, chatID int64) (AccountRecord, bool, error) {
	var rec AccountRecord
	err := s.coll.FindOne(ctx, &rec, Filter{"id": chatID})
	switch {
	case errm.Is(err, ErrNotFound):
		return AccountRecord{}, false, nil
	case err != nil:
		return AccountRecord{}, false, errm.Wrap(err, "find account", "chat_id", chatID)
	}
	return rec, true, nil
}

// UpsertAccount writes one account row: update if exists, insert otherwise.
func (s *AccountStorage) UpsertAccount(ctx context.Context, rec AccountRecord) error {
	if err := s.coll.Replace(ctx, rec, Filter{"id": rec.ChatID}); err != nil {
		return errm.Wrap(err, "upsert account", "chat_id", rec.ChatID)
	}
	return nil
}

// DeleteAccount removes the stored row. Used only by the explicit opt-out path.
func (s *AccountStorage) DeleteAccount(ctx context.Context, chatID int64) error {
	return s.coll.Delete(ctx, Filter{"id": chatID})
}

// GetAllAccountIDs returns the chat ids of every stored account.
func (s *AccountStorage) GetAllAccountIDs(ctx context.Context) ([]int64, error) {
	var rows []struct {
		ChatID int64 `bson:"id"`
	}
	if err := s.coll.FindAll(ctx, &rows); err != nil {
		return nil, errm.Wrap(err, "find all account ids")
	}
	out := make([]int64, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ChatID)
	}
	return out, nil
}

// GetSpecialAccounts returns rows with the given field value, e.g. all admins
// by mode. A zero limit means no limit.
func (s *AccountStorage) GetSpecialAccounts(ctx context.Context, field string, value any, limit int64) ([]AccountRecord, error) {
	var rows []AccountRecord
	if err := s.coll.FindMany(ctx, &rows, Filter{field: value}, limit); err != nil {
		return nil, errm.Wrap(err, "find special accounts", "field", field)
	}
	return rows, nil
}

// GetPremiumAccounts returns rows whose plus window ends at from or later.
func (s *AccountStorage) GetPremiumAccounts(ctx context.Context, from time.Time) ([]AccountRecord, error) {
	var rows []AccountRecord
	if err := s.coll.FindMany(ctx, &rows, Filter{"plus_end_date": bson.M{"$gte": from}}, 0); err != nil {
		return nil, errm.Wrap(err, "find premium accounts")
	}
	return rows, nil
}

// GetPossiblePremiumAccounts returns rows that ever had a plus window.
func (s *AccountStorage) GetPossiblePremiumAccounts(ctx context.Context) ([]AccountRecord, error) {
	var rows []AccountRecord
	filter := Filter{"plus_start_date": bson.M{"$exists": true, "$ne": time.Time{}}}
	if err := s.coll.FindMany(ctx, &rows, filter, 0); err != nil {
		return nil, errm.Wrap(err, "find possible premium accounts")
	}
	return rows, nil
}

// GetAllLastInteractions returns the last interaction time of every stored
// account. Used by the activity statistics.
func (s *AccountStorage) GetAllLastInteractions(ctx context.Context) ([]time.Time, error) {
	var rows []struct {
		LastInteraction time.Time `bson:"last_interaction"`
	}
	if err := s.coll.FindAll(ctx, &rows); err != nil {
		return nil, errm.Wrap(err, "find all last interactions")
	}
	out := make([]time.Time, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.LastInteraction)
	}
	return out, nil
}

// FindByUsername looks one row up by the denormalized username field.
func (s *AccountStorage) FindByUsername(ctx context.Context, username string) (AccountRecord, bool, error) {
	var rec AccountRecord
	err := s.coll.FindOne(ctx, &rec, Filter{"username": username})
	switch {
	case errm.Is(err, ErrNotFound):
		return AccountRecord{}, false, nil
	case err != nil:
		return AccountRecord{}, false, errm.Wrap(err, "find account by username")
	}
	return rec, true, nil
}

// AsyncAccountStorage is a write-behind wrapper around AccountStorage. Saves
// are queued per chat id, so updates of the same account stay ordered while
// handlers return without IO latency.
type AsyncAccountStorage struct {
	store *AccountStorage
	queue *gorder.Gorder[string]
}

func NewAsyncAccountStorage(ctx contem.Context, store *AccountStorage, workers int, lg logze.Logger) *AsyncAccountStorage {
	q := gorder.NewWithOptions[string](ctx, gorder.Options{
		Workers:         workers,
		Log:             AdaptLogger(lg),
		ThrowOnShutdown: true,
		Retries:         10,
	})
	ctx.Add(q.Shutdown)

	return &AsyncAccountStorage{
		store: store,
		queue: q,
	}
}

// UpsertAsync queues an upsert of the account row.
func (s *AsyncAccountStorage) UpsertAsync(rec AccountRecord) {
	s.queue.Push(strconv.FormatInt(rec.ChatID, 10), "upsert_account", func(ctx context.Context) error {
		return s.store.UpsertAccount(ctx, rec)
	})
}
