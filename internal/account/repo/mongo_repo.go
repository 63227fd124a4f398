package repo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ovaphlow/pitchfork/service-account/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-account/pkg/utilities"
)

const accountsCollection = "accounts"

// MongoRepo stores accounts as documents in the accounts collection.
type MongoRepo struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewMongo(db *mongo.Database) *MongoRepo {
	return &MongoRepo{coll: db.Collection(accountsCollection), now: time.Now}
}

// EnsureIndexes creates the unique email index and sparse unique indexes on
// both token fields. It is idempotent.
func (r *MongoRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName("uniq_email").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "verification_token", Value: 1}},
			Options: options.Index().SetName("uniq_verification_token").SetUnique(true).SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "reset_token", Value: 1}},
			Options: options.Index().SetName("uniq_reset_token").SetUnique(true).SetSparse(true),
		},
	})
	return err
}

func (r *MongoRepo) FindOne(ctx context.Context, f Filter) (*entity.Account, error) {
	filter, err := mongoFilter(f)
	if err != nil {
		return nil, err
	}
	var a entity.Account
	if err := r.coll.FindOne(ctx, filter).Decode(&a); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *MongoRepo) InsertOne(ctx context.Context, a *entity.Account) (string, error) {
	if a.ID == "" {
		a.ID = utilities.NewSnowflakeID()
	}
	now := r.now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if _, err := r.coll.InsertOne(ctx, a); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", ErrDuplicateEmail
		}
		return "", err
	}
	return a.ID, nil
}

// UpdateOne issues one updateOne; the filter carries the precondition so
// concurrent consumers of one token cannot both match.
func (r *MongoRepo) UpdateOne(ctx context.Context, f Filter, u Update) (bool, error) {
	filter, err := mongoFilter(f)
	if err != nil {
		return false, err
	}
	res, err := r.coll.UpdateOne(ctx, filter, mongoUpdate(u, r.now().UTC()))
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

func (r *MongoRepo) DeleteOne(ctx context.Context, f Filter) (bool, error) {
	filter, err := mongoFilter(f)
	if err != nil {
		return false, err
	}
	res, err := r.coll.DeleteOne(ctx, filter)
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

func (r *MongoRepo) Ping(ctx context.Context) error {
	return r.coll.Database().Client().Ping(ctx, nil)
}

func (r *MongoRepo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.coll.Database().Client().Disconnect(ctx)
}

func mongoFilter(f Filter) (bson.D, error) {
	if f.empty() {
		return nil, ErrEmptyFilter
	}
	d := bson.D{}
	if f.ID != "" {
		d = append(d, bson.E{Key: "_id", Value: f.ID})
	}
	if f.Email != "" {
		d = append(d, bson.E{Key: "email", Value: f.Email})
	}
	if f.VerificationToken != "" {
		d = append(d, bson.E{Key: "verification_token", Value: f.VerificationToken})
	}
	if f.ResetToken != "" {
		d = append(d, bson.E{Key: "reset_token", Value: f.ResetToken})
	}
	if f.CredentialHash != "" {
		d = append(d, bson.E{Key: "credential_hash", Value: f.CredentialHash})
	}
	if f.Unverified {
		d = append(d, bson.E{Key: "verified", Value: false})
	}
	if !f.ResetValidAt.IsZero() {
		d = append(d, bson.E{Key: "reset_expiry", Value: bson.D{{Key: "$gt", Value: f.ResetValidAt}}})
	}
	return d, nil
}

func mongoUpdate(u Update, now time.Time) bson.D {
	set := bson.D{}
	if u.Set.Verified != nil {
		set = append(set, bson.E{Key: "verified", Value: *u.Set.Verified})
	}
	if u.Set.CredentialHash != nil {
		set = append(set, bson.E{Key: "credential_hash", Value: *u.Set.CredentialHash})
	}
	if u.Set.ResetToken != nil {
		set = append(set, bson.E{Key: "reset_token", Value: *u.Set.ResetToken})
	}
	if u.Set.ResetExpiry != nil {
		set = append(set, bson.E{Key: "reset_expiry", Value: *u.Set.ResetExpiry})
	}
	set = append(set, bson.E{Key: "updated_at", Value: now})

	doc := bson.D{{Key: "$set", Value: set}}
	unset := bson.D{}
	if u.UnsetVerification {
		unset = append(unset, bson.E{Key: "verification_token", Value: ""}, bson.E{Key: "verification_expiry", Value: ""})
	}
	if u.UnsetReset {
		unset = append(unset, bson.E{Key: "reset_token", Value: ""}, bson.E{Key: "reset_expiry", Value: ""})
	}
	if len(unset) > 0 {
		doc = append(doc, bson.E{Key: "$unset", Value: unset})
	}
	return doc
}
