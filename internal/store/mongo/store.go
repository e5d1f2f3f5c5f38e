// Package mongo is the document-store ledger backend.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/thereal-baitjet/Stream-Slicer/internal/ledger"
	"github.com/thereal-baitjet/Stream-Slicer/internal/models"
)

const (
	colAccounts = "accounts"
	colUsage    = "usage_logs"
	colPayments = "payments"
	colUsers    = "users"
)

var _ ledger.Backend = (*Store)(nil)

var errAlreadyApplied = errors.New("payment already applied")

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials uri and uses the named database.
func Connect(uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		colUsers: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		colUsage: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colPayments: {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
		},
	}
	for col, idx := range indexes {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) GetAccount(ctx context.Context, userID string) (*models.Account, error) {
	var m accountModel
	err := s.db.Collection(colAccounts).FindOne(ctx, bson.M{"_id": userID}).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("mongo: get account: %w", err)
	}
	return m.toAccount(), nil
}

func (s *Store) AddCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	now := time.Now().UTC()
	var m accountModel
	err := s.db.Collection(colAccounts).FindOneAndUpdate(ctx,
		bson.M{"_id": userID},
		bson.M{
			"$inc":         bson.M{"credits": amount},
			"$set":         bson.M{"updated_at": now},
			"$setOnInsert": bson.M{"has_used_free_trial": false, "created_at": now},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		return 0, fmt.Errorf("mongo: add credits: %w", err)
	}
	return m.Credits, nil
}

// DeductCredits matches only when credits >= amount, so the decrement is a
// single conditional document update.
func (s *Store) DeductCredits(ctx context.Context, userID string, amount int64) (int64, error) {
	var m accountModel
	err := s.db.Collection(colAccounts).FindOneAndUpdate(ctx,
		bson.M{"_id": userID, "credits": bson.M{"$gte": amount}},
		bson.M{
			"$inc": bson.M{"credits": -amount},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, ledger.ErrInsufficientCredits
		}
		return 0, fmt.Errorf("mongo: deduct credits: %w", err)
	}
	return m.Credits, nil
}

// ClaimTrial upserts on a filter that excludes already-claimed accounts. When
// the account exists with the flag set, the upsert collides on _id.
func (s *Store) ClaimTrial(ctx context.Context, userID string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.Collection(colAccounts).UpdateOne(ctx,
		bson.M{"_id": userID, "has_used_free_trial": bson.M{"$ne": true}},
		bson.M{
			"$set":         bson.M{"has_used_free_trial": true, "updated_at": now},
			"$setOnInsert": bson.M{"credits": int64(0), "created_at": now},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("mongo: claim trial: %w", err)
	}
	return res.ModifiedCount+res.UpsertedCount > 0, nil
}

func (s *Store) AppendUsage(ctx context.Context, rec *models.UsageRecord) error {
	if _, err := s.db.Collection(colUsage).InsertOne(ctx, toUsageModel(rec)); err != nil {
		return fmt.Errorf("mongo: append usage: %w", err)
	}
	return nil
}

func (s *Store) ListUsage(ctx context.Context, userID string, limit int) ([]*models.UsageRecord, error) {
	cur, err := s.db.Collection(colUsage).Find(ctx,
		bson.M{"user_id": userID},
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
			SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("mongo: list usage: %w", err)
	}
	var docs []usageModel
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: decode usage: %w", err)
	}
	out := make([]*models.UsageRecord, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].toRecord())
	}
	return out, nil
}

// ApplyPayment needs a replica set: the payment marker and the credit grant
// commit together.
func (s *Store) ApplyPayment(ctx context.Context, p *models.Payment) (bool, int64, error) {
	sess, err := s.client.StartSession()
	if err != nil {
		return false, 0, fmt.Errorf("mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	res, err := sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		_, err := s.db.Collection(colPayments).InsertOne(ctx, &paymentModel{
			ID:          p.ID,
			UserID:      p.UserID,
			AmountCents: p.AmountCents,
			Credits:     p.Credits,
			CreatedAt:   p.CreatedAt.UTC(),
		})
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, errAlreadyApplied
			}
			return nil, err
		}
		return s.AddCredits(ctx, p.UserID, p.Credits)
	})
	if err != nil {
		if errors.Is(err, errAlreadyApplied) {
			acc, gerr := s.GetAccount(ctx, p.UserID)
			if gerr != nil && !errors.Is(gerr, ledger.ErrAccountNotFound) {
				return false, 0, gerr
			}
			if acc == nil {
				return false, 0, nil
			}
			return false, acc.Credits, nil
		}
		return false, 0, fmt.Errorf("mongo: apply payment: %w", err)
	}
	return true, res.(int64), nil
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.db.Collection(colUsers).InsertOne(ctx, &userModel{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt.UTC(),
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ledger.ErrDuplicateEmail
		}
		return fmt.Errorf("mongo: create user: %w", err)
	}
	return nil
}

func (s *Store) LookupUser(ctx context.Context, email string) (*models.User, error) {
	var m userModel
	err := s.db.Collection(colUsers).FindOne(ctx, bson.M{"email": email}).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ledger.ErrUserNotFound
		}
		return nil, fmt.Errorf("mongo: lookup user: %w", err)
	}
	return &models.User{ID: m.ID, Email: m.Email, PasswordHash: m.PasswordHash, CreatedAt: m.CreatedAt.UTC()}, nil
}
