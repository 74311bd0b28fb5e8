// Package mongostore implements the account and OTP repositories on MongoDB,
// using the "account" and "otpverification" collections.
package mongostore

import (
	"context"
	"errors"
	"time"

	"github.com/taskhub-app/apiserver/internal/store"
	"github.com/taskhub-app/apiserver/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	AccountCollection = "account"
	defaultGender     = "male"
)

type accountDocument struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Email       string             `bson:"email"`
	Password    string             `bson:"password"`
	FullName    string             `bson:"fullName,omitempty"`
	PhoneNumber string             `bson:"phoneNumber,omitempty"`
	Gender      string             `bson:"gender,omitempty"`
	DateOfBirth string             `bson:"dateOfBirth,omitempty"`
	Avatar      string             `bson:"avatar,omitempty"`
	Cover       string             `bson:"cover,omitempty"`
	Role        string             `bson:"role"`
	Status      string             `bson:"status"`
	Verified    bool               `bson:"verified"`
	PartnerName string             `bson:"partnerName,omitempty"`
	Description string             `bson:"description,omitempty"`
	Services    []string           `bson:"services,omitempty"`
	Addresses   []string           `bson:"addresses,omitempty"`
	Location    []string           `bson:"location,omitempty"`
	Details     []types.Detail     `bson:"details,omitempty"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt"`
}

func (d accountDocument) toAccount() types.Account {
	return types.Account{
		ID:           d.ID.Hex(),
		Email:        d.Email,
		PasswordHash: d.Password,
		FullName:     d.FullName,
		PhoneNumber:  d.PhoneNumber,
		Gender:       d.Gender,
		DateOfBirth:  d.DateOfBirth,
		Avatar:       d.Avatar,
		Cover:        d.Cover,
		Role:         types.Role(d.Role),
		Status:       types.Status(d.Status),
		Verified:     d.Verified,
		PartnerName:  d.PartnerName,
		Description:  d.Description,
		Services:     d.Services,
		Addresses:    d.Addresses,
		Location:     d.Location,
		Details:      d.Details,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func newAccountDocument(a types.Account) accountDocument {
	return accountDocument{
		Email:       types.NormalizeEmail(a.Email),
		Password:    a.PasswordHash,
		FullName:    a.FullName,
		PhoneNumber: a.PhoneNumber,
		Gender:      a.Gender,
		DateOfBirth: a.DateOfBirth,
		Avatar:      a.Avatar,
		Cover:       a.Cover,
		Role:        string(a.Role),
		Status:      string(a.Status),
		Verified:    a.Verified,
		PartnerName: a.PartnerName,
		Description: a.Description,
		Services:    a.Services,
		Addresses:   a.Addresses,
		Location:    a.Location,
		Details:     a.Details,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

// AccountRepository persists accounts in the account collection.
type AccountRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewAccountRepository(db *mongo.Database) *AccountRepository {
	return &AccountRepository{coll: db.Collection(AccountCollection), now: time.Now}
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (types.Account, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return types.Account{}, store.ErrNotFound
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (types.Account, error) {
	return r.findOne(ctx, bson.M{"email": types.NormalizeEmail(email)})
}

func (r *AccountRepository) findOne(ctx context.Context, filter bson.M) (types.Account, error) {
	var doc accountDocument
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.Account{}, store.ErrNotFound
		}
		return types.Account{}, err
	}
	return doc.toAccount(), nil
}

// UpsertUnverified runs findOneAndUpdate on {email, verified:false} with
// upsert. When a verified account owns the email the insert half trips the
// unique index and ErrDuplicate is returned.
func (r *AccountRepository) UpsertUnverified(ctx context.Context, email, passwordHash, fullName string) (types.Account, error) {
	now := r.now()
	filter := bson.M{"email": types.NormalizeEmail(email), "verified": false}
	update := bson.M{
		"$set": bson.M{
			"password":  passwordHash,
			"fullName":  fullName,
			"updatedAt": now,
		},
		"$setOnInsert": bson.M{
			"role":      string(types.RoleUser),
			"status":    string(types.StatusActive),
			"gender":    defaultGender,
			"createdAt": now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc accountDocument
	if err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return types.Account{}, translateError(err)
	}
	return doc.toAccount(), nil
}

func (r *AccountRepository) Create(ctx context.Context, account types.Account) (types.Account, error) {
	now := r.now()
	account.CreatedAt = now
	account.UpdatedAt = now
	if account.Gender == "" {
		account.Gender = defaultGender
	}

	doc := newAccountDocument(account)
	result, err := r.coll.InsertOne(ctx, doc)
	if err != nil {
		return types.Account{}, translateError(err)
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		doc.ID = oid
	}
	return doc.toAccount(), nil
}

// MarkVerified sets verified=true. An unknown id is not an error.
func (r *AccountRepository) MarkVerified(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil
	}
	_, err = r.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"verified": true, "updatedAt": r.now()}})
	return err
}

func (r *AccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.updateByID(ctx, id, bson.M{"password": passwordHash})
}

func (r *AccountRepository) UpdateStatus(ctx context.Context, id string, status types.Status, verified bool) error {
	return r.updateByID(ctx, id, bson.M{"status": string(status), "verified": verified})
}

func (r *AccountRepository) UpdateAvatar(ctx context.Context, id, avatarURL string) error {
	return r.updateByID(ctx, id, bson.M{"avatar": avatarURL})
}

func (r *AccountRepository) updateByID(ctx context.Context, id string, set bson.M) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return store.ErrNotFound
	}
	set["updatedAt"] = r.now()
	result, err := r.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}
