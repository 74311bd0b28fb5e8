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

const OTPCollection = "otpverification"

type otpDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    string             `bson:"userId"`
	OTP       string             `bson:"otp"`
	Task      string             `bson:"task"`
	Attempts  int                `bson:"attempts"`
	CreatedAt time.Time          `bson:"createdAt"`
	ExpiresAt time.Time          `bson:"expiresAt"`
}

func (d otpDocument) toOTP() types.OTPVerification {
	return types.OTPVerification{
		ID:        d.ID.Hex(),
		UserID:    d.UserID,
		OTPHash:   d.OTP,
		Task:      types.OTPTask(d.Task),
		Attempts:  d.Attempts,
		CreatedAt: d.CreatedAt,
		ExpiresAt: d.ExpiresAt,
	}
}

// OTPRepository persists OTP challenges in the otpverification collection.
type OTPRepository struct {
	coll *mongo.Collection
}

func NewOTPRepository(db *mongo.Database) *OTPRepository {
	return &OTPRepository{coll: db.Collection(OTPCollection)}
}

// Replace swaps in otp as the single challenge for its (UserID, Task) pair
// with one replaceOne-upsert, so there is no delete/insert window.
func (r *OTPRepository) Replace(ctx context.Context, otp types.OTPVerification) error {
	filter := bson.M{"userId": otp.UserID, "task": string(otp.Task)}
	doc := otpDocument{
		UserID:    otp.UserID,
		OTP:       otp.OTPHash,
		Task:      string(otp.Task),
		CreatedAt: otp.CreatedAt,
		ExpiresAt: otp.ExpiresAt,
	}
	_, err := r.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// A concurrent upsert won the insert; retry as a plain replace.
		_, err = r.coll.ReplaceOne(ctx, filter, doc)
	}
	return err
}

func (r *OTPRepository) Get(ctx context.Context, userID string, task types.OTPTask) (types.OTPVerification, error) {
	var doc otpDocument
	err := r.coll.FindOne(ctx, bson.M{"userId": userID, "task": string(task)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.OTPVerification{}, store.ErrNotFound
		}
		return types.OTPVerification{}, err
	}
	return doc.toOTP(), nil
}

// IncrementAttempts records a wrong code against the (userID, task)
// challenge and returns the new count.
func (r *OTPRepository) IncrementAttempts(ctx context.Context, userID string, task types.OTPTask) (int, error) {
	var doc otpDocument
	err := r.coll.FindOneAndUpdate(
		ctx,
		bson.M{"userId": userID, "task": string(task)},
		bson.M{"$inc": bson.M{"attempts": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return doc.Attempts, nil
}

func (r *OTPRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	result, err := r.coll.DeleteMany(ctx, bson.M{"userId": userID})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

func (r *OTPRepository) DeleteByUserTask(ctx context.Context, userID string, task types.OTPTask) (int64, error) {
	result, err := r.coll.DeleteMany(ctx, bson.M{"userId": userID, "task": string(task)})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}
