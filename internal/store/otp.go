package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/taskhub-app/apiserver/types"
)

// OTPRepository persists OTP challenges in postgres. The (user_id, task)
// unique constraint keeps a single challenge per pair.
type OTPRepository struct {
	db *sql.DB
}

func NewOTPRepository(db *sql.DB) *OTPRepository {
	return &OTPRepository{db: db}
}

// Replace stores otp as the only challenge for its (UserID, Task) pair.
func (r *OTPRepository) Replace(ctx context.Context, otp types.OTPVerification) error {
	const query = `
		INSERT INTO otp_verifications (id, user_id, otp_hash, task, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, task) DO UPDATE
		SET id = EXCLUDED.id,
			otp_hash = EXCLUDED.otp_hash,
			attempts = 0,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at`
	if otp.ID == "" {
		otp.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(
		ctx,
		query,
		otp.ID,
		otp.UserID,
		otp.OTPHash,
		string(otp.Task),
		otp.CreatedAt,
		otp.ExpiresAt,
	)
	return err
}

func (r *OTPRepository) Get(ctx context.Context, userID string, task types.OTPTask) (types.OTPVerification, error) {
	const query = `
		SELECT id, user_id, otp_hash, task, attempts, created_at, expires_at
		FROM otp_verifications
		WHERE user_id = $1 AND task = $2`
	var (
		otp     types.OTPVerification
		taskRaw string
	)
	err := r.db.QueryRowContext(ctx, query, userID, string(task)).Scan(
		&otp.ID,
		&otp.UserID,
		&otp.OTPHash,
		&taskRaw,
		&otp.Attempts,
		&otp.CreatedAt,
		&otp.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.OTPVerification{}, ErrNotFound
		}
		return types.OTPVerification{}, err
	}
	otp.Task = types.OTPTask(taskRaw)
	return otp, nil
}

// IncrementAttempts records a wrong code against the (userID, task)
// challenge and returns the new count.
func (r *OTPRepository) IncrementAttempts(ctx context.Context, userID string, task types.OTPTask) (int, error) {
	const query = `
		UPDATE otp_verifications
		SET attempts = attempts + 1
		WHERE user_id = $1 AND task = $2
		RETURNING attempts`
	var attempts int
	if err := r.db.QueryRowContext(ctx, query, userID, string(task)).Scan(&attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return attempts, nil
}

func (r *OTPRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	const query = `DELETE FROM otp_verifications WHERE user_id = $1`
	result, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *OTPRepository) DeleteByUserTask(ctx context.Context, userID string, task types.OTPTask) (int64, error) {
	const query = `DELETE FROM otp_verifications WHERE user_id = $1 AND task = $2`
	result, err := r.db.ExecContext(ctx, query, userID, string(task))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
