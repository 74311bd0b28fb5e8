package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/taskhub-app/apiserver/types"
)

const uniqueViolation = "23505"

const accountColumns = `id, email, password_hash, full_name, phone_number, gender, date_of_birth,
		avatar, cover, role, status, verified, partner_name, description,
		services, addresses, location, details, created_at, updated_at`

// AccountRepository persists accounts in postgres.
type AccountRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (types.Account, error) {
	var (
		account types.Account
		role    string
		status  string
		details []byte
	)
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.PasswordHash,
		&account.FullName,
		&account.PhoneNumber,
		&account.Gender,
		&account.DateOfBirth,
		&account.Avatar,
		&account.Cover,
		&role,
		&status,
		&account.Verified,
		&account.PartnerName,
		&account.Description,
		pq.Array(&account.Services),
		pq.Array(&account.Addresses),
		pq.Array(&account.Location),
		&details,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	account.Role = types.Role(role)
	account.Status = types.Status(status)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &account.Details); err != nil {
			return types.Account{}, err
		}
	}
	return account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (types.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return types.Account{}, ErrNotFound
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, id))
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (types.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, types.NormalizeEmail(email)))
}

// UpsertUnverified updates the unverified account holding email, or inserts
// one. An already verified account with that email yields ErrDuplicate.
func (r *AccountRepository) UpsertUnverified(ctx context.Context, email, passwordHash, fullName string) (types.Account, error) {
	now := r.now()
	query := `
		INSERT INTO accounts (id, email, password_hash, full_name, role, status, verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, $7, $7)
		ON CONFLICT (email) DO UPDATE
		SET password_hash = EXCLUDED.password_hash,
			full_name = EXCLUDED.full_name,
			updated_at = EXCLUDED.updated_at
		WHERE accounts.verified = false
		RETURNING ` + accountColumns
	account, err := scanAccount(r.db.QueryRowContext(
		ctx,
		query,
		uuid.NewString(),
		types.NormalizeEmail(email),
		passwordHash,
		fullName,
		string(types.RoleUser),
		string(types.StatusActive),
		now,
	))
	if errors.Is(err, ErrNotFound) {
		// The conflict row exists but is verified, so the update was skipped.
		return types.Account{}, ErrDuplicate
	}
	return account, translateError(err)
}

func (r *AccountRepository) Create(ctx context.Context, account types.Account) (types.Account, error) {
	now := r.now()
	account.ID = uuid.NewString()
	account.Email = types.NormalizeEmail(account.Email)
	account.CreatedAt = now
	account.UpdatedAt = now

	details, err := json.Marshal(account.Details)
	if err != nil {
		return types.Account{}, err
	}

	const query = `
		INSERT INTO accounts (id, email, password_hash, full_name, phone_number, gender, date_of_birth,
			avatar, cover, role, status, verified, partner_name, description,
			services, addresses, location, details, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`
	_, err = r.db.ExecContext(
		ctx,
		query,
		account.ID,
		account.Email,
		account.PasswordHash,
		account.FullName,
		account.PhoneNumber,
		account.Gender,
		account.DateOfBirth,
		account.Avatar,
		account.Cover,
		string(account.Role),
		string(account.Status),
		account.Verified,
		account.PartnerName,
		account.Description,
		pq.Array(account.Services),
		pq.Array(account.Addresses),
		pq.Array(account.Location),
		details,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return types.Account{}, translateError(err)
	}
	return account, nil
}

// MarkVerified sets verified=true. An unknown id is not an error.
func (r *AccountRepository) MarkVerified(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	const query = `UPDATE accounts SET verified = true, updated_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, r.now(), id)
	return err
}

func (r *AccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	const query = `UPDATE accounts SET password_hash = $1, updated_at = $2 WHERE id = $3`
	return r.execByID(ctx, query, id, passwordHash, r.now(), id)
}

func (r *AccountRepository) UpdateStatus(ctx context.Context, id string, status types.Status, verified bool) error {
	const query = `UPDATE accounts SET status = $1, verified = $2, updated_at = $3 WHERE id = $4`
	return r.execByID(ctx, query, id, string(status), verified, r.now(), id)
}

func (r *AccountRepository) UpdateAvatar(ctx context.Context, id, avatarURL string) error {
	const query = `UPDATE accounts SET avatar = $1, updated_at = $2 WHERE id = $3`
	return r.execByID(ctx, query, id, avatarURL, r.now(), id)
}

func (r *AccountRepository) execByID(ctx context.Context, query, id string, args ...any) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}
