// Package memstore keeps accounts and OTP challenges in process memory. It
// backs DB_DRIVER=memory for local runs and tests; data does not survive a
// restart.
package memstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taskhub-app/apiserver/internal/store"
	"github.com/taskhub-app/apiserver/types"
)

type AccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]types.Account
	byEmail  map[string]string
	now      func() time.Time
}

func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		accounts: map[string]types.Account{},
		byEmail:  map[string]string{},
		now:      time.Now,
	}
}

func (r *AccountRepository) GetByID(_ context.Context, id string) (types.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	account, ok := r.accounts[id]
	if !ok {
		return types.Account{}, store.ErrNotFound
	}
	return account, nil
}

func (r *AccountRepository) GetByEmail(_ context.Context, email string) (types.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[types.NormalizeEmail(email)]
	if !ok {
		return types.Account{}, store.ErrNotFound
	}
	return r.accounts[id], nil
}

// UpsertUnverified updates the unverified account holding email or inserts
// a new one. A verified holder yields ErrDuplicate.
func (r *AccountRepository) UpsertUnverified(_ context.Context, email, passwordHash, fullName string) (types.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email = types.NormalizeEmail(email)
	now := r.now()

	if id, ok := r.byEmail[email]; ok {
		account := r.accounts[id]
		if account.Verified {
			return types.Account{}, store.ErrDuplicate
		}
		account.PasswordHash = passwordHash
		account.FullName = fullName
		account.UpdatedAt = now
		r.accounts[id] = account
		return account, nil
	}

	account := types.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		FullName:     fullName,
		Role:         types.RoleUser,
		Status:       types.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.insert(account)
	return account, nil
}

func (r *AccountRepository) Create(_ context.Context, account types.Account) (types.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account.Email = types.NormalizeEmail(account.Email)
	if _, ok := r.byEmail[account.Email]; ok {
		return types.Account{}, store.ErrDuplicate
	}
	now := r.now()
	account.ID = uuid.NewString()
	account.CreatedAt = now
	account.UpdatedAt = now
	r.insert(account)
	return account, nil
}

// Put stores account as-is, replacing any account with the same id.
func (r *AccountRepository) Put(account types.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account.Email = types.NormalizeEmail(account.Email)
	r.insert(account)
}

func (r *AccountRepository) insert(account types.Account) {
	r.accounts[account.ID] = account
	r.byEmail[account.Email] = account.ID
}

// MarkVerified sets verified=true. An unknown id is not an error.
func (r *AccountRepository) MarkVerified(_ context.Context, id string) error {
	err := r.update(id, func(a *types.Account) { a.Verified = true })
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func (r *AccountRepository) UpdatePassword(_ context.Context, id, passwordHash string) error {
	return r.update(id, func(a *types.Account) { a.PasswordHash = passwordHash })
}

func (r *AccountRepository) UpdateStatus(_ context.Context, id string, status types.Status, verified bool) error {
	return r.update(id, func(a *types.Account) {
		a.Status = status
		a.Verified = verified
	})
}

func (r *AccountRepository) UpdateAvatar(_ context.Context, id, avatarURL string) error {
	return r.update(id, func(a *types.Account) { a.Avatar = avatarURL })
}

func (r *AccountRepository) update(id string, fn func(*types.Account)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&account)
	account.UpdatedAt = r.now()
	r.accounts[id] = account
	return nil
}

// Len returns the number of stored accounts.
func (r *AccountRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

type otpKey struct {
	userID string
	task   types.OTPTask
}

// OTPRepository holds at most one challenge per (userID, task).
type OTPRepository struct {
	mu      sync.RWMutex
	records map[otpKey]types.OTPVerification
}

func NewOTPRepository() *OTPRepository {
	return &OTPRepository{records: map[otpKey]types.OTPVerification{}}
}

func (r *OTPRepository) Replace(_ context.Context, otp types.OTPVerification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if otp.ID == "" {
		otp.ID = uuid.NewString()
	}
	otp.Attempts = 0
	r.records[otpKey{otp.UserID, otp.Task}] = otp
	return nil
}

func (r *OTPRepository) Get(_ context.Context, userID string, task types.OTPTask) (types.OTPVerification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	otp, ok := r.records[otpKey{userID, task}]
	if !ok {
		return types.OTPVerification{}, store.ErrNotFound
	}
	return otp, nil
}

func (r *OTPRepository) IncrementAttempts(_ context.Context, userID string, task types.OTPTask) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := otpKey{userID, task}
	otp, ok := r.records[key]
	if !ok {
		return 0, store.ErrNotFound
	}
	otp.Attempts++
	r.records[key] = otp
	return otp.Attempts, nil
}

func (r *OTPRepository) DeleteByUser(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for key := range r.records {
		if key.userID == userID {
			delete(r.records, key)
			deleted++
		}
	}
	return deleted, nil
}

func (r *OTPRepository) DeleteByUserTask(_ context.Context, userID string, task types.OTPTask) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := otpKey{userID, task}
	if _, ok := r.records[key]; !ok {
		return 0, nil
	}
	delete(r.records, key)
	return 1, nil
}

// CountByUser returns the number of challenges held for userID.
func (r *OTPRepository) CountByUser(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for key := range r.records {
		if key.userID == userID {
			n++
		}
	}
	return n
}
