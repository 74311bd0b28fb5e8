package types

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleUser    Role = "user"
	RolePartner Role = "partner"
	RoleAdmin   Role = "admin"
	RoleTasker  Role = "tasker"
)

// Capability names an action a role may be allowed to perform.
type Capability uint8

const (
	CapLogin Capability = 1 << iota
	CapManageProfile
	CapOfferServices
	CapReviewAccounts
)

var roleCapabilities = map[Role]Capability{
	RoleUser:    CapLogin | CapManageProfile,
	RolePartner: CapLogin | CapManageProfile | CapOfferServices,
	RoleTasker:  CapLogin | CapManageProfile | CapOfferServices,
	RoleAdmin:   CapLogin | CapManageProfile | CapReviewAccounts,
}

// ParseRole converts a stored role string into a Role.
// An empty string maps to RoleUser, matching the store default.
func ParseRole(value string) (Role, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return RoleUser, nil
	}
	role := Role(value)
	if _, ok := roleCapabilities[role]; !ok {
		return "", fmt.Errorf("unknown role %q", value)
	}
	return role, nil
}

// Can reports whether the role grants the capability.
func (r Role) Can(capability Capability) bool {
	return roleCapabilities[r]&capability == capability
}

// Status is the review/activation state of an account.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// ParseStatus converts a status string into a Status.
func ParseStatus(value string) (Status, error) {
	switch status := Status(strings.ToLower(strings.TrimSpace(value))); status {
	case StatusPending, StatusActive, StatusInactive:
		return status, nil
	default:
		return "", fmt.Errorf("unknown status %q", value)
	}
}

// Detail is a free-form name/value pair shown on a partner profile.
type Detail struct {
	Name  string `json:"name" bson:"name"`
	Value string `json:"value" bson:"value"`
}

// Account represents a user, partner, tasker or admin identity.
// Accounts are never hard-deleted by the auth flows.
type Account struct {
	// ID is the store-assigned identifier (ObjectID hex or UUID).
	ID string

	// Email is unique across accounts and always stored lower-cased.
	Email string

	// PasswordHash is the bcrypt hash of the account password.
	// It is never part of PublicAccount.
	PasswordHash string

	FullName    string
	PhoneNumber string
	Gender      string
	DateOfBirth string
	Avatar      string
	Cover       string

	// Role governs which capabilities the account holds.
	Role Role

	// Status is pending for partners awaiting review, active otherwise.
	Status Status

	// Verified is set once the email address has been confirmed.
	Verified bool

	// Partner profile fields.
	PartnerName string
	Description string
	Services    []string
	Addresses   []string
	Location    []string
	Details     []Detail

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanLogin reports whether the account may authenticate.
func (a Account) CanLogin() bool {
	return a.Status == StatusActive && a.Verified && a.Role.Can(CapLogin)
}

// PublicAccount is the client-facing view of an Account.
type PublicAccount struct {
	ID          string    `json:"_id"`
	Email       string    `json:"email"`
	FullName    string    `json:"fullName"`
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	Gender      string    `json:"gender,omitempty"`
	DateOfBirth string    `json:"dateOfBirth,omitempty"`
	Avatar      string    `json:"avatar,omitempty"`
	Cover       string    `json:"cover,omitempty"`
	Role        Role      `json:"role"`
	Status      Status    `json:"status"`
	Verified    bool      `json:"verified"`
	PartnerName string    `json:"partnerName,omitempty"`
	Description string    `json:"description,omitempty"`
	Services    []string  `json:"services,omitempty"`
	Addresses   []string  `json:"addresses,omitempty"`
	Location    []string  `json:"location,omitempty"`
	Details     []Detail  `json:"details,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Public maps the account to its client-facing view.
func (a Account) Public() PublicAccount {
	return PublicAccount{
		ID:          a.ID,
		Email:       a.Email,
		FullName:    a.FullName,
		PhoneNumber: a.PhoneNumber,
		Gender:      a.Gender,
		DateOfBirth: a.DateOfBirth,
		Avatar:      a.Avatar,
		Cover:       a.Cover,
		Role:        a.Role,
		Status:      a.Status,
		Verified:    a.Verified,
		PartnerName: a.PartnerName,
		Description: a.Description,
		Services:    a.Services,
		Addresses:   a.Addresses,
		Location:    a.Location,
		Details:     a.Details,
		CreatedAt:   a.CreatedAt,
	}
}

// NormalizeEmail returns the canonical stored form of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
