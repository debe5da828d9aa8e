package domain

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Directory looks up registered users and their payment capability.
type Directory interface {
	GetByID(ctx context.Context, id snowflake.ID) (*User, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*User, error)
	HasPaymentMethod(ctx context.Context, userID snowflake.ID) (bool, error)
}

var (
	ErrUserNotFound  = errors.New("user_not_found")
	ErrInvalidAPIKey = errors.New("invalid_api_key")
)

// Identity returns the stable billing identity for grant history tracking:
// email when present, otherwise the tax registration number. Empty when the
// user carries neither.
func Identity(u *User) string {
	if u == nil {
		return ""
	}
	if email := strings.TrimSpace(u.Email); email != "" {
		return email
	}
	return strings.TrimSpace(u.CorpNum)
}
