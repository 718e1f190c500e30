package domain

import (
	"context"
	"errors"
)

type Service interface {
	// Register creates a user and links any memberships previously
	// addressed to the username only.
	Register(ctx context.Context, req RegisterRequest) (*UserResponse, error)
	// Resolve maps a principal's external id to the acting user.
	Resolve(ctx context.Context, externalID string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*UserResponse, error)
}

type RegisterRequest struct {
	ExternalID string
	Username   string
	Email      string
}

type UserResponse struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
}

var (
	ErrUserNotFound      = errors.New("user_not_found")
	ErrUserDeleted       = errors.New("user_deleted")
	ErrUserExists        = errors.New("user_exists")
	ErrInvalidUsername   = errors.New("invalid_username")
	ErrInvalidExternalID = errors.New("invalid_external_id")
)
