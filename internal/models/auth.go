package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RegisterRequest holds fields for creating an account.
type RegisterRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns the issued token and user info.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	User        UserInfo  `json:"user"`
	IssuedAt    time.Time `json:"issued_at"`
}

// ChildLoginRequest is the OTP-gated login body for a child. The child
// identity itself travels in the URL path.
type ChildLoginRequest struct {
	PaperID string `json:"questionId" validate:"required"`
	OTP     string `json:"otp" validate:"required"`
}

// ChildLoginResponse returns the scoped child token.
type ChildLoginResponse struct {
	AccessToken string    `json:"token"`
	ExpiresIn   int64     `json:"expires_in"`
	Child       ChildInfo `json:"user"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Email string   `json:"email"`
	Role  UserRole `json:"role"`
}

// ChildInfo describes the child identity issued on OTP login.
type ChildInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Grade string `json:"grade"`
}

// JWTClaims represents the JWT payload for access tokens. ChildLimit and
// TopicLimit are quota fallbacks when no persisted limit exists.
type JWTClaims struct {
	UserID     string   `json:"user_id"`
	Role       UserRole `json:"role"`
	Email      string   `json:"email,omitempty"`
	ChildLimit *int     `json:"childLimit,omitempty"`
	TopicLimit *int     `json:"topicLimit,omitempty"`
	jwt.RegisteredClaims
}
