package api

import (
	"time"

	"warden/cmd/identity"
	"warden/cmd/internal/auth/session"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TOTPCode string `json:"totp_code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// sessionResponse describes the issued session without carrying the tokens:
// those travel only in the HttpOnly cookies, never in a response body.
type sessionResponse struct {
	SessionID        string    `json:"session_id,omitempty"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type loginResponse struct {
	User    userResponse    `json:"user"`
	Session sessionResponse `json:"session"`
}

type totpRequiredResponse struct {
	TOTPRequired bool `json:"totp_required"`
}

type refreshResponse struct {
	Session sessionResponse `json:"session"`
}

type logoutResponse struct {
	LoggedOut bool `json:"logged_out"`
}

type sessionRevokedResponse struct {
	Revoked bool `json:"revoked"`
}

type meResponse struct {
	User userResponse `json:"user"`
}

type sessionListItem struct {
	ID        string    `json:"id"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Current   bool      `json:"current"`
}

type sessionListResponse struct {
	Sessions []sessionListItem `json:"sessions"`
}

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	}
}

func toSessionResponse(issued session.Issued) sessionResponse {
	return sessionResponse{
		SessionID:        issued.SessionID,
		AccessExpiresAt:  issued.AccessClaims.ExpiresAt,
		RefreshExpiresAt: issued.RefreshExp,
	}
}

func toSessionListItem(s session.Session, currentHash string) sessionListItem {
	item := sessionListItem{
		ID:        s.ID,
		UserAgent: s.UserAgent,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
		Current:   currentHash != "" && s.TokenHash == currentHash,
	}
	if s.IP != nil {
		item.IP = s.IP.String()
	}
	return item
}
