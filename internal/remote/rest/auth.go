package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"sonar/internal/domain"
	"sonar/internal/remote"
)

type tenantMetadata struct {
	TenantID int64 `json:"empresa_id"`
}

type authUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	AppMetadata  tenantMetadata `json:"app_metadata"`
	UserMetadata tenantMetadata `json:"user_metadata"`
}

func (u authUser) user() domain.User {
	tenant := u.AppMetadata.TenantID
	if tenant == 0 {
		tenant = u.UserMetadata.TenantID
	}
	return domain.User{ID: u.ID, Email: u.Email, TenantID: tenant}
}

type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int      `json:"expires_in"`
	ExpiresAt    int64    `json:"expires_at"`
	RefreshToken string   `json:"refresh_token"`
	User         authUser `json:"user"`
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (domain.Session, error) {
	resp, err := c.do(ctx, request{
		method: fiber.MethodPost,
		path:   "/auth/v1/token?grant_type=password",
		json:   map[string]string{"email": email, "password": password},
	})
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Status == fiber.StatusBadRequest || apiErr.Code == "invalid_grant" || apiErr.Code == "invalid_credentials") {
		return domain.Session{}, remote.ErrInvalidCredentials
	}
	if err != nil {
		return domain.Session{}, err
	}

	// auth payloads carry many fields the client does not model
	var tr tokenResponse
	if err := json.Unmarshal(resp.body, &tr); err != nil {
		return domain.Session{}, fmt.Errorf("rest: decode session: %w", err)
	}
	if tr.AccessToken == "" {
		return domain.Session{}, errors.New("rest: sign in returned no access token")
	}
	s := domain.Session{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		ExpiresIn:    tr.ExpiresIn,
		ExpiresAt:    tr.ExpiresAt,
		RefreshToken: tr.RefreshToken,
		User:         tr.User.user(),
	}
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = time.Now().Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
	}
	return s, nil
}

// SignOut revokes the token. A token the backend no longer knows is
// already signed out.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	_, err := c.do(ctx, request{
		method: fiber.MethodPost,
		path:   "/auth/v1/logout",
		token:  accessToken,
	})
	if noSession(err) {
		return nil
	}
	return err
}

func (c *Client) GetUser(ctx context.Context, accessToken string) (domain.User, error) {
	resp, err := c.do(ctx, request{
		method: fiber.MethodGet,
		path:   "/auth/v1/user",
		token:  accessToken,
	})
	if noSession(err) {
		return domain.User{}, remote.ErrNoSession
	}
	if err != nil {
		return domain.User{}, err
	}
	var u authUser
	if err := json.Unmarshal(resp.body, &u); err != nil {
		return domain.User{}, fmt.Errorf("rest: decode user: %w", err)
	}
	return u.user(), nil
}

func noSession(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Status {
	case fiber.StatusUnauthorized, fiber.StatusForbidden, fiber.StatusNotFound:
		return true
	}
	return false
}
