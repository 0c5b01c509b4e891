package services

import (
	"context"

	"sonar/internal/cache"
	"sonar/internal/domain"
	applog "sonar/internal/log"
	"sonar/internal/repos"
)

// AuthService ties the cache lifetime to the session: every sign in and
// sign out starts from an empty cache.
type AuthService struct {
	Auth  *repos.AuthRepo
	Cache *cache.Cache
}

func NewAuthService(auth *repos.AuthRepo, c *cache.Cache) *AuthService {
	return &AuthService{Auth: auth, Cache: c}
}

func (s *AuthService) SignIn(ctx context.Context, email, password string) (*domain.User, error) {
	u, err := s.Auth.SignIn(ctx, email, password)
	if err != nil {
		applog.Security(nil, "auth.login.fail", map[string]any{"email": email})
		return nil, err
	}
	s.Cache.Clear(ctx)
	applog.Audit(nil, "auth.login", map[string]any{"user_id": u.ID})
	return u, nil
}

func (s *AuthService) SignOut(ctx context.Context) error {
	if err := s.Auth.SignOut(ctx); err != nil {
		return err
	}
	s.Cache.Clear(ctx)
	applog.Audit(nil, "auth.logout", nil)
	return nil
}

func (s *AuthService) CurrentUser(ctx context.Context) (*domain.User, error) {
	return s.Auth.CurrentUser(ctx)
}

func (s *AuthService) IsAuthenticated() bool { return s.Auth.IsAuthenticated() }

func (s *AuthService) StoredUser() (*domain.User, bool) { return s.Auth.StoredUser() }
