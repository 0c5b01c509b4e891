package repos

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"sonar/internal/domain"
	"sonar/internal/remote"
)

// Local storage keys.
const (
	KeyAuthData    = "authData"
	KeyCurrentUser = "currentUser"
)

// KV is durable local key/value storage.
type KV interface {
	Get(key string) (string, bool, error)
	Set(pairs map[string]string) error
	Delete(keys ...string) error
}

type AuthRepo struct {
	auth remote.Auth
	kv   KV
	now  func() time.Time
}

func NewAuthRepo(auth remote.Auth, kv KV) *AuthRepo {
	return &AuthRepo{auth: auth, kv: kv, now: time.Now}
}

// SignIn opens a remote session, looks up its user and persists both
// together. Nothing is persisted when either step fails.
func (r *AuthRepo) SignIn(ctx context.Context, email, password string) (*domain.User, error) {
	s, err := r.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, domain.E(domain.KindAuth, "sign in", err)
	}
	u, err := r.auth.GetUser(ctx, s.AccessToken)
	if err != nil {
		return nil, domain.E(domain.KindAuth, "sign in", err)
	}
	s.User = u

	sessionJSON, err := json.Marshal(s)
	if err != nil {
		return nil, domain.E(domain.KindAuth, "sign in", err)
	}
	userJSON, err := json.Marshal(u)
	if err != nil {
		return nil, domain.E(domain.KindAuth, "sign in", err)
	}
	if err := r.kv.Set(map[string]string{
		KeyAuthData:    string(sessionJSON),
		KeyCurrentUser: string(userJSON),
	}); err != nil {
		return nil, domain.E(domain.KindAuth, "sign in", err)
	}
	return &u, nil
}

// SignOut revokes the remote session and clears local state. Local state is
// kept when the remote call fails.
func (r *AuthRepo) SignOut(ctx context.Context) error {
	if s, ok := r.Session(); ok && s.AccessToken != "" {
		if err := r.auth.SignOut(ctx, s.AccessToken); err != nil {
			return domain.E(domain.KindAuth, "sign out", err)
		}
	}
	if err := r.kv.Delete(KeyAuthData, KeyCurrentUser); err != nil {
		return domain.E(domain.KindAuth, "sign out", err)
	}
	return nil
}

// CurrentUser asks the backend who owns the persisted session. It returns
// nil without error when there is no session or the backend no longer
// accepts it.
func (r *AuthRepo) CurrentUser(ctx context.Context) (*domain.User, error) {
	s, ok := r.Session()
	if !ok || s.AccessToken == "" {
		return nil, nil
	}
	u, err := r.auth.GetUser(ctx, s.AccessToken)
	if errors.Is(err, remote.ErrNoSession) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.E(domain.KindAuth, "current user", err)
	}
	if b, err := json.Marshal(u); err == nil {
		_ = r.kv.Set(map[string]string{KeyCurrentUser: string(b)})
	}
	return &u, nil
}

// IsAuthenticated checks the persisted session only. Unreadable state
// counts as signed out.
func (r *AuthRepo) IsAuthenticated() bool {
	s, ok := r.Session()
	return ok && s.Valid(r.now())
}

// Session returns the persisted session, if any.
func (r *AuthRepo) Session() (domain.Session, bool) {
	var s domain.Session
	if !r.load(KeyAuthData, &s) {
		return domain.Session{}, false
	}
	return s, true
}

// StoredUser returns the user snapshot saved at sign in.
func (r *AuthRepo) StoredUser() (*domain.User, bool) {
	var u domain.User
	if !r.load(KeyCurrentUser, &u) {
		return nil, false
	}
	return &u, true
}

// AccessToken returns the persisted bearer token or "".
func (r *AuthRepo) AccessToken() string {
	s, ok := r.Session()
	if !ok || !s.Valid(r.now()) {
		return ""
	}
	return s.AccessToken
}

func (r *AuthRepo) load(key string, dest any) bool {
	raw, ok, err := r.kv.Get(key)
	if err != nil || !ok {
		return false
	}
	return json.Unmarshal([]byte(raw), dest) == nil
}
