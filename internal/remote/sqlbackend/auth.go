package sqlbackend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"sonar/internal/domain"
	"sonar/internal/remote"
)

type userRow struct {
	ID       string `db:"id"`
	Email    string `db:"email"`
	Hash     string `db:"password_hash"`
	TenantID int64  `db:"empresa_id"`
}

func (u userRow) user() domain.User {
	return domain.User{ID: u.ID, Email: u.Email, TenantID: u.TenantID}
}

// CreateUser registers a login. Emails are unique case-insensitively.
func (b *Backend) CreateUser(email, password string, tenantID int64) (domain.User, error) {
	email = strings.TrimSpace(email)
	hash, err := hashPassword(password)
	if err != nil {
		return domain.User{}, err
	}
	u := userRow{ID: uuid.NewString(), Email: email, Hash: hash, TenantID: tenantID}
	if _, err := b.db.NamedExec(`
		INSERT INTO users(id, email, password_hash, empresa_id)
		VALUES (:id, :email, :password_hash, :empresa_id)`, u); err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return u.user(), nil
}

func (b *Backend) SignInWithPassword(ctx context.Context, email, password string) (domain.Session, error) {
	var u userRow
	err := b.db.GetContext(ctx, &u,
		`SELECT id, email, password_hash, empresa_id FROM users WHERE LOWER(email) = LOWER(?)`, strings.TrimSpace(email))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, remote.ErrInvalidCredentials
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("sign in: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Hash), []byte(password)) != nil {
		return domain.Session{}, remote.ErrInvalidCredentials
	}

	s := domain.Session{
		AccessToken:  uuid.NewString(),
		RefreshToken: uuid.NewString(),
		TokenType:    "bearer",
		ExpiresIn:    int(b.sessionTTL.Seconds()),
		ExpiresAt:    b.now().Add(b.sessionTTL).Unix(),
		User:         u.user(),
	}
	if _, err := b.db.ExecContext(ctx,
		`INSERT INTO sessions(access_token, refresh_token, user_id, expires_at) VALUES (?, ?, ?, ?)`,
		s.AccessToken, s.RefreshToken, u.ID, s.ExpiresAt); err != nil {
		return domain.Session{}, fmt.Errorf("bind session: %w", err)
	}
	return s, nil
}

// SignOut drops the session. Unknown tokens are not an error.
func (b *Backend) SignOut(ctx context.Context, accessToken string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM sessions WHERE access_token = ?`, accessToken); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

func (b *Backend) GetUser(ctx context.Context, accessToken string) (domain.User, error) {
	var u userRow
	err := b.db.GetContext(ctx, &u, `
		SELECT u.id, u.email, u.password_hash, u.empresa_id
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.access_token = ? AND s.expires_at > ?`, accessToken, b.now().Unix())
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, remote.ErrNoSession
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return u.user(), nil
}
