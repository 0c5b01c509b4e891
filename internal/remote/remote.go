// Package remote defines the boundary to the hosted backend: row storage,
// file storage and password sessions. Adapters live in sub-packages.
package remote

import (
	"context"
	"errors"

	"sonar/internal/domain"
)

var (
	// ErrNoRows is returned when a lookup expected a row and found none.
	ErrNoRows = errors.New("remote: no rows")
	// ErrInvalidCredentials is returned by SignInWithPassword for a bad email/password pair.
	ErrInvalidCredentials = errors.New("remote: invalid login credentials")
	// ErrNoSession is returned by GetUser when the token is unknown or expired.
	ErrNoSession = errors.New("remote: session missing or expired")
)

type Op string

const (
	OpEq    Op = "eq"
	OpILike Op = "ilike"
)

// Predicate is a single column condition. Predicates in a query are ANDed.
type Predicate struct {
	Column string
	Op     Op
	Value  any
}

func Eq(column string, value any) Predicate { return Predicate{Column: column, Op: OpEq, Value: value} }

// ILike matches pattern case-insensitively; '%' is the wildcard.
func ILike(column, pattern string) Predicate {
	return Predicate{Column: column, Op: OpILike, Value: pattern}
}

type Order struct {
	Column    string
	Ascending bool
}

// Query describes a filtered read of one table.
type Query struct {
	Table   string
	Columns []string // empty selects every column
	Where   []Predicate
	Order   []Order
	Offset  int
	Limit   int // 0 means no range
	Count   bool
}

// Rows is row-level access to named tables. dest arguments follow the
// encoding/json and sqlx conventions: a pointer to a slice of records for
// Select and Update, a pointer to a record for Insert. Unknown columns in
// a response are an error.
type Rows interface {
	// Select fills dest and, when q.Count is set, returns the number of rows
	// matching q.Where regardless of the range.
	Select(ctx context.Context, q Query, dest any) (int, error)
	// Insert writes one row and decodes the stored row into dest.
	Insert(ctx context.Context, table string, values map[string]any, dest any) error
	// Update writes values to every row matching where and decodes the
	// updated rows into dest when it is non-nil. It returns the number of
	// rows matched.
	Update(ctx context.Context, table string, values map[string]any, where []Predicate, dest any) (int, error)
}

// Storage is a bucketed object store with public URLs.
type Storage interface {
	Upload(ctx context.Context, bucket, key string, body []byte, contentType string) error
	// Remove deletes objects; keys that do not exist are not an error.
	Remove(ctx context.Context, bucket string, keys ...string) error
	PublicURL(bucket, key string) string
}

// Auth is password-based session management.
type Auth interface {
	SignInWithPassword(ctx context.Context, email, password string) (domain.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (domain.User, error)
}

// Backend is everything the client needs from the hosted service.
type Backend interface {
	Rows
	Storage
	Auth
}
