// Package sqlbackend serves the remote contract from a SQL database the
// business hosts itself (SQLite by default, MySQL optionally) plus a media
// directory for product images.
package sqlbackend

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

type Options struct {
	Driver       string
	DSN          string
	MediaDir     string
	MediaBaseURL string
	SessionTTL   time.Duration
	// Seed inserts demo categories, products and a demo user into an empty database.
	Seed bool
}

// Backend implements remote.Backend over sqlx.
type Backend struct {
	db         *sqlx.DB
	driver     string
	mediaDir   string
	mediaBase  string
	sessionTTL time.Duration
	now        func() time.Time
}

func Open(opts Options) (*Backend, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	dsn := opts.DSN
	switch driver {
	case DriverSQLite:
	case DriverMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		// Update must report matched rows, not changed rows.
		cfg.ClientFoundRows = true
		cfg.ParseTime = true
		dsn = cfg.FormatDSN()
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// one connection: keeps :memory: databases alive and avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	b := &Backend{
		db:         db,
		driver:     driver,
		mediaDir:   opts.MediaDir,
		mediaBase:  strings.TrimRight(opts.MediaBaseURL, "/"),
		sessionTTL: ttl,
		now:        time.Now,
	}
	if err := b.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if opts.Seed {
		if err := b.seedIfEmpty(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return b, nil
}

func (b *Backend) Close() error { return b.db.Close() }

// DB exposes the handle for tests and maintenance commands.
func (b *Backend) DB() *sqlx.DB { return b.db }

const sqliteSchema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS categorias(
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  descripcion TEXT NOT NULL,
  empresa_id INTEGER,
  estado INTEGER NOT NULL DEFAULT 1
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_categorias_descripcion ON categorias(LOWER(descripcion));

CREATE TABLE IF NOT EXISTS productos(
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  nombre TEXT NOT NULL,
  descripcion TEXT,
  precio NUMERIC NOT NULL DEFAULT 0 CHECK (precio >= 0),
  stock INTEGER NOT NULL DEFAULT 0,
  cantidad_stock INTEGER NOT NULL DEFAULT 0 CHECK (cantidad_stock >= 0),
  categoria TEXT,
  categoria_id INTEGER NOT NULL REFERENCES categorias(id) ON DELETE RESTRICT,
  imagen TEXT,
  empresa_id INTEGER NOT NULL DEFAULT 1,
  estado INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_productos_categoria ON productos(categoria_id);
CREATE INDEX IF NOT EXISTS idx_productos_nombre    ON productos(LOWER(nombre));
CREATE INDEX IF NOT EXISTS idx_productos_estado    ON productos(estado);

CREATE TABLE IF NOT EXISTS users(
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  empresa_id INTEGER NOT NULL DEFAULT 1,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(LOWER(email));

CREATE TABLE IF NOT EXISTS sessions(
  access_token TEXT PRIMARY KEY,
  refresh_token TEXT NOT NULL,
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)
`

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS categorias(
  id BIGINT AUTO_INCREMENT PRIMARY KEY,
  descripcion VARCHAR(120) NOT NULL UNIQUE,
  empresa_id BIGINT NULL,
  estado INT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS productos(
  id BIGINT AUTO_INCREMENT PRIMARY KEY,
  nombre VARCHAR(200) NOT NULL,
  descripcion TEXT NULL,
  precio DECIMAL(12,2) NOT NULL DEFAULT 0 CHECK (precio >= 0),
  stock TINYINT(1) NOT NULL DEFAULT 0,
  cantidad_stock INT NOT NULL DEFAULT 0 CHECK (cantidad_stock >= 0),
  categoria VARCHAR(120) NULL,
  categoria_id BIGINT NOT NULL,
  imagen VARCHAR(500) NULL,
  empresa_id BIGINT NOT NULL DEFAULT 1,
  estado INT NOT NULL DEFAULT 1,
  INDEX idx_productos_categoria (categoria_id),
  INDEX idx_productos_estado (estado),
  FOREIGN KEY (categoria_id) REFERENCES categorias(id)
);

CREATE TABLE IF NOT EXISTS users(
  id CHAR(36) PRIMARY KEY,
  email VARCHAR(190) NOT NULL UNIQUE,
  password_hash VARCHAR(100) NOT NULL,
  empresa_id BIGINT NOT NULL DEFAULT 1,
  created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sessions(
  access_token CHAR(36) PRIMARY KEY,
  refresh_token CHAR(36) NOT NULL,
  user_id CHAR(36) NOT NULL,
  expires_at BIGINT NOT NULL,
  INDEX idx_sessions_user (user_id),
  FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
)
`

// ensureSchema runs statement by statement so MySQL does not need multiStatements.
func (b *Backend) ensureSchema() error {
	schema := sqliteSchema
	if b.driver == DriverMySQL {
		schema = mysqlSchema
	}
	for _, stmt := range strings.Split(schema, ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := b.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}

// Demo login seeded into empty databases.
const (
	DemoEmail    = "admin@sonar.test"
	DemoPassword = "Passw0rd!"
)

func (b *Backend) seedIfEmpty() error {
	var n int
	if err := b.db.Get(&n, `SELECT COUNT(*) FROM categorias`); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	log.Println("[seed] inserting demo categorias/productos/users")

	tx, err := b.db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// id 1 is the "Todos" pseudo-category used as the no-filter sentinel
	for _, c := range []string{"Todos", "Bebidas", "Comidas", "Postres"} {
		if _, err := tx.Exec(`INSERT INTO categorias(descripcion, empresa_id, estado) VALUES (?, 1, 1)`, c); err != nil {
			return err
		}
	}
	products := []struct {
		name, desc, cat string
		price           string
		qty, catID      int
	}{
		{"Café americano", "Taza de 12 oz", "Bebidas", "2.50", 40, 2},
		{"Jugo de naranja", "Natural", "Bebidas", "3.00", 15, 2},
		{"Empanada de queso", "Horneada", "Comidas", "1.75", 30, 3},
		{"Tres leches", "Porción individual", "Postres", "4.25", 8, 4},
	}
	for _, p := range products {
		if _, err := tx.Exec(`
			INSERT INTO productos(nombre, descripcion, precio, stock, cantidad_stock, categoria, categoria_id, empresa_id, estado)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1, 1)`,
			p.name, p.desc, p.price, p.qty > 0, p.qty, p.cat, p.catID); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	_, err = b.CreateUser(DemoEmail, DemoPassword, 1)
	return err
}

func hashPassword(raw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
