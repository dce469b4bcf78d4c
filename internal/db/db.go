// Package db is the blog twin's storage: users and blogs in SQLite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kuitang/blogcheck/internal/blog"
)

var (
	// ErrNotFound is returned when a user or blog does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUsernameTaken is returned when creating a user whose username exists.
	ErrUsernameTaken = errors.New("username must be unique")
)

// User is a stored account.
type User struct {
	ID           string
	Name         string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Public returns the API view of u.
func (u User) Public() blog.User {
	return blog.User{ID: u.ID, Name: u.Name, Username: u.Username}
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens the database at path, or an in-memory database when path is
// empty, and applies the schema.
func Open(path string) (*Store, error) {
	var dsn string
	if path == "" {
		dsn = appendSQLiteParams(MemoryDSN, "_pragma=foreign_keys(1)")
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dsn = appendSQLiteParams(path, sqliteCommonParams())
	}

	sqlDB, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == "" {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	} else {
		sqlDB.SetMaxOpenConns(4)
		sqlDB.SetMaxIdleConns(2)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := sqlDB.Exec(Schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: sqlDB}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Reset deletes every user and blog.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM blogs`); err != nil {
		return fmt.Errorf("delete blogs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM users`); err != nil {
		return fmt.Errorf("delete users: %w", err)
	}
	return tx.Commit()
}

// CreateUser inserts u. It returns ErrUsernameTaken on a duplicate username.
func (s *Store) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, username, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Username, u.PasswordHash, u.CreatedAt.UnixNano())
	if isUniqueViolation(err) {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UserByUsername looks up a user for login.
func (s *Store) UserByUsername(ctx context.Context, username string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, username, password_hash, created_at FROM users WHERE username = ?`, username))
}

// UserByID looks up a user by ID.
func (s *Store) UserByID(ctx context.Context, id string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, username, password_hash, created_at FROM users WHERE id = ?`, id))
}

func (s *Store) scanUser(row *sql.Row) (User, error) {
	var u User
	var created int64
	err := row.Scan(&u.ID, &u.Name, &u.Username, &u.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = time.Unix(0, created).UTC()
	return u, nil
}

// ListUsers returns every user in creation order.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, username, password_hash, created_at FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var created int64
		if err := rows.Scan(&u.ID, &u.Name, &u.Username, &u.PasswordHash, &created); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.CreatedAt = time.Unix(0, created).UTC()
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateBlog inserts b owned by userID and returns it with its owner.
func (s *Store) CreateBlog(ctx context.Context, b blog.Blog, userID string, createdAt time.Time) (blog.Blog, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blogs (id, title, author, url, likes, user_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Title, b.Author, b.URL, b.Likes, userID, createdAt.UnixNano())
	if err != nil {
		return blog.Blog{}, fmt.Errorf("insert blog: %w", err)
	}
	return s.GetBlog(ctx, b.ID)
}

const blogColumns = `b.id, b.title, b.author, b.url, b.likes, u.id, u.name, u.username`

// GetBlog returns a blog with its owner.
func (s *Store) GetBlog(ctx context.Context, id string) (blog.Blog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+blogColumns+` FROM blogs b JOIN users u ON u.id = b.user_id WHERE b.id = ?`, id)
	b, err := scanBlog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return blog.Blog{}, ErrNotFound
	}
	if err != nil {
		return blog.Blog{}, fmt.Errorf("scan blog: %w", err)
	}
	return b, nil
}

// ListBlogs returns all blogs, most liked first, oldest first among ties.
func (s *Store) ListBlogs(ctx context.Context) ([]blog.Blog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+blogColumns+` FROM blogs b JOIN users u ON u.id = b.user_id ORDER BY b.likes DESC, b.created_at ASC, b.rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("list blogs: %w", err)
	}
	defer rows.Close()

	blogs := []blog.Blog{}
	for rows.Next() {
		b, err := scanBlog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan blog: %w", err)
		}
		blogs = append(blogs, b)
	}
	return blogs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBlog(row scanner) (blog.Blog, error) {
	var b blog.Blog
	var owner blog.User
	if err := row.Scan(&b.ID, &b.Title, &b.Author, &b.URL, &b.Likes, &owner.ID, &owner.Name, &owner.Username); err != nil {
		return blog.Blog{}, err
	}
	b.User = &owner
	return b, nil
}

// UpdateBlog replaces the editable fields of a blog and returns the result.
func (s *Store) UpdateBlog(ctx context.Context, b blog.Blog) (blog.Blog, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE blogs SET title = ?, author = ?, url = ?, likes = ? WHERE id = ?`,
		b.Title, b.Author, b.URL, b.Likes, b.ID)
	if err != nil {
		return blog.Blog{}, fmt.Errorf("update blog: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return blog.Blog{}, ErrNotFound
	}
	return s.GetBlog(ctx, b.ID)
}

// DeleteBlog removes a blog.
func (s *Store) DeleteBlog(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM blogs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete blog: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
