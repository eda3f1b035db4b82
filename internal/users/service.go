package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrUsernameExists = errors.New("username already exists")
)

type User struct {
	ID           string
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

func (s *Service) Create(ctx context.Context, username, password, role string) (*User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var (
		id      pgtype.UUID
		created pgtype.Timestamp
	)
	err = s.pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, role)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		username, hash, role).Scan(&id, &created)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrUsernameExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return &User{
		ID:        uuidToString(id.Bytes),
		Username:  username,
		Role:      role,
		CreatedAt: created.Time,
	}, nil
}

func (s *Service) GetByUsername(ctx context.Context, username string) (*User, error) {
	var (
		id      pgtype.UUID
		user    User
		created pgtype.Timestamp
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, role, created_at FROM users WHERE username = $1`,
		username).Scan(&id, &user.Username, &user.PasswordHash, &user.Role, &created)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	user.ID = uuidToString(id.Bytes)
	user.CreatedAt = created.Time
	return &user, nil
}

func (s *Service) List(ctx context.Context) ([]User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, username, role, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var result []User
	for rows.Next() {
		var (
			id      pgtype.UUID
			user    User
			created pgtype.Timestamp
		)
		if err := rows.Scan(&id, &user.Username, &user.Role, &created); err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		user.ID = uuidToString(id.Bytes)
		user.CreatedAt = created.Time
		result = append(result, user)
	}
	return result, rows.Err()
}

func (s *Service) Delete(ctx context.Context, userID string) error {
	parsed, err := uuid.Parse(userID)
	if err != nil {
		return ErrUserNotFound
	}

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM users WHERE id = $1`,
		pgtype.UUID{Bytes: parsed, Valid: true})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func uuidToString(id [16]byte) string {
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		id[0:4], id[4:6], id[6:8], id[8:10], id[10:16])
}
