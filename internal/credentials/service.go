package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound    = errors.New("credential not found")
	ErrNameTaken   = errors.New("credential name already exists")
	ErrDisabled    = errors.New("credential is disabled")
	ErrInvalidID   = errors.New("invalid credential ID")
	ErrEmptySecret = errors.New("secret value must not be empty")
)

type Service struct {
	pool   *pgxpool.Pool
	cipher *Cipher
}

func NewService(pool *pgxpool.Pool, cipher *Cipher) *Service {
	return &Service{
		pool:   pool,
		cipher: cipher,
	}
}

type CreateParams struct {
	Name         string
	EndpointURL  string
	EndpointPort int
	Secret       string
	Notes        string
}

type UpdateParams struct {
	EndpointURL  string
	EndpointPort int
	Secret       string // empty means keep the stored secret
	Notes        string
}

const credentialColumns = `id, name, endpoint_url, endpoint_port, secret_ciphertext, enabled, usage_count, last_used_at, notes, created_at, updated_at`

// Create encrypts the secret and stores a new credential record.
func (s *Service) Create(ctx context.Context, params CreateParams) (*Credential, error) {
	if params.Secret == "" {
		return nil, ErrEmptySecret
	}

	ciphertext, err := s.cipher.Seal(params.Secret)
	if err != nil {
		return nil, fmt.Errorf("encrypt secret: %w", err)
	}

	if params.EndpointPort == 0 {
		params.EndpointPort = 443
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO credentials (name, endpoint_url, endpoint_port, secret_ciphertext, notes)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+credentialColumns,
		params.Name, params.EndpointURL, params.EndpointPort, ciphertext, params.Notes)

	cred, err := s.scanCredential(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrNameTaken
		}
		return nil, fmt.Errorf("create credential: %w", err)
	}

	slog.Info("Credential created", "credential_id", cred.ID, "name", cred.Name)
	return cred, nil
}

// GetByID returns a credential with its secret decrypted. Callers outside the
// deployment flow must render the secret through MaskSecret.
func (s *Service) GetByID(ctx context.Context, id string) (*Credential, error) {
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrInvalidID
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = $1`,
		pgtype.UUID{Bytes: parsedID, Valid: true})

	cred, err := s.scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return cred, nil
}

// GetByName returns a credential by its unique display name.
func (s *Service) GetByName(ctx context.Context, name string) (*Credential, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE name = $1`, name)

	cred, err := s.scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get credential by name: %w", err)
	}
	return cred, nil
}

// List returns all credentials ordered by name.
func (s *Service) List(ctx context.Context) ([]Credential, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+credentialColumns+` FROM credentials ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var result []Credential
	for rows.Next() {
		cred, err := s.scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("list credentials: %w", err)
		}
		result = append(result, *cred)
	}
	return result, rows.Err()
}

// Update replaces the endpoint, notes and optionally the secret of a
// credential. An empty secret keeps the stored ciphertext untouched.
func (s *Service) Update(ctx context.Context, id string, params UpdateParams) (*Credential, error) {
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrInvalidID
	}

	var row pgx.Row
	if params.Secret != "" {
		ciphertext, err := s.cipher.Seal(params.Secret)
		if err != nil {
			return nil, fmt.Errorf("encrypt secret: %w", err)
		}
		row = s.pool.QueryRow(ctx,
			`UPDATE credentials
			 SET endpoint_url = $2, endpoint_port = $3, notes = $4, secret_ciphertext = $5, updated_at = now()
			 WHERE id = $1
			 RETURNING `+credentialColumns,
			pgtype.UUID{Bytes: parsedID, Valid: true},
			params.EndpointURL, params.EndpointPort, params.Notes, ciphertext)
	} else {
		row = s.pool.QueryRow(ctx,
			`UPDATE credentials
			 SET endpoint_url = $2, endpoint_port = $3, notes = $4, updated_at = now()
			 WHERE id = $1
			 RETURNING `+credentialColumns,
			pgtype.UUID{Bytes: parsedID, Valid: true},
			params.EndpointURL, params.EndpointPort, params.Notes)
	}

	cred, err := s.scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update credential: %w", err)
	}
	return cred, nil
}

// SetEnabled toggles a credential on or off.
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) error {
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return ErrInvalidID
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE credentials SET enabled = $2, updated_at = now() WHERE id = $1`,
		pgtype.UUID{Bytes: parsedID, Valid: true}, enabled)
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	slog.Info("Credential toggled", "credential_id", id, "enabled", enabled)
	return nil
}

// Delete removes the record only; state already deployed to remote targets is
// not retracted.
func (s *Service) Delete(ctx context.Context, id string) error {
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return ErrInvalidID
	}

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM credentials WHERE id = $1`,
		pgtype.UUID{Bytes: parsedID, Valid: true})
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	slog.Info("Credential deleted", "credential_id", id)
	return nil
}

// MarkUsed atomically increments the usage counter and stamps last_used_at.
// The WHERE clause on enabled ensures a credential disabled mid-run is not
// counted. Called once per orchestration run, not once per target.
func (s *Service) MarkUsed(ctx context.Context, id string) error {
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return ErrInvalidID
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE credentials
		 SET usage_count = usage_count + 1, last_used_at = now(), updated_at = now()
		 WHERE id = $1 AND enabled = true`,
		pgtype.UUID{Bytes: parsedID, Valid: true})
	if err != nil {
		return fmt.Errorf("mark used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) scanCredential(row pgx.Row) (*Credential, error) {
	var (
		id         pgtype.UUID
		ciphertext []byte
		lastUsed   pgtype.Timestamp
		created    pgtype.Timestamp
		updated    pgtype.Timestamp
		cred       Credential
	)

	err := row.Scan(&id, &cred.Name, &cred.EndpointURL, &cred.EndpointPort,
		&ciphertext, &cred.Enabled, &cred.UsageCount, &lastUsed, &cred.Notes,
		&created, &updated)
	if err != nil {
		return nil, err
	}

	secret, err := s.cipher.Open(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt secret: %w", err)
	}

	cred.ID = uuidToString(id.Bytes)
	cred.Secret = secret
	cred.CreatedAt = created.Time
	cred.UpdatedAt = updated.Time
	if lastUsed.Valid {
		t := lastUsed.Time
		cred.LastUsedAt = &t
	}
	return &cred, nil
}

func uuidToString(id [16]byte) string {
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		id[0:4], id[4:6], id[6:8], id[8:10], id[10:16])
}
