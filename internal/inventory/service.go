package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrServerNotFound = errors.New("server not found")
	ErrInvalidID      = errors.New("invalid server ID")
)

type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

const serverColumns = `id, target_id, ip_address, os_name, os_version, last_deployed_at, notes, created_at, updated_at`

// RegisterTargets upserts inventory records for targets that were just
// deployed to, stamping last_deployed_at. Facts such as OS and IP arrive
// later through UpdateFacts; registration only guarantees the record exists.
func (s *Service) RegisterTargets(ctx context.Context, targets []string) error {
	for _, target := range targets {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO servers (target_id, last_deployed_at)
			 VALUES ($1, now())
			 ON CONFLICT (target_id)
			 DO UPDATE SET last_deployed_at = now(), updated_at = now()`,
			target)
		if err != nil {
			return fmt.Errorf("register target %s: %w", target, err)
		}
		slog.Debug("Target registered in inventory", "target", target)
	}
	return nil
}

// UpdateFacts records discovered host facts on an existing inventory record.
func (s *Service) UpdateFacts(ctx context.Context, targetID, ipAddress, osName, osVersion string) error {
	var ipAddr *netip.Addr
	if ipAddress != "" {
		parsed, err := netip.ParseAddr(ipAddress)
		if err == nil {
			ipAddr = &parsed
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE servers
		 SET ip_address = $2, os_name = $3, os_version = $4, updated_at = now()
		 WHERE target_id = $1`,
		targetID, ipAddr, osName, osVersion)
	if err != nil {
		return fmt.Errorf("update facts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrServerNotFound
	}
	return nil
}

// List returns all inventory records ordered by target identifier.
func (s *Service) List(ctx context.Context) ([]Server, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+serverColumns+` FROM servers ORDER BY target_id`)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var result []Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("list servers: %w", err)
		}
		result = append(result, *srv)
	}
	return result, rows.Err()
}

// GetByID returns one inventory record.
func (s *Service) GetByID(ctx context.Context, id string) (*Server, error) {
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrInvalidID
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE id = $1`,
		pgtype.UUID{Bytes: parsedID, Valid: true})

	srv, err := scanServer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServerNotFound
		}
		return nil, fmt.Errorf("get server: %w", err)
	}
	return srv, nil
}

func scanServer(row pgx.Row) (*Server, error) {
	var (
		id           pgtype.UUID
		ipAddr       *netip.Addr
		lastDeployed pgtype.Timestamp
		created      pgtype.Timestamp
		updated      pgtype.Timestamp
		srv          Server
	)

	err := row.Scan(&id, &srv.TargetID, &ipAddr, &srv.OSName, &srv.OSVersion,
		&lastDeployed, &srv.Notes, &created, &updated)
	if err != nil {
		return nil, err
	}

	srv.ID = uuidToString(id.Bytes)
	srv.CreatedAt = created.Time
	srv.UpdatedAt = updated.Time
	if ipAddr != nil {
		srv.IPAddress = ipAddr.String()
	}
	if lastDeployed.Valid {
		t := lastDeployed.Time
		srv.LastDeployedAt = &t
	}
	return &srv, nil
}

func uuidToString(id [16]byte) string {
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		id[0:4], id[4:6], id[6:8], id[8:10], id[10:16])
}
