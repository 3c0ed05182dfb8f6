package discovery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/station-bridge/internal/infrastructure/database"
)

// Endpoint sources.
const (
	SourceMDNS  = "mdns"
	SourceCloud = "cloud"
)

// ErrNotFound is returned when no endpoint is stored for a device.
var ErrNotFound = errors.New("discovery: endpoint not found")

// Endpoint is the last known local address of a speaker.
type Endpoint struct {
	DeviceID string    `json:"device_id"`
	Host     string    `json:"host"`
	Port     int       `json:"port"`
	Platform string    `json:"platform,omitempty"`
	Source   string    `json:"source"`
	SeenAt   time.Time `json:"seen_at"`
}

// Store persists endpoints in the station_endpoints table.
type Store struct {
	db *database.DB
}

// NewStore creates a Store on a migrated database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Upsert records ep, replacing any previous endpoint for the device.
func (s *Store) Upsert(ctx context.Context, ep Endpoint) error {
	if ep.SeenAt.IsZero() {
		ep.SeenAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO station_endpoints (device_id, host, port, platform, source, seen_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			host = excluded.host,
			port = excluded.port,
			platform = excluded.platform,
			source = excluded.source,
			seen_at = excluded.seen_at`,
		ep.DeviceID, ep.Host, ep.Port, ep.Platform, ep.Source,
		ep.SeenAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upserting endpoint %s: %w", ep.DeviceID, err)
	}
	return nil
}

// Get returns the endpoint for a device.
func (s *Store) Get(ctx context.Context, deviceID string) (Endpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT device_id, host, port, platform, source, seen_at
		FROM station_endpoints WHERE device_id = ?`, deviceID)
	ep, err := scanEndpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Endpoint{}, fmt.Errorf("%w: %s", ErrNotFound, deviceID)
	}
	return ep, err
}

// List returns every stored endpoint ordered by device ID.
func (s *Store) List(ctx context.Context) ([]Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, host, port, platform, source, seen_at
		FROM station_endpoints ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("listing endpoints: %w", err)
	}
	defer rows.Close()

	var out []Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// Delete removes the endpoint for a device.
func (s *Store) Delete(ctx context.Context, deviceID string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM station_endpoints WHERE device_id = ?", deviceID); err != nil {
		return fmt.Errorf("deleting endpoint %s: %w", deviceID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEndpoint(row scanner) (Endpoint, error) {
	var ep Endpoint
	var seen string
	if err := row.Scan(&ep.DeviceID, &ep.Host, &ep.Port, &ep.Platform, &ep.Source, &seen); err != nil {
		return Endpoint{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, seen)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parsing seen_at for %s: %w", ep.DeviceID, err)
	}
	ep.SeenAt = t
	return ep, nil
}
