package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/jbweber/homelab/topo/internal/domain"
)

const connectionColumns = "id, from_device, to_device, from_router_ip, to_router_ip, bandwidth"

// ConnectionRepository defines domain-specific operations for connections
type ConnectionRepository interface {
	Repository[domain.Connection, string]
	FindByPair(ctx context.Context, a, b string) (domain.Connection, error)
	FindByDevice(ctx context.Context, deviceID string) ([]domain.Connection, error)
	DeleteByDevice(ctx context.Context, deviceID string) (int64, error)
}

// connectionRepositoryImpl implements ConnectionRepository
type connectionRepositoryImpl struct {
	db *sql.DB
}

// NewConnectionRepository creates a new connection repository
func NewConnectionRepository(db *sql.DB) ConnectionRepository {
	return &connectionRepositoryImpl{
		db: db,
	}
}

// Save creates or updates a connection. A new ID is generated when empty.
func (r *connectionRepositoryImpl) Save(ctx context.Context, conn domain.Connection) (domain.Connection, error) {
	if conn.From == "" || conn.To == "" {
		return domain.Connection{}, fmt.Errorf("connection endpoints are required: %w", ErrInvalidEntity)
	}
	if conn.From == conn.To {
		return domain.Connection{}, fmt.Errorf("connection %s loops back to itself: %w", conn.From, ErrInvalidEntity)
	}

	if conn.ID == "" {
		conn.ID = uuid.NewString()
		return r.createConnection(ctx, conn)
	}

	exists, err := r.ExistsByID(ctx, conn.ID)
	if err != nil {
		return domain.Connection{}, err
	}
	if !exists {
		return r.createConnection(ctx, conn)
	}
	return r.updateConnection(ctx, conn)
}

// createConnection inserts a new connection into the database
func (r *connectionRepositoryImpl) createConnection(ctx context.Context, c domain.Connection) (domain.Connection, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO connections (id, from_device, to_device, from_router_ip, to_router_ip, bandwidth, pair_key)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.From, c.To, c.FromRouterIP, c.ToRouterIP, c.Bandwidth, c.PairKey())
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Connection{}, fmt.Errorf("connection between %s and %s: %w", c.From, c.To, ErrDuplicate)
		}
		return domain.Connection{}, fmt.Errorf("failed to create connection: %w", err)
	}
	return c, nil
}

// updateConnection updates an existing connection in the database
func (r *connectionRepositoryImpl) updateConnection(ctx context.Context, c domain.Connection) (domain.Connection, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE connections
		SET from_device = ?, to_device = ?, from_router_ip = ?, to_router_ip = ?, bandwidth = ?, pair_key = ?
		WHERE id = ?`,
		c.From, c.To, c.FromRouterIP, c.ToRouterIP, c.Bandwidth, c.PairKey(), c.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Connection{}, fmt.Errorf("connection between %s and %s: %w", c.From, c.To, ErrDuplicate)
		}
		return domain.Connection{}, fmt.Errorf("failed to update connection: %w", err)
	}
	return c, nil
}

// FindByID finds a connection by ID
func (r *connectionRepositoryImpl) FindByID(ctx context.Context, id string) (domain.Connection, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+connectionColumns+" FROM connections WHERE id = ?", id)
	conn, err := scanConnection(row)
	if err != nil {
		if isNotFoundError(err) {
			return domain.Connection{}, fmt.Errorf("connection with ID %s: %w", id, ErrNotFound)
		}
		return domain.Connection{}, fmt.Errorf("failed to find connection: %w", err)
	}
	return conn, nil
}

// FindByPair finds the connection joining a and b, in either direction
func (r *connectionRepositoryImpl) FindByPair(ctx context.Context, a, b string) (domain.Connection, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+connectionColumns+" FROM connections WHERE pair_key = ?", domain.PairKey(a, b))
	conn, err := scanConnection(row)
	if err != nil {
		if isNotFoundError(err) {
			return domain.Connection{}, fmt.Errorf("connection between %s and %s: %w", a, b, ErrNotFound)
		}
		return domain.Connection{}, fmt.Errorf("failed to find connection: %w", err)
	}
	return conn, nil
}

// FindAll finds all connections in insertion order
func (r *connectionRepositoryImpl) FindAll(ctx context.Context) ([]domain.Connection, error) {
	return r.query(ctx, "SELECT "+connectionColumns+" FROM connections ORDER BY seq ASC")
}

// FindByDevice finds all connections touching deviceID in insertion order
func (r *connectionRepositoryImpl) FindByDevice(ctx context.Context, deviceID string) ([]domain.Connection, error) {
	return r.query(ctx,
		"SELECT "+connectionColumns+" FROM connections WHERE from_device = ? OR to_device = ? ORDER BY seq ASC",
		deviceID, deviceID)
}

func (r *connectionRepositoryImpl) query(ctx context.Context, query string, args ...any) ([]domain.Connection, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find connections: %w", err)
	}
	defer rows.Close()

	var conns []domain.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, conn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}

	return conns, nil
}

// DeleteByID deletes a connection by ID
func (r *connectionRepositoryImpl) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM connections WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("connection with ID %s: %w", id, ErrNotFound)
	}

	return nil
}

// DeleteByDevice deletes every connection touching deviceID
func (r *connectionRepositoryImpl) DeleteByDevice(ctx context.Context, deviceID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM connections WHERE from_device = ? OR to_device = ?", deviceID, deviceID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete connections of %s: %w", deviceID, err)
	}
	return result.RowsAffected()
}

// ExistsByID checks if a connection exists by ID
func (r *connectionRepositoryImpl) ExistsByID(ctx context.Context, id string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM connections WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check connection existence: %w", err)
	}
	return count > 0, nil
}

func scanConnection(row rowScanner) (domain.Connection, error) {
	var c domain.Connection
	err := row.Scan(&c.ID, &c.From, &c.To, &c.FromRouterIP, &c.ToRouterIP, &c.Bandwidth)
	return c, err
}
