package multitenantengine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTenantNotFound is returned for tenants that are not loaded or stored
var ErrTenantNotFound = errors.New("tenant not found")

// Tenant is an isolated CRM account with its own rules and schema
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SchemaVersion is one stored revision of a tenant schema
type SchemaVersion struct {
	TenantID   string    `json:"tenantId"`
	Version    int       `json:"version"`
	Definition Schema    `json:"definition"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TenantStore persists tenants and their versioned schemas. Only one schema
// version per tenant is active.
type TenantStore interface {
	CreateTenant(ctx context.Context, name string) (*Tenant, error)
	ListTenants(ctx context.Context) ([]*Tenant, error)
	ActiveSchema(ctx context.Context, tenantID string) (*SchemaVersion, error)
	SaveSchema(ctx context.Context, tenantID string, schema Schema) (*SchemaVersion, error)
}

// PostgresTenantStore reads and writes the tenants and schemas tables
type PostgresTenantStore struct {
	db *sql.DB
}

func NewPostgresTenantStore(db *sql.DB) *PostgresTenantStore {
	return &PostgresTenantStore{db: db}
}

func (s *PostgresTenantStore) CreateTenant(ctx context.Context, name string) (*Tenant, error) {
	t := &Tenant{Name: name}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tenants (name, created_at, updated_at)
		VALUES ($1, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`, name).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	return t, nil
}

func (s *PostgresTenantStore) ListTenants(ctx context.Context) ([]*Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at, updated_at
		FROM tenants
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		t := &Tenant{}
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant row: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenant rows: %w", err)
	}
	return tenants, nil
}

// ActiveSchema returns the active schema or nil when the tenant has none
func (s *PostgresTenantStore) ActiveSchema(ctx context.Context, tenantID string) (*SchemaVersion, error) {
	sv := &SchemaVersion{TenantID: tenantID}
	var definition []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT version, definition, created_at
		FROM schemas
		WHERE tenant_id = $1 AND active = true
	`, tenantID).Scan(&sv.Version, &definition, &sv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schema for tenant %s: %w", tenantID, err)
	}
	if err := json.Unmarshal(definition, &sv.Definition); err != nil {
		return nil, fmt.Errorf("invalid schema for tenant %s: %w", tenantID, err)
	}
	return sv, nil
}

// SaveSchema deactivates the current version and inserts the next one in
// a single transaction
func (s *PostgresTenantStore) SaveSchema(ctx context.Context, tenantID string, schema Schema) (*SchemaVersion, error) {
	definition, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE schemas
		SET active = false
		WHERE tenant_id = $1
	`, tenantID); err != nil {
		return nil, fmt.Errorf("failed to deactivate old schemas: %w", err)
	}

	sv := &SchemaVersion{TenantID: tenantID, Definition: schema}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO schemas (tenant_id, version, definition, active, created_at)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, true, NOW()
		FROM schemas
		WHERE tenant_id = $1
		RETURNING version, created_at
	`, tenantID, definition).Scan(&sv.Version, &sv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save new schema: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit schema: %w", err)
	}
	return sv, nil
}

// InMemoryTenantStore is a TenantStore for tests and database-less runs
type InMemoryTenantStore struct {
	tenants map[string]*Tenant
	schemas map[string][]*SchemaVersion
	mu      sync.RWMutex
}

func NewInMemoryTenantStore() *InMemoryTenantStore {
	return &InMemoryTenantStore{
		tenants: make(map[string]*Tenant),
		schemas: make(map[string][]*SchemaVersion),
	}
}

func (s *InMemoryTenantStore) CreateTenant(_ context.Context, name string) (*Tenant, error) {
	now := time.Now()
	t := &Tenant{ID: uuid.New().String(), Name: name, CreatedAt: now, UpdatedAt: now}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
	return t, nil
}

func (s *InMemoryTenantStore) ListTenants(_ context.Context) ([]*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenants := make([]*Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		cp := *t
		tenants = append(tenants, &cp)
	}
	sort.Slice(tenants, func(i, j int) bool {
		return tenants[i].CreatedAt.Before(tenants[j].CreatedAt)
	})
	return tenants, nil
}

func (s *InMemoryTenantStore) ActiveSchema(_ context.Context, tenantID string) (*SchemaVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.schemas[tenantID]
	if len(versions) == 0 {
		return nil, nil
	}
	return versions[len(versions)-1], nil
}

func (s *InMemoryTenantStore) SaveSchema(_ context.Context, tenantID string, schema Schema) (*SchemaVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[tenantID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	sv := &SchemaVersion{
		TenantID:   tenantID,
		Version:    len(s.schemas[tenantID]) + 1,
		Definition: schema,
		CreatedAt:  time.Now(),
	}
	s.schemas[tenantID] = append(s.schemas[tenantID], sv)
	return sv, nil
}
