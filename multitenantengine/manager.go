package multitenantengine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/liamcoop/workflows/rules"
)

// Schema describes a tenant's entity types: entity type name to field name
// to field type. Field types are string, number, bool, timestamp, or
// ref:<EntityType> for a one-hop relation.
type Schema map[string]map[string]string

// RuleStoreFactory returns the rule store for one tenant
type RuleStoreFactory func(tenantID string) rules.RuleStore

// TenantEngine wraps a rules.Engine with tenant-specific metadata
type TenantEngine struct {
	TenantID string
	Schema   Schema
	Engine   *rules.Engine
}

// MultiTenantEngineManager owns one workflow engine per tenant. Engines
// share the task store, mailer, metrics and (when configured) Redis; rules
// and caches are per tenant.
type MultiTenantEngineManager struct {
	engines map[string]*TenantEngine
	tenants TenantStore

	newRuleStore      RuleStoreFactory
	tasks             rules.TaskStore
	mailer            rules.Mailer
	redis             redis.UniversalClient
	cacheConfig       rules.CacheConfig
	metrics           *rules.Metrics
	logger            *slog.Logger
	fallbackRecipient string

	mu sync.RWMutex
}

// ManagerOption configures a MultiTenantEngineManager
type ManagerOption func(*MultiTenantEngineManager)

// WithTenantStore overrides where tenants and schemas are persisted
func WithTenantStore(store TenantStore) ManagerOption {
	return func(m *MultiTenantEngineManager) { m.tenants = store }
}

// WithRuleStoreFactory overrides how each tenant's rule store is built
func WithRuleStoreFactory(f RuleStoreFactory) ManagerOption {
	return func(m *MultiTenantEngineManager) { m.newRuleStore = f }
}

// WithRedisCache shares rule caches across replicas through Redis
func WithRedisCache(client redis.UniversalClient) ManagerOption {
	return func(m *MultiTenantEngineManager) { m.redis = client }
}

// WithCacheConfig sets the rules cache TTL for every tenant
func WithCacheConfig(cfg rules.CacheConfig) ManagerOption {
	return func(m *MultiTenantEngineManager) { m.cacheConfig = cfg }
}

func WithMetrics(metrics *rules.Metrics) ManagerOption {
	return func(m *MultiTenantEngineManager) { m.metrics = metrics }
}

func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *MultiTenantEngineManager) { m.logger = logger }
}

func WithFallbackRecipient(addr string) ManagerOption {
	return func(m *MultiTenantEngineManager) { m.fallbackRecipient = addr }
}

// NewMultiTenantEngineManager creates a new manager instance. With a
// database, tenants and rules are stored in Postgres; with a nil db both
// live in memory.
func NewMultiTenantEngineManager(db *sql.DB, tasks rules.TaskStore, mailer rules.Mailer, opts ...ManagerOption) *MultiTenantEngineManager {
	m := &MultiTenantEngineManager{
		engines:           make(map[string]*TenantEngine),
		tasks:             tasks,
		mailer:            mailer,
		cacheConfig:       rules.DefaultCacheConfig(),
		logger:            slog.Default(),
		fallbackRecipient: rules.DefaultFallbackRecipient,
	}
	if db != nil {
		m.tenants = NewPostgresTenantStore(db)
		m.newRuleStore = func(tenantID string) rules.RuleStore {
			return rules.NewPostgresRuleStore(db, tenantID)
		}
	} else {
		m.tenants = NewInMemoryTenantStore()
		m.newRuleStore = func(string) rules.RuleStore {
			return rules.NewInMemoryRuleStore()
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadAllTenants loads all tenants with their active schemas and
// initializes their engines
func (m *MultiTenantEngineManager) LoadAllTenants(ctx context.Context) error {
	tenants, err := m.tenants.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch tenants: %w", err)
	}

	for _, t := range tenants {
		sv, err := m.tenants.ActiveSchema(ctx, t.ID)
		if err != nil {
			return err
		}
		var schema Schema
		if sv != nil {
			schema = sv.Definition
		}
		if err := m.loadTenant(t.ID, schema); err != nil {
			return fmt.Errorf("failed to initialize tenant %s: %w", t.ID, err)
		}
	}

	m.logger.Info("tenants loaded", "count", len(tenants))
	return nil
}

// CreateTenant stores a new tenant and starts its engine
func (m *MultiTenantEngineManager) CreateTenant(ctx context.Context, name string) (*Tenant, error) {
	t, err := m.tenants.CreateTenant(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := m.loadTenant(t.ID, nil); err != nil {
		return nil, err
	}
	m.logger.Info("tenant created", "tenant_id", t.ID, "name", name)
	return t, nil
}

// ListStoredTenants returns every persisted tenant, loaded or not
func (m *MultiTenantEngineManager) ListStoredTenants(ctx context.Context) ([]*Tenant, error) {
	return m.tenants.ListTenants(ctx)
}

func (m *MultiTenantEngineManager) loadTenant(tenantID string, schema Schema) error {
	cache := rules.RulesCache(rules.NewInMemoryRulesCache(m.cacheConfig))
	if m.redis != nil {
		cache = rules.NewRedisRulesCache(m.redis, "workflows:rules:"+tenantID, m.cacheConfig, m.logger)
	}

	engine, err := rules.NewEngine(m.newRuleStore(tenantID), m.tasks, m.mailer,
		rules.WithCache(cache),
		rules.WithLogger(m.logger.With("tenant_id", tenantID)),
		rules.WithMetrics(m.metrics),
		rules.WithFallbackRecipient(m.fallbackRecipient),
	)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	m.mu.Lock()
	m.engines[tenantID] = &TenantEngine{
		TenantID: tenantID,
		Schema:   schema,
		Engine:   engine,
	}
	m.mu.Unlock()
	return nil
}

func (m *MultiTenantEngineManager) tenant(tenantID string) (*TenantEngine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	te, exists := m.engines[tenantID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	return te, nil
}

// GetEngine retrieves the engine for a specific tenant
func (m *MultiTenantEngineManager) GetEngine(tenantID string) (*rules.Engine, error) {
	te, err := m.tenant(tenantID)
	if err != nil {
		return nil, err
	}
	return te.Engine, nil
}

// GetSchema returns the tenant's active schema, nil when none is set
func (m *MultiTenantEngineManager) GetSchema(tenantID string) (Schema, error) {
	te, err := m.tenant(tenantID)
	if err != nil {
		return nil, err
	}
	return te.Schema, nil
}

// GetSchemaVersion reads the active schema revision from the tenant store
func (m *MultiTenantEngineManager) GetSchemaVersion(ctx context.Context, tenantID string) (*SchemaVersion, error) {
	if _, err := m.tenant(tenantID); err != nil {
		return nil, err
	}
	return m.tenants.ActiveSchema(ctx, tenantID)
}

// SchemaUpdate reports a stored schema and the rules it no longer resolves
type SchemaUpdate struct {
	Version      int                 `json:"version"`
	RulesChecked int                 `json:"rulesChecked"`
	Warnings     map[string][]string `json:"warnings,omitempty"`
}

// UpdateTenantSchema validates and stores a new schema version and swaps it
// in. Rules are never rejected by a schema change; rules with fields the new
// schema cannot resolve are reported in the result.
func (m *MultiTenantEngineManager) UpdateTenantSchema(ctx context.Context, tenantID string, schema Schema) (*SchemaUpdate, error) {
	te, err := m.tenant(tenantID)
	if err != nil {
		return nil, err
	}
	if err := ValidateSchema(schema); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}

	sv, err := m.tenants.SaveSchema(ctx, tenantID, schema)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.engines[tenantID] = &TenantEngine{TenantID: tenantID, Schema: schema, Engine: te.Engine}
	m.mu.Unlock()

	update := &SchemaUpdate{Version: sv.Version, Warnings: make(map[string][]string)}
	existing, err := te.Engine.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	for _, r := range existing {
		update.RulesChecked++
		if warnings := CheckRuleFields(schema, r); len(warnings) > 0 {
			update.Warnings[r.ID] = warnings
		}
	}

	m.logger.Info("tenant schema updated",
		"tenant_id", tenantID,
		"version", sv.Version,
		"rules_checked", update.RulesChecked,
		"rules_with_warnings", len(update.Warnings),
	)
	return update, nil
}

// CheckRule reports the fields of r the tenant schema cannot resolve
func (m *MultiTenantEngineManager) CheckRule(tenantID string, r *rules.Rule) ([]string, error) {
	te, err := m.tenant(tenantID)
	if err != nil {
		return nil, err
	}
	return CheckRuleFields(te.Schema, r), nil
}

// ProcessEvent runs the tenant's workflow rules for event. An actor without
// a tenant is attributed to tenantID.
func (m *MultiTenantEngineManager) ProcessEvent(ctx context.Context, tenantID, event string, entity rules.Entity, actor rules.Actor) ([]*rules.RuleResult, error) {
	engine, err := m.GetEngine(tenantID)
	if err != nil {
		return nil, err
	}
	if actor.TenantID == "" {
		actor.TenantID = tenantID
	}
	return engine.Process(ctx, event, entity, actor)
}

// ListTasks returns the tasks created for a loaded tenant
func (m *MultiTenantEngineManager) ListTasks(ctx context.Context, tenantID string) ([]*rules.Task, error) {
	if _, err := m.tenant(tenantID); err != nil {
		return nil, err
	}
	return m.tasks.ListTasks(ctx, tenantID)
}

// ListTenants returns all loaded tenant IDs, sorted
func (m *MultiTenantEngineManager) ListTenants() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tenants := make([]string, 0, len(m.engines))
	for tenantID := range m.engines {
		tenants = append(tenants, tenantID)
	}
	sort.Strings(tenants)
	return tenants
}

// DeleteTenant unloads a tenant's engine. Stored data is kept.
func (m *MultiTenantEngineManager) DeleteTenant(tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.engines[tenantID]; !exists {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}

	delete(m.engines, tenantID)
	return nil
}
