//go:build integration

package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/workflows/internal/config"
	"github.com/liamcoop/workflows/rules"
)

// setupTestDB creates a PostgreSQL testcontainer and runs migrations
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("postgres://postgres:password@%s:%s/testdb?sslmode=disable", host, port.Port())
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	for i := 0; i < 30; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	migrationSQL, err := os.ReadFile("../../migrations/000001_initial_schema.up.sql")
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
		postgres.Terminate(ctx)
	})
	return db
}

func startServer(t *testing.T, db *sql.DB, mailer rules.Mailer) string {
	t.Helper()

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	server, err := NewServerWithDeps(context.Background(), cfg, Deps{
		DB:     db,
		Tasks:  rules.NewPostgresTaskStore(db),
		Mailer: mailer,
	})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	return ts.URL + "/api/v1"
}

// TestEndToEnd_DealWorkflow covers tenant creation, schema, rule creation,
// event processing and the resulting task
func TestEndToEnd_DealWorkflow(t *testing.T) {
	db := setupTestDB(t)
	mailer := &recordingMailer{}
	baseURL := startServer(t, db, mailer)

	tenantResp := makeRequest(t, "POST", baseURL+"/tenants", map[string]any{"name": "Test Tenant"})
	tenantID := tenantResp["id"].(string)

	schemaResp := makeRequest(t, "POST", baseURL+"/tenants/"+tenantID+"/schema", map[string]any{
		"definition": map[string]any{
			"Deal":    map[string]any{"name": "string", "value": "number", "stage": "ref:Stage", "contact": "ref:Contact"},
			"Stage":   map[string]any{"name": "string"},
			"Contact": map[string]any{"email": "string", "first_name": "string"},
		},
	})
	if version, ok := schemaResp["version"].(float64); !ok || version != 1 {
		t.Errorf("Expected schema version 1, got %v", schemaResp["version"])
	}

	ruleResp := makeRequest(t, "POST", baseURL+"/tenants/"+tenantID+"/rules", proposalRule())
	if _, ok := ruleResp["warnings"]; ok {
		t.Errorf("Expected no warnings for a rule the schema resolves, got %v", ruleResp["warnings"])
	}

	evalResp := makeRequest(t, "POST", baseURL+"/tenants/"+tenantID+"/events", dealEvent("Proposal"))
	if matched, ok := evalResp["matched"].(float64); !ok || matched != 1 {
		t.Fatalf("Expected one matched rule, got %v", evalResp)
	}

	evalResp = makeRequest(t, "POST", baseURL+"/tenants/"+tenantID+"/events", dealEvent("Closed Won"))
	if matched, ok := evalResp["matched"].(float64); !ok || matched != 0 {
		t.Errorf("Expected no match for another stage, got %v", evalResp)
	}

	tasksResp := makeRequestNoBody(t, "GET", baseURL+"/tenants/"+tenantID+"/tasks")
	tasks, ok := tasksResp["tasks"].([]any)
	if !ok || len(tasks) != 1 {
		t.Fatalf("Expected 1 task, got %v", tasksResp)
	}
	task := tasks[0].(map[string]any)
	if task["subject"] != "Follow up on Acme Renewal" {
		t.Errorf("Unexpected task subject %v", task["subject"])
	}
	if task["tenantId"] != tenantID {
		t.Errorf("Expected task for tenant %s, got %v", tenantID, task["tenantId"])
	}

	if len(mailer.sent) != 1 || mailer.sent[0].to != "ada@acme.example" {
		t.Errorf("Expected one email to the deal contact, got %+v", mailer.sent)
	}
}

// TestEndToEnd_SchemaUpdate checks that a schema change reports, but never
// disables, rules it no longer resolves
func TestEndToEnd_SchemaUpdate(t *testing.T) {
	db := setupTestDB(t)
	baseURL := startServer(t, db, &recordingMailer{})

	tenantResp := makeRequest(t, "POST", baseURL+"/tenants", map[string]any{"name": "Schema Update Test Tenant"})
	tenantID := tenantResp["id"].(string)

	makeRequest(t, "POST", baseURL+"/tenants/"+tenantID+"/schema", map[string]any{
		"definition": map[string]any{
			"Deal":  map[string]any{"name": "string", "value": "number", "stage": "ref:Stage"},
			"Stage": map[string]any{"name": "string"},
		},
	})
	ruleResp := makeRequest(t, "POST", baseURL+"/tenants/"+tenantID+"/rules", proposalRule())
	ruleID := ruleResp["id"].(string)

	schemaResp := makeRequest(t, "POST", baseURL+"/tenants/"+tenantID+"/schema", map[string]any{
		"definition": map[string]any{
			"Deal": map[string]any{"name": "string"},
		},
	})
	if version, ok := schemaResp["version"].(float64); !ok || version != 2 {
		t.Errorf("Expected schema version 2 after update, got %v", schemaResp["version"])
	}
	warnings, _ := schemaResp["warnings"].(map[string]any)
	if _, ok := warnings[ruleID]; !ok {
		t.Errorf("Expected warnings for rule %s, got %v", ruleID, schemaResp)
	}

	evalResp := makeRequest(t, "POST", baseURL+"/tenants/"+tenantID+"/events", dealEvent("Proposal"))
	if matched, ok := evalResp["matched"].(float64); !ok || matched != 1 {
		t.Errorf("Rule should still run after schema update, got %v", evalResp)
	}

	getSchemaResp := makeRequestNoBody(t, "GET", baseURL+"/tenants/"+tenantID+"/schema")
	if getSchemaResp["version"].(float64) != 2 {
		t.Errorf("Expected schema version 2, got %v", getSchemaResp["version"])
	}
}

// TestEndToEnd_RestartLoadsTenants checks a second server on the same
// database sees stored tenants and rules
func TestEndToEnd_RestartLoadsTenants(t *testing.T) {
	db := setupTestDB(t)
	first := startServer(t, db, &recordingMailer{})

	tenantResp := makeRequest(t, "POST", first+"/tenants", map[string]any{"name": "Restart Tenant"})
	tenantID := tenantResp["id"].(string)
	makeRequest(t, "POST", first+"/tenants/"+tenantID+"/rules", proposalRule())

	second := startServer(t, db, &recordingMailer{})

	rulesResp := makeRequestNoBody(t, "GET", second+"/tenants/"+tenantID+"/rules")
	if list, ok := rulesResp["rules"].([]any); !ok || len(list) != 1 {
		t.Fatalf("Expected 1 rule after restart, got %v", rulesResp)
	}

	evalResp := makeRequest(t, "POST", second+"/tenants/"+tenantID+"/events", dealEvent("Proposal"))
	if matched, ok := evalResp["matched"].(float64); !ok || matched != 1 {
		t.Errorf("Expected match after restart, got %v", evalResp)
	}
}

func TestEndToEnd_DuplicateRuleConflict(t *testing.T) {
	db := setupTestDB(t)
	baseURL := startServer(t, db, &recordingMailer{})

	tenantResp := makeRequest(t, "POST", baseURL+"/tenants", map[string]any{"name": "Conflict Test Tenant"})
	tenantID := tenantResp["id"].(string)

	rule := proposalRule()
	rule["id"] = "proposal-follow-up"
	makeRequest(t, "POST", baseURL+"/tenants/"+tenantID+"/rules", rule)

	resp, err := makeHTTPRequest("POST", baseURL+"/tenants/"+tenantID+"/rules", rule)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("Expected 409 Conflict, got %d: %s", resp.StatusCode, body)
	}
}

// Helper function to make HTTP requests with JSON body
func makeRequest(t *testing.T, method, url string, body any) map[string]any {
	t.Helper()
	resp, err := makeHTTPRequest(method, url, body)
	if err != nil {
		t.Fatalf("Failed to make %s request to %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("Request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return result
}

func makeRequestNoBody(t *testing.T, method, url string) map[string]any {
	t.Helper()
	return makeRequest(t, method, url, nil)
}

// Helper function to make raw HTTP requests
func makeHTTPRequest(method, url string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	return client.Do(req)
}
