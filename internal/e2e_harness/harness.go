package e2e_harness

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"github.com/lychee-technology/formsync"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const elasticsearchImage = "docker.elastic.co/elasticsearch/elasticsearch:8.15.3"

// TestHarness holds lightweight runners for dependencies used by E2E tests.
type TestHarness struct {
	PGContainer testcontainers.Container
	PGDSN       string
	PGHost      string
	PGPort      int
	PGDB        *sql.DB
	ESContainer testcontainers.Container
	ESEndpoint  string
}

// StartPostgres starts a postgres container and returns a DSN. The server runs west of
// UTC so timestamp columns and the host clock disagree.
// It waits until Postgres is reachable. Caller is responsible for calling StopPostgres.
func (h *TestHarness) StartPostgres(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		ExposedPorts: []string{"5432/tcp"},
		Cmd:          []string{"postgres", "-c", "timezone=America/New_York"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_DB":       "postgres",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", err
	}
	h.PGContainer = container

	host, err := container.Host(ctx)
	if err != nil {
		return "", err
	}
	mapped, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return "", err
	}
	h.PGHost = host
	h.PGPort, err = strconv.Atoi(mapped.Port())
	if err != nil {
		return "", err
	}
	dsn := fmt.Sprintf("postgres://postgres:password@%s:%s/postgres?sslmode=disable", host, mapped.Port())
	h.PGDSN = dsn

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return "", err
	}
	deadline := time.Now().Add(20 * time.Second)
	for {
		if err := db.PingContext(ctx); err == nil {
			h.PGDB = db
			return dsn, nil
		}
		if time.Now().After(deadline) {
			db.Close()
			return "", fmt.Errorf("postgres did not become ready: %w", err)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// StopPostgres stops the Postgres container and closes DB handle.
func (h *TestHarness) StopPostgres(ctx context.Context) error {
	if h.PGDB != nil {
		h.PGDB.Close()
		h.PGDB = nil
	}
	if h.PGContainer != nil {
		if err := h.PGContainer.Terminate(ctx); err != nil {
			return err
		}
		h.PGContainer = nil
	}
	return nil
}

// StartElasticsearch starts a single-node cluster without security and returns its endpoint.
func (h *TestHarness) StartElasticsearch(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        elasticsearchImage,
		ExposedPorts: []string{"9200/tcp"},
		Env: map[string]string{
			"discovery.type":         "single-node",
			"xpack.security.enabled": "false",
			"ES_JAVA_OPTS":           "-Xms512m -Xmx512m",
		},
		WaitingFor: wait.ForHTTP("/_cluster/health?wait_for_status=yellow").
			WithPort("9200/tcp").
			WithStatusCodeMatcher(func(status int) bool { return status == http.StatusOK }).
			WithStartupTimeout(2 * time.Minute),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", err
	}
	h.ESContainer = container
	host, err := container.Host(ctx)
	if err != nil {
		return "", err
	}
	mapped, err := container.MappedPort(ctx, "9200")
	if err != nil {
		return "", err
	}
	h.ESEndpoint = fmt.Sprintf("http://%s:%s", host, mapped.Port())
	return h.ESEndpoint, nil
}

// StopElasticsearch stops the Elasticsearch container.
func (h *TestHarness) StopElasticsearch(ctx context.Context) error {
	if h.ESContainer != nil {
		if err := h.ESContainer.Terminate(ctx); err != nil {
			return err
		}
		h.ESContainer = nil
	}
	return nil
}

// Config returns a configuration pointing at the running containers.
func (h *TestHarness) Config(watermarkPath string) *formsync.Config {
	cfg := formsync.DefaultConfig()
	cfg.Database.Host = h.PGHost
	cfg.Database.Port = h.PGPort
	cfg.Database.Database = "postgres"
	cfg.Database.Username = "postgres"
	cfg.Database.Password = "password"
	cfg.Database.PoolSize = 4
	cfg.Database.LightPoolSize = 2
	cfg.Search.Addresses = []string{h.ESEndpoint}
	cfg.Search.MaxRetries = 2
	cfg.Sync.ReadBatchSize = 2
	cfg.Sync.WriteBatchSize = 2
	cfg.Sync.Workers = 2
	cfg.Watermark.Path = watermarkPath
	return cfg
}
