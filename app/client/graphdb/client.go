package graphdb

import (
	"context"
	"fmt"

	"github.com/Vladikasik/mcm-https/app/config"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/samber/do"
)

var _ do.Shutdownable = (*Client)(nil)

// Client owns the connection to Neo4j and executes parameterized Cypher.
// Driver errors are passed through to callers unmodified apart from wrapping.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
}

func New(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)
	appCtx := do.MustInvoke[context.Context](di)

	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4j.URI,
		neo4j.BasicAuth(cfg.Neo4j.Username, cfg.Neo4j.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err = driver.VerifyConnectivity(appCtx); err != nil {
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}

	return &Client{
		driver:   driver,
		database: cfg.Neo4j.Database,
	}, nil
}

func (c *Client) ExecuteRead(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	rows, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collectRows(ctx, tx, cypher, params)
	})
	if err != nil {
		return nil, fmt.Errorf("read query failed: %w", err)
	}

	return rows.([]map[string]any), nil
}

func (c *Client) ExecuteWrite(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	rows, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collectRows(ctx, tx, cypher, params)
	})
	if err != nil {
		return nil, fmt.Errorf("write query failed: %w", err)
	}

	return rows.([]map[string]any), nil
}

func collectRows(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) (any, error) {
	result, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}

	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]any, 0, len(records))
	for _, record := range records {
		rows = append(rows, record.AsMap())
	}

	return rows, nil
}

func (c *Client) Shutdown() error {
	return c.driver.Close(context.Background())
}
