package datastore

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

func dialNeo4j(cfg Neo4jConfig) (neo4jDriver, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Auth.Username, cfg.Auth.Password, ""))
	if err != nil {
		return nil, errdefs.Configf("neo4j: %v", err)
	}
	return WrapNeo4jDriver(driver), nil
}

// WrapNeo4jDriver adapts the official driver to the store's driver interface. Retryable
// driver errors come back matching errdefs.ErrBackendUnavailable.
func WrapNeo4jDriver(driver neo4j.DriverWithContext) neo4jDriver {
	if driver == nil {
		return nil
	}
	return &driverWrapper{driver: driver}
}

func classifyNeo4j(err error) error {
	if err != nil && neo4j.IsRetryable(err) {
		return errdefs.Unavailable(err)
	}
	return err
}

type driverWrapper struct {
	driver neo4j.DriverWithContext
}

func (d *driverWrapper) NewSession(ctx context.Context, config Neo4jSessionConfig) (neo4jSession, error) {
	sessionConfig := neo4j.SessionConfig{DatabaseName: config.DatabaseName, AccessMode: neo4j.AccessModeWrite}
	if config.AccessMode == AccessModeRead {
		sessionConfig.AccessMode = neo4j.AccessModeRead
	}
	return &sessionWrapper{session: d.driver.NewSession(ctx, sessionConfig)}, nil
}

func (d *driverWrapper) VerifyConnectivity(ctx context.Context) error {
	return d.driver.VerifyConnectivity(ctx)
}

func (d *driverWrapper) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

type sessionWrapper struct {
	session neo4j.SessionWithContext
}

func (s *sessionWrapper) BeginTransaction(ctx context.Context) (neo4jTransaction, error) {
	tx, err := s.session.BeginTransaction(ctx)
	if err != nil {
		return nil, classifyNeo4j(err)
	}
	return &transactionWrapper{tx: tx}, nil
}

func (s *sessionWrapper) Run(ctx context.Context, query string, params map[string]any) (neo4jResult, error) {
	res, err := s.session.Run(ctx, query, params)
	if err != nil {
		return nil, classifyNeo4j(err)
	}
	return &resultWrapper{result: res}, nil
}

func (s *sessionWrapper) Close(ctx context.Context) error {
	return s.session.Close(ctx)
}

type transactionWrapper struct {
	tx neo4j.ExplicitTransaction
}

func (t *transactionWrapper) Run(ctx context.Context, query string, params map[string]any) (neo4jResult, error) {
	res, err := t.tx.Run(ctx, query, params)
	if err != nil {
		return nil, classifyNeo4j(err)
	}
	return &resultWrapper{result: res}, nil
}

func (t *transactionWrapper) Commit(ctx context.Context) error {
	return classifyNeo4j(t.tx.Commit(ctx))
}

func (t *transactionWrapper) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

func (t *transactionWrapper) Close(ctx context.Context) error {
	return t.tx.Close(ctx)
}

type resultWrapper struct {
	result neo4j.ResultWithContext
}

func (r *resultWrapper) Next(ctx context.Context) bool {
	return r.result.Next(ctx)
}

func (r *resultWrapper) Record() neo4jRecord {
	rec := r.result.Record()
	if rec == nil {
		return nil
	}
	return recordWrapper{record: rec}
}

func (r *resultWrapper) Err() error {
	return classifyNeo4j(r.result.Err())
}

// Close drains the result; the driver has no separate close.
func (r *resultWrapper) Close(ctx context.Context) error {
	_, err := r.result.Consume(ctx)
	return err
}

type recordWrapper struct {
	record *neo4j.Record
}

func (r recordWrapper) Get(key string) (any, bool) {
	return r.record.Get(key)
}
