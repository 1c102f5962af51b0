//go:build integration

package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/StricklySoft/authcenter-go/internal/testutil/containers"
	"github.com/StricklySoft/authcenter-go/pkg/config"
	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
	"github.com/StricklySoft/authcenter-go/pkg/snapshot/postgres"
)

type PostgresSnapshotSuite struct {
	suite.Suite

	ctx    context.Context
	result *containers.PostgresResult
	store  *postgres.Store
}

func TestPostgresSnapshotSuite(t *testing.T) {
	suite.Run(t, new(PostgresSnapshotSuite))
}

func (s *PostgresSnapshotSuite) SetupSuite() {
	s.ctx = context.Background()

	result, err := containers.StartPostgres(s.ctx)
	s.Require().NoError(err, "failed to start postgres container")
	s.result = result

	store, err := postgres.New(s.ctx, postgres.Config{
		DSN:         config.Secret(result.ConnString),
		AutoMigrate: true,
	})
	s.Require().NoError(err, "failed to connect to postgres container")
	s.store = store
}

func (s *PostgresSnapshotSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
	if s.result != nil {
		_ = s.result.Container.Terminate(s.ctx)
	}
}

func (s *PostgresSnapshotSuite) TestSaveOverwritesAndLoads() {
	url := "https://auth.example.com/" + s.T().Name()

	s.Require().NoError(s.store.SaveSnapshot(s.ctx, url, []byte(`{"keys":[{"kid":"old"}]}`)))
	s.Require().NoError(s.store.SaveSnapshot(s.ctx, url, []byte(`{"keys":[{"kid":"new"}]}`)))

	got, err := s.store.LoadSnapshot(s.ctx, url)
	s.Require().NoError(err)
	s.JSONEq(`{"keys":[{"kid":"new"}]}`, string(got))
}

func (s *PostgresSnapshotSuite) TestLoadMissing() {
	_, err := s.store.LoadSnapshot(s.ctx, "https://nowhere.example.com/jwks.json")
	s.True(sserr.IsNotFound(err))
}

func (s *PostgresSnapshotSuite) TestEnsureSchemaIsIdempotent() {
	s.NoError(s.store.EnsureSchema(s.ctx))
	s.NoError(s.store.EnsureSchema(s.ctx))
}

func (s *PostgresSnapshotSuite) TestHealth() {
	s.NoError(s.store.Health(s.ctx))
}
