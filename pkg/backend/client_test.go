package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/quill/pkg/config"
)

func TestOpenRedis_NotConfigured(t *testing.T) {
	client, err := OpenRedis(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestOpenRedis_Success(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := OpenRedis(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	require.NotNil(t, client)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestOpenRedis_InvalidURL(t *testing.T) {
	_, err := OpenRedis(context.Background(), config.RedisConfig{URL: "not-a-url://"})
	assert.Error(t, err)
}

func TestOpenRedis_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := OpenRedis(context.Background(), config.RedisConfig{URL: "redis://" + addr})
	assert.Error(t, err)
}

func TestSelfTest(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	mr := miniredis.RunT(t)
	rdb, err := OpenRedis(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)

	c := &Client{DB: db, Redis: rdb}
	report := c.SelfTest(context.Background())

	assert.Equal(t, StatusOK, report["database"])
	assert.Equal(t, StatusOK, report["redis"])
	assert.Equal(t, StatusDisabled, report["object_store"])
	assert.Nil(t, c.ObjectPinger())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSelfTest_DatabaseDown(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	c := &Client{DB: db}
	report := c.SelfTest(context.Background())

	assert.Equal(t, "connection refused", report["database"])
	assert.Equal(t, StatusDisabled, report["redis"])
}

func TestDiagnose_MissingConfig(t *testing.T) {
	t.Setenv(config.EnvDatabaseURL, "")
	t.Setenv(config.EnvSessionSecret, "")

	err := fmt.Errorf("configuration validation failed: %w",
		&config.MissingConfigError{Vars: []string{config.EnvDatabaseURL, config.EnvSessionSecret}})
	d := Diagnose(err)

	assert.Equal(t, "backend not configured", d.Error)
	assert.Equal(t, []string{config.EnvDatabaseURL, config.EnvSessionSecret}, d.Missing)
	assert.False(t, d.Env[config.EnvDatabaseURL])
	assert.Empty(t, d.Detail)
}

func TestDiagnose_ConnectionFailure(t *testing.T) {
	t.Setenv(config.EnvDatabaseURL, "postgres://db/quill")

	d := Diagnose(errors.New("failed to ping database: dial tcp: refused"))

	assert.Equal(t, "backend unavailable", d.Error)
	assert.Empty(t, d.Missing)
	assert.Contains(t, d.Detail, "refused")
	assert.True(t, d.Env[config.EnvDatabaseURL])
}
