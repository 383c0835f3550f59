// Package util provides test infrastructure: a shared Postgres
// testcontainer with one isolated database per test.
package util

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relaymesh/relayd/pkg/store"
)

var (
	sharedOnce sync.Once
	sharedHost string
	sharedPort int
	sharedErr  error

	dbCounter int64
	counterMu sync.Mutex
)

const (
	adminUser     = "relayd"
	adminPassword = "relayd-test"
)

// SetupTestStore starts (once per package) a Postgres container, creates a
// fresh database for this test, and returns an opened Store with migrations
// applied. In CI an external Postgres can be supplied via CI_DB_HOST /
// CI_DB_PORT instead.
func SetupTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	host, port := sharedPostgres(t)

	dbName := nextDBName(t)
	adminDSN := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=postgres sslmode=disable",
		host, port, adminUser, adminPassword)
	admin, err := stdsql.Open("pgx", adminDSN)
	require.NoError(t, err)
	_, err = admin.ExecContext(ctx, "CREATE DATABASE "+dbName)
	require.NoError(t, err)
	require.NoError(t, admin.Close())

	cfg := store.Config{
		Host:         host,
		Port:         port,
		User:         adminUser,
		Password:     adminPassword,
		Database:     dbName,
		SSLMode:      "disable",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}
	st, err := store.Open(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = st.DB().Close() })
	return st
}

func sharedPostgres(t *testing.T) (string, int) {
	if h := os.Getenv("CI_DB_HOST"); h != "" {
		port, _ := strconv.Atoi(os.Getenv("CI_DB_PORT"))
		if port == 0 {
			port = 5432
		}
		return h, port
	}

	sharedOnce.Do(func() {
		ctx := context.Background()
		container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("postgres"),
			tcpostgres.WithUsername(adminUser),
			tcpostgres.WithPassword(adminPassword),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if err != nil {
			sharedErr = err
			return
		}
		host, err := container.Host(ctx)
		if err != nil {
			sharedErr = err
			return
		}
		mapped, err := container.MappedPort(ctx, "5432/tcp")
		if err != nil {
			sharedErr = err
			return
		}
		sharedHost = host
		sharedPort = mapped.Int()
	})
	require.NoError(t, sharedErr, "starting shared postgres container")
	return sharedHost, sharedPort
}

func nextDBName(t *testing.T) string {
	counterMu.Lock()
	dbCounter++
	n := dbCounter
	counterMu.Unlock()

	name := strings.ToLower(t.Name())
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
	if len(name) > 40 {
		name = name[:40]
	}
	return fmt.Sprintf("t_%s_%d", name, n)
}
