package dbserver

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/udisondev/otpedge/internal/dbserver/migrations"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminating postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, runTestMigrations(pool))

	return &Store{pool: pool}
}

func runTestMigrations(pool *pgxpool.Pool) error {
	connStr := stdlib.RegisterConnConfig(pool.Config().ConnConfig)
	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("opening sql.DB: %w", err)
	}
	defer sqlDB.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	return goose.Up(sqlDB, ".")
}

func TestStoreCreateAndGetAll(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	doID, err := store.CreateObject(ctx, "DistributedToon",
		[]string{"setName", "setDNA"},
		map[string][]byte{"setName": []byte("Flippy"), "setDNA": {1, 2, 3}},
	)
	require.NoError(t, err)
	require.NotZero(t, doID)

	class, fields, err := store.GetAll(ctx, doID)
	require.NoError(t, err)
	require.Equal(t, "DistributedToon", class)
	require.Equal(t, []byte("Flippy"), fields["setName"])
	require.Equal(t, []byte{1, 2, 3}, fields["setDNA"])
}

func TestStoreCreateAssignsDistinctIDs(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first, err := store.CreateObject(ctx, "DistributedToon", nil, nil)
	require.NoError(t, err)
	second, err := store.CreateObject(ctx, "DistributedToon", nil, nil)
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestStoreGetAllNotFound(t *testing.T) {
	store := setupTestStore(t)
	_, _, err := store.GetAll(context.Background(), 999999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreSetFieldsUpserts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	doID, err := store.CreateObject(ctx, "DistributedToon",
		[]string{"setName"}, map[string][]byte{"setName": []byte("Flippy")},
	)
	require.NoError(t, err)

	require.NoError(t, store.SetFields(ctx, doID, []string{"setName"}, map[string][]byte{"setName": []byte("Renamed")}))

	_, fields, err := store.GetAll(ctx, doID)
	require.NoError(t, err)
	require.Equal(t, []byte("Renamed"), fields["setName"])
}

func TestStoreSetFieldsAddsNewField(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	doID, err := store.CreateObject(ctx, "DistributedToon", nil, nil)
	require.NoError(t, err)

	require.NoError(t, store.SetFields(ctx, doID, []string{"setDNA"}, map[string][]byte{"setDNA": {9, 9}}))

	_, fields, err := store.GetAll(ctx, doID)
	require.NoError(t, err)
	require.Equal(t, []byte{9, 9}, fields["setDNA"])
}
