//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/elnosh/starknuts/mint/storage/storagetest"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	db *PostgresDB
)

func TestMain(m *testing.M) {
	code, err := testMain(m)
	if err != nil {
		log.Println(err)
	}
	os.Exit(code)
}

func testMain(m *testing.M) (int, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "mint",
			"POSTGRES_PASSWORD": "mint",
			"POSTGRES_DB":       "mint",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return 1, err
	}
	defer container.Terminate(ctx)

	host, err := container.Host(ctx)
	if err != nil {
		return 1, err
	}
	mappedPort, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return 1, err
	}

	databaseURL := fmt.Sprintf("postgres://mint:mint@%s:%s/mint?sslmode=disable", host, mappedPort.Port())
	db, err = InitPostgres(ctx, databaseURL)
	if err != nil {
		return 1, err
	}
	defer db.Close()

	return m.Run(), nil
}

func TestKeysets(t *testing.T) {
	storagetest.Keysets(t, db)
}

func TestProofs(t *testing.T) {
	storagetest.Proofs(t, db)
}

func TestPendingProofs(t *testing.T) {
	storagetest.PendingProofs(t, db)
}

func TestConcurrentProofs(t *testing.T) {
	storagetest.ConcurrentProofs(t, db)
}

func TestMintQuotes(t *testing.T) {
	storagetest.MintQuotes(t, db)
}

func TestMeltQuotes(t *testing.T) {
	storagetest.MeltQuotes(t, db)
}

func TestBlindSignatures(t *testing.T) {
	storagetest.BlindSignatures(t, db)
}

func TestPaymentEvents(t *testing.T) {
	storagetest.PaymentEvents(t, db)
}

func TestStats(t *testing.T) {
	storagetest.Stats(t, db)
}
