package sqlite

import (
	"log"
	"os"
	"testing"

	"github.com/elnosh/starknuts/mint/storage/storagetest"
)

var (
	db *SQLiteDB
)

func TestMain(m *testing.M) {
	code, err := testMain(m)
	if err != nil {
		log.Println(err)
	}
	os.Exit(code)
}

func testMain(m *testing.M) (int, error) {
	dbpath := "./testsqlite"
	err := os.MkdirAll(dbpath, 0750)
	if err != nil {
		return 1, err
	}
	defer os.RemoveAll(dbpath)

	db, err = InitSQLite(dbpath)
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

func TestMigrationsIdempotent(t *testing.T) {
	again, err := InitSQLite("./testsqlite")
	if err != nil {
		t.Fatalf("unexpected error reopening database: %v", err)
	}
	again.Close()
}
