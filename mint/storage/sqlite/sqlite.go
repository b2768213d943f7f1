package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/cashu/nuts/nut04"
	"github.com/elnosh/starknuts/cashu/nuts/nut05"
	"github.com/elnosh/starknuts/cashu/nuts/nut07"
	"github.com/elnosh/starknuts/mint/storage"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements storage.Queries on top of either *sql.DB or *sql.Tx.
type queries struct {
	db querier
}

type SQLiteDB struct {
	*queries
	db *sql.DB
}

func InitSQLite(path string) (*SQLiteDB, error) {
	dbpath := filepath.Join(path, "mint.sqlite.db")
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", dbpath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	if err := migrateUp(db); err != nil {
		return nil, fmt.Errorf("error running migrations: %v", err)
	}

	return &SQLiteDB{queries: &queries{db: db}, db: db}, nil
}

func migrateUp(db *sql.DB) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (sqlite *SQLiteDB) Close() error {
	return sqlite.db.Close()
}

func (sqlite *SQLiteDB) WithTx(ctx context.Context, fn func(storage.Queries) error) error {
	tx, err := sqlite.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(&queries{db: tx}); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func inClause(values []string) (string, []any) {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return `(?` + strings.Repeat(",?", len(values)-1) + `)`, args
}

func checkRowsAffected(result sql.Result, err error, notUpdated error) error {
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return notUpdated
	}
	return nil
}

func (q *queries) GetKeysets(ctx context.Context) ([]storage.DBKeyset, error) {
	keysets := []storage.DBKeyset{}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, unit, active, derivation_path_idx, max_order, created_at
		FROM keysets ORDER BY unit, derivation_path_idx`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var keyset storage.DBKeyset
		err := rows.Scan(
			&keyset.Id,
			&keyset.Unit,
			&keyset.Active,
			&keyset.DerivationPathIdx,
			&keyset.MaxOrder,
			&keyset.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		keysets = append(keysets, keyset)
	}

	return keysets, rows.Err()
}

func (q *queries) InsertKeyset(ctx context.Context, keyset storage.DBKeyset) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO keysets (id, unit, active, derivation_path_idx, max_order, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		keyset.Id, keyset.Unit, keyset.Active, keyset.DerivationPathIdx, keyset.MaxOrder, keyset.CreatedAt,
	)
	if isUniqueViolation(err) {
		return storage.ErrActiveKeysetExists
	}
	return err
}

func (q *queries) DeactivateKeysets(ctx context.Context, unit string) error {
	_, err := q.db.ExecContext(ctx, "UPDATE keysets SET active = 0 WHERE unit = ? AND active = 1", unit)
	return err
}

func (q *queries) InsertProofs(ctx context.Context, proofs []storage.DBProof) error {
	for _, proof := range proofs {
		var meltQuoteId sql.NullString
		if proof.MeltQuoteId != "" {
			meltQuoteId = sql.NullString{String: proof.MeltQuoteId, Valid: true}
		}

		_, err := q.db.ExecContext(ctx, `
			INSERT INTO proofs (y, amount, keyset_id, secret, c, state, melt_quote_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			proof.Y, proof.Amount, proof.Id, proof.Secret, proof.C, proof.State.String(), meltQuoteId,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return storage.ErrProofAlreadyExists
			}
			return err
		}
	}
	return nil
}

func scanProofs(rows *sql.Rows) ([]storage.DBProof, error) {
	defer rows.Close()

	proofs := []storage.DBProof{}
	for rows.Next() {
		var proof storage.DBProof
		var state string
		var meltQuoteId sql.NullString

		err := rows.Scan(
			&proof.Y,
			&proof.Amount,
			&proof.Id,
			&proof.Secret,
			&proof.C,
			&state,
			&meltQuoteId,
		)
		if err != nil {
			return nil, err
		}
		proof.State = nut07.StringToState(state)
		proof.MeltQuoteId = meltQuoteId.String

		proofs = append(proofs, proof)
	}

	return proofs, rows.Err()
}

func (q *queries) GetProofs(ctx context.Context, Ys []string) ([]storage.DBProof, error) {
	if len(Ys) == 0 {
		return []storage.DBProof{}, nil
	}

	in, args := inClause(Ys)
	rows, err := q.db.QueryContext(ctx,
		`SELECT y, amount, keyset_id, secret, c, state, melt_quote_id FROM proofs WHERE y IN `+in, args...)
	if err != nil {
		return nil, err
	}
	return scanProofs(rows)
}

func (q *queries) GetProofsByMeltQuote(ctx context.Context, quoteId string) ([]storage.DBProof, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT y, amount, keyset_id, secret, c, state, melt_quote_id FROM proofs WHERE melt_quote_id = ?`, quoteId)
	if err != nil {
		return nil, err
	}
	return scanProofs(rows)
}

func (q *queries) SetProofsState(ctx context.Context, Ys []string, state nut07.State) error {
	if len(Ys) == 0 {
		return nil
	}

	in, args := inClause(Ys)
	args = append([]any{state.String()}, args...)
	_, err := q.db.ExecContext(ctx, `UPDATE proofs SET state = ? WHERE y IN `+in, args...)
	return err
}

func (q *queries) DeleteProofs(ctx context.Context, Ys []string) error {
	if len(Ys) == 0 {
		return nil
	}

	in, args := inClause(Ys)
	_, err := q.db.ExecContext(ctx, `DELETE FROM proofs WHERE y IN `+in, args...)
	return err
}

func (q *queries) InsertMintQuote(ctx context.Context, quote storage.MintQuote) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO mint_quotes
		(id, method, unit, amount, invoice_id, request, fingerprint, state, expiry, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		quote.Id,
		quote.Method,
		quote.Unit,
		quote.Amount,
		quote.InvoiceId,
		quote.Request,
		quote.Fingerprint,
		quote.State.String(),
		quote.Expiry,
		quote.CreatedAt,
	)
	return err
}

const mintQuoteColumns = `id, method, unit, amount, invoice_id, request, fingerprint, state, expiry, created_at`

func scanMintQuote(row *sql.Row) (storage.MintQuote, error) {
	var quote storage.MintQuote
	var state string

	err := row.Scan(
		&quote.Id,
		&quote.Method,
		&quote.Unit,
		&quote.Amount,
		&quote.InvoiceId,
		&quote.Request,
		&quote.Fingerprint,
		&state,
		&quote.Expiry,
		&quote.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.MintQuote{}, storage.ErrNotFound
		}
		return storage.MintQuote{}, err
	}
	quote.State = nut04.StringToState(state)

	return quote, nil
}

func (q *queries) GetMintQuote(ctx context.Context, quoteId string) (storage.MintQuote, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+mintQuoteColumns+" FROM mint_quotes WHERE id = ?", quoteId)
	return scanMintQuote(row)
}

func (q *queries) GetMintQuoteByInvoiceId(ctx context.Context, invoiceId string) (storage.MintQuote, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+mintQuoteColumns+" FROM mint_quotes WHERE invoice_id = ?", invoiceId)
	return scanMintQuote(row)
}

func (q *queries) UpdateMintQuoteState(ctx context.Context, quoteId string, from, to nut04.State) error {
	result, err := q.db.ExecContext(ctx,
		"UPDATE mint_quotes SET state = ? WHERE id = ? AND state = ?",
		to.String(), quoteId, from.String(),
	)
	return checkRowsAffected(result, err, storage.ErrQuoteNotUpdated)
}

func (q *queries) ExpireMintQuotes(ctx context.Context, now int64) (int64, error) {
	result, err := q.db.ExecContext(ctx,
		"UPDATE mint_quotes SET state = ? WHERE state IN (?, ?) AND expiry <= ?",
		nut04.Expired.String(), nut04.Unpaid.String(), nut04.Paid.String(), now,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (q *queries) InsertMeltQuote(ctx context.Context, quote storage.MeltQuote) error {
	transferIds, err := json.Marshal(nonNil(quote.TransferIds))
	if err != nil {
		return err
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO melt_quotes
		(id, method, unit, amount, fee, request, state, expiry, transfer_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		quote.Id,
		quote.Method,
		quote.Unit,
		quote.Amount,
		quote.Fee,
		quote.Request,
		quote.State.String(),
		quote.Expiry,
		string(transferIds),
		quote.CreatedAt,
	)
	return err
}

const meltQuoteColumns = `id, method, unit, amount, fee, request, state, expiry, transfer_ids, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMeltQuote(row scanner) (storage.MeltQuote, error) {
	var quote storage.MeltQuote
	var state string
	var transferIds string

	err := row.Scan(
		&quote.Id,
		&quote.Method,
		&quote.Unit,
		&quote.Amount,
		&quote.Fee,
		&quote.Request,
		&state,
		&quote.Expiry,
		&transferIds,
		&quote.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.MeltQuote{}, storage.ErrNotFound
		}
		return storage.MeltQuote{}, err
	}
	quote.State = nut05.StringToState(state)
	if err := json.Unmarshal([]byte(transferIds), &quote.TransferIds); err != nil {
		return storage.MeltQuote{}, err
	}

	return quote, nil
}

func (q *queries) GetMeltQuote(ctx context.Context, quoteId string) (storage.MeltQuote, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+meltQuoteColumns+" FROM melt_quotes WHERE id = ?", quoteId)
	return scanMeltQuote(row)
}

func (q *queries) UpdateMeltQuote(
	ctx context.Context,
	quoteId string,
	from, to nut05.State,
	transferIds []string,
) error {
	ids, err := json.Marshal(nonNil(transferIds))
	if err != nil {
		return err
	}

	result, err := q.db.ExecContext(ctx,
		"UPDATE melt_quotes SET state = ?, transfer_ids = ? WHERE id = ? AND state = ?",
		to.String(), string(ids), quoteId, from.String(),
	)
	return checkRowsAffected(result, err, storage.ErrQuoteNotUpdated)
}

func (q *queries) GetMeltQuotesByState(ctx context.Context, state nut05.State) ([]storage.MeltQuote, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT "+meltQuoteColumns+" FROM melt_quotes WHERE state = ?", state.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	quotes := []storage.MeltQuote{}
	for rows.Next() {
		quote, err := scanMeltQuote(rows)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, quote)
	}
	return quotes, rows.Err()
}

func (q *queries) SaveBlindSignatures(
	ctx context.Context,
	B_s []string,
	signatures cashu.BlindedSignatures,
) error {
	if len(B_s) != len(signatures) {
		return errors.New("number of blinded messages and signatures do not match")
	}

	for i, signature := range signatures {
		var e, s sql.NullString
		if signature.DLEQ != nil {
			e = sql.NullString{String: signature.DLEQ.E, Valid: true}
			s = sql.NullString{String: signature.DLEQ.S, Valid: true}
		}

		_, err := q.db.ExecContext(ctx, `
			INSERT INTO blind_signatures (b_, c_, keyset_id, amount, dleq_e, dleq_s) VALUES (?, ?, ?, ?, ?, ?)`,
			B_s[i],
			signature.C_,
			signature.Id,
			signature.Amount,
			e,
			s,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return storage.ErrBlindSignatureExists
			}
			return err
		}
	}
	return nil
}

func (q *queries) GetBlindSignatures(ctx context.Context, B_s []string) ([]storage.DBBlindSignature, error) {
	signatures := []storage.DBBlindSignature{}
	if len(B_s) == 0 {
		return signatures, nil
	}

	in, args := inClause(B_s)
	rows, err := q.db.QueryContext(ctx,
		`SELECT b_, amount, c_, keyset_id, dleq_e, dleq_s FROM blind_signatures WHERE b_ IN `+in, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var signature storage.DBBlindSignature
		var e sql.NullString
		var s sql.NullString

		err := rows.Scan(
			&signature.B_,
			&signature.Signature.Amount,
			&signature.Signature.C_,
			&signature.Signature.Id,
			&e,
			&s,
		)
		if err != nil {
			return nil, err
		}

		if e.Valid && s.Valid {
			signature.Signature.DLEQ = &cashu.DLEQProof{
				E: e.String,
				S: s.String,
			}
		}

		signatures = append(signatures, signature)
	}

	return signatures, rows.Err()
}

func (q *queries) InsertPaymentEvent(ctx context.Context, event storage.PaymentEvent) (bool, error) {
	result, err := q.db.ExecContext(ctx, `
		INSERT INTO payment_events
		(tx_hash, event_index, block_number, block_id, asset, invoice_id, payee, amount_low, amount_high)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tx_hash, event_index) DO NOTHING`,
		event.TxHash,
		event.EventIndex,
		event.BlockNumber,
		event.BlockId,
		event.Asset,
		event.InvoiceId,
		event.Payee,
		event.AmountLow,
		event.AmountHigh,
	)
	if err != nil {
		return false, err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return count == 1, nil
}

func (q *queries) GetPaymentEventsByInvoice(ctx context.Context, invoiceId string) ([]storage.PaymentEvent, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT tx_hash, event_index, block_number, block_id, asset, invoice_id, payee, amount_low, amount_high
		FROM payment_events WHERE invoice_id = ? ORDER BY block_number, event_index`, invoiceId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []storage.PaymentEvent{}
	for rows.Next() {
		var event storage.PaymentEvent
		err := rows.Scan(
			&event.TxHash,
			&event.EventIndex,
			&event.BlockNumber,
			&event.BlockId,
			&event.Asset,
			&event.InvoiceId,
			&event.Payee,
			&event.AmountLow,
			&event.AmountHigh,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (q *queries) DeletePaymentEventsAfter(ctx context.Context, blockNumber uint64) ([]string, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT DISTINCT invoice_id FROM payment_events WHERE block_number > ?", blockNumber)
	if err != nil {
		return nil, err
	}

	invoiceIds := []string{}
	for rows.Next() {
		var invoiceId string
		if err := rows.Scan(&invoiceId); err != nil {
			rows.Close()
			return nil, err
		}
		invoiceIds = append(invoiceIds, invoiceId)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := q.db.ExecContext(ctx, "DELETE FROM payment_events WHERE block_number > ?", blockNumber); err != nil {
		return nil, err
	}
	return invoiceIds, nil
}

func (q *queries) quoteCounts(ctx context.Context, table string) ([]storage.QuoteCount, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT unit, state, COUNT(*) FROM "+table+" GROUP BY unit, state ORDER BY unit, state")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := []storage.QuoteCount{}
	for rows.Next() {
		var count storage.QuoteCount
		if err := rows.Scan(&count.Unit, &count.State, &count.Count); err != nil {
			return nil, err
		}
		counts = append(counts, count)
	}
	return counts, rows.Err()
}

func (q *queries) MintQuoteCounts(ctx context.Context) ([]storage.QuoteCount, error) {
	return q.quoteCounts(ctx, "mint_quotes")
}

func (q *queries) MeltQuoteCounts(ctx context.Context) ([]storage.QuoteCount, error) {
	return q.quoteCounts(ctx, "melt_quotes")
}

func (q *queries) amountsByKeyset(ctx context.Context, query string, args ...any) (map[string]uint64, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	amounts := make(map[string]uint64)
	for rows.Next() {
		var keysetId string
		var amount uint64
		if err := rows.Scan(&keysetId, &amount); err != nil {
			return nil, err
		}
		amounts[keysetId] = amount
	}
	return amounts, rows.Err()
}

func (q *queries) IssuedEcash(ctx context.Context) (map[string]uint64, error) {
	return q.amountsByKeyset(ctx, "SELECT keyset_id, SUM(amount) FROM blind_signatures GROUP BY keyset_id")
}

func (q *queries) RedeemedEcash(ctx context.Context) (map[string]uint64, error) {
	return q.amountsByKeyset(ctx,
		"SELECT keyset_id, SUM(amount) FROM proofs WHERE state = ? GROUP BY keyset_id", nut07.Spent.String())
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
