package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/cashu/nuts/nut04"
	"github.com/elnosh/starknuts/cashu/nuts/nut05"
	"github.com/elnosh/starknuts/cashu/nuts/nut07"
	"github.com/elnosh/starknuts/mint/storage"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	minConns = 6
	maxConns = 32
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db querier
}

type PostgresDB struct {
	*queries
	pool *pgxpool.Pool
}

func InitPostgres(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	if err := migrateUp(databaseURL); err != nil {
		return nil, fmt.Errorf("error running migrations: %v", err)
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	config.MinConns = minConns
	config.MaxConns = maxConns

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresDB{queries: &queries{db: pool}, pool: pool}, nil
}

func migrateUp(databaseURL string) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}

	// the pgx migrate driver registers under the pgx scheme
	migrateURL := databaseURL
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(migrateURL, scheme) {
			migrateURL = "pgx://" + strings.TrimPrefix(migrateURL, scheme)
			break
		}
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (pg *PostgresDB) Close() error {
	pg.pool.Close()
	return nil
}

func (pg *PostgresDB) WithTx(ctx context.Context, fn func(storage.Queries) error) error {
	tx, err := pg.pool.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(&queries{db: tx}); err != nil {
		tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func checkRowsAffected(tag pgconn.CommandTag, err error, notUpdated error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return notUpdated
	}
	return nil
}

func (q *queries) GetKeysets(ctx context.Context) ([]storage.DBKeyset, error) {
	keysets := []storage.DBKeyset{}

	rows, err := q.db.Query(ctx, `
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
	_, err := q.db.Exec(ctx, `
		INSERT INTO keysets (id, unit, active, derivation_path_idx, max_order, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		keyset.Id, keyset.Unit, keyset.Active, int64(keyset.DerivationPathIdx), int64(keyset.MaxOrder), keyset.CreatedAt,
	)
	if isUniqueViolation(err) {
		return storage.ErrActiveKeysetExists
	}
	return err
}

func (q *queries) DeactivateKeysets(ctx context.Context, unit string) error {
	_, err := q.db.Exec(ctx, "UPDATE keysets SET active = FALSE WHERE unit = $1 AND active", unit)
	return err
}

func (q *queries) InsertProofs(ctx context.Context, proofs []storage.DBProof) error {
	for _, proof := range proofs {
		var meltQuoteId *string
		if proof.MeltQuoteId != "" {
			meltQuoteId = &proof.MeltQuoteId
		}

		_, err := q.db.Exec(ctx, `
			INSERT INTO proofs (y, amount, keyset_id, secret, c, state, melt_quote_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			proof.Y, int64(proof.Amount), proof.Id, proof.Secret, proof.C, proof.State.String(), meltQuoteId,
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

func scanProofs(rows pgx.Rows) ([]storage.DBProof, error) {
	defer rows.Close()

	proofs := []storage.DBProof{}
	for rows.Next() {
		var proof storage.DBProof
		var amount int64
		var state string
		var meltQuoteId *string

		err := rows.Scan(
			&proof.Y,
			&amount,
			&proof.Id,
			&proof.Secret,
			&proof.C,
			&state,
			&meltQuoteId,
		)
		if err != nil {
			return nil, err
		}
		proof.Amount = uint64(amount)
		proof.State = nut07.StringToState(state)
		if meltQuoteId != nil {
			proof.MeltQuoteId = *meltQuoteId
		}

		proofs = append(proofs, proof)
	}

	return proofs, rows.Err()
}

func (q *queries) GetProofs(ctx context.Context, Ys []string) ([]storage.DBProof, error) {
	if len(Ys) == 0 {
		return []storage.DBProof{}, nil
	}

	rows, err := q.db.Query(ctx,
		`SELECT y, amount, keyset_id, secret, c, state, melt_quote_id FROM proofs WHERE y = ANY($1)`, Ys)
	if err != nil {
		return nil, err
	}
	return scanProofs(rows)
}

func (q *queries) GetProofsByMeltQuote(ctx context.Context, quoteId string) ([]storage.DBProof, error) {
	rows, err := q.db.Query(ctx,
		`SELECT y, amount, keyset_id, secret, c, state, melt_quote_id FROM proofs WHERE melt_quote_id = $1`, quoteId)
	if err != nil {
		return nil, err
	}
	return scanProofs(rows)
}

func (q *queries) SetProofsState(ctx context.Context, Ys []string, state nut07.State) error {
	if len(Ys) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx, `UPDATE proofs SET state = $1 WHERE y = ANY($2)`, state.String(), Ys)
	return err
}

func (q *queries) DeleteProofs(ctx context.Context, Ys []string) error {
	if len(Ys) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx, `DELETE FROM proofs WHERE y = ANY($1)`, Ys)
	return err
}

func (q *queries) InsertMintQuote(ctx context.Context, quote storage.MintQuote) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO mint_quotes
		(id, method, unit, amount, invoice_id, request, fingerprint, state, expiry, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		quote.Id,
		quote.Method,
		quote.Unit,
		int64(quote.Amount),
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

func scanMintQuote(row pgx.Row) (storage.MintQuote, error) {
	var quote storage.MintQuote
	var amount int64
	var state string

	err := row.Scan(
		&quote.Id,
		&quote.Method,
		&quote.Unit,
		&amount,
		&quote.InvoiceId,
		&quote.Request,
		&quote.Fingerprint,
		&state,
		&quote.Expiry,
		&quote.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.MintQuote{}, storage.ErrNotFound
		}
		return storage.MintQuote{}, err
	}
	quote.Amount = uint64(amount)
	quote.State = nut04.StringToState(state)

	return quote, nil
}

func (q *queries) GetMintQuote(ctx context.Context, quoteId string) (storage.MintQuote, error) {
	row := q.db.QueryRow(ctx, "SELECT "+mintQuoteColumns+" FROM mint_quotes WHERE id = $1", quoteId)
	return scanMintQuote(row)
}

func (q *queries) GetMintQuoteByInvoiceId(ctx context.Context, invoiceId string) (storage.MintQuote, error) {
	row := q.db.QueryRow(ctx, "SELECT "+mintQuoteColumns+" FROM mint_quotes WHERE invoice_id = $1", invoiceId)
	return scanMintQuote(row)
}

func (q *queries) UpdateMintQuoteState(ctx context.Context, quoteId string, from, to nut04.State) error {
	tag, err := q.db.Exec(ctx,
		"UPDATE mint_quotes SET state = $1 WHERE id = $2 AND state = $3",
		to.String(), quoteId, from.String(),
	)
	return checkRowsAffected(tag, err, storage.ErrQuoteNotUpdated)
}

func (q *queries) ExpireMintQuotes(ctx context.Context, now int64) (int64, error) {
	tag, err := q.db.Exec(ctx,
		"UPDATE mint_quotes SET state = $1 WHERE state IN ($2, $3) AND expiry <= $4",
		nut04.Expired.String(), nut04.Unpaid.String(), nut04.Paid.String(), now,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *queries) InsertMeltQuote(ctx context.Context, quote storage.MeltQuote) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO melt_quotes
		(id, method, unit, amount, fee, request, state, expiry, transfer_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		quote.Id,
		quote.Method,
		quote.Unit,
		int64(quote.Amount),
		int64(quote.Fee),
		quote.Request,
		quote.State.String(),
		quote.Expiry,
		nonNil(quote.TransferIds),
		quote.CreatedAt,
	)
	return err
}

const meltQuoteColumns = `id, method, unit, amount, fee, request, state, expiry, transfer_ids, created_at`

func scanMeltQuote(row pgx.Row) (storage.MeltQuote, error) {
	var quote storage.MeltQuote
	var amount, fee int64
	var state string

	err := row.Scan(
		&quote.Id,
		&quote.Method,
		&quote.Unit,
		&amount,
		&fee,
		&quote.Request,
		&state,
		&quote.Expiry,
		&quote.TransferIds,
		&quote.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.MeltQuote{}, storage.ErrNotFound
		}
		return storage.MeltQuote{}, err
	}
	quote.Amount = uint64(amount)
	quote.Fee = uint64(fee)
	quote.State = nut05.StringToState(state)
	quote.TransferIds = nonNil(quote.TransferIds)

	return quote, nil
}

func (q *queries) GetMeltQuote(ctx context.Context, quoteId string) (storage.MeltQuote, error) {
	row := q.db.QueryRow(ctx, "SELECT "+meltQuoteColumns+" FROM melt_quotes WHERE id = $1", quoteId)
	return scanMeltQuote(row)
}

func (q *queries) UpdateMeltQuote(
	ctx context.Context,
	quoteId string,
	from, to nut05.State,
	transferIds []string,
) error {
	tag, err := q.db.Exec(ctx,
		"UPDATE melt_quotes SET state = $1, transfer_ids = $2 WHERE id = $3 AND state = $4",
		to.String(), nonNil(transferIds), quoteId, from.String(),
	)
	return checkRowsAffected(tag, err, storage.ErrQuoteNotUpdated)
}

func (q *queries) GetMeltQuotesByState(ctx context.Context, state nut05.State) ([]storage.MeltQuote, error) {
	rows, err := q.db.Query(ctx, "SELECT "+meltQuoteColumns+" FROM melt_quotes WHERE state = $1", state.String())
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
		var e, s *string
		if signature.DLEQ != nil {
			e = &signature.DLEQ.E
			s = &signature.DLEQ.S
		}

		_, err := q.db.Exec(ctx, `
			INSERT INTO blind_signatures (b_, c_, keyset_id, amount, dleq_e, dleq_s)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			B_s[i],
			signature.C_,
			signature.Id,
			int64(signature.Amount),
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

	rows, err := q.db.Query(ctx,
		`SELECT b_, amount, c_, keyset_id, dleq_e, dleq_s FROM blind_signatures WHERE b_ = ANY($1)`, B_s)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var signature storage.DBBlindSignature
		var amount int64
		var e, s *string

		err := rows.Scan(
			&signature.B_,
			&amount,
			&signature.Signature.C_,
			&signature.Signature.Id,
			&e,
			&s,
		)
		if err != nil {
			return nil, err
		}
		signature.Signature.Amount = uint64(amount)

		if e != nil && s != nil {
			signature.Signature.DLEQ = &cashu.DLEQProof{E: *e, S: *s}
		}

		signatures = append(signatures, signature)
	}

	return signatures, rows.Err()
}

func (q *queries) InsertPaymentEvent(ctx context.Context, event storage.PaymentEvent) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO payment_events
		(tx_hash, event_index, block_number, block_id, asset, invoice_id, payee, amount_low, amount_high)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tx_hash, event_index) DO NOTHING`,
		event.TxHash,
		int64(event.EventIndex),
		int64(event.BlockNumber),
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
	return tag.RowsAffected() == 1, nil
}

func (q *queries) GetPaymentEventsByInvoice(ctx context.Context, invoiceId string) ([]storage.PaymentEvent, error) {
	rows, err := q.db.Query(ctx, `
		SELECT tx_hash, event_index, block_number, block_id, asset, invoice_id, payee, amount_low, amount_high
		FROM payment_events WHERE invoice_id = $1 ORDER BY block_number, event_index`, invoiceId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []storage.PaymentEvent{}
	for rows.Next() {
		var event storage.PaymentEvent
		var eventIndex, blockNumber int64
		err := rows.Scan(
			&event.TxHash,
			&eventIndex,
			&blockNumber,
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
		event.EventIndex = uint64(eventIndex)
		event.BlockNumber = uint64(blockNumber)
		events = append(events, event)
	}
	return events, rows.Err()
}

func (q *queries) DeletePaymentEventsAfter(ctx context.Context, blockNumber uint64) ([]string, error) {
	rows, err := q.db.Query(ctx, `
		WITH deleted AS (
			DELETE FROM payment_events WHERE block_number > $1 RETURNING invoice_id
		)
		SELECT DISTINCT invoice_id FROM deleted`, int64(blockNumber))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoiceIds := []string{}
	for rows.Next() {
		var invoiceId string
		if err := rows.Scan(&invoiceId); err != nil {
			return nil, err
		}
		invoiceIds = append(invoiceIds, invoiceId)
	}
	return invoiceIds, rows.Err()
}

func (q *queries) quoteCounts(ctx context.Context, table string) ([]storage.QuoteCount, error) {
	rows, err := q.db.Query(ctx,
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
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	amounts := make(map[string]uint64)
	for rows.Next() {
		var keysetId string
		var amount int64
		if err := rows.Scan(&keysetId, &amount); err != nil {
			return nil, err
		}
		amounts[keysetId] = uint64(amount)
	}
	return amounts, rows.Err()
}

func (q *queries) IssuedEcash(ctx context.Context) (map[string]uint64, error) {
	return q.amountsByKeyset(ctx,
		"SELECT keyset_id, SUM(amount)::BIGINT FROM blind_signatures GROUP BY keyset_id")
}

func (q *queries) RedeemedEcash(ctx context.Context) (map[string]uint64, error) {
	return q.amountsByKeyset(ctx,
		"SELECT keyset_id, SUM(amount)::BIGINT FROM proofs WHERE state = $1 GROUP BY keyset_id", nut07.Spent.String())
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
