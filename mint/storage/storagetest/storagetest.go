// Package storagetest holds the behaviour every storage backend must
// satisfy. Backends call these from their own tests.
package storagetest

import (
	"context"
	"errors"
	"math/rand/v2"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/cashu/nuts/nut04"
	"github.com/elnosh/starknuts/cashu/nuts/nut05"
	"github.com/elnosh/starknuts/cashu/nuts/nut07"
	"github.com/elnosh/starknuts/mint/storage"
)

func Keysets(t *testing.T, db storage.MintDB) {
	ctx := context.Background()
	unit := generateRandomString(8)

	first := storage.DBKeyset{
		Id:                generateRandomString(16),
		Unit:              unit,
		Active:            true,
		DerivationPathIdx: 0,
		MaxOrder:          32,
		CreatedAt:         time.Now().Unix(),
	}
	if err := db.InsertKeyset(ctx, first); err != nil {
		t.Fatalf("error saving keyset: %v", err)
	}

	second := first
	second.Id = generateRandomString(16)
	second.DerivationPathIdx = 1
	err := db.InsertKeyset(ctx, second)
	if !errors.Is(err, storage.ErrActiveKeysetExists) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrActiveKeysetExists, err)
	}

	err = db.WithTx(ctx, func(tx storage.Queries) error {
		if err := tx.DeactivateKeysets(ctx, unit); err != nil {
			return err
		}
		return tx.InsertKeyset(ctx, second)
	})
	if err != nil {
		t.Fatalf("error rotating keyset: %v", err)
	}

	keysets, err := db.GetKeysets(ctx)
	if err != nil {
		t.Fatalf("error getting keysets: %v", err)
	}

	active := 0
	found := 0
	for _, keyset := range keysets {
		if keyset.Unit != unit {
			continue
		}
		found++
		if keyset.Active {
			active++
			if keyset.Id != second.Id {
				t.Fatalf("expected active keyset '%v' but got '%v'", second.Id, keyset.Id)
			}
		}
	}
	if found != 2 || active != 1 {
		t.Fatalf("expected 2 keysets with 1 active but got %v with %v active", found, active)
	}
}

func Proofs(t *testing.T, db storage.MintDB) {
	ctx := context.Background()
	proofs := generateRandomProofs(50, nut07.Spent, "")

	if err := db.InsertProofs(ctx, proofs); err != nil {
		t.Fatalf("error saving proofs: %v", err)
	}

	Ys := make([]string, 20)
	expectedProofs := make([]storage.DBProof, 20)
	for i := 0; i < 20; i++ {
		Ys[i] = proofs[i].Y
		expectedProofs[i] = proofs[i]
	}

	dbProofs, err := db.GetProofs(ctx, Ys)
	if err != nil {
		t.Fatalf("error getting used proofs: %v", err)
	}

	if len(dbProofs) != 20 {
		t.Fatalf("got incorrect number of proofs from db. Expected %v but got %v", 20, len(dbProofs))
	}

	sortDBProofs(expectedProofs)
	sortDBProofs(dbProofs)

	if !reflect.DeepEqual(dbProofs, expectedProofs) {
		t.Fatal("proofs from db do not match generated ones saved to db")
	}

	// a batch containing one already spent Y is rejected as a whole
	batch := generateRandomProofs(5, nut07.Spent, "")
	batch = append(batch, proofs[3])
	err = db.WithTx(ctx, func(tx storage.Queries) error {
		return tx.InsertProofs(ctx, batch)
	})
	if !errors.Is(err, storage.ErrProofAlreadyExists) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrProofAlreadyExists, err)
	}

	notInserted, err := db.GetProofs(ctx, []string{batch[0].Y})
	if err != nil {
		t.Fatalf("error getting proofs: %v", err)
	}
	if len(notInserted) != 0 {
		t.Fatalf("expected rolled back insert but got %v proofs", len(notInserted))
	}
}

func PendingProofs(t *testing.T, db storage.MintDB) {
	ctx := context.Background()
	quoteId := generateRandomString(32)
	proofs := generateRandomProofs(50, nut07.Pending, quoteId)

	if err := db.InsertProofs(ctx, proofs); err != nil {
		t.Fatalf("error saving pending proofs: %v", err)
	}

	if err := db.InsertProofs(ctx, generateRandomProofs(20, nut07.Pending, "anotherquoteid")); err != nil {
		t.Fatalf("error saving pending proofs: %v", err)
	}

	pendingProofsByQuote, err := db.GetProofsByMeltQuote(ctx, quoteId)
	if err != nil {
		t.Fatalf("error getting pending proofs for quote id '%v': %v", quoteId, err)
	}

	if len(pendingProofsByQuote) != 50 {
		t.Fatalf("got incorrect number of pending proofs from db. Expected %v but got %v",
			50, len(pendingProofsByQuote))
	}

	expectedProofs := slices.Clone(proofs)
	sortDBProofs(expectedProofs)
	sortDBProofs(pendingProofsByQuote)

	if !reflect.DeepEqual(pendingProofsByQuote, expectedProofs) {
		t.Fatal("pending proofs from db do not match generated ones saved to db")
	}

	Ys := make([]string, len(proofs))
	for i, proof := range proofs {
		Ys[i] = proof.Y
	}

	// settle half, refund the other half
	if err := db.SetProofsState(ctx, Ys[:25], nut07.Spent); err != nil {
		t.Fatalf("error updating proofs state: %v", err)
	}
	if err := db.DeleteProofs(ctx, Ys[25:]); err != nil {
		t.Fatalf("error deleting pending proofs: %v", err)
	}

	dbProofs, err := db.GetProofs(ctx, Ys)
	if err != nil {
		t.Fatalf("error getting proofs: %v", err)
	}
	if len(dbProofs) != 25 {
		t.Fatalf("expected '%v' proofs but got '%v'", 25, len(dbProofs))
	}
	for _, proof := range dbProofs {
		if proof.State != nut07.Spent {
			t.Fatalf("expected state '%v' but got '%v'", nut07.Spent, proof.State)
		}
	}
}

// ConcurrentProofs inserts the same Y from many transactions at once.
// Exactly one of them must commit.
func ConcurrentProofs(t *testing.T, db storage.MintDB) {
	ctx := context.Background()
	shared := generateRandomProofs(1, nut07.Spent, "")[0]

	const attempts = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	errs := make([]error, 0)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch := append(generateRandomProofs(3, nut07.Spent, ""), shared)
			err := db.WithTx(ctx, func(tx storage.Queries) error {
				return tx.InsertProofs(ctx, batch)
			})

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if !errors.Is(err, storage.ErrProofAlreadyExists) {
				errs = append(errs, err)
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("unexpected error inserting proofs: %v", errs[0])
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly 1 successful insert but got %v", succeeded)
	}
}

func MintQuotes(t *testing.T, db storage.MintDB) {
	ctx := context.Background()
	mintQuotes := generateRandomMintQuotes(150)

	var wg sync.WaitGroup
	var mu sync.RWMutex
	errs := make([]error, 0)
	for _, quote := range mintQuotes {
		wg.Add(1)
		go func(quote storage.MintQuote) {
			if err := db.InsertMintQuote(ctx, quote); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			wg.Done()
		}(quote)
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("error saving mint quote: %v", errs[0])
	}

	expectedQuote := mintQuotes[21]
	quote, err := db.GetMintQuote(ctx, expectedQuote.Id)
	if err != nil {
		t.Fatalf("error getting mint quote by id: %v", err)
	}
	if !reflect.DeepEqual(expectedQuote, quote) {
		t.Fatal("quote from db does not match generated one")
	}

	quote, err = db.GetMintQuoteByInvoiceId(ctx, expectedQuote.InvoiceId)
	if err != nil {
		t.Fatalf("error getting mint quote by invoice id: %v", err)
	}
	if !reflect.DeepEqual(expectedQuote, quote) {
		t.Fatal("quote from db does not match generated one")
	}

	if _, err := db.GetMintQuote(ctx, "nonexistent"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrNotFound, err)
	}

	if err := db.UpdateMintQuoteState(ctx, quote.Id, nut04.Unpaid, nut04.Paid); err != nil {
		t.Fatalf("error updating mint quote: %v", err)
	}

	// conditional update does not apply twice
	err = db.UpdateMintQuoteState(ctx, quote.Id, nut04.Unpaid, nut04.Paid)
	if !errors.Is(err, storage.ErrQuoteNotUpdated) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrQuoteNotUpdated, err)
	}

	if err := db.UpdateMintQuoteState(ctx, quote.Id, nut04.Paid, nut04.Issued); err != nil {
		t.Fatalf("error updating mint quote: %v", err)
	}

	expectedQuote.State = nut04.Issued
	quote, err = db.GetMintQuote(ctx, expectedQuote.Id)
	if err != nil {
		t.Fatalf("error getting mint quote by id: %v", err)
	}
	if !reflect.DeepEqual(expectedQuote, quote) {
		t.Fatal("quote from db does not match generated one")
	}

	// expiry sweep
	expired := generateRandomMintQuotes(3)
	for i := range expired {
		expired[i].Expiry = 100
	}
	expired[2].State = nut04.Issued
	for _, quote := range expired {
		if err := db.InsertMintQuote(ctx, quote); err != nil {
			t.Fatalf("error saving mint quote: %v", err)
		}
	}
	if _, err := db.ExpireMintQuotes(ctx, 101); err != nil {
		t.Fatalf("error expiring quotes: %v", err)
	}

	quote, _ = db.GetMintQuote(ctx, expired[0].Id)
	if quote.State != nut04.Expired {
		t.Fatalf("expected state '%v' but got '%v'", nut04.Expired, quote.State)
	}
	quote, _ = db.GetMintQuote(ctx, expired[2].Id)
	if quote.State != nut04.Issued {
		t.Fatalf("expected state '%v' but got '%v'", nut04.Issued, quote.State)
	}
}

func MeltQuotes(t *testing.T, db storage.MintDB) {
	ctx := context.Background()
	meltQuotes := generateRandomMeltQuotes(150)

	var wg sync.WaitGroup
	var mu sync.RWMutex
	errs := make([]error, 0)
	for _, quote := range meltQuotes {
		wg.Add(1)
		go func(quote storage.MeltQuote) {
			if err := db.InsertMeltQuote(ctx, quote); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			wg.Done()
		}(quote)
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("error saving melt quote: %v", errs[0])
	}

	expectedQuote := meltQuotes[21]
	quote, err := db.GetMeltQuote(ctx, expectedQuote.Id)
	if err != nil {
		t.Fatalf("error getting melt quote by id: %v", err)
	}

	if !reflect.DeepEqual(expectedQuote, quote) {
		t.Fatal("quote from db does not match generated one")
	}

	if err := db.UpdateMeltQuote(ctx, quote.Id, nut05.Unpaid, nut05.Pending, nil); err != nil {
		t.Fatalf("error updating melt quote: %v", err)
	}

	pending, err := db.GetMeltQuotesByState(ctx, nut05.Pending)
	if err != nil {
		t.Fatalf("error getting pending melt quotes: %v", err)
	}
	if !slices.ContainsFunc(pending, func(q storage.MeltQuote) bool { return q.Id == quote.Id }) {
		t.Fatalf("expected quote '%v' in pending quotes", quote.Id)
	}

	transferIds := []string{"0x0123", "0x0456"}
	if err := db.UpdateMeltQuote(ctx, quote.Id, nut05.Pending, nut05.Paid, transferIds); err != nil {
		t.Fatalf("error updating melt quote: %v", err)
	}

	expectedQuote.State = nut05.Paid
	expectedQuote.TransferIds = transferIds
	quote, err = db.GetMeltQuote(ctx, expectedQuote.Id)
	if err != nil {
		t.Fatalf("error getting melt quote by id: %v", err)
	}
	if !reflect.DeepEqual(expectedQuote, quote) {
		t.Fatalf("expected '%v' but got '%v'", expectedQuote, quote)
	}

	err = db.UpdateMeltQuote(ctx, quote.Id, nut05.Pending, nut05.Unpaid, nil)
	if !errors.Is(err, storage.ErrQuoteNotUpdated) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrQuoteNotUpdated, err)
	}
}

func BlindSignatures(t *testing.T, db storage.MintDB) {
	ctx := context.Background()
	count := 50
	blindedMessages := generateRandomB_s(count)
	blindSignatures := generateBlindSignatures(count)

	if err := db.SaveBlindSignatures(ctx, blindedMessages, blindSignatures); err != nil {
		t.Fatalf("unexpected error saving blind signatures: %v", err)
	}

	blindSigs, err := db.GetBlindSignatures(ctx, blindedMessages[21:22])
	if err != nil {
		t.Fatalf("error getting blind signature: %v", err)
	}
	if len(blindSigs) != 1 || !reflect.DeepEqual(blindSigs[0].Signature, blindSignatures[21]) {
		t.Fatal("blind signature from db does match generated one")
	}

	blindSigs, err = db.GetBlindSignatures(ctx, blindedMessages[:20])
	if err != nil {
		t.Fatalf("error getting blind signatures: %v", err)
	}

	if len(blindSigs) != 20 {
		t.Fatalf("got incorrect number of blind signatures from db. Expected %v but got %v",
			20, len(blindSigs))
	}

	err = db.SaveBlindSignatures(ctx, blindedMessages[:1], blindSignatures[:1])
	if !errors.Is(err, storage.ErrBlindSignatureExists) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrBlindSignatureExists, err)
	}
}

func PaymentEvents(t *testing.T, db storage.MintDB) {
	ctx := context.Background()
	invoiceId := generateRandomString(64)
	otherInvoiceId := generateRandomString(64)

	events := []storage.PaymentEvent{
		{TxHash: "0xaa", EventIndex: 0, BlockNumber: 10, InvoiceId: invoiceId},
		{TxHash: "0xaa", EventIndex: 1, BlockNumber: 10, InvoiceId: invoiceId},
		{TxHash: "0xbb", EventIndex: 0, BlockNumber: 12, InvoiceId: invoiceId},
		{TxHash: "0xcc", EventIndex: 0, BlockNumber: 13, InvoiceId: otherInvoiceId},
	}
	for i := range events {
		events[i].TxHash += invoiceId[:8]
		events[i].BlockId = generateRandomString(64)
		events[i].Asset = "strk"
		events[i].Payee = "0x0123"
		events[i].AmountLow = "0x64"
		events[i].AmountHigh = "0x0"

		inserted, err := db.InsertPaymentEvent(ctx, events[i])
		if err != nil {
			t.Fatalf("error saving payment event: %v", err)
		}
		if !inserted {
			t.Fatalf("expected event %v to be inserted", i)
		}
	}

	inserted, err := db.InsertPaymentEvent(ctx, events[0])
	if err != nil {
		t.Fatalf("error saving payment event: %v", err)
	}
	if inserted {
		t.Fatal("expected duplicate event to be ignored")
	}

	dbEvents, err := db.GetPaymentEventsByInvoice(ctx, invoiceId)
	if err != nil {
		t.Fatalf("error getting payment events: %v", err)
	}
	if !reflect.DeepEqual(dbEvents, events[:3]) {
		t.Fatalf("expected '%v' but got '%v'", events[:3], dbEvents)
	}

	affected, err := db.DeletePaymentEventsAfter(ctx, 11)
	if err != nil {
		t.Fatalf("error deleting payment events: %v", err)
	}
	slices.Sort(affected)
	expectedAffected := []string{invoiceId, otherInvoiceId}
	slices.Sort(expectedAffected)
	if !reflect.DeepEqual(affected, expectedAffected) {
		t.Fatalf("expected '%v' but got '%v'", expectedAffected, affected)
	}

	dbEvents, _ = db.GetPaymentEventsByInvoice(ctx, invoiceId)
	if len(dbEvents) != 2 {
		t.Fatalf("expected '%v' events but got '%v'", 2, len(dbEvents))
	}
}

func Stats(t *testing.T, db storage.MintDB) {
	ctx := context.Background()
	keysetId := generateRandomString(16)

	B_s := generateRandomB_s(2)
	signatures := generateBlindSignatures(2)
	for i := range signatures {
		signatures[i].Id = keysetId
	}
	if err := db.SaveBlindSignatures(ctx, B_s, signatures); err != nil {
		t.Fatalf("unexpected error saving blind signatures: %v", err)
	}

	proofs := generateRandomProofs(3, nut07.Spent, "")
	proofs = append(proofs, generateRandomProofs(1, nut07.Pending, "quote")...)
	for i := range proofs {
		proofs[i].Id = keysetId
	}
	if err := db.InsertProofs(ctx, proofs); err != nil {
		t.Fatalf("error saving proofs: %v", err)
	}

	issued, err := db.IssuedEcash(ctx)
	if err != nil {
		t.Fatalf("error getting issued ecash: %v", err)
	}
	if issued[keysetId] != 42 {
		t.Fatalf("expected '%v' but got '%v'", 42, issued[keysetId])
	}

	redeemed, err := db.RedeemedEcash(ctx)
	if err != nil {
		t.Fatalf("error getting redeemed ecash: %v", err)
	}
	if redeemed[keysetId] != 63 {
		t.Fatalf("expected '%v' but got '%v'", 63, redeemed[keysetId])
	}

	unit := generateRandomString(8)
	quotes := generateRandomMintQuotes(3)
	for i := range quotes {
		quotes[i].Unit = unit
	}
	quotes[2].State = nut04.Paid
	for _, quote := range quotes {
		if err := db.InsertMintQuote(ctx, quote); err != nil {
			t.Fatalf("error saving mint quote: %v", err)
		}
	}

	counts, err := db.MintQuoteCounts(ctx)
	if err != nil {
		t.Fatalf("error getting quote counts: %v", err)
	}
	expected := map[string]int64{nut04.Unpaid.String(): 2, nut04.Paid.String(): 1}
	got := make(map[string]int64)
	for _, count := range counts {
		if count.Unit == unit {
			got[count.State] = count.Count
		}
	}
	if !reflect.DeepEqual(got, expected) {
		t.Fatalf("expected '%v' but got '%v'", expected, got)
	}
}

func generateRandomString(length int) string {
	const letters = "abcdef0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = letters[rand.IntN(len(letters))]
	}
	return string(b)
}

func generateRandomProofs(num int, state nut07.State, quoteId string) []storage.DBProof {
	proofs := make([]storage.DBProof, num)

	for i := 0; i < num; i++ {
		proofs[i] = storage.DBProof{
			Y:           "02" + generateRandomString(64),
			Amount:      21,
			Id:          generateRandomString(16),
			Secret:      generateRandomString(64),
			C:           "02" + generateRandomString(64),
			State:       state,
			MeltQuoteId: quoteId,
		}
	}

	return proofs
}

func sortDBProofs(proofs []storage.DBProof) {
	slices.SortFunc(proofs, func(a, b storage.DBProof) int {
		return strings.Compare(a.Secret, b.Secret)
	})
}

func generateRandomMintQuotes(num int) []storage.MintQuote {
	quotes := make([]storage.MintQuote, num)
	now := time.Now().Unix()
	for i := 0; i < num; i++ {
		quotes[i] = storage.MintQuote{
			Id:          generateRandomString(32),
			Method:      cashu.STARKNET_METHOD,
			Unit:        cashu.Strk.String(),
			Amount:      21,
			InvoiceId:   generateRandomString(64),
			Request:     generateRandomString(100),
			Fingerprint: generateRandomString(64),
			State:       nut04.Unpaid,
			Expiry:      now + 3600,
			CreatedAt:   now,
		}
	}
	return quotes
}

func generateRandomMeltQuotes(num int) []storage.MeltQuote {
	quotes := make([]storage.MeltQuote, num)
	now := time.Now().Unix()
	for i := 0; i < num; i++ {
		quotes[i] = storage.MeltQuote{
			Id:          generateRandomString(32),
			Method:      cashu.STARKNET_METHOD,
			Unit:        cashu.Strk.String(),
			Request:     generateRandomString(100),
			Amount:      21,
			Fee:         1,
			State:       nut05.Unpaid,
			Expiry:      now + 3600,
			TransferIds: []string{},
			CreatedAt:   now,
		}
	}
	return quotes
}

func generateRandomB_s(num int) []string {
	B_s := make([]string, num)
	for i := 0; i < num; i++ {
		B_s[i] = "02" + generateRandomString(64)
	}
	return B_s
}

func generateBlindSignatures(num int) cashu.BlindedSignatures {
	blindSigs := make(cashu.BlindedSignatures, num)
	for i := 0; i < num; i++ {
		sig := cashu.BlindedSignature{
			C_:     "02" + generateRandomString(64),
			Id:     generateRandomString(16),
			Amount: 21,
			DLEQ: &cashu.DLEQProof{
				E: generateRandomString(64),
				S: generateRandomString(64),
			},
		}
		blindSigs[i] = sig
	}
	return blindSigs
}
