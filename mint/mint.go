package mint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/crypto"
	"github.com/elnosh/starknuts/mint/cache"
	"github.com/elnosh/starknuts/mint/liquidity"
	"github.com/elnosh/starknuts/mint/pubsub"
	"github.com/elnosh/starknuts/mint/rpc/wire"
	"github.com/elnosh/starknuts/mint/signer"
	"github.com/elnosh/starknuts/mint/storage"
)

type Mint struct {
	db        storage.MintDB
	signer    signer.Signer
	keysets   *KeysetRegistry
	sources   *liquidity.Registry
	cache     *cache.Cache
	publisher *pubsub.PubSub
	indexer   LagReporter

	units        []cashu.Unit
	maxOrder     uint
	quoteTTL     time.Duration
	meltFee      uint64
	meltFeePpk   uint64
	maxQuoteWait time.Duration
	limits       MintLimits
	mintInfo     MintInfo
	rootPubkey   string

	// serializes keyset rotations
	rotateMu sync.Mutex
	// ids of melt quotes with a payment being submitted
	meltsInFlight sync.Map

	logger *slog.Logger
}

func LoadMint(ctx context.Context, config Config) (*Mint, error) {
	if config.DB == nil {
		return nil, errors.New("database is required")
	}
	if config.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if len(config.Sources) == 0 {
		return nil, errors.New("at least one liquidity source is required")
	}

	m := &Mint{
		db:           config.DB,
		signer:       config.Signer,
		sources:      liquidity.NewRegistry(config.Sources...),
		cache:        cache.New(config.CacheCapacity, config.CacheTTL),
		publisher:    config.Publisher,
		indexer:      config.Indexer,
		units:        config.Units,
		maxOrder:     config.MaxOrder,
		quoteTTL:     config.QuoteTTL,
		meltFee:      config.MeltFee,
		meltFeePpk:   config.MeltFeePpk,
		maxQuoteWait: config.MaxQuoteWait,
		limits:       config.Limits,
		mintInfo:     config.MintInfo,
		logger:       NewLogger(config.LogLevel),
	}
	if m.publisher == nil {
		m.publisher = pubsub.NewPubSub()
	}
	if m.maxOrder == 0 {
		m.maxOrder = crypto.DefaultMaxOrder
	}
	if m.quoteTTL == 0 {
		m.quoteTTL = DefaultQuoteTTL
	}
	if m.maxQuoteWait == 0 {
		m.maxQuoteWait = DefaultMaxQuoteWait
	}
	if len(m.units) == 0 {
		for _, source := range config.Sources {
			for _, unit := range source.Units() {
				if !slices.Contains(m.units, unit) {
					m.units = append(m.units, unit)
				}
			}
		}
	}

	keysets, err := m.loadKeysets(ctx)
	if err != nil {
		return nil, err
	}
	m.keysets = NewKeysetRegistry(m.signer, keysets)

	m.rootPubkey, err = m.signer.RootPubkey(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting root pubkey from signer: %w", err)
	}

	for _, keyset := range m.keysets.ActiveKeysets() {
		m.logInfof("active keyset %v for unit %v", keyset.Id, keyset.Unit)
	}

	return m, nil
}

// loadKeysets declares every stored keyset with the signer and creates
// a keyset for configured units that have no active one.
func (m *Mint) loadKeysets(ctx context.Context) ([]Keyset, error) {
	stored, err := m.db.GetKeysets(ctx)
	if err != nil {
		return nil, fmt.Errorf("error reading keysets: %w", err)
	}

	keysets := make([]Keyset, 0, len(stored)+len(m.units))
	hasActive := make(map[cashu.Unit]bool)
	nextIndex := make(map[cashu.Unit]uint32)

	for _, dbKeyset := range stored {
		unit, err := cashu.UnitFromString(dbKeyset.Unit)
		if err != nil {
			return nil, fmt.Errorf("keyset %v has unknown unit %v", dbKeyset.Id, dbKeyset.Unit)
		}

		declared, err := m.signer.DeclareKeyset(ctx, unit, dbKeyset.DerivationPathIdx, dbKeyset.MaxOrder)
		if err != nil {
			return nil, fmt.Errorf("error declaring keyset %v: %w", dbKeyset.Id, err)
		}
		if declared.Id != dbKeyset.Id {
			return nil, fmt.Errorf("signer derived keyset %v but %v was stored", declared.Id, dbKeyset.Id)
		}

		keyset, err := keysetFromSigner(declared, unit, dbKeyset.Active)
		if err != nil {
			return nil, err
		}
		keysets = append(keysets, keyset)

		if dbKeyset.Active {
			hasActive[unit] = true
		}
		if dbKeyset.DerivationPathIdx+1 > nextIndex[unit] {
			nextIndex[unit] = dbKeyset.DerivationPathIdx + 1
		}
	}

	for _, unit := range m.units {
		if hasActive[unit] {
			continue
		}
		keyset, err := m.createKeyset(ctx, m.db, unit, nextIndex[unit])
		if err != nil {
			return nil, err
		}
		m.logInfof("created keyset %v for unit %v", keyset.Id, unit)
		keysets = append(keysets, keyset)
	}

	return keysets, nil
}

// createKeyset declares a new keyset with the signer and stores it as active.
func (m *Mint) createKeyset(ctx context.Context, db storage.Queries, unit cashu.Unit, index uint32) (Keyset, error) {
	declared, err := m.signer.DeclareKeyset(ctx, unit, index, m.maxOrder)
	if err != nil {
		return Keyset{}, signerError(err)
	}
	if !declared.VerifyId() {
		m.logErrorf("signer returned keyset %v with keys that do not match its id", declared.Id)
		return Keyset{}, cashu.InternalErr
	}

	keyset, err := keysetFromSigner(declared, unit, true)
	if err != nil {
		return Keyset{}, err
	}

	dbKeyset := storage.DBKeyset{
		Id:                keyset.Id,
		Unit:              unit.String(),
		Active:            true,
		DerivationPathIdx: index,
		MaxOrder:          keyset.MaxOrder,
		CreatedAt:         time.Now().Unix(),
	}
	if err := db.InsertKeyset(ctx, dbKeyset); err != nil {
		return Keyset{}, fmt.Errorf("error saving keyset %v: %w", keyset.Id, err)
	}
	return keyset, nil
}

func (m *Mint) source(method string) (liquidity.Source, error) {
	source, err := m.sources.Get(method)
	if err != nil {
		return nil, cashu.PaymentMethodNotSupportedErr
	}
	return source, nil
}

// sourceForUnit returns the liquidity source for method after checking
// that it settles unit.
func (m *Mint) sourceForUnit(method, unitStr string) (liquidity.Source, cashu.Unit, error) {
	source, err := m.source(method)
	if err != nil {
		return nil, 0, err
	}
	unit, err := cashu.UnitFromString(unitStr)
	if err != nil {
		return nil, 0, cashu.UnitNotSupportedErr
	}
	if !slices.Contains(m.units, unit) || !liquidity.SupportsUnit(source, unit) {
		return nil, 0, cashu.UnitNotSupportedErr
	}
	return source, unit, nil
}

// cached runs op once per request fingerprint and keeps its encoded
// response for the cache TTL. Concurrent identical requests share the result.
func cached[Resp any](ctx context.Context, m *Mint, key cache.Key, op func(context.Context) (*Resp, error)) (*Resp, error) {
	data, err := m.cache.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
		resp, err := op(ctx)
		if err != nil {
			return nil, err
		}
		return wire.Marshal(resp)
	})
	if err != nil {
		return nil, err
	}

	var resp Resp
	if err := wire.Unmarshal(data, &resp); err != nil {
		m.logErrorf("could not decode cached response for %v: %v", key, err)
		return nil, cashu.InternalErr
	}
	return &resp, nil
}

func (m *Mint) Shutdown() error {
	m.publisher.Close()
	return m.db.Close()
}
