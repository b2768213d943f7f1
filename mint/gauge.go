package mint

import (
	"context"
	"log/slog"
	"time"

	"github.com/elnosh/starknuts/mint/storage"
	"github.com/prometheus/client_golang/prometheus"
)

// GaugeObserver periodically exports aggregate ledger figures as
// prometheus gauges. It only reads from the database.
type GaugeObserver struct {
	db     storage.Queries
	logger *slog.Logger

	mintQuotes *prometheus.GaugeVec
	meltQuotes *prometheus.GaugeVec
	issued     *prometheus.GaugeVec
	redeemed   *prometheus.GaugeVec
}

func NewGaugeObserver(db storage.Queries, registerer prometheus.Registerer, logger *slog.Logger) (*GaugeObserver, error) {
	g := &GaugeObserver{
		db:     db,
		logger: logger,
		mintQuotes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "starknuts",
			Name:      "mint_quotes",
			Help:      "Number of mint quotes by unit and state.",
		}, []string{"unit", "state"}),
		meltQuotes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "starknuts",
			Name:      "melt_quotes",
			Help:      "Number of melt quotes by unit and state.",
		}, []string{"unit", "state"}),
		issued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "starknuts",
			Name:      "issued_ecash",
			Help:      "Amount of ecash signed by keyset.",
		}, []string{"keyset"}),
		redeemed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "starknuts",
			Name:      "redeemed_ecash",
			Help:      "Amount of ecash spent by keyset.",
		}, []string{"keyset"}),
	}

	for _, collector := range []prometheus.Collector{g.mintQuotes, g.meltQuotes, g.issued, g.redeemed} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Observe takes one snapshot of the ledger.
func (g *GaugeObserver) Observe(ctx context.Context) error {
	mintCounts, err := g.db.MintQuoteCounts(ctx)
	if err != nil {
		return err
	}
	meltCounts, err := g.db.MeltQuoteCounts(ctx)
	if err != nil {
		return err
	}
	issued, err := g.db.IssuedEcash(ctx)
	if err != nil {
		return err
	}
	redeemed, err := g.db.RedeemedEcash(ctx)
	if err != nil {
		return err
	}

	setCounts(g.mintQuotes, mintCounts)
	setCounts(g.meltQuotes, meltCounts)
	setAmounts(g.issued, issued)
	setAmounts(g.redeemed, redeemed)
	return nil
}

func setCounts(gauge *prometheus.GaugeVec, counts []storage.QuoteCount) {
	gauge.Reset()
	for _, count := range counts {
		gauge.WithLabelValues(count.Unit, count.State).Set(float64(count.Count))
	}
}

func setAmounts(gauge *prometheus.GaugeVec, amounts map[string]uint64) {
	gauge.Reset()
	for keysetId, amount := range amounts {
		gauge.WithLabelValues(keysetId).Set(float64(amount))
	}
}

// Run observes every interval until ctx is done.
func (g *GaugeObserver) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := g.Observe(ctx); err != nil && ctx.Err() == nil {
			g.logger.Error("could not observe ledger gauges", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
