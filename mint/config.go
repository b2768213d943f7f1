package mint

import (
	"time"

	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/cashu/nuts/nut06"
	"github.com/elnosh/starknuts/mint/liquidity"
	"github.com/elnosh/starknuts/mint/pubsub"
	"github.com/elnosh/starknuts/mint/signer"
	"github.com/elnosh/starknuts/mint/storage"
)

type LogLevel int

const (
	Info LogLevel = iota
	Debug
	Disable
)

func ParseLogLevel(level string) LogLevel {
	switch level {
	case "debug":
		return Debug
	case "disable":
		return Disable
	default:
		return Info
	}
}

const (
	DefaultQuoteTTL     = time.Hour
	DefaultMaxQuoteWait = 60 * time.Second
)

type Config struct {
	DB      storage.MintDB
	Signer  signer.Signer
	Sources []liquidity.Source
	// shared with the indexer to learn about paid quotes
	Publisher *pubsub.PubSub
	// reports whether quote states are up to date with the chain
	Indexer LagReporter

	Units    []cashu.Unit
	MaxOrder uint
	QuoteTTL time.Duration
	// flat fee in units charged on every melt plus a proportional part in parts per thousand
	MeltFee    uint64
	MeltFeePpk uint64

	MintInfo MintInfo
	Limits   MintLimits

	CacheTTL      time.Duration
	CacheCapacity int
	// upper bound for waiting on a mint quote state change
	MaxQuoteWait time.Duration

	LogLevel LogLevel
}

type LagReporter interface {
	Lag() error
}

type MintInfo struct {
	Name            string
	Description     string
	LongDescription string
	Contact         []nut06.ContactInfo
	Motd            string
	IconURL         string
	URLs            []string
}

type MethodUnit struct {
	Method string
	Unit   cashu.Unit
}

type MethodSettings struct {
	MinAmount uint64
	MaxAmount uint64
}

type MintLimits struct {
	MintingDisabled bool
	MeltingDisabled bool
	MintSettings    map[MethodUnit]MethodSettings
	MeltSettings    map[MethodUnit]MethodSettings
}

func (s MethodSettings) allows(amount uint64) bool {
	if s.MinAmount > 0 && amount < s.MinAmount {
		return false
	}
	if s.MaxAmount > 0 && amount > s.MaxAmount {
		return false
	}
	return true
}
