package mint

import (
	"slices"
	"time"

	"github.com/elnosh/starknuts/cashu/nuts/nut06"
	"github.com/elnosh/starknuts/cashu/nuts/nut19"
)

const Version = "starknuts/0.1.0"

// RetrieveMintInfo describes the mint and the settings it runs with.
func (m *Mint) RetrieveMintInfo() nut06.MintInfo {
	var mintMethods, meltMethods []nut06.MethodSetting
	var cachedEndpoints []nut06.CachedEndpoint

	for _, method := range m.sources.Methods() {
		source, _ := m.sources.Get(method)
		for _, unit := range m.units {
			if !slices.Contains(source.Units(), unit) {
				continue
			}
			methodUnit := MethodUnit{Method: method, Unit: unit}
			mintSettings := m.limits.MintSettings[methodUnit]
			meltSettings := m.limits.MeltSettings[methodUnit]
			mintMethods = append(mintMethods, nut06.MethodSetting{
				Method:    method,
				Unit:      unit.String(),
				MinAmount: mintSettings.MinAmount,
				MaxAmount: mintSettings.MaxAmount,
			})
			meltMethods = append(meltMethods, nut06.MethodSetting{
				Method:    method,
				Unit:      unit.String(),
				MinAmount: meltSettings.MinAmount,
				MaxAmount: meltSettings.MaxAmount,
			})
		}

		for _, route := range []nut19.Route{nut19.MintQuote, nut19.Mint, nut19.MeltQuote, nut19.Melt} {
			cachedEndpoints = append(cachedEndpoints, nut06.CachedEndpoint{Method: "POST", Path: route.Path(method)})
		}
	}
	cachedEndpoints = append(cachedEndpoints, nut06.CachedEndpoint{Method: "POST", Path: nut19.Swap.Path("")})

	return nut06.MintInfo{
		Name:            m.mintInfo.Name,
		Pubkey:          m.rootPubkey,
		Version:         Version,
		Description:     m.mintInfo.Description,
		LongDescription: m.mintInfo.LongDescription,
		Contact:         m.mintInfo.Contact,
		Motd:            m.mintInfo.Motd,
		IconURL:         m.mintInfo.IconURL,
		URLs:            m.mintInfo.URLs,
		Time:            time.Now().Unix(),
		Nuts: nut06.Nuts{
			Nut04: nut06.NutSetting{Methods: mintMethods, Disabled: m.limits.MintingDisabled},
			Nut05: nut06.NutSetting{Methods: meltMethods, Disabled: m.limits.MeltingDisabled},
			Nut07: nut06.Supported{Supported: true},
			Nut09: nut06.Supported{Supported: true},
			Nut12: nut06.Supported{Supported: true},
			Nut19: nut06.CacheSetting{
				TTL:             uint64(m.cache.TTL().Seconds()),
				CachedEndpoints: cachedEndpoints,
			},
		},
	}
}
