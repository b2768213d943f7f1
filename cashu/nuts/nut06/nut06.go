// Package nut06 contains structs as defined in [NUT-06]
//
// [NUT-06]: https://github.com/cashubtc/nuts/blob/main/06.md
package nut06

import (
	"encoding/json"
)

type MintInfo struct {
	Name            string        `json:"name"`
	Pubkey          string        `json:"pubkey"`
	Version         string        `json:"version"`
	Description     string        `json:"description"`
	LongDescription string        `json:"description_long,omitempty"`
	Contact         []ContactInfo `json:"contact,omitempty"`
	Motd            string        `json:"motd,omitempty"`
	IconURL         string        `json:"icon_url,omitempty"`
	URLs            []string      `json:"urls,omitempty"`
	Time            int64         `json:"time,omitempty"`
	Nuts            Nuts          `json:"nuts"`
}

type ContactInfo struct {
	Method string `json:"method"`
	Info   string `json:"info"`
}

// custom unmarshal to ignore contact field if on old format
func (mi *MintInfo) UnmarshalJSON(data []byte) error {
	var tempInfo struct {
		Name            string          `json:"name"`
		Pubkey          string          `json:"pubkey"`
		Version         string          `json:"version"`
		Description     string          `json:"description"`
		LongDescription string          `json:"description_long,omitempty"`
		Contact         json.RawMessage `json:"contact,omitempty"`
		Motd            string          `json:"motd,omitempty"`
		IconURL         string          `json:"icon_url,omitempty"`
		URLs            []string        `json:"urls,omitempty"`
		Time            int64           `json:"time,omitempty"`
		Nuts            Nuts            `json:"nuts"`
	}

	if err := json.Unmarshal(data, &tempInfo); err != nil {
		return err
	}

	mi.Name = tempInfo.Name
	mi.Pubkey = tempInfo.Pubkey
	mi.Version = tempInfo.Version
	mi.Description = tempInfo.Description
	mi.LongDescription = tempInfo.LongDescription
	mi.Motd = tempInfo.Motd
	mi.IconURL = tempInfo.IconURL
	mi.URLs = tempInfo.URLs
	mi.Time = tempInfo.Time
	mi.Nuts = tempInfo.Nuts
	json.Unmarshal(tempInfo.Contact, &mi.Contact)

	return nil
}

type NutSetting struct {
	Methods  []MethodSetting `json:"methods"`
	Disabled bool            `json:"disabled"`
}

type MethodSetting struct {
	Method    string `json:"method"`
	Unit      string `json:"unit"`
	MinAmount uint64 `json:"min_amount,omitempty"`
	MaxAmount uint64 `json:"max_amount,omitempty"`
}

type Supported struct {
	Supported bool `json:"supported"`
}

type CachedEndpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

type CacheSetting struct {
	TTL             uint64           `json:"ttl"`
	CachedEndpoints []CachedEndpoint `json:"cached_endpoints"`
}

type Nuts struct {
	Nut04 NutSetting   `json:"4"`
	Nut05 NutSetting   `json:"5"`
	Nut07 Supported    `json:"7"`
	Nut09 Supported    `json:"9"`
	Nut12 Supported    `json:"12"`
	Nut19 CacheSetting `json:"19"`
}
