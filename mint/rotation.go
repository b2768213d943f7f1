package mint

import (
	"context"
	"slices"

	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/mint/storage"
)

// RotateKeysets creates a new active keyset for every unit of the mint.
// The previous keysets stay valid for verifying inputs but no longer
// sign outputs.
func (m *Mint) RotateKeysets(ctx context.Context) ([]Keyset, error) {
	m.rotateMu.Lock()
	defer m.rotateMu.Unlock()

	current := m.keysets.ListKeysets()
	nextIndex := make(map[cashu.Unit]uint32)
	for _, keyset := range current {
		if keyset.Index+1 > nextIndex[keyset.Unit] {
			nextIndex[keyset.Unit] = keyset.Index + 1
		}
	}

	var created []Keyset
	err := m.db.WithTx(ctx, func(tx storage.Queries) error {
		created = created[:0]
		for _, unit := range m.units {
			if err := tx.DeactivateKeysets(ctx, unit.String()); err != nil {
				return err
			}
			keyset, err := m.createKeyset(ctx, tx, unit, nextIndex[unit])
			if err != nil {
				return err
			}
			created = append(created, keyset)
		}
		return nil
	})
	if err != nil {
		return nil, m.dbError(err, "rotating keysets")
	}

	keysets := make([]Keyset, 0, len(current)+len(created))
	for _, keyset := range current {
		if slices.Contains(m.units, keyset.Unit) {
			keyset.Active = false
		}
		keysets = append(keysets, keyset)
	}
	keysets = append(keysets, created...)
	m.keysets.Replace(keysets)

	for _, keyset := range created {
		m.logInfof("rotated keyset for unit %v, new active keyset %v", keyset.Unit, keyset.Id)
	}
	return created, nil
}
