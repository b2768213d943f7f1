package mint

import (
	"math/bits"

	"github.com/elnosh/starknuts/cashu"
)

// meltFeeFor returns the fee charged for melting amount: the flat melt fee
// plus the proportional part in parts per thousand, rounded up.
func (m *Mint) meltFeeFor(amount uint64) (uint64, error) {
	hi, lo := bits.Mul64(amount, m.meltFeePpk)
	if hi >= 1000 {
		return 0, cashu.AmountOverflowErr
	}
	proportional, rem := bits.Div64(hi, lo, 1000)
	if rem > 0 {
		var err error
		if proportional, err = addAmounts(proportional, 1); err != nil {
			return 0, err
		}
	}
	return addAmounts(m.meltFee, proportional)
}
