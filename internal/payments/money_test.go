package payments

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinorUnits(t *testing.T) {
	cases := []struct {
		amount   string
		currency string
		want     int64
	}{
		{amount: "89.00", currency: "usd", want: 8900},
		{amount: "0.015", currency: "eur", want: 2},
		{amount: "19.999", currency: "USD", want: 2000},
		{amount: "1500", currency: "jpy", want: 1500},
	}
	for _, tc := range cases {
		got, err := ToMinorUnits(decimal.RequireFromString(tc.amount), tc.currency)
		require.NoError(t, err, tc.amount)
		assert.Equal(t, tc.want, got, tc.amount)
	}
}

func TestToMinorUnitsRejectsNonPositive(t *testing.T) {
	for _, raw := range []string{"0", "-5", "0.004"} {
		_, err := ToMinorUnits(decimal.RequireFromString(raw), "usd")
		assert.Error(t, err, raw)
	}
}

func TestFromMinorUnits(t *testing.T) {
	assert.True(t, decimal.RequireFromString("89").Equal(FromMinorUnits(8900, "usd")))
	assert.True(t, decimal.RequireFromString("1500").Equal(FromMinorUnits(1500, "jpy")))
}
