package domain_test

import (
	"testing"

	"github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		currency string
		want     domain.Money
	}{
		{"two decimals", "5.00", "chf", domain.Money{Amount: 500, Currency: "CHF"}},
		{"one decimal", "12.5", "EUR", domain.Money{Amount: 1250, Currency: "EUR"}},
		{"whole number", "20", "usd", domain.Money{Amount: 2000, Currency: "USD"}},
		{"zero", "0.00", "CHF", domain.Money{Amount: 0, Currency: "CHF"}},
		{"zero decimal currency", "500", "JPY", domain.Money{Amount: 500, Currency: "JPY"}},
		{"zero decimal with trailing zeros", "500.00", "jpy", domain.Money{Amount: 500, Currency: "JPY"}},
		{"won", "12000", "KRW", domain.Money{Amount: 12000, Currency: "KRW"}},
		{"three decimal currency", "1.5", "KWD", domain.Money{Amount: 1500, Currency: "KWD"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := domain.ParseMoney(tt.value, tt.currency)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMoney_Invalid(t *testing.T) {
	for _, value := range []string{
		"", "abc", "1.234", "-1.00", "5.", "+3.00", "-0.50", "-0", "1.+5", "1.-5",
		".50", "1,50", "1 000", "١٢", "99999999999999999999",
	} {
		_, err := domain.ParseMoney(value, "CHF")
		assert.ErrorIs(t, err, domain.ErrValidation, value)
	}

	_, err := domain.ParseMoney("500.5", "JPY")
	assert.ErrorIs(t, err, domain.ErrValidation, "yen have no minor unit")

	_, err = domain.ParseMoney("92233720368547758.08", "CHF")
	assert.ErrorIs(t, err, domain.ErrValidation, "overflows int64 minor units")

	for _, code := range []string{"SWISS", "ZZZ", ""} {
		_, err := domain.ParseMoney("5.00", code)
		assert.ErrorIs(t, err, domain.ErrValidation, code)
	}
}

func TestCurrencyScale(t *testing.T) {
	for code, want := range map[string]int{"CHF": 2, "EUR": 2, "JPY": 0, "KRW": 0, "KWD": 3} {
		got, err := domain.CurrencyScale(code)
		require.NoError(t, err, code)
		assert.Equal(t, want, got, code)
	}
}

func TestMoney_String(t *testing.T) {
	m := domain.Money{Amount: 1005, Currency: "CHF"}
	assert.Equal(t, "10.05 CHF", m.String())
	assert.Equal(t, "10.05", m.Decimal())
	assert.True(t, m.Equals(domain.Money{Amount: 1005, Currency: "CHF"}))
	assert.False(t, m.Equals(domain.Money{Amount: 1005, Currency: "EUR"}))

	yen := domain.Money{Amount: 500, Currency: "JPY"}
	assert.Equal(t, "500 JPY", yen.String())
	assert.Equal(t, "500", yen.Decimal())
	assert.Equal(t, "1.500 KWD", domain.Money{Amount: 1500, Currency: "KWD"}.String())
}
