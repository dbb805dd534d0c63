package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
)

// Money is an amount in the currency's minor unit: cents for CHF, whole yen
// for JPY.
type Money struct {
	Amount   int64
	Currency string
}

// NewMoney creates a validated amount. Currency must be a known ISO 4217 code.
func NewMoney(amount int64, code string) (Money, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if _, err := CurrencyScale(code); err != nil {
		return Money{}, err
	}
	if amount < 0 {
		return Money{}, fmt.Errorf("%w: negative amount", ErrValidation)
	}
	return Money{Amount: amount, Currency: code}, nil
}

// CurrencyScale returns how many decimal places the currency's minor unit
// has, per CLDR: 2 for CHF, 0 for JPY and KRW, 3 for KWD.
func CurrencyScale(code string) (int, error) {
	if len(code) != 3 {
		return 0, fmt.Errorf("%w: currency %q", ErrValidation, code)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 0, fmt.Errorf("%w: currency %q", ErrValidation, code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale, nil
}

// ParseMoney parses an unsigned decimal string such as "5.00" or "12.5" into
// minor units. Digits beyond the currency's scale must be zeros; anything
// else is rejected rather than rounded.
func ParseMoney(value, code string) (Money, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	scale, err := CurrencyScale(code)
	if err != nil {
		return Money{}, err
	}

	value = strings.TrimSpace(value)
	invalid := fmt.Errorf("%w: price %q", ErrValidation, value)

	whole, frac, hasFrac := strings.Cut(value, ".")
	if !isDigits(whole) || (hasFrac && !isDigits(frac)) {
		return Money{}, invalid
	}
	if len(frac) > scale {
		if strings.Trim(frac[scale:], "0") != "" {
			return Money{}, invalid
		}
		frac = frac[:scale]
	}
	frac += strings.Repeat("0", scale-len(frac))

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return Money{}, invalid
	}
	var minor int64
	if frac != "" {
		if minor, err = strconv.ParseInt(frac, 10, 64); err != nil {
			return Money{}, invalid
		}
	}
	factor := pow10(scale)
	if units > (math.MaxInt64-minor)/factor {
		return Money{}, invalid
	}
	return NewMoney(units*factor+minor, code)
}

// Equals reports whether both amount and currency match.
func (m Money) Equals(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Amount == 0
}

// String renders the amount as "5.00 CHF" or "500 JPY".
func (m Money) String() string {
	return m.Decimal() + " " + m.Currency
}

// Decimal renders the amount without currency, e.g. "5.00".
func (m Money) Decimal() string {
	scale, err := CurrencyScale(m.Currency)
	if err != nil {
		scale = 2
	}
	if scale == 0 {
		return strconv.FormatInt(m.Amount, 10)
	}
	factor := pow10(scale)
	return fmt.Sprintf("%d.%0*d", m.Amount/factor, scale, m.Amount%factor)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func pow10(n int) int64 {
	f := int64(1)
	for range n {
		f *= 10
	}
	return f
}
