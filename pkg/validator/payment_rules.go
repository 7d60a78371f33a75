package validator

import (
	"strings"
	"time"

	"golang.org/x/text/currency"
)

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// ValidCardNumber checks length and the Luhn checksum. Spaces and dashes are ignored.
func ValidCardNumber(field, value string) Rule {
	return Rule{
		Check: func() bool {
			cleaned := strings.NewReplacer(" ", "", "-", "").Replace(value)
			if !digitsOnly(cleaned) || len(cleaned) < 13 || len(cleaned) > 19 {
				return false
			}
			sum := 0
			double := false
			for i := len(cleaned) - 1; i >= 0; i-- {
				d := int(cleaned[i] - '0')
				if double {
					d *= 2
					if d > 9 {
						d -= 9
					}
				}
				sum += d
				double = !double
			}
			return sum%10 == 0
		},
		Error: newError(field, "invalid card number", "validation.card_number", nil),
	}
}

// ValidCardExpiry checks that month/year is a real month that has not ended
// before now. Two-digit years are read as 20YY.
func ValidCardExpiry(field string, month, year int, now time.Time) Rule {
	return Rule{
		Check: func() bool {
			if month < 1 || month > 12 {
				return false
			}
			if year < 100 {
				year += 2000
			}
			y, m, _ := now.UTC().Date()
			return year > y || (year == y && month >= int(m))
		},
		Error: newError(field, "card has expired or the expiry date is invalid", "validation.card_expiry", nil),
	}
}

func ValidCVC(field, value string) Rule {
	return Rule{
		Check: func() bool { return digitsOnly(value) && (len(value) == 3 || len(value) == 4) },
		Error: newError(field, "must be 3 or 4 digits", "validation.card_cvc", nil),
	}
}

// ValidCurrencyCode accepts ISO 4217 codes in either case.
func ValidCurrencyCode(field, value string) Rule {
	return Rule{
		Check: func() bool {
			if len(value) != 3 {
				return false
			}
			_, err := currency.ParseISO(strings.ToUpper(value))
			return err == nil
		},
		Error: newError(field, "must be a valid ISO 4217 currency code", "validation.currency_code", nil),
	}
}
