package format

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var symbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
}

// Price renders amount in the given ISO currency using locale digit grouping.
// Example: Price(decimal.RequireFromString("1234.5"), "USD", "en-US") => "$1,234.50"
func Price(amount decimal.Decimal, code, locale string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	unit, err := currency.ParseISO(code)
	if err != nil {
		unit = currency.USD
		code = "USD"
	}
	scale, _ := currency.Standard.Rounding(unit)

	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.AmericanEnglish
	}
	printer := message.NewPrinter(tag)

	neg := amount.IsNegative()
	body := printer.Sprintf("%v", number.Decimal(amount.Abs().Round(int32(scale)).InexactFloat64(), number.Scale(scale)))

	prefix, ok := symbols[code]
	if !ok {
		prefix = code + " "
	}
	if neg {
		return "-" + prefix + body
	}
	return prefix + body
}
