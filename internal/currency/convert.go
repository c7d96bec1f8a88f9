package currency

import (
	"math"
	"strings"

	xcurrency "golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

func validRate(r float64) bool {
	return r > 0 && !math.IsInf(r, 0) && !math.IsNaN(r)
}

// rateFor treats missing and unusable rates as 1.
func rateFor(code string, rates Rates) float64 {
	r, ok := rates[strings.ToUpper(code)]
	if !ok || !validRate(r) {
		return 1
	}
	return r
}

// ToDisplay converts a base amount into the display currency.
func ToDisplay(base float64, code string, rates Rates) float64 {
	return base * rateFor(code, rates)
}

// ToBase converts a display amount back into the base currency. A zero or
// missing rate leaves the amount unchanged.
func ToBase(display float64, code string, rates Rates) float64 {
	return display / rateFor(code, rates)
}

// Formatter renders base amounts in a display currency.
type Formatter struct {
	table   Table
	printer *message.Printer
}

func NewFormatter(table Table) *Formatter {
	return &Formatter{
		table:   table,
		printer: message.NewPrinter(language.AmericanEnglish),
	}
}

// Format converts base into code and renders its magnitude with the
// currency symbol and digit grouping, e.g. "₹1,234.50". The sign is
// dropped; callers convey it separately.
func (f *Formatter) Format(base float64, code string, rates Rates) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	amount := math.Abs(ToDisplay(base, code, rates))
	return f.symbol(code) + f.printer.Sprint(number.Decimal(amount, number.Scale(scaleFor(code))))
}

func (f *Formatter) symbol(code string) string {
	if c, ok := f.table.Lookup(code); ok && c.Symbol != "" {
		return c.Symbol
	}
	return code + " "
}

// scaleFor returns the number of minor digits shown: the currency's
// standard scale, never fewer than two.
func scaleFor(code string) int {
	unit, err := xcurrency.ParseISO(code)
	if err != nil {
		return 2
	}
	scale, _ := xcurrency.Standard.Rounding(unit)
	return max(scale, 2)
}
