// Package currency converts amounts between the base currency used for
// storage and the currency chosen for display, and supplies the rate table.
package currency

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	xcurrency "golang.org/x/text/currency"
	"gopkg.in/yaml.v3"
)

// Currency describes a supported display currency.
type Currency struct {
	Code            string  `yaml:"code" json:"code"`
	Symbol          string  `yaml:"symbol" json:"symbol"`
	Name            string  `yaml:"name" json:"name"`
	PlaceholderRate float64 `yaml:"placeholder_rate" json:"-"`
}

// Table is the set of supported currencies and their fallback rates.
type Table struct {
	Base       string     `yaml:"base"`
	Currencies []Currency `yaml:"currencies"`
}

// Rates maps a currency code to units of that currency per 1 base unit.
type Rates map[string]float64

//go:embed currencies.yaml
var embeddedTable []byte

var defaultTable = sync.OnceValue(func() Table {
	t, err := ParseTable(embeddedTable)
	if err != nil {
		panic(fmt.Sprintf("embedded currency table: %v", err))
	}
	return t
})

// DefaultTable returns the built-in currency table (USD base).
func DefaultTable() Table {
	return defaultTable()
}

// LoadTable reads a currency table from a YAML file.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read currency table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable decodes and validates a YAML currency table.
func ParseTable(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("parse currency table: %w", err)
	}
	t.Base = strings.ToUpper(strings.TrimSpace(t.Base))
	if t.Base == "" {
		return Table{}, fmt.Errorf("currency table: base currency is required")
	}

	seen := make(map[string]bool, len(t.Currencies))
	hasBase := false
	for i := range t.Currencies {
		c := &t.Currencies[i]
		c.Code = strings.ToUpper(strings.TrimSpace(c.Code))
		if _, err := xcurrency.ParseISO(c.Code); err != nil {
			return Table{}, fmt.Errorf("currency table: invalid code %q: %w", c.Code, err)
		}
		if seen[c.Code] {
			return Table{}, fmt.Errorf("currency table: duplicate code %s", c.Code)
		}
		seen[c.Code] = true
		if c.Code == t.Base {
			hasBase = true
			c.PlaceholderRate = 1
		}
		if c.PlaceholderRate <= 0 {
			return Table{}, fmt.Errorf("currency table: %s placeholder rate must be positive", c.Code)
		}
	}
	if !hasBase {
		return Table{}, fmt.Errorf("currency table: base currency %s not listed", t.Base)
	}
	return t, nil
}

// Lookup finds a currency by code, case-insensitively.
func (t Table) Lookup(code string) (Currency, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, c := range t.Currencies {
		if c.Code == code {
			return c, true
		}
	}
	return Currency{}, false
}

// Placeholders returns the static fallback rates.
func (t Table) Placeholders() Rates {
	r := make(Rates, len(t.Currencies))
	for _, c := range t.Currencies {
		r[c.Code] = c.PlaceholderRate
	}
	r[t.Base] = 1
	return r
}

func (t Table) Codes() []string {
	out := make([]string, 0, len(t.Currencies))
	for _, c := range t.Currencies {
		out = append(out, c.Code)
	}
	return out
}

// Normalize keeps only codes known to the table, fills the gaps from the
// placeholders and pins the base rate to exactly 1.
func (t Table) Normalize(fetched Rates) Rates {
	out := t.Placeholders()
	for code := range out {
		if r, ok := fetched[code]; ok && validRate(r) {
			out[code] = r
		}
	}
	out[t.Base] = 1
	return out
}
