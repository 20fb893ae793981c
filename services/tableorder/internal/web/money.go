package web

import (
	"fmt"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/restaurant"
)

// MoneyFormat renders minor-unit amounts with a currency symbol.
type MoneyFormat struct {
	unit    currency.Unit
	printer *message.Printer
}

// NewMoneyFormat accepts an ISO 4217 code and a BCP 47 language tag; empty
// values fall back to USD and English.
func NewMoneyFormat(code, lang string) (*MoneyFormat, error) {
	if strings.TrimSpace(code) == "" {
		code = "USD"
	}
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, fmt.Errorf("cannot parse currency %q: %w", code, err)
	}

	tag := language.English
	if strings.TrimSpace(lang) != "" {
		parsed, err := language.Parse(lang)
		if err != nil {
			return nil, fmt.Errorf("cannot parse language %q: %w", lang, err)
		}
		tag = parsed
	}
	return &MoneyFormat{unit: unit, printer: message.NewPrinter(tag)}, nil
}

func (f *MoneyFormat) Format(m restaurant.Money) string {
	return f.printer.Sprint(currency.Symbol(f.unit.Amount(m.Float())))
}

// Plain renders the amount without symbol, for form values.
func (f *MoneyFormat) Plain(m restaurant.Money) string {
	return fmt.Sprintf("%.2f", m.Float())
}
