package models

import "github.com/shopspring/decimal"

func init() {
	// Суммы отдаются клиентам числами, а не строками.
	decimal.MarshalJSONWithoutQuotes = true
}

// MoneyPlaces — точность денежных сумм (KES, два знака).
const MoneyPlaces = 2

// RoundMoney округляет сумму до двух знаков.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}
