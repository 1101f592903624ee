package models

import "github.com/shopspring/decimal"

// MoneyPlaces - количество знаков после запятой в минимальной денежной единице
const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// RoundMoney округляет сумму до минимальной денежной единицы
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// PercentOf возвращает percent% от amount, округленные до минимальной единицы
func PercentOf(amount, percent decimal.Decimal) decimal.Decimal {
	return RoundMoney(amount.Mul(percent).Div(hundred))
}

// FitsMoneyPlaces проверяет, что в значении не больше MoneyPlaces знаков после запятой
func FitsMoneyPlaces(d decimal.Decimal) bool {
	return RoundMoney(d).Equal(d)
}
