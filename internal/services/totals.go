package services

import (
	"household-planet/internal/models"

	"github.com/shopspring/decimal"
)

// ComputeTotal считает сумму к оплате: max(0, subtotal - discount) + deliveryFee.
// Второе значение true, если скидка превысила subtotal и разность была обрезана до нуля.
// Такой заказ не должен появляться при нормальной работе валидатора промокодов.
func ComputeTotal(subtotal, deliveryFee, discount decimal.Decimal) (decimal.Decimal, bool) {
	net := subtotal.Sub(discount)
	anomaly := false
	if net.IsNegative() {
		net = decimal.Zero
		anomaly = true
	}
	return models.RoundMoney(net.Add(deliveryFee)), anomaly
}
