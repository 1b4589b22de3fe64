// Package trading holds small position arithmetic shared by executors.
package trading

// ClosePortion returns how much of qty a close with the given portion
// releases. A portion outside (0, 1] closes everything; the result never
// exceeds qty.
func ClosePortion(qty, portion float64) float64 {
	if qty <= 0 {
		return 0
	}
	if portion <= 0 || portion >= 1 {
		return qty
	}
	amount := qty * portion
	if amount > qty {
		amount = qty
	}
	return amount
}
