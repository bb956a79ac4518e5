package payment

import (
	"fmt"
	"strings"

	"puntoventa/backend/internal/domain"
)

// ToleranceCents absorbs rounding drift between the terminal's
// arithmetic and ours: one cent either way.
const ToleranceCents = int64(1)

// MismatchError reports the exact difference between the composed legs
// and the required total.
type MismatchError struct {
	RequiredCents int64
	GotCents      int64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("payment legs total %d does not match required %d (delta %d cents)",
		e.GotCents, e.RequiredCents, e.DeltaCents())
}

func (e *MismatchError) DeltaCents() int64 {
	delta := e.GotCents - e.RequiredCents
	if delta < 0 {
		delta = -delta
	}
	return delta
}

// ResolveRequiredTotal picks the amount the customer actually pays at
// the terminal: the financing plan's initial payment when a plan is
// active, otherwise the full sale total.
func ResolveRequiredTotal(totalCents int64, financing *domain.FinancingPlan) int64 {
	if financing != nil {
		return financing.InitialPaymentCents
	}
	return totalCents
}

// Compose normalizes the request's payment into explicit legs. With no
// explicit legs, the sale carries exactly one implicit leg for the full
// required amount.
func Compose(method string, legs []domain.PaymentLeg, requiredCents int64) ([]domain.PaymentLeg, error) {
	normalized := normalizeLegs(legs)

	if len(normalized) == 0 {
		method = strings.ToLower(strings.TrimSpace(method))
		if !isSupportedMethod(method) {
			return nil, fmt.Errorf("unsupported payment method %q", method)
		}
		return []domain.PaymentLeg{{Method: method, AmountCents: requiredCents}}, nil
	}

	if err := ValidateLegs(normalized, requiredCents); err != nil {
		return nil, err
	}
	return normalized, nil
}

// ValidateLegs checks a mixed-payment breakdown against the required
// total. Pure validation, no side effects.
func ValidateLegs(legs []domain.PaymentLeg, requiredCents int64) error {
	if len(legs) == 0 {
		return fmt.Errorf("no payment legs")
	}

	sum := int64(0)
	for _, leg := range legs {
		if !isSupportedMethod(leg.Method) {
			return fmt.Errorf("unsupported payment method %q", leg.Method)
		}
		if leg.AmountCents < 1 {
			return fmt.Errorf("payment leg %s has non-positive amount", leg.Method)
		}
		sum += leg.AmountCents
	}

	delta := sum - requiredCents
	if delta < -ToleranceCents || delta > ToleranceCents {
		return &MismatchError{RequiredCents: requiredCents, GotCents: sum}
	}
	return nil
}

func normalizeLegs(legs []domain.PaymentLeg) []domain.PaymentLeg {
	normalized := make([]domain.PaymentLeg, 0, len(legs))
	for _, leg := range legs {
		method := strings.ToLower(strings.TrimSpace(leg.Method))
		if method == "" && leg.AmountCents == 0 {
			continue
		}
		normalized = append(normalized, domain.PaymentLeg{
			Method:      method,
			AmountCents: leg.AmountCents,
			Reference:   strings.TrimSpace(leg.Reference),
		})
	}
	return normalized
}

// Methods may carry a currency suffix, e.g. "cash_usd".
func isSupportedMethod(method string) bool {
	base, _, _ := strings.Cut(method, "_")
	switch base {
	case domain.PaymentMethodCash, domain.PaymentMethodCard, domain.PaymentMethodTransfer:
		return true
	default:
		return false
	}
}
