package payment

import (
	"errors"
	"testing"

	"puntoventa/backend/internal/domain"
)

func TestComposeImplicitSingleLeg(t *testing.T) {
	legs, err := Compose("cash", nil, 10000)
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if len(legs) != 1 {
		t.Fatalf("expected 1 leg, got %d", len(legs))
	}
	if legs[0].Method != "cash" || legs[0].AmountCents != 10000 {
		t.Fatalf("unexpected leg %+v", legs[0])
	}
}

func TestComposeRejectsUnknownMethod(t *testing.T) {
	if _, err := Compose("barter", nil, 10000); err == nil {
		t.Fatal("expected error for unsupported method")
	}
}

func TestComposeAcceptsCurrencySuffixedMethods(t *testing.T) {
	legs, err := Compose("cash_usd", nil, 5000)
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if legs[0].Method != "cash_usd" {
		t.Fatalf("method suffix was lost: %+v", legs[0])
	}
}

func TestComposeExplicitLegsMatchingTotal(t *testing.T) {
	legs := []domain.PaymentLeg{
		{Method: "cash", AmountCents: 4000},
		{Method: "card", AmountCents: 6000, Reference: "AUTH-123"},
	}
	composed, err := Compose("mixed", legs, 10000)
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if len(composed) != 2 {
		t.Fatalf("expected 2 legs, got %d", len(composed))
	}
}

func TestComposeMismatchReportsDelta(t *testing.T) {
	legs := []domain.PaymentLeg{{Method: "cash", AmountCents: 9900}}
	_, err := Compose("cash", legs, 10000)
	if err == nil {
		t.Fatal("expected mismatch error")
	}

	var mismatch *MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected MismatchError, got %T: %v", err, err)
	}
	if mismatch.DeltaCents() != 100 {
		t.Fatalf("expected delta of 100 cents, got %d", mismatch.DeltaCents())
	}
}

func TestComposeToleratesOneCent(t *testing.T) {
	legs := []domain.PaymentLeg{{Method: "cash", AmountCents: 10001}}
	if _, err := Compose("cash", legs, 10000); err != nil {
		t.Fatalf("one cent over should be tolerated, got %v", err)
	}

	legs = []domain.PaymentLeg{{Method: "cash", AmountCents: 9999}}
	if _, err := Compose("cash", legs, 10000); err != nil {
		t.Fatalf("one cent under should be tolerated, got %v", err)
	}
}

func TestValidateLegsRejectsNonPositiveAmount(t *testing.T) {
	legs := []domain.PaymentLeg{
		{Method: "cash", AmountCents: 10000},
		{Method: "card", AmountCents: 0},
	}
	if err := ValidateLegs(legs, 10000); err == nil {
		t.Fatal("expected error for zero-amount leg")
	}
}

func TestResolveRequiredTotalWithFinancing(t *testing.T) {
	plan := &domain.FinancingPlan{
		Provider:            "credifacil",
		InitialPaymentCents: 30000,
		InstallmentCents:    12000,
		Installments:        6,
	}

	if got := ResolveRequiredTotal(100000, plan); got != 30000 {
		t.Fatalf("financing should require the initial payment, got %d", got)
	}
	if got := ResolveRequiredTotal(100000, nil); got != 100000 {
		t.Fatalf("no financing should require the full total, got %d", got)
	}
}
