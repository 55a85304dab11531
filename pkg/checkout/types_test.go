package checkout

import (
	"errors"
	"testing"
)

func TestNewAmountRejectsNonPositive(test *testing.T) {
	test.Parallel()
	for _, raw := range []int64{0, -1} {
		if _, err := NewAmount(raw); !errors.Is(err, ErrInvalidAmount) {
			test.Fatalf("expected ErrInvalidAmount for %d, got %v", raw, err)
		}
	}
	amount, err := NewAmount(5000)
	if err != nil || amount.Int64() != 5000 {
		test.Fatalf("unexpected amount %d err %v", amount, err)
	}
}

func TestParseStatus(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		raw      string
		expected Status
		err      error
	}{
		{raw: "idle", expected: StatusIdle},
		{raw: "creating", expected: StatusCreating},
		{raw: "pending", expected: StatusPending},
		{raw: "waiting", expected: StatusPending},
		{raw: "processing", expected: StatusProcessing},
		{raw: "checking", expected: StatusProcessing},
		{raw: " success ", expected: StatusSuccess},
		{raw: "failed", expected: StatusFailed},
		{raw: "expired", err: ErrInvalidStatus},
	}
	for _, testCase := range testCases {
		status, err := ParseStatus(testCase.raw)
		if testCase.err != nil {
			if !errors.Is(err, testCase.err) {
				test.Fatalf("%q: expected %v, got %v", testCase.raw, testCase.err, err)
			}
			continue
		}
		if err != nil || status != testCase.expected {
			test.Fatalf("%q: expected %s, got %s (%v)", testCase.raw, testCase.expected, status, err)
		}
	}
}

func TestStatusClassification(test *testing.T) {
	test.Parallel()
	if !StatusSuccess.Terminal() || !StatusFailed.Terminal() || StatusPending.Terminal() {
		test.Fatalf("unexpected terminal classification")
	}
	if StatusIdle.Live() || !StatusCreating.Live() || !StatusPending.Live() || !StatusProcessing.Live() {
		test.Fatalf("unexpected live classification")
	}
}

func TestParseKind(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"api_key", "limit", "expiry", "donation"} {
		kind, err := ParseKind(raw)
		if err != nil || kind.String() != raw {
			test.Fatalf("parse %q: %v", raw, err)
		}
	}
	if _, err := ParseKind("merch"); !errors.Is(err, ErrInvalidKind) {
		test.Fatalf("expected ErrInvalidKind, got %v", err)
	}
}

func TestNewOwnerValidation(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name   string
		kind   Kind
		owner  Owner
		target error
	}{
		{name: "api key needs name", kind: KindAPIKey, owner: Owner{Email: "a@example.com"}, target: ErrInvalidOwner},
		{name: "api key needs email", kind: KindAPIKey, owner: Owner{Name: "Zee"}, target: ErrInvalidEmail},
		{name: "malformed email", kind: KindAPIKey, owner: Owner{Name: "Zee", Email: "not-an-email"}, target: ErrInvalidEmail},
		{name: "limit needs api key", kind: KindLimit, owner: Owner{Name: "Zee"}, target: ErrInvalidOwner},
		{name: "expiry needs api key", kind: KindExpiry, owner: Owner{}, target: ErrInvalidOwner},
		{name: "donation needs name", kind: KindDonation, owner: Owner{}, target: ErrInvalidOwner},
		{name: "unknown kind", kind: Kind("merch"), owner: Owner{Name: "Zee"}, target: ErrInvalidKind},
		{name: "api key valid", kind: KindAPIKey, owner: Owner{Name: "Zee", Email: "zee@example.com", CustomID: "zee48"}},
		{name: "limit valid", kind: KindLimit, owner: Owner{APIKey: "key"}},
		{name: "donation valid", kind: KindDonation, owner: Owner{Name: " Zee "}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			owner, err := NewOwner(testCase.kind, testCase.owner.Name, testCase.owner.Email, testCase.owner.CustomID, testCase.owner.APIKey)
			if testCase.target != nil {
				if !errors.Is(err, testCase.target) {
					test.Fatalf("expected %v, got %v", testCase.target, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
			if owner.Name != "" && owner.Name != "Zee" {
				test.Fatalf("expected trimmed name, got %q", owner.Name)
			}
		})
	}
}

func TestNewOrderValidation(test *testing.T) {
	test.Parallel()
	owner := Owner{Name: "Zee"}
	if _, err := NewOrder(KindDonation, 0, 1, owner); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := NewOrder(KindDonation, 5000, 0, owner); !errors.Is(err, ErrInvalidQuantity) {
		test.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := NewOrder(Kind("merch"), 5000, 1, owner); !errors.Is(err, ErrInvalidKind) {
		test.Fatalf("expected ErrInvalidKind, got %v", err)
	}
	order, err := NewOrder(KindDonation, 5000, 1, owner)
	if err != nil || order.Amount != 5000 || order.Quantity != 1 {
		test.Fatalf("unexpected order %+v err %v", order, err)
	}
}
