package core

import (
	"errors"
	"testing"
	"time"
)

func TestExpenseTotal(t *testing.T) {
	e := Expense{
		Contributions: []Contribution{
			{UserName: "Ana", Amount: Money{Cents: 1050}},
			{UserName: "Bruno", Amount: Money{Cents: 200}},
		},
	}
	if got := e.Total().Cents; got != 1250 {
		t.Fatalf("Total = %d, want 1250", got)
	}
	if got := (Expense{}).Total().Cents; got != 0 {
		t.Fatalf("empty Total = %d, want 0", got)
	}
}

func TestExpenseNames(t *testing.T) {
	e := Expense{
		Contributions: []Contribution{
			{UserName: "Ana", Amount: Money{Cents: 100}},
			{UserName: "Bruno", Amount: Money{Cents: 100}},
		},
		Shares: []Share{
			{UserName: "Carla", Proportion: 1},
		},
	}
	if got := e.PayerNames(); got != "Ana, Bruno" {
		t.Fatalf("PayerNames = %q", got)
	}
	if got := e.BeneficiaryNames(); got != "Carla" {
		t.Fatalf("BeneficiaryNames = %q", got)
	}
	if got := (Expense{}).PayerNames(); got != "" {
		t.Fatalf("empty PayerNames = %q", got)
	}
}

func TestPairKey(t *testing.T) {
	cases := []struct {
		a, b, low, high int64
	}{
		{1, 2, 1, 2},
		{2, 1, 1, 2},
		{7, 7, 7, 7},
	}
	for _, tc := range cases {
		low, high := PairKey(tc.a, tc.b)
		if low != tc.low || high != tc.high {
			t.Fatalf("PairKey(%d,%d) = (%d,%d), want (%d,%d)", tc.a, tc.b, low, high, tc.low, tc.high)
		}
	}
}

func TestExpenseDraftValidate(t *testing.T) {
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	valid := ExpenseDraft{
		Concept:       "Cena",
		Date:          date,
		Contributions: []ContributionInput{{UserID: 1, Amount: Money{Cents: 1050}}},
		Shares:        []ShareInput{{UserID: 2, Proportion: 1}},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid draft rejected: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*ExpenseDraft)
		wantErr error
	}{
		{
			name:    "empty concept",
			mutate:  func(d *ExpenseDraft) { d.Concept = "  " },
			wantErr: ErrEmptyConcept,
		},
		{
			name:    "zero date",
			mutate:  func(d *ExpenseDraft) { d.Date = time.Time{} },
			wantErr: ErrInvalidDate,
		},
		{
			name:    "zero amount",
			mutate:  func(d *ExpenseDraft) { d.Contributions[0].Amount.Cents = 0 },
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			mutate:  func(d *ExpenseDraft) { d.Contributions[0].Amount.Cents = -100 },
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "zero proportion",
			mutate:  func(d *ExpenseDraft) { d.Shares[0].Proportion = 0 },
			wantErr: ErrInvalidProportion,
		},
		{
			name:    "negative proportion",
			mutate:  func(d *ExpenseDraft) { d.Shares[0].Proportion = -1 },
			wantErr: ErrInvalidProportion,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			d.Contributions = append([]ContributionInput(nil), valid.Contributions...)
			d.Shares = append([]ShareInput(nil), valid.Shares...)
			tt.mutate(&d)
			if err := d.Validate(); !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
