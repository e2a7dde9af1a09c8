package http

import (
	"errors"
	"net/url"
	"testing"

	"gastos/internal/core"
)

func validForm() url.Values {
	return url.Values{
		"concepto":            {"Cena"},
		"fecha":               {"2026-08-20"},
		"pagador_id":          {"1", "2"},
		"pagador_monto":       {"10,50", ""},
		"gastador_id":         {"1", "2"},
		"gastador_proporcion": {"1", "1"},
	}
}

func TestParseExpenseForm(t *testing.T) {
	draft, err := parseExpenseForm(validForm())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if draft.Concept != "Cena" {
		t.Errorf("concept = %q", draft.Concept)
	}
	if got := draft.Date.Format("2006-01-02"); got != "2026-08-20" {
		t.Errorf("date = %s", got)
	}
	if len(draft.Contributions) != 1 {
		t.Fatalf("contributions = %d, want 1", len(draft.Contributions))
	}
	if draft.Contributions[0].UserID != 1 || draft.Contributions[0].Amount.Cents != 1050 {
		t.Errorf("contribution = %+v", draft.Contributions[0])
	}
	if len(draft.Shares) != 2 {
		t.Fatalf("shares = %d, want 2", len(draft.Shares))
	}
	if draft.Shares[1].UserID != 2 || draft.Shares[1].Proportion != 1 {
		t.Errorf("share = %+v", draft.Shares[1])
	}
}

func TestParseExpenseFormErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(url.Values)
		want   error
	}{
		{
			name:   "empty concept",
			mutate: func(f url.Values) { f.Set("concepto", "  ") },
			want:   core.ErrEmptyConcept,
		},
		{
			name:   "missing date",
			mutate: func(f url.Values) { f.Del("fecha") },
			want:   core.ErrInvalidDate,
		},
		{
			name:   "garbled date",
			mutate: func(f url.Values) { f.Set("fecha", "20/08/2026") },
			want:   core.ErrInvalidDate,
		},
		{
			name:   "zero amount",
			mutate: func(f url.Values) { f["pagador_monto"] = []string{"0", ""} },
			want:   core.ErrInvalidAmount,
		},
		{
			name:   "negative proportion",
			mutate: func(f url.Values) { f["gastador_proporcion"] = []string{"-1", "1"} },
			want:   core.ErrInvalidProportion,
		},
		{
			name:   "mismatched payer arrays",
			mutate: func(f url.Values) { f["pagador_monto"] = []string{"10,50"} },
			want:   ErrMalformed,
		},
		{
			name:   "mismatched sharer arrays",
			mutate: func(f url.Values) { f["gastador_id"] = []string{"1"} },
			want:   ErrMalformed,
		},
		{
			name:   "non-numeric user id",
			mutate: func(f url.Values) { f["pagador_id"] = []string{"uno", "2"} },
			want:   ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := validForm()
			tt.mutate(form)
			_, err := parseExpenseForm(form)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseExpenseFormSkipsBlankRows(t *testing.T) {
	form := validForm()
	form["pagador_monto"] = []string{"", "5"}
	form["gastador_proporcion"] = []string{"", "2"}

	draft, err := parseExpenseForm(form)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(draft.Contributions) != 1 || draft.Contributions[0].UserID != 2 {
		t.Errorf("contributions = %+v", draft.Contributions)
	}
	if len(draft.Shares) != 1 || draft.Shares[0].UserID != 2 {
		t.Errorf("shares = %+v", draft.Shares)
	}
}
