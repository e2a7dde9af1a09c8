package http

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gastos/internal/core"
)

// ErrMalformed marks a form whose structure is broken (mismatched
// parallel arrays, unparseable ids). Structural problems are a 400;
// value problems surface as validation errors and re-render the form.
var ErrMalformed = errors.New("malformed expense form")

// parseExpenseForm turns the submitted form into a draft. The form
// carries one row per user: pagador_id[i] pairs with pagador_monto[i]
// and gastador_id[i] with gastador_proporcion[i]. A blank amount or
// proportion means that user is not on that side of the expense.
func parseExpenseForm(form url.Values) (core.ExpenseDraft, error) {
	var draft core.ExpenseDraft

	draft.Concept = strings.TrimSpace(form.Get("concepto"))

	dateStr := strings.TrimSpace(form.Get("fecha"))
	if dateStr != "" {
		d, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return draft, core.ErrInvalidDate
		}
		draft.Date = d
	}

	payerIDs := form["pagador_id"]
	payerAmounts := form["pagador_monto"]
	if len(payerIDs) != len(payerAmounts) {
		return draft, fmt.Errorf("%w: %d payer ids, %d amounts", ErrMalformed, len(payerIDs), len(payerAmounts))
	}
	for i, rawID := range payerIDs {
		amount := strings.TrimSpace(payerAmounts[i])
		if amount == "" {
			continue
		}
		userID, err := parseUserID(rawID)
		if err != nil {
			return draft, err
		}
		cents, err := core.ParseDecimalToCents(amount)
		if err != nil {
			return draft, err
		}
		draft.Contributions = append(draft.Contributions, core.ContributionInput{
			UserID: userID,
			Amount: core.Money{Cents: cents},
		})
	}

	sharerIDs := form["gastador_id"]
	proportions := form["gastador_proporcion"]
	if len(sharerIDs) != len(proportions) {
		return draft, fmt.Errorf("%w: %d sharer ids, %d proportions", ErrMalformed, len(sharerIDs), len(proportions))
	}
	for i, rawID := range sharerIDs {
		prop := strings.TrimSpace(proportions[i])
		if prop == "" {
			continue
		}
		userID, err := parseUserID(rawID)
		if err != nil {
			return draft, err
		}
		p, err := core.ParseProportion(prop)
		if err != nil {
			return draft, err
		}
		draft.Shares = append(draft.Shares, core.ShareInput{
			UserID:     userID,
			Proportion: p,
		})
	}

	if err := draft.Validate(); err != nil {
		return draft, err
	}
	return draft, nil
}

func parseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad user id %q", ErrMalformed, raw)
	}
	return id, nil
}
