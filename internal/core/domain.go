// Package core holds the domain model of the shared-expense tracker:
// users, expenses with their contributions and shares, and the pairwise
// running accounts between users.
package core

import (
	"errors"
	"strings"
	"time"
)

type (
	// User is an authenticated participant. PasswordHash and Salt are
	// recorded by the adduser tool but login does not consult them; see
	// DESIGN.md for why that behavior is kept as-is.
	User struct {
		ID           int64
		Name         string
		Email        string
		PasswordHash string
		Salt         string
	}

	// Money is an amount in euro cents. Amounts are parsed and stored as
	// integer cents to keep arithmetic exact.
	Money struct {
		Cents int64
	}

	// Expense is a shared cost event ("gasto") with the money each user
	// put in and the proportional claims against it.
	Expense struct {
		ID            int64
		Concept       string
		Date          time.Time
		Contributions []Contribution
		Shares        []Share
	}

	// Contribution ("aporte") is money a user put toward an expense.
	Contribution struct {
		ID       int64
		UserID   int64
		UserName string
		Amount   Money
	}

	// Share ("participación") is a user's proportional responsibility on
	// an expense. Proportions are free-form positives; they are not
	// required to sum to one, and nothing balances them against the
	// contributions.
	Share struct {
		ID         int64
		UserID     int64
		UserName   string
		Proportion float64
	}

	// Account ("cuenta") is the running balance between exactly two
	// users, keyed by the sorted pair of their ids so the order the
	// users are named in never matters.
	Account struct {
		ID         int64
		UserLowID  int64
		UserHighID int64
		Balance    Money
	}
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidProportion = errors.New("invalid proportion")
	ErrEmptyConcept      = errors.New("empty concept")
	ErrInvalidDate       = errors.New("invalid date")
	ErrNotFound          = errors.New("not found")
	ErrUserInUse         = errors.New("user has contributions or shares")
	ErrSameUser          = errors.New("account requires two distinct users")
)

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Total sums the expense's contribution amounts.
func (e Expense) Total() Money {
	var cents int64
	for _, c := range e.Contributions {
		cents += c.Amount.Cents
	}
	return Money{Cents: cents}
}

// PayerNames joins the names of the contributing users.
func (e Expense) PayerNames() string {
	names := make([]string, 0, len(e.Contributions))
	for _, c := range e.Contributions {
		names = append(names, c.UserName)
	}
	return strings.Join(names, ", ")
}

// BeneficiaryNames joins the names of the sharing users.
func (e Expense) BeneficiaryNames() string {
	names := make([]string, 0, len(e.Shares))
	for _, s := range e.Shares {
		names = append(names, s.UserName)
	}
	return strings.Join(names, ", ")
}

// PairKey orders two user ids into the (low, high) key under which their
// shared account lives.
func PairKey(a, b int64) (low, high int64) {
	if a > b {
		return b, a
	}
	return a, b
}

type (
	// ExpenseDraft is a validated save request for an expense. ID zero
	// means create; a non-zero ID updates that expense in place.
	ExpenseDraft struct {
		ID            int64
		Concept       string
		Date          time.Time
		Contributions []ContributionInput
		Shares        []ShareInput
	}

	ContributionInput struct {
		UserID int64
		Amount Money
	}

	ShareInput struct {
		UserID     int64
		Proportion float64
	}

	// UserFigure annotates a user with their existing contribution and
	// share on a particular expense, for pre-filling the edit form.
	// Nil means the user has no row on that expense.
	UserFigure struct {
		UserID     int64
		Name       string
		Amount     *Money
		Proportion *float64
	}
)

func (c ContributionInput) Validate() error {
	if c.UserID <= 0 {
		return errors.New("contribution missing user")
	}
	return c.Amount.Validate()
}

func (s ShareInput) Validate() error {
	if s.UserID <= 0 {
		return errors.New("share missing user")
	}
	if s.Proportion <= 0 {
		return ErrInvalidProportion
	}
	return nil
}

func (d ExpenseDraft) Validate() error {
	if strings.TrimSpace(d.Concept) == "" {
		return ErrEmptyConcept
	}
	if len(d.Concept) > 200 {
		return errors.New("concept too long (max 200 characters)")
	}
	if d.Date.IsZero() {
		return ErrInvalidDate
	}
	for _, c := range d.Contributions {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	for _, s := range d.Shares {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}
