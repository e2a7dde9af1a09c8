package http

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gastos/internal/amqp"
	"gastos/internal/core"
	applog "gastos/internal/log"
)

type expenseItem struct {
	ID            int64
	Concept       string
	Date          time.Time
	Total         string
	Payers        string
	Beneficiaries string
}

type expenseListView struct {
	User  *core.User
	Items []expenseItem
}

func (s *Server) handleExpenseList(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.store.ListExpenses(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "List expenses failed", "error", err)
		http.Error(w, "error interno", http.StatusInternalServerError)
		return
	}

	view := expenseListView{User: currentUser(r.Context())}
	for _, e := range expenses {
		view.Items = append(view.Items, expenseItem{
			ID:            e.ID,
			Concept:       e.Concept,
			Date:          e.Date,
			Total:         e.Total().Display(),
			Payers:        e.PayerNames(),
			Beneficiaries: e.BeneficiaryNames(),
		})
	}
	s.render(w, r, "gastos.html", view)
}

type figureRow struct {
	UserID     int64
	Name       string
	Amount     string
	Proportion string
}

type expenseFormView struct {
	User    *core.User
	Title   string
	Action  string
	Method  string // "" for create, "PUT" for update
	Concept string
	Date    string
	Figures []figureRow
	Error   string
}

func (s *Server) handleExpenseNew(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "List users failed", "error", err)
		http.Error(w, "error interno", http.StatusInternalServerError)
		return
	}

	view := expenseFormView{
		User:   currentUser(r.Context()),
		Title:  "Nuevo gasto",
		Action: "/gastos",
		Date:   time.Now().Format("2006-01-02"),
	}
	for _, u := range users {
		view.Figures = append(view.Figures, figureRow{UserID: u.ID, Name: u.Name})
	}
	s.render(w, r, "editar_gasto.html", view)
}

func (s *Server) handleExpenseEdit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	expense, err := s.store.GetExpense(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.ErrorContext(r.Context(), "Get expense failed", "error", err, "expense_id", id)
		http.Error(w, "error interno", http.StatusInternalServerError)
		return
	}

	figures, err := s.store.UserFigures(r.Context(), id)
	if err != nil {
		slog.ErrorContext(r.Context(), "User figures failed", "error", err, "expense_id", id)
		http.Error(w, "error interno", http.StatusInternalServerError)
		return
	}

	view := expenseFormView{
		User:    currentUser(r.Context()),
		Title:   "Editar gasto",
		Action:  "/gastos/" + strconv.FormatInt(id, 10),
		Method:  http.MethodPut,
		Concept: expense.Concept,
		Date:    expense.Date.Format("2006-01-02"),
	}
	for _, f := range figures {
		row := figureRow{UserID: f.UserID, Name: f.Name}
		if f.Amount != nil {
			row.Amount = f.Amount.Display()
		}
		if f.Proportion != nil {
			row.Proportion = strconv.FormatFloat(*f.Proportion, 'f', -1, 64)
		}
		view.Figures = append(view.Figures, row)
	}
	s.render(w, r, "editar_gasto.html", view)
}

func (s *Server) handleExpenseCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// An id in the form body turns the create into a replace of that
	// expense, so plain POST clients can edit without the method
	// override.
	var id int64
	if raw := strings.TrimSpace(r.PostForm.Get("id")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		id = parsed
	}
	s.saveExpense(w, r, id)
}

func (s *Server) handleExpenseUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.saveExpense(w, r, id)
}

func (s *Server) saveExpense(w http.ResponseWriter, r *http.Request, id int64) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	draft, err := parseExpenseForm(r.PostForm)
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			slog.WarnContext(r.Context(), "Malformed expense form", "error", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.rerenderExpenseForm(w, r, id, err)
		return
	}
	draft.ID = id

	savedID, err := s.store.SaveExpense(r.Context(), draft)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.ErrorContext(r.Context(), "Save expense failed", "error", err, "expense_id", id)
		http.Error(w, "error interno", http.StatusInternalServerError)
		return
	}

	action := amqp.ActionCreated
	if id != 0 {
		action = amqp.ActionUpdated
	}
	s.publishEvent(r, savedID, action)

	http.Redirect(w, r, "/gastos", http.StatusSeeOther)
}

func (s *Server) handleExpenseDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := s.store.DeleteExpense(r.Context(), id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.ErrorContext(r.Context(), "Delete expense failed", "error", err, "expense_id", id)
		http.Error(w, "error interno", http.StatusInternalServerError)
		return
	}

	s.publishEvent(r, id, amqp.ActionDeleted)
	http.Redirect(w, r, "/gastos", http.StatusSeeOther)
}

// rerenderExpenseForm shows the form again with the submitted values
// and a validation message.
func (s *Server) rerenderExpenseForm(w http.ResponseWriter, r *http.Request, id int64, cause error) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "List users failed", "error", err)
		http.Error(w, "error interno", http.StatusInternalServerError)
		return
	}

	view := expenseFormView{
		User:    currentUser(r.Context()),
		Title:   "Nuevo gasto",
		Action:  "/gastos",
		Concept: strings.TrimSpace(r.PostForm.Get("concepto")),
		Date:    strings.TrimSpace(r.PostForm.Get("fecha")),
		Error:   validationMessage(cause),
	}
	if id != 0 {
		view.Title = "Editar gasto"
		view.Action = "/gastos/" + strconv.FormatInt(id, 10)
		view.Method = http.MethodPut
	}

	amounts := indexFormPairs(r.PostForm, "pagador_id", "pagador_monto")
	proportions := indexFormPairs(r.PostForm, "gastador_id", "gastador_proporcion")
	for _, u := range users {
		key := strconv.FormatInt(u.ID, 10)
		view.Figures = append(view.Figures, figureRow{
			UserID:     u.ID,
			Name:       u.Name,
			Amount:     amounts[key],
			Proportion: proportions[key],
		})
	}

	s.renderStatus(w, r, http.StatusUnprocessableEntity, "editar_gasto.html", view)
}

// indexFormPairs zips two parallel form arrays into a value-by-id map.
func indexFormPairs(form url.Values, idField, valueField string) map[string]string {
	ids := form[idField]
	values := form[valueField]
	out := make(map[string]string, len(ids))
	for i, id := range ids {
		if i >= len(values) {
			break
		}
		out[strings.TrimSpace(id)] = strings.TrimSpace(values[i])
	}
	return out
}

func validationMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrEmptyConcept):
		return "Falta el concepto"
	case errors.Is(err, core.ErrInvalidDate):
		return "La fecha no es válida"
	case errors.Is(err, core.ErrInvalidAmount):
		return "Hay un monto inválido"
	case errors.Is(err, core.ErrInvalidProportion):
		return "Hay una proporción inválida"
	default:
		return "Los datos no son válidos"
	}
}

func (s *Server) publishEvent(r *http.Request, id int64, action string) {
	if s.publisher == nil {
		return
	}
	logger := applog.FromContext(r.Context())
	if err := s.publisher.PublishExpenseEvent(r.Context(), id, action); err != nil {
		logger.WarnContext(r.Context(), "Expense event publish failed",
			applog.FieldError, err,
			applog.FieldExpenseID, id,
			"action", action)
		return
	}
	logger.DebugContext(r.Context(), "Expense event published",
		applog.FieldExpenseID, id,
		"action", action)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.NotFound(w, r)
		return 0, false
	}
	return id, true
}
