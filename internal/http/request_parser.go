package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"cadence/internal/core"
)

const maxBodyBytes = 1 << 20

// badRequestError marks malformed requests, as opposed to well-formed ones
// carrying invalid values.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

// decodeJSON reads a single JSON object from the body, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is empty")
		}
		if errors.Is(err, core.ErrInvalidDate) {
			return &core.ValidationError{Field: "date", Err: err}
		}
		return badRequest("invalid JSON body: %v", err)
	}
	if dec.More() {
		return badRequest("request body must hold a single JSON object")
	}
	return nil
}

// WindowParams is an inclusive date window taken from the query string.
type WindowParams struct {
	Start core.Date
	End   core.Date
}

// ParseWindowParams reads the required start and end query parameters.
func ParseWindowParams(query url.Values) (WindowParams, error) {
	var p WindowParams
	for _, f := range []struct {
		name string
		dst  *core.Date
	}{{"start", &p.Start}, {"end", &p.End}} {
		raw := strings.TrimSpace(query.Get(f.name))
		if raw == "" {
			return p, badRequest("missing %s query parameter", f.name)
		}
		d, err := core.ParseDate(raw)
		if err != nil {
			return p, badRequest("invalid %s query parameter %q: expected YYYY-MM-DD", f.name, raw)
		}
		*f.dst = d
	}
	return p, nil
}

// ruleRequest is the body of POST /rules. Amount is a decimal string.
type ruleRequest struct {
	Type        core.TransactionType `json:"type"`
	Amount      string               `json:"amount"`
	Currency    string               `json:"currency"`
	CategoryID  string               `json:"category_id"`
	AccountID   string               `json:"account_id"`
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Frequency   core.Frequency       `json:"frequency"`
	Interval    int                  `json:"interval"`
	StartDate   core.Date            `json:"start_date"`
	EndDate     core.Date            `json:"end_date"`
	Timezone    string               `json:"timezone"`
}

func (req ruleRequest) toRule() (core.RecurrenceRule, error) {
	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		return core.RecurrenceRule{}, &core.ValidationError{Field: "amount", Err: err}
	}
	return core.RecurrenceRule{
		Template: core.Template{
			Type:        req.Type,
			Amount:      core.Money{Cents: cents},
			Currency:    req.Currency,
			CategoryID:  req.CategoryID,
			AccountID:   req.AccountID,
			Title:       req.Title,
			Description: req.Description,
		},
		Schedule: core.Schedule{
			Frequency: req.Frequency,
			Interval:  req.Interval,
			StartDate: req.StartDate,
			EndDate:   req.EndDate,
			Timezone:  req.Timezone,
		},
	}, nil
}
