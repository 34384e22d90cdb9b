/*
Package factory converts lodger agreement JSON into tenancy terms.

PURPOSE:
  Agreements arrive as JSON (API bodies, demo scenarios, `lodger schedule`
  input files). The factory validates them and produces the engine's
  CreateTenancyInput, applying the defaults a landlord would expect.

JSON SCHEMA:
  {
    "landlord_id": "landlord-1",
    "lodger_id": "lodger-1",
    "room": "Back bedroom",
    "start_date": "2025-10-15",
    "term_months": 6,                  // or "end_date": "2026-04-15"
    "rent": "850.00",
    "currency": "GBP",
    "payment_frequency": "4-weekly",   // weekly | bi-weekly | monthly | 4-weekly
    "payment_type": "cycle",           // cycle | calendar
    "payment_day": 1                   // calendar only
  }

DEFAULTS:
  - currency GBP
  - payment_type cycle
  - payment_day = start date's day of month in calendar mode
  - "fortnightly" and "four-weekly" are accepted as aliases

SEE ALSO:
  - tenancy/types.go: Tenancy and Terms
  - api/scenarios.go: Demo agreements built with AgreementTemplate
*/
package factory

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/warp/lodger-engine/generic"
	"github.com/warp/lodger-engine/tenancy"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// AgreementJSON is the JSON representation of a lodger agreement.
type AgreementJSON struct {
	LandlordID       string `json:"landlord_id"`
	LodgerID         string `json:"lodger_id"`
	Room             string `json:"room,omitempty"`
	StartDate        string `json:"start_date"`
	EndDate          string `json:"end_date,omitempty"`
	TermMonths       int    `json:"term_months,omitempty"`
	Rent             string `json:"rent"`
	Currency         string `json:"currency,omitempty"`
	PaymentFrequency string `json:"payment_frequency"`
	PaymentType      string `json:"payment_type,omitempty"`
	PaymentDay       int    `json:"payment_day,omitempty"`
}

// =============================================================================
// AGREEMENT FACTORY
// =============================================================================

type AgreementFactory struct{}

func NewAgreementFactory() *AgreementFactory {
	return &AgreementFactory{}
}

// ParseAgreement parses a JSON document into tenancy creation input.
func (f *AgreementFactory) ParseAgreement(data []byte) (tenancy.CreateTenancyInput, error) {
	var aj AgreementJSON
	if err := json.Unmarshal(data, &aj); err != nil {
		return tenancy.CreateTenancyInput{}, generic.WithError(errors.Wrap(err, "failed to parse agreement JSON")).
			WithHint("the agreement must be a JSON object; see factory/agreement.go for the schema").
			Mark(generic.ErrValidation)
	}
	return f.FromJSON(aj)
}

// FromJSON converts AgreementJSON into CreateTenancyInput.
func (f *AgreementFactory) FromJSON(aj AgreementJSON) (tenancy.CreateTenancyInput, error) {
	start, err := generic.ParseDate(aj.StartDate)
	if err != nil {
		return tenancy.CreateTenancyInput{}, err
	}

	var end *generic.Date
	switch {
	case aj.EndDate != "" && aj.TermMonths > 0:
		return tenancy.CreateTenancyInput{}, generic.NewError("agreement has both end_date and term_months").
			WithHint("give either an end date or a term in months, not both").
			Mark(generic.ErrValidation)
	case aj.EndDate != "":
		d, err := generic.ParseDate(aj.EndDate)
		if err != nil {
			return tenancy.CreateTenancyInput{}, err
		}
		end = &d
	case aj.TermMonths > 0:
		d := start.AddMonthsClamped(aj.TermMonths)
		end = &d
	}

	rent, err := parseRent(aj.Rent, aj.Currency)
	if err != nil {
		return tenancy.CreateTenancyInput{}, err
	}

	frequency, err := ParseFrequency(aj.PaymentFrequency)
	if err != nil {
		return tenancy.CreateTenancyInput{}, err
	}

	paymentType := tenancy.PaymentType(strings.ToLower(strings.TrimSpace(aj.PaymentType)))
	if paymentType == "" {
		paymentType = tenancy.PaymentTypeCycle
	}
	paymentDay := aj.PaymentDay
	if paymentType == tenancy.PaymentTypeCalendar && paymentDay == 0 {
		paymentDay = start.Day()
	}

	in := tenancy.CreateTenancyInput{
		LandlordID:  aj.LandlordID,
		LodgerID:    aj.LodgerID,
		Room:        aj.Room,
		StartDate:   start,
		EndDate:     end,
		Rent:        rent,
		Frequency:   frequency,
		PaymentType: paymentType,
		PaymentDay:  paymentDay,
	}
	terms := tenancy.Terms{
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		Rent:        in.Rent,
		Frequency:   in.Frequency,
		PaymentType: in.PaymentType,
		PaymentDay:  in.PaymentDay,
	}
	if err := terms.Validate(); err != nil {
		return tenancy.CreateTenancyInput{}, err
	}
	return in, nil
}

// ToJSON converts a stored tenancy back to its agreement document.
func (f *AgreementFactory) ToJSON(t tenancy.Tenancy) AgreementJSON {
	aj := AgreementJSON{
		LandlordID:       t.LandlordID,
		LodgerID:         t.LodgerID,
		Room:             t.Room,
		StartDate:        t.StartDate.String(),
		Rent:             t.MonthlyRent.Value.StringFixed(2),
		Currency:         string(t.MonthlyRent.Currency),
		PaymentFrequency: string(t.Frequency),
		PaymentType:      string(t.PaymentType),
	}
	if t.EndDate != nil {
		aj.EndDate = t.EndDate.String()
	}
	if t.PaymentType == tenancy.PaymentTypeCalendar {
		aj.PaymentDay = t.PaymentDay
	}
	return aj
}

// ParseFrequency accepts the canonical frequencies plus common aliases.
func ParseFrequency(s string) (tenancy.Frequency, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	switch normalized {
	case "fortnightly", "biweekly", "bi_weekly":
		return tenancy.FrequencyBiWeekly, nil
	case "four-weekly", "four_weekly", "4_weekly", "4weekly":
		return tenancy.FrequencyFourWeekly, nil
	}
	f := tenancy.Frequency(normalized)
	if !f.Valid() {
		return "", generic.NewError("unknown payment frequency").
			WithHintf("payment frequency %q must be weekly, bi-weekly, monthly or 4-weekly", s).
			Mark(generic.ErrValidation)
	}
	return f, nil
}

func parseRent(value, currency string) (generic.Money, error) {
	if currency != "" && !strings.EqualFold(currency, string(generic.CurrencyGBP)) {
		return generic.Money{}, generic.NewError("unsupported currency").
			WithHintf("currency %q is not supported; lodger agreements are in GBP", currency).
			Mark(generic.ErrValidation)
	}
	return generic.ParseGBP(value)
}

// =============================================================================
// TEMPLATES
// =============================================================================

// AgreementTemplate returns a standard cycle-mode agreement document.
func AgreementTemplate(landlordID, lodgerID, room, start, rent string, frequency tenancy.Frequency, termMonths int) []byte {
	data, _ := json.Marshal(AgreementJSON{
		LandlordID:       landlordID,
		LodgerID:         lodgerID,
		Room:             room,
		StartDate:        start,
		TermMonths:       termMonths,
		Rent:             rent,
		Currency:         string(generic.CurrencyGBP),
		PaymentFrequency: string(frequency),
		PaymentType:      string(tenancy.PaymentTypeCycle),
	})
	return data
}

// CalendarAgreementTemplate returns a calendar-mode agreement paid on day.
func CalendarAgreementTemplate(landlordID, lodgerID, room, start, rent string, day, termMonths int) []byte {
	data, _ := json.Marshal(AgreementJSON{
		LandlordID:       landlordID,
		LodgerID:         lodgerID,
		Room:             room,
		StartDate:        start,
		TermMonths:       termMonths,
		Rent:             rent,
		Currency:         string(generic.CurrencyGBP),
		PaymentFrequency: string(tenancy.FrequencyMonthly),
		PaymentType:      string(tenancy.PaymentTypeCalendar),
		PaymentDay:       day,
	})
	return data
}
