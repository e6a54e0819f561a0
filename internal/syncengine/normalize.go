package syncengine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flable/flable-backend/internal/aggregator"
	"github.com/flable/flable-backend/pkg/enums"
	pkgerrors "github.com/flable/flable-backend/pkg/errors"
)

const utmCampaignParam = "utm_campaign"

// Record is one upstream payload reduced to the columns the engine and the
// metrics aggregator need.
type Record struct {
	ExternalID      string
	SourceUpdatedAt time.Time
	Payload         json.RawMessage
	UTMCampaign     *string
	OccurredOn      *time.Time
	Amount          decimal.Decimal
	Spend           decimal.Decimal
	Impressions     int64
	Clicks          int64
	Conversions     int64
}

func (r Record) touch() (aggregator.Touch, bool) {
	if r.UTMCampaign == nil || r.OccurredOn == nil {
		return aggregator.Touch{}, false
	}
	return aggregator.Touch{UTMCampaign: *r.UTMCampaign, Day: *r.OccurredOn}, true
}

// externalID accepts both numeric and string identifiers.
type externalID string

func (id *externalID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = externalID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = externalID(n.String())
	return nil
}

type basePayload struct {
	ID        externalID `json:"id"`
	UpdatedAt string     `json:"updated_at"`
}

type noteAttribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type orderPayload struct {
	basePayload
	CreatedAt       string           `json:"created_at"`
	ProcessedAt     string           `json:"processed_at"`
	TotalPrice      *decimal.Decimal `json:"total_price"`
	FinancialStatus string           `json:"financial_status"`
	LandingSite     string           `json:"landing_site"`
	NoteAttributes  []noteAttribute  `json:"note_attributes"`
}

type marketingEventPayload struct {
	basePayload
	StartedAt     string           `json:"started_at"`
	OccurredOn    string           `json:"occurred_on"`
	UTMCampaign   string           `json:"utm_campaign"`
	UTMParameters *struct {
		Campaign string `json:"campaign"`
	} `json:"utm_parameters"`
	AdSpend          *decimal.Decimal `json:"ad_spend"`
	ImpressionsCount *int64           `json:"impressions_count"`
	ClicksCount      *int64           `json:"clicks_count"`
}

// Normalize validates one payload of resource. Malformed payloads return a
// DATA_INTEGRITY error and are skipped by the caller.
func Normalize(resource enums.ResourceType, raw json.RawMessage) (Record, error) {
	switch resource {
	case enums.ResourceProducts, enums.ResourceCustomers:
		var p basePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return Record{}, integrityError(resource, err.Error())
		}
		return baseRecord(resource, p, raw, true)
	case enums.ResourceOrders:
		return normalizeOrder(raw)
	case enums.ResourceMarketingEvents:
		return normalizeMarketingEvent(raw)
	default:
		return Record{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown resource %q", resource))
	}
}

func baseRecord(resource enums.ResourceType, p basePayload, raw json.RawMessage, requireUpdatedAt bool) (Record, error) {
	if p.ID == "" {
		return Record{}, integrityError(resource, "missing id")
	}
	rec := Record{ExternalID: string(p.ID), Payload: raw}
	if p.UpdatedAt == "" {
		if requireUpdatedAt {
			return Record{}, integrityError(resource, "missing updated_at")
		}
		return rec, nil
	}
	updated, err := parseTimestamp(p.UpdatedAt)
	if err != nil {
		return Record{}, integrityError(resource, "invalid updated_at")
	}
	rec.SourceUpdatedAt = updated
	return rec, nil
}

func normalizeOrder(raw json.RawMessage) (Record, error) {
	resource := enums.ResourceOrders
	var p orderPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Record{}, integrityError(resource, err.Error())
	}
	rec, err := baseRecord(resource, p.basePayload, raw, true)
	if err != nil {
		return Record{}, err
	}
	if p.TotalPrice != nil {
		if p.TotalPrice.IsNegative() {
			return Record{}, integrityError(resource, "negative total_price")
		}
		rec.Amount = *p.TotalPrice
	}
	switch strings.ToLower(p.FinancialStatus) {
	case "voided", "refunded":
		rec.Amount = decimal.Zero
	default:
		rec.Conversions = 1
	}

	rec.UTMCampaign = orderUTM(p)
	occurred := firstNonEmpty(p.ProcessedAt, p.CreatedAt)
	if occurred != "" {
		ts, err := parseTimestamp(occurred)
		if err != nil {
			return Record{}, integrityError(resource, "invalid processed_at")
		}
		day := aggregator.Day(ts)
		rec.OccurredOn = &day
	}
	return rec, nil
}

func orderUTM(p orderPayload) *string {
	for _, attr := range p.NoteAttributes {
		if strings.EqualFold(strings.TrimSpace(attr.Name), utmCampaignParam) {
			if v := strings.TrimSpace(attr.Value); v != "" {
				return &v
			}
		}
	}
	if p.LandingSite == "" {
		return nil
	}
	u, err := url.Parse(p.LandingSite)
	if err != nil {
		return nil
	}
	if v := strings.TrimSpace(u.Query().Get(utmCampaignParam)); v != "" {
		return &v
	}
	return nil
}

func normalizeMarketingEvent(raw json.RawMessage) (Record, error) {
	resource := enums.ResourceMarketingEvents
	var p marketingEventPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Record{}, integrityError(resource, err.Error())
	}
	rec, err := baseRecord(resource, p.basePayload, raw, false)
	if err != nil {
		return Record{}, err
	}

	var started time.Time
	if p.StartedAt != "" {
		if started, err = parseTimestamp(p.StartedAt); err != nil {
			return Record{}, integrityError(resource, "invalid started_at")
		}
	}
	if rec.SourceUpdatedAt.IsZero() {
		if started.IsZero() {
			return Record{}, integrityError(resource, "missing updated_at")
		}
		rec.SourceUpdatedAt = started
	}

	utm := strings.TrimSpace(p.UTMCampaign)
	if utm == "" && p.UTMParameters != nil {
		utm = strings.TrimSpace(p.UTMParameters.Campaign)
	}
	if utm != "" {
		rec.UTMCampaign = &utm
	}

	switch {
	case p.OccurredOn != "":
		ts, err := parseTimestamp(p.OccurredOn)
		if err != nil {
			return Record{}, integrityError(resource, "invalid occurred_on")
		}
		day := aggregator.Day(ts)
		rec.OccurredOn = &day
	case !started.IsZero():
		day := aggregator.Day(started)
		rec.OccurredOn = &day
	}

	if p.AdSpend != nil {
		if p.AdSpend.IsNegative() {
			return Record{}, integrityError(resource, "negative ad_spend")
		}
		rec.Spend = *p.AdSpend
	}
	if p.ImpressionsCount != nil {
		if *p.ImpressionsCount < 0 {
			return Record{}, integrityError(resource, "negative impressions_count")
		}
		rec.Impressions = *p.ImpressionsCount
	}
	if p.ClicksCount != nil {
		if *p.ClicksCount < 0 {
			return Record{}, integrityError(resource, "negative clicks_count")
		}
		rec.Clicks = *p.ClicksCount
	}
	return rec, nil
}

// parseTimestamp accepts RFC3339 timestamps and bare dates, returning UTC at
// the microsecond precision Postgres keeps.
func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC().Truncate(time.Microsecond), nil
	}
	ts, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func integrityError(resource enums.ResourceType, reason string) error {
	return pkgerrors.New(pkgerrors.CodeDataIntegrity, "malformed "+resource.String()+" payload").
		WithDetails(map[string]any{"reason": reason})
}
