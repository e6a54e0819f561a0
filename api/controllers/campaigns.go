package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flable/flable-backend/api/middleware"
	"github.com/flable/flable-backend/api/responses"
	"github.com/flable/flable-backend/api/validators"
	"github.com/flable/flable-backend/internal/campaigns"
	"github.com/flable/flable-backend/internal/reporting"
	"github.com/flable/flable-backend/pkg/logger"
	"github.com/flable/flable-backend/pkg/pagination"
)

// CampaignService reads campaigns and applies explicit budget changes.
type CampaignService interface {
	Get(ctx context.Context, accountID, campaignID uuid.UUID) (*campaigns.CampaignDTO, error)
	List(ctx context.Context, accountID uuid.UUID) ([]campaigns.CampaignDTO, error)
	SetBudget(ctx context.Context, accountID, campaignID uuid.UUID, budget decimal.Decimal) (*campaigns.DecisionDTO, error)
}

// CampaignReporter serves the read-only campaign history.
type CampaignReporter interface {
	Metrics(ctx context.Context, accountID, campaignID uuid.UUID, from, to time.Time) (*reporting.MetricsReport, error)
	Decisions(ctx context.Context, accountID, campaignID uuid.UUID, params pagination.Params) (*pagination.Page[campaigns.DecisionDTO], error)
	Evaluations(ctx context.Context, accountID, campaignID uuid.UUID, params pagination.Params) (*pagination.Page[reporting.EvaluationDTO], error)
}

type budgetRequest struct {
	DailyBudget *decimal.Decimal `json:"daily_budget" validate:"required,gt=0"`
}

func ListCampaigns(svc CampaignService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.List(r.Context(), middleware.AccountIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, items)
	}
}

func GetCampaign(svc CampaignService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "campaignId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		campaign, err := svc.Get(r.Context(), middleware.AccountIDFromContext(r.Context()), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, campaign)
	}
}

// SetCampaignBudget applies a user budget change through the guarded
// decision path and returns the recorded decision.
func SetCampaignBudget(svc CampaignService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "campaignId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body budgetRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		decision, err := svc.SetBudget(r.Context(), middleware.AccountIDFromContext(r.Context()), id, *body.DailyBudget)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, decision)
	}
}

func CampaignMetrics(svc CampaignReporter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "campaignId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		from, err := validators.ParseQueryDate(r, "from")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		to, err := validators.ParseQueryDate(r, "to")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		report, err := svc.Metrics(r.Context(), middleware.AccountIDFromContext(r.Context()), id, from, to)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

func CampaignDecisions(svc CampaignReporter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, params, err := campaignPage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.Decisions(r.Context(), middleware.AccountIDFromContext(r.Context()), id, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func CampaignEvaluations(svc CampaignReporter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, params, err := campaignPage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.Evaluations(r.Context(), middleware.AccountIDFromContext(r.Context()), id, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func campaignPage(r *http.Request) (uuid.UUID, pagination.Params, error) {
	id, err := validators.ParseUUIDParam(r, "campaignId")
	if err != nil {
		return uuid.Nil, pagination.Params{}, err
	}
	params, err := validators.ParsePageParams(r)
	if err != nil {
		return uuid.Nil, pagination.Params{}, err
	}
	return id, params, nil
}
