package controllers

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/flable/flable-backend/api/middleware"
	"github.com/flable/flable-backend/api/responses"
	"github.com/flable/flable-backend/api/validators"
	"github.com/flable/flable-backend/internal/connections"
	"github.com/flable/flable-backend/internal/reporting"
	"github.com/flable/flable-backend/internal/syncengine"
	"github.com/flable/flable-backend/pkg/enums"
	"github.com/flable/flable-backend/pkg/logger"
	"github.com/flable/flable-backend/pkg/pagination"
)

// ConnectionService is the connection lifecycle surface the API needs.
type ConnectionService interface {
	Initiate(ctx context.Context, accountID uuid.UUID, shop string) (*connections.InitiateResult, error)
	Complete(ctx context.Context, params url.Values) (*connections.ConnectionDTO, error)
	ConnectToken(ctx context.Context, accountID uuid.UUID, shop, accessToken string) (*connections.ConnectionDTO, error)
	Disconnect(ctx context.Context, accountID, connectionID uuid.UUID) error
	Get(ctx context.Context, accountID, connectionID uuid.UUID) (*connections.ConnectionDTO, error)
	List(ctx context.Context, accountID uuid.UUID) ([]connections.ConnectionDTO, error)
}

// SyncTrigger starts a background sync run.
type SyncTrigger interface {
	Trigger(ctx context.Context, connectionID uuid.UUID, trigger enums.SyncTrigger, mode enums.SyncMode) (syncengine.Started, error)
}

// SyncRunReader lists past runs of a connection.
type SyncRunReader interface {
	SyncRuns(ctx context.Context, accountID, connectionID uuid.UUID, params pagination.Params) (*pagination.Page[reporting.SyncRunDTO], error)
}

// StoreDataReader serves the synced store data of a connection.
type StoreDataReader interface {
	Records(ctx context.Context, accountID, connectionID uuid.UUID, resource enums.ResourceType, params pagination.Params) (*pagination.Page[reporting.RecordDTO], error)
	OrderSummary(ctx context.Context, accountID, connectionID uuid.UUID, from, to time.Time) (*reporting.OrderSummaryDTO, error)
}

type connectRequest struct {
	Shop string `json:"shop" validate:"required,max=255"`
}

type tokenConnectRequest struct {
	Shop        string `json:"shop" validate:"required,max=255"`
	AccessToken string `json:"access_token" validate:"required,max=512"`
}

// ConnectShopify starts the OAuth handshake and returns the consent URL.
func ConnectShopify(svc ConnectionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body connectRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Initiate(r.Context(), middleware.AccountIDFromContext(r.Context()), body.Shop)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// ConnectShopifyToken links a shop with a private-app access token and
// answers 201 with the connection.
func ConnectShopifyToken(svc ConnectionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body tokenConnectRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		conn, err := svc.ConnectToken(r.Context(), middleware.AccountIDFromContext(r.Context()), body.Shop, body.AccessToken)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, conn)
	}
}

// ShopifyCallback completes the OAuth handshake. The route is public since
// the state token and HMAC authenticate it.
func ShopifyCallback(svc ConnectionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := svc.Complete(r.Context(), r.URL.Query())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, conn)
	}
}

func ListIntegrations(svc ConnectionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.List(r.Context(), middleware.AccountIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, items)
	}
}

func GetIntegration(svc ConnectionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "connectionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		conn, err := svc.Get(r.Context(), middleware.AccountIDFromContext(r.Context()), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, conn)
	}
}

// TriggerSync queues a manual run for an owned connection and answers 202
// with the run id.
func TriggerSync(svc ConnectionService, engine SyncTrigger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "connectionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		mode, err := validators.ParseSyncMode(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if _, err := svc.Get(r.Context(), middleware.AccountIDFromContext(r.Context()), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		started, err := engine.Trigger(r.Context(), id, enums.SyncTriggerManual, mode)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, started)
	}
}

func DeleteIntegration(svc ConnectionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "connectionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Disconnect(r.Context(), middleware.AccountIDFromContext(r.Context()), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteNoContent(w)
	}
}

func ListSyncRuns(svc SyncRunReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "connectionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.SyncRuns(r.Context(), middleware.AccountIDFromContext(r.Context()), id, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func ListProducts(svc StoreDataReader, logg *logger.Logger) http.HandlerFunc {
	return listRecords(svc, enums.ResourceProducts, logg)
}

func ListOrders(svc StoreDataReader, logg *logger.Logger) http.HandlerFunc {
	return listRecords(svc, enums.ResourceOrders, logg)
}

func listRecords(svc StoreDataReader, resource enums.ResourceType, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "connectionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.Records(r.Context(), middleware.AccountIDFromContext(r.Context()), id, resource, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// OrderSummary reports order count, revenue and average order value over an
// optional from/to range.
func OrderSummary(svc StoreDataReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "connectionId")
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
		summary, err := svc.OrderSummary(r.Context(), middleware.AccountIDFromContext(r.Context()), id, from, to)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}
