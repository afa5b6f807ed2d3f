package migration

import (
	"net/http"

	api2 "github.com/opengovern/og-util/pkg/api"
	"github.com/opengovern/og-util/pkg/httpserver"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/opengovern/og-search-migration/services/migration/api"
	"github.com/opengovern/og-search-migration/services/migration/db"
)

type httpRoutes struct {
	logger *zap.Logger
	db     db.Database
}

func (r *httpRoutes) Register(e *echo.Echo) {
	v1 := e.Group("/api/v1")

	v1.GET("/migration/status", httpserver.AuthorizeHandler(r.getMigrationStatus, api2.AdminRole))
	v1.GET("/migration/retrieval", httpserver.AuthorizeHandler(r.getRetrievalSettings, api2.AdminRole))
	v1.PUT("/migration/retrieval", httpserver.AuthorizeHandler(r.setRetrievalSettings, api2.AdminRole))
}

func bindValidate(ctx echo.Context, i interface{}) error {
	if err := ctx.Bind(i); err != nil {
		return err
	}

	if err := ctx.Validate(i); err != nil {
		return err
	}

	return nil
}

// getMigrationStatus godoc
//
//	@Summary		Returns the migration progress counters for the tenant
//	@Description	Returns the migration progress counters for the tenant
//	@Tags			migration
//	@Produce		json
//	@Param			tenant_id	query		string	true	"Tenant ID"
//	@Success		200			{object}	api.MigrationStatusResponse
//	@Router			/migration/api/v1/migration/status [get]
func (r *httpRoutes) getMigrationStatus(ctx echo.Context) error {
	tenantID := ctx.QueryParam("tenant_id")
	if tenantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant_id is required")
	}

	if err := r.db.EnsureTenantMigrationRecord(tenantID); err != nil {
		r.logger.Error("failed to ensure tenant migration record", zap.Error(err))
		return ctx.JSON(http.StatusInternalServerError, "failed to get migration status")
	}
	rec, err := r.db.GetTenantMigrationRecord(tenantID)
	if err != nil || rec == nil {
		r.logger.Error("failed to get tenant migration record", zap.Error(err))
		return ctx.JSON(http.StatusInternalServerError, "failed to get migration status")
	}

	return ctx.JSON(http.StatusOK, api.MigrationStatusResponse{
		TotalChunksMigrated:     rec.TotalChunksMigrated,
		CreatedAt:               rec.CreatedAt,
		MigrationCompletedAt:    rec.MigrationCompletedAt,
		ApproxChunkCountInVespa: rec.ApproxChunkCountInVespa,
	})
}

// getRetrievalSettings godoc
//
//	@Summary		Returns whether user queries read from the new index
//	@Description	Returns whether user queries read from the new index
//	@Tags			migration
//	@Produce		json
//	@Param			tenant_id	query		string	true	"Tenant ID"
//	@Success		200			{object}	api.RetrievalSettings
//	@Router			/migration/api/v1/migration/retrieval [get]
func (r *httpRoutes) getRetrievalSettings(ctx echo.Context) error {
	tenantID := ctx.QueryParam("tenant_id")
	if tenantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant_id is required")
	}

	if err := r.db.EnsureTenantMigrationRecord(tenantID); err != nil {
		r.logger.Error("failed to ensure tenant migration record", zap.Error(err))
		return ctx.JSON(http.StatusInternalServerError, "failed to get retrieval settings")
	}
	rec, err := r.db.GetTenantMigrationRecord(tenantID)
	if err != nil || rec == nil {
		r.logger.Error("failed to get tenant migration record", zap.Error(err))
		return ctx.JSON(http.StatusInternalServerError, "failed to get retrieval settings")
	}

	return ctx.JSON(http.StatusOK, api.RetrievalSettings{
		EnableOpensearchRetrieval: rec.EnableOpensearchRetrieval,
	})
}

// setRetrievalSettings godoc
//
//	@Summary		Gates the read path between the legacy and the new index
//	@Description	Gates the read path between the legacy and the new index
//	@Tags			migration
//	@Accept			json
//	@Produce		json
//	@Param			tenant_id	query		string					true	"Tenant ID"
//	@Param			request		body		api.RetrievalSettings	true	"Retrieval settings"
//	@Success		200			{object}	api.RetrievalSettings
//	@Router			/migration/api/v1/migration/retrieval [put]
func (r *httpRoutes) setRetrievalSettings(ctx echo.Context) error {
	tenantID := ctx.QueryParam("tenant_id")
	if tenantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant_id is required")
	}

	var req api.RetrievalSettings
	if err := bindValidate(ctx, &req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := r.db.EnsureTenantMigrationRecord(tenantID); err != nil {
		r.logger.Error("failed to ensure tenant migration record", zap.Error(err))
		return ctx.JSON(http.StatusInternalServerError, "failed to update retrieval settings")
	}
	if err := r.db.SetRetrievalEnabled(tenantID, req.EnableOpensearchRetrieval); err != nil {
		r.logger.Error("failed to update retrieval settings", zap.Error(err))
		return ctx.JSON(http.StatusInternalServerError, "failed to update retrieval settings")
	}

	return ctx.JSON(http.StatusOK, req)
}
