package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appintegration "github.com/meschain/syncengine/internal/application/integration"
	"github.com/meschain/syncengine/internal/domain/integration"
	"github.com/meschain/syncengine/internal/infrastructure/auth"
	"github.com/meschain/syncengine/internal/interfaces/http/dto"
	"github.com/meschain/syncengine/internal/interfaces/http/middleware"
)

// SyncService is the orchestrator surface the operator API uses.
type SyncService interface {
	Status(ctx context.Context, filter appintegration.StatusFilter) ([]appintegration.FlowReport, error)
	Trigger(code integration.MarketplaceCode, entityType integration.EntityType, retryErrors bool) ([]appintegration.FlowTrigger, error)
	FetchCategories(ctx context.Context, code integration.MarketplaceCode) ([]integration.RemoteCategory, error)
	MapCategory(ctx context.Context, mapping *integration.CategoryMapping) error
	CategoryMappings(ctx context.Context, code integration.MarketplaceCode) ([]integration.CategoryMapping, error)
}

// SyncHandler serves the operator sync API
type SyncHandler struct {
	BaseHandler
	service SyncService
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(service SyncService, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		BaseHandler: BaseHandler{logger: logger.Named("sync_api")},
		service:     service,
	}
}

// RegisterRoutes registers the sync routes under rg
func (h *SyncHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sync := rg.Group("/sync")
	sync.GET("/status", middleware.RequireScope(auth.ScopeRead), h.GetStatus)
	sync.POST("/trigger", middleware.RequireScope(auth.ScopeTrigger), h.Trigger)
	sync.GET("/categories", middleware.RequireScope(auth.ScopeRead), h.ListCategories)
	sync.GET("/category-mappings", middleware.RequireScope(auth.ScopeRead), h.ListCategoryMappings)
	sync.PUT("/category-mappings", middleware.RequireScope(auth.ScopeMap), h.UpsertCategoryMapping)
}

// GetStatus godoc
// @Summary      Sync status
// @Description  Per-flow state with the most recent Sync Log rows
// @Tags         sync
// @Produce      json
// @Param        marketplace  query  string  false  "Marketplace code"
// @Param        entity_type  query  string  false  "Entity type"
// @Param        limit        query  int     false  "Sync Log rows per flow (default 20, max 200)"
// @Success      200  {object}  dto.Response{data=[]dto.FlowStatusResponse}
// @Router       /sync/status [get]
func (h *SyncHandler) GetStatus(c *gin.Context) {
	var query dto.SyncStatusQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	if query.Limit == 0 {
		query.Limit = dto.DefaultStatusLimit
	}

	reports, err := h.service.Status(c.Request.Context(), appintegration.StatusFilter{
		Marketplace: integration.MarketplaceCode(query.Marketplace),
		EntityType:  integration.EntityType(query.EntityType),
		Limit:       query.Limit,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	flows := make([]dto.FlowStatusResponse, 0, len(reports))
	for _, r := range reports {
		flows = append(flows, dto.ToFlowStatusResponse(r.Status, r.Recent))
	}
	c.JSON(http.StatusOK, dto.NewListResponse(flows, len(flows), query.Limit))
}

// Trigger godoc
// @Summary      Trigger a sync
// @Description  Starts an out-of-band run of one flow or every flow of a marketplace
// @Tags         sync
// @Accept       json
// @Produce      json
// @Param        request  body  dto.TriggerSyncRequest  true  "Trigger request"
// @Success      202  {object}  dto.Response{data=[]dto.FlowTriggerResponse}
// @Router       /sync/trigger [post]
func (h *SyncHandler) Trigger(c *gin.Context) {
	var req dto.TriggerSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	triggers, err := h.service.Trigger(
		integration.MarketplaceCode(req.Marketplace),
		integration.EntityType(req.EntityType),
		req.RetryErrors,
	)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.logger.Info("Operator triggered sync",
		zap.String("marketplace", req.Marketplace),
		zap.String("entity_type", req.EntityType),
		zap.Bool("retry_errors", req.RetryErrors),
		zap.String("operator", middleware.GetJWTSubject(c)),
		zap.String("request_id", middleware.GetRequestID(c)))

	out := make([]dto.FlowTriggerResponse, 0, len(triggers))
	for _, t := range triggers {
		out = append(out, dto.FlowTriggerResponse{
			Marketplace: string(t.Key.Marketplace),
			EntityType:  string(t.Key.EntityType),
			Result:      string(t.Result),
		})
	}
	h.Accepted(c, out)
}

// ListCategories godoc
// @Summary      Marketplace categories
// @Tags         sync
// @Produce      json
// @Param        marketplace  query  string  true  "Marketplace code"
// @Success      200  {object}  dto.Response{data=[]dto.RemoteCategoryResponse}
// @Router       /sync/categories [get]
func (h *SyncHandler) ListCategories(c *gin.Context) {
	var query dto.CategoriesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	categories, err := h.service.FetchCategories(c.Request.Context(), integration.MarketplaceCode(query.Marketplace))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := dto.ToRemoteCategoryResponses(categories)
	c.JSON(http.StatusOK, dto.NewListResponse(out, len(out), 0))
}

// ListCategoryMappings godoc
// @Summary      Category mappings
// @Tags         sync
// @Produce      json
// @Param        marketplace  query  string  true  "Marketplace code"
// @Success      200  {object}  dto.Response{data=[]dto.CategoryMappingResponse}
// @Router       /sync/category-mappings [get]
func (h *SyncHandler) ListCategoryMappings(c *gin.Context) {
	var query dto.CategoriesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	mappings, err := h.service.CategoryMappings(c.Request.Context(), integration.MarketplaceCode(query.Marketplace))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]dto.CategoryMappingResponse, 0, len(mappings))
	for i := range mappings {
		out = append(out, dto.ToCategoryMappingResponse(&mappings[i]))
	}
	c.JSON(http.StatusOK, dto.NewListResponse(out, len(out), 0))
}

// UpsertCategoryMapping godoc
// @Summary      Map a local category
// @Tags         sync
// @Accept       json
// @Produce      json
// @Param        request  body  dto.CategoryMappingRequest  true  "Category mapping"
// @Success      200  {object}  dto.Response{data=dto.CategoryMappingResponse}
// @Router       /sync/category-mappings [put]
func (h *SyncHandler) UpsertCategoryMapping(c *gin.Context) {
	var req dto.CategoryMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	mapping := &integration.CategoryMapping{
		LocalCategoryID:  req.LocalCategoryID,
		Marketplace:      integration.MarketplaceCode(req.Marketplace),
		RemoteCategoryID: req.RemoteCategoryID,
	}
	if err := h.service.MapCategory(c.Request.Context(), mapping); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToCategoryMappingResponse(mapping))
}
