package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"meridian/pkg/catalog"
	"meridian/pkg/engine"
	"meridian/pkg/router"
	"meridian/pkg/types"
)

type handler struct {
	engine *engine.Engine
	logger *zap.Logger
}

func newHandler(eng *engine.Engine, logger *zap.Logger) *handler {
	return &handler{engine: eng, logger: logger}
}

type addAssetRequest struct {
	SourcePath       string   `json:"source_path"`
	Name             string   `json:"name"`
	Tags             []string `json:"tags"`
	GenerateVariants bool     `json:"generate_variants"`
	Replicas         int      `json:"replicas"`
}

// AddAsset ingests a file from local disk and replicates it.
// POST /api/v1/assets
func (h *handler) AddAsset(c echo.Context) error {
	var req addAssetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SourcePath == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source_path is required")
	}

	asset, err := h.engine.AddAsset(c.Request().Context(), req.SourcePath, engine.AddAssetOptions{
		Name:             req.Name,
		Tags:             req.Tags,
		GenerateVariants: req.GenerateVariants,
		Replicas:         req.Replicas,
	})
	if err != nil {
		h.logger.Warn("Asset ingestion failed", zap.String("path", req.SourcePath), zap.Error(err))
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	return c.JSON(http.StatusCreated, asset)
}

// ListAssets returns the catalog; ?hot=N returns the N hottest assets.
// GET /api/v1/assets
func (h *handler) ListAssets(c echo.Context) error {
	if hot := c.QueryParam("hot"); hot != "" {
		n, err := strconv.Atoi(hot)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "hot must be a positive integer")
		}
		return c.JSON(http.StatusOK, h.engine.GetHotAssets(n))
	}
	return c.JSON(http.StatusOK, h.engine.GetAssets())
}

// GetAsset returns one asset.
// GET /api/v1/assets/:id
func (h *handler) GetAsset(c echo.Context) error {
	asset, ok := h.engine.GetAsset(types.AssetID(c.Param("id")))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "asset not found")
	}
	return c.JSON(http.StatusOK, asset)
}

// ResolveURL resolves the serving URL for a client request.
// GET /api/v1/assets/:id/url?client=&region=&quality=
func (h *handler) ResolveURL(c echo.Context) error {
	res, err := h.engine.ResolveServingURL(types.AssetID(c.Param("id")), router.Request{
		ClientID:     c.QueryParam("client"),
		ClientRegion: c.QueryParam("region"),
		Quality:      c.QueryParam("quality"),
	})
	if err != nil {
		if errors.Is(err, catalog.ErrAssetNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "asset not found")
		}
		if errors.Is(err, router.ErrNoNodeAvailable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "no delivery node available")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

// DistributeAsset forces a replication round.
// POST /api/v1/assets/:id/distribute
func (h *handler) DistributeAsset(c echo.Context) error {
	id := types.AssetID(c.Param("id"))
	if err := h.engine.DistributeAsset(c.Request().Context(), id); err != nil {
		if errors.Is(err, catalog.ErrAssetNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "asset not found")
		}
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	asset, _ := h.engine.GetAsset(id)
	return c.JSON(http.StatusOK, asset)
}

// PurgeAsset removes an asset from the catalog and all nodes.
// DELETE /api/v1/assets/:id
func (h *handler) PurgeAsset(c echo.Context) error {
	if err := h.engine.PurgeAsset(types.AssetID(c.Param("id"))); err != nil {
		if errors.Is(err, catalog.ErrAssetNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "asset not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// ListNodes returns the fleet; ?active=true filters to serving nodes.
// GET /api/v1/nodes
func (h *handler) ListNodes(c echo.Context) error {
	if c.QueryParam("active") == "true" {
		return c.JSON(http.StatusOK, h.engine.GetActiveNodes())
	}
	return c.JSON(http.StatusOK, h.engine.GetNodes())
}

// RegisterNode adds a delivery node.
// POST /api/v1/nodes
func (h *handler) RegisterNode(c echo.Context) error {
	var node types.DeliveryNode
	if err := c.Bind(&node); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.engine.RegisterNode(node); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	registered, _ := h.engine.GetNode(node.ID)
	return c.JSON(http.StatusCreated, registered)
}

// GetNode returns one node.
// GET /api/v1/nodes/:id
func (h *handler) GetNode(c echo.Context) error {
	node, ok := h.engine.GetNode(types.NodeID(c.Param("id")))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "node not found")
	}
	return c.JSON(http.StatusOK, node)
}

type setStatusRequest struct {
	Status types.NodeStatus `json:"status"`
}

// SetNodeStatus changes a node's lifecycle status.
// PATCH /api/v1/nodes/:id/status
func (h *handler) SetNodeStatus(c echo.Context) error {
	var req setStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	switch req.Status {
	case types.NodeActive, types.NodeInactive, types.NodeMaintenance, types.NodeOverloaded:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status")
	}

	id := types.NodeID(c.Param("id"))
	if !h.engine.SetNodeStatus(id, req.Status) {
		return echo.NewHTTPError(http.StatusNotFound, "node not found")
	}
	node, _ := h.engine.GetNode(id)
	return c.JSON(http.StatusOK, node)
}

// UnregisterNode removes a node from the fleet.
// DELETE /api/v1/nodes/:id
func (h *handler) UnregisterNode(c echo.Context) error {
	h.engine.UnregisterNode(types.NodeID(c.Param("id")))
	return c.NoContent(http.StatusNoContent)
}

// ListRules returns installed cache rules, highest priority first.
// GET /api/v1/rules
func (h *handler) ListRules(c echo.Context) error {
	return c.JSON(http.StatusOK, h.engine.CacheRules())
}

type addRuleRequest struct {
	ID          types.RuleID          `json:"id"`
	Name        string                `json:"name"`
	Pattern     string                `json:"pattern"`
	Conditions  []types.RuleCondition `json:"conditions"`
	TTLSeconds  int                   `json:"ttl_seconds"`
	Headers     map[string]string     `json:"headers"`
	Compression types.CompressionMode `json:"compression"`
	Priority    int                   `json:"priority"`
	Active      *bool                 `json:"active"` // omitted means active
}

// AddRule installs a cache policy rule.
// POST /api/v1/rules
func (h *handler) AddRule(c echo.Context) error {
	var req addRuleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Pattern == "" && len(req.Conditions) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "rule needs a pattern or conditions")
	}

	rule := types.CacheRule{
		ID:          req.ID,
		Name:        req.Name,
		Pattern:     req.Pattern,
		Conditions:  req.Conditions,
		TTLSeconds:  req.TTLSeconds,
		Headers:     req.Headers,
		Compression: req.Compression,
		Priority:    req.Priority,
		Active:      req.Active == nil || *req.Active,
	}
	if rule.ID == "" {
		rule.ID = types.RuleID(uuid.NewString())
	}

	h.engine.AddCacheRule(rule)
	return c.JSON(http.StatusCreated, rule)
}

// Stats returns a combined engine snapshot.
// GET /api/v1/stats
func (h *handler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.engine.GetStatistics())
}
