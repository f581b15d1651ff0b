package handlers

import (
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/importer"
	"github.com/Ramsey-B/fern/pkg/integration"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/utils"
)

// IntegrationHandler exposes the integration service over HTTP
type IntegrationHandler struct {
	service *integration.Service
}

// NewIntegrationHandler creates a new integration handler
func NewIntegrationHandler(service *integration.Service) *IntegrationHandler {
	return &IntegrationHandler{service: service}
}

// ConfigRequest is the request body for creating or updating a config.
// Empty fields leave the stored value unchanged.
type ConfigRequest struct {
	Host        string `json:"host" validate:"omitempty,url"`
	ConsumerKey string `json:"consumer_key"`
	PrivateKey  string `json:"private_key"`
}

type VerifyRequest struct {
	Verifier string `json:"verifier"`
}

type SelectBoardRequest struct {
	BoardID string            `json:"board_id" validate:"required"`
	Fields  map[string]string `json:"fields"`
}

type BoardQuery struct {
	BoardID string `query:"board_id"`
}

type StatusMappingRequest struct {
	ColumnID string            `param:"column_id" validate:"required"`
	Status   models.TaskStatus `json:"status" validate:"required"`
}

type ImportRequest struct {
	Labels []string `json:"labels" validate:"dive,required"`
}

type CallbackQuery struct {
	RequestToken string `query:"oauth_token"`
	Verifier     string `query:"oauth_verifier"`
}

// AuthorizationResponse carries the URL the admin visits to approve access
type AuthorizationResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

// RegisterRoutes registers the integration routes
func (h *IntegrationHandler) RegisterRoutes(g *echo.Group) {
	integrations := g.Group("/roadmaps/:roadmap_id/integrations/:name")
	integrations.GET("", h.Get)
	integrations.POST("", h.GetOrCreate)
	integrations.DELETE("", h.Delete)
	integrations.POST("/auth", h.BeginAuth)
	integrations.POST("/auth/verify", h.CompleteAuth)
	integrations.GET("/boards", h.ListBoards)
	integrations.PUT("/board", h.SelectBoard)
	integrations.GET("/columns", h.ListColumns)
	integrations.GET("/labels", h.ListLabels)
	integrations.GET("/status-mappings", h.ListStatusMappings)
	integrations.PUT("/status-mappings/:column_id", h.SetStatusMapping)
	integrations.DELETE("/status-mappings/:column_id", h.DeleteStatusMapping)
	integrations.POST("/import", h.Import)

	g.GET("/providers", h.Providers)
	g.GET("/oauth/callback", h.Callback)
}

func target(c echo.Context) (uuid.UUID, string, error) {
	roadmapID, err := ParseUUID(c, "roadmap_id")
	if err != nil {
		return uuid.Nil, "", err
	}
	return roadmapID, c.Param("name"), nil
}

// Get handles GET /roadmaps/:roadmap_id/integrations/:name
func (h *IntegrationHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	roadmapID, name, err := target(c)
	if err != nil {
		return err
	}

	view, err := h.service.GetConfig(ctx, roadmapID, name)
	if err != nil {
		return err
	}

	return SuccessResponse(c, view)
}

// GetOrCreate handles POST /roadmaps/:roadmap_id/integrations/:name
func (h *IntegrationHandler) GetOrCreate(c echo.Context) error {
	ctx := c.Request().Context()

	roadmapID, name, err := target(c)
	if err != nil {
		return err
	}

	req, err := utils.BindRequest[ConfigRequest](c)
	if err != nil {
		return err
	}

	view, err := h.service.GetOrCreateConfig(ctx, roadmapID, name, models.ConfigFields{
		Host:        req.Host,
		ConsumerKey: req.ConsumerKey,
		PrivateKey:  models.Secret(req.PrivateKey),
	})
	if err != nil {
		return err
	}

	return SuccessResponse(c, view)
}

// Delete handles DELETE /roadmaps/:roadmap_id/integrations/:name
func (h *IntegrationHandler) Delete(c echo.Context) error {
	ctx := c.Request().Context()

	roadmapID, name, err := target(c)
	if err != nil {
		return err
	}

	if err := h.service.DeleteConfig(ctx, roadmapID, name); err != nil {
		return err
	}

	return NoContentResponse(c)
}

// BeginAuth handles POST .../auth
func (h *IntegrationHandler) BeginAuth(c echo.Context) error {
	ctx := c.Request().Context()

	roadmapID, name, err := target(c)
	if err != nil {
		return err
	}

	url, err := h.service.BeginAuth(ctx, roadmapID, name)
	if err != nil {
		return err
	}

	return SuccessResponse(c, AuthorizationResponse{AuthorizationURL: url})
}

// CompleteAuth handles POST .../auth/verify
func (h *IntegrationHandler) CompleteAuth(c echo.Context) error {
	ctx := c.Request().Context()

	roadmapID, name, err := target(c)
	if err != nil {
		return err
	}

	req, err := utils.BindRequest[VerifyRequest](c)
	if err != nil {
		return err
	}

	view, err := h.service.CompleteAuth(ctx, roadmapID, name, req.Verifier)
	if err != nil {
		return err
	}

	return SuccessResponse(c, view)
}

// Callback handles GET /oauth/callback, the tracker's redirect after approval
func (h *IntegrationHandler) Callback(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[CallbackQuery](c)
	if err != nil {
		return err
	}

	view, err := h.service.HandleCallback(ctx, req.RequestToken, req.Verifier)
	if err != nil {
		return err
	}

	return SuccessResponse(c, view)
}

// ListBoards handles GET .../boards
func (h *IntegrationHandler) ListBoards(c echo.Context) error {
	ctx := c.Request().Context()

	roadmapID, name, err := target(c)
	if err != nil {
		return err
	}

	boards, err := h.service.ListBoards(ctx, roadmapID, name)
	if err != nil {
		return err
	}

	return SuccessResponse(c, boards)
}

// SelectBoard handles PUT .../board
func (h *IntegrationHandler) SelectBoard(c echo.Context) error {
	ctx := c.Request().Context()

	roadmapID, name, err := target(c)
	if err != nil {
		return err
	}

	req, err := utils.BindRequest[SelectBoardRequest](c)
	if err != nil {
		return err
	}

	view, err := h.service.SelectBoard(ctx, roadmapID, name, req.BoardID, req.Fields)
	if err != nil {
		return err
	}

	return SuccessResponse(c, view)
}

// ListColumns handles GET .../columns
func (h *IntegrationHandler) ListColumns(c echo.Context) error {
	ctx := c.Request().Context()

	roadmapID, name, err := target(c)
	if err != nil {
		return err
	}

	req, err := utils.BindRequest[BoardQuery](c)
	if err != nil {
		return err
	}

	columns, err := h.service.ListColumns(ctx, roadmapID, name, req.BoardID)
	if err != nil {
		return err
	}

	return SuccessResponse(c, columns)
}

// ListLabels handles GET .../labels
func (h *IntegrationHandler) ListLabels(c echo.Context) error {
	ctx := c.Request().Context()

	roadmapID, name, err := target(c)
	if err != nil {
		return err
	}

	req, err := utils.BindRequest[BoardQuery](c)
	if err != nil {
		return err
	}

	labels, err := h.service.ListLabels(ctx, roadmapID, name, req.BoardID)
	if err != nil {
		return err
	}

	return SuccessResponse(c, labels)
}

// ListStatusMappings handles GET .../status-mappings
func (h *IntegrationHandler) ListStatusMappings(c echo.Context) error {
	ctx := c.Request().Context()

	roadmapID, name, err := target(c)
	if err != nil {
		return err
	}

	mappings, err := h.service.ListStatusMappings(ctx, roadmapID, name)
	if err != nil {
		return err
	}

	return SuccessResponse(c, mappings)
}

// SetStatusMapping handles PUT .../status-mappings/:column_id
func (h *IntegrationHandler) SetStatusMapping(c echo.Context) error {
	ctx := c.Request().Context()

	roadmapID, name, err := target(c)
	if err != nil {
		return err
	}

	req, err := utils.BindRequest[StatusMappingRequest](c)
	if err != nil {
		return err
	}

	mapping, err := h.service.SetStatusMapping(ctx, roadmapID, name, req.ColumnID, req.Status)
	if err != nil {
		return err
	}

	return SuccessResponse(c, mapping)
}

// DeleteStatusMapping handles DELETE .../status-mappings/:column_id
func (h *IntegrationHandler) DeleteStatusMapping(c echo.Context) error {
	ctx := c.Request().Context()

	roadmapID, name, err := target(c)
	if err != nil {
		return err
	}

	if err := h.service.DeleteStatusMapping(ctx, roadmapID, name, c.Param("column_id")); err != nil {
		return err
	}

	return NoContentResponse(c)
}

// Import handles POST .../import
func (h *IntegrationHandler) Import(c echo.Context) error {
	ctx := c.Request().Context()

	roadmapID, name, err := target(c)
	if err != nil {
		return err
	}

	req, err := utils.BindRequest[ImportRequest](c)
	if err != nil {
		return err
	}

	result, err := h.service.ImportBoard(ctx, roadmapID, name, providers.IssueFilter{Labels: req.Labels})
	if err != nil {
		return partialImportError(err, result)
	}

	return SuccessResponse(c, result)
}

// partialImportError adds the counts of an interrupted import to the error
// meta. Tasks written before the failure are kept.
func partialImportError(err error, result *importer.Result) error {
	if result == nil {
		return err
	}

	herr := ferrors.ToHTTPError(err)
	if herr == nil {
		if !httperror.IsHTTPError(err) {
			return err
		}
		herr = httperror.ToHTTPError(err)
	}

	return herr.
		AddMetaValue("created", strconv.Itoa(result.Created)).
		AddMetaValue("updated", strconv.Itoa(result.Updated)).
		AddMetaValue("unchanged", strconv.Itoa(result.Unchanged)).
		AddMetaValue("failed", strconv.Itoa(len(result.Failed)))
}

// ProvidersResponse lists the registered tracker names
type ProvidersResponse struct {
	Providers []string `json:"providers"`
}

// Providers handles GET /providers
func (h *IntegrationHandler) Providers(c echo.Context) error {
	return SuccessResponse(c, ProvidersResponse{Providers: h.service.Providers()})
}
