package handlers

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jsamuelsen/quotekeeper/internal/adapters/http/dto"
	"github.com/jsamuelsen/quotekeeper/internal/app"
)

// exportFilename is suggested to browsers downloading an export.
const exportFilename = "quotes.json"

// QuoteHandler serves the quote and category endpoints.
type QuoteHandler struct {
	service *app.QuoteService
}

// NewQuoteHandler creates a new quote handler.
func NewQuoteHandler(service *app.QuoteService) *QuoteHandler {
	return &QuoteHandler{service: service}
}

// ListQuotes handles GET /api/v1/quotes.
// Results keep display order and are paged with an opaque cursor.
func (h *QuoteHandler) ListQuotes(c *gin.Context) {
	var req dto.ListQuotesRequest
	if err := dto.BindQuery(c, &req); err != nil {
		dto.HandleBindError(c, err)
		return
	}

	offset, err := req.Offset()
	if err != nil {
		dto.HandleErrorCode(c, dto.ErrorCodeBadRequest, err.Error())
		return
	}

	quotes := dto.NewQuoteResponses(h.service.List(req.Category))

	c.JSON(http.StatusOK, dto.Paginate(quotes, offset, req.GetLimit()))
}

// RandomQuote handles GET /api/v1/quotes/random and remembers the pick in the session.
func (h *QuoteHandler) RandomQuote(c *gin.Context) {
	var req dto.RandomQuoteRequest
	if err := dto.BindQuery(c, &req); err != nil {
		dto.HandleBindError(c, err)
		return
	}

	q, err := h.service.Random(c.Request.Context(), req.Category)
	if err != nil {
		dto.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewQuoteResponse(q))
}

// LastViewedQuote handles GET /api/v1/quotes/last-viewed.
func (h *QuoteHandler) LastViewedQuote(c *gin.Context) {
	q, err := h.service.LastViewed(c.Request.Context())
	if err != nil {
		dto.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewQuoteResponse(q))
}

// CreateQuote handles POST /api/v1/quotes.
// A failed save still returns 201; the warning travels in the body.
func (h *QuoteHandler) CreateQuote(c *gin.Context) {
	var req dto.CreateQuoteRequest
	if err := dto.BindJSON(c, &req); err != nil {
		dto.HandleBindError(c, err)
		return
	}

	res, err := h.service.Add(c.Request.Context(), app.AddQuoteInput{
		Text:           req.Text,
		Category:       req.Category,
		AllowDuplicate: req.AllowDuplicate,
	})
	if err != nil {
		dto.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.CreateQuoteResponse{
		Quote:          dto.NewQuoteResponse(res.Quote),
		Queued:         res.Queued,
		PersistWarning: res.PersistWarning,
	})
}

// ExportQuotes handles GET /api/v1/quotes/export as a JSON file download.
func (h *QuoteHandler) ExportQuotes(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.service.Export(c.Request.Context(), &buf); err != nil {
		dto.HandleError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+exportFilename+`"`)
	c.Header("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	c.Data(http.StatusOK, "application/json", buf.Bytes())
}

// ImportQuotes handles POST /api/v1/quotes/import. The body is a previous export.
func (h *QuoteHandler) ImportQuotes(c *gin.Context) {
	var req dto.ImportQuotesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		dto.HandleErrorCode(c, dto.ErrorCodeBadRequest, err.Error())
		return
	}

	res, err := h.service.Import(c.Request.Context(), c.Request.Body, app.ImportOptions{
		SkipDuplicates: req.SkipDuplicates,
	})
	if err != nil {
		dto.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ImportQuotesResponse{
		Imported:       res.Imported,
		Skipped:        res.Skipped,
		PersistWarning: res.PersistWarning,
	})
}

// ListCategories handles GET /api/v1/categories.
func (h *QuoteHandler) ListCategories(c *gin.Context) {
	c.JSON(http.StatusOK, dto.CategoriesResponse{Categories: h.service.Categories()})
}

// GetSelectedCategory handles GET /api/v1/categories/selected.
func (h *QuoteHandler) GetSelectedCategory(c *gin.Context) {
	category, err := h.service.SelectedCategory(c.Request.Context())
	if err != nil {
		dto.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SelectedCategoryResponse{Category: category})
}

// PutSelectedCategory handles PUT /api/v1/categories/selected.
func (h *QuoteHandler) PutSelectedCategory(c *gin.Context) {
	var req dto.SelectedCategoryRequest
	if err := dto.BindJSON(c, &req); err != nil {
		dto.HandleBindError(c, err)
		return
	}

	category, err := h.service.SetSelectedCategory(c.Request.Context(), req.Category)
	if err != nil {
		dto.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SelectedCategoryResponse{Category: category})
}

// RegisterQuoteRoutes registers quote and category routes on the given group.
func (h *QuoteHandler) RegisterQuoteRoutes(rg *gin.RouterGroup) {
	quotes := rg.Group("/quotes")
	quotes.GET("", h.ListQuotes)
	quotes.POST("", h.CreateQuote)
	quotes.GET("/random", h.RandomQuote)
	quotes.GET("/last-viewed", h.LastViewedQuote)
	quotes.GET("/export", h.ExportQuotes)
	quotes.POST("/import", h.ImportQuotes)

	categories := rg.Group("/categories")
	categories.GET("", h.ListCategories)
	categories.GET("/selected", h.GetSelectedCategory)
	categories.PUT("/selected", h.PutSelectedCategory)
}
