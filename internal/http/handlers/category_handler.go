package handlers

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/AishaRafeeq/go-token-backend/internal/domain"
	"github.com/AishaRafeeq/go-token-backend/internal/repo"
)

var hexColorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// CreateCategoryRequest is the JSON payload for category creation.
type CreateCategoryRequest struct {
	Name string `json:"name" binding:"required,min=1,max=50"`
	// Color is a hex color applied to the category's QR foreground.
	Color       string `json:"color" binding:"required"`
	Description string `json:"description"`
}

// CategoryListResponse wraps the category listing.
type CategoryListResponse struct {
	Items []domain.Category `json:"items"`
}

// CreateCategory handles POST /categories.
func (h *Handlers) CreateCategory(c *gin.Context) {
	var req CreateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name and color are required")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name must not be blank")
		return
	}
	if !hexColorRe.MatchString(req.Color) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "color must be a #RRGGBB hex value")
		return
	}

	cat := &domain.Category{
		ID:          uuid.NewString(),
		Name:        name,
		Color:       req.Color,
		Description: strings.TrimSpace(req.Description),
	}
	if err := repo.CreateCategory(c.Request.Context(), h.db, cat); err != nil {
		if isUniqueViolation(err) {
			fail(c, http.StatusConflict, ErrCodeConflict, "category name already exists")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "unexpected error")
		return
	}
	ok(c, http.StatusCreated, cat)
}

// ListCategories handles GET /categories.
func (h *Handlers) ListCategories(c *gin.Context) {
	items, err := repo.ListCategories(c.Request.Context(), h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "unexpected error")
		return
	}
	ok(c, http.StatusOK, CategoryListResponse{Items: items})
}

// GetCategory handles GET /categories/{category_id}.
func (h *Handlers) GetCategory(c *gin.Context) {
	cat, err := repo.GetCategory(c.Request.Context(), h.db, c.Param("category_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "category not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "unexpected error")
		return
	}
	ok(c, http.StatusOK, cat)
}

// isUniqueViolation matches sqlite and gorm unique-constraint failures.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "unique failed")
}
