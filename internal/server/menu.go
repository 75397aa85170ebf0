package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	menudomain "github.com/smallbiznis/tablemenu/internal/menu/domain"
)

// maxImportSize caps the uploaded CSV.
const maxImportSize = 2 << 20

type createCategoryRequest struct {
	Name        string  `json:"name" binding:"required"`
	Description *string `json:"description"`
	Placenum    *int    `json:"placenum" binding:"omitempty,min=0"`
}

type createItemRequest struct {
	Name        string          `json:"name" binding:"required"`
	Price       decimal.Decimal `json:"price"`
	Description *string         `json:"description"`
	Calories    *int            `json:"calories" binding:"omitempty,min=0"`
	Proteins    *float64        `json:"proteins" binding:"omitempty,min=0"`
	Fats        *float64        `json:"fats" binding:"omitempty,min=0"`
	Carbs       *float64        `json:"carbs" binding:"omitempty,min=0"`
	Weight      *float64        `json:"weight" binding:"omitempty,min=0"`
	View        *bool           `json:"view"`
	Placenum    *int            `json:"placenum" binding:"omitempty,min=0"`
}

func (s *Server) CreateMenuCategory(c *gin.Context) {
	var req createCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	category, err := s.menuSvc.CreateCategory(c.Request.Context(), menudomain.CreateCategoryRequest{
		RestaurantID: restaurantIDFrom(c),
		Name:         req.Name,
		Description:  req.Description,
		Placenum:     req.Placenum,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": category})
}

func (s *Server) ListMenuCategories(c *gin.Context) {
	categories, err := s.menuSvc.ListCategories(c.Request.Context(), restaurantIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": categories})
}

func (s *Server) CreateMenuItem(c *gin.Context) {
	categoryID, err := parseIDParam(c, "category_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req createItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	item, err := s.menuSvc.CreateItem(c.Request.Context(), menudomain.CreateItemRequest{
		RestaurantID: restaurantIDFrom(c),
		CategoryID:   categoryID,
		Name:         req.Name,
		Price:        req.Price,
		Description:  req.Description,
		Calories:     req.Calories,
		Proteins:     req.Proteins,
		Fats:         req.Fats,
		Carbs:        req.Carbs,
		Weight:       req.Weight,
		View:         req.View,
		Placenum:     req.Placenum,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": item})
}

func (s *Server) ListMenuItems(c *gin.Context) {
	categoryID, err := parseIDParam(c, "category_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.menuSvc.ListItems(c.Request.Context(), restaurantIDFrom(c), categoryID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) ImportMenuCSV(c *gin.Context) {
	categoryID, err := parseIDParam(c, "category_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		AbortWithError(c, newValidationError("file", "invalid_file", "file is required"))
		return
	}
	file, err := header.Open()
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxImportSize+1))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if len(data) > maxImportSize {
		AbortWithError(c, newValidationError("file", "file_too_large", "file is too large"))
		return
	}

	result, err := s.menuSvc.ImportCSV(c.Request.Context(), menudomain.ImportRequest{
		RestaurantID: restaurantIDFrom(c),
		CategoryID:   categoryID,
		Data:         data,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}
