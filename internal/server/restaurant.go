package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	restaurantdomain "github.com/smallbiznis/tablemenu/internal/restaurant/domain"
)

type createRestaurantRequest struct {
	Name       string `json:"name" binding:"required"`
	Subdomain  string `json:"subdomain"`
	OwnerEmail string `json:"owner_email" binding:"required,email"`
}

func (s *Server) CreateRestaurant(c *gin.Context) {
	var req createRestaurantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	restaurant, err := s.restaurantSvc.Create(c.Request.Context(), restaurantdomain.CreateRequest{
		Name:       req.Name,
		Subdomain:  req.Subdomain,
		OwnerEmail: req.OwnerEmail,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": restaurant})
}
