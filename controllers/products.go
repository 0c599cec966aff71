package controllers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kontorhq/kontor-backend/middleware"
	"github.com/kontorhq/kontor-backend/models"
)

// ListProducts returns the company's catalog as materialized by the
// processing workers.
func ListProducts(c *gin.Context) {
	currentCompany, exists := c.Get(middleware.COMPANY_ID_KEY)
	if !exists {
		c.String(http.StatusForbidden, "Not allowed to access this resource")
		return
	}

	products, err := models.DB.GetProductsForCompany(currentCompany)
	if err != nil {
		slog.Error("Error fetching products", "companyId", currentCompany, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error fetching products"})
		return
	}

	marshalledProducts := make([]interface{}, 0)
	for _, product := range products {
		marshalledProducts = append(marshalledProducts, product.MapToJsonStruct())
	}

	response := make(map[string]interface{})
	response["products"] = marshalledProducts

	c.JSON(http.StatusOK, response)
}
