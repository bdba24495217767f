package controllers

import (
	"net/http"
	"time"

	"github.com/mktdigital/marketplace-backend/middleware"
	"github.com/mktdigital/marketplace-backend/models"
	"github.com/mktdigital/marketplace-backend/repository"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// cartTTL keeps abandoned carts around long enough for a buyer to come back.
const cartTTL = 7 * 24 * time.Hour

type CartController struct {
	Carts  repository.CartRepository
	Logger *zap.Logger
}

func (cc *CartController) CreateCart(c *gin.Context) {
	var req struct {
		Currency string `json:"currency"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Currency == "" {
		req.Currency = "MXN"
	}

	cart := &models.Cart{
		Status:    models.CartStatusActive,
		Currency:  req.Currency,
		ExpiresAt: time.Now().Add(cartTTL),
	}
	if userID := middleware.GetUserID(c); userID != "" {
		if parsed, err := uuid.Parse(userID); err == nil {
			cart.UserID = &parsed
		}
	}

	if err := cc.Carts.Create(c.Request.Context(), cart); err != nil {
		cc.Logger.Error("failed to create cart", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create cart"})
		return
	}
	c.JSON(http.StatusCreated, cart)
}

func (cc *CartController) GetCart(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cart id"})
		return
	}

	cart, err := cc.Carts.FindByID(c.Request.Context(), id)
	if err != nil {
		cc.Logger.Error("failed to load cart", zap.String("cart_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load cart"})
		return
	}
	if cart == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "cart not found"})
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (cc *CartController) AddItem(c *gin.Context) {
	cartID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cart id"})
		return
	}

	var req struct {
		ProductID string `json:"product_id" binding:"required"`
		Name      string `json:"name" binding:"required"`
		UnitPrice int64  `json:"unit_price" binding:"required,min=1"`
		Quantity  int    `json:"quantity" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}

	cart, err := cc.Carts.FindByID(c.Request.Context(), cartID)
	if err != nil || cart == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "cart not found"})
		return
	}
	if cart.Status != models.CartStatusActive {
		c.JSON(http.StatusConflict, gin.H{"error": "cart is not active"})
		return
	}

	item := &models.CartItem{
		CartID:    cartID,
		ProductID: productID,
		Name:      req.Name,
		UnitPrice: req.UnitPrice,
		Quantity:  req.Quantity,
		Active:    true,
	}
	if err := cc.Carts.AddItem(c.Request.Context(), item); err != nil {
		cc.Logger.Error("failed to add cart item", zap.String("cart_id", cartID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add item"})
		return
	}
	c.JSON(http.StatusCreated, item)
}
