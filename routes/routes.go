package routes

import (
	"github.com/mktdigital/marketplace-backend/controllers"
	"github.com/mktdigital/marketplace-backend/middleware"

	"github.com/gin-gonic/gin"
)

func Register(r *gin.Engine, pc *controllers.PaymentController, cc *controllers.CartController, oc *controllers.OrderController) {
	payments := r.Group("/payments")
	payments.POST("/initiate", middleware.OptionalAuth(), pc.InitiatePayment)
	payments.GET("/status/:reference", pc.PaymentStatus)
	payments.GET("/session/:reference", pc.ServeSession)
	payments.GET("/responses/:reference", middleware.AuthMiddleware(), pc.ListResponses)

	// Gateway callback (no auth; GET or POST depending on integration mode)
	r.GET("/payments/callback", pc.ProviderCallback)
	r.POST("/payments/callback", pc.ProviderCallback)

	carts := r.Group("/carts")
	carts.Use(middleware.OptionalAuth())
	carts.POST("", cc.CreateCart)
	carts.GET("/:id", cc.GetCart)
	carts.POST("/:id/items", cc.AddItem)

	orders := r.Group("/orders")
	orders.Use(middleware.AuthMiddleware())
	orders.GET("", oc.ListOrders)
	orders.GET("/:id", oc.GetOrder)
}
