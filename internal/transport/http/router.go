package httpserver

import (
	"github.com/labstack/echo/v4"

	"github.com/candyworks/sweetshop/internal/handlers"
	"github.com/candyworks/sweetshop/internal/middleware"
)

type Deps struct {
	AuthHandler   *handlers.AuthHandler
	SweetHandler  *handlers.SweetHandler
	Auth          *middleware.AuthMiddleware
	StaticDir     string
	AuthRateLimit echo.MiddlewareFunc
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(200) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(200) })

	if d.StaticDir != "" {
		e.Static("/static", d.StaticDir)
	}

	v1 := e.Group("/api/v1")

	users := v1.Group("/users")
	users.POST("/register", d.AuthHandler.Register, d.AuthRateLimit)
	users.POST("/login", d.AuthHandler.Login, d.AuthRateLimit)
	users.POST("/refresh", d.AuthHandler.Refresh, d.AuthRateLimit)
	users.POST("/logout", d.AuthHandler.Logout, d.Auth.RequireAuth)
	users.GET("/current", d.AuthHandler.Current, d.Auth.RequireAuth)
	users.GET("/purchase-history", d.AuthHandler.PurchaseHistory, d.Auth.RequireAuth)

	sweets := v1.Group("/sweets")
	sweets.GET("", d.SweetHandler.List)
	sweets.GET("/search", d.SweetHandler.SearchSweets)
	sweets.GET("/:id", d.SweetHandler.Get)
	sweets.POST("/create", d.SweetHandler.Create, d.Auth.RequireAdmin)
	sweets.PUT("/:id", d.SweetHandler.Update, d.Auth.RequireAdmin)
	sweets.DELETE("/:id", d.SweetHandler.Delete, d.Auth.RequireAdmin)
	sweets.POST("/:id/addStock", d.SweetHandler.AddStock, d.Auth.RequireAdmin)
	sweets.POST("/:id/purchase", d.SweetHandler.Purchase, d.Auth.RequireAuth)
}
