package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/medledger/rx-ledger/internal/api/middleware"
)

// SetupRoutes configures all REST API routes
func SetupRoutes(router *gin.Engine, handler Handler, authCfg middleware.AuthConfig) {
	// Health check endpoint (no auth, no version prefix)
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Prescription lifecycle (requires authentication)
		v1.POST("/prescriptions", middleware.Auth(authCfg), handler.MintPrescription)
		v1.POST("/prescriptions/:asset_id/dispense", middleware.Auth(authCfg), handler.DispensePrescription)
		v1.POST("/prescriptions/:asset_id/cancel", middleware.Auth(authCfg), handler.CancelPrescription)
		v1.POST("/prescriptions/:asset_id/qr", middleware.Auth(authCfg), handler.IssueQR)

		// Prescription reads (public read access)
		v1.GET("/prescriptions", handler.ListPrescriptions)
		v1.GET("/prescriptions/:asset_id", handler.GetPrescription)
		v1.GET("/prescriptions/:asset_id/verify", handler.VerifyPrescription)

		// QR capability token verification (public; the signature is the gate)
		v1.POST("/qr/verify", handler.VerifyQR)

		// Audit log (requires API key authentication only)
		v1.GET("/audit", middleware.APIKeyAuth(authCfg), handler.GetAuditLog)
	}
}
