package rest

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/medledger/rx-ledger/internal/api/shared/dto"
	"github.com/medledger/rx-ledger/internal/api/shared/executor"
	"github.com/medledger/rx-ledger/internal/domain"
)

// Handler defines the interface for REST API handlers
// This interface allows for easy mocking and testing
//
//go:generate mockgen -source=handler.go -destination=../../mocks/api_handler.go -package=mocks -mock_names=Handler=MockAPIHandler
type Handler interface {
	// MintPrescription mints a new prescription token
	// POST /api/v1/prescriptions
	MintPrescription(c *gin.Context)

	// GetPrescription retrieves a single prescription by asset ID
	// GET /api/v1/prescriptions/:asset_id
	GetPrescription(c *gin.Context)

	// ListPrescriptions retrieves prescriptions with optional filters
	// GET /api/v1/prescriptions?patient_id=<id>&doctor_id=<id>
	ListPrescriptions(c *gin.Context)

	// VerifyPrescription classifies a token without mutating it
	// GET /api/v1/prescriptions/:asset_id/verify
	VerifyPrescription(c *gin.Context)

	// DispensePrescription burns a prescription token
	// POST /api/v1/prescriptions/:asset_id/dispense
	DispensePrescription(c *gin.Context)

	// CancelPrescription administratively withdraws a minted token
	// POST /api/v1/prescriptions/:asset_id/cancel
	CancelPrescription(c *gin.Context)

	// IssueQR issues a QR capability token for a prescription
	// POST /api/v1/prescriptions/:asset_id/qr
	IssueQR(c *gin.Context)

	// VerifyQR verifies a QR capability token
	// POST /api/v1/qr/verify
	VerifyQR(c *gin.Context)

	// GetAuditLog retrieves the full ledger transaction history
	// GET /api/v1/audit
	GetAuditLog(c *gin.Context)

	// HealthCheck returns the health status of the API
	// GET /health
	HealthCheck(c *gin.Context)
}

// handler implements the Handler interface
type handler struct {
	executor executor.Executor
}

// NewHandler creates a new REST API handler using the shared executor
func NewHandler(exec executor.Executor) Handler {
	return &handler{executor: exec}
}

// MintPrescription mints a new prescription token
func (h *handler) MintPrescription(c *gin.Context) {
	var req dto.MintPrescriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if err := req.Validate(); err != nil {
		respondError(c, err, "Failed to mint prescription")
		return
	}

	response, err := h.executor.MintPrescription(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, "Failed to mint prescription")
		return
	}

	c.JSON(http.StatusCreated, response)
}

// GetPrescription retrieves a single prescription by asset ID
func (h *handler) GetPrescription(c *gin.Context) {
	assetID, ok := assetIDParam(c)
	if !ok {
		return
	}

	response, err := h.executor.GetPrescription(c.Request.Context(), assetID)
	if err != nil {
		respondError(c, err, "Failed to get prescription")
		return
	}
	if response == nil {
		respondNotFound(c, "Prescription token not found")
		return
	}

	c.JSON(http.StatusOK, response)
}

// ListPrescriptions retrieves prescriptions with optional patient or doctor filters
func (h *handler) ListPrescriptions(c *gin.Context) {
	patientID := c.Query("patient_id")
	doctorID := c.Query("doctor_id")
	if patientID != "" && doctorID != "" {
		respondValidationError(c, "patient_id and doctor_id are mutually exclusive")
		return
	}

	response, err := h.executor.ListPrescriptions(c.Request.Context(), patientID, doctorID)
	if err != nil {
		respondError(c, err, "Failed to list prescriptions")
		return
	}

	c.JSON(http.StatusOK, response)
}

// VerifyPrescription classifies a token without mutating it
func (h *handler) VerifyPrescription(c *gin.Context) {
	assetID, ok := assetIDParam(c)
	if !ok {
		return
	}

	response, err := h.executor.VerifyPrescription(c.Request.Context(), assetID)
	if err != nil {
		respondError(c, err, "Failed to verify prescription")
		return
	}

	c.JSON(http.StatusOK, response)
}

// DispensePrescription burns a prescription token
func (h *handler) DispensePrescription(c *gin.Context) {
	assetID, ok := assetIDParam(c)
	if !ok {
		return
	}

	var req dto.DispenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if err := req.Validate(); err != nil {
		respondError(c, err, "Failed to dispense prescription")
		return
	}

	response, err := h.executor.DispensePrescription(c.Request.Context(), assetID, req)
	if err != nil {
		respondError(c, err, "Failed to dispense prescription")
		return
	}

	c.JSON(http.StatusOK, response)
}

// CancelPrescription administratively withdraws a minted token
func (h *handler) CancelPrescription(c *gin.Context) {
	assetID, ok := assetIDParam(c)
	if !ok {
		return
	}

	var req dto.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if err := req.Validate(); err != nil {
		respondError(c, err, "Failed to cancel prescription")
		return
	}

	response, err := h.executor.CancelPrescription(c.Request.Context(), assetID, req)
	if err != nil {
		respondError(c, err, "Failed to cancel prescription")
		return
	}

	c.JSON(http.StatusOK, response)
}

// IssueQR issues a QR capability token for a prescription
func (h *handler) IssueQR(c *gin.Context) {
	assetID, ok := assetIDParam(c)
	if !ok {
		return
	}

	var req dto.IssueQRRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if err := req.Validate(); err != nil {
		respondError(c, err, "Failed to issue QR token")
		return
	}

	response, err := h.executor.IssueQR(c.Request.Context(), assetID, req)
	if err != nil {
		respondError(c, err, "Failed to issue QR token")
		return
	}

	c.JSON(http.StatusCreated, response)
}

// VerifyQR verifies a QR capability token
func (h *handler) VerifyQR(c *gin.Context) {
	var req dto.VerifyQRRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if err := req.Validate(); err != nil {
		respondError(c, err, "Failed to verify QR token")
		return
	}

	response, err := h.executor.VerifyQR(c.Request.Context(), req.Token)
	if err != nil {
		respondError(c, err, "Failed to verify QR token")
		return
	}

	c.JSON(http.StatusOK, response)
}

// GetAuditLog retrieves the full ledger transaction history
func (h *handler) GetAuditLog(c *gin.Context) {
	response, err := h.executor.GetAuditLog(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to get audit log")
		return
	}

	c.JSON(http.StatusOK, response)
}

// HealthCheck returns the health status of the API
func (h *handler) HealthCheck(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":  "ok",
		"service": "rx-ledger-api",
	})
}

// assetIDParam extracts and validates the asset ID path parameter.
// On failure it writes the error response and returns ok=false.
func assetIDParam(c *gin.Context) (domain.AssetID, bool) {
	raw := c.Param("asset_id")
	if raw == "" {
		respondBadRequest(c, "Asset ID is required")
		return "", false
	}

	assetID := domain.AssetID(raw)
	if !assetID.Valid() {
		respondBadRequest(c, "Invalid asset ID")
		return "", false
	}

	return assetID, true
}
