package reputation

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/payguard/internal/pagination"
	"github.com/mbd888/payguard/internal/validation"
)

// Handler provides HTTP endpoints for community reports
type Handler struct {
	service *Service
}

// NewHandler creates a new reputation handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public reputation endpoints. writeGuards run
// before every route that files a report.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, writeGuards ...gin.HandlerFunc) {
	guarded := func(h gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc(nil), writeGuards...), h)
	}
	r.POST("/reports", guarded(h.SubmitReport)...)
	r.POST("/report", guarded(h.SubmitReport)...) // mobile client path
	r.POST("/feedback", guarded(h.SubmitFeedback)...)
	r.GET("/reports/top", h.ListTop)
	r.GET("/receivers/:id", validation.ReceiverParamMiddleware(), h.GetReceiver)
}

// RegisterAdminRoutes sets up operator endpoints. The caller is responsible
// for authentication.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/denylist", h.AddToDenylist)
}

// ReportRequest is the body of POST /v1/reports
type ReportRequest struct {
	Receiver string `json:"receiver"`
	Reason   string `json:"reason"`
}

// FeedbackRequest is the body of POST /v1/feedback
type FeedbackRequest struct {
	Receiver      string `json:"receiver"`
	WasScam       *bool  `json:"was_scam"`
	TransactionID string `json:"transaction_id"`
	Comment       string `json:"comment"`
}

// SubmitReport handles POST /v1/reports
func (h *Handler) SubmitReport(c *gin.Context) {
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'receiver'",
		})
		return
	}
	if !h.validReceiver(c, req.Receiver) {
		return
	}

	rec, err := h.service.Report(c.Request.Context(), req.Receiver, req.Reason)
	if err != nil {
		h.writeError(c, err, "Failed to file report")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"record":     rec,
		"suspicious": h.service.Suspicious(rec),
	})
}

// SubmitFeedback handles POST /v1/feedback
func (h *Handler) SubmitFeedback(c *gin.Context) {
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.WasScam == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'receiver' and 'was_scam'",
		})
		return
	}
	if !h.validReceiver(c, req.Receiver) {
		return
	}

	rec, err := h.service.Feedback(c.Request.Context(), req.Receiver, *req.WasScam)
	if err != nil {
		h.writeError(c, err, "Failed to record feedback")
		return
	}
	resp := gin.H{"recorded": rec != nil}
	if rec != nil {
		resp["record"] = rec
		resp["suspicious"] = h.service.Suspicious(rec)
	}
	c.JSON(http.StatusOK, resp)
}

// GetReceiver handles GET /v1/receivers/:id
func (h *Handler) GetReceiver(c *gin.Context) {
	status, err := h.service.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "Failed to look up receiver")
		return
	}
	c.JSON(http.StatusOK, status)
}

var topLimit = pagination.Limit{Default: 20, Max: 100}

// ListTop handles GET /v1/reports/top?limit=
func (h *Handler) ListTop(c *gin.Context) {
	limit := topLimit.Parse(c.Query("limit"))

	recs, err := h.service.Top(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, err, "Failed to list reports")
		return
	}
	if recs == nil {
		recs = []*Record{}
	}
	c.JSON(http.StatusOK, gin.H{
		"receivers": recs,
		"count":     len(recs),
		"threshold": h.service.Threshold(),
	})
}

// AddToDenylist handles POST /v1/admin/denylist
func (h *Handler) AddToDenylist(c *gin.Context) {
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'receiver'",
		})
		return
	}
	if !h.validReceiver(c, req.Receiver) {
		return
	}

	rec, err := h.service.Flag(c.Request.Context(), req.Receiver, req.Reason)
	if err != nil {
		h.writeError(c, err, "Failed to flag receiver")
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (h *Handler) validReceiver(c *gin.Context, receiver string) bool {
	var fields validation.Fields
	return !fields.Receiver("receiver", Normalize(receiver)).Reject(c)
}

func (h *Handler) writeError(c *gin.Context, err error, message string) {
	if errors.Is(err, ErrInvalidReceiver) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_receiver",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "storage_error",
		"message": message,
	})
}
