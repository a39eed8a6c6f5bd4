package risk

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/payguard/internal/pagination"
	"github.com/mbd888/payguard/internal/telemetry"
	"github.com/mbd888/payguard/internal/validation"
)

// Handler provides HTTP endpoints for transaction screening.
type Handler struct {
	service *Service
}

// NewHandler creates a new screening handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up screening routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/analyze", h.Analyze)
	r.GET("/receivers/:id/verdicts", validation.ReceiverParamMiddleware(), h.ListVerdicts)
}

// AnalyzeRequest is the body of POST /v1/analyze. Older clients send the
// note as "reason" or "message" and the receiver as "receiverId".
type AnalyzeRequest struct {
	Receiver        string             `json:"receiver"`
	ReceiverID      string             `json:"receiverId"`
	Amount          float64            `json:"amount"`
	Note            string             `json:"note"`
	Reason          string             `json:"reason"`
	Message         string             `json:"message"`
	Timestamp       *time.Time         `json:"timestamp"`
	TypingSpeedCPM  *int               `json:"typingSpeedCpm"`
	HesitationCount *int               `json:"hesitationCount"`
	Keystrokes      []telemetry.Sample `json:"keystrokes"`
	// ExternalScore, when present, replaces the authority lookup.
	ExternalScore json.RawMessage `json:"externalScore"`
}

// toTransaction maps the wire form to a TransactionRequest.
func (r AnalyzeRequest) toTransaction() TransactionRequest {
	tx := TransactionRequest{
		ReceiverID:      firstNonEmpty(r.Receiver, r.ReceiverID),
		Amount:          r.Amount,
		Note:            validation.SanitizeString(firstNonEmpty(r.Note, r.Reason, r.Message), validation.MaxNoteLength),
		TypingSpeedCPM:  r.TypingSpeedCPM,
		HesitationCount: r.HesitationCount,
	}
	if r.Timestamp != nil {
		tx.Timestamp = *r.Timestamp
	}
	if len(r.Keystrokes) > 0 {
		sum := telemetry.Summarize(r.Keystrokes)
		if tx.TypingSpeedCPM == nil {
			tx.TypingSpeedCPM = sum.TypingSpeedCPM
		}
		if tx.HesitationCount == nil {
			tx.HesitationCount = sum.HesitationCount
		}
	}
	return tx
}

// Analyze handles POST /v1/analyze
func (h *Handler) Analyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	tx := req.toTransaction()
	var fields validation.Fields
	fields.Receiver("receiver", tx.ReceiverID).
		Amount("amount", tx.Amount).
		Count("hesitationCount", tx.HesitationCount).
		Count("typingSpeedCpm", tx.TypingSpeedCPM)
	if fields.Reject(c) {
		return
	}

	var external *ExternalScore
	if len(req.ExternalScore) > 0 {
		ext := ParseExternalScore(req.ExternalScore)
		external = &ext
	}

	assessment, err := h.service.Screen(c.Request.Context(), tx, external)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to screen transaction",
		})
		return
	}

	c.JSON(http.StatusOK, assessment)
}

var verdictLimit = pagination.Limit{Default: 50, Max: 200}

// ListVerdicts handles GET /v1/receivers/:id/verdicts?limit=&cursor=
func (h *Handler) ListVerdicts(c *gin.Context) {
	receiverID := validation.SanitizeReceiverID(c.Param("id"))
	limit := verdictLimit.Parse(c.Query("limit"))

	cursor, err := pagination.Parse(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Cursor is malformed",
		})
		return
	}

	list, err := h.service.History(c.Request.Context(), receiverID, limit+1, cursor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "query_failed",
			"message": "Failed to list verdicts",
		})
		return
	}

	page := pagination.NewPage(list, limit, func(a *RiskAssessment) (time.Time, string) {
		return a.CreatedAt, a.ID
	})
	c.JSON(http.StatusOK, gin.H{
		"receiverId":  receiverID,
		"assessments": page.Items,
		"count":       len(page.Items),
		"nextCursor":  page.NextCursor,
		"hasMore":     page.HasMore,
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
