package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"voicecampaign-platform/internal/auth"
	"voicecampaign-platform/internal/campaign"
	"voicecampaign-platform/internal/reporting"
	"voicecampaign-platform/internal/schedule"
	"voicecampaign-platform/internal/wallet"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth         *auth.Manager
	Wallet       *wallet.Service
	Campaigns    *campaign.Service
	CampaignRepo *campaign.Repository
	Reports      *reporting.Service
}

// --- Auth ---

type loginRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	WorkspaceID string `json:"workspace_id" binding:"required"`
	Role        string `json:"role" binding:"required"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, workspace_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.WorkspaceID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Campaigns ---

type recipientInput struct {
	Phone     string            `json:"phone" binding:"required"`
	Name      string            `json:"name,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

type createCampaignRequest struct {
	Name           string                  `json:"name" binding:"required"`
	AssistantID    string                  `json:"assistant_id" binding:"required"`
	PromptTemplate string                  `json:"prompt_template,omitempty"`
	ModelProvider  string                  `json:"model_provider,omitempty"`
	Model          string                  `json:"model,omitempty"`
	Hours          *schedule.BusinessHours `json:"hours,omitempty"`
	Recipients     []recipientInput        `json:"recipients,omitempty"`
}

func (h Handlers) CreateCampaign(c *gin.Context) {
	workspaceID, ok := requireWorkspace(c)
	if !ok {
		return
	}

	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Hours != nil {
		if err := req.Hours.Validate(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	camp := campaign.Campaign{
		WorkspaceID:    workspaceID,
		Name:           req.Name,
		AssistantID:    req.AssistantID,
		PromptTemplate: req.PromptTemplate,
		ModelProvider:  req.ModelProvider,
		Model:          req.Model,
		Hours:          req.Hours,
	}
	if err := h.CampaignRepo.CreateCampaign(c.Request.Context(), &camp); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaign create failed"})
		return
	}

	if len(req.Recipients) > 0 {
		if err := h.CampaignRepo.InsertRecipients(c.Request.Context(), workspaceID, camp.ID, toRecipients(req.Recipients)); err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "recipient insert failed"})
			return
		}
		camp.TotalRecipients = len(req.Recipients)
	}

	c.JSON(http.StatusCreated, camp)
}

type addRecipientsRequest struct {
	Recipients []recipientInput `json:"recipients" binding:"required,min=1"`
}

func (h Handlers) AddRecipients(c *gin.Context) {
	workspaceID, ok := requireWorkspace(c)
	if !ok {
		return
	}
	campaignID := c.Param("campaign_id")

	var req addRecipientsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.CampaignRepo.GetCampaign(c.Request.Context(), workspaceID, campaignID); err != nil {
		abortRepoErr(c, err)
		return
	}
	if err := h.CampaignRepo.InsertRecipients(c.Request.Context(), workspaceID, campaignID, toRecipients(req.Recipients)); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "recipient insert failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": len(req.Recipients)})
}

func (h Handlers) GetCampaign(c *gin.Context) {
	workspaceID, ok := requireWorkspace(c)
	if !ok {
		return
	}
	camp, err := h.CampaignRepo.GetCampaign(c.Request.Context(), workspaceID, c.Param("campaign_id"))
	if err != nil {
		abortRepoErr(c, err)
		return
	}
	c.JSON(http.StatusOK, camp)
}

func (h Handlers) StartCampaign(c *gin.Context)  { h.transition(c, h.Campaigns.Start, "active") }
func (h Handlers) PauseCampaign(c *gin.Context)  { h.transition(c, h.Campaigns.Pause, "paused") }
func (h Handlers) ResumeCampaign(c *gin.Context) { h.transition(c, h.Campaigns.Resume, "active") }
func (h Handlers) CancelCampaign(c *gin.Context) { h.transition(c, h.Campaigns.Cancel, "cancelled") }

func (h Handlers) transition(c *gin.Context, fn func(ctx context.Context, workspaceID, campaignID string) error, status string) {
	workspaceID, ok := requireWorkspace(c)
	if !ok {
		return
	}
	campaignID := c.Param("campaign_id")

	if err := fn(c.Request.Context(), workspaceID, campaignID); err != nil {
		abortRepoErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": campaignID, "status": status})
}

// --- Wallet ---

func (h Handlers) GetWalletBalance(c *gin.Context) {
	workspaceID, ok := requireWorkspace(c)
	if !ok {
		return
	}
	walletID := c.Param("wallet_id")

	bal, err := h.Wallet.GetBalance(c.Request.Context(), workspaceID, walletID)
	if err != nil {
		if errors.Is(err, wallet.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "wallet not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
		return
	}
	c.JSON(http.StatusOK, bal)
}

type creditRequest struct {
	AmountMinor    int64  `json:"amount_minor" binding:"required,gt=0"`
	Currency       string `json:"currency" binding:"required"`
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
	Metadata       string `json:"metadata,omitempty"`
}

// CreditWallet tops a wallet up. RBAC: owner or super_admin.
func (h Handlers) CreditWallet(c *gin.Context) {
	workspaceID, ok := requireWorkspace(c)
	if !ok {
		return
	}
	walletID := c.Param("wallet_id")

	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	_, bal, err := h.Wallet.Credit(c.Request.Context(), workspaceID, walletID, wallet.CreditRequest{
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		ExternalRef:    "topup",
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
	})
	if err != nil {
		if errors.Is(err, wallet.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "wallet not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, bal)
}

// --- Reports ---

func (h Handlers) CallsSummary(c *gin.Context) {
	workspaceID, ok := requireWorkspace(c)
	if !ok {
		return
	}
	rng, ok := parseRange(c)
	if !ok {
		return
	}

	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		WorkspaceID: workspaceID,
		Range:       rng,
		CampaignID:  c.Query("campaign_id"),
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) SpendSummary(c *gin.Context) {
	workspaceID, ok := requireWorkspace(c)
	if !ok {
		return
	}
	rng, ok := parseRange(c)
	if !ok {
		return
	}

	out, err := h.Reports.SpendSummary(c.Request.Context(), reporting.SpendSummaryRequest{
		WorkspaceID: workspaceID,
		Range:       rng,
		WalletID:    c.Query("wallet_id"),
		Currency:    c.Query("currency"),
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- helpers ---

func requireWorkspace(c *gin.Context) (string, bool) {
	workspaceID, err := auth.WorkspaceID(c.Request.Context())
	if err != nil || workspaceID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return "", false
	}
	return workspaceID, true
}

func abortRepoErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
	case errors.Is(err, campaign.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "invalid campaign status transition"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func toRecipients(in []recipientInput) []campaign.Recipient {
	out := make([]campaign.Recipient, 0, len(in))
	for _, r := range in {
		out = append(out, campaign.Recipient{Phone: r.Phone, Name: r.Name, Variables: r.Variables})
	}
	return out
}

// parseRange reads from/to as unix seconds, defaulting to the last 7 days.
func parseRange(c *gin.Context) (reporting.TimeRange, bool) {
	now := time.Now().UTC()
	rng := reporting.TimeRange{From: now.AddDate(0, 0, -7), To: now}

	if v := c.Query("from"); v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be unix seconds"})
			return reporting.TimeRange{}, false
		}
		rng.From = time.Unix(sec, 0).UTC()
	}
	if v := c.Query("to"); v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be unix seconds"})
			return reporting.TimeRange{}, false
		}
		rng.To = time.Unix(sec, 0).UTC()
	}
	return rng, true
}
