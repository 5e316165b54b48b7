package api

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ericobon/EsferaZap-sub001/internal/ai"
	"github.com/Ericobon/EsferaZap-sub001/internal/channel"
	"github.com/Ericobon/EsferaZap-sub001/internal/dispatch"
	"github.com/Ericobon/EsferaZap-sub001/internal/session"
	"github.com/Ericobon/EsferaZap-sub001/internal/store"
)

type handlers struct {
	db        *store.DB
	registry  *session.Registry
	processor *dispatch.Processor
	ai        *ai.Registry
	logger    *zap.Logger
}

// --- webhook + test ingress ---

type inboundRequest struct {
	FromAddress       string `json:"fromAddress" binding:"required"`
	Content           string `json:"content" binding:"required"`
	MessageType       string `json:"messageType"`
	DisplayName       string `json:"displayName"`
	Timestamp         int64  `json:"timestamp"`
	ProviderMessageID string `json:"providerMessageId"`
}

// webhook accepts an inbound message: the row is persisted before the 200
// goes out so per-conversation receipt order survives, while the AI call and
// delivery continue after the response is written.
func (h *handlers) webhook(c *gin.Context) {
	botID := c.Param("botID")

	var req inboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.processor.HandleDetached(botID, req.FromAddress, req.DisplayName, req.Content, req.MessageType)
	switch {
	case errors.Is(err, dispatch.ErrBotNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "bot not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"accepted": true})
	}
}

// testMessage is the dashboard's synchronous ingress: it runs the same
// pipeline but waits for generation and returns the reply for display.
func (h *handlers) testMessage(c *gin.Context) {
	botID := c.Param("botID")

	var req inboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reply, err := h.processor.Handle(c.Request.Context(), botID, req.FromAddress, req.DisplayName, req.Content, req.MessageType)
	switch {
	case errors.Is(err, dispatch.ErrBotNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "bot not found"})
	case errors.Is(err, ai.ErrProviderUnavailable), errors.Is(err, ai.ErrInvalidResponse):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"reply": reply})
	}
}

// --- connection lifecycle ---

func (h *handlers) connect(c *gin.Context) {
	botID := c.Param("botID")

	bot, err := h.db.GetBot(botID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if bot == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "bot not found"})
		return
	}

	s, err := h.registry.GetOrCreate(botID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	artifact, err := s.Start(c.Request.Context())
	if errors.Is(err, session.ErrAlreadyActive) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": string(s.State())})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, statusBody(s.State(), artifact))
}

func (h *handlers) disconnect(c *gin.Context) {
	botID := c.Param("botID")
	if _, err := h.registry.Get(botID); errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session for bot"})
		return
	}
	if err := h.registry.Remove(botID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(session.Disconnected)})
}

func (h *handlers) status(c *gin.Context) {
	botID := c.Param("botID")

	state, err := h.registry.Status(botID)
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"status": string(session.Disconnected)})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, statusBody(state, h.registry.Artifact(botID)))
}

// pair approves the pairing artifact on the simulated transport. Production
// transports complete pairing from the counterpart device, not this endpoint.
func (h *handlers) pair(c *gin.Context) {
	botID := c.Param("botID")

	s, err := h.registry.Get(botID)
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session for bot"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	sim, ok := s.Transport().(*channel.Simulated)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pairing is approved on the counterpart device for this channel"})
		return
	}
	sim.Pair()
	c.JSON(http.StatusOK, gin.H{"status": string(s.State())})
}

func statusBody(state session.State, artifact *channel.Artifact) gin.H {
	body := gin.H{"status": string(state)}
	if state == session.PairingRequired && artifact != nil {
		body["pairingCode"] = artifact.Code
		if len(artifact.QRImage) > 0 {
			body["pairingQr"] = base64.StdEncoding.EncodeToString(artifact.QRImage)
		}
	}
	return body
}

// --- bot CRUD ---

type botRequest struct {
	OwnerID        string  `json:"ownerId" binding:"required"`
	DisplayName    string  `json:"displayName"`
	ChannelAddress string  `json:"channelAddress"`
	AIProvider     string  `json:"aiProvider"`
	AIModel        string  `json:"aiModel"`
	SystemPrompt   string  `json:"systemPrompt"`
	Temperature    float64 `json:"temperature"`
	MaxTokens      int     `json:"maxTokens"`
}

func botJSON(b *store.Bot) gin.H {
	return gin.H{
		"id":             b.ID,
		"ownerId":        b.OwnerID,
		"displayName":    b.DisplayName,
		"channelAddress": b.ChannelAddress,
		"aiProvider":     b.AIProvider,
		"aiModel":        b.AIModel,
		"systemPrompt":   b.SystemPrompt,
		"temperature":    b.Temperature,
		"maxTokens":      b.MaxTokens,
		"status":         string(b.Status),
		"createdAt":      b.CreatedAt,
		"updatedAt":      b.UpdatedAt,
	}
}

func (h *handlers) createBot(c *gin.Context) {
	var req botRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	provider := req.AIProvider
	if provider == "" {
		provider = "openai"
	}
	if _, err := h.ai.Get(provider); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bot := &store.Bot{
		ID:             uuid.NewString(),
		OwnerID:        req.OwnerID,
		DisplayName:    req.DisplayName,
		ChannelAddress: req.ChannelAddress,
		AIProvider:     provider,
		AIModel:        req.AIModel,
		SystemPrompt:   req.SystemPrompt,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
	}
	if err := h.db.CreateBot(bot); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, botJSON(bot))
}

func (h *handlers) listBots(c *gin.Context) {
	ownerID := c.Query("ownerId")
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ownerId query parameter required"})
		return
	}
	bots, err := h.db.ListBots(ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(bots))
	for i := range bots {
		out = append(out, botJSON(&bots[i]))
	}
	c.JSON(http.StatusOK, gin.H{"bots": out})
}

func (h *handlers) getBot(c *gin.Context) {
	bot, err := h.db.GetBot(c.Param("botID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if bot == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "bot not found"})
		return
	}
	c.JSON(http.StatusOK, botJSON(bot))
}

type updateBotRequest struct {
	DisplayName  string  `json:"displayName"`
	AIProvider   string  `json:"aiProvider"`
	AIModel      string  `json:"aiModel"`
	SystemPrompt string  `json:"systemPrompt"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"maxTokens"`
}

func (h *handlers) updateBot(c *gin.Context) {
	bot, err := h.db.GetBot(c.Param("botID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if bot == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "bot not found"})
		return
	}

	var req updateBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.AIProvider != "" {
		if _, err := h.ai.Get(req.AIProvider); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		bot.AIProvider = req.AIProvider
	}
	if req.DisplayName != "" {
		bot.DisplayName = req.DisplayName
	}
	bot.AIModel = req.AIModel
	bot.SystemPrompt = req.SystemPrompt
	bot.Temperature = req.Temperature
	bot.MaxTokens = req.MaxTokens

	if err := h.db.UpdateBotConfig(bot); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, botJSON(bot))
}

func (h *handlers) deleteBot(c *gin.Context) {
	botID := c.Param("botID")
	// Tear down any live session first; queued sends fail harmlessly.
	_ = h.registry.Remove(botID)
	if err := h.db.DeleteBot(botID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// --- conversations ---

func (h *handlers) listConversations(c *gin.Context) {
	convs, err := h.db.ListConversations(c.Param("botID"), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(convs))
	for _, conv := range convs {
		out = append(out, gin.H{
			"id":                 conv.ID,
			"botId":              conv.BotID,
			"counterpartAddress": conv.CounterpartAddress,
			"counterpartName":    conv.CounterpartName,
			"isActive":           conv.IsActive,
			"assignedToAgent":    conv.AssignedToAgent,
			"lastMessageAt":      conv.LastMessageAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

func (h *handlers) listMessages(c *gin.Context) {
	msgs, err := h.db.ListRecentMessages(c.Param("id"), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, gin.H{
			"id":        m.ID,
			"content":   m.Content,
			"direction": m.Direction,
			"type":      m.MsgType,
			"status":    m.Status,
			"timestamp": m.Timestamp,
		})
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

type assignRequest struct {
	Assigned bool `json:"assigned"`
}

func (h *handlers) assignConversation(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.db.SetConversationAssigned(c.Param("id"), req.Assigned); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignedToAgent": req.Assigned})
}

// --- analytics ---

type sentimentRequest struct {
	Text     string `json:"text" binding:"required"`
	Provider string `json:"provider"`
}

func (h *handlers) sentiment(c *gin.Context) {
	var req sentimentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	provider := req.Provider
	if provider == "" {
		provider = "openai"
	}
	backend, err := h.ai.Get(provider)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := backend.ClassifySentiment(c.Request.Context(), req.Text)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rating": result.Rating, "confidence": result.Confidence})
}
