package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/easel/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/easel/backend/internal/boards"
	"github.com/MarcoPoloResearchLab/easel/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/easel/backend/internal/presence"
	"github.com/MarcoPoloResearchLab/easel/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const userIDContextKey = "easel_user_id"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingUserService   = errors.New("user service dependency required")
	errMissingBoardService  = errors.New("board service dependency required")
	errMissingNotifications = errors.New("notification service dependency required")
	errMissingGateway       = errors.New("presence gateway dependency required")
	errMissingRelay         = errors.New("presence relay dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// BackendTokenManager issues and validates the API's JWT pairs.
type BackendTokenManager interface {
	IssueTokenPair(ctx context.Context, subject string) (auth.TokenPair, error)
	ValidateAccessToken(token string) (string, error)
	ValidateRefreshToken(token string) (string, error)
}

// Dependencies wires the HTTP surface to the rest of the system.
type Dependencies struct {
	TokenManager  BackendTokenManager
	Users         *users.Service
	Boards        *boards.Service
	Notifications *notifications.Service
	Gateway       *presence.Gateway
	Relay         *presence.Relay
	AllowedOrigin string
	Logger        *zap.Logger
}

// NewHTTPHandler builds the gin router serving the REST API and the
// realtime WebSocket endpoint.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUserService
	}
	if deps.Boards == nil {
		return nil, errMissingBoardService
	}
	if deps.Notifications == nil {
		return nil, errMissingNotifications
	}
	if deps.Gateway == nil {
		return nil, errMissingGateway
	}
	if deps.Relay == nil {
		return nil, errMissingRelay
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	allowedOrigin := deps.AllowedOrigin
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{allowedOrigin},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:        deps.TokenManager,
		users:         deps.Users,
		boards:        deps.Boards,
		notifications: deps.Notifications,
		gateway:       deps.Gateway,
		relay:         deps.Relay,
		logger:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == allowedOrigin
			},
		},
	}

	router.GET("/health", handler.handleHealth)
	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)
	router.POST("/auth/refresh", handler.handleRefresh)
	router.GET("/ws", handler.handleWebSocket)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/boards", handler.handleListBoards)
	protected.POST("/boards", handler.handleCreateBoard)
	protected.GET("/boards/:id", handler.handleGetBoard)
	protected.DELETE("/boards/:id", handler.handleDeleteBoard)
	protected.POST("/boards/save", handler.handleSaveBoard)
	protected.POST("/boards/collaborators", handler.handleAddCollaborator)
	protected.POST("/boards/remove/collaborators", handler.handleRemoveCollaborator)
	protected.GET("/boards/:id/cursors", handler.handleBoardCursors)
	protected.GET("/notifications", handler.handleListNotifications)
	protected.PATCH("/notifications/:id/read", handler.handleMarkRead)
	protected.POST("/notifications/read-all", handler.handleMarkAllRead)

	return router, nil
}

type httpHandler struct {
	tokens        BackendTokenManager
	users         *users.Service
	boards        *boards.Service
	notifications *notifications.Service
	gateway       *presence.Gateway
	relay         *presence.Relay
	logger        *zap.Logger
	upgrader      websocket.Upgrader
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "connected"})
}

type registerRequestPayload struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequestPayload struct {
	RefreshToken string `json:"refreshToken"`
}

type tokensPayload struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

type authResponsePayload struct {
	Status string        `json:"status"`
	Tokens tokensPayload `json:"tokens"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.Email) == "" || strings.TrimSpace(request.Password) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.users.Register(c.Request.Context(), request.Name, request.Email, request.Password)
	if errors.Is(err, users.ErrEmailTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": "email_in_use"})
		return
	}
	if errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err != nil {
		h.logger.Error("registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		return
	}

	response, err := h.issueTokens(c, account.ID)
	if err != nil {
		return
	}
	c.JSON(http.StatusCreated, response)

	h.notify(c.Request.Context(), notifications.AddRequest{
		Kind:     notifications.KindUser,
		TargetID: account.ID,
		Message:  "Welcome, " + account.Name + "! Your account has been successfully created.",
	})
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.users.Authenticate(c.Request.Context(), request.Email, request.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}
	if err != nil {
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	response, err := h.issueTokens(c, account.ID)
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleRefresh(c *gin.Context) {
	var request refreshRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	subject, err := h.tokens.ValidateRefreshToken(request.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := h.users.CheckRefreshToken(c.Request.Context(), subject, request.RefreshToken); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	response, err := h.issueTokens(c, subject)
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, response)
}

// issueTokens signs a fresh pair and rotates the stored refresh token. On
// failure the HTTP error has already been written.
func (h *httpHandler) issueTokens(c *gin.Context, userID string) (authResponsePayload, error) {
	pair, err := h.tokens.IssueTokenPair(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to issue tokens", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return authResponsePayload{}, err
	}
	if err := h.users.StoreRefreshToken(c.Request.Context(), userID, pair.RefreshToken); err != nil {
		h.logger.Error("failed to store refresh token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return authResponsePayload{}, err
	}
	return authResponsePayload{
		Status: "success",
		Tokens: tokensPayload{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			ExpiresIn:    pair.ExpiresIn,
			TokenType:    "Bearer",
		},
	}, nil
}

func (h *httpHandler) handleListBoards(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	views, err := h.boards.ListForUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list boards", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, views)
}

type createBoardPayload struct {
	Title string `json:"title"`
}

func (h *httpHandler) handleCreateBoard(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request createBoardPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	board, err := h.boards.Create(c.Request.Context(), userID, request.Title)
	if err != nil {
		h.writeBoardError(c, err)
		return
	}
	c.JSON(http.StatusCreated, board)

	h.notify(c.Request.Context(), notifications.AddRequest{
		Kind:     notifications.KindUser,
		TargetID: userID,
		Message:  `New board "` + board.Title + `" created.`,
	})
}

func (h *httpHandler) handleGetBoard(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	view, err := h.boards.Get(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.writeBoardError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleDeleteBoard(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	boardID := c.Param("id")
	if err := h.boards.Delete(c.Request.Context(), boardID, userID); err != nil {
		h.writeBoardError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Board deleted successfully"})
}

type saveBoardPayload struct {
	BoardID string  `json:"boardId"`
	Drawing *string `json:"drawing"`
}

func (h *httpHandler) handleSaveBoard(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request saveBoardPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.BoardID == "" || request.Drawing == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	board, err := h.boards.SaveDrawing(c.Request.Context(), request.BoardID, userID, *request.Drawing)
	if err != nil {
		h.writeBoardError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Board saved successfully", "board": board})
}

type addCollaboratorPayload struct {
	BoardID   string `json:"boardId"`
	UserEmail string `json:"userEmail"`
}

func (h *httpHandler) handleAddCollaborator(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request addCollaboratorPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.BoardID == "" || request.UserEmail == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.boards.AddCollaborator(c.Request.Context(), request.BoardID, userID, request.UserEmail); err != nil {
		h.writeBoardError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Collaborator added successfully"})
}

type removeCollaboratorPayload struct {
	BoardID string `json:"boardId"`
	UserID  string `json:"userId"`
}

func (h *httpHandler) handleRemoveCollaborator(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request removeCollaboratorPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.BoardID == "" || request.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.boards.RemoveCollaborator(c.Request.Context(), request.BoardID, userID, request.UserID); err != nil {
		h.writeBoardError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Collaborator removed successfully"})
}

func (h *httpHandler) handleBoardCursors(c *gin.Context) {
	cursors, err := h.gateway.CurrentCursors(c.Param("id"))
	if err != nil {
		h.logger.Error("cursor snapshot unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence_unavailable"})
		return
	}
	c.JSON(http.StatusOK, cursors)
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	result, err := h.notifications.ListForUser(c.Request.Context(), userID, 20, 0)
	if err != nil {
		h.logger.Error("failed to list notifications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleMarkRead(c *gin.Context) {
	notification, err := h.notifications.MarkRead(c.Request.Context(), c.Param("id"))
	if errors.Is(err, notifications.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to mark notification read", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.JSON(http.StatusOK, notification)
}

func (h *httpHandler) handleMarkAllRead(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	updated, err := h.notifications.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to mark notifications read", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notifications marked as read", "updatedCount": updated})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateAccessToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) writeBoardError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, boards.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "board_not_found"})
	case errors.Is(err, users.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
	case errors.Is(err, boards.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "access_denied"})
	case errors.Is(err, boards.ErrOwnerOnly):
		c.JSON(http.StatusForbidden, gin.H{"error": "owner_only"})
	case errors.Is(err, boards.ErrTitleRequired), errors.Is(err, boards.ErrSelfCollaboration):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error("board operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "operation_failed"})
	}
}

func (h *httpHandler) notify(ctx context.Context, request notifications.AddRequest) {
	if _, err := h.notifications.Add(ctx, request); err != nil {
		h.logger.Warn("failed to record notification", zap.Error(err))
	}
}
