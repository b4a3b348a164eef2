package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"campusmarket/internal/usecase"
	"campusmarket/pkg/response"
	"campusmarket/pkg/utils"
)

type ChatHandler struct {
	chatUseCase *usecase.ChatUseCase
}

func NewChatHandler(chatUseCase *usecase.ChatUseCase) *ChatHandler {
	return &ChatHandler{
		chatUseCase: chatUseCase,
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id" validate:"required_without=ListingID"`
	ListingID string `json:"listing_id" validate:"required_without=ChatID"`
	Content   string `json:"content" validate:"required"`
}

type startConversationRequest struct {
	ListingID string `json:"listing_id" validate:"required"`
	Content   string `json:"content" validate:"required"`
}

// SendMessage is the synchronous fallback for the live transport: it runs
// the same delivery path and returns the persisted message directly, so
// nothing is echoed back to the sender over the registry.
func (h *ChatHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	message, err := h.chatUseCase.SendMessage(c.Request().Context(), userID, usecase.SendMessageInput{
		ChatID:    req.ChatID,
		ListingID: req.ListingID,
		Content:   req.Content,
		Origin:    usecase.OriginREST,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

// StartConversation creates (or reuses) the chat for a listing and sends the
// opening message.
func (h *ChatHandler) StartConversation(c echo.Context) error {
	var req startConversationRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	detail, err := h.chatUseCase.StartConversation(c.Request().Context(), userID, req.ListingID, req.Content)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, detail)
}

// ListChats returns the authenticated user's chats, newest-updated first.
func (h *ChatHandler) ListChats(c echo.Context) error {
	userID := c.Get("uid").(string)

	params := utils.GetPaginationParams(c, 20)

	chats, total, err := h.chatUseCase.ListChats(c.Request().Context(), userID, params.Limit, params.Offset)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Paginated(c, chats, total, params.Limit, params.Offset)
}

// GetChatByID returns a chat with its messages in display (ascending) order.
func (h *ChatHandler) GetChatByID(c echo.Context) error {
	chatID := c.Param("id")
	userID := c.Get("uid").(string)

	detail, err := h.chatUseCase.GetChatByID(c.Request().Context(), userID, chatID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, detail)
}

// MarkMessageRead marks a single message as read.
func (h *ChatHandler) MarkMessageRead(c echo.Context) error {
	chatID := c.Param("id")
	messageID := c.Param("messageId")
	userID := c.Get("uid").(string)

	if err := h.chatUseCase.MarkMessageRead(c.Request().Context(), userID, chatID, messageID); err != nil {
		return response.Error(c, err)
	}

	return c.NoContent(http.StatusOK)
}
