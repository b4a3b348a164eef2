package usecase

import (
	"context"
	"sort"
	"time"

	"campusmarket/internal/domain/entity"
	"campusmarket/internal/domain/repository"
	"campusmarket/internal/infrastructure/ratelimit"
	ws "campusmarket/internal/infrastructure/websocket"
	"campusmarket/pkg/errors"
	"campusmarket/pkg/logger"
)

// SessionRegistry is the live-session lookup and push surface the delivery
// protocol fans out through. It is injected so a distributed implementation
// can replace the in-process one without touching this package.
type SessionRegistry interface {
	// SendEvent pushes an event to the user's live session if one exists
	// and reports whether it was handed off. A miss is not an error.
	SendEvent(userID string, eventType string, data interface{}) bool
	OnlineUserIDs() []string
}

// SendOrigin distinguishes the two transports a send can arrive through.
// The synchronous REST fallback returns the persisted message in its
// response, so it must not be echoed back over the registry.
type SendOrigin int

const (
	OriginSocket SendOrigin = iota
	OriginREST
)

type ChatUseCase struct {
	chatRepo    repository.ChatRepository
	listingRepo repository.ListingRepository
	userRepo    repository.UserRepository
	registry    SessionRegistry
	rateLimiter *ratelimit.RateLimiter
	sendTimeout time.Duration
}

// NewChatUseCase builds the delivery protocol. sendTimeout bounds the
// persistence work of a live-transport send; zero selects the default.
func NewChatUseCase(
	chatRepo repository.ChatRepository,
	listingRepo repository.ListingRepository,
	userRepo repository.UserRepository,
	registry SessionRegistry,
	sendTimeout time.Duration,
) *ChatUseCase {
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}

	rateLimiter := ratelimit.NewRateLimiter()
	rateLimiter.StartCleanupRoutine()

	return &ChatUseCase{
		chatRepo:    chatRepo,
		listingRepo: listingRepo,
		userRepo:    userRepo,
		registry:    registry,
		rateLimiter: rateLimiter,
		sendTimeout: sendTimeout,
	}
}

type SendMessageInput struct {
	ChatID    string
	ListingID string
	Content   string
	Origin    SendOrigin
}

type ChatResponse struct {
	*entity.Chat
	Listing   *entity.Listing     `json:"listing,omitempty"`
	OtherUser *entity.UserSummary `json:"other_user,omitempty"`
}

type ChatDetail struct {
	Chat     *entity.Chat                  `json:"chat"`
	Messages []*entity.Message             `json:"messages"`
	Users    map[string]entity.UserSummary `json:"users,omitempty"`
}

type StatusInput struct {
	ChatID string
	Status string
}

type statusPayload struct {
	SenderID string `json:"sender_id"`
	ChatID   string `json:"chat_id,omitempty"`
	Status   string `json:"status"`
}

// SendMessage is the single entry point for both transports: it resolves or
// creates the chat, persists the message, updates the chat summary, and fans
// out to the recipient's live session if one exists. The persisted record is
// the durable source of truth; the push is best-effort.
func (uc *ChatUseCase) SendMessage(ctx context.Context, senderID string, input SendMessageInput) (*entity.Message, error) {
	allowed, waitTime := uc.rateLimiter.Allow(senderID, "send_message")
	if !allowed {
		logger.Warn("SendMessage rate limited: user %s must wait %v", senderID, waitTime)
		return nil, errors.TooManyRequests("Rate limit exceeded. Please wait before sending another message")
	}

	if input.Content == "" {
		return nil, errors.BadRequest("Message content is required", nil)
	}

	chat, err := uc.resolveChat(ctx, senderID, input)
	if err != nil {
		return nil, err
	}

	message := &entity.Message{
		ChatID:     chat.ID,
		ListingID:  chat.ListingID,
		SenderID:   senderID,
		ReceiverID: chat.OtherParticipant(senderID),
		Content:    input.Content,
	}

	if err := uc.chatRepo.CreateMessage(ctx, message); err != nil {
		logger.Error("SendMessage: failed to persist message for chat %s: %v", chat.ID, err)
		return nil, err
	}

	if err := uc.chatRepo.UpdateSummary(ctx, chat.ID, message.Content, message.CreatedAt); err != nil {
		logger.Error("SendMessage: failed to update summary for chat %s: %v", chat.ID, err)
		return nil, err
	}

	if delivered := uc.registry.SendEvent(message.ReceiverID, ws.EventMessage, message); !delivered {
		// Recipient has no live session; they will see the message on their
		// next history fetch.
		logger.Debug("SendMessage: recipient %s not reachable live, message %s stored", message.ReceiverID, message.ID)
	}

	if input.Origin == OriginSocket {
		uc.registry.SendEvent(senderID, ws.EventMessageSent, message)
	}

	return message, nil
}

// resolveChat returns the chat a send belongs to, reusing an existing chat
// for the (listing, buyer) pair before creating a new one so a retried
// start-conversation action cannot proliferate duplicates.
func (uc *ChatUseCase) resolveChat(ctx context.Context, senderID string, input SendMessageInput) (*entity.Chat, error) {
	if input.ChatID != "" {
		chat, err := uc.chatRepo.GetByID(ctx, input.ChatID)
		if err != nil {
			logger.Error("resolveChat: chat %s not found: %v", input.ChatID, err)
			return nil, err
		}
		if !chat.HasParticipant(senderID) {
			logger.Warn("resolveChat: user %s is not a participant in chat %s", senderID, input.ChatID)
			return nil, errors.Forbidden("User is not a participant in this chat", nil)
		}
		return chat, nil
	}

	if input.ListingID == "" {
		return nil, errors.BadRequest("Either chat_id or listing_id is required", nil)
	}

	listing, err := uc.listingRepo.GetByID(ctx, input.ListingID)
	if err != nil {
		logger.Error("resolveChat: listing %s not found: %v", input.ListingID, err)
		return nil, err
	}

	if senderID == listing.OwnerID {
		return nil, errors.BadRequest("You cannot start a chat on your own listing", nil)
	}

	existing, err := uc.chatRepo.GetByListingAndBuyer(ctx, input.ListingID, senderID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, "NOT_FOUND") {
		logger.Error("resolveChat: failed to look up existing chat for listing %s: %v", input.ListingID, err)
		return nil, err
	}

	allowed, waitTime := uc.rateLimiter.Allow(senderID, "create_chat")
	if !allowed {
		logger.Warn("resolveChat rate limited: user %s must wait %v", senderID, waitTime)
		return nil, errors.TooManyRequests("Rate limit exceeded. Please wait before starting another conversation")
	}

	chat := &entity.Chat{
		ListingID: input.ListingID,
		SellerID:  listing.OwnerID,
		BuyerID:   senderID,
	}
	if err := uc.chatRepo.Create(ctx, chat); err != nil {
		logger.Error("resolveChat: failed to create chat for listing %s: %v", input.ListingID, err)
		return nil, err
	}

	return chat, nil
}

// StartConversation handles the REST create-chat flow: it sends the opening
// message through the common delivery path and returns the resulting chat.
func (uc *ChatUseCase) StartConversation(ctx context.Context, buyerID, listingID, content string) (*ChatDetail, error) {
	message, err := uc.SendMessage(ctx, buyerID, SendMessageInput{
		ListingID: listingID,
		Content:   content,
		Origin:    OriginREST,
	})
	if err != nil {
		return nil, err
	}

	chat, err := uc.chatRepo.GetByID(ctx, message.ChatID)
	if err != nil {
		return nil, err
	}

	return &ChatDetail{
		Chat:     chat,
		Messages: []*entity.Message{message},
	}, nil
}

// GetChatByID returns a chat with its full message history sorted ascending
// for display, plus display summaries for both participants.
func (uc *ChatUseCase) GetChatByID(ctx context.Context, userID, chatID string) (*ChatDetail, error) {
	chat, err := uc.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		logger.Error("GetChatByID: chat %s not found: %v", chatID, err)
		return nil, err
	}

	if !chat.HasParticipant(userID) {
		logger.Warn("GetChatByID: user %s is not a participant in chat %s", userID, chatID)
		return nil, errors.Forbidden("User is not a participant in this chat", nil)
	}

	messages, _, err := uc.chatRepo.ListMessagesByChat(ctx, chatID, 0, 0)
	if err != nil {
		logger.Error("GetChatByID: failed to list messages for chat %s: %v", chatID, err)
		return nil, err
	}

	// The store orders newest-first; display order is oldest-first.
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	users, err := uc.userRepo.Summaries(ctx, []string{chat.BuyerID, chat.SellerID})
	if err != nil {
		logger.Warn("GetChatByID: failed to resolve participant summaries for chat %s: %v", chatID, err)
		users = nil
	}

	return &ChatDetail{
		Chat:     chat,
		Messages: messages,
		Users:    users,
	}, nil
}

// ListChats returns the user's chats newest-updated first, decorated with
// listing and counterpart info where available.
func (uc *ChatUseCase) ListChats(ctx context.Context, userID string, limit, offset int) ([]*ChatResponse, int64, error) {
	chats, total, err := uc.chatRepo.ListByUserID(ctx, userID, limit, offset)
	if err != nil {
		logger.Error("ListChats: failed to list chats for user %s: %v", userID, err)
		return nil, 0, err
	}

	var responses []*ChatResponse
	for _, chat := range chats {
		resp := &ChatResponse{Chat: chat}

		if chat.ListingID != "" {
			listing, err := uc.listingRepo.GetByID(ctx, chat.ListingID)
			if err == nil {
				resp.Listing = listing
			} else {
				logger.Warn("ListChats: listing %s not found for chat %s: %v", chat.ListingID, chat.ID, err)
			}
		}

		other, err := uc.userRepo.GetByID(ctx, chat.OtherParticipant(userID))
		if err == nil {
			summary := other.Summary()
			resp.OtherUser = &summary
		} else {
			logger.Warn("ListChats: counterpart not found for chat %s: %v", chat.ID, err)
		}

		responses = append(responses, resp)
	}

	return responses, total, nil
}

// MarkMessageRead flips the one mutable field on a persisted message.
func (uc *ChatUseCase) MarkMessageRead(ctx context.Context, userID, chatID, messageID string) error {
	chat, err := uc.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		logger.Error("MarkMessageRead: chat %s not found: %v", chatID, err)
		return err
	}

	if !chat.HasParticipant(userID) {
		return errors.Forbidden("User is not a participant in this chat", nil)
	}

	return uc.chatRepo.UpdateMessageReadStatus(ctx, chatID, messageID)
}

// HandleStatus forwards a best-effort typing/presence signal to the other
// side of a chat. The recipient is always resolved from the chat, and the
// sender must be a participant. Never delivery-critical, never an error to
// the sender.
func (uc *ChatUseCase) HandleStatus(ctx context.Context, senderID string, input StatusInput) {
	allowed, _ := uc.rateLimiter.Allow(senderID, "status")
	if !allowed {
		return
	}

	if input.ChatID == "" {
		return
	}

	chat, err := uc.chatRepo.GetByID(ctx, input.ChatID)
	if err != nil || !chat.HasParticipant(senderID) {
		return
	}

	uc.registry.SendEvent(chat.OtherParticipant(senderID), ws.EventStatus, statusPayload{
		SenderID: senderID,
		ChatID:   input.ChatID,
		Status:   input.Status,
	})
}

// DeliverLiveMessage implements the websocket MessageSink: a send arriving
// over the live transport runs the same persistence path as the REST
// fallback, and failures are pushed back as error events.
func (uc *ChatUseCase) DeliverLiveMessage(ctx context.Context, senderID string, in ws.InboundMessage) {
	// Live sends have no waiting HTTP request to bound them.
	ctx, cancel := context.WithTimeout(ctx, uc.sendTimeout)
	defer cancel()

	_, err := uc.SendMessage(ctx, senderID, SendMessageInput{
		ChatID:    in.ChatID,
		ListingID: in.ListingID,
		Content:   in.Content,
		Origin:    OriginSocket,
	})
	if err != nil {
		logger.Warn("DeliverLiveMessage: send from %s rejected: %v", senderID, err)
		uc.registry.SendEvent(senderID, ws.EventError, map[string]string{"error": err.Error()})
	}
}

// DeliverStatus implements the websocket MessageSink for status signals.
func (uc *ChatUseCase) DeliverStatus(ctx context.Context, senderID string, in ws.InboundStatus) {
	uc.HandleStatus(ctx, senderID, StatusInput{
		ChatID: in.ChatID,
		Status: in.Status,
	})
}
