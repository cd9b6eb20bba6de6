// Package telegram connects a Telegram bot to the gateway. Every chat is one
// channel context.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Emperor-Ovaltine/gideon/internal/delivery"
	"github.com/Emperor-Ovaltine/gideon/internal/gateway"
	"github.com/Emperor-Ovaltine/gideon/internal/types"
)

// Source is the route prefix and event source of Telegram traffic.
const Source = "telegram"

const maxTelegramMessage = 4096

// bot is the part of *tgbotapi.BotAPI the adapter uses.
type bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// CommandInfo is a command advertised in the Telegram client's menu.
type CommandInfo struct {
	Name        string
	Description string
}

// Adapter bridges Telegram to the gateway.
type Adapter struct {
	api     *tgbotapi.BotAPI
	bot     bot
	gateway *gateway.Gateway
}

// New creates a Telegram adapter.
func New(token string, gw *gateway.Gateway) (*Adapter, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Adapter{
		api:     api,
		bot:     api,
		gateway: gw,
	}, nil
}

// Register installs the adapter as the delivery handler for Telegram routes.
func (a *Adapter) Register(reg *delivery.Registry) {
	reg.Register(Source+":", a.Deliver)
}

// SetCommands publishes the command menu.
func (a *Adapter) SetCommands(commands []CommandInfo) error {
	botCommands := make([]tgbotapi.BotCommand, 0, len(commands))
	for _, c := range commands {
		botCommands = append(botCommands, tgbotapi.BotCommand{Command: c.Name, Description: c.Description})
	}
	if _, err := a.bot.Request(tgbotapi.NewSetMyCommands(botCommands...)); err != nil {
		return fmt.Errorf("set commands: %w", err)
	}
	return nil
}

// Start long-polls for updates until ctx is done.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.api.GetUpdatesChan(u)
	slog.Info("telegram polling started", "bot", a.api.Self.UserName)

	for {
		select {
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.api.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	event := a.buildEvent(msg)
	if event == nil {
		return
	}
	chatID := msg.Chat.ID

	err := a.gateway.HandleInbound(ctx, event, gateway.WithOnComplete(func(response string) {
		a.sendResponse(chatID, response)
	}))
	switch {
	case errors.Is(err, gateway.ErrClosed):
		a.sendResponse(chatID, "I'm restarting, please try again in a moment.")
	case err != nil:
		slog.Error("handle inbound failed", "chat", chatID, "error", err)
		a.sendResponse(chatID, "Sorry, I encountered an error processing your message.")
	}
}

// buildEvent turns a message into an inbound event. Messages with neither
// text nor a photo are ignored.
func (a *Adapter) buildEvent(msg *tgbotapi.Message) *types.InboundEvent {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	var attachments []string
	if n := len(msg.Photo); n > 0 {
		// sizes are ordered smallest first
		url, err := a.bot.GetFileDirectURL(msg.Photo[n-1].FileID)
		if err != nil {
			slog.Warn("resolve photo url failed", "chat", msg.Chat.ID, "error", err)
		} else {
			attachments = append(attachments, url)
		}
	}
	if text == "" && len(attachments) == 0 {
		return nil
	}

	event := &types.InboundEvent{
		Source:         Source,
		Key:            chatKey(msg.Chat.ID),
		Text:           text,
		AttachmentRefs: attachments,
	}
	if msg.From != nil {
		event.UserID = strconv.FormatInt(msg.From.ID, 10)
		event.UserName = displayName(msg.From)
	}
	return event
}

func displayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return strconv.FormatInt(u.ID, 10)
	}
	return name
}

func chatKey(chatID int64) types.ContextKey {
	return types.ChannelKey(strconv.FormatInt(chatID, 10))
}

// Deliver sends out to the chat named by route. It is the delivery handler
// for Telegram routes.
func (a *Adapter) Deliver(route string, out delivery.Outbound) error {
	_, key, err := delivery.ParseRoute(route)
	if err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(key.ChannelID, 10, 64)
	if err != nil {
		return fmt.Errorf("route %s: chat id: %w", route, err)
	}

	if len(out.Image) > 0 {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "scene.png", Bytes: out.Image})
		photo.Caption = out.Caption
		if _, err := a.bot.Send(photo); err != nil {
			return fmt.Errorf("send photo to %d: %w", chatID, err)
		}
	}
	if out.Text != "" {
		a.sendResponse(chatID, out.Text)
	}
	return nil
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := a.bot.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.bot.Send(msg); err != nil {
				slog.Error("send message failed", "chat", chatID, "error", err)
			}
		}
	}
}

// splitMessage cuts text into Telegram-sized parts, preferring to break
// after a newline and never splitting a UTF-8 sequence.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > maxTelegramMessage {
		end := maxTelegramMessage
		for end > 0 && !utf8.RuneStart(text[end]) {
			end--
		}
		if nl := strings.LastIndexByte(text[:end], '\n'); nl > maxTelegramMessage/2 {
			end = nl + 1
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}
