package telegram

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Emperor-Ovaltine/gideon/internal/delivery"
	"github.com/Emperor-Ovaltine/gideon/internal/types"
)

type fakeBot struct {
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	failMode string
	fileURLs map[string]string
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok && f.failMode != "" && m.ParseMode == f.failMode {
		return tgbotapi.Message{}, errors.New("can't parse entities")
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeBot) GetFileDirectURL(fileID string) (string, error) {
	url, ok := f.fileURLs[fileID]
	if !ok {
		return "", errors.New("file not found")
	}
	return url, nil
}

func TestSplitMessage(t *testing.T) {
	short := "Hello world"
	parts := splitMessage(short)
	if len(parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(parts))
	}
	if parts[0] != short {
		t.Errorf("expected %q, got %q", short, parts[0])
	}
}

func TestSplitMessageLong(t *testing.T) {
	long := strings.Repeat("a", 5000)
	parts := splitMessage(long)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if len(parts[0]) != maxTelegramMessage {
		t.Errorf("expected first part length %d, got %d", maxTelegramMessage, len(parts[0]))
	}
}

func TestSplitMessagePrefersNewlines(t *testing.T) {
	text := strings.Repeat("a", 3000) + "\n" + strings.Repeat("b", 3000)
	parts := splitMessage(text)
	if len(parts) != 2 || parts[0] != strings.Repeat("a", 3000)+"\n" {
		t.Fatalf("expected split after the newline, got %d parts", len(parts))
	}
}

func TestSplitMessageKeepsRunes(t *testing.T) {
	text := strings.Repeat("é", 3000)
	parts := splitMessage(text)
	if strings.Join(parts, "") != text {
		t.Fatal("parts do not reassemble the text")
	}
	for i, p := range parts {
		if !utf8.ValidString(p) || len(p) > maxTelegramMessage {
			t.Errorf("part %d is invalid or too long (%d bytes)", i, len(p))
		}
	}
}

func TestBuildEvent(t *testing.T) {
	a := &Adapter{bot: &fakeBot{fileURLs: map[string]string{"big": "https://files/big.jpg"}}}

	msg := &tgbotapi.Message{
		Chat:    &tgbotapi.Chat{ID: -100123},
		From:    &tgbotapi.User{ID: 42, FirstName: "Ada", LastName: "Lovelace"},
		Caption: "what is this?",
		Photo:   []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "big"}},
	}
	ev := a.buildEvent(msg)
	if ev == nil {
		t.Fatal("expected an event")
	}
	if ev.Key != types.ChannelKey("-100123") || ev.UserID != "42" || ev.UserName != "Ada Lovelace" {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.Text != "what is this?" || len(ev.AttachmentRefs) != 1 || ev.AttachmentRefs[0] != "https://files/big.jpg" {
		t.Errorf("unexpected content %+v", ev)
	}
}

func TestBuildEventIgnoresEmpty(t *testing.T) {
	a := &Adapter{bot: &fakeBot{}}
	msg := &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, From: &tgbotapi.User{ID: 2, UserName: "ada"}}
	if ev := a.buildEvent(msg); ev != nil {
		t.Errorf("expected nil event, got %+v", ev)
	}
}

func TestDeliverPhotoAndText(t *testing.T) {
	fb := &fakeBot{}
	a := &Adapter{bot: fb}
	reg := delivery.NewRegistry()
	a.Register(reg)

	err := reg.Deliver("telegram:-100123", delivery.Outbound{Image: []byte("png"), Caption: "Turn 3", Text: "and then"})
	if err != nil {
		t.Fatal(err)
	}
	if len(fb.sent) != 2 {
		t.Fatalf("expected photo and text, got %d sends", len(fb.sent))
	}
	photo, ok := fb.sent[0].(tgbotapi.PhotoConfig)
	if !ok || photo.ChatID != -100123 || photo.Caption != "Turn 3" {
		t.Errorf("unexpected photo %+v", fb.sent[0])
	}
	text, ok := fb.sent[1].(tgbotapi.MessageConfig)
	if !ok || text.Text != "and then" {
		t.Errorf("unexpected text %+v", fb.sent[1])
	}
}

func TestDeliverBadRoute(t *testing.T) {
	a := &Adapter{bot: &fakeBot{}}
	if err := a.Deliver("telegram:general", delivery.Outbound{Text: "x"}); err == nil {
		t.Error("expected error for non-numeric chat id")
	}
}

func TestSendResponseFallsBackToPlainText(t *testing.T) {
	fb := &fakeBot{failMode: tgbotapi.ModeMarkdown}
	a := &Adapter{bot: fb}
	a.sendResponse(7, "a_b*c")
	if len(fb.sent) != 1 {
		t.Fatalf("expected one plain send, got %d", len(fb.sent))
	}
	if m := fb.sent[0].(tgbotapi.MessageConfig); m.ParseMode != "" {
		t.Errorf("expected plain text retry, got parse mode %q", m.ParseMode)
	}
}

func TestSetCommands(t *testing.T) {
	fb := &fakeBot{}
	a := &Adapter{bot: fb}
	if err := a.SetCommands([]CommandInfo{{Name: "roll", Description: "Roll dice"}}); err != nil {
		t.Fatal(err)
	}
	cfg, ok := fb.requests[0].(tgbotapi.SetMyCommandsConfig)
	if !ok || len(cfg.Commands) != 1 || cfg.Commands[0].Command != "roll" {
		t.Errorf("unexpected request %+v", fb.requests[0])
	}
}
