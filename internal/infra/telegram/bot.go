package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"merch-copilot/internal/config"
	"merch-copilot/internal/domain"
	"merch-copilot/internal/domain/model"
	"merch-copilot/internal/usecase"
)

// Bot exposes the copilot over Telegram as a second chat surface. All chats
// share the single persisted conversation slot, the same way two browser tabs
// shared one storage slot in the original demo; races are last-write-wins.
type Bot struct {
	api     *tgbotapi.BotAPI
	cfg     *config.BotConfig
	chatUC  usecase.ChatUseCase
	log     *zerolog.Logger
	workers int

	cancelPolling context.CancelFunc
}

func NewBot(cfg *config.BotConfig, chatUC usecase.ChatUseCase, logger *zerolog.Logger) (*Bot, error) {
	if cfg == nil || cfg.Token == "" {
		return nil, errors.New("bot token empty")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Bot{api: api, cfg: cfg, chatUC: chatUC, log: logger, workers: workers}, nil
}

func (b *Bot) StartPolling(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	ctx, cancel := context.WithCancel(ctx)
	b.cancelPolling = cancel

	var wg sync.WaitGroup
	updateChan := make(chan tgbotapi.Update, 64)

	for i := 0; i < b.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case up := <-updateChan:
					if err := b.handleUpdate(ctx, up); err != nil {
						b.log.Warn().Int("worker", id).Err(err).Msg("telegram update failed")
					}
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			close(updateChan)
			wg.Wait()
			return ctx.Err()
		case up := <-updates:
			updateChan <- up
		}
	}
}

func (b *Bot) StopPolling() {
	if b.cancelPolling != nil {
		b.cancelPolling()
	}
}

func (b *Bot) handleUpdate(ctx context.Context, up tgbotapi.Update) error {
	if up.Message == nil || up.Message.Text == "" {
		return nil
	}
	chatID := up.Message.Chat.ID
	text := strings.TrimSpace(up.Message.Text)

	switch {
	case up.Message.IsCommand():
		return b.handleCommand(ctx, chatID, up.Message.Command())
	default:
		return b.handleChat(ctx, chatID, text)
	}
}

func (b *Bot) handleCommand(ctx context.Context, chatID int64, cmd string) error {
	switch cmd {
	case "start", "help":
		return b.send(chatID, "Ask about a store (e.g. CA_1). Commands: /new starts a fresh chat, /panels shows the decision KPIs.")
	case "new":
		if _, err := b.chatUC.NewChat(ctx); err != nil {
			return err
		}
		return b.send(chatID, "New chat started.")
	case "panels":
		var sb strings.Builder
		for _, k := range b.chatUC.KPIs() {
			sb.WriteString(k.Title)
			sb.WriteString(": ")
			sb.WriteString(k.Value)
			sb.WriteString("\n")
		}
		return b.send(chatID, strings.TrimRight(sb.String(), "\n"))
	default:
		return b.send(chatID, "Unknown command. Try /help.")
	}
}

func (b *Bot) handleChat(ctx context.Context, chatID int64, text string) error {
	err := b.chatUC.Submit(ctx, text)
	switch {
	case errors.Is(err, domain.ErrEmptyMessage):
		return nil
	case errors.Is(err, domain.ErrBusy):
		return b.send(chatID, "One moment, still working on the previous question.")
	case err != nil:
		return err
	}
	conv := b.chatUC.Conversation()
	if n := len(conv.Messages); n > 0 && conv.Messages[n-1].Role == model.RoleAssistant {
		return b.send(chatID, conv.Messages[n-1].Text)
	}
	return nil
}

func (b *Bot) send(chatID int64, text string) error {
	if text == "" {
		return nil
	}
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := b.api.Send(msg)
	return err
}
