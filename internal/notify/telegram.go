// Package notify is the ops notifier: Telegram alerts for kill-switches,
// reconnect failures, and daily reports, plus the approval round-trip used
// when an optional asynchronous analysis wants a human to confirm a trade
// intent. Adapted from the teacher's NotificationService, generalized away
// from whale-signal-specific formatting and the Signal/PublicSignal crypto
// shape to the co-pilot's own Alert/Signal types.
package notify

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tradecopilot/internal/types"
)

// Service sends ops alerts to Telegram and tracks pending human approvals
// for asynchronous trade analysis confirmations.
type Service struct {
	bot    *tgbotapi.BotAPI
	chatID int64

	chatIDFile string

	pendingApprovals sync.Map // key: approval ID, value: approval payload
}

// New initializes the Telegram bot from token; returns nil (and logs) if
// the token is absent, matching the teacher's "disabled, not fatal" stance
// on a missing ops-notification credential.
func New(token, chatIDFile string) *Service {
	if token == "" {
		log.Println("notify: TELEGRAM_BOT_TOKEN not set, ops notifications disabled")
		return nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Printf("notify: failed to init telegram bot: %v", err)
		return nil
	}
	log.Printf("notify: authorized as %s", bot.Self.UserName)

	svc := &Service{bot: bot, chatIDFile: chatIDFile}
	if idStr := os.Getenv("TELEGRAM_CHAT_ID"); idStr != "" {
		if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
			svc.chatID = id
		}
	}
	if svc.chatID == 0 {
		svc.chatID = svc.loadChatID()
	}
	return svc
}

func (s *Service) loadChatID() int64 {
	data, err := os.ReadFile(s.chatIDFile)
	if err != nil {
		return 0
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func (s *Service) saveChatID(id int64) {
	if err := os.WriteFile(s.chatIDFile, []byte(fmt.Sprintf("%d", id)), 0644); err != nil {
		log.Printf("notify: failed to persist chat id: %v", err)
	}
}

// Approval is one pending async-analysis confirmation awaiting a human
// tap.
type Approval struct {
	ID      string
	Symbol  string
	Summary string
}

// Listen polls Telegram updates for commands and approval callbacks until
// the update channel is closed. statusFn/reportFn back the /status and
// /report commands; stopFn backs the kill-switch /stop command;
// approveFn is invoked with the approval ID when a pending analysis is
// confirmed.
func (s *Service) Listen(statusFn, reportFn func() string, stopFn func(), approveFn func(id string)) {
	log.Println("notify: listening for telegram events")
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.bot.GetUpdatesChan(u)

	for update := range updates {
		if update.CallbackQuery != nil {
			s.handleCallback(update.CallbackQuery, approveFn)
			continue
		}
		if update.Message == nil {
			continue
		}
		if s.chatID == 0 {
			s.chatID = update.Message.Chat.ID
			s.Notify("co-pilot connected, ops notifications enabled")
		}
		if update.Message.IsCommand() {
			s.handleCommand(update.Message.Command(), update.Message.Chat.ID, statusFn, reportFn, stopFn)
		}
	}
}

func (s *Service) handleCallback(cb *tgbotapi.CallbackQuery, approveFn func(id string)) {
	data := cb.Data
	switch {
	case strings.HasPrefix(data, "APPROVE_"):
		id := strings.TrimPrefix(data, "APPROVE_")
		if _, ok := s.pendingApprovals.Load(id); ok {
			s.bot.Send(tgbotapi.NewCallback(cb.ID, "confirmed"))
			s.pendingApprovals.Delete(id)
			if approveFn != nil {
				approveFn(id)
			}
		} else {
			s.bot.Send(tgbotapi.NewCallback(cb.ID, "expired"))
		}
	case strings.HasPrefix(data, "DISMISS_"):
		id := strings.TrimPrefix(data, "DISMISS_")
		s.pendingApprovals.Delete(id)
		s.bot.Send(tgbotapi.NewCallback(cb.ID, "dismissed"))
		del := tgbotapi.NewDeleteMessage(cb.Message.Chat.ID, cb.Message.MessageID)
		s.bot.Send(del)
	}
}

func (s *Service) handleCommand(cmd string, chatID int64, statusFn, reportFn func() string, stopFn func()) {
	switch cmd {
	case "status":
		if statusFn != nil {
			s.Notify(statusFn())
		}
	case "start":
		if s.chatID == 0 || s.chatID != chatID {
			s.chatID = chatID
			s.saveChatID(chatID)
		}
		s.Notify("co-pilot connected and monitoring the configured universe")
	case "stop":
		s.Notify("kill-switch triggered: halting all workers")
		if stopFn != nil {
			stopFn()
		}
	case "report":
		if reportFn != nil {
			s.Notify(reportFn())
		}
	}
}

// RequestApproval sends an interactive alert for approval, used for the
// optional asynchronous analysis that may follow a handler's fast
// response.
func (s *Service) RequestApproval(approvalID string, a Approval) {
	if s == nil || s.bot == nil || s.chatID == 0 {
		return
	}
	s.pendingApprovals.Store(approvalID, a)

	msg := tgbotapi.NewMessage(s.chatID, fmt.Sprintf("**ANALYSIS** %s\n%s", a.Symbol, a.Summary))
	msg.ParseMode = "Markdown"
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("confirm", "APPROVE_"+approvalID),
			tgbotapi.NewInlineKeyboardButtonData("dismiss", "DISMISS_"+approvalID),
		),
	)
	if _, err := s.bot.Send(msg); err != nil {
		log.Printf("notify: failed to send approval request: %v", err)
	}
}

// NotifyAlert formats and sends a screener Alert.
func (s *Service) NotifyAlert(a types.Alert) {
	s.Notify(fmt.Sprintf("%s crossed %s at %.2f", a.Symbol, a.Kind, a.TriggerPrice))
}

// Notify sends msg to the configured chat, fire-and-forget, matching the
// teacher's asynchronous send.
func (s *Service) Notify(msg string) {
	if s == nil || s.bot == nil || s.chatID == 0 {
		return
	}
	go func() {
		cfg := tgbotapi.NewMessage(s.chatID, msg)
		cfg.ParseMode = "Markdown"
		if _, err := s.bot.Send(cfg); err != nil {
			log.Printf("notify: failed to send telegram message: %v", err)
		}
	}()
}
