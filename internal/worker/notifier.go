package worker

import (
	"context"
	"fmt"
	"strings"

	"constructlink/internal/domain"
	"constructlink/internal/events"
	"constructlink/internal/logging"
	"constructlink/internal/metrics"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const notificationQueueSize = 256

type notification struct {
	eventType string
	text      string
}

// NotificationWorker relays workflow events to manager chats. Event
// handlers only enqueue; delivery runs on the Start goroutine.
type NotificationWorker struct {
	sender  domain.TelegramSender
	chatIDs []int64
	retry   RetryPolicy
	queue   chan notification
	logger  *zerolog.Logger
}

func NewNotificationWorker(sender domain.TelegramSender, chatIDs []int64, retry RetryPolicy, logger *zerolog.Logger) *NotificationWorker {
	return &NotificationWorker{
		sender:  sender,
		chatIDs: append([]int64(nil), chatIDs...),
		retry:   retry.withDefaults(),
		queue:   make(chan notification, notificationQueueSize),
		logger:  logging.Component(logger, "notifier"),
	}
}

// Subscribe registers the worker for every batch event on the bus.
func (w *NotificationWorker) Subscribe(bus *events.EventBus) {
	for _, t := range events.AllBatchEvents() {
		bus.Subscribe(t, w.HandleEvent)
	}
}

// HandleEvent formats the event and queues it. A full queue drops the message.
func (w *NotificationWorker) HandleEvent(event *events.Event) error {
	var p events.BatchEventPayload
	if err := event.Decode(&p); err != nil {
		return fmt.Errorf("decode %s payload: %w", event.Type, err)
	}

	select {
	case w.queue <- notification{eventType: event.Type, text: FormatEvent(event.Type, p)}:
	default:
		metrics.IncNotification("dropped")
		w.logger.Warn().Str("event", event.Type).Int64("batch_id", p.BatchID).Msg("Notification queue full, message dropped")
	}
	return nil
}

// Start delivers queued messages until ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info().Int("chats", len(w.chatIDs)).Msg("Notification worker started")
	defer w.logger.Info().Msg("Notification worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-w.queue:
			w.deliver(ctx, n)
		}
	}
}

func (w *NotificationWorker) deliver(ctx context.Context, n notification) {
	for _, chatID := range w.chatIDs {
		msg := tgbotapi.NewMessage(chatID, n.text)
		err := w.retry.Do(ctx, func(attempt int) error {
			_, err := w.sender.Send(msg)
			if err != nil {
				w.logger.Debug().Err(err).Int64("chat_id", chatID).Int("attempt", attempt).Msg("Telegram send failed")
			}
			return err
		})
		if err != nil {
			metrics.IncNotification("failed")
			w.logger.Error().Err(err).Int64("chat_id", chatID).Str("event", n.eventType).Msg("Failed to deliver notification")
			continue
		}
		metrics.IncNotification("sent")
	}
}

var eventTitles = map[string]string{
	events.EventBatchSubmitted: "New borrowing request",
	events.EventBatchScheduled: "Return dates set",
	events.EventBatchVerified:  "Verified, awaiting approval",
	events.EventBatchApproved:  "Approved, ready for release",
	events.EventBatchReleased:  "Released to borrower",
	events.EventBatchReturned:  "Returned",
	events.EventBatchCanceled:  "Canceled",
	events.EventBatchOverdue:   "OVERDUE",
}

// FormatEvent renders a plain-text chat message for a batch event.
func FormatEvent(eventType string, p events.BatchEventPayload) string {
	title, ok := eventTitles[eventType]
	if !ok {
		title = eventType
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", title, p.Reference)
	fmt.Fprintf(&b, "Borrower: %s\n", p.BorrowerName)
	fmt.Fprintf(&b, "Items: %d\n", p.ItemCount)
	if p.ToStatus != "" {
		fmt.Fprintf(&b, "Status: %s\n", p.ToStatus)
	}
	if p.DueAt != nil {
		fmt.Fprintf(&b, "Due: %s\n", p.DueAt.Format("2006-01-02 15:04"))
	}
	if p.ActorName != "" {
		fmt.Fprintf(&b, "By: %s (%s)\n", p.ActorName, p.ActorRole)
	}
	if p.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", p.Notes)
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewTelegramSender connects a bot API client for notifications.
func NewTelegramSender(token string, debug bool) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
	}
	bot.Debug = debug
	return bot, nil
}
