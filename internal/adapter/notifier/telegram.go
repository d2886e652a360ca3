package notifier

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/semmidev/dbvault/internal/domain"
)

// TelegramSender is the subset of the bot API the notifier uses.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts a message when a backup reaches a terminal state.
// Intermediate progress is not forwarded.
type Telegram struct {
	bot    TelegramSender
	chatID int64
	log    domain.Logger
	now    func() time.Time
}

func NewTelegram(botToken, chatID string, log domain.Logger) (*Telegram, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return NewTelegramWithSender(bot, id, log), nil
}

func NewTelegramWithSender(bot TelegramSender, chatID int64, log domain.Logger) *Telegram {
	return &Telegram{bot: bot, chatID: chatID, log: log, now: time.Now}
}

func (t *Telegram) NotifyBackupUpdate(jobID string, status domain.BackupStatus, data domain.ProgressUpdate) {
	var message string
	switch status {
	case domain.StatusCompleted:
		message = fmt.Sprintf(
			"✅ Backup Completed\n\n"+
				"🗄 Connection: %s\n"+
				"📊 Size: %s\n"+
				"🆔 Job: %s\n"+
				"🕐 Time: %s",
			data.ConnectionName,
			humanize.Bytes(uint64(data.FileSize)),
			jobID,
			t.now().Format("2006-01-02 15:04:05"),
		)
	case domain.StatusFailed:
		message = fmt.Sprintf(
			"❌ Backup Failed\n\n"+
				"🗄 Connection: %s\n"+
				"🆔 Job: %s\n"+
				"⚠️ Error: %s",
			data.ConnectionName,
			jobID,
			data.Error,
		)
	default:
		return
	}

	// the bot API call blocks; notifications are fire-and-forget
	go func() {
		if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, message)); err != nil {
			t.log.Warnf("[telegram] Failed to send notification for job %s: %v", jobID, err)
		}
	}()
}
