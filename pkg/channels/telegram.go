package channels

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/nanobot/internal/config"
	"github.com/harun/nanobot/pkg/bus"
)

const (
	// MaxMediaSize caps downloaded attachments.
	MaxMediaSize = 20 * 1024 * 1024
	// telegramMaxMessage is Telegram's limit for one text message.
	telegramMaxMessage = 4096
)

// TelegramChannel long-polls the Bot API. Chat ids are numeric chats and senders are
// "id|username".
type TelegramChannel struct {
	*BaseChannel
	api      *tgbotapi.BotAPI
	mediaDir string

	fileEndpoint string
	httpClient   *http.Client
	pollTimeout  int
	retryDelay   time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// NewTelegramChannel authenticates the bot token and creates the channel.
func NewTelegramChannel(cfg config.TelegramConfig, mb *bus.MessageBus, mediaDir string) (*TelegramChannel, error) {
	return newTelegramChannel(cfg, mb, mediaDir, tgbotapi.APIEndpoint, tgbotapi.FileEndpoint)
}

func newTelegramChannel(cfg config.TelegramConfig, mb *bus.MessageBus, mediaDir, apiEndpoint, fileEndpoint string) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}

	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, apiEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	c := &TelegramChannel{
		BaseChannel:  NewBaseChannel("telegram", mb, cfg.AllowFrom),
		api:          api,
		mediaDir:     mediaDir,
		fileEndpoint: fileEndpoint,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		pollTimeout:  30,
		retryDelay:   3 * time.Second,
		stop:         make(chan struct{}),
	}

	c.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")

	return c, nil
}

// Start polls for updates until ctx is done or Stop is called.
func (c *TelegramChannel) Start(ctx context.Context) error {
	c.setRunning(true)
	defer c.setRunning(false)
	c.logger.Info().Msg("Telegram bot started")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = c.pollTimeout

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		default:
		}

		updates, err := c.api.GetUpdates(u)
		if err != nil {
			c.logger.Error().Err(err).Msg("Failed to get updates, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-c.stop:
				return nil
			case <-time.After(c.retryDelay):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= u.Offset {
				u.Offset = update.UpdateID + 1
			}
			if err := c.handleUpdate(ctx, update); err != nil {
				c.logger.Error().
					Err(err).
					Int("update_id", update.UpdateID).
					Msg("Failed to handle update")
			}
		}
	}
}

// Stop ends polling after the current request.
func (c *TelegramChannel) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.logger.Info().Msg("Telegram bot stopped")
	})
}

// Send delivers msg as plain text, split into Telegram-sized chunks.
func (c *TelegramChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidChatID, msg.ChatID)
	}

	for _, chunk := range splitMessage(msg.Content, telegramMaxMessage) {
		if _, err := c.api.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
	}

	c.logger.Debug().Int64("chat_id", chatID).Msg("Message sent")
	return nil
}

func (c *TelegramChannel) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return nil
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if msg.From.UserName != "" {
		senderID += "|" + msg.From.UserName
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	if msg.IsCommand() && msg.Command() == "start" {
		reply := fmt.Sprintf("👋 Hi %s! I'm nanobot.\n\nSend me a message and I'll respond!", msg.From.FirstName)
		return c.Send(ctx, bus.OutboundMessage{ChatID: chatID, Content: reply})
	}

	var parts []string
	if msg.Text != "" {
		parts = append(parts, msg.Text)
	}
	if msg.Caption != "" {
		parts = append(parts, msg.Caption)
	}

	var media []string
	if fileID, kind, ext := attachment(msg); fileID != "" {
		path, err := c.download(ctx, fileID, ext)
		if err != nil {
			c.logger.Warn().Err(err).Str("file_id", fileID).Msg("Failed to download media")
			parts = append(parts, fmt.Sprintf("[%s: download failed]", kind))
		} else {
			media = append(media, path)
			parts = append(parts, fmt.Sprintf("[%s: %s]", kind, path))
		}
	}

	content := strings.Join(parts, "\n")
	if content == "" {
		content = "[empty message]"
	}

	c.logger.Debug().Str("sender_id", senderID).Str("chat_id", chatID).Msg("Message received")

	c.HandleMessage(senderID, chatID, content, media, map[string]any{
		"message_id": msg.MessageID,
		"user_id":    msg.From.ID,
		"username":   msg.From.UserName,
		"first_name": msg.From.FirstName,
		"is_group":   msg.Chat.IsGroup() || msg.Chat.IsSuperGroup(),
	})
	return nil
}

// attachment picks the file of a media message: the largest photo, voice, audio or document.
func attachment(msg *tgbotapi.Message) (fileID, kind, ext string) {
	switch {
	case len(msg.Photo) > 0:
		return msg.Photo[len(msg.Photo)-1].FileID, "image", ".jpg"
	case msg.Voice != nil:
		return msg.Voice.FileID, "voice", ".ogg"
	case msg.Audio != nil:
		return msg.Audio.FileID, "audio", ".mp3"
	case msg.Document != nil:
		return msg.Document.FileID, "file", filepath.Ext(msg.Document.FileName)
	}
	return "", "", ""
}

// download stores a Telegram file under mediaDir and returns its path.
func (c *TelegramChannel) download(ctx context.Context, fileID, ext string) (string, error) {
	file, err := c.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("failed to get file info: %w", err)
	}
	if file.FileSize > MaxMediaSize {
		return "", fmt.Errorf("file size %d exceeds maximum %d", file.FileSize, MaxMediaSize)
	}

	url := fmt.Sprintf(c.fileEndpoint, c.api.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	if err := os.MkdirAll(c.mediaDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create media directory: %w", err)
	}
	if len(fileID) > 16 {
		fileID = fileID[:16]
	}
	dest := filepath.Join(c.mediaDir, fileID+ext)
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer out.Close()

	written, err := io.Copy(out, io.LimitReader(resp.Body, MaxMediaSize))
	if err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	c.logger.Debug().Str("path", dest).Int64("size", written).Msg("File downloaded")
	return dest, nil
}

// splitMessage cuts text into chunks of at most limit runes, preferring line breaks.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
