package telegram

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Inbound is a transport-neutral view of one incoming Bot API message.
type Inbound struct {
	UserID    string
	Text      string
	AudioPath string
	ImagePath string
}

var audioExtensions = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".wav":  true,
	".ogg":  true,
	".oga":  true,
	".opus": true,
	".flac": true,
	".aac":  true,
	".wma":  true,
}

// ParseUpdate turns a Bot API update into an Inbound, downloading any attached
// audio or photo into DATA_DIR. Returns nil when the update carries no message.
func (b *Bot) ParseUpdate(ctx context.Context, update *tgbotapi.Update) (*Inbound, error) {
	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil || msg.Chat == nil {
		return nil, nil
	}

	in := &Inbound{
		UserID: strconv.FormatInt(msg.Chat.ID, 10),
		Text:   msg.Text,
	}
	if in.Text == "" {
		in.Text = msg.Caption
	}

	switch {
	case msg.Voice != nil:
		path, err := b.DownloadFile(ctx, msg.Voice.FileID, "audio", ".ogg")
		if err != nil {
			return nil, err
		}
		in.AudioPath = path
	case msg.Audio != nil:
		ext := extensionFor(msg.Audio.FileName, ".mp3")
		path, err := b.DownloadFile(ctx, msg.Audio.FileID, "audio", ext)
		if err != nil {
			return nil, err
		}
		in.AudioPath = path
	case msg.Document != nil && isAudioDocument(msg.Document):
		ext := extensionFor(msg.Document.FileName, ".mp3")
		path, err := b.DownloadFile(ctx, msg.Document.FileID, "audio", ext)
		if err != nil {
			return nil, err
		}
		in.AudioPath = path
	}

	if len(msg.Photo) > 0 {
		// Telegram sends multiple sizes; the last entry is the largest.
		largest := msg.Photo[len(msg.Photo)-1]
		path, err := b.DownloadFile(ctx, largest.FileID, "thumb", ".jpg")
		if err != nil {
			return nil, err
		}
		in.ImagePath = path
	}

	return in, nil
}

func extensionFor(fileName, fallback string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if audioExtensions[ext] {
		return ext
	}
	return fallback
}

func isAudioDocument(doc *tgbotapi.Document) bool {
	if strings.HasPrefix(doc.MimeType, "audio/") {
		return true
	}
	return audioExtensions[strings.ToLower(filepath.Ext(doc.FileName))]
}
