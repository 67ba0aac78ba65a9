package bot

import (
	"fmt"
	"io"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/fleetbot/internal/fleet"
)

// DefaultMaxMedia is the Bot API download limit.
const DefaultMaxMedia = 20 << 20

// attachment describes the media of msg without downloading it.
func attachment(msg *tele.Message) (*tele.File, fleet.Media, bool) {
	if msg == nil {
		return nil, fleet.Media{}, false
	}
	switch {
	case msg.Photo != nil:
		return &msg.Photo.File, fleet.Media{
			Kind:     fleet.MediaPhoto,
			FileName: "photo.jpg",
			MIME:     "image/jpeg",
		}, true
	case msg.Video != nil:
		name := msg.Video.FileName
		if name == "" {
			name = "video.mp4"
		}
		return &msg.Video.File, fleet.Media{
			Kind:     fleet.MediaVideo,
			FileName: name,
			MIME:     msg.Video.MIME,
		}, true
	case msg.Document != nil:
		name := msg.Document.FileName
		if name == "" {
			name = "file"
		}
		return &msg.Document.File, fleet.Media{
			Kind:     fleet.MediaDocument,
			FileName: name,
			MIME:     msg.Document.MIME,
		}, true
	}
	return nil, fleet.Media{}, false
}

// download fetches the attachment of msg. It returns nil when msg carries
// none and a validation error when the file is over limit.
func download(api API, msg *tele.Message, limit int64) (*fleet.Media, error) {
	file, media, ok := attachment(msg)
	if !ok {
		return nil, nil
	}
	if int64(file.FileSize) > limit {
		return nil, fleet.Invalid("file", fmt.Sprintf("the file is larger than %d MB", limit>>20))
	}
	rc, err := api.File(file)
	if err != nil {
		return nil, fmt.Errorf("bot: download %s: %w", media.Kind, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("bot: download %s: %w", media.Kind, err)
	}
	if int64(len(data)) > limit {
		return nil, fleet.Invalid("file", fmt.Sprintf("the file is larger than %d MB", limit>>20))
	}
	media.Data = data
	return &media, nil
}
