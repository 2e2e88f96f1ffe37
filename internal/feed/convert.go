package feed

import (
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"github.com/Parser322/tg-pipeline/internal/core/domain"
)

func toRawMessage(msg *tg.Message) domain.RawMessage {
	raw := domain.RawMessage{
		ID:    int64(msg.ID),
		Date:  time.Unix(int64(msg.Date), 0),
		Text:  msg.Message,
		Views: msg.Views,
	}

	if groupedID, ok := msg.GetGroupedID(); ok {
		raw.GroupedID = groupedID
	}

	if replies, ok := msg.GetReplies(); ok {
		raw.Comments = replies.Replies
	}

	if reactions, ok := msg.GetReactions(); ok {
		raw.Reactions = toReactionEntries(reactions.Results)
	}

	if msg.Media != nil {
		raw.Media = probeMedia(msg.Media)
	}

	return raw
}

func toReactionEntries(results []tg.ReactionCount) []domain.ReactionEntry {
	if len(results) == 0 {
		return nil
	}

	entries := make([]domain.ReactionEntry, 0, len(results))

	for _, rc := range results {
		entry := domain.ReactionEntry{Count: rc.Count}

		switch r := rc.Reaction.(type) {
		case *tg.ReactionEmoji:
			entry.Emoticon = r.Emoticon
		case *tg.ReactionCustomEmoji:
			entry.DocumentID = r.DocumentID
		}

		entries = append(entries, entry)
	}

	return entries
}

// probeMedia reports an attachment's size and kind from the message
// metadata alone, without fetching any bytes. Unsupported media classes
// yield nil.
func probeMedia(media tg.MessageMediaClass) *domain.MediaRef {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil
		}

		return &domain.MediaRef{
			SizeBytes: largestPhotoSizeBytes(photo),
			Kind:      domain.MediaKindImage,
			MimeType:  "image/jpeg",
			Handle:    media,
		}

	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil
		}

		ref := &domain.MediaRef{
			SizeBytes: doc.Size,
			Kind:      documentKind(doc),
			MimeType:  doc.MimeType,
			Handle:    media,
		}

		for _, attr := range doc.Attributes {
			if fn, ok := attr.(*tg.DocumentAttributeFilename); ok {
				ref.Filename = fn.FileName

				break
			}
		}

		return ref

	default:
		return nil
	}
}

func documentKind(doc *tg.Document) domain.MediaKind {
	switch {
	case strings.HasPrefix(doc.MimeType, "video/"):
		return domain.MediaKindVideo
	case strings.HasPrefix(doc.MimeType, "image/"):
		return domain.MediaKindImage
	default:
		return domain.MediaKindOther
	}
}

func largestPhotoSizeBytes(photo *tg.Photo) int64 {
	var best int

	for _, size := range photo.Sizes {
		switch s := size.(type) {
		case *tg.PhotoSize:
			if s.Size > best {
				best = s.Size
			}
		case *tg.PhotoSizeProgressive:
			for _, b := range s.Sizes {
				if b > best {
					best = b
				}
			}
		}
	}

	return int64(best)
}
