package media

import (
	"path/filepath"
	"strings"

	"github.com/Parser322/tg-pipeline/internal/core/domain"
)

var (
	imageExtensions = map[string]struct{}{
		".jpg": {}, ".jpeg": {}, ".png": {}, ".webp": {}, ".bmp": {}, ".tiff": {},
	}
	videoExtensions = map[string]struct{}{
		".mp4": {}, ".mov": {}, ".mkv": {}, ".webm": {}, ".m4v": {},
	}
)

// Classify resolves the media kind for a downloaded file. The kind
// declared by the source wins; an unknown declaration falls back to the
// file extension, and an unrecognized extension yields KindOther.
func Classify(ref *domain.MediaRef, path string) domain.MediaKind {
	if ref != nil {
		switch ref.Kind {
		case domain.MediaKindImage, domain.MediaKindVideo:
			return ref.Kind
		}
	}

	ext := strings.ToLower(filepath.Ext(path))

	if _, ok := imageExtensions[ext]; ok {
		return domain.MediaKindImage
	}

	if _, ok := videoExtensions[ext]; ok {
		return domain.MediaKindVideo
	}

	return domain.MediaKindOther
}
