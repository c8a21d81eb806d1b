package media

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bjo163/wagate/internal/waproto"
	"github.com/bjo163/wagate/pkg/common"
)

// Storage persists a media object and returns its public URL.
type Storage interface {
	Upload(ctx context.Context, data []byte, path string, contentType string) (string, error)
}

// Resolver downloads inbound media and uploads it to storage. Failures
// are absorbed: a message whose media cannot be resolved is still a
// valid message without a media URL.
type Resolver struct {
	storage   Storage
	namespace string
}

func NewResolver(storage Storage, namespace string) *Resolver {
	return &Resolver{storage: storage, namespace: namespace}
}

// Resolve fetches the media behind ptr and stores it under
// <namespace>/<messageId>/<random>.<ext>. On a download failure it asks
// the socket to refresh the envelope's media pointers and retries once.
// It returns an empty URL, nil error, when the media stays unreachable.
func (r *Resolver) Resolve(ctx context.Context, dl waproto.Downloader, env *waproto.Envelope, kind waproto.MediaKind, ptr *waproto.MediaPointer) (string, error) {
	data, err := dl.Download(ctx, ptr)
	if err != nil {
		zap.L().Info("media download failed, refreshing pointers",
			zap.String("message_id", env.Key.ID), zap.Error(err))
		if rerr := dl.RefreshMedia(ctx, env); rerr != nil {
			zap.L().Warn("media pointer refresh failed",
				zap.String("message_id", env.Key.ID), zap.Error(rerr))
			return "", nil
		}
		// refresh rewrites the message, so re-find the pointer
		if fresh := detectKind(env.Message, kind); fresh != nil {
			ptr = fresh
		}
		data, err = dl.Download(ctx, ptr)
		if err != nil {
			zap.L().Warn("media download failed after refresh",
				zap.String("message_id", env.Key.ID), zap.Error(err))
			return "", nil
		}
	}

	path := fmt.Sprintf("%s/%s/%s.%s", r.namespace, env.Key.ID, common.CleanUUID(), ExtFromMime(ptr.Mimetype, kind))
	url, err := r.storage.Upload(ctx, data, path, ptr.Mimetype)
	if err != nil {
		zap.L().Error("media upload failed",
			zap.String("message_id", env.Key.ID), zap.String("path", path), zap.Error(err))
		return "", nil
	}
	return url, nil
}

// ExtFromMime derives a file extension from a declared MIME type,
// falling back to the kind's default when the subtype is unusable.
func ExtFromMime(mimetype string, kind waproto.MediaKind) string {
	mt := mimetype
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	mt = strings.TrimSpace(mt)
	if i := strings.IndexByte(mt, '/'); i >= 0 {
		sub := mt[i+1:]
		if j := strings.IndexByte(sub, '+'); j >= 0 {
			sub = sub[:j]
		}
		if sub != "" {
			return sub
		}
	}
	return kind.DefaultExt()
}
