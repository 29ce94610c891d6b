package chat

import (
	"context"

	chatmodel "github.com/zhouzirui/voxchat/backend/internal/model/chat"
	"github.com/zhouzirui/voxchat/backend/internal/service/ai"
	"github.com/zhouzirui/voxchat/backend/internal/service/history"
	"go.uber.org/zap"
)

// TitleDeriver names sessions after their first exchange. Failures leave the
// placeholder title in place and are never reported to the caller.
type TitleDeriver struct {
	store     history.Store
	responder ai.Responder
	logger    *zap.Logger
}

func NewTitleDeriver(store history.Store, responder ai.Responder, logger *zap.Logger) *TitleDeriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TitleDeriver{store: store, responder: responder, logger: logger}
}

// DeriveAndApply asks the responder for a title and stores it. It reports the
// new title and whether the session title changed.
func (d *TitleDeriver) DeriveAndApply(ctx context.Context, session *chatmodel.Session, seed string) (string, bool) {
	log := d.logger.With(zap.String("session", session.ID))

	title, err := d.responder.DeriveTitle(ctx, seed)
	if err != nil {
		log.Warn("title derivation failed", zap.Error(err))
		return "", false
	}

	title = ai.CleanTitle(title)
	if title == "" || title == session.Title {
		return "", false
	}

	if _, err := d.store.SetTitle(ctx, session.ID, session.OwnerID, title); err != nil {
		log.Warn("saving derived title failed", zap.Error(err))
		return "", false
	}

	log.Debug("session titled", zap.String("title", title))
	return title, true
}
