package wa

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/MatheusHenriquePires/S-crm/internal/driver"
)

// backfill pulls recent per-contact history after a session connects and
// feeds it through the normal ingest path, so dedup and ordering rules
// apply the same as for live traffic. Drivers without history support
// make this a no-op.
func (s *Service) backfill(accountID string) {
	st := s.reg.account(accountID)
	st.mu.Lock()
	if st.backfillInFlight || st.handle == nil {
		st.mu.Unlock()
		return
	}
	st.backfillInFlight = true
	h := st.handle
	st.mu.Unlock()
	defer func() {
		st.mu.Lock()
		st.backfillInFlight = false
		st.mu.Unlock()
	}()

	hf, ok := driver.History(h)
	if !ok {
		zap.L().Debug("wa: driver has no history support, skipping backfill", zap.String("account", accountID))
		return
	}

	ctx := context.Background()
	chats, err := hf.FetchAllChats(ctx)
	if err != nil {
		zap.L().Warn("wa: fetch chats for backfill", zap.String("account", accountID), zap.Error(err))
		return
	}

	chatLimit := s.cfg.WhatsApp.HistoryChatLimit
	msgLimit := s.cfg.WhatsApp.HistoryMessageLimit
	saved, skipped := 0, 0
	visited := 0
	for _, chat := range chats {
		if chat.IsGroup || strings.HasSuffix(chat.ID, "@g.us") {
			continue
		}
		if visited >= chatLimit {
			break
		}
		visited++

		msgs, err := hf.FetchMessagesInChat(ctx, chat.ID)
		if err != nil {
			zap.L().Debug("wa: fetch chat history", zap.String("account", accountID), zap.String("chat", chat.ID), zap.Error(err))
			continue
		}
		if len(msgs) > msgLimit {
			msgs = msgs[len(msgs)-msgLimit:]
		}

		phone := NormalizePhone(chat.ID)
		lastSaved, have, err := s.store.LatestMessageTimeForPhone(ctx, accountID, phone)
		if err != nil {
			continue
		}
		for _, raw := range msgs {
			if have && !extractTimestamp(raw).After(lastSaved) {
				skipped++
				continue
			}
			res, err := s.Ingest(ctx, accountID, raw, "")
			if err != nil {
				zap.L().Debug("wa: ingest history message", zap.String("account", accountID), zap.Error(err))
				continue
			}
			if !res.Duplicated && !res.Skipped {
				saved++
			}
		}
	}
	zap.L().Info("wa: history backfill done",
		zap.String("account", accountID), zap.Int("chats", visited), zap.Int("saved", saved), zap.Int("skipped", skipped))
}
