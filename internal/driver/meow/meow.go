// Package meow adapts a whatsmeow client to the driver contract. Each
// account gets its own sqlite-backed device store inside its session
// artifact directory, so reset and disconnect can wipe pairing state by
// removing that directory.
package meow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/MatheusHenriquePires/S-crm/internal/driver"
)

type Driver struct{}

func New() *Driver { return &Driver{} }

func (d *Driver) Connect(ctx context.Context, accountID, sessionDir string, reset bool, hooks driver.Hooks) (driver.Handle, error) {
	if reset {
		_ = os.RemoveAll(sessionDir)
	}
	if err := os.MkdirAll(sessionDir, 0o750); err != nil {
		return nil, errors.Wrap(err, "create session dir")
	}

	dbPath := filepath.Join(sessionDir, "session.db")
	container, err := sqlstore.New("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", dbPath), nil)
	if err != nil {
		if strings.Contains(err.Error(), "unknown driver") || strings.Contains(err.Error(), "cgo") {
			return nil, errors.Wrap(driver.ErrRuntimeMissing, err.Error())
		}
		return nil, errors.Wrap(err, "open device store")
	}
	device, err := container.GetFirstDevice()
	if err != nil {
		return nil, errors.Wrap(err, "load device")
	}

	client := whatsmeow.NewClient(device, nil)
	h := &handle{accountID: accountID, client: client, hooks: hooks}
	client.AddEventHandler(h.handleEvent)

	if client.Store.ID == nil {
		// unpaired device: consume the QR channel so pairing codes reach the
		// orchestrator before Connect starts the socket
		qrChan, qerr := client.GetQRChannel(context.Background())
		if qerr != nil && !errors.Is(qerr, whatsmeow.ErrQRStoreContainsID) {
			return nil, errors.Wrap(qerr, "qr channel")
		}
		if qerr == nil {
			go h.consumeQR(qrChan)
		}
	}
	if err := client.Connect(); err != nil {
		return nil, errors.Wrap(err, "connect")
	}
	return h, nil
}

type handle struct {
	accountID string
	client    *whatsmeow.Client
	hooks     driver.Hooks
	closeOnce sync.Once
}

func (h *handle) consumeQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			if h.hooks.OnQRCode != nil {
				h.hooks.OnQRCode(evt.Code)
			}
		case "success":
			zap.L().Info("meow: qr pairing ok", zap.String("account", h.accountID))
		case "timeout":
			if h.hooks.OnDisconnected != nil {
				h.hooks.OnDisconnected("qr_timeout")
			}
		}
	}
}

func (h *handle) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Connected:
		if h.hooks.OnConnected != nil {
			h.hooks.OnConnected()
		}
	case *events.PairSuccess:
		zap.L().Info("meow: paired", zap.String("account", h.accountID), zap.String("jid", e.ID.String()))
	case *events.Message:
		if h.hooks.OnMessage != nil {
			h.hooks.OnMessage(rawFromMessage(e))
		}
	case *events.Receipt:
		if h.hooks.OnAck == nil {
			return
		}
		ack := ackFromReceipt(e.Type)
		if ack == 0 {
			return
		}
		for _, id := range e.MessageIDs {
			h.hooks.OnAck(id, ack)
		}
	case *events.UndecryptableMessage:
		zap.L().Warn("meow: undecryptable message", zap.String("account", h.accountID))
		if h.hooks.OnDecryptFailure != nil {
			h.hooks.OnDecryptFailure()
		}
	case *events.Disconnected:
		if h.hooks.OnDisconnected != nil {
			h.hooks.OnDisconnected("disconnected")
		}
	case *events.LoggedOut:
		if h.hooks.OnDisconnected != nil {
			h.hooks.OnDisconnected("logged_out")
		}
	case *events.StreamReplaced:
		if h.hooks.OnDisconnected != nil {
			h.hooks.OnDisconnected("stream_replaced")
		}
	}
}

func ackFromReceipt(t waTypes.ReceiptType) int {
	switch t {
	case waTypes.ReceiptTypePlayed:
		return 4
	case waTypes.ReceiptTypeRead, waTypes.ReceiptTypeReadSelf:
		return 3
	case waTypes.ReceiptTypeDelivered:
		return 2
	default:
		return 0
	}
}

// rawFromMessage flattens a whatsmeow message event into the loose payload
// shape the ingestion engine probes. Key names mirror the browser-automation
// channel so both channels go through the same extraction.
func rawFromMessage(e *events.Message) driver.RawMessage {
	msg := e.Message
	kind := "chat"
	body := ""
	caption := ""
	quoted := ""
	switch {
	case msg.GetConversation() != "":
		body = msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		ext := msg.GetExtendedTextMessage()
		body = ext.GetText()
		if ci := ext.GetContextInfo(); ci != nil {
			quoted = ci.GetStanzaID()
		}
	case msg.GetImageMessage() != nil:
		kind = "image"
		caption = msg.GetImageMessage().GetCaption()
	case msg.GetStickerMessage() != nil:
		kind = "sticker"
	case msg.GetAudioMessage() != nil:
		kind = "audio"
	case msg.GetDocumentMessage() != nil:
		kind = "document"
		caption = msg.GetDocumentMessage().GetCaption()
	}
	return driver.RawMessage{
		"id":          e.Info.ID,
		"chatId":      e.Info.Chat.String(),
		"from":        e.Info.Sender.String(),
		"fromMe":      e.Info.IsFromMe,
		"isGroupMsg":  e.Info.IsGroup,
		"type":        kind,
		"body":        body,
		"caption":     caption,
		"quotedMsgId": quoted,
		"notifyName":  e.Info.PushName,
		"timestamp":   e.Info.Timestamp.Unix(),
	}
}

func (h *handle) SendText(ctx context.Context, address, body string, opts driver.SendOptions) (driver.SendResult, error) {
	jid, err := parseAddress(address)
	if err != nil {
		return driver.SendResult{}, err
	}
	msg := &waE2E.Message{Conversation: proto.String(body)}
	if opts.QuotedMessageID != "" {
		msg = &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text: proto.String(body),
				ContextInfo: &waE2E.ContextInfo{
					StanzaID:      proto.String(opts.QuotedMessageID),
					Participant:   proto.String(jid.String()),
					QuotedMessage: &waE2E.Message{Conversation: proto.String("")},
				},
			},
		}
	}
	resp, err := h.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return driver.SendResult{}, err
	}
	return driver.SendResult{ID: resp.ID, Ack: 1}, nil
}

// ProfilePhoto implements the optional driver.ProfilePhotoFetcher capability.
func (h *handle) ProfilePhoto(ctx context.Context, address string) (string, error) {
	jid, err := parseAddress(address)
	if err != nil {
		return "", err
	}
	info, err := h.client.GetProfilePictureInfo(jid, &whatsmeow.GetProfilePictureParams{})
	if err != nil || info == nil {
		return "", err
	}
	return info.URL, nil
}

func (h *handle) Logout() error {
	err := h.client.Logout()
	h.close()
	return err
}

func (h *handle) Close() error {
	h.close()
	return nil
}

func (h *handle) close() {
	h.closeOnce.Do(func() {
		h.client.Disconnect()
	})
}

// parseAddress accepts either a full JID or the browser-channel style
// "<digits>@c.us" address and maps it onto the socket server.
func parseAddress(address string) (waTypes.JID, error) {
	address = strings.TrimSpace(address)
	if strings.HasSuffix(address, "@c.us") {
		address = strings.TrimSuffix(address, "@c.us") + "@" + waTypes.DefaultUserServer
	}
	if !strings.Contains(address, "@") {
		address = address + "@" + waTypes.DefaultUserServer
	}
	return waTypes.ParseJID(address)
}
