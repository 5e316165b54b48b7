// Package wa implements channel.Transport on top of whatsmeow.
package wa

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/Ericobon/EsferaZap-sub001/internal/channel"

	_ "github.com/mattn/go-sqlite3"
)

const qrImageSize = 256

// Adapter wraps a whatsmeow client for one bot's WhatsApp connection.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	logger    *zap.Logger

	mu        sync.Mutex
	onPaired  func()
	onMessage channel.InboundFunc
}

// New creates an adapter with a per-bot device store at dbPath.
func New(ctx context.Context, dbPath string, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("EsferaZap", [3]uint32{1, 0, 0})

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create channel store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	a := &Adapter{
		client:    whatsmeow.NewClient(deviceStore, nil),
		container: container,
		logger:    logger,
	}
	a.client.AddEventHandler(a.handleEvent)
	return a, nil
}

// OnPaired implements channel.Transport.
func (a *Adapter) OnPaired(fn func()) {
	a.mu.Lock()
	a.onPaired = fn
	a.mu.Unlock()
}

// OnMessage implements channel.Transport.
func (a *Adapter) OnMessage(fn channel.InboundFunc) {
	a.mu.Lock()
	a.onMessage = fn
	a.mu.Unlock()
}

// IssuePairingArtifact starts the connection and returns the first QR code.
// For an already-linked device there is no QR; the artifact carries an empty
// code and pairing completes as soon as the server accepts the resume.
func (a *Adapter) IssuePairingArtifact(ctx context.Context) (*channel.Artifact, error) {
	if a.client.Store.ID != nil {
		// Credentials exist: plain reconnect, no QR handshake.
		if err := a.client.Connect(); err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		return &channel.Artifact{Code: "", IssuedAt: time.Now()}, nil
	}

	qrChan, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get QR channel: %w", err)
	}
	if err := a.client.Connect(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	for {
		select {
		case item, ok := <-qrChan:
			if !ok {
				return nil, fmt.Errorf("QR channel closed before a code arrived")
			}
			if item.Event != whatsmeow.QRChannelEventCode {
				continue
			}
			png, err := qrcode.Encode(item.Code, qrcode.Medium, qrImageSize)
			if err != nil {
				a.logger.Warn("QR render failed", zap.Error(err))
			}
			return &channel.Artifact{
				Code:     item.Code,
				QRImage:  png,
				IssuedAt: time.Now(),
			}, nil
		case <-ctx.Done():
			a.client.Disconnect()
			return nil, ctx.Err()
		}
	}
}

// Send delivers a text message to the given address.
func (a *Adapter) Send(ctx context.Context, address, content string) error {
	to, err := parseAddress(address)
	if err != nil {
		return err
	}
	_, err = a.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(content),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Close implements channel.Transport.
func (a *Adapter) Close() error {
	a.client.Disconnect()
	return a.container.Close()
}

func (a *Adapter) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		a.logger.Info("channel connected")
		a.mu.Lock()
		fn := a.onPaired
		a.mu.Unlock()
		if fn != nil {
			fn()
		}
	case *events.Message:
		a.handleMessage(evt)
	case *events.LoggedOut:
		a.logger.Warn("channel logged out", zap.String("reason", evt.Reason.String()))
	}
}

func (a *Adapter) handleMessage(evt *events.Message) {
	if evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	content, msgType := extractContent(evt.Message)
	if content == "" && msgType == channel.TypeText {
		return
	}

	a.mu.Lock()
	fn := a.onMessage
	a.mu.Unlock()
	if fn != nil {
		fn(evt.Info.Sender.ToNonAD().User, evt.Info.PushName, content, msgType)
	}
}

// extractContent pulls the text body and type out of a raw protocol message.
func extractContent(msg *waE2E.Message) (string, string) {
	if msg == nil {
		return "", channel.TypeText
	}
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation(), channel.TypeText
	case msg.GetExtendedTextMessage().GetText() != "":
		return msg.GetExtendedTextMessage().GetText(), channel.TypeText
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption(), channel.TypeImage
	case msg.GetAudioMessage() != nil:
		return "", channel.TypeAudio
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption(), channel.TypeDocument
	}
	return "", channel.TypeText
}

// parseAddress accepts either a full JID or a bare phone number.
func parseAddress(address string) (types.JID, error) {
	if strings.Contains(address, "@") {
		jid, err := types.ParseJID(address)
		if err != nil {
			return types.EmptyJID, fmt.Errorf("parse address: %w", err)
		}
		return jid, nil
	}
	return types.NewJID(address, types.DefaultUserServer), nil
}
