// Package dispatch orchestrates the inbound-message pipeline: persist,
// prompt, generate, and hand the reply to the shared queue for delivery.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ericobon/EsferaZap-sub001/internal/ai"
	"github.com/Ericobon/EsferaZap-sub001/internal/bus"
	"github.com/Ericobon/EsferaZap-sub001/internal/channel"
	"github.com/Ericobon/EsferaZap-sub001/internal/queue"
	"github.com/Ericobon/EsferaZap-sub001/internal/store"
)

// ErrBotNotFound is returned when a message is routed to an unknown bot id.
var ErrBotNotFound = errors.New("bot not found")

// OutboundSend is the queue payload for one reply delivery.
type OutboundSend struct {
	BotID          string
	ConversationID string
	MessageID      string // persisted outbound row, pending until delivered
	To             string
	Content        string
}

// TransportLookup resolves the live channel transport for a bot.
type TransportLookup func(botID string) (channel.Transport, error)

// Options tunes the processor.
type Options struct {
	Queue         queue.Config
	HistoryWindow int
	AITimeout     time.Duration
}

// Processor runs the pipeline for every inbound message. One instance, and
// one underlying dispatch queue, is shared by all bots.
type Processor struct {
	db         *store.DB
	ai         *ai.Registry
	transports TransportLookup
	bus        *bus.Bus
	logger     *zap.Logger
	opts       Options
	queue      *queue.Queue[OutboundSend]
}

// NewProcessor creates the processor and its outbound queue.
func NewProcessor(db *store.DB, registry *ai.Registry, transports TransportLookup, b *bus.Bus, logger *zap.Logger, opts Options) *Processor {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 20
	}
	if opts.AITimeout <= 0 {
		opts.AITimeout = 30 * time.Second
	}
	p := &Processor{
		db:         db,
		ai:         registry,
		transports: transports,
		bus:        b,
		logger:     logger,
		opts:       opts,
	}
	// Untyped retry policy (nil classify): every send failure is retried
	// until the budget runs out, then the drop observer records it.
	p.queue = queue.New(opts.Queue, p.deliver, p.onDropped, nil, logger)
	return p
}

// QueueLen reports the number of pending outbound sends.
func (p *Processor) QueueLen() int { return p.queue.Len() }

// Close stops the outbound queue.
func (p *Processor) Close() { p.queue.Close() }

// Handle processes one inbound message and returns the generated reply text
// (for the synchronous test-ingress path). The reply's actual delivery is
// asynchronous. An inactive bot is a silent no-op; an unknown bot returns
// ErrBotNotFound so the webhook layer can 404.
func (p *Processor) Handle(ctx context.Context, botID, fromAddress, displayName, content, msgType string) (string, error) {
	acc, err := p.accept(botID, fromAddress, displayName, content, msgType)
	if err != nil || acc == nil {
		return "", err
	}
	return p.respond(ctx, acc)
}

// HandleDetached persists the inbound row before returning, then runs
// generation and delivery in the background. Callers that must acknowledge
// fast (webhook ingress, transport event handlers) use this path; because
// acceptance is synchronous, rows within a conversation land in receipt
// order no matter how the background work is scheduled.
func (p *Processor) HandleDetached(botID, fromAddress, displayName, content, msgType string) error {
	acc, err := p.accept(botID, fromAddress, displayName, content, msgType)
	if err != nil || acc == nil {
		return err
	}
	go func() {
		if _, err := p.respond(context.Background(), acc); err != nil {
			p.logger.Error("detached pipeline failed",
				zap.String("bot_id", acc.bot.ID),
				zap.String("conversation_id", acc.conv.ID),
				zap.Error(err))
		}
	}()
	return nil
}

// accepted carries pipeline state from acceptance to response.
type accepted struct {
	bot  *store.Bot
	conv *store.Conversation
	from string
}

// accept runs the synchronous head of the pipeline: resolve bot and
// conversation, persist the inbound row, publish message.received. A nil
// result with nil error means there is nothing to respond to (inactive bot
// or a conversation held by a human agent).
func (p *Processor) accept(botID, fromAddress, displayName, content, msgType string) (*accepted, error) {
	bot, err := p.db.GetBot(botID)
	if err != nil {
		return nil, fmt.Errorf("load bot: %w", err)
	}
	if bot == nil {
		return nil, fmt.Errorf("%w: %s", ErrBotNotFound, botID)
	}
	if bot.Status != store.BotActive {
		p.logger.Debug("inbound for inactive bot ignored", zap.String("bot_id", botID))
		return nil, nil
	}

	conv, err := p.db.GetOrCreateConversation(botID, fromAddress, displayName)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}

	if msgType == "" {
		msgType = channel.TypeText
	}
	inbound := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Content:        content,
		Direction:      store.DirectionInbound,
		MsgType:        msgType,
		Status:         store.StatusReceived,
	}
	if err := p.db.AppendMessage(inbound); err != nil {
		return nil, fmt.Errorf("persist inbound: %w", err)
	}
	if err := p.db.UpdateConversationTimestamp(conv.ID, inbound.Timestamp); err != nil {
		p.logger.Warn("conversation timestamp update failed", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
	p.bus.Publish(bus.Event{Kind: bus.KindMessageReceived, Payload: inbound.ID})

	// A human agent owns this thread; the auto-responder stays silent.
	if conv.AssignedToAgent {
		return nil, nil
	}
	return &accepted{bot: bot, conv: conv, from: fromAddress}, nil
}

// respond generates the reply and hands it to the queue for delivery.
func (p *Processor) respond(ctx context.Context, acc *accepted) (string, error) {
	reply, result, err := p.generate(ctx, acc.bot, acc.conv.ID)
	if err != nil {
		p.bus.Publish(bus.Event{Kind: bus.KindGenerationFailed, Payload: acc.conv.ID})
		p.logger.Error("reply generation failed",
			zap.String("bot_id", acc.bot.ID),
			zap.String("conversation_id", acc.conv.ID),
			zap.Error(err))
		return "", err
	}

	outbound := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: acc.conv.ID,
		Content:        reply,
		Direction:      store.DirectionOutbound,
		MsgType:        channel.TypeText,
		Status:         store.StatusPending,
		TokensUsed:     result.TokensUsed,
		LatencyMs:      result.Latency.Milliseconds(),
	}
	if err := p.db.AppendMessage(outbound); err != nil {
		return "", fmt.Errorf("persist outbound: %w", err)
	}

	p.queue.Enqueue(OutboundSend{
		BotID:          acc.bot.ID,
		ConversationID: acc.conv.ID,
		MessageID:      outbound.ID,
		To:             acc.from,
		Content:        reply,
	}, outbound.ID)

	return reply, nil
}

// generate builds the prompt from the trailing history window and invokes
// the bot's configured backend.
func (p *Processor) generate(ctx context.Context, bot *store.Bot, conversationID string) (string, ai.GenerateResult, error) {
	backend, err := p.ai.Get(bot.AIProvider)
	if err != nil {
		return "", ai.GenerateResult{}, err
	}

	history, err := p.db.ListRecentMessages(conversationID, p.opts.HistoryWindow)
	if err != nil {
		return "", ai.GenerateResult{}, fmt.Errorf("load history: %w", err)
	}

	genCtx, cancel := context.WithTimeout(ctx, p.opts.AITimeout)
	defer cancel()

	result, err := backend.Generate(genCtx, ai.GenerateRequest{
		System:      bot.SystemPrompt,
		History:     buildTurns(history),
		Model:       bot.AIModel,
		Temperature: bot.Temperature,
		MaxTokens:   bot.MaxTokens,
	})
	if err != nil {
		return "", ai.GenerateResult{}, err
	}
	return result.Text, result, nil
}

// deliver is the queue's process function: the actual channel send.
func (p *Processor) deliver(ctx context.Context, item queue.Item[OutboundSend]) error {
	send := item.Payload

	transport, err := p.transports(send.BotID)
	if err != nil {
		return fmt.Errorf("resolve transport: %w", err)
	}
	if err := transport.Send(ctx, send.To, send.Content); err != nil {
		return fmt.Errorf("channel send: %w", err)
	}

	now := time.Now().UnixMilli()
	if err := p.db.UpdateMessageStatus(send.MessageID, store.StatusSent); err != nil {
		p.logger.Warn("message status update failed", zap.String("message_id", send.MessageID), zap.Error(err))
	}
	if err := p.db.UpdateConversationTimestamp(send.ConversationID, now); err != nil {
		p.logger.Warn("conversation timestamp update failed", zap.String("conversation_id", send.ConversationID), zap.Error(err))
	}
	p.bus.Publish(bus.Event{Kind: bus.KindMessageSent, Payload: send.MessageID})
	return nil
}

// onDropped records a permanently failed delivery so the conversation shows
// the failure instead of silently losing the reply.
func (p *Processor) onDropped(item queue.Item[OutboundSend], err error) {
	send := item.Payload
	if dbErr := p.db.UpdateMessageStatus(send.MessageID, store.StatusFailed); dbErr != nil {
		p.logger.Warn("message status update failed", zap.String("message_id", send.MessageID), zap.Error(dbErr))
	}
	p.bus.Publish(bus.Event{Kind: bus.KindMessageSendFailed, Payload: send.MessageID})
	p.logger.Error("delivery failed permanently",
		zap.String("bot_id", send.BotID),
		zap.String("message_id", send.MessageID),
		zap.Int("attempts", item.Retries+1),
		zap.Error(err))
}
