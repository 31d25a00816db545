package bus

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/utils/logging"
)

// Send creates a message from one node to another and blocks until it is
// delivered. Listeners are notified once, before the delivery delay starts.
//
// A scheduled delivery cannot be aborted. When ctx is cancelled first, Send
// returns the message ID with the context error and the delivery still
// completes in the background.
func (b *Bus) Send(
	ctx context.Context,
	from, to model.NodeID,
	msgType model.MessageType,
	content string,
) (model.MessageID, error) {
	if err := msgType.Validate(); err != nil {
		return "", goerr.Wrap(err, "failed to send message")
	}

	// the touch and the delivery are registered as pending before Exclusive
	// can take over
	b.gate.RLock()
	if err := b.checkRoute(from, to); err != nil {
		b.gate.RUnlock()
		return "", err
	}
	b.pending.Add(2)
	b.gate.RUnlock()

	msg := &model.Message{
		ID:        model.NewMessageID(),
		From:      from,
		To:        to,
		Type:      msgType,
		Content:   content,
		Timestamp: time.Now(),
	}
	logger := logging.From(ctx).With("message_id", msg.ID)
	bg := context.WithoutCancel(ctx)

	b.mu.Lock()
	b.log = append(b.log, msg)
	b.mu.Unlock()

	if err := b.repo.PutMessage(ctx, msg.Clone()); err != nil {
		logger.Warn("failed to persist message", "error", err)
	}

	go func() {
		defer b.pending.Done()
		b.dir.Touch(bg, from, to)
	}()

	b.notify(msg)

	delay := b.rnd.Duration(b.delay.Min, b.delay.Max)
	delivered := make(chan struct{})
	time.AfterFunc(delay, func() {
		defer b.pending.Done()
		defer close(delivered)
		b.deliver(bg, msg)
	})

	logger.Debug("message sent", "from", from, "to", to, "type", msgType, "delay", delay)

	select {
	case <-delivered:
		return msg.ID, nil
	case <-ctx.Done():
		return msg.ID, goerr.Wrap(ctx.Err(), "stopped waiting for delivery", goerr.V("message_id", msg.ID))
	}
}

func (b *Bus) checkRoute(from, to model.NodeID) error {
	src, err := b.dir.Node(from)
	if err != nil {
		return goerr.Wrap(ErrNodeNotFound, "sender not found", goerr.V("from", from))
	}
	dst, err := b.dir.Node(to)
	if err != nil {
		return goerr.Wrap(ErrNodeNotFound, "receiver not found", goerr.V("to", to))
	}

	if !src.Active {
		return goerr.Wrap(ErrNodeInactive, "sender is inactive", goerr.V("from", from))
	}
	if !dst.Active {
		return goerr.Wrap(ErrNodeInactive, "receiver is inactive", goerr.V("to", to))
	}

	if !b.dir.CanReach(from, to) {
		return goerr.Wrap(ErrNoPath, "receiver is not reachable", goerr.V("from", from), goerr.V("to", to))
	}
	return nil
}

func (b *Bus) deliver(ctx context.Context, msg *model.Message) {
	b.mu.Lock()
	msg.Delivered = true
	snapshot := msg.Clone()
	b.mu.Unlock()

	if err := b.repo.PutMessage(ctx, snapshot); err != nil {
		logging.From(ctx).Warn("failed to persist delivery", "message_id", msg.ID, "error", err)
	}
}
