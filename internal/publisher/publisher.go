package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/breeze-rmm/session-panel/internal/logging"
	"github.com/breeze-rmm/session-panel/internal/panel"
)

var log = logging.L("publisher")

var (
	// ErrNotFound means the message (or channel) no longer exists.
	ErrNotFound = errors.New("message not found")
	// ErrForbidden means the bot lacks permission for the operation.
	ErrForbidden = errors.New("forbidden")
)

// MessageClient sends and maintains messages in the panel channel.
type MessageClient interface {
	Send(ctx context.Context, doc panel.Document) (string, error)
	Fetch(ctx context.Context, id string) error
	Edit(ctx context.Context, id string, doc panel.Document) error
	Delete(ctx context.Context, id string) error
}

// IDStore persists the panel message id across restarts.
type IDStore interface {
	PanelMessageID() string
	SetPanelMessageID(id string) error
}

// Publisher keeps exactly one panel message up to date. It is owned by the
// tick loop and is not safe for concurrent use.
type Publisher struct {
	client          MessageClient
	store           IDStore
	placeholder     func() panel.Document
	messageID       string
	lastFingerprint string
}

// New creates a Publisher. placeholder renders the document used when a new
// message has to be created before the first tick's content is known.
func New(client MessageClient, store IDStore, placeholder func() panel.Document) *Publisher {
	return &Publisher{client: client, store: store, placeholder: placeholder}
}

// MessageID returns the id of the live panel message, "" if none.
func (p *Publisher) MessageID() string {
	return p.messageID
}

// Ensure makes sure the panel message exists, recovering the persisted id
// when its message is still present and creating a new one otherwise.
// Failing to create the message is fatal to the caller.
func (p *Publisher) Ensure(ctx context.Context) error {
	if p.messageID == "" {
		p.messageID = p.store.PanelMessageID()
	}

	if p.messageID != "" {
		err := p.client.Fetch(ctx, p.messageID)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrNotFound):
			log.Info("panel message gone, recreating", logging.KeyMessageID, p.messageID)
			p.forget()
		default:
			return fmt.Errorf("fetch panel message %s: %w", p.messageID, err)
		}
	}

	return p.create(ctx, p.placeholder())
}

// Publish edits the panel message when doc differs from what was last
// published. It reports whether an edit (or recreation) happened.
func (p *Publisher) Publish(ctx context.Context, doc panel.Document) (bool, error) {
	fp := doc.Fingerprint()
	if p.messageID != "" && fp == p.lastFingerprint {
		return false, nil
	}

	if p.messageID == "" {
		if err := p.create(ctx, doc); err != nil {
			return false, err
		}
		p.lastFingerprint = fp
		return true, nil
	}

	err := p.client.Edit(ctx, p.messageID, doc)
	if errors.Is(err, ErrNotFound) {
		log.Warn("panel message deleted externally, recreating", logging.KeyMessageID, p.messageID)
		p.forget()
		if err := p.create(ctx, doc); err != nil {
			return false, err
		}
		p.lastFingerprint = fp
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("edit panel message %s: %w", p.messageID, err)
	}

	log.Debug("panel updated", logging.KeyMessageID, p.messageID, logging.KeyFingerprint, fp)
	p.lastFingerprint = fp
	return true, nil
}

// Shutdown deletes the panel message on a best-effort basis. Errors are
// logged, never returned. The persisted id is cleared only when the
// message is confirmed deleted or already gone.
func (p *Publisher) Shutdown(ctx context.Context, timeout time.Duration) {
	if p.messageID == "" {
		p.messageID = p.store.PanelMessageID()
	}
	if p.messageID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.client.Fetch(ctx, p.messageID); err != nil {
		if errors.Is(err, ErrNotFound) {
			p.forget()
			return
		}
		log.Warn("could not fetch panel message for cleanup", logging.KeyMessageID, p.messageID, logging.KeyError, err.Error())
		return
	}

	err := p.client.Delete(ctx, p.messageID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		log.Warn("could not delete panel message", logging.KeyMessageID, p.messageID, logging.KeyError, err.Error())
		return
	}
	log.Info("panel message removed", logging.KeyMessageID, p.messageID)
	p.forget()
}

func (p *Publisher) create(ctx context.Context, doc panel.Document) error {
	id, err := p.client.Send(ctx, doc)
	if err != nil {
		return fmt.Errorf("create panel message: %w", err)
	}
	p.messageID = id
	p.lastFingerprint = ""
	if err := p.store.SetPanelMessageID(id); err != nil {
		return fmt.Errorf("persist panel message id: %w", err)
	}
	log.Info("panel message created", logging.KeyMessageID, id)
	return nil
}

func (p *Publisher) forget() {
	p.messageID = ""
	p.lastFingerprint = ""
	if err := p.store.SetPanelMessageID(""); err != nil {
		log.Warn("failed to clear persisted panel message id", logging.KeyError, err.Error())
	}
}
