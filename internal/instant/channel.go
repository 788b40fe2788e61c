package instant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-registry/internal/auth"
	"github.com/nerrad567/gray-logic-registry/internal/store"
)

// Logger defines the logging interface used by the Channel.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventKind names a channel mutation.
type EventKind string

const (
	EventAsked    EventKind = "asked"
	EventAnswered EventKind = "answered"
	EventDeleted  EventKind = "deleted"
)

// Event describes a persisted channel mutation.
type Event struct {
	Kind      EventKind
	Recipient string
	Type      string

	// Count is the number of instants affected.
	Count int
}

// Observer is notified after a mutation has been persisted, outside the
// document lock.
type Observer interface {
	InstantEvent(e Event)
}

// DeviceIndex answers whether a recipient is a registered device. It is
// implemented by the device registry.
type DeviceIndex interface {
	Exists(ctx context.Context, token string) (bool, error)
}

// Channel posts, scans, answers, and deletes instants.
type Channel struct {
	store    *store.Store
	devices  DeviceIndex
	observer Observer
	now      func() time.Time
	logger   Logger
}

// NewChannel creates an instant channel over st. With a nil devices index
// Ask accepts any recipient.
func NewChannel(st *store.Store, devices DeviceIndex) *Channel {
	return &Channel{store: st, devices: devices, now: time.Now, logger: noopLogger{}}
}

// SetLogger sets the logger for the channel.
func (c *Channel) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// SetClock replaces the time source. Intended for tests.
func (c *Channel) SetClock(now func() time.Time) {
	c.now = now
}

// SetObserver sets the receiver of channel events.
func (c *Channel) SetObserver(o Observer) {
	c.observer = o
}

// Ask appends an unanswered instant to the recipient's queue. The
// recipient must be a registered device.
func (c *Channel) Ask(ctx context.Context, req AskRequest) (Instant, error) {
	if err := auth.ValidateTokenID(req.Recipient); err != nil {
		return Instant{}, err
	}
	if err := validateType(req.Type); err != nil {
		return Instant{}, err
	}
	if err := c.requireRecipient(ctx, req.Recipient); err != nil {
		return Instant{}, err
	}

	in := Instant{
		Answer:    Answer{Option: map[string]any{}},
		Timestamp: c.now().Unix(),
		Type:      req.Type,
		Name:      req.Name,
		Info:      req.Info,
		Options:   req.Options,
	}
	if in.Options == nil {
		in.Options = []any{}
	}

	var doc instantDocument
	err := c.store.Update(ctx, store.Instants, &doc, func() (bool, error) {
		if doc == nil {
			doc = make(instantDocument)
		}
		doc[req.Recipient] = append(doc[req.Recipient], in)
		return true, nil
	})
	if err != nil {
		return Instant{}, fmt.Errorf("asking instant: %w", err)
	}

	// The recipient may have been removed, and its queue cascaded away,
	// between the check and the write. Drop the queue again if so.
	if err := c.requireRecipient(ctx, req.Recipient); err != nil {
		if errors.Is(err, ErrRecipientNotFound) {
			if rerr := c.RemoveDevice(ctx, req.Recipient); rerr != nil {
				return Instant{}, fmt.Errorf("undoing instant for removed device: %w", rerr)
			}
			c.logger.Warn("recipient removed during ask", "recipient", auth.Fingerprint(req.Recipient), "type", req.Type)
		}
		return Instant{}, err
	}

	c.logger.Info("instant asked",
		"recipient", auth.Fingerprint(req.Recipient),
		"type", req.Type,
		"options", len(in.Options),
	)
	c.notify(Event{Kind: EventAsked, Recipient: req.Recipient, Type: req.Type, Count: 1})
	return in, nil
}

// Scan returns a filtered copy of the queues. With a recipient filter only
// that recipient's queue is included (and nothing if it has none); with a
// type filter each included queue keeps only instants of that type.
func (c *Channel) Scan(ctx context.Context, f Filter) (map[string]Queue, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	doc, err := c.load(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]Queue, len(doc))
	for recipient, q := range doc {
		if f.Recipient != "" && recipient != f.Recipient {
			continue
		}
		out[recipient] = filterType(q, f.Type)
	}
	return out, nil
}

// Answer resolves every instant of the requested type in the recipient's
// queue and returns how many it resolved. Already answered instants are
// overwritten. The option index must be valid for every match; otherwise
// nothing changes.
func (c *Channel) Answer(ctx context.Context, req AnswerRequest) (int, error) {
	if err := validateType(req.Type); err != nil {
		return 0, err
	}

	var count int
	var doc instantDocument
	err := c.store.Update(ctx, store.Instants, &doc, func() (bool, error) {
		q := doc[req.Recipient]
		for _, in := range q {
			if in.Type != req.Type {
				continue
			}
			if req.OptionIndex < 0 || req.OptionIndex >= len(in.Options) {
				return false, fmt.Errorf("%w: index %d of %d options", ErrInvalidOption, req.OptionIndex, len(in.Options))
			}
		}

		count = 0
		for i := range q {
			if q[i].Type != req.Type {
				continue
			}
			q[i].Answered = true
			q[i].Answer = Answer{
				SourceToken: req.SourceToken,
				Description: req.Description,
				Option:      q[i].Options[req.OptionIndex],
			}
			count++
		}
		return count > 0, nil
	})
	if err != nil {
		return 0, fmt.Errorf("answering instant: %w", err)
	}

	if count > 0 {
		c.logger.Info("instant answered",
			"recipient", auth.Fingerprint(req.Recipient),
			"source", auth.Fingerprint(req.SourceToken),
			"type", req.Type,
			"count", count,
		)
		c.notify(Event{Kind: EventAnswered, Recipient: req.Recipient, Type: req.Type, Count: count})
	}
	return count, nil
}

// Delete removes the most recently asked instant of typ from the
// recipient's queue and reports whether one was found.
func (c *Channel) Delete(ctx context.Context, recipient, typ string) (bool, error) {
	if err := validateType(typ); err != nil {
		return false, err
	}

	var deleted bool
	var doc instantDocument
	err := c.store.Update(ctx, store.Instants, &doc, func() (bool, error) {
		q := doc[recipient]
		last := -1
		for i, in := range q {
			if in.Type == typ {
				last = i
			}
		}
		if last < 0 {
			return false, nil
		}

		q = append(q[:last], q[last+1:]...)
		if len(q) == 0 {
			delete(doc, recipient)
		} else {
			doc[recipient] = q
		}
		deleted = true
		return true, nil
	})
	if err != nil {
		return false, fmt.Errorf("deleting instant: %w", err)
	}

	if deleted {
		c.logger.Info("instant deleted", "recipient", auth.Fingerprint(recipient), "type", typ)
		c.notify(Event{Kind: EventDeleted, Recipient: recipient, Type: typ, Count: 1})
	}
	return deleted, nil
}

// RemoveDevice drops a device's whole queue. An absent queue is not an error.
func (c *Channel) RemoveDevice(ctx context.Context, token string) error {
	var doc instantDocument
	err := c.store.Update(ctx, store.Instants, &doc, func() (bool, error) {
		if _, ok := doc[token]; !ok {
			return false, nil
		}
		delete(doc, token)
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("removing instants: %w", err)
	}
	return nil
}

func (c *Channel) load(ctx context.Context) (instantDocument, error) {
	var doc instantDocument
	if err := c.store.Load(ctx, store.Instants, &doc); err != nil {
		return nil, fmt.Errorf("loading instants: %w", err)
	}
	return doc, nil
}

func (c *Channel) requireRecipient(ctx context.Context, recipient string) error {
	if c.devices == nil {
		return nil
	}
	ok, err := c.devices.Exists(ctx, recipient)
	if err != nil {
		return fmt.Errorf("checking recipient: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecipientNotFound, auth.Fingerprint(recipient))
	}
	return nil
}

func (c *Channel) notify(e Event) {
	if c.observer != nil {
		c.observer.InstantEvent(e)
	}
}

// filterType returns a new queue holding the instants of typ, or a copy of
// q when typ is empty.
func filterType(q Queue, typ string) Queue {
	out := make(Queue, 0, len(q))
	for _, in := range q {
		if typ == "" || in.Type == typ {
			out = append(out, in)
		}
	}
	return out
}
