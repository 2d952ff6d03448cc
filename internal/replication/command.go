package replication

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/udisondev/abilitycore/internal/ability"
	"github.com/udisondev/abilitycore/internal/actor"
	"github.com/udisondev/abilitycore/internal/metrics"
)

type options struct {
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option configures the replication endpoints.
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics counts sent and received messages.
func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

func buildOptions(opts []Option) options {
	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Outbox numbers and sends the requests of one locally controlled actor.
// It implements ability.Submitter.
type Outbox struct {
	actor actor.ID
	ch    Channel
	seq   uint32
	options
}

// NewOutbox creates the outbox of id writing to ch.
func NewOutbox(id actor.ID, ch Channel, opts ...Option) *Outbox {
	return &Outbox{actor: id, ch: ch, options: buildOptions(opts)}
}

// Submit implements ability.Submitter.
func (o *Outbox) Submit(req ability.Request) {
	o.seq++
	cmd := Command{Actor: o.actor, Seq: o.seq, Kind: req.Kind, Ability: req.Ability, Key: req.Key}
	if err := o.ch.Send(EncodeCommand(cmd)); err != nil {
		o.log.Error("sending command", "actor", o.actor, "seq", cmd.Seq, "kind", cmd.Kind, "error", err)
		return
	}
	o.metrics.ReplicationMessage("out", "command")
}

// Seq returns the last assigned sequence number.
func (o *Outbox) Seq() uint32 { return o.seq }

// AbilityResolver returns the ability registry of an actor on the authority.
type AbilityResolver interface {
	AbilityRegistry(id actor.ID) (*ability.Registry, bool)
}

// Inbox executes commands on the authority. Commands whose sequence number
// was already seen for the actor are dropped, so duplicate delivery never
// activates or commits twice.
type Inbox struct {
	targets AbilityResolver
	last    map[actor.ID]uint32
	options
}

// NewInbox creates an inbox dispatching to targets.
func NewInbox(targets AbilityResolver, opts ...Option) *Inbox {
	return &Inbox{
		targets: targets,
		last:    make(map[actor.ID]uint32),
		options: buildOptions(opts),
	}
}

// Handle decodes and executes one command frame.
func (in *Inbox) Handle(frame []byte) error {
	cmd, err := DecodeCommand(frame)
	if err != nil {
		return fmt.Errorf("handle command: %w", err)
	}
	in.Execute(cmd)
	return nil
}

// HandleAll handles every frame and joins the decode errors.
func (in *Inbox) HandleAll(frames [][]byte) error {
	var errs []error
	for _, f := range frames {
		if err := in.Handle(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Execute runs cmd unless it is a duplicate. Returns whether it was executed.
func (in *Inbox) Execute(cmd Command) bool {
	in.metrics.ReplicationMessage("in", "command")
	if cmd.Seq <= in.last[cmd.Actor] {
		in.log.Debug("duplicate command dropped", "actor", cmd.Actor, "seq", cmd.Seq)
		return false
	}
	in.last[cmd.Actor] = cmd.Seq

	reg, ok := in.targets.AbilityRegistry(cmd.Actor)
	if !ok {
		in.log.Debug("command for unknown actor", "actor", cmd.Actor, "ability", cmd.Ability)
		return false
	}
	reg.Execute(cmd.Request())
	return true
}

// Forget drops the sequence state of id, for example after it despawns.
func (in *Inbox) Forget(id actor.ID) {
	delete(in.last, id)
}
