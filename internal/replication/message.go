// Package replication carries predicted ability requests from locally
// controlled mirrors to the authority and state deltas back to observers.
//
// Frames are opaque byte slices; the host transport only has to deliver
// them reliably and in order per actor.
package replication

import (
	"errors"
	"fmt"

	"github.com/udisondev/abilitycore/internal/ability"
	"github.com/udisondev/abilitycore/internal/actor"
	"github.com/udisondev/abilitycore/internal/effect"
	"github.com/udisondev/abilitycore/internal/tag"
	"github.com/udisondev/abilitycore/internal/wire"
)

// Message opcodes.
const (
	OpCommand byte = 0x01
	OpDelta   byte = 0x02
)

var (
	// ErrUnknownMessage is returned for frames with an unknown opcode or kind.
	ErrUnknownMessage = errors.New("replication: unknown message")
	// ErrEmptyFrame is returned for zero-length frames.
	ErrEmptyFrame = errors.New("replication: empty frame")
)

// Command is a request from a locally controlled mirror. Seq increases by
// one per command of the same actor.
type Command struct {
	Actor   actor.ID
	Seq     uint32
	Kind    ability.RequestKind
	Ability string
	Key     ability.PredictionKey
}

// Request returns the ability request carried by the command.
func (c Command) Request() ability.Request {
	return ability.Request{Kind: c.Kind, Ability: c.Ability, Key: c.Key}
}

// DeltaKind is the kind of state change broadcast by the authority.
type DeltaKind uint8

const (
	DeltaAttribute DeltaKind = iota + 1
	DeltaTags
	DeltaAbilityGranted
	DeltaAbilityRemoved
	DeltaAbilityActivated
	DeltaAbilityEnded
	DeltaAbilityRejected
	DeltaEffectApplied
	DeltaEffectRemoved
	DeltaEffectStacks
)

var deltaNames = map[DeltaKind]string{
	DeltaAttribute:        "attribute",
	DeltaTags:             "tags",
	DeltaAbilityGranted:   "ability_granted",
	DeltaAbilityRemoved:   "ability_removed",
	DeltaAbilityActivated: "ability_activated",
	DeltaAbilityEnded:     "ability_ended",
	DeltaAbilityRejected:  "ability_rejected",
	DeltaEffectApplied:    "effect_applied",
	DeltaEffectRemoved:    "effect_removed",
	DeltaEffectStacks:     "effect_stacks",
}

func (k DeltaKind) String() string {
	if n, ok := deltaNames[k]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// Delta is one authoritative state change. Which fields are set depends on
// Kind: Name is the attribute type, ability id or effect id.
type Delta struct {
	Kind     DeltaKind
	Actor    actor.ID
	Name     string
	Value    float64
	Tags     []tag.Tag
	Key      ability.PredictionKey
	Canceled bool
	Handle   effect.Handle
	Stacks   int
}

// Peek returns the opcode of frame.
func Peek(frame []byte) (byte, error) {
	if len(frame) == 0 {
		return 0, ErrEmptyFrame
	}
	switch frame[0] {
	case OpCommand, OpDelta:
		return frame[0], nil
	default:
		return 0, fmt.Errorf("opcode 0x%02X: %w", frame[0], ErrUnknownMessage)
	}
}

// EncodeCommand serializes c into a new frame.
func EncodeCommand(c Command) []byte {
	w := wire.Get()
	defer w.Put()

	_ = w.WriteByte(OpCommand)
	w.WriteString(string(c.Actor))
	w.WriteUint32(c.Seq)
	_ = w.WriteByte(byte(c.Kind))
	w.WriteString(c.Ability)
	w.WriteUint32(uint32(c.Key))
	return w.Copy()
}

// DecodeCommand parses a command frame.
func DecodeCommand(frame []byte) (Command, error) {
	var c Command
	if op, err := Peek(frame); err != nil {
		return c, err
	} else if op != OpCommand {
		return c, fmt.Errorf("expected command, got opcode 0x%02X: %w", op, ErrUnknownMessage)
	}
	r := wire.NewReader(frame[1:])

	id, err := r.ReadString()
	if err != nil {
		return c, fmt.Errorf("reading actor: %w", err)
	}
	c.Actor = actor.ID(id)
	if c.Seq, err = r.ReadUint32(); err != nil {
		return c, fmt.Errorf("reading seq: %w", err)
	}
	kind, err := r.ReadByte()
	if err != nil {
		return c, fmt.Errorf("reading kind: %w", err)
	}
	c.Kind = ability.RequestKind(kind)
	if c.Kind < ability.RequestActivate || c.Kind > ability.RequestCancel {
		return c, fmt.Errorf("request kind %d: %w", kind, ErrUnknownMessage)
	}
	if c.Ability, err = r.ReadString(); err != nil {
		return c, fmt.Errorf("reading ability: %w", err)
	}
	key, err := r.ReadUint32()
	if err != nil {
		return c, fmt.Errorf("reading key: %w", err)
	}
	c.Key = ability.PredictionKey(key)
	return c, nil
}

// EncodeDelta serializes d into a new frame.
func EncodeDelta(d Delta) ([]byte, error) {
	w := wire.Get()
	defer w.Put()

	_ = w.WriteByte(OpDelta)
	_ = w.WriteByte(byte(d.Kind))
	w.WriteString(string(d.Actor))

	switch d.Kind {
	case DeltaAttribute:
		w.WriteString(d.Name)
		w.WriteDouble(d.Value)
	case DeltaTags:
		names := make([]string, len(d.Tags))
		for i, t := range d.Tags {
			names[i] = string(t)
		}
		w.WriteStrings(names)
	case DeltaAbilityGranted, DeltaAbilityRemoved:
		w.WriteString(d.Name)
	case DeltaAbilityActivated, DeltaAbilityRejected:
		w.WriteString(d.Name)
		w.WriteUint32(uint32(d.Key))
	case DeltaAbilityEnded:
		w.WriteString(d.Name)
		w.WriteUint32(uint32(d.Key))
		w.WriteBool(d.Canceled)
	case DeltaEffectApplied:
		w.WriteString(string(d.Handle))
		w.WriteString(d.Name)
		w.WriteInt(int32(d.Stacks))
	case DeltaEffectRemoved:
		w.WriteString(string(d.Handle))
	case DeltaEffectStacks:
		w.WriteString(string(d.Handle))
		w.WriteInt(int32(d.Stacks))
	default:
		return nil, fmt.Errorf("delta kind %d: %w", uint8(d.Kind), ErrUnknownMessage)
	}
	return w.Copy(), nil
}

// DecodeDelta parses a delta frame.
func DecodeDelta(frame []byte) (Delta, error) {
	var d Delta
	if op, err := Peek(frame); err != nil {
		return d, err
	} else if op != OpDelta {
		return d, fmt.Errorf("expected delta, got opcode 0x%02X: %w", op, ErrUnknownMessage)
	}
	r := wire.NewReader(frame[1:])

	kind, err := r.ReadByte()
	if err != nil {
		return d, fmt.Errorf("reading kind: %w", err)
	}
	d.Kind = DeltaKind(kind)
	id, err := r.ReadString()
	if err != nil {
		return d, fmt.Errorf("reading actor: %w", err)
	}
	d.Actor = actor.ID(id)

	switch d.Kind {
	case DeltaAttribute:
		if d.Name, err = r.ReadString(); err != nil {
			break
		}
		d.Value, err = r.ReadDouble()
	case DeltaTags:
		var names []string
		if names, err = r.ReadStrings(); err != nil {
			break
		}
		for _, n := range names {
			d.Tags = append(d.Tags, tag.Tag(n))
		}
	case DeltaAbilityGranted, DeltaAbilityRemoved:
		d.Name, err = r.ReadString()
	case DeltaAbilityActivated, DeltaAbilityRejected, DeltaAbilityEnded:
		if d.Name, err = r.ReadString(); err != nil {
			break
		}
		var key uint32
		if key, err = r.ReadUint32(); err != nil {
			break
		}
		d.Key = ability.PredictionKey(key)
		if d.Kind == DeltaAbilityEnded {
			d.Canceled, err = r.ReadBool()
		}
	case DeltaEffectApplied:
		var h string
		if h, err = r.ReadString(); err != nil {
			break
		}
		d.Handle = effect.Handle(h)
		if d.Name, err = r.ReadString(); err != nil {
			break
		}
		var n int32
		n, err = r.ReadInt()
		d.Stacks = int(n)
	case DeltaEffectRemoved:
		var h string
		h, err = r.ReadString()
		d.Handle = effect.Handle(h)
	case DeltaEffectStacks:
		var h string
		if h, err = r.ReadString(); err != nil {
			break
		}
		d.Handle = effect.Handle(h)
		var n int32
		n, err = r.ReadInt()
		d.Stacks = int(n)
	default:
		return d, fmt.Errorf("delta kind %d: %w", kind, ErrUnknownMessage)
	}
	if err != nil {
		return d, fmt.Errorf("decoding %s delta: %w", d.Kind, err)
	}
	return d, nil
}
