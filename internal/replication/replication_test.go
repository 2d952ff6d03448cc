package replication

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/abilitycore/internal/ability"
	"github.com/udisondev/abilitycore/internal/actor"
	"github.com/udisondev/abilitycore/internal/attribute"
	"github.com/udisondev/abilitycore/internal/effect"
	"github.com/udisondev/abilitycore/internal/system"
	"github.com/udisondev/abilitycore/internal/tag"
	"github.com/udisondev/abilitycore/internal/testutil"
	"github.com/udisondev/abilitycore/internal/timer"
)

type catalog struct{}

var (
	testEffects = map[string]*effect.Spec{
		"Cost.Mana": {
			ID:        "Cost.Mana",
			Modifiers: []effect.ModifierSpec{{Attribute: "Mana", Operator: attribute.OpMinus, Value: 15}},
		},
		"Haste": {
			ID:             "Haste",
			DurationPolicy: effect.DurationHasDuration,
			Duration:       3 * time.Second,
			Stacking:       effect.Stacking{Policy: effect.StackingNoLimit},
			Tags:           effect.Tags{Granted: tag.NewContainer("State.Hasted")},
		},
	}
	testAbilities = map[string]*ability.Spec{
		"Blink": {
			ID:              "Blink",
			ActivationOwned: tag.NewContainer("State.Blinking"),
			CostEffect:      "Cost.Mana",
			CooldownTime:    2 * time.Second,
			CooldownTags:    tag.NewContainer("Cooldown.Blink"),
		},
	}
)

func (catalog) EffectSpec(id string) (*effect.Spec, bool) {
	s, ok := testEffects[id]
	return s, ok
}

func (catalog) AbilitySpec(id string) (*ability.Spec, bool) {
	s, ok := testAbilities[id]
	return s, ok
}

func (catalog) AttributeClass(string) ([]attribute.Spec, bool) { return nil, false }

// session wires one authoritative actor to its locally controlled mirror
// through two loopback channels.
type session struct {
	serverTimers *timer.Manager
	server       *system.System
	client       *system.System
	toServer     *Loopback
	toClient     *Loopback
	publisher    *Publisher
	inbox        *Inbox
	mirror       *Mirror
	outbox       *Outbox
}

func newSession(t *testing.T) *session {
	t.Helper()
	s := &session{
		serverTimers: timer.NewManager(),
		toServer:     NewLoopback(),
		toClient:     NewLoopback(),
	}
	world := system.NewWorld(s.serverTimers, system.WithCatalog(catalog{}), system.WithLogger(testutil.DiscardLogger()))
	s.server = world.Spawn(actor.New("hero", actor.RoleAuthority))
	s.server.Attributes().Construct(attribute.Spec{Type: "Mana", Value: 40, Range: &attribute.Range{Min: 0, Max: 100}})
	s.publisher = NewPublisher(s.server, s.toClient, WithLogger(testutil.DiscardLogger()))
	s.inbox = NewInbox(world, WithLogger(testutil.DiscardLogger()))

	s.outbox = NewOutbox("hero", s.toServer, WithLogger(testutil.DiscardLogger()))
	s.client = system.New(actor.New("hero", actor.RoleAutonomousProxy), timer.NewManager(),
		system.WithCatalog(catalog{}), system.WithSubmitter(s.outbox), system.WithLogger(testutil.DiscardLogger()))
	s.mirror = NewMirror("hero", s.client, WithLogger(testutil.DiscardLogger()))
	s.publisher.Sync()
	return s
}

// pump delivers queued frames in both directions until both are empty.
func (s *session) pump(t *testing.T) {
	t.Helper()
	for s.toServer.Len() > 0 || s.toClient.Len() > 0 {
		require.NoError(t, s.inbox.HandleAll(s.toServer.Drain()))
		for _, f := range s.toClient.Drain() {
			require.NoError(t, s.mirror.Handle(f))
		}
	}
}

func TestCommand_Codec(t *testing.T) {
	cmd := Command{Actor: "hero", Seq: 7, Kind: ability.RequestCancel, Ability: "Blink", Key: 3}
	got, err := DecodeCommand(EncodeCommand(cmd))
	require.NoError(t, err)
	assert.Equal(t, cmd, got)

	_, err = DecodeCommand(nil)
	assert.ErrorIs(t, err, ErrEmptyFrame)
	_, err = DecodeCommand([]byte{0x7F})
	assert.ErrorIs(t, err, ErrUnknownMessage)

	frame := EncodeCommand(cmd)
	_, err = DecodeCommand(frame[:len(frame)-2])
	assert.Error(t, err)
}

func TestDelta_Codec(t *testing.T) {
	deltas := []Delta{
		{Kind: DeltaAttribute, Actor: "hero", Name: "Mana", Value: 12.5},
		{Kind: DeltaTags, Actor: "hero", Tags: []tag.Tag{"State.Hasted", "Cooldown.Blink"}},
		{Kind: DeltaAbilityEnded, Actor: "hero", Name: "Blink", Key: 9, Canceled: true},
		{Kind: DeltaEffectApplied, Actor: "hero", Name: "Haste", Handle: "01J0000000000000000000000", Stacks: 2},
	}
	for _, d := range deltas {
		t.Run(d.Kind.String(), func(t *testing.T) {
			frame, err := EncodeDelta(d)
			require.NoError(t, err)
			got, err := DecodeDelta(frame)
			require.NoError(t, err)
			assert.Equal(t, d, got)
		})
	}

	_, err := EncodeDelta(Delta{Kind: 0})
	assert.True(t, errors.Is(err, ErrUnknownMessage))
	_, err = DecodeDelta(EncodeCommand(Command{Actor: "hero", Seq: 1, Kind: ability.RequestEnd}))
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestInbox_DropsDuplicates(t *testing.T) {
	s := newSession(t)
	s.server.Abilities().Grant(testAbilities["Blink"])

	frame := EncodeCommand(Command{Actor: "hero", Seq: 1, Kind: ability.RequestActivate, Ability: "Blink", Key: 1})
	require.NoError(t, s.inbox.Handle(frame))
	require.NoError(t, s.inbox.Handle(frame))

	a, _ := s.server.Abilities().Granted("Blink")
	assert.Equal(t, 1, a.Activations())

	assert.False(t, s.inbox.Execute(Command{Actor: "ghost", Seq: 1, Kind: ability.RequestEnd, Ability: "Blink"}))
	assert.Error(t, s.inbox.Handle([]byte{OpCommand}))
}

func TestSession_PredictedActivation(t *testing.T) {
	s := newSession(t)
	require.True(t, s.server.Abilities().Grant(testAbilities["Blink"]))
	s.pump(t)

	_, ok := s.client.Abilities().Granted("Blink")
	require.True(t, ok, "grant replicated to the mirror")

	require.True(t, s.client.Abilities().TryActivate("Blink"))
	assert.Equal(t, uint32(1), s.outbox.Seq())
	s.pump(t)

	sa, _ := s.server.Abilities().Granted("Blink")
	assert.True(t, sa.IsActivating())
	assert.True(t, s.server.Abilities().Commit("Blink"))
	s.pump(t)

	v, ok := s.mirror.AttributeValue("Mana")
	require.True(t, ok)
	assert.Equal(t, 25.0, v)
	assert.True(t, s.mirror.Tags().HasTag("State.Blinking"))
	assert.True(t, s.mirror.Tags().HasTag("Cooldown.Blink"))
	assert.True(t, s.client.Tags().HasTag("Cooldown.Blink"), "local ledger follows the authority")
	assert.Len(t, s.mirror.Effects(), 1)

	require.True(t, s.client.Abilities().End("Blink"))
	s.pump(t)
	assert.False(t, sa.IsActivating())
	view, _ := s.mirror.Ability("Blink")
	assert.False(t, view.Activating)
	assert.Equal(t, ability.EndNatural, view.LastEnd)
	assert.False(t, s.mirror.Tags().HasTag("State.Blinking"))

	assert.False(t, s.client.Abilities().TryActivate("Blink"), "replicated cooldown tag gates prediction")

	s.serverTimers.Advance(2 * time.Second)
	s.pump(t)
	assert.Empty(t, s.mirror.Effects())
	assert.True(t, s.client.Abilities().CanActivate("Blink"))
}

func TestSession_RejectedPredictionRollsBack(t *testing.T) {
	s := newSession(t)
	s.server.Abilities().Grant(testAbilities["Blink"])
	s.pump(t)

	require.True(t, s.server.Attributes().InitializeAttribute("Mana", 5))
	// The client has not seen the drained mana yet and predicts anyway.
	require.True(t, s.client.Abilities().TryActivate("Blink"))
	s.pump(t)

	ca, _ := s.client.Abilities().Granted("Blink")
	assert.False(t, ca.IsActivating())
	assert.Equal(t, ability.EndCanceled, ca.LastEnd())
	sa, _ := s.server.Abilities().Granted("Blink")
	assert.Equal(t, 0, sa.Activations())
	assert.Equal(t, 1, ca.Activations())
	v, _ := s.client.AttributeValue("Mana")
	assert.Equal(t, 5.0, v)
}

func TestPublisher_Sync(t *testing.T) {
	s := newSession(t)
	s.server.Abilities().Grant(testAbilities["Blink"])
	_, ok := s.server.ApplyEffect("hero", "Haste", 2)
	require.True(t, ok)
	s.toClient.Drain()

	late := NewMirror("hero", nil)
	p := NewPublisher(s.server, s.toClient, WithLogger(testutil.DiscardLogger()))
	p.Sync()
	for _, f := range s.toClient.Drain() {
		require.NoError(t, late.Handle(f))
	}

	_, ok = late.Ability("Blink")
	assert.True(t, ok)
	v, _ := late.AttributeValue("Mana")
	assert.Equal(t, 40.0, v)
	assert.True(t, late.Tags().HasTag("State.Hasted"))
	require.Len(t, late.Effects(), 1)
	assert.Equal(t, 2, late.Effects()[0].Stacks)
}

func TestDemux_RoutesByActor(t *testing.T) {
	a := NewMirror("a", nil)
	b := NewMirror("b", nil)
	d := NewDemux(a, b)

	fa, _ := EncodeDelta(Delta{Kind: DeltaAttribute, Actor: "a", Name: "Health", Value: 1})
	fc, _ := EncodeDelta(Delta{Kind: DeltaAttribute, Actor: "c", Name: "Health", Value: 3})
	require.NoError(t, d.HandleAll([][]byte{fa, fc}))

	_, ok := a.AttributeValue("Health")
	assert.True(t, ok)
	_, ok = b.AttributeValue("Health")
	assert.False(t, ok)
	assert.Error(t, d.Handle([]byte{OpDelta}))
}

func TestFanout(t *testing.T) {
	var f Fanout
	l1, l2 := NewLoopback(), NewLoopback()
	f.Attach(l1)
	f.Attach(l2)

	require.NoError(t, f.Send([]byte{1, 2}))
	assert.Equal(t, [][]byte{{1, 2}}, l1.Drain())
	assert.Equal(t, [][]byte{{1, 2}}, l2.Drain())
	assert.Equal(t, 0, l1.Len())
}

type failingChannel struct{}

func (failingChannel) Send([]byte) error { return testutil.ErrSimulated }

func TestFanout_DeliversPastFailingSink(t *testing.T) {
	var f Fanout
	l := NewLoopback()
	f.Attach(failingChannel{})
	f.Attach(l)

	err := f.Send([]byte{7})
	require.ErrorIs(t, err, testutil.ErrSimulated)
	assert.Equal(t, [][]byte{{7}}, l.Drain())
}
