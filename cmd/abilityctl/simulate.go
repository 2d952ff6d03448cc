package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/udisondev/abilitycore/internal/actor"
	"github.com/udisondev/abilitycore/internal/attribute"
	"github.com/udisondev/abilitycore/internal/data"
	"github.com/udisondev/abilitycore/internal/effect"
	"github.com/udisondev/abilitycore/internal/system"
	"github.com/udisondev/abilitycore/internal/timer"
)

const (
	defaultActorID = "hero"
	defaultStep    = 100 * time.Millisecond
)

// simulateConfig holds flags for the simulate command.
type simulateConfig struct {
	actor     string
	class     string
	attrs     []string
	grants    []string
	applies   []string
	activates []string
	advance   time.Duration
	step      time.Duration
}

// NewSimulateCmd creates the simulate subcommand.
func NewSimulateCmd() *cobra.Command {
	cfg := &simulateConfig{}

	cmd := &cobra.Command{
		Use:   "simulate <catalog.yaml>",
		Short: "Run a single authoritative actor against a catalog",
		Long: `Builds one authoritative actor from the catalog, then in order:
initializes attributes, grants abilities, applies effects, activates and
commits abilities and advances time. Prints the resulting attributes, tags,
effects and abilities.

If the actor id matches an actor defined in the catalog, its class,
abilities and effects are used as a starting point.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, args, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.actor, "actor", defaultActorID, "actor id")
	cmd.Flags().StringVar(&cfg.class, "class", "", "attribute set to initialize")
	cmd.Flags().StringSliceVar(&cfg.attrs, "attr", nil, "set an attribute base value (Type=value)")
	cmd.Flags().StringSliceVar(&cfg.grants, "grant", nil, "grant an ability")
	cmd.Flags().StringSliceVar(&cfg.applies, "apply", nil, "apply an effect to the actor")
	cmd.Flags().StringSliceVar(&cfg.activates, "activate", nil, "activate and commit an ability")
	cmd.Flags().DurationVar(&cfg.advance, "advance", 0, "simulated time to advance after activation (e.g., 1500ms, 3s)")
	cmd.Flags().DurationVar(&cfg.step, "step", defaultStep, "timer step used while advancing")

	return cmd
}

func runSimulate(cmd *cobra.Command, args []string, cfg *simulateConfig) error {
	if cfg.step <= 0 {
		return oops.Code("FLAG_INVALID").With("step", cfg.step).Errorf("step must be positive")
	}
	if cfg.advance < 0 {
		return oops.Code("FLAG_INVALID").With("advance", cfg.advance).Errorf("advance must not be negative")
	}

	catalog, err := loadCatalog(args[0])
	if err != nil {
		return err
	}

	id := actor.ID(cfg.actor)
	timers := timer.NewManager()
	sys := system.New(actor.New(id, actor.RoleAuthority), timers, system.WithCatalog(catalog))
	w := cmd.OutOrStdout()

	def, fromCatalog := findActor(catalog, cfg.actor)
	class := cfg.class
	if class == "" && fromCatalog {
		class = def.Class
	}
	if class != "" && !sys.InitAttributes(class) {
		return oops.Code("UNKNOWN_CLASS").With("class", class).Errorf("unknown attribute set %q", class)
	}

	for _, kv := range cfg.attrs {
		t, v, err := parseAttr(kv)
		if err != nil {
			return err
		}
		if !sys.Attributes().InitializeAttribute(t, v) {
			return oops.Code("UNKNOWN_ATTRIBUTE").With("attribute", t).Errorf("actor has no attribute %q", t)
		}
	}

	grants := cfg.grants
	if fromCatalog {
		grants = append(append([]string{}, def.Abilities...), grants...)
	}
	for _, ab := range grants {
		if !sys.Abilities().GrantByID(ab) {
			return oops.Code("UNKNOWN_ABILITY").With("ability", ab).Errorf("cannot grant ability %q", ab)
		}
	}

	applies := cfg.applies
	if fromCatalog {
		applies = append(append([]string{}, def.Effects...), applies...)
	}
	for _, e := range applies {
		if _, ok := catalog.EffectSpec(e); !ok {
			return oops.Code("UNKNOWN_EFFECT").With("effect", e).Errorf("unknown effect %q", e)
		}
		if _, ok := sys.ApplyEffect(id, e, 1); !ok {
			fmt.Fprintf(w, "apply %s: not applied\n", e)
		}
	}

	for _, ab := range cfg.activates {
		if !sys.Abilities().TryActivate(ab) {
			fmt.Fprintf(w, "activate %s: refused\n", ab)
			continue
		}
		if !sys.Abilities().Commit(ab) {
			fmt.Fprintf(w, "activate %s: commit failed\n", ab)
			continue
		}
		fmt.Fprintf(w, "activate %s: ok\n", ab)
	}

	for elapsed := time.Duration(0); elapsed < cfg.advance; {
		dt := min(cfg.step, cfg.advance-elapsed)
		timers.Advance(dt)
		elapsed += dt
	}

	printState(w, sys, timers.Now())
	return nil
}

func findActor(catalog *data.Catalog, id string) (data.ActorDef, bool) {
	for _, def := range catalog.Actors() {
		if def.ID == id {
			return def, true
		}
	}
	return data.ActorDef{}, false
}

func parseAttr(kv string) (attribute.Type, float64, error) {
	name, raw, ok := strings.Cut(kv, "=")
	if !ok || name == "" {
		return "", 0, oops.Code("FLAG_INVALID").With("attr", kv).Errorf("expected Type=value, got %q", kv)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", 0, oops.Code("FLAG_INVALID").With("attr", kv).Wrap(err)
	}
	return attribute.Type(name), v, nil
}

func printState(w io.Writer, sys *system.System, now time.Duration) {
	fmt.Fprintf(w, "actor %s at %s\n", sys.ID(), now)

	fmt.Fprintln(w, "attributes:")
	for _, t := range sys.Attributes().Types() {
		v, _ := sys.AttributeValue(t)
		base, _ := sys.Attributes().BaseValue(t)
		fmt.Fprintf(w, "  %-16s %g (base %g)\n", t, v, base)
	}

	fmt.Fprintln(w, "tags:")
	for _, t := range sys.ContainedTags().Tags() {
		fmt.Fprintf(w, "  %-16s x%d\n", t, sys.Tags().Count(t))
	}

	fmt.Fprintln(w, "effects:")
	for _, e := range sys.ActiveEffects() {
		remaining := "infinite"
		if d := sys.Effects().Remaining(e.Handle()); d != effect.InfiniteDuration {
			remaining = d.String()
		}
		state := ""
		if e.IsInhibited() {
			state = " inhibited"
		}
		fmt.Fprintf(w, "  %-16s stacks=%d remaining=%s%s\n", e.ID(), e.StackCount(), remaining, state)
	}

	fmt.Fprintln(w, "abilities:")
	for _, a := range sys.GrantedAbilities() {
		line := fmt.Sprintf("  %-16s", a.ID())
		if a.IsActivating() {
			line += " activating"
		}
		if cd := sys.CooldownRemaining(a.ID()); cd > 0 {
			line += " cooldown=" + cd.String()
		}
		fmt.Fprintln(w, line)
	}
}
