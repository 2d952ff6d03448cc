package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/abilitycore/internal/actor"
	"github.com/udisondev/abilitycore/internal/attribute"
	"github.com/udisondev/abilitycore/internal/system"
)

// SnapshotRepository хранит снапшоты акторов: атрибуты, выданные способности
// и активные эффекты.
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository создаёт новый SnapshotRepository.
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

// Save сохраняет снапшот (полная перезапись) в одной транзакции.
func (r *SnapshotRepository) Save(ctx context.Context, snap system.Snapshot) error {
	id := string(snap.Actor)
	if id == "" {
		return errors.New("saving snapshot: empty actor id")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction for actor %s: %w", id, err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("rollback failed", "actor", id, "error", err)
		}
	}()

	// ON DELETE CASCADE удаляет дочерние строки
	if _, err := tx.Exec(ctx, `DELETE FROM actor_snapshots WHERE actor_id = $1`, id); err != nil {
		return fmt.Errorf("deleting snapshot of %s: %w", id, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO actor_snapshots (actor_id, saved_at) VALUES ($1, $2)`, id, time.Now(),
	); err != nil {
		return fmt.Errorf("inserting snapshot of %s: %w", id, err)
	}

	batch := &pgx.Batch{}
	for i, a := range snap.Attributes {
		batch.Queue(
			`INSERT INTO actor_attributes (actor_id, position, attribute, base_value) VALUES ($1, $2, $3, $4)`,
			id, i, string(a.Type), a.Base,
		)
	}
	for i, ab := range snap.Abilities {
		batch.Queue(
			`INSERT INTO actor_abilities (actor_id, position, ability_id) VALUES ($1, $2, $3)`,
			id, i, ab,
		)
	}
	for i, e := range snap.Effects {
		instigators := make([]string, len(e.Instigators))
		for j, in := range e.Instigators {
			instigators[j] = string(in)
		}
		batch.Queue(
			`INSERT INTO actor_effects (actor_id, position, effect_id, instigators, stacks, remaining_ms)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			id, i, e.Effect, instigators, e.Stacks, e.Remaining.Milliseconds(),
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting state of %s: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing snapshot of %s: %w", id, err)
	}
	return nil
}

// Load загружает снапшот актора.
// Возвращает nil, nil если снапшот не найден.
func (r *SnapshotRepository) Load(ctx context.Context, id actor.ID) (*system.Snapshot, error) {
	var savedAt time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT saved_at FROM actor_snapshots WHERE actor_id = $1`, string(id),
	).Scan(&savedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying snapshot of %s: %w", id, err)
	}

	snap := &system.Snapshot{Actor: id}
	if snap.Attributes, err = r.loadAttributes(ctx, id); err != nil {
		return nil, err
	}
	if snap.Abilities, err = r.loadAbilities(ctx, id); err != nil {
		return nil, err
	}
	if snap.Effects, err = r.loadEffects(ctx, id); err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *SnapshotRepository) loadAttributes(ctx context.Context, id actor.ID) ([]system.AttributeState, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attribute, base_value FROM actor_attributes WHERE actor_id = $1 ORDER BY position`, string(id))
	if err != nil {
		return nil, fmt.Errorf("querying attributes of %s: %w", id, err)
	}
	defer rows.Close()

	var out []system.AttributeState
	for rows.Next() {
		var (
			typ  string
			base float64
		)
		if err := rows.Scan(&typ, &base); err != nil {
			return nil, fmt.Errorf("scanning attribute row: %w", err)
		}
		out = append(out, system.AttributeState{Type: attribute.Type(typ), Base: base})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attribute rows: %w", err)
	}
	return out, nil
}

func (r *SnapshotRepository) loadAbilities(ctx context.Context, id actor.ID) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ability_id FROM actor_abilities WHERE actor_id = $1 ORDER BY position`, string(id))
	if err != nil {
		return nil, fmt.Errorf("querying abilities of %s: %w", id, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning ability rows: %w", err)
	}
	return out, nil
}

func (r *SnapshotRepository) loadEffects(ctx context.Context, id actor.ID) ([]system.EffectState, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT effect_id, instigators, stacks, remaining_ms
		 FROM actor_effects WHERE actor_id = $1 ORDER BY position`, string(id))
	if err != nil {
		return nil, fmt.Errorf("querying effects of %s: %w", id, err)
	}
	defer rows.Close()

	var out []system.EffectState
	for rows.Next() {
		var (
			effectID    string
			instigators []string
			stacks      int
			remainingMs int64
		)
		if err := rows.Scan(&effectID, &instigators, &stacks, &remainingMs); err != nil {
			return nil, fmt.Errorf("scanning effect row: %w", err)
		}
		e := system.EffectState{
			Effect:    effectID,
			Stacks:    stacks,
			Remaining: time.Duration(remainingMs) * time.Millisecond,
		}
		for _, in := range instigators {
			e.Instigators = append(e.Instigators, actor.ID(in))
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating effect rows: %w", err)
	}
	return out, nil
}

// Delete удаляет снапшот актора. Возвращает false если его не было.
func (r *SnapshotRepository) Delete(ctx context.Context, id actor.ID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM actor_snapshots WHERE actor_id = $1`, string(id))
	if err != nil {
		return false, fmt.Errorf("deleting snapshot of %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ActorIDs возвращает идентификаторы всех сохранённых акторов.
func (r *SnapshotRepository) ActorIDs(ctx context.Context) ([]actor.ID, error) {
	rows, err := r.pool.Query(ctx, `SELECT actor_id FROM actor_snapshots ORDER BY actor_id`)
	if err != nil {
		return nil, fmt.Errorf("querying snapshot actors: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning snapshot actors: %w", err)
	}
	out := make([]actor.ID, len(ids))
	for i, id := range ids {
		out[i] = actor.ID(id)
	}
	return out, nil
}
