package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/xrayguard/internal/voxel"
	"github.com/udisondev/xrayguard/internal/world"
)

// ErrSectionNotFound is returned by Load for a section that was never saved.
var ErrSectionNotFound = errors.New("section not found")

// SectionRow is one stored section.
type SectionRow struct {
	Key    voxel.RegionKey
	Blocks []voxel.BlockType
	Digest [32]byte
}

// SectionRepository reads and writes true section contents.
type SectionRepository struct {
	pool *pgxpool.Pool
}

func NewSectionRepository(pool *pgxpool.Pool) *SectionRepository {
	return &SectionRepository{pool: pool}
}

// Save upserts a section.
func (r *SectionRepository) Save(ctx context.Context, row SectionRow) error {
	if len(row.Blocks) != voxel.SectionVolume {
		return fmt.Errorf("saving section %v: %w", row.Key, world.ErrBadSectionSize)
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO sections (x, y, z, blocks, digest, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (x, y, z) DO UPDATE
		 SET blocks = EXCLUDED.blocks, digest = EXCLUDED.digest, updated_at = now()`,
		row.Key.X, row.Key.Y, row.Key.Z, world.EncodeBlocks(row.Blocks), row.Digest[:],
	)
	if err != nil {
		return fmt.Errorf("saving section %v: %w", row.Key, err)
	}
	return nil
}

// Load returns one section.
func (r *SectionRepository) Load(ctx context.Context, key voxel.RegionKey) (SectionRow, error) {
	var data, digest []byte
	err := r.pool.QueryRow(ctx,
		`SELECT blocks, digest FROM sections WHERE x = $1 AND y = $2 AND z = $3`,
		key.X, key.Y, key.Z,
	).Scan(&data, &digest)
	if errors.Is(err, pgx.ErrNoRows) {
		return SectionRow{}, fmt.Errorf("loading section %v: %w", key, ErrSectionNotFound)
	}
	if err != nil {
		return SectionRow{}, fmt.Errorf("loading section %v: %w", key, err)
	}
	return decodeRow(key, data, digest)
}

// LoadAll calls fn for every stored section, ordered by (y, z, x).
func (r *SectionRepository) LoadAll(ctx context.Context, fn func(SectionRow) error) error {
	rows, err := r.pool.Query(ctx,
		`SELECT x, y, z, blocks, digest FROM sections ORDER BY y, z, x`)
	if err != nil {
		return fmt.Errorf("querying sections: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key          voxel.RegionKey
			data, digest []byte
		)
		if err := rows.Scan(&key.X, &key.Y, &key.Z, &data, &digest); err != nil {
			return fmt.Errorf("scanning section: %w", err)
		}
		row, err := decodeRow(key, data, digest)
		if err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating sections: %w", err)
	}
	return nil
}

// Keys lists stored section keys ordered by (y, z, x).
func (r *SectionRepository) Keys(ctx context.Context) ([]voxel.RegionKey, error) {
	rows, err := r.pool.Query(ctx, `SELECT x, y, z FROM sections ORDER BY y, z, x`)
	if err != nil {
		return nil, fmt.Errorf("querying section keys: %w", err)
	}
	keys, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (voxel.RegionKey, error) {
		var k voxel.RegionKey
		err := row.Scan(&k.X, &k.Y, &k.Z)
		return k, err
	})
	if err != nil {
		return nil, fmt.Errorf("collecting section keys: %w", err)
	}
	return keys, nil
}

func decodeRow(key voxel.RegionKey, data, digest []byte) (SectionRow, error) {
	blocks, err := world.DecodeBlocks(data)
	if err != nil {
		return SectionRow{}, fmt.Errorf("section %v: %w", key, err)
	}
	row := SectionRow{Key: key, Blocks: blocks}
	copy(row.Digest[:], digest)
	return row, nil
}
