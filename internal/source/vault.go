package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"

	"github.com/starford/casefile/internal/models"
	"github.com/starford/casefile/internal/parser"
	"github.com/starford/casefile/internal/storage"
)

// Vault is a Fetcher over a records directory laid out as
// <root>/<type>/<id>.md.
type Vault struct {
	store  storage.Provider
	logger *slog.Logger
}

// NewVault returns a Vault reading records from store.
func NewVault(store storage.Provider, logger *slog.Logger) *Vault {
	return &Vault{store: store, logger: logger}
}

// ListStamps reads only the frontmatter of each record.
func (v *Vault) ListStamps(ctx context.Context, entityType models.EntityType, filter Filter) ([]models.EntityStamp, error) {
	files, err := v.store.List(string(entityType))
	if err != nil {
		return nil, fmt.Errorf("vault: list %s: %w", entityType, err)
	}
	out := make([]models.EntityStamp, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fm, err := v.readFrontmatter(f.Path)
		if err != nil {
			v.logger.Warn("vault: skip record", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		if !parser.Matches(fm, filter) {
			continue
		}
		stamp, err := parser.Stamp(fm, f.ModTime)
		if err != nil {
			v.logger.Warn("vault: skip record", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		out = append(out, stamp)
	}
	return out, nil
}

// FetchByIDs reads <type>/<id>.md for each id, falling back to a frontmatter
// scan for records whose file name differs from their id.
func (v *Vault) FetchByIDs(ctx context.Context, entityType models.EntityType, ids []string) ([]models.Entity, error) {
	var (
		out     []models.Entity
		byID    map[string]storage.FileInfo
		scanned bool
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := v.load(entityType, path.Join(string(entityType), id+".md"), nil)
		if err == nil && e.RemoteID == id {
			out = append(out, e)
			continue
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			v.logger.Warn("vault: direct read failed, scanning", slog.String("id", id), slog.String("error", err.Error()))
		}

		if !scanned {
			byID, err = v.index(entityType)
			if err != nil {
				return nil, err
			}
			scanned = true
		}
		f, ok := byID[id]
		if !ok {
			continue
		}
		e, err = v.load(entityType, f.Path, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// FetchAll reads and decodes every record matching filter.
func (v *Vault) FetchAll(ctx context.Context, entityType models.EntityType, filter Filter) ([]models.Entity, error) {
	files, err := v.store.List(string(entityType))
	if err != nil {
		return nil, fmt.Errorf("vault: list %s: %w", entityType, err)
	}
	out := make([]models.Entity, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := v.load(entityType, f.Path, filter)
		if errors.Is(err, errFiltered) {
			continue
		}
		if err != nil {
			v.logger.Warn("vault: skip record", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

var errFiltered = errors.New("vault: record filtered out")

func (v *Vault) load(entityType models.EntityType, p string, filter Filter) (models.Entity, error) {
	info, err := v.store.Stat(p)
	if err != nil {
		return models.Entity{}, err
	}
	data, err := v.store.Read(p)
	if err != nil {
		return models.Entity{}, err
	}
	rec, err := parser.Parse(data)
	if err != nil {
		return models.Entity{}, fmt.Errorf("vault: parse %s: %w", p, err)
	}
	if !parser.Matches(rec.Frontmatter, filter) {
		return models.Entity{}, errFiltered
	}
	stamp, err := parser.Stamp(rec.Frontmatter, info.ModTime)
	if err != nil {
		return models.Entity{}, fmt.Errorf("vault: %s: %w", p, err)
	}
	payload, err := parser.Decode(rec, entityType)
	if err != nil {
		return models.Entity{}, fmt.Errorf("vault: %s: %w", p, err)
	}
	return models.Entity{
		RemoteID:     stamp.ID,
		Type:         entityType,
		LastModified: stamp.LastModified,
		Payload:      payload,
	}, nil
}

func (v *Vault) readFrontmatter(p string) (map[string]any, error) {
	rc, err := v.store.Open(p)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return parser.ReadFrontmatter(rc)
}

func (v *Vault) index(entityType models.EntityType) (map[string]storage.FileInfo, error) {
	files, err := v.store.List(string(entityType))
	if err != nil {
		return nil, fmt.Errorf("vault: list %s: %w", entityType, err)
	}
	out := make(map[string]storage.FileInfo, len(files))
	for _, f := range files {
		fm, err := v.readFrontmatter(f.Path)
		if err != nil {
			continue
		}
		if id := parser.String(fm, "id"); id != "" {
			out[id] = f
		}
	}
	return out, nil
}
