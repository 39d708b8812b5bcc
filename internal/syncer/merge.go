package syncer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/fencewatch/internal/common"
	"github.com/Veraticus/fencewatch/internal/feed"
	"github.com/Veraticus/fencewatch/internal/model"
	"github.com/Veraticus/fencewatch/internal/service"
)

// deletePageSize is how many rows one deletion round fetches.
const deletePageSize = 100

// MergeStats summarizes one applied batch.
type MergeStats struct {
	DeletedCodes []string `json:"deleted_codes,omitempty"`
	Inserted     int      `json:"inserted"`
	Updated      int      `json:"updated"`
	Unchanged    int      `json:"unchanged"`
	Deleted      int      `json:"deleted"`
	Conflicts    int      `json:"conflicts"`
	Malformed    int      `json:"malformed"`
	Tombstones   int      `json:"tombstones"`
}

func (s *MergeStats) add(other MergeStats) {
	s.DeletedCodes = append(s.DeletedCodes, other.DeletedCodes...)
	s.Inserted += other.Inserted
	s.Updated += other.Updated
	s.Unchanged += other.Unchanged
	s.Deleted += other.Deleted
	s.Conflicts += other.Conflicts
	s.Malformed += other.Malformed
	s.Tombstones += other.Tombstones
}

// Changed reports whether the catalog was modified.
func (s MergeStats) Changed() bool {
	return s.Inserted+s.Updated+s.Deleted > 0
}

// apply writes a parsed batch in one transaction: explicit deletions first,
// then the sorted merge. forget, when set, is handed the synced codes about to
// be deleted before the transaction starts, and the deleted codes again after
// commit. Nothing is written if ctx is cancelled.
func apply(ctx context.Context, store service.Storage, batch *feed.Feed, forget func(context.Context, []string)) (MergeStats, error) {
	stats := MergeStats{Malformed: batch.Malformed, Tombstones: batch.Tombstones}

	// The store has a single connection, so forget must not run while the
	// transaction holds it.
	if forget != nil {
		if err := forgetDeleted(ctx, store, batch.Deleted, forget); err != nil {
			return stats, err
		}
	}

	tx, err := store.BeginTx(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to begin merge transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Debug("Rollback after merge", "error", err)
		}
	}()

	deleted, err := deleteCodes(ctx, tx, batch.Deleted)
	if err != nil {
		return stats, err
	}
	stats.Deleted = len(deleted)
	stats.DeletedCodes = deleted

	merged, err := mergeSorted(ctx, tx, batch.Fences)
	if err != nil {
		return stats, err
	}
	stats.Inserted = merged.Inserted
	stats.Updated = merged.Updated
	stats.Unchanged = merged.Unchanged
	stats.Conflicts = merged.Conflicts

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("failed to commit merge: %w", err)
	}

	// A reconcile between the early forget and the commit may have started
	// one of the deleted regions again.
	if forget != nil && len(deleted) > 0 {
		forget(context.WithoutCancel(ctx), deleted)
	}

	slog.Info("Merged geofence batch",
		"inserted", stats.Inserted,
		"updated", stats.Updated,
		"unchanged", stats.Unchanged,
		"deleted", stats.Deleted,
		"conflicts", stats.Conflicts,
		"malformed", stats.Malformed)
	return stats, nil
}

// mergeSorted walks incoming and the synced catalog rows, both ordered by
// code, in lock step. Existing rows missing from incoming are left alone. A
// code already taken by a local fence fails the insert and is a conflict.
func mergeSorted(ctx context.Context, tx service.Transaction, incoming []model.Geofence) (MergeStats, error) {
	var stats MergeStats

	existing, err := tx.GetSyncedGeofences(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to load catalog for merge: %w", err)
	}

	i := 0
	for _, in := range incoming {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		for i < len(existing) && existing[i].Code < in.Code {
			i++
		}

		if i < len(existing) && existing[i].Code == in.Code {
			current := existing[i]
			i++

			if !applyChanges(&current, in) {
				stats.Unchanged++
				continue
			}
			if err := tx.UpdateGeofence(ctx, &current); err != nil {
				return stats, fmt.Errorf("failed to update geofence %s: %w", in.Code, err)
			}
			slog.Debug("Updated geofence", "code", in.Code, "name", in.Name)
			stats.Updated++
			continue
		}

		fresh := in
		fresh.Monitored = false
		if err := tx.SaveGeofence(ctx, &fresh); err != nil {
			if errors.Is(err, common.ErrDuplicateEntry) {
				slog.Warn("Geofence code collides with a local fence, skipping", "code", in.Code)
				stats.Conflicts++
				continue
			}
			return stats, fmt.Errorf("failed to insert geofence %s: %w", in.Code, err)
		}
		slog.Debug("Inserted geofence", "code", in.Code, "name", in.Name)
		stats.Inserted++
	}

	return stats, nil
}

// applyChanges copies differing fields from in onto current and reports
// whether anything changed.
func applyChanges(current *model.Geofence, in model.Geofence) bool {
	changed := false
	if current.Name != in.Name {
		current.Name = in.Name
		changed = true
	}
	if current.Latitude != in.Latitude {
		current.Latitude = in.Latitude
		changed = true
	}
	if current.Longitude != in.Longitude {
		current.Longitude = in.Longitude
		changed = true
	}
	if current.Radius != in.Radius {
		current.Radius = in.Radius
		changed = true
	}
	return changed
}

type codeLookup interface {
	GetGeofencesByCodes(ctx context.Context, codes []string, limit int) ([]model.Geofence, error)
}

// syncedCodes returns the codes in page naming existing synced rows.
func syncedCodes(ctx context.Context, q codeLookup, page []string) ([]string, error) {
	rows, err := q.GetGeofencesByCodes(ctx, page, deletePageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to look up deleted geofences: %w", err)
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if !row.Local {
			out = append(out, row.Code)
		}
	}
	return out, nil
}

// forgetDeleted hands forget the synced codes named in codes, one page at a
// time.
func forgetDeleted(ctx context.Context, store codeLookup, codes []string, forget func(context.Context, []string)) error {
	for start := 0; start < len(codes); start += deletePageSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+deletePageSize, len(codes))

		page, err := syncedCodes(ctx, store, codes[start:end])
		if err != nil {
			return err
		}
		if len(page) > 0 {
			forget(context.WithoutCancel(ctx), page)
		}
	}
	return nil
}

// deleteCodes removes the synced rows named in codes, one page at a time.
// Unknown codes and local fences are ignored.
func deleteCodes(ctx context.Context, tx service.Transaction, codes []string) ([]string, error) {
	var deleted []string
	for start := 0; start < len(codes); start += deletePageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+deletePageSize, len(codes))

		page, err := syncedCodes(ctx, tx, codes[start:end])
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			continue
		}

		n, err := tx.DeleteGeofences(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("failed to delete geofences: %w", err)
		}
		slog.Debug("Deleted geofence page", "requested", end-start, "deleted", n)
		deleted = append(deleted, page...)
	}
	return deleted, nil
}
