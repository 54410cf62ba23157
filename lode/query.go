package lode

import (
	"context"
	"errors"
	"fmt"

	"github.com/justapithecus/lode/lode"
)

// ErrNoOutcomes is returned when no outcome records match.
var ErrNoOutcomes = errors.New("no deployment outcomes found")

// QueryOutcomes returns up to limit outcome records, newest snapshot first.
// formID filters by partition when non-empty; limit <= 0 means no limit.
func QueryOutcomes(ctx context.Context, ds lode.Dataset, formID string, limit int) ([]OutcomeRecord, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, fmt.Sprintf("%s/snapshots", ds.ID()))
	}

	var out []OutcomeRecord
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatchesFilter(snap, "form_id", partitionFilter(formID)) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}
		// Manifest paths are a coarse pre-filter; record fields decide.
		for _, item := range data {
			m, ok := item.(map[string]any)
			if !ok || m["record_kind"] != RecordKindOutcome {
				continue
			}
			rec := fromRecordMap(m)
			if formID != "" && rec.FormID != partitionValue(formID) {
				continue
			}
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	if len(out) == 0 {
		return nil, ErrNoOutcomes
	}
	return out, nil
}

func partitionFilter(formID string) string {
	if formID == "" {
		return ""
	}
	return partitionValue(formID)
}
