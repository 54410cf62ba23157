package lode

import (
	"strings"

	"github.com/justapithecus/lode/lode"
)

// NewReadDataset opens the outcome dataset for reading with the same codec
// and layout as the write path.
func NewReadDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	if dataset == "" {
		dataset = DefaultDataset
	}
	ds, err := newDataset(dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, dataset)
	}
	return ds, nil
}

// NewReadDatasetFS opens a read dataset with filesystem storage.
func NewReadDatasetFS(dataset, rootPath string) (lode.Dataset, error) {
	return NewReadDataset(dataset, lode.NewFSFactory(rootPath))
}

// snapshotMatchesFilter reports whether any file of snap lies in the
// key=value partition. An empty value matches every snapshot.
func snapshotMatchesFilter(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue checks for an exact key=value path segment, so
// form_id=hh does not match form_id=hh_2026.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
