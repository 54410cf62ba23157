// Package lode archives deployments in Lode storage.
//
// Payload files land under a Hive-partitioned files/ prefix through the
// Store directly. Upload outcomes are records in a JSONL dataset
// partitioned by form_id and day.
package lode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/ajolex/surveycto-vc-agent/types"
)

// DefaultDataset is the dataset id used when Config.Dataset is empty.
const DefaultDataset = "formbridge"

// partitionKeys is the Hive layout of the outcome dataset.
var partitionKeys = []string{"form_id", "day"}

// DeriveDay computes the partition day of t: YYYY-MM-DD in UTC.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Config holds archive configuration.
type Config struct {
	// Dataset is the Lode dataset id. Defaults to DefaultDataset.
	Dataset string
}

func (c Config) dataset() string {
	if c.Dataset == "" {
		return DefaultDataset
	}
	return c.Dataset
}

// Archive writes deployment payloads and outcomes to Lode.
// It implements controller.Archiver.
type Archive struct {
	dataset      lode.Dataset
	config       Config
	storeFactory lode.StoreFactory

	storeOnce sync.Once
	store     lode.Store
	storeErr  error
}

// NewArchive creates an archive with filesystem storage under root.
func NewArchive(cfg Config, root string) (*Archive, error) {
	return NewArchiveWithFactory(cfg, lode.NewFSFactory(root))
}

// NewArchiveWithFactory creates an archive with a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewArchiveWithFactory(cfg Config, factory lode.StoreFactory) (*Archive, error) {
	ds, err := newDataset(cfg.dataset(), factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.dataset())
	}
	return &Archive{dataset: ds, config: cfg, storeFactory: factory}, nil
}

func newDataset(id string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(id),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// RecordOutcome appends the outcome record of d. d must carry a result.
func (a *Archive) RecordOutcome(ctx context.Context, d *types.DeploymentContext) error {
	if d == nil || d.Result == nil {
		return fmt.Errorf("deployment has no result to archive")
	}
	record := toOutcomeRecordMap(d)
	if _, err := a.dataset.Write(ctx, []any{record}, lode.Metadata{}); err != nil {
		return WrapWriteError(err, fmt.Sprintf("%s/form_id=%s", a.config.dataset(), d.Metadata.FormID))
	}
	return nil
}

// Dataset returns the outcome dataset for reads.
func (a *Archive) Dataset() lode.Dataset { return a.dataset }

// Close releases archive resources.
func (a *Archive) Close() error {
	return nil
}
