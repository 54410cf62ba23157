package lode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/justapithecus/lode/lode"

	"github.com/ajolex/surveycto-vc-agent/types"
)

// ErrInvalidFilename is returned for payload file names that would escape
// the deployment's directory.
var ErrInvalidFilename = errors.New("invalid payload filename")

// ArchivePayload writes the form file and every attachment of d.
// Files land at
//
//	datasets/<dataset>/partitions/form_id=<f>/day=<d>/files/<deployment>/<name>
//
// with attachments named attachment-<n>. The form file keeps its staged
// name, or form.xlsx when it has none.
func (a *Archive) ArchivePayload(ctx context.Context, d *types.DeploymentContext) error {
	if d == nil {
		return errors.New("no deployment to archive")
	}
	store, err := a.getOrCreateStore()
	if err != nil {
		return WrapInitError(err, a.config.dataset())
	}

	name := d.Metadata.FileName
	if name == "" {
		name = "form.xlsx"
	}
	if err := validateFilename(name); err != nil {
		return err
	}

	path := a.filePath(d, name)
	if err := store.Put(ctx, path, bytes.NewReader(d.Payload.FileBlob)); err != nil {
		return WrapPutError(err, path)
	}
	for i, att := range d.Payload.Attachments {
		path := a.filePath(d, fmt.Sprintf("attachment-%d", i+1))
		if err := store.Put(ctx, path, bytes.NewReader(att)); err != nil {
			return WrapPutError(err, path)
		}
	}
	return nil
}

func (a *Archive) getOrCreateStore() (lode.Store, error) {
	a.storeOnce.Do(func() {
		a.store, a.storeErr = a.storeFactory()
	})
	return a.store, a.storeErr
}

// filePath computes the Hive-partitioned path of one payload file.
func (a *Archive) filePath(d *types.DeploymentContext, name string) string {
	return fmt.Sprintf("datasets/%s/partitions/form_id=%s/day=%s/files/%s/%s",
		a.config.dataset(),
		partitionValue(d.Metadata.FormID),
		DeriveDay(d.StagedAt),
		d.ID,
		name,
	)
}

func validateFilename(name string) error {
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return nil
}

// partitionValue keeps a form id usable as a single path segment.
func partitionValue(v string) string {
	if v == "" {
		return "unknown"
	}
	return strings.NewReplacer("/", "_", `\`, "_", "=", "_").Replace(v)
}
