// Package repository holds the relational inventory: organizations, datasets,
// batches, entries and download packages. The Store interface is what the
// registry core needs from persistence; Postgres implements it on top of
// database/sql.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dharsanguruparan/registry/internal/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrExists is returned when a natural key is already taken.
	ErrExists = errors.New("record already exists")
)

// Store is the persistence collaborator. Every method runs in its own
// transaction; methods that check and mutate (AddEntry, CloseBatch) lock the
// batch row so they serialize per token.
type Store interface {
	CreateOrganization(ctx context.Context, org *model.Organization) error
	// Organization loads the organization together with its datasets.
	Organization(ctx context.Context, slug string) (*model.Organization, error)

	CreateDataset(ctx context.Context, ds *model.Dataset) error
	Dataset(ctx context.Context, orgSlug, dsSlug string) (*model.Dataset, error)
	DatasetByID(ctx context.Context, id int64) (*model.Dataset, error)
	// DeleteDataset removes the dataset, its batches, their entries and its
	// download packages.
	DeleteDataset(ctx context.Context, id int64) error

	CreateBatch(ctx context.Context, b *model.Batch) error
	Batch(ctx context.Context, token string) (*model.Batch, error)
	// AddEntry appends e to an open batch; it fails with
	// model.ErrBatchConflict once the batch is closed.
	AddEntry(ctx context.Context, e *model.Entry) error
	Entries(ctx context.Context, token string) ([]model.Entry, error)
	// CloseBatch moves the batch to a terminal status. Committing folds the
	// entries into the dataset aggregates in the same transaction. changed is
	// false when the batch was already in status to.
	CloseBatch(ctx context.Context, token string, to model.BatchStatus, at time.Time) (b *model.Batch, changed bool, err error)
	// CommittedEntries lists entries of committed batches whose path starts
	// with prefix.
	CommittedEntries(ctx context.Context, datasetID int64, prefix string) ([]model.Entry, error)

	CreateDownloadPackage(ctx context.Context, p *model.DownloadPackage) error
	DownloadPackages(ctx context.Context, datasetID int64) ([]model.DownloadPackage, error)
}
