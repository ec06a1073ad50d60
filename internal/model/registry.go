// Package model contains the registry records shared across packages. Records
// reference their parents through key fields (OrganizationSlug, DatasetID,
// BatchToken) instead of embedded pointers, so every package can load and store
// them independently.
package model

import (
	"time"
)

// Organization owns a set of datasets. Slug is the primary key and never
// changes once assigned.
type Organization struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsPublic    bool   `json:"isPublic"`

	// OwnerID is nil for organizations nobody owns.
	OwnerID      *string   `json:"ownerId,omitempty"`
	CreationDate time.Time `json:"creationDate"`

	// Datasets is populated only by lookups that load the collection.
	Datasets []Dataset `json:"datasets,omitempty"`
}

// FindDataset returns the dataset with the given slug from the loaded
// collection.
func (o *Organization) FindDataset(slug string) (*Dataset, bool) {
	for i := range o.Datasets {
		if o.Datasets[i].Slug == slug {
			ds := o.Datasets[i]
			return &ds, true
		}
	}
	return nil, false
}

// Dataset is addressed externally by (OrganizationSlug, Slug). Size and
// ObjectsCount are the aggregates over every committed batch.
type Dataset struct {
	ID               int64     `json:"id"`
	OrganizationSlug string    `json:"organizationSlug"`
	Slug             string    `json:"slug"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	InternalRef      string    `json:"internalRef"`
	CreationDate     time.Time `json:"creationDate"`
	Size             int64     `json:"size"`
	ObjectsCount     int64     `json:"objectsCount"`
	PasswordHash     *string   `json:"-"`
}

// Tag renders the compound "org/dataset" reference.
func (d *Dataset) Tag() string {
	return d.OrganizationSlug + "/" + d.Slug
}

// Batch is a single ingestion transaction identified by an opaque token.
type Batch struct {
	Token     string      `json:"token"`
	DatasetID int64       `json:"datasetId"`
	UserName  string      `json:"userName"`
	Status    BatchStatus `json:"status"`
	Start     time.Time   `json:"start"`

	// End stays nil while the batch is open.
	End *time.Time `json:"end,omitempty"`
}

// EntryType classifies an entry. Only files count towards a dataset's object
// count.
type EntryType int

const (
	EntryFile EntryType = iota
	EntryDirectory
	EntryOther
)

func (t EntryType) String() string {
	switch t {
	case EntryFile:
		return "file"
	case EntryDirectory:
		return "directory"
	default:
		return "other"
	}
}

// ParseEntryType maps "file", "directory" and "dir" to their types; anything
// else is EntryOther.
func ParseEntryType(s string) EntryType {
	switch s {
	case "file":
		return EntryFile
	case "directory", "dir":
		return EntryDirectory
	default:
		return EntryOther
	}
}

// Entry is one content-addressed unit recorded within a batch.
type Entry struct {
	ID         int64     `json:"id"`
	BatchToken string    `json:"batchToken"`
	Path       string    `json:"path"`
	Hash       string    `json:"hash"`
	Size       int64     `json:"size"`
	Type       EntryType `json:"type"`
	AddedOn    time.Time `json:"addedOn"`
}

// Totals folds a set of entries into the size and object count a commit adds
// to its dataset.
func Totals(entries []Entry) (size int64, objects int64) {
	for _, e := range entries {
		size += e.Size
		if e.Type == EntryFile {
			objects++
		}
	}
	return size, objects
}

// DownloadPackage is a time-bounded export manifest for a dataset.
type DownloadPackage struct {
	ID             string     `json:"id"`
	DatasetID      int64      `json:"datasetId"`
	UserName       string     `json:"userName"`
	CreationDate   time.Time  `json:"creationDate"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
	IsPublic       bool       `json:"isPublic"`
	Paths          []string   `json:"paths"`
}

// Expired reports whether the package is past its expiration at now.
func (p *DownloadPackage) Expired(now time.Time) bool {
	return p.ExpirationDate != nil && now.After(*p.ExpirationDate)
}
