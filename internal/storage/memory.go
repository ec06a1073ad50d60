// Package storage contains the in-memory implementation of the registry's
// persistence layer. It backs the CLI's --memory mode and the tests of every
// package above it.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dharsanguruparan/registry/internal/model"
	"github.com/dharsanguruparan/registry/internal/repository"
)

// MemoryStore keeps every record in maps keyed by natural identifier. A single
// RWMutex stands in for the transaction boundary: each method holds the write
// lock for the whole check-and-mutate sequence.
type MemoryStore struct {
	mu       sync.RWMutex
	orgs     map[string]*model.Organization
	datasets map[int64]*model.Dataset
	batches  map[string]*model.Batch
	entries  map[string][]model.Entry
	packages map[string]*model.DownloadPackage
	nextDS   int64
	nextEnt  int64
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:     make(map[string]*model.Organization),
		datasets: make(map[int64]*model.Dataset),
		batches:  make(map[string]*model.Batch),
		entries:  make(map[string][]model.Entry),
		packages: make(map[string]*model.DownloadPackage),
	}
}

func (m *MemoryStore) CreateOrganization(_ context.Context, org *model.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orgs[org.Slug]; ok {
		return fmt.Errorf("organization %s: %w", org.Slug, repository.ErrExists)
	}
	if org.CreationDate.IsZero() {
		org.CreationDate = time.Now().UTC()
	}
	stored := *org
	stored.Datasets = nil
	m.orgs[org.Slug] = &stored
	return nil
}

// Organization returns a copy of the organization with its datasets.
func (m *MemoryStore) Organization(_ context.Context, slug string) (*model.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	org, ok := m.orgs[slug]
	if !ok {
		return nil, fmt.Errorf("organization %s: %w", slug, repository.ErrNotFound)
	}
	out := *org
	out.Datasets = nil
	for _, id := range m.sortedDatasetIDs() {
		if ds := m.datasets[id]; ds.OrganizationSlug == slug {
			out.Datasets = append(out.Datasets, *ds)
		}
	}
	return &out, nil
}

func (m *MemoryStore) sortedDatasetIDs() []int64 {
	ids := make([]int64, 0, len(m.datasets))
	for id := range m.datasets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *MemoryStore) CreateDataset(_ context.Context, ds *model.Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orgs[ds.OrganizationSlug]; !ok {
		return fmt.Errorf("organization %s: %w", ds.OrganizationSlug, repository.ErrNotFound)
	}
	for _, existing := range m.datasets {
		if existing.OrganizationSlug == ds.OrganizationSlug && existing.Slug == ds.Slug {
			return fmt.Errorf("dataset %s: %w", ds.Tag(), repository.ErrExists)
		}
	}
	if ds.CreationDate.IsZero() {
		ds.CreationDate = time.Now().UTC()
	}
	m.nextDS++
	ds.ID = m.nextDS
	stored := *ds
	m.datasets[ds.ID] = &stored
	return nil
}

func (m *MemoryStore) Dataset(_ context.Context, orgSlug, dsSlug string) (*model.Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ds := range m.datasets {
		if ds.OrganizationSlug == orgSlug && ds.Slug == dsSlug {
			out := *ds
			return &out, nil
		}
	}
	return nil, fmt.Errorf("dataset %s/%s: %w", orgSlug, dsSlug, repository.ErrNotFound)
}

func (m *MemoryStore) DatasetByID(_ context.Context, id int64) (*model.Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ds, ok := m.datasets[id]
	if !ok {
		return nil, fmt.Errorf("dataset #%d: %w", id, repository.ErrNotFound)
	}
	out := *ds
	return &out, nil
}

// DeleteDataset cascades to batches, entries and packages.
func (m *MemoryStore) DeleteDataset(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.datasets[id]; !ok {
		return fmt.Errorf("dataset #%d: %w", id, repository.ErrNotFound)
	}
	for token, b := range m.batches {
		if b.DatasetID == id {
			delete(m.entries, token)
			delete(m.batches, token)
		}
	}
	for pid, p := range m.packages {
		if p.DatasetID == id {
			delete(m.packages, pid)
		}
	}
	delete(m.datasets, id)
	return nil
}

func (m *MemoryStore) CreateBatch(_ context.Context, b *model.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.datasets[b.DatasetID]; !ok {
		return fmt.Errorf("dataset #%d: %w", b.DatasetID, repository.ErrNotFound)
	}
	if _, ok := m.batches[b.Token]; ok {
		return fmt.Errorf("batch %s: %w", b.Token, repository.ErrExists)
	}
	stored := *b
	m.batches[b.Token] = &stored
	return nil
}

func (m *MemoryStore) Batch(_ context.Context, token string) (*model.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[token]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", token, repository.ErrNotFound)
	}
	out := *b
	return &out, nil
}

func (m *MemoryStore) AddEntry(_ context.Context, e *model.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[e.BatchToken]
	if !ok {
		return fmt.Errorf("batch %s: %w", e.BatchToken, repository.ErrNotFound)
	}
	if err := b.Status.Accepting(); err != nil {
		return err
	}
	if e.AddedOn.IsZero() {
		e.AddedOn = time.Now().UTC()
	}
	m.nextEnt++
	e.ID = m.nextEnt
	m.entries[e.BatchToken] = append(m.entries[e.BatchToken], *e)
	return nil
}

func (m *MemoryStore) Entries(_ context.Context, token string) ([]model.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Entry, len(m.entries[token]))
	copy(out, m.entries[token])
	return out, nil
}

// CloseBatch applies the transition and the aggregate adjustment under one
// lock, so concurrent commits of the same dataset cannot lose updates.
func (m *MemoryStore) CloseBatch(_ context.Context, token string, to model.BatchStatus, at time.Time) (*model.Batch, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[token]
	if !ok {
		return nil, false, fmt.Errorf("batch %s: %w", token, repository.ErrNotFound)
	}
	changed, err := b.Status.Close(to)
	if err != nil || !changed {
		out := *b
		return &out, false, err
	}
	if to == model.BatchCommitted {
		ds, ok := m.datasets[b.DatasetID]
		if !ok {
			return nil, false, fmt.Errorf("dataset #%d: %w", b.DatasetID, repository.ErrNotFound)
		}
		size, objects := model.Totals(m.entries[token])
		ds.Size += size
		ds.ObjectsCount += objects
	}
	end := at
	b.Status = to
	b.End = &end
	out := *b
	return &out, true, nil
}

func (m *MemoryStore) CommittedEntries(_ context.Context, datasetID int64, prefix string) ([]model.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.Entry{}
	for token, b := range m.batches {
		if b.DatasetID != datasetID || b.Status != model.BatchCommitted {
			continue
		}
		for _, e := range m.entries[token] {
			if strings.HasPrefix(e.Path, prefix) {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) CreateDownloadPackage(_ context.Context, p *model.DownloadPackage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.datasets[p.DatasetID]; !ok {
		return fmt.Errorf("dataset #%d: %w", p.DatasetID, repository.ErrNotFound)
	}
	if _, ok := m.packages[p.ID]; ok {
		return fmt.Errorf("package %s: %w", p.ID, repository.ErrExists)
	}
	stored := *p
	stored.Paths = append([]string(nil), p.Paths...)
	m.packages[p.ID] = &stored
	return nil
}

func (m *MemoryStore) DownloadPackages(_ context.Context, datasetID int64) ([]model.DownloadPackage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.DownloadPackage{}
	for _, p := range m.packages {
		if p.DatasetID == datasetID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreationDate.After(out[j].CreationDate) })
	return out, nil
}

var _ repository.Store = (*MemoryStore)(nil)
