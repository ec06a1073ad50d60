package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dharsanguruparan/registry/internal/model"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const uniqueViolation = "23505"

var (
	organizationColumns = []string{"slug", "name", "description", "is_public", "owner_id", "creation_date"}
	datasetColumns      = []string{"id", "organization_slug", "slug", "name", "description", "internal_ref", "creation_date", "size", "objects_count", "password_hash"}
	batchColumns        = []string{"token", "dataset_id", "user_name", "status", "start_time", "end_time"}
	entryColumns        = []string{"id", "batch_token", "path", "hash", "size", "type", "added_on"}
	packageColumns      = []string{"id", "dataset_id", "user_name", "creation_date", "expiration_date", "is_public", "paths"}
)

// Postgres implements Store against the schema in internal/database/migrations.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateOrganization inserts org.
func (s *Postgres) CreateOrganization(ctx context.Context, org *model.Organization) error {
	if org.CreationDate.IsZero() {
		org.CreationDate = time.Now().UTC()
	}
	query, args, err := psq.Insert("organizations").Columns(organizationColumns...).
		Values(org.Slug, org.Name, org.Description, org.IsPublic, org.OwnerID, org.CreationDate).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert organization: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return classify(fmt.Sprintf("insert organization %s", org.Slug), err)
	}
	return nil
}

// Organization loads the organization and its dataset collection.
func (s *Postgres) Organization(ctx context.Context, slug string) (*model.Organization, error) {
	query, args, err := psq.Select(organizationColumns...).From("organizations").
		Where(sq.Eq{"slug": slug}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select organization: %w", err)
	}
	var (
		org   model.Organization
		desc  sql.NullString
		owner sql.NullString
	)
	err = s.db.QueryRowContext(ctx, query, args...).
		Scan(&org.Slug, &org.Name, &desc, &org.IsPublic, &owner, &org.CreationDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("organization %s: %w", slug, ErrNotFound)
		}
		return nil, fmt.Errorf("select organization: %w", err)
	}
	org.Description = desc.String
	if owner.Valid {
		id := owner.String
		org.OwnerID = &id
	}

	query, args, err = psq.Select(datasetColumns...).From("datasets").
		Where(sq.Eq{"organization_slug": slug}).OrderBy("id ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select datasets: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select datasets: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		org.Datasets = append(org.Datasets, *ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dataset rows: %w", err)
	}
	return &org, nil
}

func scanDataset(row rowScanner) (*model.Dataset, error) {
	var (
		ds   model.Dataset
		desc sql.NullString
		hash sql.NullString
	)
	if err := row.Scan(&ds.ID, &ds.OrganizationSlug, &ds.Slug, &ds.Name, &desc, &ds.InternalRef,
		&ds.CreationDate, &ds.Size, &ds.ObjectsCount, &hash); err != nil {
		return nil, err
	}
	ds.Description = desc.String
	if hash.Valid {
		h := hash.String
		ds.PasswordHash = &h
	}
	return &ds, nil
}

// CreateDataset inserts ds and fills in its generated id.
func (s *Postgres) CreateDataset(ctx context.Context, ds *model.Dataset) error {
	if ds.CreationDate.IsZero() {
		ds.CreationDate = time.Now().UTC()
	}
	query, args, err := psq.Insert("datasets").Columns(datasetColumns[1:]...).
		Values(ds.OrganizationSlug, ds.Slug, ds.Name, ds.Description, ds.InternalRef,
			ds.CreationDate, ds.Size, ds.ObjectsCount, ds.PasswordHash).
		Suffix("RETURNING id").ToSql()
	if err != nil {
		return fmt.Errorf("building insert dataset: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&ds.ID); err != nil {
		return classify(fmt.Sprintf("insert dataset %s", ds.Tag()), err)
	}
	return nil
}

// Dataset loads a dataset by its composite key.
func (s *Postgres) Dataset(ctx context.Context, orgSlug, dsSlug string) (*model.Dataset, error) {
	return s.selectDataset(ctx, sq.Eq{"organization_slug": orgSlug, "slug": dsSlug}, orgSlug+"/"+dsSlug)
}

// DatasetByID loads a dataset by id.
func (s *Postgres) DatasetByID(ctx context.Context, id int64) (*model.Dataset, error) {
	return s.selectDataset(ctx, sq.Eq{"id": id}, fmt.Sprintf("#%d", id))
}

func (s *Postgres) selectDataset(ctx context.Context, where sq.Eq, label string) (*model.Dataset, error) {
	query, args, err := psq.Select(datasetColumns...).From("datasets").Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select dataset: %w", err)
	}
	ds, err := scanDataset(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("dataset %s: %w", label, ErrNotFound)
		}
		return nil, fmt.Errorf("select dataset: %w", err)
	}
	return ds, nil
}

// DeleteDataset removes the dataset and everything it owns in one
// transaction, children first.
func (s *Postgres) DeleteDataset(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		tokens := psq.Select("token").From("batches").Where(sq.Eq{"dataset_id": id})
		steps := []sq.DeleteBuilder{
			psq.Delete("entries").Where(sq.Expr("batch_token IN (?)", tokens)),
			psq.Delete("batches").Where(sq.Eq{"dataset_id": id}),
			psq.Delete("download_packages").Where(sq.Eq{"dataset_id": id}),
		}
		for _, step := range steps {
			query, args, err := step.ToSql()
			if err != nil {
				return fmt.Errorf("building cascade delete: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("cascade delete: %w", err)
			}
		}
		query, args, err := psq.Delete("datasets").Where(sq.Eq{"id": id}).ToSql()
		if err != nil {
			return fmt.Errorf("building delete dataset: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("delete dataset: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("dataset #%d: %w", id, ErrNotFound)
		}
		return nil
	})
}

// CreateBatch inserts a new batch.
func (s *Postgres) CreateBatch(ctx context.Context, b *model.Batch) error {
	query, args, err := psq.Insert("batches").Columns(batchColumns...).
		Values(b.Token, b.DatasetID, b.UserName, int(b.Status), b.Start, b.End).ToSql()
	if err != nil {
		return fmt.Errorf("building insert batch: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return classify(fmt.Sprintf("insert batch %s", b.Token), err)
	}
	return nil
}

// Batch loads a batch by token.
func (s *Postgres) Batch(ctx context.Context, token string) (*model.Batch, error) {
	return selectBatch(ctx, s.db, token, false)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func selectBatch(ctx context.Context, q queryer, token string, forUpdate bool) (*model.Batch, error) {
	builder := psq.Select(batchColumns...).From("batches").Where(sq.Eq{"token": token})
	if forUpdate {
		builder = builder.Suffix("FOR UPDATE")
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select batch: %w", err)
	}
	var (
		b      model.Batch
		status int
		end    sql.NullTime
	)
	if err := q.QueryRowContext(ctx, query, args...).
		Scan(&b.Token, &b.DatasetID, &b.UserName, &status, &b.Start, &end); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("batch %s: %w", token, ErrNotFound)
		}
		return nil, fmt.Errorf("select batch: %w", err)
	}
	b.Status = model.BatchStatus(status)
	if end.Valid {
		t := end.Time
		b.End = &t
	}
	return &b, nil
}

// AddEntry locks the batch row, checks it is still open and appends e.
func (s *Postgres) AddEntry(ctx context.Context, e *model.Entry) error {
	if e.AddedOn.IsZero() {
		e.AddedOn = time.Now().UTC()
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		b, err := selectBatch(ctx, tx, e.BatchToken, true)
		if err != nil {
			return err
		}
		if err := b.Status.Accepting(); err != nil {
			return err
		}
		query, args, err := psq.Insert("entries").Columns(entryColumns[1:]...).
			Values(e.BatchToken, e.Path, e.Hash, e.Size, int(e.Type), e.AddedOn).
			Suffix("RETURNING id").ToSql()
		if err != nil {
			return fmt.Errorf("building insert entry: %w", err)
		}
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&e.ID); err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
		return nil
	})
}

// Entries lists the entries of a batch in insertion order.
func (s *Postgres) Entries(ctx context.Context, token string) ([]model.Entry, error) {
	query, args, err := psq.Select(entryColumns...).From("entries").
		Where(sq.Eq{"batch_token": token}).OrderBy("id ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select entries: %w", err)
	}
	return s.queryEntries(ctx, query, args)
}

// CommittedEntries lists the durable inventory of a dataset.
func (s *Postgres) CommittedEntries(ctx context.Context, datasetID int64, prefix string) ([]model.Entry, error) {
	cols := make([]string, len(entryColumns))
	for i, c := range entryColumns {
		cols[i] = "e." + c
	}
	builder := psq.Select(cols...).From("entries e").
		Join("batches b ON b.token = e.batch_token").
		Where(sq.Eq{"b.dataset_id": datasetID, "b.status": int(model.BatchCommitted)}).
		OrderBy("e.path ASC", "e.id ASC")
	if prefix != "" {
		builder = builder.Where(sq.Like{"e.path": escapeLike(prefix) + "%"})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select committed entries: %w", err)
	}
	return s.queryEntries(ctx, query, args)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *Postgres) queryEntries(ctx context.Context, query string, args []any) ([]model.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []model.Entry{}
	for rows.Next() {
		var (
			e   model.Entry
			typ int
		)
		if err := rows.Scan(&e.ID, &e.BatchToken, &e.Path, &e.Hash, &e.Size, &typ, &e.AddedOn); err != nil {
			return nil, fmt.Errorf("scanning entry row: %w", err)
		}
		e.Type = model.EntryType(typ)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entry rows: %w", err)
	}
	return entries, nil
}

// CloseBatch locks the batch, resolves the transition and, on commit, adds
// the entry totals to the dataset with a single relative UPDATE. Nothing is
// written unless the whole transaction commits.
func (s *Postgres) CloseBatch(ctx context.Context, token string, to model.BatchStatus, at time.Time) (*model.Batch, bool, error) {
	var (
		result  *model.Batch
		changed bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		b, err := selectBatch(ctx, tx, token, true)
		if err != nil {
			return err
		}
		result = b
		changed, err = b.Status.Close(to)
		if err != nil || !changed {
			return err
		}

		if to == model.BatchCommitted {
			query, args, err := psq.Select("COALESCE(SUM(size), 0)").
				Column(sq.Expr("COUNT(*) FILTER (WHERE type = ?)", int(model.EntryFile))).
				From("entries").Where(sq.Eq{"batch_token": token}).ToSql()
			if err != nil {
				return fmt.Errorf("building entry totals: %w", err)
			}
			var size, objects int64
			if err := tx.QueryRowContext(ctx, query, args...).Scan(&size, &objects); err != nil {
				return fmt.Errorf("entry totals: %w", err)
			}
			query, args, err = psq.Update("datasets").
				Set("size", sq.Expr("size + ?", size)).
				Set("objects_count", sq.Expr("objects_count + ?", objects)).
				Where(sq.Eq{"id": b.DatasetID}).ToSql()
			if err != nil {
				return fmt.Errorf("building dataset aggregates: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("update dataset aggregates: %w", err)
			}
		}

		query, args, err := psq.Update("batches").
			Set("status", int(to)).
			Set("end_time", at).
			Where(sq.Eq{"token": token}).ToSql()
		if err != nil {
			return fmt.Errorf("building close batch: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("close batch: %w", err)
		}
		b.Status = to
		end := at
		b.End = &end
		return nil
	})
	if err != nil {
		return result, false, err
	}
	return result, changed, nil
}

// CreateDownloadPackage inserts p, serializing its paths as JSON.
func (s *Postgres) CreateDownloadPackage(ctx context.Context, p *model.DownloadPackage) error {
	paths, err := json.Marshal(p.Paths)
	if err != nil {
		return fmt.Errorf("marshal package paths: %w", err)
	}
	query, args, err := psq.Insert("download_packages").Columns(packageColumns...).
		Values(p.ID, p.DatasetID, p.UserName, p.CreationDate, p.ExpirationDate, p.IsPublic, string(paths)).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert package: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return classify(fmt.Sprintf("insert package %s", p.ID), err)
	}
	return nil
}

// DownloadPackages lists the packages of a dataset, newest first.
func (s *Postgres) DownloadPackages(ctx context.Context, datasetID int64) ([]model.DownloadPackage, error) {
	query, args, err := psq.Select(packageColumns...).From("download_packages").
		Where(sq.Eq{"dataset_id": datasetID}).OrderBy("creation_date DESC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select packages: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select packages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	pkgs := []model.DownloadPackage{}
	for rows.Next() {
		var (
			p       model.DownloadPackage
			expires sql.NullTime
			paths   sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.DatasetID, &p.UserName, &p.CreationDate, &expires, &p.IsPublic, &paths); err != nil {
			return nil, fmt.Errorf("scanning package row: %w", err)
		}
		if expires.Valid {
			t := expires.Time
			p.ExpirationDate = &t
		}
		if paths.Valid && paths.String != "" {
			if err := json.Unmarshal([]byte(paths.String), &p.Paths); err != nil {
				return nil, fmt.Errorf("decode package paths: %w", err)
			}
		}
		pkgs = append(pkgs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating package rows: %w", err)
	}
	return pkgs, nil
}

func (s *Postgres) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// classify maps unique violations to ErrExists.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, ErrExists)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Verify interface compliance.
var _ Store = (*Postgres)(nil)
