package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"constructlink/internal/domain"
	"constructlink/internal/models"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
)

const batchColumns = `id, reference, borrower_name, borrower_contact, borrower_project, purpose,
	created_by, status,
	verified_by, verified_at, verification_notes,
	approved_by, approved_at, approval_notes,
	released_by, released_at, release_notes,
	returned_by, returned_at, return_notes,
	canceled_by, canceled_at, cancellation_reason,
	version, created_at, updated_at`

const itemColumns = `id, batch_id, asset_id, asset_name, quantity, serial_number,
	expected_return, actual_return, status`

type batchRow struct {
	ID                 int64          `db:"id"`
	Reference          string         `db:"reference"`
	BorrowerName       string         `db:"borrower_name"`
	BorrowerContact    string         `db:"borrower_contact"`
	BorrowerProject    string         `db:"borrower_project"`
	Purpose            string         `db:"purpose"`
	CreatedBy          int64          `db:"created_by"`
	Status             string         `db:"status"`
	VerifiedBy         sql.NullInt64  `db:"verified_by"`
	VerifiedAt         sql.NullTime   `db:"verified_at"`
	VerificationNotes  sql.NullString `db:"verification_notes"`
	ApprovedBy         sql.NullInt64  `db:"approved_by"`
	ApprovedAt         sql.NullTime   `db:"approved_at"`
	ApprovalNotes      sql.NullString `db:"approval_notes"`
	ReleasedBy         sql.NullInt64  `db:"released_by"`
	ReleasedAt         sql.NullTime   `db:"released_at"`
	ReleaseNotes       sql.NullString `db:"release_notes"`
	ReturnedBy         sql.NullInt64  `db:"returned_by"`
	ReturnedAt         sql.NullTime   `db:"returned_at"`
	ReturnNotes        sql.NullString `db:"return_notes"`
	CanceledBy         sql.NullInt64  `db:"canceled_by"`
	CanceledAt         sql.NullTime   `db:"canceled_at"`
	CancellationReason sql.NullString `db:"cancellation_reason"`
	Version            int64          `db:"version"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (r *batchRow) toModel() *models.BorrowingBatch {
	return &models.BorrowingBatch{
		ID:              r.ID,
		Reference:       r.Reference,
		BorrowerName:    r.BorrowerName,
		BorrowerContact: r.BorrowerContact,
		BorrowerProject: r.BorrowerProject,
		Purpose:         r.Purpose,
		CreatedBy:       r.CreatedBy,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		Status:          models.Status(r.Status),
		Verified:        stampFrom(r.VerifiedBy, r.VerifiedAt, r.VerificationNotes),
		Approved:        stampFrom(r.ApprovedBy, r.ApprovedAt, r.ApprovalNotes),
		Released:        stampFrom(r.ReleasedBy, r.ReleasedAt, r.ReleaseNotes),
		Returned:        stampFrom(r.ReturnedBy, r.ReturnedAt, r.ReturnNotes),
		Canceled:        stampFrom(r.CanceledBy, r.CanceledAt, r.CancellationReason),
		Version:         r.Version,
	}
}

type itemRow struct {
	ID             int64        `db:"id"`
	BatchID        int64        `db:"batch_id"`
	AssetID        int64        `db:"asset_id"`
	AssetName      string       `db:"asset_name"`
	Quantity       int          `db:"quantity"`
	SerialNumber   string       `db:"serial_number"`
	ExpectedReturn sql.NullTime `db:"expected_return"`
	ActualReturn   sql.NullTime `db:"actual_return"`
	Status         string       `db:"status"`
}

func (r *itemRow) toModel() *models.BorrowingItem {
	return &models.BorrowingItem{
		ID:             r.ID,
		BatchID:        r.BatchID,
		AssetID:        r.AssetID,
		AssetName:      r.AssetName,
		Quantity:       r.Quantity,
		SerialNumber:   r.SerialNumber,
		ExpectedReturn: timePtr(r.ExpectedReturn),
		ActualReturn:   timePtr(r.ActualReturn),
		Status:         models.Status(r.Status),
	}
}

func stampFrom(by sql.NullInt64, at sql.NullTime, notes sql.NullString) models.Stamp {
	s := models.Stamp{At: timePtr(at), Notes: notes.String}
	if by.Valid {
		v := by.Int64
		s.By = &v
	}
	return s
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// Times are stored in UTC so SQLite's textual timestamps compare in order.
func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullInt(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func getBatch(ctx context.Context, q sqlx.ExtContext, id int64, forUpdate bool) (*models.BorrowingBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches WHERE id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var row batchRow
	if err := sqlx.GetContext(ctx, q, &row, q.Rebind(query), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return row.toModel(), nil
}

func getItems(ctx context.Context, q sqlx.ExtContext, batchID int64) ([]*models.BorrowingItem, error) {
	query := `SELECT ` + itemColumns + ` FROM borrowing_items WHERE batch_id = ? ORDER BY id ASC`
	var rows []itemRow
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), batchID); err != nil {
		return nil, fmt.Errorf("failed to get batch items: %w", err)
	}
	items := make([]*models.BorrowingItem, 0, len(rows))
	for i := range rows {
		items = append(items, rows[i].toModel())
	}
	return items, nil
}

func (db *DB) GetBatch(ctx context.Context, id int64) (*models.BorrowingBatch, []*models.BorrowingItem, error) {
	batch, err := getBatch(ctx, db.DB, id, false)
	if err != nil {
		return nil, nil, err
	}
	items, err := getItems(ctx, db.DB, id)
	if err != nil {
		return nil, nil, err
	}
	return batch, items, nil
}

func (db *DB) GetItemsForBatches(ctx context.Context, batchIDs []int64) (map[int64][]*models.BorrowingItem, error) {
	result := make(map[int64][]*models.BorrowingItem, len(batchIDs))
	if len(batchIDs) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`SELECT `+itemColumns+` FROM borrowing_items WHERE batch_id IN (?) ORDER BY batch_id, id`, batchIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build items query: %w", err)
	}

	var rows []itemRow
	if err := db.SelectContext(ctx, &rows, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get items for batches: %w", err)
	}
	for i := range rows {
		item := rows[i].toModel()
		result[item.BatchID] = append(result[item.BatchID], item)
	}
	return result, nil
}

// ListBatches filters on stored data. Overdue and Borrowed are told apart by
// comparing expected_return against now, so callers must pass the same clock
// they use to derive effective status.
func (db *DB) ListBatches(ctx context.Context, filter models.BatchFilter, now time.Time) ([]*models.BorrowingBatch, error) {
	ds := db.dialect.From(tableBatches).Prepared(true).
		Select(goqu.L(batchColumns)).
		Order(goqu.C("created_at").Desc(), goqu.C("id").Desc())

	ds = ds.Where(db.filterExpressions(filter, now)...)

	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}
	if filter.Offset > 0 {
		ds = ds.Offset(uint(filter.Offset))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}

	var rows []batchRow
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}

	batches := make([]*models.BorrowingBatch, 0, len(rows))
	for i := range rows {
		batches = append(batches, rows[i].toModel())
	}
	return batches, nil
}

func (db *DB) filterExpressions(filter models.BatchFilter, now time.Time) []exp.Expression {
	var where []exp.Expression

	switch filter.Status {
	case "":
	case models.StatusOverdue:
		where = append(where,
			goqu.C("status").Eq(string(models.StatusBorrowed)),
			goqu.L("EXISTS ?", db.overdueItems(now)),
		)
	case models.StatusBorrowed:
		where = append(where,
			goqu.C("status").Eq(string(models.StatusBorrowed)),
			goqu.L("NOT EXISTS ?", db.overdueItems(now)),
		)
	default:
		where = append(where, goqu.C("status").Eq(string(filter.Status)))
	}

	if name := strings.TrimSpace(filter.BorrowerName); name != "" {
		where = append(where, goqu.Func("LOWER", goqu.C("borrower_name")).Like("%"+strings.ToLower(name)+"%"))
	}
	if project := strings.TrimSpace(filter.BorrowerProject); project != "" {
		where = append(where, goqu.C("borrower_project").Eq(project))
	}
	if filter.CreatedBy != 0 {
		where = append(where, goqu.C("created_by").Eq(filter.CreatedBy))
	}
	return where
}

func (db *DB) overdueItems(now time.Time) *goqu.SelectDataset {
	return db.dialect.From(tableItems).
		Select(goqu.L("1")).
		Where(
			goqu.I(tableItems+".batch_id").Eq(goqu.I(tableBatches+".id")),
			goqu.C("expected_return").Lt(now.UTC()),
		)
}

// WithinTx runs fn in one database transaction and commits only if fn succeeds.
func (db *DB) WithinTx(ctx context.Context, fn func(tx domain.WorkflowTx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&workflowTx{tx: tx, db: db}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type workflowTx struct {
	tx *sqlx.Tx
	db *DB
}

var _ domain.WorkflowTx = (*workflowTx)(nil)

func (t *workflowTx) LockBatch(ctx context.Context, id int64) (*models.BorrowingBatch, []*models.BorrowingItem, error) {
	// SQLite already holds the write lock from BEGIN IMMEDIATE.
	batch, err := getBatch(ctx, t.tx, id, t.db.postgres())
	if err != nil {
		return nil, nil, err
	}
	items, err := getItems(ctx, t.tx, id)
	if err != nil {
		return nil, nil, err
	}
	return batch, items, nil
}

func (t *workflowTx) FindAuditByKey(ctx context.Context, batchID int64, key string) (*models.AuditEntry, error) {
	return findAuditByKey(ctx, t.tx, batchID, key)
}

func (t *workflowTx) InsertBatch(ctx context.Context, batch *models.BorrowingBatch, items []*models.BorrowingItem) error {
	if len(items) == 0 {
		return ErrEmptyBatch
	}

	query := t.tx.Rebind(`INSERT INTO batches (
			reference, borrower_name, borrower_contact, borrower_project, purpose,
			created_by, status, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)

	if batch.Version == 0 {
		batch.Version = 1
	}
	err := t.tx.QueryRowxContext(ctx, query,
		batch.Reference,
		batch.BorrowerName,
		batch.BorrowerContact,
		batch.BorrowerProject,
		batch.Purpose,
		batch.CreatedBy,
		batch.Status,
		batch.Version,
		batch.CreatedAt.UTC(),
		batch.UpdatedAt.UTC(),
	).Scan(&batch.ID)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}

	itemQuery := t.tx.Rebind(`INSERT INTO borrowing_items (
			batch_id, asset_id, asset_name, quantity, serial_number,
			expected_return, actual_return, status, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)

	for _, item := range items {
		item.BatchID = batch.ID
		err := t.tx.QueryRowxContext(ctx, itemQuery,
			item.BatchID,
			item.AssetID,
			item.AssetName,
			item.Quantity,
			item.SerialNumber,
			nullTime(item.ExpectedReturn),
			nullTime(item.ActualReturn),
			item.Status,
			batch.UpdatedAt.UTC(),
		).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("failed to create batch item: %w", err)
		}
	}
	return nil
}

func (t *workflowTx) UpdateBatch(ctx context.Context, batch *models.BorrowingBatch) error {
	query := t.tx.Rebind(`UPDATE batches SET
			status = ?,
			verified_by = ?, verified_at = ?, verification_notes = ?,
			approved_by = ?, approved_at = ?, approval_notes = ?,
			released_by = ?, released_at = ?, release_notes = ?,
			returned_by = ?, returned_at = ?, return_notes = ?,
			canceled_by = ?, canceled_at = ?, cancellation_reason = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`)

	result, err := t.tx.ExecContext(ctx, query,
		batch.Status,
		nullInt(batch.Verified.By), nullTime(batch.Verified.At), nullString(batch.Verified.Notes),
		nullInt(batch.Approved.By), nullTime(batch.Approved.At), nullString(batch.Approved.Notes),
		nullInt(batch.Released.By), nullTime(batch.Released.At), nullString(batch.Released.Notes),
		nullInt(batch.Returned.By), nullTime(batch.Returned.At), nullString(batch.Returned.Notes),
		nullInt(batch.Canceled.By), nullTime(batch.Canceled.At), nullString(batch.Canceled.Notes),
		batch.UpdatedAt.UTC(),
		batch.ID,
		batch.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrConcurrentModification
	}
	batch.Version++
	return nil
}

func (t *workflowTx) UpdateItems(ctx context.Context, items []*models.BorrowingItem) error {
	query := t.tx.Rebind(`UPDATE borrowing_items SET
			serial_number = ?, expected_return = ?, actual_return = ?, status = ?, updated_at = ?
		WHERE id = ? AND batch_id = ?`)

	now := time.Now().UTC()
	for _, item := range items {
		result, err := t.tx.ExecContext(ctx, query,
			item.SerialNumber,
			nullTime(item.ExpectedReturn),
			nullTime(item.ActualReturn),
			item.Status,
			now,
			item.ID,
			item.BatchID,
		)
		if err != nil {
			return fmt.Errorf("failed to update item %d: %w", item.ID, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("item %d: %w", item.ID, ErrNotFound)
		}
	}
	return nil
}

func (t *workflowTx) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	return appendAudit(ctx, t.tx, entry)
}
