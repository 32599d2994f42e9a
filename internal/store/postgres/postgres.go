package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"shopstock/internal/domain"
	"shopstock/internal/store"
)

//go:embed schema.sql
var schema string

// querier is satisfied by both *sql.DB and *sql.Tx so read paths are shared
// between the repository and its transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	reader
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{reader: reader{q: db}, db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// WithinTx runs fn in a serializable transaction. Serialization failures
// surface as store.ErrConflict so callers can retry.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&pgTx{reader: reader{q: sqlTx}, tx: sqlTx}); err != nil {
		return mapTxError(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return mapTxError(err)
	}
	return nil
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, prefix, sequence, description, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, category.ID, category.Name, category.Prefix, category.Sequence, category.Description, category.CreatedAt, category.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) GetCategoryByPrefix(ctx context.Context, prefix string) (*domain.Category, error) {
	return scanCategory(s.db.QueryRowContext(ctx, `
		SELECT `+categoryColumns+` FROM categories WHERE upper(prefix) = upper($1)
	`, prefix))
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, *c)
	}
	return categories, rows.Err()
}

func (s *Store) UpdateCategory(ctx context.Context, category domain.Category) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE categories SET name = $2, prefix = $3, description = $4, updated_at = $5
		WHERE id = $1
	`, category.ID, category.Name, category.Prefix, category.Description, category.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return expectAffected(res, err)
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if isForeignKeyViolation(err) {
		return store.ErrInUse
	}
	return expectAffected(res, err)
}

func (s *Store) CreateCombo(ctx context.Context, combo domain.Combo) error {
	return s.WithinTx(ctx, func(tx store.Tx) error {
		t := tx.(*pgTx)
		if err := t.checkComboBarcode(ctx, combo.Barcode); err != nil {
			return err
		}
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO combos (id, name, barcode, price, is_active, description, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, combo.ID, combo.Name, combo.Barcode, combo.Price, combo.IsActive, combo.Description, combo.CreatedAt, combo.UpdatedAt)
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		if err != nil {
			return err
		}
		return t.insertComboItems(ctx, combo)
	})
}

func (s *Store) UpdateCombo(ctx context.Context, combo domain.Combo) error {
	return s.WithinTx(ctx, func(tx store.Tx) error {
		t := tx.(*pgTx)
		if err := t.checkComboBarcode(ctx, combo.Barcode); err != nil {
			return err
		}
		res, err := t.tx.ExecContext(ctx, `
			UPDATE combos SET name = $2, barcode = $3, price = $4, is_active = $5, description = $6, updated_at = $7
			WHERE id = $1
		`, combo.ID, combo.Name, combo.Barcode, combo.Price, combo.IsActive, combo.Description, combo.UpdatedAt)
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		if err := expectAffected(res, err); err != nil {
			return err
		}
		if _, err := t.tx.ExecContext(ctx, `DELETE FROM combo_items WHERE combo_id = $1`, combo.ID); err != nil {
			return err
		}
		return t.insertComboItems(ctx, combo)
	})
}

func (s *Store) DeleteCombo(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM combos WHERE id = $1`, id)
	return expectAffected(res, err)
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	return s.WithinTx(ctx, func(tx store.Tx) error {
		t := tx.(*pgTx)
		var locked string
		err := t.tx.QueryRowContext(ctx, `SELECT id FROM products WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}

		var referenced bool
		err = t.tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM sale_items WHERE product_id = $1 OR components @> jsonb_build_array(jsonb_build_object('product', $1::text)))
				OR EXISTS (SELECT 1 FROM purchase_items WHERE product_id = $1)
				OR EXISTS (SELECT 1 FROM return_items WHERE product_id = $1)
		`, id).Scan(&referenced)
		if err != nil {
			return err
		}
		if referenced {
			return store.ErrInUse
		}

		if _, err := t.tx.ExecContext(ctx, `DELETE FROM rto_products WHERE product_id = $1`, id); err != nil {
			return err
		}
		if _, err := t.tx.ExecContext(ctx, `DELETE FROM combo_items WHERE product_id = $1`, id); err != nil {
			return err
		}
		if _, err := t.tx.ExecContext(ctx, `
			UPDATE combos SET is_active = false, updated_at = now()
			WHERE is_active AND NOT EXISTS (SELECT 1 FROM combo_items ci WHERE ci.combo_id = combos.id)
		`); err != nil {
			return err
		}
		_, err = t.tx.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
		return err
	})
}

func (s *Store) CreateParty(ctx context.Context, kind store.PartyKind, party domain.Party) error {
	table, err := partyTable(kind)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO `+table+` (id, name, phone, email, address, notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, party.ID, party.Name, party.Phone, party.Email, party.Address, party.Notes, party.CreatedAt, party.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) ListParties(ctx context.Context, kind store.PartyKind) ([]domain.Party, error) {
	table, err := partyTable(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+partyColumns+` FROM `+table+` ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	parties := make([]domain.Party, 0, 16)
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, err
		}
		parties = append(parties, *p)
	}
	return parties, rows.Err()
}

func (s *Store) UpdateParty(ctx context.Context, kind store.PartyKind, party domain.Party) error {
	table, err := partyTable(kind)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE `+table+` SET name = $2, phone = $3, email = $4, address = $5, notes = $6, updated_at = $7
		WHERE id = $1
	`, party.ID, party.Name, party.Phone, party.Email, party.Address, party.Notes, party.UpdatedAt)
	return expectAffected(res, err)
}

func (s *Store) DeleteParty(ctx context.Context, kind store.PartyKind, id string) error {
	table, err := partyTable(kind)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if isForeignKeyViolation(err) {
		return store.ErrInUse
	}
	return expectAffected(res, err)
}

func partyTable(kind store.PartyKind) (string, error) {
	switch kind {
	case store.Vendors:
		return "vendors", nil
	case store.Buyers:
		return "buyers", nil
	default:
		return "", fmt.Errorf("%w: unknown party kind %q", store.ErrValidation, kind)
	}
}

func expectAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: concurrent update, retry the request", store.ErrConflict)
		case "23505":
			return store.ErrConflict
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
