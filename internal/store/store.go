package store

import (
	"context"
	"errors"
	"fmt"

	"shopstock/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrInUse             = errors.New("still referenced")
)

// StockError describes a failed availability check.
type StockError struct {
	Kind      string
	Name      string
	Required  int
	Available int
	Detail    string
}

func (e *StockError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("insufficient stock for %s %s: %s", e.Kind, e.Name, e.Detail)
	}
	return fmt.Sprintf("insufficient stock for %s %s: required %d, available %d (short %d)",
		e.Kind, e.Name, e.Required, e.Available, e.Required-e.Available)
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

// Reader holds the read paths shared by the repository and transactions.
type Reader interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	GetCombo(ctx context.Context, id string) (*domain.Combo, error)
	GetComboByBarcode(ctx context.Context, barcode string) (*domain.Combo, error)
	ListCombos(ctx context.Context) ([]domain.Combo, error)
	GetRTOProduct(ctx context.Context, id string) (*domain.RTOProduct, error)
	// FindRTOProductByBarcode returns the oldest ledger row for the barcode
	// that still holds units.
	FindRTOProductByBarcode(ctx context.Context, barcode string) (*domain.RTOProduct, error)
	ListRTOProducts(ctx context.Context, filter domain.RTOProductFilter) ([]domain.RTOProduct, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	GetPurchase(ctx context.Context, id string) (*domain.Purchase, error)
	ListPurchases(ctx context.Context, r domain.DateRange) ([]domain.Purchase, error)
	GetReturn(ctx context.Context, id string) (*domain.Return, error)
	ListReturns(ctx context.Context, r domain.DateRange) ([]domain.Return, error)
}

// Tx is a unit of work. Lock* methods hold the returned rows until the
// transaction ends.
type Tx interface {
	LockProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
	// LockRTOProductsByProduct returns ledger rows ordered by dateAdded ascending.
	LockRTOProductsByProduct(ctx context.Context, productIDs []string) ([]domain.RTOProduct, error)
	LockRTOProduct(ctx context.Context, id string) (*domain.RTOProduct, error)
	GetCombo(ctx context.Context, id string) (*domain.Combo, error)
	GetCategory(ctx context.Context, id string) (*domain.Category, error)
	NextCategorySequence(ctx context.Context, categoryID string) (domain.Category, error)
	BarcodeTaken(ctx context.Context, barcode string, exceptID string) (bool, error)

	InsertProduct(ctx context.Context, product domain.Product) error
	SaveProduct(ctx context.Context, product domain.Product) error
	InsertRTOProduct(ctx context.Context, row domain.RTOProduct) error
	SaveRTOProduct(ctx context.Context, row domain.RTOProduct) error
	DeleteRTOProduct(ctx context.Context, id string) error
	DeleteRTOProductsByReturn(ctx context.Context, returnID string) (int, error)

	LockSale(ctx context.Context, id string) (*domain.Sale, error)
	InsertSale(ctx context.Context, sale domain.Sale) error
	UpdateSale(ctx context.Context, sale domain.Sale) error
	DeleteSale(ctx context.Context, id string) error

	LockPurchase(ctx context.Context, id string) (*domain.Purchase, error)
	InsertPurchase(ctx context.Context, purchase domain.Purchase) error
	UpdatePurchase(ctx context.Context, purchase domain.Purchase) error
	DeletePurchase(ctx context.Context, id string) error

	LockReturn(ctx context.Context, id string) (*domain.Return, error)
	ListReturnIDs(ctx context.Context) ([]string, error)
	InsertReturn(ctx context.Context, ret domain.Return) error
	UpdateReturn(ctx context.Context, ret domain.Return) error
	DeleteReturn(ctx context.Context, id string) error

	GetParty(ctx context.Context, kind PartyKind, id string) (*domain.Party, error)
}

type PartyKind string

const (
	Vendors PartyKind = "vendors"
	Buyers  PartyKind = "buyers"
)

type Repository interface {
	Reader

	// WithinTx runs fn in one transaction. fn must only use tx for data
	// access; the transaction commits when fn returns nil.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	CreateCategory(ctx context.Context, category domain.Category) error
	GetCategory(ctx context.Context, id string) (*domain.Category, error)
	GetCategoryByPrefix(ctx context.Context, prefix string) (*domain.Category, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	UpdateCategory(ctx context.Context, category domain.Category) error
	DeleteCategory(ctx context.Context, id string) error

	CreateCombo(ctx context.Context, combo domain.Combo) error
	UpdateCombo(ctx context.Context, combo domain.Combo) error
	DeleteCombo(ctx context.Context, id string) error

	// DeleteProduct removes an unreferenced product, its ledger rows and its
	// combo memberships.
	DeleteProduct(ctx context.Context, id string) error

	CreateParty(ctx context.Context, kind PartyKind, party domain.Party) error
	GetParty(ctx context.Context, kind PartyKind, id string) (*domain.Party, error)
	ListParties(ctx context.Context, kind PartyKind) ([]domain.Party, error)
	UpdateParty(ctx context.Context, kind PartyKind, party domain.Party) error
	DeleteParty(ctx context.Context, kind PartyKind, id string) error
}
