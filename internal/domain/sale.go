package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type SaleItemType string

const (
	SaleItemProduct    SaleItemType = "product"
	SaleItemCombo      SaleItemType = "combo"
	SaleItemRTOProduct SaleItemType = "rto-product"
)

// ItemRef is the sealed set of things a sale line can point at.
type ItemRef interface {
	Kind() SaleItemType
	isItemRef()
}

type ProductRef struct{ ProductID string }

type ComboRef struct{ ComboID string }

type RTORef struct{ RTOProductID string }

func (ProductRef) Kind() SaleItemType { return SaleItemProduct }
func (ComboRef) Kind() SaleItemType   { return SaleItemCombo }
func (RTORef) Kind() SaleItemType     { return SaleItemRTOProduct }

func (ProductRef) isItemRef() {}
func (ComboRef) isItemRef()   {}
func (RTORef) isItemRef()     {}

type SaleItem struct {
	Ref       ItemRef
	Quantity  int
	UnitPrice *decimal.Decimal
}

func ProductItem(productID string, qty int) SaleItem {
	return SaleItem{Ref: ProductRef{ProductID: productID}, Quantity: qty}
}

func ComboSaleItem(comboID string, qty int) SaleItem {
	return SaleItem{Ref: ComboRef{ComboID: comboID}, Quantity: qty}
}

func RTOItem(rtoProductID string, qty int) SaleItem {
	return SaleItem{Ref: RTORef{RTOProductID: rtoProductID}, Quantity: qty}
}

// SaleDraft is a validated sale request ready for reconciliation.
type SaleDraft struct {
	BuyerID  string
	Items    []SaleItem
	SaleDate time.Time
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Other    decimal.Decimal
	Notes    string
}

type SaleItemInput struct {
	Type       SaleItemType     `json:"type" binding:"required,oneof=product combo rto-product"`
	Product    string           `json:"product,omitempty" binding:"required_if=Type product,excluded_unless=Type product"`
	Combo      string           `json:"combo,omitempty" binding:"required_if=Type combo,excluded_unless=Type combo"`
	RTOProduct string           `json:"rtoProduct,omitempty" binding:"required_if=Type rto-product,excluded_unless=Type rto-product"`
	Quantity   int              `json:"quantity" binding:"required,gt=0,max=1000000"`
	UnitPrice  *decimal.Decimal `json:"unitPrice,omitempty"`
}

type SaleRequest struct {
	Buyer    string           `json:"buyer" binding:"required"`
	Items    []SaleItemInput  `json:"items" binding:"required,min=1,dive"`
	SaleDate *time.Time       `json:"saleDate"`
	Subtotal *decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal  `json:"discount"`
	Tax      decimal.Decimal  `json:"tax"`
	Shipping decimal.Decimal  `json:"shipping"`
	Other    decimal.Decimal  `json:"other"`
	Total    *decimal.Decimal `json:"total"`
	Notes    string           `json:"notes" binding:"max=1000"`
}

var ErrInvalidSaleItem = errors.New("invalid sale item")

// Draft converts the wire shape into the tagged union. Subtotal and total are
// accepted for compatibility and recomputed during reconciliation.
func (r SaleRequest) Draft() (SaleDraft, error) {
	draft := SaleDraft{
		BuyerID:  r.Buyer,
		Items:    make([]SaleItem, 0, len(r.Items)),
		Discount: r.Discount,
		Tax:      r.Tax,
		Shipping: r.Shipping,
		Other:    r.Other,
		Notes:    r.Notes,
	}
	if r.SaleDate != nil {
		draft.SaleDate = r.SaleDate.UTC()
	}
	for i, in := range r.Items {
		item, err := in.toItem()
		if err != nil {
			return SaleDraft{}, fmt.Errorf("items[%d]: %w", i, err)
		}
		draft.Items = append(draft.Items, item)
	}
	return draft, nil
}

func (in SaleItemInput) toItem() (SaleItem, error) {
	if in.Quantity < 1 {
		return SaleItem{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidSaleItem)
	}
	if in.Quantity > MaxQuantity {
		return SaleItem{}, fmt.Errorf("%w: quantity exceeds %d", ErrInvalidSaleItem, MaxQuantity)
	}
	if in.UnitPrice != nil && in.UnitPrice.IsNegative() {
		return SaleItem{}, fmt.Errorf("%w: unit price must not be negative", ErrInvalidSaleItem)
	}

	var ref ItemRef
	switch in.Type {
	case SaleItemProduct:
		if in.Product == "" || in.Combo != "" || in.RTOProduct != "" {
			return SaleItem{}, fmt.Errorf("%w: product item needs exactly a product reference", ErrInvalidSaleItem)
		}
		ref = ProductRef{ProductID: in.Product}
	case SaleItemCombo:
		if in.Combo == "" || in.Product != "" || in.RTOProduct != "" {
			return SaleItem{}, fmt.Errorf("%w: combo item needs exactly a combo reference", ErrInvalidSaleItem)
		}
		ref = ComboRef{ComboID: in.Combo}
	case SaleItemRTOProduct:
		if in.RTOProduct == "" || in.Product != "" || in.Combo != "" {
			return SaleItem{}, fmt.Errorf("%w: rto-product item needs exactly an rtoProduct reference", ErrInvalidSaleItem)
		}
		ref = RTORef{RTOProductID: in.RTOProduct}
	default:
		return SaleItem{}, fmt.Errorf("%w: unknown type %q", ErrInvalidSaleItem, in.Type)
	}

	return SaleItem{Ref: ref, Quantity: in.Quantity, UnitPrice: in.UnitPrice}, nil
}

// RTOAllocation records how many units a sale line took from one RTO ledger row.
type RTOAllocation struct {
	RTOProductID string `json:"rtoProduct"`
	Quantity     int    `json:"quantity"`
}

type SaleLine struct {
	Type         SaleItemType    `json:"type"`
	ProductID    string          `json:"product,omitempty"`
	ComboID      string          `json:"combo,omitempty"`
	RTOProductID string          `json:"rtoProduct,omitempty"`
	Name         string          `json:"name"`
	Barcode      string          `json:"barcode"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	UnitCost     decimal.Decimal `json:"unitCost"`
	Total        decimal.Decimal `json:"total"`
	Components   []ComboItem     `json:"components,omitempty"`
	Allocations  []RTOAllocation `json:"allocations,omitempty"`
}

type Sale struct {
	ID        string          `json:"id"`
	BuyerID   string          `json:"buyer"`
	Items     []SaleLine      `json:"items"`
	SaleDate  time.Time       `json:"saleDate"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Discount  decimal.Decimal `json:"discount"`
	Tax       decimal.Decimal `json:"tax"`
	Shipping  decimal.Decimal `json:"shipping"`
	Other     decimal.Decimal `json:"other"`
	Total     decimal.Decimal `json:"total"`
	Notes     string          `json:"notes,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// SaleDetail is a sale with its buyer populated. Buyer shadows Sale.BuyerID
// in JSON, so "buyer" carries the party object.
type SaleDetail struct {
	Sale
	Buyer Party `json:"buyer"`
}

type ScanRequest struct {
	Barcode string `json:"barcode" binding:"required,max=64"`
}

type ScanResult struct {
	Type       SaleItemType    `json:"type"`
	Product    *Product        `json:"product,omitempty"`
	Combo      *ComboDetail    `json:"combo,omitempty"`
	RTOProduct *RTOProduct     `json:"rtoProduct,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Barcode    string          `json:"barcode"`
}
