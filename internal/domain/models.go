package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// MaxQuantity caps any quantity a request may carry, including the member
// demand a combo line expands to.
const MaxQuantity = 1_000_000

const (
	RTOStatusNone = "none"
	RTOStatusRTO  = "RTO"
	RTOStatusRPU  = "RPU"
)

const (
	ReturnCategoryRTO = "RTO"
	ReturnCategoryRPU = "RPU"
)

const (
	ReturnStatusPending   = "pending"
	ReturnStatusProcessed = "processed"
	ReturnStatusRejected  = "rejected"
)

const (
	RTOProductPending    = "pending"
	RTOProductProcessing = "processing"
	RTOProductCompleted  = "completed"
	RTOProductCancelled  = "cancelled"
)

const (
	PurchaseStatusPending  = "pending"
	PurchaseStatusReceived = "received"
)

type Category struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Prefix      string    `json:"prefix"`
	Sequence    int       `json:"sequence"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type CategoryRequest struct {
	Name        string `json:"name" binding:"required,max=120"`
	Prefix      string `json:"prefix" binding:"required,alphanum,max=16"`
	Description string `json:"description" binding:"max=500"`
}

type Product struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Barcode      string          `json:"barcode"`
	CategoryID   string          `json:"category"`
	CostPrice    decimal.Decimal `json:"costPrice"`
	SellingPrice decimal.Decimal `json:"sellingPrice"`
	Quantity     int             `json:"quantity"`
	MinQuantity  int             `json:"minQuantity"`
	RTOStatus    string          `json:"rtoStatus"`
	RTOQuantity  int             `json:"rtoQuantity"`
	Description  string          `json:"description,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func (p Product) LowStock() bool {
	return p.Quantity <= p.MinQuantity
}

type ProductCreateRequest struct {
	Name         string          `json:"name" binding:"required,max=200"`
	Barcode      string          `json:"barcode" binding:"omitempty,alphanum,max=64"`
	CategoryID   string          `json:"category" binding:"required"`
	CostPrice    decimal.Decimal `json:"costPrice"`
	SellingPrice decimal.Decimal `json:"sellingPrice"`
	Quantity     int             `json:"quantity" binding:"gte=0,max=1000000"`
	MinQuantity  int             `json:"minQuantity" binding:"gte=0,max=1000000"`
	Description  string          `json:"description" binding:"max=1000"`
}

type ProductUpdateRequest struct {
	Name         *string          `json:"name,omitempty" binding:"omitempty,max=200"`
	CategoryID   *string          `json:"category,omitempty"`
	CostPrice    *decimal.Decimal `json:"costPrice,omitempty"`
	SellingPrice *decimal.Decimal `json:"sellingPrice,omitempty"`
	MinQuantity  *int             `json:"minQuantity,omitempty" binding:"omitempty,gte=0,max=1000000"`
	Description  *string          `json:"description,omitempty" binding:"omitempty,max=1000"`
}

type ProductFilter struct {
	CategoryID string
	Search     string
	LowStock   bool
}

type ComboItem struct {
	ProductID string `json:"product" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0,max=1000000"`
}

type Combo struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Barcode     string          `json:"barcode"`
	Price       decimal.Decimal `json:"price"`
	Items       []ComboItem     `json:"items"`
	IsActive    bool            `json:"isActive"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type ComboRequest struct {
	Name        string          `json:"name" binding:"required,max=200"`
	Barcode     string          `json:"barcode" binding:"omitempty,alphanum,max=64"`
	Price       decimal.Decimal `json:"price"`
	Items       []ComboItem     `json:"items" binding:"required,min=1,dive"`
	IsActive    *bool           `json:"isActive"`
	Description string          `json:"description" binding:"max=1000"`
}

type ComboMember struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// ComboDetail is a combo with its members populated. AvailableCount is
// derived from current member stock on every read.
type ComboDetail struct {
	Combo
	Members        []ComboMember `json:"members"`
	AvailableCount int           `json:"availableCount"`
}

type RTOProduct struct {
	ID              string          `json:"id"`
	ProductID       string          `json:"product"`
	ProductName     string          `json:"name"`
	Barcode         string          `json:"barcode"`
	Category        string          `json:"category"`
	Quantity        int             `json:"quantity"`
	InitialQuantity int             `json:"initialQuantity"`
	Price           decimal.Decimal `json:"price"`
	Status          string          `json:"status"`
	ReturnID        string          `json:"returnId,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	DateAdded       time.Time       `json:"dateAdded"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type RTOProductFilter struct {
	Category  string
	Status    string
	Search    string
	StartDate *time.Time
	EndDate   *time.Time
}

type RTOProductCreateRequest struct {
	ProductID string           `json:"product" binding:"required"`
	Category  string           `json:"category" binding:"required,oneof=RTO RPU"`
	Quantity  int              `json:"quantity" binding:"required,gt=0,max=1000000"`
	Price     *decimal.Decimal `json:"price"`
	Status    string           `json:"status" binding:"omitempty,oneof=pending processing completed cancelled"`
	Notes     string           `json:"notes" binding:"max=1000"`
}

type RTOStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=pending processing completed cancelled"`
}

type RTOTransferRequest struct {
	Quantity int `json:"quantity" binding:"required,gt=0,max=1000000"`
}

type Party struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Vendor = Party

type Buyer = Party

type PartyRequest struct {
	Name    string `json:"name" binding:"required,max=200"`
	Phone   string `json:"phone" binding:"max=40"`
	Email   string `json:"email" binding:"omitempty,email"`
	Address string `json:"address" binding:"max=500"`
	Notes   string `json:"notes" binding:"max=1000"`
}

type PurchaseLine struct {
	ProductID    string           `json:"product"`
	Name         string           `json:"name"`
	Barcode      string           `json:"barcode"`
	Quantity     int              `json:"quantity"`
	UnitCost     decimal.Decimal  `json:"unitCost"`
	SellingPrice *decimal.Decimal `json:"sellingPrice,omitempty"`
	Total        decimal.Decimal  `json:"total"`
}

type Purchase struct {
	ID            string          `json:"id"`
	VendorID      string          `json:"vendor"`
	InvoiceNumber string          `json:"invoiceNumber,omitempty"`
	Items         []PurchaseLine  `json:"items"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	Status        string          `json:"status"`
	Notes         string          `json:"notes,omitempty"`
	PurchaseDate  time.Time       `json:"purchaseDate"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

type PurchaseItemRequest struct {
	ProductID    string           `json:"product" binding:"required"`
	Quantity     int              `json:"quantity" binding:"required,gt=0,max=1000000"`
	UnitCost     decimal.Decimal  `json:"unitCost"`
	SellingPrice *decimal.Decimal `json:"sellingPrice"`
}

type PurchaseRequest struct {
	VendorID      string                `json:"vendor" binding:"required"`
	InvoiceNumber string                `json:"invoiceNumber" binding:"max=64"`
	Items         []PurchaseItemRequest `json:"items" binding:"required,min=1,dive"`
	Status        string                `json:"status" binding:"omitempty,oneof=pending received"`
	Notes         string                `json:"notes" binding:"max=1000"`
	PurchaseDate  *time.Time            `json:"purchaseDate"`
}

type ReturnLine struct {
	ProductID string          `json:"product"`
	Name      string          `json:"name"`
	Barcode   string          `json:"barcode"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Total     decimal.Decimal `json:"total"`
}

type Return struct {
	ID              string          `json:"id"`
	Category        string          `json:"category"`
	CustomerName    string          `json:"customerName"`
	CustomerPhone   string          `json:"customerPhone,omitempty"`
	CustomerAddress string          `json:"customerAddress,omitempty"`
	OrderNumber     string          `json:"orderNumber,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	Items           []ReturnLine    `json:"items"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	Status          string          `json:"status"`
	ReturnDate      time.Time       `json:"returnDate"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// HoldsStock reports whether the return currently carries inventory effects.
func (r Return) HoldsStock() bool {
	return r.Category == ReturnCategoryRTO && r.Status == ReturnStatusProcessed
}

type ReturnItemRequest struct {
	ProductID string          `json:"product" binding:"required"`
	Quantity  int             `json:"quantity" binding:"required,gt=0,max=1000000"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type ReturnRequest struct {
	Category        string              `json:"category" binding:"required,oneof=RTO RPU"`
	CustomerName    string              `json:"customerName" binding:"required,max=200"`
	CustomerPhone   string              `json:"customerPhone" binding:"max=40"`
	CustomerAddress string              `json:"customerAddress" binding:"max=500"`
	OrderNumber     string              `json:"orderNumber" binding:"max=64"`
	Reason          string              `json:"reason" binding:"max=1000"`
	Items           []ReturnItemRequest `json:"items" binding:"required,min=1,dive"`
	TotalAmount     *decimal.Decimal    `json:"totalAmount"`
	Status          string              `json:"status" binding:"omitempty,oneof=pending processed rejected"`
	ReturnDate      *time.Time          `json:"returnDate"`
}

type ReturnResponse struct {
	Message  string `json:"message"`
	Return   Return `json:"return"`
	ReturnID string `json:"returnId"`
}

type DateRange struct {
	From *time.Time
	To   *time.Time
}

func (r DateRange) Contains(t time.Time) bool {
	if r.From != nil && t.Before(*r.From) {
		return false
	}
	if r.To != nil && t.After(*r.To) {
		return false
	}
	return true
}

type SaleFilter struct {
	BuyerID string
	DateRange
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expiresAt"`
}

type Actor struct {
	Username string
	Role     string
}

type Event struct {
	Name   string    `json:"event"`
	Action string    `json:"action"`
	ID     string    `json:"id"`
	At     time.Time `json:"at"`
}

const (
	EventSalesChanged      = "sales:changed"
	EventInventoryChanged  = "inventory:changed"
	EventReturnsChanged    = "returns:changed"
	EventRTOChanged        = "rto-products:changed"
	EventProductsChanged   = "products:changed"
	EventCombosChanged     = "combos:changed"
	EventPurchasesChanged  = "purchases:changed"
	EventCategoriesChanged = "categories:changed"
	EventVendorsChanged    = "vendors:changed"
	EventBuyersChanged     = "buyers:changed"
	EventLowStock          = "inventory:low-stock"
)

const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

type ProfitLossLine struct {
	ProductID string          `json:"product"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Revenue   decimal.Decimal `json:"revenue"`
	Cost      decimal.Decimal `json:"cost"`
	Profit    decimal.Decimal `json:"profit"`
}

type ProfitLoss struct {
	From        *time.Time       `json:"startDate,omitempty"`
	To          *time.Time       `json:"endDate,omitempty"`
	Sales       int              `json:"sales"`
	Revenue     decimal.Decimal  `json:"revenue"`
	CostOfGoods decimal.Decimal  `json:"costOfGoods"`
	GrossProfit decimal.Decimal  `json:"grossProfit"`
	RPUWriteOff decimal.Decimal  `json:"rpuWriteOff"`
	NetProfit   decimal.Decimal  `json:"netProfit"`
	Lines       []ProfitLossLine `json:"lines"`
}

type ReconcileRow struct {
	Row        int             `json:"row"`
	Barcode    string          `json:"barcode"`
	Name       string          `json:"name,omitempty"`
	Quantity   int             `json:"quantity"`
	SaleAmount decimal.Decimal `json:"saleAmount"`
	Cost       decimal.Decimal `json:"cost"`
	Profit     decimal.Decimal `json:"profit"`
	Matched    bool            `json:"matched"`
}

type ReconcileResult struct {
	Rows       []ReconcileRow  `json:"rows"`
	Unmatched  int             `json:"unmatched"`
	SaleAmount decimal.Decimal `json:"saleAmount"`
	Cost       decimal.Decimal `json:"cost"`
	Profit     decimal.Decimal `json:"profit"`
}

type ProductImportRow struct {
	Row          int
	Name         string
	CategoryCode string
	CostPrice    decimal.Decimal
	SellingPrice decimal.Decimal
	Quantity     int
	MinQuantity  int
}

type ImportResult struct {
	Row     int    `json:"row"`
	Product string `json:"product,omitempty"`
	Barcode string `json:"barcode,omitempty"`
	Error   string `json:"error,omitempty"`
}
