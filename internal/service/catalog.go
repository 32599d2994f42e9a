package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"shopstock/internal/domain"
	"shopstock/internal/store"
	"shopstock/internal/xid"
)

const comboBarcodePrefix = "CMB"

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	category, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return nil, wrapNotFound(err, "category", id)
	}
	return category, nil
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryRequest) (*domain.Category, error) {
	name := strings.TrimSpace(req.Name)
	prefix := strings.ToUpper(strings.TrimSpace(req.Prefix))
	if name == "" || prefix == "" {
		return nil, invalid("name and prefix are required")
	}

	now := s.now()
	category := domain.Category{
		ID:          xid.New("cat"),
		Name:        name,
		Prefix:      prefix,
		Description: strings.TrimSpace(req.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateCategory(ctx, category); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("category prefix %s already exists: %w", prefix, err)
		}
		return nil, err
	}

	s.logAction(ctx, domain.ActionCreated, "category", category.ID, logrus.Fields{"prefix": prefix})
	s.changed(ctx, domain.ActionCreated, category.ID, domain.EventCategoriesChanged)
	return &category, nil
}

func (s *Service) UpdateCategory(ctx context.Context, id string, req domain.CategoryRequest) (*domain.Category, error) {
	category, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return nil, wrapNotFound(err, "category", id)
	}
	category.Name = strings.TrimSpace(req.Name)
	category.Prefix = strings.ToUpper(strings.TrimSpace(req.Prefix))
	category.Description = strings.TrimSpace(req.Description)
	category.UpdatedAt = s.now()
	if category.Name == "" || category.Prefix == "" {
		return nil, invalid("name and prefix are required")
	}
	if err := s.repo.UpdateCategory(ctx, *category); err != nil {
		return nil, wrapNotFound(err, "category", id)
	}

	s.logAction(ctx, domain.ActionUpdated, "category", id, nil)
	s.changed(ctx, domain.ActionUpdated, id, domain.EventCategoriesChanged)
	return s.GetCategory(ctx, id)
}

func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	if err := s.repo.DeleteCategory(ctx, id); err != nil {
		return wrapNotFound(err, "category", id)
	}
	s.logAction(ctx, domain.ActionDeleted, "category", id, nil)
	s.changed(ctx, domain.ActionDeleted, id, domain.EventCategoriesChanged)
	return nil
}

func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, filter)
}

// LowStockProducts lists products whose quantity is at or below minQuantity.
func (s *Service) LowStockProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, domain.ProductFilter{LowStock: true})
}

func (s *Service) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, wrapNotFound(err, "product", id)
	}
	return product, nil
}

func (s *Service) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	product, err := s.repo.GetProductByBarcode(ctx, barcode)
	if err != nil {
		return nil, wrapNotFound(err, "product with barcode", barcode)
	}
	return product, nil
}

// CreateProduct registers a product. Without an explicit barcode one is issued
// from the category counter as prefix plus a four digit sequence.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (*domain.Product, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalid("name is required")
	}
	if req.CostPrice.IsNegative() || req.SellingPrice.IsNegative() {
		return nil, invalid("prices must not be negative")
	}
	if req.Quantity < 0 || req.MinQuantity < 0 {
		return nil, invalid("quantities must not be negative")
	}
	if req.Quantity > domain.MaxQuantity || req.MinQuantity > domain.MaxQuantity {
		return nil, invalid("quantities must not exceed %d", domain.MaxQuantity)
	}

	var product domain.Product
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetCategory(ctx, req.CategoryID); err != nil {
			return wrapNotFound(err, "category", req.CategoryID)
		}
		barcode, err := issueBarcode(ctx, tx, req.CategoryID, strings.TrimSpace(req.Barcode))
		if err != nil {
			return err
		}

		now := s.now()
		product = domain.Product{
			ID:           xid.New("prod"),
			Name:         name,
			Barcode:      barcode,
			CategoryID:   req.CategoryID,
			CostPrice:    req.CostPrice,
			SellingPrice: req.SellingPrice,
			Quantity:     req.Quantity,
			MinQuantity:  req.MinQuantity,
			RTOStatus:    domain.RTOStatusNone,
			Description:  strings.TrimSpace(req.Description),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return tx.InsertProduct(ctx, product)
	})
	if err != nil {
		return nil, err
	}

	s.logAction(ctx, domain.ActionCreated, "product", product.ID, logrus.Fields{"barcode": product.Barcode, "quantity": product.Quantity})
	s.changed(ctx, domain.ActionCreated, product.ID, domain.EventProductsChanged, domain.EventInventoryChanged)
	return &product, nil
}

func issueBarcode(ctx context.Context, tx store.Tx, categoryID string, explicit string) (string, error) {
	if explicit != "" {
		taken, err := tx.BarcodeTaken(ctx, explicit, "")
		if err != nil {
			return "", err
		}
		if taken {
			return "", fmt.Errorf("barcode %s already in use: %w", explicit, store.ErrConflict)
		}
		return explicit, nil
	}
	// Manual barcodes may already occupy a sequence slot; skip past them.
	for i := 0; i < 100; i++ {
		category, err := tx.NextCategorySequence(ctx, categoryID)
		if err != nil {
			return "", wrapNotFound(err, "category", categoryID)
		}
		barcode := fmt.Sprintf("%s%04d", category.Prefix, category.Sequence)
		taken, err := tx.BarcodeTaken(ctx, barcode, "")
		if err != nil {
			return "", err
		}
		if !taken {
			return barcode, nil
		}
	}
	return "", fmt.Errorf("no free barcode in category %s: %w", categoryID, store.ErrConflict)
}

// UpdateProduct edits master data. Quantity only moves through purchases,
// sales, returns and the RTO ledger.
func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (*domain.Product, error) {
	var product domain.Product
	err := s.withLocks(ctx, []string{id}, func() error {
		return s.repo.WithinTx(ctx, func(tx store.Tx) error {
			locked, err := tx.LockProducts(ctx, []string{id})
			if err != nil {
				return err
			}
			p, ok := locked[id]
			if !ok {
				return notFound("product", id)
			}
			if req.Name != nil {
				name := strings.TrimSpace(*req.Name)
				if name == "" {
					return invalid("name must not be empty")
				}
				p.Name = name
			}
			if req.CategoryID != nil {
				if _, err := tx.GetCategory(ctx, *req.CategoryID); err != nil {
					return wrapNotFound(err, "category", *req.CategoryID)
				}
				p.CategoryID = *req.CategoryID
			}
			if req.CostPrice != nil {
				if req.CostPrice.IsNegative() {
					return invalid("costPrice must not be negative")
				}
				p.CostPrice = *req.CostPrice
			}
			if req.SellingPrice != nil {
				if req.SellingPrice.IsNegative() {
					return invalid("sellingPrice must not be negative")
				}
				p.SellingPrice = *req.SellingPrice
			}
			if req.MinQuantity != nil {
				if *req.MinQuantity < 0 || *req.MinQuantity > domain.MaxQuantity {
					return invalid("minQuantity must be between 0 and %d", domain.MaxQuantity)
				}
				p.MinQuantity = *req.MinQuantity
			}
			if req.Description != nil {
				p.Description = strings.TrimSpace(*req.Description)
			}
			p.UpdatedAt = s.now()
			product = p
			return tx.SaveProduct(ctx, p)
		})
	})
	if err != nil {
		return nil, err
	}

	s.logAction(ctx, domain.ActionUpdated, "product", id, nil)
	s.changed(ctx, domain.ActionUpdated, id, domain.EventProductsChanged)
	return &product, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	err := s.withLocks(ctx, []string{id}, func() error {
		return s.repo.DeleteProduct(ctx, id)
	})
	if err != nil {
		if errors.Is(err, store.ErrInUse) {
			return fmt.Errorf("product %s is referenced by sales, purchases or returns: %w", id, err)
		}
		return wrapNotFound(err, "product", id)
	}

	s.logAction(ctx, domain.ActionDeleted, "product", id, nil)
	s.changed(ctx, domain.ActionDeleted, id, domain.EventProductsChanged, domain.EventInventoryChanged, domain.EventCombosChanged, domain.EventRTOChanged)
	return nil
}

func (s *Service) ListCombos(ctx context.Context) ([]domain.ComboDetail, error) {
	combos, err := s.repo.ListCombos(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ComboDetail, 0, len(combos))
	for _, combo := range combos {
		detail, err := s.comboDetail(ctx, combo)
		if err != nil {
			return nil, err
		}
		out = append(out, *detail)
	}
	return out, nil
}

func (s *Service) GetCombo(ctx context.Context, id string) (*domain.ComboDetail, error) {
	combo, err := s.repo.GetCombo(ctx, id)
	if err != nil {
		return nil, wrapNotFound(err, "combo", id)
	}
	return s.comboDetail(ctx, *combo)
}

func (s *Service) CreateCombo(ctx context.Context, req domain.ComboRequest) (*domain.ComboDetail, error) {
	now := s.now()
	combo, err := s.buildCombo(ctx, req)
	if err != nil {
		return nil, err
	}
	combo.ID = xid.New("combo")
	if combo.Barcode == "" {
		combo.Barcode = comboBarcodePrefix + xid.Short(8)
	}
	combo.CreatedAt, combo.UpdatedAt = now, now
	if err := s.repo.CreateCombo(ctx, combo); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("barcode %s already in use: %w", combo.Barcode, err)
		}
		return nil, err
	}

	s.logAction(ctx, domain.ActionCreated, "combo", combo.ID, logrus.Fields{"barcode": combo.Barcode})
	s.changed(ctx, domain.ActionCreated, combo.ID, domain.EventCombosChanged)
	return s.comboDetail(ctx, combo)
}

func (s *Service) UpdateCombo(ctx context.Context, id string, req domain.ComboRequest) (*domain.ComboDetail, error) {
	existing, err := s.repo.GetCombo(ctx, id)
	if err != nil {
		return nil, wrapNotFound(err, "combo", id)
	}
	combo, err := s.buildCombo(ctx, req)
	if err != nil {
		return nil, err
	}
	combo.ID = id
	if combo.Barcode == "" {
		combo.Barcode = existing.Barcode
	}
	if req.IsActive == nil {
		combo.IsActive = existing.IsActive
	}
	combo.CreatedAt = existing.CreatedAt
	combo.UpdatedAt = s.now()
	if err := s.repo.UpdateCombo(ctx, combo); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("barcode %s already in use: %w", combo.Barcode, err)
		}
		return nil, wrapNotFound(err, "combo", id)
	}

	s.logAction(ctx, domain.ActionUpdated, "combo", id, nil)
	s.changed(ctx, domain.ActionUpdated, id, domain.EventCombosChanged)
	return s.comboDetail(ctx, combo)
}

func (s *Service) DeleteCombo(ctx context.Context, id string) error {
	if err := s.repo.DeleteCombo(ctx, id); err != nil {
		return wrapNotFound(err, "combo", id)
	}
	s.logAction(ctx, domain.ActionDeleted, "combo", id, nil)
	s.changed(ctx, domain.ActionDeleted, id, domain.EventCombosChanged)
	return nil
}

func (s *Service) buildCombo(ctx context.Context, req domain.ComboRequest) (domain.Combo, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Combo{}, invalid("name is required")
	}
	if req.Price.IsNegative() {
		return domain.Combo{}, invalid("price must not be negative")
	}
	if len(req.Items) == 0 {
		return domain.Combo{}, invalid("combo needs at least one product")
	}

	items := make([]domain.ComboItem, 0, len(req.Items))
	index := make(map[string]int, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity < 1 {
			return domain.Combo{}, invalid("items[%d]: quantity must be positive", i)
		}
		if item.Quantity > domain.MaxQuantity {
			return domain.Combo{}, invalid("items[%d]: quantity exceeds %d", i, domain.MaxQuantity)
		}
		if at, ok := index[item.ProductID]; ok {
			items[at].Quantity += item.Quantity
			if items[at].Quantity > domain.MaxQuantity {
				return domain.Combo{}, invalid("items[%d]: quantity exceeds %d", i, domain.MaxQuantity)
			}
			continue
		}
		index[item.ProductID] = len(items)
		items = append(items, item)
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.Combo{}, err
	}
	for _, id := range ids {
		if _, ok := products[id]; !ok {
			return domain.Combo{}, notFound("product", id)
		}
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return domain.Combo{
		Name:        name,
		Barcode:     strings.TrimSpace(req.Barcode),
		Price:       req.Price,
		Items:       items,
		IsActive:    active,
		Description: strings.TrimSpace(req.Description),
	}, nil
}

// comboDetail populates members from current stock. Members whose product has
// since been removed count as zero stock.
func (s *Service) comboDetail(ctx context.Context, combo domain.Combo) (*domain.ComboDetail, error) {
	ids := make([]string, 0, len(combo.Items))
	for _, item := range combo.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	detail := &domain.ComboDetail{Combo: combo, Members: make([]domain.ComboMember, 0, len(combo.Items))}
	available := -1
	for _, item := range combo.Items {
		p, ok := products[item.ProductID]
		if !ok {
			p = domain.Product{ID: item.ProductID, Name: item.ProductID}
		}
		detail.Members = append(detail.Members, domain.ComboMember{Product: p, Quantity: item.Quantity})
		n := p.Quantity / item.Quantity
		if available < 0 || n < available {
			available = n
		}
	}
	detail.AvailableCount = max(available, 0)
	return detail, nil
}

func comboUnitCost(detail *domain.ComboDetail) decimal.Decimal {
	cost := decimal.Zero
	for _, m := range detail.Members {
		cost = cost.Add(m.Product.CostPrice.Mul(decimal.NewFromInt(int64(m.Quantity))))
	}
	return cost
}

func shortMembers(detail *domain.ComboDetail, qty int) []string {
	var short []string
	for _, m := range detail.Members {
		need := m.Quantity * qty
		if m.Product.Quantity < need {
			short = append(short, fmt.Sprintf("%s (required %d, available %d)", m.Product.Name, need, m.Product.Quantity))
		}
	}
	return short
}

func (s *Service) ListParties(ctx context.Context, kind store.PartyKind) ([]domain.Party, error) {
	return s.repo.ListParties(ctx, kind)
}

func (s *Service) GetParty(ctx context.Context, kind store.PartyKind, id string) (*domain.Party, error) {
	party, err := s.repo.GetParty(ctx, kind, id)
	if err != nil {
		return nil, wrapNotFound(err, partyResource(kind), id)
	}
	return party, nil
}

func (s *Service) CreateParty(ctx context.Context, kind store.PartyKind, req domain.PartyRequest) (*domain.Party, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalid("name is required")
	}
	now := s.now()
	party := domain.Party{
		ID:        xid.New(partyResource(kind)),
		Name:      name,
		Phone:     strings.TrimSpace(req.Phone),
		Email:     strings.TrimSpace(req.Email),
		Address:   strings.TrimSpace(req.Address),
		Notes:     strings.TrimSpace(req.Notes),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateParty(ctx, kind, party); err != nil {
		return nil, err
	}
	s.logAction(ctx, domain.ActionCreated, partyResource(kind), party.ID, nil)
	s.changed(ctx, domain.ActionCreated, party.ID, partyEvent(kind))
	return &party, nil
}

func (s *Service) UpdateParty(ctx context.Context, kind store.PartyKind, id string, req domain.PartyRequest) (*domain.Party, error) {
	party, err := s.repo.GetParty(ctx, kind, id)
	if err != nil {
		return nil, wrapNotFound(err, partyResource(kind), id)
	}
	party.Name = strings.TrimSpace(req.Name)
	if party.Name == "" {
		return nil, invalid("name is required")
	}
	party.Phone = strings.TrimSpace(req.Phone)
	party.Email = strings.TrimSpace(req.Email)
	party.Address = strings.TrimSpace(req.Address)
	party.Notes = strings.TrimSpace(req.Notes)
	party.UpdatedAt = s.now()
	if err := s.repo.UpdateParty(ctx, kind, *party); err != nil {
		return nil, wrapNotFound(err, partyResource(kind), id)
	}
	s.logAction(ctx, domain.ActionUpdated, partyResource(kind), id, nil)
	s.changed(ctx, domain.ActionUpdated, id, partyEvent(kind))
	return party, nil
}

func (s *Service) DeleteParty(ctx context.Context, kind store.PartyKind, id string) error {
	if err := s.repo.DeleteParty(ctx, kind, id); err != nil {
		return wrapNotFound(err, partyResource(kind), id)
	}
	s.logAction(ctx, domain.ActionDeleted, partyResource(kind), id, nil)
	s.changed(ctx, domain.ActionDeleted, id, partyEvent(kind))
	return nil
}

func partyResource(kind store.PartyKind) string {
	if kind == store.Vendors {
		return "vendor"
	}
	return "buyer"
}

func partyEvent(kind store.PartyKind) string {
	if kind == store.Vendors {
		return domain.EventVendorsChanged
	}
	return domain.EventBuyersChanged
}
