package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"shopstock/internal/domain"
	"shopstock/internal/store"
)

type state struct {
	categories  map[string]domain.Category
	products    map[string]domain.Product
	combos      map[string]domain.Combo
	rtoProducts map[string]domain.RTOProduct
	sales       map[string]domain.Sale
	purchases   map[string]domain.Purchase
	returns     map[string]domain.Return
	vendors     map[string]domain.Party
	buyers      map[string]domain.Party
}

func newState() *state {
	return &state{
		categories:  make(map[string]domain.Category),
		products:    make(map[string]domain.Product),
		combos:      make(map[string]domain.Combo),
		rtoProducts: make(map[string]domain.RTOProduct),
		sales:       make(map[string]domain.Sale),
		purchases:   make(map[string]domain.Purchase),
		returns:     make(map[string]domain.Return),
		vendors:     make(map[string]domain.Party),
		buyers:      make(map[string]domain.Party),
	}
}

// clone copies the maps. Values are replaced wholesale on write and cloned on
// read, so their nested slices never need copying here.
func (st *state) clone() *state {
	return &state{
		categories:  copyMap(st.categories),
		products:    copyMap(st.products),
		combos:      copyMap(st.combos),
		rtoProducts: copyMap(st.rtoProducts),
		sales:       copyMap(st.sales),
		purchases:   copyMap(st.purchases),
		returns:     copyMap(st.returns),
		vendors:     copyMap(st.vendors),
		buyers:      copyMap(st.buyers),
	}
}

func copyMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type Store struct {
	mu sync.RWMutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.st.clone()
	if err := fn(&memTx{st: staged}); err != nil {
		return err
	}
	s.st = staged
	return nil
}

func (s *Store) read() (*state, func()) {
	s.mu.RLock()
	return s.st, s.mu.RUnlock
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	st, done := s.read()
	defer done()
	return st.product(id)
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	st, done := s.read()
	defer done()
	for _, p := range st.products {
		if p.Barcode == barcode {
			found := p
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	st, done := s.read()
	defer done()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	products := make([]domain.Product, 0, len(st.products))
	for _, p := range st.products {
		if filter.CategoryID != "" && p.CategoryID != filter.CategoryID {
			continue
		}
		if filter.LowStock && !p.LowStock() {
			continue
		}
		if search != "" && !containsFold(search, p.Name, p.Barcode) {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return products, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	st, done := s.read()
	defer done()
	return st.productsByIDs(ids), nil
}

func (s *Store) GetCombo(_ context.Context, id string) (*domain.Combo, error) {
	st, done := s.read()
	defer done()
	return st.combo(id)
}

func (s *Store) GetComboByBarcode(_ context.Context, barcode string) (*domain.Combo, error) {
	st, done := s.read()
	defer done()
	for _, c := range st.combos {
		if c.Barcode == barcode {
			return cloneCombo(c), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListCombos(_ context.Context) ([]domain.Combo, error) {
	st, done := s.read()
	defer done()

	combos := make([]domain.Combo, 0, len(st.combos))
	for _, c := range st.combos {
		combos = append(combos, *cloneCombo(c))
	}
	slices.SortFunc(combos, func(a, b domain.Combo) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return combos, nil
}

func (s *Store) GetRTOProduct(_ context.Context, id string) (*domain.RTOProduct, error) {
	st, done := s.read()
	defer done()
	return st.rtoProduct(id)
}

func (s *Store) FindRTOProductByBarcode(_ context.Context, barcode string) (*domain.RTOProduct, error) {
	st, done := s.read()
	defer done()

	rows := make([]domain.RTOProduct, 0, 4)
	for _, row := range st.rtoProducts {
		if row.Barcode == barcode && row.Quantity > 0 {
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	slices.SortFunc(rows, compareRTOByDateAdded)
	found := rows[0]
	return &found, nil
}

func (s *Store) ListRTOProducts(_ context.Context, filter domain.RTOProductFilter) ([]domain.RTOProduct, error) {
	st, done := s.read()
	defer done()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	window := domain.DateRange{From: filter.StartDate, To: filter.EndDate}
	rows := make([]domain.RTOProduct, 0, len(st.rtoProducts))
	for _, row := range st.rtoProducts {
		if filter.Category != "" && row.Category != filter.Category {
			continue
		}
		if filter.Status != "" && row.Status != filter.Status {
			continue
		}
		if search != "" && !containsFold(search, row.ProductName, row.Barcode, row.ID) {
			continue
		}
		if !window.Contains(row.DateAdded) {
			continue
		}
		rows = append(rows, row)
	}
	slices.SortFunc(rows, func(a, b domain.RTOProduct) int {
		return compareRTOByDateAdded(b, a)
	})
	return rows, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	st, done := s.read()
	defer done()
	return st.sale(id)
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	st, done := s.read()
	defer done()

	sales := make([]domain.Sale, 0, len(st.sales))
	for _, sale := range st.sales {
		if filter.BuyerID != "" && sale.BuyerID != filter.BuyerID {
			continue
		}
		if !filter.Contains(sale.SaleDate) {
			continue
		}
		sales = append(sales, *cloneSale(sale))
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if c := b.SaleDate.Compare(a.SaleDate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return sales, nil
}

func (s *Store) GetPurchase(_ context.Context, id string) (*domain.Purchase, error) {
	st, done := s.read()
	defer done()
	return st.purchase(id)
}

func (s *Store) ListPurchases(_ context.Context, window domain.DateRange) ([]domain.Purchase, error) {
	st, done := s.read()
	defer done()

	purchases := make([]domain.Purchase, 0, len(st.purchases))
	for _, p := range st.purchases {
		if !window.Contains(p.PurchaseDate) {
			continue
		}
		purchases = append(purchases, *clonePurchase(p))
	}
	slices.SortFunc(purchases, func(a, b domain.Purchase) int {
		return b.PurchaseDate.Compare(a.PurchaseDate)
	})
	return purchases, nil
}

func (s *Store) GetReturn(_ context.Context, id string) (*domain.Return, error) {
	st, done := s.read()
	defer done()
	return st.ret(id)
}

func (s *Store) ListReturns(_ context.Context, window domain.DateRange) ([]domain.Return, error) {
	st, done := s.read()
	defer done()

	returns := make([]domain.Return, 0, len(st.returns))
	for _, r := range st.returns {
		if !window.Contains(r.ReturnDate) {
			continue
		}
		returns = append(returns, *cloneReturn(r))
	}
	slices.SortFunc(returns, func(a, b domain.Return) int {
		return cmp.Compare(b.ID, a.ID)
	})
	return returns, nil
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.st.categories[category.ID]; exists {
		return store.ErrConflict
	}
	for _, c := range s.st.categories {
		if strings.EqualFold(c.Prefix, category.Prefix) {
			return store.ErrConflict
		}
	}
	s.st.categories[category.ID] = category
	return nil
}

func (s *Store) GetCategory(_ context.Context, id string) (*domain.Category, error) {
	st, done := s.read()
	defer done()
	return st.category(id)
}

func (s *Store) GetCategoryByPrefix(_ context.Context, prefix string) (*domain.Category, error) {
	st, done := s.read()
	defer done()
	for _, c := range st.categories {
		if strings.EqualFold(c.Prefix, prefix) {
			found := c
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	st, done := s.read()
	defer done()

	categories := make([]domain.Category, 0, len(st.categories))
	for _, c := range st.categories {
		categories = append(categories, c)
	}
	slices.SortFunc(categories, func(a, b domain.Category) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return categories, nil
}

func (s *Store) UpdateCategory(_ context.Context, category domain.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.st.categories[category.ID]
	if !ok {
		return store.ErrNotFound
	}
	for _, c := range s.st.categories {
		if c.ID != category.ID && strings.EqualFold(c.Prefix, category.Prefix) {
			return store.ErrConflict
		}
	}
	category.Sequence = existing.Sequence
	category.CreatedAt = existing.CreatedAt
	s.st.categories[category.ID] = category
	return nil
}

func (s *Store) DeleteCategory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.categories[id]; !ok {
		return store.ErrNotFound
	}
	for _, p := range s.st.products {
		if p.CategoryID == id {
			return store.ErrInUse
		}
	}
	delete(s.st.categories, id)
	return nil
}

func (s *Store) CreateCombo(_ context.Context, combo domain.Combo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.st.combos[combo.ID]; exists {
		return store.ErrConflict
	}
	if s.st.barcodeTaken(combo.Barcode, "") {
		return store.ErrConflict
	}
	if err := s.st.checkComboMembers(combo); err != nil {
		return err
	}
	s.st.combos[combo.ID] = *cloneCombo(combo)
	return nil
}

func (s *Store) UpdateCombo(_ context.Context, combo domain.Combo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.st.combos[combo.ID]
	if !ok {
		return store.ErrNotFound
	}
	if s.st.barcodeTaken(combo.Barcode, combo.ID) {
		return store.ErrConflict
	}
	if err := s.st.checkComboMembers(combo); err != nil {
		return err
	}
	combo.CreatedAt = existing.CreatedAt
	s.st.combos[combo.ID] = *cloneCombo(combo)
	return nil
}

func (s *Store) DeleteCombo(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.combos[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.st.combos, id)
	return nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.st
	if _, ok := st.products[id]; !ok {
		return store.ErrNotFound
	}
	if st.productReferenced(id) {
		return store.ErrInUse
	}

	delete(st.products, id)
	for rowID, row := range st.rtoProducts {
		if row.ProductID == id {
			delete(st.rtoProducts, rowID)
		}
	}
	for comboID, combo := range st.combos {
		kept := make([]domain.ComboItem, 0, len(combo.Items))
		for _, item := range combo.Items {
			if item.ProductID != id {
				kept = append(kept, item)
			}
		}
		if len(kept) == len(combo.Items) {
			continue
		}
		combo.Items = kept
		if len(kept) == 0 {
			combo.IsActive = false
		}
		st.combos[comboID] = combo
	}
	return nil
}

func (s *Store) CreateParty(_ context.Context, kind store.PartyKind, party domain.Party) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parties := s.st.parties(kind)
	if _, exists := parties[party.ID]; exists {
		return store.ErrConflict
	}
	parties[party.ID] = party
	return nil
}

func (s *Store) GetParty(_ context.Context, kind store.PartyKind, id string) (*domain.Party, error) {
	st, done := s.read()
	defer done()
	return st.party(kind, id)
}

func (s *Store) ListParties(_ context.Context, kind store.PartyKind) ([]domain.Party, error) {
	st, done := s.read()
	defer done()

	parties := st.parties(kind)
	out := make([]domain.Party, 0, len(parties))
	for _, p := range parties {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Party) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (s *Store) UpdateParty(_ context.Context, kind store.PartyKind, party domain.Party) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parties := s.st.parties(kind)
	existing, ok := parties[party.ID]
	if !ok {
		return store.ErrNotFound
	}
	party.CreatedAt = existing.CreatedAt
	parties[party.ID] = party
	return nil
}

func (s *Store) DeleteParty(_ context.Context, kind store.PartyKind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parties := s.st.parties(kind)
	if _, ok := parties[id]; !ok {
		return store.ErrNotFound
	}
	switch kind {
	case store.Vendors:
		for _, p := range s.st.purchases {
			if p.VendorID == id {
				return store.ErrInUse
			}
		}
	case store.Buyers:
		for _, sale := range s.st.sales {
			if sale.BuyerID == id {
				return store.ErrInUse
			}
		}
	}
	delete(parties, id)
	return nil
}

func (st *state) product(id string) (*domain.Product, error) {
	p, ok := st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (st *state) productsByIDs(ids []string) map[string]domain.Product {
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := st.products[id]; ok {
			out[id] = p
		}
	}
	return out
}

func (st *state) combo(id string) (*domain.Combo, error) {
	c, ok := st.combos[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneCombo(c), nil
}

func (st *state) rtoProduct(id string) (*domain.RTOProduct, error) {
	row, ok := st.rtoProducts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &row, nil
}

func (st *state) sale(id string) (*domain.Sale, error) {
	sale, ok := st.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (st *state) purchase(id string) (*domain.Purchase, error) {
	p, ok := st.purchases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clonePurchase(p), nil
}

func (st *state) ret(id string) (*domain.Return, error) {
	r, ok := st.returns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneReturn(r), nil
}

func (st *state) category(id string) (*domain.Category, error) {
	c, ok := st.categories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (st *state) parties(kind store.PartyKind) map[string]domain.Party {
	if kind == store.Vendors {
		return st.vendors
	}
	return st.buyers
}

func (st *state) party(kind store.PartyKind, id string) (*domain.Party, error) {
	p, ok := st.parties(kind)[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (st *state) barcodeTaken(barcode string, exceptID string) bool {
	if barcode == "" {
		return false
	}
	for _, p := range st.products {
		if p.Barcode == barcode && p.ID != exceptID {
			return true
		}
	}
	for _, c := range st.combos {
		if c.Barcode == barcode && c.ID != exceptID {
			return true
		}
	}
	return false
}

func (st *state) checkComboMembers(combo domain.Combo) error {
	for _, item := range combo.Items {
		if _, ok := st.products[item.ProductID]; !ok {
			return store.ErrNotFound
		}
	}
	return nil
}

func (st *state) productReferenced(id string) bool {
	for _, sale := range st.sales {
		for _, line := range sale.Items {
			if line.ProductID == id {
				return true
			}
			for _, c := range line.Components {
				if c.ProductID == id {
					return true
				}
			}
		}
	}
	for _, p := range st.purchases {
		for _, line := range p.Items {
			if line.ProductID == id {
				return true
			}
		}
	}
	for _, r := range st.returns {
		for _, line := range r.Items {
			if line.ProductID == id {
				return true
			}
		}
	}
	return false
}

func compareRTOByDateAdded(a, b domain.RTOProduct) int {
	if c := a.DateAdded.Compare(b.DateAdded); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func containsFold(needle string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

func cloneCombo(c domain.Combo) *domain.Combo {
	c.Items = slices.Clone(c.Items)
	return &c
}

func cloneSale(sale domain.Sale) *domain.Sale {
	lines := make([]domain.SaleLine, len(sale.Items))
	for i, line := range sale.Items {
		line.Components = slices.Clone(line.Components)
		line.Allocations = slices.Clone(line.Allocations)
		lines[i] = line
	}
	sale.Items = lines
	return &sale
}

func clonePurchase(p domain.Purchase) *domain.Purchase {
	p.Items = slices.Clone(p.Items)
	return &p
}

func cloneReturn(r domain.Return) *domain.Return {
	r.Items = slices.Clone(r.Items)
	return &r
}
