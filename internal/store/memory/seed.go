package memory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"shopstock/internal/domain"
)

// NewSeeded returns a store with a small demo catalog for dev mode.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	categories := []domain.Category{
		{ID: "cat-imitation", Name: "Imitation Jewellery", Prefix: "IM001VP"},
		{ID: "cat-apparel", Name: "Apparel", Prefix: "AP001VP"},
	}
	for _, c := range categories {
		c.CreatedAt, c.UpdatedAt = now, now
		s.st.categories[c.ID] = c
	}

	seed := []struct {
		category string
		name     string
		cost     string
		price    string
		qty      int
		min      int
	}{
		{"cat-imitation", "Kundan Necklace Set", "450", "899", 10, 5},
		{"cat-imitation", "Oxidised Jhumka", "120", "299", 24, 6},
		{"cat-imitation", "Pearl Bangle Pair", "210", "449", 8, 4},
		{"cat-apparel", "Cotton Dupatta", "180", "399", 15, 5},
		{"cat-apparel", "Silk Stole", "260", "549", 3, 5},
	}
	ids := make([]string, 0, len(seed))
	for _, p := range seed {
		c := s.st.categories[p.category]
		c.Sequence++
		s.st.categories[p.category] = c

		id := fmt.Sprintf("prod-%s-%04d", c.Prefix, c.Sequence)
		s.st.products[id] = domain.Product{
			ID:           id,
			Name:         p.name,
			Barcode:      fmt.Sprintf("%s%04d", c.Prefix, c.Sequence),
			CategoryID:   c.ID,
			CostPrice:    decimal.RequireFromString(p.cost),
			SellingPrice: decimal.RequireFromString(p.price),
			Quantity:     p.qty,
			MinQuantity:  p.min,
			RTOStatus:    domain.RTOStatusNone,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		ids = append(ids, id)
	}

	s.st.combos["combo-bridal"] = domain.Combo{
		ID:        "combo-bridal",
		Name:      "Bridal Set",
		Barcode:   "CMB0001",
		Price:     decimal.RequireFromString("1099"),
		Items:     []domain.ComboItem{{ProductID: ids[0], Quantity: 1}, {ProductID: ids[1], Quantity: 2}},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.st.vendors["vendor-default"] = domain.Party{ID: "vendor-default", Name: "Default Vendor", CreatedAt: now, UpdatedAt: now}
	s.st.buyers["buyer-walkin"] = domain.Party{ID: "buyer-walkin", Name: "Walk-in Customer", CreatedAt: now, UpdatedAt: now}

	return s
}
