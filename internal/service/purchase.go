package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/candyworks/sweetshop/internal/logging"
	"github.com/candyworks/sweetshop/internal/models"
)

// PurchaseService composes order creation with stock reservation. The
// reservation happens first; if the ledger insert then fails, the
// reservation is compensated by restoring the stock, so a failed purchase
// leaves no trace either way.
type PurchaseService struct {
	DB        *gorm.DB
	Inventory *InventoryService
}

// Receipt is what the buyer gets back: the ledger row plus the sweet's
// name and line total resolved at purchase time.
type Receipt struct {
	models.Purchase
	SweetName string  `json:"sweet_name"`
	Total     float64 `json:"total"`
}

// SweetSnapshot is how history entries render their sweet, including the
// placeholder used when the sweet was deleted after the purchase.
type SweetSnapshot struct {
	ID       uint    `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Price    float64 `json:"price"`
	Image    string  `json:"image"`
	Stock    uint    `json:"stock"`
}

type HistoryEntry struct {
	models.Purchase
	Sweet SweetSnapshot `json:"sweet"`
	Total float64       `json:"total"`
}

type History struct {
	Purchases      []HistoryEntry `json:"purchases"`
	TotalPurchases int            `json:"totalPurchases"`
	TotalSpent     float64        `json:"totalSpent"`
}

func (s *PurchaseService) Purchase(ctx context.Context, buyerID, sweetID, quantity uint, comment string, unitPriceOverride *float64) (*Receipt, error) {
	l := logging.FromContext(ctx).With("svc", "purchase", "buyer_id", buyerID, "sweet_id", sweetID)

	if quantity == 0 {
		return nil, fmt.Errorf("%w: quantity must be > 0", ErrValidation)
	}

	sweet, err := s.Inventory.GetSweet(ctx, sweetID)
	if err != nil {
		return nil, err
	}

	// Unit price is pinned now; later catalog price changes never touch
	// this purchase.
	unitPrice := sweet.Price
	if unitPriceOverride != nil && *unitPriceOverride > 0 {
		unitPrice = *unitPriceOverride
	}

	if _, err := s.Inventory.ReserveStock(ctx, sweetID, quantity); err != nil {
		return nil, err
	}

	purchase := models.Purchase{
		SweetID:  sweetID,
		BuyerID:  buyerID,
		Price:    unitPrice,
		Quantity: quantity,
		Comment:  comment,
	}

	if err := s.DB.WithContext(ctx).Create(&purchase).Error; err != nil {
		s.compensate(l, sweetID, quantity)
		return nil, fmt.Errorf("create purchase: %w", err)
	}

	l.Info("purchase_completed", "purchase_id", purchase.ID, "quantity", quantity, "unit_price", unitPrice)

	return &Receipt{
		Purchase:  purchase,
		SweetName: sweet.Name,
		Total:     unitPrice * float64(quantity),
	}, nil
}

// compensate restores reserved stock after a failed ledger insert. It runs
// on its own context so a client disconnect cannot abandon the restock.
func (s *PurchaseService) compensate(l *slog.Logger, sweetID, quantity uint) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for attempt := 1; attempt <= 3; attempt++ {
		if _, err := s.Inventory.AddStock(ctx, sweetID, quantity); err == nil {
			return
		} else if attempt == 3 {
			l.Error("compensation_failed", "sweet_id", sweetID, "quantity", quantity, "error", err)
		}
	}
}

func (s *PurchaseService) PurchaseHistory(ctx context.Context, buyerID uint) (*History, error) {
	var purchases []models.Purchase
	if err := s.DB.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Order("created_at DESC").
		Find(&purchases).Error; err != nil {
		return nil, err
	}

	sweetIDs := make([]uint, 0, len(purchases))
	for _, p := range purchases {
		sweetIDs = append(sweetIDs, p.SweetID)
	}

	sweets := map[uint]models.Sweet{}
	if len(sweetIDs) > 0 {
		var rows []models.Sweet
		if err := s.DB.WithContext(ctx).Where("id IN ?", sweetIDs).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, sw := range rows {
			sweets[sw.ID] = sw
		}
	}

	history := &History{Purchases: make([]HistoryEntry, 0, len(purchases))}
	for _, p := range purchases {
		entry := HistoryEntry{Purchase: p, Total: p.Price * float64(p.Quantity)}
		if sw, ok := sweets[p.SweetID]; ok {
			entry.Sweet = SweetSnapshot{
				ID:       sw.ID,
				Name:     sw.Name,
				Category: sw.Category,
				Price:    sw.Price,
				Image:    sw.Image,
				Stock:    sw.Stock,
			}
		} else {
			// Sweet was deleted after the purchase; the ledger row stays
			// and renders with a placeholder snapshot.
			entry.Sweet = SweetSnapshot{
				Name:     "Product Unavailable",
				Category: "Unknown",
				Price:    p.Price,
				Image:    models.PlaceholderImage,
			}
		}
		history.Purchases = append(history.Purchases, entry)
		history.TotalSpent += entry.Total
	}
	history.TotalPurchases = len(history.Purchases)

	return history, nil
}
