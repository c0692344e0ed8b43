package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/candyworks/sweetshop/internal/logging"
	"github.com/candyworks/sweetshop/internal/models"
)

// InventoryService owns every mutation of Sweet.Stock. Callers never do
// read-modify-write on stock themselves; both mutations here are single
// guarded UPDATE statements so concurrent requests serialize at the
// database and stock can never go negative.
type InventoryService struct {
	DB *gorm.DB
}

type SweetFields struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Category    *string  `json:"category"`
	Price       *float64 `json:"price"`
	Stock       *uint    `json:"stock"`
	Image       *string  `json:"image"`
}

type SweetFilter struct {
	Name     string
	Category string
	MinPrice *float64
	MaxPrice *float64
}

// ReserveStock decrements stock by quantity only if enough is available.
// The check and the decrement are one conditional UPDATE; two concurrent
// reservations against the same boundary cannot both pass it. Success is
// decided by that UPDATE alone — an error return means the stock was not
// touched, so callers never have to second-guess a partial reservation.
func (s *InventoryService) ReserveStock(ctx context.Context, sweetID, quantity uint) (*models.Sweet, error) {
	if quantity == 0 {
		return nil, fmt.Errorf("%w: quantity must be > 0", ErrValidation)
	}

	var sweet models.Sweet
	if err := s.DB.WithContext(ctx).First(&sweet, sweetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: sweet %d", ErrNotFound, sweetID)
		}
		return nil, err
	}

	res := s.DB.WithContext(ctx).
		Model(&models.Sweet{}).
		Where("id = ? AND stock >= ?", sweetID, quantity).
		UpdateColumn("stock", gorm.Expr("stock - ?", quantity))
	if res.Error != nil {
		return nil, res.Error
	}

	if res.RowsAffected == 0 {
		// Nothing committed; reads on this path may still fail safely.
		if err := s.DB.WithContext(ctx).First(&sweet, sweetID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: sweet %d", ErrNotFound, sweetID)
			}
			return nil, err
		}
		return nil, fmt.Errorf("%w: %d available, %d requested", ErrOutOfStock, sweet.Stock, quantity)
	}

	// The decrement is durable from here on; no fallible operation may
	// follow it. The returned sweet is the pre-update snapshot with the
	// decrement applied — under concurrent mutation the database holds
	// the truth.
	if sweet.Stock > quantity {
		sweet.Stock -= quantity
	} else {
		sweet.Stock = 0
	}
	return &sweet, nil
}

// AddStock increments stock by a positive quantity. Concurrent restocks
// commute, a plain atomic increment is enough. As with ReserveStock, an
// error return guarantees the increment did not commit, which is what
// makes the purchase compensation retry loop safe.
func (s *InventoryService) AddStock(ctx context.Context, sweetID, quantity uint) (*models.Sweet, error) {
	if quantity == 0 {
		return nil, fmt.Errorf("%w: quantity must be > 0", ErrValidation)
	}

	var sweet models.Sweet
	if err := s.DB.WithContext(ctx).First(&sweet, sweetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: sweet %d", ErrNotFound, sweetID)
		}
		return nil, err
	}

	res := s.DB.WithContext(ctx).
		Model(&models.Sweet{}).
		Where("id = ?", sweetID).
		UpdateColumn("stock", gorm.Expr("stock + ?", quantity))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: sweet %d", ErrNotFound, sweetID)
	}

	sweet.Stock += quantity
	logging.FromContext(ctx).Info("stock_added", "sweet_id", sweetID, "quantity", quantity, "stock", sweet.Stock)
	return &sweet, nil
}

func (s *InventoryService) CreateSweet(ctx context.Context, fields SweetFields) (*models.Sweet, error) {
	sweet := models.Sweet{Image: models.PlaceholderImage}

	if fields.Name == nil || strings.TrimSpace(*fields.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if fields.Description == nil || strings.TrimSpace(*fields.Description) == "" {
		return nil, fmt.Errorf("%w: description is required", ErrValidation)
	}
	if fields.Category == nil || strings.TrimSpace(*fields.Category) == "" {
		return nil, fmt.Errorf("%w: category is required", ErrValidation)
	}
	if fields.Price == nil || *fields.Price <= 0 {
		return nil, fmt.Errorf("%w: price must be > 0", ErrValidation)
	}

	sweet.Name = *fields.Name
	sweet.Description = *fields.Description
	sweet.Category = *fields.Category
	sweet.Price = *fields.Price
	if fields.Stock != nil {
		sweet.Stock = *fields.Stock
	}
	if fields.Image != nil && *fields.Image != "" {
		sweet.Image = *fields.Image
	}

	if err := s.DB.WithContext(ctx).Create(&sweet).Error; err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("sweet_created", "sweet_id", sweet.ID, "name", sweet.Name)
	return &sweet, nil
}

func (s *InventoryService) GetSweet(ctx context.Context, sweetID uint) (*models.Sweet, error) {
	var sweet models.Sweet
	if err := s.DB.WithContext(ctx).First(&sweet, sweetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: sweet %d", ErrNotFound, sweetID)
		}
		return nil, err
	}
	return &sweet, nil
}

func (s *InventoryService) ListSweets(ctx context.Context) ([]models.Sweet, error) {
	var items []models.Sweet
	if err := s.DB.WithContext(ctx).Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateSweet applies a partial update. Stock changes are routed through
// the same column as ReserveStock/AddStock but as an absolute set, so the
// admin edit path still cannot make stock negative (the field is unsigned
// and validated at the boundary).
func (s *InventoryService) UpdateSweet(ctx context.Context, sweetID uint, fields SweetFields) (*models.Sweet, error) {
	var sweet models.Sweet
	if err := s.DB.WithContext(ctx).First(&sweet, sweetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: sweet %d", ErrNotFound, sweetID)
		}
		return nil, err
	}

	updates := map[string]interface{}{}
	if fields.Name != nil {
		if strings.TrimSpace(*fields.Name) == "" {
			return nil, fmt.Errorf("%w: name cannot be blank", ErrValidation)
		}
		updates["name"] = *fields.Name
	}
	if fields.Description != nil {
		if strings.TrimSpace(*fields.Description) == "" {
			return nil, fmt.Errorf("%w: description cannot be blank", ErrValidation)
		}
		updates["description"] = *fields.Description
	}
	if fields.Category != nil {
		if strings.TrimSpace(*fields.Category) == "" {
			return nil, fmt.Errorf("%w: category cannot be blank", ErrValidation)
		}
		updates["category"] = *fields.Category
	}
	if fields.Price != nil {
		if *fields.Price <= 0 {
			return nil, fmt.Errorf("%w: price must be > 0", ErrValidation)
		}
		updates["price"] = *fields.Price
	}
	if fields.Stock != nil {
		updates["stock"] = *fields.Stock
	}
	if fields.Image != nil && *fields.Image != "" {
		updates["image"] = *fields.Image
	}

	if len(updates) > 0 {
		if err := s.DB.WithContext(ctx).Model(&sweet).Updates(updates).Error; err != nil {
			return nil, err
		}
	}

	if err := s.DB.WithContext(ctx).First(&sweet, sweetID).Error; err != nil {
		return nil, err
	}
	return &sweet, nil
}

// DeleteSweet hard-deletes the sweet. Purchase rows referencing it are
// kept, history is permanent.
func (s *InventoryService) DeleteSweet(ctx context.Context, sweetID uint) error {
	res := s.DB.WithContext(ctx).Delete(&models.Sweet{}, sweetID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: sweet %d", ErrNotFound, sweetID)
	}

	logging.FromContext(ctx).Info("sweet_deleted", "sweet_id", sweetID)
	return nil
}

// Search filters the catalog: case-insensitive substring on name, exact
// match on category, inclusive price range. Filters compose with AND.
func (s *InventoryService) Search(ctx context.Context, filter SweetFilter) ([]models.Sweet, error) {
	q := s.DB.WithContext(ctx).Model(&models.Sweet{})

	if filter.Name != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(filter.Name)+"%")
	}
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if filter.MinPrice != nil {
		q = q.Where("price >= ?", *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		q = q.Where("price <= ?", *filter.MaxPrice)
	}

	var items []models.Sweet
	if err := q.Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
