package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/candyworks/sweetshop/internal/middleware"
	"github.com/candyworks/sweetshop/internal/mykafka"
	"github.com/candyworks/sweetshop/internal/service"
	"github.com/candyworks/sweetshop/internal/service/search"
	"github.com/candyworks/sweetshop/internal/storage"
)

type SweetHandler struct {
	Inventory *service.InventoryService
	Purchases *service.PurchaseService
	Search    *search.Service
	Images    storage.Store
	Producer  *mykafka.Producer
}

type createSweetRequest struct {
	Name        *string  `json:"name" form:"name"`
	Description *string  `json:"description" form:"description"`
	Category    *string  `json:"category" form:"category"`
	Price       *float64 `json:"price" form:"price"`
	Stock       *uint    `json:"stock" form:"stock"`
}

type addStockRequest struct {
	Quantity uint `json:"quantity" form:"quantity"`
}

type purchaseRequest struct {
	Quantity          uint     `json:"quantity" form:"quantity"`
	Comment           string   `json:"comment" form:"comment"`
	UnitPriceOverride *float64 `json:"unitPriceOverride" form:"unitPriceOverride"`
}

func (h *SweetHandler) publish(c echo.Context, topic string, event map[string]interface{}) {
	if h.Producer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, topic, fmt.Sprint(event["sweetID"]), event); err != nil {
		c.Logger().Errorf("Kafka publish error: %v", err)
	}
}

func sweetID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid sweet id", service.ErrValidation)
	}
	return uint(id), nil
}

// uploadImage stores the optional multipart image, returning nil when the
// request carries none.
func (h *SweetHandler) uploadImage(c echo.Context) (*string, error) {
	if h.Images == nil {
		return nil, nil
	}
	fh, err := c.FormFile("image")
	if err != nil {
		return nil, nil
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	url, err := h.Images.Save(c.Request().Context(), fh.Filename, f)
	if err != nil {
		return nil, err
	}
	return &url, nil
}

func (h *SweetHandler) List(c echo.Context) error {
	sweets, err := h.Inventory.ListSweets(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, sweets, "Sweets retrieved successfully")
}

func (h *SweetHandler) Get(c echo.Context) error {
	id, err := sweetID(c)
	if err != nil {
		return fail(c, err)
	}
	sweet, err := h.Inventory.GetSweet(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, sweet, "Sweet retrieved successfully")
}

// SearchSweets serves the structured filter from the database and, when a
// free-text q parameter is present and a search backend is wired, the
// fuzzy elasticsearch query instead. Without a backend, q degrades to a
// name substring filter so the endpoint keeps answering.
func (h *SweetHandler) SearchSweets(c echo.Context) error {
	ctx := c.Request().Context()

	q := c.QueryParam("q")
	if q != "" && h.Search.Enabled() {
		size, _ := strconv.Atoi(c.QueryParam("size"))
		total, sweets, err := h.Search.Search(ctx, q, size)
		if err != nil {
			return fail(c, err)
		}
		return respond(c, http.StatusOK, map[string]interface{}{
			"total":  total,
			"sweets": sweets,
		}, "Search results retrieved successfully")
	}

	filter := service.SweetFilter{
		Name:     c.QueryParam("name"),
		Category: c.QueryParam("category"),
	}
	if q != "" {
		filter.Name = q
	}
	if v := c.QueryParam("minPrice"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fail(c, fmt.Errorf("%w: invalid minPrice", service.ErrValidation))
		}
		filter.MinPrice = &p
	}
	if v := c.QueryParam("maxPrice"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fail(c, fmt.Errorf("%w: invalid maxPrice", service.ErrValidation))
		}
		filter.MaxPrice = &p
	}

	sweets, err := h.Inventory.Search(ctx, filter)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, sweets, "Search results retrieved successfully")
}

func (h *SweetHandler) Create(c echo.Context) error {
	var req createSweetRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, http.StatusBadRequest, nil, "invalid request body")
	}

	image, err := h.uploadImage(c)
	if err != nil {
		return fail(c, err)
	}

	sweet, err := h.Inventory.CreateSweet(c.Request().Context(), service.SweetFields{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price,
		Stock:       req.Stock,
		Image:       image,
	})
	if err != nil {
		return fail(c, err)
	}

	h.Search.IndexSweet(c.Request().Context(), sweet)
	h.publish(c, mykafka.TopicSweetEvents, map[string]interface{}{
		"type":    "sweet_created",
		"sweetID": sweet.ID,
		"name":    sweet.Name,
	})

	return respond(c, http.StatusCreated, sweet, "Sweet Created Successfully")
}

func (h *SweetHandler) Update(c echo.Context) error {
	id, err := sweetID(c)
	if err != nil {
		return fail(c, err)
	}

	var req createSweetRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, http.StatusBadRequest, nil, "invalid request body")
	}

	image, err := h.uploadImage(c)
	if err != nil {
		return fail(c, err)
	}

	sweet, err := h.Inventory.UpdateSweet(c.Request().Context(), id, service.SweetFields{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price,
		Stock:       req.Stock,
		Image:       image,
	})
	if err != nil {
		return fail(c, err)
	}

	h.Search.IndexSweet(c.Request().Context(), sweet)
	h.publish(c, mykafka.TopicSweetEvents, map[string]interface{}{
		"type":    "sweet_updated",
		"sweetID": sweet.ID,
		"name":    sweet.Name,
	})

	return respond(c, http.StatusOK, sweet, "Sweet Updated Successfully")
}

func (h *SweetHandler) Delete(c echo.Context) error {
	id, err := sweetID(c)
	if err != nil {
		return fail(c, err)
	}

	if err := h.Inventory.DeleteSweet(c.Request().Context(), id); err != nil {
		return fail(c, err)
	}

	h.Search.DeleteSweet(c.Request().Context(), id)
	h.publish(c, mykafka.TopicSweetEvents, map[string]interface{}{
		"type":    "sweet_deleted",
		"sweetID": id,
	})

	return respond(c, http.StatusOK, nil, "Sweet Deleted Successfully")
}

func (h *SweetHandler) AddStock(c echo.Context) error {
	id, err := sweetID(c)
	if err != nil {
		return fail(c, err)
	}

	var req addStockRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, http.StatusBadRequest, nil, "invalid request body")
	}

	sweet, err := h.Inventory.AddStock(c.Request().Context(), id, req.Quantity)
	if err != nil {
		return fail(c, err)
	}

	h.Search.IndexSweet(c.Request().Context(), sweet)
	h.publish(c, mykafka.TopicSweetEvents, map[string]interface{}{
		"type":     "sweet_restocked",
		"sweetID":  sweet.ID,
		"quantity": req.Quantity,
		"stock":    sweet.Stock,
	})

	return respond(c, http.StatusOK, sweet, "Stock added successfully")
}

func (h *SweetHandler) Purchase(c echo.Context) error {
	id, err := sweetID(c)
	if err != nil {
		return fail(c, err)
	}

	var req purchaseRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, http.StatusBadRequest, nil, "invalid request body")
	}

	buyer := middleware.CurrentUser(c)

	// Price overrides are an admin knob only.
	override := req.UnitPriceOverride
	if !buyer.IsAdmin {
		override = nil
	}

	receipt, err := h.Purchases.Purchase(c.Request().Context(), buyer.ID, id, req.Quantity, req.Comment, override)
	if err != nil {
		return fail(c, err)
	}

	if sweet, gerr := h.Inventory.GetSweet(c.Request().Context(), id); gerr == nil {
		h.Search.IndexSweet(c.Request().Context(), sweet)
	}
	h.publish(c, mykafka.TopicPurchaseEvents, map[string]interface{}{
		"type":       "purchase_completed",
		"sweetID":    id,
		"buyerID":    buyer.ID,
		"purchaseID": receipt.ID,
		"quantity":   receipt.Quantity,
		"total":      receipt.Total,
	})

	return respond(c, http.StatusCreated, receipt, "Purchase completed successfully")
}
