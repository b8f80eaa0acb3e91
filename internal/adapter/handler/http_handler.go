package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"github.com/rl1809/mall-checkout/internal/core/domain"
	"github.com/rl1809/mall-checkout/internal/core/service"
	"github.com/rl1809/mall-checkout/internal/port"
)

const idempotencyHeader = "Idempotency-Key"

type HTTPHandler struct {
	checkout *service.CheckoutService
	cart     *service.CartService
	orders   *service.OrderService
	catalog  *service.CatalogService
	sessions port.SessionResolver
	log      *zap.Logger
}

type AddToCartRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type CreateOrderRequest struct {
	ShippingAddress string               `json:"shippingAddress"`
	Items           []domain.Reservation `json:"items"`
}

type CartCheckoutRequest struct {
	ShippingAddress string `json:"shippingAddress"`
}

type UpdateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

type ProductRequest struct {
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	ImageURL string          `json:"imageUrl"`
}

type AdjustStockRequest struct {
	Delta int `json:"delta"`
}

type StockResponse struct {
	ProductID int64 `json:"productId"`
	Stock     int   `json:"stock"`
}

func NewHTTPHandler(
	checkout *service.CheckoutService,
	cart *service.CartService,
	orders *service.OrderService,
	catalog *service.CatalogService,
	sessions port.SessionResolver,
	log *zap.Logger,
) *HTTPHandler {
	return &HTTPHandler{checkout: checkout, cart: cart, orders: orders, catalog: catalog, sessions: sessions, log: log}
}

// Router builds the full HTTP surface. Access guards wrap individual routes
// so that public and admin handlers can share a path under different methods.
func (h *HTTPHandler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(traceMiddleware(h.log))

	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	auth := authMiddleware(h.sessions)
	user := func(f http.HandlerFunc) http.Handler { return auth(f) }
	admin := func(f http.HandlerFunc) http.Handler { return auth(requireAdmin(f)) }

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/products", h.ListProducts).Methods(http.MethodGet)
	api.Handle("/products", admin(h.CreateProduct)).Methods(http.MethodPost)
	api.HandleFunc("/products/categories", h.Categories).Methods(http.MethodGet)
	api.HandleFunc("/products/{id:[0-9]+}", h.GetProduct).Methods(http.MethodGet)
	api.Handle("/products/{id:[0-9]+}", admin(h.UpdateProduct)).Methods(http.MethodPut)
	api.Handle("/products/{id:[0-9]+}/stock", admin(h.AdjustStock)).Methods(http.MethodPatch)

	api.Handle("/cart", user(h.GetCart)).Methods(http.MethodGet)
	api.Handle("/cart/summary", user(h.CartSummary)).Methods(http.MethodGet)
	api.Handle("/cart/add", user(h.AddToCart)).Methods(http.MethodPost)
	api.Handle("/cart/items/{lineId:[0-9]+}", user(h.UpdateCartItem)).Methods(http.MethodPut)
	api.Handle("/cart/items/{lineId:[0-9]+}", user(h.RemoveCartItem)).Methods(http.MethodDelete)
	api.Handle("/cart/clear", user(h.ClearCart)).Methods(http.MethodDelete)

	api.Handle("/orders", user(h.CreateOrder)).Methods(http.MethodPost)
	api.Handle("/orders/from-cart", user(h.CreateOrderFromCart)).Methods(http.MethodPost)
	api.Handle("/orders/my", user(h.MyOrders)).Methods(http.MethodGet)
	api.Handle("/orders/admin/all", admin(h.AllOrders)).Methods(http.MethodGet)
	api.Handle("/orders/admin/{id}/status", admin(h.UpdateOrderStatus)).Methods(http.MethodPut)
	api.Handle("/orders/{id}", user(h.GetOrder)).Methods(http.MethodGet)
	api.Handle("/orders/{id}/cancel", user(h.CancelOrder)).Methods(http.MethodPut)

	return r
}

// HealthCheck reports liveness.
// @Summary Health check
// @Produce json
// @Success 200 {object} Envelope
// @Router /health [get]
func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, "", map[string]string{"status": "ok"})
}

// GetCart lists the caller's cart with live product data.
// @Summary Get cart
// @Produce json
// @Success 200 {object} Envelope{data=[]domain.CartItem}
// @Security BearerAuth
// @Router /api/cart [get]
func (h *HTTPHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	items, err := h.cart.List(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", items)
}

// CartSummary totals the caller's cart.
// @Summary Cart summary
// @Produce json
// @Success 200 {object} Envelope{data=domain.CartSummary}
// @Security BearerAuth
// @Router /api/cart/summary [get]
func (h *HTTPHandler) CartSummary(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	sum, err := h.cart.Summary(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", sum)
}

// AddToCart adds a product to the caller's cart, merging with an existing line.
// @Summary Add to cart
// @Accept json
// @Produce json
// @Param item body AddToCartRequest true "Item"
// @Success 200 {object} Envelope{data=domain.CartLine}
// @Failure 400 {object} Envelope
// @Failure 404 {object} Envelope
// @Security BearerAuth
// @Router /api/cart/add [post]
func (h *HTTPHandler) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req AddToCartRequest
	if !decode(w, r, &req) {
		return
	}
	p, _ := PrincipalFrom(r.Context())
	line, err := h.cart.AddItem(r.Context(), p.UserID, req.ProductID, req.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "item added to cart", line)
}

// UpdateCartItem sets a line's quantity; zero or less removes it.
// @Summary Update cart item
// @Accept json
// @Produce json
// @Param lineId path int true "Cart line ID"
// @Param item body UpdateCartItemRequest true "Quantity"
// @Success 200 {object} Envelope{data=domain.CartLine}
// @Failure 404 {object} Envelope
// @Security BearerAuth
// @Router /api/cart/items/{lineId} [put]
func (h *HTTPHandler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	lineID, ok := pathID(w, r, "lineId")
	if !ok {
		return
	}
	var req UpdateCartItemRequest
	if !decode(w, r, &req) {
		return
	}
	p, _ := PrincipalFrom(r.Context())
	line, removed, err := h.cart.SetQuantity(r.Context(), p.UserID, lineID, req.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if removed {
		writeData(w, http.StatusOK, "item removed from cart", line)
		return
	}
	writeData(w, http.StatusOK, "cart item updated", line)
}

// RemoveCartItem deletes a line. Missing lines are not an error.
// @Summary Remove cart item
// @Produce json
// @Param lineId path int true "Cart line ID"
// @Success 200 {object} Envelope
// @Security BearerAuth
// @Router /api/cart/items/{lineId} [delete]
func (h *HTTPHandler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	lineID, ok := pathID(w, r, "lineId")
	if !ok {
		return
	}
	p, _ := PrincipalFrom(r.Context())
	if err := h.cart.RemoveItem(r.Context(), p.UserID, lineID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "item removed from cart", nil)
}

// ClearCart empties the caller's cart.
// @Summary Clear cart
// @Produce json
// @Success 200 {object} Envelope
// @Security BearerAuth
// @Router /api/cart/clear [delete]
func (h *HTTPHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	if err := h.cart.Clear(r.Context(), p.UserID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "cart cleared", nil)
}

// CreateOrder checks out the given items.
// @Summary Create order
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Client retry token"
// @Param order body CreateOrderRequest true "Order"
// @Success 201 {object} Envelope{data=domain.Order}
// @Failure 400 {object} Envelope
// @Failure 404 {object} Envelope
// @Failure 409 {object} Envelope
// @Security BearerAuth
// @Router /api/orders [post]
func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !decode(w, r, &req) {
		return
	}
	p, _ := PrincipalFrom(r.Context())
	order, err := h.checkout.Checkout(r.Context(), p.UserID, req.ShippingAddress, req.Items, r.Header.Get(idempotencyHeader))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, "order placed successfully", order)
}

// CreateOrderFromCart checks out the caller's whole cart.
// @Summary Create order from cart
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Client retry token"
// @Param order body CartCheckoutRequest true "Shipping address"
// @Success 201 {object} Envelope{data=domain.Order}
// @Failure 400 {object} Envelope
// @Failure 409 {object} Envelope
// @Security BearerAuth
// @Router /api/orders/from-cart [post]
func (h *HTTPHandler) CreateOrderFromCart(w http.ResponseWriter, r *http.Request) {
	var req CartCheckoutRequest
	if !decode(w, r, &req) {
		return
	}
	p, _ := PrincipalFrom(r.Context())
	order, err := h.checkout.CheckoutCart(r.Context(), p.UserID, req.ShippingAddress, r.Header.Get(idempotencyHeader))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, "order placed successfully", order)
}

// MyOrders pages through the caller's orders, newest first.
// @Summary My orders
// @Produce json
// @Param page query int false "Zero-based page"
// @Param size query int false "Page size"
// @Success 200 {object} Envelope
// @Security BearerAuth
// @Router /api/orders/my [get]
func (h *HTTPHandler) MyOrders(w http.ResponseWriter, r *http.Request) {
	page, ok := pageRequest(w, r)
	if !ok {
		return
	}
	p, _ := PrincipalFrom(r.Context())
	orders, err := h.orders.ListMine(r.Context(), p.UserID, page)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", orders)
}

// GetOrder returns one of the caller's orders.
// @Summary Get order
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} Envelope{data=domain.Order}
// @Failure 403 {object} Envelope
// @Failure 404 {object} Envelope
// @Security BearerAuth
// @Router /api/orders/{id} [get]
func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	order, err := h.orders.Get(r.Context(), p, mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", order)
}

// CancelOrder cancels one of the caller's orders and restores its stock.
// @Summary Cancel order
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} Envelope{data=domain.Order}
// @Failure 403 {object} Envelope
// @Failure 404 {object} Envelope
// @Failure 409 {object} Envelope
// @Security BearerAuth
// @Router /api/orders/{id}/cancel [put]
func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	order, err := h.orders.Cancel(r.Context(), p.UserID, mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "order cancelled", order)
}

// AllOrders pages through every order.
// @Summary All orders (admin)
// @Produce json
// @Param status query string false "Status filter"
// @Param page query int false "Zero-based page"
// @Param size query int false "Page size"
// @Success 200 {object} Envelope
// @Failure 403 {object} Envelope
// @Security BearerAuth
// @Router /api/orders/admin/all [get]
func (h *HTTPHandler) AllOrders(w http.ResponseWriter, r *http.Request) {
	page, ok := pageRequest(w, r)
	if !ok {
		return
	}
	status := domain.OrderStatus(strings.ToUpper(r.URL.Query().Get("status")))
	orders, err := h.orders.ListAll(r.Context(), status, page)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", orders)
}

// UpdateOrderStatus moves an order along its lifecycle.
// @Summary Update order status (admin)
// @Accept json
// @Produce json
// @Param id path string true "Order ID"
// @Param status body UpdateStatusRequest true "Target status"
// @Success 200 {object} Envelope{data=domain.Order}
// @Failure 409 {object} Envelope
// @Security BearerAuth
// @Router /api/orders/admin/{id}/status [put]
func (h *HTTPHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if !decode(w, r, &req) {
		return
	}
	order, err := h.orders.Advance(r.Context(), mux.Vars(r)["id"], domain.OrderStatus(strings.ToUpper(string(req.Status))))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "order status updated", order)
}

// ListProducts browses the catalog.
// @Summary List products
// @Produce json
// @Param category query string false "Category"
// @Param keyword query string false "Name contains"
// @Param inStock query bool false "Only products in stock"
// @Param page query int false "Zero-based page"
// @Param size query int false "Page size"
// @Success 200 {object} Envelope
// @Router /api/products [get]
func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	page, ok := pageRequest(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := domain.ProductFilter{Category: q.Get("category"), Keyword: q.Get("keyword")}
	if v := q.Get("inStock"); v != "" {
		inStock, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, domain.InvalidRequest("inStock must be a boolean"))
			return
		}
		filter.InStock = inStock
	}

	products, err := h.catalog.ListProducts(r.Context(), filter, page)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", products)
}

// Categories lists product categories.
// @Summary Product categories
// @Produce json
// @Success 200 {object} Envelope{data=[]string}
// @Router /api/products/categories [get]
func (h *HTTPHandler) Categories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.catalog.Categories(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if cats == nil {
		cats = []string{}
	}
	writeData(w, http.StatusOK, "", cats)
}

// GetProduct returns a product with its current stock.
// @Summary Get product
// @Produce json
// @Param id path int true "Product ID"
// @Success 200 {object} Envelope{data=domain.Product}
// @Failure 404 {object} Envelope
// @Router /api/products/{id} [get]
func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.catalog.GetProduct(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", p)
}

// CreateProduct adds a product to the catalog.
// @Summary Create product (admin)
// @Accept json
// @Produce json
// @Param product body ProductRequest true "Product"
// @Success 201 {object} Envelope{data=domain.Product}
// @Failure 400 {object} Envelope
// @Security BearerAuth
// @Router /api/products [post]
func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.catalog.CreateProduct(r.Context(), req.product(0))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, "product created", p)
}

// UpdateProduct changes a product's details. Stock is changed through the
// stock endpoint.
// @Summary Update product (admin)
// @Accept json
// @Produce json
// @Param id path int true "Product ID"
// @Param product body ProductRequest true "Product"
// @Success 200 {object} Envelope{data=domain.Product}
// @Failure 404 {object} Envelope
// @Security BearerAuth
// @Router /api/products/{id} [put]
func (h *HTTPHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req ProductRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.catalog.UpdateProduct(r.Context(), req.product(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "product updated", p)
}

// AdjustStock applies an inventory correction.
// @Summary Adjust stock (admin)
// @Accept json
// @Produce json
// @Param id path int true "Product ID"
// @Param delta body AdjustStockRequest true "Stock delta"
// @Success 200 {object} Envelope{data=StockResponse}
// @Failure 409 {object} Envelope
// @Security BearerAuth
// @Router /api/products/{id}/stock [patch]
func (h *HTTPHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req AdjustStockRequest
	if !decode(w, r, &req) {
		return
	}
	stock, err := h.catalog.AdjustStock(r.Context(), id, req.Delta)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "stock updated", StockResponse{ProductID: id, Stock: stock})
}

func (r ProductRequest) product(id int64) domain.Product {
	return domain.Product{
		ID:       id,
		Name:     strings.TrimSpace(r.Name),
		Category: strings.TrimSpace(r.Category),
		Price:    r.Price,
		Stock:    r.Stock,
		ImageURL: r.ImageURL,
	}
}

// fail writes err and logs it when it is not a domain error.
func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if _, ok := domain.AsError(err); !ok {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeError(w, err)
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, domain.InvalidRequest("invalid request body"))
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		writeError(w, domain.InvalidRequest("invalid %s", name))
		return 0, false
	}
	return id, true
}

func pageRequest(w http.ResponseWriter, r *http.Request) (domain.PageRequest, bool) {
	var page domain.PageRequest
	q := r.URL.Query()
	for name, dst := range map[string]*int{"page": &page.Page, "size": &page.Size} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, domain.InvalidRequest("%s must be an integer", name))
			return domain.PageRequest{}, false
		}
		*dst = n
	}
	return page.Normalize(), true
}
