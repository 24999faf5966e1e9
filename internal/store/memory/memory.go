package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	shopsByID       map[string]domain.Shop
	productsByID    map[string]domain.Product
	customersByID   map[string]domain.Customer
	suppliersByID   map[string]domain.Supplier
	categoriesByID  map[string]domain.ProductCategory
	salesByID       map[string]*domain.Sale
	salesByIdem     map[string]*domain.Sale
	purchasesByID   map[string]*domain.Purchase
	sequenceCodes   map[string]struct{}
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_ATTENDANT_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers(tenantID string, shopID string) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	attendantPwd := envOr("SEED_ATTENDANT_PASSWORD", "attendant123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_ATTENDANT_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_ATTENDANT_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		id       string
		username string
		password string
		role     string
		shopID   string
	}{
		{tenantID, "admin", adminPwd, domain.RoleAdmin, ""},
		{"user-attendant-demo", "attendant", attendantPwd, domain.RoleAttendant, shopID},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			ID:        u.id,
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			TenantID:  tenantID,
			ShopID:    u.shopID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		shopsByID:       make(map[string]domain.Shop),
		productsByID:    make(map[string]domain.Product),
		customersByID:   make(map[string]domain.Customer),
		suppliersByID:   make(map[string]domain.Supplier),
		categoriesByID:  make(map[string]domain.ProductCategory),
		salesByID:       make(map[string]*domain.Sale),
		salesByIdem:     make(map[string]*domain.Sale),
		purchasesByID:   make(map[string]*domain.Purchase),
		sequenceCodes:   make(map[string]struct{}),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

func NewSeeded() *Store {
	const tenantID = "user-admin-demo"
	const shopID = "shop-demo"

	now := time.Now().UTC()
	shop := domain.Shop{
		ID:        shopID,
		TenantID:  tenantID,
		Name:      "Demo Shop",
		Address:   "12 Market Street",
		Currency:  "USD",
		CreatedAt: now,
	}

	products := []domain.Product{
		{ID: "prod-rice-5kg", ShopID: shopID, Name: "Rice 5kg", SellingPriceCents: 8900, BuyingPriceCents: 7200, Quantity: 120, ReorderLevel: 20, CreatedBy: tenantID, CreatedAt: now},
		{ID: "prod-oil-1l", ShopID: shopID, Name: "Cooking Oil 1L", SellingPriceCents: 4500, BuyingPriceCents: 3600, Quantity: 80, ReorderLevel: 15, CreatedBy: tenantID, CreatedAt: now},
		{ID: "prod-sugar-1kg", ShopID: shopID, Name: "Sugar 1kg", SellingPriceCents: 1800, BuyingPriceCents: 1400, Quantity: 200, ReorderLevel: 30, CreatedBy: tenantID, CreatedAt: now},
		{ID: "prod-soap-bar", ShopID: shopID, Name: "Soap Bar", SellingPriceCents: 900, BuyingPriceCents: 600, Quantity: 150, ReorderLevel: 25, CreatedBy: tenantID, CreatedAt: now},
		{ID: "prod-flour-2kg", ShopID: shopID, Name: "Flour 2kg", SellingPriceCents: 3200, BuyingPriceCents: 2500, Quantity: 60, ReorderLevel: 10, CreatedBy: tenantID, CreatedAt: now},
		{ID: "prod-milk-500ml", ShopID: shopID, Name: "Milk 500ml", SellingPriceCents: 1200, BuyingPriceCents: 950, Quantity: 90, ReorderLevel: 20, CreatedBy: tenantID, CreatedAt: now},
	}

	s := New()
	s.shopsByID[shop.ID] = shop
	for _, p := range products {
		s.productsByID[p.ID] = p
	}
	s.usersByUsername = seedUsers(tenantID, shopID)
	return s
}

func (s *Store) CreateShop(_ context.Context, shop domain.Shop) (*domain.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shop.Name = strings.TrimSpace(shop.Name)
	if shop.Name == "" || shop.TenantID == "" {
		return nil, store.ErrValidation
	}
	if shop.ID == "" {
		shop.ID = xid.New("shop")
	}
	if shop.Currency == "" {
		shop.Currency = "USD"
	}
	if shop.CreatedAt.IsZero() {
		shop.CreatedAt = time.Now().UTC()
	}

	s.shopsByID[shop.ID] = shop
	created := shop
	return &created, nil
}

func (s *Store) GetShop(_ context.Context, shopID string, tenantID string) (*domain.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shop, exists := s.shopsByID[shopID]
	if !exists || shop.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	copyShop := shop
	return &copyShop, nil
}

func (s *Store) ListShops(_ context.Context, tenantID string) ([]domain.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shops := make([]domain.Shop, 0, len(s.shopsByID))
	for _, shop := range s.shopsByID {
		if shop.TenantID != tenantID {
			continue
		}
		shops = append(shops, shop)
	}
	slices.SortFunc(shops, func(a, b domain.Shop) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.Name, b.Name)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return shops, nil
}

func (s *Store) UpdateShop(_ context.Context, shop domain.Shop) (*domain.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.shopsByID[shop.ID]
	if !exists || existing.TenantID != shop.TenantID {
		return nil, store.ErrNotFound
	}
	if strings.TrimSpace(shop.Name) == "" {
		return nil, store.ErrValidation
	}
	shop.CreatedAt = existing.CreatedAt
	s.shopsByID[shop.ID] = shop
	updated := shop
	return &updated, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" || product.ShopID == "" || product.SellingPriceCents < 0 || product.BuyingPriceCents < 0 {
		return nil, store.ErrValidation
	}
	if _, exists := s.shopsByID[product.ShopID]; !exists {
		return nil, store.ErrNotFound
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	s.productsByID[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, productID string, shopID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.productsByID[productID]
	if !exists || product.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) ListProducts(_ context.Context, shopID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		if p.ShopID != shopID {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.productsByID[product.ID]
	if !exists || existing.ShopID != product.ShopID {
		return nil, store.ErrNotFound
	}
	if strings.TrimSpace(product.Name) == "" || product.SellingPriceCents < 0 || product.BuyingPriceCents < 0 {
		return nil, store.ErrValidation
	}
	// Quantity never moves through updates; it only moves through postings.
	product.Quantity = existing.Quantity
	product.CreatedAt = existing.CreatedAt
	product.CreatedBy = existing.CreatedBy
	s.productsByID[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, productID string, shopID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.productsByID[productID]
	if !exists || product.ShopID != shopID {
		return store.ErrNotFound
	}
	delete(s.productsByID, productID)
	return nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer.Name = strings.TrimSpace(customer.Name)
	if customer.Name == "" || customer.TenantID == "" {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customersByID[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, customerID string, tenantID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customersByID[customerID]
	if !exists || customer.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) ListCustomers(_ context.Context, tenantID string) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		if c.TenantID != tenantID {
			continue
		}
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) DeleteCustomer(_ context.Context, customerID string, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, exists := s.customersByID[customerID]
	if !exists || customer.TenantID != tenantID {
		return store.ErrNotFound
	}
	delete(s.customersByID, customerID)
	return nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.Name == "" || supplier.TenantID == "" {
		return nil, store.ErrValidation
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	s.suppliersByID[supplier.ID] = supplier
	created := supplier
	return &created, nil
}

func (s *Store) GetSupplier(_ context.Context, supplierID string, tenantID string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, exists := s.suppliersByID[supplierID]
	if !exists || supplier.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	copySupplier := supplier
	return &copySupplier, nil
}

func (s *Store) ListSuppliers(_ context.Context, tenantID string) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliersByID))
	for _, sup := range s.suppliersByID {
		if sup.TenantID != tenantID {
			continue
		}
		suppliers = append(suppliers, sup)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		return cmpString(a.Name, b.Name)
	})
	return suppliers, nil
}

func (s *Store) DeleteSupplier(_ context.Context, supplierID string, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	supplier, exists := s.suppliersByID[supplierID]
	if !exists || supplier.TenantID != tenantID {
		return store.ErrNotFound
	}
	for _, p := range s.productsByID {
		if p.SupplierID == supplierID {
			return store.ErrValidation
		}
	}
	for _, purchase := range s.purchasesByID {
		if purchase.SupplierID == supplierID {
			return store.ErrValidation
		}
	}
	delete(s.suppliersByID, supplierID)
	return nil
}

func (s *Store) CreateCategory(_ context.Context, category domain.ProductCategory) (*domain.ProductCategory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	category.Name = strings.TrimSpace(category.Name)
	if category.Name == "" || category.TenantID == "" {
		return nil, store.ErrValidation
	}
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}
	s.categoriesByID[category.ID] = category
	created := category
	return &created, nil
}

func (s *Store) ListCategories(_ context.Context, tenantID string) ([]domain.ProductCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.ProductCategory, 0, len(s.categoriesByID))
	for _, c := range s.categoriesByID {
		if c.TenantID != tenantID {
			continue
		}
		categories = append(categories, c)
	}
	slices.SortFunc(categories, func(a, b domain.ProductCategory) int {
		return cmpString(a.Name, b.Name)
	})
	return categories, nil
}

func (s *Store) DeleteCategory(_ context.Context, categoryID string, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	category, exists := s.categoriesByID[categoryID]
	if !exists || category.TenantID != tenantID {
		return store.ErrNotFound
	}
	for _, p := range s.productsByID {
		if p.CategoryID == categoryID {
			return store.ErrValidation
		}
	}
	delete(s.categoriesByID, categoryID)
	return nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale, allowNegative bool) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.IdempotencyKey != "" {
		if existing, ok := s.salesByIdem[sale.IdempotencyKey]; ok {
			return cloneSale(existing), nil
		}
	}
	if len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}
	if _, exists := s.shopsByID[sale.ShopID]; !exists {
		return nil, store.ErrNotFound
	}

	// First pass validates every line against current stock; nothing is
	// mutated until all lines pass, so a failure leaves no partial state.
	// pendingDelta accumulates quantities across duplicate lines of the same
	// product so the combined draw cannot overdraw stock.
	total := int64(0)
	items := make([]domain.SaleItem, 0, len(sale.Items))
	pendingDelta := make(map[string]int, len(sale.Items))
	for _, item := range sale.Items {
		if item.Quantity < 1 || item.UnitPriceCents < 0 {
			return nil, store.ErrValidation
		}
		product, exists := s.productsByID[item.ProductID]
		if !exists || product.ShopID != sale.ShopID {
			return nil, store.ErrNotFound
		}
		available := product.Quantity - pendingDelta[item.ProductID]
		if !allowNegative && available-item.Quantity < 0 {
			return nil, &store.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   available,
			}
		}
		pendingDelta[item.ProductID] += item.Quantity
		items = append(items, domain.SaleItem{
			ID:             xid.New("sitem"),
			ProductID:      item.ProductID,
			ProductName:    product.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
		total += int64(item.Quantity) * item.UnitPriceCents
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.ReceiptNo == "" {
		sale.ReceiptNo = s.nextSequenceCode("REC")
	} else if _, taken := s.sequenceCodes[sale.ReceiptNo]; taken {
		return nil, store.ErrValidation
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	for i := range items {
		items[i].SaleID = sale.ID
	}
	sale.Items = items
	sale.TotalAmountCents = total
	if sale.AmountPaidCents >= total {
		sale.Status = domain.TxStatusCompleted
	} else {
		sale.Status = domain.TxStatusPending
	}
	sale.Signed = false
	sale.Fiscal = nil

	for _, item := range sale.Items {
		product := s.productsByID[item.ProductID]
		product.Quantity -= item.Quantity
		s.productsByID[item.ProductID] = product
	}

	saved := cloneSale(&sale)
	s.salesByID[sale.ID] = saved
	s.sequenceCodes[sale.ReceiptNo] = struct{}{}
	if sale.IdempotencyKey != "" {
		s.salesByIdem[sale.IdempotencyKey] = saved
	}
	return cloneSale(saved), nil
}

// nextSequenceCode generates a sequence code that is unused in this store.
// Collisions are vanishingly rare but regeneration keeps the tenant-unique
// guarantee independent of suffix entropy. Callers hold the write lock.
func (s *Store) nextSequenceCode(prefix string) string {
	for {
		code := xid.Code(prefix)
		if _, taken := s.sequenceCodes[code]; !taken {
			return code
		}
	}
}

func (s *Store) CreatePurchase(_ context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(purchase.Items) == 0 {
		return nil, store.ErrValidation
	}
	if _, exists := s.shopsByID[purchase.ShopID]; !exists {
		return nil, store.ErrNotFound
	}
	supplier, exists := s.suppliersByID[purchase.SupplierID]
	if !exists {
		return nil, store.ErrNotFound
	}

	total := int64(0)
	items := make([]domain.PurchaseItem, 0, len(purchase.Items))
	for _, item := range purchase.Items {
		if item.Quantity < 1 || item.UnitPriceCents < 0 {
			return nil, store.ErrValidation
		}
		product, exists := s.productsByID[item.ProductID]
		if !exists || product.ShopID != purchase.ShopID {
			return nil, store.ErrNotFound
		}
		items = append(items, domain.PurchaseItem{
			ID:             xid.New("pitem"),
			ProductID:      item.ProductID,
			ProductName:    product.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
		total += int64(item.Quantity) * item.UnitPriceCents
	}

	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	if purchase.PurchaseNo == "" {
		purchase.PurchaseNo = s.nextSequenceCode("PUR")
	} else if _, taken := s.sequenceCodes[purchase.PurchaseNo]; taken {
		return nil, store.ErrValidation
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}
	for i := range items {
		items[i].PurchaseID = purchase.ID
	}
	purchase.Items = items
	purchase.SupplierName = supplier.Name
	purchase.TotalAmountCents = total
	if purchase.AmountPaidCents >= total {
		purchase.Status = domain.TxStatusCompleted
	} else {
		purchase.Status = domain.TxStatusPending
	}

	for _, item := range purchase.Items {
		product := s.productsByID[item.ProductID]
		product.Quantity += item.Quantity
		s.productsByID[item.ProductID] = product
	}

	saved := clonePurchase(&purchase)
	s.purchasesByID[purchase.ID] = saved
	s.sequenceCodes[purchase.PurchaseNo] = struct{}{}
	return clonePurchase(saved), nil
}

func (s *Store) GetSale(_ context.Context, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[saleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByIdem[key]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSalesByShop(_ context.Context, shopID string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 64)
	for _, sale := range s.salesByID {
		if sale.ShopID != shopID {
			continue
		}
		sales = append(sales, *cloneSale(sale))
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return sales, nil
}

func (s *Store) ListPurchasesByShop(_ context.Context, shopID string) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchases := make([]domain.Purchase, 0, 64)
	for _, purchase := range s.purchasesByID {
		if purchase.ShopID != shopID {
			continue
		}
		purchases = append(purchases, *clonePurchase(purchase))
	}
	slices.SortFunc(purchases, func(a, b domain.Purchase) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return purchases, nil
}

func (s *Store) MarkSaleSigned(_ context.Context, saleID string, data domain.FiscalData) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[saleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if sale.Signed {
		return cloneSale(sale), nil
	}
	if data.SignedAt.IsZero() {
		data.SignedAt = time.Now().UTC()
	}
	sale.Signed = true
	fiscal := data
	sale.Fiscal = &fiscal
	return cloneSale(sale), nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, tenantID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.TenantID != tenantID {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrValidation
	}
	user.Username = username
	if user.ID == "" {
		user.ID = xid.New("user")
	}
	if user.Role == "" {
		user.Role = domain.RoleAttendant
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	items := make([]domain.SaleItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	if src.Fiscal != nil {
		fiscal := *src.Fiscal
		dup.Fiscal = &fiscal
	}
	return &dup
}

func clonePurchase(src *domain.Purchase) *domain.Purchase {
	if src == nil {
		return nil
	}
	dup := *src
	items := make([]domain.PurchaseItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return &dup
}
