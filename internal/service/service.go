package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"shopledger/backend/internal/cache"
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/fiscal"
	"shopledger/backend/internal/secrets"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.ActingUser) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.ActingUser, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.ActingUser)
	return actor, ok
}

type Service struct {
	repo          store.Repository
	cache         cache.LedgerCache
	codec         *secrets.Decryptor
	signer        *fiscal.Signer
	fiscalTimeout time.Duration
	listTTL       time.Duration
}

func New(repo store.Repository, ledgerCache cache.LedgerCache, codec *secrets.Decryptor, signer *fiscal.Signer, fiscalTimeout time.Duration, listTTL time.Duration) *Service {
	if ledgerCache == nil {
		ledgerCache = cache.NoopLedgerCache{}
	}
	if fiscalTimeout <= 0 {
		fiscalTimeout = 20 * time.Second
	}
	if listTTL <= 0 {
		listTTL = 30 * time.Second
	}

	return &Service{
		repo:          repo,
		cache:         ledgerCache,
		codec:         codec,
		signer:        signer,
		fiscalTimeout: fiscalTimeout,
		listTTL:       listTTL,
	}
}

// resolveShop maps the caller onto a shop they are allowed to act in.
// Attendants act only in their assigned shop; naming any other shop fails
// with the same not-found error a foreign shop would produce. Admins must
// name a shop, and only see shops their tenant owns.
func (s *Service) resolveShop(ctx context.Context, requestedShopID string) (*domain.Shop, domain.ActingUser, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, domain.ActingUser{}, fmt.Errorf("authentication required")
	}

	shopID := strings.TrimSpace(requestedShopID)
	if actor.Role == domain.RoleAttendant {
		if shopID != "" && shopID != actor.ShopID {
			return nil, actor, store.ErrNotFound
		}
		shopID = actor.ShopID
	}
	if shopID == "" {
		return nil, actor, fmt.Errorf("%w: shop_id is required", store.ErrValidation)
	}

	shop, err := s.repo.GetShop(ctx, shopID, actor.TenantID)
	if err != nil {
		return nil, actor, err
	}
	return shop, actor, nil
}

func (s *Service) requireAdmin(ctx context.Context) (domain.ActingUser, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.ActingUser{}, fmt.Errorf("admin role required")
	}
	return actor, nil
}

func (s *Service) CreateShop(ctx context.Context, req domain.ShopCreateRequest) (domain.Shop, error) {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return domain.Shop{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Name == "" {
		return domain.Shop{}, fmt.Errorf("%w: name is required", store.ErrValidation)
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	shop := domain.Shop{
		ID:                   xid.New("shop"),
		TenantID:             actor.TenantID,
		Name:                 req.Name,
		Address:              strings.TrimSpace(req.Address),
		Contact:              strings.TrimSpace(req.Contact),
		Currency:             req.Currency,
		TIN:                  strings.TrimSpace(req.TIN),
		AllowNegativeSelling: req.AllowNegativeSelling,
		CreatedAt:            time.Now().UTC(),
	}

	saved, err := s.repo.CreateShop(ctx, shop)
	if err != nil {
		return domain.Shop{}, err
	}

	s.logAudit(ctx, saved.ID, "shop_create", "shop", saved.ID, fmt.Sprintf("name=%s,currency=%s", saved.Name, saved.Currency))
	return *saved, nil
}

func (s *Service) GetShop(ctx context.Context, shopID string) (domain.Shop, error) {
	shop, _, err := s.resolveShop(ctx, shopID)
	if err != nil {
		return domain.Shop{}, err
	}
	return *shop, nil
}

func (s *Service) ListShops(ctx context.Context) ([]domain.Shop, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authentication required")
	}
	if actor.Role == domain.RoleAttendant {
		shop, err := s.repo.GetShop(ctx, actor.ShopID, actor.TenantID)
		if err != nil {
			return nil, err
		}
		return []domain.Shop{*shop}, nil
	}
	return s.repo.ListShops(ctx, actor.TenantID)
}

func (s *Service) UpdateShop(ctx context.Context, shopID string, req domain.ShopUpdateRequest) (domain.Shop, error) {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return domain.Shop{}, err
	}

	existing, err := s.repo.GetShop(ctx, shopID, actor.TenantID)
	if err != nil {
		return domain.Shop{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Shop{}, fmt.Errorf("%w: name cannot be empty", store.ErrValidation)
		}
		updated.Name = name
	}
	if req.Address != nil {
		updated.Address = strings.TrimSpace(*req.Address)
	}
	if req.Contact != nil {
		updated.Contact = strings.TrimSpace(*req.Contact)
	}
	if req.Currency != nil {
		currency := strings.ToUpper(strings.TrimSpace(*req.Currency))
		if currency == "" {
			return domain.Shop{}, fmt.Errorf("%w: currency cannot be empty", store.ErrValidation)
		}
		updated.Currency = currency
	}
	if req.TIN != nil {
		updated.TIN = strings.TrimSpace(*req.TIN)
	}
	if req.AllowNegativeSelling != nil {
		updated.AllowNegativeSelling = *req.AllowNegativeSelling
	}

	saved, err := s.repo.UpdateShop(ctx, updated)
	if err != nil {
		return domain.Shop{}, err
	}

	s.logAudit(ctx, saved.ID, "shop_update", "shop", saved.ID, fmt.Sprintf("allow_negative=%t", saved.AllowNegativeSelling))
	return *saved, nil
}

// ConfigureShopFiscal encrypts the device credentials and stores them on the
// shop. Disabling keeps the stored credentials so signing can be re-enabled
// without re-entering them.
func (s *Service) ConfigureShopFiscal(ctx context.Context, shopID string, req domain.FiscalConfigRequest) (domain.Shop, error) {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return domain.Shop{}, err
	}

	existing, err := s.repo.GetShop(ctx, shopID, actor.TenantID)
	if err != nil {
		return domain.Shop{}, err
	}

	updated := *existing
	updated.FiscalEnabled = req.Enabled

	if req.Enabled {
		if s.codec == nil {
			return domain.Shop{}, fmt.Errorf("credential encryption is not configured")
		}
		req.DeviceUID = strings.TrimSpace(req.DeviceUID)
		if req.DeviceUID == "" {
			return domain.Shop{}, fmt.Errorf("%w: device_uid is required", store.ErrValidation)
		}
		invoiceType := strings.TrimSpace(req.InvoiceType)
		if invoiceType == "" {
			invoiceType = domain.InvoiceTypeNormal
		}
		if invoiceType != domain.InvoiceTypeNormal && invoiceType != domain.InvoiceTypeTraining {
			return domain.Shop{}, fmt.Errorf("%w: unknown invoice type %q", store.ErrValidation, invoiceType)
		}

		updated.Fiscal.DeviceUID = req.DeviceUID
		updated.Fiscal.InvoiceType = invoiceType
		updated.Fiscal.SandboxMode = req.SandboxMode

		if req.Password != "" {
			sealed, err := s.codec.Encrypt(req.Password)
			if err != nil {
				return domain.Shop{}, err
			}
			updated.Fiscal.EncryptedPassword = sealed
		}
		if req.PAC != "" {
			sealed, err := s.codec.Encrypt(req.PAC)
			if err != nil {
				return domain.Shop{}, err
			}
			updated.Fiscal.EncryptedPAC = sealed
		}
		if req.CertBundleBase64 != "" {
			bundle, err := base64.StdEncoding.DecodeString(req.CertBundleBase64)
			if err != nil {
				return domain.Shop{}, fmt.Errorf("%w: cert bundle is not valid base64", store.ErrValidation)
			}
			updated.Fiscal.CertBundle = bundle
		}

		// The PAC is optional; some devices authenticate with certificate
		// and password alone.
		if updated.Fiscal.EncryptedPassword.Empty() || len(updated.Fiscal.CertBundle) == 0 {
			return domain.Shop{}, fmt.Errorf("%w: password and certificate are required to enable signing", store.ErrValidation)
		}
	}

	saved, err := s.repo.UpdateShop(ctx, updated)
	if err != nil {
		return domain.Shop{}, err
	}

	s.logAudit(ctx, saved.ID, "shop_fiscal_configure", "shop", saved.ID, fmt.Sprintf("enabled=%t,sandbox=%t", saved.FiscalEnabled, saved.Fiscal.SandboxMode))
	return *saved, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	shop, actor, err := s.resolveShop(ctx, req.ShopID)
	if err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: name is required", store.ErrValidation)
	}
	if req.SellingPriceCents < 1 || req.BuyingPriceCents < 0 {
		return domain.Product{}, fmt.Errorf("%w: prices must be positive", store.ErrValidation)
	}
	if req.InitialQuantity < 0 || req.ReorderLevel < 0 {
		return domain.Product{}, fmt.Errorf("%w: quantities cannot be negative", store.ErrValidation)
	}

	product := domain.Product{
		ID:                xid.New("prod"),
		ShopID:            shop.ID,
		Name:              req.Name,
		Description:       strings.TrimSpace(req.Description),
		SellingPriceCents: req.SellingPriceCents,
		BuyingPriceCents:  req.BuyingPriceCents,
		Quantity:          req.InitialQuantity,
		ReorderLevel:      req.ReorderLevel,
		Barcode:           strings.TrimSpace(req.Barcode),
		CategoryID:        strings.TrimSpace(req.CategoryID),
		SupplierID:        strings.TrimSpace(req.SupplierID),
		CreatedBy:         actor.Username,
		CreatedAt:         time.Now().UTC(),
	}

	saved, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, shop.ID, "product_create", "product", saved.ID, fmt.Sprintf("name=%s,price=%d,qty=%d", saved.Name, saved.SellingPriceCents, saved.Quantity))
	s.invalidate(ctx, cache.ListKey(shop.ID, "products"))
	return *saved, nil
}

func (s *Service) GetProduct(ctx context.Context, shopID string, productID string) (domain.Product, error) {
	shop, _, err := s.resolveShop(ctx, shopID)
	if err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, productID, shop.ID)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) ListProducts(ctx context.Context, shopID string) ([]domain.Product, error) {
	shop, _, err := s.resolveShop(ctx, shopID)
	if err != nil {
		return nil, err
	}

	key := cache.ListKey(shop.ID, "products")
	var cached []domain.Product
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached, nil
	}

	products, err := s.repo.ListProducts(ctx, shop.ID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, products, s.listTTL); err != nil {
		log.Printf("[service] WARN: failed to cache product list shop=%s: %v", shop.ID, err)
	}
	return products, nil
}

func (s *Service) UpdateProduct(ctx context.Context, shopID string, productID string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	shop, _, err := s.resolveShop(ctx, shopID)
	if err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, productID, shop.ID)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: name cannot be empty", store.ErrValidation)
		}
		updated.Name = name
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.SellingPriceCents != nil {
		if *req.SellingPriceCents < 1 {
			return domain.Product{}, fmt.Errorf("%w: selling price must be positive", store.ErrValidation)
		}
		updated.SellingPriceCents = *req.SellingPriceCents
	}
	if req.BuyingPriceCents != nil {
		if *req.BuyingPriceCents < 0 {
			return domain.Product{}, fmt.Errorf("%w: buying price cannot be negative", store.ErrValidation)
		}
		updated.BuyingPriceCents = *req.BuyingPriceCents
	}
	if req.ReorderLevel != nil {
		if *req.ReorderLevel < 0 {
			return domain.Product{}, fmt.Errorf("%w: reorder level cannot be negative", store.ErrValidation)
		}
		updated.ReorderLevel = *req.ReorderLevel
	}
	if req.Barcode != nil {
		updated.Barcode = strings.TrimSpace(*req.Barcode)
	}
	if req.CategoryID != nil {
		updated.CategoryID = strings.TrimSpace(*req.CategoryID)
	}
	if req.SupplierID != nil {
		updated.SupplierID = strings.TrimSpace(*req.SupplierID)
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, shop.ID, "product_update", "product", saved.ID, fmt.Sprintf("name=%s,price=%d", saved.Name, saved.SellingPriceCents))
	s.invalidate(ctx, cache.ListKey(shop.ID, "products"))
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, shopID string, productID string) error {
	if _, err := s.requireAdmin(ctx); err != nil {
		return err
	}
	shop, _, err := s.resolveShop(ctx, shopID)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteProduct(ctx, productID, shop.ID); err != nil {
		return err
	}

	s.logAudit(ctx, shop.ID, "product_delete", "product", productID, "")
	s.invalidate(ctx, cache.ListKey(shop.ID, "products"))
	return nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Customer{}, fmt.Errorf("authentication required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Customer{}, fmt.Errorf("%w: name is required", store.ErrValidation)
	}

	customer := domain.Customer{
		ID:        xid.New("cust"),
		TenantID:  actor.TenantID,
		Name:      req.Name,
		Phone:     strings.TrimSpace(req.Phone),
		Email:     strings.TrimSpace(req.Email),
		Address:   strings.TrimSpace(req.Address),
		CreatedAt: time.Now().UTC(),
	}

	saved, err := s.repo.CreateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, actor.ShopID, "customer_create", "customer", saved.ID, fmt.Sprintf("name=%s", saved.Name))
	return *saved, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authentication required")
	}
	return s.repo.ListCustomers(ctx, actor.TenantID)
}

func (s *Service) DeleteCustomer(ctx context.Context, customerID string) error {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteCustomer(ctx, customerID, actor.TenantID); err != nil {
		return err
	}
	s.logAudit(ctx, "", "customer_delete", "customer", customerID, "")
	return nil
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return domain.Supplier{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Supplier{}, fmt.Errorf("%w: name is required", store.ErrValidation)
	}

	supplier := domain.Supplier{
		ID:        xid.New("sup"),
		TenantID:  actor.TenantID,
		Name:      req.Name,
		Phone:     strings.TrimSpace(req.Phone),
		Email:     strings.TrimSpace(req.Email),
		Address:   strings.TrimSpace(req.Address),
		CreatedAt: time.Now().UTC(),
	}

	saved, err := s.repo.CreateSupplier(ctx, supplier)
	if err != nil {
		return domain.Supplier{}, err
	}

	s.logAudit(ctx, "", "supplier_create", "supplier", saved.ID, fmt.Sprintf("name=%s", saved.Name))
	return *saved, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authentication required")
	}
	return s.repo.ListSuppliers(ctx, actor.TenantID)
}

func (s *Service) DeleteSupplier(ctx context.Context, supplierID string) error {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteSupplier(ctx, supplierID, actor.TenantID); err != nil {
		return err
	}
	s.logAudit(ctx, "", "supplier_delete", "supplier", supplierID, "")
	return nil
}

func (s *Service) CreateCategory(ctx context.Context, name string) (domain.ProductCategory, error) {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return domain.ProductCategory{}, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return domain.ProductCategory{}, fmt.Errorf("%w: name is required", store.ErrValidation)
	}

	category := domain.ProductCategory{
		ID:        xid.New("cat"),
		TenantID:  actor.TenantID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	saved, err := s.repo.CreateCategory(ctx, category)
	if err != nil {
		return domain.ProductCategory{}, err
	}

	s.logAudit(ctx, "", "category_create", "category", saved.ID, fmt.Sprintf("name=%s", saved.Name))
	return *saved, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.ProductCategory, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authentication required")
	}
	return s.repo.ListCategories(ctx, actor.TenantID)
}

func (s *Service) DeleteCategory(ctx context.Context, categoryID string) error {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteCategory(ctx, categoryID, actor.TenantID); err != nil {
		return err
	}
	s.logAudit(ctx, "", "category_delete", "category", categoryID, "")
	return nil
}

// PostSale records a sale atomically and then attempts fiscal signing. The
// sale is financial truth the moment the posting commits; a signing failure
// is reported on the sale record, never to the caller as a posting error.
func (s *Service) PostSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	shop, actor, err := s.resolveShop(ctx, req.ShopID)
	if err != nil {
		return domain.Sale{}, err
	}

	if !domain.IsSalePaymentType(req.PaymentType) {
		return domain.Sale{}, fmt.Errorf("%w: unsupported payment type %q", store.ErrValidation, req.PaymentType)
	}
	if len(req.Items) == 0 {
		return domain.Sale{}, fmt.Errorf("%w: at least one item is required", store.ErrValidation)
	}
	if req.AmountPaidCents < 0 {
		return domain.Sale{}, fmt.Errorf("%w: amount paid cannot be negative", store.ErrValidation)
	}

	items := make([]domain.SaleItem, 0, len(req.Items))
	for _, line := range req.Items {
		line.ProductID = strings.TrimSpace(line.ProductID)
		if line.ProductID == "" || line.Quantity < 1 || line.UnitPriceCents < 0 {
			return domain.Sale{}, fmt.Errorf("%w: malformed sale line", store.ErrValidation)
		}
		items = append(items, domain.SaleItem{
			ID:             xid.New("sitem"),
			ProductID:      line.ProductID,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
		})
	}

	customerName := ""
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID != "" {
		customer, err := s.repo.GetCustomer(ctx, customerID, actor.TenantID)
		if err != nil {
			return domain.Sale{}, err
		}
		customerName = customer.Name
	}

	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)
	if idempotencyKey == "" {
		idempotencyKey = xid.New("idem")
	}

	sale := domain.Sale{
		ID:              xid.New("sale"),
		ShopID:          shop.ID,
		CustomerID:      customerID,
		CustomerName:    customerName,
		Items:           items,
		AmountPaidCents: req.AmountPaidCents,
		PaymentType:     req.PaymentType,
		ProcessedBy:     actor.Username,
		IdempotencyKey:  idempotencyKey,
		CreatedAt:       time.Now().UTC(),
	}

	created, err := s.repo.CreateSale(ctx, sale, shop.AllowNegativeSelling)
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, shop.ID, "sale_post", "sale", created.ID, fmt.Sprintf("receipt=%s,total=%d,paid=%d,payment=%s", created.ReceiptNo, created.TotalAmountCents, created.AmountPaidCents, created.PaymentType))
	s.invalidate(ctx, cache.ListKey(shop.ID, "sales"), cache.ListKey(shop.ID, "products"))

	if shop.FiscalEnabled && !created.Signed {
		created = s.signCommitted(ctx, shop, created, actor.Username)
	}

	return *created, nil
}

// signCommitted runs fiscal signing for a sale that is already committed.
// Whatever happens here, the committed sale is returned.
func (s *Service) signCommitted(ctx context.Context, shop *domain.Shop, sale *domain.Sale, cashier string) *domain.Sale {
	if s.signer == nil {
		log.Printf("[fiscal] WARN: signing skipped sale=%s: no signer configured", sale.ID)
		return sale
	}

	// The caller's deadline does not bound signing; the sale is committed
	// and the device gets its own timeout.
	signCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fiscalTimeout)
	defer cancel()

	outcome, err := s.signer.Sign(signCtx, shop, sale, cashier)
	if err != nil {
		log.Printf("[fiscal] WARN: signing failed sale=%s receipt=%s: %v", sale.ID, sale.ReceiptNo, err)
		s.logAudit(ctx, shop.ID, "sale_sign_failed", "sale", sale.ID, err.Error())
		return sale
	}

	signed, err := s.repo.MarkSaleSigned(signCtx, sale.ID, domain.FiscalData{
		InvoiceNumber: outcome.InvoiceNumber,
		QRCode:        outcome.QRCode,
		Journal:       outcome.Journal,
		SignedAt:      time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[fiscal] WARN: failed to persist fiscal record sale=%s invoice=%s: %v", sale.ID, outcome.InvoiceNumber, err)
		return sale
	}

	s.logAudit(ctx, shop.ID, "sale_sign", "sale", signed.ID, fmt.Sprintf("invoice=%s", signed.Fiscal.InvoiceNumber))
	s.invalidate(ctx, cache.ListKey(shop.ID, "sales"))
	return signed
}

// SignSale is the operator retry for a sale whose post-commit signing failed.
// Unlike the signing attempt inside PostSale, errors surface to the caller.
func (s *Service) SignSale(ctx context.Context, saleID string) (domain.Sale, error) {
	sale, shop, err := s.getScopedSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.Signed {
		return *sale, nil
	}
	if !shop.FiscalEnabled {
		return domain.Sale{}, fmt.Errorf("%w: fiscal signing is not enabled for this shop", store.ErrValidation)
	}
	if s.signer == nil {
		return domain.Sale{}, fmt.Errorf("no signer configured")
	}

	actor, _ := ActorFromContext(ctx)

	signCtx, cancel := context.WithTimeout(ctx, s.fiscalTimeout)
	defer cancel()

	outcome, err := s.signer.Sign(signCtx, shop, sale, actor.Username)
	if err != nil {
		s.logAudit(ctx, shop.ID, "sale_sign_failed", "sale", sale.ID, err.Error())
		return domain.Sale{}, err
	}

	signed, err := s.repo.MarkSaleSigned(ctx, sale.ID, domain.FiscalData{
		InvoiceNumber: outcome.InvoiceNumber,
		QRCode:        outcome.QRCode,
		Journal:       outcome.Journal,
		SignedAt:      time.Now().UTC(),
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, shop.ID, "sale_sign", "sale", signed.ID, fmt.Sprintf("invoice=%s", signed.Fiscal.InvoiceNumber))
	s.invalidate(ctx, cache.ListKey(shop.ID, "sales"))
	return *signed, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	sale, _, err := s.getScopedSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// getScopedSale hides foreign-tenant sales behind ErrNotFound, the same way
// the store hides foreign-tenant shops.
func (s *Service) getScopedSale(ctx context.Context, saleID string) (*domain.Sale, *domain.Shop, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, nil, fmt.Errorf("authentication required")
	}

	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return nil, nil, fmt.Errorf("%w: sale id is required", store.ErrValidation)
	}

	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, nil, err
	}
	if actor.Role == domain.RoleAttendant && sale.ShopID != actor.ShopID {
		return nil, nil, store.ErrNotFound
	}

	shop, err := s.repo.GetShop(ctx, sale.ShopID, actor.TenantID)
	if err != nil {
		return nil, nil, err
	}
	return sale, shop, nil
}

func (s *Service) ListSales(ctx context.Context, shopID string) ([]domain.Sale, error) {
	shop, _, err := s.resolveShop(ctx, shopID)
	if err != nil {
		return nil, err
	}

	key := cache.ListKey(shop.ID, "sales")
	var cached []domain.Sale
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached, nil
	}

	sales, err := s.repo.ListSalesByShop(ctx, shop.ID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, sales, s.listTTL); err != nil {
		log.Printf("[service] WARN: failed to cache sale list shop=%s: %v", shop.ID, err)
	}
	return sales, nil
}

// PostPurchase records a stock intake atomically. Purchases never check the
// negative-selling policy; stock only goes up.
func (s *Service) PostPurchase(ctx context.Context, req domain.PurchaseCreateRequest) (domain.Purchase, error) {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return domain.Purchase{}, err
	}
	shop, _, err := s.resolveShop(ctx, req.ShopID)
	if err != nil {
		return domain.Purchase{}, err
	}

	if !domain.IsPurchasePaymentType(req.PaymentType) {
		return domain.Purchase{}, fmt.Errorf("%w: unsupported payment type %q", store.ErrValidation, req.PaymentType)
	}
	if len(req.Items) == 0 {
		return domain.Purchase{}, fmt.Errorf("%w: at least one item is required", store.ErrValidation)
	}
	if req.AmountPaidCents < 0 {
		return domain.Purchase{}, fmt.Errorf("%w: amount paid cannot be negative", store.ErrValidation)
	}

	supplierID := strings.TrimSpace(req.SupplierID)
	if supplierID == "" {
		return domain.Purchase{}, fmt.Errorf("%w: supplier_id is required", store.ErrValidation)
	}
	supplier, err := s.repo.GetSupplier(ctx, supplierID, actor.TenantID)
	if err != nil {
		return domain.Purchase{}, err
	}

	items := make([]domain.PurchaseItem, 0, len(req.Items))
	for _, line := range req.Items {
		line.ProductID = strings.TrimSpace(line.ProductID)
		if line.ProductID == "" || line.Quantity < 1 || line.UnitPriceCents < 0 {
			return domain.Purchase{}, fmt.Errorf("%w: malformed purchase line", store.ErrValidation)
		}
		items = append(items, domain.PurchaseItem{
			ID:             xid.New("pitem"),
			ProductID:      line.ProductID,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
		})
	}

	purchase := domain.Purchase{
		ID:              xid.New("purch"),
		ShopID:          shop.ID,
		SupplierID:      supplier.ID,
		SupplierName:    supplier.Name,
		Items:           items,
		AmountPaidCents: req.AmountPaidCents,
		PaymentType:     req.PaymentType,
		RecordedBy:      actor.Username,
		CreatedAt:       time.Now().UTC(),
	}

	created, err := s.repo.CreatePurchase(ctx, purchase)
	if err != nil {
		return domain.Purchase{}, err
	}

	s.logAudit(ctx, shop.ID, "purchase_post", "purchase", created.ID, fmt.Sprintf("purchase_no=%s,total=%d,supplier=%s", created.PurchaseNo, created.TotalAmountCents, created.SupplierID))
	s.invalidate(ctx, cache.ListKey(shop.ID, "purchases"), cache.ListKey(shop.ID, "products"))
	return *created, nil
}

func (s *Service) ListPurchases(ctx context.Context, shopID string) ([]domain.Purchase, error) {
	shop, _, err := s.resolveShop(ctx, shopID)
	if err != nil {
		return nil, err
	}

	key := cache.ListKey(shop.ID, "purchases")
	var cached []domain.Purchase
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached, nil
	}

	purchases, err := s.repo.ListPurchasesByShop(ctx, shop.ID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, purchases, s.listTTL); err != nil {
		log.Printf("[service] WARN: failed to cache purchase list shop=%s: %v", shop.ID, err)
	}
	return purchases, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, actor.TenantID, limit)
}

func (s *Service) logAudit(ctx context.Context, shopID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.ActingUser{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		TenantID:      actor.TenantID,
		ShopID:        shopID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func (s *Service) invalidate(ctx context.Context, keys ...string) {
	if err := s.cache.Invalidate(ctx, keys...); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[service] WARN: cache invalidation failed keys=%v: %v", keys, err)
	}
}
