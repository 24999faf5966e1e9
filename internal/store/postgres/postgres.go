package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateShop(ctx context.Context, shop domain.Shop) (*domain.Shop, error) {
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

	fiscalJSON, err := json.Marshal(shop.Fiscal)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shops (
			id, tenant_id, name, address, contact, currency, tin,
			allow_negative_selling, fiscal_enabled, fiscal, cert_bundle, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now())
	`, shop.ID, shop.TenantID, shop.Name, shop.Address, shop.Contact, shop.Currency, shop.TIN,
		shop.AllowNegativeSelling, shop.FiscalEnabled, fiscalJSON, shop.Fiscal.CertBundle, shop.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}
	created := shop
	return &created, nil
}

func (s *Store) GetShop(ctx context.Context, shopID string, tenantID string) (*domain.Shop, error) {
	var shop domain.Shop
	var fiscalRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, COALESCE(address,''), COALESCE(contact,''), currency, COALESCE(tin,''),
			allow_negative_selling, fiscal_enabled, fiscal, cert_bundle, created_at
		FROM shops
		WHERE id = $1 AND tenant_id = $2
	`, shopID, tenantID).Scan(
		&shop.ID,
		&shop.TenantID,
		&shop.Name,
		&shop.Address,
		&shop.Contact,
		&shop.Currency,
		&shop.TIN,
		&shop.AllowNegativeSelling,
		&shop.FiscalEnabled,
		&fiscalRaw,
		&shop.Fiscal.CertBundle,
		&shop.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	shop.CreatedAt = shop.CreatedAt.UTC()
	if len(fiscalRaw) > 0 {
		certBundle := shop.Fiscal.CertBundle
		if err := json.Unmarshal(fiscalRaw, &shop.Fiscal); err != nil {
			return nil, err
		}
		shop.Fiscal.CertBundle = certBundle
	}
	return &shop, nil
}

func (s *Store) ListShops(ctx context.Context, tenantID string) ([]domain.Shop, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, COALESCE(address,''), COALESCE(contact,''), currency, COALESCE(tin,''),
			allow_negative_selling, fiscal_enabled, created_at
		FROM shops
		WHERE tenant_id = $1
		ORDER BY created_at ASC, name ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shops := make([]domain.Shop, 0, 8)
	for rows.Next() {
		var shop domain.Shop
		if err := rows.Scan(&shop.ID, &shop.TenantID, &shop.Name, &shop.Address, &shop.Contact,
			&shop.Currency, &shop.TIN, &shop.AllowNegativeSelling, &shop.FiscalEnabled, &shop.CreatedAt); err != nil {
			return nil, err
		}
		shop.CreatedAt = shop.CreatedAt.UTC()
		shops = append(shops, shop)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return shops, nil
}

func (s *Store) UpdateShop(ctx context.Context, shop domain.Shop) (*domain.Shop, error) {
	if strings.TrimSpace(shop.Name) == "" {
		return nil, store.ErrValidation
	}
	fiscalJSON, err := json.Marshal(shop.Fiscal)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE shops
		SET name = $3, address = $4, contact = $5, currency = $6, tin = $7,
			allow_negative_selling = $8, fiscal_enabled = $9, fiscal = $10, cert_bundle = $11, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, shop.ID, shop.TenantID, shop.Name, shop.Address, shop.Contact, shop.Currency, shop.TIN,
		shop.AllowNegativeSelling, shop.FiscalEnabled, fiscalJSON, shop.Fiscal.CertBundle)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	updated := shop
	return &updated, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" || product.ShopID == "" || product.SellingPriceCents < 0 || product.BuyingPriceCents < 0 {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (
			id, shop_id, name, description, selling_price_cents, buying_price_cents,
			quantity, reorder_level, barcode, category_id, supplier_id, created_by, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now())
	`, product.ID, product.ShopID, product.Name, product.Description, product.SellingPriceCents,
		product.BuyingPriceCents, product.Quantity, product.ReorderLevel, nullIfEmpty(product.Barcode),
		nullIfEmpty(product.CategoryID), nullIfEmpty(product.SupplierID), product.CreatedBy, product.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}
	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, productID string, shopID string) (*domain.Product, error) {
	var product domain.Product
	var barcode, categoryID, supplierID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, shop_id, name, COALESCE(description,''), selling_price_cents, buying_price_cents,
			quantity, reorder_level, barcode, category_id, supplier_id, created_by, created_at
		FROM products
		WHERE id = $1 AND shop_id = $2
	`, productID, shopID).Scan(
		&product.ID,
		&product.ShopID,
		&product.Name,
		&product.Description,
		&product.SellingPriceCents,
		&product.BuyingPriceCents,
		&product.Quantity,
		&product.ReorderLevel,
		&barcode,
		&categoryID,
		&supplierID,
		&product.CreatedBy,
		&product.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	product.CreatedAt = product.CreatedAt.UTC()
	if barcode.Valid {
		product.Barcode = barcode.String
	}
	if categoryID.Valid {
		product.CategoryID = categoryID.String
	}
	if supplierID.Valid {
		product.SupplierID = supplierID.String
	}
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context, shopID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, name, COALESCE(description,''), selling_price_cents, buying_price_cents,
			quantity, reorder_level, COALESCE(barcode,''), COALESCE(category_id,''), COALESCE(supplier_id,''),
			created_by, created_at
		FROM products
		WHERE shop_id = $1
		ORDER BY name ASC
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.ShopID, &p.Name, &p.Description, &p.SellingPriceCents,
			&p.BuyingPriceCents, &p.Quantity, &p.ReorderLevel, &p.Barcode, &p.CategoryID,
			&p.SupplierID, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.SellingPriceCents < 0 || product.BuyingPriceCents < 0 {
		return nil, store.ErrValidation
	}

	// Quantity is deliberately absent from the SET list; it only moves
	// through sale and purchase postings.
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $3, description = $4, selling_price_cents = $5, buying_price_cents = $6,
			reorder_level = $7, barcode = $8, category_id = $9, supplier_id = $10, updated_at = now()
		WHERE id = $1 AND shop_id = $2
	`, product.ID, product.ShopID, product.Name, product.Description, product.SellingPriceCents,
		product.BuyingPriceCents, product.ReorderLevel, nullIfEmpty(product.Barcode),
		nullIfEmpty(product.CategoryID), nullIfEmpty(product.SupplierID))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProduct(ctx, product.ID, product.ShopID)
}

func (s *Store) DeleteProduct(ctx context.Context, productID string, shopID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM products
		WHERE id = $1 AND shop_id = $2
	`, productID, shopID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, tenant_id, name, phone, email, address, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, customer.ID, customer.TenantID, customer.Name, nullIfEmpty(customer.Phone),
		nullIfEmpty(customer.Email), nullIfEmpty(customer.Address), customer.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(ctx context.Context, customerID string, tenantID string) (*domain.Customer, error) {
	var customer domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, COALESCE(phone,''), COALESCE(email,''), COALESCE(address,''), created_at
		FROM customers
		WHERE id = $1 AND tenant_id = $2
	`, customerID, tenantID).Scan(
		&customer.ID,
		&customer.TenantID,
		&customer.Name,
		&customer.Phone,
		&customer.Email,
		&customer.Address,
		&customer.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context, tenantID string) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, COALESCE(phone,''), COALESCE(email,''), COALESCE(address,''), created_at
		FROM customers
		WHERE tenant_id = $1
		ORDER BY name ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Phone, &c.Email, &c.Address, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, customerID string, tenantID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM customers
		WHERE id = $1 AND tenant_id = $2
	`, customerID, tenantID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrValidation
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, tenant_id, name, phone, email, address, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, supplier.ID, supplier.TenantID, supplier.Name, nullIfEmpty(supplier.Phone),
		nullIfEmpty(supplier.Email), nullIfEmpty(supplier.Address), supplier.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := supplier
	return &created, nil
}

func (s *Store) GetSupplier(ctx context.Context, supplierID string, tenantID string) (*domain.Supplier, error) {
	var supplier domain.Supplier
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, COALESCE(phone,''), COALESCE(email,''), COALESCE(address,''), created_at
		FROM suppliers
		WHERE id = $1 AND tenant_id = $2
	`, supplierID, tenantID).Scan(
		&supplier.ID,
		&supplier.TenantID,
		&supplier.Name,
		&supplier.Phone,
		&supplier.Email,
		&supplier.Address,
		&supplier.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	supplier.CreatedAt = supplier.CreatedAt.UTC()
	return &supplier, nil
}

func (s *Store) ListSuppliers(ctx context.Context, tenantID string) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, COALESCE(phone,''), COALESCE(email,''), COALESCE(address,''), created_at
		FROM suppliers
		WHERE tenant_id = $1
		ORDER BY name ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 32)
	for rows.Next() {
		var sup domain.Supplier
		if err := rows.Scan(&sup.ID, &sup.TenantID, &sup.Name, &sup.Phone, &sup.Email, &sup.Address, &sup.CreatedAt); err != nil {
			return nil, err
		}
		sup.CreatedAt = sup.CreatedAt.UTC()
		suppliers = append(suppliers, sup)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

func (s *Store) DeleteSupplier(ctx context.Context, supplierID string, tenantID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM suppliers
		WHERE id = $1 AND tenant_id = $2
	`, supplierID, tenantID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrValidation
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateCategory(ctx context.Context, category domain.ProductCategory) (*domain.ProductCategory, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_categories (id, tenant_id, name, created_at)
		VALUES ($1,$2,$3,$4)
	`, category.ID, category.TenantID, category.Name, category.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}
	created := category
	return &created, nil
}

func (s *Store) ListCategories(ctx context.Context, tenantID string) ([]domain.ProductCategory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, created_at
		FROM product_categories
		WHERE tenant_id = $1
		ORDER BY name ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.ProductCategory, 0, 16)
	for rows.Next() {
		var c domain.ProductCategory
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) DeleteCategory(ctx context.Context, categoryID string, tenantID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM product_categories
		WHERE id = $1 AND tenant_id = $2
	`, categoryID, tenantID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrValidation
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale, allowNegative bool) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}
	if sale.IdempotencyKey != "" {
		if existing, err := s.FindSaleByIdempotency(ctx, sale.IdempotencyKey); err == nil {
			return existing, nil
		}
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	productIDs := uniqueProductIDs(saleItemProductIDs(sale.Items))
	if len(productIDs) == 0 {
		return nil, store.ErrValidation
	}

	// Row locks on the product rows make concurrent quantity deltas on the
	// same product serialize; the re-read below sees committed stock only.
	productRows, err := pgTx.QueryContext(ctx, `
		SELECT id, name, quantity
		FROM products
		WHERE id = ANY($1) AND shop_id = $2
		FOR UPDATE
	`, productIDs, sale.ShopID)
	if err != nil {
		return nil, err
	}
	type productState struct {
		name     string
		quantity int
	}
	productMap := make(map[string]productState, len(productIDs))
	for productRows.Next() {
		var id, name string
		var quantity int
		if err := productRows.Scan(&id, &name, &quantity); err != nil {
			_ = productRows.Close()
			return nil, err
		}
		productMap[id] = productState{name: name, quantity: quantity}
	}
	if err := productRows.Err(); err != nil {
		_ = productRows.Close()
		return nil, err
	}
	_ = productRows.Close()

	totalCents := int64(0)
	items := make([]domain.SaleItem, 0, len(sale.Items))
	pendingDelta := make(map[string]int, len(productIDs))
	for _, item := range sale.Items {
		if item.Quantity < 1 || item.UnitPriceCents < 0 {
			return nil, store.ErrValidation
		}
		product, exists := productMap[item.ProductID]
		if !exists {
			return nil, store.ErrNotFound
		}
		available := product.quantity - pendingDelta[item.ProductID]
		if !allowNegative && available-item.Quantity < 0 {
			return nil, &store.InsufficientStockError{
				ProductID:   item.ProductID,
				ProductName: product.name,
				Available:   available,
			}
		}
		pendingDelta[item.ProductID] += item.Quantity
		items = append(items, domain.SaleItem{
			ID:             xid.New("sitem"),
			ProductID:      item.ProductID,
			ProductName:    product.name,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
		totalCents += int64(item.Quantity) * item.UnitPriceCents
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.ReceiptNo == "" {
		sale.ReceiptNo = xid.Code("REC")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	for i := range items {
		items[i].SaleID = sale.ID
	}
	sale.Items = items
	sale.TotalAmountCents = totalCents
	if sale.AmountPaidCents >= totalCents {
		sale.Status = domain.TxStatusCompleted
	} else {
		sale.Status = domain.TxStatusPending
	}
	sale.Signed = false
	sale.Fiscal = nil

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (
			id, receipt_no, shop_id, customer_id, total_amount_cents, amount_paid_cents,
			payment_type, status, processed_by, signed, idempotency_key, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,false,$10,$11)
	`, sale.ID, sale.ReceiptNo, sale.ShopID, nullIfEmpty(sale.CustomerID), sale.TotalAmountCents,
		sale.AmountPaidCents, sale.PaymentType, sale.Status, sale.ProcessedBy,
		nullIfEmpty(sale.IdempotencyKey), sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) && sale.IdempotencyKey != "" {
			existing, lookupErr := s.FindSaleByIdempotency(ctx, sale.IdempotencyKey)
			if lookupErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	for _, item := range sale.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, product_id, quantity, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5)
		`, item.ID, sale.ID, item.ProductID, item.Quantity, item.UnitPriceCents)
		if err != nil {
			return nil, err
		}
	}

	for productID, qty := range pendingDelta {
		_, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET quantity = quantity - $1, updated_at = now()
			WHERE id = $2 AND shop_id = $3
		`, qty, productID, sale.ShopID)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	if len(purchase.Items) == 0 {
		return nil, store.ErrValidation
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var supplierName string
	err = pgTx.QueryRowContext(ctx, `
		SELECT name FROM suppliers WHERE id = $1
	`, purchase.SupplierID).Scan(&supplierName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	productIDs := uniqueProductIDs(purchaseItemProductIDs(purchase.Items))
	if len(productIDs) == 0 {
		return nil, store.ErrValidation
	}

	productRows, err := pgTx.QueryContext(ctx, `
		SELECT id, name
		FROM products
		WHERE id = ANY($1) AND shop_id = $2
		FOR UPDATE
	`, productIDs, purchase.ShopID)
	if err != nil {
		return nil, err
	}
	productNames := make(map[string]string, len(productIDs))
	for productRows.Next() {
		var id, name string
		if err := productRows.Scan(&id, &name); err != nil {
			_ = productRows.Close()
			return nil, err
		}
		productNames[id] = name
	}
	if err := productRows.Err(); err != nil {
		_ = productRows.Close()
		return nil, err
	}
	_ = productRows.Close()

	totalCents := int64(0)
	items := make([]domain.PurchaseItem, 0, len(purchase.Items))
	pendingDelta := make(map[string]int, len(productIDs))
	for _, item := range purchase.Items {
		if item.Quantity < 1 || item.UnitPriceCents < 0 {
			return nil, store.ErrValidation
		}
		name, exists := productNames[item.ProductID]
		if !exists {
			return nil, store.ErrNotFound
		}
		pendingDelta[item.ProductID] += item.Quantity
		items = append(items, domain.PurchaseItem{
			ID:             xid.New("pitem"),
			ProductID:      item.ProductID,
			ProductName:    name,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
		totalCents += int64(item.Quantity) * item.UnitPriceCents
	}

	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	if purchase.PurchaseNo == "" {
		purchase.PurchaseNo = xid.Code("PUR")
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}
	for i := range items {
		items[i].PurchaseID = purchase.ID
	}
	purchase.Items = items
	purchase.SupplierName = supplierName
	purchase.TotalAmountCents = totalCents
	if purchase.AmountPaidCents >= totalCents {
		purchase.Status = domain.TxStatusCompleted
	} else {
		purchase.Status = domain.TxStatusPending
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO purchases (
			id, purchase_no, shop_id, supplier_id, total_amount_cents, amount_paid_cents,
			payment_type, status, recorded_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, purchase.ID, purchase.PurchaseNo, purchase.ShopID, purchase.SupplierID, purchase.TotalAmountCents,
		purchase.AmountPaidCents, purchase.PaymentType, purchase.Status, purchase.RecordedBy, purchase.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, item := range purchase.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO purchase_items (id, purchase_id, product_id, quantity, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5)
		`, item.ID, purchase.ID, item.ProductID, item.Quantity, item.UnitPriceCents)
		if err != nil {
			return nil, err
		}
	}

	for productID, qty := range pendingDelta {
		_, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET quantity = quantity + $1, updated_at = now()
			WHERE id = $2 AND shop_id = $3
		`, qty, productID, purchase.ShopID)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &purchase, nil
}

func (s *Store) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	return s.findSale(ctx, "s.id", saleID)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	return s.findSale(ctx, "s.idempotency_key", key)
}

func (s *Store) findSale(ctx context.Context, column string, value string) (*domain.Sale, error) {
	if column != "s.id" && column != "s.idempotency_key" {
		return nil, errors.New("unsupported lookup column")
	}

	var sale domain.Sale
	var customerID, customerName, idempotencyKey sql.NullString
	var invoiceNumber, qrCode, journal sql.NullString
	var signedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.receipt_no, s.shop_id, s.customer_id, c.name, s.total_amount_cents,
			s.amount_paid_cents, s.payment_type, s.status, s.processed_by, s.signed,
			s.fiscal_invoice_number, s.fiscal_qr_code, s.fiscal_journal, s.fiscal_signed_at,
			s.idempotency_key, s.created_at
		FROM sales s
		LEFT JOIN customers c ON c.id = s.customer_id
		WHERE `+column+` = $1
	`, value).Scan(
		&sale.ID,
		&sale.ReceiptNo,
		&sale.ShopID,
		&customerID,
		&customerName,
		&sale.TotalAmountCents,
		&sale.AmountPaidCents,
		&sale.PaymentType,
		&sale.Status,
		&sale.ProcessedBy,
		&sale.Signed,
		&invoiceNumber,
		&qrCode,
		&journal,
		&signedAt,
		&idempotencyKey,
		&sale.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	if customerID.Valid {
		sale.CustomerID = customerID.String
	}
	if customerName.Valid {
		sale.CustomerName = customerName.String
	}
	if idempotencyKey.Valid {
		sale.IdempotencyKey = idempotencyKey.String
	}
	if sale.Signed && invoiceNumber.Valid {
		fiscal := domain.FiscalData{InvoiceNumber: invoiceNumber.String}
		if qrCode.Valid {
			fiscal.QRCode = qrCode.String
		}
		if journal.Valid {
			fiscal.Journal = journal.String
		}
		if signedAt.Valid {
			fiscal.SignedAt = signedAt.Time.UTC()
		}
		sale.Fiscal = &fiscal
	}

	items, err := s.loadSaleItems(ctx, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Items = items[sale.ID]
	return &sale, nil
}

func (s *Store) loadSaleItems(ctx context.Context, saleIDs []string) (map[string][]domain.SaleItem, error) {
	result := make(map[string][]domain.SaleItem, len(saleIDs))
	if len(saleIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT si.id, si.sale_id, si.product_id, COALESCE(p.name,''), si.quantity, si.unit_price_cents
		FROM sale_items si
		LEFT JOIN products p ON p.id = si.product_id
		WHERE si.sale_id = ANY($1)
		ORDER BY si.id ASC
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPriceCents); err != nil {
			return nil, err
		}
		result[item.SaleID] = append(result[item.SaleID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListSalesByShop(ctx context.Context, shopID string) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.receipt_no, s.shop_id, COALESCE(s.customer_id,''), COALESCE(c.name,''),
			s.total_amount_cents, s.amount_paid_cents, s.payment_type, s.status, s.processed_by,
			s.signed, s.fiscal_invoice_number, s.fiscal_qr_code, s.fiscal_journal, s.fiscal_signed_at,
			s.created_at
		FROM sales s
		LEFT JOIN customers c ON c.id = s.customer_id
		WHERE s.shop_id = $1
		ORDER BY s.created_at DESC, s.id DESC
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		var sale domain.Sale
		var invoiceNumber, qrCode, journal sql.NullString
		var signedAt sql.NullTime
		if err := rows.Scan(&sale.ID, &sale.ReceiptNo, &sale.ShopID, &sale.CustomerID, &sale.CustomerName,
			&sale.TotalAmountCents, &sale.AmountPaidCents, &sale.PaymentType, &sale.Status, &sale.ProcessedBy,
			&sale.Signed, &invoiceNumber, &qrCode, &journal, &signedAt, &sale.CreatedAt); err != nil {
			return nil, err
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		if sale.Signed && invoiceNumber.Valid {
			fiscal := domain.FiscalData{InvoiceNumber: invoiceNumber.String}
			if qrCode.Valid {
				fiscal.QRCode = qrCode.String
			}
			if journal.Valid {
				fiscal.Journal = journal.String
			}
			if signedAt.Valid {
				fiscal.SignedAt = signedAt.Time.UTC()
			}
			sale.Fiscal = &fiscal
		}
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	itemMap, err := s.loadSaleItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = itemMap[sales[i].ID]
	}
	return sales, nil
}

func (s *Store) ListPurchasesByShop(ctx context.Context, shopID string) ([]domain.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.purchase_no, p.shop_id, p.supplier_id, COALESCE(sup.name,''),
			p.total_amount_cents, p.amount_paid_cents, p.payment_type, p.status, p.recorded_by, p.created_at
		FROM purchases p
		LEFT JOIN suppliers sup ON sup.id = p.supplier_id
		WHERE p.shop_id = $1
		ORDER BY p.created_at DESC, p.id DESC
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	purchases := make([]domain.Purchase, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		var purchase domain.Purchase
		if err := rows.Scan(&purchase.ID, &purchase.PurchaseNo, &purchase.ShopID, &purchase.SupplierID,
			&purchase.SupplierName, &purchase.TotalAmountCents, &purchase.AmountPaidCents,
			&purchase.PaymentType, &purchase.Status, &purchase.RecordedBy, &purchase.CreatedAt); err != nil {
			return nil, err
		}
		purchase.CreatedAt = purchase.CreatedAt.UTC()
		purchases = append(purchases, purchase)
		ids = append(ids, purchase.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return purchases, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT pi.id, pi.purchase_id, pi.product_id, COALESCE(p.name,''), pi.quantity, pi.unit_price_cents
		FROM purchase_items pi
		LEFT JOIN products p ON p.id = pi.product_id
		WHERE pi.purchase_id = ANY($1)
		ORDER BY pi.id ASC
	`, ids)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	itemMap := make(map[string][]domain.PurchaseItem, len(ids))
	for itemRows.Next() {
		var item domain.PurchaseItem
		if err := itemRows.Scan(&item.ID, &item.PurchaseID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPriceCents); err != nil {
			return nil, err
		}
		itemMap[item.PurchaseID] = append(itemMap[item.PurchaseID], item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}
	for i := range purchases {
		purchases[i].Items = itemMap[purchases[i].ID]
	}
	return purchases, nil
}

func (s *Store) MarkSaleSigned(ctx context.Context, saleID string, data domain.FiscalData) (*domain.Sale, error) {
	if data.SignedAt.IsZero() {
		data.SignedAt = time.Now().UTC()
	}

	// signed = false in the predicate makes the enrichment first-writer-wins;
	// a sale that was already signed keeps its original fiscal record.
	res, err := s.db.ExecContext(ctx, `
		UPDATE sales
		SET signed = true, fiscal_invoice_number = $2, fiscal_qr_code = $3,
			fiscal_journal = $4, fiscal_signed_at = $5
		WHERE id = $1 AND signed = false
	`, saleID, data.InvoiceNumber, nullIfEmpty(data.QRCode), nullIfEmpty(data.Journal), data.SignedAt)
	if err != nil {
		return nil, err
	}
	if _, err := res.RowsAffected(); err != nil {
		return nil, err
	}
	return s.GetSale(ctx, saleID)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, tenant_id, shop_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, entry.ID, entry.TenantID, nullIfEmpty(entry.ShopID), entry.ActorUsername, entry.ActorRole,
		entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, tenantID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, COALESCE(shop_id,''), actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.ShopID, &entry.ActorUsername, &entry.ActorRole,
			&entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if user.ID == "" {
		user.ID = xid.New("user")
	}
	if user.Role == "" {
		user.Role = domain.RoleAttendant
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (id, username, password, role, tenant_id, shop_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
	`, user.ID, user.Username, user.Password, user.Role, user.TenantID, nullIfEmpty(user.ShopID), user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrValidation
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password, role, tenant_id, COALESCE(shop_id,''), active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.ID, &user.Username, &user.Password, &user.Role, &user.TenantID, &user.ShopID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func saleItemProductIDs(items []domain.SaleItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

func purchaseItemProductIDs(items []domain.PurchaseItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

func uniqueProductIDs(ids []string) []string {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	result := make([]string, 0, len(set))
	for id := range set {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
