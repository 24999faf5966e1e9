package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/fiscal"
	"shopledger/backend/internal/secrets"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/store/memory"
)

const testKeyHex = "6368616e676520746869732070617373776f726420746f206120736563726574"

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	codec, err := secrets.NewDecryptor(testKeyHex)
	if err != nil {
		t.Fatalf("new decryptor failed: %v", err)
	}
	svc := New(repo, nil, codec, fiscal.NewSigner("https://fiscal.example.test", time.Second, codec), time.Second, time.Second)
	return svc, repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.ActingUser{
		ID:       "user-admin-demo",
		Username: "admin",
		Role:     domain.RoleAdmin,
		TenantID: "user-admin-demo",
	})
}

func attendantCtx() context.Context {
	return WithActor(context.Background(), domain.ActingUser{
		ID:       "user-attendant-demo",
		Username: "attendant",
		Role:     domain.RoleAttendant,
		TenantID: "user-admin-demo",
		ShopID:   "shop-demo",
	})
}

func TestPostSaleComputesExactTotal(t *testing.T) {
	svc, _ := newTestService(t)

	sale, err := svc.PostSale(attendantCtx(), domain.SaleCreateRequest{
		PaymentType:     "cash",
		AmountPaidCents: 20000,
		Items: []domain.SaleItemInput{
			{ProductID: "prod-rice-5kg", Quantity: 2, UnitPriceCents: 8900},
			{ProductID: "prod-soap-bar", Quantity: 3, UnitPriceCents: 900},
		},
	})
	if err != nil {
		t.Fatalf("post sale failed: %v", err)
	}

	want := int64(2*8900 + 3*900)
	if sale.TotalAmountCents != want {
		t.Fatalf("expected total %d, got %d", want, sale.TotalAmountCents)
	}
	if sale.Status != domain.TxStatusCompleted {
		t.Fatalf("expected completed status, got %s", sale.Status)
	}
	if sale.ReceiptNo == "" {
		t.Fatalf("expected receipt number to be assigned")
	}
}

func TestPostSaleDerivesPendingStatusWhenUnderpaid(t *testing.T) {
	svc, _ := newTestService(t)

	sale, err := svc.PostSale(attendantCtx(), domain.SaleCreateRequest{
		PaymentType:     "credit",
		AmountPaidCents: 1000,
		Items: []domain.SaleItemInput{
			{ProductID: "prod-sugar-1kg", Quantity: 2, UnitPriceCents: 1800},
		},
	})
	if err != nil {
		t.Fatalf("post sale failed: %v", err)
	}
	if sale.Status != domain.TxStatusPending {
		t.Fatalf("expected pending status, got %s", sale.Status)
	}
	if sale.OutstandingCents() != 2600 {
		t.Fatalf("expected outstanding 2600, got %d", sale.OutstandingCents())
	}
}

func TestPostSaleDecrementsStock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := attendantCtx()

	before, err := svc.GetProduct(ctx, "", "prod-oil-1l")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}

	_, err = svc.PostSale(ctx, domain.SaleCreateRequest{
		PaymentType:     "cash",
		AmountPaidCents: 13500,
		Items: []domain.SaleItemInput{
			{ProductID: "prod-oil-1l", Quantity: 3, UnitPriceCents: 4500},
		},
	})
	if err != nil {
		t.Fatalf("post sale failed: %v", err)
	}

	after, err := svc.GetProduct(ctx, "", "prod-oil-1l")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if after.Quantity != before.Quantity-3 {
		t.Fatalf("expected quantity %d, got %d", before.Quantity-3, after.Quantity)
	}
}

func TestPostSaleInsufficientStockIsTypedAndAtomic(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := attendantCtx()

	before, err := svc.GetProduct(ctx, "", "prod-rice-5kg")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}

	_, err = svc.PostSale(ctx, domain.SaleCreateRequest{
		PaymentType:     "cash",
		AmountPaidCents: 100000,
		Items: []domain.SaleItemInput{
			{ProductID: "prod-rice-5kg", Quantity: 1, UnitPriceCents: 8900},
			{ProductID: "prod-flour-2kg", Quantity: 9999, UnitPriceCents: 3200},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}

	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected typed insufficient stock error, got %T", err)
	}
	if stockErr.ProductID != "prod-flour-2kg" {
		t.Fatalf("expected blocking product prod-flour-2kg, got %s", stockErr.ProductID)
	}
	if stockErr.Available != 60 {
		t.Fatalf("expected available 60, got %d", stockErr.Available)
	}

	// The valid line must not have moved stock.
	after, err := svc.GetProduct(ctx, "", "prod-rice-5kg")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if after.Quantity != before.Quantity {
		t.Fatalf("expected rice stock unchanged at %d, got %d", before.Quantity, after.Quantity)
	}

	sales, err := svc.ListSales(ctx, "")
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("expected no sale recorded, got %d", len(sales))
	}
}

func TestPostSaleAllowsOversellWhenShopPermitsIt(t *testing.T) {
	svc, _ := newTestService(t)
	adminCtx := adminCtx()

	allow := true
	if _, err := svc.UpdateShop(adminCtx, "shop-demo", domain.ShopUpdateRequest{
		AllowNegativeSelling: &allow,
	}); err != nil {
		t.Fatalf("update shop failed: %v", err)
	}

	sale, err := svc.PostSale(attendantCtx(), domain.SaleCreateRequest{
		PaymentType:     "cash",
		AmountPaidCents: 1000000,
		Items: []domain.SaleItemInput{
			{ProductID: "prod-milk-500ml", Quantity: 100, UnitPriceCents: 1200},
		},
	})
	if err != nil {
		t.Fatalf("expected oversell to succeed, got %v", err)
	}
	if sale.TotalAmountCents != 120000 {
		t.Fatalf("expected total 120000, got %d", sale.TotalAmountCents)
	}

	product, err := svc.GetProduct(attendantCtx(), "", "prod-milk-500ml")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Quantity != -10 {
		t.Fatalf("expected quantity -10, got %d", product.Quantity)
	}
}

func TestPostSaleIdempotencyReturnsOriginal(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := attendantCtx()

	req := domain.SaleCreateRequest{
		PaymentType:     "cash",
		AmountPaidCents: 8900,
		IdempotencyKey:  "idem-retry",
		Items: []domain.SaleItemInput{
			{ProductID: "prod-rice-5kg", Quantity: 1, UnitPriceCents: 8900},
		},
	}

	first, err := svc.PostSale(ctx, req)
	if err != nil {
		t.Fatalf("first post failed: %v", err)
	}
	second, err := svc.PostSale(ctx, req)
	if err != nil {
		t.Fatalf("second post failed: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same sale for duplicate key, got %s and %s", first.ID, second.ID)
	}

	product, err := svc.GetProduct(ctx, "", "prod-rice-5kg")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Quantity != 119 {
		t.Fatalf("expected stock decremented once to 119, got %d", product.Quantity)
	}
}

func TestConcurrentSalesDrainStockToExactlyZero(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := attendantCtx()

	const stock = 60 // seeded quantity of prod-flour-2kg

	var wg sync.WaitGroup
	errs := make([]error, stock)
	for i := 0; i < stock; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = svc.PostSale(ctx, domain.SaleCreateRequest{
				PaymentType:     "cash",
				AmountPaidCents: 3200,
				IdempotencyKey:  fmt.Sprintf("idem-conc-%d", n),
				Items: []domain.SaleItemInput{
					{ProductID: "prod-flour-2kg", Quantity: 1, UnitPriceCents: 3200},
				},
			})
		}(i)
	}
	wg.Wait()

	for n, err := range errs {
		if err != nil {
			t.Fatalf("sale #%d failed: %v", n, err)
		}
	}

	product, err := svc.GetProduct(ctx, "", "prod-flour-2kg")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Quantity != 0 {
		t.Fatalf("expected quantity exactly 0, got %d", product.Quantity)
	}

	_, err = svc.PostSale(ctx, domain.SaleCreateRequest{
		PaymentType:     "cash",
		AmountPaidCents: 3200,
		Items: []domain.SaleItemInput{
			{ProductID: "prod-flour-2kg", Quantity: 1, UnitPriceCents: 3200},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock on drained product, got %v", err)
	}
}

func TestPostSaleSigningFailureDoesNotFailTheSale(t *testing.T) {
	svc, repo := newTestService(t)
	adminCtx := adminCtx()

	// Enable fiscal directly on the store with incomplete credentials so the
	// signer fails with a config error.
	shop, err := repo.GetShop(context.Background(), "shop-demo", "user-admin-demo")
	if err != nil {
		t.Fatalf("get shop failed: %v", err)
	}
	shop.FiscalEnabled = true
	shop.Fiscal.DeviceUID = "device-001"
	if _, err := repo.UpdateShop(context.Background(), *shop); err != nil {
		t.Fatalf("update shop failed: %v", err)
	}

	sale, err := svc.PostSale(adminCtx, domain.SaleCreateRequest{
		ShopID:          "shop-demo",
		PaymentType:     "cash",
		AmountPaidCents: 8900,
		Items: []domain.SaleItemInput{
			{ProductID: "prod-rice-5kg", Quantity: 1, UnitPriceCents: 8900},
		},
	})
	if err != nil {
		t.Fatalf("expected committed sale despite signing failure, got %v", err)
	}
	if sale.Signed {
		t.Fatalf("expected sale to remain unsigned")
	}
	if sale.Fiscal != nil {
		t.Fatalf("expected no fiscal record on unsigned sale")
	}

	// The posting itself must have gone through.
	fetched, err := svc.GetSale(adminCtx, sale.ID)
	if err != nil {
		t.Fatalf("get sale failed: %v", err)
	}
	if fetched.TotalAmountCents != 8900 {
		t.Fatalf("expected committed total 8900, got %d", fetched.TotalAmountCents)
	}
}

func TestSignSaleIsIdempotentForSignedSales(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := attendantCtx()

	sale, err := svc.PostSale(ctx, domain.SaleCreateRequest{
		PaymentType:     "cash",
		AmountPaidCents: 900,
		Items: []domain.SaleItemInput{
			{ProductID: "prod-soap-bar", Quantity: 1, UnitPriceCents: 900},
		},
	})
	if err != nil {
		t.Fatalf("post sale failed: %v", err)
	}

	signed, err := repo.MarkSaleSigned(context.Background(), sale.ID, domain.FiscalData{
		InvoiceNumber: "INV-0001",
		SignedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("mark signed failed: %v", err)
	}
	if !signed.Signed {
		t.Fatalf("expected sale to be signed")
	}

	again, err := svc.SignSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("expected retry on signed sale to succeed, got %v", err)
	}
	if again.Fiscal == nil || again.Fiscal.InvoiceNumber != "INV-0001" {
		t.Fatalf("expected original fiscal record to be kept, got %+v", again.Fiscal)
	}
}

func TestSignSaleRejectedWhenFiscalDisabled(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := attendantCtx()

	sale, err := svc.PostSale(ctx, domain.SaleCreateRequest{
		PaymentType:     "cash",
		AmountPaidCents: 900,
		Items: []domain.SaleItemInput{
			{ProductID: "prod-soap-bar", Quantity: 1, UnitPriceCents: 900},
		},
	})
	if err != nil {
		t.Fatalf("post sale failed: %v", err)
	}

	_, err = svc.SignSale(ctx, sale.ID)
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for disabled fiscal, got %v", err)
	}
}

func TestPostPurchaseRequiresAdminAndIncrementsStock(t *testing.T) {
	svc, _ := newTestService(t)
	adminCtx := adminCtx()

	supplier, err := svc.CreateSupplier(adminCtx, domain.SupplierCreateRequest{
		Name: "Grain Wholesale Ltd",
	})
	if err != nil {
		t.Fatalf("create supplier failed: %v", err)
	}

	_, err = svc.PostPurchase(attendantCtx(), domain.PurchaseCreateRequest{
		ShopID:          "shop-demo",
		SupplierID:      supplier.ID,
		PaymentType:     "cash",
		AmountPaidCents: 72000,
		Items: []domain.PurchaseItemInput{
			{ProductID: "prod-rice-5kg", Quantity: 10, UnitPriceCents: 7200},
		},
	})
	if err == nil {
		t.Fatalf("expected attendant purchase to be rejected")
	}

	purchase, err := svc.PostPurchase(adminCtx, domain.PurchaseCreateRequest{
		ShopID:          "shop-demo",
		SupplierID:      supplier.ID,
		PaymentType:     "credit",
		AmountPaidCents: 0,
		Items: []domain.PurchaseItemInput{
			{ProductID: "prod-rice-5kg", Quantity: 10, UnitPriceCents: 7200},
		},
	})
	if err != nil {
		t.Fatalf("post purchase failed: %v", err)
	}
	if purchase.TotalAmountCents != 72000 {
		t.Fatalf("expected total 72000, got %d", purchase.TotalAmountCents)
	}
	if purchase.Status != domain.TxStatusPending {
		t.Fatalf("expected pending status for unpaid purchase, got %s", purchase.Status)
	}
	if purchase.SupplierName != "Grain Wholesale Ltd" {
		t.Fatalf("unexpected supplier name %q", purchase.SupplierName)
	}

	product, err := svc.GetProduct(adminCtx, "shop-demo", "prod-rice-5kg")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Quantity != 130 {
		t.Fatalf("expected quantity 130 after intake, got %d", product.Quantity)
	}
}

func TestForeignTenantShopIsNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	otherAdmin := WithActor(context.Background(), domain.ActingUser{
		ID:       "user-other-admin",
		Username: "other",
		Role:     domain.RoleAdmin,
		TenantID: "user-other-admin",
	})

	_, err := svc.ListProducts(otherAdmin, "shop-demo")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for foreign tenant, got %v", err)
	}

	_, err = svc.PostSale(otherAdmin, domain.SaleCreateRequest{
		ShopID:          "shop-demo",
		PaymentType:     "cash",
		AmountPaidCents: 900,
		Items: []domain.SaleItemInput{
			{ProductID: "prod-soap-bar", Quantity: 1, UnitPriceCents: 900},
		},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for foreign tenant posting, got %v", err)
	}
}

func TestAttendantIsPinnedToTheirShop(t *testing.T) {
	svc, _ := newTestService(t)
	adminCtx := adminCtx()

	other, err := svc.CreateShop(adminCtx, domain.ShopCreateRequest{Name: "Second Branch"})
	if err != nil {
		t.Fatalf("create shop failed: %v", err)
	}

	// An attendant naming another shop is refused with the same error an
	// absent shop would produce.
	_, err = svc.PostSale(attendantCtx(), domain.SaleCreateRequest{
		ShopID:          other.ID,
		PaymentType:     "cash",
		AmountPaidCents: 900,
		Items: []domain.SaleItemInput{
			{ProductID: "prod-soap-bar", Quantity: 1, UnitPriceCents: 900},
		},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for foreign shop, got %v", err)
	}

	// Omitting the shop id posts into the attendant's own shop.
	sale, err := svc.PostSale(attendantCtx(), domain.SaleCreateRequest{
		PaymentType:     "cash",
		AmountPaidCents: 900,
		Items: []domain.SaleItemInput{
			{ProductID: "prod-soap-bar", Quantity: 1, UnitPriceCents: 900},
		},
	})
	if err != nil {
		t.Fatalf("post sale failed: %v", err)
	}
	if sale.ShopID != "shop-demo" {
		t.Fatalf("expected sale in shop-demo, got %s", sale.ShopID)
	}
}

func TestPostSaleRejectsMalformedRequests(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := attendantCtx()

	cases := []struct {
		name string
		req  domain.SaleCreateRequest
	}{
		{"no items", domain.SaleCreateRequest{PaymentType: "cash"}},
		{"bad payment type", domain.SaleCreateRequest{
			PaymentType: "barter",
			Items:       []domain.SaleItemInput{{ProductID: "prod-soap-bar", Quantity: 1, UnitPriceCents: 900}},
		}},
		{"zero quantity", domain.SaleCreateRequest{
			PaymentType: "cash",
			Items:       []domain.SaleItemInput{{ProductID: "prod-soap-bar", Quantity: 0, UnitPriceCents: 900}},
		}},
		{"negative price", domain.SaleCreateRequest{
			PaymentType: "cash",
			Items:       []domain.SaleItemInput{{ProductID: "prod-soap-bar", Quantity: 1, UnitPriceCents: -1}},
		}},
		{"negative paid", domain.SaleCreateRequest{
			PaymentType:     "cash",
			AmountPaidCents: -1,
			Items:           []domain.SaleItemInput{{ProductID: "prod-soap-bar", Quantity: 1, UnitPriceCents: 900}},
		}},
	}

	for _, tc := range cases {
		if _, err := svc.PostSale(ctx, tc.req); !errors.Is(err, store.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestConfigureShopFiscalEncryptsCredentials(t *testing.T) {
	svc, repo := newTestService(t)
	adminCtx := adminCtx()

	_, err := svc.ConfigureShopFiscal(adminCtx, "shop-demo", domain.FiscalConfigRequest{
		Enabled:   true,
		DeviceUID: "device-042",
		Password:  "device-password",
		PAC:       "123456",
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error without certificate, got %v", err)
	}

	shop, err := svc.ConfigureShopFiscal(adminCtx, "shop-demo", domain.FiscalConfigRequest{
		Enabled:          true,
		DeviceUID:        "device-042",
		InvoiceType:      domain.InvoiceTypeTraining,
		SandboxMode:      true,
		Password:         "device-password",
		PAC:              "123456",
		CertBundleBase64: "Y2VydC1idW5kbGU=",
	})
	if err != nil {
		t.Fatalf("configure fiscal failed: %v", err)
	}
	if !shop.FiscalEnabled {
		t.Fatalf("expected fiscal to be enabled")
	}

	stored, err := repo.GetShop(context.Background(), "shop-demo", "user-admin-demo")
	if err != nil {
		t.Fatalf("get shop failed: %v", err)
	}
	if stored.Fiscal.EncryptedPassword.Empty() || stored.Fiscal.EncryptedPAC.Empty() {
		t.Fatalf("expected encrypted credentials to be stored")
	}
	if stored.Fiscal.EncryptedPassword.Content == "device-password" {
		t.Fatalf("password must not be stored in plaintext")
	}

	codec, err := secrets.NewDecryptor(testKeyHex)
	if err != nil {
		t.Fatalf("new decryptor failed: %v", err)
	}
	plain, err := codec.Decrypt(stored.Fiscal.EncryptedPassword)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if plain != "device-password" {
		t.Fatalf("expected roundtrip password, got %q", plain)
	}
}

func TestConfigureShopFiscalWithoutPAC(t *testing.T) {
	svc, repo := newTestService(t)
	adminCtx := adminCtx()

	// Some devices authenticate with certificate and password alone.
	shop, err := svc.ConfigureShopFiscal(adminCtx, "shop-demo", domain.FiscalConfigRequest{
		Enabled:          true,
		DeviceUID:        "device-042",
		Password:         "device-password",
		CertBundleBase64: "Y2VydC1idW5kbGU=",
	})
	if err != nil {
		t.Fatalf("configure fiscal failed: %v", err)
	}
	if !shop.FiscalEnabled {
		t.Fatalf("expected fiscal to be enabled")
	}

	stored, err := repo.GetShop(context.Background(), "shop-demo", "user-admin-demo")
	if err != nil {
		t.Fatalf("get shop failed: %v", err)
	}
	if !stored.Fiscal.EncryptedPAC.Empty() {
		t.Fatalf("expected no PAC to be stored")
	}
	if stored.Fiscal.EncryptedPassword.Empty() {
		t.Fatalf("expected encrypted password to be stored")
	}
}

func TestProductUpdateNeverMovesQuantity(t *testing.T) {
	svc, _ := newTestService(t)
	adminCtx := adminCtx()

	price := int64(9500)
	updated, err := svc.UpdateProduct(adminCtx, "shop-demo", "prod-rice-5kg", domain.ProductUpdateRequest{
		SellingPriceCents: &price,
	})
	if err != nil {
		t.Fatalf("update product failed: %v", err)
	}
	if updated.SellingPriceCents != 9500 {
		t.Fatalf("expected price 9500, got %d", updated.SellingPriceCents)
	}
	if updated.Quantity != 120 {
		t.Fatalf("expected quantity untouched at 120, got %d", updated.Quantity)
	}
}

func TestSaleKeepsRequestPriceNotCatalogPrice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := attendantCtx()

	// Negotiated price differs from the catalog price; the sale records what
	// was charged.
	sale, err := svc.PostSale(ctx, domain.SaleCreateRequest{
		PaymentType:     "cash",
		AmountPaidCents: 8000,
		Items: []domain.SaleItemInput{
			{ProductID: "prod-rice-5kg", Quantity: 1, UnitPriceCents: 8000},
		},
	})
	if err != nil {
		t.Fatalf("post sale failed: %v", err)
	}
	if sale.TotalAmountCents != 8000 {
		t.Fatalf("expected negotiated total 8000, got %d", sale.TotalAmountCents)
	}
	if sale.Items[0].UnitPriceCents != 8000 {
		t.Fatalf("expected recorded unit price 8000, got %d", sale.Items[0].UnitPriceCents)
	}
}

func TestPostSaleTotalsManyLines(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminCtx()

	// 50 one-cent-spread lines catch any rounding or overflow slip in the
	// total accumulation.
	items := make([]domain.SaleItemInput, 0, 50)
	want := int64(0)
	for i := 0; i < 50; i++ {
		price := int64(100 + i)
		items = append(items, domain.SaleItemInput{ProductID: "prod-sugar-1kg", Quantity: 2, UnitPriceCents: price})
		want += 2 * price
	}

	sale, err := svc.PostSale(ctx, domain.SaleCreateRequest{
		ShopID:          "shop-demo",
		PaymentType:     "cash",
		AmountPaidCents: want,
		Items:           items,
	})
	if err != nil {
		t.Fatalf("post sale failed: %v", err)
	}
	if sale.TotalAmountCents != want {
		t.Fatalf("expected total %d, got %d", want, sale.TotalAmountCents)
	}

	product, err := svc.GetProduct(ctx, "shop-demo", "prod-sugar-1kg")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Quantity != 200-100 {
		t.Fatalf("expected quantity 100 after 100 units sold, got %d", product.Quantity)
	}
}

func TestStockDrainsToZeroThenBlocks(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := attendantCtx()

	// Flour is seeded at 60; selling all of it leaves exactly zero.
	if _, err := svc.PostSale(ctx, domain.SaleCreateRequest{
		PaymentType:     "cash",
		AmountPaidCents: 60 * 3200,
		Items: []domain.SaleItemInput{
			{ProductID: "prod-flour-2kg", Quantity: 60, UnitPriceCents: 3200},
		},
	}); err != nil {
		t.Fatalf("sale of full stock failed: %v", err)
	}

	product, err := svc.GetProduct(ctx, "shop-demo", "prod-flour-2kg")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Quantity != 0 {
		t.Fatalf("expected quantity 0, got %d", product.Quantity)
	}

	_, err = svc.PostSale(ctx, domain.SaleCreateRequest{
		PaymentType:     "cash",
		AmountPaidCents: 3200,
		Items: []domain.SaleItemInput{
			{ProductID: "prod-flour-2kg", Quantity: 1, UnitPriceCents: 3200},
		},
	})
	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	if stockErr.Available != 0 {
		t.Fatalf("expected available 0, got %d", stockErr.Available)
	}
}

func TestDeleteSupplierBlockedWhileReferenced(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminCtx()

	supplier, err := svc.CreateSupplier(ctx, domain.SupplierCreateRequest{Name: "Grain Wholesale Ltd"})
	if err != nil {
		t.Fatalf("create supplier failed: %v", err)
	}

	if _, err := svc.PostPurchase(ctx, domain.PurchaseCreateRequest{
		ShopID:          "shop-demo",
		SupplierID:      supplier.ID,
		PaymentType:     "cash",
		AmountPaidCents: 36000,
		Items: []domain.PurchaseItemInput{
			{ProductID: "prod-rice-5kg", Quantity: 5, UnitPriceCents: 7200},
		},
	}); err != nil {
		t.Fatalf("post purchase failed: %v", err)
	}

	if err := svc.DeleteSupplier(ctx, supplier.ID); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for referenced supplier, got %v", err)
	}

	other, err := svc.CreateSupplier(ctx, domain.SupplierCreateRequest{Name: "Unused Importer"})
	if err != nil {
		t.Fatalf("create second supplier failed: %v", err)
	}
	if err := svc.DeleteSupplier(ctx, other.ID); err != nil {
		t.Fatalf("delete unreferenced supplier failed: %v", err)
	}

	if err := svc.DeleteSupplier(attendantCtx(), supplier.ID); err == nil {
		t.Fatalf("expected attendant supplier delete to be rejected")
	}
}

func TestDeleteCustomerScopedToTenant(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()

	customer, err := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "Walk-in Regular"})
	if err != nil {
		t.Fatalf("create customer failed: %v", err)
	}

	foreignCtx := WithActor(context.Background(), domain.ActingUser{
		ID:       "user-other-admin",
		Username: "other",
		Role:     domain.RoleAdmin,
		TenantID: "user-other-admin",
	})
	if err := svc.DeleteCustomer(foreignCtx, customer.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for foreign tenant, got %v", err)
	}

	if err := svc.DeleteCustomer(ctx, customer.ID); err != nil {
		t.Fatalf("delete customer failed: %v", err)
	}
	if _, err := repo.GetCustomer(context.Background(), customer.ID, "user-admin-demo"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected customer to be gone, got %v", err)
	}
}
