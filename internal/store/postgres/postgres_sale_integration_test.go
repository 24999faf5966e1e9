package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"shopledger/backend/internal/domain"
)

func TestSalePostingDecrementsStockAndStaysIdempotent(t *testing.T) {
	databaseURL := os.Getenv("SHOPLEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set SHOPLEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	tenantID := fmt.Sprintf("user-it-%d", stamp)
	shopID := fmt.Sprintf("shop-it-%d", stamp)
	productID := fmt.Sprintf("prod-it-%d", stamp)
	idempotencyKey := fmt.Sprintf("idem-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE shop_id = $1`, shopID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM shops WHERE id = $1`, shopID)
	})

	if _, err := s.CreateShop(ctx, domain.Shop{
		ID:       shopID,
		TenantID: tenantID,
		Name:     "Integration Shop",
		Currency: "USD",
	}); err != nil {
		t.Fatalf("create shop: %v", err)
	}

	if _, err := s.CreateProduct(ctx, domain.Product{
		ID:                productID,
		ShopID:            shopID,
		Name:              "Integration Rice 5kg",
		SellingPriceCents: 8900,
		BuyingPriceCents:  7200,
		Quantity:          10,
		CreatedBy:         "admin",
	}); err != nil {
		t.Fatalf("create product: %v", err)
	}

	sale := domain.Sale{
		ShopID:          shopID,
		PaymentType:     "cash",
		AmountPaidCents: 17800,
		ProcessedBy:     "admin",
		IdempotencyKey:  idempotencyKey,
		Items: []domain.SaleItem{
			{ProductID: productID, Quantity: 2, UnitPriceCents: 8900},
		},
	}
	created, err := s.CreateSale(ctx, sale, false)
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if created.TotalAmountCents != 17800 {
		t.Fatalf("expected total 17800, got %d", created.TotalAmountCents)
	}
	if created.Status != domain.TxStatusCompleted {
		t.Fatalf("expected completed status, got %s", created.Status)
	}

	var qty int
	if err := s.db.QueryRowContext(ctx, `
		SELECT quantity FROM products WHERE id = $1
	`, productID).Scan(&qty); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if qty != 8 {
		t.Fatalf("expected stock 8 after sale, got %d", qty)
	}

	retry, err := s.CreateSale(ctx, sale, false)
	if err != nil {
		t.Fatalf("idempotent retry: %v", err)
	}
	if retry.ID != created.ID {
		t.Fatalf("expected retry to return original sale %s, got %s", created.ID, retry.ID)
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT quantity FROM products WHERE id = $1
	`, productID).Scan(&qty); err != nil {
		t.Fatalf("query stock after retry: %v", err)
	}
	if qty != 8 {
		t.Fatalf("expected stock unchanged at 8 after retry, got %d", qty)
	}

	signed, err := s.MarkSaleSigned(ctx, created.ID, domain.FiscalData{InvoiceNumber: "INV-IT-0001"})
	if err != nil {
		t.Fatalf("mark sale signed: %v", err)
	}
	if !signed.Signed || signed.Fiscal == nil || signed.Fiscal.InvoiceNumber != "INV-IT-0001" {
		t.Fatalf("expected signed sale with fiscal record, got %+v", signed)
	}

	// A second signing attempt must not overwrite the original fiscal record.
	again, err := s.MarkSaleSigned(ctx, created.ID, domain.FiscalData{InvoiceNumber: "INV-IT-9999"})
	if err != nil {
		t.Fatalf("second mark sale signed: %v", err)
	}
	if again.Fiscal == nil || again.Fiscal.InvoiceNumber != "INV-IT-0001" {
		t.Fatalf("expected first fiscal record to win, got %+v", again.Fiscal)
	}
}
