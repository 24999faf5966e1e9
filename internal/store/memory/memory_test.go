package memory

import (
	"context"
	"errors"
	"testing"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

func demoSale(receiptNo string) domain.Sale {
	return domain.Sale{
		ShopID:      "shop-demo",
		ReceiptNo:   receiptNo,
		PaymentType: "cash",
		Items: []domain.SaleItem{
			{ProductID: "prod-sugar-1kg", Quantity: 1, UnitPriceCents: 1800},
		},
	}
}

func TestCreateSaleRejectsDuplicateReceiptNo(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if _, err := s.CreateSale(ctx, demoSale("REC-DUP-1"), false); err != nil {
		t.Fatalf("first sale failed: %v", err)
	}
	if _, err := s.CreateSale(ctx, demoSale("REC-DUP-1"), false); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error on duplicate receipt number, got %v", err)
	}
}

func TestCreateSaleGeneratesUniqueReceiptNumbers(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		sale, err := s.CreateSale(ctx, demoSale(""), false)
		if err != nil {
			t.Fatalf("sale %d failed: %v", i, err)
		}
		if sale.ReceiptNo == "" {
			t.Fatalf("sale %d has empty receipt number", i)
		}
		if _, dup := seen[sale.ReceiptNo]; dup {
			t.Fatalf("duplicate receipt number %q", sale.ReceiptNo)
		}
		seen[sale.ReceiptNo] = struct{}{}
	}
}

func TestCreatePurchaseRejectsDuplicatePurchaseNo(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	supplier, err := s.CreateSupplier(ctx, domain.Supplier{TenantID: "user-admin-demo", Name: "Sweetco"})
	if err != nil {
		t.Fatalf("create supplier failed: %v", err)
	}

	purchase := domain.Purchase{
		ShopID:      "shop-demo",
		SupplierID:  supplier.ID,
		PurchaseNo:  "PUR-DUP-1",
		PaymentType: "bank",
		Items: []domain.PurchaseItem{
			{ProductID: "prod-sugar-1kg", Quantity: 5, UnitPriceCents: 1500},
		},
	}
	if _, err := s.CreatePurchase(ctx, purchase); err != nil {
		t.Fatalf("first purchase failed: %v", err)
	}
	if _, err := s.CreatePurchase(ctx, purchase); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error on duplicate purchase number, got %v", err)
	}
}
