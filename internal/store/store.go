package store

import (
	"context"
	"errors"
	"fmt"

	"shopledger/backend/internal/domain"
)

var (
	// ErrNotFound covers both "does not exist" and "exists but belongs to
	// another tenant" so that callers cannot probe for foreign entities.
	ErrNotFound = errors.New("not found")

	ErrValidation        = errors.New("invalid input")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// InsufficientStockError names the product that blocked a sale and the
// quantity that was actually available inside the posting transaction.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s (available: %d)", e.ProductName, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type Repository interface {
	CreateShop(ctx context.Context, shop domain.Shop) (*domain.Shop, error)
	GetShop(ctx context.Context, shopID string, tenantID string) (*domain.Shop, error)
	ListShops(ctx context.Context, tenantID string) ([]domain.Shop, error)
	UpdateShop(ctx context.Context, shop domain.Shop) (*domain.Shop, error)

	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, productID string, shopID string) (*domain.Product, error)
	ListProducts(ctx context.Context, shopID string) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, productID string, shopID string) error

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, customerID string, tenantID string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, tenantID string) ([]domain.Customer, error)
	DeleteCustomer(ctx context.Context, customerID string, tenantID string) error

	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	GetSupplier(ctx context.Context, supplierID string, tenantID string) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context, tenantID string) ([]domain.Supplier, error)
	// DeleteSupplier fails with ErrValidation while purchases or products still
	// reference the supplier.
	DeleteSupplier(ctx context.Context, supplierID string, tenantID string) error

	CreateCategory(ctx context.Context, category domain.ProductCategory) (*domain.ProductCategory, error)
	ListCategories(ctx context.Context, tenantID string) ([]domain.ProductCategory, error)
	DeleteCategory(ctx context.Context, categoryID string, tenantID string) error

	// CreateSale posts a sale atomically: product re-read, stock validation
	// under the shop's negative-selling policy, total computation, header and
	// item insertion and the stock decrement all commit or none do.
	CreateSale(ctx context.Context, sale domain.Sale, allowNegative bool) (*domain.Sale, error)
	// CreatePurchase is the increment-side counterpart; no stock policy applies.
	CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error)
	GetSale(ctx context.Context, saleID string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	ListSalesByShop(ctx context.Context, shopID string) ([]domain.Sale, error)
	ListPurchasesByShop(ctx context.Context, shopID string) ([]domain.Purchase, error)
	// MarkSaleSigned persists the fiscal sub-record exactly once. A sale that
	// is already signed is returned unchanged.
	MarkSaleSigned(ctx context.Context, saleID string, data domain.FiscalData) (*domain.Sale, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, tenantID string, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
