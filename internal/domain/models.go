package domain

import "time"

const (
	RoleAdmin     = "admin"
	RoleAttendant = "attendant"
)

// ActingUser identifies who is performing an operation. For admins TenantID is
// the admin's own account ID; for attendants it is the owning admin's ID and
// ShopID is the shop the attendant is pinned to.
type ActingUser struct {
	ID       string
	Username string
	Role     string
	TenantID string
	ShopID   string
}

const (
	InvoiceTypeTraining = "Training"
	InvoiceTypeNormal   = "Normal"
)

// EncryptedSecret is an AES-256-GCM ciphertext bundle with hex-encoded fields.
type EncryptedSecret struct {
	IV      string `json:"iv"`
	Content string `json:"content"`
	AuthTag string `json:"auth_tag"`
}

func (s *EncryptedSecret) Empty() bool {
	return s == nil || s.IV == "" || s.Content == "" || s.AuthTag == ""
}

type FiscalSettings struct {
	DeviceUID         string           `json:"device_uid"`
	InvoiceType       string           `json:"invoice_type"`
	SandboxMode       bool             `json:"sandbox_mode"`
	EncryptedPassword *EncryptedSecret `json:"encrypted_password,omitempty"`
	EncryptedPAC      *EncryptedSecret `json:"encrypted_pac,omitempty"`
	CertBundle        []byte           `json:"-"`
}

type Shop struct {
	ID                   string         `json:"id"`
	TenantID             string         `json:"-"`
	Name                 string         `json:"name"`
	Address              string         `json:"address,omitempty"`
	Contact              string         `json:"contact,omitempty"`
	Currency             string         `json:"currency"`
	TIN                  string         `json:"tin,omitempty"`
	AllowNegativeSelling bool           `json:"allow_negative_selling"`
	FiscalEnabled        bool           `json:"fiscal_enabled"`
	Fiscal               FiscalSettings `json:"-"`
	CreatedAt            time.Time      `json:"created_at"`
}

type ShopCreateRequest struct {
	Name                 string `json:"name"`
	Address              string `json:"address"`
	Contact              string `json:"contact"`
	Currency             string `json:"currency"`
	TIN                  string `json:"tin"`
	AllowNegativeSelling bool   `json:"allow_negative_selling"`
}

type ShopUpdateRequest struct {
	Name                 *string `json:"name,omitempty"`
	Address              *string `json:"address,omitempty"`
	Contact              *string `json:"contact,omitempty"`
	Currency             *string `json:"currency,omitempty"`
	TIN                  *string `json:"tin,omitempty"`
	AllowNegativeSelling *bool   `json:"allow_negative_selling,omitempty"`
}

// FiscalConfigRequest carries device credentials in plaintext over TLS; they
// are encrypted before they reach the store.
type FiscalConfigRequest struct {
	Enabled          bool   `json:"enabled"`
	DeviceUID        string `json:"device_uid"`
	InvoiceType      string `json:"invoice_type"`
	SandboxMode      bool   `json:"sandbox_mode"`
	Password         string `json:"password"`
	PAC              string `json:"pac"`
	CertBundleBase64 string `json:"cert_bundle_base64"`
}

type Product struct {
	ID                string    `json:"id"`
	ShopID            string    `json:"shop_id"`
	Name              string    `json:"name"`
	Description       string    `json:"description,omitempty"`
	SellingPriceCents int64     `json:"selling_price_cents"`
	BuyingPriceCents  int64     `json:"buying_price_cents"`
	Quantity          int       `json:"quantity"`
	ReorderLevel      int       `json:"reorder_level"`
	Barcode           string    `json:"barcode,omitempty"`
	CategoryID        string    `json:"category_id,omitempty"`
	SupplierID        string    `json:"supplier_id,omitempty"`
	CreatedBy         string    `json:"created_by"`
	CreatedAt         time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	ShopID            string `json:"shop_id"`
	Name              string `json:"name"`
	Description       string `json:"description"`
	SellingPriceCents int64  `json:"selling_price_cents"`
	BuyingPriceCents  int64  `json:"buying_price_cents"`
	InitialQuantity   int    `json:"initial_quantity"`
	ReorderLevel      int    `json:"reorder_level"`
	Barcode           string `json:"barcode"`
	CategoryID        string `json:"category_id"`
	SupplierID        string `json:"supplier_id"`
}

// ProductUpdateRequest deliberately has no quantity field: quantities move
// only through sale and purchase postings.
type ProductUpdateRequest struct {
	Name              *string `json:"name,omitempty"`
	Description       *string `json:"description,omitempty"`
	SellingPriceCents *int64  `json:"selling_price_cents,omitempty"`
	BuyingPriceCents  *int64  `json:"buying_price_cents,omitempty"`
	ReorderLevel      *int    `json:"reorder_level,omitempty"`
	Barcode           *string `json:"barcode,omitempty"`
	CategoryID        *string `json:"category_id,omitempty"`
	SupplierID        *string `json:"supplier_id,omitempty"`
}

type Customer struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"-"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

type Supplier struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"-"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

type ProductCategory struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"-"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	TxStatusCompleted = "completed"
	TxStatusPending   = "pending"
)

// SaleItem records the unit price at the time of sale; it is never re-derived
// from the product's current price.
type SaleItem struct {
	ID             string `json:"id"`
	SaleID         string `json:"sale_id"`
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name,omitempty"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

func (i SaleItem) TotalCents() int64 {
	return int64(i.Quantity) * i.UnitPriceCents
}

// FiscalData is the signing sub-record. Nil until signing succeeds, immutable
// afterwards.
type FiscalData struct {
	InvoiceNumber string    `json:"invoice_number"`
	QRCode        string    `json:"qr_code,omitempty"`
	Journal       string    `json:"journal,omitempty"`
	SignedAt      time.Time `json:"signed_at"`
}

type Sale struct {
	ID               string      `json:"id"`
	ReceiptNo        string      `json:"receipt_no"`
	ShopID           string      `json:"shop_id"`
	CustomerID       string      `json:"customer_id,omitempty"`
	CustomerName     string      `json:"customer_name,omitempty"`
	Items            []SaleItem  `json:"items"`
	TotalAmountCents int64       `json:"total_amount_cents"`
	AmountPaidCents  int64       `json:"amount_paid_cents"`
	PaymentType      string      `json:"payment_type"`
	Status           string      `json:"status"`
	ProcessedBy      string      `json:"processed_by"`
	Signed           bool        `json:"signed"`
	Fiscal           *FiscalData `json:"fiscal,omitempty"`
	IdempotencyKey   string      `json:"-"`
	CreatedAt        time.Time   `json:"created_at"`
}

func (s Sale) OutstandingCents() int64 {
	return s.TotalAmountCents - s.AmountPaidCents
}

type SaleItemInput struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type SaleCreateRequest struct {
	ShopID          string          `json:"shop_id,omitempty"`
	CustomerID      string          `json:"customer_id,omitempty"`
	Items           []SaleItemInput `json:"items"`
	PaymentType     string          `json:"payment_type"`
	AmountPaidCents int64           `json:"amount_paid_cents"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
}

type PurchaseItem struct {
	ID             string `json:"id"`
	PurchaseID     string `json:"purchase_id"`
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name,omitempty"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

func (i PurchaseItem) TotalCents() int64 {
	return int64(i.Quantity) * i.UnitPriceCents
}

type Purchase struct {
	ID               string         `json:"id"`
	PurchaseNo       string         `json:"purchase_no"`
	ShopID           string         `json:"shop_id"`
	SupplierID       string         `json:"supplier_id"`
	SupplierName     string         `json:"supplier_name,omitempty"`
	Items            []PurchaseItem `json:"items"`
	TotalAmountCents int64          `json:"total_amount_cents"`
	AmountPaidCents  int64          `json:"amount_paid_cents"`
	PaymentType      string         `json:"payment_type"`
	Status           string         `json:"status"`
	RecordedBy       string         `json:"recorded_by"`
	CreatedAt        time.Time      `json:"created_at"`
}

func (p Purchase) OutstandingCents() int64 {
	return p.TotalAmountCents - p.AmountPaidCents
}

type PurchaseItemInput struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type PurchaseCreateRequest struct {
	ShopID          string              `json:"shop_id"`
	SupplierID      string              `json:"supplier_id"`
	Items           []PurchaseItemInput `json:"items"`
	PaymentType     string              `json:"payment_type"`
	AmountPaidCents int64               `json:"amount_paid_cents"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ShopID      string `json:"shop_id,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

type AttendantCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	ShopID   string `json:"shop_id"`
}

type AttendantUser struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	ShopID    string    `json:"shop_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is the internal persistence model for auth credentials. Admin
// accounts have TenantID equal to their own ID and an empty ShopID.
type UserAccount struct {
	ID        string
	Username  string
	Password  string
	Role      string
	TenantID  string
	ShopID    string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	ShopID        string    `json:"shop_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

var salePaymentTypes = map[string]bool{
	"cash":   true,
	"credit": true,
	"card":   true,
	"bank":   true,
	"wallet": true,
	"mobile": true,
	"split":  true,
}

var purchasePaymentTypes = map[string]bool{
	"cash":   true,
	"credit": true,
	"bank":   true,
}

func IsSalePaymentType(paymentType string) bool {
	return salePaymentTypes[paymentType]
}

func IsPurchasePaymentType(paymentType string) bool {
	return purchasePaymentTypes[paymentType]
}
