package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/xid"
)

type AuthManager struct {
	mu        sync.RWMutex
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
	users     map[string]credential
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type credential struct {
	id       string
	password string
	role     string
	tenantID string
	shopID   string
	active   bool
	created  time.Time
}

type ledgerClaims struct {
	jwtlib.RegisteredClaims
	UID      string `json:"uid"`
	Role     string `json:"role"`
	TenantID string `json:"tenant_id"`
	ShopID   string `json:"shop_id,omitempty"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	manager := &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		users:     make(map[string]credential),
	}
	// context.Background() is appropriate here because this is a startup
	// operation that runs before any request context exists.
	manager.bootstrapUsers(context.Background())
	return manager
}

func (a *AuthManager) Login(req domain.LoginRequest) (domain.LoginResponse, error) {
	// bootstrapUsers runs on every login to pick up accounts added outside
	// this process. Acceptable for low-traffic back-office deployments.
	a.bootstrapUsers(context.Background())
	username := strings.ToLower(strings.TrimSpace(req.Username))
	a.mu.RLock()
	cred, ok := a.users[username]
	a.mu.RUnlock()
	if !ok {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}

	if !verifyPassword(cred.password, req.Password) {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}
	if !cred.active {
		return domain.LoginResponse{}, errors.New("account is inactive")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, cred, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        cred.role,
		ShopID:      cred.shopID,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.ActingUser, error) {
	claims := &ledgerClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.ActingUser{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.ActingUser{}, errors.New("invalid token subject")
	}
	if claims.TenantID == "" {
		return domain.ActingUser{}, errors.New("invalid token tenant")
	}
	return domain.ActingUser{
		ID:       claims.UID,
		Username: sub,
		Role:     claims.Role,
		TenantID: claims.TenantID,
		ShopID:   claims.ShopID,
	}, nil
}

func (a *AuthManager) sign(username string, cred credential, expiresAt time.Time) (string, error) {
	claims := ledgerClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "shopledger",
		},
		UID:      cred.id,
		Role:     cred.role,
		TenantID: cred.tenantID,
		ShopID:   cred.shopID,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// CreateAttendant registers a shop-pinned account under the calling admin's
// tenant. The caller is responsible for verifying shop ownership first.
func (a *AuthManager) CreateAttendant(actor domain.ActingUser, req domain.AttendantCreateRequest) (domain.AttendantUser, error) {
	a.bootstrapUsers(context.Background())
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" || len(username) < 4 {
		return domain.AttendantUser{}, fmt.Errorf("username must be at least 4 characters")
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.AttendantUser{}, fmt.Errorf("username must not contain spaces")
	}
	if strings.TrimSpace(req.Password) == "" || len(req.Password) < 6 {
		return domain.AttendantUser{}, fmt.Errorf("password must be at least 6 characters")
	}
	shopID := strings.TrimSpace(req.ShopID)
	if shopID == "" {
		return domain.AttendantUser{}, fmt.Errorf("shop_id is required")
	}

	a.mu.RLock()
	_, exists := a.users[username]
	a.mu.RUnlock()
	if exists {
		return domain.AttendantUser{}, fmt.Errorf("username already exists")
	}

	now := time.Now().UTC()
	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.AttendantUser{}, fmt.Errorf("failed to hash password")
	}

	user := domain.UserAccount{
		ID:        xid.New("user"),
		Username:  username,
		Password:  passwordHash,
		Role:      domain.RoleAttendant,
		TenantID:  actor.TenantID,
		ShopID:    shopID,
		Active:    true,
		CreatedAt: now,
	}

	if a.userStore != nil {
		if err := a.userStore.CreateUser(context.Background(), user); err != nil {
			return domain.AttendantUser{}, err
		}
	}

	a.mu.Lock()
	a.users[username] = credential{
		id:       user.ID,
		password: passwordHash,
		role:     domain.RoleAttendant,
		tenantID: actor.TenantID,
		shopID:   shopID,
		active:   true,
		created:  now,
	}
	a.mu.Unlock()

	return domain.AttendantUser{
		ID:        user.ID,
		Username:  username,
		ShopID:    shopID,
		Active:    true,
		CreatedAt: now,
	}, nil
}

// ListAttendants returns the attendant accounts of the caller's tenant only.
func (a *AuthManager) ListAttendants(actor domain.ActingUser) []domain.AttendantUser {
	a.bootstrapUsers(context.Background())
	a.mu.RLock()
	result := make([]domain.AttendantUser, 0, len(a.users))
	for username, user := range a.users {
		if user.role != domain.RoleAttendant || user.tenantID != actor.TenantID {
			continue
		}
		result = append(result, domain.AttendantUser{
			ID:        user.id,
			Username:  username,
			ShopID:    user.shopID,
			Active:    user.active,
			CreatedAt: user.created,
		})
	}
	a.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result
}

// bootstrapUsers loads accounts from the user store into the in-memory
// credential cache and upgrades any legacy plain-text passwords to bcrypt
// hashes in the store.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}

	users, err := a.userStore.ListUsers(ctx)
	if err != nil || len(users) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, user := range users {
		username := strings.ToLower(strings.TrimSpace(user.Username))
		if username == "" {
			continue
		}
		password := user.Password
		if !isPasswordHash(password) {
			hashed, err := hashPassword(password)
			if err == nil {
				password = hashed
				_ = a.userStore.UpdateUserPassword(ctx, username, hashed)
			}
		}
		a.users[username] = credential{
			id:       user.ID,
			password: password,
			role:     user.Role,
			tenantID: user.TenantID,
			shopID:   user.ShopID,
			active:   user.Active,
			created:  user.CreatedAt,
		}
	}
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
