package services

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type AdminStore interface {
	GetAdminByUsername(username string) (*AdminUser, error)
	CreateAdmin(u *AdminUser) error
	CountAdmins() (int, error)
}

// TokenSigner mints an auth token for a logged-in admin.
type TokenSigner func(adminID, username string, ttl time.Duration) (string, error)

const adminTokenTTL = 12 * time.Hour

// AdminService handles staff accounts. Registration is open only while the
// store holds no admins; afterwards the first account bootstraps the rest.
type AdminService struct {
	store  AdminStore
	signer TokenSigner

	now   func() time.Time
	idGen func() string
}

func NewAdminService(store AdminStore, signer TokenSigner) *AdminService {
	return &AdminService{
		store:  store,
		signer: signer,
		now:    time.Now,
		idGen:  func() string { return shortID(12) },
	}
}

type AdminSession struct {
	Token    string `json:"token"`
	AdminID  string `json:"admin_id"`
	Username string `json:"username"`
}

// Register creates the initial admin account. It refuses once any admin
// exists; later accounts must be provisioned by a logged-in admin.
func (s *AdminService) Register(username, password string) (*AdminUser, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, NewInvalidError("username required")
	}
	if len(password) < 8 {
		return nil, NewInvalidError("password must be at least 8 characters")
	}
	n, err := s.store.CountAdmins()
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, NewForbiddenError("registration is closed")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &AdminUser{
		ID:        s.idGen(),
		Username:  username,
		PassHash:  hash,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateAdmin(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *AdminService) Login(username, password string) (*AdminSession, error) {
	username = strings.TrimSpace(username)
	u, err := s.store.GetAdminByUsername(username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if bcrypt.CompareHashAndPassword(u.PassHash, []byte(password)) != nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	token, err := s.signer(u.ID, u.Username, adminTokenTTL)
	if err != nil {
		return nil, err
	}
	return &AdminSession{Token: token, AdminID: u.ID, Username: u.Username}, nil
}
