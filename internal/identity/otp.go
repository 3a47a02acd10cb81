// Package identity issues and verifies one-time codes for patient sign-in.
package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrRateLimited = errors.New("identity: code requested too recently")
	ErrInvalidCode = errors.New("identity: invalid or expired code")
)

// Provider sends and verifies one-time codes for an email address.
type Provider interface {
	SendOTP(email string) error
	VerifyOTP(email, code string) error
}

const (
	defaultCodeTTL     = 10 * time.Minute
	defaultMinInterval = 60 * time.Second
)

type issuedCode struct {
	code     string
	issuedAt time.Time
}

// DevProvider keeps codes in memory and logs them instead of sending email.
// Suitable for development and tests. Codes are single use.
type DevProvider struct {
	mu          sync.Mutex
	codes       map[string]issuedCode
	ttl         time.Duration
	minInterval time.Duration
	log         zerolog.Logger

	now     func() time.Time
	codeGen func() string
}

func NewDevProvider(log zerolog.Logger) *DevProvider {
	return &DevProvider{
		codes:       make(map[string]issuedCode),
		ttl:         defaultCodeTTL,
		minInterval: defaultMinInterval,
		log:         log,
		now:         time.Now,
		codeGen:     randomCode,
	}
}

func (p *DevProvider) SendOTP(email string) error {
	email = normalize(email)
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.codes[email]; ok {
		if p.now().Sub(prev.issuedAt) < p.minInterval {
			return ErrRateLimited
		}
	}
	code := p.codeGen()
	p.codes[email] = issuedCode{code: code, issuedAt: p.now()}
	p.log.Info().Str("email", email).Str("code", code).Msg("issued one-time code")
	return nil
}

func (p *DevProvider) VerifyOTP(email, code string) error {
	email = normalize(email)
	p.mu.Lock()
	defer p.mu.Unlock()
	issued, ok := p.codes[email]
	if !ok {
		return ErrInvalidCode
	}
	if p.now().Sub(issued.issuedAt) > p.ttl {
		delete(p.codes, email)
		return ErrInvalidCode
	}
	if subtle.ConstantTimeCompare([]byte(issued.code), []byte(code)) != 1 {
		return ErrInvalidCode
	}
	delete(p.codes, email)
	return nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func randomCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("%06d", n.Int64())
}
