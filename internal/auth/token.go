// Package auth validates the tokens peers present on the inbound sync API.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/xelth-com/stocksyncgo/internal/errors"
	"github.com/xelth-com/stocksyncgo/internal/models"
)

// futureSkew tolerates clock drift on legacy token timestamps
const futureSkew = 5 * time.Minute

// StoreLister supplies the stores whose secrets are accepted
type StoreLister interface {
	ListActive(ctx context.Context) ([]models.Store, error)
}

// Options configures a Validator
type Options struct {
	// Salt enables the legacy hash.timestamp format when non-empty
	Salt string
	// LegacyLifetime bounds the age of legacy tokens
	LegacyLifetime time.Duration
	// Insecure accepts any non-empty token. Integration testing only.
	Insecure bool
	Debug    bool
}

// Validator is the single entry point for peer token checks
type Validator struct {
	stores StoreLister
	opts   Options
	now    func() time.Time
}

// NewValidator creates a validator over the active store list
func NewValidator(stores StoreLister, opts Options) *Validator {
	if opts.Insecure {
		log.Println("🚨 Peer token validation is running in INSECURE TEST MODE")
	}
	return &Validator{stores: stores, opts: opts, now: time.Now}
}

// Validate returns the active store whose shared secret authenticates token.
// A token is either the raw shared secret or, when a salt is configured, the
// legacy form hex(sha256(secret + salt + unix)) + "." + unix.
//
// In insecure mode any non-empty token passes; the matched store is still
// returned when the token happens to be valid, nil otherwise.
func (v *Validator) Validate(ctx context.Context, token string) (*models.Store, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperrors.New(apperrors.ErrInvalidToken, "Token is required")
	}

	stores, err := v.stores.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load stores for token check: %w", err)
	}

	if store := v.match(stores, token); store != nil {
		return store, nil
	}

	if v.opts.Insecure {
		log.Printf("🚨 INSECURE TEST MODE: accepted unverified peer token (len=%d)", len(token))
		return nil, nil
	}

	if v.opts.Debug {
		log.Printf("🔐 Peer token rejected (len=%d, %d active stores)", len(token), len(stores))
	}
	return nil, apperrors.New(apperrors.ErrInvalidToken, "Invalid token")
}

func (v *Validator) match(stores []models.Store, token string) *models.Store {
	for i := range stores {
		secret := stores[i].SharedSecret
		if secret != "" && subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1 {
			return &stores[i]
		}
	}

	if v.opts.Salt == "" {
		return nil
	}
	hash, tsPart, ok := strings.Cut(token, ".")
	if !ok || strings.Contains(tsPart, ".") {
		return nil
	}
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return nil
	}
	issued := time.Unix(ts, 0)
	now := v.now()
	if now.Sub(issued) > v.opts.LegacyLifetime || issued.Sub(now) > futureSkew {
		return nil
	}

	for i := range stores {
		if stores[i].SharedSecret == "" {
			continue
		}
		expected := LegacyToken(stores[i].SharedSecret, v.opts.Salt, ts)
		if subtle.ConstantTimeCompare([]byte(hash+"."+tsPart), []byte(expected)) == 1 {
			return &stores[i]
		}
	}
	return nil
}

// LegacyToken builds a hash.timestamp token for secret
func LegacyToken(secret, salt string, unix int64) string {
	ts := strconv.FormatInt(unix, 10)
	sum := sha256.Sum256([]byte(secret + salt + ts))
	return hex.EncodeToString(sum[:]) + "." + ts
}
