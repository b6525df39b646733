package stubserver

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"imzo/cmd/internal/ids"

	"golang.org/x/crypto/argon2"
)

const (
	otpTTL = 5 * time.Minute

	// Argon2id parameters sized for a dev stub: real enough to exercise the
	// encoded-hash path, light enough for CI.
	argonMemoryKiB   = 8192
	argonIterations  = 2
	argonParallelism = 1
	argonSaltLen     = 16
	argonKeyLen      = 32
)

var (
	ErrCodeMismatch = errors.New("stubserver: code mismatch")
	ErrCodeExpired  = errors.New("stubserver: code expired")
	ErrNoCode       = errors.New("stubserver: no code requested")
)

type otpEntry struct {
	digest  string
	expires time.Time
}

// OTPService issues one-time codes and exchanges verified codes for bearer
// tokens. Codes are stored as argon2id digests only; the plaintext code is
// returned once to the caller, which surfaces it in the dev response.
type OTPService struct {
	log *slog.Logger

	mu     sync.Mutex
	codes  map[string]otpEntry
	tokens map[string]string
}

func NewOTPService(log *slog.Logger) *OTPService {
	return &OTPService{
		log:    log,
		codes:  make(map[string]otpEntry),
		tokens: make(map[string]string),
	}
}

// IssueCode generates a 6-digit code for phone and records its digest.
func (s *OTPService) IssueCode(phone string, now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("otp code: %w", err)
	}
	code := fmt.Sprintf("%06d", n.Int64())

	digest, err := hashCode(code)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.codes[phone] = otpEntry{digest: digest, expires: now.Add(otpTTL)}
	s.mu.Unlock()

	s.log.Info("otp.issued", "phone", phone)
	return code, nil
}

// Verify checks the code for phone and, on match, returns a fresh bearer
// token. The code is single use.
func (s *OTPService) Verify(phone, code string, now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	entry, ok := s.codes[phone]
	s.mu.Unlock()

	if !ok {
		return "", ErrNoCode
	}
	if now.After(entry.expires) {
		return "", ErrCodeExpired
	}

	match, err := verifyCode(entry.digest, code)
	if err != nil {
		return "", err
	}
	if !match {
		return "", ErrCodeMismatch
	}

	token := ids.MustULID(now)

	s.mu.Lock()
	delete(s.codes, phone)
	s.tokens[token] = phone
	s.mu.Unlock()

	s.log.Info("otp.verified", "phone", phone)
	return token, nil
}

// ValidToken reports whether tok was issued by Verify.
func (s *OTPService) ValidToken(tok string) bool {
	if tok == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tokens[tok]
	return ok
}

// ---- argon2id encoding ----
// Format: $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<key_b64>

var errInvalidDigest = errors.New("stubserver: invalid code digest")

func hashCode(code string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	key := argon2.IDKey([]byte(code), salt, argonIterations, argonMemoryKiB, argonParallelism, argonKeyLen)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemoryKiB,
		argonIterations,
		argonParallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

func verifyCode(encoded, code string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return false, errInvalidDigest
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return false, errInvalidDigest
	}

	var mem, it uint32
	var par uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return false, errInvalidDigest
	}
	if mem == 0 || it == 0 || par == 0 {
		return false, errInvalidDigest
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return false, errInvalidDigest
	}
	expected, err := b64.DecodeString(parts[5])
	if err != nil || len(expected) == 0 || len(expected) > 128 {
		return false, errInvalidDigest
	}

	key := argon2.IDKey([]byte(code), salt, it, mem, par, uint32(len(expected)))

	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}
