package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	v1 "imzo/shared/contracts/chat/v1"
)

const otpHTTPTimeout = 15 * time.Second

var (
	// ErrBadCode is returned when the backend rejects the entered code.
	ErrBadCode = errors.New("auth: code rejected")
)

// OTPClient drives phone-based sign-in: request a code, verify it, get a
// bearer token.
type OTPClient struct {
	log  *slog.Logger
	base string
	hc   *http.Client
}

func NewOTPClient(log *slog.Logger, baseURL string) *OTPClient {
	return &OTPClient{
		log:  log,
		base: strings.TrimRight(baseURL, "/"),
		hc:   &http.Client{Timeout: otpHTTPTimeout},
	}
}

// RequestCode asks the backend to send a one-time code to phone. Dev-mode
// backends return the code in the response body instead of sending an SMS;
// that debug code is passed through so the caller can show it.
func (c *OTPClient) RequestCode(ctx context.Context, phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", errors.New("auth: empty phone")
	}

	resp, err := c.postJSON(ctx, "/auth/otp/request", v1.OTPRequest{Phone: phone})
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("auth: request code: status %d", resp.StatusCode)
	}

	var out v1.OTPRequestResponse
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	c.log.Info("auth.otp.requested", "phone", phone)
	return out.DebugCode, nil
}

// VerifyCode exchanges phone+code for a bearer token.
func (c *OTPClient) VerifyCode(ctx context.Context, phone, code string) (string, error) {
	phone = strings.TrimSpace(phone)
	code = strings.TrimSpace(code)
	if phone == "" || code == "" {
		return "", errors.New("auth: empty phone or code")
	}

	resp, err := c.postJSON(ctx, "/auth/otp/verify", v1.OTPVerifyRequest{Phone: phone, Code: code})
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrBadCode
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("auth: verify code: status %d", resp.StatusCode)
	}

	var out v1.OTPVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("auth: decode verify response: %w", err)
	}
	if out.Token == "" {
		return "", errors.New("auth: verify succeeded without a token")
	}
	return out.Token, nil
}

func (c *OTPClient) postJSON(ctx context.Context, path string, in any) (*http.Response, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: %s: %w", path, err)
	}
	return resp, nil
}
