package recaptcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const maxResponseBytes = 64 * 1024

// Response is the siteverify reply. Only Success decides the outcome; the rest
// is kept for logging.
type Response struct {
	Success     bool     `json:"success"`
	ChallengeTS string   `json:"challenge_ts"`
	Hostname    string   `json:"hostname"`
	ErrorCodes  []string `json:"error-codes"`
}

// VerifyResponse asks the provider whether token is a valid solved challenge
// for the client at clientIP. An empty token fails without contacting the
// provider. A reply that is not a JSON object with "success": true fails with
// a nil error. Network failures and non-2xx replies return an error wrapping
// ErrProviderUnavailable.
func (r *Recaptcha) VerifyResponse(ctx context.Context, token, clientIP string) (bool, error) {
	if token == "" {
		return false, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.VerifyURL, strings.NewReader(r.verifyForm(token, clientIP)))
	if err != nil {
		return false, fmt.Errorf("recaptcha: build siteverify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("%w: siteverify status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return false, fmt.Errorf("%w: read siteverify body: %v", ErrProviderUnavailable, err)
	}

	res, err := parseResponse(body)
	if err != nil {
		r.logger.Debug("malformed siteverify response", zap.Error(err), zap.Int("size", len(body)))
		return false, nil
	}
	if !res.Success {
		r.logger.Debug("challenge rejected",
			zap.String("remoteip", clientIP),
			zap.Strings("error_codes", res.ErrorCodes))
	}
	return res.Success, nil
}

// parseResponse reads the reply as a JSON object. Success is set only when the
// key is exactly "success" and its value is a JSON boolean true. The other
// fields are filled on a best-effort basis.
func parseResponse(body []byte) (*Response, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	res := &Response{}
	if v, ok := raw["success"]; ok {
		// A non-boolean value leaves Success false.
		_ = json.Unmarshal(v, &res.Success)
	}
	if v, ok := raw["challenge_ts"]; ok {
		_ = json.Unmarshal(v, &res.ChallengeTS)
	}
	if v, ok := raw["hostname"]; ok {
		_ = json.Unmarshal(v, &res.Hostname)
	}
	if v, ok := raw["error-codes"]; ok {
		_ = json.Unmarshal(v, &res.ErrorCodes)
	}
	return res, nil
}

// Fields are kept in secret, remoteip, response order.
func (r *Recaptcha) verifyForm(token, clientIP string) string {
	return "secret=" + url.QueryEscape(r.cfg.SecretKey) +
		"&remoteip=" + url.QueryEscape(clientIP) +
		"&response=" + url.QueryEscape(token)
}

// VerifyRequest verifies the token posted by the widget along with a form.
func (r *Recaptcha) VerifyRequest(req *http.Request) (bool, error) {
	return r.VerifyResponse(req.Context(), req.FormValue(ResponseField), r.ClientIP(req))
}

// ClientIP returns the address of the client that sent req. The configured
// ClientIPHeader takes precedence over the connection address.
func (r *Recaptcha) ClientIP(req *http.Request) string {
	if h := r.cfg.ClientIPHeader; h != "" {
		if v := req.Header.Get(h); v != "" {
			first := strings.TrimSpace(strings.SplitN(v, ",", 2)[0])
			if first != "" {
				return first
			}
		}
	}

	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
