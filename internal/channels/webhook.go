package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"errwatch/internal/apperrors"
	"errwatch/internal/model"
)

type webhookRuleRef struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Type model.RuleType `json:"type"`
}

type webhookProjectRef struct {
	ID string `json:"id"`
}

type webhookPayload struct {
	Timestamp time.Time          `json:"timestamp"`
	Project   webhookProjectRef  `json:"project"`
	Rule      webhookRuleRef     `json:"rule"`
	Alert     model.AlertPayload `json:"alert"`
	Links     model.AlertLinks   `json:"links"`
}

func (d *Dispatcher) sendWebhook(ctx context.Context, target string, project model.Project, rule model.AlertRule, alert model.AlertPayload) error {
	if err := validateURL(target); err != nil {
		return apperrors.NewChannelDeliveryError(apperrors.CodeChannelHTTPFailed, err.Error(), "webhook")
	}

	body, err := json.Marshal(webhookPayload{
		Timestamp: time.Now(),
		Project:   webhookProjectRef{ID: project.ProjectID},
		Rule:      webhookRuleRef{ID: rule.RuleID, Name: rule.Name, Type: rule.Type},
		Alert:     alert,
		Links:     alert.Links,
	})
	if err != nil {
		return apperrors.NewChannelDeliveryError(apperrors.CodeChannelHTTPFailed, fmt.Sprintf("marshal payload: %v", err), "webhook")
	}

	return d.postWithRetry(ctx, "webhook", target, body)
}

// postWithRetry posts body to target with a bounded exponential backoff,
// mirroring the dispatcher's historical three-attempt retry but backed
// by a real backoff implementation instead of a hand-rolled loop.
func (d *Dispatcher) postWithRetry(ctx context.Context, channelType, target string, body []byte) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)

	var statusCode int
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "errwatch-dispatcher/1.0")

		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		statusCode = resp.StatusCode
		if statusCode >= 500 {
			return fmt.Errorf("%s returned status %d", channelType, statusCode)
		}
		if statusCode < 200 || statusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("%s returned status %d", channelType, statusCode))
		}
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return apperrors.NewChannelDeliveryError(apperrors.CodeChannelHTTPFailed, err.Error(), channelType).WithStatusCode(statusCode)
	}
	return nil
}

// validateURL rejects webhook targets on localhost or in loopback,
// private, or link-local address space.
func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("URL has no hostname")
	}
	if host == "localhost" {
		return fmt.Errorf("localhost targets are not allowed")
	}
	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("resolve hostname: %w", err)
	}
	for _, raw := range ips {
		ip := net.ParseIP(raw)
		if ip != nil && isPrivateIP(ip) {
			return fmt.Errorf("resolved IP %s is in a private range", raw)
		}
	}
	return nil
}

var privateBlocks = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"::1/128",
	"fe80::/10",
}

func isPrivateIP(ip net.IP) bool {
	for _, cidr := range privateBlocks {
		_, block, err := net.ParseCIDR(cidr)
		if err == nil && block.Contains(ip) {
			return true
		}
	}
	return false
}
