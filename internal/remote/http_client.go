package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker/v2"

	"puntoventa/backend/internal/domain"
)

// HTTPClient talks to the remote commit service over JSON HTTP. All
// calls run through a circuit breaker: once the remote is known to be
// down, attempts fail fast and the orchestrator goes offline instead of
// stalling the terminal on every sale.
type HTTPClient struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker[*resty.Response]
}

func NewHTTPClient(baseURL string, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 12 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			// Only retry reads that never reached the server. A commit
			// whose outcome is unknown must not be resent blindly.
			return resp != nil && resp.StatusCode() == http.StatusTooManyRequests
		})

	if token != "" {
		httpClient.SetAuthScheme("Bearer")
		httpClient.SetAuthToken(token)
	}

	breaker := gobreaker.NewCircuitBreaker[*resty.Response](gobreaker.Settings{
		Name:    "remote-commit",
		Timeout: 20 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 4
		},
	})

	return &HTTPClient{http: httpClient, breaker: breaker}
}

func (c *HTTPClient) CommitSale(ctx context.Context, req CommitRequest) (string, error) {
	var out struct {
		ID string `json:"id"`
	}

	resp, err := c.execute(func() (*resty.Response, error) {
		return c.http.R().SetContext(ctx).SetBody(req).SetResult(&out).Post("/api/v1/sales")
	})
	if err != nil {
		return "", err
	}
	if err := classifyStatus(resp); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", NetworkError(errors.New("remote commit returned no sale id"))
	}
	return out.ID, nil
}

func (c *HTTPClient) AssignInvoiceNumber(ctx context.Context, saleID string, invoiceNumber string) error {
	body := map[string]string{"invoice_number": invoiceNumber}

	resp, err := c.execute(func() (*resty.Response, error) {
		return c.http.R().SetContext(ctx).SetBody(body).Post("/api/v1/sales/" + saleID + "/invoice")
	})
	if err != nil {
		return err
	}
	if resp.StatusCode() == http.StatusConflict {
		return ErrInvoiceConflict
	}
	return classifyStatus(resp)
}

func (c *HTTPClient) AvailableStock(ctx context.Context, productID string) (int, error) {
	var out struct {
		Quantity int `json:"quantity"`
	}

	resp, err := c.execute(func() (*resty.Response, error) {
		return c.http.R().SetContext(ctx).SetResult(&out).Get("/api/v1/stock/" + productID)
	})
	if err != nil {
		return 0, err
	}
	if err := classifyStatus(resp); err != nil {
		return 0, err
	}
	return out.Quantity, nil
}

func (c *HTTPClient) StoreInfo(ctx context.Context, storeID string) (*domain.StoreInfo, error) {
	var out domain.StoreInfo

	resp, err := c.execute(func() (*resty.Response, error) {
		return c.http.R().SetContext(ctx).SetResult(&out).Get("/api/v1/stores/" + storeID)
	})
	if err != nil {
		return nil, err
	}
	if err := classifyStatus(resp); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) execute(call func() (*resty.Response, error)) (*resty.Response, error) {
	resp, err := c.breaker.Execute(call)
	if err != nil {
		// Breaker open, timeouts, connection loss: in every case the
		// write may or may not have been applied remotely.
		return nil, NetworkError(err)
	}
	return resp, nil
}

// classifyStatus maps an HTTP response the server definitely produced.
// 4xx is an explicit business refusal; 5xx means the handler died with
// the write's fate unknown.
func classifyStatus(resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= 400 && code < 500:
		return &BusinessError{Reason: errorReason(resp)}
	default:
		return NetworkError(fmt.Errorf("remote returned status %d", code))
	}
}

func errorReason(resp *resty.Response) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return fmt.Sprintf("remote rejected request with status %d", resp.StatusCode())
}
