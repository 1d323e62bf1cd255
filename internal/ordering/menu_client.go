package ordering

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MenuGateway answers whether a restaurant exists in the legacy menu.
type MenuGateway interface {
	RestaurantExists(ctx context.Context, restaurantID string) (bool, error)
}

// MenuClient talks to the legacy menu over HTTP. It never retries.
type MenuClient struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

func NewMenuClient(baseURL string, timeout time.Duration) *MenuClient {
	return &MenuClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    &http.Client{},
	}
}

// RestaurantExists returns false on 404 and an ErrMenuUnavailable error on
// any other non-2xx status, transport failure or deadline overrun. The
// client timeout applies only when ctx carries no deadline of its own.
func (c *MenuClient) RestaurantExists(ctx context.Context, restaurantID string) (bool, error) {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	endpoint := c.baseURL + "/api/legacy/menu/" + url.PathEscape(restaurantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("%w: build request: %v", ErrMenuUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return false, fmt.Errorf("%w: %w", ErrMenuUnavailable, context.DeadlineExceeded)
		}
		return false, fmt.Errorf("%w: %v", ErrMenuUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, fmt.Errorf("%w: status %d", ErrMenuUnavailable, resp.StatusCode)
	}
}
