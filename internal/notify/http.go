package notify

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// newHTTP returns the resty client shared by the webhook senders. 429 and
// 5xx replies are retried.
func newHTTP(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json")
}

func checkStatus(sender string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: send request: %w", sender, err)
	}
	if resp.IsError() {
		body := resp.String()
		if len(body) > 512 {
			body = body[:512]
		}
		return fmt.Errorf("%s: unexpected status %d: %s", sender, resp.StatusCode(), body)
	}
	return nil
}
