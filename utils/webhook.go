package utils

import (
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

// webhookTimeout bounds each outbound webhook call end to end.
const webhookTimeout = 15 * time.Second

// WebhookClient calls step webhooks over HTTP. Transport failures come back
// as errors; HTTP error statuses are reported as data and left to the
// webhook's own semantics.
type WebhookClient struct {
	client *fasthttp.Client
}

func NewWebhookClient() *WebhookClient {
	return &WebhookClient{
		client: &fasthttp.Client{
			ReadTimeout:  webhookTimeout,
			WriteTimeout: webhookTimeout,
		},
	}
}

func (w *WebhookClient) Call(url, method string, headers map[string]string, body []byte) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if len(body) > 0 {
		req.SetBody(body)
	}

	if err := w.client.DoTimeout(req, resp, webhookTimeout); err != nil {
		return 0, nil, fmt.Errorf("webhook request to %s: %w", url, err)
	}

	// The response buffer is pooled; copy before release.
	respBody := make([]byte, len(resp.Body()))
	copy(respBody, resp.Body())

	return resp.StatusCode(), respBody, nil
}
