package dispatcher

import (
	"crypto/tls"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
)

// HTTPPool round-robins requests over a few fasthttp clients.
type HTTPPool struct {
	clients []*fasthttp.Client
	index   atomic.Uint32
	timeout time.Duration
}

func NewHTTPPool(size int, timeout time.Duration) *HTTPPool {
	if size <= 0 {
		size = 1
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ClientSessionCache: tls.NewLRUClientSessionCache(32),
	}

	clients := make([]*fasthttp.Client, size)
	for i := range clients {
		clients[i] = &fasthttp.Client{
			Name:                "nukeguard",
			MaxConnsPerHost:     64,
			MaxIdleConnDuration: 90 * time.Second,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxConnWaitTimeout:  timeout,
			MaxResponseBodySize: 1 << 20,
			TLSConfig:           tlsConfig,
		}
	}

	return &HTTPPool{clients: clients, timeout: timeout}
}

func (hp *HTTPPool) GetClient() *fasthttp.Client {
	i := hp.index.Add(1)
	return hp.clients[int(i)%len(hp.clients)]
}

// PostJSON sends body to url and returns the response status code.
func (hp *HTTPPool) PostJSON(url string, body []byte) (int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := hp.GetClient().DoTimeout(req, resp, hp.timeout); err != nil {
		return 0, err
	}
	return resp.StatusCode(), nil
}
