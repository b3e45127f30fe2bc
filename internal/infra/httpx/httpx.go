package httpx

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout  = 10 * time.Minute
	defaultRetryMax = 2
	defaultBackoff  = 500 * time.Millisecond
)

// Transport 把“代理 + keep-alive 策略 + 有界重试”固化为统一策略。
//
// 上层（例如转写 API 客户端）只负责组织请求，不关心网络策略细节。
type Transport struct {
	Base http.RoundTripper

	// RetryMax 表示最大重试次数（不含首次尝试）。例如 2 表示最多 3 次尝试。
	RetryMax int

	// Backoff 是第 n 次重试前等待 n*Backoff。
	Backoff time.Duration

	// DisableKeepAlives 决定是否对 Request 设置 Close=true（额外保险）。
	DisableKeepAlives bool
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if t.Base == nil {
		return nil, errors.New("nil base transport")
	}

	// 只对“可重放”的请求做重试：无 body，或 body 可通过 GetBody 重新获取。
	// 只在传输层错误时重试；拿到任何 HTTP 响应都直接返回，由上层解释状态码。
	canRetry := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
	max := t.RetryMax
	if max < 0 || !canRetry {
		max = 0
	}

	var lastErr error
	for attempt := 0; attempt <= max; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(req, time.Duration(attempt)*t.Backoff); err != nil {
				return nil, lastErr
			}
		}

		r, err := cloneRequest(req, attempt)
		if err != nil {
			return nil, err
		}
		if t.DisableKeepAlives {
			r.Close = true
		}

		resp, err := t.Base.RoundTrip(r)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if req.Context().Err() != nil {
			// ctx 已取消：不再重试，直接返回最后错误（更可解释）。
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// cloneRequest 复制 req，避免在 RoundTripper 内部“污染”调用方的 request。
// 首次尝试直接复用原 body；重试时通过 GetBody 取新 body。
func cloneRequest(req *http.Request, attempt int) (*http.Request, error) {
	r := req.Clone(req.Context())
	if attempt > 0 && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		r.Body = body
	}
	return r, nil
}

func sleepCtx(req *http.Request, d time.Duration) error {
	if d <= 0 {
		return req.Context().Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-req.Context().Done():
		return req.Context().Err()
	case <-timer.C:
		return nil
	}
}

// NewAPIClient 构造调用外部推理 API（如转写服务）的 HTTP client。
//
// 规则：
// - proxyURL 非空：走代理，且禁用 keep-alive（每请求新连接）
// - 有界重试 + 总超时（timeout<=0 时使用默认 10 分钟，音频上传与转写都可能很慢）
func NewAPIClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	base := &http.Transport{
		Proxy:                 nil,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	}

	disableKeepAlives := false
	proxyURL = strings.TrimSpace(proxyURL)
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, err
		}
		base.Proxy = http.ProxyURL(u)
		base.DisableKeepAlives = true
		disableKeepAlives = true
	}

	tr := &Transport{
		Base:              base,
		RetryMax:          defaultRetryMax,
		Backoff:           defaultBackoff,
		DisableKeepAlives: disableKeepAlives,
	}
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}
