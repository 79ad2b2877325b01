package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/metrics"
	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/tenant"
)

const (
	backendRemote = "remote"

	// ModeHeader tells the API which mode the client runs in.
	ModeHeader = "X-ECP-Mode"
	// RequestIDHeader carries a per-request id for server-side log correlation.
	RequestIDHeader = "X-Request-ID"

	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10

	// DefaultMaxResponseBytes caps how much of a response body is read.
	DefaultMaxResponseBytes = 8 << 20
)

// Remote is the production backend: a thin typed proxy over the ECP API.
type Remote struct {
	baseURL    string
	httpClient *http.Client
	estimates  tenant.EstimateParams
	logger     Logger
	metrics    *metrics.Collectors
	now        func() time.Time
	maxBody    int64

	mu       sync.RWMutex
	lastList []tenant.Record
	lastSync time.Time
}

// NewRemote creates a client for the API rooted at baseURL.
func NewRemote(baseURL string, opts Options) *Remote {
	opts.applyDefaults()
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion:         tls.VersionTLS12,
					InsecureSkipVerify: opts.InsecureSkipVerify,
				},
			},
		}
	}
	return &Remote{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
		estimates:  *opts.Estimates,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        opts.Now,
		maxBody:    DefaultMaxResponseBytes,
	}
}

func (r *Remote) Mode() Mode { return ModeProduction }

// Close releases idle connections.
func (r *Remote) Close() error {
	r.httpClient.CloseIdleConnections()
	return nil
}

// LastSync reports when List last succeeded.
func (r *Remote) LastSync() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSync
}

func tenantPath(id string) string {
	return "/tenants/" + url.PathEscape(id)
}

// List fetches every tenant. The result is kept as the last-known list for
// the degraded aggregate.
func (r *Remote) List(ctx context.Context) ([]tenant.Record, error) {
	var raw json.RawMessage
	err := r.doRequest(ctx, "list", http.MethodGet, "/tenants", nil, &raw)
	if err != nil {
		return nil, err
	}
	records, err := decodeTenantList(raw)
	if err != nil {
		return nil, tenant.Wrap(err, tenant.CodeUnavailable, "decode tenant list")
	}

	r.mu.Lock()
	r.lastList = make([]tenant.Record, len(records))
	for i, rec := range records {
		r.lastList[i] = rec.Clone()
	}
	r.lastSync = r.now()
	r.mu.Unlock()
	return records, nil
}

// decodeTenantList accepts a bare array or an object with a tenants field.
func decodeTenantList(raw json.RawMessage) ([]tenant.Record, error) {
	trimmed := bytes.TrimSpace(raw)
	var records []tenant.Record
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var wrapped struct {
		Tenants []tenant.Record `json:"tenants"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Tenants == nil {
		return []tenant.Record{}, nil
	}
	return wrapped.Tenants, nil
}

func (r *Remote) Get(ctx context.Context, id string) (tenant.Record, error) {
	var rec tenant.Record
	if err := r.doRequest(ctx, "get", http.MethodGet, tenantPath(id), nil, &rec); err != nil {
		return tenant.Record{}, err
	}
	return rec, nil
}

func (r *Remote) Create(ctx context.Context, req tenant.CreateRequest) (tenant.Record, error) {
	if err := req.Validate(); err != nil {
		r.metrics.GatewayRequest(backendRemote, "create", err)
		return tenant.Record{}, err
	}
	var rec tenant.Record
	if err := r.doRequest(ctx, "create", http.MethodPost, "/tenants", req, &rec); err != nil {
		return tenant.Record{}, err
	}
	return rec, nil
}

func (r *Remote) Update(ctx context.Context, id string, upd tenant.Update) (tenant.Record, error) {
	if err := upd.Validate(); err != nil {
		r.metrics.GatewayRequest(backendRemote, "update", err)
		return tenant.Record{}, err
	}
	var rec tenant.Record
	if err := r.doRequest(ctx, "update", http.MethodPatch, tenantPath(id), upd, &rec); err != nil {
		return tenant.Record{}, err
	}
	return rec, nil
}

func (r *Remote) SetStatus(ctx context.Context, id string, status tenant.Status) (tenant.Record, error) {
	if !status.Valid() {
		err := tenant.NewError(tenant.CodeInvalidInput, fmt.Sprintf("unknown status %q", status))
		r.metrics.GatewayRequest(backendRemote, "status", err)
		return tenant.Record{}, err
	}
	var rec tenant.Record
	body := tenant.Update{Status: &status}
	if err := r.doRequest(ctx, "status", http.MethodPatch, tenantPath(id), body, &rec); err != nil {
		return tenant.Record{}, err
	}
	return rec, nil
}

func (r *Remote) Delete(ctx context.Context, id string) error {
	return r.doRequest(ctx, "delete", http.MethodDelete, tenantPath(id), nil, nil)
}

// systemMetrics is the server's aggregate payload.
type systemMetrics struct {
	TotalTenants  int `json:"total_tenants"`
	ActiveTenants int `json:"active_tenants"`
	TotalServices int `json:"total_services"`
	TotalGPUs     int `json:"total_gpus"`
	TotalCPUCores int `json:"total_cpu_cores"`
	TotalMemoryGB int `json:"total_memory_gb"`
}

// AggregateMetrics trusts the server's totals. When the server cannot
// answer, it falls back to an estimate over the last-known tenant list.
func (r *Remote) AggregateMetrics(ctx context.Context) (tenant.AggregateMetrics, error) {
	var sm systemMetrics
	err := r.doRequest(ctx, "aggregate", http.MethodGet, "/tenants/monitoring/system-metrics", nil, &sm)
	if err == nil {
		return tenant.AggregateMetrics{
			Total:        sm.TotalTenants,
			Active:       sm.ActiveTenants,
			ServiceCount: sm.TotalServices,
			Resources: tenant.ResourceTotals{
				GPUs:     sm.TotalGPUs,
				CPUCores: sm.TotalCPUCores,
				MemoryGB: sm.TotalMemoryGB,
			},
			Source:     tenant.SourceServer,
			ComputedAt: r.now(),
		}, nil
	}
	if ctx.Err() != nil {
		return tenant.AggregateMetrics{}, err
	}

	records, ok := r.cachedList()
	if !ok {
		var listErr error
		records, listErr = r.List(ctx)
		if listErr != nil {
			r.logger.Warn("Aggregate metrics unavailable and no tenant list to estimate from", "error", err, "list_error", listErr)
			return tenant.AggregateMetrics{}, err
		}
	}
	r.metrics.GatewayFallback()
	r.logger.Warn("Aggregate metrics endpoint failed, using degraded estimate", "error", err, "tenants", len(records))
	return tenant.Estimate(records, r.estimates, tenant.SourceDegradedEstimate, r.now()), nil
}

func (r *Remote) cachedList() ([]tenant.Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lastList == nil {
		return nil, false
	}
	out := make([]tenant.Record, len(r.lastList))
	for i, rec := range r.lastList {
		out[i] = rec.Clone()
	}
	return out, true
}

// doRequest performs one JSON request and maps failures to tenant error codes.
func (r *Remote) doRequest(ctx context.Context, op, method, path string, reqBody, respBody interface{}) (err error) {
	defer func() { r.metrics.GatewayRequest(backendRemote, op, err) }()

	target := r.baseURL + path

	var bodyReader io.Reader
	if reqBody != nil {
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return tenant.Wrap(err, tenant.CodeInvalidInput, "encode request")
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return tenant.Wrap(err, tenant.CodeUnavailable, "create request")
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Accept", "application/json")
	if reqBody != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("User-Agent", "ecpctl/1.0")
	httpReq.Header.Set(ModeHeader, string(ModeProduction))
	httpReq.Header.Set(RequestIDHeader, requestID)

	r.logger.Debug("HTTP request", "method", method, "url", target, "request_id", requestID)

	httpResp, err := r.httpClient.Do(httpReq)
	if err != nil {
		r.logger.Error("HTTP request failed", "method", method, "url", target, "error", err)
		return tenant.Wrap(err, tenant.CodeUnavailable, fmt.Sprintf("%s %s", method, path))
	}
	defer httpResp.Body.Close()

	respData, err := io.ReadAll(io.LimitReader(httpResp.Body, r.maxBody+1))
	if err != nil {
		return tenant.Wrap(err, tenant.CodeUnavailable, "read response")
	}
	if int64(len(respData)) > r.maxBody {
		r.logger.Warn("Response body too large", "method", method, "url", target, "limit", r.maxBody, "request_id", requestID)
		return tenant.NewError(tenant.CodeUnavailable, fmt.Sprintf("%s %s: response exceeds %d bytes", method, path, r.maxBody))
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		r.logger.Warn("Server returned non-2xx status", "status", httpResp.StatusCode, "method", method, "url", target, "request_id", requestID)
		return statusError(httpResp.StatusCode, respData)
	}

	if respBody != nil && len(bytes.TrimSpace(respData)) > 0 {
		if err := json.Unmarshal(respData, respBody); err != nil {
			return tenant.Wrap(err, tenant.CodeUnavailable, "decode response")
		}
	}
	return nil
}

func statusError(status int, body []byte) error {
	var code tenant.Code
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		code = tenant.CodeInvalidInput
	case http.StatusForbidden:
		code = tenant.CodeForbidden
	case http.StatusNotFound:
		code = tenant.CodeNotFound
	case http.StatusConflict:
		code = tenant.CodeConflict
	default:
		code = tenant.CodeUnavailable
	}
	detail := errorDetail(body)
	if detail == "" {
		detail = http.StatusText(status)
	}
	return tenant.NewError(code, fmt.Sprintf("server returned status %d: %s", status, detail))
}

// errorDetail extracts a readable message from an error body.
func errorDetail(body []byte) string {
	var payload struct {
		Detail  interface{} `json:"detail"`
		Error   string      `json:"error"`
		Message string      `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		switch {
		case payload.Message != "":
			return payload.Message
		case payload.Error != "":
			return payload.Error
		case payload.Detail != nil:
			if s, ok := payload.Detail.(string); ok {
				return s
			}
			if b, err := json.Marshal(payload.Detail); err == nil {
				return string(b)
			}
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return text
}
