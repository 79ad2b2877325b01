package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/common/ws"
	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/tenant"
)

// errIgnored marks frames that are valid but carry no snapshot.
var errIgnored = errors.New("frame carries no snapshot")

// errOtherTenant marks snapshots addressed to a different tenant.
var errOtherTenant = errors.New("snapshot for another tenant")

// parseFrame turns one inbound frame into a snapshot for tenantID. Frames
// may be typed envelopes or bare snapshot objects.
func parseFrame(frame []byte, tenantID string, now time.Time) (tenant.MetricSnapshot, error) {
	env, typed, err := ws.ParseEnvelope(frame)
	if err != nil {
		return tenant.MetricSnapshot{}, err
	}

	payload := json.RawMessage(frame)
	stamp := time.Time{}
	if typed {
		switch env.Type {
		case ws.MessageTypeMetrics, ws.MessageTypeMetricsUpdate:
			payload = env.Data
			stamp = env.Timestamp
		case ws.MessageTypePong, ws.MessageTypeHeartbeat:
			return tenant.MetricSnapshot{}, errIgnored
		case ws.MessageTypeError:
			return tenant.MetricSnapshot{}, fmt.Errorf("server error frame: %s", string(env.Data))
		default:
			return tenant.MetricSnapshot{}, fmt.Errorf("unknown message type %q", env.Type)
		}
		if len(payload) == 0 {
			return tenant.MetricSnapshot{}, errors.New("metrics frame without data")
		}
	}

	var snap tenant.MetricSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return tenant.MetricSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.TenantID == "" {
		snap.TenantID = tenantID
	}
	if snap.TenantID != tenantID {
		return tenant.MetricSnapshot{}, errOtherTenant
	}
	if snap.Timestamp.IsZero() {
		if stamp.IsZero() {
			stamp = now
		}
		snap.Timestamp = stamp
	}
	if err := snap.Check(); err != nil {
		return tenant.MetricSnapshot{}, err
	}
	return snap, nil
}
