// model/context.go
package model

import "time"

// GeoPoint is a location fix reported by an environment observer.
type GeoPoint struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy,omitempty"`
}

// DeviceInfo describes the client device.
type DeviceInfo struct {
	Type     string `json:"type"` // e.g., "desktop", "mobile", "tablet"
	Screen   string `json:"screen,omitempty"`
	Platform string `json:"platform,omitempty"`
	Language string `json:"language,omitempty"`
}

// EvalContext is the per-session runtime snapshot used for contextual
// permission restriction. One instance per session; every mutation must
// trigger a recomputation of the dynamic permission set.
type EvalContext struct {
	UserID    string      `json:"user_id"`
	SessionID string      `json:"session_id"`
	IP        string      `json:"ip,omitempty"`
	UserAgent string      `json:"user_agent,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Location  *GeoPoint   `json:"location,omitempty"`
	Device    *DeviceInfo `json:"device,omitempty"`
	RiskScore float64     `json:"risk_score"`
	IsActive  bool        `json:"is_active"`
}

// AsMap flattens the context into the nested-map shape the condition DSL
// resolves dotted paths against.
func (c EvalContext) AsMap() map[string]interface{} {
	m := map[string]interface{}{
		"userId":    c.UserID,
		"sessionId": c.SessionID,
		"ip":        c.IP,
		"userAgent": c.UserAgent,
		"timestamp": c.Timestamp,
		"riskScore": c.RiskScore,
		"isActive":  c.IsActive,
	}
	if c.Location != nil {
		m["location"] = map[string]interface{}{
			"lat":      c.Location.Lat,
			"lng":      c.Location.Lng,
			"accuracy": c.Location.Accuracy,
		}
	}
	if c.Device != nil {
		m["device"] = map[string]interface{}{
			"type":     c.Device.Type,
			"screen":   c.Device.Screen,
			"platform": c.Device.Platform,
			"language": c.Device.Language,
		}
	}
	return m
}
