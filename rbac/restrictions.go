// rbac/restrictions.go
package rbac

import (
	"math"

	"github.com/aria7-op/adcg-engine/model"
)

// applyRestrictions evaluates the contextual restriction blocks of a
// permission against the current context, in the fixed order: time window,
// geofence, risk threshold, device allow-list. Restrictions are a
// categorical AND; the first failing block denies. Permissions with no
// restriction blocks pass through unchanged.
func applyRestrictions(perm model.ResolvedPermission, ctx model.EvalContext) bool {
	if perm.TimeRestrictions != nil && !timeAllowed(*perm.TimeRestrictions, ctx) {
		return false
	}
	if perm.LocationRestrictions != nil && !locationAllowed(*perm.LocationRestrictions, ctx) {
		return false
	}
	if perm.RiskThreshold != nil && ctx.RiskScore > *perm.RiskThreshold {
		return false
	}
	if perm.DeviceRestrictions != nil && !deviceAllowed(*perm.DeviceRestrictions, ctx) {
		return false
	}
	return true
}

// timeAllowed checks the context timestamp against an hour-of-day window
// [StartHour, EndHour) and an optional day-of-week list.
func timeAllowed(tr model.TimeRestrictions, ctx model.EvalContext) bool {
	hour := ctx.Timestamp.Hour()
	if hour < tr.StartHour || hour >= tr.EndHour {
		return false
	}
	if len(tr.DaysOfWeek) > 0 {
		day := int(ctx.Timestamp.Weekday())
		allowed := false
		for _, d := range tr.DaysOfWeek {
			if d == day {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	return true
}

// locationAllowed checks geofence membership. A context with no location
// fix fails any geofenced permission.
func locationAllowed(lr model.LocationRestrictions, ctx model.EvalContext) bool {
	if ctx.Location == nil {
		return false
	}
	return haversineKm(lr.Lat, lr.Lng, ctx.Location.Lat, ctx.Location.Lng) <= lr.RadiusKm
}

func deviceAllowed(dr model.DeviceRestrictions, ctx model.EvalContext) bool {
	if ctx.Device == nil {
		return false
	}
	for _, t := range dr.AllowedTypes {
		if t == ctx.Device.Type {
			return true
		}
	}
	return false
}

const earthRadiusKm = 6371.0

func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
