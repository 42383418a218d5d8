// Package guestaccess computes the time-bound window of the guest role.
package guestaccess

import (
	"fmt"
	"time"

	"github.com/SAP-F-2025/access-control-service/internal/models"
)

const DefaultDurationHours = 48

// Clock returns the current time; injected so expiry logic is testable
type Clock func() time.Time

type Calculator struct {
	durationHours int
	clock         Clock
}

// NewCalculator falls back to DefaultDurationHours and time.Now for zero values
func NewCalculator(durationHours int, clock Clock) *Calculator {
	if durationHours <= 0 {
		durationHours = DefaultDurationHours
	}
	if clock == nil {
		clock = time.Now
	}
	return &Calculator{durationHours: durationHours, clock: clock}
}

func (c *Calculator) DurationHours() int {
	return c.durationHours
}

func (c *Calculator) Now() time.Time {
	return c.clock()
}

// CalculateExpiry returns now + hours; non-positive hours use the configured duration
func (c *Calculator) CalculateExpiry(now time.Time, hours int) time.Time {
	if hours <= 0 {
		hours = c.durationHours
	}
	return CalculateExpiry(now, hours)
}

// DefaultExpiry is the expiry of a grant issued now with the configured duration
func (c *Calculator) DefaultExpiry() time.Time {
	return CalculateExpiry(c.clock(), c.durationHours)
}

// CalculateExpiry is now + durationHours hours
func CalculateExpiry(now time.Time, durationHours int) time.Time {
	return now.Add(time.Duration(durationHours) * time.Hour)
}

// IsExpired is true only for a guest whose expiry is set and not after now.
// A guest without an expiry is treated as not expired.
func IsExpired(profile *models.UserProfile, now time.Time) bool {
	if profile == nil || profile.Role != models.RoleGuest || profile.GuestAccessExpiry == nil {
		return false
	}
	return !now.Before(*profile.GuestAccessExpiry)
}

// TimeRemaining is nil outside the guest role or without an expiry, otherwise
// the remaining window floored at zero
func TimeRemaining(profile *models.UserProfile, now time.Time) *time.Duration {
	if profile == nil || profile.Role != models.RoleGuest || profile.GuestAccessExpiry == nil {
		return nil
	}
	remaining := profile.GuestAccessExpiry.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

// IsExpired evaluates against the calculator's clock
func (c *Calculator) IsExpired(profile *models.UserProfile) bool {
	return IsExpired(profile, c.clock())
}

// TimeRemaining evaluates against the calculator's clock
func (c *Calculator) TimeRemaining(profile *models.UserProfile) *time.Duration {
	return TimeRemaining(profile, c.clock())
}

// FormatRemaining renders a remaining window for display
func FormatRemaining(remaining *time.Duration) string {
	if remaining == nil {
		return ""
	}
	d := *remaining
	if d <= 0 {
		return "Expired"
	}
	days := int(d / (24 * time.Hour))
	hours := int((d % (24 * time.Hour)) / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return "<1m"
	}
}
