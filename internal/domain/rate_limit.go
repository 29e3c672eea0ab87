package domain

import "time"

type RateLimitRule struct {
	Scope  string        `json:"scope"`
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

const (
	RateLimitScopeGlobal   = "global"
	RateLimitScopeIP       = "ip"
	RateLimitScopeWhatsApp = "whatsapp"
)
