package domain

import "time"

type AgentPresence struct {
	AgentID    string    `json:"agentId"`
	BusinessID string    `json:"businessId"`
	IsOnline   bool      `json:"isOnline"`
	LastSeen   time.Time `json:"lastSeen"`
}

func (p *AgentPresence) TenantID() string {
	if p == nil {
		return ""
	}
	return p.BusinessID
}
