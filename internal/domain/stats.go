package domain

import "time"

// BusinessStats - сводка по тенанту для панели агентов
type BusinessStats struct {
	BusinessID      string    `json:"businessId"`
	ActiveRooms     int       `json:"activeRooms"`
	ClosedRooms     int       `json:"closedRooms"`
	OverriddenRooms int       `json:"overriddenRooms"`
	Messages        int       `json:"messages"`
	AgentsOnline    int       `json:"agentsOnline"`
	GeneratedAt     time.Time `json:"generatedAt"`
}
