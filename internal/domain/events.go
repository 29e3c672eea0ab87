package domain

// Имена событий realtime-канала
const (
	// client -> server
	EventGuestJoin       = "guestJoin"
	EventAgentLogin      = "agentLogin"
	EventJoinRoom        = "joinRoom"
	EventLeaveRoom       = "leaveRoom"
	EventSendMessage     = "sendMessage"
	EventAuthMessage     = "authMessage"
	EventHeartbeat       = "heartbeat"
	EventTyping          = "typing"
	EventToggleAI        = "toggleAI"
	EventOverrideRoom    = "overrideRoom"
	EventReleaseOverride = "releaseOverride"
	EventCloseRoom       = "closeRoom"
	EventRoomHistory     = "roomHistory"

	// server -> client
	EventMessage       = "message"
	EventMessageFailed = "messageFailed"
	EventNotification  = "notification"
	EventAgentStatus   = "agentStatus"
	EventRoomCreated   = "roomCreated"
	EventAgentJoined   = "agentJoined"
	EventOverride      = "override"
	EventRoomClosed    = "roomClosed"
	EventTagged        = "tagged"
	EventAck           = "ack"
)
