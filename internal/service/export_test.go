package service

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Хуки для внешних тестов пакета

func SetPresenceClock(s PresenceService, now func() time.Time) {
	s.(*presenceService).now = now
}

func SetMessageRetryTimer(s MessageService, timer backoff.Timer) {
	s.(*messageService).timer = timer
}

func SetWhatsAppClock(s WhatsAppService, now func() time.Time) {
	s.(*whatsAppService).now = now
}

func ParseAppointmentTime(body string, now time.Time) (time.Time, error) {
	return parseAppointmentTime(body, now)
}
