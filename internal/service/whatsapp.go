package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"support_chat/internal/config"
	"support_chat/internal/domain"
	"support_chat/internal/metrics"
	"support_chat/internal/repository"
	"support_chat/internal/tenant"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

const (
	whatsAppGuestName   = "WhatsApp User"
	whatsAppPrefix      = "whatsapp:"
	whatsAppEmailPrefix = "whatsapp_"
	appointmentLayout   = "02 Jan 2006 15:04"
)

// InboundMessage - поля вебхука шлюза WhatsApp
type InboundMessage struct {
	From       string `form:"From" validate:"required"`
	To         string `form:"To" validate:"required"`
	Body       string `form:"Body" validate:"required"`
	MessageSID string `form:"MessageSid"`
}

type InboundResult struct {
	RoomID     uuid.UUID `json:"roomId"`
	GuestID    uuid.UUID `json:"guestId"`
	MessageID  string    `json:"messageId"`
	Reply      string    `json:"reply,omitempty"`
	Delivered  bool      `json:"delivered"`
	AISkipped  bool      `json:"aiSkipped"`
	BusinessID string    `json:"businessId"`
}

type ReminderResult struct {
	AppointmentID uuid.UUID `json:"appointmentId"`
	ScheduledAt   time.Time `json:"scheduledAt"`
	Delivered     bool      `json:"delivered"`
}

type WhatsAppService interface {
	HandleInbound(ctx context.Context, in InboundMessage) (*InboundResult, error)
	ScheduleAppointment(ctx context.Context, in InboundMessage) (*domain.Appointment, error)
	// SendAppointmentReminder напоминает гостю о визите. Неудачная доставка не является ошибкой.
	SendAppointmentReminder(ctx context.Context, appointmentID uuid.UUID, businessID string) (*ReminderResult, error)
}

type whatsAppService struct {
	rooms           RoomService
	messages        MessageService
	userRepo        repository.UserRepository
	appointmentRepo repository.AppointmentRepository
	audit           AuditService
	notifier        Notifier
	responder       Responder
	cfg             config.WhatsAppConfig
	now             func() time.Time
	log             logger.Logger
}

func NewWhatsAppService(
	rooms RoomService,
	messages MessageService,
	userRepo repository.UserRepository,
	appointmentRepo repository.AppointmentRepository,
	audit AuditService,
	notifier Notifier,
	responder Responder,
	cfg config.WhatsAppConfig,
	log logger.Logger,
) WhatsAppService {
	return &whatsAppService{
		rooms:           rooms,
		messages:        messages,
		userRepo:        userRepo,
		appointmentRepo: appointmentRepo,
		audit:           audit,
		notifier:        notifier,
		responder:       responder,
		cfg:             cfg,
		now:             time.Now,
		log:             log,
	}
}

func (s *whatsAppService) HandleInbound(ctx context.Context, in InboundMessage) (*InboundResult, error) {
	session, phone, err := s.openSession(ctx, in)
	if err != nil {
		return nil, err
	}
	metrics.WhatsAppInbound.Inc()

	guestMessage, err := s.messages.Send(ctx, SendMessageInput{
		RoomID:     session.Room.ID,
		SenderType: domain.SenderTypeGuest,
		SenderID:   session.User.ID.String(),
		Content:    in.Body,
		BusinessID: session.User.BusinessID,
	})
	if err != nil {
		return nil, err
	}

	result := &InboundResult{
		RoomID:     session.Room.ID,
		GuestID:    session.User.ID,
		MessageID:  guestMessage.ID,
		BusinessID: session.User.BusinessID,
	}

	// Пока агент держит override, отвечает он, а не AI
	room, err := s.rooms.GetRoom(ctx, session.Room.ID, session.User.BusinessID)
	if err != nil {
		return nil, err
	}
	if room.OverrideHolder() != "" || s.responder == nil {
		result.AISkipped = true
		return result, nil
	}

	reply, err := s.responder.Reply(ctx, ReplyRequest{
		BusinessID: session.User.BusinessID,
		Email:      *session.User.Email,
		Message:    in.Body,
	})
	if err != nil {
		s.log.Warn("AI responder failed", "error", err, "room_id", room.ID, "business_id", room.BusinessID)
		result.AISkipped = true
		return result, nil
	}
	if strings.TrimSpace(reply) == "" {
		result.AISkipped = true
		return result, nil
	}

	if _, err := s.messages.Send(ctx, SendMessageInput{
		RoomID:     room.ID,
		SenderType: domain.SenderTypeAI,
		Content:    reply,
		BusinessID: room.BusinessID,
	}); err != nil && !errors.Is(err, apperrors.ErrPersistence) {
		return nil, err
	}
	result.Reply = reply
	result.Delivered = s.deliver(ctx, room.BusinessID, &room.ID, phone, reply)

	return result, nil
}

func (s *whatsAppService) ScheduleAppointment(ctx context.Context, in InboundMessage) (*domain.Appointment, error) {
	scheduledAt, err := parseAppointmentTime(in.Body, s.now())
	if err != nil {
		return nil, err
	}

	session, phone, err := s.openSession(ctx, in)
	if err != nil {
		return nil, err
	}

	appointment := &domain.Appointment{
		ID:          uuid.New(),
		BusinessID:  session.User.BusinessID,
		GuestID:     session.User.ID,
		ScheduledAt: scheduledAt,
		Notes:       "Created via WhatsApp",
		CreatedAt:   s.now(),
	}
	if err := s.appointmentRepo.Create(ctx, appointment); err != nil {
		return nil, err
	}

	s.log.Info("Appointment scheduled", "appointment_id", appointment.ID, "guest_id", session.User.ID, "business_id", appointment.BusinessID)
	s.deliver(ctx, appointment.BusinessID, &session.Room.ID, phone, "Appointment scheduled for "+scheduledAt.Format(appointmentLayout))
	return appointment, nil
}

func (s *whatsAppService) SendAppointmentReminder(ctx context.Context, appointmentID uuid.UUID, businessID string) (*ReminderResult, error) {
	if businessID == "" {
		return nil, fmt.Errorf("%w: businessId is required", apperrors.ErrInvalidInput)
	}

	appointment, err := s.appointmentRepo.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := tenant.AssertBelongsToBusiness(appointment, businessID); err != nil {
		s.log.Warn("Cross-tenant reminder rejected", "appointment_id", appointmentID, "business_id", businessID)
		return nil, err
	}

	guest, err := s.userRepo.GetByID(ctx, appointment.GuestID)
	if err != nil {
		return nil, fmt.Errorf("guest of appointment %s: %w", appointmentID, err)
	}
	if err := tenant.AssertBelongsToBusiness(guest, businessID); err != nil {
		return nil, err
	}
	phone, ok := s.guestPhone(guest)
	if !ok {
		return nil, fmt.Errorf("%w: guest %s has no WhatsApp number", apperrors.ErrInvalidInput, guest.ID)
	}

	body := fmt.Sprintf("Reminder: you have a visit scheduled at %s.", appointment.ScheduledAt.Format(appointmentLayout))
	result := &ReminderResult{
		AppointmentID: appointment.ID,
		ScheduledAt:   appointment.ScheduledAt,
		Delivered:     s.deliver(ctx, businessID, nil, phone, body),
	}

	s.log.Info("Appointment reminder processed", "appointment_id", appointment.ID, "guest_id", guest.ID,
		"business_id", businessID, "delivered", result.Delivered)
	return result, nil
}

// guestPhone восстанавливает номер из служебного email гостя WhatsApp
func (s *whatsAppService) guestPhone(guest *domain.User) (string, bool) {
	if guest.Email == nil {
		return "", false
	}
	local, emailDomain, ok := strings.Cut(*guest.Email, "@")
	if !ok || emailDomain != s.cfg.EmailDomain {
		return "", false
	}
	phone, ok := strings.CutPrefix(local, whatsAppEmailPrefix)
	return phone, ok && phone != ""
}

// openSession находит тенанта по номеру-получателю и открывает гостевую сессию по номеру отправителя
func (s *whatsAppService) openSession(ctx context.Context, in InboundMessage) (*GuestSession, string, error) {
	if err := validateInput(in); err != nil {
		return nil, "", err
	}

	businessID, err := s.resolveBusiness(in.To)
	if err != nil {
		return nil, "", err
	}

	phone, err := NormalizePhone(in.From, s.cfg.DefaultCountryCode)
	if err != nil {
		return nil, "", err
	}

	session, err := s.rooms.CreateGuestSession(ctx, GuestSessionInput{
		Name:       whatsAppGuestName,
		Email:      whatsAppEmailPrefix + phone + "@" + s.cfg.EmailDomain,
		BusinessID: businessID,
		RoomName:   "whatsapp_" + phone,
	})
	if err != nil {
		return nil, "", err
	}
	return session, phone, nil
}

func (s *whatsAppService) resolveBusiness(to string) (string, error) {
	if businessID, ok := s.cfg.Accounts[to]; ok && businessID != "" {
		return businessID, nil
	}
	if businessID, ok := s.cfg.Accounts[strings.TrimPrefix(to, whatsAppPrefix)]; ok && businessID != "" {
		return businessID, nil
	}
	s.log.Warn("Inbound message for unknown WhatsApp account", "to", to)
	return "", fmt.Errorf("%w: no business configured for account %q", apperrors.ErrInvalidInput, to)
}

// deliver отправляет ответ во внешний канал. Ошибка доставки не откатывает сообщение.
func (s *whatsAppService) deliver(ctx context.Context, businessID string, roomID *uuid.UUID, phone, body string) bool {
	if s.notifier == nil {
		return false
	}
	err := s.notifier.Send(ctx, whatsAppPrefix+"+"+phone, body)
	if err == nil {
		return true
	}

	metrics.DeliveryFailures.WithLabelValues("whatsapp").Inc()
	s.log.Error("WhatsApp delivery failed", "error", err, "room_id", roomID, "business_id", businessID)
	s.audit.LogEvent(ctx, businessID, "", domain.ActorRoleSystem, roomID, domain.EventTypeDeliveryFailed, map[string]any{
		"channel": "whatsapp",
		"error":   err.Error(),
	})
	return false
}

// NormalizePhone приводит номер к цифрам в международном формате.
// Номер без "+" или "00" считается местным и получает код страны по умолчанию.
func NormalizePhone(raw, defaultCountryCode string) (string, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), whatsAppPrefix))
	international := strings.HasPrefix(raw, "+") || strings.HasPrefix(raw, "00")

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case digits == "":
		return "", fmt.Errorf("%w: phone number %q has no digits", apperrors.ErrInvalidInput, raw)
	case strings.HasPrefix(raw, "00"):
		digits = strings.TrimPrefix(digits, "00")
	case international:
	case defaultCountryCode != "" && strings.HasPrefix(digits, defaultCountryCode):
	default:
		digits = defaultCountryCode + strings.TrimLeft(digits, "0")
	}

	if len(digits) < 7 || len(digits) > 15 {
		return "", fmt.Errorf("%w: phone number %q has invalid length", apperrors.ErrInvalidInput, raw)
	}
	return digits, nil
}

var (
	appointmentDateRe = regexp.MustCompile(`\b(\d{1,2})[/\-](\d{1,2})\b`)
	appointmentTimeRe = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
)

// parseAppointmentTime разбирает "DD/MM" (или "DD-MM") и "HH:MM".
// Прошедшая в этом году дата переносится на следующий год.
func parseAppointmentTime(body string, now time.Time) (time.Time, error) {
	date := appointmentDateRe.FindStringSubmatch(body)
	clock := appointmentTimeRe.FindStringSubmatch(body)
	if date == nil || clock == nil {
		return time.Time{}, fmt.Errorf("%w: expected appointment as DD/MM HH:MM", apperrors.ErrInvalidInput)
	}

	day, _ := strconv.Atoi(date[1])
	month, _ := strconv.Atoi(date[2])
	hour, _ := strconv.Atoi(clock[1])
	minute, _ := strconv.Atoi(clock[2])
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 {
		return time.Time{}, fmt.Errorf("%w: appointment date or time out of range", apperrors.ErrInvalidInput)
	}

	at := time.Date(now.Year(), time.Month(month), day, hour, minute, 0, 0, now.Location())
	if at.Day() != day {
		return time.Time{}, fmt.Errorf("%w: no such day %d/%d", apperrors.ErrInvalidInput, day, month)
	}
	if at.Before(now) {
		at = at.AddDate(1, 0, 0)
	}
	return at, nil
}
