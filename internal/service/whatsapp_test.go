package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"support_chat/internal/config"
	"support_chat/internal/domain"
	"support_chat/internal/mocks"
	"support_chat/internal/service"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

func testWhatsAppConfig() config.WhatsAppConfig {
	return config.WhatsAppConfig{
		EmailDomain:        "whatsapp.local",
		DefaultCountryCode: "232",
		Accounts:           map[string]string{"whatsapp:+14155238886": "B1"},
	}
}

func newWhatsAppService(env *testEnv, notifier service.Notifier, responder service.Responder) service.WhatsAppService {
	return service.NewWhatsAppService(env.rooms, env.messages, env.repos.User, env.repos.Appointment, env.audit, notifier, responder, testWhatsAppConfig(), logger.Nop())
}

func inbound(body string) service.InboundMessage {
	return service.InboundMessage{
		From:       "whatsapp:+23276123456",
		To:         "whatsapp:+14155238886",
		Body:       body,
		MessageSID: "SM123",
	}
}

func TestWhatsAppService_HandleInbound(t *testing.T) {
	ctx := context.Background()

	t.Run("should store the guest message and relay the AI reply", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		env := newTestEnv(t)
		notifier := mocks.NewMockNotifier(ctrl)
		responder := mocks.NewMockResponder(ctrl)
		svc := newWhatsAppService(env, notifier, responder)

		responder.EXPECT().
			Reply(gomock.Any(), service.ReplyRequest{BusinessID: "B1", Email: "whatsapp_23276123456@whatsapp.local", Message: "opening hours?"}).
			Return("We open at 9.", nil).
			Times(1)
		notifier.EXPECT().
			Send(gomock.Any(), "whatsapp:+23276123456", "We open at 9.").
			Return(nil).
			Times(1)

		res, err := svc.HandleInbound(ctx, inbound("opening hours?"))
		req.NoError(err)
		req.Equal("B1", res.BusinessID)
		req.True(res.Delivered)
		req.False(res.AISkipped)

		room, err := env.rooms.GetRoom(ctx, res.RoomID, "B1")
		req.NoError(err)
		req.Equal("whatsapp_23276123456", *room.Name)

		history, err := env.messages.History(ctx, res.RoomID, "B1", 10, 0)
		req.NoError(err)
		req.Len(history, 2)
		req.Equal(domain.SenderTypeGuest, history[0].SenderType)
		req.Equal(domain.SenderTypeAI, history[1].SenderType)
		req.Equal("We open at 9.", history[1].Content)
	})

	t.Run("should reuse the room for the same phone", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		env := newTestEnv(t)
		svc := newWhatsAppService(env, mocks.NewMockNotifier(ctrl), nil)

		first, err := svc.HandleInbound(ctx, inbound("hi"))
		req.NoError(err)
		req.True(first.AISkipped)

		second, err := svc.HandleInbound(ctx, service.InboundMessage{From: "whatsapp:076123456", To: "whatsapp:+14155238886", Body: "again"})
		req.NoError(err)
		req.Equal(first.RoomID, second.RoomID)
	})

	t.Run("should skip AI while an agent holds the override", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		env := newTestEnv(t)
		responder := mocks.NewMockResponder(ctrl)
		svc := newWhatsAppService(env, mocks.NewMockNotifier(ctrl), responder)

		responder.EXPECT().Reply(gomock.Any(), gomock.Any()).Return("", nil).Times(1)
		first, err := svc.HandleInbound(ctx, inbound("hi"))
		req.NoError(err)

		env.agent(t, "B1", "AGT1")
		_, err = env.rooms.Override(ctx, first.RoomID, "AGT1", "B1")
		req.NoError(err)

		res, err := svc.HandleInbound(ctx, inbound("still there?"))
		req.NoError(err)
		req.True(res.AISkipped)
	})

	t.Run("should keep the message when delivery fails", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		env := newTestEnv(t)
		notifier := mocks.NewMockNotifier(ctrl)
		responder := mocks.NewMockResponder(ctrl)
		svc := newWhatsAppService(env, notifier, responder)

		responder.EXPECT().Reply(gomock.Any(), gomock.Any()).Return("Sure.", nil)
		notifier.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("twilio: 503"))

		res, err := svc.HandleInbound(ctx, inbound("can you help?"))
		req.NoError(err)
		req.False(res.Delivered)

		history, err := env.messages.History(ctx, res.RoomID, "B1", 10, 0)
		req.NoError(err)
		req.Len(history, 2)
	})

	t.Run("should reject an unknown receiving account", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		env := newTestEnv(t)
		svc := newWhatsAppService(env, mocks.NewMockNotifier(ctrl), mocks.NewMockResponder(ctrl))

		msg := inbound("hi")
		msg.To = "whatsapp:+10000000000"
		_, err := svc.HandleInbound(ctx, msg)
		require.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})
}

func TestWhatsAppService_ScheduleAppointment(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	env := newTestEnv(t)
	notifier := mocks.NewMockNotifier(ctrl)
	svc := newWhatsAppService(env, notifier, nil)
	service.SetWhatsAppClock(svc, func() time.Time { return time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC) })

	notifier.EXPECT().
		Send(gomock.Any(), "whatsapp:+23276123456", "Appointment scheduled for 15 Mar 2024 14:30").
		Return(nil)

	appt, err := svc.ScheduleAppointment(ctx, inbound("Book me 15/03 at 14:30 please"))
	req.NoError(err)
	req.Equal("B1", appt.BusinessID)
	req.Equal(time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC), appt.ScheduledAt)

	stored, err := env.repos.Appointment.ListByGuest(ctx, appt.GuestID)
	req.NoError(err)
	req.Len(stored, 1)

	_, err = svc.ScheduleAppointment(ctx, inbound("sometime next week"))
	req.ErrorIs(err, apperrors.ErrInvalidInput)
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "whatsapp:+23276123456", want: "23276123456"},
		{raw: "whatsapp:+14155238886", want: "14155238886"},
		{raw: "076 123 456", want: "23276123456"},
		{raw: "23276123456", want: "23276123456"},
		{raw: "0044 20 7946 0958", want: "442079460958"},
		{raw: "whatsapp:", wantErr: true},
		{raw: "+12", wantErr: true},
	}

	for _, tc := range cases {
		got, err := service.NormalizePhone(tc.raw, "232")
		if tc.wantErr {
			require.ErrorIs(t, err, apperrors.ErrInvalidInput, tc.raw)
			continue
		}
		require.NoError(t, err, tc.raw)
		require.Equal(t, tc.want, got, tc.raw)
	}
}

func TestParseAppointmentTime(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	at, err := service.ParseAppointmentTime("see you 1-2 9:05", now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 2, 1, 9, 5, 0, 0, time.UTC), at, "past date moves to next year")

	_, err = service.ParseAppointmentTime("31/02 10:00", now)
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = service.ParseAppointmentTime("15/13 10:00", now)
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

// recordingAudit запоминает записи аудита
type recordingAudit struct {
	mu   sync.Mutex
	logs []*domain.AuditLog
}

func (r *recordingAudit) CreateLog(_ context.Context, log *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

func (r *recordingAudit) byType(eventType string) []*domain.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.AuditLog
	for _, l := range r.logs {
		if l.EventType == eventType {
			out = append(out, l)
		}
	}
	return out
}

func seedAppointment(t *testing.T, env *testEnv, businessID, email string, at time.Time) *domain.Appointment {
	t.Helper()
	session := env.guest(t, businessID, "WhatsApp User", email)
	appt := &domain.Appointment{
		ID:          uuid.New(),
		BusinessID:  businessID,
		GuestID:     session.User.ID,
		ScheduledAt: at,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, env.repos.Appointment.Create(context.Background(), appt))
	return appt
}

func TestWhatsAppService_SendAppointmentReminder(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)

	t.Run("should send the reminder to the guest phone", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		env := newTestEnv(t)
		notifier := mocks.NewMockNotifier(ctrl)
		svc := newWhatsAppService(env, notifier, nil)
		appt := seedAppointment(t, env, "B1", "whatsapp_23276123456@whatsapp.local", at)

		notifier.EXPECT().
			Send(gomock.Any(), "whatsapp:+23276123456", "Reminder: you have a visit scheduled at 15 Mar 2024 14:30.").
			Return(nil).
			Times(1)

		res, err := svc.SendAppointmentReminder(ctx, appt.ID, "B1")
		req.NoError(err)
		req.True(res.Delivered)
		req.Equal(appt.ID, res.AppointmentID)
		req.True(at.Equal(res.ScheduledAt))
	})

	t.Run("should audit a failed delivery without returning it", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		env := newTestEnv(t)
		audit := &recordingAudit{}
		env.audit = service.NewAuditService(audit, logger.Nop())
		notifier := mocks.NewMockNotifier(ctrl)
		svc := newWhatsAppService(env, notifier, nil)
		appt := seedAppointment(t, env, "B1", "whatsapp_23276123456@whatsapp.local", at)

		notifier.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("twilio: 503"))

		res, err := svc.SendAppointmentReminder(ctx, appt.ID, "B1")
		req.NoError(err)
		req.False(res.Delivered)

		failures := audit.byType(domain.EventTypeDeliveryFailed)
		req.Len(failures, 1)
		req.Equal("B1", failures[0].BusinessID)
		req.Nil(failures[0].RoomID)
		req.Equal("twilio: 503", failures[0].Payload["error"])
	})

	t.Run("should reject another tenant's appointment", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		env := newTestEnv(t)
		svc := newWhatsAppService(env, mocks.NewMockNotifier(ctrl), nil)
		appt := seedAppointment(t, env, "B1", "whatsapp_23276123456@whatsapp.local", at)

		_, err := svc.SendAppointmentReminder(ctx, appt.ID, "B2")
		req.ErrorIs(err, apperrors.ErrTenantMismatch)

		_, err = svc.SendAppointmentReminder(ctx, appt.ID, "")
		req.ErrorIs(err, apperrors.ErrInvalidInput)
	})

	t.Run("should report unknown appointments and non-WhatsApp guests", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		env := newTestEnv(t)
		svc := newWhatsAppService(env, mocks.NewMockNotifier(ctrl), nil)

		_, err := svc.SendAppointmentReminder(ctx, uuid.New(), "B1")
		req.ErrorIs(err, apperrors.ErrNotFound)

		appt := seedAppointment(t, env, "B1", "jane@example.com", at)
		_, err = svc.SendAppointmentReminder(ctx, appt.ID, "B1")
		req.ErrorIs(err, apperrors.ErrInvalidInput)
	})
}
