package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/DocFinder/internal/models"
	"github.com/BTreeMap/DocFinder/internal/store"
	"github.com/BTreeMap/DocFinder/internal/twiliowhatsapp"
)

const msgUnknownPhone = "We couldn't find a patient profile for this number. Please register on Doctomed.ch first."

// twilioWebhookHandler answers inbound WhatsApp messages. The reply is sent
// through the REST API; the webhook response itself is empty TwiML.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioWebhookHandler: invalid form", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if s.validator != nil && !s.validator.Validate(r) {
		slog.Warn("Server.twilioWebhookHandler: invalid signature", "remote", r.RemoteAddr)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	from := r.PostForm.Get("From")
	text := strings.TrimSpace(r.PostForm.Get("Body"))
	sid := r.PostForm.Get("MessageSid")
	phone := twiliowhatsapp.PhoneNumber(from)
	ctx := r.Context()
	slog.Debug("Server.twilioWebhookHandler: inbound message", "from", phone, "messageSid", sid)

	if phone == "" || text == "" {
		writeTwiML(w)
		return
	}

	patient, err := s.patients.FindPatientByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, store.ErrPatientNotFound) {
			slog.Info("Server.twilioWebhookHandler: unknown sender", "from", phone)
			s.reply(ctx, phone, msgUnknownPhone)
			writeTwiML(w)
			return
		}
		slog.Error("Server.twilioWebhookHandler: patient lookup failed", "from", phone, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if s.dedup != nil && sid != "" {
		isNew, err := s.dedup.RecordInbound(ctx, sid, patient.ID)
		if err != nil {
			slog.Error("Server.twilioWebhookHandler: dedup record failed", "messageSid", sid, "error", err)
		} else if !isNew {
			slog.Info("Server.twilioWebhookHandler: duplicate delivery ignored", "messageSid", sid)
			writeTwiML(w)
			return
		}
	}

	resp, err := s.controller.Advance(ctx, models.ChatRequest{PatientID: patient.ID, Message: text})
	var out string
	if err != nil {
		_, out = advanceError(err)
		slog.Error("Server.twilioWebhookHandler: advance failed", "patientID", patient.ID, "error", err)
	} else {
		out = whatsappText(resp)
	}
	s.reply(ctx, phone, out)

	if s.dedup != nil && sid != "" {
		if err := s.dedup.MarkProcessed(ctx, sid); err != nil {
			slog.Warn("Server.twilioWebhookHandler: mark processed failed", "messageSid", sid, "error", err)
		}
	}
	writeTwiML(w)
}

func (s *Server) reply(ctx context.Context, phone, text string) {
	if err := s.sender.SendMessage(ctx, phone, text); err != nil {
		slog.Error("Server.reply: send failed", "to", phone, "error", err)
	}
}

// whatsappText joins the reply and the formatted recommendations.
func whatsappText(resp models.ChatResponse) string {
	parts := make([]string, 0, 2)
	if t := strings.TrimSpace(resp.Response); t != "" {
		parts = append(parts, t)
	}
	if resp.Recommendations != nil && resp.Recommendations.Summary != "" {
		parts = append(parts, resp.Recommendations.Summary)
	}
	return strings.Join(parts, "\n\n")
}
