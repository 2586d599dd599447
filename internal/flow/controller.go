package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/DocFinder/internal/format"
	"github.com/BTreeMap/DocFinder/internal/intent"
	"github.com/BTreeMap/DocFinder/internal/models"
	"github.com/BTreeMap/DocFinder/internal/search"
	"github.com/BTreeMap/DocFinder/internal/store"
	"github.com/BTreeMap/DocFinder/internal/util"
)

// DefaultMinSymptoms is the accumulated symptom count required before a
// symptom-driven search may run.
const DefaultMinSymptoms = 2

var tracer = otel.Tracer("github.com/BTreeMap/DocFinder/internal/flow")

// Controller advances one patient conversation per call.
type Controller struct {
	completer     Completer
	searcher      Searcher
	conversations ConversationRepo
	locations     LocationResolver
	classifier    *ResetClassifier
	locker        store.Locker
	lockTTL       time.Duration
	chat          completionCall
	retry         util.RetryPolicy
	minSymptoms   int
}

// Option configures a Controller.
type Option func(*Controller)

// WithLocations sets the patient location resolver.
func WithLocations(r LocationResolver) Option {
	return func(c *Controller) { c.locations = r }
}

// WithResetClassifier enables topic-change detection.
func WithResetClassifier(r *ResetClassifier) Option {
	return func(c *Controller) { c.classifier = r }
}

// WithLocker serializes calls for the same patient.
func WithLocker(l store.Locker, ttl time.Duration) Option {
	return func(c *Controller) {
		c.locker = l
		c.lockTTL = ttl
	}
}

// WithChatModel sets the dialogue model and per-attempt timeout.
func WithChatModel(model string, timeout time.Duration) Option {
	return func(c *Controller) {
		c.chat.model = model
		if timeout > 0 {
			c.chat.timeout = timeout
		}
	}
}

// WithCompletionRetry sets the retry policy for the dialogue completion.
func WithCompletionRetry(p util.RetryPolicy) Option {
	return func(c *Controller) { c.retry = p }
}

// WithMinSymptoms sets the symptom guard threshold.
func WithMinSymptoms(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.minSymptoms = n
		}
	}
}

// NewController creates a Controller.
func NewController(completer Completer, searcher Searcher, conversations ConversationRepo, opts ...Option) *Controller {
	c := &Controller{
		completer:     completer,
		searcher:      searcher,
		conversations: conversations,
		lockTTL:       30 * time.Second,
		chat:          completionCall{timeout: 15 * time.Second},
		retry:         util.RetryPolicy{Attempts: 3, BaseDelay: 300 * time.Millisecond, MaxJitter: 100 * time.Millisecond},
		minSymptoms:   DefaultMinSymptoms,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Advance handles one inbound message and returns the reply.
//
// Input errors are returned before any state is touched. When the completion
// service stays unavailable the user turn is still persisted and
// ErrCompletionUnavailable is returned.
func (c *Controller) Advance(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	ctx, span := tracer.Start(ctx, "flow.Advance")
	defer span.End()

	if err := req.Validate(); err != nil {
		return models.ChatResponse{}, err
	}
	patientID := strings.TrimSpace(req.PatientID)
	span.SetAttributes(attribute.String("patient_id", patientID))

	if c.locker != nil {
		unlock, err := c.locker.Lock(ctx, "conversation:"+patientID, c.lockTTL)
		if err != nil {
			span.RecordError(err)
			return models.ChatResponse{}, fmt.Errorf("lock conversation: %w", err)
		}
		defer unlock()
	}

	state, loc, err := c.prefetch(ctx, patientID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "conversation unavailable")
		return models.ChatResponse{}, err
	}

	phase := PhaseActive
	switch {
	case state.IsEmpty() || !state.HasSystemPrompt():
		phase = PhaseEmpty
	case c.classifier != nil && c.classifier.ShouldReset(ctx, state, req.Message):
		phase = PhaseReset
	}
	span.SetAttributes(attribute.String("phase", string(phase)))

	prompt := RenderSystemPrompt(loc)
	if phase == PhaseActive {
		if syncSystemPrompt(state, prompt) {
			slog.Info("Controller.Advance: system prompt updated", "patientID", patientID)
		}
	} else {
		slog.Info("Controller.Advance: starting conversation", "patientID", patientID, "phase", phase, "locationKnown", loc.Known())
		state = freshState(prompt, loc)
	}

	state.Dialogue = append(state.Dialogue, models.Turn{Role: models.RoleUser, Content: req.Message})

	reply, err := c.complete(ctx, state.Dialogue)
	if err != nil {
		c.save(ctx, patientID, state)
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion unavailable")
		slog.Error("Controller.Advance: completion failed", "patientID", patientID, "error", err)
		return models.ChatResponse{}, fmt.Errorf("%w: %v", ErrCompletionUnavailable, err)
	}

	reply = SubstitutePlaceholders(reply, loc)
	parsed := intent.Parse(reply, loc)
	in := parsed.Intent
	display := intent.StripJSON(reply)
	slog.Debug("Controller.Advance: reply parsed", "patientID", patientID, "strategy", parsed.Strategy, "intent", in != nil)

	if in.HasSymptoms() {
		state.Symptoms = append(state.Symptoms, in.Symptoms...)
	}
	ApplyHints(in, req)
	if ApplyNearMe(in, req.Message, loc) {
		slog.Debug("Controller.Advance: using registered location for near-me request", "patientID", patientID)
	}

	if in.HasSymptoms() && len(state.Symptoms) < c.minSymptoms && in.QuestioningComplete {
		slog.Info("Controller.Advance: delaying recommendations", "patientID", patientID, "symptoms", len(state.Symptoms))
		in.QuestioningComplete = false
	}

	var recs *models.Recommendations
	if in.WantsSearch() {
		in.SpecialistType = strings.ToLower(strings.TrimSpace(in.SpecialistType))
		docs := c.search(ctx, in, loc)
		if len(docs) == 0 {
			display = c.noResultsReply(ctx, prompt, req.Message, in.SpecialistType)
		} else {
			recs = &models.Recommendations{
				SpecialistType:        in.SpecialistType,
				Specialists:           docs,
				TelehealthAppropriate: in.TelehealthAppropriate,
				Severity:              in.SeverityLabel(),
				Summary:               format.Recommendations(docs, in.Urgent, in.TelehealthAppropriate),
			}
		}
		span.SetAttributes(attribute.Int("results", len(docs)))
	}

	state.Dialogue = append(state.Dialogue, models.Turn{Role: models.RoleAssistant, Content: display})
	c.save(ctx, patientID, state)

	return models.ChatResponse{Response: display, Recommendations: recs, Intent: in}, nil
}

// prefetch loads the stored dialogue and the patient location concurrently.
// A failed location lookup degrades to an unknown location; a failed
// conversation load is returned so the stored history is never overwritten.
func (c *Controller) prefetch(ctx context.Context, patientID string) (*models.ConversationState, *models.PatientLocation, error) {
	var (
		state *models.ConversationState
		loc   *models.PatientLocation
	)
	var g errgroup.Group
	g.Go(func() error {
		s, err := c.conversations.Load(ctx, patientID)
		if err != nil {
			slog.Error("Controller.prefetch: conversation load failed", "patientID", patientID, "error", err)
			return fmt.Errorf("%w: %v", ErrConversationUnavailable, err)
		}
		state = s
		return nil
	})
	if c.locations != nil {
		g.Go(func() error {
			l, err := c.locations.Resolve(ctx, patientID)
			if err != nil {
				slog.Warn("Controller.prefetch: location lookup failed, treating as unknown", "patientID", patientID, "error", err)
				return nil
			}
			loc = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if state == nil {
		state = &models.ConversationState{}
	}
	return state, loc, nil
}

func (c *Controller) complete(ctx context.Context, turns []models.Turn) (string, error) {
	var reply string
	err := util.Retry(ctx, "flow.complete", c.retry, func(ctx context.Context) error {
		var err error
		reply, err = c.chat.run(ctx, c.completer, turns)
		return err
	})
	return reply, err
}

// search runs the doctor search. Errors count as zero results.
func (c *Controller) search(ctx context.Context, in *models.Intent, loc *models.PatientLocation) []models.Doctor {
	p := search.Params{
		SpecialistType:     in.SpecialistType,
		City:               in.City,
		Country:            in.Country,
		Language:           in.Language,
		TelehealthRequired: in.TelehealthAppropriate,
		PatientCity:        loc.CityOrNil(),
		PatientCountry:     loc.CountryOrNil(),
	}
	docs, err := c.searcher.Search(ctx, p)
	if err != nil {
		slog.Error("Controller.search: search failed, treating as no results", "specialistType", p.SpecialistType, "error", err)
		return nil
	}
	slog.Info("Controller.search: found doctors", "specialistType", p.SpecialistType, "count", len(docs))
	return docs
}

// noResultsReply asks the model for a short acknowledgement. It makes a
// single attempt and falls back to fixed text.
func (c *Controller) noResultsReply(ctx context.Context, prompt, message, specialistType string) string {
	turns := []models.Turn{
		{Role: models.RoleSystem, Content: prompt},
		{Role: models.RoleUser, Content: message},
		{Role: models.RoleSystem, Content: noResultsInstruction(specialistType)},
	}
	reply, err := c.chat.run(ctx, c.completer, turns)
	if err == nil {
		if text := intent.StripJSON(reply); text != "" {
			return text
		}
	} else {
		slog.Error("Controller.noResultsReply: completion failed, using fixed reply", "error", err)
	}
	return noResultsFallback(specialistType)
}

func (c *Controller) save(ctx context.Context, patientID string, state *models.ConversationState) {
	if err := c.conversations.Save(ctx, patientID, state); err != nil {
		slog.Error("Controller.save: conversation save failed", "patientID", patientID, "error", err)
	}
}
