package onboarding

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Analytics event names
const (
	EventOnboardingStarted = "onboarding_started"
	EventStepCompleted     = "step_completed"
	EventStepSkipped       = "step_skipped"
	EventOnboardingReset   = "onboarding_reset"
	EventOnboardingStalled = "onboarding_stalled"
	EventEmailSent         = "email_sent"
)

// Event is one onboarding analytics event
type Event struct {
	CompanyID  uuid.UUID
	UserID     uuid.UUID
	Name       string
	Step       Step
	Data       map[string]any
	SessionID  string
	UserAgent  string
	IPAddress  string
	OccurredAt time.Time
}

// Emitter records analytics events. Callers treat it as best-effort.
type Emitter interface {
	Track(ctx context.Context, event Event) error
}

// ClientInfo identifies the client session that triggered a transition
type ClientInfo struct {
	SessionID string
	UserAgent string
	IPAddress string
}

type clientInfoKey struct{}

// WithClientInfo attaches client details to ctx for analytics events
func WithClientInfo(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, info)
}

// ClientInfoFrom returns the client details attached to ctx, if any
func ClientInfoFrom(ctx context.Context) ClientInfo {
	info, _ := ctx.Value(clientInfoKey{}).(ClientInfo)
	return info
}

// analyticsDocument is the onboarding_analytics collection shape
type analyticsDocument struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	CompanyID  string             `bson:"company_id"`
	UserID     string             `bson:"user_id"`
	EventName  string             `bson:"event_name"`
	EventData  map[string]any     `bson:"event_data,omitempty"`
	Step       string             `bson:"step,omitempty"`
	SessionID  string             `bson:"session_id,omitempty"`
	UserAgent  string             `bson:"user_agent,omitempty"`
	IPAddress  string             `bson:"ip_address,omitempty"`
	OccurredAt time.Time          `bson:"occurred_at"`
}

// MongoEmitter appends events to the onboarding_analytics collection
type MongoEmitter struct {
	c *mongo.Collection
}

// NewMongoEmitter creates an emitter writing to db.onboarding_analytics
func NewMongoEmitter(db *mongo.Database) *MongoEmitter {
	return &MongoEmitter{c: db.Collection("onboarding_analytics")}
}

// EnsureIndexes creates the indexes used by funnel queries
func (e *MongoEmitter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "company_id", Value: 1}, {Key: "occurred_at", Value: -1}},
			Options: options.Index().SetName("idx_onboarding_company"),
		},
		{
			Keys:    bson.D{{Key: "event_name", Value: 1}, {Key: "step", Value: 1}, {Key: "occurred_at", Value: -1}},
			Options: options.Index().SetName("idx_onboarding_funnel"),
		},
	}
	_, err := e.c.Indexes().CreateMany(ctx, indexes)
	return err
}

func (e *MongoEmitter) Track(ctx context.Context, event Event) error {
	doc := analyticsDocument{
		ID:         primitive.NewObjectID(),
		CompanyID:  event.CompanyID.String(),
		UserID:     event.UserID.String(),
		EventName:  event.Name,
		EventData:  event.Data,
		Step:       string(event.Step),
		SessionID:  event.SessionID,
		UserAgent:  event.UserAgent,
		IPAddress:  event.IPAddress,
		OccurredAt: event.OccurredAt,
	}
	if doc.OccurredAt.IsZero() {
		doc.OccurredAt = time.Now().UTC()
	}
	_, err := e.c.InsertOne(ctx, doc)
	return err
}

// LogEmitter writes events to the application log. Used when no analytics store is configured.
type LogEmitter struct {
	logger *zap.Logger
}

func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (e *LogEmitter) Track(_ context.Context, event Event) error {
	e.logger.Info("Onboarding event",
		zap.String("event", event.Name),
		zap.String("company_id", event.CompanyID.String()),
		zap.String("user_id", event.UserID.String()),
		zap.String("step", string(event.Step)),
		zap.String("session_id", event.SessionID),
		zap.Any("data", event.Data))
	return nil
}
