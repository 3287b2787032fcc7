package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kamiya9428/simplechat/internal/alerts"
	"github.com/kamiya9428/simplechat/internal/audit"
	"github.com/kamiya9428/simplechat/internal/generate"
	"github.com/kamiya9428/simplechat/internal/logz"
)

var errMissingMessage = errors.New("missing required field: message")

const flushTimeout = 2 * time.Second

// Generator performs the outbound generation call.
type Generator interface {
	Generate(ctx context.Context, payload generate.Request) (string, error)
	Endpoint() string
}

type ChatHandler struct {
	service  string
	gen      Generator
	recorder *audit.Recorder
	notifier *alerts.Notifier
	tracer   trace.Tracer
	flush    func(context.Context) error
}

// NewChatHandler wires the handler. recorder and notifier may be nil.
func NewChatHandler(service string, gen Generator, recorder *audit.Recorder, notifier *alerts.Notifier) *ChatHandler {
	return &ChatHandler{
		service:  service,
		gen:      gen,
		recorder: recorder,
		notifier: notifier,
		tracer:   otel.Tracer("github.com/kamiya9428/simplechat/internal/handlers"),
	}
}

// WithFlush sets a hook run after the invocation span has ended, typically
// the tracer provider's ForceFlush.
func (h *ChatHandler) WithFlush(fn func(context.Context) error) *ChatHandler {
	h.flush = fn
	return h
}

type ChatRequest struct {
	Message             *string            `json:"message"`
	ConversationHistory []generate.Message `json:"conversationHistory"`
}

type chatSuccess struct {
	Success             bool               `json:"success"`
	Response            string             `json:"response"`
	ConversationHistory []generate.Message `json:"conversationHistory"`
}

type chatFailure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Handle never returns a non-nil error: every failure becomes a 500 response.
func (h *ChatHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	ctx, span := h.tracer.Start(ctx, "chat.handle", trace.WithSpanKind(trace.SpanKindServer))
	defer h.endSpan(ctx, span)

	requestID := requestIDFrom(ctx, req)
	caller := callerFrom(req)
	logger := logz.ForInvocation(ctx, requestID, caller.Name())

	logger.Info("received event",
		zap.String("method", req.HTTPMethod),
		zap.String("path", req.Path),
		zap.Int("body_bytes", len(req.Body)),
	)
	if caller.Known() {
		logger.Info("authenticated user", zap.String("user", caller.Name()), zap.String("sub", caller.Sub))
	}

	if req.HTTPMethod == http.MethodOptions {
		return preflightResp(), nil
	}

	in, err := parseChatRequest(req)
	if err != nil {
		return h.fail(ctx, span, logger, failure{requestID: requestID, caller: caller, err: err, start: start}), nil
	}
	logger.Debug("processing message",
		zap.Int("message_len", len(*in.Message)),
		zap.Int("history_len", len(in.ConversationHistory)),
	)

	payload := generate.NewRequest(in.ConversationHistory, *in.Message)
	logger.Debug("calling generation endpoint",
		zap.String("endpoint", h.gen.Endpoint()),
		zap.String("payload", generate.Summary(payload)),
	)

	callStart := time.Now()
	text, err := h.gen.Generate(ctx, payload)
	callMs := time.Since(callStart).Milliseconds()
	if err != nil {
		return h.fail(ctx, span, logger, failure{
			requestID:  requestID,
			caller:     caller,
			err:        err,
			start:      start,
			historyLen: len(in.ConversationHistory),
			upstream:   true,
		}), nil
	}
	logger.Info("generation endpoint replied", zap.Int64("latency_ms", callMs), zap.Int("reply_len", len(text)))

	history := append(payload.Messages, generate.Message{Role: generate.RoleAssistant, Content: text})

	span.SetAttributes(attribute.Int("http.response.status_code", http.StatusOK))
	h.record(ctx, logger, audit.Invocation{
		RequestID:  requestID,
		Caller:     caller.Name(),
		Outcome:    audit.OutcomeSuccess,
		StatusCode: http.StatusOK,
		HistoryLen: len(in.ConversationHistory),
		LatencyMs:  time.Since(start).Milliseconds(),
	})

	return jsonResp(http.StatusOK, chatSuccess{
		Success:             true,
		Response:            text,
		ConversationHistory: history,
	}), nil
}

func parseChatRequest(req events.APIGatewayProxyRequest) (*ChatRequest, error) {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		b, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return nil, err
		}
		body = b
	}

	var in ChatRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, err
	}
	if in.Message == nil {
		return nil, errMissingMessage
	}
	return &in, nil
}

type failure struct {
	requestID  string
	caller     Caller
	err        error
	start      time.Time
	historyLen int
	upstream   bool
}

// fail renders any error into the single 500 response shape.
func (h *ChatHandler) fail(ctx context.Context, span trace.Span, logger *zap.Logger, f failure) events.APIGatewayProxyResponse {
	var (
		se       *generate.StatusError
		ce       *generate.ConnectionError
		outcome  string
		msg      string
		upstream int
	)
	switch {
	case errors.As(f.err, &se):
		outcome, msg, upstream = audit.OutcomeHTTPError, se.Error(), se.Code
		logger.Error("HTTP Error", zap.Int("code", se.Code), zap.String("reason", se.Reason))
	case errors.As(f.err, &ce):
		outcome, msg = audit.OutcomeURLError, ce.Error()
		logger.Error("URL Error", zap.String("reason", ce.Reason))
	default:
		outcome, msg = audit.OutcomeError, f.err.Error()
		logger.Error("Error", zap.Error(f.err))
	}

	span.RecordError(f.err)
	span.SetStatus(codes.Error, msg)
	span.SetAttributes(
		attribute.Int("http.response.status_code", http.StatusInternalServerError),
		attribute.String("chat.outcome", outcome),
	)

	if f.upstream && outcome != audit.OutcomeError {
		if err := h.notifier.Notify(ctx, alerts.UpstreamFailure{
			Service:    h.service,
			RequestID:  f.requestID,
			Caller:     f.caller.Name(),
			Endpoint:   h.gen.Endpoint(),
			Kind:       outcome,
			StatusCode: upstream,
			Error:      msg,
		}); err != nil {
			logger.Warn("alert not sent", zap.Error(err))
		}
	}

	h.record(ctx, logger, audit.Invocation{
		RequestID:      f.requestID,
		Caller:         f.caller.Name(),
		Outcome:        outcome,
		StatusCode:     http.StatusInternalServerError,
		UpstreamStatus: upstream,
		HistoryLen:     f.historyLen,
		LatencyMs:      time.Since(f.start).Milliseconds(),
	})

	return jsonResp(http.StatusInternalServerError, chatFailure{Success: false, Error: msg})
}

func (h *ChatHandler) endSpan(ctx context.Context, span trace.Span) {
	span.End()
	if h.flush == nil {
		return
	}
	// the invocation context may already be at its deadline
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	if err := h.flush(fctx); err != nil {
		logz.NewLogger().Warn("trace flush failed", zap.Error(err))
	}
}

func (h *ChatHandler) record(ctx context.Context, logger *zap.Logger, inv audit.Invocation) {
	if err := h.recorder.Record(ctx, inv); err != nil {
		logger.Warn("audit record not written", zap.Error(err))
	}
}
