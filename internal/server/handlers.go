package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/map-community/CHATBOT-AI-sub000/internal/compose"
	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
	"github.com/map-community/CHATBOT-AI-sub000/internal/retrieval"
	"github.com/map-community/CHATBOT-AI-sub000/internal/telemetry"
	"github.com/map-community/CHATBOT-AI-sub000/internal/validation"
)

// healthPingTimeout bounds the backend pings so a hung backend cannot
// stall the health endpoint.
const healthPingTimeout = 5 * time.Second

type answerRequest struct {
	Question string `json:"question"`
}

// handleAnswer is POST /ai/ai-response: validate, retrieve, compose.
func (s *Server) handleAnswer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be JSON with a question field"})
		return
	}

	question, err := validation.Question(req.Question)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()

	started := time.Now()
	res, err := s.searcher.Search(ctx, question)
	if err != nil {
		s.failAnswer(c, question, nil, started, "retrieval failed", err)
		return
	}

	composeStarted := time.Now()
	resp, err := s.answerer.Compose(ctx, res)
	if err != nil {
		s.failAnswer(c, question, res, started, "composition failed", err)
		return
	}
	if res.Stages == nil {
		res.Stages = make(map[telemetry.Stage]time.Duration)
	}
	res.Stages[telemetry.StageCompose] = time.Since(composeStarted)

	s.record(question, res, classifyOutcome(res, resp), started)
	c.JSON(http.StatusOK, resp)
}

// failAnswer logs the failure, records the error outcome, and answers
// with a stable envelope that leaks no internals.
func (s *Server) failAnswer(c *gin.Context, question string, res *retrieval.Result, started time.Time, msg string, err error) {
	s.logger.Error(msg,
		slog.String("request_id", RequestIDFrom(c)),
		slog.String("code", qaerrors.GetCode(err)),
		slog.String("error", err.Error()))
	s.record(question, res, telemetry.OutcomeError, started)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "answer generation failed"})
}

// handleHealth is GET /health: liveness, plus backend pings when a
// pinger is wired.
func (s *Server) handleHealth(c *gin.Context) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// classifyOutcome maps a finished query onto its telemetry outcome.
func classifyOutcome(res *retrieval.Result, resp *compose.Response) telemetry.Outcome {
	switch {
	case res.List != nil:
		return telemetry.OutcomeListing
	case !resp.Answerable:
		return telemetry.OutcomeNoAnswer
	default:
		return telemetry.OutcomeAnswered
	}
}

// record captures one finished query. res is nil when retrieval itself
// failed.
func (s *Server) record(question string, res *retrieval.Result, outcome telemetry.Outcome, started time.Time) {
	if s.metrics == nil {
		return
	}
	ev := telemetry.QueryEvent{
		Query:     question,
		Outcome:   outcome,
		Latency:   time.Since(started),
		Timestamp: time.Now(),
	}
	if res != nil {
		ev.Tokens = res.QueryTokens
		ev.ResultCount = len(res.Chunks)
		ev.Stages = res.Stages
	}
	s.metrics.Record(ev)
}
