package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/martinemde/rlm/contextnorm"
	"github.com/martinemde/rlm/rlm"
	"github.com/martinemde/rlm/unifiedllm"
)

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "RLM OpenAI-Compatible API",
		"version": "1.0.0",
		"endpoints": gin.H{
			"chat_completions": "/v1/chat/completions",
			"models":           "/v1/models",
			"sessions":         "/v1/sessions/{id}",
			"health":           "/health",
		},
		"features": []string{
			"OpenAI-compatible API",
			"Tool calling (function calling)",
			"Contexts far larger than the model window",
			"Stateful sessions",
		},
		"default_model": rlm.PairKey(s.registry.Base().Model, s.registry.Base().RecursiveModel),
	})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "rlm-api"})
}

// listModels returns the default pair, every pair in use, and a pair for
// each catalog model.
func (s *Server) listModels(c *gin.Context) {
	base := s.registry.Base()
	ids := []string{rlm.PairKey(base.Model, base.RecursiveModel)}
	ids = append(ids, s.registry.Pairs()...)
	for _, m := range unifiedllm.ListModels("") {
		ids = append(ids, rlm.PairKey(m.ID, unifiedllm.DefaultRecursiveModel(m.ID)))
	}

	created := s.started.Unix()
	seen := make(map[string]bool, len(ids))
	list := ModelList{Object: "list", Data: make([]ModelEntry, 0, len(ids))}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		list.Data = append(list.Data, ModelEntry{ID: id, Object: "model", Created: created, OwnedBy: "rlm"})
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getSession(c *gin.Context) {
	sess, ok := s.store.Get(c.Param("id"))
	if !ok {
		writeError(c, http.StatusNotFound, "session_not_found", fmt.Sprintf("session %q not found", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, sess.Info())
}

// deleteSession resets and closes a session.
func (s *Server) deleteSession(c *gin.Context) {
	id := c.Param("id")
	sess, ok := s.store.Get(id)
	if !ok {
		writeError(c, http.StatusNotFound, "session_not_found", fmt.Sprintf("session %q not found", id))
		return
	}
	sess.Reset()
	s.store.Delete(id)
	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}

func (s *Server) chatCompletions(c *gin.Context) {
	var req ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_error", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Stream {
		writeError(c, http.StatusBadRequest, "invalid_request_error", "streaming is not supported")
		return
	}
	if len(req.Messages) == 0 {
		writeError(c, http.StatusBadRequest, "invalid_request_error", "messages must not be empty")
		return
	}

	if results := trailingToolResults(req.Messages); results != nil {
		s.resume(c, req, results)
		return
	}
	s.start(c, req)
}

// start begins a new run, on the session named by the header if it exists
// or on a fresh one.
func (s *Server) start(c *gin.Context, req ChatCompletionRequest) {
	model, recursive := rlm.ParseModelPair(req.Model)
	engine, err := s.registry.Engine(model, recursive)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	tools, err := toolDefinitions(req.Tools)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	doc, err := contextnorm.Normalize(extractContext(req.Messages))
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_error", fmt.Sprintf("unusable context: %v", err))
		return
	}

	sess, ok := s.reusableSession(c.GetHeader(SessionHeader), engine)
	if !ok {
		sess = engine.NewSession()
		s.store.Put(sess)
	}

	s.logger.Debug("starting run",
		zap.String("session_id", sess.ID()),
		zap.String("model", engine.Config().Model),
		zap.Int("messages", len(req.Messages)),
		zap.Int("tools", len(tools)),
		zap.Int("context_chars", doc.Len()))

	result, err := sess.Completion(c.Request.Context(), rlm.Input{
		Context: doc,
		Query:   extractQuery(req.Messages),
		Tools:   tools,
	})
	s.respond(c, req, sess, result, err)
}

// resume continues the paused session that issued the tool calls.
func (s *Server) resume(c *gin.Context, req ChatCompletionRequest, results []unifiedllm.ToolResult) {
	sess, ok := s.pausedSession(c.GetHeader(SessionHeader), results)
	if !ok {
		writeError(c, http.StatusNotFound, "session_not_found", "no paused session is waiting for these tool results")
		return
	}

	s.logger.Debug("resuming run",
		zap.String("session_id", sess.ID()),
		zap.Int("tool_results", len(results)))

	result, err := sess.Completion(c.Request.Context(), rlm.Input{ToolResults: results})
	s.respond(c, req, sess, result, err)
}

func (s *Server) reusableSession(id string, engine *rlm.Engine) (*rlm.Session, bool) {
	if id == "" {
		return nil, false
	}
	sess, ok := s.store.Get(id)
	if !ok || sess.Config().Model != engine.Config().Model || sess.Config().RecursiveModel != engine.Config().RecursiveModel {
		return nil, false
	}
	return sess, true
}

func (s *Server) pausedSession(id string, results []unifiedllm.ToolResult) (*rlm.Session, bool) {
	if id != "" {
		return s.store.Get(id)
	}
	for _, r := range results {
		if sess, ok := s.store.FindByToolCallID(r.ToolCallID); ok {
			return sess, true
		}
	}
	return nil, false
}

func (s *Server) respond(c *gin.Context, req ChatCompletionRequest, sess *rlm.Session, result *rlm.Result, err error) {
	c.Header(SessionHeader, sess.ID())
	if err != nil {
		abortWithError(c, err)
		return
	}

	model := req.Model
	if model == "" {
		model = rlm.PairKey(sess.Config().Model, sess.Config().RecursiveModel)
	}
	choice := ChatChoice{Message: ResponseMessage{Role: "assistant"}}
	switch result.Kind {
	case rlm.ResultPaused:
		choice.FinishReason = "tool_calls"
		choice.Message.ToolCalls = wireToolCalls(result.ToolCalls)
		if result.Text != "" {
			text := result.Text
			choice.Message.Content = &text
		}
	default:
		choice.FinishReason = "stop"
		answer := result.Answer
		choice.Message.Content = &answer
	}

	c.JSON(http.StatusOK, ChatCompletionResponse{
		ID:      completionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChatChoice{choice},
	})
}
