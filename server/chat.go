package server

import (
	"context"
	"net/http"

	"github.com/teranos/peterbot/logger"
	"github.com/teranos/peterbot/pulse/async"
)

// DispatchedAck is posted to the conversation when a chat message becomes a job
const DispatchedAck = "This is taking a while. I'll send the answer here when it's ready."

type chatRequest struct {
	Input              string `json:"input"`
	ConversationTarget string `json:"conversationTarget"`
}

// handleChat runs the inline fast path: 200 with the reply, or 202 with the
// job the message was escalated to.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dispatcher == nil {
		s.writeWrappedError(w, r, ErrChatDisabled, "chat is not configured")
		return
	}

	var req chatRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	res, err := s.deps.Dispatcher.Handle(r.Context(), async.InlineRequest{
		Input:              req.Input,
		ConversationTarget: req.ConversationTarget,
	})
	if err != nil {
		s.writeWrappedError(w, r, err, "chat request failed")
		return
	}

	s.echoToConversation(req.ConversationTarget, res)

	if res.Dispatched {
		writeJSON(w, http.StatusAccepted, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// echoToConversation posts the reply, or the dispatch acknowledgement, to the
// chat transport off the request path. Skipped when no transport is wired.
func (s *Server) echoToConversation(target string, res async.InlineResult) {
	if target == "" || s.deps.Tasks == nil || s.deps.Delivery == nil {
		return
	}

	text := res.Text
	name := "chat-reply"
	if res.Dispatched {
		text = DispatchedAck
		name = "chat-ack:" + shortID(res.JobID)
	}
	text = async.FormatDelivery("", text, s.cfg.MessageLimit)

	err := s.deps.Tasks.Submit(name, func(ctx context.Context) error {
		return s.deps.Delivery.Send(ctx, target, text)
	})
	if err != nil {
		logger.AddChatSymbol(s.logger).Warnw("Conversation echo dropped",
			logger.FieldTarget, target,
			logger.FieldError, err)
	}
}
