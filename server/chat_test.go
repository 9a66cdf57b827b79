package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/peterbot/errors"
	"github.com/teranos/peterbot/pulse/async"
)

func TestChatAnsweredInline(t *testing.T) {
	h := newHarness(t, &fakeGateway{reply: "It's 14 degrees and sunny."})

	rec := h.do(t, http.MethodPost, "/api/chat", chatRequest{Input: "weather?", ConversationTarget: "chat-7"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"reply":"It's 14 degrees and sunny."}`, rec.Body.String())

	jobs, err := h.jobs.ListJobs(context.Background(), async.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs, "an inline answer creates no job")

	assert.Eventually(t, func() bool { return len(h.delivery.Sent()) == 1 }, time.Second, 10*time.Millisecond)
	sent := h.delivery.Sent()[0]
	assert.Equal(t, "chat-7", sent.target)
	assert.Equal(t, "It's 14 degrees and sunny.", sent.text)
}

func TestChatDispatchedOnTimeout(t *testing.T) {
	h := newHarness(t, &fakeGateway{reply: "late", block: make(chan struct{})})

	rec := h.do(t, http.MethodPost, "/api/chat", chatRequest{Input: "plan my week", ConversationTarget: "chat-7"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var res async.InlineResult
	decode(t, rec, &res)
	assert.True(t, res.Dispatched)
	require.NotEmpty(t, res.JobID)

	job, err := h.jobs.GetJobByID(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.Equal(t, async.JobTypeQuick, job.Type)
	assert.Equal(t, "plan my week", job.Input)
	assert.Equal(t, "chat-7", job.ConversationTarget)

	assert.Eventually(t, func() bool { return len(h.delivery.Sent()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, DispatchedAck, h.delivery.Sent()[0].text)
}

func TestChatWithoutTargetIsNotEchoed(t *testing.T) {
	h := newHarness(t, &fakeGateway{reply: "hello"})

	rec := h.do(t, http.MethodPost, "/api/chat", chatRequest{Input: "hi"})
	require.Equal(t, http.StatusOK, rec.Code)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.delivery.Sent())
}

func TestChatGatewayError(t *testing.T) {
	h := newHarness(t, &fakeGateway{err: errors.WrapGateway(errors.New("upstream 502"), "all providers failed")})

	rec := h.do(t, http.MethodPost, "/api/chat", chatRequest{Input: "hi", ConversationTarget: "chat-7"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp errorResponse
	decode(t, rec, &resp)
	assert.Equal(t, "chat request failed", resp.Error)

	jobs, err := h.jobs.ListJobs(context.Background(), async.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs, "a model error before the deadline creates no job")
	assert.Empty(t, h.delivery.Sent())
}

func TestChatRejectsEmptyInput(t *testing.T) {
	gw := &fakeGateway{reply: "unused"}
	h := newHarness(t, gw)

	rec := h.do(t, http.MethodPost, "/api/chat", chatRequest{Input: ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, gw.prompts)
}

func TestChatDisabled(t *testing.T) {
	h := newHarness(t, &fakeGateway{reply: "unused"}, withoutChat())

	rec := h.do(t, http.MethodPost, "/api/chat", chatRequest{Input: "hi"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
