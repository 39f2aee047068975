package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buddychat-go/internal/model"
)

type recordingPublisher struct {
	events []model.FeedbackEvent
	err    error
}

func (p *recordingPublisher) PublishFeedback(_ context.Context, event model.FeedbackEvent) error {
	p.events = append(p.events, event)
	return p.err
}

func TestFeedbackSubmitPublishesEvent(t *testing.T) {
	sess := newTestSession(t)
	m := sess.Messages.Append(model.NewMessage(model.RoleAssistant, "answer", "claude"))
	pub := &recordingPublisher{}

	got, err := NewFeedbackService(pub).Submit(context.Background(), sess, m.ID, model.FeedbackUnhelpful, "too long")
	require.NoError(t, err)
	assert.True(t, got.FeedbackGiven)

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, sess.ID, ev.SessionID)
	assert.Equal(t, m.ID, ev.MessageID)
	assert.Equal(t, "claude", ev.Model)
	assert.Equal(t, model.FeedbackUnhelpful, ev.Type)
	assert.Equal(t, "too long", ev.Message)
	assert.NotZero(t, ev.Timestamp)
}

func TestFeedbackSubmitSurvivesPublishFailure(t *testing.T) {
	sess := newTestSession(t)
	m := sess.Messages.Append(model.NewMessage(model.RoleAssistant, "answer", "gemini"))
	pub := &recordingPublisher{err: errors.New("broker down")}

	got, err := NewFeedbackService(pub).Submit(context.Background(), sess, m.ID, "weird", "")
	require.NoError(t, err)
	assert.True(t, got.FeedbackGiven)
	assert.Equal(t, model.FeedbackOther, pub.events[0].Type)
}

func TestFeedbackWithoutPublisher(t *testing.T) {
	sess := newTestSession(t)
	m := sess.Messages.Append(model.NewMessage(model.RoleAssistant, "answer", "gemini"))
	svc := NewFeedbackService(nil)

	got, err := svc.Submit(context.Background(), sess, m.ID, model.FeedbackHelpful, "")
	require.NoError(t, err)
	assert.True(t, got.FeedbackGiven)

	_, err = svc.Submit(context.Background(), sess, "missing", model.FeedbackHelpful, "")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestFeedbackToggleReaction(t *testing.T) {
	sess := newTestSession(t)
	m := sess.Messages.Append(model.NewMessage(model.RoleAssistant, "answer", "gemini"))
	svc := NewFeedbackService(nil)

	got, err := svc.ToggleReaction(sess, m.ID, "👍")
	require.NoError(t, err)
	assert.True(t, got.HasReaction("👍"))

	got, err = svc.ToggleReaction(sess, m.ID, "👍")
	require.NoError(t, err)
	assert.False(t, got.HasReaction("👍"))

	_, err = svc.ToggleReaction(sess, m.ID, "")
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = svc.ToggleReaction(sess, "missing", "👍")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}
