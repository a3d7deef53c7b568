package session

import (
	"crypto/rand"
	"encoding/hex"

	apperr "turntimer-backend/internal/errors"
)

func newFeedbackID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// AddFeedback appends a free-text note from controllerID.
func (s *Session) AddFeedback(text, controllerID string, nowMs int64) Feedback {
	fb := Feedback{ID: newFeedbackID(), AuthorID: controllerID, Text: text, CreatedAt: nowMs}
	s.Feedbacks = append(s.Feedbacks, fb)
	s.touch(nowMs)
	return fb
}

// UpdateFeedback edits the text of an existing feedback entry. Only the
// original author or the owner may edit it.
func (s *Session) UpdateFeedback(id, text, controllerID string, nowMs int64) error {
	for i := range s.Feedbacks {
		if s.Feedbacks[i].ID == id {
			if s.Feedbacks[i].AuthorID != controllerID && controllerID != s.OwnerID {
				return apperr.NewNotAuthorized("update that feedback")
			}
			s.Feedbacks[i].Text = text
			s.touch(nowMs)
			return nil
		}
	}
	return apperr.ErrInvalidTarget
}

// DeleteFeedback removes an entry. Only the original author or the owner
// may delete it.
func (s *Session) DeleteFeedback(id, controllerID string, nowMs int64) error {
	for i := range s.Feedbacks {
		if s.Feedbacks[i].ID == id {
			if s.Feedbacks[i].AuthorID != controllerID && controllerID != s.OwnerID {
				return apperr.NewNotAuthorized("delete that feedback")
			}
			s.Feedbacks = append(s.Feedbacks[:i], s.Feedbacks[i+1:]...)
			s.touch(nowMs)
			return nil
		}
	}
	return apperr.ErrInvalidTarget
}
