package api

import (
	"net/http"

	"github.com/safar/go-marketplace/internal/auth"
	"github.com/safar/go-marketplace/internal/store"
	"github.com/safar/go-marketplace/internal/validate"
)

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())

	convs, err := store.ListConversations(r.Context(), s.db, session.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, convs)
}

func (s *Server) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())

	var form validate.ConversationForm
	if err := s.decode(w, r, &form); err != nil {
		s.fail(w, r, err)
		return
	}

	conv, err := store.GetOrCreateConversation(r.Context(), s.db, session.UserID, form.RecipientID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())

	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	msgs, err := store.ListMessages(r.Context(), s.db, id, session.UserID,
		int64(queryInt(r, "after", 0)), queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())

	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var form validate.MessageForm
	if err := s.decode(w, r, &form); err != nil {
		s.fail(w, r, err)
		return
	}

	msg, err := store.SendMessage(r.Context(), s.db, id, session.UserID, form.Body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleMarkConversationRead(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFrom(r.Context())

	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if err := store.MarkConversationRead(r.Context(), s.db, id, session.UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
