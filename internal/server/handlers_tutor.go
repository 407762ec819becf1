package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/tutor"
	"github.com/gin-gonic/gin"
)

type askPayload struct {
	Question string       `json:"question" binding:"required"`
	Context  string       `json:"context"`
	History  []tutor.Turn `json:"history" binding:"max=50"`
}

type flashcardPayload struct {
	Name       string `json:"name" binding:"required,max=200"`
	FileSource string `json:"file_source" binding:"omitempty,max=2048"`
	Source     string `json:"source" binding:"required"`
}

type quizPayload struct {
	Topic  string `json:"topic" binding:"required,max=200"`
	Source string `json:"source"`
}

func (h *httpHandler) handleTutorAsk(c *gin.Context) {
	var payload askPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.respondInvalid(c, err)
		return
	}
	answer, err := h.tutor.Ask(c.Request.Context(), tutor.AskInput{
		UserID:   currentUserID(c),
		Question: payload.Question,
		Context:  payload.Context,
		History:  payload.History,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": answer})
}

func (h *httpHandler) handleGenerateFlashcards(c *gin.Context) {
	var payload flashcardPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.respondInvalid(c, err)
		return
	}
	collection, err := h.tutor.GenerateFlashcards(c.Request.Context(), tutor.FlashcardInput{
		UserID:     currentUserID(c),
		Name:       payload.Name,
		FileSource: payload.FileSource,
		Source:     payload.Source,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, collection)
}

func (h *httpHandler) handleCollections(c *gin.Context) {
	collections, err := h.tutor.Collections(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, collections)
}

func (h *httpHandler) handleCollection(c *gin.Context) {
	collection, err := h.tutor.Collection(c.Request.Context(), currentUserID(c), c.Param("collection_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, collection)
}

func (h *httpHandler) handleGenerateQuiz(c *gin.Context) {
	var payload quizPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.respondInvalid(c, err)
		return
	}
	quiz, err := h.tutor.GenerateQuiz(c.Request.Context(), tutor.QuizInput{
		UserID: currentUserID(c),
		Topic:  payload.Topic,
		Source: payload.Source,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, quiz)
}
