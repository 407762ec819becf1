package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/reviews"
	"github.com/gin-gonic/gin"
)

type createNotePayload struct {
	Title   string `json:"title" binding:"required,max=200"`
	Content string `json:"content"`
}

type updateNotePayload struct {
	Title   *string `json:"title" binding:"omitempty,max=200"`
	Content *string `json:"content"`
	Version int64   `json:"version" binding:"required,min=1"`
}

type submissionPayload struct {
	Title   string `json:"title" binding:"required,max=200"`
	Content string `json:"content" binding:"required"`
	FileURL string `json:"file_url" binding:"omitempty,url"`
}

type feedbackPayload struct {
	Rating   int    `json:"rating" binding:"required"`
	Comments string `json:"comments"`
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	var uri channelURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.respondInvalid(c, err)
		return
	}
	listed, err := h.notes.ListNotes(c.Request.Context(), uri.ChannelSlug, currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listed)
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	var uri channelURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.respondInvalid(c, err)
		return
	}
	var payload createNotePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.respondInvalid(c, err)
		return
	}
	created, err := h.notes.CreateNote(c.Request.Context(), notes.NoteInput{
		ChannelSlug: uri.ChannelSlug,
		AuthorID:    currentUserID(c),
		Title:       payload.Title,
		Content:     payload.Content,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	note, err := h.notes.GetNote(c.Request.Context(), c.Param("note_id"), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, note)
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	var payload updateNotePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.respondInvalid(c, err)
		return
	}
	updated, err := h.notes.UpdateNote(c.Request.Context(), c.Param("note_id"), currentUserID(c), payload.Version, notes.NotePatch{
		Title:   payload.Title,
		Content: payload.Content,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleNoteHistory(c *gin.Context) {
	history, err := h.notes.NoteHistory(c.Request.Context(), c.Param("note_id"), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// channelIDForSlug resolves the slug in the route. Access checks stay with the owning service.
func (h *httpHandler) channelIDForSlug(c *gin.Context) (string, bool) {
	var uri channelURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.respondInvalid(c, err)
		return "", false
	}
	channel, err := h.communities.ChannelBySlug(c.Request.Context(), uri.ChannelSlug)
	if err != nil {
		h.respondError(c, err)
		return "", false
	}
	return channel.ID, true
}

func (h *httpHandler) handleSubmissions(c *gin.Context) {
	channelID, ok := h.channelIDForSlug(c)
	if !ok {
		return
	}
	submissions, err := h.reviews.Submissions(c.Request.Context(), channelID, currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, submissions)
}

func (h *httpHandler) handleCreateSubmission(c *gin.Context) {
	channelID, ok := h.channelIDForSlug(c)
	if !ok {
		return
	}
	var payload submissionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.respondInvalid(c, err)
		return
	}
	submission, err := h.reviews.CreateSubmission(c.Request.Context(), reviews.SubmissionInput{
		ChannelID: channelID,
		AuthorID:  currentUserID(c),
		Title:     payload.Title,
		Content:   payload.Content,
		FileURL:   payload.FileURL,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, submission)
}

func (h *httpHandler) handleFeedback(c *gin.Context) {
	feedback, err := h.reviews.Feedback(c.Request.Context(), c.Param("submission_id"), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, feedback)
}

func (h *httpHandler) handleAddFeedback(c *gin.Context) {
	var payload feedbackPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.respondInvalid(c, err)
		return
	}
	feedback, err := h.reviews.AddFeedback(c.Request.Context(), reviews.FeedbackInput{
		SubmissionID: c.Param("submission_id"),
		ReviewerID:   currentUserID(c),
		Rating:       payload.Rating,
		Comments:     payload.Comments,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, feedback)
}
