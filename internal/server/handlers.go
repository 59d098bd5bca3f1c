package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/interactions"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/relationships"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/targets"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/votes"
	"github.com/gin-gonic/gin"
)

type targetRequestPayload struct {
	TargetID   string `json:"target_id" binding:"required"`
	TargetType string `json:"target_type" binding:"required"`
}

type followRequestPayload struct {
	TargetID string `json:"target_id" binding:"required"`
}

type commentRequestPayload struct {
	ContentItemID string  `json:"content_item_id" binding:"required"`
	Text          string  `json:"text"`
	ParentID      *string `json:"parent_id"`
}

type commentEditPayload struct {
	Text string `json:"text"`
}

type voteRequestPayload struct {
	Option string `json:"option" binding:"required"`
}

type markReadPayload struct {
	IDs []string `json:"ids"`
}

type commentPayload struct {
	ID            string    `json:"id"`
	ContentItemID string    `json:"content_item_id"`
	ActorID       string    `json:"actor_id"`
	ParentID      *string   `json:"parent_id"`
	Content       string    `json:"content"`
	State         string    `json:"state"`
	LikesCount    int64     `json:"likes_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type threadPayload struct {
	commentPayload
	Replies []commentPayload `json:"replies"`
}

type optionCountPayload struct {
	Option string `json:"option"`
	Count  int64  `json:"count"`
}

type tallyPayload struct {
	PollID        string               `json:"poll_id"`
	Options       []optionCountPayload `json:"options"`
	TotalVotes    int64                `json:"total_votes"`
	TotalVoters   int64                `json:"total_voters"`
	Deadline      *time.Time           `json:"deadline"`
	Closed        bool                 `json:"closed"`
	AllowMultiple bool                 `json:"allow_multiple"`
	MyVotes       []string             `json:"my_votes"`
}

type relationshipPayload struct {
	TargetID   string    `json:"target_id"`
	TargetType string    `json:"target_type"`
	CreatedAt  time.Time `json:"created_at"`
}

type contentStatePayload struct {
	ItemID         string `json:"content_item_id"`
	Kind           string `json:"kind"`
	LikesCount     int64  `json:"likes_count"`
	CommentsCount  int64  `json:"comments_count"`
	BookmarksCount int64  `json:"bookmarks_count"`
	Views          int64  `json:"views"`
	HasVoting      bool   `json:"has_voting"`
	Liked          bool   `json:"liked"`
	Bookmarked     bool   `json:"bookmarked"`
}

func (h *httpHandler) handleToggleLike(c *gin.Context) {
	target, ok := bindTarget(c)
	if !ok {
		return
	}
	outcome, err := h.interactions.ToggleLike(c.Request.Context(), actorFromContext(c), target)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": outcome.Active, "likes_count": outcome.Count})
}

func (h *httpHandler) handleToggleBookmark(c *gin.Context) {
	target, ok := bindTarget(c)
	if !ok {
		return
	}
	outcome, err := h.interactions.ToggleBookmark(c.Request.Context(), actorFromContext(c), target)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": outcome.Active, "bookmarks_count": outcome.Count})
}

func (h *httpHandler) handleToggleFollow(c *gin.Context) {
	var request followRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c, "invalid_payload")
		return
	}
	outcome, err := h.interactions.ToggleFollow(c.Request.Context(), actorFromContext(c), strings.TrimSpace(request.TargetID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": outcome.Active, "followers_count": outcome.Count})
}

func bindTarget(c *gin.Context) (targets.Ref, bool) {
	var request targetRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c, "invalid_payload")
		return targets.Ref{}, false
	}
	targetType, err := targets.Parse(request.TargetType)
	if err != nil {
		respondInvalidRequest(c, "invalid_target_type")
		return targets.Ref{}, false
	}
	return targets.Ref{ID: strings.TrimSpace(request.TargetID), Type: targetType}, true
}

func (h *httpHandler) handlePostComment(c *gin.Context) {
	var request commentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c, "invalid_payload")
		return
	}
	outcome, err := h.interactions.PostComment(c.Request.Context(), actorFromContext(c), strings.TrimSpace(request.ContentItemID), request.Text, request.ParentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"comment":        toCommentPayload(outcome.Comment),
		"comments_count": outcome.CommentsCount,
	})
}

func (h *httpHandler) handleEditComment(c *gin.Context) {
	var request commentEditPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c, "invalid_payload")
		return
	}
	comment, err := h.interactions.EditComment(c.Request.Context(), actorFromContext(c), c.Param("id"), request.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comment": toCommentPayload(comment)})
}

func (h *httpHandler) handleDeleteComment(c *gin.Context) {
	comment, err := h.interactions.DeleteComment(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comment": toCommentPayload(comment)})
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	threads, err := h.interactions.ListComments(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response := make([]threadPayload, 0, len(threads))
	for _, thread := range threads {
		replies := make([]commentPayload, 0, len(thread.Replies))
		for _, reply := range thread.Replies {
			replies = append(replies, toCommentPayload(reply))
		}
		response = append(response, threadPayload{commentPayload: toCommentPayload(thread.Comment), Replies: replies})
	}
	c.JSON(http.StatusOK, gin.H{"comments": response})
}

func (h *httpHandler) handleCastVote(c *gin.Context) {
	var request voteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c, "invalid_payload")
		return
	}
	result, err := h.interactions.CastVote(c.Request.Context(), actorFromContext(c), c.Param("id"), request.Option)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accepted":        result.Accepted,
		"option":          result.Option,
		"replaced":        result.Replaced,
		"previous_option": result.PreviousOption,
	})
}

func (h *httpHandler) handleTally(c *gin.Context) {
	tally, err := h.interactions.TallyVotes(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTallyPayload(tally))
}

func (h *httpHandler) handleContentState(c *gin.Context) {
	state, err := h.interactions.ContentState(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toContentStatePayload(state))
}

func (h *httpHandler) handleRecordView(c *gin.Context) {
	views, err := h.interactions.RecordView(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"views": views})
}

func (h *httpHandler) handleListBookmarks(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	edges, err := h.interactions.ListBookmarks(c.Request.Context(), actorFromContext(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookmarks": toRelationshipPayloads(edges)})
}

func (h *httpHandler) handleListFollowing(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	edges, err := h.interactions.ListFollowing(c.Request.Context(), actorFromContext(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"following": toRelationshipPayloads(edges)})
}

// parseLimit reads the optional limit query parameter; zero means the default.
func parseLimit(c *gin.Context) (int, bool) {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return 0, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		respondInvalidRequest(c, "invalid_limit")
		return 0, false
	}
	return parsed, true
}

func toRelationshipPayloads(edges []relationships.Relationship) []relationshipPayload {
	response := make([]relationshipPayload, 0, len(edges))
	for _, edge := range edges {
		response = append(response, relationshipPayload{
			TargetID:   edge.TargetID,
			TargetType: string(edge.TargetType),
			CreatedAt:  edge.CreatedAt,
		})
	}
	return response
}

func toCommentPayload(comment comments.Comment) commentPayload {
	return commentPayload{
		ID:            comment.ID,
		ContentItemID: comment.ContentItemID,
		ActorID:       comment.ActorID,
		ParentID:      comment.ParentID,
		Content:       comment.Content,
		State:         string(comment.State),
		LikesCount:    comment.LikesCount,
		CreatedAt:     comment.CreatedAt,
		UpdatedAt:     comment.UpdatedAt,
	}
}

func toTallyPayload(tally votes.Tally) tallyPayload {
	options := make([]optionCountPayload, 0, len(tally.Options))
	for _, option := range tally.Options {
		options = append(options, optionCountPayload{Option: option.Option, Count: option.Count})
	}
	return tallyPayload{
		PollID:        tally.PollID,
		Options:       options,
		TotalVotes:    tally.TotalVotes,
		TotalVoters:   tally.TotalVoters,
		Deadline:      tally.Deadline,
		Closed:        tally.Closed,
		AllowMultiple: tally.AllowMultiple,
		MyVotes:       tally.MyVotes,
	}
}

func toContentStatePayload(state interactions.ContentState) contentStatePayload {
	return contentStatePayload{
		ItemID:         state.ItemID,
		Kind:           string(state.Kind),
		LikesCount:     state.LikesCount,
		CommentsCount:  state.CommentsCount,
		BookmarksCount: state.BookmarksCount,
		Views:          state.Views,
		HasVoting:      state.HasVoting,
		Liked:          state.Liked,
		Bookmarked:     state.Bookmarked,
	}
}
