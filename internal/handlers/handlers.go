// Package handlers contains the HTTP handlers for the API.
package handlers

import (
	stderrors "errors"

	"github.com/commune-hq/backend/internal/auth"
	"github.com/commune-hq/backend/internal/chat"
	"github.com/commune-hq/backend/internal/community"
	"github.com/commune-hq/backend/internal/errors"
	"github.com/commune-hq/backend/internal/posts"
	"github.com/commune-hq/backend/internal/util"
	"github.com/commune-hq/backend/internal/websocket"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handlers contains all HTTP handlers for the API
type Handlers struct {
	auth        *auth.Service
	communities *community.Service
	posts       *posts.Service
	chat        *chat.Service
	ws          *websocket.Handler
	db          *gorm.DB
}

// NewHandlers creates a new handlers instance
func NewHandlers(
	authService *auth.Service,
	communityService *community.Service,
	postService *posts.Service,
	chatService *chat.Service,
	wsHandler *websocket.Handler,
	db *gorm.DB,
) *Handlers {
	return &Handlers{
		auth:        authService,
		communities: communityService,
		posts:       postService,
		chat:        chatService,
		ws:          wsHandler,
		db:          db,
	}
}

// respondServiceError maps service sentinel errors onto API error
// responses. Unknown errors become 500s.
func respondServiceError(c *gin.Context, err error) {
	switch {
	// auth
	case stderrors.Is(err, auth.ErrUserExists):
		util.RespondWithAPIError(c, errors.AlreadyExists("email"))
	case stderrors.Is(err, auth.ErrUsernameExists):
		util.RespondWithAPIError(c, errors.AlreadyExists("username"))
	case stderrors.Is(err, auth.ErrInvalidCredentials):
		util.RespondUnauthorized(c, "invalid email or password")
	case stderrors.Is(err, auth.ErrAccountLocked):
		util.RespondWithAPIError(c, errors.AccountLocked("account temporarily locked, try again later"))
	case stderrors.Is(err, auth.ErrInvalidToken):
		util.RespondUnauthorized(c, "invalid or expired token")
	case stderrors.Is(err, auth.ErrUserNotFound):
		util.RespondNotFound(c, "user")

	// communities
	case stderrors.Is(err, community.ErrNotFound):
		util.RespondNotFound(c, "community")
	case stderrors.Is(err, community.ErrSlugTaken):
		util.RespondWithAPIError(c, errors.AlreadyExists("community name"))
	case stderrors.Is(err, community.ErrAlreadyMember):
		util.RespondWithAPIError(c, errors.Conflict("membership"))
	case stderrors.Is(err, community.ErrMembershipPending):
		util.RespondWithAPIError(c, errors.Conflict("membership request"))
	case stderrors.Is(err, community.ErrInviteOnly):
		util.RespondForbidden(c, "this community is invite only")
	case stderrors.Is(err, community.ErrOwnerCannotLeave):
		util.RespondWithAPIError(c, errors.BadRequest("owner must transfer ownership before leaving"))
	case stderrors.Is(err, community.ErrCannotModifyOwner):
		util.RespondForbidden(c, "the owner's membership cannot be changed")
	case stderrors.Is(err, community.ErrNotModerator),
		stderrors.Is(err, community.ErrNotOwner):
		util.RespondForbidden(c)
	case stderrors.Is(err, community.ErrNotMember):
		util.RespondForbidden(c, "community membership required")

	// posts
	case stderrors.Is(err, posts.ErrPostNotFound):
		util.RespondNotFound(c, "post")
	case stderrors.Is(err, posts.ErrCommentNotFound):
		util.RespondNotFound(c, "comment")
	case stderrors.Is(err, posts.ErrCommunityGone):
		util.RespondNotFound(c, "community")
	case stderrors.Is(err, posts.ErrNotMember):
		util.RespondForbidden(c, "community membership required")
	case stderrors.Is(err, posts.ErrNotPermitted):
		util.RespondForbidden(c)
	case stderrors.Is(err, posts.ErrPostLocked):
		util.RespondForbidden(c, "this post is locked")
	case stderrors.Is(err, posts.ErrContentFlagged):
		util.RespondWithAPIError(c, errors.ValidationError("content", "content rejected by moderation"))
	case stderrors.Is(err, posts.ErrInvalidVote):
		util.RespondWithAPIError(c, errors.ValidationError("value", "vote must be 1 or -1"))
	case stderrors.Is(err, posts.ErrParentMismatch):
		util.RespondWithAPIError(c, errors.ValidationError("parent_id", "parent comment belongs to another post"))

	// chat
	case stderrors.Is(err, chat.ErrMessageNotFound):
		util.RespondNotFound(c, "message")
	case stderrors.Is(err, chat.ErrNotMember):
		util.RespondForbidden(c, "community membership required")
	case stderrors.Is(err, chat.ErrNotParticipant):
		util.RespondForbidden(c, "not a participant in this conversation")
	case stderrors.Is(err, chat.ErrNotPermitted):
		util.RespondForbidden(c)
	case stderrors.Is(err, chat.ErrContentFlagged):
		util.RespondWithAPIError(c, errors.ValidationError("content", "content rejected by moderation"))
	case stderrors.Is(err, chat.ErrBadTarget):
		util.RespondWithAPIError(c, errors.BadRequest("exactly one of community_id and receiver_id is required"))
	case stderrors.Is(err, chat.ErrSelfMessage):
		util.RespondWithAPIError(c, errors.BadRequest("cannot message yourself"))
	case stderrors.Is(err, chat.ErrReceiverGone):
		util.RespondNotFound(c, "receiver")

	default:
		util.RespondError(c, err)
	}
}
