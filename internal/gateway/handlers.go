package gateway

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/chat"
	"google.golang.org/grpc/codes"
)

// fail writes err with the HTTP status matching its gRPC code.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch api.Code(err) {
	case codes.NotFound:
		status = http.StatusNotFound
	case codes.InvalidArgument:
		status = http.StatusBadRequest
	case codes.FailedPrecondition:
		status = http.StatusConflict
	case codes.Unavailable:
		status = http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "link": string(s.engine.Snapshot().Link)})
}

func (s *Server) snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, api.NewSnapshotView(s.engine.Snapshot()))
}

func (s *Server) setPresence(c *gin.Context) {
	var req api.PresenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p := chat.Presence(req.Presence)
	if !p.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown presence " + strconv.Quote(req.Presence)})
		return
	}
	if err := s.engine.SetPresence(p); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, api.NewUserView(s.engine.Snapshot().Self))
}

func (s *Server) setSearchTerm(c *gin.Context) {
	var req api.SearchTermRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.engine.SetSearchTerm(req.Term)
	c.Status(http.StatusNoContent)
}

func (s *Server) search(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit <= 0 {
		limit = 50
	}
	hits := s.engine.SearchMessages(c.Query("q"), c.Query("conversation_id"), limit)
	c.JSON(http.StatusOK, api.MessageList{Messages: api.NewMessageViews(hits)})
}

func (s *Server) outbox(c *gin.Context) {
	c.JSON(http.StatusOK, api.OutboxList{Entries: api.NewOutboxViews(s.engine.Outbox())})
}

func (s *Server) listConversations(c *gin.Context) {
	c.JSON(http.StatusOK, api.ConversationList{Conversations: api.NewSnapshotView(s.engine.Snapshot()).Conversations})
}

func (s *Server) getConversation(c *gin.Context) {
	conv, err := s.engine.Conversation(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, api.NewConversationView(conv, s.engine.Title(conv)))
}

func (s *Server) createGroup(c *gin.Context) {
	var req api.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	conv, err := s.engine.CreateGroup(req.Name, req.Participants)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, api.NewConversationView(conv, s.engine.Title(conv)))
}

func (s *Server) createDirect(c *gin.Context) {
	var req api.CreateDirectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PeerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "peer_id is required"})
		return
	}
	conv, err := s.engine.CreateDirect(req.PeerID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, api.NewConversationView(conv, s.engine.Title(conv)))
}

func (s *Server) selectConversation(c *gin.Context) {
	if err := s.engine.SelectConversation(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) markRead(c *gin.Context) {
	var req api.MarkReadRequest
	// An empty body marks everything read.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	n, err := s.engine.MarkRead(c.Param("id"), req.UptoSeq)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, api.MarkReadResponse{Changed: n})
}

func (s *Server) sendMessage(c *gin.Context) {
	var req api.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	d := chat.Draft{
		Content:  req.Content,
		Type:     chat.MessageType(req.Type),
		MediaRef: req.MediaRef,
		ReplyTo:  req.ReplyTo,
	}
	if d.Type != "" && !d.Type.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported message type"})
		return
	}
	id, err := s.engine.SendTo(c.Param("id"), d)
	if err != nil {
		fail(c, err)
		return
	}
	m, err := s.engine.Message(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, api.NewMessageView(m))
}

func (s *Server) addParticipant(c *gin.Context) {
	var req api.ParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	if err := s.engine.AddParticipant(c.Param("id"), req.UserID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) removeParticipant(c *gin.Context) {
	if err := s.engine.RemoveParticipant(c.Param("id"), c.Param("user_id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getMessage(c *gin.Context) {
	m, err := s.engine.Message(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, api.NewMessageView(m))
}

func (s *Server) resendMessage(c *gin.Context) {
	if err := s.engine.Resend(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	s.getMessage(c)
}

func (s *Server) cancelMessage(c *gin.Context) {
	if err := s.engine.Cancel(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listStatuses(c *gin.Context) {
	statuses := s.engine.Snapshot().Statuses
	out := make([]api.StatusView, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, api.NewStatusView(st))
	}
	c.JSON(http.StatusOK, api.StatusList{Statuses: out})
}

func (s *Server) postStatus(c *gin.Context) {
	var req api.PostStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := s.engine.PostStatus(req.Content, req.MediaRef)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, api.NewStatusView(st))
}

func (s *Server) viewStatus(c *gin.Context) {
	if err := s.engine.ViewStatus(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listCalls(c *gin.Context) {
	calls := s.engine.Snapshot().Calls
	out := make([]api.CallView, 0, len(calls))
	for _, call := range calls {
		out = append(out, api.NewCallView(call))
	}
	c.JSON(http.StatusOK, api.CallList{Calls: out})
}

func (s *Server) startCall(c *gin.Context) {
	var req api.StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	kind := chat.CallKind(req.Kind)
	if kind == "" {
		kind = chat.AudioCall
	}
	if kind != chat.AudioCall && kind != chat.VideoCall {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown call kind"})
		return
	}
	call, err := s.engine.StartCall(req.ConversationID, kind)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, api.NewCallView(call))
}

func (s *Server) endCall(c *gin.Context) {
	var req api.EndCallRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	call, err := s.engine.EndCall(c.Param("id"), req.Answered)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, api.NewCallView(call))
}
