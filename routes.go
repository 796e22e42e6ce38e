package banward

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/insanmiy/banward/model"
	"github.com/insanmiy/banward/store"
)

// RegisterRoutes registers the admin HTTP API on the given gin.Engine. This
// is the moderation surface: the game's command layer and external tooling
// talk to the Manager through it.
func (m *Manager) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")

	api.GET("/health", m.handleHealth)
	api.GET("/check/ban/:subject", m.handleCheckBan)
	api.GET("/check/mute/:subject", m.handleCheckMute)
	api.GET("/check/ip/:ip", m.handleCheckIP)
	api.GET("/subjects/:subject/history", m.handleHistory)
	api.GET("/subjects/:subject/active", m.handleActive)
	api.GET("/identities", m.handleIdentities)
	api.GET("/identities/:name", m.handleResolve)
	api.POST("/punishments", m.handlePunish)
	api.POST("/revocations", m.handleRevoke)
}

// punishRequest is the body for POST /api/punishments.
type punishRequest struct {
	SubjectID string `json:"subject_id"`
	Name      string `json:"name"`
	IP        string `json:"ip"`
	Kind      string `json:"kind"`
	Reason    string `json:"reason"`
	Operator  string `json:"operator"`
	Duration  string `json:"duration"` // e.g. "30s", "2h", "1d"; required for temporary kinds
}

// revokeRequest is the body for POST /api/revocations.
type revokeRequest struct {
	SubjectID string `json:"subject_id"`
	IP        string `json:"ip"` // set instead of subject_id for pure IP bans
	Category  string `json:"category"`
}

// punishmentView is the JSON shape of a punishment record.
type punishmentView struct {
	SubjectID   string `json:"subject_id"`
	SubjectName string `json:"subject_name"`
	IPAddress   string `json:"ip_address,omitempty"`
	Kind        string `json:"kind"`
	Reason      string `json:"reason"`
	Operator    string `json:"operator"`
	CreatedAt   int64  `json:"created_at"`
	ExpiresAt   int64  `json:"expires_at"`
	Active      bool   `json:"active"`
	Remaining   string `json:"remaining,omitempty"`
}

func toView(p *model.Punishment) punishmentView {
	v := punishmentView{
		SubjectID:   p.SubjectID.String(),
		SubjectName: p.SubjectName,
		IPAddress:   p.IPAddress,
		Kind:        string(p.Kind),
		Reason:      p.Reason,
		Operator:    p.Operator,
		CreatedAt:   p.CreatedAt,
		ExpiresAt:   p.ExpiresAt,
		Active:      p.Active,
	}
	if p.ExpiresAt != model.NeverExpires && p.IsActive(time.Now()) {
		v.Remaining = model.FormatDuration(p.Remaining(time.Now()))
	}
	return v
}

func toViews(ps []*model.Punishment) []punishmentView {
	out := make([]punishmentView, 0, len(ps))
	for _, p := range ps {
		out = append(out, toView(p))
	}
	return out
}

func (m *Manager) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (m *Manager) handleCheckBan(c *gin.Context) {
	id, err := uuid.Parse(c.Param("subject"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subject id"})
		return
	}

	if p := m.ActiveBan(id); p != nil {
		c.JSON(http.StatusOK, gin.H{"banned": true, "punishment": toView(p)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"banned": false})
}

func (m *Manager) handleCheckMute(c *gin.Context) {
	id, err := uuid.Parse(c.Param("subject"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subject id"})
		return
	}

	if p := m.ActiveMute(id); p != nil {
		c.JSON(http.StatusOK, gin.H{"muted": true, "punishment": toView(p)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"muted": false})
}

func (m *Manager) handleCheckIP(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"banned": m.IsIPBanned(c.Param("ip"))})
}

func (m *Manager) handleHistory(c *gin.Context) {
	id, err := uuid.Parse(c.Param("subject"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subject id"})
		return
	}

	history, err := m.History(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": toViews(history)})
}

func (m *Manager) handleActive(c *gin.Context) {
	id, err := uuid.Parse(c.Param("subject"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subject id"})
		return
	}

	active, err := m.ActivePunishments(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": toViews(active)})
}

func (m *Manager) handleIdentities(c *gin.Context) {
	names, err := m.ListKnownIdentities(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"identities": names})
}

func (m *Manager) handleResolve(c *gin.Context) {
	id, err := m.ResolveName(c.Request.Context(), c.Param("name"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown identity"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subject_id": id.String()})
}

func (m *Manager) handlePunish(c *gin.Context) {
	var req punishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind := model.Kind(req.Kind)
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown punishment kind"})
		return
	}

	subjectID := uuid.Nil
	if req.SubjectID != "" {
		id, err := uuid.Parse(req.SubjectID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subject id"})
			return
		}
		subjectID = id
	}

	ctx := c.Request.Context()
	var (
		p   *model.Punishment
		err error
	)
	switch {
	case kind == model.KindKick:
		p, err = m.Kick(ctx, subjectID, req.Name, req.IP, req.Reason, req.Operator)
	case kind.IsTemporary():
		var duration time.Duration
		duration, err = model.ParseDuration(req.Duration)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		p, err = m.AddTemporary(ctx, subjectID, req.Name, req.IP, kind, req.Reason, req.Operator, duration)
	default:
		p, err = m.AddPermanent(ctx, subjectID, req.Name, req.IP, kind, req.Reason, req.Operator)
	}

	switch {
	case errors.Is(err, ErrAlreadyPunished):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrStorageFailure):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable, try again"})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusCreated, gin.H{"punishment": toView(p)})
	}
}

func (m *Manager) handleRevoke(c *gin.Context) {
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	var err error
	switch {
	case req.IP != "":
		err = m.RevokeIPBan(ctx, req.IP)
	default:
		id, parseErr := uuid.Parse(req.SubjectID)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subject id"})
			return
		}
		cat := model.Category(req.Category)
		if cat != model.CategoryBan && cat != model.CategoryMute {
			c.JSON(http.StatusBadRequest, gin.H{"error": "category must be ban or mute"})
			return
		}
		err = m.Revoke(ctx, id, cat)
	}

	switch {
	case errors.Is(err, ErrNotPunished):
		c.JSON(http.StatusOK, gin.H{"revoked": false, "reason": "not punished"})
	case errors.Is(err, store.ErrStorageFailure):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable, try again"})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"revoked": true})
	}
}
