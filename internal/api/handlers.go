package api

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/core"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/pkg/types"
)

// handleHealth reports liveness plus a storage ping, so load balancers can
// tell a dead process from one riding out a storage outage.
func (s *Server) handleHealth(c *gin.Context) {
	if err := s.pool.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "degraded",
			"storage": "unavailable",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"storage": "ok",
	})
}

// handleIngest accepts one finding from a scanner agent. The shared key may
// arrive as the X-API-Key header or the api_key body field; either way it is
// checked before any storage write.
func (s *Server) handleIngest(c *gin.Context) {
	var req types.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	key := c.GetHeader("X-API-Key")
	if key == "" {
		key = req.APIKey
	}
	if err := s.gate.CheckIngestKey(c.Request.Context(), key); err != nil {
		s.respondError(c, err)
		return
	}

	finding := types.Finding{
		Source:     req.Source,
		ColumnName: req.ColumnName,
		Detected:   req.JoinDetected(),
	}
	if req.Hostname != "" {
		finding.Hostname = &req.Hostname
	}

	if err := s.findings.Insert(c.Request.Context(), &finding); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":     finding.ID,
		"status": "created",
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin verifies credentials and issues a bearer token.
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	user, err := s.gate.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": s.sessions.Issue(user),
		"role":  user.Role,
	})
}

// handleLogout invalidates the presented token. Logging out with no or an
// unknown token still succeeds; there is nothing to protect.
func (s *Server) handleLogout(c *gin.Context) {
	if token := bearerToken(c); token != "" {
		s.sessions.Revoke(token)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// dashboardFilter builds the finding filter from query parameters, shared
// by the dashboard and export routes so all three serve the same snapshot.
func dashboardFilter(c *gin.Context) core.FindingFilter {
	return core.FindingFilter{
		Hostname: strings.TrimSpace(c.Query("hostname")),
		Source:   strings.TrimSpace(c.Query("source")),
		Category: strings.TrimSpace(c.Query("category")),
	}
}

func (s *Server) handleDashboard(c *gin.Context) {
	view, err := s.engine.Compute(c.Request.Context(), dashboardFilter(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// handleExport renders the filtered dashboard snapshot through the given
// exporter. The rows come from the same Compute call the dashboard route
// uses, so a download never disagrees with the screen.
func (s *Server) handleExport(exp core.Exporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := s.engine.Compute(c.Request.Context(), dashboardFilter(c))
		if err != nil {
			s.respondError(c, err)
			return
		}

		var buf bytes.Buffer
		if err := exp.Export(view.Rows, &buf); err != nil {
			s.respondError(c, err)
			return
		}

		filename := "pii_report." + exp.FileExtension()
		c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
		c.Data(http.StatusOK, exp.ContentType(), buf.Bytes())
	}
}

type selfResetRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// handleSelfReset rotates the caller's own password after old-password
// proof, then revokes their other sessions.
func (s *Server) handleSelfReset(c *gin.Context) {
	var req selfResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	username := c.GetString("session_username")
	if err := s.gate.ResetPassword(c.Request.Context(), username, req.OldPassword, req.NewPassword); err != nil {
		s.respondError(c, err)
		return
	}

	s.sessions.RevokeUser(username)
	c.JSON(http.StatusOK, gin.H{"status": "password updated"})
}

func (s *Server) handleListUsers(c *gin.Context) {
	users, err := s.gate.ListUsers(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// handleCreateUser creates or overwrites a user. Role defaults to "user"
// when absent.
func (s *Server) handleCreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	role := types.Role(req.Role)
	if req.Role == "" {
		role = types.RoleUser
	}
	if !role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role: must be admin or user"})
		return
	}

	if err := s.gate.CreateUser(c.Request.Context(), req.Username, req.Password, role); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "created", "username": req.Username})
}

// handleDeleteUser removes a user and revokes their live sessions. Deleting
// an absent user succeeds.
func (s *Server) handleDeleteUser(c *gin.Context) {
	username := c.Param("username")
	if err := s.gate.DeleteUser(c.Request.Context(), username); err != nil {
		s.respondError(c, err)
		return
	}
	s.sessions.RevokeUser(username)
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "username": username})
}

type adminResetRequest struct {
	NewPassword string `json:"new_password"`
}

// handleAdminReset replaces a user's password without old-password proof
// and revokes their live sessions.
func (s *Server) handleAdminReset(c *gin.Context) {
	var req adminResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	username := c.Param("username")
	if err := s.gate.AdminResetPassword(c.Request.Context(), username, req.NewPassword); err != nil {
		s.respondError(c, err)
		return
	}
	s.sessions.RevokeUser(username)
	c.JSON(http.StatusOK, gin.H{"status": "password updated", "username": username})
}
