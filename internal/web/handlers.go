package web

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openshapes/fleet/internal/fleet"
	"github.com/openshapes/fleet/pkg/api"
)

// kindStatus maps the fleet error taxonomy onto HTTP status codes.
func kindStatus(kind fleet.Kind) int {
	switch kind {
	case fleet.KindInvalidName, fleet.KindInvalidInput:
		return http.StatusBadRequest
	case fleet.KindNotFound:
		return http.StatusNotFound
	case fleet.KindAlreadyExists, fleet.KindAlreadyRunning, fleet.KindNotRunning:
		return http.StatusConflict
	case fleet.KindQuotaExceeded:
		return http.StatusForbidden
	case fleet.KindProvisioningFailed, fleet.KindRuntimeFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	kind := fleet.KindOf(err)
	c.JSON(kindStatus(kind), api.ErrorResponse{
		Error: err.Error(),
		Kind:  string(kind),
		Log:   fleet.LogOf(err),
	})
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) createInstanceHandler(c *gin.Context) {
	tenant := c.Param("tenant")

	var req api.CreateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Kind:  string(fleet.KindInvalidInput),
		})
		return
	}

	msg, err := s.fleet.CreateInstance(c.Request.Context(), tenant, req.InstanceName,
		req.Definition, req.Token, req.Knowledge)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, api.MessageResponse{Message: msg})
}

func (s *Server) listInstancesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.fleet.Instances(c.Param("tenant")))
}

func (s *Server) startInstanceHandler(c *gin.Context) {
	msg, err := s.fleet.StartInstance(c.Request.Context(), c.Param("tenant"), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.MessageResponse{Message: msg})
}

func (s *Server) stopInstanceHandler(c *gin.Context) {
	msg, err := s.fleet.StopInstance(c.Request.Context(), c.Param("tenant"), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.MessageResponse{Message: msg})
}

func (s *Server) restartInstanceHandler(c *gin.Context) {
	msg, err := s.fleet.RestartInstance(c.Request.Context(), c.Param("tenant"), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.MessageResponse{Message: msg})
}

func (s *Server) deleteInstanceHandler(c *gin.Context) {
	msg, err := s.fleet.DeleteInstance(c.Request.Context(), c.Param("tenant"), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.MessageResponse{Message: msg})
}

func (s *Server) instanceLogsHandler(c *gin.Context) {
	tenant := c.Param("tenant")
	name := c.Param("name")

	lines := 100
	if raw := c.Query("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, api.ErrorResponse{
				Error: "lines must be a non-negative integer",
				Kind:  string(fleet.KindInvalidInput),
			})
			return
		}
		lines = n
	}

	logs, err := s.fleet.InstanceLogs(c.Request.Context(), tenant, name, lines)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.LogsResponse{
		TenantID:     tenant,
		InstanceName: name,
		Lines:        lines,
		Logs:         logs,
	})
}

func (s *Server) instanceStatsHandler(c *gin.Context) {
	snapshot, err := s.fleet.Stats(c.Request.Context(), c.Param("tenant"), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) creditsHandler(c *gin.Context) {
	tenant := c.Param("tenant")
	if s.credits == nil {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error: "credit ledger is not enabled",
			Kind:  string(fleet.KindNotFound),
		})
		return
	}
	balance, err := s.credits.Balance(c.Request.Context(), tenant)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.CreditBalance{TenantID: tenant, Credits: balance})
}

func (s *Server) adminInstancesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.fleet.AllInstances())
}

func (s *Server) adminLimitHandler(c *gin.Context) {
	var req api.AdminLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.MaxInstances <= 0 {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error: "max_instances must be a positive integer",
			Kind:  string(fleet.KindInvalidInput),
		})
		return
	}

	s.fleet.SetMaxInstances(req.MaxInstances)
	if s.onLimitChange != nil {
		if err := s.onLimitChange(req.MaxInstances); err != nil {
			s.logger.WithError(err).Error("Failed to persist instance limit")
		}
	}
	c.JSON(http.StatusOK, api.MessageResponse{
		Message: "Per-tenant instance limit set to " + strconv.Itoa(req.MaxInstances),
	})
}

func (s *Server) adminCreditsHandler(c *gin.Context) {
	if s.credits == nil {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error: "credit ledger is not enabled",
			Kind:  string(fleet.KindNotFound),
		})
		return
	}

	var req api.AdminCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TenantID == "" || req.Credits <= 0 {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error: "tenant_id and a positive credits amount are required",
			Kind:  string(fleet.KindInvalidInput),
		})
		return
	}

	if err := s.credits.Add(c.Request.Context(), req.TenantID, req.Credits); err != nil {
		respondError(c, err)
		return
	}
	balance, err := s.credits.Balance(c.Request.Context(), req.TenantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.CreditBalance{TenantID: req.TenantID, Credits: balance})
}

func (s *Server) adminPullImageHandler(c *gin.Context) {
	msg, err := s.fleet.PullBaseImage(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.MessageResponse{Message: msg})
}
