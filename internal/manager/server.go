// Package manager is the HTTP plane in front of the target store. Both
// protocol faces talk to this service instead of sharing memory with it,
// preserving the three-process topology of the emulated deployment.
package manager

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"vumock/internal/store"
	"vumock/internal/vuforia"
)

type Server struct {
	log   zerolog.Logger
	store *store.Store
}

func NewServer(log zerolog.Logger, st *store.Store) *Server {
	return &Server{log: log, store: st}
}

// Register wires the internal API routes onto the engine.
func (s *Server) Register(engine *gin.Engine) {
	engine.GET("/healthcheck", s.healthcheck)
	engine.GET("/databases", s.listDatabases)
	engine.POST("/databases", s.createDatabase)
	engine.DELETE("/databases/:name", s.deleteDatabase)
	engine.GET("/databases/:name/targets", s.listTargets)
	engine.POST("/databases/:name/targets", s.createTarget)
	engine.GET("/databases/:name/targets/:id", s.getTarget)
	engine.PUT("/databases/:name/targets/:id", s.updateTarget)
	engine.DELETE("/databases/:name/targets/:id", s.deleteTarget)
}

func (s *Server) healthcheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listDatabases(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.ListDatabases())
}

type createDatabaseRequest struct {
	Name            string `json:"database_name"`
	ServerAccessKey string `json:"server_access_key"`
	ServerSecretKey string `json:"server_secret_key"`
	ClientAccessKey string `json:"client_access_key"`
	ClientSecretKey string `json:"client_secret_key"`
	State           string `json:"state"`
}

func (s *Server) createDatabase(c *gin.Context) {
	var req createDatabaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	state := vuforia.DatabaseState(req.State)
	if state != "" && state != vuforia.StateWorking && state != vuforia.StateProjectInactive {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown database state"})
		return
	}
	created, err := s.store.CreateDatabase(&vuforia.Database{
		Name:            req.Name,
		ServerAccessKey: req.ServerAccessKey,
		ServerSecretKey: req.ServerSecretKey,
		ClientAccessKey: req.ClientAccessKey,
		ClientSecretKey: req.ClientSecretKey,
		State:           state,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) deleteDatabase(c *gin.Context) {
	if err := s.store.DeleteDatabase(c.Param("name")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) listTargets(c *gin.Context) {
	targets, err := s.store.ListTargets(c.Param("name"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, targets)
}

type createTargetRequest struct {
	Name                string  `json:"name"`
	Kind                string  `json:"kind"`
	Width               float64 `json:"width"`
	ImageBase64         string  `json:"image_base64"`
	ActiveFlag          bool    `json:"active_flag"`
	ApplicationMetadata string  `json:"application_metadata"`
}

func (s *Server) createTarget(c *gin.Context) {
	var req createTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	image, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image_base64 is not valid base64"})
		return
	}
	target, err := s.store.CreateTarget(c.Param("name"), store.CreateTargetParams{
		Name:                req.Name,
		Kind:                vuforia.TargetKind(req.Kind),
		Width:               req.Width,
		Image:               image,
		ActiveFlag:          req.ActiveFlag,
		ApplicationMetadata: req.ApplicationMetadata,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, target)
}

func (s *Server) getTarget(c *gin.Context) {
	target, err := s.store.GetTarget(c.Param("name"), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, target)
}

type updateTargetRequest struct {
	Name                *string  `json:"name"`
	Width               *float64 `json:"width"`
	ImageBase64         *string  `json:"image_base64"`
	ActiveFlag          *bool    `json:"active_flag"`
	ApplicationMetadata *string  `json:"application_metadata"`
}

func (s *Server) updateTarget(c *gin.Context) {
	var req updateTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	params := store.UpdateTargetParams{
		Name:                req.Name,
		Width:               req.Width,
		ActiveFlag:          req.ActiveFlag,
		ApplicationMetadata: req.ApplicationMetadata,
	}
	if req.ImageBase64 != nil {
		image, err := base64.StdEncoding.DecodeString(*req.ImageBase64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image_base64 is not valid base64"})
			return
		}
		params.Image = image
	}
	target, err := s.store.UpdateTarget(c.Param("name"), c.Param("id"), params)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, target)
}

func (s *Server) deleteTarget(c *gin.Context) {
	target, err := s.store.DeleteTarget(c.Param("name"), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, target)
}

func (s *Server) writeError(c *gin.Context, err error) {
	var validation *store.ValidationError
	switch {
	case errors.Is(err, store.ErrDatabaseNotFound), errors.Is(err, store.ErrTargetNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrDatabaseConflict), errors.Is(err, store.ErrNameConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		s.log.Error().Err(err).Msg("store operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
