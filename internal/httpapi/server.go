// Package httpapi exposes the playback sessions over HTTP.
package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/signalsfoundry/route-playback/core"
	"github.com/signalsfoundry/route-playback/internal/logging"
	"github.com/signalsfoundry/route-playback/internal/observability"
	"github.com/signalsfoundry/route-playback/internal/session"
	"github.com/signalsfoundry/route-playback/kb"
	"github.com/signalsfoundry/route-playback/model"
)

// streamBuffer bounds the scene updates queued for one SSE client.
const streamBuffer = 32

// Server holds the HTTP handlers.
type Server struct {
	routes   *kb.KnowledgeBase
	sessions *session.Registry
	variants []string
	log      logging.Logger
	metrics  *observability.HTTPCollector
}

// Config wires a Server.
type Config struct {
	Routes   *kb.KnowledgeBase
	Sessions *session.Registry
	// Variants lists the variant names advertised by /api/v1/routes.
	Variants []string
	Log      logging.Logger
	// Metrics is optional.
	Metrics *observability.HTTPCollector
}

// NewServer validates cfg and builds a Server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Routes == nil || cfg.Sessions == nil {
		return nil, errors.New("httpapi: routes and sessions are required")
	}
	if cfg.Log == nil {
		cfg.Log = logging.Noop()
	}
	return &Server{
		routes:   cfg.Routes,
		sessions: cfg.Sessions,
		variants: cfg.Variants,
		log:      cfg.Log,
		metrics:  cfg.Metrics,
	}, nil
}

// Handler builds the gin engine with middleware and routes.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(s.log), Tracing(), AccessLog())
	if s.metrics != nil {
		r.Use(s.metrics.Middleware())
	}
	s.RegisterRoutes(r.Group(""))
	return r
}

// RegisterRoutes registers all routes on the given router group.
func (s *Server) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/healthz", s.health)

	api := r.Group("/api/v1")
	{
		api.GET("/routes", s.listRoutes)
		api.POST("/routes", s.addRoute)
		api.GET("/routes/:id", s.getRoute)
		api.DELETE("/routes/:id", s.removeRoute)

		api.POST("/sessions", s.createSession)
		api.GET("/sessions", s.listSessions)
		api.GET("/sessions/:id", s.getSession)
		api.DELETE("/sessions/:id", s.deleteSession)
		api.GET("/sessions/:id/scene", s.getScene)
		api.GET("/sessions/:id/scene.geojson", s.getSceneGeoJSON)
		api.GET("/sessions/:id/stream", s.streamSession)
		api.POST("/sessions/:id/toggle", s.toggleSession)
		api.POST("/sessions/:id/reset", s.resetSession)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"routes":   s.routes.Len(),
		"sessions": s.sessions.Len(),
	})
}

type routeSummary struct {
	ID        string            `json:"id"`
	Points    int               `json:"points"`
	Source    string            `json:"source,omitempty"`
	Degraded  bool              `json:"degraded"`
	LoadError string            `json:"load_error,omitempty"`
	Start     *model.Coordinate `json:"start,omitempty"`
	End       *model.Coordinate `json:"end,omitempty"`
}

type routeDetail struct {
	routeSummary
	Coordinates []model.Coordinate `json:"coordinates"`
}

func summarize(e kb.RouteEntry) routeSummary {
	sum := routeSummary{
		ID:        e.Route.ID,
		Points:    e.Route.Len(),
		Source:    e.Source,
		Degraded:  e.Degraded,
		LoadError: e.LoadError,
	}
	if start, ok := e.Route.Start(); ok {
		sum.Start = &start
	}
	if end, ok := e.Route.End(); ok {
		sum.End = &end
	}
	return sum
}

func (s *Server) listRoutes(c *gin.Context) {
	entries := s.routes.ListRoutes()
	out := make([]routeSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, summarize(e))
	}
	c.JSON(http.StatusOK, gin.H{"routes": out, "variants": s.variants})
}

func (s *Server) getRoute(c *gin.Context) {
	e, err := s.routes.GetRoute(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, routeDetail{
		routeSummary: summarize(e),
		Coordinates:  e.Route.Coordinates(),
	})
}

type addRouteRequest struct {
	ID     string             `json:"id" binding:"required"`
	Points []model.Coordinate `json:"points" binding:"required,min=1"`
}

// addRoute registers an inline route. Invalid coordinates are rejected; a
// single point is kept as a degraded route, as at startup.
func (s *Server) addRoute(c *gin.Context) {
	var req addRouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	route, err := core.NewRouteStore(req.ID, core.StaticSource(req.Points)).LoadRoute()
	entry := kb.RouteEntry{Route: route, Source: "api"}
	if err != nil {
		if !errors.Is(err, core.ErrRouteTooShort) {
			writeError(c, err)
			return
		}
		entry.Degraded = true
		entry.LoadError = err.Error()
	}
	if err := s.routes.AddRoute(entry); err != nil {
		writeError(c, err)
		return
	}
	c.Header("Location", "/api/v1/routes/"+req.ID)
	c.JSON(http.StatusCreated, summarize(entry))
}

// removeRoute drops a route from the catalogue. Sessions already playing it
// keep their own copy.
func (s *Server) removeRoute(c *gin.Context) {
	if err := s.routes.RemoveRoute(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createSessionRequest struct {
	RouteID string `json:"route_id" binding:"required"`
	Variant string `json:"variant"`
}

type sessionResponse struct {
	Session session.Info `json:"session"`
	Scene   core.Scene   `json:"scene"`
}

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	info, err := s.sessions.Create(c.Request.Context(), req.RouteID, req.Variant)
	if err != nil {
		writeError(c, err)
		return
	}
	scene, err := s.sessions.Scene(info.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Location", "/api/v1/sessions/"+info.ID)
	c.JSON(http.StatusCreated, sessionResponse{Session: info, Scene: scene})
}

func (s *Server) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.sessions.List()})
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Info())
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getScene(c *gin.Context) {
	scene, err := s.sessions.Scene(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, scene)
}

func (s *Server) getSceneGeoJSON(c *gin.Context) {
	scene, err := s.sessions.Scene(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	canvas := core.NewGeoJSONCanvas()
	if err := core.Draw(scene, canvas); err != nil {
		writeError(c, err)
		return
	}
	body, err := canvas.MarshalJSON()
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/geo+json", body)
}

func (s *Server) toggleSession(c *gin.Context) {
	info, err := s.sessions.Toggle(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) resetSession(c *gin.Context) {
	info, err := s.sessions.Reset(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// streamSession sends the current scene, then one "scene" event per change
// until the client goes away or the session is deleted, which ends the
// stream with a "closed" event. A client too slow to drain its buffer
// misses intermediate frames, never the final one.
func (s *Server) streamSession(c *gin.Context) {
	id := c.Param("id")
	updates := make(chan session.Update, streamBuffer)
	closed := make(chan struct{})
	var closeOnce sync.Once

	unsubscribe, err := s.sessions.Subscribe(id, func(u session.Update) {
		if u.Closed {
			closeOnce.Do(func() { close(closed) })
			return
		}
		select {
		case updates <- u:
		default:
		}
	})
	if err != nil {
		writeError(c, err)
		return
	}
	defer unsubscribe()

	scene, err := s.sessions.Scene(id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("scene", scene)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case u := <-updates:
			c.SSEvent("scene", u.Scene)
			return true
		case <-closed:
			for {
				select {
				case u := <-updates:
					c.SSEvent("scene", u.Scene)
				default:
					c.SSEvent("closed", gin.H{"id": id})
					return false
				}
			}
		}
	})
}
