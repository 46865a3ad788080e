package mockserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"branchlab/internal/models"
)

// Server is a local stand-in for the managed branching service's control
// plane, close enough to the real API surface that the scenario flows run
// against either.
type Server struct {
	store    *Store
	apiToken string
}

func NewServer(store *Store, apiToken string) *Server {
	return &Server{store: store, apiToken: apiToken}
}

func (s *Server) Router() *gin.Engine {
	router := gin.Default()
	router.Use(cors.Default())

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")
	v1.Use(s.authenticate)
	{
		v1.GET("/projects", s.listProjects)
		v1.POST("/projects", s.createProject)
		v1.GET("/projects/:project", s.getProject)
		v1.DELETE("/projects/:project", s.deleteProject)

		v1.GET("/projects/:project/branches", s.listBranches)
		v1.POST("/projects/:project/branches", s.createBranch)
		v1.GET("/projects/:project/branches/:branch", s.getBranch)
		v1.DELETE("/projects/:project/branches/:branch", s.deleteBranch)

		v1.GET("/projects/:project/branches/:branch/endpoints", s.listEndpoints)
		v1.POST("/projects/:project/branches/:branch/endpoints/:endpoint/credentials", s.generateCredential)

		v1.POST("/projects/:project/branches/:branch/checkpoint", s.checkpointBranch)
	}

	return router
}

func (s *Server) authenticate(c *gin.Context) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Missing Authorization header"})
		return
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid Authorization format"})
		return
	}

	if parts[1] != s.apiToken {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid or expired token"})
		return
	}

	c.Next()
}

func (s *Server) listProjects(c *gin.Context) {
	success(c, http.StatusOK, s.store.ListProjects(), "")
}

func (s *Server) createProject(c *gin.Context) {
	var req models.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err, "Invalid request body: name is required")
		return
	}

	project, err := s.store.CreateProject(c.Request.Context(), req)
	if err != nil {
		s.failStore(c, err, "Failed to create project")
		return
	}

	success(c, http.StatusCreated, project, "Project created")
}

func (s *Server) getProject(c *gin.Context) {
	project, err := s.store.GetProject(c.Param("project"))
	if err != nil {
		s.failStore(c, err, "Failed to get project")
		return
	}
	success(c, http.StatusOK, project, "")
}

func (s *Server) deleteProject(c *gin.Context) {
	if err := s.store.DeleteProject(c.Request.Context(), c.Param("project")); err != nil {
		s.failStore(c, err, "Failed to delete project")
		return
	}
	success(c, http.StatusOK, nil, "Project deleted")
}

func (s *Server) listBranches(c *gin.Context) {
	branches, err := s.store.ListBranches(c.Param("project"))
	if err != nil {
		s.failStore(c, err, "Failed to list branches")
		return
	}
	success(c, http.StatusOK, branches, "")
}

func (s *Server) createBranch(c *gin.Context) {
	var req models.CreateBranchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err, "Invalid request body: branch_id is required")
		return
	}

	branch, err := s.store.CreateBranch(c.Request.Context(), c.Param("project"), req)
	if err != nil {
		s.failStore(c, err, "Failed to create branch")
		return
	}

	success(c, http.StatusCreated, branch, "Branch created")
}

func (s *Server) getBranch(c *gin.Context) {
	branch, err := s.store.GetBranch(c.Param("project"), c.Param("branch"))
	if err != nil {
		s.failStore(c, err, "Failed to get branch")
		return
	}
	success(c, http.StatusOK, branch, "")
}

func (s *Server) deleteBranch(c *gin.Context) {
	err := s.store.DeleteBranch(c.Request.Context(), c.Param("project"), c.Param("branch"))
	if err != nil {
		s.failStore(c, err, "Failed to delete branch")
		return
	}
	success(c, http.StatusOK, nil, "Branch deleted")
}

func (s *Server) listEndpoints(c *gin.Context) {
	endpoints, err := s.store.ListEndpoints(c.Param("project"), c.Param("branch"))
	if err != nil {
		s.failStore(c, err, "Failed to list endpoints")
		return
	}
	success(c, http.StatusOK, endpoints, "")
}

func (s *Server) generateCredential(c *gin.Context) {
	cred, err := s.store.GenerateCredential(
		c.Request.Context(),
		c.Param("project"),
		c.Param("branch"),
		c.Param("endpoint"),
	)
	if err != nil {
		s.failStore(c, err, "Failed to generate credential")
		return
	}
	success(c, http.StatusCreated, cred, "Credential generated")
}

func (s *Server) checkpointBranch(c *gin.Context) {
	at, err := s.store.Checkpoint(c.Request.Context(), c.Param("project"), c.Param("branch"))
	if err != nil {
		s.failStore(c, err, "Failed to checkpoint branch")
		return
	}
	success(c, http.StatusCreated, gin.H{"checkpoint_time": at}, "Checkpoint recorded")
}

func (s *Server) failStore(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, ErrProjectNotFound),
		errors.Is(err, ErrBranchNotFound),
		errors.Is(err, ErrEndpointNotFound):
		fail(c, http.StatusNotFound, err, message)
	case errors.Is(err, ErrProjectExists),
		errors.Is(err, ErrBranchExists):
		fail(c, http.StatusConflict, err, message)
	case errors.Is(err, ErrDefaultBranchProtected):
		fail(c, http.StatusForbidden, err, message)
	case errors.Is(err, ErrSourceBranchNotFound),
		errors.Is(err, ErrNoRestorePoint):
		fail(c, http.StatusUnprocessableEntity, err, message)
	default:
		fail(c, http.StatusInternalServerError, err, message)
	}
}
