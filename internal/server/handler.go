package server

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nbforge/spawnd/internal/domain"
	domainerrors "github.com/nbforge/spawnd/internal/domain/errors"
)

// NotebookService is the slice of the notebook use case the handlers consume.
type NotebookService interface {
	Create(ctx context.Context) (*domain.Notebook, error)
	List(ctx context.Context) []domain.Notebook
	Get(ctx context.Context, idOrName string) (domain.Notebook, error)
	Delete(ctx context.Context, idOrName string) error
}

// EnginePinger reports container engine liveness for /ping.
type EnginePinger interface {
	Ping(ctx context.Context) error
}

type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type notebookView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Port   int    `json:"port"`
	IP     string `json:"ip"`
	Status string `json:"status"`
	URL    string `json:"url"`
}

type notebookCreated struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	URL   string `json:"url"`
	Port  int    `json:"port"`
	Token string `json:"token"`
}

var viewPage = template.Must(template.New("notebook").Parse(`<!DOCTYPE html>
<html>
<head>
  <title>{{ .Name }}</title>
  <style>html, body, iframe { margin: 0; height: 100%; width: 100%; border: 0; }</style>
</head>
<body>
  <iframe src="{{ .URL }}" allow="clipboard-read; clipboard-write"></iframe>
</body>
</html>
`))

// API holds the HTTP handlers for the notebook endpoints.
type API struct {
	notebooks NotebookService
	engine    EnginePinger
	logger    *slog.Logger
}

func NewAPI(notebooks NotebookService, engine EnginePinger, logger *slog.Logger) *API {
	return &API{notebooks: notebooks, engine: engine, logger: logger}
}

func (a *API) RegisterRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(viewPage)

	router.GET("/ping", a.ping)
	router.POST("/api/notebooks", a.createNotebook)
	router.GET("/api/notebooks", a.listNotebooks)
	router.DELETE("/api/notebooks/:id", a.deleteNotebook)
	router.GET("/notebooks/:id", a.viewNotebook)
}

func (a *API) ping(c *gin.Context) {
	if err := a.engine.Ping(c.Request.Context()); err != nil {
		a.logger.Error("engine ping failed", "err", err)
		c.JSON(http.StatusInternalServerError, response{Success: false, Error: "container engine unreachable"})
		return
	}
	c.JSON(http.StatusOK, response{Success: true})
}

func (a *API) createNotebook(c *gin.Context) {
	nb, err := a.notebooks.Create(c.Request.Context())
	if err != nil {
		a.fail(c, "create notebook", err)
		return
	}

	c.JSON(http.StatusCreated, response{Success: true, Data: notebookCreated{
		ID:    nb.ID,
		Name:  nb.Name,
		URL:   nb.URL,
		Port:  nb.Port,
		Token: nb.Token,
	}})
}

func (a *API) listNotebooks(c *gin.Context) {
	notebooks := a.notebooks.List(c.Request.Context())

	views := make([]notebookView, 0, len(notebooks))
	for _, nb := range notebooks {
		views = append(views, notebookView{
			ID:     nb.ID,
			Name:   nb.Name,
			Port:   nb.Port,
			IP:     nb.IP,
			Status: string(nb.Status),
			URL:    nb.URL,
		})
	}
	c.JSON(http.StatusOK, response{Success: true, Data: gin.H{"notebooks": views}})
}

func (a *API) deleteNotebook(c *gin.Context) {
	id := c.Param("id")
	if err := a.notebooks.Delete(c.Request.Context(), id); err != nil {
		a.fail(c, "delete notebook", err)
		return
	}
	c.JSON(http.StatusOK, response{Success: true, Data: gin.H{"message": "notebook " + id + " stopped and removed"}})
}

func (a *API) viewNotebook(c *gin.Context) {
	nb, err := a.notebooks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, "view notebook", err)
		return
	}
	c.HTML(http.StatusOK, "notebook", gin.H{"Name": nb.Name, "URL": nb.URL})
}

// fail maps the error taxonomy onto HTTP status codes. Allocation and engine
// errors pass their message through; anything unexpected stays generic on
// the wire and detailed in the log.
func (a *API) fail(c *gin.Context, op string, err error) {
	a.logger.Error(op+" failed", "err", err)

	var (
		notFound   domainerrors.NotFoundError
		allocation domainerrors.PortAllocationError
		engineErr  domainerrors.EngineError
	)
	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, response{Success: false, Error: notFound.Error()})
	case errors.As(err, &allocation):
		c.JSON(http.StatusInternalServerError, response{Success: false, Error: allocation.Error()})
	case errors.As(err, &engineErr):
		c.JSON(http.StatusInternalServerError, response{Success: false, Error: engineErr.Error()})
	default:
		c.JSON(http.StatusInternalServerError, response{Success: false, Error: "internal server error"})
	}
}
