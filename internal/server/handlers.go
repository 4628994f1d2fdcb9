package server

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/blacktop/pagecast/internal/media"
	"github.com/blacktop/pagecast/internal/queue"
	"github.com/blacktop/pagecast/internal/scheduler"
	"github.com/labstack/echo/v4"
)

type statusJSON struct {
	Channel     string  `json:"channel"`
	Kind        string  `json:"kind"`
	Running     bool    `json:"running"`
	Status      string  `json:"status"`
	CurrentPost *string `json:"current_post"`
	Interval    int64   `json:"interval"`
}

// maxIntervalSeconds keeps the interval within what time.Duration can hold.
const maxIntervalSeconds = float64(math.MaxInt64 / int64(time.Second))

// intervalJSON carries whole seconds. It decodes as a float so that
// fractional values can be rejected instead of silently truncated.
type intervalJSON struct {
	Interval *float64 `json:"interval"`
}

// mapError converts a domain error into an echo.HTTPError.
func mapError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, scheduler.ErrUnknownChannel):
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid channel")
	case errors.Is(err, scheduler.ErrInvalidInterval):
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid interval value")
	case errors.Is(err, queue.ErrPostNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Post not found")
	case errors.Is(err, media.ErrInvalidName):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, media.ErrTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, media.ErrImageNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Image not found")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) queueFor(c echo.Context) (*queue.File, error) {
	q, ok := s.queues[c.Param("channel")]
	if !ok {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "Invalid channel")
	}
	return q, nil
}

func postIndex(c echo.Context) (int, error) {
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid post index")
	}
	return i, nil
}

func (s *Server) listPosts(c echo.Context) error {
	q, err := s.queueFor(c)
	if err != nil {
		return err
	}
	posts, err := q.List()
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, posts)
}

func (s *Server) addPost(c echo.Context) error {
	q, err := s.queueFor(c)
	if err != nil {
		return err
	}
	var p queue.Post
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid post")
	}
	created, err := q.Add(p)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) updatePost(c echo.Context) error {
	q, err := s.queueFor(c)
	if err != nil {
		return err
	}
	index, err := postIndex(c)
	if err != nil {
		return err
	}
	var patch queue.Patch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid post")
	}
	updated, err := q.Update(index, patch)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (s *Server) deletePost(c echo.Context) error {
	q, err := s.queueFor(c)
	if err != nil {
		return err
	}
	index, err := postIndex(c)
	if err != nil {
		return err
	}
	if err := q.Delete(index); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) upload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil || fh.Filename == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "No file provided")
	}
	if fh.Size > media.MaxSize {
		return mapError(media.ErrTooLarge)
	}
	src, err := fh.Open()
	if err != nil {
		return mapError(fmt.Errorf("open upload: %w", err))
	}
	defer src.Close()

	name, err := s.images.Save(fh.Filename, src)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"filename": name})
}

func (s *Server) image(c echo.Context) error {
	path, err := s.images.Path(c.Param("filename"))
	if err != nil {
		if errors.Is(err, media.ErrInvalidName) {
			return echo.NewHTTPError(http.StatusNotFound, "Image not found")
		}
		return mapError(err)
	}
	return c.File(path)
}

func (s *Server) control(c echo.Context) error {
	name := c.Param("channel")
	switch c.Param("action") {
	case "start":
		err := s.ctl.Start(name)
		switch {
		case errors.Is(err, scheduler.ErrAlreadyRunning):
			return c.JSON(http.StatusOK, map[string]string{"status": name + " already running"})
		case err != nil:
			return mapError(err)
		}
		return c.JSON(http.StatusOK, map[string]string{"status": name + " started"})
	case "stop":
		err := s.ctl.Stop(name)
		switch {
		case errors.Is(err, scheduler.ErrNotRunning):
			return c.JSON(http.StatusOK, map[string]string{"status": name + " not running"})
		case err != nil:
			return mapError(err)
		}
		return c.JSON(http.StatusOK, map[string]string{"status": name + " stopped"})
	default:
		return echo.ErrNotFound
	}
}

func (s *Server) controlAll(c echo.Context) error {
	switch c.Param("action") {
	case "start":
		if err := s.ctl.StartAll(); err != nil {
			return mapError(err)
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "All tasks started"})
	case "stop":
		if err := s.ctl.StopAll(); err != nil {
			return mapError(err)
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "All tasks stopped"})
	default:
		return echo.ErrNotFound
	}
}

func (s *Server) status(c echo.Context) error {
	snaps := s.ctl.Status()
	out := make([]statusJSON, 0, len(snaps))
	for _, st := range snaps {
		js := statusJSON{
			Channel:  st.Channel,
			Kind:     st.Kind,
			Running:  st.Running,
			Status:   st.Status,
			Interval: int64(st.Interval / time.Second),
		}
		if st.CurrentPost != "" {
			cur := st.CurrentPost
			js.CurrentPost = &cur
		}
		out = append(out, js)
	}
	return c.JSON(http.StatusOK, map[string][]statusJSON{"channels": out})
}

func (s *Server) getInterval(c echo.Context) error {
	d, err := s.ctl.Interval(c.Param("channel"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"interval": int64(d / time.Second)})
}

func (s *Server) setInterval(c echo.Context) error {
	name := c.Param("channel")
	if _, err := s.ctl.Interval(name); err != nil {
		return mapError(err)
	}
	var body intervalJSON
	if err := c.Bind(&body); err != nil || body.Interval == nil {
		return mapError(scheduler.ErrInvalidInterval)
	}
	v := *body.Interval
	if v != math.Trunc(v) || v < 1 || v > maxIntervalSeconds {
		return mapError(fmt.Errorf("%s: %v: %w", name, v, scheduler.ErrInvalidInterval))
	}
	d := time.Duration(v) * time.Second
	if err := s.ctl.SetInterval(name, d); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "interval": int64(v)})
}
