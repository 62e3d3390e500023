package reapi

import (
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server exposes the REAPI-compatible endpoints of §6.2:
// POST /v2/actions/execute, GET /v2/operations/{name}, GET/PUT
// /v2/actionResults/{hash}/{size}. Built the same way as cas.Server:
// one echo.Echo with Recover/RequestID middleware and no global state.
type Server struct {
	echo    *echo.Echo
	svc     *Service
	results *ResultCache
	command string
	args    []string
}

// NewServer wires a REAPI Server. command/args are the interpreter the
// adapter invokes for every ActionRequest's Command field (e.g. a shell),
// mirroring how sandbox.Executor.Run takes name+args rather than a raw
// command line.
func NewServer(svc *Service, results *ResultCache, command string, args []string) *Server {
	s := &Server{echo: echo.New(), svc: svc, results: results, command: command, args: args}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())

	s.echo.POST("/v2/actions/execute", s.handleExecute)
	s.echo.GET("/v2/operations/:name", s.handleGetOperation)
	s.echo.GET("/v2/actionResults/:hash/:size", s.handleGetActionResult)
	s.echo.PUT("/v2/actionResults/:hash/:size", s.handlePutActionResult)

	return s
}

func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) handleExecute(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}
	req, err := DecodeActionRequest(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	op, err := s.svc.Execute(c.Request().Context(), req, s.command, s.args)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, operationJSON(op))
}

func (s *Server) handleGetOperation(c echo.Context) error {
	name := "operations/" + c.Param("name")
	op, err := s.svc.Poll(name)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown operation")
	}
	return c.JSON(http.StatusOK, operationJSON(op))
}

func (s *Server) handleGetActionResult(c echo.Context) error {
	size, err := strconv.ParseInt(c.Param("size"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid size")
	}
	digest := Digest{Hash: c.Param("hash"), SizeBytes: size}

	result, err := s.results.Get(c.Request().Context(), digest)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "action result not found")
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handlePutActionResult(c echo.Context) error {
	size, err := strconv.ParseInt(c.Param("size"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid size")
	}

	var result ActionResult
	if err := c.Bind(&result); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid action result body")
	}
	result.ActionDigest = Digest{Hash: c.Param("hash"), SizeBytes: size}

	if err := s.results.Put(c.Request().Context(), &result); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func operationJSON(op *Operation) map[string]interface{} {
	return map[string]interface{}{
		"name":   op.Name,
		"status": op.Status,
		"result": op.Result,
		"error":  op.Error,
	}
}
