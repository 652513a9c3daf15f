package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/berfenger/fesd/internal/core/domain"
	"github.com/berfenger/fesd/pkg/fesd"
	"github.com/berfenger/fesd/pkg/fesd/sc2470"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const discoveryRequestTimeout = 2 * time.Minute

type errorResponse struct {
	Error string `json:"error"`
}

type gainBody struct {
	GainDb float64 `json:"gain_db"`
}

type versionResponse struct {
	Version    string    `json:"version"`
	Revision   string    `json:"revision"`
	LastCommit time.Time `json:"last_commit"`
	DirtyBuild bool      `json:"dirty_build"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/version", s.VersionHandler)

	e.GET("/devices", s.DevicesHandler)
	dev := e.Group("/devices/:serial/:path")
	dev.GET("/frequencies", s.GetFrequenciesHandler)
	dev.PUT("/frequencies", s.PutFrequenciesHandler)
	dev.GET("/gain", s.GetGainHandler)
	dev.PUT("/gain", s.PutGainHandler)
	dev.GET("/gain_limits", s.GetGainLimitsHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.bridgeActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) VersionHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, versionResponse{
		Version:    versioninfo.Version,
		Revision:   versioninfo.Revision,
		LastCommit: versioninfo.LastCommit,
		DirtyBuild: versioninfo.DirtyBuild,
	})
}

// DevicesHandler lists the known devices. With refresh=true a discovery pass
// runs first, shared with any pass already in progress.
func (s *Server) DevicesHandler(c echo.Context) error {
	refresh, _ := strconv.ParseBool(c.QueryParam("refresh"))
	if !refresh {
		devices, err := s.service.Devices(c.Request().Context(), false)
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(http.StatusOK, devices)
	}
	res, err := s.rootContext.RequestFuture(s.bridgeActor, domain.DiscoverRequest{}, discoveryRequestTimeout).Result()
	if err != nil {
		return errorJSON(c, &fesd.CommandError{Kind: fesd.ErrDiscovery, Err: err})
	}
	resp, ok := res.(domain.DiscoverResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "unexpected response"})
	}
	if err := resp.GetResponseError(); err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, resp.Devices)
}

func target(c echo.Context) (string, sc2470.Path, error) {
	path, err := sc2470.ParsePath(c.Param("path"))
	if err != nil {
		return "", path, err
	}
	return c.Param("serial"), path, nil
}

func (s *Server) GetFrequenciesHandler(c echo.Context) error {
	serial, path, err := target(c)
	if err != nil {
		return errorJSON(c, err)
	}
	set, err := s.service.Frequencies(c.Request().Context(), serial, path)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, set)
}

func (s *Server) PutFrequenciesHandler(c echo.Context) error {
	serial, path, err := target(c)
	if err != nil {
		return errorJSON(c, err)
	}
	var set sc2470.FrequencySet
	if err := c.Bind(&set); err != nil {
		return errorJSON(c, &fesd.CommandError{Kind: fesd.ErrInvalidArgument, Err: err})
	}
	applied, err := s.service.ConfigureFrequencies(c.Request().Context(), serial, path, set)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, applied)
}

func (s *Server) GetGainHandler(c echo.Context) error {
	serial, path, err := target(c)
	if err != nil {
		return errorJSON(c, err)
	}
	gain, err := s.service.Gain(c.Request().Context(), serial, path)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, gainBody{GainDb: gain})
}

func (s *Server) PutGainHandler(c echo.Context) error {
	serial, path, err := target(c)
	if err != nil {
		return errorJSON(c, err)
	}
	var body gainBody
	if err := c.Bind(&body); err != nil {
		return errorJSON(c, &fesd.CommandError{Kind: fesd.ErrInvalidArgument, Err: err})
	}
	applied, err := s.service.ConfigureGain(c.Request().Context(), serial, path, body.GainDb)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, gainBody{GainDb: applied})
}

func (s *Server) GetGainLimitsHandler(c echo.Context) error {
	serial, path, err := target(c)
	if err != nil {
		return errorJSON(c, err)
	}
	limits, err := s.service.GainLimits(c.Request().Context(), serial, path)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, limits)
}

func errorJSON(c echo.Context, err error) error {
	return c.JSON(statusOf(err), errorResponse{Error: err.Error()})
}

var statusTable = []struct {
	kind   error
	status int
}{
	{fesd.ErrDeviceNotFound, http.StatusNotFound},
	{fesd.ErrFrequencyOutOfRange, http.StatusUnprocessableEntity},
	{fesd.ErrUnsupportedFrequencyPlan, http.StatusUnprocessableEntity},
	{fesd.ErrGainOutOfRange, http.StatusUnprocessableEntity},
	{fesd.ErrDeviceRejected, http.StatusUnprocessableEntity},
	{fesd.ErrInvalidArgument, http.StatusBadRequest},
	{fesd.ErrConfiguration, http.StatusBadRequest},
	{fesd.ErrTypeMismatch, http.StatusConflict},
	{fesd.ErrCalibration, http.StatusConflict},
	{fesd.ErrCommandTimeout, http.StatusServiceUnavailable},
	{fesd.ErrProtocol, http.StatusServiceUnavailable},
	{fesd.ErrPortUnavailable, http.StatusServiceUnavailable},
	{fesd.ErrDiscovery, http.StatusServiceUnavailable},
	{fesd.ErrSessionClosed, http.StatusServiceUnavailable},
}

func statusOf(err error) int {
	for _, e := range statusTable {
		if errors.Is(err, e.kind) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}
