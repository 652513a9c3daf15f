package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	adactor "github.com/berfenger/fesd/internal/adapter/actor"
	"github.com/berfenger/fesd/internal/config"
	coreactor "github.com/berfenger/fesd/internal/core/actor"
	"github.com/berfenger/fesd/internal/core/domain"
	"github.com/berfenger/fesd/internal/core/service"
	"github.com/berfenger/fesd/internal/util/actorutil"
	"github.com/berfenger/fesd/pkg/fesd"
	"github.com/berfenger/fesd/pkg/fesd/discovery"
	"github.com/berfenger/fesd/pkg/fesd/session"
	"github.com/berfenger/fesd/pkg/fesd/simulator"
	"github.com/berfenger/fesd/pkg/fesd/transport"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const serial = "1A2B3C4D"

func testServer(t *testing.T) (http.Handler, *simulator.Bus) {
	t.Helper()

	cfg := config.Config{Discovery: discovery.Config{Window: 5 * time.Second, MaxSlot: 1}}
	logger := zap.NewNop()
	as := actorutil.NewActorSystemWithZapLogger(logger)

	bus := simulator.NewBus("COM6", simulator.NewSC2470(1, 0x1A2B3C4D, simulator.WithGainLimits("RX", -10, 20)))
	s, err := session.Open(context.Background(), "COM6", session.Config{
		Opener:      simulator.NewNetwork(bus),
		ActorSystem: as,
		Exchange:    transport.ExchangeConfig{Timeout: 200 * time.Millisecond, Retries: 1},
		Discovery:   cfg.Discovery,
	})
	require.NoError(t, err)

	es := &eventstream.EventStream{}
	srv := service.NewFrontEndService(s, adactor.NewEventStreamPublisher(es), logger)
	pid, err := as.Root.SpawnNamed(actor.PropsFromProducer(func() actor.Actor {
		return coreactor.NewBridgeActor(cfg, srv, es, nil, logger)
	}), domain.ACTOR_ID_BRIDGE)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = as.Root.StopFuture(pid).Wait()
		_ = s.Close()
		as.Shutdown()
	})

	// wait for the start-up discovery pass
	_, err = as.Root.RequestFuture(pid, domain.DiscoverRequest{}, 10*time.Second).Result()
	require.NoError(t, err)

	server := &Server{service: srv, rootContext: as.Root, bridgeActor: pid}
	return server.RegisterRoutes(), bus
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {

	h, _ := testServer(t)

	rec := do(h, http.MethodGet, "/healthcheck", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "health_check: OK", rec.Body.String())
}

func TestDevicesRoute(t *testing.T) {

	require := require.New(t)

	h, _ := testServer(t)

	rec := do(h, http.MethodGet, "/devices?refresh=true", "")
	require.Equal(http.StatusOK, rec.Code)
	var devices []fesd.Device
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &devices))
	require.Len(devices, 1)
	require.Equal(serial, devices[0].SerialNumber)
	require.Equal(fesd.DeviceTypeSC2470, devices[0].Type)

	rec = do(h, http.MethodGet, "/devices", "")
	require.Equal(http.StatusOK, rec.Code)
	require.Contains(rec.Body.String(), serial)
}

func TestGainRoutes(t *testing.T) {

	require := require.New(t)

	h, bus := testServer(t)
	base := fmt.Sprintf("/devices/%s/rx", serial)

	rec := do(h, http.MethodGet, base+"/gain_limits", "")
	require.Equal(http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"min_db":-10,"max_db":20}`, rec.Body.String())

	rec = do(h, http.MethodPut, base+"/gain", `{"gain_db":4.5}`)
	require.Equal(http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"gain_db":4.5}`, rec.Body.String())
	require.Equal(4.5, bus.Device(1).Gain("RX"))

	rec = do(h, http.MethodGet, base+"/gain", "")
	require.Equal(http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"gain_db":4.5}`, rec.Body.String())

	rec = do(h, http.MethodPut, base+"/gain", `{"gain_db":40}`)
	require.Equal(http.StatusUnprocessableEntity, rec.Code)
	require.Contains(rec.Body.String(), "gain out of range")
}

func TestFrequencyRoutes(t *testing.T) {

	require := require.New(t)

	h, bus := testServer(t)
	base := fmt.Sprintf("/devices/%s/rx", serial)

	rec := do(h, http.MethodPut, base+"/frequencies", `{"rf_hz":12.7e9,"if_hz":6e9}`)
	require.Equal(http.StatusOK, rec.Code)
	var applied map[string]float64
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &applied))
	require.Equal(12.7e9, applied["rf_hz"])
	require.Equal(6.7e9, applied["lo_hz"])

	rf, ifr, _ := bus.Device(1).Frequencies("RX")
	require.Equal(12.7e9, rf)
	require.Equal(6e9, ifr)

	rec = do(h, http.MethodGet, base+"/frequencies", "")
	require.Equal(http.StatusOK, rec.Code)
	require.Contains(rec.Body.String(), `"if_hz":6000000000`)

	rec = do(h, http.MethodPut, base+"/frequencies", `{"rf_hz":30e9,"if_hz":6e9}`)
	require.Equal(http.StatusUnprocessableEntity, rec.Code)
}

func TestErrorStatus(t *testing.T) {

	assert := assert.New(t)

	h, _ := testServer(t)

	assert.Equal(http.StatusNotFound, do(h, http.MethodGet, "/devices/DEADBEEF/rx/gain", "").Code)
	assert.Equal(http.StatusBadRequest, do(h, http.MethodGet, "/devices/"+serial+"/sideways/gain", "").Code)
	assert.Equal(http.StatusBadRequest, do(h, http.MethodPut, "/devices/"+serial+"/rx/gain", "{").Code)

	assert.Equal(http.StatusServiceUnavailable, statusOf(&fesd.CommandError{Kind: fesd.ErrCommandTimeout}))
	assert.Equal(http.StatusConflict, statusOf(fmt.Errorf("lookup: %w", fesd.ErrTypeMismatch)))
	assert.Equal(http.StatusInternalServerError, statusOf(fmt.Errorf("boom")))
}
