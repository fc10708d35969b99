package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fleetwake/internal/dispatch"
	"fleetwake/internal/models"
	"fleetwake/internal/registry"
	"fleetwake/internal/repo"
)

type fakeWaker struct {
	mu   sync.Mutex
	macs []string
	err  error
}

func (f *fakeWaker) Wake(mac, lastIP string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.macs = append(f.macs, mac)
	return nil
}

type env struct {
	devices *repo.DeviceStore
	groups  *repo.GroupStore
	tasks   *repo.TaskStore
	reg     *registry.Registry
	waker   *fakeWaker
	router  *mux.Router
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Device{}, &models.Group{}, &models.Task{}))

	e := &env{
		devices: repo.NewDeviceStore(db),
		groups:  repo.NewGroupStore(db),
		tasks:   repo.NewTaskStore(db),
		reg:     registry.New(nil),
		waker:   &fakeWaker{},
	}
	disp := dispatch.New(e.reg, e.devices, e.waker)
	e.router = mux.NewRouter().StrictSlash(true)
	RegisterRoutes(e.router, NewHandler(e.devices, e.groups, e.tasks, e.reg, disp, e.waker), nil)
	return e
}

func newDummyConn(t *testing.T) net.Conn {
	t.Helper()
	srv, cli := net.Pipe()
	t.Cleanup(func() { _ = srv.Close(); _ = cli.Close() })
	return srv
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestListDevicesReportsOnlineFlag(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	on, err := e.devices.Resolve(ctx, "on", "AA:BB:CC:DD:EE:01", "10.0.0.1")
	require.NoError(t, err)
	_, err = e.devices.Resolve(ctx, "off", "AA:BB:CC:DD:EE:02", "10.0.0.2")
	require.NoError(t, err)

	conn := newDummyConn(t)
	e.reg.Register(on.ID, "10.0.0.1", conn)

	rec := e.do(t, http.MethodGet, "/api/v1/devices", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out []struct {
		ID     uint `json:"id"`
		Online bool `json:"online"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	byID := map[uint]bool{}
	for _, d := range out {
		byID[d.ID] = d.Online
	}
	assert.True(t, byID[on.ID])
	assert.False(t, byID[2])
}

func TestSendCommandToOfflineDeviceConflicts(t *testing.T) {
	e := newEnv(t)
	_, err := e.devices.Resolve(context.Background(), "off", "AA:BB:CC:DD:EE:01", "10.0.0.1")
	require.NoError(t, err)

	rec := e.do(t, http.MethodPost, "/api/v1/devices/1/command",
		map[string]any{"action": "shutdown", "delay_seconds": 10})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWakeCommandUsesTransmitter(t *testing.T) {
	e := newEnv(t)
	_, err := e.devices.Resolve(context.Background(), "off", "AA:BB:CC:DD:EE:01", "10.0.0.1")
	require.NoError(t, err)

	rec := e.do(t, http.MethodPost, "/api/v1/devices/1/command",
		map[string]any{"action": "wake"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"AA:BB:CC:DD:EE:01"}, e.waker.macs)
}

func TestBulkActionEndpoint(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for _, mac := range []string{"AA:BB:CC:DD:EE:01", "AA:BB:CC:DD:EE:02"} {
		_, err := e.devices.Resolve(ctx, "h", mac, "10.0.0.1")
		require.NoError(t, err)
	}

	rec := e.do(t, http.MethodPost, "/api/v1/actions/bulk",
		map[string]any{"action": "shutdown", "target_kind": "all"})
	require.Equal(t, http.StatusOK, rec.Code)

	var res dispatch.BulkResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, dispatch.BulkResult{Attempted: 2, Reachable: 0, Unreachable: 2}, res)
}

func TestGroupLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/groups",
		map[string]any{"name": "lab", "description": "ground floor"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var g models.Group
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &g))
	assert.Equal(t, "lab", g.Name)

	rec = e.do(t, http.MethodGet, "/api/v1/groups", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodDelete, "/api/v1/groups/1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodDelete, "/api/v1/groups/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/groups", map[string]any{"name": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTaskValidation(t *testing.T) {
	e := newEnv(t)
	execTime := time.Now().UTC().Add(time.Hour)

	rec := e.do(t, http.MethodPost, "/api/v1/tasks", map[string]any{
		"kind":           "shutdown",
		"execution_time": execTime,
		"target_kind":    "group",
		"target_id":      1,
		"delay_seconds":  60,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	for name, body := range map[string]map[string]any{
		"unknown kind": {
			"kind": "explode", "execution_time": execTime,
			"target_kind": "group", "target_id": 1,
		},
		"unsupported target": {
			"kind": "wake", "execution_time": execTime,
			"target_kind": "device", "target_id": 1,
		},
		"missing execution time": {
			"kind": "wake", "target_kind": "group", "target_id": 1,
		},
		"negative delay": {
			"kind": "shutdown", "execution_time": execTime,
			"target_kind": "group", "target_id": 1, "delay_seconds": -5,
		},
	} {
		rec := e.do(t, http.MethodPost, "/api/v1/tasks", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestDeleteDevice(t *testing.T) {
	e := newEnv(t)
	_, err := e.devices.Resolve(context.Background(), "h", "AA:BB:CC:DD:EE:01", "10.0.0.1")
	require.NoError(t, err)

	rec := e.do(t, http.MethodDelete, "/api/v1/devices/1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodDelete, "/api/v1/devices/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
