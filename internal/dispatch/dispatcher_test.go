package dispatch

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fleetwake/internal/models"
	"fleetwake/internal/registry"
	"fleetwake/internal/repo"
)

type fakeWaker struct {
	mu   sync.Mutex
	macs []string
}

func (f *fakeWaker) Wake(mac, lastIP string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.macs = append(f.macs, mac)
	return nil
}

func (f *fakeWaker) woken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.macs...)
}

func newTestDeviceStore(t *testing.T) *repo.DeviceStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Device{}, &models.Group{}))
	return repo.NewDeviceStore(db)
}

// routedConn — пайп с фоновым читателем: записи диспетчера не блокируются,
// а попадают в канал.
func routedConn(t *testing.T) (net.Conn, <-chan string) {
	t.Helper()
	srv, cli := net.Pipe()
	recv := make(chan string, 8)
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := cli.Read(buf)
			if n > 0 {
				recv <- string(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() { _ = srv.Close(); _ = cli.Close() })
	return srv, recv
}

func mustRecv(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no command received")
		return ""
	}
}

func TestSendToUnregisteredFails(t *testing.T) {
	d := New(registry.New(nil), newTestDeviceStore(t), &fakeWaker{})
	assert.False(t, d.Send(42, VerbShutdown, 0))
}

func TestSendWritesSingleCommand(t *testing.T) {
	reg := registry.New(nil)
	d := New(reg, newTestDeviceStore(t), &fakeWaker{})

	conn, recv := routedConn(t)
	reg.Register(1, "10.0.0.1", conn)

	require.True(t, d.Send(1, VerbShutdown, 30))
	assert.Equal(t, "SHUTDOWN 30", mustRecv(t, recv))

	require.True(t, d.Send(1, VerbReboot, 0))
	assert.Equal(t, "REBOOT 0", mustRecv(t, recv))
}

func TestSendReportsWriteFailure(t *testing.T) {
	reg := registry.New(nil)
	d := New(reg, newTestDeviceStore(t), &fakeWaker{})

	srv, cli := net.Pipe()
	reg.Register(1, "10.0.0.1", srv)
	_ = cli.Close()
	_ = srv.Close()

	assert.False(t, d.Send(1, VerbShutdown, 0))
}

func TestBulkShutdownPartitionsByReachability(t *testing.T) {
	store := newTestDeviceStore(t)
	reg := registry.New(nil)
	waker := &fakeWaker{}
	d := New(reg, store, waker)
	ctx := context.Background()

	// группа из 5 устройств, 3 из них с живым маршрутом
	groupID := uint(1)
	macs := []string{
		"AA:BB:CC:DD:EE:01", "AA:BB:CC:DD:EE:02", "AA:BB:CC:DD:EE:03",
		"AA:BB:CC:DD:EE:04", "AA:BB:CC:DD:EE:05",
	}
	recvs := map[uint]<-chan string{}
	for i, mac := range macs {
		dev, err := store.Resolve(ctx, "h", mac, "10.0.0.1")
		require.NoError(t, err)
		require.NoError(t, store.UpdateDetails(ctx, dev.ID, "", &groupID))
		if i < 3 {
			conn, recv := routedConn(t)
			reg.Register(dev.ID, "10.0.0.1", conn)
			recvs[dev.ID] = recv
		}
	}

	res, err := d.Bulk(ctx, ActionShutdown, TargetGroup, groupID, 60)
	require.NoError(t, err)
	assert.Equal(t, BulkResult{Attempted: 5, Reachable: 3, Unreachable: 2}, res)

	for id, recv := range recvs {
		assert.Equal(t, "SHUTDOWN 60", mustRecv(t, recv), "device %d", id)
	}
	assert.Empty(t, waker.woken())
}

func TestBulkWakeIgnoresReachabilityAndSkipsMissingMAC(t *testing.T) {
	store := newTestDeviceStore(t)
	reg := registry.New(nil)
	waker := &fakeWaker{}
	d := New(reg, store, waker)
	ctx := context.Background()

	groupID := uint(1)
	online, err := store.Resolve(ctx, "a", "AA:BB:CC:DD:EE:01", "10.0.0.1")
	require.NoError(t, err)
	offline, err := store.Resolve(ctx, "b", "AA:BB:CC:DD:EE:02", "10.0.0.2")
	require.NoError(t, err)
	noMAC, err := store.Resolve(ctx, "c", "", "10.0.0.3")
	require.NoError(t, err)
	for _, dev := range []*models.Device{online, offline, noMAC} {
		require.NoError(t, store.UpdateDetails(ctx, dev.ID, "", &groupID))
	}

	conn, _ := routedConn(t)
	reg.Register(online.ID, "10.0.0.1", conn)

	res, err := d.Bulk(ctx, ActionWake, TargetGroup, groupID, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempted)

	// wake пробуем и для недостижимых; без MAC — пропуск
	assert.ElementsMatch(t, []string{"AA:BB:CC:DD:EE:01", "AA:BB:CC:DD:EE:02"}, waker.woken())
}

func TestBulkAllTargets(t *testing.T) {
	store := newTestDeviceStore(t)
	reg := registry.New(nil)
	d := New(reg, store, &fakeWaker{})
	ctx := context.Background()

	_, err := store.Resolve(ctx, "a", "AA:BB:CC:DD:EE:01", "10.0.0.1")
	require.NoError(t, err)
	_, err = store.Resolve(ctx, "b", "AA:BB:CC:DD:EE:02", "10.0.0.2")
	require.NoError(t, err)

	res, err := d.Bulk(ctx, ActionReboot, TargetAll, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, BulkResult{Attempted: 2, Reachable: 0, Unreachable: 2}, res)
}

func TestBulkRejectsUnknownActionAndTarget(t *testing.T) {
	d := New(registry.New(nil), newTestDeviceStore(t), &fakeWaker{})

	_, err := d.Bulk(context.Background(), "dance", TargetAll, 0, 0)
	assert.Error(t, err)

	_, err = d.Bulk(context.Background(), ActionWake, "planet", 0, 0)
	assert.Error(t, err)
}
