package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/testenv"
	"github.com/cuemby/adcm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// statusServer records posted events and answers status queries
type statusServer struct {
	*httptest.Server
	mu       sync.Mutex
	events   []types.Event
	maps     []ServiceMap
	auth     []string
	fail     atomic.Int32 // http status to answer posts with, 0 for success
	attempts atomic.Int32
}

func newStatusServer(t *testing.T) *statusServer {
	s := &statusServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /event/", func(w http.ResponseWriter, r *http.Request) {
		s.attempts.Add(1)
		if code := s.fail.Load(); code != 0 {
			http.Error(w, "nope", int(code))
			return
		}
		var ev types.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.events = append(s.events, ev)
		s.auth = append(s.auth, r.Header.Get("Authorization"))
		s.mu.Unlock()
	})
	mux.HandleFunc("POST /servicemap/", func(w http.ResponseWriter, r *http.Request) {
		var m ServiceMap
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.maps = append(s.maps, m)
		s.mu.Unlock()
	})
	mux.HandleFunc("GET /cluster/1/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": 16}`))
	})
	mux.HandleFunc("GET /host/2/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})
	mux.HandleFunc("GET /host/3/component/4/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": 0}`))
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *statusServer) received() []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Event(nil), s.events...)
}

func (s *statusServer) serviceMaps() []ServiceMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ServiceMap(nil), s.maps...)
}

func emit(t *testing.T, store *storage.Store, events ...*types.Event) {
	t.Helper()
	require.NoError(t, store.Update(func(tx *storage.Tx) error {
		for _, ev := range events {
			tx.Emit(ev)
		}
		return nil
	}))
}

func openStore(t *testing.T) *storage.Store {
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func stateEvent(id int64, state string) *types.Event {
	return types.NewEvent(types.EventChangeState, types.Ref(types.ObjectCluster, id), types.EventDetails{Type: "state", Value: state})
}

func TestEmitterDeliversInOrder(t *testing.T) {
	srv := newStatusServer(t)
	store := openStore(t)
	emit(t, store, stateEvent(1, "a"), stateEvent(1, "b"))
	emit(t, store, stateEvent(2, "c"))

	e := NewEmitter(store, NewStatusClient(srv.URL, "secret", time.Second), 3)
	sent, err := e.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
	assert.Zero(t, store.OutboxLen())

	got := srv.received()
	require.Len(t, got, 3)
	values := []string{got[0].Object.Details.Value, got[1].Object.Details.Value, got[2].Object.Details.Value}
	assert.Equal(t, []string{"a", "b", "c"}, values)
	assert.Equal(t, "cluster", got[2].Object.Type)
	assert.Equal(t, int64(2), got[2].Object.ID)
	for _, a := range srv.auth {
		assert.Equal(t, "Token secret", a)
	}
}

func TestEmitterDiscards(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		retries  int
		attempts int32
	}{
		{name: "server error is retried", code: http.StatusInternalServerError, retries: 2, attempts: 3},
		{name: "client error is not retried", code: http.StatusUnauthorized, retries: 2, attempts: 1},
		{name: "no retries", code: http.StatusBadGateway, retries: 0, attempts: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newStatusServer(t)
			srv.fail.Store(int32(tt.code))
			store := openStore(t)
			emit(t, store, stateEvent(1, "a"))

			sent, err := NewEmitter(store, NewStatusClient(srv.URL, "secret", time.Second), tt.retries).Drain(context.Background())
			require.NoError(t, err)
			assert.Zero(t, sent)
			assert.Equal(t, tt.attempts, srv.attempts.Load())
			assert.Zero(t, store.OutboxLen(), "discarded events leave the outbox")
		})
	}
}

func TestEmitterUnreachable(t *testing.T) {
	srv := newStatusServer(t)
	url := srv.URL
	srv.Close()
	store := openStore(t)
	emit(t, store, stateEvent(1, "a"))

	sent, err := NewEmitter(store, NewStatusClient(url, "secret", 10*time.Millisecond), 1).Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Zero(t, store.OutboxLen())
}

func TestEmitterKeepsEventsOnCancel(t *testing.T) {
	srv := newStatusServer(t)
	store := openStore(t)
	emit(t, store, stateEvent(1, "a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEmitter(store, NewStatusClient(srv.URL, "secret", time.Second), 3).Drain(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, store.OutboxLen())
}

func TestEmitterRun(t *testing.T) {
	srv := newStatusServer(t)
	store := openStore(t)
	e := NewEmitter(store, NewStatusClient(srv.URL, "secret", time.Second), 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	emit(t, store, stateEvent(1, "a"))
	require.Eventually(t, func() bool { return len(srv.received()) == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestStatus(t *testing.T) {
	srv := newStatusServer(t)
	c := NewStatusClient(srv.URL+"/", "secret", time.Second)
	ctx := context.Background()

	assert.Equal(t, 16, c.Status(ctx, types.Ref(types.ObjectCluster, 1)))
	assert.Equal(t, StatusDecodeError, c.Status(ctx, types.Ref(types.ObjectHost, 2)))
	assert.Equal(t, StatusNoData, c.Status(ctx, types.Ref(types.ObjectService, 9)))
	assert.Equal(t, StatusOK, c.HostComponentStatus(ctx, 3, 4))

	srv.Close()
	assert.Equal(t, StatusUnreachable, c.Status(ctx, types.Ref(types.ObjectCluster, 1)))
	assert.Equal(t, StatusUnreachable, NewStatusClient("", "", time.Second).Status(ctx, types.Ref(types.ObjectCluster, 1)))
}

func TestBroker(t *testing.T) {
	store := openStore(t)
	b := NewBroker()
	b.Attach(store)
	b.Start()
	defer b.Stop()

	sub := b.Subscribe(nil)
	assert.Equal(t, 1, b.SubscriberCount())
	emit(t, store, stateEvent(1, "up"))

	select {
	case ev := <-sub:
		assert.Equal(t, "up", ev.Object.Details.Value)
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	assert.Zero(t, b.SubscriberCount())
}

func TestBrokerFilter(t *testing.T) {
	store := openStore(t)
	b := NewBroker()
	b.Attach(store)
	b.Start()
	defer b.Stop()

	upgrades := b.Subscribe(Kinds(types.EventUpgrade))
	all := b.Subscribe(nil)
	emit(t, store,
		stateEvent(1, "up"),
		types.NewEvent(types.EventUpgrade, types.Ref(types.ObjectCluster, 1), types.EventDetails{Type: "version", Value: "2.0"}),
	)

	select {
	case ev := <-upgrades:
		assert.Equal(t, types.EventUpgrade, ev.Event)
	case <-time.After(5 * time.Second):
		t.Fatal("no upgrade event received")
	}
	for i := 0; i < 2; i++ {
		select {
		case <-all:
		case <-time.After(5 * time.Second):
			t.Fatal("event missing for unfiltered subscriber")
		}
	}
	assert.Empty(t, upgrades)
}

func TestBrokerStopWithoutStart(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(nil)
	b.Stop()
	b.Stop()

	_, ok := <-sub
	assert.False(t, ok)
	// publishing after stop does not block
	b.Publish(stateEvent(1, "late"))
}

const topologyDef = `
- type: cluster
  name: cl
  version: "1.0"
- type: service
  name: hdfs
  version: "1.0"
  components:
    datanode: {}
    balancer: {monitoring: passive}
- type: service
  name: logs
  version: "1.0"
  monitoring: passive
  components:
    shipper: {}
`

const providerDef = `
- type: provider
  name: prov
  version: "1.0"
- type: host
  name: node
  version: "1.0"
`

type topo struct {
	env *testenv.Env

	cluster, hdfs, datanode, balancer *types.Object
	logs, shipper, host, free         *types.Object
}

func newTopo(t *testing.T) *topo {
	env := testenv.New(t)
	b := env.Load(t, topologyDef, nil)
	tp := &topo{env: env}
	tp.cluster = env.Cluster(t, b.Protos["cl"], "c1")
	tp.hdfs = env.Service(t, tp.cluster, b.Protos["hdfs"])
	tp.datanode = env.Component(t, tp.hdfs, "datanode")
	tp.balancer = env.Component(t, tp.hdfs, "balancer")
	tp.logs = env.Service(t, tp.cluster, b.Protos["logs"])
	tp.shipper = env.Component(t, tp.logs, "shipper")
	pb := env.Load(t, providerDef, nil)
	provider := env.Provider(t, pb.Protos["prov"], "p1")
	tp.host = env.Host(t, pb.Protos["node"], provider, tp.cluster, "h1.example.com")
	tp.free = env.Host(t, pb.Protos["node"], provider, nil, "h2.example.com")
	return tp
}

func (tp *topo) place(t *testing.T) {
	tp.env.Update(t, func(tx *storage.Tx) error {
		_, err := tp.env.Topo.Apply(tx, tp.cluster, []types.HCEntry{
			{HostID: tp.host.ID, ServiceID: tp.hdfs.ID, ComponentID: tp.datanode.ID},
			{HostID: tp.host.ID, ServiceID: tp.hdfs.ID, ComponentID: tp.balancer.ID},
			{HostID: tp.host.ID, ServiceID: tp.logs.ID, ComponentID: tp.shipper.ID},
		})
		return err
	})
}

func TestBuildServiceMap(t *testing.T) {
	tp := newTopo(t)
	tp.place(t)

	var m *ServiceMap
	require.NoError(t, tp.env.Store.View(func(tx *storage.Tx) error {
		var err error
		m, err = BuildServiceMap(tx)
		return err
	}))

	pk := PlacementKey(tp.host.ID, tp.datanode.ID)
	assert.Equal(t, map[string]Placement{pk: {Cluster: tp.cluster.ID, Service: tp.hdfs.ID}}, m.HostService)
	c, s := key(tp.cluster.ID), key(tp.hdfs.ID)
	assert.Equal(t, []string{pk}, m.Component[c][s])
	assert.Equal(t, []int64{tp.datanode.ID}, m.Service[c][s])
	assert.NotContains(t, m.Service[c], key(tp.logs.ID))
	assert.Equal(t, []int64{tp.host.ID}, m.Host[c])
	assert.Equal(t, []int64{tp.free.ID}, m.Host["0"])
}

func TestServiceMapPusher(t *testing.T) {
	srv := newStatusServer(t)
	tp := newTopo(t)
	b := NewBroker()
	b.Attach(tp.env.Store)
	b.Start()
	defer b.Stop()

	p := NewServiceMapPusher(tp.env.Store, NewStatusClient(srv.URL, "secret", time.Second), b, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return len(srv.serviceMaps()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, srv.serviceMaps()[0].HostService)

	tp.place(t)
	require.Eventually(t, func() bool {
		maps := srv.serviceMaps()
		return len(maps) >= 2 && len(maps[len(maps)-1].HostService) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestAffectsServiceMap(t *testing.T) {
	hc := types.NewEvent(types.EventChangeHostComponentMap, types.Ref(types.ObjectCluster, 1), types.EventDetails{})
	created := types.NewEvent(types.EventCreate, types.Ref(types.ObjectHost, 1), types.EventDetails{})
	provider := types.NewEvent(types.EventCreate, types.Ref(types.ObjectProvider, 1), types.EventDetails{})
	assert.True(t, AffectsServiceMap(hc))
	assert.True(t, AffectsServiceMap(created))
	assert.False(t, AffectsServiceMap(provider))
	assert.False(t, AffectsServiceMap(stateEvent(1, "x")))
}
