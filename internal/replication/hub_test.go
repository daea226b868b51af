package replication

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sha1d/pixel-sahur/internal/auth"
	"github.com/sha1d/pixel-sahur/internal/character"
	"github.com/sha1d/pixel-sahur/internal/eventbus"
	"github.com/sha1d/pixel-sahur/internal/game"
	"github.com/sha1d/pixel-sahur/internal/metrics"
	"github.com/sha1d/pixel-sahur/internal/physics"
	"github.com/sha1d/pixel-sahur/internal/presence"
	"github.com/sha1d/pixel-sahur/internal/protocol"
	"github.com/sha1d/pixel-sahur/internal/transport"
	"github.com/sha1d/pixel-sahur/internal/vec"
)

// hubFixture — мир, хаб и транспорт в памяти. Тики двигаются вручную,
// поэтому обмен клиента с сервером полностью детерминирован.
type hubFixture struct {
	t      *testing.T
	world  *game.World
	server *transport.MemoryServer
	bus    eventbus.Bus
	hub    *Hub
	dt     float64
	tick   uint32
}

func newHubFixture(t *testing.T, opts HubOptions) *hubFixture {
	t.Helper()

	gameOpts := game.DefaultOptions()
	gameOpts.Bounds = physics.NewRect(-32, -32, 32, 32)
	world := game.NewWorld(gameOpts)

	server := transport.NewMemoryServer(nil)
	repo, err := auth.NewMemoryUserRepo()
	require.NoError(t, err)
	authenticator := auth.NewGameAuthenticator(repo, true)
	bus := eventbus.NewMemoryBus(64)

	hub := NewHub(world, server, authenticator,
		presence.NewMemoryRegistry(), bus,
		metrics.NewSimMetrics(prometheus.NewRegistry()), opts)

	require.NoError(t, server.Start())
	t.Cleanup(func() {
		_ = server.Stop()
		_ = bus.Close()
	})

	return &hubFixture{
		t: t, world: world, server: server, bus: bus, hub: hub,
		dt: (time.Second / time.Duration(opts.TickRate)).Seconds(),
	}
}

func (f *hubFixture) step() {
	f.tick++
	f.hub.Tick(f.tick, f.dt)
}

// waitInbox ждет, пока транспортные горутины доложат кадры в очередь хаба
func (f *hubFixture) waitInbox(n int) {
	f.t.Helper()
	require.Eventually(f.t, func() bool {
		f.hub.mu.Lock()
		defer f.hub.mu.Unlock()
		return len(f.hub.inbox) >= n
	}, 2*time.Second, time.Millisecond)
}

// join подключает клиента: один тик обрабатывает Hello и отвечает одним
// кадром Welcome + полный снимок
func (f *hubFixture) join(name string) (*Client, transport.Channel) {
	f.t.Helper()
	ch, err := f.server.Dial()
	require.NoError(f.t, err)
	client := NewClient(ch, DefaultClientOptions())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := client.Join(ctx, "", name)
		done <- err
	}()

	f.waitInbox(1)
	f.step()

	select {
	case err := <-done:
		require.NoError(f.t, err)
	case <-time.After(2 * time.Second):
		f.t.Fatal("рукопожатие не завершилось")
	}
	return client, ch
}

// exchange — один шаг замкнутого цикла: предсказание, отправка, тик
// сервера, прием и применение снимка
func (f *hubFixture) exchange(c *Client, ch transport.Channel, move vec.Vec2) {
	f.t.Helper()
	c.PredictInput(move, 0)
	require.NoError(f.t, c.FlushInput())
	f.waitInbox(1)
	f.step()
	require.NoError(f.t, c.HandleFrame(recvFrame(f.t, ch)))
}

func recvFrame(t *testing.T, ch transport.Channel) []byte {
	t.Helper()
	select {
	case data, ok := <-ch.Receive():
		require.True(t, ok, "канал закрыт")
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("кадр от сервера не пришел")
		return nil
	}
}

func splitFrame(t *testing.T, frame []byte) [][]byte {
	t.Helper()
	msgs, err := protocol.SplitFrame(frame)
	require.NoError(t, err)
	return msgs
}

func decodeSoloSnapshot(t *testing.T, frame []byte) *protocol.Snapshot {
	t.Helper()
	msgs := splitFrame(t, frame)
	require.Len(t, msgs, 1)
	s, err := protocol.DecodeSnapshot(msgs[0])
	require.NoError(t, err)
	return s
}

func TestJoinDeliversWorldState(t *testing.T) {
	f := newHubFixture(t, DefaultHubOptions())
	client, _ := f.join("bot")

	assert.True(t, client.Joined())
	assert.Equal(t, uint32(1), client.ClientID())
	assert.True(t, client.hasOwn)
	assert.Equal(t, f.world.Tick(), client.ServerTick())
	assert.Equal(t, 1, f.hub.Stats().Clients)

	// Сущность клиента жива на сервере и спавнится в центре арены
	require.True(t, f.world.Store().IsAlive(idOf(client.Entity())))
	center := f.world.Bounds().Center()
	assert.InDelta(t, center.X, client.OwnTransform().Pos.X, 1e-5)
	assert.InDelta(t, center.Y, client.OwnTransform().Pos.Y, 1e-5)
}

func TestPredictionStaysAuthoritative(t *testing.T) {
	f := newHubFixture(t, DefaultHubOptions())
	client, ch := f.join("runner")

	for i := 0; i < 60; i++ {
		f.exchange(client, ch, vec.Vec2{X: 1})
	}

	// Предсказание шло тем же кодом движения: ни одной коррекции
	assert.Zero(t, client.Reconciles())

	serverTr, ok := f.world.Store().Transform(idOf(client.Entity()))
	require.True(t, ok)
	assert.Greater(t, serverTr.Pos.X, 0.0)
	assert.InDelta(t, serverTr.Pos.X, client.OwnTransform().Pos.X, 1e-9)
	assert.InDelta(t, serverTr.Pos.Y, client.OwnTransform().Pos.Y, 1e-9)
}

func TestServerAppliesOneCommandPerTick(t *testing.T) {
	f := newHubFixture(t, DefaultHubOptions())
	client, _ := f.join("burst")
	client.opts.InputRedundancy = protocol.MaxCommandsPerBatch

	for i := 0; i < 5; i++ {
		client.PredictInput(vec.Vec2{X: 1}, 0)
	}
	require.NoError(t, client.FlushInput())
	f.waitInbox(1)

	entity := idOf(client.Entity())
	step := character.DefaultTuning().MoveSpeed * f.dt

	f.step()
	tr, ok := f.world.Store().Transform(entity)
	require.True(t, ok)
	assert.InDelta(t, step, tr.Pos.X, 1e-9, "за тик применяется одна команда")

	// Повторная доставка той же пачки не дублирует ввод
	require.NoError(t, client.FlushInput())
	f.waitInbox(1)
	for i := 0; i < 4; i++ {
		f.step()
	}
	tr, _ = f.world.Store().Transform(entity)
	assert.InDelta(t, 5*step, tr.Pos.X, 1e-9)

	// Без свежих команд направление движения сохраняется
	f.step()
	f.step()
	tr, _ = f.world.Store().Transform(entity)
	assert.InDelta(t, 7*step, tr.Pos.X, 1e-9)
}

func TestQueueInputsDedupesAndCaps(t *testing.T) {
	opts := DefaultHubOptions()
	opts.MaxPendingInputs = 4
	f := newHubFixture(t, opts)

	sess := &session{joined: true}
	batch := &protocol.InputBatch{AckTick: 9, Commands: []protocol.InputCommand{
		{Seq: 3}, {Seq: 1}, {Seq: 2},
	}}
	f.hub.queueInputs(sess, batch)
	require.Len(t, sess.pending, 3)
	assert.Equal(t, uint32(1), sess.pending[0].Seq)
	assert.Equal(t, uint32(3), sess.pending[2].Seq)
	assert.Equal(t, uint32(9), sess.ackTick)

	// Повтор пачки — дубликаты отбрасываются, ack не откатывается
	f.hub.queueInputs(sess, &protocol.InputBatch{AckTick: 5, Commands: batch.Commands})
	assert.Len(t, sess.pending, 3)
	assert.Equal(t, uint32(9), sess.ackTick)

	// Уже примененные номера не возвращаются в очередь
	sess.pending = nil
	sess.lastInputSeq = 2
	f.hub.queueInputs(sess, batch)
	require.Len(t, sess.pending, 1)
	assert.Equal(t, uint32(3), sess.pending[0].Seq)

	// Переполнение очереди вытесняет старые команды
	sess.pending = nil
	sess.lastInputSeq = 0
	var burst []protocol.InputCommand
	for seq := uint32(1); seq <= 8; seq++ {
		burst = append(burst, protocol.InputCommand{Seq: seq})
	}
	f.hub.queueInputs(sess, &protocol.InputBatch{Commands: burst})
	require.Len(t, sess.pending, 4)
	assert.Equal(t, uint32(5), sess.pending[0].Seq)
	assert.Equal(t, uint32(8), sess.pending[3].Seq)
}

func TestMalformedFramesKickClient(t *testing.T) {
	opts := DefaultHubOptions()
	opts.MalformedLimit = 2
	f := newHubFixture(t, opts)

	ch, err := f.server.Dial()
	require.NoError(t, err)

	junk := protocol.AppendFrame(nil, []byte{0x7F})
	require.NoError(t, ch.Send(junk, nil))
	f.waitInbox(1)
	f.step()
	assert.Equal(t, 1, f.server.ClientCount(), "первый дефект — еще предупреждение")

	require.NoError(t, ch.Send(junk, nil))
	f.waitInbox(1)
	f.step()
	require.Eventually(t, func() bool { return f.server.ClientCount() == 0 },
		2*time.Second, time.Millisecond, "после лимита соединение рвется")
}

func TestSilentClientDroppedAfterGrace(t *testing.T) {
	opts := DefaultHubOptions()
	opts.Grace = 20 * time.Millisecond
	f := newHubFixture(t, opts)

	client, _ := f.join("afk")
	entity := idOf(client.Entity())
	require.True(t, f.world.Store().IsAlive(entity))

	time.Sleep(2 * opts.Grace)
	f.step()

	assert.Equal(t, 0, f.hub.Stats().Clients)
	assert.False(t, f.world.Store().IsAlive(entity))
}

func TestSnapshotCadence(t *testing.T) {
	opts := DefaultHubOptions()
	opts.FullSnapshotEvery = 3
	f := newHubFixture(t, opts)

	ch, err := f.server.Dial()
	require.NoError(t, err)
	hello := protocol.AppendFrame(nil, protocol.EncodeHello(&protocol.Hello{Name: "raw"}))
	require.NoError(t, ch.Send(hello, nil))
	f.waitInbox(1)
	f.step()

	msgs := splitFrame(t, recvFrame(t, ch))
	require.Len(t, msgs, 2, "Welcome и снимок приходят одним кадром")
	welcome, err := protocol.DecodeWelcome(msgs[0])
	require.NoError(t, err)
	first, err := protocol.DecodeSnapshot(msgs[1])
	require.NoError(t, err)
	require.True(t, first.IsFull(), "до подтверждения — только полные снимки")

	// После подтверждения базы сервер переходит на дельты
	ack := protocol.AppendFrame(nil, protocol.EncodeInputBatch(&protocol.InputBatch{AckTick: first.Tick}))
	require.NoError(t, ch.Send(ack, nil))
	f.waitInbox(1)
	f.step()
	second := decodeSoloSnapshot(t, recvFrame(t, ch))
	require.False(t, second.IsFull())
	assert.Equal(t, first.Tick, second.BaseTick)

	// Собственная сущность присутствует в каждой дельте
	found := false
	for _, e := range second.Entries {
		if e.Ref == welcome.Entity {
			found = true
			assert.True(t, e.Mask.Has(protocol.FieldTransform))
			assert.True(t, e.Mask.Has(protocol.FieldCharacter))
		}
	}
	assert.True(t, found)

	f.step()
	third := decodeSoloSnapshot(t, recvFrame(t, ch))
	assert.False(t, third.IsFull())

	// Каждый N-й снимок принудительно полный
	f.step()
	fourth := decodeSoloSnapshot(t, recvFrame(t, ch))
	assert.True(t, fourth.IsFull())
}

func TestRepeatedHelloIgnored(t *testing.T) {
	f := newHubFixture(t, DefaultHubOptions())

	ch, err := f.server.Dial()
	require.NoError(t, err)
	hello := protocol.AppendFrame(nil, protocol.EncodeHello(&protocol.Hello{Name: "dup"}))
	require.NoError(t, ch.Send(hello, nil))
	require.NoError(t, ch.Send(hello, nil))
	f.waitInbox(2)
	f.step()

	assert.Equal(t, 1, f.hub.Stats().Clients)
	assert.Equal(t, 1, f.world.Store().Alive())
}

func TestDisconnectPropagatesRemoval(t *testing.T) {
	f := newHubFixture(t, DefaultHubOptions())
	alice, chA := f.join("alice")
	bob, chB := f.join("bob")

	// Алиса догоняет тик подключения боба: в мире двое
	require.NoError(t, alice.HandleFrame(recvFrame(t, chA)))
	require.Len(t, alice.remotes, 1)
	require.Contains(t, alice.remotes, packRef(bob.Entity()))

	// Подтверждаем базу, чтобы следующий снимок был дельтой с Removed
	require.NoError(t, alice.FlushInput())
	require.NoError(t, chB.Close())
	f.waitInbox(2)
	f.step()

	require.NoError(t, alice.HandleFrame(recvFrame(t, chA)))
	assert.Empty(t, alice.remotes)
	assert.Equal(t, 1, f.hub.Stats().Clients)
	assert.Equal(t, 1, f.world.Store().Alive())
}

func TestRemoteEntityTracksServer(t *testing.T) {
	f := newHubFixture(t, DefaultHubOptions())
	alice, chA := f.join("alice")
	bob, chB := f.join("bob")
	require.NoError(t, alice.HandleFrame(recvFrame(t, chA)))

	for i := 0; i < 10; i++ {
		bob.PredictInput(vec.Vec2{Y: 1}, 0)
		require.NoError(t, bob.FlushInput())
		f.waitInbox(1)
		f.step()
		require.NoError(t, bob.HandleFrame(recvFrame(t, chB)))
		require.NoError(t, alice.HandleFrame(recvFrame(t, chA)))
	}
	require.Zero(t, bob.Reconciles())

	remote := alice.remotes[packRef(bob.Entity())]
	require.NotNil(t, remote)
	require.NotEmpty(t, remote.samples)

	serverTr, ok := f.world.Store().Transform(idOf(bob.Entity()))
	require.True(t, ok)
	last := remote.samples[len(remote.samples)-1]
	assert.InDelta(t, serverTr.Pos.Y, last.pos.Y, 1e-4)
}

func TestPingAnswersPong(t *testing.T) {
	f := newHubFixture(t, DefaultHubOptions())
	client, ch := f.join("ping")

	require.NoError(t, client.SendPing())
	f.waitInbox(1)
	f.step()
	require.NoError(t, client.HandleFrame(recvFrame(t, ch)))

	assert.Greater(t, client.RTT(), time.Duration(0))
}

func TestHandleOverrunPublishes(t *testing.T) {
	f := newHubFixture(t, DefaultHubOptions())

	events := make(chan *eventbus.Envelope, 1)
	_, err := f.bus.Subscribe(context.Background(),
		eventbus.Filter{Types: []string{eventbus.EventTickOverrun}},
		func(_ context.Context, ev *eventbus.Envelope) { events <- ev })
	require.NoError(t, err)

	f.hub.HandleOverrun(7, 3*time.Millisecond)

	select {
	case ev := <-events:
		var p eventbus.OverrunPayload
		require.NoError(t, json.Unmarshal(ev.Payload, &p))
		assert.Equal(t, uint32(7), p.Tick)
		assert.Equal(t, int64(3000), p.ElapsedUS)
	case <-time.After(2 * time.Second):
		t.Fatal("событие отставания не опубликовано")
	}
}
