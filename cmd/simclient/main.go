// Утилита simclient — консольный бот для ручной и нагрузочной проверки
// сервера. Подключается по KCP, входит в мир и блуждает по арене,
// периодически печатая статистику предсказания и реконсиляции.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sha1d/pixel-sahur/internal/character"
	"github.com/sha1d/pixel-sahur/internal/replication"
	"github.com/sha1d/pixel-sahur/internal/transport"
	"github.com/sha1d/pixel-sahur/internal/vec"
)

func main() {
	var (
		addr     = flag.String("addr", "localhost:7777", "адрес KCP-сервера")
		name     = flag.String("name", "", "имя бота (пусто — случайное)")
		token    = flag.String("token", "", "JWT-токен (пусто — гостевой вход)")
		duration = flag.Duration("duration", 0, "длительность прогона (0 — до Ctrl+C)")
		seed     = flag.Int64("seed", 0, "зерно блуждания (0 — от текущего времени)")
		stats    = flag.Duration("stats", 5*time.Second, "период вывода статистики")
	)
	flag.Parse()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))
	if *name == "" {
		*name = fmt.Sprintf("bot-%04d", rng.Intn(10000))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n📡 Получен сигнал, отключаемся...")
		cancel()
	}()

	fmt.Printf("🔗 Подключение к %s...\n", *addr)
	ch, err := transport.DialKCP(*addr, transport.DefaultConfig())
	if err != nil {
		log.Fatalf("❌ Не удалось подключиться: %v", err)
	}

	client := replication.NewClient(ch, replication.DefaultClientOptions())
	defer client.Close()

	joinCtx, joinCancel := context.WithTimeout(ctx, 10*time.Second)
	welcome, err := client.Join(joinCtx, *token, *name)
	joinCancel()
	if err != nil {
		log.Fatalf("❌ Вход не удался: %v", err)
	}

	fmt.Printf("✅ Вошли как %q: client=%d, entity=%d/%d, тикрейт=%d Гц\n",
		*name, welcome.ClientID, welcome.Entity.Index, welcome.Entity.Gen, welcome.TickRate)
	fmt.Printf("🗺️  Мир: [%.0f;%.0f] .. [%.0f;%.0f], зерно блуждания %d\n",
		welcome.BoundsMinX, welcome.BoundsMinY, welcome.BoundsMaxX, welcome.BoundsMaxY, *seed)

	wander(ctx, client, rng, welcome.TickRate, *stats)

	fmt.Printf("📊 Итог: тик сервера=%d, реконсиляций=%d, RTT=%v\n",
		client.ServerTick(), client.Reconciles(), client.RTT())
	fmt.Println("👋 Бот остановлен")
}

// wander крутит цикл бота с клиентской частотой тиков: каждый тик
// опрашивает транспорт, предсказывает ввод и отправляет его на сервер.
func wander(ctx context.Context, client *replication.Client, rng *rand.Rand, tickRate uint16, statsEvery time.Duration) {
	if tickRate == 0 {
		tickRate = 60
	}
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()
	pingTicker := time.NewTicker(2 * time.Second)
	defer pingTicker.Stop()
	statsTicker := time.NewTicker(statsEvery)
	defer statsTicker.Stop()

	move := randomDirection(rng)
	retarget := 0 // тиков до смены направления

	for {
		select {
		case <-ctx.Done():
			return

		case <-pingTicker.C:
			if err := client.SendPing(); err != nil {
				fmt.Printf("⚠️  Пинг не отправлен: %v\n", err)
			}

		case <-statsTicker.C:
			tr := client.OwnTransform()
			fmt.Printf("⏱️  тик=%d, поз=(%.1f; %.1f), rtt=%v, реконсиляций=%d, состояние=%v\n",
				client.ServerTick(), tr.Pos.X, tr.Pos.Y,
				client.RTT(), client.Reconciles(), client.OwnStatus().State)

		case <-ticker.C:
			if err := client.Poll(); err != nil {
				fmt.Printf("❌ Потеряна связь с сервером: %v\n", err)
				return
			}
			if retarget <= 0 {
				move = randomDirection(rng)
				retarget = 30 + rng.Intn(90)
			}
			retarget--
			client.PredictInput(move, randomAction(rng))
			if err := client.FlushInput(); err != nil {
				fmt.Printf("❌ Ввод не отправлен: %v\n", err)
				return
			}
		}
	}
}

// randomDirection выбирает новое направление блуждания; иногда бот стоит на месте.
func randomDirection(rng *rand.Rand) vec.Vec2 {
	if rng.Intn(5) == 0 {
		return vec.Vec2{}
	}
	a := rng.Float64() * 2 * math.Pi
	return vec.Vec2{X: math.Cos(a), Y: math.Sin(a)}
}

// randomAction изредка вбрасывает разовое действие, чтобы бот гонял
// персонажа по всем состояниям, а не только ходил.
func randomAction(rng *rand.Rand) character.Action {
	switch rng.Intn(240) {
	case 0:
		return character.ActionAttack
	case 1:
		return character.ActionDash
	case 2:
		return character.ActionJump
	default:
		return 0
	}
}
