package replication

import (
	"sort"
	"time"

	"github.com/sha1d/pixel-sahur/internal/protocol"
	"github.com/sha1d/pixel-sahur/internal/vec"
)

// sample — точка траектории чужой сущности: тик сервера, момент прихода
// и состояние трансформа
type sample struct {
	tick  uint32
	at    time.Time
	pos   vec.Vec2
	vel   vec.Vec2
	rot   float64
	scale float64
}

// sampleCap ограничивает буфер образцов; при задержке интерполяции в
// сотню миллисекунд хватает пары десятков
const sampleCap = 32

// remoteEntity — чужая сущность на клиенте: буфер образцов траектории
// для интерполяции. Прочие компоненты живут в реплике клиента.
type remoteEntity struct {
	ref     protocol.EntityRef
	samples []sample
}

// observe кладет трансформ записи снимка в буфер образцов
func (r *remoteEntity) observe(e *protocol.EntityState, tick uint32, at time.Time) {
	if !e.Mask.Has(protocol.FieldTransform) {
		return
	}
	r.push(sample{
		tick:  tick,
		at:    at,
		pos:   vec.Vec2{X: float64(e.Transform.PosX), Y: float64(e.Transform.PosY)},
		vel:   vec.Vec2{X: float64(e.Transform.VelX), Y: float64(e.Transform.VelY)},
		rot:   float64(e.Transform.Rot),
		scale: float64(e.Transform.Scale),
	})
}

// push кладет образец, отбрасывая устаревшие и переполнение
func (r *remoteEntity) push(s sample) {
	if n := len(r.samples); n > 0 && s.tick <= r.samples[n-1].tick {
		return
	}
	r.samples = append(r.samples, s)
	if len(r.samples) > sampleCap {
		r.samples = r.samples[len(r.samples)-sampleCap:]
	}
}

// stateAt возвращает состояние на момент t: линейная интерполяция между
// образцами вокруг t, за краями буфера — ближайший образец. Экстраполяции
// нет: при нехватке данных сущность замирает в последней известной точке.
func (r *remoteEntity) stateAt(t time.Time) (sample, bool) {
	n := len(r.samples)
	if n == 0 {
		return sample{}, false
	}
	if !t.After(r.samples[0].at) {
		return r.samples[0], true
	}
	if !t.Before(r.samples[n-1].at) {
		return r.samples[n-1], true
	}

	i := sort.Search(n, func(k int) bool { return r.samples[k].at.After(t) })
	a, b := r.samples[i-1], r.samples[i]
	span := b.at.Sub(a.at)
	if span <= 0 {
		return b, true
	}
	alpha := float64(t.Sub(a.at)) / float64(span)
	return sample{
		tick:  b.tick,
		at:    t,
		pos:   a.pos.Lerp(b.pos, alpha),
		vel:   a.vel.Lerp(b.vel, alpha),
		rot:   a.rot + (b.rot-a.rot)*alpha,
		scale: a.scale + (b.scale-a.scale)*alpha,
	}, true
}
