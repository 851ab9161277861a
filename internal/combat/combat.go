// Package combat детерминированное разрешение стрельбы NPC.
//
// Попадание не случайно на каждом пире: оно вычисляется из (entityID, shotCount),
// поэтому владелец и все получатели события выстрела получают одинаковый результат.
package combat

import (
	"math"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/annel0/npc-authority/internal/entity"
	"github.com/annel0/npc-authority/internal/vec"
)

// Profile боевые параметры семейства
type Profile struct {
	// FirstShotDelay задержка после захвата цели до первого выстрела
	FirstShotDelay time.Duration `yaml:"first_shot_delay"`
	// ShotInterval минимальный интервал между выстрелами
	ShotInterval time.Duration `yaml:"shot_interval"`
	// Range базовая дальность на ровной местности
	Range float64 `yaml:"range"`
	// HeightRangeFactor изменение дальности на единицу превышения над целью
	HeightRangeFactor float64 `yaml:"height_range_factor"`
	// MaxHeightBonus предел прибавки дальности за высоту
	MaxHeightBonus float64 `yaml:"max_height_bonus"`
	// HitChance вероятность попадания 0..1
	HitChance float64 `yaml:"hit_chance"`
	Damage    float64 `yaml:"damage"`
}

// Config боевые профили по семействам
type Config struct {
	Raider   Profile `yaml:"raider"`
	Defender Profile `yaml:"faction_defender"`
	Tower    Profile `yaml:"tower_defender"`
	Cannon   Profile `yaml:"cannon_crew"`
	// KillAckTimeout сколько ждать killAck от убитого игрока
	KillAckTimeout time.Duration `yaml:"kill_ack_timeout"`
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		Raider: Profile{
			FirstShotDelay:    1500 * time.Millisecond,
			ShotInterval:      2 * time.Second,
			Range:             40,
			HeightRangeFactor: 0.5,
			MaxHeightBonus:    15,
			HitChance:         0.35,
			Damage:            12,
		},
		Defender: Profile{
			FirstShotDelay:    time.Second,
			ShotInterval:      1800 * time.Millisecond,
			Range:             45,
			HeightRangeFactor: 0.5,
			MaxHeightBonus:    15,
			HitChance:         0.4,
			Damage:            12,
		},
		Tower: Profile{
			FirstShotDelay:    time.Second,
			ShotInterval:      2500 * time.Millisecond,
			Range:             60,
			HeightRangeFactor: 1,
			MaxHeightBonus:    40,
			HitChance:         0.45,
			Damage:            15,
		},
		Cannon: Profile{
			FirstShotDelay:    3 * time.Second,
			ShotInterval:      8 * time.Second,
			Range:             120,
			HeightRangeFactor: 1,
			MaxHeightBonus:    60,
			HitChance:         0.25,
			Damage:            60,
		},
		KillAckTimeout: 10 * time.Second,
	}
}

// For профиль семейства
func (c Config) For(f entity.Family) Profile {
	switch f {
	case entity.FamilyFactionDefender:
		return c.Defender
	case entity.FamilyTowerDefender:
		return c.Tower
	case entity.FamilyCannonCrew:
		return c.Cannon
	default:
		return c.Raider
	}
}

const golden = 0x9E3779B97F4A7C15

// mix64 финализатор splitmix64
func mix64(x uint64) uint64 {
	x += golden
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}

// HitRoll детерминированное число из [0,1) для выстрела номер shot сущности id
func HitRoll(id entity.ID, shot uint32) float64 {
	h := xxhash.Sum64String(string(id))
	v := mix64(h ^ (uint64(shot) * golden))
	return float64(v>>11) / (1 << 53)
}

// Hits попал ли выстрел
func Hits(id entity.ID, shot uint32, chance float64) bool {
	return HitRoll(id, shot) < chance
}

// EffectiveRange дальность с учётом превышения стрелка над целью.
// Стрельба снизу вверх сокращает дальность, но не меньше чем вдвое.
func EffectiveRange(p Profile, shooterHeight, targetHeight float64) float64 {
	adv := shooterHeight - targetHeight
	if adv >= 0 {
		return p.Range + math.Min(adv*p.HeightRangeFactor, p.MaxHeightBonus)
	}
	return math.Max(p.Range+adv*p.HeightRangeFactor, p.Range/2)
}

// Gate какое условие не даёт выстрелить
type Gate uint8

const (
	GateOpen Gate = iota
	GateAcquireDelay
	GateInterval
	GateRange
)

// String имя условия
func (g Gate) String() string {
	switch g {
	case GateOpen:
		return "open"
	case GateAcquireDelay:
		return "acquire_delay"
	case GateInterval:
		return "interval"
	case GateRange:
		return "range"
	default:
		return "unknown"
	}
}

// Check проверяет три независимых условия стрельбы по цели
func (p Profile) Check(e *entity.Entity, targetPos vec.Vec2Float, targetHeight float64, now time.Time) Gate {
	if e.Combat.TargetAcquiredAt.IsZero() || now.Sub(e.Combat.TargetAcquiredAt) < p.FirstShotDelay {
		return GateAcquireDelay
	}
	if !e.Combat.LastShotTime.IsZero() && now.Sub(e.Combat.LastShotTime) < p.ShotInterval {
		return GateInterval
	}
	r := EffectiveRange(p, e.Height, targetHeight)
	if e.Position.DistanceSqTo(targetPos) > r*r {
		return GateRange
	}
	return GateOpen
}

// Shot результат выстрела
type Shot struct {
	EntityID   entity.ID
	TargetID   string
	TargetType string
	ShotCount  uint32
	Hit        bool
	Damage     float64
}

// Fire производит выстрел: увеличивает счётчик и вычисляет попадание
func Fire(e *entity.Entity, p Profile, now time.Time) Shot {
	e.Combat.ShotCount++
	e.Combat.LastShotTime = now
	shot := Shot{
		EntityID:   e.ID,
		TargetID:   e.Target,
		TargetType: e.TargetType,
		ShotCount:  e.Combat.ShotCount,
		Hit:        Hits(e.ID, e.Combat.ShotCount, p.HitChance),
	}
	if shot.Hit {
		shot.Damage = p.Damage
	}
	return shot
}

// ApplyDamage снимает здоровье; true если этот удар убил сущность
func ApplyDamage(e *entity.Entity, amount float64) bool {
	if e.IsDead() || amount <= 0 || e.Health <= 0 {
		return false
	}
	e.Health -= amount
	return e.Health <= 0
}

// RecordKill отмечает игрока убитым этой сущностью до подтверждения
func RecordKill(e *entity.Entity, playerID string, now time.Time) {
	if e.Combat.PendingKills == nil {
		e.Combat.PendingKills = make(map[string]time.Time)
	}
	if _, exists := e.Combat.PendingKills[playerID]; !exists {
		e.Combat.PendingKills[playerID] = now
	}
}

// AckKill снимает ожидание подтверждения. false если записи не было.
func AckKill(e *entity.Entity, playerID string) bool {
	if _, ok := e.Combat.PendingKills[playerID]; !ok {
		return false
	}
	delete(e.Combat.PendingKills, playerID)
	return true
}

// ExpireKills удаляет неподтверждённые убийства старше timeout и возвращает их
func ExpireKills(e *entity.Entity, now time.Time, timeout time.Duration, dst []string) []string {
	dst = dst[:0]
	for id, at := range e.Combat.PendingKills {
		if now.Sub(at) >= timeout {
			dst = append(dst, id)
		}
	}
	for _, id := range dst {
		delete(e.Combat.PendingKills, id)
	}
	sort.Strings(dst)
	return dst
}

// PendingKillIDs игроки с неподтверждённой смертью в отсортированном порядке
func PendingKillIDs(e *entity.Entity, dst []string) []string {
	dst = dst[:0]
	for id := range e.Combat.PendingKills {
		dst = append(dst, id)
	}
	sort.Strings(dst)
	return dst
}
