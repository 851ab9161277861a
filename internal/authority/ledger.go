package authority

import (
	"time"

	"github.com/annel0/npc-authority/internal/entity"
	"github.com/annel0/npc-authority/internal/logging"
)

// Claim заявка на владение: участник и срок
type Claim struct {
	OwnerID string
	Term    uint64
}

// Outcome результат сверки удалённой заявки с локальной
type Outcome uint8

const (
	// OutcomeIgnored удалённая заявка устарела или проиграла тай-брейк
	OutcomeIgnored Outcome = iota
	// OutcomeAdopted удалённая заявка принята
	OutcomeAdopted
	// OutcomeUnchanged заявка совпадает с локальной
	OutcomeUnchanged
)

// String имя исхода (метки метрик)
func (o Outcome) String() string {
	switch o {
	case OutcomeAdopted:
		return "adopted"
	case OutcomeUnchanged:
		return "unchanged"
	default:
		return "ignored"
	}
}

// Reconcile сверяет локальную и удалённую заявки.
// Больший срок побеждает; при равном сроке побеждает меньший идентификатор владельца;
// меньший срок игнорируется. Локальная запись без владельца уступает любой заявке
// со сроком не меньше своего.
func Reconcile(local, remote Claim) (Claim, Outcome) {
	switch {
	case remote.Term > local.Term:
		return remote, OutcomeAdopted
	case remote.Term < local.Term:
		return local, OutcomeIgnored
	case remote.OwnerID == local.OwnerID:
		return local, OutcomeUnchanged
	case local.OwnerID == "":
		return remote, OutcomeAdopted
	case remote.OwnerID != "" && remote.OwnerID < local.OwnerID:
		return remote, OutcomeAdopted
	default:
		return local, OutcomeIgnored
	}
}

// Decision что ядру делать с сущностью в этом тике
type Decision uint8

const (
	// DecisionFollow владеет другой участник: интерполируем
	DecisionFollow Decision = iota
	// DecisionSimulate локальный участник владеет и продолжает симуляцию
	DecisionSimulate
	// DecisionClaimed локальный участник только что заявил владение: нужна немедленная рассылка
	DecisionClaimed
	// DecisionRelinquished локальный владелец молча уступил сущность
	DecisionRelinquished
	// DecisionOrphaned кандидата нет, таймер сироты идёт
	DecisionOrphaned
	// DecisionExpired таймер сироты истёк: сущность уничтожается
	DecisionExpired
)

// String имя решения
func (d Decision) String() string {
	switch d {
	case DecisionSimulate:
		return "simulate"
	case DecisionClaimed:
		return "claimed"
	case DecisionRelinquished:
		return "relinquished"
	case DecisionOrphaned:
		return "orphaned"
	case DecisionExpired:
		return "expired"
	default:
		return "follow"
	}
}

// Ledger ведёт записи владения {OwnerID, Term} сущностей с точки зрения локального участника.
// Все операции локальные и не могут завершиться ошибкой.
type Ledger struct {
	localID  string
	cfg      Config
	resolver *Resolver
	presence Presence
	log      *logging.Logger
}

// NewLedger создаёт журнал владения для участника localID
func NewLedger(localID string, cfg Config, presence Presence) *Ledger {
	if cfg.OrphanTimeout <= 0 {
		cfg.OrphanTimeout = DefaultConfig().OrphanTimeout
	}
	return &Ledger{
		localID:  localID,
		cfg:      cfg,
		resolver: NewResolver(cfg, presence),
		presence: presence,
		log:      logging.GetAuthorityLogger(),
	}
}

// LocalID идентификатор локального участника
func (l *Ledger) LocalID() string {
	return l.localID
}

// Resolver резолвер владельца (используется очередью спавна для проверки «владельца места»)
func (l *Ledger) Resolver() *Resolver {
	return l.resolver
}

// ClaimOf текущая заявка сущности
func ClaimOf(e *entity.Entity) Claim {
	return Claim{OwnerID: e.Ownership.OwnerID, Term: e.Ownership.Term}
}

// Claim делает локального участника владельцем: срок +1, флаг уступки сброшен.
func (l *Ledger) Claim(e *entity.Entity) Claim {
	e.Ownership.Term++
	e.Ownership.OwnerID = l.localID
	e.Ownership.Relinquished = false
	e.OrphanSince = time.Time{}
	return ClaimOf(e)
}

// ApplyRemote сверяет удалённую заявку с локальной записью и принимает её при победе.
// Срок в записи никогда не уменьшается.
func (l *Ledger) ApplyRemote(e *entity.Entity, remote Claim) Outcome {
	merged, outcome := Reconcile(ClaimOf(e), remote)
	if outcome != OutcomeAdopted {
		return outcome
	}
	prevOwner := e.Ownership.OwnerID
	e.Ownership.OwnerID = merged.OwnerID
	e.Ownership.Term = merged.Term
	e.Ownership.Relinquished = false
	if prevOwner != merged.OwnerID {
		l.log.Debug("🔁 %s: владелец %q -> %q (term=%d)", e.ID, prevOwner, merged.OwnerID, merged.Term)
	}
	return outcome
}

// Evaluate перепроверяет владение сущностью в текущем тике.
func (l *Ledger) Evaluate(e *entity.Entity, now time.Time) Decision {
	owner := e.Ownership.OwnerID
	local := e.OwnedBy(l.localID)

	best, ok := l.resolver.Resolve(e.Home)
	if !ok {
		// Владелец жив, но вне нашей области видимости: продолжаем следовать за ним
		if !local && owner != "" && owner != l.localID && l.presence != nil && l.presence.IsActive(owner) {
			e.OrphanSince = time.Time{}
			return DecisionFollow
		}
		if e.OrphanSince.IsZero() {
			e.OrphanSince = now
			l.log.Debug("🕳️ %s: нет кандидата во владельцы, запущен таймер сироты", e.ID)
		}
		if now.Sub(e.OrphanSince) >= l.cfg.OrphanTimeout {
			return DecisionExpired
		}
		return DecisionOrphaned
	}
	e.OrphanSince = time.Time{}

	if best == l.localID {
		if local {
			return DecisionSimulate
		}
		reason := "резолвер"
		if owner != "" && owner != l.localID && l.presence != nil && !l.presence.IsActive(owner) {
			reason = "владелец недоступен"
		}
		claim := l.Claim(e)
		l.log.Debug("👑 %s: заявка на владение term=%d (%s, прежний владелец %q)", e.ID, claim.Term, reason, owner)
		return DecisionClaimed
	}

	if local {
		e.Ownership.Relinquished = true
		l.log.Debug("🤝 %s: уступаем владение участнику %s", e.ID, best)
		return DecisionRelinquished
	}
	return DecisionFollow
}
