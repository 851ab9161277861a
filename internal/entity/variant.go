package entity

import "fmt"

// Variant данные, специфичные для семейства (tagged union поверх общего ядра Entity)
type Variant interface {
	Family() Family
}

// RaiderVariant налётчик из лагеря
type RaiderVariant struct {
	CampID string
}

func (RaiderVariant) Family() Family { return FamilyRaider }

// DefenderVariant ополченец фракционной постройки
type DefenderVariant struct {
	// StructureOwner игрок, которому принадлежит охраняемая постройка
	StructureOwner string
	Militia        bool
}

func (DefenderVariant) Family() Family { return FamilyFactionDefender }

// TowerVariant стрелок на башне; не перемещается, получает бонус высоты
type TowerVariant struct {
	Elevation float64
}

func (TowerVariant) Family() Family { return FamilyTowerDefender }

// CannonCrewVariant расчёт орудия; позиция берётся от буксируемого/установленного орудия
type CannonCrewVariant struct {
	CannonID string
	Mode     CrewMode
}

func (CannonCrewVariant) Family() Family { return FamilyCannonCrew }

// DefaultVariant пустая полезная нагрузка для семейства
func DefaultVariant(f Family) Variant {
	switch f {
	case FamilyFactionDefender:
		return &DefenderVariant{Militia: true}
	case FamilyTowerDefender:
		return &TowerVariant{}
	case FamilyCannonCrew:
		return &CannonCrewVariant{Mode: CrewOnFoot}
	default:
		return &RaiderVariant{}
	}
}

// CrewMode режим расчёта орудия. Заменяет комбинацию флагов mounted/towing/onShip.
type CrewMode uint8

const (
	CrewOnFoot CrewMode = iota
	CrewTowing
	CrewMounted
	CrewShipboard
)

// String имя режима
func (m CrewMode) String() string {
	switch m {
	case CrewOnFoot:
		return "on_foot"
	case CrewTowing:
		return "towing"
	case CrewMounted:
		return "mounted"
	case CrewShipboard:
		return "shipboard"
	default:
		return "unknown"
	}
}

// crewTransitions таблица переходов режима расчёта
var crewTransitions = map[CrewMode][]CrewMode{
	CrewOnFoot:    {CrewTowing, CrewMounted},
	CrewTowing:    {CrewOnFoot},
	CrewMounted:   {CrewOnFoot, CrewShipboard},
	CrewShipboard: {CrewMounted},
}

// CanFire стреляет ли расчёт в этом режиме
func (m CrewMode) CanFire() bool {
	return m == CrewMounted || m == CrewShipboard
}

// FollowsMount привязана ли позиция расчёта к орудию
func (m CrewMode) FollowsMount() bool {
	return m != CrewOnFoot
}

// SetMode переводит расчёт в новый режим с проверкой по таблице
func (v *CannonCrewVariant) SetMode(to CrewMode) error {
	if v.Mode == to {
		return nil
	}
	for _, allowed := range crewTransitions[v.Mode] {
		if allowed == to {
			v.Mode = to
			return nil
		}
	}
	return fmt.Errorf("%w: расчёт %s %s -> %s", ErrInvalidTransition, v.CannonID, v.Mode, to)
}

// CrewOf возвращает данные расчёта, если сущность: расчёт орудия
func (e *Entity) CrewOf() (*CannonCrewVariant, bool) {
	v, ok := e.Variant.(*CannonCrewVariant)
	return v, ok
}

// TowerOf возвращает данные башни, если сущность: башенный стрелок
func (e *Entity) TowerOf() (*TowerVariant, bool) {
	v, ok := e.Variant.(*TowerVariant)
	return v, ok
}

// DefenderOf возвращает данные ополченца
func (e *Entity) DefenderOf() (*DefenderVariant, bool) {
	v, ok := e.Variant.(*DefenderVariant)
	return v, ok
}
