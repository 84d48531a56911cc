// Пакет ownership — конечный автомат владения и приостановки реестра.
//
// Состояния:
//   - unowned — владелец не назначен (начальное состояние)
//   - active — владелец назначен, запись разрешена
//   - paused — владелец назначен, запись приостановлена
//
// Переходы: unowned → active (set_owner), active ⇄ paused (pause/unpause).
// Терминального состояния нет. Чтение доступно из любого состояния.
//
// Автомат не хранит состояние сам: оно выводится из флагов хранилища
// (owner, paused) внутри транзакции, поэтому решения автомата
// согласованы с тем, что будет закоммичено.
package ownership

import (
	"errors"
	"fmt"
	"time"

	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
)

// State — состояние реестра с точки зрения владения.
type State string

const (
	// StateUnowned — владелец не назначен
	StateUnowned State = "unowned"
	// StateActive — владелец назначен, реестр открыт для записи
	StateActive State = "active"
	// StatePaused — владелец назначен, запись приостановлена
	StatePaused State = "paused"
)

// Operation — операция, проходящая через охрану доступа.
type Operation string

const (
	OpSetOwner        Operation = "set_owner"
	OpPause           Operation = "pause"
	OpUnpause         Operation = "unpause"
	OpUpload          Operation = "upload"
	OpLogVerification Operation = "log_verification"
	OpRead            Operation = "read"
)

// Ошибки охраны доступа.
var (
	// ErrOwnerAlreadySet — владелец уже назначен.
	ErrOwnerAlreadySet = errors.New("владелец уже назначен")
	// ErrUnauthorized — вызывающий не является владельцем.
	ErrUnauthorized = errors.New("операция доступна только владельцу")
	// ErrRegistryPaused — реестр закрыт для записи.
	ErrRegistryPaused = errors.New("реестр приостановлен")
)

// TransitionRecord — запись о смене состояния.
type TransitionRecord struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Subject   string    `json:"subject"`
	Timestamp time.Time `json:"timestamp"`
}

// validTransitions — матрица переходов административных операций.
// Ключ — текущее состояние, значение — целевое состояние для операции.
// Переход в то же состояние — идемпотентная операция без изменений.
var validTransitions = map[State]map[Operation]State{
	StateUnowned: {OpSetOwner: StateActive},
	StateActive:  {OpPause: StatePaused, OpUnpause: StateActive},
	StatePaused:  {OpPause: StatePaused, OpUnpause: StateActive},
}

// allowedOperations — операции с данными, разрешённые в каждом состоянии.
var allowedOperations = map[State]map[Operation]bool{
	StateUnowned: {OpLogVerification: true, OpRead: true},
	StateActive:  {OpUpload: true, OpLogVerification: true, OpRead: true},
	StatePaused:  {OpLogVerification: true, OpRead: true},
}

// ownerOnly — операции, требующие, чтобы вызывающий был владельцем.
var ownerOnly = map[Operation]bool{
	OpPause:   true,
	OpUnpause: true,
}

// StateOf выводит состояние из хранимых флагов.
func StateOf(owner model.Address, paused bool) State {
	switch {
	case owner.IsZero():
		return StateUnowned
	case paused:
		return StatePaused
	default:
		return StateActive
	}
}

// Decision — результат проверки операции.
type Decision struct {
	// From — состояние до операции
	From State
	// To — состояние после операции
	To State
}

// Changed сообщает, меняет ли операция состояние.
func (d Decision) Changed() bool {
	return d.From != d.To
}

// Authorize проверяет операцию op вызывающего caller при текущем
// владельце owner и флаге paused. Возвращает решение с целевым
// состоянием или *TransitionError, оборачивающую одну из ошибок
// ErrOwnerAlreadySet, ErrUnauthorized, ErrRegistryPaused.
func Authorize(owner model.Address, paused bool, op Operation, caller model.Address) (Decision, error) {
	current := StateOf(owner, paused)
	d := Decision{From: current, To: current}

	switch {
	case op == OpSetOwner:
		if current != StateUnowned {
			return d, &TransitionError{
				Code:    "OWNER_ALREADY_SET",
				Message: fmt.Sprintf("владелец %s уже назначен", owner),
				Err:     ErrOwnerAlreadySet,
			}
		}
		if caller.IsZero() {
			return d, &TransitionError{
				Code:    "UNAUTHORIZED",
				Message: "нулевой адрес не может стать владельцем",
				Err:     ErrUnauthorized,
			}
		}
	case ownerOnly[op]:
		if current == StateUnowned || caller != owner {
			return d, &TransitionError{
				Code:    "UNAUTHORIZED",
				Message: fmt.Sprintf("%s: вызывающий %s не является владельцем", op, caller),
				Err:     ErrUnauthorized,
			}
		}
	default:
		if !allowedOperations[current][op] {
			msg := fmt.Sprintf("операция %s недоступна в состоянии %s", op, current)
			if current == StateUnowned {
				msg = fmt.Sprintf("операция %s недоступна: владелец реестра не назначен", op)
			}
			return d, &TransitionError{Code: "REGISTRY_PAUSED", Message: msg, Err: ErrRegistryPaused}
		}
		return d, nil
	}

	target, ok := validTransitions[current][op]
	if !ok {
		return d, &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("переход %s из состояния %s недопустим", op, current),
		}
	}
	d.To = target
	return d, nil
}

// TransitionForEvent восстанавливает переход по типу события журнала.
// Возвращает false для событий, не меняющих состояние владения.
func TransitionForEvent(kind model.EventKind) (from, to State, ok bool) {
	switch kind {
	case model.EventOwnerSet:
		return StateUnowned, StateActive, true
	case model.EventPaused:
		return StateActive, StatePaused, true
	case model.EventUnpaused:
		return StatePaused, StateActive, true
	default:
		return "", "", false
	}
}

// TransitionError — ошибка охраны доступа или перехода.
type TransitionError struct {
	Code    string // Машиночитаемый код (OWNER_ALREADY_SET, UNAUTHORIZED, REGISTRY_PAUSED, INVALID_TRANSITION)
	Message string // Человекочитаемое описание
	Err     error  // Базовая ошибка для errors.Is
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap возвращает базовую ошибку.
func (e *TransitionError) Unwrap() error {
	return e.Err
}
