package ownership

import (
	"errors"
	"testing"

	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
)

var (
	owner    = model.Address{19: 1}
	stranger = model.Address{19: 2}
	zero     = model.Address{}
)

// TestStateOf проверяет вывод состояния из флагов хранилища.
func TestStateOf(t *testing.T) {
	tests := []struct {
		owner  model.Address
		paused bool
		want   State
	}{
		{zero, false, StateUnowned},
		{zero, true, StateUnowned},
		{owner, false, StateActive},
		{owner, true, StatePaused},
	}

	for _, tt := range tests {
		if got := StateOf(tt.owner, tt.paused); got != tt.want {
			t.Errorf("StateOf(%s, %v) = %s, ожидается %s", tt.owner, tt.paused, got, tt.want)
		}
	}
}

// TestAuthorize_SetOwner проверяет, что владелец назначается ровно один раз.
func TestAuthorize_SetOwner(t *testing.T) {
	d, err := Authorize(zero, false, OpSetOwner, owner)
	if err != nil {
		t.Fatalf("set_owner из unowned: неожиданная ошибка: %v", err)
	}
	if d.From != StateUnowned || d.To != StateActive || !d.Changed() {
		t.Errorf("решение = %+v, ожидается unowned → active", d)
	}

	// Повторно — от любого вызывающего, включая самого владельца
	for _, caller := range []model.Address{owner, stranger} {
		_, err := Authorize(owner, false, OpSetOwner, caller)
		if !errors.Is(err, ErrOwnerAlreadySet) {
			t.Errorf("повторный set_owner от %s: ожидалась ErrOwnerAlreadySet, получено %v", caller, err)
		}
	}

	// Нулевой адрес не может стать владельцем
	_, err = Authorize(zero, false, OpSetOwner, zero)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("set_owner нулевым адресом: ожидалась ErrUnauthorized, получено %v", err)
	}
}

// TestAuthorize_PauseUnpause проверяет матрицу pause/unpause.
func TestAuthorize_PauseUnpause(t *testing.T) {
	tests := []struct {
		name    string
		owner   model.Address
		paused  bool
		op      Operation
		caller  model.Address
		wantTo  State
		changed bool
		wantErr error
	}{
		{"pause владельцем", owner, false, OpPause, owner, StatePaused, true, nil},
		{"pause повторно — no-op", owner, true, OpPause, owner, StatePaused, false, nil},
		{"unpause владельцем", owner, true, OpUnpause, owner, StateActive, true, nil},
		{"unpause без паузы — no-op", owner, false, OpUnpause, owner, StateActive, false, nil},
		{"pause чужим", owner, false, OpPause, stranger, StateActive, false, ErrUnauthorized},
		{"unpause чужим", owner, true, OpUnpause, stranger, StatePaused, false, ErrUnauthorized},
		{"pause без владельца", zero, false, OpPause, stranger, StateUnowned, false, ErrUnauthorized},
		{"pause нулевым адресом без владельца", zero, false, OpPause, zero, StateUnowned, false, ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Authorize(tt.owner, tt.paused, tt.op, tt.caller)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ожидалась %v, получено %v", tt.wantErr, err)
				}
				var te *TransitionError
				if !errors.As(err, &te) {
					t.Fatalf("ошибка должна быть *TransitionError, получено %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if d.To != tt.wantTo {
				t.Errorf("To = %s, ожидается %s", d.To, tt.wantTo)
			}
			if d.Changed() != tt.changed {
				t.Errorf("Changed() = %v, ожидается %v", d.Changed(), tt.changed)
			}
		})
	}
}

// TestAuthorize_DataOperations проверяет матрицу операций с данными.
func TestAuthorize_DataOperations(t *testing.T) {
	tests := []struct {
		name   string
		owner  model.Address
		paused bool
		op     Operation
		ok     bool
	}{
		{"upload в active", owner, false, OpUpload, true},
		{"upload в paused", owner, true, OpUpload, false},
		{"upload в unowned", zero, false, OpUpload, false},
		{"log_verification в active", owner, false, OpLogVerification, true},
		{"log_verification в paused", owner, true, OpLogVerification, true},
		{"log_verification в unowned", zero, false, OpLogVerification, true},
		{"read в paused", owner, true, OpRead, true},
		{"read в unowned", zero, false, OpRead, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Authorize(tt.owner, tt.paused, tt.op, stranger)
			if tt.ok {
				if err != nil {
					t.Fatalf("неожиданная ошибка: %v", err)
				}
				if d.Changed() {
					t.Errorf("операция с данными не должна менять состояние: %+v", d)
				}
				return
			}
			if !errors.Is(err, ErrRegistryPaused) {
				t.Errorf("ожидалась ErrRegistryPaused, получено %v", err)
			}
		})
	}
}

// TestTransitionForEvent проверяет восстановление переходов по журналу.
func TestTransitionForEvent(t *testing.T) {
	tests := []struct {
		kind     model.EventKind
		from, to State
		ok       bool
	}{
		{model.EventOwnerSet, StateUnowned, StateActive, true},
		{model.EventPaused, StateActive, StatePaused, true},
		{model.EventUnpaused, StatePaused, StateActive, true},
		{model.EventFileUploaded, "", "", false},
		{model.EventFileVerified, "", "", false},
	}

	for _, tt := range tests {
		from, to, ok := TransitionForEvent(tt.kind)
		if ok != tt.ok || from != tt.from || to != tt.to {
			t.Errorf("TransitionForEvent(%s) = (%s, %s, %v), ожидается (%s, %s, %v)",
				tt.kind, from, to, ok, tt.from, tt.to, tt.ok)
		}
	}
}

// TestFullLifecycle проверяет полный цикл unowned → active → paused → active.
func TestFullLifecycle(t *testing.T) {
	var (
		currentOwner model.Address
		paused       bool
	)

	apply := func(op Operation, caller model.Address) {
		t.Helper()
		d, err := Authorize(currentOwner, paused, op, caller)
		if err != nil {
			t.Fatalf("%s: неожиданная ошибка: %v", op, err)
		}
		if op == OpSetOwner {
			currentOwner = caller
		}
		paused = d.To == StatePaused
	}

	apply(OpSetOwner, owner)
	apply(OpPause, owner)
	if StateOf(currentOwner, paused) != StatePaused {
		t.Fatalf("ожидалось состояние paused")
	}
	apply(OpUnpause, owner)
	if StateOf(currentOwner, paused) != StateActive {
		t.Fatalf("ожидалось состояние active")
	}
}
