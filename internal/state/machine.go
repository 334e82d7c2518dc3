package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/langchou/ezpark/internal/models"
)

// 车位事件常量
const (
	EventCheckIn  = "check_in"
	EventCheckOut = "check_out"
	EventToggle   = "toggle"
)

// ErrIllegalTransition 当前状态不允许该事件
var ErrIllegalTransition = errors.New("illegal spot transition")

// Transition 一次状态变化
type Transition struct {
	SpotID models.SpotID
	From   models.SpotState
	To     models.SpotState
	Event  string
}

// Machine 车位状态机
//
// 每次操作基于存储中读到的状态新建，不在进程内保存车位状态；
// 并发安全由存储层的条件写保证。
type Machine struct {
	spotID       models.SpotID
	fsm          *fsm.FSM
	onTransition func(t Transition)
}

// NewMachine 创建状态机
func NewMachine(spotID models.SpotID, current models.SpotState, onTransition func(t Transition)) *Machine {
	if current == "" {
		current = models.SpotFree
	}

	m := &Machine{
		spotID:       spotID,
		onTransition: onTransition,
	}

	free, occupied := string(models.SpotFree), string(models.SpotOccupied)
	m.fsm = fsm.NewFSM(
		string(current),
		fsm.Events{
			{Name: EventCheckIn, Src: []string{free}, Dst: occupied},
			{Name: EventCheckOut, Src: []string{occupied}, Dst: free},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onTransition != nil && e.Src != e.Dst {
					m.onTransition(Transition{
						SpotID: m.spotID,
						From:   models.SpotState(e.Src),
						To:     models.SpotState(e.Dst),
						Event:  e.Event,
					})
				}
			},
		},
	)

	return m
}

// Current 当前状态
func (m *Machine) Current() models.SpotState {
	return models.SpotState(m.fsm.Current())
}

// Can 检查事件在当前状态下是否合法
func (m *Machine) Can(event string) bool {
	if event == EventToggle {
		return true
	}
	return m.fsm.Can(event)
}

// Plan 计算事件的目标状态，不改变状态机
func (m *Machine) Plan(event string) (models.SpotState, error) {
	if event == EventToggle {
		event = m.toggleEvent()
	}
	if !m.fsm.Can(event) {
		return "", fmt.Errorf("%w: %s from %s", ErrIllegalTransition, event, m.Current())
	}
	if event == EventCheckIn {
		return models.SpotOccupied, nil
	}
	return models.SpotFree, nil
}

// Trigger 触发事件（存储层写入成功后调用）
func (m *Machine) Trigger(ctx context.Context, event string) error {
	if event == EventToggle {
		event = m.toggleEvent()
	}
	if err := m.fsm.Event(ctx, event); err != nil {
		return fmt.Errorf("%w: trigger %s: %v", ErrIllegalTransition, event, err)
	}
	return nil
}

// toggleEvent 管理员切换映射为普通事件
func (m *Machine) toggleEvent() string {
	if m.Current() == models.SpotOccupied {
		return EventCheckOut
	}
	return EventCheckIn
}
