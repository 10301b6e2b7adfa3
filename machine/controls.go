package machine

import (
	"context"
	"strconv"
)

// Home moves the plotter to its home position. The device lifts the pen and
// resets its speed when homing.
func (m *Machine) Home(ctx context.Context) error {
	err := m.dev.SendSingle(ctx, cmdHome)
	m.state.penUp.Store(true)
	m.state.speed.Store(DefaultSpeed)
	return err
}

// SetHome makes the current position the home position.
func (m *Machine) SetHome(ctx context.Context) error {
	return m.dev.SendSingle(ctx, cmdSetHome)
}

// JogDistance is the step moved by Jog at the current speed.
func (m *Machine) JogDistance() float64 {
	return float64(m.state.Speed()) / 20
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// Jog moves the pen by one step in the given direction. dx and dy are
// clamped to -1, 0 or 1.
func (m *Machine) Jog(ctx context.Context, dx, dy int) error {
	d := m.JogDistance()
	return m.dev.SendSingle(ctx, cmdJog+","+formatFloat(float64(sign(dx))*d)+","+formatFloat(float64(sign(dy))*d))
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}

// SetSpeed sets the motor speed, 1 to 99.
func (m *Machine) SetSpeed(ctx context.Context, speed int) error {
	err := m.state.SetSpeed(speed)
	if err != nil {
		return err
	}
	return m.dev.SendSingle(ctx, cmdSpeed+","+strconv.Itoa(speed))
}

// TogglePen lowers a raised pen or raises a lowered one.
func (m *Machine) TogglePen(ctx context.Context) error {
	cmd := cmdPenUp
	if m.state.PenUp() {
		cmd = cmdPenDown
	}
	m.state.penUp.Toggle()
	return m.dev.SendSingle(ctx, cmd)
}

// SetRelative switches between relative and absolute coordinates.
func (m *Machine) SetRelative(ctx context.Context, relative bool) error {
	cmd := cmdAbsolute
	if relative {
		cmd = cmdRelative
	}
	m.state.relative.Store(relative)
	return m.dev.SendSingle(ctx, cmd)
}

// SendRaw sends a manually entered command.
func (m *Machine) SendRaw(ctx context.Context, cmd string) error {
	return m.dev.SendSingle(ctx, cmd)
}
