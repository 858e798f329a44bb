package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/thruflo/autocoder/internal/config"
)

func TestTurnCheckpoint_FiresOnMultiplesOnly(t *testing.T) {
	t.Parallel()

	p := NewPolicy(config.ModePreset{TurnInterval: 25})
	var fired []int
	for turn := 0; turn <= 100; turn++ {
		if p.TurnCheckpoint(turn) {
			fired = append(fired, turn)
		}
	}
	assert.Equal(t, []int{25, 50, 75, 100}, fired)
}

func TestTurnCheckpoint_Disabled(t *testing.T) {
	t.Parallel()

	p := NewPolicy(config.ModePreset{})
	for turn := 0; turn <= 200; turn++ {
		assert.False(t, p.TurnCheckpoint(turn))
	}
	assert.False(t, p.IsArmed(TriggerTurnInterval))
}

func TestFromConfig_Modes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mode     string
		interval int
		armed    []Trigger
	}{
		{config.ModeAutonomous, 0, nil},
		{config.ModeSupervised, 50, []Trigger{TriggerTurnInterval, TriggerNewTask, TriggerRegression, TriggerBlocker}},
		{config.ModeInteractive, 25, AllTriggers},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			t.Parallel()
			cfg := config.DefaultConfig()
			cfg.Mode = tt.mode
			p := FromConfig(&cfg)

			assert.Equal(t, tt.interval, p.TurnInterval)
			want := make(map[Trigger]bool)
			for _, tr := range tt.armed {
				want[tr] = true
			}
			for _, tr := range AllTriggers {
				assert.Equal(t, want[tr], p.IsArmed(tr), tr.String())
			}
		})
	}
}

func TestFromConfig_Overrides(t *testing.T) {
	t.Parallel()

	off, on := false, true
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeSupervised
	cfg.Checkpoints.TurnInterval = 10
	cfg.Checkpoints.BeforeNewTask = &off
	cfg.Checkpoints.OnUncertainty = &on

	p := FromConfig(&cfg)
	assert.True(t, p.TurnCheckpoint(10))
	assert.False(t, p.IsArmed(TriggerNewTask))
	assert.True(t, p.IsArmed(TriggerUncertainty))
}

func TestFire(t *testing.T) {
	t.Parallel()

	p := NewPolicy(config.ModePreset{OnBlocker: true})

	ev, ok := p.Fire(TriggerBlocker, "t1", "missing credentials")
	assert.True(t, ok)
	assert.Equal(t, TriggerBlocker, ev.Trigger)
	assert.Equal(t, "t1", ev.TaskID)
	assert.False(t, ev.At.IsZero())

	_, ok = p.Fire(TriggerNewTask, "t1", "")
	assert.False(t, ok)
}

func TestTriggerString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "turn_interval", TriggerTurnInterval.String())
	assert.Equal(t, "new_task", TriggerNewTask.String())
	assert.Equal(t, "phase_complete", TriggerPhaseComplete.String())
	assert.Equal(t, "uncertainty", TriggerUncertainty.String())
	assert.Equal(t, "Trigger(99)", Trigger(99).String())
}

func TestTurnCounter_NeverDecreases(t *testing.T) {
	t.Parallel()

	c := NewTurnCounter(40)
	assert.Equal(t, 40, c.Total())
	assert.Equal(t, 41, c.Increment())
	assert.Equal(t, 42, c.Increment())

	// A resumed counter picks up the persisted total.
	resumed := NewTurnCounter(c.Total())
	assert.Equal(t, 43, resumed.Increment())

	assert.Equal(t, 0, NewTurnCounter(-5).Total())
}
