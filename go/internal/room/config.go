package room

import (
	"fmt"
	"time"
)

// Phase is the stage of a room's round life cycle.
type Phase string

const (
	PhaseLobby          Phase = "lobby"
	PhaseCategorySelect Phase = "category_select"
	PhasePrepare        Phase = "prepare"
	PhasePlaying        Phase = "playing"
	PhaseReview         Phase = "review"
	PhaseFinished       Phase = "finished"
)

// Locked reports whether new identities are refused in this phase.
func (p Phase) Locked() bool {
	return p == PhasePlaying || p == PhaseReview || p == PhaseFinished
}

// WinMode selects how a game ends.
type WinMode string

const (
	WinByScore  WinMode = "score"
	WinByRounds WinMode = "rounds"
)

// WinCondition ends the game at review once met. For WinByScore a team must
// reach Target points; for WinByRounds both teams must have played Target
// turns.
type WinCondition struct {
	Mode   WinMode `json:"mode"`
	Target int     `json:"target"`
}

// Config is fixed at room creation.
type Config struct {
	RoundDuration time.Duration
	SkipCooldown  time.Duration
	Win           WinCondition
	Capacity      int
	// Categories limits the categories offered; empty means every category.
	Categories []string
	TeamNames  [2]string
}

const (
	MinRoundDuration = 5 * time.Second
	MaxRoundDuration = 10 * time.Minute
	MinCapacity      = 2
)

// DefaultConfig returns the settings used when a client sends none.
func DefaultConfig() Config {
	return Config{
		RoundDuration: 60 * time.Second,
		SkipCooldown:  3 * time.Second,
		Win:           WinCondition{Mode: WinByScore, Target: 30},
		Capacity:      10,
		TeamNames:     [2]string{"Team A", "Team B"},
	}
}

// Validate checks c against the word supply and the server's capacity cap.
func (c Config) Validate(words Words, maxCapacity int) error {
	if err := c.ValidateSettings(maxCapacity); err != nil {
		return err
	}
	for _, cat := range c.Categories {
		if !words.Has(cat) {
			return fmt.Errorf("%w: %w %q", ErrInvalidConfig, ErrUnknownCategory, cat)
		}
	}
	if len(c.Categories) == 0 && len(words.Categories()) == 0 {
		return fmt.Errorf("%w: no categories available", ErrInvalidConfig)
	}
	return nil
}

// ValidateSettings checks everything Validate does except the categories.
func (c Config) ValidateSettings(maxCapacity int) error {
	if c.RoundDuration < MinRoundDuration || c.RoundDuration > MaxRoundDuration {
		return fmt.Errorf("%w: round duration %s out of range", ErrInvalidConfig, c.RoundDuration)
	}
	if c.SkipCooldown < 0 || c.SkipCooldown >= c.RoundDuration {
		return fmt.Errorf("%w: skip cooldown %s out of range", ErrInvalidConfig, c.SkipCooldown)
	}
	if c.Capacity < MinCapacity || c.Capacity > maxCapacity {
		return fmt.Errorf("%w: capacity %d not in [%d, %d]", ErrInvalidConfig, c.Capacity, MinCapacity, maxCapacity)
	}
	if c.Win.Mode != WinByScore && c.Win.Mode != WinByRounds {
		return fmt.Errorf("%w: unknown win mode %q", ErrInvalidConfig, c.Win.Mode)
	}
	if c.Win.Target < 1 {
		return fmt.Errorf("%w: win target must be positive", ErrInvalidConfig)
	}
	return nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	for i, name := range c.TeamNames {
		if name == "" {
			c.TeamNames[i] = def.TeamNames[i]
		}
	}
	return c
}
