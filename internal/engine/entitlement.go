package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/playperu/quizarena/internal/arena"
)

// EntitlementGate decides what a host may create.
type EntitlementGate interface {
	// AssertCreationAllowed returns arena.ErrDailyLimit when the host has
	// used up the sessions its plan allows today.
	AssertCreationAllowed(ctx context.Context, hostID string) error
	CapacityLimits(ctx context.Context, hostID string) (arena.Limits, error)
}

// Unlimited allows everything.
type Unlimited struct{}

func (Unlimited) AssertCreationAllowed(context.Context, string) error { return nil }

func (Unlimited) CapacityLimits(context.Context, string) (arena.Limits, error) {
	return arena.Limits{}, nil
}

type Plan string

const (
	PlanFreemium Plan = "FREEMIUM"
	PlanPremium  Plan = "PREMIUM"
)

// PlanLimits are the capacities of each plan.
var PlanLimits = map[Plan]arena.Limits{
	PlanFreemium: {MaxTeams: 10, MaxPlayers: 10, GamesPerDay: 1},
	PlanPremium:  {MaxTeams: 60, MaxPlayers: 250, GamesPerDay: 0},
}

// SessionCounter counts the sessions a host created since a point in time.
type SessionCounter interface {
	CountHostSessionsSince(ctx context.Context, hostID string, since time.Time) (int, error)
}

// PlanGate enforces plan limits. Hosts listed in Premium are on the premium
// plan, everyone else is on freemium.
type PlanGate struct {
	Premium map[string]bool
	Counter SessionCounter
	Clock   func() time.Time
}

func NewPlanGate(counter SessionCounter, premiumHosts []string) *PlanGate {
	premium := make(map[string]bool, len(premiumHosts))
	for _, h := range premiumHosts {
		premium[h] = true
	}
	return &PlanGate{Premium: premium, Counter: counter, Clock: time.Now}
}

func (g *PlanGate) PlanOf(hostID string) Plan {
	if g.Premium[hostID] {
		return PlanPremium
	}
	return PlanFreemium
}

func (g *PlanGate) CapacityLimits(_ context.Context, hostID string) (arena.Limits, error) {
	return PlanLimits[g.PlanOf(hostID)], nil
}

func (g *PlanGate) AssertCreationAllowed(ctx context.Context, hostID string) error {
	limits := PlanLimits[g.PlanOf(hostID)]
	if limits.GamesPerDay <= 0 {
		return nil
	}

	now := g.Clock().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	n, err := g.Counter.CountHostSessionsSince(ctx, hostID, dayStart)
	if err != nil {
		return fmt.Errorf("counting sessions of host: %w", err)
	}
	if n >= limits.GamesPerDay {
		return arena.ErrDailyLimit
	}
	return nil
}
