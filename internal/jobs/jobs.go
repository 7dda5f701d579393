package jobs

import (
	"time"

	"encore/internal/giveaway"
	"encore/internal/mission"
	"encore/internal/schedule"
	"encore/internal/season"
)

const (
	SeasonRotation = "season_rotation"
	DailyMissions  = "daily_missions"
	WeeklyMissions = "weekly_missions"
	GiveawayDraws  = "giveaway_draws"
)

// DefaultCatalog is the frequency metadata seeded at startup.
func DefaultCatalog() []schedule.Cursor {
	monday := time.Monday
	weekly := func(name string) schedule.Cursor {
		wd := monday
		return schedule.Cursor{Name: name, Frequency: schedule.Weekly, Weekday: &wd}
	}
	return []schedule.Cursor{
		weekly(SeasonRotation),
		{Name: DailyMissions, Frequency: schedule.Daily},
		weekly(WeeklyMissions),
		{Name: GiveawayDraws, Frequency: schedule.Frequent},
	}
}

// WeekStart returns the weekday anchor of the named weekly job in catalog,
// falling back to Monday.
func WeekStart(catalog []schedule.Cursor, name string) time.Weekday {
	for _, c := range catalog {
		if c.Name == name && c.Frequency == schedule.Weekly && c.Weekday != nil {
			return *c.Weekday
		}
	}
	return time.Monday
}

type Engines struct {
	Season    *season.Engine
	Missions  *mission.Engine
	Giveaways *giveaway.Resolver
}

// Register wires the engines onto the scheduler. Season rotation runs
// before the mission passes so a Monday tick closes the week first.
func Register(s *schedule.Scheduler, e Engines) {
	if e.Season != nil {
		s.Register(SeasonRotation, e.Season.Run)
	}
	if e.Missions != nil {
		s.Register(DailyMissions, e.Missions.RunDaily)
		s.Register(WeeklyMissions, e.Missions.RunWeekly)
	}
	if e.Giveaways != nil {
		s.Register(GiveawayDraws, e.Giveaways.Run)
	}
}
