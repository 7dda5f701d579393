package game

import "time"

type EventType struct {
	ID           int64
	Name         string
	Category     Category
	Weight       int64
	WantsSong    bool
	WantsCardSet bool
}

type EventInstance struct {
	ID          int64
	EventTypeID int64
	Sequence    int64
	StartTime   time.Time
	EndTime     time.Time
	Status      EventStatus
	SongID      *int64
	CardSetID   *int64
}

type Participation struct {
	ID              int64
	InstanceID      int64
	ParticipantID   int64
	OwnerID         int64
	GroupID         int64
	GroupName       string
	Status          ParticipationStatus
	RawScore        int64
	BaselineScore   int64
	Payout          int64
	Rank            int64
	FinalPopularity int64
}

type RewardTier struct {
	EventTypeID     int64
	RankMin         int64
	RankMax         int64
	Credits         int64
	PackID          *int64
	BadgeID         *int64
	PopularityBoost float64
}

// Covers reports whether rank falls inside the inclusive tier range.
func (t RewardTier) Covers(rank int64) bool {
	return rank >= t.RankMin && rank <= t.RankMax
}

type Song struct {
	ID        int64
	Title     string
	CardSetID *int64
}

type CardSet struct {
	ID   int64
	Name string
}

type MissionPool string

const (
	PoolExploratory MissionPool = "exploratory"
	PoolEasy        MissionPool = "easy"
	PoolMedium      MissionPool = "medium"
	PoolHard        MissionPool = "hard"
)

type Mission struct {
	ID             int64
	Type           string
	Pool           MissionPool
	ProgressNeeded int64
}

type MissionSlot struct {
	UserID           int64
	Slot             int
	MissionID        int64
	MissionType      string
	ProgressNeeded   int64
	ProgressObtained int64
	Status           string
	AssignedAt       time.Time
}

const (
	SlotStatusActive    = "active"
	SlotStatusCompleted = "completed"
	SlotStatusExpired   = "expired"
)

type Giveaway struct {
	ID          int64
	PrizeCardID int64
	PrizeName   string
	HostID      int64
	ChannelID   string
	MessageID   string
	Deadline    time.Time
	Active      bool
}

type Entrant struct {
	GiveawayID int64
	UserID     int64
	IsWinner   bool
}
