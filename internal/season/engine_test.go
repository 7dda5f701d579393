package season

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"encore/internal/game"
)

type grant struct {
	userID int64
	packID int64
}

type limitedPack struct {
	cardSetID *int64
	price     int64
	available bool
}

type state struct {
	instances  map[int64]game.EventInstance
	nextID     int64
	types      []game.EventType
	tiers      []game.RewardTier
	songs      []game.Song
	sets       []game.CardSet
	parts      []game.Participation
	credits    map[int64]int64
	packs      map[string]grant
	badges     map[[2]int64]bool
	popularity map[int64]int64
	permanent  map[int64]int64
	limited    limitedPack
}

func (s *state) clone() *state {
	c := *s
	c.instances = map[int64]game.EventInstance{}
	for k, v := range s.instances {
		c.instances[k] = v
	}
	c.parts = append([]game.Participation(nil), s.parts...)
	c.credits = copyMap(s.credits)
	c.popularity = copyMap(s.popularity)
	c.permanent = copyMap(s.permanent)
	c.packs = map[string]grant{}
	for k, v := range s.packs {
		c.packs[k] = v
	}
	c.badges = map[[2]int64]bool{}
	for k, v := range s.badges {
		c.badges[k] = v
	}
	return &c
}

func copyMap(in map[int64]int64) map[int64]int64 {
	out := make(map[int64]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type memStore struct {
	mu            sync.Mutex
	st            *state
	collisions    int
	missingUsers  map[int64]bool
	missingGroups map[int64]bool
}

func newMemStore() *memStore {
	return &memStore{st: &state{
		instances:  map[int64]game.EventInstance{},
		nextID:     100,
		credits:    map[int64]int64{},
		packs:      map[string]grant{},
		badges:     map[[2]int64]bool{},
		popularity: map[int64]int64{},
		permanent:  map[int64]int64{},
	}}
}

func (m *memStore) InTx(ctx context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.st.clone()
	if err := fn(&memTx{st: work, store: m}); err != nil {
		return err
	}
	m.st = work
	return nil
}

type memTx struct {
	st    *state
	store *memStore
}

func (t *memTx) ActiveInstance(context.Context) (*game.EventInstance, error) {
	for _, inst := range t.st.instances {
		if inst.Status == game.EventActive {
			inst := inst
			return &inst, nil
		}
	}
	return nil, nil
}

func (t *memTx) ScheduledInstance(_ context.Context, start time.Time) (*game.EventInstance, error) {
	for _, inst := range t.st.instances {
		if inst.Status == game.EventScheduled && sameDay(inst.StartTime, start) {
			inst := inst
			return &inst, nil
		}
	}
	return nil, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func (t *memTx) SetInstanceStatus(_ context.Context, id int64, from, to game.EventStatus) error {
	inst, ok := t.st.instances[id]
	if !ok || inst.Status != from {
		return fmt.Errorf("instance %d not in status %s", id, from)
	}
	inst.Status = to
	t.st.instances[id] = inst
	return nil
}

func (t *memTx) InsertInstance(_ context.Context, inst game.EventInstance) (int64, error) {
	t.st.nextID++
	inst.ID = t.st.nextID
	t.st.instances[inst.ID] = inst
	return inst.ID, nil
}

func (t *memTx) NextSequence(_ context.Context, eventTypeID int64) (int64, error) {
	var max int64
	for _, inst := range t.st.instances {
		if inst.EventTypeID == eventTypeID && inst.Sequence > max {
			max = inst.Sequence
		}
	}
	return max + 1, nil
}

func (t *memTx) EventType(_ context.Context, id int64) (game.EventType, error) {
	for _, et := range t.st.types {
		if et.ID == id {
			return et, nil
		}
	}
	return game.EventType{}, fmt.Errorf("event type %d not found", id)
}

func (t *memTx) EventTypes(context.Context) ([]game.EventType, error) {
	return append([]game.EventType(nil), t.st.types...), nil
}

func (t *memTx) RewardTiers(_ context.Context, eventTypeID int64) ([]game.RewardTier, error) {
	var out []game.RewardTier
	for _, tier := range t.st.tiers {
		if tier.EventTypeID == eventTypeID {
			out = append(out, tier)
		}
	}
	return out, nil
}

func (t *memTx) Songs(context.Context) ([]game.Song, error) {
	return append([]game.Song(nil), t.st.songs...), nil
}

func (t *memTx) CardSets(context.Context) ([]game.CardSet, error) {
	return append([]game.CardSet(nil), t.st.sets...), nil
}

func (t *memTx) Participations(_ context.Context, instanceID int64) ([]game.Participation, error) {
	var out []game.Participation
	for _, p := range t.st.parts {
		if p.InstanceID == instanceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *memTx) update(id int64, fn func(*game.Participation)) error {
	for i := range t.st.parts {
		if t.st.parts[i].ID == id {
			fn(&t.st.parts[i])
			return nil
		}
	}
	return fmt.Errorf("participation %d not found", id)
}

func (t *memTx) CloseParticipation(_ context.Context, p game.Participation) error {
	return t.update(p.ID, func(row *game.Participation) {
		row.Status = p.Status
		row.Payout = p.Payout
	})
}

func (t *memTx) RecordPlacement(_ context.Context, p game.Participation) error {
	return t.update(p.ID, func(row *game.Participation) {
		row.Rank = p.Rank
		row.FinalPopularity = p.FinalPopularity
	})
}

func (t *memTx) AddCredits(_ context.Context, userID, amount int64) (bool, error) {
	if t.store.missingUsers[userID] {
		return false, nil
	}
	t.st.credits[userID] += amount
	return true, nil
}

func (t *memTx) GrantPack(_ context.Context, userID, packID int64, code string) (bool, error) {
	if t.store.missingUsers[userID] {
		return false, fmt.Errorf("user %d violates foreign key", userID)
	}
	if t.store.collisions > 0 {
		t.store.collisions--
		return false, nil
	}
	if _, taken := t.st.packs[code]; taken {
		return false, nil
	}
	t.st.packs[code] = grant{userID: userID, packID: packID}
	return true, nil
}

func (t *memTx) GrantBadge(_ context.Context, userID, badgeID int64) error {
	t.st.badges[[2]int64{userID, badgeID}] = true
	return nil
}

func (t *memTx) AddGroupPopularity(_ context.Context, groupID, delta int64) (int64, bool, error) {
	if t.store.missingGroups[groupID] {
		return 0, false, nil
	}
	t.st.popularity[groupID] += delta
	return t.st.popularity[groupID], true, nil
}

func (t *memTx) AddPermanentPopularity(_ context.Context, groupID, amount int64) error {
	t.st.permanent[groupID] += amount
	return nil
}

func (t *memTx) SetLimitedPack(_ context.Context, cardSetID *int64, price int64, available bool) error {
	t.st.limited = limitedPack{cardSetID: cardSetID, price: price, available: available}
	return nil
}

type sent struct {
	userID  int64
	channel string
	content string
}

type recordingNotifier struct {
	mu        sync.Mutex
	dms       []sent
	posts     []sent
	failDMs   bool
	failPosts bool
}

func (n *recordingNotifier) NotifyUser(_ context.Context, userID int64, content string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failDMs {
		return errors.New("dm blocked")
	}
	n.dms = append(n.dms, sent{userID: userID, content: content})
	return nil
}

func (n *recordingNotifier) PostAnnouncement(_ context.Context, channel, content string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failPosts {
		return "", errors.New("missing permissions")
	}
	n.posts = append(n.posts, sent{channel: channel, content: content})
	return "m1", nil
}

func (n *recordingNotifier) EditMessage(context.Context, string, string, string) error {
	return nil
}

func ptr(v int64) *int64 { return &v }

var (
	// Monday just after the weekly reset.
	rotationTime = time.Date(2026, 4, 20, 0, 5, 0, 0, time.UTC)
	lastStart    = time.Date(2026, 4, 13, 0, 0, 0, 0, time.UTC)
	lastEnd      = time.Date(2026, 4, 19, 22, 0, 0, 0, time.UTC)
)

func seededStore(category game.Category) *memStore {
	m := newMemStore()
	m.st.types = []game.EventType{
		{ID: 1, Name: "Comeback Stage", Category: category, Weight: 0},
		{ID: 2, Name: "Music Show", Category: game.CategoryStandard, Weight: 10, WantsSong: true, WantsCardSet: true},
	}
	m.st.songs = []game.Song{{ID: 5, Title: "Hype Boy", CardSetID: ptr(9)}}
	m.st.sets = []game.CardSet{{ID: 9, Name: "Get Up"}, {ID: 11, Name: "OMG"}}
	m.st.tiers = []game.RewardTier{
		{EventTypeID: 1, RankMin: 1, RankMax: 1, Credits: 1000, PackID: ptr(7), BadgeID: ptr(3), PopularityBoost: 2},
		{EventTypeID: 1, RankMin: 1, RankMax: 3, Credits: 100, PopularityBoost: 1.5},
	}
	m.st.instances[50] = game.EventInstance{ID: 50, EventTypeID: 1, Sequence: 4, StartTime: lastStart, EndTime: lastEnd, Status: game.EventActive}
	m.st.parts = []game.Participation{
		{ID: 1, InstanceID: 50, OwnerID: 100, GroupID: 10, GroupName: "NewJeans", Status: game.ParticipationActive, RawScore: 300, BaselineScore: 100},
		{ID: 2, InstanceID: 50, OwnerID: 200, GroupID: 20, GroupName: "IVE", Status: game.ParticipationSubmitted, RawScore: 500},
		{ID: 3, InstanceID: 50, OwnerID: 300, GroupID: 30, Status: game.ParticipationPreparation},
		{ID: 4, InstanceID: 50, OwnerID: 400, GroupID: 40, GroupName: "LE SSERAFIM", Status: game.ParticipationActive, RawScore: 300},
		{ID: 5, InstanceID: 50, OwnerID: 500, GroupID: 50, Status: game.ParticipationCompleted, RawScore: 10},
	}
	return m
}

func newTestEngine(store Store, n *recordingNotifier, at time.Time) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(store, n, game.NewRandom(1), game.NewFixedClock(at), Config{WeekStart: time.Monday, StartHour: 0, EndHour: 22, AnnounceChannel: "events"}, logger)
}

func TestRotateFinalizesRanksAndRewards(t *testing.T) {
	store := seededStore(game.CategoryComeback)
	n := &recordingNotifier{}
	out, err := newTestEngine(store, n, rotationTime).Rotate(context.Background())
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}

	st := store.st
	if st.instances[50].Status != game.EventFinished {
		t.Fatalf("old instance status = %s", st.instances[50].Status)
	}

	wantOrder := []int64{2, 1, 4, 5}
	if len(out.Placements) != len(wantOrder) {
		t.Fatalf("ranked %d participations, want %d", len(out.Placements), len(wantOrder))
	}
	for i, pl := range out.Placements {
		if pl.Participation.ID != wantOrder[i] || pl.Participation.Rank != int64(i+1) {
			t.Fatalf("placement %d = id %d rank %d", i, pl.Participation.ID, pl.Participation.Rank)
		}
	}

	byID := map[int64]game.Participation{}
	for _, p := range st.parts {
		byID[p.ID] = p
	}
	if p := byID[1]; p.Status != game.ParticipationExpired || p.Payout != 1500 {
		t.Fatalf("active participation closed as %s payout %d", p.Status, p.Payout)
	}
	if p := byID[4]; p.Status != game.ParticipationExpired || p.Payout != 0 {
		t.Fatalf("zero baseline must pay 0, got %s %d", p.Status, p.Payout)
	}
	if p := byID[2]; p.Status != game.ParticipationCompleted {
		t.Fatalf("submitted participation closed as %s", p.Status)
	}
	if p := byID[3]; p.Status != game.ParticipationExpired || p.Rank != 0 {
		t.Fatalf("preparation participation: %+v", p)
	}

	// Rank 1: 500 * 2 * 1.5.
	if got := byID[2].FinalPopularity; got != 1500 {
		t.Fatalf("winner popularity = %d", got)
	}
	if got := st.popularity[20]; got != 1500 {
		t.Fatalf("group popularity = %d", got)
	}
	if got := st.credits[200]; got != 1100+game.MerchBonus(1500) {
		t.Fatalf("winner credits = %d", got)
	}
	// Rank 4 has no tier: raw score only, merch bonus still applies.
	if got := st.credits[500]; got != game.MerchBonus(10) {
		t.Fatalf("untiered credits = %d", got)
	}
	if len(st.packs) != 1 {
		t.Fatalf("expected one pack grant, got %d", len(st.packs))
	}
	for code, g := range st.packs {
		if !game.ValidPackCode(code) || g.userID != 200 || g.packID != 7 {
			t.Fatalf("bad pack grant %q %+v", code, g)
		}
	}
	if !st.badges[[2]int64{200, 3}] {
		t.Fatalf("winner badge missing")
	}

	for _, group := range []int64{20, 10, 40} {
		if st.permanent[group] != game.ComebackBonus {
			t.Fatalf("comeback bonus for group %d = %d", group, st.permanent[group])
		}
	}
	if st.permanent[50] != 0 {
		t.Fatalf("unrewarded rank received comeback bonus")
	}

	if out.Winner == nil || out.Winner.Participation.OwnerID != 200 {
		t.Fatalf("winner = %+v", out.Winner)
	}
	if len(n.dms) != 4 {
		t.Fatalf("expected 4 reward DMs, got %d", len(n.dms))
	}
	if len(n.posts) != 1 || n.posts[0].channel != "events" || !strings.Contains(n.posts[0].content, "<@200>") {
		t.Fatalf("announcement = %+v", n.posts)
	}
}

func TestShowcaseBonusOnlyForFirst(t *testing.T) {
	store := seededStore(game.CategoryShowcase)
	if _, err := newTestEngine(store, &recordingNotifier{}, rotationTime).Rotate(context.Background()); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if got := store.st.permanent[20]; got != game.ShowcaseBonus {
		t.Fatalf("rank 1 showcase bonus = %d", got)
	}
	if store.st.permanent[10] != 0 || store.st.permanent[40] != 0 {
		t.Fatalf("showcase bonus leaked to lower ranks")
	}
}

func TestActivationDrawsWeightedTypeWithSongSet(t *testing.T) {
	store := seededStore(game.CategoryComeback)
	out, err := newTestEngine(store, &recordingNotifier{}, rotationTime).Rotate(context.Background())
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	inst := out.Activated
	if inst == nil || inst.EventTypeID != 2 || inst.Status != game.EventActive {
		t.Fatalf("activated = %+v", inst)
	}
	wantStart := time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 4, 26, 22, 0, 0, 0, time.UTC)
	if !inst.StartTime.Equal(wantStart) || !inst.EndTime.Equal(wantEnd) {
		t.Fatalf("window %s - %s", inst.StartTime, inst.EndTime)
	}
	if inst.Sequence != 1 {
		t.Fatalf("sequence = %d", inst.Sequence)
	}
	if inst.SongID == nil || *inst.SongID != 5 || inst.CardSetID == nil || *inst.CardSetID != 9 {
		t.Fatalf("song/set = %v/%v", inst.SongID, inst.CardSetID)
	}
	lp := store.st.limited
	if !lp.available || lp.price != game.LimitedPackPrice || lp.cardSetID == nil || *lp.cardSetID != 9 {
		t.Fatalf("limited pack = %+v", lp)
	}
	active := 0
	for _, i := range store.st.instances {
		if i.Status == game.EventActive {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("%d active instances", active)
	}
}

func TestActivationPrefersScheduledInstance(t *testing.T) {
	store := seededStore(game.CategoryStandard)
	store.st.instances[60] = game.EventInstance{
		ID: 60, EventTypeID: 1, Sequence: 5,
		StartTime: time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 4, 26, 22, 0, 0, 0, time.UTC),
		Status:    game.EventScheduled,
	}
	out, err := newTestEngine(store, &recordingNotifier{}, rotationTime).Rotate(context.Background())
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if out.Activated.ID != 60 || store.st.instances[60].Status != game.EventActive {
		t.Fatalf("scheduled instance not activated: %+v", out.Activated)
	}
	if len(store.st.instances) != 2 {
		t.Fatalf("a new instance was inserted")
	}
	if store.st.limited.available || store.st.limited.price != 0 {
		t.Fatalf("limited pack should be unavailable without a set: %+v", store.st.limited)
	}
}

func TestRotateWhileRunningIsNoop(t *testing.T) {
	store := seededStore(game.CategoryComeback)
	n := &recordingNotifier{}
	out, err := newTestEngine(store, n, lastEnd.Add(-time.Hour)).Rotate(context.Background())
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if out.Finished != nil || out.Activated != nil {
		t.Fatalf("running season was rotated: %+v", out)
	}
	if store.st.instances[50].Status != game.EventActive || len(n.dms)+len(n.posts) != 0 {
		t.Fatalf("state or messages changed while running")
	}
}

func TestDeliveryFailureKeepsState(t *testing.T) {
	store := seededStore(game.CategoryComeback)
	n := &recordingNotifier{failDMs: true, failPosts: true}
	if _, err := newTestEngine(store, n, rotationTime).Rotate(context.Background()); err != nil {
		t.Fatalf("delivery failure surfaced: %v", err)
	}
	if store.st.instances[50].Status != game.EventFinished {
		t.Fatalf("finalization rolled back after delivery failure")
	}
}

func TestPackCodeCollisionRetries(t *testing.T) {
	store := seededStore(game.CategoryComeback)
	store.collisions = 3
	if _, err := newTestEngine(store, &recordingNotifier{}, rotationTime).Rotate(context.Background()); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if len(store.st.packs) != 1 {
		t.Fatalf("pack not granted after collisions")
	}
}

func TestPackCodeExhaustionRollsBack(t *testing.T) {
	store := seededStore(game.CategoryComeback)
	store.collisions = 1000
	n := &recordingNotifier{}
	_, err := newTestEngine(store, n, rotationTime).Rotate(context.Background())
	if !errors.Is(err, game.ErrPackCodeExhausted) {
		t.Fatalf("expected ErrPackCodeExhausted, got %v", err)
	}
	if store.st.instances[50].Status != game.EventActive || len(store.st.credits) != 0 {
		t.Fatalf("failed rotation left partial state")
	}
	if len(n.dms)+len(n.posts) != 0 {
		t.Fatalf("messages sent for a failed rotation")
	}
}

func TestNoDrawableEventTypes(t *testing.T) {
	store := newMemStore()
	store.st.types = []game.EventType{{ID: 1, Name: "Retired", Category: game.CategoryStandard, Weight: 0}}
	_, err := newTestEngine(store, &recordingNotifier{}, rotationTime).Rotate(context.Background())
	if !errors.Is(err, game.ErrNoEventTypes) {
		t.Fatalf("expected ErrNoEventTypes, got %v", err)
	}
}

func TestMissingOwnerAndGroupDoNotBlockRotation(t *testing.T) {
	store := seededStore(game.CategoryComeback)
	store.missingUsers = map[int64]bool{200: true}
	store.missingGroups = map[int64]bool{10: true}
	n := &recordingNotifier{}
	out, err := newTestEngine(store, n, rotationTime).Rotate(context.Background())
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if store.st.instances[50].Status != game.EventFinished || out.Activated == nil {
		t.Fatalf("rotation did not commit")
	}

	if len(store.st.packs) != 0 || store.st.badges[[2]int64{200, 3}] {
		t.Fatalf("rewards granted to a missing owner")
	}
	if _, ok := store.st.credits[200]; ok {
		t.Fatalf("credits recorded for a missing owner")
	}
	// The missing owner's group still earns popularity.
	if store.st.popularity[20] != 1500 || store.st.permanent[20] != game.ComebackBonus {
		t.Fatalf("group 20 popularity = %d permanent = %d", store.st.popularity[20], store.st.permanent[20])
	}

	if _, ok := store.st.popularity[10]; ok || store.st.permanent[10] != 0 {
		t.Fatalf("popularity recorded for a missing group")
	}
	if got := store.st.credits[100]; got != 100 {
		t.Fatalf("owner of missing group credits = %d, want tier credits only", got)
	}

	for _, dm := range n.dms {
		if dm.userID == 200 {
			t.Fatalf("reward DM sent to a missing owner")
		}
	}
	if len(n.dms) != 3 {
		t.Fatalf("expected 3 reward DMs, got %d", len(n.dms))
	}
}

func TestRotateAfterWeekEndActivatesNextWeek(t *testing.T) {
	store := seededStore(game.CategoryComeback)
	n := &recordingNotifier{}
	sunday := time.Date(2026, 4, 19, 23, 0, 0, 0, time.UTC)
	out, err := newTestEngine(store, n, sunday).Rotate(context.Background())
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	inst := out.Activated
	if inst == nil {
		t.Fatalf("nothing activated")
	}
	wantStart := time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 4, 26, 22, 0, 0, 0, time.UTC)
	if !inst.StartTime.Equal(wantStart) || !inst.EndTime.Equal(wantEnd) {
		t.Fatalf("window %s - %s", inst.StartTime, inst.EndTime)
	}

	out, err = newTestEngine(store, n, rotationTime).Rotate(context.Background())
	if err != nil {
		t.Fatalf("monday rotate: %v", err)
	}
	if out.Finished != nil || out.Activated != nil {
		t.Fatalf("monday tick rotated again: %+v", out)
	}
	if len(n.posts) != 1 {
		t.Fatalf("announcements = %d", len(n.posts))
	}
}

func TestWeekWindow(t *testing.T) {
	// Saturday.
	start, end := WeekWindow(time.Date(2026, 4, 25, 17, 0, 0, 0, time.UTC), time.Monday, 3, 22)
	if !start.Equal(time.Date(2026, 4, 20, 3, 0, 0, 0, time.UTC)) || !end.Equal(time.Date(2026, 4, 26, 22, 0, 0, 0, time.UTC)) {
		t.Fatalf("window %s - %s", start, end)
	}

	// Thursday-anchored week, queried after it closed on Wednesday evening.
	start, end = WeekWindow(time.Date(2026, 4, 22, 23, 0, 0, 0, time.UTC), time.Thursday, 0, 22)
	if !start.Equal(time.Date(2026, 4, 23, 0, 0, 0, 0, time.UTC)) || !end.Equal(time.Date(2026, 4, 29, 22, 0, 0, 0, time.UTC)) {
		t.Fatalf("thursday window %s - %s", start, end)
	}
}
