package season

import (
	"fmt"
	"strings"

	"encore/internal/game"
	"encore/internal/notify"
)

const windowLayout = "Mon Jan 2 15:04 UTC"

func rewardSummary(et game.EventType, inst *game.EventInstance, pl Placement) string {
	var b strings.Builder
	name := et.Name
	if inst != nil {
		name = fmt.Sprintf("%s #%d", et.Name, inst.Sequence)
	}
	fmt.Fprintf(&b, "**%s** has ended! %s placed **#%d**.\n", name, groupLabel(pl.Participation), pl.Participation.Rank)
	fmt.Fprintf(&b, "Credits: %d from rewards, %d from merchandise\n", pl.TierCredits, pl.MerchBonus)
	fmt.Fprintf(&b, "Popularity: +%d (group total %d)\n", pl.Participation.FinalPopularity, pl.GroupPopularity)
	if pl.PermanentBonus > 0 {
		fmt.Fprintf(&b, "Permanent popularity: +%d\n", pl.PermanentBonus)
	}
	if len(pl.PackCodes) > 0 {
		fmt.Fprintf(&b, "Pack codes: %s\n", strings.Join(pl.PackCodes, ", "))
	}
	if len(pl.Badges) > 0 {
		fmt.Fprintf(&b, "Badges earned: %d\n", len(pl.Badges))
	}
	return strings.TrimRight(b.String(), "\n")
}

func announcement(out Outcome) string {
	var b strings.Builder
	inst := out.Activated
	fmt.Fprintf(&b, "**A new event has begun: %s #%d**\n", out.ActivatedType.Name, inst.Sequence)
	fmt.Fprintf(&b, "Runs %s until %s\n", inst.StartTime.Format(windowLayout), inst.EndTime.Format(windowLayout))
	if out.Song != nil {
		fmt.Fprintf(&b, "Featured song: %s\n", out.Song.Title)
	}
	if out.CardSet != nil {
		fmt.Fprintf(&b, "Limited pack: %s for %d credits\n", out.CardSet.Name, game.LimitedPackPrice)
	}
	if out.Winner != nil {
		w := out.Winner.Participation
		fmt.Fprintf(&b, "Last winner: %s by %s\n", groupLabel(w), notify.Mention(w.OwnerID))
	} else if out.Finished != nil {
		b.WriteString("Last event ended without a winner.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func groupLabel(p game.Participation) string {
	if strings.TrimSpace(p.GroupName) != "" {
		return "**" + p.GroupName + "**"
	}
	return fmt.Sprintf("group %d", p.GroupID)
}
