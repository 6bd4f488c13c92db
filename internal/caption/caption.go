// Package caption renders memorial post text.
package caption

import (
	"fmt"
	"strings"
	"time"

	"github.com/y3shua/honor-the-fallen/internal/fallen"
)

const (
	singleHeader = "🇺🇸 HONORING OUR FALLEN HERO 🇺🇸"
	albumHeader  = "🇺🇸 HONORING OUR FALLEN HEROES 🇺🇸"
	closingQuote = "🇺🇸 \"All gave some, some gave all\" 🇺🇸"
)

var singleRemembrance = []string{
	"🌟 Today we honor and remember this brave service member who made the ultimate sacrifice for our freedom. " +
		"Their courage, dedication, and selfless service will never be forgotten.",
	"💙 Our thoughts and prayers are with their family, friends, and fellow service members. " +
		"We are forever grateful for their sacrifice.",
	"🙏 Please take a moment to honor their memory. Share their story. Remember their sacrifice.",
}

var albumRemembrance = []string{
	"🌟 Each of these heroes answered the call to serve our nation with courage and dedication. " +
		"Their sacrifice will never be forgotten, and their memory will live on in the hearts of all Americans.",
	"💙 We honor their service and extend our deepest gratitude to their families, friends, and fellow " +
		"service members who continue to carry their legacy forward.",
	"🙏 Please take a moment to read their names, honor their memory, and share their stories. " +
		"They gave everything for our freedom.",
}

var (
	singleTags = []string{
		"#FallenHero", "#NeverForget", "#HonorTheFallen", "#MemorialDay", "#Military", "#Sacrifice",
		"#Freedom", "#Heroes", "#RememberThem", "#Service", "#Gratitude",
	}
	albumTags = []string{
		"#FallenHeroes", "#NeverForget", "#HonorTheFallen", "#MemorialDay", "#Military", "#Sacrifice",
		"#Freedom", "#Heroes", "#RememberThem", "#Service", "#Gratitude", "#UltimatePrice",
	}
)

type branchTag struct {
	match string
	tags  []string
}

// Matched case-insensitively against the record branch.
var branchTags = []branchTag{
	{"army", []string{"#Army", "#USArmy"}},
	{"navy", []string{"#Navy", "#USNavy"}},
	{"air force", []string{"#AirForce", "#USAF"}},
	{"marine", []string{"#Marines", "#USMC", "#SemperFi"}},
	{"coast guard", []string{"#CoastGuard", "#USCG"}},
	{"space force", []string{"#SpaceForce", "#USSF"}},
}

// Single renders the caption for one record. Lines whose field is absent are
// omitted.
func Single(d fallen.DetailRecord) string {
	identity := []string{"📛 " + displayName(d)}
	identity = appendField(identity, "👤 Age: ", d.Age)
	identity = appendField(identity, "🏠 Hometown: ", d.Hometown)
	identity = appendField(identity, "⭐ Branch: ", d.Branch)
	identity = appendField(identity, "🎖️ Unit: ", d.Unit)

	var sacrifice []string
	sacrifice = appendField(sacrifice, "📅 Date of Sacrifice: ", knownDate(d))
	sacrifice = appendField(sacrifice, "📍 Location: ", d.DeathLocation)
	sacrifice = appendField(sacrifice, "🎗️ Operation: ", d.Operation)
	sacrifice = appendField(sacrifice, "💭 ", d.Circumstances)

	blocks := [][]string{{singleHeader}, identity, sacrifice}
	for _, line := range singleRemembrance {
		blocks = append(blocks, []string{line})
	}
	blocks = append(blocks, []string{closingQuote})
	if d.ProfileLink != "" {
		blocks = append(blocks, []string{"📖 Learn more: " + d.ProfileLink})
	}
	blocks = append(blocks, []string{hashtags(singleTags, d)})
	return render(blocks)
}

// Album renders one caption listing every record, numbered in order.
func Album(day time.Time, records []fallen.DetailRecord) string {
	blocks := [][]string{
		{albumHeader},
		{fmt.Sprintf("📅 On this day, %s, we remember these brave service members who made the ultimate sacrifice:",
			day.Format("January 02"))},
	}
	for i, d := range records {
		entry := []string{fmt.Sprintf("%d. %s", i+1, displayName(d))}
		var details []string
		if date := knownDate(d); date != "" {
			details = append(details, "Died: "+date)
		}
		if d.DeathLocation != "" {
			details = append(details, "Location: "+d.DeathLocation)
		}
		if len(details) > 0 {
			entry = append(entry, "   "+strings.Join(details, " | "))
		}
		blocks = append(blocks, entry)
	}
	for _, line := range albumRemembrance {
		blocks = append(blocks, []string{line})
	}
	blocks = append(blocks, []string{closingQuote}, []string{hashtags(albumTags, records...)})
	return render(blocks)
}

func displayName(d fallen.DetailRecord) string {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		name = fallen.UnknownName
	}
	if d.Rank == "" {
		return name
	}
	return d.Rank + " " + name
}

func knownDate(d fallen.DetailRecord) string {
	date := d.DisplayDate()
	if date == fallen.UnknownDate {
		return ""
	}
	return date
}

func appendField(lines []string, label, value string) []string {
	if value = strings.TrimSpace(value); value == "" {
		return lines
	}
	return append(lines, label+value)
}

// hashtags returns base plus the tags for every branch present, in table order.
func hashtags(base []string, records ...fallen.DetailRecord) string {
	tags := append([]string(nil), base...)
	for _, bt := range branchTags {
		for _, d := range records {
			if strings.Contains(strings.ToLower(d.Branch), bt.match) {
				tags = append(tags, bt.tags...)
				break
			}
		}
	}
	return strings.Join(tags, " ")
}

func render(blocks [][]string) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if len(b) > 0 {
			parts = append(parts, strings.Join(b, "\n"))
		}
	}
	return strings.Join(parts, "\n\n")
}
