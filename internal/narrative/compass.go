package narrative

import (
	"fmt"
	"sort"
	"strings"

	"github.com/starford/casefile/internal/evidence"
	"github.com/starford/casefile/internal/models"
)

// MoneyFlow is the buried total of one account.
type MoneyFlow struct {
	Account  string   `json:"account"`
	Total    int64    `json:"total"`
	TokenIDs []string `json:"tokenIds"`
}

// Compass is the shared context every phase writes against.
type Compass struct {
	Roster       []models.Character `json:"roster"`
	Observations string             `json:"observations"`
	Whiteboard   string             `json:"whiteboard,omitempty"`
	Exposed      []string           `json:"exposed"`
	Photos       []string           `json:"photos,omitempty"`
	Flows        []MoneyFlow        `json:"flows"`
	Themes       []string           `json:"themes,omitempty"`
	Feedback     []string           `json:"feedback,omitempty"`
}

// BuildCompass summarizes b for prompting. Buried tokens contribute only
// their ids and the money paid for them.
func BuildCompass(b evidence.Bundle, roster []models.Character, feedback []string) Compass {
	c := Compass{
		Roster:       append([]models.Character(nil), roster...),
		Observations: b.DirectorNotes.Observations,
		Whiteboard:   b.DirectorNotes.Whiteboard,
		Feedback:     append([]string(nil), feedback...),
	}
	sort.Slice(c.Roster, func(i, j int) bool { return c.Roster[i].Name < c.Roster[j].Name })

	themes := make(map[string]struct{})
	for _, e := range b.Exposed {
		line := fmt.Sprintf("[%s] %s: %s", e.TokenID, e.Name, e.FullDescription)
		if e.DisclosedBy != "" {
			line += fmt.Sprintf(" (exposed by %s)", e.DisclosedBy)
		}
		c.Exposed = append(c.Exposed, line)
		if e.MemoryType != "" {
			themes[strings.ToLower(e.MemoryType)] = struct{}{}
		}
	}
	for _, p := range b.Photos {
		c.Photos = append(c.Photos, fmt.Sprintf("[%s] %s", p.ID, p.Caption))
	}

	tokens := make(map[string][]string)
	for _, t := range b.Buried {
		tokens[t.Account] = append(tokens[t.Account], t.TokenID)
	}
	for account, total := range b.Totals() {
		ids := tokens[account]
		sort.Strings(ids)
		c.Flows = append(c.Flows, MoneyFlow{Account: account, Total: total, TokenIDs: ids})
	}
	sort.Slice(c.Flows, func(i, j int) bool {
		if c.Flows[i].Total != c.Flows[j].Total {
			return c.Flows[i].Total > c.Flows[j].Total
		}
		return c.Flows[i].Account < c.Flows[j].Account
	})
	for _, cluster := range clusters(roster) {
		themes[strings.ToLower(cluster)] = struct{}{}
	}
	for t := range themes {
		c.Themes = append(c.Themes, t)
	}
	sort.Strings(c.Themes)
	return c
}

// Names returns the roster names.
func (c Compass) Names() []string {
	out := make([]string, 0, len(c.Roster))
	for _, ch := range c.Roster {
		out = append(out, ch.Name)
	}
	return out
}

// String renders the compass as prompt text.
func (c Compass) String() string {
	var b strings.Builder
	b.WriteString("## Characters\n")
	for _, ch := range c.Roster {
		if ch.Cluster != "" {
			fmt.Fprintf(&b, "- %s (%s)\n", ch.Name, ch.Cluster)
		} else {
			fmt.Fprintf(&b, "- %s\n", ch.Name)
		}
	}
	b.WriteString("\n## Director observations (primary source)\n")
	b.WriteString(orNone(c.Observations))
	b.WriteString("\n\n## Whiteboard (secondary)\n")
	b.WriteString(orNone(c.Whiteboard))

	b.WriteString("\n\n## Exposed memories (quotable)\n")
	writeLines(&b, c.Exposed)
	if len(c.Photos) > 0 {
		b.WriteString("\n## Photos\n")
		writeLines(&b, c.Photos)
	}
	b.WriteString("\n## Buried memories (content unknown)\n")
	if len(c.Flows) == 0 {
		b.WriteString("(none)\n")
	}
	for _, f := range c.Flows {
		fmt.Fprintf(&b, "- account %s received $%s for %d memory(ies): %s\n",
			f.Account, dollars(f.Total), len(f.TokenIDs), strings.Join(f.TokenIDs, ", "))
	}
	if len(c.Themes) > 0 {
		fmt.Fprintf(&b, "\n## Themes\n%s\n", strings.Join(c.Themes, ", "))
	}
	if len(c.Feedback) > 0 {
		b.WriteString("\n## Reviewer feedback so far\n")
		writeLines(&b, c.Feedback)
	}
	return b.String()
}

func clusters(roster []models.Character) []string {
	var out []string
	for _, ch := range roster {
		if ch.Cluster != "" {
			out = append(out, ch.Cluster)
		}
	}
	return out
}

func writeLines(b *strings.Builder, lines []string) {
	if len(lines) == 0 {
		b.WriteString("(none)\n")
		return
	}
	for _, l := range lines {
		fmt.Fprintf(b, "- %s\n", l)
	}
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

func dollars(cents int64) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
