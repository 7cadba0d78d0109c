package status

import (
	"strconv"
	"strings"

	"github.com/msageha/alarmd/internal/model"
)

const (
	TextNotAuthorized = "service not authorized"
	TextMatchPaused   = "matching paused"
	TextNoRules       = "no rules"
)

// Template placeholders for the custom status text.
const (
	PlaceholderGlobalGroups = "${i}"
	PlaceholderApps         = "${k}"
	PlaceholderAppGroups    = "${u}"
	PlaceholderTriggers     = "${n}"
)

// Inputs is everything the status text depends on.
type Inputs struct {
	ServiceRunning bool
	Settings       model.Settings
	Summary        model.RuleSummary
	ClickCount     int64
}

// Render produces the status text for in. The first applicable rule wins:
// service not running, matching disabled, custom template, default summary.
func Render(in Inputs) string {
	switch {
	case !in.ServiceRunning:
		return TextNotAuthorized
	case !in.Settings.EnableMatch:
		return TextMatchPaused
	case in.Settings.UseCustomNotifText:
		return ExpandTemplate(in.Settings.CustomNotifText, in.Summary, in.ClickCount)
	default:
		return DefaultStatus(in.Summary, in.ClickCount)
	}
}

// ExpandTemplate replaces every placeholder literally. Placeholders may
// appear in any order, any number of times.
func ExpandTemplate(tmpl string, summary model.RuleSummary, count int64) string {
	return strings.NewReplacer(
		PlaceholderGlobalGroups, strconv.Itoa(summary.GlobalGroups),
		PlaceholderApps, strconv.Itoa(summary.AppSize),
		PlaceholderAppGroups, strconv.Itoa(summary.AppGroupSize),
		PlaceholderTriggers, strconv.FormatInt(count, 10),
	).Replace(tmpl)
}

// DefaultStatus summarises the loaded rules and the trigger count.
func DefaultStatus(summary model.RuleSummary, count int64) string {
	if summary.Empty() {
		return TextNoRules
	}
	var parts []string
	if summary.GlobalGroups > 0 {
		parts = append(parts, strconv.Itoa(summary.GlobalGroups)+" global")
	}
	if summary.AppSize > 0 {
		parts = append(parts, strconv.Itoa(summary.AppSize)+" apps/"+strconv.Itoa(summary.AppGroupSize)+" groups")
	}
	text := strings.Join(parts, "/")
	if count > 0 {
		text += "/" + strconv.FormatInt(count, 10) + " triggered"
	}
	return text
}
