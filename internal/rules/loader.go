// Package rules summarises rule subscription files and keeps the summary
// fresh on the configured update interval.
package rules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/msageha/alarmd/internal/model"
)

// LoadSubscriptions parses every *.yaml file in dir, in name order. Files
// that fail to parse are skipped and reported in the joined error. A missing
// dir yields no subscriptions.
func LoadSubscriptions(dir string) ([]model.Subscription, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var subs []model.Subscription
	var errs []error
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		var sub model.Subscription
		if err := yaml.Unmarshal(data, &sub); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		subs = append(subs, sub)
	}
	return subs, errors.Join(errs...)
}

// Summarize counts enabled groups. Apps with the same id across
// subscriptions count once; an app with no enabled group is not counted.
func Summarize(subs []model.Subscription) model.RuleSummary {
	var summary model.RuleSummary
	appGroups := make(map[string]int)
	for _, sub := range subs {
		for _, g := range sub.GlobalGroups {
			if g.Enabled() {
				summary.GlobalGroups++
			}
		}
		for _, app := range sub.Apps {
			for _, g := range app.Groups {
				if g.Enabled() {
					appGroups[app.ID]++
				}
			}
		}
	}
	for _, n := range appGroups {
		summary.AppSize++
		summary.AppGroupSize += n
	}
	return summary
}

// LoadSummary is LoadSubscriptions followed by Summarize.
func LoadSummary(dir string) (model.RuleSummary, error) {
	subs, err := LoadSubscriptions(dir)
	return Summarize(subs), err
}
