// Package sms matches inbound messages against the configured keyword and
// raises the alarm on a match.
package sms

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/msageha/alarmd/internal/model"
)

// SettingsSource yields the current settings. *store.Value[model.Settings]
// satisfies it.
type SettingsSource interface {
	Get() model.Settings
}

// Dispatcher receives the command raised on a match.
type Dispatcher interface {
	Dispatch(action model.Action)
}

// Listener observes every checked message. path is "observer" or
// "receiver".
type Listener func(path, from string, matched bool)

const (
	PathObserver = "observer"
	PathReceiver = "receiver"
)

// Matcher checks text for the keyword read from settings at call time.
type Matcher struct {
	settings SettingsSource
}

func NewMatcher(settings SettingsSource) *Matcher {
	return &Matcher{settings: settings}
}

// Match reports whether text contains the keyword, either as is or after
// lowercasing both. An empty keyword never matches.
func (m *Matcher) Match(text string) bool {
	key := m.settings.Get().MsgContentKey
	// Plain containment would match every message on an empty keyword;
	// an unset keyword disables matching instead.
	if key == "" {
		return false
	}
	if strings.Contains(text, key) {
		return true
	}
	// Casers carry state and are not shared between calls.
	lower := cases.Lower(language.Und)
	return strings.Contains(lower.String(text), lower.String(key))
}
