package model

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Store keys. The suffix is the persistence version of the record layout.
const (
	SettingsKey = "store-v2"
	RecordsKey  = "record_store-v2"
)

// DefaultCustomNotifText uses the four placeholders understood by the status renderer.
const DefaultCustomNotifText = "${i}全局/${k}应用/${u}规则组/${n}触发"

// DefaultMsgContentKey is the example keyword watched for in inbound messages.
const DefaultMsgContentKey = "上海交警"

// Settings is the persisted user configuration.
type Settings struct {
	EnableService       bool   `yaml:"enable_service" json:"enable_service"`
	EnableMatch         bool   `yaml:"enable_match" json:"enable_match"`
	EnableStatusService bool   `yaml:"enable_status_service" json:"enable_status_service"`
	UseCustomNotifText  bool   `yaml:"use_custom_notif_text" json:"use_custom_notif_text"`
	CustomNotifText     string `yaml:"custom_notif_text" json:"custom_notif_text"`
	MsgContentKey       string `yaml:"msg_content_key" json:"msg_content_key"`
	UpdateSubsInterval  int64  `yaml:"update_subs_interval" json:"update_subs_interval"`
	ToastWhenClick      bool   `yaml:"toast_when_click" json:"toast_when_click"`
	ClickToast          string `yaml:"click_toast" json:"click_toast"`
	LogToFile           bool   `yaml:"log_to_file" json:"log_to_file"`
}

func DefaultSettings() Settings {
	return Settings{
		EnableService:       true,
		EnableMatch:         true,
		EnableStatusService: true,
		UseCustomNotifText:  false,
		CustomNotifText:     DefaultCustomNotifText,
		MsgContentKey:       DefaultMsgContentKey,
		UpdateSubsInterval:  IntervalEveryday.Millis(),
		ToastWhenClick:      true,
		ClickToast:          "GKD",
		LogToFile:           true,
	}
}

// Records holds counters that change often and are persisted separately from Settings.
type Records struct {
	ClickCount int64 `yaml:"click_count" json:"click_count"`
}

func DefaultRecords() Records { return Records{} }

// UpdateInterval is how often rule subscriptions are refreshed, in milliseconds.
// A negative value pauses refreshing.
type UpdateInterval int64

const (
	IntervalPause       UpdateInterval = -1
	IntervalEvery3Hour  UpdateInterval = UpdateInterval(3 * time.Hour / time.Millisecond)
	IntervalEvery6Hour  UpdateInterval = UpdateInterval(6 * time.Hour / time.Millisecond)
	IntervalEvery12Hour UpdateInterval = UpdateInterval(12 * time.Hour / time.Millisecond)
	IntervalEveryday    UpdateInterval = UpdateInterval(24 * time.Hour / time.Millisecond)
)

// UpdateIntervals lists the recognized options in display order.
var UpdateIntervals = []UpdateInterval{
	IntervalPause,
	IntervalEvery3Hour,
	IntervalEvery6Hour,
	IntervalEvery12Hour,
	IntervalEveryday,
}

func (u UpdateInterval) Millis() int64 { return int64(u) }

// Duration returns 0 for Pause.
func (u UpdateInterval) Duration() time.Duration {
	if u <= 0 {
		return 0
	}
	return time.Duration(u) * time.Millisecond
}

func (u UpdateInterval) String() string {
	switch u {
	case IntervalPause:
		return "pause"
	case IntervalEvery3Hour:
		return "every_3_hours"
	case IntervalEvery6Hour:
		return "every_6_hours"
	case IntervalEvery12Hour:
		return "every_12_hours"
	case IntervalEveryday:
		return "everyday"
	default:
		return "unknown"
	}
}

// IsKnownInterval reports whether ms matches one of UpdateIntervals.
func IsKnownInterval(ms int64) bool {
	for _, opt := range UpdateIntervals {
		if opt.Millis() == ms {
			return true
		}
	}
	return false
}

// ParseUpdateInterval accepts an option name or a millisecond value.
func ParseUpdateInterval(s string) (UpdateInterval, bool) {
	for _, opt := range UpdateIntervals {
		if opt.String() == s {
			return opt, true
		}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || !IsKnownInterval(ms) {
		return 0, false
	}
	return UpdateInterval(ms), true
}

// SettingKeys lists the yaml names of the Settings fields.
func SettingKeys() []string {
	t := reflect.TypeOf(Settings{})
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		keys = append(keys, yamlName(t.Field(i)))
	}
	return keys
}

// ApplySetting parses value into the field named key (its yaml name) and
// returns the modified copy.
func ApplySetting(s Settings, key, value string) (Settings, error) {
	rv := reflect.ValueOf(&s).Elem()
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		if yamlName(t.Field(i)) != key {
			continue
		}
		f := rv.Field(i)
		switch f.Kind() {
		case reflect.Bool:
			b, err := strconv.ParseBool(value)
			if err != nil {
				return s, fmt.Errorf("%s: %w", key, err)
			}
			f.SetBool(b)
		case reflect.Int64:
			if key == "update_subs_interval" {
				u, ok := ParseUpdateInterval(value)
				if !ok {
					return s, fmt.Errorf("%s: unknown interval %q", key, value)
				}
				f.SetInt(u.Millis())
				break
			}
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return s, fmt.Errorf("%s: %w", key, err)
			}
			f.SetInt(n)
		case reflect.String:
			f.SetString(value)
		default:
			return s, fmt.Errorf("%s: unsupported kind %s", key, f.Kind())
		}
		return s, nil
	}
	return s, fmt.Errorf("unknown setting %q", key)
}

func yamlName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
	return name
}
