package store

import "github.com/msageha/alarmd/internal/model"

// OpenSettings opens the user settings. A stored update interval that is
// no longer one of the known options is reset to everyday.
func OpenSettings(s *Store) *Value[model.Settings] {
	return Open(s, model.SettingsKey, model.DefaultSettings, WithMigration(resetUnknownInterval))
}

func resetUnknownInterval(st model.Settings) (model.Settings, bool) {
	if model.IsKnownInterval(st.UpdateSubsInterval) {
		return st, false
	}
	st.UpdateSubsInterval = model.IntervalEveryday.Millis()
	return st, true
}

func OpenRecords(s *Store) *Value[model.Records] {
	return Open(s, model.RecordsKey, model.DefaultRecords)
}

// IncreaseClickCount adds n to the persisted click counter.
func IncreaseClickCount(v *Value[model.Records], n int64) model.Records {
	return v.Update(func(r model.Records) model.Records {
		r.ClickCount += n
		return r
	})
}
