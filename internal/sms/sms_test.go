package sms

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/alarmd/internal/model"
)

type staticSettings struct{ key string }

func (s staticSettings) Get() model.Settings {
	st := model.DefaultSettings()
	st.MsgContentKey = s.key
	return st
}

type recordingDispatcher struct {
	mu      sync.Mutex
	actions []model.Action
}

func (d *recordingDispatcher) Dispatch(a model.Action) {
	d.mu.Lock()
	d.actions = append(d.actions, a)
	d.mu.Unlock()
}

func (d *recordingDispatcher) got() []model.Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.Action(nil), d.actions...)
}

func TestMatcher(t *testing.T) {
	tests := []struct {
		key  string
		text string
		want bool
	}{
		{"上海交警", "您有一条上海交警消息", true},
		{"上海交警", "no match here", false},
		{"OK", "ok now", true},
		{"ok", "Status: OK", true},
		{"ÉTÉ", "bel été", true},
		{"", "anything", false},
		{"key", "", false},
	}
	for _, tt := range tests {
		m := NewMatcher(staticSettings{key: tt.key})
		assert.Equal(t, tt.want, m.Match(tt.text), "key %q text %q", tt.key, tt.text)
	}
}

func TestMatcher_ReadsKeywordEachCall(t *testing.T) {
	src := &mutableSettings{key: "alpha"}
	m := NewMatcher(src)
	assert.True(t, m.Match("alpha beta"))

	src.set("gamma")
	assert.False(t, m.Match("alpha beta"))
}

type mutableSettings struct {
	mu  sync.Mutex
	key string
}

func (m *mutableSettings) set(k string) {
	m.mu.Lock()
	m.key = k
	m.mu.Unlock()
}

func (m *mutableSettings) Get() model.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return staticSettings{key: m.key}.Get()
}

type fakeFeed struct {
	mu       sync.Mutex
	msgs     []model.Message
	watchers map[int]func()
	next     int
	err      error
	limits   []int
}

func newFakeFeed() *fakeFeed { return &fakeFeed{watchers: map[int]func(){}} }

func (f *fakeFeed) Watch(fn func()) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.watchers[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.watchers, id)
		f.mu.Unlock()
	}
}

func (f *fakeFeed) Latest(_ context.Context, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Message
	for i := len(f.msgs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.msgs[i])
	}
	return out, nil
}

func (f *fakeFeed) insert(from, body string) {
	f.mu.Lock()
	f.msgs = append(f.msgs, model.Message{ID: body, From: from, Body: body})
	fns := make([]func(), 0, len(f.watchers))
	for _, fn := range f.watchers {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (f *fakeFeed) watcherCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers)
}

func TestObserver_MatchesLatestOnly(t *testing.T) {
	feed := newFakeFeed()
	d := &recordingDispatcher{}
	var seen []bool
	o := NewObserver(feed, NewMatcher(staticSettings{key: "上海交警"}), d,
		WithObserverListener(func(path, _ string, matched bool) {
			assert.Equal(t, PathObserver, path)
			seen = append(seen, matched)
		}))

	o.Register()
	feed.insert("10086", "您有一条上海交警消息")
	feed.insert("10010", "no match here")

	assert.Equal(t, []model.Action{model.ActionStartAlarm}, d.got())
	assert.Equal(t, []bool{true, false}, seen)
	for _, l := range feed.limits {
		assert.Equal(t, 1, l)
	}
}

func TestObserver_RegisterIsIdempotent(t *testing.T) {
	feed := newFakeFeed()
	d := &recordingDispatcher{}
	o := NewObserver(feed, NewMatcher(staticSettings{key: "hit"}), d)

	o.Register()
	o.Register()
	o.Register()
	assert.Equal(t, 1, feed.watcherCount())
	assert.True(t, o.Registered())

	feed.insert("x", "hit")
	assert.Len(t, d.got(), 1, "one registration, one dispatch")
}

func TestObserver_Unregister(t *testing.T) {
	feed := newFakeFeed()
	d := &recordingDispatcher{}
	o := NewObserver(feed, NewMatcher(staticSettings{key: "hit"}), d)

	o.Unregister()
	o.Register()
	o.Unregister()
	o.Unregister()
	assert.False(t, o.Registered())
	assert.Equal(t, 0, feed.watcherCount())

	feed.insert("x", "hit")
	assert.Empty(t, d.got())
}

func TestObserver_ReadErrorIsLogged(t *testing.T) {
	feed := newFakeFeed()
	feed.err = errors.New("db locked")
	d := &recordingDispatcher{}
	o := NewObserver(feed, NewMatcher(staticSettings{key: "hit"}), d)
	o.Register()

	require.NotPanics(t, func() { feed.insert("x", "hit") })
	assert.Empty(t, d.got())
}

func TestReceiver_ConcatenatesParts(t *testing.T) {
	d := &recordingDispatcher{}
	var from string
	r := NewReceiver(NewMatcher(staticSettings{key: "上海交警"}), d, func(_, f string, _ bool) { from = f }, nil)

	matched := r.Handle(model.Delivery{Parts: []model.MessagePart{
		{From: "1", Body: "您有一条上海"},
		{From: "10086", Body: "交警消息"},
	}})
	assert.True(t, matched, "keyword split across parts still matches")
	assert.Equal(t, "10086", from)
	assert.Equal(t, []model.Action{model.ActionStartAlarm}, d.got())

	assert.False(t, r.Handle(model.Delivery{Parts: []model.MessagePart{{From: "1", Body: "nothing"}}}))
	assert.False(t, r.Handle(model.Delivery{}))
	assert.Len(t, d.got(), 1)
}
