package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/trafficlight/internal/config"
	"github.com/conneroisu/trafficlight/internal/testutils"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestSubscriptionMatches(t *testing.T) {
	data := Subscription{Dir: "/p/data", Patterns: []string{"*.json"}}
	sass := Subscription{Dir: "/p/sass", Recursive: true, Patterns: []string{"*.*"}}

	tests := []struct {
		name string
		sub  Subscription
		path string
		want bool
	}{
		{"direct json", data, "/p/data/report.json", true},
		{"wrong extension", data, "/p/data/report.txt", false},
		{"nested in flat subscription", data, "/p/data/old/report.json", false},
		{"outside", data, "/p/other/report.json", false},
		{"sibling prefix", data, "/p/data2/report.json", false},
		{"directory itself", data, "/p/data", false},
		{"nested in recursive subscription", sass, "/p/sass/partials/_vars.scss", true},
		{"no dot", sass, "/p/sass/Makefile", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.Matches(filepath.FromSlash(tt.path)))
		})
	}
}

func TestDefaultSubscriptions(t *testing.T) {
	subs := DefaultSubscriptions(config.Default().Inputs)
	require.Len(t, subs, 5)

	var data Subscription
	for _, s := range subs {
		if s.Dir == "data" {
			data = s
		}
	}
	assert.False(t, data.Recursive)
	assert.Equal(t, []string{"*.json"}, data.Patterns)

	// compiled catalogs are build output
	for _, s := range subs {
		assert.False(t, s.Matches(filepath.Join("i18n", "de_DE", "messages.json")))
	}
}

func TestFilters(t *testing.T) {
	assert.True(t, NoHiddenFilter("templates/report.html"))
	assert.False(t, NoHiddenFilter("templates/.#report.html"))
	assert.True(t, NoBackupFilter("data/report.json"))
	assert.False(t, NoBackupFilter("data/report.json~"))
	assert.False(t, NoBackupFilter("templates/.report.html.swp"))
}

func TestWriteLogFilter(t *testing.T) {
	p := testutils.CreateTempProject(t)
	catalog := p.WriteFile(t, "i18n/de_DE/messages.yaml", "locale: de_DE\n")

	writes := NewWriteLog()
	assert.True(t, writes.Filter(catalog))

	writes.Record(catalog, p.Path("i18n/missing.yaml"))
	assert.False(t, writes.Filter(catalog))
	assert.False(t, writes.Filter(p.Path("i18n/de_DE/../de_DE/messages.yaml")))
	assert.True(t, writes.Filter(p.Path("i18n/missing.yaml")))
	assert.True(t, writes.Filter(p.Path("data/report.json")))

	// an edit after the recorded write passes
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(catalog, later, later))
	assert.True(t, writes.Filter(catalog))
}

func TestFileWatcherIgnoresRecordedWrites(t *testing.T) {
	p := testutils.CreateTempProject(t)
	catalog := p.WriteFile(t, "i18n/de_DE/messages.yaml", "locale: de_DE\n")

	fw, err := NewFileWatcher(NewThrottle(time.Nanosecond, nil), nil)
	require.NoError(t, err)
	require.NoError(t, fw.Subscribe(Subscription{Dir: p.Config.Inputs.Locales, Recursive: true, Patterns: []string{"*.yaml"}}))

	writes := NewWriteLog()
	fw.AddFilter(writes.Filter)
	rec := &recorder{}
	fw.AddHandler(rec.handle)

	// written while subscribed but before Run, like the initial build
	require.NoError(t, os.WriteFile(catalog, []byte("locale: de_DE\nmessages: []\n"), 0o644))
	writes.Record(catalog)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fw.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, rec.count())

	// a later edit by a translator is seen
	testutils.WaitFor(t, 2*time.Second, func() bool {
		_ = os.WriteFile(catalog, []byte("locale: de_DE\nmessages: []\n# edited\n"), 0o644)
		return rec.count() >= 1
	})
	assert.Contains(t, rec.paths(), catalog)
}

type recorder struct {
	mu      sync.Mutex
	batches [][]ChangeEvent
}

func (r *recorder) handle(_ context.Context, events []ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, events)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *recorder) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var paths []string
	for _, batch := range r.batches {
		for _, e := range batch {
			paths = append(paths, e.Path)
		}
	}
	return paths
}

func startWatcher(t *testing.T, gate Gate, subs ...Subscription) *recorder {
	t.Helper()

	fw, err := NewFileWatcher(gate, nil)
	require.NoError(t, err)
	for _, sub := range subs {
		require.NoError(t, fw.Subscribe(sub))
	}

	rec := &recorder{}
	fw.AddHandler(rec.handle)
	fw.AddFilter(NoBackupFilter)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fw.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("watcher did not stop")
		}
	})

	return rec
}

func TestFileWatcherBurstTriggersOnce(t *testing.T) {
	p := testutils.CreateTempProject(t)
	rec := startWatcher(t, NewThrottle(5*time.Second, nil),
		Subscription{Dir: p.Config.Inputs.Data, Patterns: []string{"*.json"}})

	p.WriteFile(t, "data/report.json", `{"risks": []}`)
	p.WriteFile(t, "data/summary.json", `{}`)

	testutils.WaitFor(t, time.Second, func() bool { return rec.count() >= 1 })
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, 1, rec.count())
}

func TestFileWatcherIgnoresUnmatchedFiles(t *testing.T) {
	p := testutils.CreateTempProject(t)
	rec := startWatcher(t, NewThrottle(time.Nanosecond, nil),
		Subscription{Dir: p.Config.Inputs.Data, Patterns: []string{"*.json"}})

	p.WriteFile(t, "data/notes.txt", "ignored")
	p.WriteFile(t, "data/report.json~", "ignored")
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, rec.count())

	p.WriteFile(t, "data/report.json", "{}")
	testutils.WaitFor(t, time.Second, func() bool { return rec.count() >= 1 })
	assert.Contains(t, rec.paths(), p.Path("data/report.json"))
}

func TestFileWatcherWatchesNewDirectories(t *testing.T) {
	p := testutils.CreateTempProject(t)
	rec := startWatcher(t, NewThrottle(time.Nanosecond, nil),
		Subscription{Dir: p.Config.Inputs.Styles, Recursive: true, Patterns: []string{"*.scss"}})

	require.NoError(t, os.MkdirAll(p.Path("sass/partials"), 0o755))
	time.Sleep(100 * time.Millisecond)

	target := p.Path("sass/partials/_colors.scss")
	testutils.WaitFor(t, 2*time.Second, func() bool {
		// rewrite until the new directory is being watched
		_ = os.WriteFile(target, []byte("$red: #f00;"), 0o644)
		for _, path := range rec.paths() {
			if path == target {
				return true
			}
		}
		return false
	})
}

func TestFileWatcherDebounce(t *testing.T) {
	p := testutils.CreateTempProject(t)
	rec := startWatcher(t, NewDebouncer(150*time.Millisecond),
		Subscription{Dir: p.Config.Inputs.Templates, Recursive: true, Patterns: []string{"*.html"}})

	for i := 0; i < 5; i++ {
		p.WriteFile(t, "templates/report.html", testutils.ReportTemplate)
		time.Sleep(20 * time.Millisecond)
	}

	testutils.WaitFor(t, 2*time.Second, func() bool { return rec.count() >= 1 })
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, 1, rec.count())
	assert.Equal(t, []string{p.Path("templates/report.html")}, rec.paths())
}

func TestSubscribeMissingDirectory(t *testing.T) {
	fw, err := NewFileWatcher(NewThrottle(time.Second, nil), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fw.watcher.Close() })

	assert.NoError(t, fw.Subscribe(Subscription{Dir: filepath.Join(t.TempDir(), "missing")}))
	assert.Empty(t, fw.subs)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	assert.Error(t, fw.Subscribe(Subscription{Dir: file}))
}
