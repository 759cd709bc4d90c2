package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/incubator.report/internal/events"
	"github.com/banshee-data/incubator.report/internal/fsutil"
	"github.com/banshee-data/incubator.report/internal/monitoring"
	"github.com/banshee-data/incubator.report/internal/storage"
	"github.com/banshee-data/incubator.report/internal/telemetry"
	"github.com/banshee-data/incubator.report/internal/timeutil"
)

const dataDir = "/data"

var day = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func at(hh, mm int) time.Time { return day.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute) }

const liveDay1 = telemetry.LegacyHeader + `
2,2024-03-01T10:00:00.000Z,36.5,37,800,800,true,P-1
2,2024-03-01T10:03:00.000Z,36.9,37,800,800,true,P-1
2,2024-03-01T10:10:00.000Z,37,37,800,800,true,P-1
1,2024-03-01T10:00:00.000Z,25,37,,,false,null
`

const simulatedDay1 = telemetry.ExtendedHeader + `
3,2024-03-01T10:00:00.000Z,37,37,3,800,800,true,SIM-0003
`

func muteLogs(t *testing.T) {
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(orig) })
}

func newStore(t *testing.T, files map[string]string) *storage.Store {
	t.Helper()
	fsys := fsutil.NewMemoryFileSystem()
	store, err := storage.New(fsys, dataDir, timeutil.NewMockClock(day))
	require.NoError(t, err)
	for name, content := range files {
		require.NoError(t, fsys.WriteFile(filepath.Join(dataDir, name), []byte(content), 0o644))
	}
	return store
}

// failingStore refuses to read one file.
type failingStore struct {
	*storage.Store
	bad string
}

func (s failingStore) ReadFile(name string) (string, error) {
	if name == s.bad {
		return "", errors.New("disk read error")
	}
	return s.Store.ReadFile(name)
}

type fakeEvents struct {
	mu    sync.Mutex
	evs   []events.Event
	err   error
	calls int
}

func (f *fakeEvents) FetchEvents(_ context.Context, start, end time.Time, channel *int) ([]events.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []events.Event
	for _, e := range f.evs {
		if channel != nil && e.Channel != nil && *e.Channel != *channel {
			continue
		}
		if (!start.IsZero() && e.Timestamp.Before(start)) || (!end.IsZero() && !e.Timestamp.Before(end)) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func intPtr(i int) *int { return &i }

func defaultFiles() map[string]string {
	return map[string]string{
		"incubator_live_2024-03-01.csv":      liveDay1,
		"incubator_simulated_2024-03-01.csv": simulatedDay1,
		"notes.txt":                          "ignored",
	}
}

func TestLoad_ModeAndWindow(t *testing.T) {
	p := New(newStore(t, defaultFiles()), nil, Options{Mode: storage.ModeLive}, nil)

	all, err := p.Load(context.Background(), telemetry.Window{})
	require.NoError(t, err)
	assert.Len(t, all, 4, "simulated file is excluded")

	// End is exclusive.
	some, err := p.Load(context.Background(), telemetry.Window{Start: at(10, 0), End: at(10, 10)})
	require.NoError(t, err)
	require.Len(t, some, 3)
	assert.Equal(t, 1, some[0].Channel, "same instant sorts by channel")
	assert.Equal(t, at(10, 3), some[2].Timestamp)

	// A window on another day never reads the file.
	none, err := p.Load(context.Background(), telemetry.Window{Start: day.Add(48 * time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, none)

	mixed := New(newStore(t, defaultFiles()), nil, Options{}, nil)
	both, err := mixed.Load(context.Background(), telemetry.Window{})
	require.NoError(t, err)
	assert.Len(t, both, 5)
}

// readCountingStore records which files were read.
type readCountingStore struct {
	*storage.Store
	mu   sync.Mutex
	read []string
}

func (s *readCountingStore) ReadFile(name string) (string, error) {
	s.mu.Lock()
	s.read = append(s.read, name)
	s.mu.Unlock()
	return s.Store.ReadFile(name)
}

func TestLoad_RowPastMidnightInPreviousDayFile(t *testing.T) {
	store := &readCountingStore{Store: newStore(t, map[string]string{
		"incubator_live_2024-03-01.csv": telemetry.ExtendedHeader + `
2,2024-03-01T23:59:55.000Z,37,37,3,800,800,true,P-1
2,2024-03-02T00:00:05.000Z,37.1,37,3,800,800,true,P-1
`,
		"incubator_live_2024-02-20.csv": telemetry.ExtendedHeader + `
2,2024-02-20T12:00:00.000Z,37,37,3,800,800,true,P-0
`,
	})}
	p := New(store, nil, Options{Mode: storage.ModeLive}, nil)

	window := telemetry.Window{Start: day.Add(24 * time.Hour), End: day.Add(25 * time.Hour)}
	got, err := p.Load(context.Background(), window)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, day.Add(24*time.Hour+5*time.Second), got[0].Timestamp)
	assert.Equal(t, []string{"incubator_live_2024-03-01.csv"}, store.read, "distant days are not read")

	content, err := store.Store.ReadFile("incubator_live_2024-03-01.csv")
	require.NoError(t, err)
	want := telemetry.Merge([]telemetry.File{telemetry.ParseFile("incubator_live_2024-03-01.csv", content)}, window)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load disagrees with Merge (-want +got):\n%s", diff)
	}
}

func TestLoad_FailedFileIsSkipped(t *testing.T) {
	muteLogs(t)
	store := newStore(t, map[string]string{
		"incubator_live_2024-03-01.csv": liveDay1,
		"incubator_live_2024-03-02.csv": telemetry.LegacyHeader + "\n2,2024-03-02T08:00:00.000Z,37,37,800,800,true,P-2\n",
	})
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	p := New(failingStore{Store: store, bad: "incubator_live_2024-03-01.csv"}, nil, Options{}, metrics)

	got, err := p.Load(context.Background(), telemetry.Window{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "P-2", *got[0].Barcode)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FilesFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RowsParsed))
}

func TestSessions_TwoSessionScenario(t *testing.T) {
	evs := &fakeEvents{evs: []events.Event{
		{ID: "door", Timestamp: at(10, 2), Kind: events.KindDoorOpen},
		{ID: "plate", Timestamp: at(10, 10).Add(30 * time.Second), Channel: intPtr(2), Kind: events.KindPlateRemoved},
		{ID: "other-shelf", Timestamp: at(10, 1), Channel: intPtr(1), Kind: events.KindPlateAdded},
		{ID: "late", Timestamp: at(11, 0), Channel: intPtr(2), Kind: events.KindScan},
	}}
	p := New(newStore(t, defaultFiles()), evs, Options{Mode: storage.ModeLive}, nil)

	reports, err := p.Sessions(context.Background(), telemetry.Window{}, intPtr(2))
	require.NoError(t, err)
	require.Len(t, reports, 2)

	first, second := reports[0], reports[1]
	assert.Equal(t, at(10, 0), first.Start)
	assert.Equal(t, at(10, 3), first.End)
	assert.Equal(t, at(10, 10), second.Start)
	assert.Equal(t, at(10, 10), second.End)

	require.Len(t, first.Events, 1)
	assert.Equal(t, "door", first.Events[0].ID)
	assert.Equal(t, 1, first.Events[0].NearestIndex, "10:02 is nearer 10:03 than 10:00")
	assert.Equal(t, "10:03:00", first.Events[0].DisplayTime)

	require.Len(t, second.Events, 1)
	assert.Equal(t, "Shelf 2 - Plate removed", second.Events[0].Description)

	assert.Equal(t, 2, first.Summary.Samples)
	assert.Equal(t, []string{"P-1"}, first.Summary.Barcodes)
	assert.Equal(t, 2, evs.calls, "one fetch per session")
}

func TestSessions_AllChannelsOrdered(t *testing.T) {
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	p := New(newStore(t, defaultFiles()), nil, Options{Mode: storage.ModeLive}, metrics)

	reports, err := p.Sessions(context.Background(), telemetry.Window{}, nil)
	require.NoError(t, err)

	type key struct {
		Channel int
		Start   time.Time
	}
	var got []key
	for _, r := range reports {
		got = append(got, key{r.Channel, r.Start})
		assert.NotNil(t, r.Events)
	}
	want := []key{{1, at(10, 0)}, {2, at(10, 0)}, {2, at(10, 10)}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("session order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.SessionsLast))
}

func TestSessions_CoverEveryChannelSample(t *testing.T) {
	p := New(newStore(t, defaultFiles()), nil, Options{}, nil)
	samples, err := p.Load(context.Background(), telemetry.Window{})
	require.NoError(t, err)
	reports, err := p.Sessions(context.Background(), telemetry.Window{}, nil)
	require.NoError(t, err)

	total := 0
	for _, r := range reports {
		total += len(r.Samples)
	}
	assert.Equal(t, len(samples), total)
}

func TestSessions_EventFetchFailure(t *testing.T) {
	muteLogs(t)
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	p := New(newStore(t, defaultFiles()), &fakeEvents{err: errors.New("db locked")}, Options{Mode: storage.ModeLive}, metrics)

	reports, err := p.Sessions(context.Background(), telemetry.Window{}, intPtr(2))
	require.NoError(t, err)
	require.Len(t, reports, 2)
	for _, r := range reports {
		assert.Empty(t, r.Events)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.EventFetchFailures))
}

func TestSessions_DownsampledSamplesFullSummary(t *testing.T) {
	rows := telemetry.ExtendedHeader + "\n"
	for i := 0; i < 10; i++ {
		s := telemetry.Sample{Channel: 4, Timestamp: at(9, i)}
		rows += s.CSVRow() + "\n"
	}
	p := New(newStore(t, map[string]string{"incubator_live_2024-03-01.csv": rows}), nil, Options{DownsampleCap: 3}, nil)

	reports, err := p.Sessions(context.Background(), telemetry.Window{}, nil)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Len(t, reports[0].Samples, 3)
	assert.Equal(t, 10, reports[0].Summary.Samples)
	assert.Equal(t, at(9, 9), reports[0].End, "bounds come from the full session")
}

func TestSessionsByBarcode(t *testing.T) {
	files := defaultFiles()
	files["incubator_live_2024-03-02.csv"] = telemetry.LegacyHeader + "\n3,2024-03-02T08:00:00.000Z,37,37,800,800,true,P-1\n"
	p := New(newStore(t, files), nil, Options{Mode: storage.ModeLive}, nil)

	reports, err := p.SessionsByBarcode(context.Background(), telemetry.Window{}, " P-1 ")
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, 2, reports[0].Channel)
	assert.Equal(t, 3, reports[2].Channel, "plate moved to shelf 3")

	_, err = p.SessionsByBarcode(context.Background(), telemetry.Window{}, "")
	assert.Error(t, err)
}

func TestChart(t *testing.T) {
	p := New(newStore(t, defaultFiles()), nil, Options{Mode: storage.ModeLive}, nil)

	records, err := p.Chart(context.Background(), telemetry.Window{}, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	first := records[0]
	assert.Equal(t, at(10, 0).UnixMilli(), first["timestamp"])
	assert.Equal(t, at(10, 0), first.Timestamp())
	temp, ok := first.Float(1, FieldCurrentTemp)
	assert.True(t, ok)
	assert.Equal(t, 25.0, temp)
	temp, _ = first.Float(2, FieldCurrentTemp)
	assert.Equal(t, 36.5, temp)
	_, ok = first.Float(1, FieldCurrentRPM)
	assert.False(t, ok, "absent fields are omitted")
	assert.Equal(t, "P-1", first["shelf2_barcode"])
	assert.Equal(t, false, first["shelf1_platePresent"])

	capped, err := p.Chart(context.Background(), telemetry.Window{}, 2)
	require.NoError(t, err)
	require.Len(t, capped, 2)
	assert.Equal(t, at(10, 10), capped[1].Timestamp())

	empty, err := p.Chart(context.Background(), telemetry.Window{Start: day.Add(72 * time.Hour)}, 0)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestExport(t *testing.T) {
	p := New(newStore(t, defaultFiles()), nil, Options{Mode: storage.ModeLive}, nil)

	rows, err := p.Export(context.Background(), telemetry.Window{}, intPtr(2))
	require.NoError(t, err)
	want := []string{
		telemetry.ExtendedHeader,
		"2,2024-03-01T10:00:00.000Z,36.5,37,3,800,800,true,P-1",
		"2,2024-03-01T10:03:00.000Z,36.9,37,3,800,800,true,P-1",
		"2,2024-03-01T10:10:00.000Z,37,37,3,800,800,true,P-1",
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("Export mismatch (-want +got):\n%s", diff)
	}

	// Exported rows parse back into the same samples.
	merged, err := p.Load(context.Background(), telemetry.Window{})
	require.NoError(t, err)
	var content string
	for _, r := range rows {
		content += r + "\n"
	}
	reparsed := telemetry.Merge([]telemetry.File{telemetry.ParseFile("export.csv", content)}, telemetry.Window{})
	assert.Equal(t, telemetry.ChannelTimeline(merged, 2), reparsed)
}

func TestEvents(t *testing.T) {
	evs := &fakeEvents{evs: []events.Event{{ID: "a", Timestamp: at(10, 0), Kind: events.KindAlarmArmed}}}
	p := New(newStore(t, nil), evs, Options{}, nil)

	got, err := p.Events(context.Background(), telemetry.Window{}, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, -1, got[0].NearestIndex)
	assert.NotEmpty(t, got[0].Description)

	evs.err = errors.New("gone")
	_, err = p.Events(context.Background(), telemetry.Window{}, nil)
	assert.Error(t, err)

	none := New(newStore(t, nil), nil, Options{}, nil)
	got, err = none.Events(context.Background(), telemetry.Window{}, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNew_Defaults(t *testing.T) {
	p := New(newStore(t, nil), nil, Options{}, nil)
	opts := p.Options()
	assert.Equal(t, telemetry.DefaultGapThreshold, opts.GapThreshold)
	assert.Equal(t, events.DefaultCorrelationSlack, opts.CorrelationSlack)
	assert.Equal(t, telemetry.DefaultDownsampleCap, opts.DownsampleCap)

	assert.Panics(t, func() { New(nil, nil, Options{GapThreshold: -time.Second}, nil) })
}

func TestSnapshot(t *testing.T) {
	clock := timeutil.NewMockClock(at(12, 0))
	p := New(newStore(t, defaultFiles()), nil, Options{Mode: storage.ModeLive}, nil)

	snap, err := p.LiveSnapshots(clock, 24*time.Hour)(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Chart, 3)
	assert.Len(t, snap.Sessions, 3)
	assert.Equal(t, at(12, 0), snap.GeneratedAt)
	assert.Equal(t, at(12, 0).Add(-24*time.Hour), snap.Start)
}
