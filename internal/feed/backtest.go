package feed

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"cryptotrader/pkg/types"
)

// metricTypes are the two file families a backtest folder holds, matching
// the market_price_<unix>.csv / orders_<unix>.csv (and order_buys_/
// order_sells_ variants, normalized to "orders") naming convention.
var metricTypes = []string{"market_price", "orders"}

// marketPriceFile replays a single market_price_<unix>.csv file: rows of
// (time, value), sorted by time.
type marketPriceFile struct {
	path      string
	rows      []marketPriceRow
	current   time.Time
	startTime time.Time
	endTime   time.Time
}

type marketPriceRow struct {
	t     time.Time
	value string
}

func loadMarketPriceFile(path string) (*marketPriceFile, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	f := &marketPriceFile{path: path}
	for _, rec := range rows {
		t, err := parseCSVTime(rec["time"])
		if err != nil {
			continue
		}
		f.rows = append(f.rows, marketPriceRow{t: t, value: rec["value"]})
	}
	sort.Slice(f.rows, func(i, j int) bool { return f.rows[i].t.Before(f.rows[j].t) })
	if len(f.rows) == 0 {
		return nil, fmt.Errorf("%s: no usable rows", path)
	}
	f.startTime = f.rows[0].t
	f.current = f.startTime
	f.endTime = f.rows[len(f.rows)-1].t
	return f, nil
}

// nextValues returns the ticker message covering rows in (current, until],
// advancing current to the latest row time consumed. end reports whether
// until is past the file's last row (caller should move to the next file).
func (f *marketPriceFile) nextValues(until time.Time) (msg []byte, end bool) {
	if until.After(f.endTime) {
		return nil, true
	}

	var latest *marketPriceRow
	for i := range f.rows {
		row := f.rows[i]
		if row.t.After(f.current) && !row.t.After(until) {
			if latest == nil || row.t.After(latest.t) {
				r := row
				latest = &r
			}
		}
	}
	if latest == nil {
		return nil, false
	}
	f.current = latest.t

	out := types.TickerMessage{
		Channel:   "ticker",
		Timestamp: until.UTC().Format(time.RFC3339),
		Events:    []types.TickerEvent{{Tickers: []types.TickerPrint{{Price: latest.value}}}},
	}

	data, _ := json.Marshal(out)
	return data, false
}

// ordersFile replays a single orders_<unix>.csv file: rows of (time, price,
// volume, side), aggregated per window by (price, side).
type ordersFile struct {
	path      string
	rows      []orderRow
	current   time.Time
	startTime time.Time
	endTime   time.Time
}

type orderRow struct {
	t      time.Time
	price  string
	volume float64
	side   string
}

func loadOrdersFile(path string) (*ordersFile, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	f := &ordersFile{path: path}
	for _, rec := range rows {
		t, err := parseCSVTime(rec["time"])
		if err != nil {
			continue
		}
		vol, err := strconv.ParseFloat(rec["volume"], 64)
		if err != nil {
			continue
		}
		f.rows = append(f.rows, orderRow{t: t, price: rec["price"], volume: vol, side: rec["side"]})
	}
	sort.Slice(f.rows, func(i, j int) bool { return f.rows[i].t.Before(f.rows[j].t) })
	if len(f.rows) == 0 {
		return nil, fmt.Errorf("%s: no usable rows", path)
	}
	f.startTime = f.rows[0].t
	f.current = f.startTime
	f.endTime = f.rows[len(f.rows)-1].t
	return f, nil
}

func (f *ordersFile) nextValues(until time.Time) (msg []byte, end bool) {
	if until.After(f.endTime) {
		return nil, true
	}

	type key struct{ price, side string }
	sums := make(map[key]float64)
	var any bool
	for _, row := range f.rows {
		if row.t.After(f.current) && !row.t.After(until) {
			sums[key{row.price, row.side}] += row.volume
			any = true
		}
	}
	if !any {
		f.current = until
		return nil, false
	}
	f.current = until

	var updates []types.L2Update
	for k, vol := range sums {
		updates = append(updates, types.L2Update{Side: k.side, PriceLevel: k.price, NewQuantity: strconv.FormatFloat(vol, 'f', -1, 64)})
	}

	out := types.L2Message{
		Channel:   "l2_data",
		Timestamp: until.UTC().Format(time.RFC3339),
		Events:    []types.L2Event{{Type: "update", Updates: updates}},
	}

	data, _ := json.Marshal(out)
	return data, false
}

// replayFile is the common interface both file kinds satisfy.
type replayFile interface {
	nextValues(until time.Time) (msg []byte, end bool)
	StartTime() time.Time
}

func (f *marketPriceFile) StartTime() time.Time { return f.startTime }
func (f *ordersFile) StartTime() time.Time      { return f.startTime }

// BacktestFeed replays market_price_<unix>.csv / orders_<unix>.csv files
// from folderPath in start-time order, pacing emission at realTimeFactor
// relative to wall-clock time: each interval tick emits whatever messages
// fall in (current, current+interval].
type BacktestFeed struct {
	folderPath     string
	interval       time.Duration
	realTimeFactor float64
	logger         *slog.Logger

	startTime time.Time
	current   time.Time

	filesByType map[string]map[time.Time]string // metric type -> start time -> path
	activeFile  map[string]replayFile
}

// NewBacktestFeed constructs a BacktestFeed replaying files under
// folderPath starting no earlier than startTime, advancing interval per
// tick at realTimeFactor speed (2.0 replays twice as fast as real time).
func NewBacktestFeed(folderPath string, startTime time.Time, interval time.Duration, realTimeFactor float64, logger *slog.Logger) *BacktestFeed {
	return &BacktestFeed{
		folderPath:     folderPath,
		interval:       interval,
		realTimeFactor: realTimeFactor,
		startTime:      startTime,
		current:        startTime,
		filesByType:    make(map[string]map[time.Time]string),
		activeFile:     make(map[string]replayFile),
		logger:         logger.With("component", "backtest_feed"),
	}
}

// prepareFiles scans folderPath and indexes every matching CSV by metric
// type and the unix start time embedded in its name.
func (b *BacktestFeed) prepareFiles() error {
	entries, err := os.ReadDir(b.folderPath)
	if err != nil {
		return fmt.Errorf("read backtest folder: %w", err)
	}

	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".csv") {
			continue
		}

		metricType, unixPart, ok := classifyFile(name)
		if !ok {
			continue
		}
		unixSec, err := strconv.ParseInt(unixPart, 10, 64)
		if err != nil {
			continue
		}
		fileStart := time.Unix(unixSec, 0).UTC()
		if fileStart.Before(b.startTime) {
			continue
		}

		if b.filesByType[metricType] == nil {
			b.filesByType[metricType] = make(map[time.Time]string)
		}
		b.filesByType[metricType][fileStart] = filepath.Join(b.folderPath, name)
	}
	return nil
}

// classifyFile matches a file name against the market_price_/orders_/
// order_buys_/order_sells_ prefixes, normalizing the order variants to
// "orders", and extracts the unix timestamp component.
func classifyFile(name string) (metricType, unixPart string, ok bool) {
	prefixes := map[string]string{
		"market_price_": "market_price",
		"order_buys_":   "orders",
		"order_sells_":  "orders",
		"orders_":       "orders",
	}
	for prefix, mt := range prefixes {
		if strings.HasPrefix(name, prefix) {
			rest := strings.TrimPrefix(name, prefix)
			rest = strings.TrimSuffix(rest, ".csv")
			return mt, rest, true
		}
	}
	return "", "", false
}

// nextFileForMetric returns the path of the earliest file whose start time
// is strictly after b.current, or "" if none remains.
func (b *BacktestFeed) nextFileForMetric(metricType string) string {
	var matched time.Time
	var matchedPath string
	for start, path := range b.filesByType[metricType] {
		if start.After(b.current) {
			if matchedPath == "" || start.Before(matched) {
				matched = start
				matchedPath = path
			}
		}
	}
	return matchedPath
}

func (b *BacktestFeed) loadFile(metricType, path string) (replayFile, error) {
	if metricType == "market_price" {
		return loadMarketPriceFile(path)
	}
	return loadOrdersFile(path)
}

func (b *BacktestFeed) advanceFile(metricType string) (replayFile, bool) {
	path := b.nextFileForMetric(metricType)
	if path == "" {
		return nil, false
	}
	f, err := b.loadFile(metricType, path)
	if err != nil {
		b.logger.Warn("skipping unreadable backtest file", "path", path, "error", err)
		return nil, false
	}
	b.activeFile[metricType] = f
	return f, true
}

// initialiseFiles seeds the active file set and sets current to one
// interval before the earliest file's start time.
func (b *BacktestFeed) initialiseFiles() {
	// Start just before startTime so a file starting exactly at startTime
	// passes nextFileForMetric's strictly-after check.
	b.current = b.startTime.Add(-time.Nanosecond)
	var earliest time.Time
	for _, mt := range metricTypes {
		f, ok := b.advanceFile(mt)
		if !ok {
			continue
		}
		if earliest.IsZero() || f.StartTime().Before(earliest) {
			earliest = f.StartTime()
		}
	}
	if !earliest.IsZero() {
		b.current = earliest.Add(-b.interval)
	}
}

// nextEvent returns the next ready message across both metric types,
// advancing to a fresh file when the active one is exhausted.
func (b *BacktestFeed) nextEvent() []byte {
	until := b.current.Add(b.interval)
	for _, mt := range metricTypes {
		f, ok := b.activeFile[mt]
		if !ok {
			f, ok = b.advanceFile(mt)
			if !ok {
				continue
			}
		}

		data, end := f.nextValues(until)
		for end {
			f, ok = b.advanceFile(mt)
			if !ok {
				break
			}
			data, end = f.nextValues(until)
		}
		if data != nil {
			return data
		}
	}
	return nil
}

// Run drives the replay loop until ctx is cancelled: each tick either
// delivers a ready message immediately, or advances current by interval
// and sleeps interval/realTimeFactor of wall-clock time.
func (b *BacktestFeed) Run(ctx context.Context, onMessage func(data []byte)) error {
	if err := b.prepareFiles(); err != nil {
		return err
	}
	b.initialiseFiles()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if data := b.nextEvent(); data != nil {
			onMessage(data)
			continue
		}

		b.current = b.current.Add(b.interval)
		wait := time.Duration(float64(b.interval) / b.realTimeFactor)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func readCSV(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("%s: empty file", path)
	}

	header := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseCSVTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}
