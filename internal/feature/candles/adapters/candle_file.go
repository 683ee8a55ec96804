package adapters

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"twstock_backend/internal/feature/candles/domain/entity"
	"twstock_backend/internal/feature/candles/usecase"
)

const (
	candleFileExt  = ".csv"
	spansFileExt   = ".spans.json"
	lockFileExt    = ".lock"
	corruptSuffix  = ".corrupt"
	turnoverColumn = "turnover"
	filePermission = 0o644
	dirPermission  = 0o755
	floatPrecision = -1
	lockRetryDelay = 10 * time.Millisecond
)

// csvHeader は書き出し時の列順です。読み込み時はヘッダー名で列を解決するため、
// 旧形式のCSV（余分な列や異なる列順）もそのまま読めます。
var csvHeader = []string{"date", "open", "high", "low", "close", "volume", turnoverColumn}

// candleFile は銘柄ごとに1つのCSVと取得来歴JSONを持つファイルベースのCandleStoreです。
//
//	{dir}/{symbol}.csv         日付昇順のローソク足
//	{dir}/{symbol}.spans.json  取得済み暦日範囲
//	{dir}/{symbol}.lock        銘柄単位のアドバイザリロック
//
// 書き込みは同一ディレクトリの一時ファイルへ書いてから rename するため、
// 読み手が書きかけのファイルを見ることはありません。
// サーバーと ingest など複数プロセスが同じディレクトリを共有するため、
// Merge はロックファイルの排他ロック、Load は共有ロックを保持したまま読み書きします。
type candleFile struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.RWMutex

	now func() time.Time
}

var _ usecase.CandleStore = (*candleFile)(nil)

// NewCandleFileStore は dir を保存先とするファイルストアを生成します。dir が無ければ作成します。
func NewCandleFileStore(dir string) (*candleFile, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("candle store: data dir is empty")
	}
	if err := os.MkdirAll(dir, dirPermission); err != nil {
		return nil, fmt.Errorf("candle store: create data dir: %w", err)
	}
	return &candleFile{
		dir:   dir,
		locks: make(map[string]*sync.RWMutex),
		now:   time.Now,
	}, nil
}

// spansDocument は取得来歴ファイルの中身です。
type spansDocument struct {
	Symbol    string             `json:"symbol"`
	Spans     []entity.DateRange `json:"spans"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func (s *candleFile) lock(symbol string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[symbol]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[symbol] = l
	}
	return l
}

// withLock は銘柄のプロセス内ロックとロックファイルへのOSロックを取得してから fn を実行します。
// exclusive でない場合はどちらも共有ロックです。
func (s *candleFile) withLock(ctx context.Context, symbol string, exclusive bool, fn func() error) error {
	l := s.lock(symbol)
	if exclusive {
		l.Lock()
		defer l.Unlock()
	} else {
		l.RLock()
		defer l.RUnlock()
	}

	fl := flock.New(s.lockPath(symbol))
	var (
		ok  bool
		err error
	)
	if exclusive {
		ok, err = fl.TryLockContext(ctx, lockRetryDelay)
	} else {
		ok, err = fl.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return fmt.Errorf("candle store: lock %s: %w", symbol, err)
	}
	if !ok {
		return fmt.Errorf("candle store: lock %s: not acquired", symbol)
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			slog.Warn("failed to release candle file lock", "symbol", symbol, "error", err)
		}
	}()
	return fn()
}

func (s *candleFile) lockPath(symbol string) string {
	return filepath.Join(s.dir, symbol+lockFileExt)
}

func (s *candleFile) candlePath(symbol string) string {
	return filepath.Join(s.dir, symbol+candleFileExt)
}

func (s *candleFile) spansPath(symbol string) string {
	return filepath.Join(s.dir, symbol+spansFileExt)
}

func (s *candleFile) Load(ctx context.Context, symbol string) (entity.Series, error) {
	if err := entity.ValidateSymbol(symbol); err != nil {
		return entity.Series{}, fmt.Errorf("%w: %v", usecase.ErrInvalidSymbol, err)
	}
	var series entity.Series
	err := s.withLock(ctx, symbol, false, func() error {
		var err error
		series, err = s.load(symbol)
		return err
	})
	return series, err
}

func (s *candleFile) ReadRange(ctx context.Context, symbol string, r entity.DateRange) ([]entity.Candle, error) {
	series, err := s.Load(ctx, symbol)
	if err != nil {
		if errors.Is(err, usecase.ErrStoreCorrupt) {
			slog.Warn("candle file unreadable, treating as uncached", "symbol", symbol, "error", err)
			return []entity.Candle{}, nil
		}
		return nil, err
	}
	return series.Slice(r), nil
}

func (s *candleFile) Coverage(ctx context.Context, symbol string) ([]entity.DateRange, error) {
	series, err := s.Load(ctx, symbol)
	if err != nil {
		if errors.Is(err, usecase.ErrStoreCorrupt) {
			slog.Warn("candle file unreadable, treating as uncached", "symbol", symbol, "error", err)
			return []entity.DateRange{}, nil
		}
		return nil, err
	}
	return series.Coverage(), nil
}

// Merge は既存の系列と candles を日付単位・後勝ちでマージして書き戻します。
// 既存ファイルが解析不能な場合は .corrupt へ退避してから新規に書き直します。
func (s *candleFile) Merge(ctx context.Context, symbol string, fetched entity.DateRange, candles []entity.Candle) error {
	if err := entity.ValidateSymbol(symbol); err != nil {
		return fmt.Errorf("%w: %v", usecase.ErrInvalidSymbol, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.withLock(ctx, symbol, true, func() error {
		return s.merge(symbol, fetched, candles)
	})
}

// merge はロックを取得済みの呼び出し元から使います。
func (s *candleFile) merge(symbol string, fetched entity.DateRange, candles []entity.Candle) error {
	series, err := s.load(symbol)
	if err != nil {
		if !errors.Is(err, usecase.ErrStoreCorrupt) {
			return err
		}
		slog.Warn("quarantining corrupt candle file", "symbol", symbol, "error", err)
		if qerr := s.quarantine(symbol); qerr != nil {
			return qerr
		}
		series = entity.Series{Symbol: symbol}
	}

	incoming := make([]entity.Candle, len(candles))
	for i, c := range candles {
		c.Symbol = symbol
		incoming[i] = c
	}
	merged := entity.MergeCandles(series.Candles, incoming)

	// ローソク足を先に書くことで、来歴だけが先行して「取得済みなのに行が無い」状態を作りません。
	if err := s.writeCandles(symbol, merged); err != nil {
		return err
	}

	if fetched.Validate() != nil || fetched.From.IsZero() {
		return nil
	}
	doc := spansDocument{
		Symbol:    symbol,
		Spans:     entity.MergeRanges(append(append([]entity.DateRange{}, series.Spans...), fetched)),
		UpdatedAt: s.now().UTC(),
	}
	return s.writeSpans(symbol, doc)
}

// load はロックを取得済みの呼び出し元から使います。
func (s *candleFile) load(symbol string) (entity.Series, error) {
	series := entity.Series{Symbol: symbol}

	f, err := os.Open(s.candlePath(symbol))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return series, nil
		}
		return series, fmt.Errorf("candle store: open %s: %w", symbol, err)
	}
	defer f.Close()

	candles, err := decodeCandles(symbol, f)
	if err != nil {
		return series, fmt.Errorf("%w: %s: %v", usecase.ErrStoreCorrupt, symbol, err)
	}
	series.Candles = candles

	spans, err := s.readSpans(symbol)
	if err != nil {
		// 来歴が壊れていても行データは有効なので、中身から推定したカバレッジで続行します。
		slog.Warn("ignoring unreadable spans file", "symbol", symbol, "error", err)
		spans = nil
	}
	series.Spans = spans
	return series, nil
}

func (s *candleFile) readSpans(symbol string) ([]entity.DateRange, error) {
	b, err := os.ReadFile(s.spansPath(symbol))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var doc spansDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	valid := make([]entity.DateRange, 0, len(doc.Spans))
	for _, r := range doc.Spans {
		if r.Validate() == nil && !r.From.IsZero() {
			valid = append(valid, r)
		}
	}
	return entity.MergeRanges(valid), nil
}

func (s *candleFile) writeCandles(symbol string, candles []entity.Candle) error {
	err := writeFileAtomic(s.candlePath(symbol), func(w io.Writer) error {
		return encodeCandles(w, candles)
	})
	if err != nil {
		return fmt.Errorf("candle store: write %s: %w", symbol, err)
	}
	return nil
}

func (s *candleFile) writeSpans(symbol string, doc spansDocument) error {
	err := writeFileAtomic(s.spansPath(symbol), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	})
	if err != nil {
		return fmt.Errorf("candle store: write spans %s: %w", symbol, err)
	}
	return nil
}

func (s *candleFile) quarantine(symbol string) error {
	src := s.candlePath(symbol)
	if err := os.Rename(src, src+corruptSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("candle store: quarantine %s: %w", symbol, err)
	}
	// 行データと対応しない来歴は残しません。
	if err := os.Remove(s.spansPath(symbol)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("candle store: drop spans %s: %w", symbol, err)
	}
	return nil
}

// writeFileAtomic は path と同じディレクトリの一時ファイルに書き込み、fsync後に rename します。
func writeFileAtomic(path string, write func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), filePermission); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func encodeCandles(w io.Writer, candles []entity.Candle) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, c := range candles {
		turnover := ""
		if c.Turnover != nil {
			turnover = formatFloat(*c.Turnover)
		}
		rec := []string{
			c.Date.String(),
			formatFloat(c.Open),
			formatFloat(c.High),
			formatFloat(c.Low),
			formatFloat(c.Close),
			strconv.FormatInt(c.Volume, 10),
			turnover,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// decodeCandles は列名でカラムを解決してCSVを読み込みます。
// 行順は問わず（旧形式は日付降順）、結果は日付昇順・重複なしに正規化されます。
func decodeCandles(symbol string, r io.Reader) ([]entity.Candle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return []entity.Candle{}, nil
	}
	if err != nil {
		return nil, err
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, name := range csvHeader[:6] {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	out := []entity.Candle{}
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, err
		}
		c, err := decodeRecord(symbol, cols, rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, c)
	}
	return entity.DedupeByDate(out), nil
}

func decodeRecord(symbol string, cols map[string]int, rec []string) (entity.Candle, error) {
	field := func(name string) (string, bool) {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return "", false
		}
		return strings.TrimSpace(rec[i]), true
	}
	num := func(name string) (float64, error) {
		v, ok := field(name)
		if !ok || v == "" {
			return 0, fmt.Errorf("%s is empty", name)
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		return f, nil
	}

	c := entity.Candle{Symbol: symbol}
	raw, _ := field("date")
	d, err := entity.ParseDate(raw)
	if err != nil {
		return c, err
	}
	c.Date = d

	if c.Open, err = num("open"); err != nil {
		return c, err
	}
	if c.High, err = num("high"); err != nil {
		return c, err
	}
	if c.Low, err = num("low"); err != nil {
		return c, err
	}
	if c.Close, err = num("close"); err != nil {
		return c, err
	}
	vol, err := num("volume")
	if err != nil {
		return c, err
	}
	c.Volume = int64(math.Round(vol))

	if v, ok := field(turnoverColumn); ok && v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return c, fmt.Errorf("%s: %w", turnoverColumn, err)
		}
		c.Turnover = &t
	}
	return c, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', floatPrecision, 64)
}
