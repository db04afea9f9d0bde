package signal

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"polyrotate/config"
	"polyrotate/internal/portfolio"
	"polyrotate/internal/store"

	"go.uber.org/zap"
)

// TweetRange is the inclusive count range of a tweet-count market.
// A nil Max means "or more".
type TweetRange struct {
	Min int
	Max *int
}

func (r TweetRange) Contains(n int) bool {
	return n >= r.Min && (r.Max == nil || n <= *r.Max)
}

func (r TweetRange) String() string {
	if r.Max == nil {
		return fmt.Sprintf("%d+", r.Min)
	}
	return fmt.Sprintf("%d-%d", r.Min, *r.Max)
}

var (
	rangeBetween  = regexp.MustCompile(`(?i)(\d+)\s*-\s*(\d+)\s+times`)
	rangeLessThan = regexp.MustCompile(`(?i)less\s+than\s+(\d+)\s+times`)
	rangeOrMore   = regexp.MustCompile(`(?i)(\d+)\s+or\s+more\s+times`)
	rangeLoose    = regexp.MustCompile(`(?i)(\d+)\s*-\s*(\d+).*?times`)
)

// ParseTweetRange reads the count range out of a market question.
func ParseTweetRange(question string) (TweetRange, bool) {
	q := strings.ReplaceAll(question, "–", "-")

	if m := rangeBetween.FindStringSubmatch(q); m != nil {
		return between(m[1], m[2])
	}
	if m := rangeLessThan.FindStringSubmatch(q); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n <= 0 {
			return TweetRange{}, false
		}
		limit := n - 1
		return TweetRange{Min: 0, Max: &limit}, true
	}
	if m := rangeOrMore.FindStringSubmatch(q); m != nil {
		n, _ := strconv.Atoi(m[1])
		return TweetRange{Min: n}, true
	}
	if m := rangeLoose.FindStringSubmatch(q); m != nil {
		return between(m[1], m[2])
	}
	return TweetRange{}, false
}

func between(lo, hi string) (TweetRange, bool) {
	minimum, err1 := strconv.Atoi(lo)
	maximum, err2 := strconv.Atoi(hi)
	if err1 != nil || err2 != nil || maximum < minimum {
		return TweetRange{}, false
	}
	return TweetRange{Min: minimum, Max: &maximum}, true
}

// DateWindow is an inclusive range of calendar days in UTC.
type DateWindow struct {
	Start time.Time
	End   time.Time
}

func (w DateWindow) Contains(t time.Time) bool {
	day := truncateDay(t)
	return !day.Before(w.Start) && !day.After(w.End)
}

var slugWindows = []*regexp.Regexp{
	// will-elon-tweet-150-174-times-october-4-11, ...-times-oct-25-nov-1
	regexp.MustCompile(`times-([a-z]+)-(\d+)(?:-([a-z]+))?-(\d+)(?:-\d+)?$`),
	// ...-will-elon-tweet-300-324-times-jan-17-24 with "tweet" in place of "times"
	regexp.MustCompile(`tweet-([a-z]+)-(\d+)(?:-([a-z]+))?-(\d+)(?:-\d+)?$`),
	// will-elon-tweet-400-or-more-times-april-11to18
	regexp.MustCompile(`times-([a-z]+)-(\d+)(?:to|-)([a-z]+)?-?(\d+)$`),
	regexp.MustCompile(`-([a-z]+)-(\d+)(?:-([a-z]+))?-(\d+)$`),
}

var monthNames = []string{
	"january", "february", "march", "april", "may", "june",
	"july", "august", "september", "october", "november", "december",
}

// parseMonth accepts full names and prefixes of at least three letters.
func parseMonth(s string) (time.Month, bool) {
	s = strings.ToLower(s)
	if len(s) < 3 {
		return 0, false
	}
	for i, name := range monthNames {
		if strings.HasPrefix(name, s) {
			return time.Month(i + 1), true
		}
	}
	return 0, false
}

// ParseDateWindow reads the start and end day from a market slug. The year
// comes from the market end date; a start that would fall after the end
// belongs to the previous year. Without an end date the slug end day is
// used in the year of now.
func ParseDateWindow(slug string, endDate *time.Time, now time.Time) (DateWindow, bool) {
	slug = strings.ToLower(slug)

	for _, re := range slugWindows {
		m := re.FindStringSubmatch(slug)
		if m == nil || m[1] == "" || m[2] == "" || m[4] == "" {
			continue
		}

		startMonth, ok := parseMonth(m[1])
		if !ok {
			continue
		}
		endMonth := startMonth
		if m[3] != "" {
			if endMonth, ok = parseMonth(m[3]); !ok {
				continue
			}
		}
		startDay, err1 := strconv.Atoi(m[2])
		endDay, err2 := strconv.Atoi(m[4])
		if err1 != nil || err2 != nil || startDay < 1 || startDay > 31 || endDay < 1 || endDay > 31 {
			continue
		}

		var end time.Time
		if endDate != nil {
			end = truncateDay(*endDate)
		} else {
			end = time.Date(now.UTC().Year(), endMonth, endDay, 0, 0, 0, 0, time.UTC)
		}

		start := time.Date(end.Year(), startMonth, startDay, 0, 0, 0, 0, time.UTC)
		if start.After(end) {
			start = start.AddDate(-1, 0, 0)
		}
		return DateWindow{Start: start, End: end}, true
	}
	return DateWindow{}, false
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// TweetMarket is a tweet-count market with its parsed range and window.
type TweetMarket struct {
	Market store.Market
	Range  TweetRange
	Window DateWindow
}

// TweetsEvaluator wants the Yes token of the tweet-count market whose
// window contains today and whose range contains the current count.
type TweetsEvaluator struct {
	store        MarketStore
	counts       CountSource
	questionLike string
	outcome      string
	now          func() time.Time
	logger       *zap.Logger
}

func NewTweetsEvaluator(st MarketStore, counts CountSource, cfg config.TweetsSignalConfig, logger *zap.Logger) *TweetsEvaluator {
	outcome := cfg.Outcome
	if outcome == "" {
		outcome = "Yes"
	}
	return &TweetsEvaluator{
		store:        st,
		counts:       counts,
		questionLike: cfg.QuestionLike,
		outcome:      outcome,
		now:          time.Now,
		logger:       logger.Named("tweets_signal"),
	}
}

func (e *TweetsEvaluator) Name() string { return config.StrategyTweets }

// Markets returns the active tweet-count markets that parse, ordered by
// range minimum.
func (e *TweetsEvaluator) Markets(ctx context.Context) ([]TweetMarket, error) {
	markets, err := e.store.ActiveMarkets(ctx, store.MarketFilter{QuestionLike: e.questionLike})
	if err != nil {
		return nil, fmt.Errorf("query tweet markets: %w", err)
	}

	now := e.now()
	out := make([]TweetMarket, 0, len(markets))
	for _, m := range markets {
		r, ok := ParseTweetRange(m.Question)
		if !ok {
			e.logger.Debug("skipping market, no tweet range", zap.String("market_slug", m.MarketSlug))
			continue
		}
		w, ok := ParseDateWindow(m.MarketSlug, m.EndDate, now)
		if !ok {
			e.logger.Debug("skipping market, no date window", zap.String("market_slug", m.MarketSlug))
			continue
		}
		out = append(out, TweetMarket{Market: m, Range: r, Window: w})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Range.Min < out[j].Range.Min })
	return out, nil
}

func (e *TweetsEvaluator) Evaluate(ctx context.Context) (*portfolio.Target, error) {
	count, err := e.counts.Count(ctx)
	if err != nil {
		e.logger.Warn("tweet count unavailable, holding",
			zap.String("kind", string(portfolio.Classify(err))),
			zap.Error(err),
		)
		return nil, nil
	}

	markets, err := e.Markets(ctx)
	if err != nil {
		return nil, err
	}

	today := e.now()
	for _, tm := range markets {
		if !tm.Window.Contains(today) || !tm.Range.Contains(count) {
			continue
		}
		tok, ok := tm.Market.TokenByOutcome(e.outcome)
		if !ok || tok.TokenID == "" {
			continue
		}

		tag := tok.PositionTag
		if tag == portfolio.None {
			tag = portfolio.PositionTag(tm.Market.MarketSlug)
		}
		e.logger.Debug("tweets target",
			zap.Int("count", count),
			zap.String("range", tm.Range.String()),
			zap.String("market_slug", tm.Market.MarketSlug),
		)
		return &portfolio.Target{Tag: tag, AssetID: tok.TokenID}, nil
	}

	e.logger.Warn("no tweet market matches the current count, holding",
		zap.Int("count", count),
		zap.Int("markets", len(markets)),
	)
	return nil, nil
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
