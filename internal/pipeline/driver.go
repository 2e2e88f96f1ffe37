package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Parser322/tg-pipeline/internal/album"
	"github.com/Parser322/tg-pipeline/internal/core/domain"
	"github.com/Parser322/tg-pipeline/internal/engagement"
	"github.com/Parser322/tg-pipeline/internal/observability"
	"github.com/Parser322/tg-pipeline/internal/rank"
)

// Run modes.
const (
	ModeBatch = "batch"
	ModeTop   = "top"
)

// Batch mode over-reads by this factor so album member messages do not
// eat into the requested number of post units.
const overReadFactor = 4

// Top mode bounds the candidate pool regardless of the lookback window.
const topPoolLimit = 1000

// Session is a live connection to the message source, valid for one
// run.
type Session interface {
	ResolveChannelInfo(ctx context.Context, channel string) (domain.ChannelInfo, error)
	FetchRecent(ctx context.Context, channel string, limit int) ([]domain.RawMessage, error)
	FetchWindow(ctx context.Context, channel string, since time.Time, maxCount int) ([]domain.RawMessage, error)
	FetchSingleMessage(ctx context.Context, channel string, id int64) (domain.RawMessage, error)
	DownloadMedia(ctx context.Context, msg domain.RawMessage, destDir string) (string, error)
}

// Connector establishes a source session for the duration of fn.
type Connector interface {
	Run(ctx context.Context, fn func(ctx context.Context, s Session) error) error
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, fn func(ctx context.Context, s Session) error) error

func (f ConnectorFunc) Run(ctx context.Context, fn func(ctx context.Context, s Session) error) error {
	return f(ctx, fn)
}

// MediaAcquirer processes one message's attachment. AcquireLarge lifts
// the size ceiling for deferred loads of oversized media.
type MediaAcquirer interface {
	Acquire(ctx context.Context, msg domain.RawMessage) []domain.MediaResult
	AcquireLarge(ctx context.Context, msg domain.RawMessage) (domain.MediaResult, error)
}

// AcquirerFactory builds a MediaAcquirer bound to a session's download
// capability.
type AcquirerFactory func(s Session) (MediaAcquirer, error)

// Store is the persistence surface the driver writes through.
type Store interface {
	ProgressStore
	InsertPost(ctx context.Context, p *domain.Post) (string, error)
	SetTranslation(ctx context.Context, postID, lang, text string) error
	AttachMedia(ctx context.Context, m *domain.MediaRow) error
	ReconcileMediaCount(ctx context.Context, postID string) error
	GetMediaRow(ctx context.Context, mediaID string) (domain.MediaRow, error)
	MarkMediaLoaded(ctx context.Context, m *domain.MediaRow) error
}

// FileStore places processed media files and builds their rows.
type FileStore interface {
	Put(ctx context.Context, localPath, channel string, res domain.MediaResult, orderIndex int) (domain.MediaRow, error)
	PlaceholderRow(channel string, res domain.MediaResult, orderIndex int) domain.MediaRow
}

// Translator renders post content in a target language.
type Translator interface {
	Translate(ctx context.Context, content, targetLang string) (string, error)
}

// Notifier reports run outcomes to an operator.
type Notifier interface {
	RunFinished(channel, mode string, saved int)
	RunFailed(channel, mode string, err error)
}

// Request describes one pipeline run.
type Request struct {
	UserID     string
	Channel    string
	Mode       string
	Limit      int
	Lookback   time.Duration
	Quotas     rank.Quotas
	TargetLang string
}

// Driver runs the full pipeline: fetch, group, rank, acquire media,
// persist. One unit failing never aborts the rest of the run.
type Driver struct {
	connector   Connector
	store       Store
	files       FileStore
	translator  Translator
	notifier    Notifier
	registry    *Registry
	newAcquirer AcquirerFactory
	logger      *zerolog.Logger
}

func NewDriver(
	connector Connector,
	store Store,
	files FileStore,
	translator Translator,
	notifier Notifier,
	registry *Registry,
	newAcquirer AcquirerFactory,
	logger *zerolog.Logger,
) *Driver {
	return &Driver{
		connector:   connector,
		store:       store,
		files:       files,
		translator:  translator,
		notifier:    notifier,
		registry:    registry,
		newAcquirer: newAcquirer,
		logger:      logger,
	}
}

// Run executes one pipeline run to completion and returns the number of
// posts saved. A user can have only one run in flight.
func (d *Driver) Run(ctx context.Context, req Request) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := d.registry.begin(req.UserID, cancel); err != nil {
		return 0, err
	}
	defer d.registry.end(req.UserID)

	start := time.Now()
	saved := 0

	err := d.connector.Run(ctx, func(ctx context.Context, s Session) error {
		var err error

		saved, err = d.run(ctx, s, req)

		return err
	})

	observability.RunDurationSeconds.WithLabelValues(req.Mode).Observe(time.Since(start).Seconds())

	if err != nil {
		d.notifier.RunFailed(req.Channel, req.Mode, err)

		return saved, err
	}

	d.notifier.RunFinished(req.Channel, req.Mode, saved)

	return saved, nil
}

func (d *Driver) run(ctx context.Context, s Session, req Request) (int, error) {
	p := newProgress(d.store, req.UserID, d.logger)
	defer p.finish(ctx)

	info, err := s.ResolveChannelInfo(ctx, req.Channel)
	if err != nil {
		p.begin(ctx, 0)

		return 0, fmt.Errorf("resolve channel: %w", err)
	}

	var units []domain.PostUnit

	switch req.Mode {
	case ModeTop:
		units, err = d.selectTopUnits(ctx, s, req)
	default:
		units, err = d.collectBatchUnits(ctx, s, req)
	}

	if err != nil {
		p.begin(ctx, 0)

		return 0, err
	}

	p.begin(ctx, len(units))

	acquirer, err := d.newAcquirer(s)
	if err != nil {
		return 0, fmt.Errorf("build media acquirer: %w", err)
	}

	saved := 0

	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return saved, err
		}

		if d.processUnit(ctx, acquirer, info, req, unit) {
			saved++
		}

		p.cursor(ctx, req.Channel, unit.CanonicalID())
		p.advance(ctx)
	}

	d.logger.Info().
		Str("channel", req.Channel).
		Str("mode", req.Mode).
		Int("units", len(units)).
		Int("saved", saved).
		Msg("Pipeline run complete")

	return saved, nil
}

// collectBatchUnits fetches the latest messages, groups them into post
// units and returns up to the requested number of units, oldest first.
func (d *Driver) collectBatchUnits(ctx context.Context, s Session, req Request) ([]domain.PostUnit, error) {
	messages, err := s.FetchRecent(ctx, req.Channel, req.Limit*overReadFactor)
	if err != nil {
		return nil, fmt.Errorf("fetch recent: %w", err)
	}

	units := album.Group(messages)
	if len(units) > req.Limit {
		units = units[:req.Limit]
	}

	// Grouping preserves fetch order, newest first. Persist oldest
	// first so post rows read in publication order.
	for i, j := 0, len(units)-1; i < j; i, j = i+1, j-1 {
		units[i], units[j] = units[j], units[i]
	}

	return units, nil
}

// selectTopUnits ranks the lookback window and returns the selected
// units, best first. Selected messages re-expand to their full albums,
// and an album selected through two criteria appears once.
func (d *Driver) selectTopUnits(ctx context.Context, s Session, req Request) ([]domain.PostUnit, error) {
	since := time.Now().Add(-req.Lookback)

	pool, err := s.FetchWindow(ctx, req.Channel, since, topPoolLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch window: %w", err)
	}

	candidates := make([]rank.Candidate, 0, len(pool))
	for _, msg := range pool {
		candidates = append(candidates, rank.Candidate{
			Message: msg,
			Metrics: engagement.Extract(msg),
		})
	}

	refetch := func(ctx context.Context, limit int) ([]domain.RawMessage, error) {
		return s.FetchRecent(ctx, req.Channel, limit)
	}

	selector := rank.New(refetch, d.logger)

	selected, err := selector.Select(ctx, candidates, req.Quotas, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("select top posts: %w", err)
	}

	observability.TopPostsSelected.Set(float64(len(selected)))

	unitByMessage := make(map[int64]domain.PostUnit)
	for _, unit := range album.Group(pool) {
		for _, member := range unit.Members {
			unitByMessage[member.ID] = unit
		}
	}

	var units []domain.PostUnit

	seen := make(map[int64]bool)

	for _, c := range selected {
		unit, ok := unitByMessage[c.Message.ID]
		if !ok {
			// Refetched fallback messages are not in the pool.
			unit = domain.PostUnit{Members: []domain.RawMessage{c.Message}}
		}

		if seen[unit.CanonicalID()] {
			continue
		}

		seen[unit.CanonicalID()] = true

		units = append(units, unit)
	}

	return units, nil
}

// processUnit persists one post unit with its media. It reports whether
// the unit was saved; any failure is contained to this unit.
func (d *Driver) processUnit(ctx context.Context, acquirer MediaAcquirer, info domain.ChannelInfo, req Request, unit domain.PostUnit) (saved bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Interface("panic", r).
				Int64("unit_id", unit.CanonicalID()).
				Msg("panic while processing unit")
			observability.UnitsProcessed.WithLabelValues("panic").Inc()

			saved = false
		}
	}()

	// Media first: the inserted record already carries has_media and
	// media_count, as a reader sees the post the moment it lands.
	results := acquireUnitMedia(ctx, acquirer, unit)
	defer cleanupLocalFiles(results)

	post := d.buildPost(info, req, unit)
	post.HasMedia = len(results) > 0
	post.MediaCount = len(results)

	postID, err := d.store.InsertPost(ctx, post)
	if err != nil {
		d.logger.Error().Err(err).Int64("unit_id", unit.CanonicalID()).Msg("failed to insert post")
		observability.UnitsProcessed.WithLabelValues("error").Inc()

		return false
	}

	d.attachUnitMedia(ctx, req.Channel, postID, results)

	if err := d.store.ReconcileMediaCount(ctx, postID); err != nil {
		d.logger.Warn().Err(err).Str("post_id", postID).Msg("failed to reconcile media count")
	}

	if req.TargetLang != "" && d.translator != nil && post.Content != "" {
		d.translatePost(ctx, postID, post.Content, req.TargetLang)
	}

	observability.UnitsProcessed.WithLabelValues("ok").Inc()
	observability.PostsPersisted.WithLabelValues(req.Channel).Inc()

	return true
}

func (d *Driver) buildPost(info domain.ChannelInfo, req Request, unit domain.PostUnit) *domain.Post {
	metrics := unitMetrics(unit)

	return &domain.Post{
		SourceChannel:     req.Channel,
		ChannelTitle:      info.Title,
		ChannelUsername:   info.Username,
		OriginalMessageID: unit.CanonicalID(),
		OriginalIDs:       unit.MessageIDs(),
		OriginalDate:      unit.Members[0].Date,
		Content:           unitCaption(unit),
		TargetLang:        req.TargetLang,
		IsMerged:          unit.IsMerged(),
		IsTopPost:         req.Mode == ModeTop,
		Views:             metrics.Views,
		Likes:             metrics.Likes,
		Comments:          metrics.Comments,
		Reactions:         metrics.Reactions,
	}
}

// acquireUnitMedia collects the media results of every member in album
// order.
func acquireUnitMedia(ctx context.Context, acquirer MediaAcquirer, unit domain.PostUnit) []domain.MediaResult {
	var results []domain.MediaResult
	for _, member := range unit.Members {
		results = append(results, acquirer.Acquire(ctx, member)...)
	}

	return results
}

// cleanupLocalFiles drops the cached processed files of a unit. Files
// the store already consumed are gone; the rest must not pile up in the
// cache whatever happened to the unit.
func cleanupLocalFiles(results []domain.MediaResult) {
	for _, res := range results {
		if res.Path != "" {
			_ = os.Remove(res.Path)
		}
	}
}

func (d *Driver) attachUnitMedia(ctx context.Context, channel, postID string, results []domain.MediaResult) {
	orderIndex := 0

	for _, res := range results {
		var (
			row domain.MediaRow
			err error
		)

		if res.Oversized {
			row = d.files.PlaceholderRow(channel, res, orderIndex)
		} else {
			row, err = d.files.Put(ctx, res.Path, channel, res, orderIndex)
			if err != nil {
				d.logger.Warn().Err(err).Int64("message_id", res.SourceMessageID).Msg("failed to store media file")

				continue
			}
		}

		row.PostID = postID

		if err := d.store.AttachMedia(ctx, &row); err != nil {
			d.logger.Warn().Err(err).Str("post_id", postID).Msg("failed to attach media row")

			continue
		}

		orderIndex++
	}
}

// Load-large errors.
var (
	ErrMediaNotFound     = errors.New("media row not found for post")
	ErrMediaNotOversized = errors.New("media row is not a pending oversized placeholder")
)

// LoadLargeMedia performs the deferred download of one oversized media
// row: it re-fetches the source message, downloads with the size
// ceiling lifted, brands and stores the file, and flips the row to
// loaded. The updated row is returned.
func (d *Driver) LoadLargeMedia(ctx context.Context, postID, mediaID string) (domain.MediaRow, error) {
	row, err := d.store.GetMediaRow(ctx, mediaID)
	if err != nil {
		return domain.MediaRow{}, fmt.Errorf("get media row: %w", err)
	}

	if row.PostID != postID {
		return domain.MediaRow{}, ErrMediaNotFound
	}

	if !row.IsOversized || row.IsLoaded {
		return domain.MediaRow{}, ErrMediaNotOversized
	}

	var updated domain.MediaRow

	err = d.connector.Run(ctx, func(ctx context.Context, s Session) error {
		msg, err := s.FetchSingleMessage(ctx, row.TGChannel, row.TGMessageID)
		if err != nil {
			return fmt.Errorf("fetch source message: %w", err)
		}

		acquirer, err := d.newAcquirer(s)
		if err != nil {
			return fmt.Errorf("build media acquirer: %w", err)
		}

		res, err := acquirer.AcquireLarge(ctx, msg)
		if err != nil {
			return err
		}

		stored, err := d.files.Put(ctx, res.Path, row.TGChannel, res, row.OrderIndex)
		if err != nil {
			_ = os.Remove(res.Path)

			return fmt.Errorf("store large media: %w", err)
		}

		stored.ID = row.ID
		stored.PostID = row.PostID
		stored.IsOversized = true

		if err := d.store.MarkMediaLoaded(ctx, &stored); err != nil {
			return fmt.Errorf("mark media loaded: %w", err)
		}

		updated = stored

		return nil
	})
	if err != nil {
		return domain.MediaRow{}, err
	}

	d.logger.Info().
		Str("media_id", mediaID).
		Int64("message_id", updated.TGMessageID).
		Msg("oversized media loaded")

	return updated, nil
}

func (d *Driver) translatePost(ctx context.Context, postID, content, lang string) {
	translated, err := d.translator.Translate(ctx, content, lang)
	if err != nil {
		d.logger.Warn().Err(err).Str("post_id", postID).Msg("translation failed")

		return
	}

	if err := d.store.SetTranslation(ctx, postID, lang, translated); err != nil {
		d.logger.Warn().Err(err).Str("post_id", postID).Msg("failed to store translation")
	}
}

// unitCaption resolves a unit's text: the first member whose text is
// non-empty after trimming wins. Album captions usually ride on a
// single member.
func unitCaption(unit domain.PostUnit) string {
	for _, m := range unit.Members {
		if text := strings.TrimSpace(m.Text); text != "" {
			return text
		}
	}

	return ""
}

// unitMetrics merges per-member metrics into the unit's metric set.
func unitMetrics(unit domain.PostUnit) domain.MetricSet {
	sets := make([]domain.MetricSet, 0, len(unit.Members))
	for _, m := range unit.Members {
		sets = append(sets, engagement.Extract(m))
	}

	return engagement.Merge(sets)
}
