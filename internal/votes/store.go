package votes

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/content"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingPolls      = errors.New("poll lookup is required")
	errMissingActor      = errors.New("actor id is required")
	errNoVoting          = errors.New("content item does not accept votes")
	errPollClosed        = errors.New("poll deadline has passed")
	errUnknownOption     = errors.New("option is not offered by this poll")
	errAlreadyVoted      = errors.New("option already chosen")
	noOpLogger           = zap.NewNop()
)

const (
	opStoreNew = "votes.store.new"
	opCast     = "votes.cast"
	opTally    = "votes.tally"
)

// PollLookup resolves visible content items carrying a poll.
type PollLookup interface {
	GetVisible(ctx context.Context, itemID string) (content.Item, error)
}

type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Polls      PollLookup
	Logger     *zap.Logger
}

// Store records and aggregates poll votes.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	polls      PollLookup
	logger     *zap.Logger
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, apperr.Internal(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.Internal(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Polls == nil {
		return nil, apperr.Internal(opStoreNew, "missing_poll_lookup", errMissingPolls)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		polls:      cfg.Polls,
		logger:     logger,
	}, nil
}

// Cast records option for actor on the poll. On a single-choice poll a vote
// for a different option replaces the previous one within one transaction.
func (s *Store) Cast(ctx context.Context, actorID, pollID, option string) (CastResult, error) {
	if strings.TrimSpace(actorID) == "" {
		return CastResult{}, apperr.Unauthenticated(opCast, "missing_actor", errMissingActor)
	}
	item, err := s.loadPoll(ctx, opCast, pollID)
	if err != nil {
		return CastResult{}, err
	}
	poll := item.Poll
	if poll.Closed(s.clock()) {
		return CastResult{}, apperr.Expired(opCast, "poll_closed", errPollClosed)
	}
	if !poll.HasOption(option) {
		return CastResult{}, apperr.Validation(opCast, "unknown_option", errUnknownOption)
	}

	slot := ""
	if poll.AllowMultipleVotes {
		slot = option
	}
	voteID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCast, "id_generation_failed", err, zap.String("poll_id", pollID))
		return CastResult{}, apperr.Internal(opCast, "id_generation_failed", err)
	}

	result := CastResult{Accepted: true, Option: option, OwnerID: item.OwnerID}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []Vote
		if err := tx.Where("poll_id = ? AND actor_id = ?", item.ID, actorID).Find(&existing).Error; err != nil {
			s.logError(opCast, "vote_select_failed", err, zap.String("poll_id", pollID), zap.String("actor_id", actorID))
			return apperr.Internal(opCast, "vote_select_failed", err)
		}
		for _, vote := range existing {
			if vote.Option == option {
				return apperr.Duplicate(opCast, "already_voted", errAlreadyVoted)
			}
		}
		if !poll.AllowMultipleVotes && len(existing) > 0 {
			if err := tx.Where("poll_id = ? AND actor_id = ?", item.ID, actorID).Delete(&Vote{}).Error; err != nil {
				s.logError(opCast, "vote_delete_failed", err, zap.String("poll_id", pollID), zap.String("actor_id", actorID))
				return apperr.Internal(opCast, "vote_delete_failed", err)
			}
			result.Replaced = true
			result.PreviousOption = existing[0].Option
		}
		vote := Vote{
			ID:        voteID,
			PollID:    item.ID,
			ActorID:   actorID,
			Option:    option,
			Slot:      slot,
			CreatedAt: s.clock().UTC(),
		}
		if err := tx.Create(&vote).Error; err != nil {
			if apperr.IsUniqueViolation(err) {
				return apperr.Conflict(opCast, "concurrent_vote", err)
			}
			s.logError(opCast, "vote_insert_failed", err, zap.String("poll_id", pollID), zap.String("actor_id", actorID))
			return apperr.Internal(opCast, "vote_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return CastResult{}, txErr
	}
	return result, nil
}

// Tally aggregates the poll. viewerID may be empty; when set, the viewer's
// own choices are included.
func (s *Store) Tally(ctx context.Context, pollID, viewerID string) (Tally, error) {
	item, err := s.loadPoll(ctx, opTally, pollID)
	if err != nil {
		return Tally{}, err
	}
	poll := item.Poll

	var rows []struct {
		Option string `gorm:"column:choice"`
		Count  int64  `gorm:"column:total"`
	}
	if err := s.db.WithContext(ctx).
		Model(&Vote{}).
		Select("choice, COUNT(*) AS total").
		Where("poll_id = ?", item.ID).
		Group("choice").
		Scan(&rows).Error; err != nil {
		s.logError(opTally, "count_failed", err, zap.String("poll_id", pollID))
		return Tally{}, apperr.Internal(opTally, "count_failed", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Option] = row.Count
	}

	tally := Tally{
		PollID:        item.ID,
		Options:       make([]OptionCount, 0, len(poll.VoteOptions)),
		Deadline:      poll.VoteDeadline,
		Closed:        poll.Closed(s.clock()),
		AllowMultiple: poll.AllowMultipleVotes,
		MyVotes:       []string{},
	}
	for _, option := range poll.VoteOptions {
		count := counts[option]
		tally.Options = append(tally.Options, OptionCount{Option: option, Count: count})
		tally.TotalVotes += count
	}

	if err := s.db.WithContext(ctx).
		Model(&Vote{}).
		Where("poll_id = ?", item.ID).
		Distinct("actor_id").
		Count(&tally.TotalVoters).Error; err != nil {
		s.logError(opTally, "voter_count_failed", err, zap.String("poll_id", pollID))
		return Tally{}, apperr.Internal(opTally, "voter_count_failed", err)
	}

	if strings.TrimSpace(viewerID) != "" {
		if err := s.db.WithContext(ctx).
			Model(&Vote{}).
			Where("poll_id = ? AND actor_id = ?", item.ID, viewerID).
			Order("created_at ASC").
			Pluck("choice", &tally.MyVotes).Error; err != nil {
			s.logError(opTally, "viewer_votes_failed", err, zap.String("poll_id", pollID))
			return Tally{}, apperr.Internal(opTally, "viewer_votes_failed", err)
		}
	}
	return tally, nil
}

func (s *Store) loadPoll(ctx context.Context, operation, pollID string) (content.Item, error) {
	item, err := s.polls.GetVisible(ctx, pollID)
	if err != nil {
		return content.Item{}, err
	}
	if !item.Poll.HasVoting {
		return content.Item{}, apperr.NotFound(operation, "poll_missing", errNoVoting)
	}
	return item, nil
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("vote store error", attrs...)
}
