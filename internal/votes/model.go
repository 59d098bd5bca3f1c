package votes

import "time"

// Vote is one chosen option of one actor on one poll. Slot is empty for
// single-choice polls and equals the option for multi-choice polls, so the
// unique (poll_id, actor_id, slot) index enforces both multiplicity policies.
type Vote struct {
	ID        string    `gorm:"column:id;primaryKey;size:64;not null"`
	PollID    string    `gorm:"column:poll_id;size:64;not null;uniqueIndex:idx_votes_slot,priority:1;index:idx_votes_poll_choice,priority:1"`
	ActorID   string    `gorm:"column:actor_id;size:190;not null;uniqueIndex:idx_votes_slot,priority:2"`
	Option    string    `gorm:"column:choice;size:190;not null;index:idx_votes_poll_choice,priority:2"`
	Slot      string    `gorm:"column:slot;size:190;not null;uniqueIndex:idx_votes_slot,priority:3"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Vote) TableName() string {
	return "votes"
}

// CastResult reports the outcome of a cast.
type CastResult struct {
	Accepted       bool
	Option         string
	Replaced       bool
	PreviousOption string
	OwnerID        string
}

// OptionCount is the number of votes for one option.
type OptionCount struct {
	Option string
	Count  int64
}

// Tally aggregates the votes of a poll.
type Tally struct {
	PollID        string
	Options       []OptionCount
	TotalVotes    int64
	TotalVoters   int64
	Deadline      *time.Time
	Closed        bool
	AllowMultiple bool
	MyVotes       []string
}
