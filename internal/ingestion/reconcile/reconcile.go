// Package reconcile compares a validated batch with the current catalog and
// plans the version transitions to write. Everything here is a pure function of
// its inputs: the clock and the actor come in through Options.
package reconcile

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/gstripling00/prompt-system/internal/catalog/models"
)

// historyNamespace seeds history ids, which are derived from (prompt_id, version).
var historyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://prompt-catalog/history"))

// Policy decides which catalog prompts a batch speaks for when they are missing from it.
type Policy string

const (
	// PolicyMerge never archives; a batch only inserts and updates.
	PolicyMerge Policy = "merge"
	// PolicyAuthoritative treats every batch as the full catalog.
	PolicyAuthoritative Policy = "authoritative"
	// PolicyPhaseScoped treats a batch as complete for each phase it contains.
	PolicyPhaseScoped Policy = "phase_scoped"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(raw string) (Policy, error) {
	switch p := Policy(raw); p {
	case PolicyMerge, PolicyAuthoritative, PolicyPhaseScoped:
		return p, nil
	case "":
		return PolicyMerge, nil
	default:
		return "", fmt.Errorf("unknown archive policy %q", raw)
	}
}

// Action is what the writer must do for one prompt.
type Action string

const (
	ActionNone    Action = "NONE"
	ActionInsert  Action = Action(models.ChangeInsert)
	ActionUpdate  Action = Action(models.ChangeUpdate)
	ActionArchive Action = Action(models.ChangeArchived)
)

// Options carries the inputs that are not catalog state or batch content.
type Options struct {
	Now       time.Time
	ChangedBy string
	Policy    Policy
	// SkipArchive disables the archive pass, used when rows were dropped by validation
	// and absence from the batch no longer implies intent.
	SkipArchive bool
}

// Item is one planned transition.
type Item struct {
	PromptID string
	Action   Action
	// ExpectedVersion is the version the writer must still find; 0 means the prompt must not exist.
	ExpectedVersion int
	NewVersion      int
	Record          *models.PromptRecord
	History         *models.HistoryEntry
	// Candidate is nil for archive items.
	Candidate *models.Candidate
	Row       int
}

// Scope is the part of the catalog a batch is authoritative for.
type Scope struct {
	All    bool
	Phases map[models.Phase]bool
}

// Contains reports whether rec falls inside the scope.
func (s Scope) Contains(rec *models.PromptRecord) bool {
	return s.All || s.Phases[rec.Phase]
}

// Empty reports whether the scope covers nothing.
func (s Scope) Empty() bool {
	return !s.All && len(s.Phases) == 0
}

// Plan is the ordered reconciliation of one batch: candidates in batch order,
// then archives ordered by prompt_id.
type Plan struct {
	Items []Item
	Scope Scope
	opts  Options
}

// Reconcile classifies every candidate against snapshot and, when the policy
// allows, archives active prompts of the batch's scope that the batch omits.
func Reconcile(snapshot map[string]*models.PromptRecord, candidates []models.Candidate, opts Options) *Plan {
	plan := &Plan{opts: opts, Scope: scopeFor(opts, candidates)}

	present := make(map[string]struct{}, len(candidates))
	for i := range candidates {
		cand := &candidates[i]
		present[cand.PromptID] = struct{}{}
		plan.Items = append(plan.Items, Classify(snapshot[cand.PromptID], cand, opts))
	}

	if plan.Scope.Empty() {
		return plan
	}
	var ids []string
	for id := range snapshot {
		if _, ok := present[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		if item := Archive(snapshot[id], plan.Scope, opts); item.Action != ActionNone {
			plan.Items = append(plan.Items, item)
		}
	}
	return plan
}

func scopeFor(opts Options, candidates []models.Candidate) Scope {
	if opts.SkipArchive {
		return Scope{}
	}
	switch opts.Policy {
	case PolicyAuthoritative:
		return Scope{All: true}
	case PolicyPhaseScoped:
		phases := make(map[models.Phase]bool)
		for _, c := range candidates {
			phases[c.Phase] = true
		}
		return Scope{Phases: phases}
	default:
		return Scope{}
	}
}

// Classify decides the transition for one candidate given the prompt's current record, if any.
// An inactive prompt that reappears is reactivated through an UPDATE even when its content is unchanged.
func Classify(current *models.PromptRecord, cand *models.Candidate, opts Options) Item {
	if current == nil {
		rec := cand.Apply(nil, 1, opts.Now)
		return Item{
			PromptID:   cand.PromptID,
			Action:     ActionInsert,
			NewVersion: 1,
			Record:     rec,
			History:    historyFor(rec, models.ChangeInsert, nil, opts),
			Candidate:  cand,
			Row:        cand.Row,
		}
	}

	if current.IsActive && models.SameContent(current, cand) {
		return Item{
			PromptID:        cand.PromptID,
			Action:          ActionNone,
			ExpectedVersion: current.Version,
			NewVersion:      current.Version,
			Candidate:       cand,
			Row:             cand.Row,
		}
	}

	prev := current.Version
	rec := cand.Apply(current, prev+1, opts.Now)
	return Item{
		PromptID:        cand.PromptID,
		Action:          ActionUpdate,
		ExpectedVersion: prev,
		NewVersion:      prev + 1,
		Record:          rec,
		History:         historyFor(rec, models.ChangeUpdate, &prev, opts),
		Candidate:       cand,
		Row:             cand.Row,
	}
}

// Archive deactivates current when it is active and inside scope; otherwise it plans nothing.
func Archive(current *models.PromptRecord, scope Scope, opts Options) Item {
	if current == nil {
		return Item{Action: ActionNone}
	}
	if !current.IsActive || !scope.Contains(current) {
		return Item{
			PromptID:        current.PromptID,
			Action:          ActionNone,
			ExpectedVersion: current.Version,
			NewVersion:      current.Version,
		}
	}

	prev := current.Version
	rec := *current
	rec.Version = prev + 1
	rec.IsActive = false
	rec.LastModifiedDate = opts.Now
	rec.VersionNotes = nil
	return Item{
		PromptID:        current.PromptID,
		Action:          ActionArchive,
		ExpectedVersion: prev,
		NewVersion:      prev + 1,
		Record:          &rec,
		History:         historyFor(&rec, models.ChangeArchived, &prev, opts),
	}
}

// Reclassify recomputes item against the prompt's state after a lost write race.
func (p *Plan) Reclassify(item Item, current *models.PromptRecord) Item {
	if item.Candidate != nil {
		return Classify(current, item.Candidate, p.opts)
	}
	return Archive(current, p.Scope, p.opts)
}

// Counts tallies the plan by action.
func (p *Plan) Counts() map[Action]int {
	counts := make(map[Action]int, 4)
	for _, item := range p.Items {
		counts[item.Action]++
	}
	return counts
}

// HistoryID returns the id of the history entry for (promptID, version).
func HistoryID(promptID string, version int) string {
	return uuid.NewSHA1(historyNamespace, []byte(promptID+"\x1f"+strconv.Itoa(version))).String()
}

func historyFor(rec *models.PromptRecord, change models.ChangeType, previous *int, opts Options) *models.HistoryEntry {
	return &models.HistoryEntry{
		HistoryID:       HistoryID(rec.PromptID, rec.Version),
		PromptID:        rec.PromptID,
		Version:         rec.Version,
		Phase:           rec.Phase,
		Text:            rec.Text,
		ChangedBy:       opts.ChangedBy,
		ChangedDate:     opts.Now,
		ChangeType:      change,
		VersionNotes:    rec.VersionNotes,
		PreviousVersion: previous,
	}
}
