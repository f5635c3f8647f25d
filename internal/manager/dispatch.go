package manager

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/arborworks/arbor/internal/domain/tree"
	"github.com/arborworks/arbor/internal/log"
	"github.com/arborworks/arbor/internal/tracing"
)

// Availability maps each concrete task kind to how many targets exist for it.
type Availability map[tree.TaskRequestType]int

// Total sums the per-kind counts.
func (a Availability) Total() int {
	total := 0
	for _, n := range a {
		total += n
	}
	return total
}

// taskWeight is the draw weight per kind for random task requests.
// Ranking drains first, then labeling, then growth.
func taskWeight(t tree.TaskRequestType) int {
	switch t {
	case tree.TaskRankPrompterReplies, tree.TaskRankAssistantReplies:
		return 10
	case tree.TaskLabelPrompterReply, tree.TaskLabelAssistantReply:
		return 5
	case tree.TaskLabelInitialPrompt:
		return 5
	case tree.TaskPrompterReply, tree.TaskAssistantReply:
		return 2
	case tree.TaskInitialPrompt:
		return 1
	default:
		return 0
	}
}

// dispatchInputs are the query materialisations availability and target
// selection are computed from.
type dispatchInputs struct {
	activeTrees        int
	extendibleParents  []tree.ExtendibleParent
	promptsForReview   []*tree.Message
	repliesForReview   map[tree.Role][]*tree.Message
	incompleteRankings map[tree.Role][]tree.IncompleteRanking
}

func (m *TreeManager) loadDispatchInputs(ctx context.Context, s tree.Store, userID uuid.UUID, lang string) (*dispatchInputs, error) {
	q := s.Queries()

	active, err := s.TreeStates().ActiveCountByLang(ctx, lang,
		[]tree.State{tree.StateInitialPromptReview, tree.StateGrowing})
	if err != nil {
		return nil, err
	}
	filter := tree.ReviewFilter{
		AllowSelf:       m.debug.AllowSelfLabeling,
		AllowDuplicates: m.debug.AllowDuplicateTasks,
	}
	parents, err := q.ExtendibleParents(ctx, userID, tree.RolePrompter, lang, filter)
	if err != nil {
		return nil, err
	}
	assistantParents, err := q.ExtendibleParents(ctx, userID, tree.RoleAssistant, lang, filter)
	if err != nil {
		return nil, err
	}

	// A parent only counts while its whole tree is still below goal size.
	// Trees at goal with reviews pending must not keep growing.
	growable, err := q.ExtendibleTrees(ctx, lang)
	if err != nil {
		return nil, err
	}
	growableTrees := make(map[uuid.UUID]bool, len(growable))
	for _, t := range growable {
		growableTrees[t.MessageTreeID] = true
	}
	var extendible []tree.ExtendibleParent
	for _, p := range append(parents, assistantParents...) {
		if growableTrees[p.MessageTreeID] {
			extendible = append(extendible, p)
		}
	}

	prompts, err := q.PromptsAwaitingReview(ctx, userID, lang, filter)
	if err != nil {
		return nil, err
	}
	in := &dispatchInputs{
		activeTrees:        active,
		extendibleParents:  extendible,
		promptsForReview:   prompts,
		repliesForReview:   make(map[tree.Role][]*tree.Message, 2),
		incompleteRankings: make(map[tree.Role][]tree.IncompleteRanking, 2),
	}
	for _, role := range []tree.Role{tree.RolePrompter, tree.RoleAssistant} {
		replies, err := q.RepliesAwaitingReview(ctx, userID, role, lang, filter)
		if err != nil {
			return nil, err
		}
		in.repliesForReview[role] = replies

		rankings, err := q.IncompleteRankings(ctx, userID, role, lang, m.cfg.NumRequiredRankings, filter)
		if err != nil {
			return nil, err
		}
		in.incompleteRankings[role] = rankings
	}
	return in, nil
}

// availability derives the per-kind counts from the loaded inputs.
func (m *TreeManager) availability(in *dispatchInputs) Availability {
	prompterParents, assistantParents := 0, 0
	for _, p := range in.extendibleParents {
		if p.ParentRole == tree.RolePrompter {
			prompterParents++
		} else {
			assistantParents++
		}
	}

	promptSlots := m.cfg.MaxActiveTrees - in.activeTrees
	if promptSlots < 0 {
		promptSlots = 0
	}
	rankPrompter := len(in.incompleteRankings[tree.RolePrompter])
	if !m.cfg.RankPrompterReplies {
		rankPrompter = 0
	}

	return Availability{
		tree.TaskInitialPrompt:        promptSlots,
		tree.TaskPrompterReply:        assistantParents,
		tree.TaskAssistantReply:       prompterParents,
		tree.TaskLabelInitialPrompt:   len(in.promptsForReview),
		tree.TaskLabelPrompterReply:   len(in.repliesForReview[tree.RolePrompter]),
		tree.TaskLabelAssistantReply:  len(in.repliesForReview[tree.RoleAssistant]),
		tree.TaskRankPrompterReplies:  rankPrompter,
		tree.TaskRankAssistantReplies: len(in.incompleteRankings[tree.RoleAssistant]),
	}
}

// TaskAvailability reports, without dispatching, how many targets exist for
// each task kind from the user's point of view.
func (m *TreeManager) TaskAvailability(ctx context.Context, userID uuid.UUID, lang string) (Availability, error) {
	if lang == "" {
		lang = "en"
	}
	var avail Availability
	err := m.runner.View(ctx, func(s tree.Store) error {
		if _, err := requireEnabledUser(ctx, s, userID); err != nil {
			return err
		}
		in, err := m.loadDispatchInputs(ctx, s, userID, lang)
		if err != nil {
			return err
		}
		avail = m.availability(in)
		return nil
	})
	return avail, err
}

// NextTask picks a task for the user. For TaskRandom the kind is drawn by
// weight among available kinds; a specific request fails when its kind has no
// targets. The task row is persisted in the same transaction.
func (m *TreeManager) NextTask(ctx context.Context, userID uuid.UUID, requestType tree.TaskRequestType, lang string) (*tree.TaskDescriptor, error) {
	ctx, span := m.tracer.Start(ctx, tracing.SpanPrefixDispatch+"next_task",
		trace.WithAttributes(
			attribute.String(tracing.AttrUserID, userID.String()),
			attribute.String(tracing.AttrTaskRequestType, string(requestType)),
		))
	defer span.End()

	if lang == "" {
		log.Warn(log.CatDispatch, "Task requested without lang, defaulting", "user_id", userID, "lang", "en")
		lang = "en"
	}
	span.SetAttributes(attribute.String(tracing.AttrLang, lang))

	valid := requestType == tree.TaskRandom
	for _, t := range tree.RequestTypes {
		if requestType == t {
			valid = true
		}
	}
	if !valid {
		return nil, tree.ErrInvalidRequestType
	}

	var descriptor *tree.TaskDescriptor
	err := m.runner.InTx(ctx, func(s tree.Store) error {
		if _, err := requireEnabledUser(ctx, s, userID); err != nil {
			return err
		}
		in, err := m.loadDispatchInputs(ctx, s, userID, lang)
		if err != nil {
			return err
		}
		avail := m.availability(in)

		kind := requestType
		if kind == tree.TaskRandom {
			kind = m.drawKind(avail)
			if kind == "" {
				return tree.ErrTaskUnavailable
			}
		} else if avail[kind] == 0 {
			return tree.ErrTaskUnavailable
		}

		descriptor, err = m.buildTask(ctx, s, in, kind, userID, lang)
		if err != nil {
			return err
		}
		return m.persistTask(ctx, s, descriptor, userID, lang)
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String(tracing.AttrTaskID, descriptor.ID.String()),
		attribute.String(tracing.AttrTaskType, string(descriptor.Type)),
	)
	span.AddEvent(tracing.EventTaskDispatched)
	log.Debug(log.CatDispatch, "Task dispatched",
		"task_id", descriptor.ID, "type", descriptor.Type, "user_id", userID, "lang", lang)
	return descriptor, nil
}

// drawKind performs the weighted draw over kinds with availability, or ""
// when nothing is available.
func (m *TreeManager) drawKind(avail Availability) tree.TaskRequestType {
	total := 0
	for _, t := range tree.RequestTypes {
		if avail[t] > 0 {
			total += taskWeight(t)
		}
	}
	if total == 0 {
		return ""
	}
	draw := m.intn(total)
	for _, t := range tree.RequestTypes {
		if avail[t] == 0 {
			continue
		}
		draw -= taskWeight(t)
		if draw < 0 {
			return t
		}
	}
	return ""
}

func (m *TreeManager) buildTask(ctx context.Context, s tree.Store, in *dispatchInputs, kind tree.TaskRequestType, userID uuid.UUID, lang string) (*tree.TaskDescriptor, error) {
	switch kind {
	case tree.TaskInitialPrompt:
		return tree.NewTaskDescriptor(tree.TaskInitialPrompt), nil
	case tree.TaskPrompterReply:
		return m.buildReplyTask(ctx, s, in, tree.RoleAssistant, tree.TaskPrompterReply)
	case tree.TaskAssistantReply:
		return m.buildReplyTask(ctx, s, in, tree.RolePrompter, tree.TaskAssistantReply)
	case tree.TaskRankPrompterReplies:
		return m.buildRankingTask(ctx, s, in.incompleteRankings[tree.RolePrompter], tree.TaskRankPrompterReplies)
	case tree.TaskRankAssistantReplies:
		return m.buildRankingTask(ctx, s, in.incompleteRankings[tree.RoleAssistant], tree.TaskRankAssistantReplies)
	case tree.TaskLabelInitialPrompt:
		return m.buildLabelPromptTask(in.promptsForReview)
	case tree.TaskLabelPrompterReply:
		return m.buildLabelReplyTask(ctx, s, in.repliesForReview[tree.RolePrompter], tree.TaskLabelPrompterReply)
	case tree.TaskLabelAssistantReply:
		return m.buildLabelReplyTask(ctx, s, in.repliesForReview[tree.RoleAssistant], tree.TaskLabelAssistantReply)
	default:
		return nil, tree.ErrInvalidRequestType
	}
}

// buildReplyTask picks an extendible parent of parentRole and emits a reply
// task with the conversation so far. Parents with a reply task already open
// anywhere are avoided; with p_lonely_child_extension the pick is restricted
// to parents that already have a child but fewer than lonely_children_count.
func (m *TreeManager) buildReplyTask(ctx context.Context, s tree.Store, in *dispatchInputs, parentRole tree.Role, kind tree.TaskRequestType) (*tree.TaskDescriptor, error) {
	var pool []tree.ExtendibleParent
	for _, p := range in.extendibleParents {
		if p.ParentRole == parentRole {
			pool = append(pool, p)
		}
	}
	if len(pool) == 0 {
		return nil, tree.ErrTaskUnavailable
	}

	span := time.Duration(m.cfg.RecentTasksSpanSec) * time.Second
	recent, err := s.Tasks().RecentTargets(ctx, time.Now().Add(-span))
	if err != nil {
		return nil, err
	}

	candidates := pool
	if m.float64() < m.cfg.PLonelyChildExtension {
		var lonely []tree.ExtendibleParent
		for _, p := range pool {
			if p.ActiveChildrenCount > 0 && p.ActiveChildrenCount < m.cfg.LonelyChildrenCount && !recent[p.ParentID] {
				lonely = append(lonely, p)
			}
		}
		if len(lonely) > 0 {
			candidates = lonely
		}
	}
	if len(candidates) == len(pool) {
		var fresh []tree.ExtendibleParent
		for _, p := range pool {
			if !recent[p.ParentID] {
				fresh = append(fresh, p)
			}
		}
		if len(fresh) > 0 {
			candidates = fresh
		}
	}

	pick := candidates[m.intn(len(candidates))]
	thread, err := s.Messages().Thread(ctx, pick.ParentID)
	if err != nil {
		return nil, err
	}

	task := tree.NewTaskDescriptor(kind)
	task.Conversation = conversationFromThread(thread)
	parentID := pick.ParentID
	treeID := pick.MessageTreeID
	task.ReplyParentID = &parentID
	task.ReplyTreeID = &treeID
	return task, nil
}

// buildRankingTask picks an incomplete ranking row, loads the conversation to
// the parent and the reviewed children, and emits the children shuffled.
func (m *TreeManager) buildRankingTask(ctx context.Context, s tree.Store, rows []tree.IncompleteRanking, kind tree.TaskRequestType) (*tree.TaskDescriptor, error) {
	if len(rows) == 0 {
		return nil, tree.ErrTaskUnavailable
	}
	pick := rows[m.intn(len(rows))]

	thread, err := s.Messages().Thread(ctx, pick.ParentID)
	if err != nil {
		return nil, err
	}
	children, err := s.Messages().Children(ctx, pick.ParentID, true)
	if err != nil {
		return nil, err
	}
	m.shuffle(len(children), func(i, j int) {
		children[i], children[j] = children[j], children[i]
	})

	task := tree.NewTaskDescriptor(kind)
	task.Conversation = conversationFromThread(thread)
	task.Replies = make([]string, len(children))
	task.ReplyMessageIDs = make([]uuid.UUID, len(children))
	for i, c := range children {
		task.Replies[i] = c.Text
		task.ReplyMessageIDs[i] = c.ID
	}
	parentID := pick.ParentID
	treeID := pick.MessageTreeID
	task.RankingParentID = &parentID
	task.RankingTreeID = &treeID
	return task, nil
}

func (m *TreeManager) buildLabelPromptTask(prompts []*tree.Message) (*tree.TaskDescriptor, error) {
	if len(prompts) == 0 {
		return nil, tree.ErrTaskUnavailable
	}
	pick := prompts[m.intn(len(prompts))]

	task := tree.NewTaskDescriptor(tree.TaskLabelInitialPrompt)
	id := pick.ID
	task.MessageID = &id
	task.Reply = pick.Text
	m.applyLabelMode(task,
		m.cfg.PFullLabelingReviewInitialPrompt,
		toLabels(m.cfg.LabelsInitialPrompt),
		toLabels(m.cfg.MandatoryLabelsInitialPrompt))
	return task, nil
}

func (m *TreeManager) buildLabelReplyTask(ctx context.Context, s tree.Store, replies []*tree.Message, kind tree.TaskRequestType) (*tree.TaskDescriptor, error) {
	if len(replies) == 0 {
		return nil, tree.ErrTaskUnavailable
	}
	pick := replies[m.intn(len(replies))]

	thread, err := s.Messages().Thread(ctx, pick.ID)
	if err != nil {
		return nil, err
	}

	task := tree.NewTaskDescriptor(kind)
	// The subject message is the last turn; the conversation shows the turns
	// above it.
	task.Conversation = conversationFromThread(thread[:len(thread)-1])
	id := pick.ID
	task.MessageID = &id
	task.Reply = pick.Text

	pFull := m.cfg.PFullLabelingReviewReplyAssistant
	valid := toLabels(m.cfg.LabelsAssistantReply)
	mandatory := toLabels(m.cfg.MandatoryLabelsAssistantReply)
	if kind == tree.TaskLabelPrompterReply {
		pFull = m.cfg.PFullLabelingReviewReplyPrompter
		valid = toLabels(m.cfg.LabelsPrompterReply)
		mandatory = toLabels(m.cfg.MandatoryLabelsPrompterReply)
	}
	m.applyLabelMode(task, pFull, valid, mandatory)
	return task, nil
}

// applyLabelMode draws simple vs full labeling. Simple mode restricts the
// palette to the mandatory labels plus lang_mismatch and quality and asks the
// spam question; full mode exposes everything and asks for quality.
func (m *TreeManager) applyLabelMode(task *tree.TaskDescriptor, pFull float64, valid, mandatory []tree.Label) {
	if m.float64() < pFull {
		task.Mode = tree.LabelModeFull
		task.Disposition = tree.LabelDispositionQuality
		task.ValidLabels = valid
		task.MandatoryLabels = mandatory
		return
	}
	task.Mode = tree.LabelModeSimple
	task.Disposition = tree.LabelDispositionSpam
	task.ValidLabels = tree.AppendMissing(mandatory, tree.LabelLangMismatch, tree.LabelQuality)
	task.MandatoryLabels = mandatory
}

// persistTask stores the task row that target suppression and interaction
// validation key on.
func (m *TreeManager) persistTask(ctx context.Context, s tree.Store, d *tree.TaskDescriptor, userID uuid.UUID, lang string) error {
	row := &tree.Task{
		ID:          d.ID,
		UserID:      userID,
		PayloadType: string(d.Type),
		Lang:        lang,
		CreatedAt:   time.Now(),
	}
	switch {
	case d.RankingParentID != nil:
		row.ParentMessageID = d.RankingParentID
		row.MessageTreeID = d.RankingTreeID
	case d.ReplyParentID != nil:
		row.ParentMessageID = d.ReplyParentID
		row.MessageTreeID = d.ReplyTreeID
	case d.MessageID != nil:
		row.ParentMessageID = d.MessageID
	}
	return s.Tasks().Insert(ctx, row)
}

func conversationFromThread(thread []*tree.Message) []tree.ConversationMessage {
	out := make([]tree.ConversationMessage, len(thread))
	for i, msg := range thread {
		out[i] = tree.ConversationMessage{ID: msg.ID, Text: msg.Text, Role: msg.Role}
	}
	return out
}

func toLabels(names []string) []tree.Label {
	out := make([]tree.Label, len(names))
	for i, n := range names {
		out[i] = tree.Label(n)
	}
	return out
}
