package types

// CreatedTask describes an issue to be created in the tracker
type CreatedTask struct {
	Queue         string        `json:"queue,omitempty" yaml:"queue,omitempty"`
	Summary       string        `json:"summary" yaml:"summary"`
	Description   string        `json:"description,omitempty" yaml:"description,omitempty"`
	Type          string        `json:"type,omitempty" yaml:"type,omitempty"`
	Assignee      string        `json:"assignee,omitempty" yaml:"assignee,omitempty"`
	Author        string        `json:"author,omitempty" yaml:"author,omitempty"`
	Priority      string        `json:"priority,omitempty" yaml:"priority,omitempty"`
	Parent        string        `json:"parent,omitempty" yaml:"parent,omitempty"`
	Sprint        []string      `json:"sprint,omitempty" yaml:"sprint,omitempty"`
	Followers     []string      `json:"followers,omitempty" yaml:"followers,omitempty"`
	Unique        string        `json:"unique,omitempty" yaml:"unique,omitempty"`
	AttachmentIDs []string      `json:"attachmentIds,omitempty" yaml:"attachmentIds,omitempty"`
	Subtasks      []CreatedTask `json:"subtasks,omitempty" yaml:"subtasks,omitempty"`

	// TaskType is the older spelling of Type. Loaders fold it into Type.
	TaskType string `json:"task_type,omitempty" yaml:"task_type,omitempty"`
}

// TaskPatch is a partial issue update. Nil fields are left untouched remotely.
type TaskPatch struct {
	Summary                  *string  `json:"summary,omitempty" yaml:"summary,omitempty"`
	Description              *string  `json:"description,omitempty" yaml:"description,omitempty"`
	Type                     *string  `json:"type,omitempty" yaml:"type,omitempty"`
	Assignee                 *string  `json:"assignee,omitempty" yaml:"assignee,omitempty"`
	Priority                 *string  `json:"priority,omitempty" yaml:"priority,omitempty"`
	Parent                   *string  `json:"parent,omitempty" yaml:"parent,omitempty"`
	Sprint                   *string  `json:"sprint,omitempty" yaml:"sprint,omitempty"`
	Followers                []string `json:"followers,omitempty" yaml:"followers,omitempty"`
	AttachmentIDs            []string `json:"attachmentIds,omitempty" yaml:"attachmentIds,omitempty"`
	DescriptionAttachmentIDs []string `json:"descriptionAttachmentIds,omitempty" yaml:"descriptionAttachmentIds,omitempty"`
}

// IsEmpty reports whether the patch sets no field at all
func (p TaskPatch) IsEmpty() bool {
	return p.Summary == nil &&
		p.Description == nil &&
		p.Type == nil &&
		p.Assignee == nil &&
		p.Priority == nil &&
		p.Parent == nil &&
		p.Sprint == nil &&
		len(p.Followers) == 0 &&
		len(p.AttachmentIDs) == 0 &&
		len(p.DescriptionAttachmentIDs) == 0
}

// UpdatedTask pairs an existing issue with the fields to change
type UpdatedTask struct {
	IssueID string    `json:"issue_id" yaml:"issue_id"`
	MutTask TaskPatch `json:"mut_task" yaml:"mut_task"`
}

// TaskBatch is the declarative mutation set read from a tasks file
type TaskBatch struct {
	Created []CreatedTask `json:"created" yaml:"created"`
	Updated []UpdatedTask `json:"updated" yaml:"updated"`
	Deleted []string      `json:"deleted,omitempty" yaml:"deleted,omitempty"`
}

// IsEmpty reports whether the batch holds no mutations
func (b *TaskBatch) IsEmpty() bool {
	return len(b.Created) == 0 && len(b.Updated) == 0 && len(b.Deleted) == 0
}

// Len returns the number of report items the batch produces, counting subtasks
func (b *TaskBatch) Len() int {
	n := len(b.Updated) + len(b.Deleted)
	for i := range b.Created {
		n += countTree(&b.Created[i])
	}
	return n
}

// NormalizeTypes moves TaskType into Type across the whole created tree.
// An explicit Type wins.
func (b *TaskBatch) NormalizeTypes() {
	for i := range b.Created {
		normalizeType(&b.Created[i])
	}
}

func normalizeType(t *CreatedTask) {
	if t.Type == "" {
		t.Type = t.TaskType
	}
	t.TaskType = ""
	for i := range t.Subtasks {
		normalizeType(&t.Subtasks[i])
	}
}

func countTree(t *CreatedTask) int {
	n := 1
	for i := range t.Subtasks {
		n += countTree(&t.Subtasks[i])
	}
	return n
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}
