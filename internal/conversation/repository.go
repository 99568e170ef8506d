// Package conversation owns the set of conversations, their knowledge bases
// and message logs.
package conversation

import (
	"net/url"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/entrepeneur4lyf/kbchat/internal/attachment"
	"github.com/entrepeneur4lyf/kbchat/internal/events"
	"github.com/entrepeneur4lyf/kbchat/internal/i18n"
)

const (
	DefaultMaxContextItems = 30
	MinContextItems        = 1
	MaxContextItems        = 100
)

// Repository is the system of record for conversations. All methods are
// safe for concurrent use and return copies.
type Repository struct {
	mu       sync.Mutex
	convs    []*Conversation
	activeID string
	maxItems int

	tr         i18n.Translator
	broker     *events.Broker[Change]
	now        func() time.Time
	logger     *log.Logger
	appName    string
	fileFilter func(mimeType string) bool

	hooksMu sync.RWMutex
	hooks   []func(Change)
}

// Option configures a Repository.
type Option func(*Repository)

func WithTranslator(tr i18n.Translator) Option {
	return func(r *Repository) { r.tr = tr }
}

func WithBroker(b *events.Broker[Change]) Option {
	return func(r *Repository) { r.broker = b }
}

func WithMaxContextItems(n int) Option {
	return func(r *Repository) {
		if n >= MinContextItems && n <= MaxContextItems {
			r.maxItems = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

func WithLogger(l *log.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

func WithAppName(name string) Option {
	return func(r *Repository) { r.appName = name }
}

// WithFileFilter rejects knowledge-base files whose MIME type fails accept.
func WithFileFilter(accept func(mimeType string) bool) Option {
	return func(r *Repository) { r.fileFilter = accept }
}

// New creates a repository holding one fresh conversation.
func New(opts ...Option) *Repository {
	r := &Repository{
		maxItems: DefaultMaxContextItems,
		now:      time.Now,
		appName:  "kbchat",
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tr == nil {
		r.tr = i18n.New("en")
	}
	if r.logger == nil {
		r.logger = log.Default().With("component", "conversation")
	}
	c := r.newConversation(r.DefaultName())
	r.convs = []*Conversation{c}
	r.activeID = c.ID
	return r
}

// OnChange registers a hook called synchronously, outside the repository
// lock, after every mutation.
func (r *Repository) OnChange(fn func(Change)) {
	r.hooksMu.Lock()
	r.hooks = append(r.hooks, fn)
	r.hooksMu.Unlock()
}

func (r *Repository) emit(changes ...Change) {
	r.hooksMu.RLock()
	hooks := slices.Clone(r.hooks)
	r.hooksMu.RUnlock()

	for _, ch := range changes {
		for _, fn := range hooks {
			fn(ch)
		}
		if r.broker != nil {
			r.broker.Publish(ch.Kind, ch, events.WithConversationID(ch.ConversationID))
		}
	}
}

// DefaultName is the localized name for an unnamed conversation.
func (r *Repository) DefaultName() string {
	return r.tr.T(i18n.KeyDefaultName)
}

func (r *Repository) welcome() Message {
	return Message{
		ID:        uuid.NewString(),
		Text:      r.tr.T(i18n.KeyWelcome, r.appName),
		Sender:    SenderSystem,
		Timestamp: r.now(),
	}
}

func (r *Repository) newConversation(name string) *Conversation {
	return &Conversation{
		ID:          uuid.NewString(),
		Name:        name,
		URLs:        []string{},
		Files:       []attachment.Attachment{},
		Messages:    []Message{r.welcome()},
		LastUpdated: r.now(),
	}
}

// find returns the conversation and its index. Callers hold r.mu.
func (r *Repository) find(id string) (*Conversation, int) {
	for i, c := range r.convs {
		if c.ID == id {
			return c, i
		}
	}
	return nil, -1
}

// touch bumps LastUpdated and keeps the set ordered newest first.
func (r *Repository) touch(c *Conversation) {
	c.LastUpdated = r.now()
	sort.SliceStable(r.convs, func(i, j int) bool {
		return r.convs[i].LastUpdated.After(r.convs[j].LastUpdated)
	})
}

func (r *Repository) change(kind events.EventType, c *Conversation) Change {
	cp := c.Clone()
	return Change{
		Kind:           kind,
		ConversationID: c.ID,
		Active:         c.ID == r.activeID,
		Conversation:   &cp,
	}
}

func (r *Repository) messageChange(kind events.EventType, c *Conversation, m *Message) Change {
	cp := m.Clone()
	return Change{
		Kind:           kind,
		ConversationID: c.ID,
		Active:         c.ID == r.activeID,
		Message:        &cp,
	}
}

// Create adds a conversation with a welcome message and makes it active.
func (r *Repository) Create(name string) (Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Conversation{}, ErrEmptyName
	}

	r.mu.Lock()
	c := r.newConversation(name)
	r.convs = append([]*Conversation{c}, r.convs...)
	r.touch(c)
	r.activeID = c.ID
	out := c.Clone()
	changes := []Change{r.change(events.ConversationCreated, c), r.change(events.ConversationActivated, c)}
	r.mu.Unlock()

	r.logger.Debug("Conversation created", "id", c.ID)
	r.emit(changes...)
	return out, nil
}

// Rename changes a conversation's display name.
func (r *Repository) Rename(id, name string) (Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Conversation{}, ErrEmptyName
	}

	r.mu.Lock()
	c, _ := r.find(id)
	if c == nil {
		r.mu.Unlock()
		return Conversation{}, ErrUnknownConversation
	}
	c.Name = name
	r.touch(c)
	out := c.Clone()
	ch := r.change(events.ConversationUpdated, c)
	r.mu.Unlock()

	r.emit(ch)
	return out, nil
}

// Delete removes a conversation. The last remaining one cannot be deleted.
// Deleting the active conversation activates its predecessor in the list,
// or the new first entry.
func (r *Repository) Delete(id string) error {
	r.mu.Lock()
	c, idx := r.find(id)
	if c == nil {
		r.mu.Unlock()
		return ErrUnknownConversation
	}
	if len(r.convs) <= 1 {
		r.mu.Unlock()
		return ErrLastConversation
	}

	r.convs = slices.Delete(r.convs, idx, idx+1)
	changes := []Change{{Kind: events.ConversationDeleted, ConversationID: id}}
	if r.activeID == id {
		next := r.convs[max(idx-1, 0)]
		r.activeID = next.ID
		changes = append(changes, r.change(events.ConversationActivated, next))
	}
	r.mu.Unlock()

	r.logger.Debug("Conversation deleted", "id", id)
	r.emit(changes...)
	return nil
}

// SetActive selects a conversation. Unknown ids leave the selection as is.
func (r *Repository) SetActive(id string) (Conversation, error) {
	r.mu.Lock()
	c, _ := r.find(id)
	if c == nil {
		r.mu.Unlock()
		return Conversation{}, ErrUnknownConversation
	}
	if r.activeID == id {
		out := c.Clone()
		r.mu.Unlock()
		return out, nil
	}
	r.activeID = id
	out := c.Clone()
	ch := r.change(events.ConversationActivated, c)
	r.mu.Unlock()

	r.emit(ch)
	return out, nil
}

// ValidateURL reports whether raw is an absolute http(s) URL.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return withArgs(ErrInvalidURL, raw)
	}
	return nil
}

// AddURL adds a URL to a conversation's knowledge base.
func (r *Repository) AddURL(id, raw string) (Conversation, error) {
	raw = strings.TrimSpace(raw)
	if err := ValidateURL(raw); err != nil {
		return Conversation{}, err
	}

	r.mu.Lock()
	c, _ := r.find(id)
	if c == nil {
		r.mu.Unlock()
		return Conversation{}, ErrUnknownConversation
	}
	if slices.Contains(c.URLs, raw) {
		r.mu.Unlock()
		return Conversation{}, withArgs(ErrDuplicateURL, raw)
	}
	if c.ContextItems() >= r.maxItems {
		limit := r.maxItems
		r.mu.Unlock()
		return Conversation{}, withArgs(ErrContextLimit, limit)
	}
	c.URLs = append(c.URLs, raw)
	r.touch(c)
	out := c.Clone()
	ch := r.change(events.ConversationUpdated, c)
	ch.URLsChanged = true
	r.mu.Unlock()

	r.emit(ch)
	return out, nil
}

// RemoveURL drops a URL. Removing an absent URL is not an error.
func (r *Repository) RemoveURL(id, raw string) (Conversation, error) {
	r.mu.Lock()
	c, _ := r.find(id)
	if c == nil {
		r.mu.Unlock()
		return Conversation{}, ErrUnknownConversation
	}
	idx := slices.Index(c.URLs, raw)
	if idx < 0 {
		out := c.Clone()
		r.mu.Unlock()
		return out, nil
	}
	c.URLs = slices.Delete(c.URLs, idx, idx+1)
	r.touch(c)
	out := c.Clone()
	ch := r.change(events.ConversationUpdated, c)
	ch.URLsChanged = true
	r.mu.Unlock()

	r.emit(ch)
	return out, nil
}

// AddFiles inserts knowledge-base file placeholders. The whole batch is
// rejected if it would exceed the context item limit.
func (r *Repository) AddFiles(id string, files []attachment.Attachment) (Conversation, error) {
	if r.fileFilter != nil {
		for _, f := range files {
			if !r.fileFilter(f.MimeType) {
				return Conversation{}, withArgs(ErrUnsupportedFile, f.MimeType)
			}
		}
	}

	r.mu.Lock()
	c, _ := r.find(id)
	if c == nil {
		r.mu.Unlock()
		return Conversation{}, ErrUnknownConversation
	}
	if c.ContextItems()+len(files) > r.maxItems {
		limit := r.maxItems
		r.mu.Unlock()
		return Conversation{}, withArgs(ErrContextLimit, limit)
	}
	c.Files = append(c.Files, files...)
	r.touch(c)
	out := c.Clone()
	ch := r.change(events.ConversationUpdated, c)
	r.mu.Unlock()

	r.emit(ch)
	return out, nil
}

// ResolveFile settles a loading knowledge-base file. It reports false when
// the file is gone or already settled.
func (r *Repository) ResolveFile(id string, settled attachment.Attachment) bool {
	r.mu.Lock()
	c, _ := r.find(id)
	if c == nil {
		r.mu.Unlock()
		return false
	}
	idx := slices.IndexFunc(c.Files, func(a attachment.Attachment) bool { return a.ID == settled.ID })
	if idx < 0 || c.Files[idx].Status != attachment.StatusLoading || settled.Status == attachment.StatusLoading {
		r.mu.Unlock()
		return false
	}
	c.Files[idx] = settled
	r.touch(c)
	ch := r.change(events.ConversationUpdated, c)
	r.mu.Unlock()

	r.emit(ch)
	return true
}

// RemoveFile drops a knowledge-base file by attachment id.
func (r *Repository) RemoveFile(id, fileID string) (Conversation, error) {
	r.mu.Lock()
	c, _ := r.find(id)
	if c == nil {
		r.mu.Unlock()
		return Conversation{}, ErrUnknownConversation
	}
	idx := slices.IndexFunc(c.Files, func(a attachment.Attachment) bool { return a.ID == fileID })
	if idx < 0 {
		out := c.Clone()
		r.mu.Unlock()
		return out, nil
	}
	c.Files = slices.Delete(c.Files, idx, idx+1)
	r.touch(c)
	out := c.Clone()
	ch := r.change(events.ConversationUpdated, c)
	r.mu.Unlock()

	r.emit(ch)
	return out, nil
}

// MaxContextItems returns the current per-conversation item limit.
func (r *Repository) MaxContextItems() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxItems
}

// SetMaxContextItems changes the limit. A limit below the item count of an
// existing conversation is rejected so the cap holds for every conversation.
func (r *Repository) SetMaxContextItems(n int) error {
	if n < MinContextItems || n > MaxContextItems {
		return withArgs(ErrInvalidLimit, MinContextItems, MaxContextItems)
	}

	r.mu.Lock()
	for _, c := range r.convs {
		if c.ContextItems() > n {
			r.mu.Unlock()
			return withArgs(ErrContextLimit, n)
		}
	}
	if r.maxItems == n {
		r.mu.Unlock()
		return nil
	}
	r.maxItems = n
	r.mu.Unlock()

	r.emit(Change{Kind: events.SettingsUpdated})
	return nil
}

// ClearMessages resets a conversation's log to a fresh welcome message.
func (r *Repository) ClearMessages(id string) (Conversation, error) {
	r.mu.Lock()
	c, _ := r.find(id)
	if c == nil {
		r.mu.Unlock()
		return Conversation{}, ErrUnknownConversation
	}
	c.Messages = []Message{r.welcome()}
	r.touch(c)
	out := c.Clone()
	ch := r.change(events.ConversationUpdated, c)
	r.mu.Unlock()

	r.emit(ch)
	return out, nil
}

// AppendMessage adds a message to the end of a conversation's log. Missing
// ids and timestamps are filled in.
func (r *Repository) AppendMessage(id string, m Message) (Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = r.now()
	}

	r.mu.Lock()
	c, _ := r.find(id)
	if c == nil {
		r.mu.Unlock()
		return Message{}, ErrUnknownConversation
	}
	stored := m.Clone()
	c.Messages = append(c.Messages, stored)
	r.touch(c)
	ch := r.messageChange(events.MessageAppended, c, &stored)
	r.mu.Unlock()

	r.emit(ch)
	return m.Clone(), nil
}

// UpdateMessage mutates a message in place. The id cannot be changed.
func (r *Repository) UpdateMessage(id, msgID string, fn func(*Message)) (Message, error) {
	r.mu.Lock()
	c, _ := r.find(id)
	if c == nil {
		r.mu.Unlock()
		return Message{}, ErrUnknownConversation
	}
	idx := indexOf(c.Messages, msgID)
	if idx < 0 {
		r.mu.Unlock()
		return Message{}, ErrUnknownMessage
	}
	m := &c.Messages[idx]
	fn(m)
	m.ID = msgID
	r.touch(c)
	out := m.Clone()
	ch := r.messageChange(events.MessageUpdated, c, m)
	r.mu.Unlock()

	r.emit(ch)
	return out, nil
}

// ReplaceMessage swaps a message for another that keeps the original id.
func (r *Repository) ReplaceMessage(id, msgID string, next Message) (Message, error) {
	return r.UpdateMessage(id, msgID, func(m *Message) {
		if next.Timestamp.IsZero() {
			next.Timestamp = r.now()
		}
		*m = next.Clone()
	})
}

// Truncate drops the message and everything after it, returning what is
// left of the log.
func (r *Repository) Truncate(id, msgID string) ([]Message, error) {
	r.mu.Lock()
	c, _ := r.find(id)
	if c == nil {
		r.mu.Unlock()
		return nil, ErrUnknownConversation
	}
	idx := indexOf(c.Messages, msgID)
	if idx < 0 {
		r.mu.Unlock()
		return nil, ErrUnknownMessage
	}
	c.Messages = slices.Clone(c.Messages[:idx])
	r.touch(c)
	out := cloneMessages(c.Messages)
	ch := r.change(events.ConversationUpdated, c)
	r.mu.Unlock()

	r.emit(ch)
	return out, nil
}

// History returns a copy of a conversation's log.
func (r *Repository) History(id string) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, _ := r.find(id)
	if c == nil {
		return nil, ErrUnknownConversation
	}
	return cloneMessages(c.Messages), nil
}

// Message returns one message and its index in the log.
func (r *Repository) Message(id, msgID string) (Message, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, _ := r.find(id)
	if c == nil {
		return Message{}, -1, ErrUnknownConversation
	}
	idx := indexOf(c.Messages, msgID)
	if idx < 0 {
		return Message{}, -1, ErrUnknownMessage
	}
	return c.Messages[idx].Clone(), idx, nil
}

// Get returns a copy of one conversation.
func (r *Repository) Get(id string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, _ := r.find(id)
	if c == nil {
		return Conversation{}, ErrUnknownConversation
	}
	return c.Clone(), nil
}

// Active returns a copy of the active conversation.
func (r *Repository) Active() Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, _ := r.find(r.activeID)
	return c.Clone()
}

// ActiveID returns the id of the active conversation.
func (r *Repository) ActiveID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

// List returns copies of all conversations, newest first.
func (r *Repository) List() []Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conversation, len(r.convs))
	for i, c := range r.convs {
		out[i] = c.Clone()
	}
	return out
}

// Snapshot captures the full state for persistence.
func (r *Repository) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		Conversations:   make([]Conversation, len(r.convs)),
		ActiveID:        r.activeID,
		MaxContextItems: r.maxItems,
	}
	for i, c := range r.convs {
		cp := c.Clone()
		cp.Files = attachment.LoadedOnly(cp.Files)
		for j := range cp.Messages {
			cp.Messages[j].Attachments = attachment.LoadedOnly(cp.Messages[j].Attachments)
		}
		s.Conversations[i] = cp
	}
	return s
}

// Restore replaces the state with a persisted snapshot. Attachments that
// never finished loading are discarded, messages left loading by an
// interrupted stream are finalized, and context items beyond
// MaxContextItems are dropped. Hooks are not called.
func (r *Repository) Restore(s Snapshot) {
	convs := make([]*Conversation, 0, len(s.Conversations))
	largest := 0
	for _, c := range s.Conversations {
		cp := c.Clone()
		if cp.ID == "" {
			continue
		}
		cp.Files = attachment.LoadedOnly(cp.Files)
		for j := range cp.Messages {
			m := &cp.Messages[j]
			m.Attachments = attachment.LoadedOnly(m.Attachments)
			m.IsLoading = false
		}
		if n := cp.ContextItems(); n > MaxContextItems {
			r.logger.Warn("Dropping context items over the limit", "conversation", cp.ID, "items", n, "limit", MaxContextItems)
			trimContext(&cp, MaxContextItems)
		}
		largest = max(largest, cp.ContextItems())
		convs = append(convs, &cp)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(convs) == 0 {
		convs = []*Conversation{r.newConversation(r.DefaultName())}
	}
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastUpdated.After(convs[j].LastUpdated)
	})
	r.convs = convs

	r.activeID = s.ActiveID
	if c, _ := r.find(r.activeID); c == nil {
		r.activeID = r.convs[0].ID
	}

	if s.MaxContextItems >= MinContextItems && s.MaxContextItems <= MaxContextItems {
		r.maxItems = s.MaxContextItems
	}
	if largest > r.maxItems && largest <= MaxContextItems {
		r.maxItems = largest
	}
	r.logger.Debug("State restored", "conversations", len(r.convs), "active", r.activeID)
}

// trimContext keeps the first limit items, URLs before files.
func trimContext(c *Conversation, limit int) {
	if len(c.URLs) > limit {
		c.URLs = c.URLs[:limit]
	}
	if keep := limit - len(c.URLs); len(c.Files) > keep {
		c.Files = c.Files[:keep]
	}
}

func indexOf(msgs []Message, id string) int {
	return slices.IndexFunc(msgs, func(m Message) bool { return m.ID == id })
}

func cloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}
