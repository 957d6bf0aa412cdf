// Package memory is an in-process implementation of the repository
// interfaces. It backs STORAGE_DRIVER=memory and the service tests.
package memory

import (
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/pushkarjay/safecom/internal/models"
)

type participant struct {
	unread   int
	archived bool
	muted    bool
}

type idemKey struct {
	owner uuid.UUID
	key   string
}

// DB is the shared state behind every memory store. One mutex guards it
// all, so each repository call is atomic like a single-document write.
type DB struct {
	mu sync.Mutex

	users         map[uuid.UUID]*models.User
	tasks         map[uuid.UUID]*models.Task
	taskKeys      map[idemKey]uuid.UUID
	conversations map[uuid.UUID]*models.Conversation
	participants  map[uuid.UUID]map[uuid.UUID]*participant
	messages      map[int64]*models.Message
	messageOrder  map[uuid.UUID][]int64
	messageKeys   map[idemKey]int64
	nextMessageID int64
}

func NewDB() *DB {
	return &DB{
		users:         make(map[uuid.UUID]*models.User),
		tasks:         make(map[uuid.UUID]*models.Task),
		taskKeys:      make(map[idemKey]uuid.UUID),
		conversations: make(map[uuid.UUID]*models.Conversation),
		participants:  make(map[uuid.UUID]map[uuid.UUID]*participant),
		messages:      make(map[int64]*models.Message),
		messageOrder:  make(map[uuid.UUID][]int64),
		messageKeys:   make(map[idemKey]int64),
	}
}

func copyUser(u *models.User) *models.User {
	c := *u
	c.DeviceTokens = slices.Clone(u.DeviceTokens)
	return &c
}

func copyTask(t *models.Task) *models.Task {
	c := *t
	c.Watchers = slices.Clone(t.Watchers)
	c.Comments = slices.Clone(t.Comments)
	c.TimeLogs = slices.Clone(t.TimeLogs)
	if c.Watchers == nil {
		c.Watchers = []uuid.UUID{}
	}
	if c.Comments == nil {
		c.Comments = []models.Comment{}
	}
	if c.TimeLogs == nil {
		c.TimeLogs = []models.TimeLog{}
	}
	return &c
}

func copyConversation(c *models.Conversation) *models.Conversation {
	out := *c
	out.Participants = slices.Clone(c.Participants)
	return &out
}

func copyMessage(m *models.Message) *models.Message {
	c := *m
	c.Attachments = slices.Clone(m.Attachments)
	c.ReadBy = slices.Clone(m.ReadBy)
	c.DeliveredTo = slices.Clone(m.DeliveredTo)
	c.Reactions = slices.Clone(m.Reactions)
	if c.Attachments == nil {
		c.Attachments = []models.Attachment{}
	}
	if c.ReadBy == nil {
		c.ReadBy = []models.Receipt{}
	}
	if c.DeliveredTo == nil {
		c.DeliveredTo = []models.Receipt{}
	}
	if c.Reactions == nil {
		c.Reactions = []models.Reaction{}
	}
	return &c
}
