package memory

import "github.com/pushkarjay/safecom/internal/repository"

var (
	_ repository.UserRepository         = (*UserStore)(nil)
	_ repository.TaskRepository         = (*TaskStore)(nil)
	_ repository.ConversationRepository = (*ConversationStore)(nil)
	_ repository.MessageRepository      = (*MessageStore)(nil)
)
