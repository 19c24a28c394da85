package ws

import (
	"sync"

	"github.com/serroba/collab-core/internal/activity"
	"github.com/serroba/collab-core/internal/ot"
)

// Hub tracks connected clients and their project/file rooms, and fans
// messages out to them. It implements the broadcast collaborators consumed
// by the session actors and the activity recorder.
type Hub struct {
	mu sync.RWMutex

	// clients maps client ID to client.
	clients map[string]*Client

	// projects and files map room ID to the set of subscribed client IDs.
	projects map[string]map[string]struct{}
	files    map[string]map[string]struct{}
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		projects: make(map[string]map[string]struct{}),
		files:    make(map[string]map[string]struct{}),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
}

// Unregister removes a client from the hub and every room it is in.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for projectID, members := range h.projects {
		delete(members, client.ID)

		if len(members) == 0 {
			delete(h.projects, projectID)
		}
	}

	for fileID, members := range h.files {
		delete(members, client.ID)

		if len(members) == 0 {
			delete(h.files, fileID)
		}
	}

	delete(h.clients, client.ID)
}

// JoinProject adds a client to a project's broadcast room.
func (h *Hub) JoinProject(client *Client, projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.projects[projectID] == nil {
		h.projects[projectID] = make(map[string]struct{})
	}

	h.projects[projectID][client.ID] = struct{}{}
}

// LeaveProject removes a client from a project's broadcast room.
func (h *Hub) LeaveProject(client *Client, projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromRoom(h.projects, projectID, client.ID)
}

// SubscribeFile adds a client to a file's broadcast room.
func (h *Hub) SubscribeFile(client *Client, fileID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.files[fileID] == nil {
		h.files[fileID] = make(map[string]struct{})
	}

	h.files[fileID][client.ID] = struct{}{}
}

// UnsubscribeFile removes a client from a file's broadcast room.
func (h *Hub) UnsubscribeFile(client *Client, fileID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromRoom(h.files, fileID, client.ID)
}

func (h *Hub) removeFromRoom(rooms map[string]map[string]struct{}, roomID, clientID string) {
	if members, ok := rooms[roomID]; ok {
		delete(members, clientID)

		if len(members) == 0 {
			delete(rooms, roomID)
		}
	}
}

// BroadcastProject sends a message to every client in a project room,
// except the sender (identified by excludeClientID).
func (h *Hub) BroadcastProject(projectID string, msg Message, excludeClientID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.broadcast(h.projects[projectID], msg, excludeClientID)
}

// BroadcastFile sends a message to every client in a file room, except the
// sender.
func (h *Hub) BroadcastFile(fileID string, msg Message, excludeClientID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.broadcast(h.files[fileID], msg, excludeClientID)
}

// broadcast is called with h.mu held. A slow or failing peer must not
// block or fail delivery to the others, so messages go onto each client's
// own send queue, which also keeps per-peer delivery in broadcast order.
func (h *Hub) broadcast(members map[string]struct{}, msg Message, excludeClientID string) {
	for clientID := range members {
		if clientID == excludeClientID {
			continue
		}

		client, ok := h.clients[clientID]
		if !ok {
			continue
		}

		client.Enqueue(msg)
	}
}

// OperationApplied pushes an accepted operation to a file's other editors.
// It is the broadcast collaborator the session actors call.
func (h *Hub) OperationApplied(fileID string, op *ot.TextOperation, userID string, version int, excludeClientID string) {
	h.BroadcastFile(fileID, Message{
		Type: MessageTypeOpApplied,
		Payload: OpAppliedPayload{
			FileID:  fileID,
			Op:      op,
			UserID:  userID,
			Version: version,
		},
	}, excludeClientID)
}

// ActivityUpdate pushes a recorded activity item to the project room. It
// is the broadcast collaborator the activity recorder calls.
func (h *Hub) ActivityUpdate(projectID string, item activity.Item) {
	h.BroadcastProject(projectID, Message{
		Type:    MessageTypeActivityUpdate,
		Payload: ActivityUpdatePayload{Activity: item},
	}, "")
}

// FileClientCount returns the number of clients in a file room.
func (h *Hub) FileClientCount(fileID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.files[fileID])
}

// TotalClients returns the total number of connected clients.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
