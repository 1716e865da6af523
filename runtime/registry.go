package runtime

import (
	"chat-relay/domain"
	"sync"
)

type Set map[*ConversationView]struct{}

type viewKey struct {
	viewerID     string
	conversation domain.ConversationKey
}

// Registry tracks the open conversation views of every viewer.
type Registry struct {
	mu    sync.RWMutex
	views map[viewKey]Set
}

func NewRegistry() *Registry {
	return &Registry{views: make(map[viewKey]Set)}
}

func keyOf(viewerID, peerID string) (viewKey, bool) {
	conversation, err := domain.NewConversationKey(viewerID, peerID)
	if err != nil {
		return viewKey{}, false
	}
	return viewKey{viewerID: viewerID, conversation: conversation}, true
}

// Register adds an open view. The set for the viewer and conversation is created on the fly.
func (r *Registry) Register(view *ConversationView) {
	key, ok := keyOf(view.ViewerID(), view.PeerID())
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.views[key]; !ok {
		r.views[key] = make(Set)
	}
	r.views[key][view] = struct{}{}
}

// Unregister removes a view and leaves no empty set behind.
func (r *Registry) Unregister(view *ConversationView) {
	key, ok := keyOf(view.ViewerID(), view.PeerID())
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if views, ok := r.views[key]; ok {
		delete(views, view)
		if len(views) == 0 {
			delete(r.views, key)
		}
	}
}

// ViewsOf returns the views the viewer has open on the conversation with peerID.
func (r *Registry) ViewsOf(viewerID, peerID string) []*ConversationView {
	key, ok := keyOf(viewerID, peerID)
	if !ok {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []*ConversationView
	for view := range r.views[key] {
		res = append(res, view)
	}
	return res
}

func (r *Registry) All() []*ConversationView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []*ConversationView
	for _, views := range r.views {
		for view := range views {
			res = append(res, view)
		}
	}
	return res
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, views := range r.views {
		n += len(views)
	}
	return n
}
