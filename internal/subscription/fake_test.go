package subscription

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/teemow/inboxhook/internal/graph"
)

// fakeGraph is an in-memory stand-in for the Graph subscription endpoints.
type fakeGraph struct {
	mu      sync.Mutex
	subs    map[string]graph.Subscription
	nextID  int
	created []graph.Subscription
	deletes []string
	renews  []string

	createErr  error
	listErr    error
	deleteErrs map[string]error
	renewErrs  map[string]error
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		subs:       make(map[string]graph.Subscription),
		deleteErrs: make(map[string]error),
		renewErrs:  make(map[string]error),
	}
}

func (f *fakeGraph) add(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[id] = graph.Subscription{ID: id, Resource: MessagesResource}
}

func (f *fakeGraph) CreateSubscription(_ context.Context, _ string, sub graph.Subscription) (*graph.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, sub)
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	sub.ID = fmt.Sprintf("sub-%d", f.nextID)
	f.subs[sub.ID] = sub
	return &sub, nil
}

func (f *fakeGraph) ListSubscriptions(context.Context, string) ([]graph.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]graph.Subscription, 0, len(f.subs))
	for _, s := range f.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeGraph) DeleteSubscription(_ context.Context, _ string, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	if err := f.deleteErrs[id]; err != nil {
		return err
	}
	delete(f.subs, id)
	return nil
}

func (f *fakeGraph) RenewSubscription(_ context.Context, _ string, id string, expiresAt time.Time) (*graph.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renews = append(f.renews, id)
	if err := f.renewErrs[id]; err != nil {
		return nil, err
	}
	sub := f.subs[id]
	sub.ID = id
	sub.ExpirationDateTime = expiresAt
	f.subs[id] = sub
	return &sub, nil
}

func (f *fakeGraph) counts() (created, deletes, renews int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created), len(f.deletes), len(f.renews)
}
