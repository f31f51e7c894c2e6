package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	gosync "sync"
	"testing"
	"time"

	"github.com/mschirtzinger/caldav-tasks/internal/remote"
	"github.com/mschirtzinger/caldav-tasks/internal/store/memory"
	"github.com/mschirtzinger/caldav-tasks/internal/types"
)

var errNetwork = errors.New("network error")

// fakeClient is a scriptable in-memory remote.Client.
type fakeClient struct {
	mu        gosync.Mutex
	connected map[string]bool
	calendars map[string][]remote.RemoteCalendar // by account
	tasks     map[string][]remote.RemoteTask     // by calendar id
	etagSeq   int

	reconnectErr      map[string]error // by account
	fetchCalendarsErr map[string]error // by account
	fetchTasksErr     map[string]error // by calendar id
	createErr         map[string]error // by uid
	updateErr         map[string]error // by uid
	deleteErr         error

	// beforeUpdate runs before an update is applied.
	beforeUpdate func(remote.RemoteTask)
	// onFetchTasks runs at the start of every FetchTasks call.
	onFetchTasks func(ctx context.Context)

	reconnects []string
	creates    []string
	updates    []string
	deletes    []string
	calls      int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		connected:         make(map[string]bool),
		calendars:         make(map[string][]remote.RemoteCalendar),
		tasks:             make(map[string][]remote.RemoteTask),
		reconnectErr:      make(map[string]error),
		fetchCalendarsErr: make(map[string]error),
		fetchTasksErr:     make(map[string]error),
		createErr:         make(map[string]error),
		updateErr:         make(map[string]error),
	}
}

func (c *fakeClient) nextETag() string {
	c.etagSeq++
	return fmt.Sprintf("srv-%d", c.etagSeq)
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// addTask puts a task on the server in calID, filling href and etag if unset.
func (c *fakeClient) addTask(calID string, rt remote.RemoteTask) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rt.Href == "" {
		rt.Href = "/" + calID + "/" + rt.UID + ".ics"
	}
	if rt.ETag == "" {
		rt.ETag = c.nextETag()
	}
	c.tasks[calID] = append(c.tasks[calID], rt)
}

func (c *fakeClient) removeTask(calID, uid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.tasks[calID]
	for i, t := range list {
		if t.UID == uid {
			c.tasks[calID] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (c *fakeClient) serverTask(calID, uid string) (remote.RemoteTask, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tasks[calID] {
		if t.UID == uid {
			return t, true
		}
	}
	return remote.RemoteTask{}, false
}

func (c *fakeClient) IsConnected(accountID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected[accountID]
}

func (c *fakeClient) Reconnect(ctx context.Context, account *types.Account) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.reconnects = append(c.reconnects, account.ID)
	if err := c.reconnectErr[account.ID]; err != nil {
		return err
	}
	c.connected[account.ID] = true
	return nil
}

func (c *fakeClient) FetchCalendars(ctx context.Context, accountID string) ([]remote.RemoteCalendar, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if err := c.fetchCalendarsErr[accountID]; err != nil {
		return nil, err
	}
	return append([]remote.RemoteCalendar(nil), c.calendars[accountID]...), nil
}

func (c *fakeClient) FetchTasks(ctx context.Context, accountID string, cal types.Calendar) ([]remote.RemoteTask, error) {
	if c.onFetchTasks != nil {
		c.onFetchTasks(ctx)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if err := c.fetchTasksErr[cal.ID]; err != nil {
		return nil, err
	}
	return append([]remote.RemoteTask(nil), c.tasks[cal.ID]...), nil
}

func (c *fakeClient) CreateTask(ctx context.Context, accountID string, cal types.Calendar, task remote.RemoteTask) (remote.CreateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.creates = append(c.creates, task.UID)
	if err := c.createErr[task.UID]; err != nil {
		return remote.CreateResult{}, err
	}
	task.Href = "/" + cal.ID + "/" + task.UID + ".ics"
	task.ETag = c.nextETag()
	c.tasks[cal.ID] = append(c.tasks[cal.ID], task)
	return remote.CreateResult{Href: task.Href, ETag: task.ETag}, nil
}

func (c *fakeClient) UpdateTask(ctx context.Context, accountID string, task remote.RemoteTask) (remote.UpdateResult, error) {
	if c.beforeUpdate != nil {
		c.beforeUpdate(task)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.updates = append(c.updates, task.UID)
	if err := c.updateErr[task.UID]; err != nil {
		return remote.UpdateResult{}, err
	}
	for calID, list := range c.tasks {
		for i, t := range list {
			if t.Href == task.Href {
				task.ETag = c.nextETag()
				c.tasks[calID][i] = task
				return remote.UpdateResult{ETag: task.ETag}, nil
			}
		}
	}
	return remote.UpdateResult{}, remote.ErrNotFound
}

func (c *fakeClient) DeleteTask(ctx context.Context, accountID string, ref remote.TaskRef) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.deletes = append(c.deletes, ref.Href)
	if c.deleteErr != nil {
		return false, c.deleteErr
	}
	for calID, list := range c.tasks {
		for i, t := range list {
			if t.Href == ref.Href {
				c.tasks[calID] = append(list[:i:i], list[i+1:]...)
				return true, nil
			}
		}
	}
	return false, nil
}

// fakeConn is a settable connectivity source.
type fakeConn struct {
	mu     gosync.Mutex
	online bool
}

func (c *fakeConn) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *fakeConn) set(online bool) {
	c.mu.Lock()
	c.online = online
	c.mu.Unlock()
}

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type harness struct {
	store  *memory.Store
	client *fakeClient
	conn   *fakeConn
	engine *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  memory.New(),
		client: newFakeClient(),
		conn:   &fakeConn{online: true},
	}
	e, err := New(Config{
		Store:        h.store,
		Client:       h.client,
		Connectivity: h.conn,
		Logger:       quietLogger(),
		Now:          func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	h.engine = e
	return h
}

// addAccount stores an account whose calendars also exist on the server.
func (h *harness) addAccount(t *testing.T, id string, calIDs ...string) {
	t.Helper()
	a := &types.Account{ID: id, Name: "acct-" + id, ServerType: types.ServerGeneric, IsActive: true}
	for _, cid := range calIDs {
		a.Calendars = append(a.Calendars, types.Calendar{ID: cid, AccountID: id, DisplayName: cid, URL: "/" + cid + "/"})
		h.client.calendars[id] = append(h.client.calendars[id], remote.RemoteCalendar{ID: cid, DisplayName: cid, URL: "/" + cid + "/"})
	}
	if err := h.store.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("CreateAccount() failed: %v", err)
	}
	h.client.connected[id] = true
}

func (h *harness) addLocalTask(t *testing.T, task *types.Task) {
	t.Helper()
	if task.ID == "" {
		task.ID = "local-" + task.UID
	}
	if task.Tags == nil {
		task.Tags = []string{}
	}
	if err := h.store.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
}

func (h *harness) taskByUID(t *testing.T, calID, uid string) *types.Task {
	t.Helper()
	tasks, err := h.store.GetTasksByCalendar(context.Background(), calID)
	if err != nil {
		t.Fatalf("GetTasksByCalendar() failed: %v", err)
	}
	for _, task := range tasks {
		if task.UID == uid {
			return task
		}
	}
	return nil
}

func (h *harness) tagNames(t *testing.T) []string {
	t.Helper()
	tags, err := h.store.GetAllTags(context.Background())
	if err != nil {
		t.Fatalf("GetAllTags() failed: %v", err)
	}
	names := make([]string, len(tags))
	for i, tag := range tags {
		names[i] = tag.Name
	}
	return names
}

func remoteTask(uid, href string) remote.RemoteTask {
	return remote.RemoteTask{UID: uid, Href: href, Title: "Task " + uid}
}
