package presence

import (
	"sort"
	"sync"
	"time"
)

// Record is a presence row: one per (project, connection). Rows are marked
// inactive on leave or disconnect rather than deleted, so activity history
// can refer back to them.
type Record struct {
	ProjectID    string
	User         User
	Scope        FileScope
	JoinedAt     time.Time
	LastActivity time.Time
	IsActive     bool
}

// Departure describes everything a leaving connection gives up, so the
// caller can broadcast the right user-left events.
type Departure struct {
	ProjectID string
	User      User
	OpenFiles []string
}

// member is a connection's state within one project.
type member struct {
	user         User
	active       bool
	joinedAt     time.Time
	lastActivity time.Time
	scope        FileScope
	openFiles    map[string]struct{}
	cursors      map[string]Cursor
	selections   map[string]Selection
}

// projectEntry holds one project's presence index behind its own lock, so
// mutations on different projects never contend.
type projectEntry struct {
	mu      sync.RWMutex
	members map[string]*member             // by connection id
	files   map[string]map[string]struct{} // fileID -> connection ids
}

// Directory is the in-memory presence index. All methods are idempotent
// and safe for concurrent use; mutations are atomic per project.
type Directory struct {
	mu       sync.RWMutex
	projects map[string]*projectEntry
	now      func() time.Time
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		projects: make(map[string]*projectEntry),
		now:      time.Now,
	}
}

func (d *Directory) project(projectID string, create bool) *projectEntry {
	d.mu.RLock()
	p, ok := d.projects[projectID]
	d.mu.RUnlock()

	if ok || !create {
		return p
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok = d.projects[projectID]; ok {
		return p
	}

	p = &projectEntry{
		members: make(map[string]*member),
		files:   make(map[string]map[string]struct{}),
	}
	d.projects[projectID] = p

	return p
}

// JoinProject registers a connection in a project. Returns false if the
// connection is already an active member, and the active users either way.
func (d *Directory) JoinProject(projectID, connID string, user User) (bool, []User) {
	p := d.project(projectID, true)

	p.mu.Lock()
	defer p.mu.Unlock()

	now := d.now()

	m, exists := p.members[connID]
	if exists && m.active {
		m.lastActivity = now

		return false, p.activeUsersLocked()
	}

	if !exists {
		m = &member{
			user:       user,
			joinedAt:   now,
			openFiles:  make(map[string]struct{}),
			cursors:    make(map[string]Cursor),
			selections: make(map[string]Selection),
		}
		p.members[connID] = m
	}

	m.user = user
	m.active = true
	m.scope = ProjectOnly()
	m.lastActivity = now

	return true, p.activeUsersLocked()
}

// LeaveProject deactivates a connection's membership and clears its file
// subscriptions. Returns false if the connection was not an active member.
func (d *Directory) LeaveProject(projectID, connID string) (Departure, bool) {
	p := d.project(projectID, false)
	if p == nil {
		return Departure{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.departLocked(projectID, connID, d.now())
}

// departLocked deactivates a member, releasing every file it had open.
func (p *projectEntry) departLocked(projectID, connID string, now time.Time) (Departure, bool) {
	m, ok := p.members[connID]
	if !ok || !m.active {
		return Departure{}, false
	}

	dep := Departure{ProjectID: projectID, User: m.user}

	for fileID := range m.openFiles {
		dep.OpenFiles = append(dep.OpenFiles, fileID)
		p.dropFileLocked(fileID, connID)
	}

	sort.Strings(dep.OpenFiles)

	m.active = false
	m.scope = ProjectOnly()
	m.openFiles = make(map[string]struct{})
	m.cursors = make(map[string]Cursor)
	m.selections = make(map[string]Selection)
	m.lastActivity = now

	return dep, true
}

func (p *projectEntry) dropFileLocked(fileID, connID string) {
	conns, ok := p.files[fileID]
	if !ok {
		return
	}

	delete(conns, connID)

	if len(conns) == 0 {
		delete(p.files, fileID)
	}
}

// OpenFile subscribes a connection to a file. Returns false if the file
// was already open, and the file's active users either way. Connections
// that never joined the project are ignored.
func (d *Directory) OpenFile(projectID, fileID, connID string) (bool, []User) {
	p := d.project(projectID, false)
	if p == nil {
		return false, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.members[connID]
	if !ok || !m.active {
		return false, nil
	}

	m.lastActivity = d.now()
	m.scope = ProjectAndFile(fileID)

	if _, open := m.openFiles[fileID]; open {
		return false, p.fileUsersLocked(fileID)
	}

	m.openFiles[fileID] = struct{}{}

	if p.files[fileID] == nil {
		p.files[fileID] = make(map[string]struct{})
	}

	p.files[fileID][connID] = struct{}{}

	return true, p.fileUsersLocked(fileID)
}

// CloseFile removes a connection's subscription to a file. Returns false
// if the file was not open.
func (d *Directory) CloseFile(projectID, fileID, connID string) bool {
	p := d.project(projectID, false)
	if p == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.members[connID]
	if !ok {
		return false
	}

	if _, open := m.openFiles[fileID]; !open {
		return false
	}

	delete(m.openFiles, fileID)
	delete(m.cursors, fileID)
	delete(m.selections, fileID)
	p.dropFileLocked(fileID, connID)

	if current, ok := m.scope.FileID(); ok && current == fileID {
		m.scope = ProjectOnly()
	}

	m.lastActivity = d.now()

	return true
}

// MoveCursor records a connection's cursor in a file. Returns false if the
// connection does not have the file open.
func (d *Directory) MoveCursor(projectID, fileID, connID string, c Cursor) bool {
	p := d.project(projectID, false)
	if p == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.members[connID]
	if !ok || !m.active {
		return false
	}

	if _, open := m.openFiles[fileID]; !open {
		return false
	}

	m.cursors[fileID] = c
	m.lastActivity = d.now()

	return true
}

// ChangeSelection records a connection's selection in a file. Returns
// false if the connection does not have the file open.
func (d *Directory) ChangeSelection(projectID, fileID, connID string, sel Selection) bool {
	p := d.project(projectID, false)
	if p == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.members[connID]
	if !ok || !m.active {
		return false
	}

	if _, open := m.openFiles[fileID]; !open {
		return false
	}

	m.selections[fileID] = sel
	m.lastActivity = d.now()

	return true
}

// Disconnect deactivates a connection everywhere, exactly as if it had
// issued leave-project and close-file for everything it held.
func (d *Directory) Disconnect(connID string) []Departure {
	d.mu.RLock()

	type held struct {
		id string
		p  *projectEntry
	}

	entries := make([]held, 0, len(d.projects))

	for id, p := range d.projects {
		entries = append(entries, held{id: id, p: p})
	}

	d.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	now := d.now()

	var departures []Departure

	for _, e := range entries {
		e.p.mu.Lock()

		if dep, ok := e.p.departLocked(e.id, connID, now); ok {
			departures = append(departures, dep)
		}

		e.p.mu.Unlock()
	}

	return departures
}

// ActiveUsers returns the distinct active users in a project.
func (d *Directory) ActiveUsers(projectID string) []User {
	p := d.project(projectID, false)
	if p == nil {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.activeUsersLocked()
}

func (p *projectEntry) activeUsersLocked() []User {
	seen := make(map[string]struct{})

	var users []User

	for _, m := range p.members {
		if !m.active {
			continue
		}

		if _, dup := seen[m.user.ID]; dup {
			continue
		}

		seen[m.user.ID] = struct{}{}
		users = append(users, m.user)
	}

	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })

	return users
}

// FileUsers returns the distinct active users with a file open.
func (d *Directory) FileUsers(projectID, fileID string) []User {
	p := d.project(projectID, false)
	if p == nil {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.fileUsersLocked(fileID)
}

func (p *projectEntry) fileUsersLocked(fileID string) []User {
	seen := make(map[string]struct{})

	var users []User

	for connID := range p.files[fileID] {
		m, ok := p.members[connID]
		if !ok || !m.active {
			continue
		}

		if _, dup := seen[m.user.ID]; dup {
			continue
		}

		seen[m.user.ID] = struct{}{}
		users = append(users, m.user)
	}

	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })

	return users
}

// CursorOf returns the last known cursor a user has in a file.
func (d *Directory) CursorOf(projectID, fileID, userID string) (Cursor, bool) {
	p := d.project(projectID, false)
	if p == nil {
		return Cursor{}, false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, m := range p.members {
		if !m.active || m.user.ID != userID {
			continue
		}

		if c, ok := m.cursors[fileID]; ok {
			return c, true
		}
	}

	return Cursor{}, false
}

// SelectionOf returns the last known selection a user has in a file.
func (d *Directory) SelectionOf(projectID, fileID, userID string) (Selection, bool) {
	p := d.project(projectID, false)
	if p == nil {
		return Selection{}, false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, m := range p.members {
		if !m.active || m.user.ID != userID {
			continue
		}

		if s, ok := m.selections[fileID]; ok {
			return s, true
		}
	}

	return Selection{}, false
}

// Records returns the presence rows of a project, including inactive ones.
func (d *Directory) Records(projectID string) []Record {
	p := d.project(projectID, false)
	if p == nil {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	records := make([]Record, 0, len(p.members))

	for _, m := range p.members {
		records = append(records, Record{
			ProjectID:    projectID,
			User:         m.user,
			Scope:        m.scope,
			JoinedAt:     m.joinedAt,
			LastActivity: m.lastActivity,
			IsActive:     m.active,
		})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].User.ID < records[j].User.ID })

	return records
}
