package catalog

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process catalog, user directory and cart used by tests and
// local runs.
type Memory struct {
	mu       sync.Mutex
	courses  map[uuid.UUID]Course
	chapters map[uuid.UUID][]uuid.UUID
	users    map[uuid.UUID]User
	carts    map[uuid.UUID][]uuid.UUID
	admin    uuid.UUID
}

func NewMemory() *Memory {
	return &Memory{
		courses:  make(map[uuid.UUID]Course),
		chapters: make(map[uuid.UUID][]uuid.UUID),
		users:    make(map[uuid.UUID]User),
		carts:    make(map[uuid.UUID][]uuid.UUID),
	}
}

func (m *Memory) AddCourse(c Course, chapters ...uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.courses[c.ID] = c
	m.chapters[c.ID] = slices.Clone(chapters)
}

func (m *Memory) RemoveCourse(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.courses, id)
	delete(m.chapters, id)
}

func (m *Memory) AddUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	if u.Role == "admin" && m.admin == uuid.Nil {
		m.admin = u.ID
	}
}

func (m *Memory) AddToCart(buyer uuid.UUID, courses ...uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[buyer] = append(m.carts[buyer], courses...)
}

func (m *Memory) CartItems(buyer uuid.UUID) []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.carts[buyer])
}

func (m *Memory) FindCourse(_ context.Context, id uuid.UUID) (Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return Course{}, ErrCourseNotFound
	}
	return c, nil
}

// FindCourses returns the known courses among ids, in request order. Unknown
// ids are left out.
func (m *Memory) FindCourses(_ context.Context, ids []uuid.UUID) ([]Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Course
	for _, id := range ids {
		if c, ok := m.courses[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) CourseChapters(_ context.Context, course uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.courses[course]; !ok {
		return nil, ErrCourseNotFound
	}
	return slices.Clone(m.chapters[course]), nil
}

func (m *Memory) FindUser(_ context.Context, id uuid.UUID) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (m *Memory) Clear(_ context.Context, buyer uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, buyer)
	return nil
}

func (m *Memory) PlatformAccount(context.Context) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.admin == uuid.Nil {
		return uuid.Nil, ErrUserNotFound
	}
	return m.admin, nil
}
