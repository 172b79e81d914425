// Package directory holds the in-memory employee directory served through MCP tools.
package directory

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// hireDateLayout is the calendar-date format of Employee.HireDate
const hireDateLayout = "2006-01-02"

var (
	// ErrNotFound is returned when no employee has the requested ID
	ErrNotFound = errors.New("employee not found")

	// ErrInvalidEmployee is returned when required employee fields are missing
	ErrInvalidEmployee = errors.New("invalid employee")
)

// Employee is a directory record
type Employee struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Department string `json:"department"`
	Position   string `json:"position"`
	Salary     int64  `json:"salary,omitempty"`
	HireDate   string `json:"hire_date"`
}

// NewEmployee carries the fields supplied when creating an employee.
// The ID and hire date are assigned by the directory.
type NewEmployee struct {
	Name       string
	Email      string
	Department string
	Position   string
	Salary     int64
}

// Update is a partial update; nil fields are left unchanged
type Update struct {
	Name       *string
	Email      *string
	Department *string
	Position   *string
	Salary     *int64
}

// Directory is a thread-safe in-memory employee directory.
// IDs are assigned sequentially as decimal strings and never reused.
type Directory struct {
	mu sync.RWMutex

	employees map[string]Employee
	order     []string
	nextID    int

	clock func() time.Time
}

// New creates a directory seeded with sample employees
func New() *Directory {
	d := NewEmpty()
	for _, e := range sampleEmployees {
		d.insertLocked(e)
	}
	return d
}

// NewEmpty creates a directory with no employees
func NewEmpty() *Directory {
	return &Directory{
		employees: make(map[string]Employee),
		nextID:    1,
		clock:     time.Now,
	}
}

// SetClock replaces the time source used for hire dates
func (d *Directory) SetClock(clock func() time.Time) {
	if clock == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clock = clock
}

// List returns all employees in creation order
func (d *Directory) List() []Employee {
	return d.filter(func(Employee) bool { return true })
}

// Get returns the employee with the given ID
func (d *Directory) Get(id string) (Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.employees[id]
	if !ok {
		return Employee{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Search returns employees whose name, email, department or position contains
// query, ignoring case.
func (d *Directory) Search(query string) []Employee {
	q := strings.ToLower(query)
	return d.filter(func(e Employee) bool {
		return containsFold(e.Name, q) ||
			containsFold(e.Email, q) ||
			containsFold(e.Department, q) ||
			containsFold(e.Position, q)
	})
}

// ByDepartment returns employees whose department contains department, ignoring case
func (d *Directory) ByDepartment(department string) []Employee {
	q := strings.ToLower(department)
	return d.filter(func(e Employee) bool {
		return containsFold(e.Department, q)
	})
}

// Create adds a new employee hired today
func (d *Directory) Create(n NewEmployee) (Employee, error) {
	if err := validate(n.Name, n.Email, n.Department, n.Position); err != nil {
		return Employee{}, err
	}
	if n.Salary < 0 {
		return Employee{}, fmt.Errorf("%w: salary must not be negative", ErrInvalidEmployee)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.insertLocked(Employee{
		Name:       n.Name,
		Email:      n.Email,
		Department: n.Department,
		Position:   n.Position,
		Salary:     n.Salary,
		HireDate:   d.clock().Format(hireDateLayout),
	}), nil
}

// Update applies the non-nil fields of u to the employee with the given ID
func (d *Directory) Update(id string, u Update) (Employee, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.employees[id]
	if !ok {
		return Employee{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if u.Name != nil {
		e.Name = *u.Name
	}
	if u.Email != nil {
		e.Email = *u.Email
	}
	if u.Department != nil {
		e.Department = *u.Department
	}
	if u.Position != nil {
		e.Position = *u.Position
	}
	if u.Salary != nil {
		if *u.Salary < 0 {
			return Employee{}, fmt.Errorf("%w: salary must not be negative", ErrInvalidEmployee)
		}
		e.Salary = *u.Salary
	}
	if err := validate(e.Name, e.Email, e.Department, e.Position); err != nil {
		return Employee{}, err
	}

	d.employees[id] = e
	return e, nil
}

// Delete removes the employee with the given ID
func (d *Directory) Delete(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.employees[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(d.employees, id)
	d.order = slices.DeleteFunc(d.order, func(existing string) bool { return existing == id })
	return nil
}

// Len returns the number of employees
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.employees)
}

func (d *Directory) filter(keep func(Employee) bool) []Employee {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Employee, 0, len(d.order))
	for _, id := range d.order {
		if e := d.employees[id]; keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// insertLocked assigns the next ID to e and stores it. Caller holds d.mu.
func (d *Directory) insertLocked(e Employee) Employee {
	e.ID = strconv.Itoa(d.nextID)
	d.nextID++
	d.employees[e.ID] = e
	d.order = append(d.order, e.ID)
	return e
}

func validate(name, email, department, position string) error {
	var missing []string
	for field, value := range map[string]string{
		"name":       name,
		"email":      email,
		"department": department,
		"position":   position,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("%w: missing %s", ErrInvalidEmployee, strings.Join(missing, ", "))
	}
	return nil
}

// containsFold reports whether s contains the already lower-cased substr
func containsFold(s, lowerSubstr string) bool {
	return strings.Contains(strings.ToLower(s), lowerSubstr)
}
