package models

import (
	"strings"

	"github.com/pkg/errors"
)

// Department is one stage of the fixed production sequence.
type Department string

const (
	DepartmentGabarito  Department = "gabarito"
	DepartmentImpressao Department = "impressao"
	DepartmentBatida    Department = "batida"
	DepartmentCostura   Department = "costura"
	DepartmentEmbalagem Department = "embalagem"
)

var departmentSequence = []Department{
	DepartmentGabarito,
	DepartmentImpressao,
	DepartmentBatida,
	DepartmentCostura,
	DepartmentEmbalagem,
}

// Departments returns the production sequence in order.
func Departments() []Department {
	out := make([]Department, len(departmentSequence))
	copy(out, departmentSequence)
	return out
}

// FirstDepartment is where every new activity starts.
func FirstDepartment() Department { return departmentSequence[0] }

// LastDepartment is the final stage; completing it completes the activity.
func LastDepartment() Department { return departmentSequence[len(departmentSequence)-1] }

// ParseDepartment normalizes and validates a department name.
func ParseDepartment(s string) (Department, error) {
	d := Department(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", errors.Errorf("unknown department %q", s)
	}
	return d, nil
}

// Valid reports whether d belongs to the sequence.
func (d Department) Valid() bool { return d.Index() >= 0 }

// Index returns the position of d in the sequence or -1.
func (d Department) Index() int {
	for i, dept := range departmentSequence {
		if dept == d {
			return i
		}
	}
	return -1
}

// Next returns the following department. ok is false for the last department
// and for unknown values.
func (d Department) Next() (next Department, ok bool) {
	i := d.Index()
	if i < 0 || i+1 >= len(departmentSequence) {
		return "", false
	}
	return departmentSequence[i+1], true
}

// Previous returns the preceding department. ok is false for the first
// department and for unknown values.
func (d Department) Previous() (prev Department, ok bool) {
	i := d.Index()
	if i <= 0 {
		return "", false
	}
	return departmentSequence[i-1], true
}

func (d Department) String() string { return string(d) }
