// Package warehouse executes parameterized read-only queries against the
// analytic store and returns tabular results.
package warehouse

import (
	"fmt"
	"time"
)

// ParamType is the warehouse type of a bound parameter.
type ParamType string

// Supported parameter types.
const (
	TypeString    ParamType = "STRING"
	TypeInt64     ParamType = "INT64"
	TypeFloat64   ParamType = "FLOAT64"
	TypeTimestamp ParamType = "TIMESTAMP"
	TypeBool      ParamType = "BOOL"
)

// Param is a named, typed value bound to an @name placeholder.
type Param struct {
	Name  string    `json:"name"`
	Type  ParamType `json:"type"`
	Value any       `json:"value"`
}

// String binds a STRING parameter.
func String(name, value string) Param {
	return Param{Name: name, Type: TypeString, Value: value}
}

// Int64 binds an INT64 parameter.
func Int64(name string, value int64) Param {
	return Param{Name: name, Type: TypeInt64, Value: value}
}

// Float64 binds a FLOAT64 parameter.
func Float64(name string, value float64) Param {
	return Param{Name: name, Type: TypeFloat64, Value: value}
}

// Timestamp binds a TIMESTAMP parameter, normalised to UTC.
func Timestamp(name string, value time.Time) Param {
	return Param{Name: name, Type: TypeTimestamp, Value: value.UTC()}
}

// Bool binds a BOOL parameter.
func Bool(name string, value bool) Param {
	return Param{Name: name, Type: TypeBool, Value: value}
}

func (p Param) check() error {
	if !validName(p.Name) {
		return fmt.Errorf("warehouse: invalid parameter name %q", p.Name)
	}
	ok := false
	switch p.Type {
	case TypeString:
		_, ok = p.Value.(string)
	case TypeInt64:
		_, ok = p.Value.(int64)
	case TypeFloat64:
		_, ok = p.Value.(float64)
	case TypeTimestamp:
		_, ok = p.Value.(time.Time)
	case TypeBool:
		_, ok = p.Value.(bool)
	}
	if !ok {
		return fmt.Errorf("warehouse: parameter %s: value %T does not match %s", p.Name, p.Value, p.Type)
	}
	return nil
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
